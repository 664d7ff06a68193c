package ai

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

const (
	defaultSummary = "No summary provided"
	defaultRating  = "Needs Work"

	// maxDegradedSummary bounds the raw-text prefix kept as the summary
	// when the model response is not parseable JSON.
	maxDegradedSummary = 1000

	maxTitleLen = 255
)

// fencedJSON matches a JSON object wrapped in a markdown code fence,
// optionally tagged as json, possibly surrounded by prose.
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParsedReview is the structured result extracted from an untrusted model
// response. Degraded marks the best-effort fallback where the raw text
// prefix stands in for the summary.
type ParsedReview struct {
	Summary string
	Rating  string
	// Issues holds the raw finding objects as reported by the model.
	// Individual entries may still be malformed; callers decode each one
	// and skip failures without aborting the batch.
	Issues   []json.RawMessage
	Degraded bool
}

// Finding is one decoded model finding. Field defaults are applied by
// DecodeFinding, severity mapping is the caller's concern.
type Finding struct {
	File        string `json:"file"`
	Line        *int   `json:"line"`
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
	CodeSnippet string `json:"code_snippet"`
}

// ParseResponse converts free-form model output into a ParsedReview. It
// never fails: a response that is not a JSON object (invalid JSON, an
// array, a scalar) degrades to a bounded prefix of the raw text as the
// summary with the default rating and no issues.
func ParseResponse(raw string) *ParsedReview {
	candidate := strings.TrimSpace(raw)
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		candidate = m[1]
	}

	var payload struct {
		Summary *string           `json:"summary"`
		Rating  *string           `json:"rating"`
		Issues  []json.RawMessage `json:"issues"`
	}
	// Decoding into a struct rejects non-object top-level values, so a
	// bare array or scalar takes the degraded path below.
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		slog.Error("failed to parse ai response as json", "error", err)
		slog.Debug("unparseable ai response", "prefix", truncate(candidate, 500))
		return &ParsedReview{
			Summary:  truncate(candidate, maxDegradedSummary),
			Rating:   defaultRating,
			Degraded: true,
		}
	}

	parsed := &ParsedReview{
		Summary: defaultSummary,
		Rating:  defaultRating,
		Issues:  payload.Issues,
	}
	if payload.Summary != nil {
		parsed.Summary = *payload.Summary
	}
	// The rating passes through as returned; the recommended set is
	// {"LGTM", "Needs Work", "Major Issues"} but other values are not
	// rejected here.
	if payload.Rating != nil {
		parsed.Rating = *payload.Rating
	}
	return parsed
}

// DecodeFinding decodes one raw finding, applying permissive defaults for
// missing fields. A type-level mismatch (e.g. a non-numeric line) is an
// error; the caller logs and skips such entries.
func DecodeFinding(raw json.RawMessage) (*Finding, error) {
	var f Finding
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if f.File == "" {
		f.File = "unknown"
	}
	if f.Category == "" {
		f.Category = "code_quality"
	}
	if f.Title == "" {
		f.Title = "Issue"
	}
	f.Title = truncate(f.Title, maxTitleLen)
	return &f, nil
}
