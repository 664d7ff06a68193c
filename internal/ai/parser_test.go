package ai

import (
	"strings"
	"testing"
)

const sampleJSON = `{
  "summary": "Solid change overall.",
  "rating": "LGTM",
  "issues": [
    {"file": "a.py", "line": 3, "severity": "low", "category": "code_quality", "title": "t", "description": "d"}
  ]
}`

func TestParseResponse_PureJSON(t *testing.T) {
	parsed := ParseResponse(sampleJSON)

	if parsed.Degraded {
		t.Fatal("pure JSON must not degrade")
	}
	if parsed.Summary != "Solid change overall." {
		t.Errorf("unexpected summary: %q", parsed.Summary)
	}
	if parsed.Rating != "LGTM" {
		t.Errorf("unexpected rating: %q", parsed.Rating)
	}
	if len(parsed.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(parsed.Issues))
	}
}

func TestParseResponse_FencedWithProse(t *testing.T) {
	wrapped := "Here is my review:\n```json\n" + sampleJSON + "\n```\nHope this helps!"
	parsed := ParseResponse(wrapped)

	if parsed.Degraded {
		t.Fatal("fenced JSON must not degrade")
	}
	if parsed.Summary != "Solid change overall." || parsed.Rating != "LGTM" || len(parsed.Issues) != 1 {
		t.Errorf("fenced extraction differs from plain parse: %+v", parsed)
	}
}

func TestParseResponse_FreeText(t *testing.T) {
	text := "The code looks broadly reasonable but I could not produce JSON."
	parsed := ParseResponse(text)

	if !parsed.Degraded {
		t.Fatal("free text must degrade")
	}
	if parsed.Summary != text {
		t.Errorf("expected raw text as summary, got %q", parsed.Summary)
	}
	if parsed.Rating != "Needs Work" {
		t.Errorf("expected default rating, got %q", parsed.Rating)
	}
	if len(parsed.Issues) != 0 {
		t.Errorf("expected no issues, got %d", len(parsed.Issues))
	}
}

func TestParseResponse_LongFreeTextIsBounded(t *testing.T) {
	text := strings.Repeat("x", 5000)
	parsed := ParseResponse(text)

	if len(parsed.Summary) != maxDegradedSummary {
		t.Errorf("expected summary bounded to %d chars, got %d", maxDegradedSummary, len(parsed.Summary))
	}
}

func TestParseResponse_TopLevelArray(t *testing.T) {
	text := `[{"summary": "not an object"}]`
	parsed := ParseResponse(text)

	if !parsed.Degraded {
		t.Fatal("top-level array must degrade like free text")
	}
	if parsed.Summary != text || parsed.Rating != "Needs Work" || len(parsed.Issues) != 0 {
		t.Errorf("array fallback differs from free-text fallback: %+v", parsed)
	}
}

func TestParseResponse_MissingKeys(t *testing.T) {
	parsed := ParseResponse(`{}`)

	if parsed.Degraded {
		t.Fatal("empty object is still a valid object")
	}
	if parsed.Summary != "No summary provided" {
		t.Errorf("expected placeholder summary, got %q", parsed.Summary)
	}
	if parsed.Rating != "Needs Work" {
		t.Errorf("expected default rating, got %q", parsed.Rating)
	}
}

func TestParseResponse_RatingPassthrough(t *testing.T) {
	// Values outside the recommended set are not rejected
	parsed := ParseResponse(`{"rating": "Spectacular"}`)
	if parsed.Rating != "Spectacular" {
		t.Errorf("expected rating passthrough, got %q", parsed.Rating)
	}
}

func TestDecodeFinding_Defaults(t *testing.T) {
	f, err := DecodeFinding([]byte(`{"severity": "low", "description": "d"}`))
	if err != nil {
		t.Fatalf("DecodeFinding failed: %v", err)
	}
	if f.File != "unknown" {
		t.Errorf("expected file default, got %q", f.File)
	}
	if f.Category != "code_quality" {
		t.Errorf("expected category default, got %q", f.Category)
	}
	if f.Title != "Issue" {
		t.Errorf("expected title default, got %q", f.Title)
	}
}

func TestDecodeFinding_TitleTruncated(t *testing.T) {
	long := strings.Repeat("a", 400)
	f, err := DecodeFinding([]byte(`{"title": "` + long + `"}`))
	if err != nil {
		t.Fatalf("DecodeFinding failed: %v", err)
	}
	if len(f.Title) != maxTitleLen {
		t.Errorf("expected title truncated to %d, got %d", maxTitleLen, len(f.Title))
	}
}

func TestDecodeFinding_Malformed(t *testing.T) {
	// Line must be numeric; a string is a type mismatch the caller skips
	if _, err := DecodeFinding([]byte(`{"line": "forty-two"}`)); err == nil {
		t.Error("expected error for non-numeric line")
	}
}
