package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"

	"code-review-backend/internal/config"
	"code-review-backend/internal/domain"
	"code-review-backend/internal/metrics"
	"code-review-backend/internal/types"
)

// AnalysisResult is the outcome of one successful Analyze call.
type AnalysisResult struct {
	*ParsedReview
	TokensUsed int
	// KeyIndex is the 1-based index of the credential that served the call.
	KeyIndex int
	Model    string
}

// Analyzer hides the credential pool behind a single analyze contract.
// It attempts the completion once per credential, in rotation order,
// stopping at the first success.
type Analyzer struct {
	pool        *Pool
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	bounds      promptBounds
}

// NewAnalyzer creates an Analyzer over the given credential pool.
func NewAnalyzer(cfg config.AIConfig, pool *Pool) *Analyzer {
	return &Analyzer{
		pool:        pool,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		bounds: promptBounds{
			maxDiffSize:        cfg.MaxDiffSize,
			maxFilesContext:    cfg.MaxFilesContext,
			maxFileContentSize: cfg.MaxFileContentSize,
		},
	}
}

// Model returns the configured model name.
func (a *Analyzer) Model() string {
	return a.model
}

// Analyze sends the diff and PR metadata to the LLM and returns the parsed
// findings. Every credential failure is logged and the next credential
// tried; when the whole pool is exhausted the aggregate error names the
// pool size and the last failure.
func (a *Analyzer) Analyze(ctx context.Context, diff string, details *domain.PullRequestDetails, fileContents map[string]string) (*AnalysisResult, error) {
	prompt := buildPrompt(diff, details, fileContents, a.bounds)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(a.temperature),
		MaxTokens:   openai.Int(int64(a.maxTokens)),
	}

	var lastErr error
	for attempt := 0; attempt < a.pool.Size(); attempt++ {
		idx, caller := a.pool.pick()
		slog.Info("calling llm", "attempt", attempt+1, "of", a.pool.Size(), "key", idx+1)

		resp, err := a.chatWithTimeout(ctx, caller, params)
		if err != nil {
			metrics.LLMAttempts.WithLabelValues("error").Inc()
			slog.Error("llm call failed", "key", idx+1, "error", err)
			lastErr = err
			continue
		}
		metrics.LLMAttempts.WithLabelValues("success").Inc()

		if len(resp.Choices) == 0 {
			lastErr = types.E(types.KindUpstream, "llm returned no choices")
			slog.Error("llm call failed", "key", idx+1, "error", lastErr)
			continue
		}

		parsed := ParseResponse(resp.Choices[0].Message.Content)
		result := &AnalysisResult{
			ParsedReview: parsed,
			TokensUsed:   int(resp.Usage.TotalTokens),
			KeyIndex:     idx + 1,
			Model:        a.model,
		}
		slog.Info("ai analysis successful",
			"issues", len(parsed.Issues), "tokens", result.TokensUsed, "degraded", parsed.Degraded)
		return result, nil
	}

	return nil, types.Wrap(types.KindLLMExhausted, lastErr,
		fmt.Sprintf("all %d API keys failed", a.pool.Size()))
}

func (a *Analyzer) chatWithTimeout(ctx context.Context, caller ChatCaller, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return caller.Chat(ctx, params)
}
