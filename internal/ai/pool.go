package ai

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"code-review-backend/internal/config"
	"code-review-backend/internal/types"
)

// ChatCaller is the per-credential completion transport. It exists so the
// rotation logic can be exercised without a live provider.
type ChatCaller interface {
	Chat(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// Pool owns an ordered set of LLM credentials and selects a usable one per
// call using round-robin with a per-credential cooldown. The state is
// process-local and rebuilt empty on restart.
//
// Selection races under concurrency only degrade rotation fairness, never
// correctness, but the map itself must not be written concurrently, hence
// the mutex.
type Pool struct {
	mu       sync.Mutex
	callers  []ChatCaller
	cursor   int
	lastUsed map[int]time.Time
	cooldown time.Duration
	now      func() time.Time
}

// NewPool builds one OpenAI-compatible client per configured API key.
func NewPool(cfg config.AIConfig) (*Pool, error) {
	if len(cfg.Keys) == 0 {
		return nil, types.E(types.KindInternal, "at least one AI API key is required")
	}

	callers := make([]ChatCaller, 0, len(cfg.Keys))
	for _, key := range cfg.Keys {
		client := openai.NewClient(
			option.WithAPIKey(key),
			option.WithBaseURL(cfg.Endpoint),
		)
		callers = append(callers, &openAICaller{client: &client})
	}

	slog.Info("ai credential pool initialized", "keys", len(callers), "cooldown", cfg.KeyCooldown)
	return newPoolWithCallers(callers, cfg.KeyCooldown, time.Now), nil
}

func newPoolWithCallers(callers []ChatCaller, cooldown time.Duration, now func() time.Time) *Pool {
	return &Pool{
		callers:  callers,
		lastUsed: make(map[int]time.Time),
		cooldown: cooldown,
		now:      now,
	}
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	return len(p.callers)
}

// pick returns the next eligible credential index and its caller. Starting
// at the cursor it scans at most pool-size candidates and takes the first
// whose last use is older than the cooldown. If every credential is cooling
// down it falls back to the first one: correctness over strict rate-limiting,
// provider-side backoff is the provider's job.
func (p *Pool) pick() (int, ChatCaller) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for attempts := 0; attempts < len(p.callers); attempts++ {
		idx := (p.cursor + attempts) % len(p.callers)
		if now.Sub(p.lastUsed[idx]) > p.cooldown {
			p.cursor = (idx + 1) % len(p.callers)
			p.lastUsed[idx] = now
			slog.Debug("using ai credential", "key", idx+1)
			return idx, p.callers[idx]
		}
	}

	slog.Warn("all ai credentials in cooldown, falling back to key #1")
	p.lastUsed[0] = now
	return 0, p.callers[0]
}

// openAICaller adapts an openai-go client to the ChatCaller interface.
type openAICaller struct {
	client *openai.Client
}

func (c *openAICaller) Chat(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
