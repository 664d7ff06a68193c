//go:build e2e

// Full-stack exercise of the review backend: real HTTP API, real sqlite
// storage, real openai-go transport against a stub completion endpoint,
// real GitHub client against a stub REST server. Only Redis is absent,
// which the cache layer treats as a permanent miss.
package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"code-review-backend/internal/ai"
	"code-review-backend/internal/api"
	"code-review-backend/internal/cache"
	"code-review-backend/internal/config"
	"code-review-backend/internal/domain"
	"code-review-backend/internal/platform"
	"code-review-backend/internal/quota"
	"code-review-backend/internal/review"
	"code-review-backend/internal/storage"
	"code-review-backend/internal/team"
)

const reviewJSON = `{
  "summary": "One real bug and a style nit.",
  "rating": "Needs Work",
  "issues": [
    {"file": "handler.go", "line": 12, "severity": "high", "category": "bug",
     "title": "Unchecked error", "description": "The write error is dropped.",
     "suggestion": "Check and log the error."},
    {"file": "handler.go", "severity": "low", "category": "style",
     "title": "Long function", "description": "Consider splitting."}
  ]
}`

// newLLMStub serves an OpenAI-compatible chat completion wrapping
// reviewJSON in a markdown fence, the way real models answer.
func newLLMStub(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "diff") {
			t.Errorf("completion request carries no diff: %s", body)
		}

		content := "Here is my review:\n```json\n" + reviewJSON + "\n```"
		resp := map[string]any{
			"id":      "chatcmpl-e2e",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "llama-3.3-70b-versatile",
			"choices": []map[string]any{
				{"index": 0, "finish_reason": "stop",
					"message": map[string]any{"role": "assistant", "content": content}},
			},
			"usage": map[string]any{"prompt_tokens": 900, "completion_tokens": 300, "total_tokens": 1200},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func newGitHubStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/demo/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token gh-token" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"number": 42, "title": "Add handler", "body": "New endpoint",
			"user": {"login": "dev"}, "head": {"ref": "feature"}, "base": {"ref": "main"}}`)
	})
	mux.HandleFunc("GET /repos/acme/demo/pulls/42/files", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"filename": "handler.go", "status": "modified", "additions": 10,
			"deletions": 2, "patch": "@@ -1,3 +1,10 @@\n+func handle() {}"}]`)
	})
	return httptest.NewServer(mux)
}

func TestReviewLifecycle(t *testing.T) {
	var llmCalls atomic.Int64
	llmStub := newLLMStub(t, &llmCalls)
	defer llmStub.Close()
	ghStub := newGitHubStub(t)
	defer ghStub.Close()

	store, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	defer store.Close()

	aiCfg := config.AIConfig{
		Keys:               []string{"key-a", "key-b"},
		Model:              "llama-3.3-70b-versatile",
		Endpoint:           llmStub.URL,
		MaxTokens:          8000,
		Temperature:        0.2,
		Timeout:            30 * time.Second,
		KeyCooldown:        time.Millisecond,
		MaxDiffSize:        50000,
		MaxFilesContext:    5,
		MaxFileContentSize: 10000,
	}
	pool, err := ai.NewPool(aiCfg)
	if err != nil {
		t.Fatalf("init pool: %v", err)
	}
	analyzer := ai.NewAnalyzer(aiCfg, pool)

	platforms := platform.NewRegistry(config.PlatformConfig{
		Timeout:       5 * time.Second,
		GitHubBaseURL: ghStub.URL,
		GitLabBaseURL: ghStub.URL,
	})
	tracker := quota.NewTracker(store, config.QuotaConfig{TierLimits: map[string]int{"free": 10, "plus": 100, "pro": -1}})
	reviews := review.NewService(store, platforms, analyzer, tracker, team.NewService(store), cache.Noop{})

	ts := httptest.NewServer(api.NewServer(reviews, tracker, 4).Routes())
	defer ts.Close()

	// Seed one user owning one GitHub project
	ctx := t.Context()
	user := &domain.User{Email: "dev@example.com"}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	project := &domain.Project{
		Name: "demo", Platform: domain.PlatformGitHub,
		RepoOwner: "acme", RepoName: "demo", APIToken: "gh-token", OwnerID: user.ID,
	}
	if err := store.CreateProject(ctx, project); err != nil {
		t.Fatalf("create project: %v", err)
	}

	call := func(method, path string) (int, map[string]any) {
		req, _ := http.NewRequest(method, ts.URL+path, nil)
		req.Header.Set("X-User-ID", fmt.Sprint(user.ID))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		defer resp.Body.Close()
		var body map[string]any
		json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body
	}

	// Create and process synchronously
	status, body := call(http.MethodPost, "/api/projects/1/pulls/42/reviews")
	if status != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%v)", status, body)
	}
	if body["status"] != "completed" {
		t.Fatalf("expected completed review, got %v", body["status"])
	}
	if body["summary"] != "One real bug and a style nit." || body["issues_found"] != float64(2) {
		t.Errorf("unexpected review content: %v", body)
	}
	if body["tokens_used"] != float64(1200) || body["files_analyzed"] != float64(1) {
		t.Errorf("unexpected accounting: %v", body)
	}
	if llmCalls.Load() != 1 {
		t.Errorf("expected exactly one completion call, got %d", llmCalls.Load())
	}
	reviewID := fmt.Sprint(int64(body["id"].(float64)))

	// Findings survived the round trip
	status, body = call(http.MethodGet, "/api/reviews/"+reviewID+"/issues")
	if status != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("issues: status %d, body %v", status, body)
	}

	// Quota was consumed
	status, body = call(http.MethodGet, "/api/usage")
	if status != http.StatusOK || body["used"] != float64(1) {
		t.Errorf("usage: status %d, body %v", status, body)
	}

	// Same slot conflicts until deleted
	status, _ = call(http.MethodPost, "/api/projects/1/pulls/42/reviews")
	if status != http.StatusConflict {
		t.Errorf("expected 409 on duplicate, got %d", status)
	}
	status, _ = call(http.MethodDelete, "/api/reviews/"+reviewID)
	if status != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", status)
	}
	status, _ = call(http.MethodPost, "/api/projects/1/pulls/42/reviews")
	if status != http.StatusCreated {
		t.Errorf("re-review after delete: expected 201, got %d", status)
	}
}
