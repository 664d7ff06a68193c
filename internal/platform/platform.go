// Package platform provides capability clients for the supported
// code-hosting APIs. The orchestrator depends only on the Client
// interface; the concrete implementation is selected by the project's
// stored platform tag.
package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"code-review-backend/internal/config"
	"code-review-backend/internal/domain"
	"code-review-backend/internal/types"
)

// Client fetches pull-request data from one hosting platform.
type Client interface {
	FetchPullRequestDetails(ctx context.Context, project *domain.Project, prNumber int) (*domain.PullRequestDetails, error)
}

// Registry maps platform tags to their clients.
type Registry struct {
	clients map[domain.Platform]Client
}

// NewRegistry builds the default registry with GitHub and GitLab clients.
func NewRegistry(cfg config.PlatformConfig) *Registry {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Registry{clients: map[domain.Platform]Client{
		domain.PlatformGitHub: NewGitHubClient(cfg.GitHubBaseURL, httpClient),
		domain.PlatformGitLab: NewGitLabClient(cfg.GitLabBaseURL, httpClient),
	}}
}

// For resolves the client for a platform tag.
func (r *Registry) For(p domain.Platform) (Client, error) {
	client, ok := r.clients[p]
	if !ok {
		return nil, types.E(types.KindInternal, "unsupported platform: %s", p)
	}
	return client, nil
}

// get issues an authenticated GET and maps upstream status codes into
// tagged error kinds so callers never string-match on messages.
func get(ctx context.Context, httpClient *http.Client, url, authHeader, platformName string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.Wrap(types.KindInternal, err, "build request")
	}
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("User-Agent", "CodeReview-App")
	if platformName == "github" {
		req.Header.Set("Accept", "application/vnd.github.v3+json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, types.Wrap(types.KindUpstream, err, fmt.Sprintf("failed to connect to %s API", platformName))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, types.E(types.KindUpstream, "invalid or expired %s token", platformName)
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests:
		return nil, types.E(types.KindUpstream, "%s API rate limited or access forbidden", platformName)
	case resp.StatusCode == http.StatusNotFound:
		return nil, types.E(types.KindUpstream, "resource not found on %s", platformName)
	case resp.StatusCode != http.StatusOK:
		return nil, types.E(types.KindUpstream, "%s API error: %d", platformName, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.Wrap(types.KindUpstream, err, fmt.Sprintf("read %s response", platformName))
	}
	return body, nil
}
