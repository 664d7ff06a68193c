package platform

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"code-review-backend/internal/domain"
	"code-review-backend/internal/metrics"
	"code-review-backend/internal/types"
)

// GitHubClient fetches pull-request data through the GitHub REST v3 API.
type GitHubClient struct {
	baseURL string
	http    *http.Client
}

func NewGitHubClient(baseURL string, httpClient *http.Client) *GitHubClient {
	return &GitHubClient{baseURL: baseURL, http: httpClient}
}

// FetchPullRequestDetails retrieves PR metadata and the changed-file list,
// fetching both endpoints concurrently.
func (c *GitHubClient) FetchPullRequestDetails(ctx context.Context, project *domain.Project, prNumber int) (*domain.PullRequestDetails, error) {
	if project.APIToken == "" || project.RepoOwner == "" || project.RepoName == "" {
		return nil, types.E(types.KindUpstream,
			"GitHub project configuration is incomplete, check repository settings")
	}

	auth := "token " + project.APIToken
	prURL := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", c.baseURL, project.RepoOwner, project.RepoName, prNumber)
	filesURL := prURL + "/files"

	var prBody, filesBody []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		prBody, err = get(gctx, c.http, prURL, auth, "github")
		return err
	})
	g.Go(func() error {
		var err error
		filesBody, err = get(gctx, c.http, filesURL, auth, "github")
		return err
	})
	if err := g.Wait(); err != nil {
		metrics.PlatformRequests.WithLabelValues("github", "error").Inc()
		return nil, err
	}
	metrics.PlatformRequests.WithLabelValues("github", "success").Inc()

	pr := gjson.ParseBytes(stripNoise(prBody))
	details := &domain.PullRequestDetails{
		Number:       int(pr.Get("number").Int()),
		Title:        pr.Get("title").String(),
		Description:  pr.Get("body").String(),
		Author:       pr.Get("user.login").String(),
		SourceBranch: pr.Get("head.ref").String(),
		TargetBranch: pr.Get("base.ref").String(),
	}

	gjson.ParseBytes(filesBody).ForEach(func(_, file gjson.Result) bool {
		details.Files = append(details.Files, domain.FileChange{
			Filename:  file.Get("filename").String(),
			Status:    file.Get("status").String(),
			Additions: int(file.Get("additions").Int()),
			Deletions: int(file.Get("deletions").Int()),
			Patch:     file.Get("patch").String(),
		})
		return true
	})

	slog.Debug("fetched github pr", "pr", prNumber, "files", len(details.Files))
	return details, nil
}
