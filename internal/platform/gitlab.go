package platform

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"code-review-backend/internal/domain"
	"code-review-backend/internal/metrics"
	"code-review-backend/internal/types"
)

// GitLabClient fetches merge-request data through the GitLab v4 API.
type GitLabClient struct {
	baseURL string
	http    *http.Client
}

func NewGitLabClient(baseURL string, httpClient *http.Client) *GitLabClient {
	return &GitLabClient{baseURL: baseURL, http: httpClient}
}

// FetchPullRequestDetails retrieves MR metadata and its changes list,
// fetching both endpoints concurrently. GitLab does not report per-file
// addition/deletion counts, so they are derived from the diff text.
func (c *GitLabClient) FetchPullRequestDetails(ctx context.Context, project *domain.Project, prNumber int) (*domain.PullRequestDetails, error) {
	if project.APIToken == "" || project.RemoteID == "" {
		return nil, types.E(types.KindUpstream,
			"GitLab project configuration is incomplete, check repository settings")
	}

	auth := "Bearer " + project.APIToken
	projectPath := url.PathEscape(project.RemoteID)
	mrURL := fmt.Sprintf("%s/projects/%s/merge_requests/%d", c.baseURL, projectPath, prNumber)
	changesURL := mrURL + "/changes"

	var mrBody, changesBody []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		mrBody, err = get(gctx, c.http, mrURL, auth, "gitlab")
		return err
	})
	g.Go(func() error {
		var err error
		changesBody, err = get(gctx, c.http, changesURL, auth, "gitlab")
		return err
	})
	if err := g.Wait(); err != nil {
		metrics.PlatformRequests.WithLabelValues("gitlab", "error").Inc()
		return nil, err
	}
	metrics.PlatformRequests.WithLabelValues("gitlab", "success").Inc()

	mr := gjson.ParseBytes(stripNoise(mrBody))
	details := &domain.PullRequestDetails{
		Number:       int(mr.Get("iid").Int()),
		Title:        mr.Get("title").String(),
		Description:  mr.Get("description").String(),
		Author:       mr.Get("author.username").String(),
		SourceBranch: mr.Get("source_branch").String(),
		TargetBranch: mr.Get("target_branch").String(),
	}

	gjson.GetBytes(changesBody, "changes").ForEach(func(_, change gjson.Result) bool {
		diffText := change.Get("diff").String()
		additions, deletions := countDiffLines(diffText)
		details.Files = append(details.Files, domain.FileChange{
			Filename:  change.Get("new_path").String(),
			Status:    changeStatus(change),
			Additions: additions,
			Deletions: deletions,
			Patch:     diffText,
		})
		return true
	})

	slog.Debug("fetched gitlab mr", "mr", prNumber, "files", len(details.Files))
	return details, nil
}

func changeStatus(change gjson.Result) string {
	switch {
	case change.Get("renamed_file").Bool():
		return "renamed"
	case change.Get("deleted_file").Bool():
		return "deleted"
	case change.Get("new_file").Bool():
		return "added"
	default:
		return "modified"
	}
}

func countDiffLines(diff string) (additions, deletions int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			additions++
		case strings.HasPrefix(line, "-"):
			deletions++
		}
	}
	return additions, deletions
}
