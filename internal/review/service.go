// Package review implements the end-to-end orchestration for one AI
// review request: quota gating, idempotency, the PENDING -> PROCESSING ->
// COMPLETED/FAILED state machine, and persistence of findings.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"code-review-backend/internal/ai"
	"code-review-backend/internal/cache"
	"code-review-backend/internal/diff"
	"code-review-backend/internal/domain"
	"code-review-backend/internal/metrics"
	"code-review-backend/internal/platform"
	"code-review-backend/internal/quota"
	"code-review-backend/internal/storage"
	"code-review-backend/internal/sync"
	"code-review-backend/internal/team"
	"code-review-backend/internal/types"
)

// maxErrorLen bounds the error text recorded on a failed review row.
const maxErrorLen = 1000

// Analyzer is the LLM boundary the orchestrator depends on.
type Analyzer interface {
	Analyze(ctx context.Context, diffText string, details *domain.PullRequestDetails, fileContents map[string]string) (*ai.AnalysisResult, error)
	Model() string
}

// PlatformResolver selects the hosting-platform client for a project tag.
type PlatformResolver interface {
	For(p domain.Platform) (platform.Client, error)
}

// Service is the review orchestrator.
type Service struct {
	store     storage.Repository
	platforms PlatformResolver
	analyzer  Analyzer
	quota     *quota.Tracker
	team      *team.Service
	cache     cache.ReviewCache
	slots     *sync.SlotLock
	now       func() time.Time
}

func NewService(store storage.Repository, platforms PlatformResolver, analyzer Analyzer,
	quotaTracker *quota.Tracker, teamService *team.Service, reviewCache cache.ReviewCache) *Service {
	return &Service{
		store:     store,
		platforms: platforms,
		analyzer:  analyzer,
		quota:     quotaTracker,
		team:      teamService,
		cache:     reviewCache,
		slots:     sync.NewSlotLock(),
		now:       time.Now,
	}
}

// CreateAndProcess creates a review for (project, pr, user) and processes
// it synchronously. The call can take seconds to minutes.
//
// Failures before the row exists (permission, quota, conflict, missing
// project) mutate nothing. Once the row exists, any processing failure is
// recorded on the row as FAILED and the error is still returned: callers
// must re-fetch by id to observe the terminal state, a returned error does
// not mean nothing happened.
func (s *Service) CreateAndProcess(ctx context.Context, projectID int64, prNumber int, userID int64) (*domain.Review, error) {
	if err := s.team.RequirePermission(ctx, projectID, userID, domain.RoleReviewer); err != nil {
		return nil, err
	}
	if err := s.quota.Check(ctx, userID); err != nil {
		return nil, err
	}

	project, err := s.store.GetProjectForUser(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, types.E(types.KindNotFound, "project not found or access denied")
		}
		return nil, fmt.Errorf("load project: %w", err)
	}

	review, err := s.createPending(ctx, projectID, prNumber, userID)
	if err != nil {
		return nil, err
	}

	// Quota is consumed at creation, not completion: a review that later
	// fails still counts against the monthly cap.
	if err := s.quota.Increment(ctx, userID); err != nil {
		return review, err
	}

	slog.Info("ai review created", "review_id", review.ID,
		"project", project.Name, "pr", prNumber, "user_id", userID)

	if err := s.process(ctx, review, project); err != nil {
		s.markFailed(ctx, review, err)
		metrics.ReviewsTotal.WithLabelValues("failed").Inc()
		return review, err
	}

	metrics.ReviewsTotal.WithLabelValues("completed").Inc()
	return review, nil
}

// createPending atomically claims the (project, pr, requester) slot and
// inserts the PENDING row. The slot lock closes the window between the
// existence check and the insert, which the schema does not constrain.
func (s *Service) createPending(ctx context.Context, projectID int64, prNumber int, userID int64) (*domain.Review, error) {
	s.slots.Lock(projectID, prNumber, userID)
	defer s.slots.Unlock(projectID, prNumber, userID)

	// One non-deleted review per slot
	_, err := s.store.GetReviewForPR(ctx, projectID, prNumber, userID)
	if err == nil {
		return nil, types.E(types.KindConflict,
			"you've already reviewed this PR, delete the existing review first")
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("idempotency check: %w", err)
	}

	review := &domain.Review{
		ProjectID:   projectID,
		PRNumber:    prNumber,
		Status:      domain.StatusPending,
		Model:       s.analyzer.Model(),
		RequestedBy: userID,
	}
	if err := s.store.CreateReview(ctx, review); err != nil {
		return nil, fmt.Errorf("create review: %w", err)
	}
	return review, nil
}

// process drives one review from PROCESSING to COMPLETED. Any returned
// error sends the review to FAILED in the caller.
func (s *Service) process(ctx context.Context, review *domain.Review, project *domain.Project) error {
	start := s.now()

	// Commit the transition immediately so concurrent readers observe
	// the in-flight state.
	review.Status = domain.StatusProcessing
	if err := s.store.UpdateReview(ctx, review); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	slog.Info("processing review", "review_id", review.ID)

	client, err := s.platforms.For(project.Platform)
	if err != nil {
		return err
	}
	details, err := client.FetchPullRequestDetails(ctx, project, review.PRNumber)
	if err != nil {
		return err
	}

	diffText, err := diff.Build(details.Files)
	if err != nil {
		return err
	}

	result, err := s.analyzer.Analyze(ctx, diffText, details, nil)
	if err != nil {
		return err
	}

	completedAt := s.now()
	review.Summary = result.Summary
	review.OverallRating = result.Rating
	review.FilesAnalyzed = len(details.Files)
	review.TokensUsed = result.TokensUsed
	review.APIKeyUsed = result.KeyIndex
	review.ProcessingSec = int(completedAt.Sub(start).Seconds())
	review.Status = domain.StatusCompleted
	review.CompletedAt = &completedAt

	// issues_found reflects what the model reported, including entries
	// skipped below as malformed, so the count can exceed the persisted
	// rows. Deliberate: the number mirrors the model's claim.
	review.IssuesFound = len(result.Issues)

	var issues []*domain.Issue
	for _, raw := range result.Issues {
		finding, err := ai.DecodeFinding(raw)
		if err != nil {
			slog.Warn("skipping malformed finding", "review_id", review.ID, "error", err)
			continue
		}
		issues = append(issues, &domain.Issue{
			ReviewID:    review.ID,
			FilePath:    finding.File,
			LineNumber:  finding.Line,
			Severity:    domain.ParseSeverity(finding.Severity),
			Category:    finding.Category,
			Title:       finding.Title,
			Description: finding.Description,
			Suggestion:  finding.Suggestion,
			CodeSnippet: finding.CodeSnippet,
		})
	}
	if err := s.store.InsertIssues(ctx, issues); err != nil {
		return fmt.Errorf("persist issues: %w", err)
	}
	if err := s.store.UpdateReview(ctx, review); err != nil {
		return fmt.Errorf("persist completed review: %w", err)
	}

	metrics.ProcessingDuration.WithLabelValues("success").Observe(completedAt.Sub(start).Seconds())
	slog.Info("review completed", "review_id", review.ID,
		"issues", review.IssuesFound, "tokens", review.TokensUsed,
		"seconds", review.ProcessingSec, "rating", review.OverallRating)
	return nil
}

// markFailed records the terminal FAILED state with the truncated error
// text. A persistence failure here is logged, not propagated: the original
// processing error is the one the caller must see.
func (s *Service) markFailed(ctx context.Context, review *domain.Review, cause error) {
	slog.Error("review processing failed", "review_id", review.ID, "error", cause)

	review.Status = domain.StatusFailed
	msg := cause.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	review.ErrorMessage = msg
	if err := s.store.UpdateReview(ctx, review); err != nil {
		slog.Error("failed to record review failure", "review_id", review.ID, "error", err)
	}
	metrics.ProcessingDuration.WithLabelValues("error").Observe(s.now().Sub(review.CreatedAt).Seconds())
}

// Get returns a review by id, or nil when it does not exist. Any member
// of the owning project may read; the requester need not be the creator.
// Completed reviews are served from and written to the fast cache;
// in-flight state is always read fresh.
func (s *Service) Get(ctx context.Context, reviewID, userID int64) (*domain.Review, error) {
	if cached, ok := s.cache.Get(ctx, reviewID); ok {
		if err := s.requireProjectAccess(ctx, cached.ProjectID, userID); err != nil {
			return nil, err
		}
		return cached, nil
	}

	review, err := s.store.GetReview(ctx, reviewID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.requireProjectAccess(ctx, review.ProjectID, userID); err != nil {
		return nil, err
	}

	if review.Status == domain.StatusCompleted {
		s.cache.Set(ctx, review)
	}
	return review, nil
}

// Issues lists the findings persisted for a review the user can read.
func (s *Service) Issues(ctx context.Context, reviewID, userID int64) ([]*domain.Issue, error) {
	review, err := s.Get(ctx, reviewID, userID)
	if err != nil {
		return nil, err
	}
	if review == nil {
		return nil, types.E(types.KindNotFound, "review not found")
	}
	return s.store.ListIssues(ctx, reviewID)
}

// Delete removes a review and its findings. Only the original requester
// may delete, regardless of project role. The cache entry goes first so a
// concurrent reader cannot resurrect the row from cache.
func (s *Service) Delete(ctx context.Context, reviewID, userID int64) (bool, error) {
	review, err := s.store.GetReview(ctx, reviewID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if review.RequestedBy != userID {
		return false, types.E(types.KindPermission, "only the review creator can delete this review")
	}

	slog.Info("deleting ai review", "review_id", reviewID, "user_id", userID)
	s.cache.Delete(ctx, reviewID)
	if err := s.store.DeleteReview(ctx, reviewID); err != nil {
		return false, err
	}
	return true, nil
}

// ListForPR returns all reviews for a PR, newest first, for any user with
// access to the project.
func (s *Service) ListForPR(ctx context.Context, projectID int64, prNumber int, userID int64) ([]*domain.Review, error) {
	if err := s.requireProjectAccess(ctx, projectID, userID); err != nil {
		return nil, err
	}
	return s.store.ListReviewsByPR(ctx, projectID, prNumber)
}

func (s *Service) requireProjectAccess(ctx context.Context, projectID, userID int64) error {
	_, err := s.store.GetProjectForUser(ctx, projectID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return types.E(types.KindPermission, "no access to this project")
	}
	return err
}
