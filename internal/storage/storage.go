package storage

import (
	"context"
	"errors"

	"code-review-backend/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the persistence boundary for the review backend.
type Repository interface {
	// Users
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	UpdateUserTier(ctx context.Context, userID int64, tier domain.Tier) error

	// Projects and membership. GetProjectForUser is access-scoped: it
	// returns ErrNotFound unless the user owns the project or is a member.
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectForUser(ctx context.Context, projectID, userID int64) (*domain.Project, error)
	AddMember(ctx context.Context, projectID, userID int64, role domain.MemberRole) error
	GetMemberRole(ctx context.Context, projectID, userID int64) (domain.MemberRole, error)

	// Reviews
	CreateReview(ctx context.Context, review *domain.Review) error
	UpdateReview(ctx context.Context, review *domain.Review) error
	GetReview(ctx context.Context, id int64) (*domain.Review, error)
	// GetReviewForPR finds the review a requester already created for a
	// (project, pr) pair, used for the pre-creation idempotency check.
	GetReviewForPR(ctx context.Context, projectID int64, prNumber int, requestedBy int64) (*domain.Review, error)
	ListReviewsByPR(ctx context.Context, projectID int64, prNumber int) ([]*domain.Review, error)
	DeleteReview(ctx context.Context, id int64) error

	// Issues
	InsertIssues(ctx context.Context, issues []*domain.Issue) error
	ListIssues(ctx context.Context, reviewID int64) ([]*domain.Issue, error)

	// Usage counters
	GetOrCreateUsage(ctx context.Context, userID int64, year, month int) (*domain.UsageRecord, error)
	IncrementUsage(ctx context.Context, userID int64, year, month int) error

	Close() error
}
