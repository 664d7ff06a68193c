package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"code-review-backend/internal/domain"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	repo, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedProject(t *testing.T, repo *SQLiteRepository) (*domain.User, *domain.Project) {
	t.Helper()
	ctx := context.Background()

	user := &domain.User{Email: "owner@example.com"}
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	project := &domain.Project{
		Name:      "demo",
		Platform:  domain.PlatformGitHub,
		RepoOwner: "acme",
		RepoName:  "demo",
		APIToken:  "tok",
		OwnerID:   user.ID,
	}
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	return user, project
}

func TestReviewLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user, project := seedProject(t, repo)

	review := &domain.Review{
		ProjectID:   project.ID,
		PRNumber:    42,
		Status:      domain.StatusPending,
		Model:       "test-model",
		RequestedBy: user.ID,
	}
	if err := repo.CreateReview(ctx, review); err != nil {
		t.Fatalf("CreateReview failed: %v", err)
	}
	if review.ID == 0 {
		t.Fatal("expected review ID to be assigned")
	}

	// Transition to completed
	now := time.Now().UTC()
	review.Status = domain.StatusCompleted
	review.OverallRating = "LGTM"
	review.Summary = "looks fine"
	review.FilesAnalyzed = 3
	review.IssuesFound = 2
	review.TokensUsed = 1200
	review.ProcessingSec = 7
	review.APIKeyUsed = 1
	review.CompletedAt = &now
	if err := repo.UpdateReview(ctx, review); err != nil {
		t.Fatalf("UpdateReview failed: %v", err)
	}

	saved, err := repo.GetReview(ctx, review.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if saved.Status != domain.StatusCompleted {
		t.Errorf("expected status completed, got %s", saved.Status)
	}
	if saved.OverallRating != "LGTM" || saved.TokensUsed != 1200 || saved.APIKeyUsed != 1 {
		t.Errorf("review fields not persisted: %+v", saved)
	}
	if saved.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}

	// Idempotency lookup
	existing, err := repo.GetReviewForPR(ctx, project.ID, 42, user.ID)
	if err != nil {
		t.Fatalf("GetReviewForPR failed: %v", err)
	}
	if existing.ID != review.ID {
		t.Errorf("expected review %d, got %d", review.ID, existing.ID)
	}
	if _, err := repo.GetReviewForPR(ctx, project.ID, 99, user.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other PR, got %v", err)
	}
}

func TestIssueCascadeDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user, project := seedProject(t, repo)

	review := &domain.Review{ProjectID: project.ID, PRNumber: 7, Status: domain.StatusCompleted, RequestedBy: user.ID}
	if err := repo.CreateReview(ctx, review); err != nil {
		t.Fatalf("CreateReview failed: %v", err)
	}

	line := 12
	issues := []*domain.Issue{
		{ReviewID: review.ID, FilePath: "a.py", LineNumber: &line, Severity: domain.SeverityLow,
			Category: "code_quality", Title: "t", Description: "d", Suggestion: "s"},
		{ReviewID: review.ID, FilePath: "b.py", Severity: domain.SeverityHigh,
			Category: "bug", Title: "t2", Description: "d2"},
	}
	if err := repo.InsertIssues(ctx, issues); err != nil {
		t.Fatalf("InsertIssues failed: %v", err)
	}

	got, err := repo.ListIssues(ctx, review.ID)
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(got))
	}
	if got[0].LineNumber == nil || *got[0].LineNumber != 12 {
		t.Errorf("expected line 12, got %v", got[0].LineNumber)
	}
	if got[1].LineNumber != nil {
		t.Errorf("expected nil line number, got %v", got[1].LineNumber)
	}

	if err := repo.DeleteReview(ctx, review.ID); err != nil {
		t.Fatalf("DeleteReview failed: %v", err)
	}
	got, err = repo.ListIssues(ctx, review.ID)
	if err != nil {
		t.Fatalf("ListIssues after delete failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected issues cascade-deleted, got %d rows", len(got))
	}
}

func TestProjectAccessScoping(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	owner, project := seedProject(t, repo)

	member := &domain.User{Email: "member@example.com"}
	if err := repo.CreateUser(ctx, member); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	outsider := &domain.User{Email: "outsider@example.com"}
	if err := repo.CreateUser(ctx, outsider); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := repo.AddMember(ctx, project.ID, member.ID, domain.RoleReviewer); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	if _, err := repo.GetProjectForUser(ctx, project.ID, owner.ID); err != nil {
		t.Errorf("owner should see project: %v", err)
	}
	if _, err := repo.GetProjectForUser(ctx, project.ID, member.ID); err != nil {
		t.Errorf("member should see project: %v", err)
	}
	if _, err := repo.GetProjectForUser(ctx, project.ID, outsider.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("outsider should get ErrNotFound, got %v", err)
	}

	// Role resolution
	role, err := repo.GetMemberRole(ctx, project.ID, owner.ID)
	if err != nil || role != domain.RoleOwner {
		t.Errorf("expected owner role, got %s (%v)", role, err)
	}
	role, err = repo.GetMemberRole(ctx, project.ID, member.ID)
	if err != nil || role != domain.RoleReviewer {
		t.Errorf("expected reviewer role, got %s (%v)", role, err)
	}
	if _, err := repo.GetMemberRole(ctx, project.ID, outsider.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for outsider, got %v", err)
	}
}

func TestUsageUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user, _ := seedProject(t, repo)

	usage, err := repo.GetOrCreateUsage(ctx, user.ID, 2026, 8)
	if err != nil {
		t.Fatalf("GetOrCreateUsage failed: %v", err)
	}
	if usage.ReviewsCount != 0 {
		t.Errorf("expected fresh counter at 0, got %d", usage.ReviewsCount)
	}

	for i := 0; i < 3; i++ {
		if err := repo.IncrementUsage(ctx, user.ID, 2026, 8); err != nil {
			t.Fatalf("IncrementUsage failed: %v", err)
		}
	}

	usage, err = repo.GetOrCreateUsage(ctx, user.ID, 2026, 8)
	if err != nil {
		t.Fatalf("GetOrCreateUsage failed: %v", err)
	}
	if usage.ReviewsCount != 3 {
		t.Errorf("expected counter 3, got %d", usage.ReviewsCount)
	}

	// A different month starts its own row
	other, err := repo.GetOrCreateUsage(ctx, user.ID, 2026, 9)
	if err != nil {
		t.Fatalf("GetOrCreateUsage failed: %v", err)
	}
	if other.ReviewsCount != 0 {
		t.Errorf("expected separate counter for new month, got %d", other.ReviewsCount)
	}
}

func TestUpdateUserTier(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user, _ := seedProject(t, repo)

	if err := repo.UpdateUserTier(ctx, user.ID, domain.TierPro); err != nil {
		t.Fatalf("UpdateUserTier failed: %v", err)
	}
	saved, err := repo.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if saved.Tier != domain.TierPro {
		t.Errorf("expected pro tier, got %s", saved.Tier)
	}

	if err := repo.UpdateUserTier(ctx, 9999, domain.TierPlus); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing user, got %v", err)
	}
}
