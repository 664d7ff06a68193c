package team

import (
	"context"
	"path/filepath"
	"testing"

	"code-review-backend/internal/domain"
	"code-review-backend/internal/storage"
	"code-review-backend/internal/types"
)

func TestRequirePermission(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "team.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	defer repo.Close()
	ctx := context.Background()

	owner := &domain.User{Email: "owner@example.com"}
	viewer := &domain.User{Email: "viewer@example.com"}
	reviewer := &domain.User{Email: "reviewer@example.com"}
	outsider := &domain.User{Email: "outsider@example.com"}
	for _, u := range []*domain.User{owner, viewer, reviewer, outsider} {
		if err := repo.CreateUser(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	project := &domain.Project{Name: "p", Platform: domain.PlatformGitHub, OwnerID: owner.ID}
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	repo.AddMember(ctx, project.ID, viewer.ID, domain.RoleViewer)
	repo.AddMember(ctx, project.ID, reviewer.ID, domain.RoleReviewer)

	svc := NewService(repo)

	tests := []struct {
		name    string
		userID  int64
		minRole domain.MemberRole
		allowed bool
	}{
		{"owner can review", owner.ID, domain.RoleReviewer, true},
		{"owner can admin", owner.ID, domain.RoleAdmin, true},
		{"reviewer can review", reviewer.ID, domain.RoleReviewer, true},
		{"reviewer cannot admin", reviewer.ID, domain.RoleAdmin, false},
		{"viewer cannot review", viewer.ID, domain.RoleReviewer, false},
		{"outsider cannot view", outsider.ID, domain.RoleViewer, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.RequirePermission(ctx, project.ID, tt.userID, tt.minRole)
			if tt.allowed && err != nil {
				t.Errorf("expected permission granted, got %v", err)
			}
			if !tt.allowed {
				if err == nil {
					t.Error("expected permission denied")
				} else if !types.IsKind(err, types.KindPermission) {
					t.Errorf("expected KindPermission, got %s", types.KindOf(err))
				}
			}
		})
	}
}
