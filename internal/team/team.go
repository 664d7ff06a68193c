// Package team resolves project membership roles and enforces minimum-role
// requirements for review operations.
package team

import (
	"context"
	"errors"

	"code-review-backend/internal/domain"
	"code-review-backend/internal/storage"
	"code-review-backend/internal/types"
)

// roleRank orders roles so a higher role implies the permissions of the
// lower ones. Unknown roles rank below viewer.
var roleRank = map[domain.MemberRole]int{
	domain.RoleViewer:   1,
	domain.RoleReviewer: 2,
	domain.RoleAdmin:    3,
	domain.RoleOwner:    4,
}

// Service answers permission questions against the membership store.
type Service struct {
	store storage.Repository
}

func NewService(store storage.Repository) *Service {
	return &Service{store: store}
}

// HasPermission reports whether the user holds at least minRole on the
// project. A missing membership is simply "no".
func (s *Service) HasPermission(ctx context.Context, projectID, userID int64, minRole domain.MemberRole) (bool, error) {
	role, err := s.store.GetMemberRole(ctx, projectID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return roleRank[role] >= roleRank[minRole], nil
}

// RequirePermission fails with a permission-kind error when the user does
// not hold at least minRole on the project.
func (s *Service) RequirePermission(ctx context.Context, projectID, userID int64, minRole domain.MemberRole) error {
	ok, err := s.HasPermission(ctx, projectID, userID, minRole)
	if err != nil {
		return err
	}
	if !ok {
		return types.E(types.KindPermission, "insufficient permissions to perform this action")
	}
	return nil
}
