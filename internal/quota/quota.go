// Package quota enforces the monthly per-user cap on AI review creation,
// tiered by subscription level.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"code-review-backend/internal/config"
	"code-review-backend/internal/domain"
	"code-review-backend/internal/metrics"
	"code-review-backend/internal/storage"
	"code-review-backend/internal/types"
)

// UsageStats is the per-user usage snapshot served to dashboards.
type UsageStats struct {
	Tier       string `json:"tier"`
	Used       int    `json:"used"`
	Limit      int    `json:"limit"`
	Unlimited  bool   `json:"unlimited"`
	Percentage int    `json:"percentage"`
	ResetsAt   string `json:"resets_at"`
}

// Tracker maintains the monthly usage counter per user. Check and
// Increment are separate transactions: a burst of concurrent creations can
// overshoot the cap, which is acceptable for an advisory-tier quota.
type Tracker struct {
	store storage.Repository
	cfg   config.QuotaConfig
	now   func() time.Time
}

func NewTracker(store storage.Repository, cfg config.QuotaConfig) *Tracker {
	return &Tracker{store: store, cfg: cfg, now: time.Now}
}

// Check fails with a quota-kind error carrying usage/limit/tier when the
// user has reached their monthly cap. The current-month row is created
// lazily on first check.
func (t *Tracker) Check(ctx context.Context, userID int64) error {
	tier, err := t.userTier(ctx, userID)
	if err != nil {
		return err
	}

	limit := t.cfg.Limit(tier)
	if limit == config.UnlimitedQuota {
		return nil
	}

	now := t.now().UTC()
	usage, err := t.store.GetOrCreateUsage(ctx, userID, now.Year(), int(now.Month()))
	if err != nil {
		return fmt.Errorf("load usage: %w", err)
	}

	if usage.ReviewsCount >= limit {
		metrics.QuotaDenied.Inc()
		return types.QuotaError(usage.ReviewsCount, limit, string(tier))
	}
	return nil
}

// Increment bumps the current-month counter by one. Called once per
// created review; failed reviews still count, there is no refund path.
func (t *Tracker) Increment(ctx context.Context, userID int64) error {
	now := t.now().UTC()
	if err := t.store.IncrementUsage(ctx, userID, now.Year(), int(now.Month())); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	slog.Info("ai review quota consumed", "user_id", userID)
	return nil
}

// Stats reports the usage snapshot including the first moment of the next
// calendar month, handling the December rollover.
func (t *Tracker) Stats(ctx context.Context, userID int64) (*UsageStats, error) {
	tier, err := t.userTier(ctx, userID)
	if err != nil {
		return nil, err
	}
	limit := t.cfg.Limit(tier)

	now := t.now().UTC()
	usage, err := t.store.GetOrCreateUsage(ctx, userID, now.Year(), int(now.Month()))
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}

	nextYear, nextMonth := now.Year(), int(now.Month())+1
	if nextMonth > 12 {
		nextMonth = 1
		nextYear++
	}

	stats := &UsageStats{
		Tier:      string(tier),
		Used:      usage.ReviewsCount,
		Limit:     limit,
		Unlimited: limit == config.UnlimitedQuota,
		ResetsAt:  fmt.Sprintf("%d-%02d-01 00:00:00", nextYear, nextMonth),
	}
	if !stats.Unlimited && limit > 0 {
		stats.Percentage = usage.ReviewsCount * 100 / limit
	}
	return stats, nil
}

// ChangeTier switches a user's subscription tier. Lifting the cap takes
// effect immediately without resetting the counter.
func (t *Tracker) ChangeTier(ctx context.Context, userID int64, tier domain.Tier) error {
	switch tier {
	case domain.TierFree, domain.TierPlus, domain.TierPro:
	default:
		return types.E(types.KindInternal, "invalid tier %q, must be one of: free, plus, pro", tier)
	}
	if err := t.store.UpdateUserTier(ctx, userID, tier); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return types.E(types.KindNotFound, "user not found")
		}
		return err
	}
	slog.Info("subscription tier changed", "user_id", userID, "tier", tier)
	return nil
}

func (t *Tracker) userTier(ctx context.Context, userID int64) (domain.Tier, error) {
	user, err := t.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", types.E(types.KindNotFound, "user not found")
		}
		return "", fmt.Errorf("load user: %w", err)
	}
	if user.Tier == "" {
		return domain.TierFree, nil
	}
	return user.Tier, nil
}
