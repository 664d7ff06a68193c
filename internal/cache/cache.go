// Package cache provides the optional fast-lookup store for completed
// reviews. Absence or failure of the backing service always degrades to a
// cache miss, never to an error.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"code-review-backend/internal/domain"
	"code-review-backend/internal/metrics"
)

// ReviewCache serves recently-completed reviews by id.
type ReviewCache interface {
	Get(ctx context.Context, reviewID int64) (*domain.Review, bool)
	Set(ctx context.Context, review *domain.Review)
	Delete(ctx context.Context, reviewID int64)
}

// Noop is the always-miss cache used when no backing service is configured.
type Noop struct{}

func (Noop) Get(ctx context.Context, reviewID int64) (*domain.Review, bool) { return nil, false }
func (Noop) Set(ctx context.Context, review *domain.Review)                 {}
func (Noop) Delete(ctx context.Context, reviewID int64)                     {}

// RedisCache stores review snapshots in Redis under ai_review:<id> keys.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis at addr. When addr is empty or the server is
// unreachable it returns the Noop cache: the backend runs fine without it.
func New(addr string, ttl time.Duration) ReviewCache {
	if addr == "" {
		slog.Info("review cache disabled")
		return Noop{}
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 2 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable, review cache disabled", "addr", addr, "error", err)
		client.Close()
		return Noop{}
	}

	slog.Info("review cache enabled", "addr", addr, "ttl", ttl)
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, reviewID int64) (*domain.Review, bool) {
	data, err := c.client.Get(ctx, key(reviewID)).Bytes()
	if err != nil {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}

	var review domain.Review
	if err := json.Unmarshal(data, &review); err != nil {
		slog.Warn("corrupt cache entry dropped", "review_id", reviewID, "error", err)
		c.Delete(ctx, reviewID)
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return &review, true
}

// Set stores a review snapshot. Only terminal completed reviews belong
// here; the caller enforces that in-flight state is always read fresh.
func (c *RedisCache) Set(ctx context.Context, review *domain.Review) {
	data, err := json.Marshal(review)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(review.ID), data, c.ttl).Err(); err != nil {
		slog.Warn("cache write failed", "review_id", review.ID, "error", err)
	}
}

func (c *RedisCache) Delete(ctx context.Context, reviewID int64) {
	if err := c.client.Del(ctx, key(reviewID)).Err(); err != nil {
		slog.Warn("cache delete failed", "review_id", reviewID, "error", err)
	}
}

func key(reviewID int64) string {
	return fmt.Sprintf("ai_review:%d", reviewID)
}
