package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReviewsTotal counts review attempts, labeled by terminal status.
	ReviewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_backend_reviews_total",
		Help: "The total number of AI reviews processed",
	}, []string{"status"}) // status: completed, failed

	// ProcessingDuration measures end-to-end review processing time.
	ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "review_backend_processing_duration_seconds",
		Help:    "Time taken to process an AI review",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 180},
	}, []string{"result"}) // result: success, error

	// LLMAttempts counts completion attempts per credential outcome.
	LLMAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_backend_llm_attempts_total",
		Help: "The total number of LLM completion attempts",
	}, []string{"outcome"}) // outcome: success, error

	// QuotaDenied counts review requests rejected by the monthly quota.
	QuotaDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "review_backend_quota_denied_total",
		Help: "Total number of review requests denied by quota",
	})

	// CacheRequests counts review cache lookups.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_backend_cache_requests_total",
		Help: "Total number of review cache lookups",
	}, []string{"result"}) // result: hit, miss

	// PlatformRequests counts hosting-platform API fetches.
	PlatformRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_backend_platform_requests_total",
		Help: "Total number of hosting platform API requests",
	}, []string{"platform", "status"}) // status: success, error
)
