// Package api exposes the review backend over HTTP. Handlers are thin:
// identity comes from the X-User-ID header, all policy lives in the
// services, and error kinds map one-to-one onto status codes.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/sync/semaphore"

	"code-review-backend/internal/quota"
	"code-review-backend/internal/review"
	"code-review-backend/internal/types"
)

type Server struct {
	reviews *review.Service
	quota   *quota.Tracker
	// sem bounds concurrent review creations. Creation holds an LLM slot
	// for the whole synchronous call, so the bound is about protecting
	// the credential pool, not the HTTP server.
	sem *semaphore.Weighted
}

func NewServer(reviews *review.Service, quotaTracker *quota.Tracker, concurrencyLimit int64) *Server {
	if concurrencyLimit < 1 {
		concurrencyLimit = 1
	}
	return &Server{
		reviews: reviews,
		quota:   quotaTracker,
		sem:     semaphore.NewWeighted(concurrencyLimit),
	}
}

// Routes registers all API routes on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/projects/{project}/pulls/{pr}/reviews", s.handleCreateReview)
	mux.HandleFunc("GET /api/projects/{project}/pulls/{pr}/reviews", s.handleListReviews)
	mux.HandleFunc("GET /api/reviews/{id}", s.handleGetReview)
	mux.HandleFunc("GET /api/reviews/{id}/issues", s.handleListIssues)
	mux.HandleFunc("DELETE /api/reviews/{id}", s.handleDeleteReview)
	mux.HandleFunc("GET /api/usage", s.handleUsage)
	return mux
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}
	projectID, prNumber, ok := prPath(w, r)
	if !ok {
		return
	}

	if !s.sem.TryAcquire(1) {
		slog.Warn("review creation at capacity, request dropped")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "server busy, please retry later"})
		return
	}
	defer s.sem.Release(1)

	created, err := s.reviews.CreateAndProcess(r.Context(), projectID, prNumber, userID)
	if err != nil {
		// A failed review still has a persisted row the client can poll
		if created != nil {
			writeJSON(w, statusFor(err), map[string]any{
				"error":     err.Error(),
				"review_id": created.ID,
				"status":    created.Status,
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}
	reviewID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	found, err := s.reviews.Get(r.Context(), reviewID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if found == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "review not found"})
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}
	reviewID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	issues, err := s.reviews.Issues(r.Context(), reviewID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues, "count": len(issues)})
}

func (s *Server) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}
	reviewID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	deleted, err := s.reviews.Delete(r.Context(), reviewID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "review not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}
	projectID, prNumber, ok := prPath(w, r)
	if !ok {
		return
	}

	reviews, err := s.reviews.ListForPR(r.Context(), projectID, prNumber, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews, "count": len(reviews)})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}
	stats, err := s.quota.Stats(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// identity resolves the acting user from the X-User-ID header. The header
// is trusted: authentication happens upstream at the gateway.
func identity(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-User-ID")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID < 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid X-User-ID header"})
		return 0, false
	}
	return userID, true
}

func prPath(w http.ResponseWriter, r *http.Request) (projectID int64, prNumber int, ok bool) {
	projectID, ok = pathInt64(w, r, "project")
	if !ok {
		return 0, 0, false
	}
	pr, err := strconv.Atoi(r.PathValue("pr"))
	if err != nil || pr < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid pull request number"})
		return 0, 0, false
	}
	return projectID, pr, true
}

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || v < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch types.KindOf(err) {
	case types.KindPermission:
		return http.StatusForbidden
	case types.KindQuota:
		return http.StatusPaymentRequired
	case types.KindConflict:
		return http.StatusConflict
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindEmptyDiff:
		return http.StatusUnprocessableEntity
	case types.KindUpstream:
		return http.StatusBadGateway
	case types.KindLLMExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		// Internals stay out of the response body
		writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}

	body := map[string]any{"error": err.Error()}
	var appErr *types.Error
	if errors.As(err, &appErr) && appErr.Kind == types.KindQuota {
		body["current_usage"] = appErr.CurrentUsage
		body["limit"] = appErr.Limit
		body["tier"] = appErr.Tier
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}
