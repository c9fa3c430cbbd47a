// Progress HTTP handlers.
//
// This file exposes REST endpoints for module progress:
//   - PATCH /progress/{roadmapId}/levels/{levelId}/modules/{moduleId}  (apply a mutation)
//   - GET   /progress/{roadmapId}/stats                                (derived statistics)
//   - GET   /progress/analytics                                        (per-user aggregate)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (ids, time bounds, note normalization)
//   - delegate to application services (ProgressService)
//   - implement idempotency semantics for the mutation endpoint
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (user, roadmap, key), the handler returns that recorded
// response body and sets `Idempotency-Replayed: true`.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tracklane/go-roadmap-backend/internal/repo"
	"github.com/tracklane/go-roadmap-backend/internal/services"
)

//
// DTOs
//

// UpdateProgressRequest is the JSON payload for a module progress mutation.
//
// Completed sets the module's status in both directions: false reverts a
// completed module to in_progress. TimeSpent is the module's total study
// time in minutes, replacing the stored value, and must be non-negative.
// Notes, when present, replace the stored user notes after normalization
// (line endings and excessive blank lines).
type UpdateProgressRequest struct {
	// Completed marks the module as finished when true, in progress when false.
	Completed bool `json:"completed" example:"true"`
	// TimeSpent is total study time on the module in minutes (>= 0).
	TimeSpent int64 `json:"time_spent" example:"45"`
	// Notes optionally replaces the user's notes on the module.
	Notes *string `json:"notes,omitempty" example:"Re-read the indexing chapter"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeNotes normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeNotes(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// progressDB exposes the concrete service's DB handle for best-effort
// idempotency records.
func (h *Handlers) progressDB() *gorm.DB {
	if svc, ok := h.progressSvc.(*services.ProgressService); ok {
		return svc.DB
	}
	return nil
}

// idempotencyKeyFrom extracts an idempotency key if an upstream middleware has
// already validated/stashed it. The fallback behavior reads the
// "Idempotency-Key" header directly when no dedicated middleware exists.
func idempotencyKeyFrom(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}

//
// Handlers
//

// UpdateModuleProgress godoc
// @ID          updateModuleProgress
// @Summary     Update module progress
// @Description Applies a completion/time/notes mutation to one module and returns recomputed
// @Description progress plus any newly earned achievements. Concurrent writers are handled with
// @Description optimistic retries; persistent interference yields 409.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Progress
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "User ID that owns the roadmap"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       roadmapId        path    string  true  "Roadmap ID (UUID)"              format(uuid)
// @Param       levelId          path    int     true  "Level ID (1-based)"             minimum(1)
// @Param       moduleId         path    string  true  "Module ID (e.g. 1.2)"
// @Param       body             body    handlers.UpdateProgressRequest  true  "Progress payload"
//
// @Success     200  {object}  services.ProgressResult  "Recomputed progress"
// @Failure     400  {object}  handlers.ErrorResponse   "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse   "Roadmap, level or module not found"
// @Failure     409  {object}  handlers.ErrorResponse   "Conflicting concurrent update"
// @Failure     500  {object}  handlers.ErrorResponse   "Internal error"
// @Router      /progress/{roadmapId}/levels/{levelId}/modules/{moduleId} [patch]
func (h *Handlers) UpdateModuleProgress(c *gin.Context) {
	ctx := c.Request.Context()
	roadmapID := c.Param("roadmapId")

	if _, err := uuid.Parse(roadmapID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "roadmap id must be a UUID")
		return
	}
	levelID, err := strconv.Atoi(c.Param("levelId"))
	if err != nil || levelID < 1 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "level id must be a positive integer")
		return
	}
	moduleID := strings.TrimSpace(c.Param("moduleId"))
	if moduleID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "module id required")
		return
	}

	var req UpdateProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.TimeSpent < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, services.ErrNegativeTime.Error())
		return
	}
	if req.Notes != nil {
		n := sanitizeNotes(*req.Notes)
		req.Notes = &n
	}

	currentUser := userID(c)

	// Idempotency replay path: return the recorded response if present.
	idemKey, _ := idempotencyKeyFrom(c)
	if idemKey != "" {
		if db := h.progressDB(); db != nil {
			if rec, err := repo.GetIdempotency(ctx, db, currentUser, roadmapID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				c.Header("Idempotency-Replayed", "true")
				c.Data(rec.Status, "application/json; charset=utf-8", []byte(rec.Body))
				return
			}
		}
	}

	res, err := h.progressSvc.UpdateModuleProgress(ctx, currentUser, roadmapID, levelID, moduleID, services.ModuleUpdate{
		Completed: req.Completed,
		TimeSpent: req.TimeSpent,
		Notes:     req.Notes,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRoadmapNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "roadmap not found")
		case errors.Is(err, services.ErrLevelNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "level not found")
		case errors.Is(err, services.ErrModuleNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "module not found")
		case errors.Is(err, services.ErrNegativeTime):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, services.ErrConflict):
			fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeProgressFailed, err.Error())
		}
		return
	}

	// Idempotency store path, best effort.
	if idemKey != "" {
		if db := h.progressDB(); db != nil {
			if body, mErr := json.Marshal(res); mErr == nil {
				ttl := 24 * time.Hour
				_, _ = repo.CreateIdempotency(ctx, db, currentUser, roadmapID, idemKey, string(body), http.StatusOK, ttl)
			}
		}
	}

	ok(c, http.StatusOK, res)
}

// GetProgressStats godoc
// @ID          getProgressStats
// @Summary     Roadmap progress statistics
// @Description Returns the derived statistics projection for one roadmap: overall progress,
// @Description current position, per-level breakdown, achievements and the next module.
// @Tags        Progress
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       roadmapId  path    string  true  "Roadmap ID (UUID)"      format(uuid)
//
// @Success     200  {object} services.RoadmapStats
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Roadmap not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /progress/{roadmapId}/stats [get]
func (h *Handlers) GetProgressStats(c *gin.Context) {
	roadmapID := c.Param("roadmapId")
	if _, err := uuid.Parse(roadmapID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "roadmap id must be a UUID")
		return
	}

	stats, err := h.progressSvc.GetStats(c.Request.Context(), userID(c), roadmapID)
	if err != nil {
		if errors.Is(err, services.ErrRoadmapNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "roadmap not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, stats)
}

// GetAnalytics godoc
// @ID          getAnalytics
// @Summary     Cross-roadmap analytics
// @Description Aggregates progress across all of the user's roadmaps: totals, averages,
// @Description completion rate, recent activity and difficulty distribution.
// @Tags        Progress
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object} services.UserAnalytics
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /progress/analytics [get]
func (h *Handlers) GetAnalytics(c *gin.Context) {
	analytics, err := h.progressSvc.GetAnalytics(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, analytics)
}
