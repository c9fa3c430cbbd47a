// Roadmap HTTP handlers.
//
// This file exposes REST endpoints for roadmap resources:
//   - POST   /roadmaps        (create)
//   - GET    /roadmaps        (list, paginated, ETag support)
//   - GET    /roadmaps/{id}   (fetch one)
//   - PATCH  /roadmaps/{id}   (update metadata)
//   - DELETE /roadmaps/{id}   (delete)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tracklane/go-roadmap-backend/internal/domain"
	"github.com/tracklane/go-roadmap-backend/internal/repo"
	"github.com/tracklane/go-roadmap-backend/internal/services"
	"github.com/tracklane/go-roadmap-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// RoadmapService defines roadmap lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type RoadmapService interface {
	// Create starts a new roadmap for userID from the validated input.
	Create(ctx context.Context, userID string, in services.NewRoadmapInput) (*domain.Roadmap, error)
	// Get returns a single roadmap owned by userID.
	Get(ctx context.Context, userID, roadmapID string) (*domain.Roadmap, error)
	// ListPage returns a page of roadmaps for a user and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Roadmap, int64, error)
	// UpdateMeta changes title/description/difficulty of an owned roadmap.
	UpdateMeta(ctx context.Context, userID, roadmapID string, title, description, difficulty *string) error
	// Delete removes a roadmap that belongs to userID.
	Delete(ctx context.Context, userID, roadmapID string) error
}

// ProgressService defines progress mutation and projection operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ProgressService interface {
	// UpdateModuleProgress applies one module mutation with optimistic retries.
	UpdateModuleProgress(ctx context.Context, userID, roadmapID string, levelID int, moduleID string, in services.ModuleUpdate) (*services.ProgressResult, error)
	// GetStats returns the derived statistics projection for one roadmap.
	GetStats(ctx context.Context, userID, roadmapID string) (*services.RoadmapStats, error)
	// GetAnalytics aggregates progress across all of the user's roadmaps.
	GetAnalytics(ctx context.Context, userID string) (*services.UserAnalytics, error)
}

// ResourceService defines catalog operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ResourceService interface {
	// Create adds a resource to the shared catalog.
	Create(ctx context.Context, authorID string, r *domain.Resource) (*domain.Resource, error)
	// Get returns one resource and bumps its view counter.
	Get(ctx context.Context, id string) (*domain.Resource, error)
	// List returns a filtered page of resources and the total count.
	List(ctx context.Context, f repo.ResourceFilter, page, pageSize int) ([]domain.Resource, int64, error)
	// Search ranks catalog entries by relevance to a free-text query.
	Search(ctx context.Context, query string, limit int) ([]domain.Resource, error)
	// Update edits a resource; only the author may do so.
	Update(ctx context.Context, authorID, id string, title, description, url *string, difficulty *int, tags []string) error
	// Delete removes a resource; only the author may do so.
	Delete(ctx context.Context, authorID, id string) error
	// LeaveFeedback records a 1-5 rating, one per user per resource.
	LeaveFeedback(ctx context.Context, userID, resourceID string, rating int, comment string) (*domain.ResourceFeedback, error)
	// ListFeedback returns all feedback entries for a resource.
	ListFeedback(ctx context.Context, resourceID string) ([]domain.ResourceFeedback, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for roadmaps, progress, and resources.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	roadmapSvc  RoadmapService
	progressSvc ProgressService
	resourceSvc ResourceService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(roadmapSvc RoadmapService, progressSvc ProgressService, resourceSvc ResourceService) *Handlers {
	return &Handlers{roadmapSvc: roadmapSvc, progressSvc: progressSvc, resourceSvc: resourceSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateRoadmapRequest is the JSON payload for creating a roadmap.
type CreateRoadmapRequest struct {
	// Title names the roadmap (required).
	Title string `json:"title" binding:"required,min=1" example:"Backend Fundamentals"`
	// Description optionally explains the roadmap goal.
	Description string `json:"description" example:"HTTP, databases and deployment from scratch"`
	// Difficulty is one of beginner, intermediate, advanced; defaults to beginner.
	Difficulty string `json:"difficulty" example:"beginner"`
	// Levels is the ordered curriculum; each level needs at least one module.
	Levels []domain.Level `json:"levels" binding:"required,min=1"`
}

// UpdateRoadmapRequest is the JSON payload for updating roadmap metadata.
// Absent fields are left untouched.
type UpdateRoadmapRequest struct {
	Title       *string `json:"title,omitempty" example:"Backend Fundamentals 2.0"`
	Description *string `json:"description,omitempty"`
	Difficulty  *string `json:"difficulty,omitempty" example:"intermediate"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListRoadmapsResponse wraps a page of roadmaps and pagination information.
type ListRoadmapsResponse struct {
	Roadmaps   []domain.Roadmap `json:"roadmaps"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

// roadmapDB exposes the concrete service's DB handle for best-effort extras
// such as ETag pre-checks and idempotency records.
func (h *Handlers) roadmapDB() *gorm.DB {
	if svc, ok := h.roadmapSvc.(*services.RoadmapService); ok {
		return svc.DB
	}
	return nil
}

//
// Handlers
//

// CreateRoadmap godoc
// @ID          createRoadmap
// @Summary     Create a new roadmap
// @Description Creates a roadmap for the current user and returns the full aggregate at version 1.
// @Tags        Roadmaps
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateRoadmapRequest  true  "Create roadmap payload"
//
// @Success     201  {object}  domain.Roadmap
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /roadmaps [post]
func (h *Handlers) CreateRoadmap(c *gin.Context) {
	var req CreateRoadmapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title and at least one level required")
		return
	}

	rm, err := h.roadmapSvc.Create(c.Request.Context(), userID(c), services.NewRoadmapInput{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Difficulty:  strings.TrimSpace(req.Difficulty),
		Levels:      req.Levels,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyTitle),
			errors.Is(err, services.ErrNoLevels),
			errors.Is(err, services.ErrInvalidTier):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, rm)
}

// ListRoadmaps godoc
// @ID          listRoadmaps
// @Summary     List roadmaps (paginated)
// @Description Returns a page of the user's roadmaps. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Roadmaps
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListRoadmapsResponse
// @Header      200  {string} ETag           "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /roadmaps [get]
func (h *Handlers) ListRoadmaps(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if db := h.roadmapDB(); db != nil {
		count, maxTS, err := repo.RoadmapsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"roadmaps:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	// Fetch page.
	items, total, err := h.roadmapSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListRoadmapsResponse{
		Roadmaps: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetRoadmap godoc
// @ID          getRoadmap
// @Summary     Fetch a single roadmap
// @Description Returns the full roadmap aggregate owned by the current user.
// @Tags        Roadmaps
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Roadmap ID (UUID)"      format(uuid)
//
// @Success     200  {object} domain.Roadmap
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Roadmap not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /roadmaps/{id} [get]
func (h *Handlers) GetRoadmap(c *gin.Context) {
	roadmapID := c.Param("id")
	if _, err := uuid.Parse(roadmapID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "roadmap id must be a UUID")
		return
	}

	rm, err := h.roadmapSvc.Get(c.Request.Context(), userID(c), roadmapID)
	if err != nil {
		if errors.Is(err, services.ErrRoadmapNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "roadmap not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, rm)
}

// UpdateRoadmap godoc
// @ID          updateRoadmap
// @Summary     Update roadmap metadata
// @Description Changes title, description and/or difficulty of a roadmap owned by the current user.
// @Tags        Roadmaps
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Roadmap ID (UUID)"      format(uuid)
// @Param       body       body    handlers.UpdateRoadmapRequest  true  "Fields to change"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Roadmap not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /roadmaps/{id} [patch]
func (h *Handlers) UpdateRoadmap(c *gin.Context) {
	roadmapID := c.Param("id")
	if _, err := uuid.Parse(roadmapID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "roadmap id must be a UUID")
		return
	}

	var req UpdateRoadmapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Title == nil && req.Description == nil && req.Difficulty == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "nothing to update")
		return
	}

	err := h.roadmapSvc.UpdateMeta(c.Request.Context(), userID(c), roadmapID, req.Title, req.Description, req.Difficulty)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRoadmapNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "roadmap not found")
		case errors.Is(err, services.ErrEmptyTitle), errors.Is(err, services.ErrInvalidTier):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// DeleteRoadmap godoc
// @ID          deleteRoadmap
// @Summary     Delete a roadmap
// @Description Removes a roadmap owned by the current user along with its cached projections.
// @Tags        Roadmaps
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Roadmap ID (UUID)"      format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Roadmap not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /roadmaps/{id} [delete]
func (h *Handlers) DeleteRoadmap(c *gin.Context) {
	roadmapID := c.Param("id")
	if _, err := uuid.Parse(roadmapID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "roadmap id must be a UUID")
		return
	}

	if err := h.roadmapSvc.Delete(c.Request.Context(), userID(c), roadmapID); err != nil {
		if errors.Is(err, services.ErrRoadmapNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "roadmap not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
