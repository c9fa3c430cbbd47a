// Resource catalog HTTP handlers.
//
// This file exposes REST endpoints for the shared learning-resource catalog:
//   - POST   /resources               (contribute a resource)
//   - GET    /resources               (list with filters, or relevance search via ?q=)
//   - GET    /resources/{id}          (fetch one, bumps view counter)
//   - PATCH  /resources/{id}          (author-only edit)
//   - DELETE /resources/{id}          (author-only delete)
//   - POST   /resources/{id}/feedback (rate 1-5, one per user)
//   - GET    /resources/{id}/feedback (list ratings)
//
// Handlers in this file are transport-thin: they validate input, delegate to
// application services, and translate domain/service errors into HTTP results.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tracklane/go-roadmap-backend/internal/domain"
	"github.com/tracklane/go-roadmap-backend/internal/repo"
	"github.com/tracklane/go-roadmap-backend/internal/services"
	"github.com/tracklane/go-roadmap-backend/internal/utils"
)

//
// DTOs
//

// CreateResourceRequest is the JSON payload for contributing a catalog resource.
type CreateResourceRequest struct {
	// Title names the resource (required).
	Title string `json:"title" binding:"required,min=1" example:"SQL Indexing Explained"`
	// Description optionally summarizes the content.
	Description string `json:"description" example:"Deep dive into B-tree indexes"`
	// Type is one of video, text, hands-on, audio, interactive.
	Type string `json:"type" binding:"required" example:"video"`
	// URL points at the resource (required).
	URL string `json:"url" binding:"required,min=1" example:"https://example.com/sql-indexing"`
	// Difficulty ranks the resource from 1 (easiest) to 5 (hardest).
	Difficulty int `json:"difficulty" binding:"required,min=1,max=5" example:"3"`
	// Duration is the estimated time in minutes.
	Duration int `json:"duration" example:"40"`
	// Tags are free-form labels used for filtering and search.
	Tags []string `json:"tags" example:"sql,databases"`
}

// UpdateResourceRequest is the JSON payload for editing a resource.
// Absent fields are left untouched.
type UpdateResourceRequest struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	URL         *string  `json:"url,omitempty"`
	Difficulty  *int     `json:"difficulty,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ResourceFeedbackRequest is the JSON payload for rating a resource.
type ResourceFeedbackRequest struct {
	// Rating is the 1-5 score (required).
	Rating int `json:"rating" binding:"required,min=1,max=5" example:"4"`
	// Comment optionally explains the rating.
	Comment string `json:"comment" example:"Great pacing, slightly dated examples"`
}

// ListResourcesResponse wraps a page of resources and pagination information.
type ListResourcesResponse struct {
	Resources  []domain.Resource `json:"resources"`
	Pagination Pagination        `json:"pagination"`
}

// SearchResourcesResponse wraps relevance-ranked search hits.
type SearchResourcesResponse struct {
	Query     string            `json:"query"`
	Resources []domain.Resource `json:"resources"`
}

//
// Handlers
//

// CreateResource godoc
// @ID          createResource
// @Summary     Contribute a resource
// @Description Adds a learning resource to the shared catalog. The current user becomes its author.
// @Tags        Resources
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateResourceRequest  true  "Resource payload"
//
// @Success     201  {object}  domain.Resource
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /resources [post]
func (h *Handlers) CreateResource(c *gin.Context) {
	var req CreateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title, type, url and difficulty (1-5) required")
		return
	}

	r, err := h.resourceSvc.Create(c.Request.Context(), userID(c), &domain.Resource{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Type:        strings.TrimSpace(req.Type),
		URL:         strings.TrimSpace(req.URL),
		Difficulty:  req.Difficulty,
		Duration:    req.Duration,
		Tags:        req.Tags,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyTitle),
			errors.Is(err, services.ErrInvalidResourceType),
			errors.Is(err, services.ErrInvalidDifficulty):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, r)
}

// ListResources godoc
// @ID          listResources
// @Summary     List or search resources
// @Description Without ?q=, returns a filtered, paginated catalog page (supports weak ETag).
// @Description With ?q=, returns resources ranked by relevance to the query instead.
// @Tags        Resources
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       q              query   string  false "Relevance search query"
// @Param       type           query   string  false "Filter by type"        Enums(video, text, hands-on, audio, interactive)
// @Param       difficulty     query   int     false "Filter by difficulty"  minimum(1) maximum(5)
// @Param       tag            query   string  false "Filter by tag"
// @Param       author         query   string  false "Filter by author id"
// @Param       page           query   int     false "Page number"           minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"        minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListResourcesResponse
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /resources [get]
func (h *Handlers) ListResources(c *gin.Context) {
	ctx := c.Request.Context()

	// Relevance search path.
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		_, pageSize := clampPagination(c)
		items, err := h.resourceSvc.Search(ctx, q, pageSize)
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeSearchFailed, err.Error())
			return
		}
		ok(c, http.StatusOK, SearchResourcesResponse{Query: q, Resources: items})
		return
	}

	page, pageSize := clampPagination(c)
	filter := repo.ResourceFilter{
		Type:       strings.TrimSpace(c.Query("type")),
		Difficulty: utils.AtoiDefault(c.Query("difficulty"), 0),
		Tag:        strings.TrimSpace(c.Query("tag")),
		AuthorID:   strings.TrimSpace(c.Query("author")),
	}

	// ETag pre-check (best effort). Catalog-wide, so only set when unfiltered.
	if svc, okSvc := h.resourceSvc.(*services.ResourceService); okSvc && svc.DB != nil && filter == (repo.ResourceFilter{}) {
		count, maxTS, err := repo.ResourcesStats(ctx, svc.DB)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"resources:%d:%d"`, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.resourceSvc.List(ctx, filter, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrInvalidResourceType) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListResourcesResponse{
		Resources: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetResource godoc
// @ID          getResource
// @Summary     Fetch a resource
// @Description Returns one catalog entry and increments its view counter.
// @Tags        Resources
// @Produce     json
//
// @Param       id  path  string  true  "Resource ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Resource
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Resource not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /resources/{id} [get]
func (h *Handlers) GetResource(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "resource id must be a UUID")
		return
	}

	r, err := h.resourceSvc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrResourceNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, r)
}

// UpdateResource godoc
// @ID          updateResource
// @Summary     Edit a resource
// @Description Updates a catalog entry. Only the contributing author may edit it.
// @Tags        Resources
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Resource ID (UUID)"     format(uuid)
// @Param       body       body    handlers.UpdateResourceRequest  true  "Fields to change"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the author"
// @Failure     404  {object} handlers.ErrorResponse "Resource not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /resources/{id} [patch]
func (h *Handlers) UpdateResource(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "resource id must be a UUID")
		return
	}

	var req UpdateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Title == nil && req.Description == nil && req.URL == nil && req.Difficulty == nil && req.Tags == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "nothing to update")
		return
	}

	err := h.resourceSvc.Update(c.Request.Context(), userID(c), id, req.Title, req.Description, req.URL, req.Difficulty, req.Tags)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrResourceNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
		case errors.Is(err, services.ErrForbiddenResource):
			fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
		case errors.Is(err, services.ErrEmptyTitle), errors.Is(err, services.ErrInvalidDifficulty):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// DeleteResource godoc
// @ID          deleteResource
// @Summary     Delete a resource
// @Description Removes a catalog entry. Only the contributing author may delete it.
// @Tags        Resources
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Resource ID (UUID)"     format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the author"
// @Failure     404  {object} handlers.ErrorResponse "Resource not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /resources/{id} [delete]
func (h *Handlers) DeleteResource(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "resource id must be a UUID")
		return
	}

	err := h.resourceSvc.Delete(c.Request.Context(), userID(c), id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrResourceNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
		case errors.Is(err, services.ErrForbiddenResource):
			fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// LeaveResourceFeedback godoc
// @ID          leaveResourceFeedback
// @Summary     Rate a resource
// @Description Records a 1-5 rating with an optional comment. Each user may rate a resource once.
// @Tags        Resources
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Resource ID (UUID)"     format(uuid)
// @Param       body       body    handlers.ResourceFeedbackRequest true "Feedback payload"
//
// @Success     201  {object} domain.ResourceFeedback
// @Failure     400  {object} handlers.ErrorResponse "Invalid payload"
// @Failure     404  {object} handlers.ErrorResponse "Resource not found"
// @Failure     409  {object} handlers.ErrorResponse "Feedback already exists"
// @Failure     500  {object} handlers.ErrorResponse "Internal server error"
// @Router      /resources/{id}/feedback [post]
func (h *Handlers) LeaveResourceFeedback(c *gin.Context) {
	var req ResourceFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rating must be between 1 and 5")
		return
	}

	fb, err := h.resourceSvc.LeaveFeedback(c.Request.Context(), userID(c), c.Param("id"), req.Rating, strings.TrimSpace(req.Comment))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrResourceNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
		case errors.Is(err, services.ErrInvalidRating):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, services.ErrDuplicateFeedback):
			fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, fb)
}

// ListResourceFeedback godoc
// @ID          listResourceFeedback
// @Summary     List feedback on a resource
// @Description Returns all ratings for a resource, newest first.
// @Tags        Resources
// @Produce     json
//
// @Param       id  path  string  true  "Resource ID (UUID)"  format(uuid)
//
// @Success     200  {array}  domain.ResourceFeedback
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Resource not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /resources/{id}/feedback [get]
func (h *Handlers) ListResourceFeedback(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "resource id must be a UUID")
		return
	}

	items, err := h.resourceSvc.ListFeedback(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrResourceNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, items)
}
