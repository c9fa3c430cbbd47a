// Package services – ResourceService
//
// This file implements the ResourceService, which manages the shared catalog
// of learning resources and their per-user ratings. It validates resource
// fields (type enum, difficulty range, rating bounds), enforces authorship on
// edits, and keeps an in-memory relevance index over title + description +
// tags in sync with catalog writes so GET /resources can serve ranked search
// without touching a full-text engine.
//
// Service-level errors (e.g. ErrResourceNotFound, ErrInvalidRating,
// ErrDuplicateFeedback) are returned for predictable cases so handlers can
// map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/tracklane/go-roadmap-backend/internal/domain"
	"github.com/tracklane/go-roadmap-backend/internal/repo"
	"github.com/tracklane/go-roadmap-backend/internal/search"
)

// ResourceService implements the use-cases around the resource catalog.
type ResourceService struct {
	// DB is the database handle used for all catalog operations.
	DB *gorm.DB

	mu  sync.RWMutex
	idx search.Index
}

// NewResourceService constructs a ResourceService and builds the initial
// relevance index from the current catalog. An empty catalog yields an empty
// index; index build failures are deferred to the first search.
func NewResourceService(ctx context.Context, db *gorm.DB) *ResourceService {
	s := &ResourceService{DB: db}
	s.rebuildIndex(ctx)
	return s
}

// rebuildIndex reloads the catalog and swaps in a fresh relevance index.
// Rebuilds are whole-catalog; the catalog is small and writes are rare
// compared to searches.
func (s *ResourceService) rebuildIndex(ctx context.Context) {
	all, err := repo.AllResources(ctx, s.DB)
	if err != nil {
		return
	}
	docs := make([]search.Doc, 0, len(all))
	for i := range all {
		docs = append(docs, search.Doc{ID: all[i].ID, Text: all[i].SearchText()})
	}
	idx := search.NewIndex(docs)

	s.mu.Lock()
	s.idx = idx
	s.mu.Unlock()
}

func (s *ResourceService) indexSnapshot() search.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx
}

// Create validates and inserts a new catalog entry contributed by authorID.
func (s *ResourceService) Create(ctx context.Context, authorID string, r *domain.Resource) (*domain.Resource, error) {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return nil, ErrEmptyTitle
	}
	if !domain.ValidResourceType(r.Type) {
		return nil, ErrInvalidResourceType
	}
	if r.Difficulty < 1 || r.Difficulty > 5 {
		return nil, ErrInvalidDifficulty
	}
	r.ID = ""
	r.AuthorID = authorID
	r.TotalViews = 0
	r.AverageRating = 0
	r.RatingCount = 0

	if err := repo.CreateResource(ctx, s.DB, r); err != nil {
		return nil, err
	}
	s.rebuildIndex(ctx)
	return r, nil
}

// Get fetches a resource by id and bumps its view counter.
func (s *ResourceService) Get(ctx context.Context, id string) (*domain.Resource, error) {
	r, err := repo.GetResource(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResourceNotFound
		}
		return nil, err
	}
	// View counting is best effort; a failed bump never fails the read.
	if err := repo.IncrementResourceViews(ctx, s.DB, id); err == nil {
		r.TotalViews++
	}
	return r, nil
}

// List returns a filtered, paginated slice of the catalog plus the total
// count for pagination metadata.
func (s *ResourceService) List(ctx context.Context, f repo.ResourceFilter, page, pageSize int) ([]domain.Resource, int64, error) {
	if f.Type != "" && !domain.ValidResourceType(f.Type) {
		return nil, 0, ErrInvalidResourceType
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountResources(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Resource{}, 0, nil
	}
	items, err := repo.ListResources(ctx, s.DB, f, offset, pageSize)
	return items, total, err
}

// Search returns up to limit catalog entries ranked by relevance to query.
// Results are resolved against the database so deleted resources never
// surface from a stale index.
func (s *ResourceService) Search(ctx context.Context, query string, limit int) ([]domain.Resource, error) {
	if limit <= 0 {
		limit = 10
	}
	idx := s.indexSnapshot()
	if idx == nil {
		s.rebuildIndex(ctx)
		if idx = s.indexSnapshot(); idx == nil {
			return []domain.Resource{}, nil
		}
	}
	hits := idx.TopK(query, limit)
	out := make([]domain.Resource, 0, len(hits))
	for _, h := range hits {
		r, err := repo.GetResource(ctx, s.DB, h.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// Update applies author-only edits to a resource's mutable fields.
// Nil pointers leave the corresponding field untouched.
func (s *ResourceService) Update(ctx context.Context, authorID, id string, title, description, url *string, difficulty *int, tags []string) error {
	fields := map[string]any{}
	if title != nil {
		t := strings.TrimSpace(*title)
		if t == "" {
			return ErrEmptyTitle
		}
		fields["title"] = t
	}
	if description != nil {
		fields["description"] = strings.TrimSpace(*description)
	}
	if url != nil {
		fields["url"] = strings.TrimSpace(*url)
	}
	if difficulty != nil {
		if *difficulty < 1 || *difficulty > 5 {
			return ErrInvalidDifficulty
		}
		fields["difficulty"] = *difficulty
	}
	if tags != nil {
		fields["tags"] = domain.StringList(tags)
	}
	if len(fields) == 0 {
		return nil
	}

	if err := repo.UpdateResource(ctx, s.DB, id, authorID, fields); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Distinguish a missing resource from a foreign one so the author
			// check surfaces as forbidden rather than 404.
			if _, gerr := repo.GetResource(ctx, s.DB, id); gerr == nil {
				return ErrForbiddenResource
			}
			return ErrResourceNotFound
		}
		return err
	}
	s.rebuildIndex(ctx)
	return nil
}

// Delete removes a resource contributed by authorID.
func (s *ResourceService) Delete(ctx context.Context, authorID, id string) error {
	if err := repo.DeleteResource(ctx, s.DB, id, authorID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if _, gerr := repo.GetResource(ctx, s.DB, id); gerr == nil {
				return ErrForbiddenResource
			}
			return ErrResourceNotFound
		}
		return err
	}
	s.rebuildIndex(ctx)
	return nil
}

// LeaveFeedback records a rating for a resource on behalf of userID.
//
// Semantics and validation:
//   - rating must be between 1 and 5; otherwise ErrInvalidRating.
//   - the resource must exist; otherwise ErrResourceNotFound.
//   - a user may rate a resource at most once; attempting to do so again
//     yields ErrDuplicateFeedback.
//
// The insert and the running-average update run in one transaction at the
// repository layer, so a duplicate never skews the average.
func (s *ResourceService) LeaveFeedback(ctx context.Context, userID, resourceID string, rating int, comment string) (*domain.ResourceFeedback, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}
	if _, err := repo.GetResource(ctx, s.DB, resourceID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResourceNotFound
		}
		return nil, err
	}

	fb, err := repo.CreateResourceFeedback(ctx, s.DB, resourceID, userID, rating, strings.TrimSpace(comment))
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrDuplicateFeedback
		}
		return nil, err
	}
	return fb, nil
}

// ListFeedback returns all feedback left on a resource, newest first.
func (s *ResourceService) ListFeedback(ctx context.Context, resourceID string) ([]domain.ResourceFeedback, error) {
	if _, err := repo.GetResource(ctx, s.DB, resourceID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResourceNotFound
		}
		return nil, err
	}
	return repo.ListResourceFeedback(ctx, s.DB, resourceID)
}
