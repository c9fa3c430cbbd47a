// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Resource
// catalog and its per-user feedback.
//
// The repository follows a "thin" approach: it performs persistence and simple
// query composition, leaving business rules (type validation, rating bounds,
// authorship checks) to the services package.
//
// Error semantics:
//   - Missing resources are reported as gorm.ErrRecordNotFound (ErrNotFound).
//   - Duplicate feedback (same resource_id,user_id) relies on the database
//     unique constraint and is returned as ErrDuplicate. The service layer
//     translates that into a domain error.
//   - On other DB errors (connectivity, constraints, etc.), the raw gorm
//     error is propagated.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tracklane/go-roadmap-backend/internal/domain"
)

// ResourceFilter narrows catalog listings. Zero values mean "no constraint".
type ResourceFilter struct {
	Type       string
	Difficulty int
	Tag        string
	AuthorID   string
}

func (f ResourceFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Difficulty != 0 {
		q = q.Where("difficulty = ?", f.Difficulty)
	}
	if f.Tag != "" {
		// Tags are stored as a JSON array; a quoted LIKE match is good enough
		// for SQLite without a JSON1 dependency.
		q = q.Where("tags LIKE ?", "%\""+f.Tag+"\"%")
	}
	if f.AuthorID != "" {
		q = q.Where("author_id = ?", f.AuthorID)
	}
	return q
}

// CreateResource inserts a new catalog entry. The resource ID is a randomly
// generated UUID (string) unless already set.
func CreateResource(ctx context.Context, db *gorm.DB, r *domain.Resource) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	return db.WithContext(ctx).Create(r).Error
}

// GetResource fetches a single resource by ID, or ErrNotFound.
func GetResource(ctx context.Context, db *gorm.DB, id string) (*domain.Resource, error) {
	var r domain.Resource
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListResources returns a filtered, paginated slice of catalog entries ordered
// by average rating descending, then creation time descending.
func ListResources(ctx context.Context, db *gorm.DB, f ResourceFilter, offset, limit int) ([]domain.Resource, error) {
	var out []domain.Resource
	err := f.apply(db.WithContext(ctx).Model(&domain.Resource{})).
		Order("average_rating desc, created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountResources returns the number of catalog entries matching the filter.
func CountResources(ctx context.Context, db *gorm.DB, f ResourceFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Resource{})).Count(&total).Error
	return total, err
}

// AllResources returns the full catalog, used to build the in-memory search
// index at startup and after writes.
func AllResources(ctx context.Context, db *gorm.DB) ([]domain.Resource, error) {
	var out []domain.Resource
	err := db.WithContext(ctx).Find(&out).Error
	return out, err
}

// UpdateResource updates mutable fields of a resource owned by authorID.
// Returns ErrNotFound when the resource does not exist or is not owned by
// authorID.
func UpdateResource(ctx context.Context, db *gorm.DB, id, authorID string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Resource{}).
		Where("id = ? AND author_id = ?", id, authorID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteResource soft-deletes a resource owned by authorID, or ErrNotFound.
func DeleteResource(ctx context.Context, db *gorm.DB, id, authorID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND author_id = ?", id, authorID).
		Delete(&domain.Resource{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IncrementResourceViews bumps the view counter for a resource. Missing rows
// are ignored; view counting is best effort.
func IncrementResourceViews(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.Resource{}).
		Where("id = ?", id).
		Update("total_views", gorm.Expr("total_views + 1")).Error
}

// CreateResourceFeedback inserts a rating row for the given resource and user
// and folds the rating into the resource's running average inside one
// transaction.
//
// The combination (resource_id, user_id) must be unique, enforced by the
// database schema. A duplicate is returned as ErrDuplicate. Rating bounds
// (1-5) are validated at the service layer and by a DB check constraint.
func CreateResourceFeedback(ctx context.Context, db *gorm.DB, resourceID, userID string, rating int, comment string) (*domain.ResourceFeedback, error) {
	fb := &domain.ResourceFeedback{
		ID:         uuid.NewString(),
		ResourceID: resourceID,
		UserID:     userID,
		Rating:     rating,
		Comment:    comment,
		CreatedAt:  time.Now().UTC(),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(fb).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Resource{}).
			Where("id = ?", resourceID).
			Updates(map[string]any{
				"average_rating": gorm.Expr("(average_rating * rating_count + ?) / (rating_count + 1)", rating),
				"rating_count":   gorm.Expr("rating_count + 1"),
			}).Error
	})
	if err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return fb, nil
}

// ListResourceFeedback returns all feedback for a resource, newest first.
func ListResourceFeedback(ctx context.Context, db *gorm.DB, resourceID string) ([]domain.ResourceFeedback, error) {
	var out []domain.ResourceFeedback
	err := db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}
