// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Roadmap
// aggregate.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a roadmap is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - When a conditional write loses the version race, UpdateRoadmapGuarded
//     returns ErrVersionConflict.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Concurrency model:
//
// The Roadmap row carries a Version column that acts as an optimistic
// concurrency token. Readers take the version along with the aggregate;
// writers submit the full new state together with the version they read, and
// the UPDATE only lands when that version is still current. A lost race shows
// up as zero affected rows, never as a partial write.
//
// This repository is designed to be wrapped by a higher-level service
// (see services.ProgressService) which enforces business rules, caching,
// and retry behavior.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tracklane/go-roadmap-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrVersionConflict is returned when a guarded update matches no rows because
// the aggregate's version moved between read and write.
var ErrVersionConflict = errors.New("roadmap version conflict")

// CreateRoadmap inserts a new Roadmap aggregate owned by userID. The roadmap
// ID is a randomly generated UUID (string) unless already set, Version starts
// at 1 and timestamps are set to UTC.
func CreateRoadmap(ctx context.Context, db *gorm.DB, r *domain.Roadmap) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Version = 1
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.LastActivity.IsZero() {
		r.LastActivity = now
	}
	return db.WithContext(ctx).Create(r).Error
}

// ListRoadmaps returns all roadmaps belonging to userID, ordered by last
// activity descending (most recently touched first). It returns an empty
// slice if the user has none. On DB error, it returns the error.
func ListRoadmaps(ctx context.Context, db *gorm.DB, userID string) ([]domain.Roadmap, error) {
	var out []domain.Roadmap
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_activity desc").
		Find(&out).Error
	return out, err
}

// CountRoadmaps returns the total number of roadmaps owned by userID.
func CountRoadmaps(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Roadmap{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListRoadmapsPage returns a paginated slice of roadmaps for userID, ordered
// by last activity descending. Use CountRoadmaps to obtain the total for
// pagination metadata.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListRoadmapsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Roadmap, error) {
	var out []domain.Roadmap
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_activity desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetRoadmap fetches a single roadmap by its ID and owner (userID). If the
// record does not exist, it returns ErrNotFound. On other DB errors, the raw
// error is returned.
func GetRoadmap(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Roadmap, error) {
	var r domain.Roadmap
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRoadmapGuarded persists the full mutated aggregate state with a
// version guard: the UPDATE only matches while the stored version still
// equals r.Version. On success the stored version becomes r.Version+1 and
// r.Version is bumped to match. When no rows match, it returns
// ErrVersionConflict and the caller should re-read and retry.
func UpdateRoadmapGuarded(ctx context.Context, db *gorm.DB, r *domain.Roadmap) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Roadmap{}).
		Where("id = ? AND user_id = ? AND version = ?", r.ID, r.UserID, r.Version).
		Updates(map[string]any{
			"levels":             r.Levels,
			"achievements":       r.Achievements,
			"current_level":      r.CurrentLevel,
			"current_module":     r.CurrentModule,
			"overall_progress":   r.OverallProgress,
			"total_time_spent":   r.TotalTimeSpent,
			"average_level_time": r.AverageLevelTime,
			"completion_rate":    r.CompletionRate,
			"last_activity":      r.LastActivity,
			"version":            r.Version + 1,
			"updated_at":         now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	r.Version++
	r.UpdatedAt = now
	return nil
}

// UpdateRoadmapMeta updates the mutable metadata of a roadmap (title,
// description, difficulty), enforcing user ownership. Metadata edits do not
// participate in the version guard; they bump the version unconditionally so
// concurrent progress writers still observe the change. Returns ErrNotFound
// when the roadmap does not exist or is not owned by userID.
func UpdateRoadmapMeta(ctx context.Context, db *gorm.DB, id, userID string, fields map[string]any) error {
	fields["version"] = gorm.Expr("version + 1")
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Roadmap{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteRoadmap soft-deletes a roadmap owned by userID. Returns ErrNotFound
// when no row matches.
func DeleteRoadmap(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.Roadmap{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
