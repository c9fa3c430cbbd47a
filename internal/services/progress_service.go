// Package services – ProgressService
//
// This file implements ProgressService, the application-level component that
// owns module-completion updates and derived progress reads. A mutation runs
// the Fetch -> Validate -> Derive -> ConditionalWrite state machine: the
// aggregate is loaded with its version, mutated in memory, and written back
// with a version-guarded UPDATE. A lost race is retried from Fetch up to
// MaxAttempts times before ErrConflict reaches the caller.
//
// Derived reads (stats, analytics) go through the request coalescer so a
// cache-miss stampede triggers a single recomputation per key. Every
// successful mutation invalidates the aggregate's derived cache keys before
// returning, so the next read recomputes from the just-written state.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include roadmap/user identifiers and the attempt count on mutations.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tracklane/go-roadmap-backend/internal/cache"
	"github.com/tracklane/go-roadmap-backend/internal/domain"
	"github.com/tracklane/go-roadmap-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// defaultMaxAttempts bounds the conditional-write retry loop.
const defaultMaxAttempts = 3

// ModuleUpdate is the validated payload of a module progress mutation.
type ModuleUpdate struct {
	Completed bool
	TimeSpent int64
	Notes     *string
}

// ProgressResult is the outcome of a successful mutation.
type ProgressResult struct {
	Module          domain.Module        `json:"module"`
	LevelProgress   float64              `json:"level_progress"`
	OverallProgress float64              `json:"overall_progress"`
	NextModule      *domain.NextModule   `json:"next_module,omitempty"`
	NewAchievements []domain.Achievement `json:"new_achievements,omitempty"`
	Version         int64                `json:"version"`
}

// LevelStats is the per-level slice of a stats projection.
type LevelStats struct {
	LevelID          int        `json:"level_id"`
	Title            string     `json:"title"`
	Progress         float64    `json:"progress"`
	CompletedModules int        `json:"completed_modules"`
	TotalModules     int        `json:"total_modules"`
	TotalTimeSpent   int64      `json:"total_time_spent"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// RoadmapStats is the derived statistics projection for one roadmap.
type RoadmapStats struct {
	RoadmapID       string               `json:"roadmap_id"`
	OverallProgress float64              `json:"overall_progress"`
	CompletionRate  float64              `json:"completion_rate"`
	CurrentLevel    int                  `json:"current_level"`
	CurrentModule   string               `json:"current_module"`
	TotalTimeSpent  int64                `json:"total_time_spent"`
	Levels          []LevelStats         `json:"levels"`
	Achievements    []domain.Achievement `json:"achievements"`
	NextModule      *domain.NextModule   `json:"next_module,omitempty"`
}

// UserAnalytics aggregates progress across all of a user's roadmaps.
type UserAnalytics struct {
	TotalRoadmaps          int             `json:"total_roadmaps"`
	AverageProgress        float64         `json:"average_progress"`
	TotalTimeSpent         int64           `json:"total_time_spent"`
	AverageLevelTime       float64         `json:"average_level_time"`
	CompletionRate         float64         `json:"completion_rate"`
	TotalAchievements      int             `json:"total_achievements"`
	RecentActivity         *time.Time      `json:"recent_activity,omitempty"`
	DifficultyDistribution map[string]int  `json:"difficulty_distribution"`
}

// ProgressService coordinates progress mutations and coalesced derived reads.
type ProgressService struct {
	DB    *gorm.DB
	Cache *cache.Coalescer

	// MaxAttempts caps the Fetch->Write retry loop; 0 means the default of 3.
	MaxAttempts int
	// MaxNoteRunes caps stored user notes by rune length; 0 disables the cap.
	MaxNoteRunes int
}

// NewProgressService constructs a ProgressService with the default retry budget.
func NewProgressService(db *gorm.DB, c *cache.Coalescer) *ProgressService {
	return &ProgressService{
		DB:          db,
		Cache:       c,
		MaxAttempts: defaultMaxAttempts,
	}
}

func (s *ProgressService) attempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return defaultMaxAttempts
}

// UpdateModuleProgress applies one module-completion update to the roadmap
// owned by userID. On success it returns the updated module snapshot, the new
// level and overall progress, the next incomplete module and any newly earned
// achievements.
//
// Concurrency: two racing updates on the same roadmap are serialized by the
// version-guarded write, not by an in-process mutex. The loser re-reads the
// newer aggregate and reapplies its change; after MaxAttempts lost races the
// call fails with ErrConflict.
func (s *ProgressService) UpdateModuleProgress(ctx context.Context, userID, roadmapID string, levelID int, moduleID string, in ModuleUpdate) (*ProgressResult, error) {
	tr := otel.Tracer("services/ProgressService")
	ctx, span := tr.Start(ctx, "UpdateModuleProgress",
		trace.WithAttributes(
			attribute.String("roadmap.id", roadmapID),
			attribute.String("user.id", userID),
			attribute.Int("level.id", levelID),
			attribute.String("module.id", moduleID),
		),
	)
	defer span.End()

	if in.TimeSpent < 0 {
		return nil, ErrNegativeTime
	}
	if in.Notes != nil && s.MaxNoteRunes > 0 && utf8.RuneCountInString(*in.Notes) > s.MaxNoteRunes {
		clipped := string([]rune(*in.Notes)[:s.MaxNoteRunes])
		in.Notes = &clipped
	}

	var result *ProgressResult
	for attempt := 1; ; attempt++ {
		res, err := s.applyOnce(ctx, userID, roadmapID, levelID, moduleID, in)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt))
			result = res
			break
		}
		if !errors.Is(err, repo.ErrVersionConflict) {
			return nil, err
		}
		if attempt >= s.attempts() {
			log.Warn().
				Str("roadmap_id", roadmapID).
				Str("user_id", userID).
				Int("attempts", attempt).
				Msg("progress update lost version race, retries exhausted")
			return nil, ErrConflict
		}
		log.Debug().
			Str("roadmap_id", roadmapID).
			Int("attempt", attempt).
			Msg("progress update conflict, refetching")
	}

	// Best-effort cache coherence: drop every derived view of this aggregate
	// so the next read recomputes from the just-written state.
	if s.Cache != nil {
		s.Cache.Invalidate(
			cache.RoadmapKey(userID, roadmapID),
			cache.UserRoadmapsKey(userID),
			cache.ProgressKey(userID, roadmapID),
			cache.AnalyticsKey(userID),
		)
	}
	return result, nil
}

// applyOnce runs a single Fetch -> Validate -> Derive -> ConditionalWrite pass.
func (s *ProgressService) applyOnce(ctx context.Context, userID, roadmapID string, levelID int, moduleID string, in ModuleUpdate) (*ProgressResult, error) {
	// Fetch
	rm, err := repo.GetRoadmap(ctx, s.DB, roadmapID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoadmapNotFound
		}
		return nil, err
	}

	// Validate: the identifiers are path parameters addressing existing
	// curriculum nodes, so absence is NotFound rather than a validation error.
	level := rm.FindLevel(levelID)
	if level == nil {
		return nil, ErrLevelNotFound
	}
	mod := level.FindModule(moduleID)
	if mod == nil {
		return nil, ErrModuleNotFound
	}

	// Derive. The flag is authoritative in both directions: completed=false
	// on a completed module reverts it to in_progress. TimeSpent is the
	// client's running total and replaces the stored value. A module's
	// CompletedAt, once set, survives the revert.
	now := time.Now().UTC()
	if in.Completed {
		mod.CompletionStatus = domain.StatusCompleted
		if mod.CompletedAt == nil {
			mod.CompletedAt = &now
		}
	} else {
		mod.CompletionStatus = domain.StatusInProgress
	}
	mod.TimeSpent = in.TimeSpent
	mod.LastAccessed = now
	if in.Notes != nil {
		mod.UserNotes = strings.TrimSpace(*in.Notes)
	}

	deriveProgress(rm, now)

	earned := EvaluateAchievements(rm, rm.EarnedTypes(), now)
	rm.Achievements = append(rm.Achievements, earned...)
	rm.LastActivity = now

	// ConditionalWrite
	if err := repo.UpdateRoadmapGuarded(ctx, s.DB, rm); err != nil {
		return nil, err
	}

	return &ProgressResult{
		Module:          *mod,
		LevelProgress:   level.Progress,
		OverallProgress: rm.OverallProgress,
		NextModule:      rm.NextIncompleteModule(),
		NewAchievements: earned,
		Version:         rm.Version,
	}, nil
}

// deriveProgress recomputes every derived field of the aggregate from its
// module state. Level progress is completed/total modules, overall progress
// is the mean of level progress values, and completion rate is the share of
// levels with CompletedAt set. A level's CompletedAt is set once, the first
// time its progress reaches 100, and survives later status reverts.
func deriveProgress(rm *domain.Roadmap, now time.Time) {
	var (
		progressSum float64
		totalTime   int64
	)
	for i := range rm.Levels {
		lv := &rm.Levels[i]

		completed := 0
		var levelTime int64
		for j := range lv.Modules {
			if lv.Modules[j].CompletionStatus == domain.StatusCompleted {
				completed++
			}
			levelTime += lv.Modules[j].TimeSpent
		}

		if n := len(lv.Modules); n > 0 {
			lv.Progress = float64(completed) / float64(n) * 100
			lv.AverageModuleTime = float64(levelTime) / float64(n)
		} else {
			lv.Progress = 0
			lv.AverageModuleTime = 0
		}
		lv.TotalTimeSpent = levelTime

		if lv.Progress >= 100 && lv.CompletedAt == nil {
			lv.CompletedAt = &now
		}

		progressSum += lv.Progress
		totalTime += levelTime
	}

	if n := len(rm.Levels); n > 0 {
		rm.OverallProgress = progressSum / float64(n)
		rm.CompletionRate = float64(rm.CompletedLevels()) / float64(n) * 100
		rm.AverageLevelTime = float64(totalTime) / float64(n)
	} else {
		rm.OverallProgress = 0
		rm.CompletionRate = 0
		rm.AverageLevelTime = 0
	}
	rm.TotalTimeSpent = totalTime

	if next := rm.NextIncompleteModule(); next != nil {
		rm.CurrentLevel = next.LevelID
		rm.CurrentModule = next.ModuleID
	}
}

// GetStats returns the derived statistics projection for one roadmap, served
// through the coalescer under the progress cache key. Foreign roadmaps are
// NotFound, never another owner's data.
func (s *ProgressService) GetStats(ctx context.Context, userID, roadmapID string) (*RoadmapStats, error) {
	tr := otel.Tracer("services/ProgressService")
	ctx, span := tr.Start(ctx, "GetStats",
		trace.WithAttributes(
			attribute.String("roadmap.id", roadmapID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	compute := func(ctx context.Context) (*RoadmapStats, error) {
		rm, err := repo.GetRoadmap(ctx, s.DB, roadmapID, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrRoadmapNotFound
			}
			return nil, err
		}
		return buildStats(rm), nil
	}
	if s.Cache == nil {
		return compute(ctx)
	}
	return cache.GetOrCompute(ctx, s.Cache, cache.ProgressKey(userID, roadmapID), cache.TTLProgress, compute)
}

// buildStats projects the aggregate into its stats shape. Counts are
// recomputed from module completion state rather than trusted from the
// stored derived columns, and the headline figure is module-weighted:
// completed modules over total modules, across all levels. That differs
// from the stored OverallProgress, which is the unweighted mean of level
// percentages, whenever levels are uneven.
func buildStats(rm *domain.Roadmap) *RoadmapStats {
	levels := make([]LevelStats, 0, len(rm.Levels))
	var completedModules, totalModules int
	for i := range rm.Levels {
		lv := &rm.Levels[i]
		completed := 0
		for j := range lv.Modules {
			if lv.Modules[j].CompletionStatus == domain.StatusCompleted {
				completed++
			}
		}
		completedModules += completed
		totalModules += len(lv.Modules)
		levels = append(levels, LevelStats{
			LevelID:          lv.LevelID,
			Title:            lv.Title,
			Progress:         lv.Progress,
			CompletedModules: completed,
			TotalModules:     len(lv.Modules),
			TotalTimeSpent:   lv.TotalTimeSpent,
			CompletedAt:      lv.CompletedAt,
		})
	}
	var overall float64
	if totalModules > 0 {
		overall = float64(completedModules) / float64(totalModules) * 100
	}
	return &RoadmapStats{
		RoadmapID:       rm.ID,
		OverallProgress: overall,
		CompletionRate:  rm.CompletionRate,
		CurrentLevel:    rm.CurrentLevel,
		CurrentModule:   rm.CurrentModule,
		TotalTimeSpent:  rm.TotalTimeSpent,
		Levels:          levels,
		Achievements:    rm.Achievements,
		NextModule:      rm.NextIncompleteModule(),
	}
}

// GetAnalytics returns the cross-roadmap aggregate for a user, served through
// the coalescer under the analytics cache key.
func (s *ProgressService) GetAnalytics(ctx context.Context, userID string) (*UserAnalytics, error) {
	tr := otel.Tracer("services/ProgressService")
	ctx, span := tr.Start(ctx, "GetAnalytics",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	compute := func(ctx context.Context) (*UserAnalytics, error) {
		roadmaps, err := repo.ListRoadmaps(ctx, s.DB, userID)
		if err != nil {
			return nil, err
		}
		return buildAnalytics(roadmaps), nil
	}
	if s.Cache == nil {
		return compute(ctx)
	}
	return cache.GetOrCompute(ctx, s.Cache, cache.AnalyticsKey(userID), cache.TTLAnalytics, compute)
}

func buildAnalytics(roadmaps []domain.Roadmap) *UserAnalytics {
	out := &UserAnalytics{
		TotalRoadmaps:          len(roadmaps),
		DifficultyDistribution: make(map[string]int),
	}
	if len(roadmaps) == 0 {
		return out
	}

	var (
		progressSum   float64
		levelTimeSum  float64
		completionSum float64
	)
	for i := range roadmaps {
		rm := &roadmaps[i]
		progressSum += rm.OverallProgress
		completionSum += rm.CompletionRate
		levelTimeSum += rm.AverageLevelTime
		out.TotalTimeSpent += rm.TotalTimeSpent
		out.TotalAchievements += len(rm.Achievements)
		out.DifficultyDistribution[rm.Difficulty]++
		if out.RecentActivity == nil || rm.LastActivity.After(*out.RecentActivity) {
			t := rm.LastActivity
			out.RecentActivity = &t
		}
	}
	n := float64(len(roadmaps))
	out.AverageProgress = progressSum / n
	out.AverageLevelTime = levelTimeSum / n
	out.CompletionRate = completionSum / n
	return out
}
