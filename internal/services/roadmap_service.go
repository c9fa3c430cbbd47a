// Package services – RoadmapService
//
// This file implements the RoadmapService, which manages the lifecycle of
// roadmap aggregates. It validates and normalizes titles, enforces ownership
// rules, and coordinates repository operations for creating, listing (with
// pagination), updating metadata and deleting roadmaps. Reads are served
// through the request coalescer; every write invalidates the aggregate's
// cache keys so readers never observe a deleted or renamed roadmap from a
// stale entry.
//
// Service-level errors (e.g., ErrRoadmapNotFound) are returned for
// predictable cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tracklane/go-roadmap-backend/internal/cache"
	"github.com/tracklane/go-roadmap-backend/internal/domain"
	"github.com/tracklane/go-roadmap-backend/internal/repo"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NewRoadmapInput is the validated payload for roadmap creation.
type NewRoadmapInput struct {
	Title       string
	Description string
	Difficulty  string
	Levels      []domain.Level
}

// RoadmapService provides roadmap-level operations such as creating,
// listing, and updating roadmap metadata. It enforces title rules
// and ensures ownership constraints.
type RoadmapService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Cache serves coalesced reads and receives invalidations on writes.
	Cache *cache.Coalescer

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
	// TitleLocale selects the casing rules for title normalization.
	TitleLocale language.Tag
}

// NewRoadmapService constructs a RoadmapService with sane defaults for title handling.
func NewRoadmapService(db *gorm.DB, c *cache.Coalescer) *RoadmapService {
	return &RoadmapService{
		DB:          db,
		Cache:       c,
		TitleMaxLen: 120,
		TitleLocale: language.English,
	}
}

// Create inserts a new roadmap owned by userID. Levels must be present and
// each must carry at least one module; new modules start as not_started and
// the derived fields are zeroed regardless of what the caller sent.
func (s *RoadmapService) Create(ctx context.Context, userID string, in NewRoadmapInput) (*domain.Roadmap, error) {
	title := s.normalizeTitle(in.Title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if len(in.Levels) == 0 {
		return nil, ErrNoLevels
	}
	for i := range in.Levels {
		if len(in.Levels[i].Modules) == 0 {
			return nil, ErrNoLevels
		}
	}

	difficulty := in.Difficulty
	switch difficulty {
	case "":
		difficulty = domain.DifficultyBeginner
	case domain.DifficultyBeginner, domain.DifficultyIntermediate, domain.DifficultyAdvanced:
	default:
		return nil, ErrInvalidTier
	}

	levels := make(domain.LevelList, len(in.Levels))
	copy(levels, in.Levels)
	for i := range levels {
		lv := &levels[i]
		lv.Progress = 0
		lv.TotalTimeSpent = 0
		lv.AverageModuleTime = 0
		lv.CompletedAt = nil
		for j := range lv.Modules {
			m := &lv.Modules[j]
			m.CompletionStatus = domain.StatusNotStarted
			m.TimeSpent = 0
			m.CompletedAt = nil
		}
	}

	rm := &domain.Roadmap{
		UserID:        userID,
		Title:         s.clip(title),
		Description:   strings.TrimSpace(in.Description),
		Difficulty:    difficulty,
		Levels:        levels,
		CurrentLevel:  levels[0].LevelID,
		CurrentModule: levels[0].Modules[0].ModuleID,
	}
	if err := repo.CreateRoadmap(ctx, s.DB, rm); err != nil {
		return nil, err
	}
	if s.Cache != nil {
		s.Cache.Invalidate(cache.UserRoadmapsKey(userID), cache.AnalyticsKey(userID))
	}
	return rm, nil
}

// Get fetches a single roadmap owned by userID via the coalesced roadmap key.
func (s *RoadmapService) Get(ctx context.Context, userID, roadmapID string) (*domain.Roadmap, error) {
	compute := func(ctx context.Context) (*domain.Roadmap, error) {
		rm, err := repo.GetRoadmap(ctx, s.DB, roadmapID, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrRoadmapNotFound
			}
			return nil, err
		}
		return rm, nil
	}
	if s.Cache == nil {
		return compute(ctx)
	}
	return cache.GetOrCompute(ctx, s.Cache, cache.RoadmapKey(userID, roadmapID), cache.TTLRoadmap, compute)
}

// List returns all roadmaps for a user, cached under the user list key.
// Prefer ListPage for scalability on large datasets.
func (s *RoadmapService) List(ctx context.Context, userID string) ([]domain.Roadmap, error) {
	compute := func(ctx context.Context) ([]domain.Roadmap, error) {
		return repo.ListRoadmaps(ctx, s.DB, userID)
	}
	if s.Cache == nil {
		return compute(ctx)
	}
	return cache.GetOrCompute(ctx, s.Cache, cache.UserRoadmapsKey(userID), cache.TTLUserRoadmaps, compute)
}

// ListPage returns a page of roadmaps for a user (paginated, uncached).
// It applies defaults for invalid page/pageSize and returns total count.
func (s *RoadmapService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Roadmap, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountRoadmaps(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Roadmap{}, 0, nil
	}

	items, err := repo.ListRoadmapsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// UpdateMeta updates a roadmap's title, description or difficulty, ensuring
// it belongs to the given user, then invalidates the aggregate's cache keys.
// Nil pointers leave the corresponding field untouched.
func (s *RoadmapService) UpdateMeta(ctx context.Context, userID, roadmapID string, title, description, difficulty *string) error {
	fields := map[string]any{}
	if title != nil {
		t := s.normalizeTitle(*title)
		if t == "" {
			return ErrEmptyTitle
		}
		fields["title"] = s.clip(t)
	}
	if description != nil {
		fields["description"] = strings.TrimSpace(*description)
	}
	if difficulty != nil {
		switch *difficulty {
		case domain.DifficultyBeginner, domain.DifficultyIntermediate, domain.DifficultyAdvanced:
			fields["difficulty"] = *difficulty
		default:
			return ErrInvalidTier
		}
	}
	if len(fields) == 0 {
		return nil
	}

	if err := repo.UpdateRoadmapMeta(ctx, s.DB, roadmapID, userID, fields); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoadmapNotFound
		}
		return err
	}
	if s.Cache != nil {
		s.Cache.Invalidate(cache.RoadmapKey(userID, roadmapID), cache.UserRoadmapsKey(userID))
	}
	return nil
}

// Delete removes a roadmap owned by userID and drops every cache entry keyed
// by the aggregate: projection, user list, progress stats and analytics.
func (s *RoadmapService) Delete(ctx context.Context, userID, roadmapID string) error {
	if err := repo.DeleteRoadmap(ctx, s.DB, roadmapID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoadmapNotFound
		}
		return err
	}
	if s.Cache != nil {
		s.Cache.Invalidate(
			cache.RoadmapKey(userID, roadmapID),
			cache.UserRoadmapsKey(userID),
			cache.ProgressKey(userID, roadmapID),
			cache.AnalyticsKey(userID),
		)
	}
	return nil
}

// clip truncates a roadmap title to the configured maximum rune length.
func (s *RoadmapService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// normalizeTitle trims whitespace, collapses runs of spaces and title-cases
// an all-lowercase title using the configured locale.
func (s *RoadmapService) normalizeTitle(t string) string {
	t = whitespaceRE.ReplaceAllString(strings.TrimSpace(t), " ")
	if t == "" {
		return ""
	}
	if t == strings.ToLower(t) {
		t = cases.Title(s.localeOrDefault()).String(t)
	}
	return t
}

func (s *RoadmapService) localeOrDefault() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
