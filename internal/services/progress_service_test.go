package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tracklane/go-roadmap-backend/internal/cache"
	"github.com/tracklane/go-roadmap-backend/internal/domain"
	"github.com/tracklane/go-roadmap-backend/internal/repo"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Roadmap{}, &domain.Resource{}, &domain.ResourceFeedback{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newCoalescer(t *testing.T) *cache.Coalescer {
	t.Helper()
	store := cache.NewStore(0)
	t.Cleanup(store.Stop)
	return cache.NewCoalescer(store, time.Minute, time.Millisecond)
}

// oneLevelTwoModules seeds the aggregate from the first concrete scenario:
// one level with two not_started modules.
func oneLevelTwoModules(t *testing.T, db *gorm.DB, userID string) *domain.Roadmap {
	t.Helper()
	rm := &domain.Roadmap{
		UserID: userID,
		Title:  "Go Backend Path",
		Levels: domain.LevelList{
			{
				LevelID: 1,
				Title:   "Basics",
				Modules: []domain.Module{
					{ModuleID: "1.1", Title: "Syntax", CompletionStatus: domain.StatusNotStarted},
					{ModuleID: "1.2", Title: "Tooling", CompletionStatus: domain.StatusNotStarted},
				},
			},
		},
		CurrentLevel:  1,
		CurrentModule: "1.1",
	}
	if err := repo.CreateRoadmap(context.Background(), db, rm); err != nil {
		t.Fatalf("seed roadmap: %v", err)
	}
	return rm
}

func TestUpdateModuleProgress_HalfwayThroughLevel(t *testing.T) {
	db := newServiceDB(t)
	svc := NewProgressService(db, newCoalescer(t))
	rm := oneLevelTwoModules(t, db, "u1")

	res, err := svc.UpdateModuleProgress(context.Background(), "u1", rm.ID, 1, "1.1", ModuleUpdate{
		Completed: true,
		TimeSpent: 120,
	})
	if err != nil {
		t.Fatalf("UpdateModuleProgress: %v", err)
	}

	if res.Module.CompletionStatus != domain.StatusCompleted {
		t.Fatalf("module status = %q", res.Module.CompletionStatus)
	}
	if res.Module.TimeSpent != 120 {
		t.Fatalf("module time = %d, want 120", res.Module.TimeSpent)
	}
	if res.Module.CompletedAt == nil {
		t.Fatalf("module CompletedAt not set")
	}
	if res.LevelProgress != 50 {
		t.Fatalf("level progress = %v, want 50", res.LevelProgress)
	}
	if res.OverallProgress != 50 {
		t.Fatalf("overall progress = %v, want 50", res.OverallProgress)
	}
	if res.NextModule == nil || res.NextModule.ModuleID != "1.2" {
		t.Fatalf("next module = %+v, want 1.2", res.NextModule)
	}

	// Exactly one completed module, no completed level.
	got := types(res.NewAchievements)
	if !got[AchievementFirstModule] {
		t.Fatalf("expected first_module, got %v", got)
	}
	if got[AchievementFirstLevel] || got[AchievementProgress100] {
		t.Fatalf("level-completion achievements too early: %v", got)
	}

	// The stored aggregate carries the derived state.
	stored, _ := repo.GetRoadmap(context.Background(), db, rm.ID, "u1")
	if stored.Version != 2 {
		t.Fatalf("stored version = %d, want 2", stored.Version)
	}
	if stored.Levels[0].CompletedAt != nil {
		t.Fatalf("level CompletedAt set at 50%%")
	}
	if stored.CurrentModule != "1.2" {
		t.Fatalf("current module = %q, want 1.2", stored.CurrentModule)
	}
}

func TestUpdateModuleProgress_CompletingLevelSetsCompletedAtOnce(t *testing.T) {
	db := newServiceDB(t)
	svc := NewProgressService(db, newCoalescer(t))
	rm := oneLevelTwoModules(t, db, "u1")

	if _, err := svc.UpdateModuleProgress(context.Background(), "u1", rm.ID, 1, "1.1", ModuleUpdate{Completed: true, TimeSpent: 120}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	res, err := svc.UpdateModuleProgress(context.Background(), "u1", rm.ID, 1, "1.2", ModuleUpdate{Completed: true, TimeSpent: 60})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}

	if res.LevelProgress != 100 || res.OverallProgress != 100 {
		t.Fatalf("progress = (%v, %v), want (100, 100)", res.LevelProgress, res.OverallProgress)
	}
	got := types(res.NewAchievements)
	if !got[AchievementFirstLevel] || !got[AchievementProgress100] {
		t.Fatalf("expected first_level and progress_100, got %v", got)
	}
	if res.NextModule != nil {
		t.Fatalf("complete roadmap should have no next module: %+v", res.NextModule)
	}

	stored, _ := repo.GetRoadmap(context.Background(), db, rm.ID, "u1")
	if stored.Levels[0].CompletedAt == nil {
		t.Fatalf("level CompletedAt not set at 100%%")
	}
	firstCompleted := *stored.Levels[0].CompletedAt
	if stored.CompletionRate != 100 {
		t.Fatalf("completion rate = %v, want 100", stored.CompletionRate)
	}
	if stored.TotalTimeSpent != 180 {
		t.Fatalf("total time = %d, want 180", stored.TotalTimeSpent)
	}

	// Reverting a module keeps the level's CompletedAt immutable.
	if _, err := svc.UpdateModuleProgress(context.Background(), "u1", rm.ID, 1, "1.1", ModuleUpdate{Completed: false}); err != nil {
		t.Fatalf("revert update: %v", err)
	}
	stored, _ = repo.GetRoadmap(context.Background(), db, rm.ID, "u1")
	if stored.Levels[0].CompletedAt == nil || !stored.Levels[0].CompletedAt.Equal(firstCompleted) {
		t.Fatalf("level CompletedAt changed after revert: %v vs %v", stored.Levels[0].CompletedAt, firstCompleted)
	}
}

func TestUpdateModuleProgress_OverallIsMeanOfLevels(t *testing.T) {
	db := newServiceDB(t)
	svc := NewProgressService(db, newCoalescer(t))

	rm := &domain.Roadmap{
		UserID: "u1",
		Title:  "Two Level Path",
		Levels: domain.LevelList{
			{LevelID: 1, Modules: []domain.Module{
				{ModuleID: "1.1", CompletionStatus: domain.StatusNotStarted},
				{ModuleID: "1.2", CompletionStatus: domain.StatusNotStarted},
			}},
			{LevelID: 2, Modules: []domain.Module{
				{ModuleID: "2.1", CompletionStatus: domain.StatusNotStarted},
			}},
		},
	}
	if err := repo.CreateRoadmap(context.Background(), db, rm); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := svc.UpdateModuleProgress(context.Background(), "u1", rm.ID, 1, "1.1", ModuleUpdate{Completed: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	// Level 1 at 50, level 2 at 0 so mean is 25.
	if math.Abs(res.OverallProgress-25) > 1e-9 {
		t.Fatalf("overall progress = %v, want 25", res.OverallProgress)
	}
}

func TestUpdateModuleProgress_RevertReplacesStatusAndTime(t *testing.T) {
	db := newServiceDB(t)
	svc := NewProgressService(db, newCoalescer(t))
	rm := oneLevelTwoModules(t, db, "u1")

	if _, err := svc.UpdateModuleProgress(context.Background(), "u1", rm.ID, 1, "1.1", ModuleUpdate{Completed: true, TimeSpent: 10}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// completed=false takes the module back to in_progress, and time_spent
	// is the client's running total, not a delta.
	res, err := svc.UpdateModuleProgress(context.Background(), "u1", rm.ID, 1, "1.1", ModuleUpdate{Completed: false, TimeSpent: 7})
	if err != nil {
		t.Fatalf("revert update: %v", err)
	}
	if res.Module.CompletionStatus != domain.StatusInProgress {
		t.Fatalf("status after revert = %q, want %q", res.Module.CompletionStatus, domain.StatusInProgress)
	}
	if res.Module.TimeSpent != 7 {
		t.Fatalf("time after revert = %d, want 7", res.Module.TimeSpent)
	}
	// The module's first completion timestamp is kept through the revert.
	if res.Module.CompletedAt == nil {
		t.Fatalf("module CompletedAt cleared by revert")
	}
	if res.LevelProgress != 0 {
		t.Fatalf("level progress after revert = %v, want 0", res.LevelProgress)
	}

	stored, _ := repo.GetRoadmap(context.Background(), db, rm.ID, "u1")
	if stored.Levels[0].Modules[0].CompletionStatus != domain.StatusInProgress {
		t.Fatalf("stored status = %q", stored.Levels[0].Modules[0].CompletionStatus)
	}
	if stored.TotalTimeSpent != 7 {
		t.Fatalf("stored total time = %d, want 7", stored.TotalTimeSpent)
	}
}

func TestUpdateModuleProgress_NotFoundVariants(t *testing.T) {
	db := newServiceDB(t)
	svc := NewProgressService(db, newCoalescer(t))
	rm := oneLevelTwoModules(t, db, "owner")

	cases := []struct {
		name    string
		userID  string
		id      string
		level   int
		module  string
		wantErr error
	}{
		{"missing roadmap", "owner", "missing", 1, "1.1", ErrRoadmapNotFound},
		{"foreign owner", "intruder", rm.ID, 1, "1.1", ErrRoadmapNotFound},
		{"missing level", "owner", rm.ID, 9, "1.1", ErrLevelNotFound},
		{"missing module", "owner", rm.ID, 1, "9.9", ErrModuleNotFound},
	}
	for _, tc := range cases {
		_, err := svc.UpdateModuleProgress(context.Background(), tc.userID, tc.id, tc.level, tc.module, ModuleUpdate{Completed: true})
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestUpdateModuleProgress_NegativeTimeRejected(t *testing.T) {
	db := newServiceDB(t)
	svc := NewProgressService(db, newCoalescer(t))
	rm := oneLevelTwoModules(t, db, "u1")

	if _, err := svc.UpdateModuleProgress(context.Background(), "u1", rm.ID, 1, "1.1", ModuleUpdate{TimeSpent: -5}); !errors.Is(err, ErrNegativeTime) {
		t.Fatalf("err = %v, want ErrNegativeTime", err)
	}
}

func TestUpdateModuleProgress_VersionStrictlyIncreases(t *testing.T) {
	db := newServiceDB(t)
	svc := NewProgressService(db, newCoalescer(t))
	rm := oneLevelTwoModules(t, db, "u1")

	prev := rm.Version
	for i := 0; i < 4; i++ {
		res, err := svc.UpdateModuleProgress(context.Background(), "u1", rm.ID, 1, "1.1", ModuleUpdate{TimeSpent: 10})
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if res.Version != prev+1 {
			t.Fatalf("version jumped from %d to %d", prev, res.Version)
		}
		prev = res.Version
	}
}

func TestUpdateModuleProgress_ConflictRetriesAgainstNewerVersion(t *testing.T) {
	db := newServiceDB(t)
	svc := NewProgressService(db, newCoalescer(t))
	rm := oneLevelTwoModules(t, db, "u1")

	// A foreign writer bumps the version between this service's reads by
	// registering a gorm callback that fires on the first guarded update.
	interfered := false
	err := db.Callback().Update().Before("gorm:update").Register("test:interfere", func(tx *gorm.DB) {
		if interfered || tx.Statement.Table != "roadmaps" {
			return
		}
		interfered = true
		// Raw bump so this callback does not recurse.
		tx.Session(&gorm.Session{NewDB: true}).Exec("UPDATE roadmaps SET version = version + 1 WHERE id = ?", rm.ID)
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	res, uerr := svc.UpdateModuleProgress(context.Background(), "u1", rm.ID, 1, "1.1", ModuleUpdate{Completed: true, TimeSpent: 30})
	if uerr != nil {
		t.Fatalf("update should win on retry: %v", uerr)
	}
	if !interfered {
		t.Fatalf("interference never fired")
	}
	// Seed version 1, foreign bump to 2, retry reads 2 and writes 3.
	if res.Version != 3 {
		t.Fatalf("version = %d, want 3", res.Version)
	}
	stored, _ := repo.GetRoadmap(context.Background(), db, rm.ID, "u1")
	if stored.Levels[0].Modules[0].CompletionStatus != domain.StatusCompleted {
		t.Fatalf("update lost despite retry: %+v", stored.Levels[0].Modules[0])
	}
}

func TestUpdateModuleProgress_ExhaustedRetriesSurfaceConflict(t *testing.T) {
	db := newServiceDB(t)
	svc := NewProgressService(db, newCoalescer(t))
	svc.MaxAttempts = 2
	rm := oneLevelTwoModules(t, db, "u1")

	// Interfere on every guarded write so the service can never win.
	err := db.Callback().Update().Before("gorm:update").Register("test:always-interfere", func(tx *gorm.DB) {
		if tx.Statement.Table != "roadmaps" {
			return
		}
		tx.Session(&gorm.Session{NewDB: true}).Exec("UPDATE roadmaps SET version = version + 1 WHERE id = ?", rm.ID)
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	_, uerr := svc.UpdateModuleProgress(context.Background(), "u1", rm.ID, 1, "1.1", ModuleUpdate{Completed: true})
	if !errors.Is(uerr, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", uerr)
	}
}

func TestGetStats_ProjectionAndOwnership(t *testing.T) {
	db := newServiceDB(t)
	svc := NewProgressService(db, newCoalescer(t))
	rm := oneLevelTwoModules(t, db, "u1")

	if _, err := svc.UpdateModuleProgress(context.Background(), "u1", rm.ID, 1, "1.1", ModuleUpdate{Completed: true, TimeSpent: 45}); err != nil {
		t.Fatalf("update: %v", err)
	}

	stats, err := svc.GetStats(context.Background(), "u1", rm.ID)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.OverallProgress != 50 || stats.CurrentModule != "1.2" {
		t.Fatalf("stats = %+v", stats)
	}
	if len(stats.Levels) != 1 || stats.Levels[0].CompletedModules != 1 || stats.Levels[0].TotalModules != 2 {
		t.Fatalf("level breakdown = %+v", stats.Levels)
	}
	if stats.TotalTimeSpent != 45 {
		t.Fatalf("time = %d, want 45", stats.TotalTimeSpent)
	}

	// Foreign owner gets NotFound, never another owner's data.
	if _, err := svc.GetStats(context.Background(), "intruder", rm.ID); !errors.Is(err, ErrRoadmapNotFound) {
		t.Fatalf("foreign stats err = %v, want ErrRoadmapNotFound", err)
	}
}

func TestGetStats_OverallIsModuleWeighted(t *testing.T) {
	db := newServiceDB(t)
	svc := NewProgressService(db, newCoalescer(t))

	// Uneven levels: level 1 has one module, level 2 has three. Completing
	// the single level-1 module puts the level mean at 50 but the
	// module-weighted figure at 25; stats must report the latter.
	rm := &domain.Roadmap{
		UserID: "u1",
		Title:  "Uneven Path",
		Levels: domain.LevelList{
			{LevelID: 1, Modules: []domain.Module{
				{ModuleID: "1.1", CompletionStatus: domain.StatusNotStarted},
			}},
			{LevelID: 2, Modules: []domain.Module{
				{ModuleID: "2.1", CompletionStatus: domain.StatusNotStarted},
				{ModuleID: "2.2", CompletionStatus: domain.StatusNotStarted},
				{ModuleID: "2.3", CompletionStatus: domain.StatusNotStarted},
			}},
		},
	}
	if err := repo.CreateRoadmap(context.Background(), db, rm); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.UpdateModuleProgress(context.Background(), "u1", rm.ID, 1, "1.1", ModuleUpdate{Completed: true}); err != nil {
		t.Fatalf("update: %v", err)
	}

	stats, err := svc.GetStats(context.Background(), "u1", rm.ID)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if math.Abs(stats.OverallProgress-25) > 1e-9 {
		t.Fatalf("stats overall progress = %v, want module-weighted 25", stats.OverallProgress)
	}

	// The stored aggregate keeps the level-mean figure the mutation derived.
	stored, _ := repo.GetRoadmap(context.Background(), db, rm.ID, "u1")
	if math.Abs(stored.OverallProgress-50) > 1e-9 {
		t.Fatalf("stored overall progress = %v, want level-mean 50", stored.OverallProgress)
	}
}

func TestGetStats_NeverServesPreMutationCache(t *testing.T) {
	db := newServiceDB(t)
	svc := NewProgressService(db, newCoalescer(t))
	rm := oneLevelTwoModules(t, db, "u1")

	before, err := svc.GetStats(context.Background(), "u1", rm.ID)
	if err != nil || before.OverallProgress != 0 {
		t.Fatalf("pre-mutation stats = (%+v, %v)", before, err)
	}

	if _, err := svc.UpdateModuleProgress(context.Background(), "u1", rm.ID, 1, "1.1", ModuleUpdate{Completed: true}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// The mutation invalidated the progress key, so this read recomputes.
	after, err := svc.GetStats(context.Background(), "u1", rm.ID)
	if err != nil {
		t.Fatalf("post-mutation stats: %v", err)
	}
	if after.OverallProgress != 50 {
		t.Fatalf("stale stats served after mutation: %+v", after)
	}
}

func TestGetAnalytics_AggregatesAcrossRoadmaps(t *testing.T) {
	db := newServiceDB(t)
	svc := NewProgressService(db, newCoalescer(t))

	first := oneLevelTwoModules(t, db, "u1")
	second := &domain.Roadmap{
		UserID:     "u1",
		Title:      "Advanced Path",
		Difficulty: domain.DifficultyAdvanced,
		Levels: domain.LevelList{
			{LevelID: 1, Modules: []domain.Module{{ModuleID: "1.1", CompletionStatus: domain.StatusNotStarted}}},
		},
	}
	if err := repo.CreateRoadmap(context.Background(), db, second); err != nil {
		t.Fatalf("seed second: %v", err)
	}

	if _, err := svc.UpdateModuleProgress(context.Background(), "u1", first.ID, 1, "1.1", ModuleUpdate{Completed: true, TimeSpent: 30}); err != nil {
		t.Fatalf("update: %v", err)
	}

	a, err := svc.GetAnalytics(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetAnalytics: %v", err)
	}
	if a.TotalRoadmaps != 2 {
		t.Fatalf("total roadmaps = %d, want 2", a.TotalRoadmaps)
	}
	// (50 + 0) / 2
	if math.Abs(a.AverageProgress-25) > 1e-9 {
		t.Fatalf("average progress = %v, want 25", a.AverageProgress)
	}
	if a.TotalTimeSpent != 30 {
		t.Fatalf("total time = %d, want 30", a.TotalTimeSpent)
	}
	if a.DifficultyDistribution[domain.DifficultyBeginner] != 1 || a.DifficultyDistribution[domain.DifficultyAdvanced] != 1 {
		t.Fatalf("difficulty distribution = %v", a.DifficultyDistribution)
	}
	if a.RecentActivity == nil {
		t.Fatalf("recent activity missing")
	}

	empty, err := svc.GetAnalytics(context.Background(), "nobody")
	if err != nil || empty.TotalRoadmaps != 0 || empty.RecentActivity != nil {
		t.Fatalf("empty analytics = (%+v, %v)", empty, err)
	}
}
