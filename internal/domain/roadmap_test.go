package domain

import (
	"testing"
	"time"
)

func twoLevelRoadmap() *Roadmap {
	now := time.Now().UTC()
	return &Roadmap{
		ID:         "r1",
		UserID:     "u1",
		Difficulty: DifficultyBeginner,
		Levels: LevelList{
			{
				LevelID: 1,
				Title:   "Basics",
				Modules: []Module{
					{ModuleID: "1.1", Title: "Intro", CompletionStatus: StatusCompleted, CompletedAt: &now},
					{ModuleID: "1.2", Title: "Setup", CompletionStatus: StatusNotStarted},
				},
			},
			{
				LevelID: 2,
				Title:   "Advanced",
				Modules: []Module{
					{ModuleID: "2.1", Title: "Deep dive", CompletionStatus: StatusNotStarted},
				},
			},
		},
	}
}

func TestFindLevelAndModule(t *testing.T) {
	r := twoLevelRoadmap()

	lv := r.FindLevel(2)
	if lv == nil || lv.Title != "Advanced" {
		t.Fatalf("FindLevel(2) = %+v", lv)
	}
	if r.FindLevel(99) != nil {
		t.Fatalf("FindLevel(99) should be nil")
	}

	m := lv.FindModule("2.1")
	if m == nil || m.Title != "Deep dive" {
		t.Fatalf("FindModule(2.1) = %+v", m)
	}
	if lv.FindModule("nope") != nil {
		t.Fatalf("FindModule(nope) should be nil")
	}

	// Pointers alias the aggregate, so mutations stick.
	m.CompletionStatus = StatusInProgress
	if r.Levels[1].Modules[0].CompletionStatus != StatusInProgress {
		t.Fatalf("mutation through FindModule pointer did not reach aggregate")
	}
}

func TestNextIncompleteModule(t *testing.T) {
	r := twoLevelRoadmap()

	next := r.NextIncompleteModule()
	if next == nil || next.LevelID != 1 || next.ModuleID != "1.2" {
		t.Fatalf("next = %+v; want level 1 module 1.2", next)
	}
	if next.Difficulty != DifficultyBeginner {
		t.Fatalf("next.Difficulty = %q", next.Difficulty)
	}

	// Complete everything; next should be nil.
	for i := range r.Levels {
		for j := range r.Levels[i].Modules {
			r.Levels[i].Modules[j].CompletionStatus = StatusCompleted
		}
	}
	if r.NextIncompleteModule() != nil {
		t.Fatalf("expected nil next module for a fully completed roadmap")
	}
}

func TestAggregateCounts(t *testing.T) {
	r := twoLevelRoadmap()

	if got := r.TotalModules(); got != 3 {
		t.Fatalf("TotalModules = %d; want 3", got)
	}
	if got := r.CompletedModules(); got != 1 {
		t.Fatalf("CompletedModules = %d; want 1", got)
	}
	if got := r.CompletedLevels(); got != 0 {
		t.Fatalf("CompletedLevels = %d; want 0", got)
	}

	now := time.Now().UTC()
	r.Levels[0].CompletedAt = &now
	if got := r.CompletedLevels(); got != 1 {
		t.Fatalf("CompletedLevels = %d; want 1", got)
	}
}

func TestEarnedTypes(t *testing.T) {
	r := twoLevelRoadmap()
	r.Achievements = AchievementList{
		{Type: "first_module", Title: "First Steps"},
		{Type: "progress_25", Title: "25% Complete"},
	}
	earned := r.EarnedTypes()
	if len(earned) != 2 {
		t.Fatalf("len(earned) = %d", len(earned))
	}
	if _, ok := earned["first_module"]; !ok {
		t.Fatalf("first_module missing from earned set")
	}
	if _, ok := earned["progress_50"]; ok {
		t.Fatalf("progress_50 unexpectedly earned")
	}
}

func TestLevelListScan_EdgeSources(t *testing.T) {
	var l LevelList
	if err := l.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if err := l.Scan(""); err != nil {
		t.Fatalf("Scan(\"\"): %v", err)
	}
	if err := l.Scan([]byte(`[{"level_id":3,"modules":[]}]`)); err != nil {
		t.Fatalf("Scan(bytes): %v", err)
	}
	if len(l) != 1 || l[0].LevelID != 3 {
		t.Fatalf("decoded = %+v", l)
	}
	if err := l.Scan(42); err == nil {
		t.Fatalf("expected error for unsupported source type")
	}
}

func TestValidResourceType(t *testing.T) {
	for _, ok := range []string{ResourceVideo, ResourceText, ResourceHandsOn, ResourceAudio, ResourceInteractive} {
		if !ValidResourceType(ok) {
			t.Errorf("ValidResourceType(%q) = false", ok)
		}
	}
	if ValidResourceType("podcast") {
		t.Errorf("ValidResourceType(podcast) = true")
	}
}

func TestResourceSearchText(t *testing.T) {
	r := &Resource{Title: "Go basics", Description: "An intro", Tags: StringList{"go", "beginner"}}
	got := r.SearchText()
	want := "Go basics\nAn intro\ngo beginner"
	if got != want {
		t.Fatalf("SearchText = %q; want %q", got, want)
	}
	empty := &Resource{}
	if empty.SearchText() != "" {
		t.Fatalf("empty resource should produce empty search text")
	}
}
