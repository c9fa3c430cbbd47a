// Package services – Achievement evaluation
//
// This file implements the milestone rules that run after every progress
// derivation. Evaluation is a pure function of aggregate state: it never
// mutates the roadmap and never touches the store, so the rules are trivially
// testable and safe to re-run inside the mutator's retry loop.
package services

import (
	"fmt"
	"math"
	"time"

	"github.com/tracklane/go-roadmap-backend/internal/domain"
)

// Achievement type identifiers. Each type is earned at most once per roadmap.
const (
	AchievementFirstModule = "first_module"
	AchievementFirstLevel  = "first_level"
	AchievementProgress25  = "progress_25"
	AchievementProgress50  = "progress_50"
	AchievementProgress75  = "progress_75"
	AchievementProgress100 = "progress_100"
)

var progressMilestones = []struct {
	threshold float64
	typ       string
	title     string
}{
	{25, AchievementProgress25, "Quarter Way There"},
	{50, AchievementProgress50, "Halfway Point"},
	{75, AchievementProgress75, "Almost There"},
	{100, AchievementProgress100, "Roadmap Complete"},
}

// EvaluateAchievements derives the milestones newly earned by the aggregate's
// current state. earned is the set of achievement types already on the
// roadmap; types present there are never emitted again, which makes the
// achievement list a set-by-type rather than an append-only log.
//
// Rules, evaluated against the post-derivation aggregate:
//   - exactly one completed module overall emits "first_module"
//   - exactly one level with CompletedAt set emits "first_level"
//   - each milestone in {25, 50, 75, 100} with floor(OverallProgress) at or
//     beyond it emits the matching progress achievement
func EvaluateAchievements(r *domain.Roadmap, earned map[string]struct{}, now time.Time) []domain.Achievement {
	var out []domain.Achievement
	emit := func(typ, title, desc string) {
		if _, ok := earned[typ]; ok {
			return
		}
		out = append(out, domain.Achievement{
			Type:        typ,
			Title:       title,
			Description: desc,
			EarnedAt:    now,
		})
	}

	if r.CompletedModules() == 1 {
		emit(AchievementFirstModule, "First Steps", "Completed your first module")
	}
	if r.CompletedLevels() == 1 {
		emit(AchievementFirstLevel, "Level Up", "Completed your first level")
	}

	reached := math.Floor(r.OverallProgress)
	for _, m := range progressMilestones {
		if reached >= m.threshold {
			emit(m.typ, m.title, fmt.Sprintf("Reached %.0f%% overall progress", m.threshold))
		}
	}
	return out
}
