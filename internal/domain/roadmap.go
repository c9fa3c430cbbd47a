// Package domain defines the persistence models for learning roadmaps and
// curriculum resources. These types are mapped with GORM and form the core
// data layer of the application.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Module completion statuses.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Roadmap difficulty tiers.
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// Module is a single unit of study inside a level. CompletedAt is set the
// first time the module reaches "completed" and is never cleared afterwards,
// even if the status later reverts.
type Module struct {
	ModuleID         string     `json:"module_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	CompletionStatus string     `json:"completion_status"`
	TimeSpent        int64      `json:"time_spent"`
	UserNotes        string     `json:"user_notes,omitempty"`
	LastAccessed     time.Time  `json:"last_accessed"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Level groups an ordered sequence of modules. Progress, TotalTimeSpent and
// AverageModuleTime are derived from the modules on every mutation and must
// never be set directly by callers. CompletedAt is set once, the first time
// Progress reaches 100, and is immutable thereafter.
type Level struct {
	LevelID           int        `json:"level_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Modules           []Module   `json:"modules"`
	Progress          float64    `json:"progress"`
	TotalTimeSpent    int64      `json:"total_time_spent"`
	AverageModuleTime float64    `json:"average_module_time"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Achievement is a milestone record earned by a roadmap. A given Type is
// earned at most once per roadmap lifetime.
type Achievement struct {
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	EarnedAt    time.Time `json:"earned_at"`
}

// Roadmap is the owning aggregate: one user's path through a curriculum of
// levels and modules. The whole aggregate is one consistency boundary: the
// nested levels and achievements are serialized into JSON columns so a single
// version-matched UPDATE covers everything.
//
// Version is the sole concurrency token: it increases by exactly 1 on every
// successful mutation. OverallProgress, TotalTimeSpent, AverageLevelTime and
// CompletionRate are derived from child state and never set by callers.
type Roadmap struct {
	ID              string          `json:"id"               gorm:"type:char(36);primaryKey"`
	UserID          string          `json:"user_id"          gorm:"type:varchar(64);not null;index:idx_user_roadmaps"`
	Title           string          `json:"title"            gorm:"type:varchar(255);not null"`
	Description     string          `json:"description"      gorm:"type:text"`
	Difficulty      string          `json:"difficulty"       gorm:"type:varchar(16);not null;default:'beginner';check:difficulty IN ('beginner','intermediate','advanced')"`
	Levels          LevelList       `json:"levels"           gorm:"type:text"`
	CurrentLevel    int             `json:"current_level"    gorm:"not null;default:1"`
	CurrentModule   string          `json:"current_module"   gorm:"type:varchar(64);not null;default:'1.1'"`
	OverallProgress float64         `json:"overall_progress" gorm:"not null;default:0;check:overall_progress BETWEEN 0 AND 100"`
	TotalTimeSpent  int64           `json:"total_time_spent" gorm:"not null;default:0"`
	AverageLevelTime float64        `json:"average_level_time" gorm:"not null;default:0"`
	CompletionRate  float64         `json:"completion_rate"  gorm:"not null;default:0;check:completion_rate BETWEEN 0 AND 100"`
	Achievements    AchievementList `json:"achievements"     gorm:"type:text"`
	Version         int64           `json:"version"          gorm:"not null;default:1"`
	LastActivity    time.Time       `json:"last_activity"    gorm:"index"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `json:"-"                gorm:"index"`
}

// TableName returns the database table name for Roadmap.
func (Roadmap) TableName() string { return "roadmaps" }

// NextModule identifies the next incomplete module in a roadmap, if any.
type NextModule struct {
	LevelID    int    `json:"level_id"`
	ModuleID   string `json:"module_id"`
	Title      string `json:"title"`
	Difficulty string `json:"difficulty"`
}

// FindLevel returns the level with the given id, or nil when absent.
// The returned pointer aliases the aggregate's backing slice so mutations
// through it are visible on the aggregate.
func (r *Roadmap) FindLevel(levelID int) *Level {
	for i := range r.Levels {
		if r.Levels[i].LevelID == levelID {
			return &r.Levels[i]
		}
	}
	return nil
}

// FindModule returns the module with the given id inside the level, or nil.
func (l *Level) FindModule(moduleID string) *Module {
	for i := range l.Modules {
		if l.Modules[i].ModuleID == moduleID {
			return &l.Modules[i]
		}
	}
	return nil
}

// NextIncompleteModule walks levels in order and returns the first module that
// is not yet completed, or nil when the whole roadmap is complete.
func (r *Roadmap) NextIncompleteModule() *NextModule {
	for i := range r.Levels {
		lv := &r.Levels[i]
		for j := range lv.Modules {
			m := &lv.Modules[j]
			if m.CompletionStatus != StatusCompleted {
				return &NextModule{
					LevelID:    lv.LevelID,
					ModuleID:   m.ModuleID,
					Title:      m.Title,
					Difficulty: r.Difficulty,
				}
			}
		}
	}
	return nil
}

// CompletedModules returns the number of completed modules across all levels.
func (r *Roadmap) CompletedModules() int {
	n := 0
	for i := range r.Levels {
		for j := range r.Levels[i].Modules {
			if r.Levels[i].Modules[j].CompletionStatus == StatusCompleted {
				n++
			}
		}
	}
	return n
}

// TotalModules returns the number of modules across all levels.
func (r *Roadmap) TotalModules() int {
	n := 0
	for i := range r.Levels {
		n += len(r.Levels[i].Modules)
	}
	return n
}

// CompletedLevels returns the number of levels with CompletedAt set.
func (r *Roadmap) CompletedLevels() int {
	n := 0
	for i := range r.Levels {
		if r.Levels[i].CompletedAt != nil {
			n++
		}
	}
	return n
}

// EarnedTypes returns the set of achievement types already recorded on the
// aggregate. Achievements are a set-by-type: the evaluator consults this to
// avoid re-emitting an already-earned type.
func (r *Roadmap) EarnedTypes() map[string]struct{} {
	out := make(map[string]struct{}, len(r.Achievements))
	for _, a := range r.Achievements {
		out[a.Type] = struct{}{}
	}
	return out
}

//
// JSON column types
//

// LevelList stores the nested levels of a roadmap as a JSON text column.
type LevelList []Level

// Value implements driver.Valuer.
func (l LevelList) Value() (driver.Value, error) {
	if l == nil {
		l = LevelList{}
	}
	b, err := json.Marshal(l)
	return string(b), err
}

// Scan implements sql.Scanner.
func (l *LevelList) Scan(src any) error {
	return scanJSON(src, l)
}

// AchievementList stores the earned achievements of a roadmap as a JSON text
// column.
type AchievementList []Achievement

// Value implements driver.Valuer.
func (a AchievementList) Value() (driver.Value, error) {
	if a == nil {
		a = AchievementList{}
	}
	b, err := json.Marshal(a)
	return string(b), err
}

// Scan implements sql.Scanner.
func (a *AchievementList) Scan(src any) error {
	return scanJSON(src, a)
}

// scanJSON decodes a TEXT/BLOB column into dst, treating NULL and the empty
// string as an empty value.
func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("domain: unsupported JSON column source type")
	}
}
