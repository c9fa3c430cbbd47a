package domain

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Resource modality types.
const (
	ResourceVideo       = "video"
	ResourceText        = "text"
	ResourceHandsOn     = "hands-on"
	ResourceAudio       = "audio"
	ResourceInteractive = "interactive"
)

// ValidResourceType reports whether t is one of the supported modalities.
func ValidResourceType(t string) bool {
	switch t {
	case ResourceVideo, ResourceText, ResourceHandsOn, ResourceAudio, ResourceInteractive:
		return true
	}
	return false
}

// Resource is a curated learning resource in the shared catalog. Resources
// are not owned by a roadmap; modules reference them informally and users
// rate them via ResourceFeedback.
//
// Fields:
//   - AuthorID: user who contributed the resource; only the author may edit it.
//   - Difficulty: 1 (easiest) to 5 (hardest).
//   - Tags: JSON-encoded list used for filtering.
//   - TotalViews / AverageRating: usage counters updated by reads and feedback.
type Resource struct {
	ID            string         `json:"id"             gorm:"type:char(36);primaryKey"`
	Title         string         `json:"title"          gorm:"type:varchar(255);not null"`
	Description   string         `json:"description"    gorm:"type:text"`
	Type          string         `json:"type"           gorm:"type:varchar(16);not null;index;check:type IN ('video','text','hands-on','audio','interactive')"`
	URL           string         `json:"url"            gorm:"type:text;not null"`
	Difficulty    int            `json:"difficulty"     gorm:"not null;index;check:difficulty BETWEEN 1 AND 5"`
	Duration      int            `json:"duration"       gorm:"not null;default:0"` // minutes
	Tags          StringList     `json:"tags"           gorm:"type:text"`
	AuthorID      string         `json:"author_id"      gorm:"type:varchar(64);not null;index"`
	TotalViews    int64          `json:"total_views"    gorm:"not null;default:0"`
	AverageRating float64        `json:"average_rating" gorm:"not null;default:0"`
	RatingCount   int64          `json:"rating_count"   gorm:"not null;default:0"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"              gorm:"index"`
}

// TableName returns the database table name for Resource.
func (Resource) TableName() string { return "resources" }

// SearchText returns the text a relevance index should cover for this
// resource: title, description and tags joined into one document.
func (r *Resource) SearchText() string {
	parts := make([]string, 0, 3)
	if r.Title != "" {
		parts = append(parts, r.Title)
	}
	if r.Description != "" {
		parts = append(parts, r.Description)
	}
	if len(r.Tags) > 0 {
		parts = append(parts, strings.Join(r.Tags, " "))
	}
	return strings.Join(parts, "\n")
}

// ResourceFeedback is a user rating (1-5) on a resource. A user can leave at
// most one feedback entry per resource (enforced by unique index).
type ResourceFeedback struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	ResourceID string         `json:"resource_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_feedback_resource_user"`
	UserID     string         `json:"user_id"     gorm:"type:varchar(64);not null;index;uniqueIndex:ux_feedback_resource_user"`
	Rating     int            `json:"rating"      gorm:"not null;check:rating BETWEEN 1 AND 5"`
	Comment    string         `json:"comment"     gorm:"type:text"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-"           gorm:"index"`

	// Resource is the rated catalog entry. Feedback is cascade-deleted if
	// the underlying resource is removed.
	Resource Resource `json:"-" gorm:"foreignKey:ResourceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ResourceFeedback.
func (ResourceFeedback) TableName() string { return "resource_feedback" }

// StringList stores a list of strings as a JSON text column.
type StringList []string

// Value implements driver.Valuer.
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		s = StringList{}
	}
	b, err := json.Marshal(s)
	return string(b), err
}

// Scan implements sql.Scanner.
func (s *StringList) Scan(src any) error {
	return scanJSON(src, s)
}
