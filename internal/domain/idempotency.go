package domain

import "time"

// Idempotency records the outcome of a previously processed progress update,
// keyed by (user_id, roadmap_id, key). It enables safe retries for PATCH
// operations: a replayed request is answered from the recorded result instead
// of re-running the mutation. Records expire after a configurable TTL and are
// filtered out on read (expires_at > now).
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_roadmap_key,priority:1"`
	RoadmapID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_roadmap_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_roadmap_key,priority:3"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	Body      string    `gorm:"type:TEXT NOT NULL"` // recorded JSON response
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
