package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserProfile is the per-user progression record.
// Level, CurrentLevelXP and RankTitle are derived from TotalXP and only written
// together with it (see services.Recompute).
type UserProfile struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID         string `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	TotalXP        int64  `gorm:"not null;index" json:"total_xp"`
	Level          int    `gorm:"not null" json:"level"`
	CurrentLevelXP int    `gorm:"not null" json:"current_level_xp"`

	// Projection of Streak.CurrentStreak; the Streak row is authoritative.
	StreakDays int    `gorm:"not null" json:"streak_days"`
	RankTitle  string `gorm:"size:64" json:"rank_title"`

	// Optimistic concurrency counter, bumped on every XP write.
	Version int64 `gorm:"not null" json:"-"`

	Timestamps
}

func (p *UserProfile) BeforeCreate(tx *gorm.DB) error {
	assignID(&p.ID)
	return nil
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func assignID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}
