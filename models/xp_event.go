package models

import (
	"time"

	"gorm.io/gorm"
)

// XP sources recorded on the ledger.
const (
	XPSourceAssignmentSync  = "assignment_sync"
	XPSourceAchievement     = "achievement"
	XPSourceAchievementSync = "achievement_sync"
	XPSourceManualAward     = "manual_award"
	XPSourceManualSet       = "manual_set"
	XPSourceRepair          = "repair"
)

// XPEvent is an append-only audit row written for every change to a profile's total XP.
type XPEvent struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string    `gorm:"type:uuid;not null;index:idx_xp_event_user_created,priority:1" json:"user_id"`
	Source      string    `gorm:"size:32;not null" json:"source"`
	ReferenceID string    `gorm:"size:64" json:"reference_id,omitempty"`
	Reason      string    `gorm:"size:255" json:"reason,omitempty"`
	Delta       int64     `gorm:"not null" json:"delta"`
	TotalBefore int64     `gorm:"not null" json:"total_before"`
	TotalAfter  int64     `gorm:"not null" json:"total_after"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index:idx_xp_event_user_created,priority:2" json:"created_at"`
}

func (e *XPEvent) BeforeCreate(tx *gorm.DB) error {
	assignID(&e.ID)
	return nil
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{},
		&UserRole{},
		&UserProfile{},
		&Achievement{},
		&UserAchievement{},
		&Assignment{},
		&AssignmentSubmission{},
		&RankingTier{},
		&Streak{},
		&XPEvent{},
	}
}
