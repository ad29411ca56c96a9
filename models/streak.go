package models

import (
	"time"

	"gorm.io/gorm"
)

// Streak tracks consecutive calendar days of activity. One row per user.
// LastLoginDate is stored as midnight UTC of the local calendar day.
type Streak struct {
	ID            string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string     `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	CurrentStreak int        `gorm:"not null" json:"current_streak"`
	LongestStreak int        `gorm:"not null" json:"longest_streak"`
	LastLoginDate *time.Time `json:"last_login_date,omitempty"`
	Timestamps
}

func (s *Streak) BeforeCreate(tx *gorm.DB) error {
	assignID(&s.ID)
	return nil
}
