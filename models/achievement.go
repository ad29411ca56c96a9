package models

import (
	"time"

	"gorm.io/gorm"
)

// Criteria types an achievement can be auto-unlocked by.
const (
	CriteriaNone                 = ""
	CriteriaStreakDays           = "streak_days"
	CriteriaAchievementsUnlocked = "achievements_unlocked"
	CriteriaLevel                = "level"
)

// Achievement is a catalog entry.
type Achievement struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	Slug        string `gorm:"size:128;uniqueIndex;not null" json:"slug"`
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Icon        string `gorm:"size:32" json:"icon"`
	Category    string `gorm:"size:32;index" json:"category"`
	Difficulty  string `gorm:"size:16" json:"difficulty"`
	XPReward    int64  `gorm:"not null" json:"xp_reward"`
	IsActive    bool   `gorm:"not null;index" json:"is_active"`

	// Optional rule: unlock automatically once the user's metric reaches CriteriaValue.
	CriteriaType  string `gorm:"size:32" json:"criteria_type,omitempty"`
	CriteriaValue int64  `json:"criteria_value,omitempty"`

	Timestamps
}

func (a *Achievement) BeforeCreate(tx *gorm.DB) error {
	assignID(&a.ID)
	return nil
}

// UserAchievement is the unlock record; at most one per (user, achievement).
type UserAchievement struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string    `gorm:"type:uuid;not null;uniqueIndex:idx_user_achievement" json:"user_id"`
	AchievementID string    `gorm:"type:uuid;not null;uniqueIndex:idx_user_achievement;index" json:"achievement_id"`
	UnlockedAt    time.Time `gorm:"not null" json:"unlocked_at"`
}

func (u *UserAchievement) BeforeCreate(tx *gorm.DB) error {
	assignID(&u.ID)
	return nil
}
