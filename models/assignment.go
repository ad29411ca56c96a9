package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SubmissionStatusSubmitted = "submitted"
	SubmissionStatusPending   = "pending"
	SubmissionStatusGraded    = "graded"
	SubmissionStatusApproved  = "approved"
)

type Assignment struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	Title       string `gorm:"not null" json:"title"`
	Description string `json:"description"`
	MaxXP       int64  `gorm:"not null" json:"max_xp"`
	Timestamps
}

func (a *Assignment) BeforeCreate(tx *gorm.DB) error {
	assignID(&a.ID)
	return nil
}

// AssignmentSubmission is one student's answer to an assignment.
// XP stays nil until the submission is graded.
type AssignmentSubmission struct {
	ID           string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string     `gorm:"type:uuid;not null;uniqueIndex:idx_user_assignment" json:"user_id"`
	AssignmentID string     `gorm:"type:uuid;not null;uniqueIndex:idx_user_assignment" json:"assignment_id"`
	Status       string     `gorm:"size:16;not null;index" json:"status"`
	Content      string     `gorm:"type:text" json:"content,omitempty"`
	Grade        *float64   `json:"grade,omitempty"`
	XP           *int64     `json:"xp,omitempty"`
	GradedAt     *time.Time `json:"graded_at,omitempty"`
	Timestamps
}

func (s *AssignmentSubmission) BeforeCreate(tx *gorm.DB) error {
	assignID(&s.ID)
	return nil
}
