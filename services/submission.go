package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gamified-lms/logger"
	"gamified-lms/models"

	"gorm.io/gorm"
)

// SubmissionService handles assignment submissions. Graded XP reaches the
// profile only through SyncAssignmentXP.
type SubmissionService struct {
	DB          *gorm.DB
	Log         *logger.Logger
	Progression *ProgressionService
	Rules       *AchievementRules
	Now         func() time.Time
}

func NewSubmissionService(db *gorm.DB, log *logger.Logger, progression *ProgressionService, rules *AchievementRules) *SubmissionService {
	return &SubmissionService{
		DB:          db,
		Log:         log.With("service", "SubmissionService"),
		Progression: progression,
		Rules:       rules,
		Now:         time.Now,
	}
}

func findSubmission(tx *gorm.DB, id string) (*models.AssignmentSubmission, error) {
	var sub models.AssignmentSubmission
	if err := tx.First(&sub, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &sub, nil
}

// Submit records or replaces the user's answer. Resubmitting a graded
// assignment is rejected.
func (s *SubmissionService) Submit(ctx context.Context, userID, assignmentID, content string) (*models.AssignmentSubmission, error) {
	var out models.AssignmentSubmission
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUser(tx, userID); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&models.Assignment{}).Where("id = ?", assignmentID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("assignment %s: %w", assignmentID, ErrNotFound)
		}

		err := tx.Where("user_id = ? AND assignment_id = ?", userID, assignmentID).First(&out).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			out = models.AssignmentSubmission{
				UserID:       userID,
				AssignmentID: assignmentID,
				Status:       models.SubmissionStatusSubmitted,
				Content:      content,
			}
			return tx.Create(&out).Error
		case err != nil:
			return err
		}

		if out.XP != nil {
			return fmt.Errorf("%w: submission %s is already graded", ErrInvalidInput, out.ID)
		}
		out.Content = content
		out.Status = models.SubmissionStatusSubmitted
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Grade stores grade and XP on a submission and resyncs the user's XP.
func (s *SubmissionService) Grade(ctx context.Context, submissionID string, grade float64, xp int64) (*models.AssignmentSubmission, error) {
	if xp < 0 {
		return nil, fmt.Errorf("%w: xp must be >= 0, got %d", ErrInvalidInput, xp)
	}
	if grade < 0 || grade > 100 {
		return nil, fmt.Errorf("%w: grade must be within 0..100, got %v", ErrInvalidInput, grade)
	}

	var sub *models.AssignmentSubmission
	err := s.Progression.RunInTx(ctx, func(tx *gorm.DB) error {
		var err error
		if sub, err = findSubmission(tx, submissionID); err != nil {
			return err
		}
		var a models.Assignment
		if err := tx.First(&a, "id = ?", sub.AssignmentID).Error; err != nil {
			return err
		}
		if a.MaxXP > 0 && xp > a.MaxXP {
			return fmt.Errorf("%w: xp %d exceeds assignment maximum %d", ErrInvalidInput, xp, a.MaxXP)
		}

		now := s.Now().UTC()
		sub.Grade = &grade
		sub.XP = &xp
		sub.GradedAt = &now
		sub.Status = models.SubmissionStatusGraded
		if err := tx.Save(sub).Error; err != nil {
			return err
		}
		_, err = s.Progression.syncAssignmentXPTx(ctx, tx, sub.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Progression.invalidate(ctx)
	s.Log.Info("submission graded", "submission_id", submissionID, "user_id", sub.UserID, "xp", xp)
	s.evaluate(ctx, sub.UserID)
	return sub, nil
}

// Delete removes a submission. XP already credited for it is kept.
func (s *SubmissionService) Delete(ctx context.Context, submissionID string) error {
	var userID string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := findSubmission(tx, submissionID)
		if err != nil {
			return err
		}
		userID = sub.UserID
		return tx.Delete(sub).Error
	})
	if err != nil {
		return err
	}
	if _, err := s.Progression.SyncAssignmentXP(ctx, userID); err != nil {
		return err
	}
	s.evaluate(ctx, userID)
	return nil
}

// ListForUser returns the user's submissions, newest first.
func (s *SubmissionService) ListForUser(ctx context.Context, userID string) ([]models.AssignmentSubmission, error) {
	var subs []models.AssignmentSubmission
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&subs).Error
	return subs, err
}

// CreateAssignment adds an assignment that students can submit against.
func (s *SubmissionService) CreateAssignment(ctx context.Context, title, description string, maxXP int64) (*models.Assignment, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if maxXP < 0 {
		return nil, fmt.Errorf("%w: max_xp must be >= 0", ErrInvalidInput)
	}
	a := models.Assignment{Title: title, Description: description, MaxXP: maxXP}
	if err := s.DB.WithContext(ctx).Create(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SubmissionService) evaluate(ctx context.Context, userID string) {
	if s.Rules == nil {
		return
	}
	if _, err := s.Rules.Evaluate(ctx, userID); err != nil {
		s.Log.Warn("achievement evaluation failed", "user_id", userID, "error", err)
	}
}
