package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gamified-lms/logger"
	"gamified-lms/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StreakTracker maintains consecutive-day activity. The Streak row is the
// record of truth; UserProfile.StreakDays is only a copy for the profile view.
type StreakTracker struct {
	DB          *gorm.DB
	Log         *logger.Logger
	Progression *ProgressionService
	Location    *time.Location
}

func NewStreakTracker(db *gorm.DB, log *logger.Logger, progression *ProgressionService, loc *time.Location) *StreakTracker {
	if loc == nil {
		loc = time.UTC
	}
	return &StreakTracker{
		DB:          db,
		Log:         log.With("service", "StreakTracker"),
		Progression: progression,
		Location:    loc,
	}
}

// calendarDay maps an instant to midnight UTC of its calendar day in loc.
func calendarDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// storedDay normalises a persisted last_login_date.
func storedDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NextStreak applies one day of activity to (current, longest) given the
// previous activity day. last is nil for a user who never logged in.
func NextStreak(current, longest int, last *time.Time, today time.Time) (int, int, bool) {
	if last != nil {
		switch days := int(today.Sub(storedDay(*last)).Hours() / 24); {
		case days == 0:
			return current, longest, false
		case days == 1:
			current++
		default:
			current = 1
		}
	} else {
		current = 1
	}
	if current > longest {
		longest = current
	}
	return current, longest, true
}

// StreakUpdate is the outcome of RecordActivity.
type StreakUpdate struct {
	Streak  models.Streak
	Changed bool
}

// RecordActivity registers activity at now. A second call on the same
// calendar day leaves the streak untouched. XP is not affected.
func (s *StreakTracker) RecordActivity(ctx context.Context, userID string, now time.Time) (*StreakUpdate, error) {
	today := calendarDay(now, s.Location)
	var out StreakUpdate

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.Progression.EnsureProfile(ctx, tx, userID); err != nil {
			return err
		}
		st, err := s.ensureStreak(tx, userID)
		if err != nil {
			return err
		}

		cur, longest, changed := NextStreak(st.CurrentStreak, st.LongestStreak, st.LastLoginDate, today)
		out.Changed = changed
		if !changed {
			out.Streak = *st
			return nil
		}

		st.CurrentStreak = cur
		st.LongestStreak = longest
		st.LastLoginDate = &today
		if err := tx.Model(st).Updates(map[string]interface{}{
			"current_streak":  cur,
			"longest_streak":  longest,
			"last_login_date": today,
		}).Error; err != nil {
			return fmt.Errorf("update streak: %w", err)
		}
		if err := tx.Model(&models.UserProfile{}).
			Where("user_id = ?", userID).
			Update("streak_days", cur).Error; err != nil {
			return fmt.Errorf("project streak onto profile: %w", err)
		}
		out.Streak = *st
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Changed {
		s.Log.Debug("streak recorded", "user_id", userID, "current", out.Streak.CurrentStreak, "longest", out.Streak.LongestStreak)
	}
	return &out, nil
}

func (s *StreakTracker) ensureStreak(tx *gorm.DB, userID string) (*models.Streak, error) {
	var st models.Streak
	err := tx.Where("user_id = ?", userID).First(&st).Error
	if err == nil {
		return &st, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	st = models.Streak{UserID: userID}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&st).Error; err != nil {
		return nil, fmt.Errorf("create streak for %s: %w", userID, err)
	}
	st = models.Streak{}
	if err := tx.Where("user_id = ?", userID).First(&st).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// Get returns the user's streak; a user with no activity gets a zero streak.
func (s *StreakTracker) Get(ctx context.Context, userID string) (*models.Streak, error) {
	db := s.DB.WithContext(ctx)
	if err := requireUser(db, userID); err != nil {
		return nil, err
	}
	var st models.Streak
	if err := db.Where("user_id = ?", userID).Limit(1).Find(&st).Error; err != nil {
		return nil, err
	}
	st.UserID = userID
	return &st, nil
}
