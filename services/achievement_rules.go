package services

import (
	"context"
	"errors"
	"fmt"

	"gamified-lms/logger"
	"gamified-lms/models"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AchievementRules unlocks catalog entries whose criteria the user has met.
type AchievementRules struct {
	DB           *gorm.DB
	Log          *logger.Logger
	Achievements *AchievementService
}

func NewAchievementRules(db *gorm.DB, log *logger.Logger, achievements *AchievementService) *AchievementRules {
	return &AchievementRules{DB: db, Log: log.With("service", "AchievementRules"), Achievements: achievements}
}

type ruleMetrics struct {
	streak   int64
	unlocked int64
	level    int64
}

func (m ruleMetrics) meets(a models.Achievement) bool {
	switch a.CriteriaType {
	case models.CriteriaStreakDays:
		return m.streak >= a.CriteriaValue
	case models.CriteriaAchievementsUnlocked:
		return m.unlocked >= a.CriteriaValue
	case models.CriteriaLevel:
		return m.level >= a.CriteriaValue
	default:
		return false
	}
}

func (r *AchievementRules) metrics(ctx context.Context, userID string) (ruleMetrics, error) {
	db := r.DB.WithContext(ctx)
	var m ruleMetrics

	var st models.Streak
	err := db.Where("user_id = ?", userID).Limit(1).Find(&st).Error
	if err != nil {
		return m, err
	}
	m.streak = int64(st.CurrentStreak)

	if m.unlocked, err = CountUnlocked(db, userID); err != nil {
		return m, err
	}
	prof, err := r.Achievements.Progression.EnsureProfile(ctx, nil, userID)
	if err != nil {
		return m, err
	}
	m.level = int64(prof.Level)
	return m, nil
}

// Evaluate unlocks every active rule-based achievement the user qualifies for.
// Unlocks can qualify the user for milestone achievements, so passes repeat
// until one unlocks nothing. Failures for one achievement do not stop the rest.
func (r *AchievementRules) Evaluate(ctx context.Context, userID string) ([]models.Achievement, error) {
	var rules []models.Achievement
	if err := r.DB.WithContext(ctx).
		Where("is_active = ? AND criteria_type <> ''", true).
		Order("criteria_value ASC").
		Find(&rules).Error; err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	var unlocked []models.Achievement
	var errs []error
	done := make(map[string]bool)

	for pass := 0; pass <= len(rules); pass++ {
		var held []string
		if err := r.DB.WithContext(ctx).Model(&models.UserAchievement{}).
			Where("user_id = ?", userID).
			Pluck("achievement_id", &held).Error; err != nil {
			return unlocked, err
		}
		for _, id := range held {
			done[id] = true
		}

		m, err := r.metrics(ctx, userID)
		if err != nil {
			return unlocked, err
		}

		progressed := false
		for _, a := range rules {
			if done[a.ID] || !m.meets(a) {
				continue
			}
			ok, err := r.Achievements.Unlock(ctx, userID, a.ID)
			done[a.ID] = true
			if err != nil {
				r.Log.Error("rule unlock failed", "user_id", userID, "achievement", a.Slug, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", a.Slug, err))
				continue
			}
			if ok {
				unlocked = append(unlocked, a)
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return unlocked, errors.Join(errs...)
}

// DefaultAchievements are the rule-driven streak and milestone entries.
var DefaultAchievements = []models.Achievement{
	{Name: "Getting Started", Description: "Maintain a 1-day learning streak", Icon: "🔥", Category: "Streak", Difficulty: "Easy", XPReward: 60, CriteriaType: models.CriteriaStreakDays, CriteriaValue: 1},
	{Name: "Consistent Learner", Description: "Maintain a 2-day learning streak", Icon: "💪", Category: "Streak", Difficulty: "Easy", XPReward: 100, CriteriaType: models.CriteriaStreakDays, CriteriaValue: 2},
	{Name: "On Fire", Description: "Maintain a 3-day learning streak", Icon: "🏃", Category: "Streak", Difficulty: "Easy", XPReward: 150, CriteriaType: models.CriteriaStreakDays, CriteriaValue: 3},
	{Name: "Unstoppable", Description: "Maintain a 7-day learning streak", Icon: "⭐", Category: "Streak", Difficulty: "Medium", XPReward: 300, CriteriaType: models.CriteriaStreakDays, CriteriaValue: 7},
	{Name: "Achievement Starter", Description: "Unlock 1 achievement", Icon: "🎯", Category: "Milestones", Difficulty: "Easy", XPReward: 50, CriteriaType: models.CriteriaAchievementsUnlocked, CriteriaValue: 1},
	{Name: "Achievement Hunter", Description: "Unlock 3 achievements", Icon: "🏆", Category: "Milestones", Difficulty: "Easy", XPReward: 125, CriteriaType: models.CriteriaAchievementsUnlocked, CriteriaValue: 3},
	{Name: "Collector", Description: "Unlock 5 achievements", Icon: "✨", Category: "Milestones", Difficulty: "Medium", XPReward: 250, CriteriaType: models.CriteriaAchievementsUnlocked, CriteriaValue: 5},
	{Name: "Master Collector", Description: "Unlock 10 achievements", Icon: "🌟", Category: "Milestones", Difficulty: "Hard", XPReward: 500, CriteriaType: models.CriteriaAchievementsUnlocked, CriteriaValue: 10},
}

// SeedDefaultAchievements inserts DefaultAchievements that are not in the catalog yet.
// Existing entries are left alone so operator edits survive restarts.
func (r *AchievementRules) SeedDefaultAchievements(ctx context.Context) error {
	rows := make([]models.Achievement, len(DefaultAchievements))
	for i, a := range DefaultAchievements {
		a.Slug = slug.Make(a.Name)
		a.IsActive = true
		rows[i] = a
	}
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoNothing: true,
	}).Create(&rows).Error
}
