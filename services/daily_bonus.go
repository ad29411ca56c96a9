package services

import (
	"context"
	"time"

	"gamified-lms/logger"
	"gamified-lms/models"
)

// DailyBonus is the once-per-day check-in: it extends the streak and lets the
// achievement rules pay out whatever the new streak qualifies for.
type DailyBonus struct {
	Streaks *StreakTracker
	Rules   *AchievementRules
	Log     *logger.Logger
	Now     func() time.Time
}

func NewDailyBonus(streaks *StreakTracker, rules *AchievementRules, log *logger.Logger) *DailyBonus {
	return &DailyBonus{Streaks: streaks, Rules: rules, Log: log.With("service", "DailyBonus"), Now: time.Now}
}

type DailyBonusResult struct {
	AlreadyClaimed bool                 `json:"already_claimed"`
	CurrentStreak  int                  `json:"current_streak"`
	LongestStreak  int                  `json:"longest_streak"`
	Unlocked       []models.Achievement `json:"unlocked"`
}

func (d *DailyBonus) Claim(ctx context.Context, userID string) (*DailyBonusResult, error) {
	upd, err := d.Streaks.RecordActivity(ctx, userID, d.Now())
	if err != nil {
		return nil, err
	}
	res := &DailyBonusResult{
		AlreadyClaimed: !upd.Changed,
		CurrentStreak:  upd.Streak.CurrentStreak,
		LongestStreak:  upd.Streak.LongestStreak,
		Unlocked:       []models.Achievement{},
	}

	unlocked, err := d.Rules.Evaluate(ctx, userID)
	if len(unlocked) > 0 {
		res.Unlocked = unlocked
	}
	if err != nil {
		// the streak is already committed; report what did unlock
		d.Log.Warn("achievement evaluation incomplete", "user_id", userID, "error", err)
	}
	return res, nil
}
