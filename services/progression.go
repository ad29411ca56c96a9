package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"gamified-lms/logger"
	"gamified-lms/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// XPPerLevel is the width of every level band.
const XPPerLevel = 100

// DeriveLevel returns (level, xp into the current level) for a total.
func DeriveLevel(totalXP int64) (int, int) {
	if totalXP < 0 {
		totalXP = 0
	}
	level := int(totalXP/XPPerLevel) + 1
	if level < 1 {
		level = 1
	}
	return level, int(totalXP % XPPerLevel)
}

// Recompute sets TotalXP and every field derived from it. It is the only place
// Level, CurrentLevelXP and RankTitle are assigned.
func Recompute(p *models.UserProfile, newTotalXP int64, tiers []models.RankingTier) {
	if newTotalXP < 0 {
		newTotalXP = 0
	}
	p.TotalXP = newTotalXP
	p.Level, p.CurrentLevelXP = DeriveLevel(newTotalXP)
	p.RankTitle = ResolveTier(p.Level, tiers).Name
}

// Invalidator is told whenever a profile's XP changes.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// ProgressionService owns UserProfile: lazy creation, the XP sources and
// the optimistic-concurrency write path.
type ProgressionService struct {
	DB         *gorm.DB
	Log        *logger.Logger
	MaxRetries int
	Cache      Invalidator
}

func NewProgressionService(db *gorm.DB, log *logger.Logger, maxRetries int) *ProgressionService {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &ProgressionService{DB: db, Log: log.With("service", "ProgressionService"), MaxRetries: maxRetries}
}

// RunInTx runs fn in a transaction, retrying the whole transaction when a
// profile write lost an optimistic-concurrency race. fn must be restartable.
func (s *ProgressionService) RunInTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= s.MaxRetries; attempt++ {
		err = s.DB.WithContext(ctx).Transaction(fn)
		if !errors.Is(err, ErrConcurrentUpdate) {
			return err
		}
		s.Log.Warn("profile changed underneath us, retrying", "attempt", attempt, "max", s.MaxRetries)
	}
	return err
}

// EnsureProfile is the getOrCreateProfile factory. It returns ErrNotFound when
// the user itself does not exist.
func (s *ProgressionService) EnsureProfile(ctx context.Context, tx *gorm.DB, userID string) (*models.UserProfile, error) {
	if tx == nil {
		tx = s.DB
	}
	tx = tx.WithContext(ctx)

	var prof models.UserProfile
	err := tx.Where("user_id = ?", userID).First(&prof).Error
	if err == nil {
		return &prof, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := requireUser(tx, userID); err != nil {
		return nil, err
	}
	tiers, err := LoadTiers(tx)
	if err != nil {
		return nil, err
	}
	prof = models.UserProfile{UserID: userID}
	Recompute(&prof, 0, tiers)

	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&prof)
	if res.Error != nil {
		return nil, fmt.Errorf("create profile for %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		// someone else created it first
		prof = models.UserProfile{}
		if err := tx.Where("user_id = ?", userID).First(&prof).Error; err != nil {
			return nil, err
		}
	}
	return &prof, nil
}

func requireUser(tx *gorm.DB, userID string) error {
	var n int64
	if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// xpChange describes one XP trigger. next receives the current total and
// returns the total to store.
type xpChange struct {
	source      string
	referenceID string
	reason      string
	next        func(tx *gorm.DB, current int64) (int64, error)
}

// addXP adds a non-negative amount to current, rejecting totals past MaxInt64.
func addXP(current, amount int64) (int64, error) {
	if amount > math.MaxInt64-current {
		return 0, fmt.Errorf("%w: adding %d to %d overflows total XP", ErrInvalidInput, amount, current)
	}
	return current + amount, nil
}

// atLeastCurrent wraps a candidate computation with the monotonic policy.
func atLeastCurrent(candidate func(tx *gorm.DB, current int64) (int64, error)) func(*gorm.DB, int64) (int64, error) {
	return func(tx *gorm.DB, current int64) (int64, error) {
		c, err := candidate(tx, current)
		if err != nil {
			return 0, err
		}
		if c < current {
			return current, nil
		}
		return c, nil
	}
}

// apply runs one xpChange inside tx: ensure profile, compute, recompute the
// derived fields, compare-and-swap on version, append an XPEvent.
func (s *ProgressionService) apply(ctx context.Context, tx *gorm.DB, userID string, ch xpChange) (*models.UserProfile, error) {
	prof, err := s.EnsureProfile(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	before := prof.TotalXP

	total, err := ch.next(tx, before)
	if err != nil {
		return nil, err
	}
	tiers, err := LoadTiers(tx)
	if err != nil {
		return nil, err
	}

	updated := *prof
	Recompute(&updated, total, tiers)
	if updated.TotalXP == prof.TotalXP && updated.Level == prof.Level &&
		updated.CurrentLevelXP == prof.CurrentLevelXP && updated.RankTitle == prof.RankTitle {
		return prof, nil
	}

	res := tx.Model(&models.UserProfile{}).
		Where("id = ? AND version = ?", prof.ID, prof.Version).
		Updates(map[string]interface{}{
			"total_xp":         updated.TotalXP,
			"level":            updated.Level,
			"current_level_xp": updated.CurrentLevelXP,
			"rank_title":       updated.RankTitle,
			"version":          prof.Version + 1,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("profile %s at version %d: %w", prof.ID, prof.Version, ErrConcurrentUpdate)
	}
	updated.Version = prof.Version + 1

	if delta := updated.TotalXP - before; delta != 0 || ch.source == models.XPSourceRepair {
		ev := models.XPEvent{
			UserID:      userID,
			Source:      ch.source,
			ReferenceID: ch.referenceID,
			Reason:      ch.reason,
			Delta:       delta,
			TotalBefore: before,
			TotalAfter:  updated.TotalXP,
		}
		if err := tx.Create(&ev).Error; err != nil {
			return nil, fmt.Errorf("append xp event: %w", err)
		}
	}

	if updated.Level != prof.Level {
		s.Log.Info("level changed", "user_id", userID, "from", prof.Level, "to", updated.Level, "rank_title", updated.RankTitle)
	}
	return &updated, nil
}

// run executes a single change in its own retried transaction.
func (s *ProgressionService) run(ctx context.Context, userID string, ch xpChange) (*models.UserProfile, error) {
	var out *models.UserProfile
	err := s.RunInTx(ctx, func(tx *gorm.DB) error {
		p, err := s.apply(ctx, tx, userID, ch)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return out, nil
}

func (s *ProgressionService) invalidate(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx); err != nil {
		s.Log.Warn("leaderboard cache invalidation failed", "error", err)
	}
}

// GetProfile returns the user's profile, creating it on first access.
func (s *ProgressionService) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	return s.EnsureProfile(ctx, nil, userID)
}

func assignmentXPChange(userID string) xpChange {
	return xpChange{
		source: models.XPSourceAssignmentSync,
		next: atLeastCurrent(func(tx *gorm.DB, _ int64) (int64, error) {
			var sum int64
			err := tx.Model(&models.AssignmentSubmission{}).
				Where("user_id = ? AND xp IS NOT NULL", userID).
				Select("COALESCE(SUM(xp), 0)").
				Scan(&sum).Error
			return sum, err
		}),
	}
}

// SyncAssignmentXP recomputes from the sum of graded submission XP, never lowering the total.
func (s *ProgressionService) SyncAssignmentXP(ctx context.Context, userID string) (*models.UserProfile, error) {
	return s.run(ctx, userID, assignmentXPChange(userID))
}

// syncAssignmentXPTx is SyncAssignmentXP for callers already inside a transaction.
func (s *ProgressionService) syncAssignmentXPTx(ctx context.Context, tx *gorm.DB, userID string) (*models.UserProfile, error) {
	return s.apply(ctx, tx, userID, assignmentXPChange(userID))
}

// awardAchievementXPTx adds an achievement's reward on top of the current total.
func (s *ProgressionService) awardAchievementXPTx(ctx context.Context, tx *gorm.DB, userID string, a *models.Achievement) (*models.UserProfile, error) {
	if a.XPReward <= 0 {
		return s.EnsureProfile(ctx, tx, userID)
	}
	return s.apply(ctx, tx, userID, xpChange{
		source:      models.XPSourceAchievement,
		referenceID: a.ID,
		reason:      a.Name,
		next: atLeastCurrent(func(_ *gorm.DB, current int64) (int64, error) {
			return addXP(current, a.XPReward)
		}),
	})
}

// syncAchievementXPTx recomputes from the sum of rewards over all unlock records.
func (s *ProgressionService) syncAchievementXPTx(ctx context.Context, tx *gorm.DB, userID string) (*models.UserProfile, error) {
	return s.apply(ctx, tx, userID, xpChange{
		source: models.XPSourceAchievementSync,
		next: atLeastCurrent(func(tx *gorm.DB, _ int64) (int64, error) {
			var sum int64
			err := tx.Table("user_achievements").
				Joins("JOIN achievements ON achievements.id = user_achievements.achievement_id").
				Where("user_achievements.user_id = ?", userID).
				Select("COALESCE(SUM(achievements.xp_reward), 0)").
				Scan(&sum).Error
			return sum, err
		}),
	})
}

// AwardPoints is the administrator "award points" action: additive, amount must be positive.
func (s *ProgressionService) AwardPoints(ctx context.Context, userID string, amount int64, reason string) (*models.UserProfile, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: award amount must be positive, got %d", ErrInvalidInput, amount)
	}
	prof, err := s.run(ctx, userID, xpChange{
		source: models.XPSourceManualAward,
		reason: strings.TrimSpace(reason),
		next: atLeastCurrent(func(_ *gorm.DB, current int64) (int64, error) {
			return addXP(current, amount)
		}),
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("points awarded", "user_id", userID, "amount", amount, "total_xp", prof.TotalXP, "reason", reason)
	return prof, nil
}

// SetXP is the administrator "set XP" override. It bypasses the monotonic
// policy and may lower the total.
func (s *ProgressionService) SetXP(ctx context.Context, userID string, totalXP int64, reason string) (*models.UserProfile, error) {
	if totalXP < 0 {
		return nil, fmt.Errorf("%w: total XP must be >= 0, got %d", ErrInvalidInput, totalXP)
	}
	prof, err := s.run(ctx, userID, xpChange{
		source: models.XPSourceManualSet,
		reason: strings.TrimSpace(reason),
		next: func(_ *gorm.DB, _ int64) (int64, error) {
			return totalXP, nil
		},
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("xp overridden", "user_id", userID, "total_xp", prof.TotalXP, "reason", reason)
	return prof, nil
}

// RepairProfiles re-derives level, current-level XP and rank title for every
// profile whose cached fields drifted from total_xp. Returns how many were fixed.
func (s *ProgressionService) RepairProfiles(ctx context.Context) (int, error) {
	var profiles []models.UserProfile
	if err := s.DB.WithContext(ctx).Find(&profiles).Error; err != nil {
		return 0, err
	}
	tiers, err := LoadTiers(s.DB.WithContext(ctx))
	if err != nil {
		return 0, err
	}

	fixed := 0
	for _, p := range profiles {
		want := p
		Recompute(&want, p.TotalXP, tiers)
		if want.Level == p.Level && want.CurrentLevelXP == p.CurrentLevelXP && want.RankTitle == p.RankTitle {
			continue
		}
		_, err := s.run(ctx, p.UserID, xpChange{
			source: models.XPSourceRepair,
			reason: "derived fields out of sync",
			next: func(_ *gorm.DB, current int64) (int64, error) {
				return current, nil
			},
		})
		if err != nil {
			s.Log.Error("profile repair failed", "user_id", p.UserID, "error", err)
			continue
		}
		fixed++
	}
	if fixed > 0 {
		s.Log.Info("profiles repaired", "count", fixed)
	}
	return fixed, nil
}

// History pages the user's XP ledger, newest first.
func (s *ProgressionService) History(ctx context.Context, userID string, page, size int) ([]models.XPEvent, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	db := s.DB.WithContext(ctx)

	var total int64
	if err := db.Model(&models.XPEvent{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var events []models.XPEvent
	err := db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(size).Offset((page - 1) * size).
		Find(&events).Error
	return events, total, err
}
