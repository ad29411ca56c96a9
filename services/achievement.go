package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gamified-lms/logger"
	"gamified-lms/models"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AchievementService grants achievements at most once per user and pays out their XP.
type AchievementService struct {
	DB          *gorm.DB
	Log         *logger.Logger
	Progression *ProgressionService
	Now         func() time.Time
}

func NewAchievementService(db *gorm.DB, log *logger.Logger, progression *ProgressionService) *AchievementService {
	return &AchievementService{
		DB:          db,
		Log:         log.With("service", "AchievementService"),
		Progression: progression,
		Now:         time.Now,
	}
}

func findAchievement(tx *gorm.DB, id string) (*models.Achievement, error) {
	var a models.Achievement
	if err := tx.First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("achievement %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &a, nil
}

// unlockTx records the unlock and awards XP inside tx.
// Returns false without side effects when the user already holds it.
func (s *AchievementService) unlockTx(ctx context.Context, tx *gorm.DB, userID string, a *models.Achievement) (bool, error) {
	if err := requireUser(tx, userID); err != nil {
		return false, err
	}
	rec := models.UserAchievement{
		UserID:        userID,
		AchievementID: a.ID,
		UnlockedAt:    s.Now().UTC(),
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "achievement_id"}},
		DoNothing: true,
	}).Create(&rec)
	if res.Error != nil {
		return false, fmt.Errorf("record unlock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if _, err := s.Progression.awardAchievementXPTx(ctx, tx, userID, a); err != nil {
		return false, err
	}
	return true, nil
}

// Unlock grants achievementID to userID. The bool is false when it was already unlocked.
func (s *AchievementService) Unlock(ctx context.Context, userID, achievementID string) (bool, error) {
	var unlocked bool
	var name string
	err := s.Progression.RunInTx(ctx, func(tx *gorm.DB) error {
		a, err := findAchievement(tx, achievementID)
		if err != nil {
			return err
		}
		name = a.Name
		unlocked, err = s.unlockTx(ctx, tx, userID, a)
		return err
	})
	if err != nil {
		return false, err
	}
	if unlocked {
		s.Progression.invalidate(ctx)
		s.Log.Info("achievement unlocked", "user_id", userID, "achievement", name)
	}
	return unlocked, nil
}

// UnlockResult reports the outcome for one achievement of UnlockMultiple.
type UnlockResult struct {
	AchievementID string `json:"achievement_id"`
	Unlocked      bool   `json:"unlocked"`
	Error         string `json:"error,omitempty"`
}

// UnlockMultiple applies Unlock independently to each id; one failure does not undo the others.
func (s *AchievementService) UnlockMultiple(ctx context.Context, userID string, achievementIDs []string) []UnlockResult {
	results := make([]UnlockResult, 0, len(achievementIDs))
	for _, id := range achievementIDs {
		ok, err := s.Unlock(ctx, userID, id)
		r := UnlockResult{AchievementID: id, Unlocked: ok}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

// SyncAllAchievementXP repairs total XP after catalog edits: the candidate is the sum of
// rewards over all unlocked achievements, and the total never decreases.
func (s *AchievementService) SyncAllAchievementXP(ctx context.Context, userID string) (*models.UserProfile, error) {
	var out *models.UserProfile
	err := s.Progression.RunInTx(ctx, func(tx *gorm.DB) error {
		p, err := s.Progression.syncAchievementXPTx(ctx, tx, userID)
		out = p
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Progression.invalidate(ctx)
	return out, nil
}

// AchievementView is one row of the achievements page.
type AchievementView struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	Category    string     `json:"category"`
	Difficulty  string     `json:"difficulty"`
	XPReward    int64      `json:"xp_reward"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
}

type AchievementStats struct {
	TotalUnlocked        int   `json:"total_unlocked"`
	TotalAchievements    int   `json:"total_achievements"`
	CompletionPercentage int   `json:"completion_percentage"`
	XPEarned             int64 `json:"xp_earned"`
}

type AchievementPage struct {
	Achievements []AchievementView `json:"achievements"`
	Stats        AchievementStats  `json:"stats"`
}

// ListForUser returns every active achievement with the user's unlock state.
func (s *AchievementService) ListForUser(ctx context.Context, userID string) (*AchievementPage, error) {
	db := s.DB.WithContext(ctx)
	if err := requireUser(db, userID); err != nil {
		return nil, err
	}

	var catalog []models.Achievement
	if err := db.Where("is_active = ?", true).Order("category ASC, xp_reward ASC, name ASC").Find(&catalog).Error; err != nil {
		return nil, err
	}
	var unlocks []models.UserAchievement
	if err := db.Where("user_id = ?", userID).Find(&unlocks).Error; err != nil {
		return nil, err
	}
	unlockedAt := make(map[string]time.Time, len(unlocks))
	for _, u := range unlocks {
		unlockedAt[u.AchievementID] = u.UnlockedAt
	}

	page := &AchievementPage{Achievements: make([]AchievementView, 0, len(catalog))}
	for _, a := range catalog {
		v := AchievementView{
			ID:          a.ID,
			Slug:        a.Slug,
			Name:        a.Name,
			Description: a.Description,
			Icon:        a.Icon,
			Category:    a.Category,
			Difficulty:  a.Difficulty,
			XPReward:    a.XPReward,
		}
		if at, ok := unlockedAt[a.ID]; ok {
			v.Unlocked = true
			v.UnlockedAt = &at
			page.Stats.TotalUnlocked++
			page.Stats.XPEarned += a.XPReward
		}
		page.Achievements = append(page.Achievements, v)
	}
	page.Stats.TotalAchievements = len(catalog)
	if len(catalog) > 0 {
		page.Stats.CompletionPercentage = int(math.Round(float64(page.Stats.TotalUnlocked) / float64(len(catalog)) * 100))
	}
	return page, nil
}

// CountUnlocked returns how many achievements the user holds.
func CountUnlocked(tx *gorm.DB, userID string) (int64, error) {
	var n int64
	err := tx.Model(&models.UserAchievement{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// AchievementInput is the writable part of a catalog entry.
type AchievementInput struct {
	Name          string `json:"name" validate:"required,max=128"`
	Description   string `json:"description"`
	Icon          string `json:"icon" validate:"max=32"`
	Category      string `json:"category" validate:"max=32"`
	Difficulty    string `json:"difficulty" validate:"max=16"`
	XPReward      int64  `json:"xp_reward" validate:"min=0"`
	IsActive      *bool  `json:"is_active"`
	CriteriaType  string `json:"criteria_type" validate:"omitempty,oneof=streak_days achievements_unlocked level"`
	CriteriaValue int64  `json:"criteria_value" validate:"min=0"`
}

func (in AchievementInput) apply(a *models.Achievement) {
	a.Name = strings.TrimSpace(in.Name)
	a.Description = in.Description
	a.Icon = in.Icon
	a.Category = in.Category
	a.Difficulty = in.Difficulty
	a.XPReward = in.XPReward
	if in.IsActive != nil {
		a.IsActive = *in.IsActive
	}
	a.CriteriaType = in.CriteriaType
	a.CriteriaValue = in.CriteriaValue
}

// CreateAchievement adds a catalog entry; the slug is derived from the name.
func (s *AchievementService) CreateAchievement(ctx context.Context, in AchievementInput) (*models.Achievement, error) {
	if in.XPReward < 0 {
		return nil, fmt.Errorf("%w: xp_reward must be >= 0", ErrInvalidInput)
	}
	a := models.Achievement{IsActive: true}
	in.apply(&a)
	a.Slug = slug.Make(a.Name)
	if a.Slug == "" {
		return nil, fmt.Errorf("%w: achievement name %q has no usable characters", ErrInvalidInput, in.Name)
	}
	db := s.DB.WithContext(ctx)
	var n int64
	if err := db.Model(&models.Achievement{}).Where("slug = ?", a.Slug).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, fmt.Errorf("%w: achievement %q already exists", ErrInvalidInput, a.Slug)
	}
	if err := db.Create(&a).Error; err != nil {
		return nil, fmt.Errorf("create achievement %q: %w", a.Slug, err)
	}
	return &a, nil
}

// UpdateAchievement edits a catalog entry. The slug is kept stable.
func (s *AchievementService) UpdateAchievement(ctx context.Context, id string, in AchievementInput) (*models.Achievement, error) {
	if in.XPReward < 0 {
		return nil, fmt.Errorf("%w: xp_reward must be >= 0", ErrInvalidInput)
	}
	db := s.DB.WithContext(ctx)
	a, err := findAchievement(db, id)
	if err != nil {
		return nil, err
	}
	in.apply(a)
	if err := db.Save(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// DeactivateAchievement hides an achievement; existing unlock records stay.
func (s *AchievementService) DeactivateAchievement(ctx context.Context, id string) error {
	res := s.DB.WithContext(ctx).Model(&models.Achievement{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("achievement %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListCatalog returns catalog entries for administration, inactive ones included on request.
func (s *AchievementService) ListCatalog(ctx context.Context, includeInactive bool) ([]models.Achievement, error) {
	q := s.DB.WithContext(ctx).Order("category ASC, xp_reward ASC, name ASC")
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	var out []models.Achievement
	err := q.Find(&out).Error
	return out, err
}
