package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gamified-lms/logger"
	"gamified-lms/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RankTier is the resolved, display-ready view of a ranking tier.
type RankTier struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon,omitempty"`
	Color       string `json:"color"`
	MinRank     int    `json:"min_rank"`
	MaxRank     *int   `json:"max_rank"`
}

// UnrankedTier is returned when the tier catalog is empty.
var UnrankedTier = RankTier{
	Name:        "Unranked",
	DisplayName: "Unranked",
	Color:       "#gray",
	MinRank:     0,
}

// levelRankThresholds maps a minimum level to the rank position used for tier lookup.
// Evaluated top-down, first match wins.
var levelRankThresholds = []struct {
	minLevel int
	position int
}{
	{25, 1},   // Supreme
	{20, 6},   // Eternal
	{15, 16},  // Apex
	{12, 26},  // Diamond
	{10, 36},  // Platinum
	{7, 46},   // Gold
	{5, 61},   // Silver
	{3, 81},   // Bronze
	{2, 101},  // Iron
}

const lowestRankPosition = 131 // Plastic

// LevelToRankPosition converts a level into a position in the tier catalog's rank space.
func LevelToRankPosition(level int) int {
	for _, th := range levelRankThresholds {
		if level >= th.minLevel {
			return th.position
		}
	}
	return lowestRankPosition
}

// ResolveTierForRank picks the containing tier with the lowest sort_order,
// else the tier with the highest sort_order, else UnrankedTier.
func ResolveTierForRank(rank int, tiers []models.RankingTier) RankTier {
	if len(tiers) == 0 {
		return UnrankedTier
	}
	var match, lowest *models.RankingTier
	for i := range tiers {
		t := &tiers[i]
		if t.Contains(rank) && (match == nil || t.SortOrder < match.SortOrder) {
			match = t
		}
		if lowest == nil || t.SortOrder > lowest.SortOrder {
			lowest = t
		}
	}
	if match == nil {
		match = lowest
	}
	return toRankTier(*match)
}

// ResolveTier maps a level to its tier. Pure function of (level, catalog).
func ResolveTier(level int, tiers []models.RankingTier) RankTier {
	return ResolveTierForRank(LevelToRankPosition(level), tiers)
}

func toRankTier(t models.RankingTier) RankTier {
	return RankTier{
		ID:          t.ID,
		Name:        t.Name,
		DisplayName: tierDisplayName(t.Name),
		Icon:        t.Icon,
		Color:       t.Color,
		MinRank:     t.MinRank,
		MaxRank:     t.MaxRank,
	}
}

func tierDisplayName(name string) string {
	return cases.Title(language.English).String(strings.ToLower(name))
}

// ValidateTier checks a tier against the rest of the catalog.
// Tiers may leave gaps, but must not overlap; read-side ties are still broken by sort_order.
func ValidateTier(t models.RankingTier, others []models.RankingTier) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: tier name is required", ErrInvalidInput)
	}
	if t.MinRank < 1 {
		return fmt.Errorf("%w: min_rank must be >= 1", ErrInvalidInput)
	}
	if t.MaxRank != nil && *t.MaxRank < t.MinRank {
		return fmt.Errorf("%w: max_rank must be >= min_rank", ErrInvalidInput)
	}
	for _, o := range others {
		if o.ID == t.ID {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(o.Name), strings.TrimSpace(t.Name)) {
			return fmt.Errorf("%w: tier %q already exists", ErrInvalidInput, o.Name)
		}
		if intervalsOverlap(t, o) {
			return fmt.Errorf("%w: %s [%s] intersects %s [%s]", ErrTierOverlap,
				t.Name, intervalString(t), o.Name, intervalString(o))
		}
	}
	return nil
}

func intervalsOverlap(a, b models.RankingTier) bool {
	aBelowB := a.MaxRank != nil && *a.MaxRank < b.MinRank
	bBelowA := b.MaxRank != nil && *b.MaxRank < a.MinRank
	return !aBelowB && !bBelowA
}

func intervalString(t models.RankingTier) string {
	if t.MaxRank == nil {
		return fmt.Sprintf("%d+", t.MinRank)
	}
	return fmt.Sprintf("%d-%d", t.MinRank, *t.MaxRank)
}

// LoadTiers reads the catalog ordered by sort_order.
func LoadTiers(tx *gorm.DB) ([]models.RankingTier, error) {
	var tiers []models.RankingTier
	if err := tx.Order("sort_order ASC").Find(&tiers).Error; err != nil {
		return nil, fmt.Errorf("load ranking tiers: %w", err)
	}
	return tiers, nil
}

type RankTierService struct {
	DB  *gorm.DB
	Log *logger.Logger
}

func NewRankTierService(db *gorm.DB, log *logger.Logger) *RankTierService {
	return &RankTierService{DB: db, Log: log.With("service", "RankTierService")}
}

// Resolve loads the catalog and resolves level to a tier.
func (s *RankTierService) Resolve(ctx context.Context, level int) (RankTier, error) {
	tiers, err := LoadTiers(s.DB.WithContext(ctx))
	if err != nil {
		return RankTier{}, err
	}
	return ResolveTier(level, tiers), nil
}

// ListByMinRank returns every tier ordered by min_rank, for display.
func (s *RankTierService) ListByMinRank(ctx context.Context) ([]RankTier, error) {
	var tiers []models.RankingTier
	if err := s.DB.WithContext(ctx).Order("min_rank ASC").Find(&tiers).Error; err != nil {
		return nil, err
	}
	out := make([]RankTier, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, toRankTier(t))
	}
	return out, nil
}

// TierInput is the writable part of a ranking tier.
type TierInput struct {
	Name        string `json:"name" validate:"required,max=64"`
	Icon        string `json:"icon" validate:"max=32"`
	Color       string `json:"color" validate:"max=16"`
	MinRank     int    `json:"min_rank" validate:"required,min=1"`
	MaxRank     *int   `json:"max_rank" validate:"omitempty,min=1"`
	Description string `json:"description"`
	SortOrder   int    `json:"sort_order"`
}

func (in TierInput) apply(t *models.RankingTier) {
	t.Name = strings.TrimSpace(in.Name)
	t.Icon = in.Icon
	t.Color = in.Color
	t.MinRank = in.MinRank
	t.MaxRank = in.MaxRank
	t.Description = in.Description
	t.SortOrder = in.SortOrder
}

func (s *RankTierService) Create(ctx context.Context, in TierInput) (*models.RankingTier, error) {
	var tier models.RankingTier
	in.apply(&tier)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		others, err := LoadTiers(tx)
		if err != nil {
			return err
		}
		if err := ValidateTier(tier, others); err != nil {
			return err
		}
		if err := tx.Create(&tier).Error; err != nil {
			return err
		}
		return s.syncRankTitles(tx)
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("ranking tier created", "tier", tier.Name, "min_rank", tier.MinRank)
	return &tier, nil
}

func (s *RankTierService) Update(ctx context.Context, id string, in TierInput) (*models.RankingTier, error) {
	var tier models.RankingTier
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&tier, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("ranking tier %s: %w", id, ErrNotFound)
			}
			return err
		}
		in.apply(&tier)
		others, err := LoadTiers(tx)
		if err != nil {
			return err
		}
		if err := ValidateTier(tier, others); err != nil {
			return err
		}
		if err := tx.Save(&tier).Error; err != nil {
			return err
		}
		return s.syncRankTitles(tx)
	})
	if err != nil {
		return nil, err
	}
	return &tier, nil
}

func (s *RankTierService) Delete(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.RankingTier{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("ranking tier %s: %w", id, ErrNotFound)
		}
		return s.syncRankTitles(tx)
	})
}

// syncRankTitles re-derives user_profiles.rank_title for every stored level
// against the catalog as seen by tx. Touched rows get a version bump so an XP
// write that resolved against the old catalog loses its compare-and-swap.
func (s *RankTierService) syncRankTitles(tx *gorm.DB) error {
	tiers, err := LoadTiers(tx)
	if err != nil {
		return err
	}
	var levels []int
	if err := tx.Model(&models.UserProfile{}).Distinct("level").Pluck("level", &levels).Error; err != nil {
		return fmt.Errorf("list profile levels: %w", err)
	}

	var changed int64
	for _, level := range levels {
		title := ResolveTier(level, tiers).Name
		res := tx.Model(&models.UserProfile{}).
			Where("level = ? AND (rank_title <> ? OR rank_title IS NULL)", level, title).
			Updates(map[string]interface{}{
				"rank_title": title,
				"version":    gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return fmt.Errorf("update rank titles for level %d: %w", level, res.Error)
		}
		changed += res.RowsAffected
	}
	if changed > 0 {
		s.Log.Info("rank titles re-derived", "profiles", changed)
	}
	return nil
}

func intPtr(v int) *int { return &v }

// DefaultTiers is the stock catalog: ten bands covering [1, ∞).
var DefaultTiers = []models.RankingTier{
	{Name: "SUPREME", Icon: "🏆", Color: "#FFD700", MinRank: 1, MaxRank: intPtr(5), Description: "The absolute elite. Top 5 players.", SortOrder: 1},
	{Name: "ETERNAL", Icon: "🔥", Color: "#FF1493", MinRank: 6, MaxRank: intPtr(15), Description: "Exceptional skill and dedication. Top 6-15 players.", SortOrder: 2},
	{Name: "APEX", Icon: "⭐", Color: "#4169E1", MinRank: 16, MaxRank: intPtr(25), Description: "Outstanding performance. Top 16-25 players.", SortOrder: 3},
	{Name: "DIAMOND", Icon: "💎", Color: "#00CED1", MinRank: 26, MaxRank: intPtr(35), Description: "High skill level. Top 26-35 players.", SortOrder: 4},
	{Name: "PLATINUM", Icon: "🪨", Color: "#A9A9A9", MinRank: 36, MaxRank: intPtr(45), Description: "Strong performance. Top 36-45 players.", SortOrder: 5},
	{Name: "GOLD", Icon: "🥇", Color: "#FFD700", MinRank: 46, MaxRank: intPtr(60), Description: "Above average. Top 46-60 players.", SortOrder: 6},
	{Name: "SILVER", Icon: "🔶", Color: "#C0C0C0", MinRank: 61, MaxRank: intPtr(80), Description: "Decent progress. Top 61-80 players.", SortOrder: 7},
	{Name: "BRONZE", Icon: "🥉", Color: "#CD7F32", MinRank: 81, MaxRank: intPtr(100), Description: "Getting started. Top 81-100 players.", SortOrder: 8},
	{Name: "IRON", Icon: "⚙️", Color: "#696969", MinRank: 101, MaxRank: intPtr(130), Description: "Beginner level. Top 101-130 players.", SortOrder: 9},
	{Name: "PLASTIC", Icon: "🗑️", Color: "#A0A0A0", MinRank: 131, Description: "Entry level. Ranked 131+.", SortOrder: 10},
}

// SeedDefaultTiers upserts DefaultTiers by name and re-derives stored rank titles.
func (s *RankTierService) SeedDefaultTiers(ctx context.Context) error {
	tiers := make([]models.RankingTier, len(DefaultTiers))
	copy(tiers, DefaultTiers)
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"icon", "color", "min_rank", "max_rank", "description", "sort_order", "updated_at",
			}),
		}).Create(&tiers).Error; err != nil {
			return err
		}
		return s.syncRankTitles(tx)
	})
}
