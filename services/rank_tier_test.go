package services

import (
	"context"
	"testing"

	"gamified-lms/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelToRankPosition(t *testing.T) {
	cases := map[int]int{
		0: 131, 1: 131, 2: 101, 3: 81, 4: 81, 5: 61, 7: 46, 9: 46,
		10: 36, 12: 26, 14: 26, 15: 16, 20: 6, 24: 6, 25: 1, 99: 1,
	}
	for level, want := range cases {
		assert.Equal(t, want, LevelToRankPosition(level), "level %d", level)
	}
}

func TestResolveTierDefaultCatalog(t *testing.T) {
	tiers := append([]models.RankingTier(nil), DefaultTiers...)

	cases := []struct {
		level int
		want  string
	}{
		{1, "PLASTIC"},
		{2, "IRON"},
		{3, "BRONZE"},
		{11, "PLATINUM"},
		{12, "DIAMOND"},
		{14, "DIAMOND"},
		{19, "APEX"},
		{24, "ETERNAL"},
		{25, "SUPREME"},
	}
	for _, tc := range cases {
		got := ResolveTier(tc.level, tiers)
		assert.Equal(t, tc.want, got.Name, "level %d", tc.level)
	}

	assert.Equal(t, "Supreme", ResolveTier(25, tiers).DisplayName)
}

func TestResolveTierForRankBoundary(t *testing.T) {
	tiers := append([]models.RankingTier(nil), DefaultTiers...)

	assert.Equal(t, "DIAMOND", ResolveTierForRank(26, tiers).Name)
	assert.Equal(t, "APEX", ResolveTierForRank(25, tiers).Name)
	assert.Equal(t, "SUPREME", ResolveTierForRank(1, tiers).Name)
	assert.Equal(t, "PLASTIC", ResolveTierForRank(5000, tiers).Name)
}

func TestResolveTierEmptyCatalog(t *testing.T) {
	got := ResolveTier(30, nil)
	assert.Equal(t, UnrankedTier, got)
	assert.Equal(t, "Unranked", got.Name)
	assert.Equal(t, "#gray", got.Color)
}

func TestResolveTierFallsBackToHighestSortOrder(t *testing.T) {
	tiers := []models.RankingTier{
		{Name: "TOP", MinRank: 1, MaxRank: intPtr(5), SortOrder: 1},
		{Name: "MID", MinRank: 6, MaxRank: intPtr(15), SortOrder: 2},
	}
	// level 1 maps to position 131, which neither tier contains
	assert.Equal(t, "MID", ResolveTier(1, tiers).Name)
}

func TestResolveTierLowestSortOrderWins(t *testing.T) {
	tiers := []models.RankingTier{
		{Name: "B", MinRank: 1, MaxRank: intPtr(10), SortOrder: 5},
		{Name: "A", MinRank: 1, MaxRank: intPtr(3), SortOrder: 2},
	}
	assert.Equal(t, "A", ResolveTierForRank(2, tiers).Name)
	assert.Equal(t, "B", ResolveTierForRank(7, tiers).Name)
}

func TestValidateTier(t *testing.T) {
	existing := []models.RankingTier{
		{ID: "a", Name: "A", MinRank: 1, MaxRank: intPtr(10)},
		{ID: "b", Name: "B", MinRank: 20},
	}

	assert.NoError(t, ValidateTier(models.RankingTier{Name: "GAP", MinRank: 11, MaxRank: intPtr(19)}, existing))
	assert.ErrorIs(t, ValidateTier(models.RankingTier{Name: "X", MinRank: 10, MaxRank: intPtr(12)}, existing), ErrTierOverlap)
	assert.ErrorIs(t, ValidateTier(models.RankingTier{Name: "Y", MinRank: 500}, existing), ErrTierOverlap)
	assert.ErrorIs(t, ValidateTier(models.RankingTier{Name: "Z", MinRank: 5, MaxRank: intPtr(4)}, existing), ErrInvalidInput)
	assert.ErrorIs(t, ValidateTier(models.RankingTier{Name: "", MinRank: 11}, existing), ErrInvalidInput)

	// updating a tier in place does not collide with itself
	assert.NoError(t, ValidateTier(models.RankingTier{ID: "a", Name: "A", MinRank: 1, MaxRank: intPtr(12)}, existing))
}

func TestRankTierServiceCRUD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tiers.Create(ctx, TierInput{Name: "LEGEND", MinRank: 200})
	assert.ErrorIs(t, err, ErrTierOverlap)

	all, err := f.tiers.ListByMinRank(ctx)
	require.NoError(t, err)
	require.Len(t, all, len(DefaultTiers))
	assert.Equal(t, "SUPREME", all[0].Name)

	var plastic models.RankingTier
	require.NoError(t, f.db.First(&plastic, "name = ?", "PLASTIC").Error)
	_, err = f.tiers.Update(ctx, plastic.ID, TierInput{Name: "PLASTIC", MinRank: 131, MaxRank: intPtr(199), SortOrder: 10})
	require.NoError(t, err)

	created, err := f.tiers.Create(ctx, TierInput{Name: "CARDBOARD", MinRank: 200, SortOrder: 11})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	require.NoError(t, f.tiers.Delete(ctx, created.ID))
	assert.ErrorIs(t, f.tiers.Delete(ctx, created.ID), ErrNotFound)

	// seeding again restores the stock bounds without duplicating rows
	require.NoError(t, f.tiers.SeedDefaultTiers(ctx))
	var n int64
	require.NoError(t, f.db.Model(&models.RankingTier{}).Count(&n).Error)
	assert.Equal(t, int64(len(DefaultTiers)), n)
}

func TestValidateTierRejectsDuplicateName(t *testing.T) {
	existing := []models.RankingTier{
		{ID: "a", Name: "GOLD", MinRank: 1, MaxRank: intPtr(10)},
	}
	assert.ErrorIs(t, ValidateTier(models.RankingTier{Name: "gold ", MinRank: 11}, existing), ErrInvalidInput)
	assert.ErrorIs(t, ValidateTier(models.RankingTier{ID: "b", Name: "GOLD", MinRank: 11}, existing), ErrInvalidInput)
	assert.NoError(t, ValidateTier(models.RankingTier{ID: "a", Name: "GOLD", MinRank: 1, MaxRank: intPtr(12)}, existing))
}

func TestRankTierRenameToExistingName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var plastic models.RankingTier
	require.NoError(t, f.db.First(&plastic, "name = ?", "PLASTIC").Error)
	_, err := f.tiers.Update(ctx, plastic.ID, TierInput{Name: "IRON", MinRank: 131, SortOrder: 10})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.tiers.Create(ctx, TierInput{Name: "Silver", MinRank: 500})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTierEditsRederiveStoredRankTitles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "ada")
	other := f.user(t, "bo")

	prof, err := f.progression.SetXP(ctx, u.ID, 1200, "")
	require.NoError(t, err)
	require.Equal(t, 13, prof.Level)
	require.Equal(t, "DIAMOND", prof.RankTitle)
	_, err = f.progression.SetXP(ctx, other.ID, 50, "")
	require.NoError(t, err)

	var diamond models.RankingTier
	require.NoError(t, f.db.First(&diamond, "name = ?", "DIAMOND").Error)
	_, err = f.tiers.Update(ctx, diamond.ID, TierInput{
		Name: "CRYSTAL", MinRank: diamond.MinRank, MaxRank: diamond.MaxRank, SortOrder: diamond.SortOrder,
	})
	require.NoError(t, err)

	stored := f.profile(t, u.ID)
	resolved, err := f.tiers.Resolve(ctx, stored.Level)
	require.NoError(t, err)
	assert.Equal(t, "CRYSTAL", resolved.Name)
	assert.Equal(t, resolved.Name, stored.RankTitle)
	assert.Greater(t, stored.Version, prof.Version)
	assert.Equal(t, "PLASTIC", f.profile(t, other.ID).RankTitle, "profiles in other bands are untouched")

	// with the band gone, position 26 falls back to the highest sort_order tier
	require.NoError(t, f.tiers.Delete(ctx, diamond.ID))
	assert.Equal(t, "PLASTIC", f.profile(t, u.ID).RankTitle)

	_, err = f.tiers.Create(ctx, TierInput{Name: "DIAMOND", MinRank: 26, MaxRank: intPtr(35), SortOrder: 4})
	require.NoError(t, err)
	assert.Equal(t, "DIAMOND", f.profile(t, u.ID).RankTitle)

	// the stored title keeps matching on later XP writes
	prof, err = f.progression.AwardPoints(ctx, u.ID, 10, "")
	require.NoError(t, err)
	assert.Equal(t, "DIAMOND", prof.RankTitle)
}
