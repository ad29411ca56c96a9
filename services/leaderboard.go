package services

import (
	"context"
	"time"

	"gamified-lms/logger"
	"gamified-lms/models"

	"gorm.io/gorm"
)

// LeaderboardEntry is one ranked row. It is viewer independent so the full
// board can be cached once and shared.
type LeaderboardEntry struct {
	Rank          int      `json:"rank"`
	UserID        string   `json:"user_id"`
	Name          string   `json:"name"`
	XP            int64    `json:"xp"`
	Level         int      `json:"level"`
	StreakDays    int      `json:"streak_days"`
	Achievements  int64    `json:"achievements"`
	IsCurrentUser bool     `json:"is_current_user"`
	RankTier      RankTier `json:"rank_tier"`
}

// LeaderboardCache stores the ranked board. token identifies the generation
// the entries were read for; Store under a stale token must be harmless.
type LeaderboardCache interface {
	Load(ctx context.Context) (entries []LeaderboardEntry, token int64, ok bool, err error)
	Store(ctx context.Context, token int64, entries []LeaderboardEntry) error
	Invalidate(ctx context.Context) error
}

type LeaderboardStats struct {
	TotalUsers    int   `json:"total_users"`
	TopXP         int64 `json:"top_xp"`
	MyRank        int   `json:"my_rank"`
	XPToNextLevel int   `json:"xp_to_next_level"`
}

type LeaderboardPage struct {
	Leaderboard      []LeaderboardEntry `json:"leaderboard"`
	LeaderboardTotal int                `json:"leaderboard_total"`
	Page             int                `json:"page"`
	Size             int                `json:"size"`
	UserRank         LeaderboardEntry   `json:"user_rank"`
	AllTiers         []RankTier         `json:"all_tiers"`
	Stats            LeaderboardStats   `json:"stats"`
}

type LeaderboardService struct {
	DB          *gorm.DB
	Log         *logger.Logger
	Progression *ProgressionService
	Tiers       *RankTierService
	Cache       LeaderboardCache
	Excluded    []string
	PageSize    int
}

func NewLeaderboardService(db *gorm.DB, log *logger.Logger, progression *ProgressionService, tiers *RankTierService, excluded []string, pageSize int) *LeaderboardService {
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return &LeaderboardService{
		DB:          db,
		Log:         log.With("service", "LeaderboardService"),
		Progression: progression,
		Tiers:       tiers,
		Excluded:    excluded,
		PageSize:    pageSize,
	}
}

// Invalidate drops the cached board. Satisfies Invalidator.
func (s *LeaderboardService) Invalidate(ctx context.Context) error {
	if s.Cache == nil {
		return nil
	}
	return s.Cache.Invalidate(ctx)
}

type boardRow struct {
	UserID       string
	Name         string
	CreatedAt    time.Time
	TotalXP      int64
	Level        int
	StreakDays   int
	Streak       *int
	Achievements int64
}

// query ranks every non-excluded user. A user without a profile row ranks as
// a level 1 profile with no XP.
func (s *LeaderboardService) query(ctx context.Context) ([]LeaderboardEntry, error) {
	db := s.DB.WithContext(ctx)
	q := db.Table("users").
		Select(`users.id AS user_id, users.name AS name, users.created_at AS created_at,
			COALESCE(user_profiles.total_xp, 0) AS total_xp, COALESCE(user_profiles.level, 1) AS level,
			COALESCE(user_profiles.streak_days, 0) AS streak_days, streaks.current_streak AS streak,
			(SELECT COUNT(*) FROM user_achievements ua WHERE ua.user_id = users.id) AS achievements`).
		Joins("LEFT JOIN user_profiles ON user_profiles.user_id = users.id").
		Joins("LEFT JOIN streaks ON streaks.user_id = users.id").
		Where("users.deleted_at IS NULL")
	if len(s.Excluded) > 0 {
		q = q.Where("users.id NOT IN (?)",
			db.Model(&models.UserRole{}).Select("user_id").Where("role IN ?", s.Excluded))
	}

	var rows []boardRow
	if err := q.Order("COALESCE(user_profiles.total_xp, 0) DESC, users.created_at ASC, users.id ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	tiers, err := LoadTiers(db)
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, len(rows))
	for i, r := range rows {
		streak := r.StreakDays
		if r.Streak != nil {
			streak = *r.Streak
		}
		entries[i] = LeaderboardEntry{
			Rank:         i + 1,
			UserID:       r.UserID,
			Name:         r.Name,
			XP:           r.TotalXP,
			Level:        r.Level,
			StreakDays:   streak,
			Achievements: r.Achievements,
			RankTier:     ResolveTier(r.Level, tiers),
		}
	}
	return entries, nil
}

// Board returns the full ranked board, read through the cache when one is set.
func (s *LeaderboardService) Board(ctx context.Context) ([]LeaderboardEntry, error) {
	if s.Cache == nil {
		return s.query(ctx)
	}
	entries, token, ok, err := s.Cache.Load(ctx)
	if err != nil {
		s.Log.Warn("leaderboard cache read failed", "error", err)
	}
	if ok {
		return entries, nil
	}
	entries, err = s.query(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Cache.Store(ctx, token, entries); err != nil {
		s.Log.Warn("leaderboard cache write failed", "error", err)
	}
	return entries, nil
}

// Page projects one page of the board for viewerID. Totals and the viewer's
// rank are computed over the whole board.
func (s *LeaderboardService) Page(ctx context.Context, viewerID string, page, size int) (*LeaderboardPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = s.PageSize
	}
	if size > 100 {
		size = 100
	}

	viewer, err := s.Progression.EnsureProfile(ctx, nil, viewerID)
	if err != nil {
		return nil, err
	}
	board, err := s.Board(ctx)
	if err != nil {
		return nil, err
	}
	allTiers, err := s.Tiers.ListByMinRank(ctx)
	if err != nil {
		return nil, err
	}

	out := &LeaderboardPage{
		Leaderboard:      []LeaderboardEntry{},
		LeaderboardTotal: len(board),
		Page:             page,
		Size:             size,
		AllTiers:         allTiers,
	}

	found := false
	for _, e := range board {
		if e.UserID == viewerID {
			e.IsCurrentUser = true
			out.UserRank = e
			found = true
			break
		}
	}
	if !found {
		var user models.User
		if err := s.DB.WithContext(ctx).Select("id", "name").First(&user, "id = ?", viewerID).Error; err != nil {
			return nil, err
		}
		tiers, err := LoadTiers(s.DB.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		out.UserRank = LeaderboardEntry{
			Rank:          len(board) + 1,
			UserID:        viewerID,
			Name:          user.Name,
			Level:         1,
			StreakDays:    viewer.StreakDays,
			IsCurrentUser: true,
			RankTier:      ResolveTier(1, tiers),
		}
	}

	start := (page - 1) * size
	if start < len(board) {
		end := start + size
		if end > len(board) {
			end = len(board)
		}
		for _, e := range board[start:end] {
			e.IsCurrentUser = e.UserID == viewerID
			out.Leaderboard = append(out.Leaderboard, e)
		}
	}

	out.Stats = LeaderboardStats{
		TotalUsers:    len(board),
		MyRank:        out.UserRank.Rank,
		XPToNextLevel: XPPerLevel - viewer.CurrentLevelXP,
	}
	if len(board) > 0 {
		out.Stats.TopXP = board[0].XP
	}
	return out, nil
}

// XPBucket is one bar of the XP distribution chart.
type XPBucket struct {
	Range string `json:"range"`
	Min   int64  `json:"min"`
	Max   *int64 `json:"max"`
	Count int    `json:"count"`
}

var xpBucketBounds = []struct {
	label string
	min   int64
	max   int64
}{
	{"0-1K", 0, 1000},
	{"1K-5K", 1000, 5000},
	{"5K-10K", 5000, 10000},
	{"10K-25K", 10000, 25000},
	{"25K-50K", 25000, 50000},
	{"50K+", 50000, -1},
}

// XPDistribution counts ranked users per XP band. Bands are [min, max).
func (s *LeaderboardService) XPDistribution(ctx context.Context) ([]XPBucket, error) {
	board, err := s.Board(ctx)
	if err != nil {
		return nil, err
	}
	buckets := make([]XPBucket, len(xpBucketBounds))
	for i, b := range xpBucketBounds {
		buckets[i] = XPBucket{Range: b.label, Min: b.min}
		if b.max >= 0 {
			max := b.max
			buckets[i].Max = &max
		}
	}
	for _, e := range board {
		for i, b := range xpBucketBounds {
			if e.XP >= b.min && (b.max < 0 || e.XP < b.max) {
				buckets[i].Count++
				break
			}
		}
	}
	return buckets, nil
}
