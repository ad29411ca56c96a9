package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gamified-lms/logger"
	"gamified-lms/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB opens a private in-memory sqlite database with every table migrated.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

type fixture struct {
	db           *gorm.DB
	progression  *ProgressionService
	tiers        *RankTierService
	achievements *AchievementService
	rules        *AchievementRules
	streaks      *StreakTracker
	submissions  *SubmissionService
	leaderboard  *LeaderboardService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	log := logger.Nop()

	f := &fixture{db: db}
	f.progression = NewProgressionService(db, log, 3)
	f.tiers = NewRankTierService(db, log)
	f.achievements = NewAchievementService(db, log, f.progression)
	f.rules = NewAchievementRules(db, log, f.achievements)
	f.streaks = NewStreakTracker(db, log, f.progression, time.UTC)
	f.submissions = NewSubmissionService(db, log, f.progression, f.rules)
	f.leaderboard = NewLeaderboardService(db, log, f.progression, f.tiers,
		[]string{"admin", "staff", "teacher", "super_admin"}, 20)
	f.progression.Cache = f.leaderboard

	require.NoError(t, f.tiers.SeedDefaultTiers(context.Background()))
	return f
}

func (f *fixture) user(t *testing.T, name string, roles ...string) models.User {
	t.Helper()
	u := models.User{Name: name, Email: name + "@example.test"}
	require.NoError(t, f.db.Create(&u).Error)
	for _, r := range roles {
		require.NoError(t, f.db.Create(&models.UserRole{UserID: u.ID, Role: r}).Error)
	}
	return u
}

func (f *fixture) achievement(t *testing.T, name string, xp int64) models.Achievement {
	t.Helper()
	a := models.Achievement{Slug: uuid.NewString(), Name: name, XPReward: xp, IsActive: true}
	require.NoError(t, f.db.Create(&a).Error)
	return a
}

func (f *fixture) profile(t *testing.T, userID string) models.UserProfile {
	t.Helper()
	var p models.UserProfile
	require.NoError(t, f.db.Where("user_id = ?", userID).First(&p).Error)
	return p
}
