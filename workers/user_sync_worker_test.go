package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gamified-lms/logger"
	"gamified-lms/models"
	"gamified-lms/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type countingInvalidator struct{ n atomic.Int32 }

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.n.Add(1)
	return nil
}

func newWorker(db *gorm.DB, baseURL, token string, cache services.Invalidator) *UserSyncWorker {
	log := logger.Nop()
	return NewUserSyncWorker(db, log, baseURL, token, time.Minute, services.NewProgressionService(db, log, 1), cache)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

// identityServer serves whatever *users currently holds.
func identityServer(t *testing.T, users *[]models.RemoteUser, gotQuery *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultProfilesPath {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Service-Token") != "svc-token" {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		*gotQuery = r.URL.Query().Get("since")
		_ = json.NewEncoder(w).Encode(UserChangesResponse{Users: *users})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func rolesOf(t *testing.T, db *gorm.DB, userID string) []string {
	t.Helper()
	var roles []string
	require.NoError(t, db.Model(&models.UserRole{}).Where("user_id = ?", userID).Order("role").Pluck("role", &roles).Error)
	return roles
}

func TestSyncOnceUpsertsUsersAndRoles(t *testing.T) {
	db := newTestDB(t)
	first, last := "Ada", "Lovelace"
	id := uuid.NewString()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	users := []models.RemoteUser{{
		ID: id, Username: "ada", FirstName: &first, LastName: &last, Email: "ada@example.test",
		Roles: []string{"Student", "student", " teacher "}, CreatedAt: now, UpdatedAt: now,
	}}
	var since string
	srv := identityServer(t, &users, &since)
	inv := &countingInvalidator{}
	w := newWorker(db, srv.URL, "svc-token", inv)

	n, err := w.SyncOnce(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "0001-01-01T00:00:00Z", since)
	assert.Equal(t, int32(1), inv.n.Load())

	var u models.User
	require.NoError(t, db.First(&u, "id = ?", id).Error)
	assert.Equal(t, "Ada Lovelace", u.Name)
	assert.Equal(t, []string{"student", "teacher"}, rolesOf(t, db, id))

	var prof models.UserProfile
	require.NoError(t, db.First(&prof, "user_id = ?", id).Error)
	assert.Equal(t, int64(0), prof.TotalXP)
	assert.Equal(t, 1, prof.Level)

	// a later batch renames the user and drops the teacher role
	users[0].FirstName = nil
	users[0].LastName = nil
	users[0].Roles = []string{"student"}
	users[0].UpdatedAt = now.Add(time.Hour)
	n, err = w.SyncOnce(context.Background(), w.lastSyncTime(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, db.First(&u, "id = ?", id).Error)
	assert.Equal(t, "ada", u.Name)
	assert.Equal(t, []string{"student"}, rolesOf(t, db, id))

	users[0].Roles = nil
	_, err = w.SyncOnce(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, rolesOf(t, db, id))
}

func TestSyncOnceSkipsInvalidUsers(t *testing.T) {
	db := newTestDB(t)
	users := []models.RemoteUser{
		{Username: "no-id"},
		{ID: uuid.NewString(), Username: "ok"},
	}
	var since string
	srv := identityServer(t, &users, &since)
	w := newWorker(db, srv.URL, "svc-token", nil)

	n, err := w.SyncOnce(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	require.NoError(t, db.Model(&models.UserProfile{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSyncedUsersAppearOnLeaderboard(t *testing.T) {
	db := newTestDB(t)
	log := logger.Nop()
	progression := services.NewProgressionService(db, log, 1)
	tiers := services.NewRankTierService(db, log)
	require.NoError(t, tiers.SeedDefaultTiers(context.Background()))
	board := services.NewLeaderboardService(db, log, progression, tiers, []string{"admin"}, 20)

	viewer := uuid.NewString()
	users := []models.RemoteUser{
		{ID: viewer, Username: "viewer"},
		{ID: uuid.NewString(), Username: "newcomer"},
		{ID: uuid.NewString(), Username: "boss", Roles: []string{"admin"}},
	}
	var since string
	srv := identityServer(t, &users, &since)
	w := NewUserSyncWorker(db, log, srv.URL, "svc-token", time.Minute, progression, board)

	n, err := w.SyncOnce(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	page, err := board.Page(context.Background(), viewer, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, page.LeaderboardTotal)
	assert.Equal(t, 2, page.Stats.TotalUsers)
	for _, e := range page.Leaderboard {
		assert.Equal(t, 1, e.Level)
		assert.Equal(t, "PLASTIC", e.RankTier.Name)
	}
}

func TestSyncOnceRejectedToken(t *testing.T) {
	db := newTestDB(t)
	var users []models.RemoteUser
	var since string
	srv := identityServer(t, &users, &since)
	inv := &countingInvalidator{}
	w := newWorker(db, srv.URL, "wrong", inv)

	_, err := w.SyncOnce(context.Background(), time.Time{})
	assert.Error(t, err)
	assert.Equal(t, int32(0), inv.n.Load())
}

func TestNormaliseRoles(t *testing.T) {
	assert.Equal(t, []string{"admin", "staff"}, normaliseRoles([]string{" Admin", "", "STAFF", "admin"}))
	assert.Empty(t, normaliseRoles(nil))
}
