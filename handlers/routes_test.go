package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gamified-lms/logger"
	"gamified-lms/models"
	"gamified-lms/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testApp struct {
	app *fiber.App
	db  *gorm.DB
	svc *Services
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	log := logger.Nop()
	progression := services.NewProgressionService(db, log, 3)
	tiers := services.NewRankTierService(db, log)
	achievements := services.NewAchievementService(db, log, progression)
	rules := services.NewAchievementRules(db, log, achievements)
	streaks := services.NewStreakTracker(db, log, progression, time.UTC)
	leaderboard := services.NewLeaderboardService(db, log, progression, tiers, []string{"admin"}, 20)
	progression.Cache = leaderboard
	require.NoError(t, tiers.SeedDefaultTiers(context.Background()))

	svc := &Services{
		Progression:  progression,
		Achievements: achievements,
		Rules:        rules,
		Tiers:        tiers,
		Streaks:      streaks,
		DailyBonus:   services.NewDailyBonus(streaks, rules, log),
		Submissions:  services.NewSubmissionService(db, log, progression, rules),
		Leaderboard:  leaderboard,
	}
	app := fiber.New()
	SetupProgressionRoutes(app, svc, log)
	SetupAdminRoutes(app, svc, []string{"admin", "super_admin"}, log)
	return &testApp{app: app, db: db, svc: svc}
}

func (ta *testApp) user(t *testing.T, name string) models.User {
	t.Helper()
	u := models.User{Name: name}
	require.NoError(t, ta.db.Create(&u).Error)
	return u
}

// do sends a request as userID with roles and decodes the JSON response into out.
func (ta *testApp) do(t *testing.T, method, path, userID, roles string, body interface{}, out interface{}) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if roles != "" {
		req.Header.Set("X-User-Roles", roles)
	}
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestProfileRoute(t *testing.T) {
	ta := newTestApp(t)
	u := ta.user(t, "ada")

	var body map[string]interface{}
	code := ta.do(t, http.MethodGet, "/user/profile", u.ID, "", nil, &body)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["level"])
	assert.Equal(t, float64(100), body["xp_to_next_level"])
	assert.Equal(t, "PLASTIC", body["rank_title"])

	code = ta.do(t, http.MethodGet, "/user/profile", "", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	var errBody map[string]string
	code = ta.do(t, http.MethodGet, "/user/profile", uuid.NewString(), "", nil, &errBody)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, errBody["cause"])
}

func TestAdminRoutesRequireRole(t *testing.T) {
	ta := newTestApp(t)
	u := ta.user(t, "ada")

	code := ta.do(t, http.MethodPost, "/admin/users/"+u.ID+"/award-points", u.ID, "student",
		map[string]interface{}{"amount": 10}, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestAwardAndSetXPRoutes(t *testing.T) {
	ta := newTestApp(t)
	admin := ta.user(t, "root")
	u := ta.user(t, "ada")
	path := "/admin/users/" + u.ID

	var res struct {
		Profile models.UserProfile `json:"profile"`
	}
	code := ta.do(t, http.MethodPost, path+"/award-points", admin.ID, "Admin",
		map[string]interface{}{"amount": 250, "reason": "hackathon"}, &res)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(250), res.Profile.TotalXP)
	assert.Equal(t, 3, res.Profile.Level)

	code = ta.do(t, http.MethodPost, path+"/award-points", admin.ID, "admin",
		map[string]interface{}{"amount": -5}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = ta.do(t, http.MethodPut, path+"/xp", admin.ID, "admin",
		map[string]interface{}{"total_xp": 40}, &res)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(40), res.Profile.TotalXP)

	code = ta.do(t, http.MethodPut, path+"/xp", admin.ID, "admin", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, code, "total_xp is required")

	code = ta.do(t, http.MethodPost, "/admin/users/"+uuid.NewString()+"/award-points", admin.ID, "admin",
		map[string]interface{}{"amount": 5}, nil)
	assert.Equal(t, http.StatusNotFound, code)

	var history struct {
		Events []models.XPEvent `json:"events"`
		Total  int64            `json:"total"`
	}
	code = ta.do(t, http.MethodGet, "/user/xp/history", u.ID, "", nil, &history)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(2), history.Total)
}

func TestAchievementRoutes(t *testing.T) {
	ta := newTestApp(t)
	admin := ta.user(t, "root")
	u := ta.user(t, "ada")

	var created models.Achievement
	code := ta.do(t, http.MethodPost, "/admin/achievements", admin.ID, "admin",
		map[string]interface{}{"name": "First Steps", "xp_reward": 75}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "first-steps", created.Slug)

	code = ta.do(t, http.MethodPost, "/admin/achievements", admin.ID, "admin",
		map[string]interface{}{"name": "Bad", "criteria_type": "lessons"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var grant struct {
		Results []services.UnlockResult `json:"results"`
	}
	code = ta.do(t, http.MethodPost, "/admin/users/"+u.ID+"/achievements", admin.ID, "admin",
		map[string]interface{}{"achievement_ids": []string{created.ID, created.ID}}, &grant)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, grant.Results, 2)
	assert.True(t, grant.Results[0].Unlocked)
	assert.False(t, grant.Results[1].Unlocked)

	var page services.AchievementPage
	code = ta.do(t, http.MethodGet, "/user/achievements", u.ID, "", nil, &page)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, page.Stats.TotalUnlocked)
	assert.Equal(t, int64(75), page.Stats.XPEarned)
}

func TestTierRoutes(t *testing.T) {
	ta := newTestApp(t)
	admin := ta.user(t, "root")

	code := ta.do(t, http.MethodPost, "/admin/tiers", admin.ID, "admin",
		map[string]interface{}{"name": "LEGEND", "min_rank": 3, "max_rank": 4}, nil)
	assert.Equal(t, http.StatusConflict, code)

	code = ta.do(t, http.MethodPost, "/admin/tiers", admin.ID, "admin",
		map[string]interface{}{"name": "", "min_rank": 3}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = ta.do(t, http.MethodPost, "/admin/tiers", admin.ID, "admin",
		map[string]interface{}{"name": "GOLD", "min_rank": 500}, nil)
	assert.Equal(t, http.StatusBadRequest, code, "duplicate names are rejected before the unique index")

	var tiers []services.RankTier
	code = ta.do(t, http.MethodGet, "/admin/tiers", admin.ID, "admin", nil, &tiers)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, tiers, len(services.DefaultTiers))
}

func TestSubmissionAndLeaderboardRoutes(t *testing.T) {
	ta := newTestApp(t)
	admin := ta.user(t, "root")
	require.NoError(t, ta.db.Create(&models.UserRole{UserID: admin.ID, Role: "admin"}).Error)
	u := ta.user(t, "ada")

	var a models.Assignment
	code := ta.do(t, http.MethodPost, "/admin/assignments", admin.ID, "admin",
		map[string]interface{}{"title": "Essay", "max_xp": 400}, &a)
	require.Equal(t, http.StatusCreated, code)

	var sub models.AssignmentSubmission
	code = ta.do(t, http.MethodPost, "/user/assignments/"+a.ID+"/submit", u.ID, "",
		map[string]interface{}{"content": "my essay"}, &sub)
	require.Equal(t, http.StatusCreated, code)

	code = ta.do(t, http.MethodPost, "/admin/submissions/"+sub.ID+"/grade", admin.ID, "admin",
		map[string]interface{}{"grade": 88, "xp": 320}, nil)
	require.Equal(t, http.StatusOK, code)

	var board services.LeaderboardPage
	code = ta.do(t, http.MethodGet, "/user/leaderboard?page=1&size=10", u.ID, "", nil, &board)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, board.Leaderboard, 1)
	assert.Equal(t, int64(320), board.Leaderboard[0].XP)
	assert.True(t, board.Leaderboard[0].IsCurrentUser)
	assert.Equal(t, 1, board.Stats.MyRank)

	var dist []services.XPBucket
	code = ta.do(t, http.MethodGet, "/admin/stats/xp-distribution", admin.ID, "admin", nil, &dist)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, dist[0].Count)

	code = ta.do(t, http.MethodDelete, "/admin/submissions/"+sub.ID, admin.ID, "admin", nil, nil)
	assert.Equal(t, http.StatusNoContent, code)
}

func TestDailyBonusRoute(t *testing.T) {
	ta := newTestApp(t)
	u := ta.user(t, "ada")

	var res services.DailyBonusResult
	code := ta.do(t, http.MethodPost, "/user/daily-bonus", u.ID, "", nil, &res)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, res.AlreadyClaimed)
	assert.Equal(t, 1, res.CurrentStreak)

	code = ta.do(t, http.MethodPost, "/user/daily-bonus", u.ID, "", nil, &res)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, res.AlreadyClaimed)
}
