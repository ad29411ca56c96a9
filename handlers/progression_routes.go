// handlers/progression_routes.go
package handlers

import (
	"gamified-lms/logger"
	"gamified-lms/middleware"
	"gamified-lms/services"

	"github.com/gofiber/fiber/v2"
)

// Services bundles everything the HTTP layer calls into.
type Services struct {
	Progression  *services.ProgressionService
	Achievements *services.AchievementService
	Rules        *services.AchievementRules
	Tiers        *services.RankTierService
	Streaks      *services.StreakTracker
	DailyBonus   *services.DailyBonus
	Submissions  *services.SubmissionService
	Leaderboard  *services.LeaderboardService
}

// SetupProgressionRoutes registers the student-facing routes. The gateway
// forwards /api/v1/lms/s/user/... here as /user/...
func SetupProgressionRoutes(app *fiber.App, svc *Services, log *logger.Logger) {
	user := app.Group("/user", middleware.UserContextMiddleware(log))

	user.Get("/profile", func(c *fiber.Ctx) error {
		userID := middleware.UserID(c)
		prof, err := svc.Progression.GetProfile(c.UserContext(), userID)
		if err != nil {
			return fail(c, "failed to load profile", err)
		}
		tier, err := svc.Tiers.Resolve(c.UserContext(), prof.Level)
		if err != nil {
			return fail(c, "failed to resolve rank tier", err)
		}
		streak, err := svc.Streaks.Get(c.UserContext(), userID)
		if err != nil {
			return fail(c, "failed to load streak", err)
		}
		unlocked, err := services.CountUnlocked(svc.Progression.DB.WithContext(c.UserContext()), userID)
		if err != nil {
			return fail(c, "failed to count achievements", err)
		}

		return c.JSON(fiber.Map{
			"id":               prof.ID,
			"user_id":          prof.UserID,
			"total_xp":         prof.TotalXP,
			"level":            prof.Level,
			"current_level_xp": prof.CurrentLevelXP,
			"xp_to_next_level": services.XPPerLevel - prof.CurrentLevelXP,
			"rank_title":       prof.RankTitle,
			"rank_tier":        tier,
			"streak_days":      streak.CurrentStreak,
			"longest_streak":   streak.LongestStreak,
			"achievements":     unlocked,
		})
	})

	user.Get("/leaderboard", func(c *fiber.Ctx) error {
		page, err := svc.Leaderboard.Page(c.UserContext(), middleware.UserID(c),
			queryInt(c, "page", 1), queryInt(c, "size", 0))
		if err != nil {
			return fail(c, "failed to build leaderboard", err)
		}
		return c.JSON(page)
	})

	user.Get("/achievements", func(c *fiber.Ctx) error {
		page, err := svc.Achievements.ListForUser(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return fail(c, "failed to load achievements", err)
		}
		return c.JSON(page)
	})

	user.Post("/daily-bonus", func(c *fiber.Ctx) error {
		res, err := svc.DailyBonus.Claim(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return fail(c, "failed to claim daily bonus", err)
		}
		return c.JSON(res)
	})

	user.Get("/xp/history", func(c *fiber.Ctx) error {
		page := queryInt(c, "page", 1)
		size := queryInt(c, "size", 20)
		events, total, err := svc.Progression.History(c.UserContext(), middleware.UserID(c), page, size)
		if err != nil {
			return fail(c, "failed to get history", err)
		}
		return c.JSON(fiber.Map{
			"events": events,
			"total":  total,
			"page":   page,
		})
	})

	user.Get("/submissions", func(c *fiber.Ctx) error {
		subs, err := svc.Submissions.ListForUser(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return fail(c, "failed to list submissions", err)
		}
		return c.JSON(subs)
	})

	user.Post("/assignments/:id/submit", func(c *fiber.Ctx) error {
		var req struct {
			Content string `json:"content" validate:"required,max=20000"`
		}
		if ok, err := bind(c, &req); !ok {
			return err
		}
		sub, err := svc.Submissions.Submit(c.UserContext(), middleware.UserID(c), c.Params("id"), req.Content)
		if err != nil {
			return fail(c, "submission failed", err)
		}
		return c.Status(fiber.StatusCreated).JSON(sub)
	})
}
