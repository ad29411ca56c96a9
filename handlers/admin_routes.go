// handlers/admin_routes.go
package handlers

import (
	"gamified-lms/logger"
	"gamified-lms/middleware"
	"gamified-lms/services"

	"github.com/gofiber/fiber/v2"
)

// SetupAdminRoutes registers the operator routes under /admin.
func SetupAdminRoutes(app *fiber.App, svc *Services, adminRoles []string, log *logger.Logger) {
	admin := app.Group("/admin", middleware.UserContextMiddleware(log), middleware.RequireRole(adminRoles...))

	// evaluateRules runs after manual XP changes; failures are logged, not returned.
	evaluateRules := func(c *fiber.Ctx, userID string) {
		if _, err := svc.Rules.Evaluate(c.UserContext(), userID); err != nil {
			log.Warn("achievement evaluation failed", "user_id", userID, "error", err)
		}
	}

	admin.Get("/users", func(c *fiber.Ctx) error {
		users, err := services.SearchUsers(c.UserContext(), svc.Progression.DB, c.Query("q"), queryInt(c, "limit", 50))
		if err != nil {
			return fail(c, "search failed", err)
		}
		return c.JSON(users)
	})

	admin.Post("/users/:id/award-points", func(c *fiber.Ctx) error {
		var req struct {
			Amount int64  `json:"amount" validate:"required,gt=0"`
			Reason string `json:"reason" validate:"max=255"`
		}
		if ok, err := bind(c, &req); !ok {
			return err
		}
		userID := c.Params("id")
		prof, err := svc.Progression.AwardPoints(c.UserContext(), userID, req.Amount, req.Reason)
		if err != nil {
			return fail(c, "XP award failed", err)
		}
		evaluateRules(c, userID)
		return c.JSON(fiber.Map{
			"message": "points awarded",
			"profile": prof,
		})
	})

	admin.Put("/users/:id/xp", func(c *fiber.Ctx) error {
		var req struct {
			TotalXP *int64 `json:"total_xp" validate:"required,min=0"`
			Reason  string `json:"reason" validate:"max=255"`
		}
		if ok, err := bind(c, &req); !ok {
			return err
		}
		userID := c.Params("id")
		prof, err := svc.Progression.SetXP(c.UserContext(), userID, *req.TotalXP, req.Reason)
		if err != nil {
			return fail(c, "XP update failed", err)
		}
		evaluateRules(c, userID)
		return c.JSON(fiber.Map{
			"message": "XP updated",
			"profile": prof,
		})
	})

	admin.Post("/users/:id/achievements", func(c *fiber.Ctx) error {
		var req struct {
			AchievementIDs []string `json:"achievement_ids" validate:"required,min=1,dive,required"`
		}
		if ok, err := bind(c, &req); !ok {
			return err
		}
		userID := c.Params("id")
		results := svc.Achievements.UnlockMultiple(c.UserContext(), userID, req.AchievementIDs)
		evaluateRules(c, userID)
		return c.JSON(fiber.Map{"results": results})
	})

	admin.Post("/users/:id/achievements/sync", func(c *fiber.Ctx) error {
		prof, err := svc.Achievements.SyncAllAchievementXP(c.UserContext(), c.Params("id"))
		if err != nil {
			return fail(c, "achievement XP sync failed", err)
		}
		return c.JSON(prof)
	})

	admin.Post("/assignments", func(c *fiber.Ctx) error {
		var req struct {
			Title       string `json:"title" validate:"required,max=255"`
			Description string `json:"description"`
			MaxXP       int64  `json:"max_xp" validate:"min=0"`
		}
		if ok, err := bind(c, &req); !ok {
			return err
		}
		a, err := svc.Submissions.CreateAssignment(c.UserContext(), req.Title, req.Description, req.MaxXP)
		if err != nil {
			return fail(c, "failed to create assignment", err)
		}
		return c.Status(fiber.StatusCreated).JSON(a)
	})

	admin.Post("/submissions/:id/grade", func(c *fiber.Ctx) error {
		var req struct {
			Grade *float64 `json:"grade" validate:"required,min=0,max=100"`
			XP    *int64   `json:"xp" validate:"required,min=0"`
		}
		if ok, err := bind(c, &req); !ok {
			return err
		}
		sub, err := svc.Submissions.Grade(c.UserContext(), c.Params("id"), *req.Grade, *req.XP)
		if err != nil {
			return fail(c, "grading failed", err)
		}
		return c.JSON(sub)
	})

	admin.Delete("/submissions/:id", func(c *fiber.Ctx) error {
		if err := svc.Submissions.Delete(c.UserContext(), c.Params("id")); err != nil {
			return fail(c, "failed to delete submission", err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	// Tier edits change every entry's badge, so each one drops the cached board.
	tiers := admin.Group("/tiers")
	tiers.Get("/", func(c *fiber.Ctx) error {
		list, err := svc.Tiers.ListByMinRank(c.UserContext())
		if err != nil {
			return fail(c, "failed to list tiers", err)
		}
		return c.JSON(list)
	})
	tiers.Post("/", func(c *fiber.Ctx) error {
		var in services.TierInput
		if ok, err := bind(c, &in); !ok {
			return err
		}
		t, err := svc.Tiers.Create(c.UserContext(), in)
		if err != nil {
			return fail(c, "failed to create tier", err)
		}
		invalidate(c, svc, log)
		return c.Status(fiber.StatusCreated).JSON(t)
	})
	tiers.Put("/:id", func(c *fiber.Ctx) error {
		var in services.TierInput
		if ok, err := bind(c, &in); !ok {
			return err
		}
		t, err := svc.Tiers.Update(c.UserContext(), c.Params("id"), in)
		if err != nil {
			return fail(c, "failed to update tier", err)
		}
		invalidate(c, svc, log)
		return c.JSON(t)
	})
	tiers.Delete("/:id", func(c *fiber.Ctx) error {
		if err := svc.Tiers.Delete(c.UserContext(), c.Params("id")); err != nil {
			return fail(c, "failed to delete tier", err)
		}
		invalidate(c, svc, log)
		return c.SendStatus(fiber.StatusNoContent)
	})

	achievements := admin.Group("/achievements")
	achievements.Get("/", func(c *fiber.Ctx) error {
		list, err := svc.Achievements.ListCatalog(c.UserContext(), c.QueryBool("include_inactive", true))
		if err != nil {
			return fail(c, "failed to list achievements", err)
		}
		return c.JSON(list)
	})
	achievements.Post("/", func(c *fiber.Ctx) error {
		var in services.AchievementInput
		if ok, err := bind(c, &in); !ok {
			return err
		}
		a, err := svc.Achievements.CreateAchievement(c.UserContext(), in)
		if err != nil {
			return fail(c, "failed to create achievement", err)
		}
		return c.Status(fiber.StatusCreated).JSON(a)
	})
	achievements.Put("/:id", func(c *fiber.Ctx) error {
		var in services.AchievementInput
		if ok, err := bind(c, &in); !ok {
			return err
		}
		a, err := svc.Achievements.UpdateAchievement(c.UserContext(), c.Params("id"), in)
		if err != nil {
			return fail(c, "failed to update achievement", err)
		}
		return c.JSON(a)
	})
	achievements.Delete("/:id", func(c *fiber.Ctx) error {
		if err := svc.Achievements.DeactivateAchievement(c.UserContext(), c.Params("id")); err != nil {
			return fail(c, "failed to deactivate achievement", err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Get("/stats/xp-distribution", func(c *fiber.Ctx) error {
		buckets, err := svc.Leaderboard.XPDistribution(c.UserContext())
		if err != nil {
			return fail(c, "failed to compute distribution", err)
		}
		return c.JSON(buckets)
	})

	admin.Post("/maintenance/repair-profiles", func(c *fiber.Ctx) error {
		n, err := svc.Progression.RepairProfiles(c.UserContext())
		if err != nil {
			return fail(c, "profile repair failed", err)
		}
		return c.JSON(fiber.Map{"repaired": n})
	})
}

func invalidate(c *fiber.Ctx, svc *Services, log *logger.Logger) {
	if err := svc.Leaderboard.Invalidate(c.UserContext()); err != nil {
		log.Warn("leaderboard cache invalidation failed", "error", err)
	}
}
