package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gamified-lms/cache"
	"gamified-lms/config"
	"gamified-lms/handlers"
	"gamified-lms/logger"
	"gamified-lms/middleware"
	"gamified-lms/models"
	"gamified-lms/services"
	"gamified-lms/utils"
	"gamified-lms/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	cfg, dotenv, err := config.Load()
	if err != nil {
		// logger mode comes from config, so this one goes to a bootstrap logger
		boot, _ := logger.New("dev")
		boot.Fatal("failed to load configuration", "error", err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	if !dotenv {
		log.Warn("no .env file found, reading environment variables directly")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.New(
			zap.NewStdLog(log.SugaredLogger.Desugar()),
			gormlogger.Config{
				SlowThreshold:             500 * time.Millisecond,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatal("failed to migrate database", "error", err)
	}

	progression := services.NewProgressionService(db, log, cfg.XPMaxRetries)
	tiers := services.NewRankTierService(db, log)
	achievements := services.NewAchievementService(db, log, progression)
	rules := services.NewAchievementRules(db, log, achievements)
	streaks := services.NewStreakTracker(db, log, progression, cfg.Location)
	leaderboard := services.NewLeaderboardService(db, log, progression, tiers, cfg.LeaderboardExcluded, cfg.LeaderboardPageSize)

	if err := tiers.SeedDefaultTiers(ctx); err != nil {
		log.Fatal("failed to seed ranking tiers", "error", err)
	}
	if err := rules.SeedDefaultAchievements(ctx); err != nil {
		log.Fatal("failed to seed achievements", "error", err)
	}

	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("failed to connect to redis", "error", err)
		}
		defer client.Close()
		leaderboard.Cache = cache.NewLeaderboardCache(client, cfg.LeaderboardCacheTTL)
		log.Info("leaderboard cache enabled", "ttl", cfg.LeaderboardCacheTTL.String())
	}
	progression.Cache = leaderboard

	svc := &handlers.Services{
		Progression:  progression,
		Achievements: achievements,
		Rules:        rules,
		Tiers:        tiers,
		Streaks:      streaks,
		DailyBonus:   services.NewDailyBonus(streaks, rules, log),
		Submissions:  services.NewSubmissionService(db, log, progression, rules),
		Leaderboard:  leaderboard,
	}

	var snapshots services.SnapshotUploader
	if cfg.SnapshotExportEnabled {
		if !cfg.R2.Enabled() {
			log.Fatal("LEADERBOARD_SNAPSHOT_EXPORT is set but R2 credentials are incomplete")
		}
		r2, err := utils.NewR2Client(ctx, cfg.R2)
		if err != nil {
			log.Fatal("failed to initialize R2 client", "error", err)
		}
		snapshots = r2
	}
	sched, err := services.NewScheduler(log, cfg.Location, progression, leaderboard, snapshots)
	if err != nil {
		log.Fatal("failed to create scheduler", "error", err)
	}
	sched.Start()

	if cfg.SyncServiceURL != "" {
		workers.NewUserSyncWorker(db, log, cfg.SyncServiceURL, cfg.GatewayToken, cfg.SyncInterval, progression, leaderboard).Start(ctx)
	} else {
		log.Warn("SYNC_SERVICE_URL not set, user sync worker disabled")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	// every request must come through the gateway
	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken, log))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupProgressionRoutes(app, svc, log)
	handlers.SetupAdminRoutes(app, svc, cfg.AdminRoles, log)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("server error", "error", err)
			stop()
		}
	}()
	log.Info("server running", "port", cfg.Port, "origins", cfg.AllowedOrigins, "timezone", cfg.Location.String())

	<-ctx.Done()
	log.Info("shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	if err := sched.Shutdown(); err != nil {
		log.Error("scheduler shutdown failed", "error", err)
	}
}
