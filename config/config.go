// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything the service reads from the environment at boot.
type Config struct {
	Port           string
	DatabaseURL    string
	GatewayToken   string
	AllowedOrigins []string
	LogMode        string

	// Calendar days for streaks are evaluated in this location.
	Location *time.Location

	AdminRoles            []string
	LeaderboardExcluded   []string
	LeaderboardPageSize   int
	LeaderboardCacheTTL   time.Duration
	XPMaxRetries          int
	RedisURL              string
	SyncServiceURL        string
	SyncInterval          time.Duration
	SnapshotExportEnabled bool

	R2 R2Config
}

// R2Config holds Cloudflare R2 (S3-compatible) credentials.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

// Enabled reports whether enough is set to talk to the bucket.
func (r R2Config) Enabled() bool {
	return r.AccountID != "" && r.AccessKeyID != "" && r.AccessKeySecret != "" && r.Bucket != ""
}

// Load reads .env (if present) and the process environment.
// The returned bool is false when no .env file was found.
func Load() (*Config, bool, error) {
	dotenv := godotenv.Load() == nil

	cfg := &Config{
		Port:                String("PORT", "5200"),
		DatabaseURL:         String("DATABASE_URL", ""),
		GatewayToken:        String("LMS_SERVICE_TOKEN", ""),
		AllowedOrigins:      List("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		LogMode:             String("LOG_MODE", "dev"),
		AdminRoles:          List("ADMIN_ROLES", []string{"admin", "super_admin"}),
		LeaderboardExcluded: List("LEADERBOARD_EXCLUDED_ROLES", []string{"admin", "staff", "teacher", "super_admin"}),
		LeaderboardPageSize: Int("LEADERBOARD_PAGE_SIZE", 20),
		LeaderboardCacheTTL: Duration("LEADERBOARD_CACHE_TTL", 30*time.Second),
		XPMaxRetries:        Int("XP_MAX_RETRIES", 3),
		RedisURL:            String("REDIS_URL", ""),
		SyncServiceURL:      String("SYNC_SERVICE_URL", ""),
		SyncInterval:        Duration("SYNC_INTERVAL", time.Minute),
		R2: R2Config{
			AccountID:       String("CLOUDFLARE_ACCOUNT_ID", ""),
			AccessKeyID:     String("R2_ACCESS_KEY_ID", ""),
			AccessKeySecret: String("R2_ACCESS_KEY_SECRET", ""),
			Bucket:          String("R2_BUCKET_NAME", ""),
			CDNBaseURL:      String("CDN_BASE_URL", ""),
		},
	}
	cfg.SnapshotExportEnabled = Bool("LEADERBOARD_SNAPSHOT_EXPORT", cfg.R2.Enabled())

	if cfg.DatabaseURL == "" {
		return nil, dotenv, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if cfg.GatewayToken == "" {
		return nil, dotenv, fmt.Errorf("LMS_SERVICE_TOKEN environment variable not set")
	}
	if cfg.LeaderboardPageSize < 1 || cfg.LeaderboardPageSize > 100 {
		cfg.LeaderboardPageSize = 20
	}
	if cfg.XPMaxRetries < 1 {
		cfg.XPMaxRetries = 1
	}

	tz := String("APP_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, dotenv, fmt.Errorf("invalid APP_TIMEZONE %q: %w", tz, err)
	}
	cfg.Location = loc

	return cfg, dotenv, nil
}

func String(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func Int(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func Bool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func Duration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// List splits a comma-separated variable, trimming blanks.
func List(name string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
