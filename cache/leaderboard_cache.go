// Package cache keeps the ranked leaderboard in Redis between XP changes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gamified-lms/services"

	"github.com/redis/go-redis/v9"
)

const (
	keyGeneration = "leaderboard:gen"
	keyBoard      = "leaderboard:board:"
)

// LeaderboardCache stores one JSON board per generation. Invalidate bumps
// the generation, so a board computed before an XP change is never served after it.
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func NewLeaderboardCache(client *redis.Client, ttl time.Duration) *LeaderboardCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LeaderboardCache{client: client, ttl: ttl}
}

func (c *LeaderboardCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, keyGeneration).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func boardKey(gen int64) string {
	return keyBoard + strconv.FormatInt(gen, 10)
}

func (c *LeaderboardCache) Load(ctx context.Context) ([]services.LeaderboardEntry, int64, bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, 0, false, err
	}
	data, err := c.client.Get(ctx, boardKey(gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, err
	}
	var entries []services.LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, gen, false, fmt.Errorf("decode cached leaderboard: %w", err)
	}
	return entries, gen, true, nil
}

func (c *LeaderboardCache) Store(ctx context.Context, token int64, entries []services.LeaderboardEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, boardKey(token), data, c.ttl).Err()
}

func (c *LeaderboardCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, keyGeneration).Err()
}
