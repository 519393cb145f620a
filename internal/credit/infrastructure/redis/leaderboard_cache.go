// Package redis caches leaderboard pages with a short TTL so hot reads skip
// the ranked scan.
package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/novastate/novacore/internal/credit/domain"
)

type leaderboardCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewLeaderboardCache(client redis.UniversalClient, logger *slog.Logger) *leaderboardCache {
	return &leaderboardCache{
		client: client,
		ttl:    30 * time.Second,
		logger: logger.With("module", "leaderboard_cache"),
	}
}

func (c *leaderboardCache) Get(ctx context.Context, key string) ([]domain.LeaderboardEntry, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "leaderboard cache read failed", "error", err)
		return nil, false
	}

	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

func (c *leaderboardCache) Set(ctx context.Context, key string, entries []domain.LeaderboardEntry) {
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "leaderboard cache write failed", "error", err)
	}
}
