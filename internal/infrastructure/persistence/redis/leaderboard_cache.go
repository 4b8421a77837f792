package redis

import (
	"context"
	"errors"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache implements leaderboard.Cache with one JSON list per
// metric under "<prefix>leaderboard:<metric>". Redis expires the list after
// ttl, so every instance sees the same freshness window.
type LeaderboardCache struct {
	cache *Cache
	ttl   time.Duration
}

var _ leaderboard.Cache = (*LeaderboardCache)(nil)

// NewLeaderboardCache creates a cache whose lists live for ttl.
func NewLeaderboardCache(cache *Cache, ttl time.Duration) *LeaderboardCache {
	if ttl <= 0 {
		ttl = leaderboard.DefaultTTL
	}
	return &LeaderboardCache{cache: cache, ttl: ttl}
}

// LeaderboardKey returns the key suffix for a metric's list.
func LeaderboardKey(metric leaderboard.Metric) string {
	return PrefixLeaderboard + string(metric)
}

// Get returns ok=false on a miss or an expired list.
func (c *LeaderboardCache) Get(ctx context.Context, metric leaderboard.Metric) ([]leaderboard.Entry, bool, error) {
	var entries []leaderboard.Entry
	err := c.cache.Get(ctx, LeaderboardKey(metric), &entries)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	return entries, true, nil
}

// Set replaces the metric's list and restarts its TTL.
func (c *LeaderboardCache) Set(ctx context.Context, metric leaderboard.Metric, entries []leaderboard.Entry) error {
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	return c.cache.Set(ctx, LeaderboardKey(metric), entries, c.ttl)
}

// Invalidate drops one metric's list.
func (c *LeaderboardCache) Invalidate(ctx context.Context, metric leaderboard.Metric) error {
	return c.cache.Delete(ctx, LeaderboardKey(metric))
}

// Clear drops every cached list.
func (c *LeaderboardCache) Clear(ctx context.Context) error {
	return c.cache.DeleteByPattern(ctx, PrefixLeaderboard+"*")
}
