package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// LeaderboardCache is the process-local leaderboard.Cache, used when Redis
// is disabled. Expired lists are dropped on read.
type LeaderboardCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	clock timeutil.Clock
	lists map[leaderboard.Metric]cachedList
}

type cachedList struct {
	entries  []leaderboard.Entry
	storedAt time.Time
}

var _ leaderboard.Cache = (*LeaderboardCache)(nil)

// NewLeaderboardCache creates a cache whose lists live for ttl.
func NewLeaderboardCache(ttl time.Duration, clock timeutil.Clock) *LeaderboardCache {
	if ttl <= 0 {
		ttl = leaderboard.DefaultTTL
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &LeaderboardCache{
		ttl:   ttl,
		clock: clock,
		lists: make(map[leaderboard.Metric]cachedList),
	}
}

func (c *LeaderboardCache) Get(_ context.Context, metric leaderboard.Metric) ([]leaderboard.Entry, bool, error) {
	c.mu.RLock()
	l, ok := c.lists[metric]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if c.clock.Now().Sub(l.storedAt) >= c.ttl {
		c.mu.Lock()
		if cur, ok := c.lists[metric]; ok && cur.storedAt.Equal(l.storedAt) {
			delete(c.lists, metric)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return append([]leaderboard.Entry(nil), l.entries...), true, nil
}

func (c *LeaderboardCache) Set(_ context.Context, metric leaderboard.Metric, entries []leaderboard.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[metric] = cachedList{
		entries:  append([]leaderboard.Entry(nil), entries...),
		storedAt: c.clock.Now(),
	}
	return nil
}

func (c *LeaderboardCache) Invalidate(_ context.Context, metric leaderboard.Metric) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lists, metric)
	return nil
}

func (c *LeaderboardCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists = make(map[leaderboard.Metric]cachedList)
	return nil
}

// Len returns the number of cached lists, expired or not.
func (c *LeaderboardCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lists)
}
