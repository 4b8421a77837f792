package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingotutor/gamification-engine/internal/domain/budget"
	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/infrastructure/persistence/memory"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store *memory.Store
	clock *timeutil.ManualClock
	cache *memory.LeaderboardCache
	svc   *LeaderboardService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	clock := timeutil.NewManualClock(t0)
	cache := memory.NewLeaderboardCache(5*time.Minute, clock)
	svc := NewLeaderboardService(
		store.Directory(), store.Leaderboard(), cache, store.Directory(),
		store, nil, clock, LeaderboardConfig{TTL: 5 * time.Minute}, logger.Discard(),
	)
	return &fixture{store: store, clock: clock, cache: cache, svc: svc}
}

func (f *fixture) setXP(t *testing.T, userID string, total int) {
	t.Helper()
	ctx := context.Background()
	f.store.AddUser(shared.User{ID: userID, Username: "user-" + userID})
	u, err := f.store.XP().LockOrCreate(ctx, userID, t0)
	require.NoError(t, err)
	u.Apply(total-u.TotalXP, t0)
	require.NoError(t, f.store.XP().Save(ctx, u))
}

func TestLeaderboard_DenseRanksAndZeroExclusion(t *testing.T) {
	f := newFixture(t)
	f.setXP(t, "a", 300)
	f.setXP(t, "b", 500)
	f.setXP(t, "c", 300)
	f.setXP(t, "d", 0)

	entries := f.svc.Leaderboard(context.Background(), leaderboard.MetricXPAllTime, 10, false)

	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Rank)
	}
	assert.Equal(t, []string{"b", "a", "c"}, []string{entries[0].UserID, entries[1].UserID, entries[2].UserID})
	assert.Equal(t, "user-b", entries[0].Username)
	assert.NotZero(t, entries[0].Level)
}

func TestLeaderboard_ServesCacheWithinTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setXP(t, "a", 100)

	require.Len(t, f.svc.Leaderboard(ctx, leaderboard.MetricXPAllTime, 10, true), 1)
	f.setXP(t, "b", 200)

	assert.Len(t, f.svc.Leaderboard(ctx, leaderboard.MetricXPAllTime, 10, true), 1, "cached list")
	assert.Len(t, f.svc.Leaderboard(ctx, leaderboard.MetricXPAllTime, 10, false), 2, "forced refresh")

	f.setXP(t, "c", 300)
	f.clock.Advance(5 * time.Minute)
	assert.Len(t, f.svc.Leaderboard(ctx, leaderboard.MetricXPAllTime, 10, true), 3, "expired cache")
}

func TestLeaderboard_UnknownMetricIsEmpty(t *testing.T) {
	f := newFixture(t)
	assert.Empty(t, f.svc.Leaderboard(context.Background(), "bogus", 10, true))
	assert.Nil(t, f.svc.UserRank(context.Background(), "a", "bogus"))
}

func TestUserRank_TracksRankChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setXP(t, "a", 500)
	f.setXP(t, "b", 300)
	f.setXP(t, "c", 100)

	info := f.svc.UserRank(ctx, "c", leaderboard.MetricXPAllTime)
	require.NotNil(t, info)
	assert.Equal(t, 3, info.Rank)
	assert.Nil(t, info.PreviousRank)
	assert.Equal(t, leaderboard.RankDirectionNew, info.Direction)
	assert.InDelta(t, 100.0, info.Percentile, 1e-9)

	f.setXP(t, "c", 1000)
	stale := f.svc.UserRank(ctx, "c", leaderboard.MetricXPAllTime)
	assert.Equal(t, 3, stale.Rank, "fresh row served until TTL")

	f.clock.Advance(6 * time.Minute)
	info = f.svc.UserRank(ctx, "c", leaderboard.MetricXPAllTime)
	require.NotNil(t, info)
	assert.Equal(t, 1, info.Rank)
	require.NotNil(t, info.PreviousRank)
	assert.Equal(t, 3, *info.PreviousRank)
	assert.Equal(t, leaderboard.RankChange(2), info.RankChange)
	assert.Equal(t, leaderboard.RankDirectionUp, info.Direction)
	assert.InDelta(t, 33.33, info.Percentile, 1e-9)

	assert.Nil(t, f.svc.UserRank(ctx, "nobody", leaderboard.MetricXPAllTime))
}

func TestCreateSnapshot_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setXP(t, "a", 100)

	first, created, err := f.svc.CreateSnapshot(ctx, leaderboard.MetricXPAllTime, leaderboard.PeriodDaily)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, first.TotalEntries)

	f.setXP(t, "b", 200)
	f.clock.Advance(time.Hour)
	second, created, err := f.svc.CreateSnapshot(ctx, leaderboard.MetricXPAllTime, leaderboard.PeriodDaily)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, second.TotalEntries)

	hist := f.svc.Historical(ctx, leaderboard.MetricXPAllTime, leaderboard.PeriodDaily, t0)
	assert.Len(t, hist, 1)
	assert.Empty(t, f.svc.Historical(ctx, leaderboard.MetricXPAllTime, leaderboard.PeriodWeekly, t0))
}

func TestRefreshAll(t *testing.T) {
	f := newFixture(t)
	f.setXP(t, "a", 100)

	sum := f.svc.RefreshAll(context.Background())

	assert.Len(t, sum.Refreshed, len(leaderboard.Metrics()))
	assert.Empty(t, sum.Failed)
	assert.Equal(t, 1, sum.Refreshed[leaderboard.MetricXPAllTime])
	assert.Equal(t, 0, sum.Refreshed[leaderboard.MetricScenariosCompleted])
}

type failingLedger struct{ calls int }

func (l *failingLedger) SumCost(context.Context, string, time.Time) (float64, error) {
	l.calls++
	return 0, errors.New("connection refused")
}

func (l *failingLedger) UsageSince(context.Context, string, time.Time) ([]budget.UsageRecord, error) {
	l.calls++
	return nil, errors.New("connection refused")
}

func TestGuardedCostLedger_OpensBreaker(t *testing.T) {
	inner := &failingLedger{}
	g := NewGuardedCostLedger(inner, 1, time.Hour, logger.Discard())
	ctx := context.Background()

	_, err := g.SumCost(ctx, "u1", t0)
	require.Error(t, err)
	assert.False(t, errors.Is(err, shared.ErrCostLedgerUnavailable))
	assert.Equal(t, 2, inner.calls, "one retry")

	_, err = g.UsageSince(ctx, "u1", t0)
	assert.ErrorIs(t, err, shared.ErrCostLedgerUnavailable)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.Equal(t, 2, inner.calls, "open breaker short-circuits")
}

func TestGuardedCostLedger_PassesThrough(t *testing.T) {
	store := memory.NewStore()
	store.RecordUsage("u1", budget.UsageRecord{Provider: "p", Cost: 1.5, CreatedAt: t0})
	store.RecordUsage("u1", budget.UsageRecord{Provider: "p", Cost: 2.5, CreatedAt: t0.Add(-48 * time.Hour)})
	g := NewGuardedCostLedger(store.Budgets(), 5, time.Minute, logger.Discard())

	total, err := g.SumCost(context.Background(), "u1", t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1.5, total)
}
