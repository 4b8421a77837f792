package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingotutor/gamification-engine/internal/application/command"
	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/streak"
	"github.com/lingotutor/gamification-engine/internal/domain/xp"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// These tests need a disposable database at POSTGRES_TEST_URL. Owned tables
// are dropped and recreated.
func testConn(t *testing.T) *Connection {
	t.Helper()
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}

	ctx := context.Background()
	conn, err := NewConnection(ctx, url, DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	m := NewMigrator(conn)
	for {
		status, err := m.Status(ctx)
		require.NoError(t, err)
		applied := false
		for _, s := range status {
			applied = applied || s.IsApplied
		}
		if !applied {
			break
		}
		require.NoError(t, m.Rollback(ctx))
	}
	require.NoError(t, m.Migrate(ctx))
	return conn
}

func TestMigrator_StatusAfterMigrate(t *testing.T) {
	conn := testConn(t)

	status, err := NewMigrator(conn).Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status, len(GetMigrations()))
	for _, s := range status {
		assert.True(t, s.IsApplied, s.Name)
	}
}

func TestXPRepository_LedgerAndRollback(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()
	repo := NewXPRepository(conn)
	txm := NewTxManager(conn, logger.Discard())
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	_, err := repo.Get(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrUserXPNotFound)

	err = txm.WithinTx(ctx, func(ctx context.Context) error {
		u, err := repo.LockOrCreate(ctx, "u1", now)
		if err != nil {
			return err
		}
		u.Apply(120, now)
		if err := repo.Save(ctx, u); err != nil {
			return err
		}
		return repo.AppendTransaction(ctx, &xp.Transaction{
			ID: ulid.Make().String(), UserID: "u1", Amount: 120,
			Reason: xp.ReasonScenarioCompletion, ReferenceID: "s1", CreatedAt: now,
		})
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = txm.WithinTx(ctx, func(ctx context.Context) error {
		u, err := repo.LockOrCreate(ctx, "u1", now)
		if err != nil {
			return err
		}
		u.Apply(1000, now)
		if err := repo.Save(ctx, u); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	u, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 120, u.TotalXP)
	assert.Equal(t, 2, u.CurrentLevel)

	has, err := repo.HasTransaction(ctx, "u1", xp.ReasonScenarioCompletion, "s1")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = repo.HasTransaction(ctx, "u1", xp.ReasonScenarioCompletion, "")
	require.NoError(t, err)
	assert.False(t, has)

	st, err := repo.Statistics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalTransactions)
	assert.Equal(t, 120, st.XPBySource[xp.ReasonScenarioCompletion])
}

func TestStreakRepository_HistoryUpsert(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()
	repo := NewStreakRepository(conn)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := repo.GetForUpdate(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrStreakNotFound)

	facts, err := repo.StreakFacts(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, facts.CurrentStreak)

	require.NoError(t, repo.RecordHistory(ctx, &streak.HistoryEntry{UserID: "u1", ActivityDate: day, StreakValue: 1}))
	require.NoError(t, repo.RecordHistory(ctx, &streak.HistoryEntry{UserID: "u1", ActivityDate: day, StreakValue: 2, FreezeUsed: true}))

	hist, err := repo.History(ctx, "u1", day.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 2, hist[0].StreakValue)
	assert.True(t, hist[0].FreezeUsed)
	assert.Equal(t, day, hist[0].ActivityDate)
}

func TestAchievementRepository_DuplicateUnlock(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()
	repo := NewAchievementRepository(conn)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	a := &achievement.Achievement{
		ID: "first_steps", Name: "First Steps", Description: "d",
		Category: achievement.CategoryCompletion, Rarity: achievement.RarityCommon,
		XPReward: 50, IsActive: true, CreatedAt: now, UpdatedAt: now,
		Criteria: achievement.ParseCriteria(map[string]any{"type": "scenario_completions", "count": 1}),
	}
	require.NoError(t, repo.Insert(ctx, a))
	assert.ErrorIs(t, repo.Insert(ctx, a), shared.ErrAlreadyExists)

	got, err := repo.Get(ctx, "first_steps")
	require.NoError(t, err)
	assert.True(t, a.Criteria.Equal(got.Criteria))

	ua := &achievement.UserAchievement{ID: ulid.Make().String(), UserID: "u1", AchievementID: "first_steps", UnlockedAt: now, Progress: 100}
	require.NoError(t, repo.InsertUnlock(ctx, ua))
	ua.ID = ulid.Make().String()
	assert.ErrorIs(t, repo.InsertUnlock(ctx, ua), shared.ErrAchievementUnlocked)

	counts, err := repo.CountUnlocked(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"u1": 1}, counts)
}

func TestLeaderboardRepository_SnapshotUnique(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()
	repo := NewLeaderboardRepository(conn)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	snap := &leaderboard.Snapshot{
		ID: ulid.Make().String(), Metric: leaderboard.MetricXPAllTime, Period: leaderboard.PeriodDaily,
		SnapshotDate: day, Entries: []leaderboard.Entry{{Rank: 1, UserID: "u1", Score: 10, Metric: leaderboard.MetricXPAllTime}},
		TotalEntries: 1, CreatedAt: day,
	}
	require.NoError(t, repo.InsertSnapshot(ctx, snap))
	snap.ID = ulid.Make().String()
	assert.ErrorIs(t, repo.InsertSnapshot(ctx, snap), shared.ErrAlreadyExists)

	got, err := repo.GetSnapshot(ctx, leaderboard.MetricXPAllTime, leaderboard.PeriodDaily, day)
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "u1", got.Entries[0].UserID)

	_, err = repo.GetSnapshot(ctx, leaderboard.MetricXPAllTime, leaderboard.PeriodWeekly, day)
	assert.ErrorIs(t, err, shared.ErrSnapshotNotFound)
}

func TestHealthStatus_Err(t *testing.T) {
	assert.NoError(t, (&HealthStatus{Healthy: true, AcquiredConns: 3, MaxConns: 10}).Err())
	assert.ErrorContains(t, (&HealthStatus{Error: "connection refused"}).Err(), "connection refused")
	assert.ErrorContains(t, (&HealthStatus{Healthy: true, AcquiredConns: 10, MaxConns: 10}).Err(), "10/10")
}

func TestConnection_CheckHealth(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()

	status, err := conn.Health(ctx)
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Positive(t, status.MaxConns)
	assert.NoError(t, conn.CheckHealth(ctx))
}

func TestUseStreakFreeze_ConcurrentCallsSpendOneToken(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()
	repo := NewStreakRepository(conn)
	txm := NewTxManager(conn, logger.Discard())
	clock := timeutil.NewManualClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	_, err := command.NewUpdateStreakHandler(repo, txm, nil, clock, "UTC", logger.Discard()).
		Handle(ctx, command.UpdateStreakCommand{UserID: "u1"})
	require.NoError(t, err)
	st, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, st.GrantFreeze(clock.Now()))
	require.NoError(t, repo.Save(ctx, st))
	clock.Advance(48 * time.Hour)

	freeze := command.NewUseStreakFreezeHandler(repo, txm, nil, clock, logger.Discard())
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := freeze.Handle(ctx, command.UseStreakFreezeCommand{UserID: "u1"})
			if !assert.NoError(t, err) {
				return
			}
			if res.Success {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	st, err = repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalFreezesUsed)
	assert.Zero(t, st.FreezesAvailable)
}

func TestAwardXP_ConcurrentAwardsAreNotLost(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()
	repo := NewXPRepository(conn)
	award := command.NewAwardXPHandler(repo, NewStreakRepository(conn), NewTxManager(conn, logger.Discard()), nil, nil, logger.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := award.Handle(ctx, command.AwardXPCommand{UserID: "u1", Amount: 10, Reason: xp.ReasonStreakBonus})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	u, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 200, u.TotalXP)
	hist, err := repo.History(ctx, "u1", 50, "")
	require.NoError(t, err)
	assert.Len(t, hist, 20)
}
