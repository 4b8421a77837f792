package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/streak"
	"github.com/lingotutor/gamification-engine/internal/domain/xp"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

var t0 = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func TestLeaderboardCache_TTL(t *testing.T) {
	ctx := context.Background()
	clock := timeutil.NewManualClock(t0)
	c := NewLeaderboardCache(5*time.Minute, clock)

	entries := []leaderboard.Entry{{Rank: 1, UserID: "a", Score: 10}}
	require.NoError(t, c.Set(ctx, leaderboard.MetricXPAllTime, entries))

	got, ok, err := c.Get(ctx, leaderboard.MetricXPAllTime)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, entries, got)

	clock.Advance(5 * time.Minute)
	_, ok, err = c.Get(ctx, leaderboard.MetricXPAllTime)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestLeaderboardCache_InvalidateAndClear(t *testing.T) {
	ctx := context.Background()
	c := NewLeaderboardCache(time.Minute, timeutil.NewManualClock(t0))

	require.NoError(t, c.Set(ctx, leaderboard.MetricXPAllTime, nil))
	require.NoError(t, c.Set(ctx, leaderboard.MetricStreakCurrent, nil))

	require.NoError(t, c.Invalidate(ctx, leaderboard.MetricXPAllTime))
	_, ok, _ := c.Get(ctx, leaderboard.MetricXPAllTime)
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, leaderboard.MetricStreakCurrent)
	assert.True(t, ok)

	require.NoError(t, c.Clear(ctx))
	assert.Zero(t, c.Len())
}

func TestWithinTx_Nested(t *testing.T) {
	s := NewStore()
	calls := 0
	err := s.WithinTx(context.Background(), func(ctx context.Context) error {
		return s.WithinTx(ctx, func(context.Context) error {
			calls++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestXPRepository_CopiesAndHistory(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repo := s.XP()

	u, err := repo.LockOrCreate(ctx, "u1", t0)
	require.NoError(t, err)
	u.Apply(150, t0)

	stored, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, stored.TotalXP, "unsaved changes must not leak")

	require.NoError(t, repo.Save(ctx, u))
	for i, reason := range []string{"a", "b", "a"} {
		require.NoError(t, repo.AppendTransaction(ctx, &xp.Transaction{
			ID: string(rune('x' + i)), UserID: "u1", Amount: 50, Reason: reason, ReferenceID: "r", CreatedAt: t0,
		}))
	}

	hist, err := repo.History(ctx, "u1", 10, "a")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "z", hist[0].ID)

	seen, err := repo.HasTransaction(ctx, "u1", "b", "r")
	require.NoError(t, err)
	assert.True(t, seen)

	st, err := repo.Statistics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalTransactions)
	assert.Equal(t, 100, st.XPBySource["a"])

	_, err = repo.Statistics(ctx, "nobody")
	assert.ErrorIs(t, err, shared.ErrUserXPNotFound)
}

func TestAchievementRepository_UnlockOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Achievements()
	require.NoError(t, repo.Insert(ctx, &achievement.Achievement{ID: "a1", IsActive: true}))

	ua := &achievement.UserAchievement{ID: "x", UserID: "u1", AchievementID: "a1", Progress: 100}
	require.NoError(t, repo.InsertUnlock(ctx, ua))
	assert.ErrorIs(t, repo.InsertUnlock(ctx, ua), shared.ErrAchievementUnlocked)

	counts, err := repo.CountUnlocked(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"u1": 1}, counts)
}

func TestDirectory_Scores(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.AddUser(shared.User{ID: "u1", Username: "ana"})
	s.AddUser(shared.User{ID: "u2", Username: "ben"})

	for id, total := range map[string]int{"u1": 250, "u2": 0} {
		u, _ := s.XP().LockOrCreate(ctx, id, t0)
		u.Apply(total, t0)
		require.NoError(t, s.XP().Save(ctx, u))
	}
	st := streak.New("u2", "", t0)
	st.CurrentStreak, st.LongestStreak = 4, 9
	require.NoError(t, s.Streaks().Save(ctx, st))

	scores, err := s.Directory().Scores(ctx, leaderboard.MetricXPAllTime, t0, 10)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, "ana", scores[0].Username)
	assert.Equal(t, 3, scores[0].Level)

	scores, err = s.Directory().Scores(ctx, leaderboard.MetricStreakLongest, t0, 10)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, 9, scores[0].Value)

	_, err = s.Directory().Scores(ctx, leaderboard.Metric("bogus"), t0, 10)
	assert.ErrorIs(t, err, shared.ErrUnknownMetric)
}

func TestWithinTx_FailureRestoresTables(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context) error {
		u, err := s.XP().LockOrCreate(ctx, "u1", t0)
		require.NoError(t, err)
		u.Apply(40, t0)
		return s.XP().Save(ctx, u)
	}))

	boom := errors.New("ledger write failed")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		u, err := s.XP().LockOrCreate(ctx, "u1", t0)
		require.NoError(t, err)
		u.Apply(500, t0)
		require.NoError(t, s.XP().Save(ctx, u))
		require.NoError(t, s.Streaks().RecordHistory(ctx, &streak.HistoryEntry{UserID: "u1", ActivityDate: t0, StreakValue: 1}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	u, err := s.XP().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 40, u.TotalXP)

	hist, err := s.Streaks().History(ctx, "u1", t0.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Empty(t, hist)
}
