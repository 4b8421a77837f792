package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingotutor/gamification-engine/internal/application/command"
	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/pkg/logger"
)

type refresherFunc func(ctx context.Context) leaderboard.RefreshSummary

func (f refresherFunc) Handle(ctx context.Context) leaderboard.RefreshSummary { return f(ctx) }

type snapshotterFunc func(ctx context.Context, cmd command.CreateLeaderboardSnapshotCommand) (*command.CreateLeaderboardSnapshotResult, error)

func (f snapshotterFunc) Handle(ctx context.Context, cmd command.CreateLeaderboardSnapshotCommand) (*command.CreateLeaderboardSnapshotResult, error) {
	return f(ctx, cmd)
}

type rollerFunc func(ctx context.Context) (*command.RolloverResult, error)

func (f rollerFunc) Handle(ctx context.Context) (*command.RolloverResult, error) { return f(ctx) }

func TestRefreshLeaderboardsJob(t *testing.T) {
	summary := leaderboard.RefreshSummary{Refreshed: map[leaderboard.Metric]int{leaderboard.MetricXPAllTime: 3}}
	job := NewRefreshLeaderboardsJob(refresherFunc(func(context.Context) leaderboard.RefreshSummary { return summary }), logger.Discard())

	assert.Equal(t, "refresh_leaderboards", job.Name())
	assert.Nil(t, job.LastSummary())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 3, job.LastSummary().Refreshed[leaderboard.MetricXPAllTime])

	summary.Failed = map[leaderboard.Metric]string{leaderboard.MetricStreakCurrent: "db down"}
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "streak_current: db down")
}

func TestSnapshotLeaderboardsJob(t *testing.T) {
	var seen []leaderboard.Metric
	job := NewSnapshotLeaderboardsJob(snapshotterFunc(func(_ context.Context, cmd command.CreateLeaderboardSnapshotCommand) (*command.CreateLeaderboardSnapshotResult, error) {
		assert.Equal(t, leaderboard.PeriodDaily, cmd.Period)
		seen = append(seen, cmd.Metric)
		if cmd.Metric == leaderboard.MetricXPWeekly {
			return nil, errors.New("boom")
		}
		return &command.CreateLeaderboardSnapshotResult{Created: true}, nil
	}), nil, "", logger.Discard())

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xp_weekly: boom")
	assert.Equal(t, leaderboard.Metrics(), seen, "a failure does not stop the other metrics")
}

func TestRolloverBudgetsJob(t *testing.T) {
	res := &command.RolloverResult{Due: 2, Reset: 2}
	var readErr error
	job := NewRolloverBudgetsJob(rollerFunc(func(context.Context) (*command.RolloverResult, error) { return res, readErr }), logger.Discard())

	assert.Equal(t, "rollover_budget_periods", job.Name())
	require.NoError(t, job.Run(context.Background()))

	res = &command.RolloverResult{Due: 2, Reset: 1, Failed: 1}
	assert.EqualError(t, job.Run(context.Background()), "1 of 2 budget rollovers failed")

	readErr = errors.New("db down")
	assert.ErrorIs(t, job.Run(context.Background()), readErr)
}
