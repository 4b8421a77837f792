// Package jobs contains the worker's scheduled jobs. Each job adapts one
// application command to the scheduler.Job interface.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/lingotutor/gamification-engine/internal/application/command"
	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH LEADERBOARDS JOB
// ══════════════════════════════════════════════════════════════════════════════

// Refresher regenerates every leaderboard metric.
type Refresher interface {
	Handle(ctx context.Context) leaderboard.RefreshSummary
}

// RefreshLeaderboardsJob rebuilds all rankings, cache rows and rank deltas.
type RefreshLeaderboardsJob struct {
	refresher Refresher
	logger    *slog.Logger

	last atomic.Pointer[leaderboard.RefreshSummary]
}

// NewRefreshLeaderboardsJob creates a new RefreshLeaderboardsJob.
func NewRefreshLeaderboardsJob(refresher Refresher, log *slog.Logger) *RefreshLeaderboardsJob {
	return &RefreshLeaderboardsJob{
		refresher: refresher,
		logger:    logger.OrDefault(log).With(slog.String("job", "refresh_leaderboards")),
	}
}

func (j *RefreshLeaderboardsJob) Name() string { return "refresh_leaderboards" }

func (j *RefreshLeaderboardsJob) Description() string {
	return "Recomputes every leaderboard metric and records rank changes"
}

// Run fails when any metric failed; the others are still refreshed.
func (j *RefreshLeaderboardsJob) Run(ctx context.Context) error {
	summary := j.refresher.Handle(ctx)
	j.last.Store(&summary)

	ranked := 0
	for _, n := range summary.Refreshed {
		ranked += n
	}
	j.logger.Info("leaderboards refreshed",
		slog.Int("metrics", len(summary.Refreshed)),
		slog.Int("ranked", ranked),
		slog.Int("failed", len(summary.Failed)),
		slog.Duration("duration", summary.Duration),
	)

	if len(summary.Failed) == 0 {
		return nil
	}
	failed := make([]string, 0, len(summary.Failed))
	for m, msg := range summary.Failed {
		failed = append(failed, fmt.Sprintf("%s: %s", m, msg))
	}
	sort.Strings(failed)
	return fmt.Errorf("refresh failed for %d metrics: %v", len(failed), failed)
}

// LastSummary returns the summary of the latest run, or nil.
func (j *RefreshLeaderboardsJob) LastSummary() *leaderboard.RefreshSummary {
	return j.last.Load()
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT LEADERBOARDS JOB
// ══════════════════════════════════════════════════════════════════════════════

// Snapshotter stores one snapshot.
type Snapshotter interface {
	Handle(ctx context.Context, cmd command.CreateLeaderboardSnapshotCommand) (*command.CreateLeaderboardSnapshotResult, error)
}

// SnapshotLeaderboardsJob captures the day's top entries for each metric.
// A second run on the same day finds the stored snapshots and creates none.
type SnapshotLeaderboardsJob struct {
	snapshotter Snapshotter
	metrics     []leaderboard.Metric
	period      leaderboard.Period
	logger      *slog.Logger
}

// NewSnapshotLeaderboardsJob creates the job. Empty metrics means all.
func NewSnapshotLeaderboardsJob(snapshotter Snapshotter, metrics []leaderboard.Metric, period leaderboard.Period, log *slog.Logger) *SnapshotLeaderboardsJob {
	if len(metrics) == 0 {
		metrics = leaderboard.Metrics()
	}
	if period == "" {
		period = leaderboard.PeriodDaily
	}
	return &SnapshotLeaderboardsJob{
		snapshotter: snapshotter,
		metrics:     metrics,
		period:      period,
		logger:      logger.OrDefault(log).With(slog.String("job", "snapshot_leaderboards")),
	}
}

func (j *SnapshotLeaderboardsJob) Name() string { return "snapshot_leaderboards" }

func (j *SnapshotLeaderboardsJob) Description() string {
	return "Stores a " + string(j.period) + " snapshot of every leaderboard"
}

func (j *SnapshotLeaderboardsJob) Run(ctx context.Context) error {
	var errs []error
	created := 0
	for _, m := range j.metrics {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := j.snapshotter.Handle(ctx, command.CreateLeaderboardSnapshotCommand{Metric: m, Period: j.period})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m, err))
			continue
		}
		if res.Created {
			created++
		}
	}

	j.logger.Info("leaderboard snapshots stored",
		slog.Int("created", created),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}
