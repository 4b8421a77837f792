package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD COMMANDS
// Snapshot creation and full refresh, delegated to the ranker.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardWriter is the part of the ranker these commands need.
type LeaderboardWriter interface {
	CreateSnapshot(ctx context.Context, metric leaderboard.Metric, period leaderboard.Period) (*leaderboard.Snapshot, bool, error)
	RefreshAll(ctx context.Context) leaderboard.RefreshSummary
}

// CreateLeaderboardSnapshotCommand names the list to snapshot.
type CreateLeaderboardSnapshotCommand struct {
	Metric leaderboard.Metric

	// Period defaults to daily.
	Period leaderboard.Period
}

// Validate validates the command.
func (c CreateLeaderboardSnapshotCommand) Validate() error {
	if !c.Metric.IsValid() {
		return fmt.Errorf("create_leaderboard_snapshot: %w", shared.ErrUnknownMetric)
	}
	if c.Period != "" {
		if _, ok := leaderboard.ParsePeriod(string(c.Period)); !ok {
			return fmt.Errorf("create_leaderboard_snapshot: %w", shared.ErrInvalidInput)
		}
	}
	return nil
}

// CreateLeaderboardSnapshotResult reports the stored snapshot.
type CreateLeaderboardSnapshotResult struct {
	Snapshot *leaderboard.Snapshot `json:"snapshot"`
	Created  bool                  `json:"created"`
}

// CreateLeaderboardSnapshotHandler handles CreateLeaderboardSnapshotCommand.
type CreateLeaderboardSnapshotHandler struct {
	ranker LeaderboardWriter
	logger *slog.Logger
}

// NewCreateLeaderboardSnapshotHandler creates a new handler.
func NewCreateLeaderboardSnapshotHandler(ranker LeaderboardWriter, log *slog.Logger) *CreateLeaderboardSnapshotHandler {
	return &CreateLeaderboardSnapshotHandler{
		ranker: ranker,
		logger: logger.OrDefault(log).With("handler", "create_leaderboard_snapshot"),
	}
}

// Handle creates the snapshot or returns the one already stored for today.
func (h *CreateLeaderboardSnapshotHandler) Handle(ctx context.Context, cmd CreateLeaderboardSnapshotCommand) (*CreateLeaderboardSnapshotResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	period := cmd.Period
	if period == "" {
		period = leaderboard.PeriodDaily
	}

	snap, created, err := h.ranker.CreateSnapshot(ctx, cmd.Metric, period)
	if err != nil {
		h.logger.Error("snapshot failed", logger.Metric(string(cmd.Metric)), logger.Err(err))
		return nil, err
	}
	return &CreateLeaderboardSnapshotResult{Snapshot: snap, Created: created}, nil
}

// RefreshLeaderboardsHandler regenerates every metric.
type RefreshLeaderboardsHandler struct {
	ranker LeaderboardWriter
}

// NewRefreshLeaderboardsHandler creates a new RefreshLeaderboardsHandler.
func NewRefreshLeaderboardsHandler(ranker LeaderboardWriter) *RefreshLeaderboardsHandler {
	return &RefreshLeaderboardsHandler{ranker: ranker}
}

// Handle runs the refresh; per-metric failures are in the summary.
func (h *RefreshLeaderboardsHandler) Handle(ctx context.Context) leaderboard.RefreshSummary {
	return h.ranker.RefreshAll(ctx)
}
