package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lingotutor/gamification-engine/internal/application/command"
	"github.com/lingotutor/gamification-engine/pkg/logger"
)

// Roller resets every budget whose period has ended.
type Roller interface {
	Handle(ctx context.Context) (*command.RolloverResult, error)
}

// RolloverBudgetsJob starts new budget periods with automatic resets.
type RolloverBudgetsJob struct {
	roller Roller
	logger *slog.Logger
}

// NewRolloverBudgetsJob creates a new RolloverBudgetsJob.
func NewRolloverBudgetsJob(roller Roller, log *slog.Logger) *RolloverBudgetsJob {
	return &RolloverBudgetsJob{
		roller: roller,
		logger: logger.OrDefault(log).With(slog.String("job", "rollover_budget_periods")),
	}
}

func (j *RolloverBudgetsJob) Name() string { return "rollover_budget_periods" }

func (j *RolloverBudgetsJob) Description() string {
	return "Resets budgets whose period has ended and writes the audit log"
}

// Run fails when the due list could not be read or any user failed.
func (j *RolloverBudgetsJob) Run(ctx context.Context) error {
	res, err := j.roller.Handle(ctx)
	if err != nil {
		return err
	}
	if res.Due > 0 {
		j.logger.Info("budget periods rolled over",
			slog.Int("due", res.Due),
			slog.Int("reset", res.Reset),
			slog.Int("failed", res.Failed),
			slog.Duration("duration", res.Duration),
		)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d budget rollovers failed", res.Failed, res.Due)
	}
	return nil
}
