package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/budget"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROLLOVER BUDGETS COMMAND
// Starts a new period for every user whose period has ended. Run by the
// worker; each user is reset in its own transaction.
// ══════════════════════════════════════════════════════════════════════════════

// RolloverResult summarizes one rollover run.
type RolloverResult struct {
	Due      int           `json:"due"`
	Reset    int           `json:"reset"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// RolloverBudgetsHandler performs automatic period resets.
type RolloverBudgetsHandler struct {
	repo      budget.Repository
	ledger    budget.CostLedger
	tx        shared.Transactor
	publisher shared.EventPublisher
	clock     timeutil.Clock
	logger    *slog.Logger
}

// NewRolloverBudgetsHandler creates a new RolloverBudgetsHandler.
func NewRolloverBudgetsHandler(
	repo budget.Repository,
	ledger budget.CostLedger,
	tx shared.Transactor,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *slog.Logger,
) *RolloverBudgetsHandler {
	return &RolloverBudgetsHandler{
		repo:      repo,
		ledger:    ledger,
		tx:        orNoTx(tx),
		publisher: orNopPublisher(publisher),
		clock:     orSystemClock(clock),
		logger:    logger.OrDefault(log).With("handler", "rollover_budgets"),
	}
}

// Handle resets every due budget. Per-user failures are logged and counted.
func (h *RolloverBudgetsHandler) Handle(ctx context.Context) (*RolloverResult, error) {
	start := time.Now()
	now := h.clock.Now().UTC()

	due, err := h.repo.DueForRollover(ctx, now)
	if err != nil {
		return nil, err
	}

	res := &RolloverResult{Due: len(due)}
	for _, userID := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		entry, err := h.rollover(ctx, userID, now)
		if err != nil {
			res.Failed++
			h.logger.Error("budget rollover failed", logger.UserID(userID), logger.Err(err))
			continue
		}
		if entry == nil {
			continue
		}
		res.Reset++
		publishAll(ctx, h.publisher, h.logger, []shared.Event{
			shared.NewBudgetResetEvent(entry.UserID, string(entry.ResetType), entry.ResetBy, entry.PreviousSpent, now),
		})
	}

	res.Duration = time.Since(start)
	if res.Due > 0 {
		h.logger.Info("budget periods rolled over",
			slog.Int("due", res.Due),
			slog.Int("reset", res.Reset),
			slog.Int("failed", res.Failed),
			logger.Latency(start),
		)
	}
	return res, nil
}

func (h *RolloverBudgetsHandler) rollover(ctx context.Context, userID string, now time.Time) (*budget.ResetLog, error) {
	var entry *budget.ResetLog
	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		s, err := h.repo.Get(ctx, userID)
		if err != nil {
			return err
		}
		// A manual reset may have started a new period since the scan.
		if !s.NeedsRollover(now) {
			return nil
		}

		spent, err := h.ledger.SumCost(ctx, userID, s.CurrentPeriodStart)
		if err != nil {
			return err
		}
		entry = s.Reset(newLedgerID(now), budget.ResetAutomatic, "system", spent, "", now)
		if err := h.repo.InsertResetLog(ctx, entry); err != nil {
			return err
		}
		return h.repo.Save(ctx, s)
	})
	return entry, err
}
