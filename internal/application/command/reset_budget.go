package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lingotutor/gamification-engine/internal/domain/budget"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESET BUDGET COMMAND
// Closes the current period, writes the audit row and starts a new period
// at now.
// ══════════════════════════════════════════════════════════════════════════════

// ResetBudgetCommand contains the data to reset a budget.
type ResetBudgetCommand struct {
	Actor        shared.User
	TargetUserID string
	Reason       string
}

// Validate validates the command.
func (c ResetBudgetCommand) Validate() error {
	if _, err := shared.NewUserID(c.Actor.ID); err != nil {
		return err
	}
	if _, err := shared.NewUserID(c.TargetUserID); err != nil {
		return err
	}
	if c.Actor.ID != c.TargetUserID && !c.Actor.IsAdmin() {
		return shared.ErrBudgetResetDenied
	}
	return nil
}

// ResetBudgetHandler handles the ResetBudgetCommand.
type ResetBudgetHandler struct {
	repo      budget.Repository
	ledger    budget.CostLedger
	users     shared.UserDirectory
	tx        shared.Transactor
	publisher shared.EventPublisher
	clock     timeutil.Clock
	logger    *slog.Logger
}

// NewResetBudgetHandler creates a new ResetBudgetHandler.
func NewResetBudgetHandler(
	repo budget.Repository,
	ledger budget.CostLedger,
	users shared.UserDirectory,
	tx shared.Transactor,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *slog.Logger,
) *ResetBudgetHandler {
	return &ResetBudgetHandler{
		repo:      repo,
		ledger:    ledger,
		users:     users,
		tx:        orNoTx(tx),
		publisher: orNopPublisher(publisher),
		clock:     orSystemClock(clock),
		logger:    logger.OrDefault(log).With("handler", "reset_budget"),
	}
}

// Handle performs a manual reset.
func (h *ResetBudgetHandler) Handle(ctx context.Context, cmd ResetBudgetCommand) (*budget.ResetResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("reset_budget: %w", err)
	}
	now := h.clock.Now().UTC()

	var entry *budget.ResetLog
	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		s, err := lockBudget(ctx, h.repo, h.users, cmd.TargetUserID, now)
		if err != nil {
			return err
		}
		if err := s.Check(cmd.Actor, budget.ActionReset); err != nil {
			return err
		}

		spent, err := h.ledger.SumCost(ctx, s.UserID, s.CurrentPeriodStart)
		if err != nil {
			return err
		}

		entry = s.Reset(newLedgerID(now), budget.ResetManual, cmd.Actor.ID, spent, strings.TrimSpace(cmd.Reason), now)
		if err := h.repo.InsertResetLog(ctx, entry); err != nil {
			return err
		}
		return h.repo.Save(ctx, s)
	})
	if err != nil {
		h.logger.Warn("budget reset failed",
			logger.UserID(cmd.TargetUserID),
			slog.String("actor", cmd.Actor.ID),
			logger.Err(err),
		)
		return nil, err
	}

	h.logger.Info("budget reset",
		logger.UserID(cmd.TargetUserID),
		slog.String("reset_by", entry.ResetBy),
		slog.Float64("previous_spent", entry.PreviousSpent),
	)
	publishAll(ctx, h.publisher, h.logger, []shared.Event{
		shared.NewBudgetResetEvent(entry.UserID, string(entry.ResetType), entry.ResetBy, entry.PreviousSpent, now),
	})
	res := entry.Result()
	return &res, nil
}
