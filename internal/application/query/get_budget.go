package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lingotutor/gamification-engine/internal/domain/budget"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// BUDGET QUERIES
// Settings, status, usage breakdown and reset history behind the view
// permission gate. The first read of a user creates the role defaults.
// ══════════════════════════════════════════════════════════════════════════════

// GetBudgetQuery names the viewer and the budget owner.
type GetBudgetQuery struct {
	Viewer       shared.User
	TargetUserID string
}

// Validate validates the query. Non-admins may only read their own budget.
func (q GetBudgetQuery) Validate() error {
	if _, err := shared.NewUserID(q.Viewer.ID); err != nil {
		return err
	}
	if _, err := shared.NewUserID(q.TargetUserID); err != nil {
		return err
	}
	if q.Viewer.ID != q.TargetUserID && !q.Viewer.IsAdmin() {
		return shared.ErrBudgetHidden
	}
	return nil
}

// GetResetHistoryQuery asks for the reset audit log.
type GetResetHistoryQuery struct {
	GetBudgetQuery

	// Limit is clamped to 1..100, default 20.
	Limit int
}

// BudgetHandler serves the budget queries.
type BudgetHandler struct {
	repo   budget.Repository
	ledger budget.CostLedger
	users  shared.UserDirectory
	tx     shared.Transactor
	clock  timeutil.Clock
	logger *slog.Logger
}

// NewBudgetHandler creates a new BudgetHandler.
func NewBudgetHandler(
	repo budget.Repository,
	ledger budget.CostLedger,
	users shared.UserDirectory,
	tx shared.Transactor,
	clock timeutil.Clock,
	log *slog.Logger,
) *BudgetHandler {
	if tx == nil {
		tx = shared.NoTx{}
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &BudgetHandler{
		repo:   repo,
		ledger: ledger,
		users:  users,
		tx:     tx,
		clock:  clock,
		logger: logger.OrDefault(log).With("handler", "budget_queries"),
	}
}

// settings loads (or lazily creates) the target's settings and applies the
// view gate.
func (h *BudgetHandler) settings(ctx context.Context, q GetBudgetQuery) (*budget.Settings, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var s *budget.Settings
	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		u, err := h.users.GetUser(ctx, q.TargetUserID)
		if err != nil {
			return err
		}
		s, err = h.repo.LockOrCreate(ctx, budget.DefaultSettings(q.TargetUserID, u.Role, h.clock.Now().UTC()))
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := s.Check(q.Viewer, budget.ActionView); err != nil {
		return nil, err
	}
	return s, nil
}

// Settings returns the settings view.
func (h *BudgetHandler) Settings(ctx context.Context, q GetBudgetQuery) (*budget.View, error) {
	s, err := h.settings(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("get_budget_settings: %w", err)
	}
	v := s.View()
	return &v, nil
}

// Status returns spend against the limit for the current period.
func (h *BudgetHandler) Status(ctx context.Context, q GetBudgetQuery) (*budget.Status, error) {
	s, err := h.settings(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("get_budget_status: %w", err)
	}

	spent, err := h.ledger.SumCost(ctx, s.UserID, s.CurrentPeriodStart)
	if err != nil {
		h.logger.Warn("cost ledger read failed", logger.UserID(s.UserID), logger.Err(err))
		return nil, err
	}
	st := s.StatusFor(spent, q.Viewer, h.clock.Now().UTC())
	return &st, nil
}

// Breakdown aggregates the current period's usage.
func (h *BudgetHandler) Breakdown(ctx context.Context, q GetBudgetQuery) (*budget.Breakdown, error) {
	s, err := h.settings(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("get_usage_breakdown: %w", err)
	}

	records, err := h.ledger.UsageSince(ctx, s.UserID, s.CurrentPeriodStart)
	if err != nil {
		h.logger.Warn("cost ledger read failed", logger.UserID(s.UserID), logger.Err(err))
		return nil, err
	}
	b := s.BreakdownFor(records)
	return &b, nil
}

// ResetHistory returns reset audit rows, newest first.
func (h *BudgetHandler) ResetHistory(ctx context.Context, q GetResetHistoryQuery) ([]*budget.ResetLog, error) {
	if _, err := h.settings(ctx, q.GetBudgetQuery); err != nil {
		return nil, fmt.Errorf("get_reset_history: %w", err)
	}
	return h.repo.ResetHistory(ctx, q.TargetUserID, budget.ClampHistoryLimit(q.Limit))
}

// List returns every user's settings. Admin only.
func (h *BudgetHandler) List(ctx context.Context, viewer shared.User) ([]budget.View, error) {
	if !viewer.IsAdmin() {
		return nil, shared.NewDomainError("budget", "List", shared.ErrForbidden, "admin access required")
	}

	all, err := h.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]budget.View, 0, len(all))
	for _, s := range all {
		out = append(out, s.View())
	}
	return out, nil
}
