package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/budget"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE BUDGET SETTINGS COMMAND
// Partial update of a user's budget. Users change their own settings when
// allowed to; admins configure anyone, including the admin-only fields.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateBudgetSettingsCommand contains the data to update budget settings.
type UpdateBudgetSettingsCommand struct {
	Actor        shared.User
	TargetUserID string
	Update       budget.Update
}

// Validate validates the command.
func (c UpdateBudgetSettingsCommand) Validate() error {
	if _, err := shared.NewUserID(c.Actor.ID); err != nil {
		return err
	}
	if _, err := shared.NewUserID(c.TargetUserID); err != nil {
		return err
	}
	if c.Actor.ID != c.TargetUserID && !c.Actor.IsAdmin() {
		return shared.ErrBudgetModifyDenied
	}
	return nil
}

// UpdateBudgetSettingsHandler handles the UpdateBudgetSettingsCommand.
type UpdateBudgetSettingsHandler struct {
	repo   budget.Repository
	users  shared.UserDirectory
	tx     shared.Transactor
	clock  timeutil.Clock
	logger *slog.Logger
}

// NewUpdateBudgetSettingsHandler creates a new UpdateBudgetSettingsHandler.
func NewUpdateBudgetSettingsHandler(
	repo budget.Repository,
	users shared.UserDirectory,
	tx shared.Transactor,
	clock timeutil.Clock,
	log *slog.Logger,
) *UpdateBudgetSettingsHandler {
	return &UpdateBudgetSettingsHandler{
		repo:   repo,
		users:  users,
		tx:     orNoTx(tx),
		clock:  orSystemClock(clock),
		logger: logger.OrDefault(log).With("handler", "update_budget_settings"),
	}
}

// Handle applies the update and returns the new settings.
func (h *UpdateBudgetSettingsHandler) Handle(ctx context.Context, cmd UpdateBudgetSettingsCommand) (*budget.View, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("update_budget_settings: %w", err)
	}
	now := h.clock.Now().UTC()

	var view budget.View
	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		s, err := lockBudget(ctx, h.repo, h.users, cmd.TargetUserID, now)
		if err != nil {
			return err
		}
		if err := s.Check(cmd.Actor, budget.ActionModify); err != nil {
			return err
		}
		if err := s.Apply(cmd.Update, cmd.Actor, now); err != nil {
			return err
		}
		if err := h.repo.Save(ctx, s); err != nil {
			return err
		}
		view = s.View()
		return nil
	})
	if err != nil {
		h.logger.Warn("budget update rejected",
			logger.UserID(cmd.TargetUserID),
			slog.String("actor", cmd.Actor.ID),
			logger.Err(err),
		)
		return nil, err
	}

	h.logger.Info("budget settings updated", logger.UserID(cmd.TargetUserID), slog.String("actor", cmd.Actor.ID))
	return &view, nil
}

// lockBudget returns the user's settings locked for update, creating the
// role defaults on first encounter.
func lockBudget(ctx context.Context, repo budget.Repository, users shared.UserDirectory, userID string, now time.Time) (*budget.Settings, error) {
	u, err := users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return repo.LockOrCreate(ctx, budget.DefaultSettings(userID, u.Role, now))
}
