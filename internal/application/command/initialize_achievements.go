package command

import (
	"context"
	"log/slog"

	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// INITIALIZE ACHIEVEMENTS COMMAND
// Reconciles the embedded catalog into the definitions table at startup.
// ══════════════════════════════════════════════════════════════════════════════

// InitializeAchievementsResult reports what reconciliation changed.
type InitializeAchievementsResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// InitializeAchievementsHandler reconciles the catalog.
type InitializeAchievementsHandler struct {
	repo    achievement.Repository
	tx      shared.Transactor
	clock   timeutil.Clock
	catalog func() ([]*achievement.Achievement, error)
	logger  *slog.Logger
}

// NewInitializeAchievementsHandler creates a handler over the embedded catalog.
func NewInitializeAchievementsHandler(repo achievement.Repository, tx shared.Transactor, clock timeutil.Clock, log *slog.Logger) *InitializeAchievementsHandler {
	return &InitializeAchievementsHandler{
		repo:    repo,
		tx:      orNoTx(tx),
		clock:   orSystemClock(clock),
		catalog: achievement.Catalog,
		logger:  logger.OrDefault(log).With("handler", "initialize_achievements"),
	}
}

// WithCatalog replaces the catalog source.
func (h *InitializeAchievementsHandler) WithCatalog(fn func() ([]*achievement.Achievement, error)) *InitializeAchievementsHandler {
	h.catalog = fn
	return h
}

// Handle runs the reconciliation. Running it twice is a no-op.
func (h *InitializeAchievementsHandler) Handle(ctx context.Context) (*InitializeAchievementsResult, error) {
	catalog, err := h.catalog()
	if err != nil {
		return nil, err
	}
	now := h.clock.Now().UTC()

	var res InitializeAchievementsResult
	err = h.tx.WithinTx(ctx, func(ctx context.Context) error {
		stored, err := h.repo.ListAll(ctx)
		if err != nil {
			return err
		}

		plan := achievement.Diff(catalog, stored)
		for _, a := range plan.Insert {
			ins := *a
			ins.CreatedAt, ins.UpdatedAt = now, now
			if err := h.repo.Insert(ctx, &ins); err != nil {
				return err
			}
		}
		for _, a := range plan.Update {
			a.UpdatedAt = now
			if err := h.repo.Update(ctx, a); err != nil {
				return err
			}
		}

		res = InitializeAchievementsResult{
			Created:   len(plan.Insert),
			Updated:   len(plan.Update),
			Unchanged: plan.Unchanged,
		}
		return nil
	})
	if err != nil {
		h.logger.Error("achievement reconciliation failed", logger.Err(err))
		return nil, err
	}

	h.logger.Info("achievements reconciled",
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
		slog.Int("unchanged", res.Unchanged),
	)
	return &res, nil
}
