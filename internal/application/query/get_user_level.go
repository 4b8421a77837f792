// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/xp"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP QUERIES
// Level, ledger history and ledger statistics of one user. Users that never
// earned XP read as a level-1 zero row; nothing is created.
// ══════════════════════════════════════════════════════════════════════════════

// Default and maximum XP history page sizes.
const (
	DefaultXPHistoryLimit = 50
	MaxXPHistoryLimit     = 500
)

// GetUserLevelQuery asks for a user's level.
type GetUserLevelQuery struct {
	UserID string
}

// Validate validates the query.
func (q GetUserLevelQuery) Validate() error {
	_, err := shared.NewUserID(q.UserID)
	return err
}

// GetXPHistoryQuery asks for a user's ledger.
type GetXPHistoryQuery struct {
	UserID string

	// Limit defaults to 50.
	Limit int

	// Reason optionally filters the ledger.
	Reason string
}

// Validate validates the query and applies defaults.
func (q *GetXPHistoryQuery) Validate() error {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return err
	}
	switch {
	case q.Limit < 0:
		return shared.NewDomainError("xp", "History", shared.ErrNegativeValue, "limit cannot be negative")
	case q.Limit == 0:
		q.Limit = DefaultXPHistoryLimit
	case q.Limit > MaxXPHistoryLimit:
		q.Limit = MaxXPHistoryLimit
	}
	return nil
}

// XPTransactionDTO is one ledger row.
type XPTransactionDTO struct {
	ID          string         `json:"id"`
	Amount      int            `json:"xp_amount"`
	Reason      string         `json:"reason"`
	ReferenceID string         `json:"reference_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

// XPHandler serves the XP queries.
type XPHandler struct {
	repo   xp.Repository
	clock  timeutil.Clock
	logger *slog.Logger
}

// NewXPHandler creates a new XPHandler.
func NewXPHandler(repo xp.Repository, clock timeutil.Clock, log *slog.Logger) *XPHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &XPHandler{
		repo:   repo,
		clock:  clock,
		logger: logger.OrDefault(log).With("handler", "xp_queries"),
	}
}

// Level returns the user's level read model.
func (h *XPHandler) Level(ctx context.Context, q GetUserLevelQuery) (*xp.LevelInfo, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_user_level: %w", err)
	}

	u, err := h.repo.Get(ctx, q.UserID)
	if errors.Is(err, shared.ErrUserXPNotFound) {
		u = xp.NewUserXP(q.UserID, h.clock.Now().UTC())
	} else if err != nil {
		return nil, err
	}

	info := u.Info()
	return &info, nil
}

// History returns ledger rows newest first.
func (h *XPHandler) History(ctx context.Context, q GetXPHistoryQuery) ([]XPTransactionDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_xp_history: %w", err)
	}

	txs, err := h.repo.History(ctx, q.UserID, q.Limit, q.Reason)
	if err != nil {
		return nil, err
	}

	out := make([]XPTransactionDTO, 0, len(txs))
	for _, t := range txs {
		out = append(out, XPTransactionDTO{
			ID:          t.ID,
			Amount:      t.Amount,
			Reason:      t.Reason,
			ReferenceID: t.ReferenceID,
			Metadata:    t.Metadata,
			CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

// Statistics aggregates the ledger. A user without XP gets zero totals.
func (h *XPHandler) Statistics(ctx context.Context, q GetUserLevelQuery) (*xp.Statistics, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_xp_statistics: %w", err)
	}

	stats, err := h.repo.Statistics(ctx, q.UserID)
	if errors.Is(err, shared.ErrUserXPNotFound) {
		info := xp.NewUserXP(q.UserID, h.clock.Now().UTC()).Info()
		return &xp.Statistics{
			UserID:        q.UserID,
			CurrentLevel:  info.CurrentLevel,
			Title:         info.Title,
			XPBySource:    map[string]int{},
			XPToNextLevel: info.XPToNextLevel,
			LevelProgress: info.LevelProgress,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SCENARIO XP CALCULATOR
// ══════════════════════════════════════════════════════════════════════════════

// CalculateScenarioXPQuery carries the completion signals. When
// StreakMultiplier is zero and UserID is set, the user's current streak
// bonus is used.
type CalculateScenarioXPQuery struct {
	UserID string
	xp.ScenarioInput
}

// StreakBonusReader resolves a user's current streak multiplier.
type StreakBonusReader interface {
	Bonus(ctx context.Context, q GetStreakStatusQuery) (float64, error)
}

// ScenarioXPHandler serves calculate_scenario_completion_xp.
type ScenarioXPHandler struct {
	streaks StreakBonusReader
	logger  *slog.Logger
}

// NewScenarioXPHandler creates a new ScenarioXPHandler. streaks may be nil.
func NewScenarioXPHandler(streaks StreakBonusReader, log *slog.Logger) *ScenarioXPHandler {
	return &ScenarioXPHandler{
		streaks: streaks,
		logger:  logger.OrDefault(log).With("handler", "scenario_xp"),
	}
}

// Handle computes the XP without side effects.
func (h *ScenarioXPHandler) Handle(ctx context.Context, q CalculateScenarioXPQuery) xp.ScenarioXP {
	in := q.ScenarioInput
	if in.StreakMultiplier == 0 {
		in.StreakMultiplier = 1
		if q.UserID != "" && h.streaks != nil {
			m, err := h.streaks.Bonus(ctx, GetStreakStatusQuery{UserID: q.UserID})
			if err != nil {
				h.logger.Warn("streak bonus lookup failed", logger.UserID(q.UserID), logger.Err(err))
			} else {
				in.StreakMultiplier = m
			}
		}
	}
	return xp.CalculateScenarioXP(in)
}
