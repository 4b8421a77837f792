package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/streak"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK QUERIES
// Status, per-day history and the XP bonus multiplier, observed on "today"
// in the user's stored timezone.
// ══════════════════════════════════════════════════════════════════════════════

// Default and maximum history windows in days.
const (
	DefaultStreakHistoryDays = 30
	MaxStreakHistoryDays     = 365
)

// GetStreakStatusQuery asks for one user's streak.
type GetStreakStatusQuery struct {
	UserID string
}

// Validate validates the query.
func (q GetStreakStatusQuery) Validate() error {
	_, err := shared.NewUserID(q.UserID)
	return err
}

// GetStreakHistoryQuery asks for the last Days of history.
type GetStreakHistoryQuery struct {
	UserID string
	Days   int
}

// Validate validates the query and applies defaults.
func (q *GetStreakHistoryQuery) Validate() error {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return err
	}
	switch {
	case q.Days < 0:
		return shared.NewDomainError("streak", "History", shared.ErrNegativeValue, "days cannot be negative")
	case q.Days == 0:
		q.Days = DefaultStreakHistoryDays
	case q.Days > MaxStreakHistoryDays:
		q.Days = MaxStreakHistoryDays
	}
	return nil
}

// StreakHandler serves the streak queries.
type StreakHandler struct {
	repo            streak.Repository
	clock           timeutil.Clock
	defaultTimezone string
	logger          *slog.Logger
}

// NewStreakHandler creates a new StreakHandler.
func NewStreakHandler(repo streak.Repository, clock timeutil.Clock, defaultTimezone string, log *slog.Logger) *StreakHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if defaultTimezone == "" {
		defaultTimezone = streak.DefaultTimezone
	}
	return &StreakHandler{
		repo:            repo,
		clock:           clock,
		defaultTimezone: defaultTimezone,
		logger:          logger.OrDefault(log).With("handler", "streak_queries"),
	}
}

// load returns the stored row or an unsaved zero row.
func (h *StreakHandler) load(ctx context.Context, userID string) (*streak.Streak, error) {
	s, err := h.repo.Get(ctx, userID)
	if errors.Is(err, shared.ErrStreakNotFound) {
		return streak.New(userID, h.defaultTimezone, h.clock.Now().UTC()), nil
	}
	return s, err
}

// Status returns the streak status.
func (h *StreakHandler) Status(ctx context.Context, q GetStreakStatusQuery) (*streak.Status, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_streak_status: %w", err)
	}
	s, err := h.load(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	st := s.StatusAt(timeutil.Today(h.clock, s.Timezone))
	return &st, nil
}

// History returns entries within the window, newest first.
func (h *StreakHandler) History(ctx context.Context, q GetStreakHistoryQuery) ([]*streak.HistoryEntry, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_streak_history: %w", err)
	}
	s, err := h.load(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	since := timeutil.AddDays(timeutil.Today(h.clock, s.Timezone), -q.Days)
	return h.repo.History(ctx, q.UserID, since)
}

// Bonus returns the XP multiplier for the user's current streak.
func (h *StreakHandler) Bonus(ctx context.Context, q GetStreakStatusQuery) (float64, error) {
	if err := q.Validate(); err != nil {
		return 1, fmt.Errorf("get_streak_bonus: %w", err)
	}
	s, err := h.load(ctx, q.UserID)
	if err != nil {
		return 1, err
	}
	return streak.BonusMultiplier(s.CurrentStreak), nil
}
