package command

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
// USE STREAK FREEZE COMMAND
// Spends one freeze token to cover a single missed day.
// ══════════════════════════════════════════════════════════════════════════════

// UseStreakFreezeCommand contains the data to use a freeze.
type UseStreakFreezeCommand struct {
	UserID string
}

// Validate validates the command.
func (c UseStreakFreezeCommand) Validate() error {
	_, err := shared.NewUserID(c.UserID)
	return err
}

// UseStreakFreezeHandler handles the UseStreakFreezeCommand.
type UseStreakFreezeHandler struct {
	repo      streak.Repository
	tx        shared.Transactor
	publisher shared.EventPublisher
	clock     timeutil.Clock
	logger    *slog.Logger
}

// NewUseStreakFreezeHandler creates a new UseStreakFreezeHandler.
func NewUseStreakFreezeHandler(
	repo streak.Repository,
	tx shared.Transactor,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *slog.Logger,
) *UseStreakFreezeHandler {
	return &UseStreakFreezeHandler{
		repo:      repo,
		tx:        orNoTx(tx),
		publisher: orNopPublisher(publisher),
		clock:     orSystemClock(clock),
		logger:    logger.OrDefault(log).With("handler", "use_streak_freeze"),
	}
}

// Handle executes the freeze. Rejections come back as a result with
// Success=false.
func (h *UseStreakFreezeHandler) Handle(ctx context.Context, cmd UseStreakFreezeCommand) (*streak.FreezeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("use_streak_freeze: %w", err)
	}
	now := h.clock.Now().UTC()

	var (
		res   streak.FreezeResult
		total int
	)
	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		s, err := h.repo.GetForUpdate(ctx, cmd.UserID)
		if errors.Is(err, shared.ErrStreakNotFound) {
			res = streak.FreezeResult{Message: streak.MsgStreakNotFound}
			return nil
		}
		if err != nil {
			return err
		}

		res = s.UseFreeze(timeutil.Today(h.clock, s.Timezone), now)
		if !res.Success {
			return nil
		}
		total = s.TotalFreezesUsed
		if err := h.repo.Save(ctx, s); err != nil {
			return err
		}
		return h.repo.RecordHistory(ctx, res.History)
	})
	if err != nil {
		h.logger.Error("freeze failed", logger.UserID(cmd.UserID), logger.Err(err))
		return nil, err
	}

	if !res.Success {
		h.logger.Info("freeze rejected", logger.UserID(cmd.UserID), slog.String("reason", res.Message))
		return &res, nil
	}

	h.logger.Info("streak freeze used",
		logger.UserID(cmd.UserID),
		slog.Int("current_streak", res.CurrentStreak),
		slog.Int("freezes_remaining", res.FreezesRemaining),
	)
	publishAll(ctx, h.publisher, h.logger, []shared.Event{
		shared.NewStreakFreezeUsedEvent(cmd.UserID, res.CurrentStreak, res.FreezesRemaining, total, now),
	})
	return &res, nil
}
