package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/streak"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE STREAK COMMAND
// Records one qualifying activity for "today" in the user's timezone.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateStreakCommand contains the data to update a streak.
type UpdateStreakCommand struct {
	UserID string

	// Timezone is used only when the streak row is created.
	Timezone string
}

// Validate validates the command.
func (c UpdateStreakCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if c.Timezone != "" && !timeutil.ValidTimezone(c.Timezone) {
		return shared.ErrInvalidTimezone
	}
	return nil
}

// UpdateStreakHandler handles the UpdateStreakCommand.
type UpdateStreakHandler struct {
	repo            streak.Repository
	tx              shared.Transactor
	publisher       shared.EventPublisher
	clock           timeutil.Clock
	defaultTimezone string
	logger          *slog.Logger
}

// NewUpdateStreakHandler creates a new UpdateStreakHandler.
func NewUpdateStreakHandler(
	repo streak.Repository,
	tx shared.Transactor,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	defaultTimezone string,
	log *slog.Logger,
) *UpdateStreakHandler {
	if defaultTimezone == "" {
		defaultTimezone = streak.DefaultTimezone
	}
	return &UpdateStreakHandler{
		repo:            repo,
		tx:              orNoTx(tx),
		publisher:       orNopPublisher(publisher),
		clock:           orSystemClock(clock),
		defaultTimezone: defaultTimezone,
		logger:          logger.OrDefault(log).With("handler", "update_streak"),
	}
}

// Handle executes the update.
func (h *UpdateStreakHandler) Handle(ctx context.Context, cmd UpdateStreakCommand) (*streak.UpdateResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("update_streak: %w", err)
	}
	tz := cmd.Timezone
	if tz == "" {
		tz = h.defaultTimezone
	}
	now := h.clock.Now().UTC()

	var res streak.UpdateResult
	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		s, err := h.repo.LockOrCreate(ctx, cmd.UserID, tz, now)
		if err != nil {
			return err
		}

		res = s.RecordActivity(timeutil.Today(h.clock, s.Timezone), now)
		if !res.Action.Mutates() {
			return nil
		}
		if err := h.repo.Save(ctx, s); err != nil {
			return err
		}
		if res.History != nil {
			return h.repo.RecordHistory(ctx, res.History)
		}
		return nil
	})
	if err != nil {
		h.logger.Error("streak update failed", logger.UserID(cmd.UserID), logger.Err(err))
		return nil, err
	}

	log := h.logger.With(logger.UserID(cmd.UserID), slog.String("action", string(res.Action)))
	switch {
	case res.Action == streak.ActionInvalid:
		log.Warn("last activity date is in the future; streak left unchanged")
		return &res, nil
	case !res.Action.Mutates():
		log.Debug("streak unchanged")
		return &res, nil
	}

	log.Info("streak updated", slog.Int("current_streak", res.CurrentStreak))
	milestone := 0
	if res.MilestoneReached {
		milestone = res.CurrentStreak
	}
	publishAll(ctx, h.publisher, h.logger, []shared.Event{
		shared.NewStreakUpdatedEvent(cmd.UserID, string(res.Action), res.CurrentStreak, res.LongestStreak, res.FreezeEarned, milestone, now),
	})
	return &res, nil
}
