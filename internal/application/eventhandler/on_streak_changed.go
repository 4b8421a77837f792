package eventhandler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lingotutor/gamification-engine/internal/application/command"
	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
)

// OnStreakChangedHandler re-checks streak achievements after a streak
// update or a freeze use.
type OnStreakChangedHandler struct {
	check  *command.CheckAchievementsHandler
	logger *slog.Logger
}

// NewOnStreakChangedHandler creates a new OnStreakChangedHandler.
func NewOnStreakChangedHandler(check *command.CheckAchievementsHandler, log *slog.Logger) *OnStreakChangedHandler {
	return &OnStreakChangedHandler{
		check:  check,
		logger: logger.OrDefault(log).With("handler", "on_streak_changed"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnStreakChangedHandler) Handle(ctx context.Context, event shared.Event) error {
	var trigger achievement.Trigger
	switch event.EventType() {
	case shared.EventStreakUpdated:
		trigger = achievement.TriggerStreakUpdated
	case shared.EventStreakFreezeUsed:
		trigger = achievement.TriggerStreakFreezeUsed
	default:
		return fmt.Errorf("on_streak_changed: unexpected event %s", event.EventType())
	}

	unlocked := h.check.Handle(ctx, command.CheckAchievementsCommand{
		UserID:    event.AggregateID(),
		Trigger:   trigger,
		EventData: event.Payload(),
	})
	if len(unlocked) > 0 {
		h.logger.Info("streak achievements unlocked",
			logger.UserID(event.AggregateID()),
			slog.String("trigger", string(trigger)),
			slog.Int("count", len(unlocked)),
		)
	}
	return nil
}
