package eventhandler

import (
	"fmt"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
)

// Register subscribes the handlers to their event types.
func Register(sub shared.EventSubscriber, onUnlocked *OnAchievementUnlockedHandler, onStreak *OnStreakChangedHandler) error {
	subs := []struct {
		eventType shared.EventType
		handler   shared.EventHandler
	}{
		{shared.EventAchievementUnlocked, onUnlocked.Handle},
		{shared.EventStreakUpdated, onStreak.Handle},
		{shared.EventStreakFreezeUsed, onStreak.Handle},
	}
	for _, s := range subs {
		if err := sub.Subscribe(s.eventType, s.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.eventType, err)
		}
	}
	return nil
}
