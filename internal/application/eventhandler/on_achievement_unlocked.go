// Package eventhandler contains reactions to domain events. Handlers are
// registered on the event bus and run after the publishing transaction has
// committed, so a failure here never undoes the original write.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lingotutor/gamification-engine/internal/application/command"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/xp"
	"github.com/lingotutor/gamification-engine/pkg/logger"
)

// FlagAchievementRewards gates the XP reward for unlocked achievements.
const FlagAchievementRewards = "gamification.achievement_rewards"

// FlagChecker answers per-user feature flag lookups.
type FlagChecker interface {
	IsEnabledFor(name, userID string) bool
}

// ═══════════════════════════════════════════════════════════════════════════
// ON ACHIEVEMENT UNLOCKED HANDLER
// Pays the achievement's XP reward. The award uses the achievement id as
// reference, so a redelivered event is answered as a duplicate.
// ═══════════════════════════════════════════════════════════════════════════

// OnAchievementUnlockedHandler awards XP for unlocked achievements.
type OnAchievementUnlockedHandler struct {
	award  *command.AwardXPHandler
	flags  FlagChecker
	logger *slog.Logger
}

// NewOnAchievementUnlockedHandler creates the handler. A nil flags checker
// leaves rewards enabled.
func NewOnAchievementUnlockedHandler(award *command.AwardXPHandler, flags FlagChecker, log *slog.Logger) *OnAchievementUnlockedHandler {
	return &OnAchievementUnlockedHandler{
		award:  award,
		flags:  flags,
		logger: logger.OrDefault(log).With("handler", "on_achievement_unlocked"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnAchievementUnlockedHandler) Handle(ctx context.Context, event shared.Event) error {
	var e shared.AchievementUnlockedEvent
	switch v := event.(type) {
	case shared.AchievementUnlockedEvent:
		e = v
	case *shared.AchievementUnlockedEvent:
		e = *v
	default:
		if event.EventType() != shared.EventAchievementUnlocked {
			return fmt.Errorf("on_achievement_unlocked: unexpected event %s", event.EventType())
		}
		e = fromPayload(event)
	}

	userID := e.AggregateID()
	log := h.logger.With(logger.UserID(userID), logger.AchievementID(e.AchievementID))

	if e.XPReward <= 0 {
		return nil
	}
	if h.flags != nil && !h.flags.IsEnabledFor(FlagAchievementRewards, userID) {
		log.Debug("achievement rewards disabled")
		return nil
	}

	res, err := h.award.Handle(ctx, command.AwardXPCommand{
		UserID:      userID,
		Amount:      e.XPReward,
		Reason:      xp.ReasonAchievementUnlocked,
		ReferenceID: e.AchievementID,
		Idempotent:  true,
		Metadata: map[string]any{
			"achievement_name": e.Name,
			"rarity":           e.Rarity,
		},
	})
	if err != nil {
		return fmt.Errorf("on_achievement_unlocked: %w", err)
	}
	if res.Duplicate {
		log.Debug("reward already paid")
		return nil
	}

	log.Info("achievement reward paid", logger.XPAmount(e.XPReward), slog.Int("total_xp", res.TotalXP))
	return nil
}

// fromPayload rebuilds an event that arrived from another instance.
func fromPayload(event shared.Event) shared.AchievementUnlockedEvent {
	p := event.Payload()
	str := func(k string) string {
		v, _ := p[k].(string)
		return v
	}
	reward := 0
	switch v := p["xp_reward"].(type) {
	case int:
		reward = v
	case float64:
		reward = int(v)
	}
	return shared.NewAchievementUnlockedEvent(event.AggregateID(), str("achievement_id"), str("name"), str("rarity"), reward, event.OccurredAt())
}
