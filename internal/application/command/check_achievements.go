package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK ACHIEVEMENTS COMMAND
// Evaluates the achievements an activity can satisfy and unlocks the ones
// that are met.
// ══════════════════════════════════════════════════════════════════════════════

// CheckAchievementsCommand contains the triggering activity.
type CheckAchievementsCommand struct {
	UserID    string
	Trigger   achievement.Trigger
	EventData map[string]any
}

// Validate validates the command.
func (c CheckAchievementsCommand) Validate() error {
	_, err := shared.NewUserID(c.UserID)
	return err
}

// CheckAchievementsHandler handles the CheckAchievementsCommand.
type CheckAchievementsHandler struct {
	repo      achievement.Repository
	evaluator *achievement.Evaluator
	unlock    *UnlockAchievementHandler
	logger    *slog.Logger
}

// NewCheckAchievementsHandler creates a new CheckAchievementsHandler.
func NewCheckAchievementsHandler(
	repo achievement.Repository,
	evaluator *achievement.Evaluator,
	unlock *UnlockAchievementHandler,
	log *slog.Logger,
) *CheckAchievementsHandler {
	return &CheckAchievementsHandler{
		repo:      repo,
		evaluator: evaluator,
		unlock:    unlock,
		logger:    logger.OrDefault(log).With("handler", "check_achievements"),
	}
}

// Handle returns the achievements newly unlocked by this activity. A failure
// is logged and stops the check; unlocks committed before it are still
// returned.
func (h *CheckAchievementsHandler) Handle(ctx context.Context, cmd CheckAchievementsCommand) []*achievement.Achievement {
	unlocked := []*achievement.Achievement{}
	if err := cmd.Validate(); err != nil {
		h.logger.Warn("invalid check request", logger.Err(fmt.Errorf("check_achievements: %w", err)))
		return unlocked
	}
	log := h.logger.With(logger.UserID(cmd.UserID), slog.String("trigger", string(cmd.Trigger)))

	if !cmd.Trigger.Known() {
		log.Debug("trigger has no relevant achievements")
		return unlocked
	}

	defs, err := h.repo.ListActive(ctx)
	if err != nil {
		log.Error("load achievements failed", logger.Err(err))
		return unlocked
	}

	for _, def := range defs {
		if !achievement.IsRelevant(cmd.Trigger, def.Criteria.Kind) {
			continue
		}

		have, err := h.repo.FindUnlock(ctx, cmd.UserID, def.ID)
		if err != nil {
			return h.abort(log, def.ID, err, unlocked)
		}
		if have != nil {
			continue
		}

		met, err := h.evaluator.Evaluate(ctx, cmd.UserID, def.Criteria, cmd.EventData)
		if err != nil {
			return h.abort(log, def.ID, err, unlocked)
		}
		if !met {
			continue
		}

		ua, err := h.unlock.Handle(ctx, UnlockAchievementCommand{
			UserID:        cmd.UserID,
			AchievementID: def.ID,
			Metadata:      achievement.UnlockMetadata(cmd.Trigger, cmd.EventData),
		})
		if err != nil {
			return h.abort(log, def.ID, err, unlocked)
		}
		if ua != nil {
			unlocked = append(unlocked, def)
		}
	}

	if len(unlocked) > 0 {
		log.Info("achievements unlocked", slog.Int("count", len(unlocked)))
	}
	return unlocked
}

func (h *CheckAchievementsHandler) abort(log *slog.Logger, id string, err error, unlocked []*achievement.Achievement) []*achievement.Achievement {
	log.Error("achievement check failed",
		logger.AchievementID(id),
		slog.Int("unlocked_before_failure", len(unlocked)),
		logger.Err(err),
	)
	return unlocked
}
