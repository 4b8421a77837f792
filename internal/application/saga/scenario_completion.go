// Package saga contains business processes that orchestrate several
// commands. Each command commits on its own; a saga reports the outcome of
// every step instead of rolling earlier ones back.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lingotutor/gamification-engine/internal/application/command"
	"github.com/lingotutor/gamification-engine/internal/application/query"
	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/streak"
	"github.com/lingotutor/gamification-engine/internal/domain/xp"
	"github.com/lingotutor/gamification-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCENARIO COMPLETION FLOW
// Flow: Streak Bonus → Scenario XP → Award XP → Update Streak →
//
//	Check Achievements
//
// The bonus is read before the streak is updated, so today's practice does
// not raise the multiplier of the completion that caused it.
// ══════════════════════════════════════════════════════════════════════════════

// Step names one stage of the flow.
type Step string

const (
	StepStreakBonus       Step = "streak_bonus"
	StepCalculateXP       Step = "calculate_xp"
	StepAwardXP           Step = "award_xp"
	StepUpdateStreak      Step = "update_streak"
	StepCheckAchievements Step = "check_achievements"
)

// ScenarioCompletionInput describes one finished scenario.
type ScenarioCompletionInput struct {
	UserID     string
	ScenarioID string
	Category   string
	Timezone   string
	xp.ScenarioInput
}

// Validate checks if the input is valid.
func (i ScenarioCompletionInput) Validate() error {
	if _, err := shared.NewUserID(i.UserID); err != nil {
		return err
	}
	if i.ScenarioID == "" {
		return shared.NewDomainError("xp", "Validate", shared.ErrEmptyValue, "scenario_id is required")
	}
	return nil
}

// StepResult records how one step ended.
type StepResult struct {
	Step     Step          `json:"step"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ScenarioCompletionResult collects every step's outcome.
type ScenarioCompletionResult struct {
	UserID       string                     `json:"user_id"`
	ScenarioID   string                     `json:"scenario_id"`
	XP           xp.ScenarioXP              `json:"xp"`
	Award        *command.AwardXPResult     `json:"award,omitempty"`
	Streak       *streak.UpdateResult       `json:"streak,omitempty"`
	Achievements []*achievement.Achievement `json:"achievements_unlocked"`
	Steps        []StepResult               `json:"steps"`
}

// Complete reports whether every step succeeded.
func (r *ScenarioCompletionResult) Complete() bool {
	for _, s := range r.Steps {
		if !s.OK {
			return false
		}
	}
	return true
}

// FailedSteps lists the steps that did not succeed.
func (r *ScenarioCompletionResult) FailedSteps() []Step {
	var failed []Step
	for _, s := range r.Steps {
		if !s.OK {
			failed = append(failed, s.Step)
		}
	}
	return failed
}

// ScenarioCompletionFlow runs the completion steps in order.
type ScenarioCompletionFlow struct {
	bonus        query.StreakBonusReader
	award        *command.AwardXPHandler
	updateStreak *command.UpdateStreakHandler
	check        *command.CheckAchievementsHandler
	logger       *slog.Logger
}

// NewScenarioCompletionFlow creates a new ScenarioCompletionFlow.
func NewScenarioCompletionFlow(
	bonus query.StreakBonusReader,
	award *command.AwardXPHandler,
	updateStreak *command.UpdateStreakHandler,
	check *command.CheckAchievementsHandler,
	log *slog.Logger,
) *ScenarioCompletionFlow {
	return &ScenarioCompletionFlow{
		bonus:        bonus,
		award:        award,
		updateStreak: updateStreak,
		check:        check,
		logger:       logger.OrDefault(log).With("saga", "scenario_completion"),
	}
}

// Execute runs the flow. An error is returned only for invalid input; step
// failures are reported in the result.
func (f *ScenarioCompletionFlow) Execute(ctx context.Context, in ScenarioCompletionInput) (*ScenarioCompletionResult, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("scenario_completion: %w", err)
	}
	log := f.logger.With(logger.UserID(in.UserID), slog.String("scenario_id", in.ScenarioID))

	res := &ScenarioCompletionResult{
		UserID:       in.UserID,
		ScenarioID:   in.ScenarioID,
		Achievements: []*achievement.Achievement{},
	}
	run := func(step Step, fn func() error) {
		start := time.Now()
		err := fn()
		sr := StepResult{Step: step, OK: err == nil, Duration: time.Since(start)}
		if err != nil {
			sr.Error = err.Error()
			log.Warn("step failed", slog.String("step", string(step)), logger.Err(err))
		}
		res.Steps = append(res.Steps, sr)
	}

	scenario := in.ScenarioInput
	run(StepStreakBonus, func() error {
		if scenario.StreakMultiplier != 0 {
			return nil
		}
		scenario.StreakMultiplier = 1
		if f.bonus == nil {
			return nil
		}
		m, err := f.bonus.Bonus(ctx, query.GetStreakStatusQuery{UserID: in.UserID})
		if err != nil {
			return err
		}
		scenario.StreakMultiplier = m
		return nil
	})

	run(StepCalculateXP, func() error {
		res.XP = xp.CalculateScenarioXP(scenario)
		return nil
	})

	run(StepAwardXP, func() error {
		award, err := f.award.Handle(ctx, command.AwardXPCommand{
			UserID:      in.UserID,
			Amount:      res.XP.TotalXP,
			Reason:      xp.ReasonScenarioCompletion,
			ReferenceID: in.ScenarioID,
			Metadata: map[string]any{
				"difficulty":        string(scenario.Difficulty),
				"streak_multiplier": res.XP.StreakMultiplier,
				"breakdown":         res.XP.Breakdown,
			},
		})
		res.Award = award
		return err
	})

	run(StepUpdateStreak, func() error {
		st, err := f.updateStreak.Handle(ctx, command.UpdateStreakCommand{UserID: in.UserID, Timezone: in.Timezone})
		if err != nil {
			return err
		}
		res.Streak = st
		if st.Action == streak.ActionInvalid {
			return errors.New(st.Message)
		}
		return nil
	})

	run(StepCheckAchievements, func() error {
		res.Achievements = f.check.Handle(ctx, command.CheckAchievementsCommand{
			UserID:    in.UserID,
			Trigger:   achievement.TriggerScenarioCompleted,
			EventData: completionEventData(in),
		})
		return nil
	})

	log.Info("scenario completion processed",
		slog.Int("xp", res.XP.TotalXP),
		slog.Int("achievements", len(res.Achievements)),
		slog.Bool("complete", res.Complete()),
	)
	return res, nil
}

func completionEventData(in ScenarioCompletionInput) map[string]any {
	data := map[string]any{
		"scenario_id": in.ScenarioID,
		"difficulty":  string(in.Difficulty),
	}
	if in.Category != "" {
		data["category"] = in.Category
	}
	if in.Rating > 0 {
		data["rating"] = in.Rating
	}
	if in.CulturalAccuracy > 0 {
		data["cultural_accuracy"] = in.CulturalAccuracy
	}
	if in.CompletionMinutes > 0 {
		data["completion_time"] = in.CompletionMinutes
	}
	if in.EstimatedMinutes > 0 {
		data["estimated_time"] = in.EstimatedMinutes
	}
	return data
}
