package xp

import (
	"fmt"
	"math"
	"strings"
)

// Difficulty is a scenario difficulty tier.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

var baseXPByDifficulty = map[Difficulty]int{
	DifficultyBeginner:     50,
	DifficultyIntermediate: 75,
	DifficultyAdvanced:     100,
}

// Bonus rates applied to the difficulty base.
const (
	PerfectRatingRate    = 0.20
	CulturalAccuracyRate = 0.15
	FastCompletionRate   = 0.10

	PerfectRating          = 5
	HighCulturalAccuracy   = 9
	FastCompletionFraction = 0.8
)

// BaseXPFor returns the base XP for a difficulty; unknown tiers earn the
// beginner amount.
func BaseXPFor(d Difficulty) int {
	if base, ok := baseXPByDifficulty[Difficulty(strings.ToLower(string(d)))]; ok {
		return base
	}
	return baseXPByDifficulty[DifficultyBeginner]
}

// ScenarioInput carries the optional signals of one scenario completion.
// Zero values mean "not provided".
type ScenarioInput struct {
	Difficulty        Difficulty
	Rating            int
	CulturalAccuracy  int
	CompletionMinutes int
	EstimatedMinutes  int
	StreakMultiplier  float64
}

// BreakdownLine is one labelled contribution to the total.
type BreakdownLine struct {
	Source string `json:"source"`
	Amount int    `json:"amount"`
}

// ScenarioXP is the calculator result.
type ScenarioXP struct {
	BaseXP           int             `json:"base_xp"`
	RatingBonus      int             `json:"rating_bonus"`
	CulturalBonus    int             `json:"cultural_bonus"`
	SpeedBonus       int             `json:"speed_bonus"`
	Subtotal         int             `json:"subtotal"`
	StreakMultiplier float64         `json:"streak_multiplier"`
	StreakBonus      int             `json:"streak_bonus"`
	TotalXP          int             `json:"total_xp"`
	Breakdown        []BreakdownLine `json:"breakdown"`
}

// CalculateScenarioXP computes the XP for a completed scenario. It has no
// side effects; malformed inputs contribute no bonus.
func CalculateScenarioXP(in ScenarioInput) ScenarioXP {
	base := BaseXPFor(in.Difficulty)

	var rating, cultural, speed int
	if in.Rating == PerfectRating {
		rating = int(float64(base) * PerfectRatingRate)
	}
	if in.CulturalAccuracy >= HighCulturalAccuracy {
		cultural = int(float64(base) * CulturalAccuracyRate)
	}
	if in.CompletionMinutes > 0 && in.EstimatedMinutes > 0 &&
		float64(in.CompletionMinutes) <= float64(in.EstimatedMinutes)*FastCompletionFraction {
		speed = int(float64(base) * FastCompletionRate)
	}

	mult := in.StreakMultiplier
	if mult < 1 || math.IsNaN(mult) || math.IsInf(mult, 0) {
		mult = 1
	}

	subtotal := base + rating + cultural + speed
	streakBonus := int(float64(subtotal) * (mult - 1))

	return ScenarioXP{
		BaseXP:           base,
		RatingBonus:      rating,
		CulturalBonus:    cultural,
		SpeedBonus:       speed,
		Subtotal:         subtotal,
		StreakMultiplier: mult,
		StreakBonus:      streakBonus,
		TotalXP:          subtotal + streakBonus,
		Breakdown: []BreakdownLine{
			{Source: "Base XP", Amount: base},
			{Source: "Perfect Rating", Amount: rating},
			{Source: "Cultural Accuracy", Amount: cultural},
			{Source: "Speed Bonus", Amount: speed},
			{Source: fmt.Sprintf("Streak Bonus (%d%%)", int(math.Round((mult-1)*100))), Amount: streakBonus},
		},
	}
}
