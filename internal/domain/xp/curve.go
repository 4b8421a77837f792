// Package xp implements the experience-point leveling curve, title brackets,
// award arithmetic and the scenario completion XP calculator.
//
// Everything in this package is pure: persistence and locking live in the
// application layer.
package xp

import "math"

const (
	// BaseXP is the XP needed to go from level 1 to level 2.
	BaseXP = 100

	// Multiplier grows each subsequent level increment.
	Multiplier = 1.15

	// MinLevel and MaxLevel bound every stored level.
	MinLevel = 1
	MaxLevel = 100
)

// cumulative[n] is the total XP needed to reach level n (index 0 unused).
// It extends to MaxLevel+1 so the in-level span of level 100 is defined.
var cumulative = buildCumulative()

func buildCumulative() [MaxLevel + 2]int {
	var table [MaxLevel + 2]int
	for n := MinLevel + 1; n <= MaxLevel+1; n++ {
		table[n] = table[n-1] + Increment(n-1)
	}
	return table
}

// Increment returns the XP needed to go from level to level+1:
// floor(BaseXP * Multiplier^(level-1)).
func Increment(level int) int {
	if level < MinLevel {
		level = MinLevel
	}
	return int(math.Floor(BaseXP * math.Pow(Multiplier, float64(level-1))))
}

// Cumulative returns the total XP required to reach level. Levels below 1
// return 0; levels above 101 are clamped.
func Cumulative(level int) int {
	switch {
	case level <= MinLevel:
		return 0
	case level > MaxLevel+1:
		return cumulative[MaxLevel+1]
	}
	return cumulative[level]
}

// LevelFromXP returns the largest level N (capped at MaxLevel) such that
// Cumulative(N) <= totalXP. Negative totals are level 1.
func LevelFromXP(totalXP int) int {
	if totalXP <= 0 {
		return MinLevel
	}
	lo, hi := MinLevel, MaxLevel
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if cumulative[mid] <= totalXP {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// Progress describes where a total sits inside its level.
type Progress struct {
	Level         int
	XPInLevel     int
	XPToNextLevel int
	ProgressPct   float64
	IsMaxLevel    bool
}

// ProgressFor derives level, XP to next level and progress percentage
// (rounded to two decimals) from a total.
func ProgressFor(totalXP int) Progress {
	if totalXP < 0 {
		totalXP = 0
	}
	level := LevelFromXP(totalXP)
	if level >= MaxLevel {
		return Progress{Level: MaxLevel, XPInLevel: totalXP - cumulative[MaxLevel], ProgressPct: 100, IsMaxLevel: true}
	}

	span := cumulative[level+1] - cumulative[level]
	in := totalXP - cumulative[level]
	return Progress{
		Level:         level,
		XPInLevel:     in,
		XPToNextLevel: span - in,
		ProgressPct:   round2(float64(in) / float64(span) * 100),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ══════════════════════════════════════════════════════════════════════════════
// TITLES
// ══════════════════════════════════════════════════════════════════════════════

// Title is a level bracket name.
type Title string

const (
	TitleNovice     Title = "Novice"
	TitleLearner    Title = "Learner"
	TitleEnthusiast Title = "Enthusiast"
	TitleExpert     Title = "Expert"
	TitleMaster     Title = "Master"
	TitleVirtuoso   Title = "Virtuoso"
	TitleLegend     Title = "Legend"
)

// TitleThreshold pairs a title with the minimum level that earns it.
type TitleThreshold struct {
	Title    Title
	MinLevel int
}

// titleThresholds is ascending by MinLevel.
var titleThresholds = []TitleThreshold{
	{TitleNovice, 1},
	{TitleLearner, 11},
	{TitleEnthusiast, 26},
	{TitleExpert, 41},
	{TitleMaster, 61},
	{TitleVirtuoso, 81},
	{TitleLegend, 96},
}

// TitleThresholds returns a copy of the title step function.
func TitleThresholds() []TitleThreshold {
	out := make([]TitleThreshold, len(titleThresholds))
	copy(out, titleThresholds)
	return out
}

// TitleForLevel returns the highest title whose threshold is <= level.
func TitleForLevel(level int) Title {
	title := TitleNovice
	for _, t := range titleThresholds {
		if level >= t.MinLevel {
			title = t.Title
		}
	}
	return title
}

// NextTitle returns the next bracket above level and the level it unlocks
// at. ok is false at the top bracket.
func NextTitle(level int) (title Title, atLevel int, ok bool) {
	for _, t := range titleThresholds {
		if t.MinLevel > level {
			return t.Title, t.MinLevel, true
		}
	}
	return "", 0, false
}
