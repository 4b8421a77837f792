package xp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrement(t *testing.T) {
	assert.Equal(t, 100, Increment(1))
	assert.Equal(t, 114, Increment(2)) // floor(100 * 1.15)
	assert.Equal(t, 132, Increment(3)) // floor(100 * 1.3225)
}

func TestCumulative(t *testing.T) {
	assert.Equal(t, 0, Cumulative(0))
	assert.Equal(t, 0, Cumulative(1))
	assert.Equal(t, 100, Cumulative(2))
	assert.Equal(t, 214, Cumulative(3))
	assert.Equal(t, 346, Cumulative(4))

	for level := 2; level <= MaxLevel+1; level++ {
		assert.Equal(t, Cumulative(level-1)+Increment(level-1), Cumulative(level), "level %d", level)
	}
}

func TestLevelFromXP_Boundaries(t *testing.T) {
	tests := []struct {
		xp    int
		level int
	}{
		{-50, 1},
		{0, 1},
		{99, 1},
		{100, 2},
		{213, 2},
		{214, 3},
		{345, 3},
		{346, 4},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.level, LevelFromXP(tt.xp), "xp=%d", tt.xp)
	}
}

func TestLevelFromXP_CappedAtMax(t *testing.T) {
	assert.Equal(t, MaxLevel, LevelFromXP(Cumulative(MaxLevel)))
	assert.Equal(t, MaxLevel, LevelFromXP(Cumulative(MaxLevel+1)+1_000_000))
}

func TestLevelFromXP_Monotonic(t *testing.T) {
	prev := LevelFromXP(0)
	for x := 1; x <= Cumulative(30); x += 7 {
		cur := LevelFromXP(x)
		require.GreaterOrEqual(t, cur, prev, "xp=%d", x)
		prev = cur
	}
}

func TestLevelFromXP_RoundTrip(t *testing.T) {
	for level := 1; level < MaxLevel; level++ {
		for _, x := range []int{Cumulative(level), Cumulative(level+1) - 1} {
			got := LevelFromXP(x)
			assert.LessOrEqual(t, Cumulative(got), x)
			assert.Less(t, x, Cumulative(got+1))
		}
	}
}

func TestProgressFor(t *testing.T) {
	p := ProgressFor(0)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, 100, p.XPToNextLevel)
	assert.Equal(t, 0.0, p.ProgressPct)

	p = ProgressFor(157)
	assert.Equal(t, 2, p.Level)
	assert.Equal(t, 57, p.XPInLevel)
	assert.Equal(t, 57, p.XPToNextLevel)
	assert.Equal(t, 50.0, p.ProgressPct)

	p = ProgressFor(150)
	assert.Equal(t, 43.86, p.ProgressPct) // 50/114

	p = ProgressFor(Cumulative(MaxLevel) + 10)
	assert.True(t, p.IsMaxLevel)
	assert.Equal(t, 0, p.XPToNextLevel)
	assert.Equal(t, 100.0, p.ProgressPct)
}

func TestTitleForLevel(t *testing.T) {
	tests := []struct {
		level int
		title Title
	}{
		{1, TitleNovice},
		{10, TitleNovice},
		{11, TitleLearner},
		{25, TitleLearner},
		{26, TitleEnthusiast},
		{41, TitleExpert},
		{60, TitleExpert},
		{61, TitleMaster},
		{81, TitleVirtuoso},
		{95, TitleVirtuoso},
		{96, TitleLegend},
		{100, TitleLegend},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.title, TitleForLevel(tt.level), "level %d", tt.level)
	}
}

func TestNextTitle(t *testing.T) {
	title, at, ok := NextTitle(12)
	require.True(t, ok)
	assert.Equal(t, TitleEnthusiast, title)
	assert.Equal(t, 26, at)

	_, _, ok = NextTitle(96)
	assert.False(t, ok)
}
