package leaderboard

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func TestRank_OrdersAndExcludesZero(t *testing.T) {
	r := Rank(MetricXPAllTime, []Score{
		{UserID: "c", Value: 500, Level: 4, Title: "Novice"},
		{UserID: "z", Value: 0},
		{UserID: "a", Value: 900},
		{UserID: "b", Value: 500},
	}, 0)

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].UserID, all[1].UserID, all[2].UserID})
	assert.Equal(t, []int{1, 2, 3}, []int{all[0].Rank, all[1].Rank, all[2].Rank})
	assert.Equal(t, 4, all[2].Level)

	_, ok := r.Get("z")
	assert.False(t, ok, "zero scorers are not ranked")
}

func TestRank_RespectsLimit(t *testing.T) {
	var scores []Score
	for i := 1; i <= 20; i++ {
		scores = append(scores, Score{UserID: fmt.Sprintf("u%02d", i), Value: i})
	}

	r := Rank(MetricStreakCurrent, scores, 5)

	assert.Equal(t, 5, r.Count())
	top := r.Top(10)
	require.Len(t, top, 5)
	assert.Equal(t, "u20", top[0].UserID)
	assert.Zero(t, top[0].Level, "non-XP metrics carry no level")
}

func TestRank_DeterministicForSameInput(t *testing.T) {
	scores := []Score{{UserID: "b", Value: 3}, {UserID: "a", Value: 3}, {UserID: "c", Value: 3}}
	reversed := []Score{scores[2], scores[1], scores[0]}

	assert.Equal(t, Rank(MetricStreakLongest, scores, 0).All(), Rank(MetricStreakLongest, reversed, 0).All())
}

func TestNextCacheRow(t *testing.T) {
	e := Entry{Rank: 3, UserID: "u1", Score: 120, Metric: MetricXPWeekly}

	first := NextCacheRow(e, nil, 10, now)
	assert.Nil(t, first.PreviousRank)
	assert.Zero(t, first.RankChange)
	assert.InDelta(t, 30.0, first.Percentile, 1e-9)
	assert.Equal(t, RankDirectionNew, first.Info().Direction)

	e.Rank = 1
	second := NextCacheRow(e, first, 10, now.Add(time.Minute))
	require.NotNil(t, second.PreviousRank)
	assert.Equal(t, 3, *second.PreviousRank)
	assert.Equal(t, RankChange(2), second.RankChange)
	assert.Equal(t, RankDirectionUp, second.Info().Direction)

	e.Rank = 4
	third := NextCacheRow(e, second, 10, now.Add(2*time.Minute))
	assert.Equal(t, RankChange(-3), third.RankChange)
	assert.Equal(t, "-3", third.RankChange.String())
}

func TestPercentile_RoundsInInfo(t *testing.T) {
	row := NextCacheRow(Entry{Rank: 1, UserID: "u1", Score: 1, Metric: MetricXPAllTime}, nil, 3, now)
	assert.Equal(t, 33.33, row.Info().Percentile)
	assert.Equal(t, 100.0, Percentile(1, 0))
}

func TestCacheRow_Fresh(t *testing.T) {
	row := &CacheRow{CachedAt: now}
	assert.True(t, row.Fresh(now.Add(4*time.Minute), DefaultTTL))
	assert.False(t, row.Fresh(now.Add(5*time.Minute), DefaultTTL))

	var missing *CacheRow
	assert.False(t, missing.Fresh(now, DefaultTTL))
}

func TestMetric(t *testing.T) {
	assert.True(t, MetricXPMonthly.IsValid())
	assert.False(t, Metric("karma").IsValid())

	start, ok := MetricXPWeekly.Window(now)
	require.True(t, ok)
	assert.Equal(t, now.AddDate(0, 0, -7), start)

	_, ok = MetricXPAllTime.Window(now)
	assert.False(t, ok)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, 10, ClampLimit(10))
	assert.Equal(t, MaxLimit, ClampLimit(5000))
}

func TestNewSnapshot_TruncatesToTop100(t *testing.T) {
	var scores []Score
	for i := 1; i <= 150; i++ {
		scores = append(scores, Score{UserID: fmt.Sprintf("u%03d", i), Value: i})
	}

	s := NewSnapshot("snap-1", Rank(MetricXPAllTime, scores, 0), PeriodDaily, now)

	assert.Equal(t, SnapshotSize, s.TotalEntries)
	assert.Equal(t, "2024-06-15", s.Date())
	assert.Equal(t, 1, s.RankOf("u150"))
	assert.Zero(t, s.RankOf("u001"))
}

func TestParsePeriod(t *testing.T) {
	p, ok := ParsePeriod("")
	assert.True(t, ok)
	assert.Equal(t, PeriodDaily, p)

	_, ok = ParsePeriod("hourly")
	assert.False(t, ok)
}
