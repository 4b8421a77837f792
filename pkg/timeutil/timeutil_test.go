package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(date(2024, 1, 1))
	c.Advance(36 * time.Hour)
	assert.Equal(t, time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC), c.Now())

	c.Set(date(2025, 6, 1))
	assert.Equal(t, date(2025, 6, 1), c.Now())
}

func TestLoadLocation_FallsBackToUTC(t *testing.T) {
	assert.Same(t, time.UTC, LoadLocation(""))
	assert.Same(t, time.UTC, LoadLocation("Mars/Olympus_Mons"))
	assert.False(t, ValidTimezone("Mars/Olympus_Mons"))
	assert.False(t, ValidTimezone(""))
	assert.True(t, ValidTimezone("UTC"))
}

func TestCivilDate_UsesTimezone(t *testing.T) {
	if !ValidTimezone("America/New_York") {
		t.Skip("tzdata not available")
	}
	// 02:30 UTC on the 10th is still the 9th in New York.
	now := time.Date(2024, 3, 10, 2, 30, 0, 0, time.UTC)
	clock := NewManualClock(now)

	assert.Equal(t, date(2024, 3, 9), Today(clock, "America/New_York"))
	assert.Equal(t, date(2024, 3, 10), Today(clock, "UTC"))
}

func TestDaysBetween_AcrossDST(t *testing.T) {
	assert.Equal(t, 1, DaysBetween(date(2024, 3, 9), date(2024, 3, 10)))
	assert.Equal(t, 0, DaysBetween(date(2024, 3, 10), time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, -2, DaysBetween(date(2024, 3, 12), date(2024, 3, 10)))
	assert.Equal(t, date(2024, 3, 1), AddDays(date(2024, 2, 28), 2), "leap year")
}

func TestParseAndFormatDate(t *testing.T) {
	d, err := ParseDate("2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, date(2024, 5, 1), d)
	assert.Equal(t, "2024-05-01", FormatDate(d))

	_, err = ParseDate("2024-13-01")
	assert.Error(t, err)
}

func TestPeriodBoundaries(t *testing.T) {
	now := time.Date(2024, 12, 15, 18, 45, 0, 0, time.UTC)

	assert.Equal(t, date(2024, 12, 16), NextMidnight(now))
	assert.Equal(t, date(2025, 1, 1), FirstOfNextMonth(now))
	assert.Equal(t, 16, DaysUntil(now, date(2025, 1, 1)))
	assert.Equal(t, 0, DaysUntil(now, date(2024, 12, 1)))
}
