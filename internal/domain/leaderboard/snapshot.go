package leaderboard

import (
	"time"

	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// Period labels a snapshot series.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// ParsePeriod returns the period or daily when empty. The second return is
// false for unsupported labels.
func ParsePeriod(s string) (Period, bool) {
	switch p := Period(s); p {
	case "":
		return PeriodDaily, true
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return p, true
	}
	return "", false
}

// Snapshot is an immutable top-N list keyed by (metric, period, date).
type Snapshot struct {
	ID           string    `json:"id"`
	Metric       Metric    `json:"metric"`
	Period       Period    `json:"period"`
	SnapshotDate time.Time `json:"-"`
	Entries      []Entry   `json:"rankings"`
	TotalEntries int       `json:"total_entries"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewSnapshot captures the top SnapshotSize entries of r for the civil date
// of now.
func NewSnapshot(id string, r *Ranking, period Period, now time.Time) *Snapshot {
	entries := r.Top(SnapshotSize)
	return &Snapshot{
		ID:           id,
		Metric:       r.Metric,
		Period:       period,
		SnapshotDate: timeutil.NormalizeDate(now),
		Entries:      entries,
		TotalEntries: len(entries),
		CreatedAt:    now,
	}
}

// Date returns the snapshot date as YYYY-MM-DD.
func (s *Snapshot) Date() string {
	return timeutil.FormatDate(s.SnapshotDate)
}

// IsEmpty reports whether the snapshot holds no entries.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || len(s.Entries) == 0
}

// RankOf returns a user's rank in the snapshot, or 0.
func (s *Snapshot) RankOf(userID string) int {
	for _, e := range s.Entries {
		if e.UserID == userID {
			return e.Rank
		}
	}
	return 0
}
