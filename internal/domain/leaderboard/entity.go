// Package leaderboard contains the ranking model: metrics, ranked entries,
// per-user cache rows with rank deltas, and daily snapshots.
package leaderboard

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// Metric names the score a leaderboard ranks by.
type Metric string

const (
	MetricXPAllTime            Metric = "xp_all_time"
	MetricXPWeekly             Metric = "xp_weekly"
	MetricXPMonthly            Metric = "xp_monthly"
	MetricStreakCurrent        Metric = "streak_current"
	MetricStreakLongest        Metric = "streak_longest"
	MetricScenariosCompleted   Metric = "scenarios_completed"
	MetricAchievementsUnlocked Metric = "achievements_unlocked"
)

// Metrics returns every supported metric.
func Metrics() []Metric {
	return []Metric{
		MetricXPAllTime,
		MetricXPWeekly,
		MetricXPMonthly,
		MetricStreakCurrent,
		MetricStreakLongest,
		MetricScenariosCompleted,
		MetricAchievementsUnlocked,
	}
}

// IsValid reports whether m is a supported metric.
func (m Metric) IsValid() bool {
	for _, k := range Metrics() {
		if k == m {
			return true
		}
	}
	return false
}

// IsXP reports whether entries for m carry level and title.
func (m Metric) IsXP() bool {
	return m == MetricXPAllTime || m == MetricXPWeekly || m == MetricXPMonthly
}

// Window returns the rolling window start for windowed XP metrics. The
// second return is false for metrics that are not windowed.
func (m Metric) Window(now time.Time) (time.Time, bool) {
	switch m {
	case MetricXPWeekly:
		return now.AddDate(0, 0, -7), true
	case MetricXPMonthly:
		return now.AddDate(0, 0, -30), true
	}
	return time.Time{}, false
}

// Defaults used by the ranker.
const (
	DefaultLimit   = 100
	MaxLimit       = 1000
	PopulationCap  = 10000
	DefaultTTL     = 5 * time.Minute
	SnapshotSize   = 100
	DefaultHistory = 30
)

// ClampLimit bounds a caller-supplied limit to 1..MaxLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK
// ══════════════════════════════════════════════════════════════════════════════

// RankChange is previous rank minus new rank. Positive means moved up.
type RankChange int

// RankDirection is the display direction of a rank change.
type RankDirection string

const (
	RankDirectionUp     RankDirection = "up"
	RankDirectionDown   RankDirection = "down"
	RankDirectionStable RankDirection = "stable"
	RankDirectionNew    RankDirection = "new"
)

// Direction returns the direction of the change.
func (rc RankChange) Direction() RankDirection {
	switch {
	case rc > 0:
		return RankDirectionUp
	case rc < 0:
		return RankDirectionDown
	default:
		return RankDirectionStable
	}
}

// String formats the change as "+3", "-2" or "0".
func (rc RankChange) String() string {
	if rc > 0 {
		return fmt.Sprintf("+%d", int(rc))
	}
	return fmt.Sprintf("%d", int(rc))
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRIES
// ══════════════════════════════════════════════════════════════════════════════

// Score is one population row read from the source aggregates.
type Score struct {
	UserID   string
	Username string
	Value    int
	Level    int
	Title    string
}

// Entry is one ranked row.
type Entry struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Score    int    `json:"score"`
	Metric   Metric `json:"metric"`
	Level    int    `json:"level,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Ranking is an ordered list of entries with an id index.
type Ranking struct {
	Metric  Metric
	entries []Entry
	byID    map[string]int
}

// Rank orders scores by value descending, breaking ties by user id, drops
// zero and negative scores, and assigns ranks 1..N. At most limit entries
// are kept when limit > 0.
func Rank(metric Metric, scores []Score, limit int) *Ranking {
	population := make([]Score, 0, len(scores))
	for _, s := range scores {
		if s.Value > 0 {
			population = append(population, s)
		}
	}

	sort.SliceStable(population, func(i, j int) bool {
		if population[i].Value != population[j].Value {
			return population[i].Value > population[j].Value
		}
		return population[i].UserID < population[j].UserID
	})

	if limit > 0 && len(population) > limit {
		population = population[:limit]
	}

	r := &Ranking{
		Metric:  metric,
		entries: make([]Entry, len(population)),
		byID:    make(map[string]int, len(population)),
	}
	for i, s := range population {
		e := Entry{
			Rank:     i + 1,
			UserID:   s.UserID,
			Username: s.Username,
			Score:    s.Value,
			Metric:   metric,
		}
		if metric.IsXP() {
			e.Level, e.Title = s.Level, s.Title
		}
		r.entries[i] = e
		r.byID[s.UserID] = i
	}
	return r
}

// FromEntries rebuilds a ranking from already ranked entries, e.g. a
// cached list.
func FromEntries(metric Metric, entries []Entry) *Ranking {
	r := &Ranking{
		Metric:  metric,
		entries: append([]Entry(nil), entries...),
		byID:    make(map[string]int, len(entries)),
	}
	for i, e := range r.entries {
		r.byID[e.UserID] = i
	}
	return r
}

// Count returns the number of ranked entries.
func (r *Ranking) Count() int {
	return len(r.entries)
}

// Get returns the entry for a user.
func (r *Ranking) Get(userID string) (Entry, bool) {
	i, ok := r.byID[userID]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Top returns a copy of the first n entries.
func (r *Ranking) Top(n int) []Entry {
	if n <= 0 {
		return []Entry{}
	}
	n = min(n, len(r.entries))
	out := make([]Entry, n)
	copy(out, r.entries[:n])
	return out
}

// All returns a copy of every entry.
func (r *Ranking) All() []Entry {
	return r.Top(len(r.entries))
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE ROWS
// ══════════════════════════════════════════════════════════════════════════════

// CacheRow is the persisted per-(user, metric) rank.
type CacheRow struct {
	UserID       string
	Metric       Metric
	Score        int
	Rank         int
	PreviousRank *int
	RankChange   RankChange
	Percentile   float64
	CachedAt     time.Time
}

// Fresh reports whether the row is within ttl of now.
func (c *CacheRow) Fresh(now time.Time, ttl time.Duration) bool {
	return c != nil && now.Sub(c.CachedAt) < ttl
}

// NextCacheRow derives the row for e given the prior row (nil when the user
// was not ranked before). totalUsers below 1 is treated as 1.
func NextCacheRow(e Entry, prior *CacheRow, totalUsers int, now time.Time) *CacheRow {
	row := &CacheRow{
		UserID:     e.UserID,
		Metric:     e.Metric,
		Score:      e.Score,
		Rank:       e.Rank,
		Percentile: Percentile(e.Rank, totalUsers),
		CachedAt:   now,
	}
	if prior != nil && prior.Rank > 0 {
		prev := prior.Rank
		row.PreviousRank = &prev
		row.RankChange = RankChange(prev - e.Rank)
	}
	return row
}

// Percentile is rank / total * 100. Lower is better.
func Percentile(rank, totalUsers int) float64 {
	if totalUsers < 1 {
		totalUsers = 1
	}
	return float64(rank) / float64(totalUsers) * 100
}

// RankInfo is the read model for get_user_rank.
type RankInfo struct {
	UserID       string        `json:"user_id"`
	Metric       Metric        `json:"metric"`
	Rank         int           `json:"rank"`
	Score        int           `json:"score"`
	PreviousRank *int          `json:"previous_rank"`
	RankChange   RankChange    `json:"rank_change"`
	Direction    RankDirection `json:"direction"`
	Percentile   float64       `json:"percentile"`
	CachedAt     time.Time     `json:"cached_at"`
}

// Info projects the row, rounding the percentile to two decimals.
func (c *CacheRow) Info() RankInfo {
	dir := c.RankChange.Direction()
	if c.PreviousRank == nil {
		dir = RankDirectionNew
	}
	return RankInfo{
		UserID:       c.UserID,
		Metric:       c.Metric,
		Rank:         c.Rank,
		Score:        c.Score,
		PreviousRank: c.PreviousRank,
		RankChange:   c.RankChange,
		Direction:    dir,
		Percentile:   math.Round(c.Percentile*100) / 100,
		CachedAt:     c.CachedAt,
	}
}
