package memory

import (
	"context"
	"sort"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/xp"
)

// Directory serves the read-only host tables: users, ratings, collections
// and bookmarks. It also assembles leaderboard populations.
type Directory struct {
	s *Store
}

var (
	_ shared.UserDirectory      = (*Directory)(nil)
	_ achievement.StatsProvider = (*Directory)(nil)
	_ leaderboard.ScoreSource   = (*Directory)(nil)
)

func (d *Directory) GetUser(_ context.Context, userID string) (*shared.User, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	u, ok := d.s.users[userID]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return &u, nil
}

func (d *Directory) CountUsers(_ context.Context) (int, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	return len(d.s.users), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FACTS
// ══════════════════════════════════════════════════════════════════════════════

func (d *Directory) countRatings(userID string, keep func(Rating) bool) int {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	n := 0
	for _, r := range d.s.ratings[userID] {
		if keep(r) {
			n++
		}
	}
	return n
}

func (d *Directory) RatingsGiven(_ context.Context, userID string) (int, error) {
	return d.countRatings(userID, func(Rating) bool { return true }), nil
}

func (d *Directory) PerfectRatings(_ context.Context, userID string) (int, error) {
	return d.countRatings(userID, func(r Rating) bool { return r.Overall == xp.PerfectRating }), nil
}

func (d *Directory) RecentRatings(_ context.Context, userID string, n int) ([]int, error) {
	d.s.mu.RLock()
	rs := append([]Rating(nil), d.s.ratings[userID]...)
	d.s.mu.RUnlock()

	sort.SliceStable(rs, func(i, j int) bool { return rs[i].CreatedAt.After(rs[j].CreatedAt) })
	out := make([]int, 0, n)
	for i := 0; i < len(rs) && i < n; i++ {
		out = append(out, rs[i].Overall)
	}
	return out, nil
}

func (d *Directory) CulturalAccuracyAtLeast(_ context.Context, userID string, min float64) (int, error) {
	return d.countRatings(userID, func(r Rating) bool { return r.CulturalAccuracy >= min }), nil
}

func (d *Directory) CollectionsCreated(_ context.Context, userID string) (int, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	return d.s.collections[userID], nil
}

func (d *Directory) BookmarksCreated(_ context.Context, userID string) (int, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	return d.s.bookmarks[userID], nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD POPULATION
// ══════════════════════════════════════════════════════════════════════════════

// Scores implements leaderboard.ScoreSource.
func (d *Directory) Scores(_ context.Context, metric leaderboard.Metric, now time.Time, limit int) ([]leaderboard.Score, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	values := make(map[string]int)
	switch metric {
	case leaderboard.MetricXPAllTime:
		for id, u := range d.s.xp {
			values[id] = u.TotalXP
		}
	case leaderboard.MetricXPWeekly, leaderboard.MetricXPMonthly:
		since, _ := metric.Window(now)
		values = d.s.xpSinceLocked(since)
	case leaderboard.MetricStreakCurrent:
		for id, st := range d.s.streaks {
			values[id] = st.CurrentStreak
		}
	case leaderboard.MetricStreakLongest:
		for id, st := range d.s.streaks {
			values[id] = st.LongestStreak
		}
	case leaderboard.MetricScenariosCompleted:
		// No completion tracker yet.
	case leaderboard.MetricAchievementsUnlocked:
		for id, byID := range d.s.unlocks {
			values[id] = len(byID)
		}
	default:
		return nil, shared.ErrUnknownMetric
	}

	scores := make([]leaderboard.Score, 0, len(values))
	for id, v := range values {
		if v <= 0 {
			continue
		}
		sc := leaderboard.Score{UserID: id, Username: d.s.usernameLocked(id), Value: v}
		if metric.IsXP() {
			u, ok := d.s.xp[id]
			if !ok {
				u = *xp.NewUserXP(id, now)
			}
			u.Normalize()
			sc.Level, sc.Title = u.CurrentLevel, string(u.Title)
		}
		scores = append(scores, sc)
	}
	return topScores(scores, limit), nil
}
