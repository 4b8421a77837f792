// Package memory implements the store contracts of every domain package in
// process memory. It backs the server when STORE_DRIVER=memory and the
// application tests.
//
// Transactions are serialized by a store-wide mutex. A transaction that
// returns an error restores the tables as they were when it began.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/budget"
	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/streak"
	"github.com/lingotutor/gamification-engine/internal/domain/xp"
)

type txKey struct{}

// Rating is one scenario rating left by a learner.
type Rating struct {
	Overall          int
	CulturalAccuracy float64
	CreatedAt        time.Time
}

// Store holds every table in maps guarded by one RWMutex.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	tables
}

type tables struct {
	users        map[string]shared.User
	xp           map[string]xp.UserXP
	ledger       []xp.Transaction
	streaks      map[string]streak.Streak
	history      map[string]map[string]streak.HistoryEntry
	achievements map[string]achievement.Achievement
	unlocks      map[string]map[string]achievement.UserAchievement
	cacheRows    map[leaderboard.Metric]map[string]leaderboard.CacheRow
	snapshots    map[string]leaderboard.Snapshot
	budgets      map[string]budget.Settings
	resetLog     []budget.ResetLog
	usage        map[string][]budget.UsageRecord
	ratings      map[string][]Rating
	collections  map[string]int
	bookmarks    map[string]int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{tables: tables{
		users:        make(map[string]shared.User),
		xp:           make(map[string]xp.UserXP),
		streaks:      make(map[string]streak.Streak),
		history:      make(map[string]map[string]streak.HistoryEntry),
		achievements: make(map[string]achievement.Achievement),
		unlocks:      make(map[string]map[string]achievement.UserAchievement),
		cacheRows:    make(map[leaderboard.Metric]map[string]leaderboard.CacheRow),
		snapshots:    make(map[string]leaderboard.Snapshot),
		budgets:      make(map[string]budget.Settings),
		usage:        make(map[string][]budget.UsageRecord),
		ratings:      make(map[string][]Rating),
		collections:  make(map[string]int),
		bookmarks:    make(map[string]int),
	}}
}

// WithinTx implements shared.Transactor. Nested calls join the outer
// transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	saved := s.tables.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.tables = saved
		s.mu.Unlock()
		return err
	}
	return nil
}

// clone copies every table, nested tables one level down. Rows are stored
// by value.
func (t *tables) clone() tables {
	return tables{
		users:        maps.Clone(t.users),
		xp:           maps.Clone(t.xp),
		ledger:       slices.Clone(t.ledger),
		streaks:      maps.Clone(t.streaks),
		history:      cloneMapOfMaps(t.history),
		achievements: maps.Clone(t.achievements),
		unlocks:      cloneMapOfMaps(t.unlocks),
		cacheRows:    cloneMapOfMaps(t.cacheRows),
		snapshots:    maps.Clone(t.snapshots),
		budgets:      maps.Clone(t.budgets),
		resetLog:     slices.Clone(t.resetLog),
		usage:        cloneMapOfSlices(t.usage),
		ratings:      cloneMapOfSlices(t.ratings),
		collections:  maps.Clone(t.collections),
		bookmarks:    maps.Clone(t.bookmarks),
	}
}

func cloneMapOfMaps[K, K2 comparable, V any](m map[K]map[K2]V) map[K]map[K2]V {
	out := make(map[K]map[K2]V, len(m))
	for k, inner := range m {
		out[k] = maps.Clone(inner)
	}
	return out
}

func cloneMapOfSlices[K comparable, V any](m map[K][]V) map[K][]V {
	out := make(map[K][]V, len(m))
	for k, rows := range m {
		out[k] = slices.Clone(rows)
	}
	return out
}

// Repository views.

func (s *Store) XP() *XPRepository                    { return &XPRepository{s: s} }
func (s *Store) Streaks() *StreakRepository           { return &StreakRepository{s: s} }
func (s *Store) Achievements() *AchievementRepository { return &AchievementRepository{s: s} }
func (s *Store) Leaderboard() *LeaderboardRepository  { return &LeaderboardRepository{s: s} }
func (s *Store) Budgets() *BudgetRepository           { return &BudgetRepository{s: s} }
func (s *Store) Directory() *Directory                { return &Directory{s: s} }

// ══════════════════════════════════════════════════════════════════════════════
// SEEDING
// ══════════════════════════════════════════════════════════════════════════════

// AddUser registers a user in the directory.
func (s *Store) AddUser(u shared.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Role == "" {
		u.Role = shared.RoleUser
	}
	s.users[u.ID] = u
}

// AddRating records a scenario rating.
func (s *Store) AddRating(userID string, r Rating) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[userID] = append(s.ratings[userID], r)
}

// AddCollection records one created collection.
func (s *Store) AddCollection(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[userID]++
}

// AddBookmark records one created bookmark.
func (s *Store) AddBookmark(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarks[userID]++
}

// RecordUsage appends a cost ledger row.
func (s *Store) RecordUsage(userID string, rec budget.UsageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[userID] = append(s.usage[userID], rec)
}

func (s *Store) usernameLocked(userID string) string {
	if u, ok := s.users[userID]; ok && u.Username != "" {
		return u.Username
	}
	return userID
}

// topScores sorts by value descending then user id and applies limit.
func topScores(scores []leaderboard.Score, limit int) []leaderboard.Score {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Value != scores[j].Value {
			return scores[i].Value > scores[j].Value
		}
		return scores[i].UserID < scores[j].UserID
	})
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	return scores
}
