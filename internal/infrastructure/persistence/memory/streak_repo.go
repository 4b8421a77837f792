package memory

import (
	"context"
	"sort"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/streak"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// StreakRepository implements streak.Repository and achievement.StreakReader.
type StreakRepository struct {
	s *Store
}

var (
	_ streak.Repository        = (*StreakRepository)(nil)
	_ achievement.StreakReader = (*StreakRepository)(nil)
)

func (r *StreakRepository) Get(_ context.Context, userID string) (*streak.Streak, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st, ok := r.s.streaks[userID]
	if !ok {
		return nil, shared.ErrStreakNotFound
	}
	return &st, nil
}

func (r *StreakRepository) LockOrCreate(_ context.Context, userID, timezone string, now time.Time) (*streak.Streak, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	st, ok := r.s.streaks[userID]
	if !ok {
		st = *streak.New(userID, timezone, now)
		r.s.streaks[userID] = st
	}
	return &st, nil
}

func (r *StreakRepository) GetForUpdate(ctx context.Context, userID string) (*streak.Streak, error) {
	return r.Get(ctx, userID)
}

func (r *StreakRepository) Save(_ context.Context, st *streak.Streak) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.streaks[st.UserID] = *st
	return nil
}

func (r *StreakRepository) RecordHistory(_ context.Context, e *streak.HistoryEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	days, ok := r.s.history[e.UserID]
	if !ok {
		days = make(map[string]streak.HistoryEntry)
		r.s.history[e.UserID] = days
	}
	days[timeutil.FormatDate(e.ActivityDate)] = *e
	return nil
}

func (r *StreakRepository) History(_ context.Context, userID string, since time.Time) ([]*streak.HistoryEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	since = timeutil.NormalizeDate(since)
	out := []*streak.HistoryEntry{}
	for _, e := range r.s.history[userID] {
		if !e.ActivityDate.Before(since) {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivityDate.After(out[j].ActivityDate) })
	return out, nil
}

// StreakFacts implements achievement.StreakReader.
func (r *StreakRepository) StreakFacts(_ context.Context, userID string) (achievement.StreakFacts, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st := r.s.streaks[userID]
	return achievement.StreakFacts{
		CurrentStreak:    st.CurrentStreak,
		TotalFreezesUsed: st.TotalFreezesUsed,
	}, nil
}
