package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// LeaderboardRepository implements leaderboard.Repository.
type LeaderboardRepository struct {
	s *Store
}

var _ leaderboard.Repository = (*LeaderboardRepository)(nil)

func (r *LeaderboardRepository) GetCacheRow(_ context.Context, userID string, metric leaderboard.Metric) (*leaderboard.CacheRow, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row, ok := r.s.cacheRows[metric][userID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (r *LeaderboardRepository) ListCacheRows(_ context.Context, metric leaderboard.Metric) (map[string]*leaderboard.CacheRow, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[string]*leaderboard.CacheRow, len(r.s.cacheRows[metric]))
	for id, row := range r.s.cacheRows[metric] {
		row := row
		out[id] = &row
	}
	return out, nil
}

func (r *LeaderboardRepository) UpsertCacheRows(_ context.Context, rows []*leaderboard.CacheRow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, row := range rows {
		byUser, ok := r.s.cacheRows[row.Metric]
		if !ok {
			byUser = make(map[string]leaderboard.CacheRow)
			r.s.cacheRows[row.Metric] = byUser
		}
		byUser[row.UserID] = *row
	}
	return nil
}

func snapshotKey(metric leaderboard.Metric, period leaderboard.Period, date time.Time) string {
	return fmt.Sprintf("%s|%s|%s", metric, period, timeutil.FormatDate(date))
}

func (r *LeaderboardRepository) GetSnapshot(_ context.Context, metric leaderboard.Metric, period leaderboard.Period, date time.Time) (*leaderboard.Snapshot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	snap, ok := r.s.snapshots[snapshotKey(metric, period, date)]
	if !ok {
		return nil, shared.ErrSnapshotNotFound
	}
	snap.Entries = append([]leaderboard.Entry(nil), snap.Entries...)
	return &snap, nil
}

func (r *LeaderboardRepository) InsertSnapshot(_ context.Context, snap *leaderboard.Snapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := snapshotKey(snap.Metric, snap.Period, snap.SnapshotDate)
	if _, ok := r.s.snapshots[key]; ok {
		return shared.NewDomainError("leaderboard", "InsertSnapshot", shared.ErrAlreadyExists, "snapshot "+key+" exists")
	}
	stored := *snap
	stored.Entries = append([]leaderboard.Entry(nil), snap.Entries...)
	r.s.snapshots[key] = stored
	return nil
}
