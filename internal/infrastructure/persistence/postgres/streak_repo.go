package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/streak"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// StreakRepository implements streak.Repository and achievement.StreakReader.
type StreakRepository struct {
	conn *Connection
}

var (
	_ streak.Repository        = (*StreakRepository)(nil)
	_ achievement.StreakReader = (*StreakRepository)(nil)
)

// NewStreakRepository creates a new StreakRepository.
func NewStreakRepository(conn *Connection) *StreakRepository {
	return &StreakRepository{conn: conn}
}

const streakColumns = `
	user_id, current_streak, longest_streak, last_activity_date,
	streak_freezes_available, total_freezes_earned, total_freezes_used,
	last_freeze_earned_at, last_freeze_used_at, timezone, created_at, updated_at`

func scanStreak(row interface{ Scan(...any) error }) (*streak.Streak, error) {
	var s streak.Streak
	if err := row.Scan(
		&s.UserID, &s.CurrentStreak, &s.LongestStreak, &s.LastActivityDate,
		&s.FreezesAvailable, &s.TotalFreezesEarned, &s.TotalFreezesUsed,
		&s.LastFreezeEarnedAt, &s.LastFreezeUsedAt, &s.Timezone, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if s.LastActivityDate != nil {
		d := timeutil.NormalizeDate(*s.LastActivityDate)
		s.LastActivityDate = &d
	}
	return &s, nil
}

func (r *StreakRepository) get(ctx context.Context, userID string, forUpdate bool) (*streak.Streak, error) {
	query := `SELECT ` + streakColumns + ` FROM user_streaks WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	s, err := scanStreak(r.conn.querier(ctx).QueryRow(ctx, query, userID))
	if IsNoRows(err) {
		return nil, shared.ErrStreakNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get streak: %w", err)
	}
	return s, nil
}

// Get returns the user's streak row.
func (r *StreakRepository) Get(ctx context.Context, userID string) (*streak.Streak, error) {
	return r.get(ctx, userID, false)
}

// GetForUpdate locks an existing row without creating one.
func (r *StreakRepository) GetForUpdate(ctx context.Context, userID string) (*streak.Streak, error) {
	return r.get(ctx, userID, true)
}

// LockOrCreate inserts a zero row in timezone if needed and locks it.
func (r *StreakRepository) LockOrCreate(ctx context.Context, userID, timezone string, now time.Time) (*streak.Streak, error) {
	fresh := streak.New(userID, timezone, now)
	_, err := r.conn.querier(ctx).Exec(ctx, `
		INSERT INTO user_streaks (user_id, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, fresh.UserID, fresh.Timezone, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create streak: %w", err)
	}
	return r.get(ctx, userID, true)
}

// Save writes the aggregate back.
func (r *StreakRepository) Save(ctx context.Context, s *streak.Streak) error {
	tag, err := r.conn.querier(ctx).Exec(ctx, `
		UPDATE user_streaks SET
			current_streak = $2,
			longest_streak = $3,
			last_activity_date = $4,
			streak_freezes_available = $5,
			total_freezes_earned = $6,
			total_freezes_used = $7,
			last_freeze_earned_at = $8,
			last_freeze_used_at = $9,
			timezone = $10,
			updated_at = $11
		WHERE user_id = $1
	`,
		s.UserID, s.CurrentStreak, s.LongestStreak, s.LastActivityDate,
		s.FreezesAvailable, s.TotalFreezesEarned, s.TotalFreezesUsed,
		s.LastFreezeEarnedAt, s.LastFreezeUsedAt, s.Timezone, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save streak: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStreakNotFound
	}
	return nil
}

// RecordHistory upserts the (user, activity_date) entry.
func (r *StreakRepository) RecordHistory(ctx context.Context, e *streak.HistoryEntry) error {
	_, err := r.conn.querier(ctx).Exec(ctx, `
		INSERT INTO streak_history (user_id, activity_date, streak_value, freeze_used)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, activity_date) DO UPDATE SET
			streak_value = EXCLUDED.streak_value,
			freeze_used = EXCLUDED.freeze_used
	`, e.UserID, timeutil.NormalizeDate(e.ActivityDate), e.StreakValue, e.FreezeUsed)
	if err != nil {
		return fmt.Errorf("failed to record streak history: %w", err)
	}
	return nil
}

// History returns entries on or after since, newest first.
func (r *StreakRepository) History(ctx context.Context, userID string, since time.Time) ([]*streak.HistoryEntry, error) {
	rows, err := r.conn.querier(ctx).Query(ctx, `
		SELECT user_id, activity_date, streak_value, freeze_used
		FROM streak_history
		WHERE user_id = $1 AND activity_date >= $2
		ORDER BY activity_date DESC
	`, userID, timeutil.NormalizeDate(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query streak history: %w", err)
	}
	defer rows.Close()

	out := []*streak.HistoryEntry{}
	for rows.Next() {
		var e streak.HistoryEntry
		if err := rows.Scan(&e.UserID, &e.ActivityDate, &e.StreakValue, &e.FreezeUsed); err != nil {
			return nil, fmt.Errorf("failed to scan streak history: %w", err)
		}
		e.ActivityDate = timeutil.NormalizeDate(e.ActivityDate)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// StreakFacts implements achievement.StreakReader. Users without a row
// report zero facts.
func (r *StreakRepository) StreakFacts(ctx context.Context, userID string) (achievement.StreakFacts, error) {
	var facts achievement.StreakFacts
	err := r.conn.querier(ctx).QueryRow(ctx, `
		SELECT current_streak, total_freezes_used FROM user_streaks WHERE user_id = $1
	`, userID).Scan(&facts.CurrentStreak, &facts.TotalFreezesUsed)
	if err != nil && !IsNoRows(err) {
		return facts, fmt.Errorf("failed to read streak facts: %w", err)
	}
	return facts, nil
}
