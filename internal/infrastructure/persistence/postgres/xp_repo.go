package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/xp"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// XPRepository implements xp.Repository over user_xp and xp_transactions.
type XPRepository struct {
	conn *Connection
}

var _ xp.Repository = (*XPRepository)(nil)

// NewXPRepository creates a new XPRepository.
func NewXPRepository(conn *Connection) *XPRepository {
	return &XPRepository{conn: conn}
}

const userXPColumns = `user_id, total_xp, current_level, xp_to_next_level, level_progress, title, created_at, updated_at`

func scanUserXP(row interface{ Scan(...any) error }) (*xp.UserXP, error) {
	var u xp.UserXP
	var title string
	if err := row.Scan(
		&u.UserID, &u.TotalXP, &u.CurrentLevel, &u.XPToNextLevel,
		&u.LevelProgress, &title, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.Title = xp.Title(title)
	u.Normalize()
	return &u, nil
}

// Get returns the user's XP row.
func (r *XPRepository) Get(ctx context.Context, userID string) (*xp.UserXP, error) {
	u, err := scanUserXP(r.conn.querier(ctx).QueryRow(ctx,
		`SELECT `+userXPColumns+` FROM user_xp WHERE user_id = $1`, userID))
	if IsNoRows(err) {
		return nil, shared.ErrUserXPNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user xp: %w", err)
	}
	return u, nil
}

// LockOrCreate inserts a zero row if needed and locks it FOR UPDATE.
func (r *XPRepository) LockOrCreate(ctx context.Context, userID string, now time.Time) (*xp.UserXP, error) {
	q := r.conn.querier(ctx)
	fresh := xp.NewUserXP(userID, now)

	_, err := q.Exec(ctx, `
		INSERT INTO user_xp (`+userXPColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id) DO NOTHING
	`, fresh.UserID, fresh.TotalXP, fresh.CurrentLevel, fresh.XPToNextLevel,
		fresh.LevelProgress, string(fresh.Title), now)
	if err != nil {
		return nil, fmt.Errorf("failed to create user xp: %w", err)
	}

	u, err := scanUserXP(q.QueryRow(ctx,
		`SELECT `+userXPColumns+` FROM user_xp WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock user xp: %w", err)
	}
	return u, nil
}

// Save writes the aggregate back.
func (r *XPRepository) Save(ctx context.Context, u *xp.UserXP) error {
	tag, err := r.conn.querier(ctx).Exec(ctx, `
		UPDATE user_xp SET
			total_xp = $2,
			current_level = $3,
			xp_to_next_level = $4,
			level_progress = $5,
			title = $6,
			updated_at = $7
		WHERE user_id = $1
	`, u.UserID, u.TotalXP, u.CurrentLevel, u.XPToNextLevel, u.LevelProgress, string(u.Title), u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save user xp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrUserXPNotFound
	}
	return nil
}

// AppendTransaction writes one ledger row. An empty reference is stored as NULL.
func (r *XPRepository) AppendTransaction(ctx context.Context, t *xp.Transaction) error {
	metadata := t.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := r.conn.querier(ctx).Exec(ctx, `
		INSERT INTO xp_transactions (id, user_id, amount, reason, reference_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, t.ID, t.UserID, t.Amount, t.Reason, t.ReferenceID, metadata, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append xp transaction: %w", err)
	}
	return nil
}

// HasTransaction reports whether (user, reason, reference) is already in the ledger.
func (r *XPRepository) HasTransaction(ctx context.Context, userID, reason, referenceID string) (bool, error) {
	var exists bool
	err := r.conn.querier(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM xp_transactions
			WHERE user_id = $1 AND reason = $2
			  AND reference_id IS NOT DISTINCT FROM NULLIF($3, '')
		)
	`, userID, reason, referenceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check xp transaction: %w", err)
	}
	return exists, nil
}

// History returns ledger rows newest first.
func (r *XPRepository) History(ctx context.Context, userID string, limit int, reason string) ([]*xp.Transaction, error) {
	query := `
		SELECT id, user_id, amount, reason, COALESCE(reference_id, ''), metadata, created_at
		FROM xp_transactions
		WHERE user_id = $1 AND ($2 = '' OR reason = $2)
		ORDER BY created_at DESC, id DESC
	`
	args := []any{userID, reason}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.conn.querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query xp history: %w", err)
	}
	defer rows.Close()

	out := []*xp.Transaction{}
	for rows.Next() {
		var t xp.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Reason, &t.ReferenceID, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan xp transaction: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// Statistics aggregates the user's ledger by reason.
func (r *XPRepository) Statistics(ctx context.Context, userID string) (*xp.Statistics, error) {
	u, err := r.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	st := &xp.Statistics{
		UserID:        userID,
		TotalXP:       u.TotalXP,
		CurrentLevel:  u.CurrentLevel,
		Title:         u.Title,
		XPBySource:    map[string]int{},
		XPToNextLevel: u.XPToNextLevel,
		LevelProgress: u.LevelProgress,
	}

	rows, err := r.conn.querier(ctx).Query(ctx, `
		SELECT reason,
		       COUNT(*),
		       COALESCE(SUM(amount), 0),
		       COALESCE(SUM(amount) FILTER (WHERE amount > 0), 0)
		FROM xp_transactions
		WHERE user_id = $1
		GROUP BY reason
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query xp statistics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var reason string
		var count, sum, earned int
		if err := rows.Scan(&reason, &count, &sum, &earned); err != nil {
			return nil, fmt.Errorf("failed to scan xp statistics: %w", err)
		}
		st.TotalTransactions += count
		st.TotalEarned += earned
		st.XPBySource[reason] = sum
	}
	return st, rows.Err()
}
