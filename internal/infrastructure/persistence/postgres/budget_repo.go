package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/budget"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
)

// BudgetRepository implements budget.Repository over user_budget_settings
// and budget_reset_log.
type BudgetRepository struct {
	conn *Connection
}

var _ budget.Repository = (*BudgetRepository)(nil)

// NewBudgetRepository creates a new BudgetRepository.
func NewBudgetRepository(conn *Connection) *BudgetRepository {
	return &BudgetRepository{conn: conn}
}

const budgetColumns = `
	user_id, monthly_limit_usd, custom_limit_usd, budget_period, custom_period_days,
	current_period_start, current_period_end, last_reset_date,
	enforce_budget, allow_budget_override,
	alert_threshold_yellow, alert_threshold_orange, alert_threshold_red,
	budget_visible_to_user, user_can_modify_limit, user_can_reset_budget,
	admin_notes, configured_by, created_at, updated_at`

func budgetArgs(s *budget.Settings) []any {
	return []any{
		s.UserID, s.MonthlyLimitUSD, s.CustomLimitUSD, string(s.Period), s.CustomPeriodDays,
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.LastResetDate,
		s.EnforceBudget, s.AllowBudgetOverride,
		s.ThresholdYellow, s.ThresholdOrange, s.ThresholdRed,
		s.VisibleToUser, s.UserCanModifyLimit, s.UserCanResetBudget,
		s.AdminNotes, s.ConfiguredBy, s.CreatedAt, s.UpdatedAt,
	}
}

func scanSettings(row interface{ Scan(...any) error }) (*budget.Settings, error) {
	var s budget.Settings
	var period string
	if err := row.Scan(
		&s.UserID, &s.MonthlyLimitUSD, &s.CustomLimitUSD, &period, &s.CustomPeriodDays,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.LastResetDate,
		&s.EnforceBudget, &s.AllowBudgetOverride,
		&s.ThresholdYellow, &s.ThresholdOrange, &s.ThresholdRed,
		&s.VisibleToUser, &s.UserCanModifyLimit, &s.UserCanResetBudget,
		&s.AdminNotes, &s.ConfiguredBy, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Period = budget.Period(period)
	return &s, nil
}

func (r *BudgetRepository) get(ctx context.Context, userID string, forUpdate bool) (*budget.Settings, error) {
	query := `SELECT ` + budgetColumns + ` FROM user_budget_settings WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	s, err := scanSettings(r.conn.querier(ctx).QueryRow(ctx, query, userID))
	if IsNoRows(err) {
		return nil, shared.ErrBudgetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget settings: %w", err)
	}
	return s, nil
}

// Get returns the user's settings row.
func (r *BudgetRepository) Get(ctx context.Context, userID string) (*budget.Settings, error) {
	return r.get(ctx, userID, false)
}

// LockOrCreate inserts defaults when absent and locks the row.
func (r *BudgetRepository) LockOrCreate(ctx context.Context, defaults *budget.Settings) (*budget.Settings, error) {
	_, err := r.conn.querier(ctx).Exec(ctx, `
		INSERT INTO user_budget_settings (`+budgetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (user_id) DO NOTHING
	`, budgetArgs(defaults)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create budget settings: %w", err)
	}
	return r.get(ctx, defaults.UserID, true)
}

// Save writes the settings back.
func (r *BudgetRepository) Save(ctx context.Context, s *budget.Settings) error {
	tag, err := r.conn.querier(ctx).Exec(ctx, `
		UPDATE user_budget_settings SET
			monthly_limit_usd = $2,
			custom_limit_usd = $3,
			budget_period = $4,
			custom_period_days = $5,
			current_period_start = $6,
			current_period_end = $7,
			last_reset_date = $8,
			enforce_budget = $9,
			allow_budget_override = $10,
			alert_threshold_yellow = $11,
			alert_threshold_orange = $12,
			alert_threshold_red = $13,
			budget_visible_to_user = $14,
			user_can_modify_limit = $15,
			user_can_reset_budget = $16,
			admin_notes = $17,
			configured_by = $18,
			created_at = $19,
			updated_at = $20
		WHERE user_id = $1
	`, budgetArgs(s)...)
	if err != nil {
		return fmt.Errorf("failed to save budget settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrBudgetNotFound
	}
	return nil
}

// List returns every settings row ordered by user id.
func (r *BudgetRepository) List(ctx context.Context) ([]*budget.Settings, error) {
	rows, err := r.conn.querier(ctx).Query(ctx, `
		SELECT `+budgetColumns+` FROM user_budget_settings ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list budget settings: %w", err)
	}
	defer rows.Close()

	out := []*budget.Settings{}
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget settings: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DueForRollover returns users whose current period ended at or before now.
func (r *BudgetRepository) DueForRollover(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.conn.querier(ctx).Query(ctx, `
		SELECT user_id FROM user_budget_settings
		WHERE current_period_end <= $1
		ORDER BY user_id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due budgets: %w", err)
	}
	defer rows.Close()

	var due []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan due budget: %w", err)
		}
		due = append(due, id)
	}
	return due, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// RESET LOG
// ─────────────────────────────────────────────────────────────────────────────

// InsertResetLog appends one audit row.
func (r *BudgetRepository) InsertResetLog(ctx context.Context, l *budget.ResetLog) error {
	_, err := r.conn.querier(ctx).Exec(ctx, `
		INSERT INTO budget_reset_log (
			id, user_id, reset_type, reset_by, previous_limit, new_limit, previous_spent,
			previous_period_start, previous_period_end, new_period_start, new_period_end,
			reason, reset_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		l.ID, l.UserID, string(l.ResetType), l.ResetBy, l.PreviousLimit, l.NewLimit, l.PreviousSpent,
		l.PreviousPeriodStart, l.PreviousPeriodEnd, l.NewPeriodStart, l.NewPeriodEnd,
		l.Reason, l.ResetAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert budget reset log: %w", err)
	}
	return nil
}

// ResetHistory returns a user's audit rows newest first.
func (r *BudgetRepository) ResetHistory(ctx context.Context, userID string, limit int) ([]*budget.ResetLog, error) {
	query := `
		SELECT id, user_id, reset_type, reset_by, previous_limit, new_limit, previous_spent,
		       previous_period_start, previous_period_end, new_period_start, new_period_end,
		       reason, reset_timestamp
		FROM budget_reset_log
		WHERE user_id = $1
		ORDER BY reset_timestamp DESC, id DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.conn.querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query budget reset log: %w", err)
	}
	defer rows.Close()

	out := []*budget.ResetLog{}
	for rows.Next() {
		var l budget.ResetLog
		var typ string
		if err := rows.Scan(
			&l.ID, &l.UserID, &typ, &l.ResetBy, &l.PreviousLimit, &l.NewLimit, &l.PreviousSpent,
			&l.PreviousPeriodStart, &l.PreviousPeriodEnd, &l.NewPeriodStart, &l.NewPeriodEnd,
			&l.Reason, &l.ResetAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan budget reset log: %w", err)
		}
		l.ResetType = budget.ResetType(typ)
		out = append(out, &l)
	}
	return out, rows.Err()
}
