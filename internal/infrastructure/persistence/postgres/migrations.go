package postgres

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_xp", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_streaks", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_achievements_and_leaderboards", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_budgets", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: XP
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS user_xp (
    user_id TEXT PRIMARY KEY,
    total_xp INTEGER NOT NULL DEFAULT 0,
    current_level INTEGER NOT NULL DEFAULT 1,
    xp_to_next_level INTEGER NOT NULL DEFAULT 100,
    level_progress DOUBLE PRECISION NOT NULL DEFAULT 0,
    title VARCHAR(50) NOT NULL DEFAULT 'Beginner',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_total_xp CHECK (total_xp >= 0),
    CONSTRAINT valid_level CHECK (current_level BETWEEN 1 AND 100)
);

CREATE INDEX IF NOT EXISTS idx_user_xp_total ON user_xp(total_xp DESC);
CREATE INDEX IF NOT EXISTS idx_user_xp_level ON user_xp(current_level);

-- Append-only ledger
CREATE TABLE IF NOT EXISTS xp_transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    amount INTEGER NOT NULL,
    reason VARCHAR(100) NOT NULL,
    reference_id TEXT,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_xp_transactions_user_created ON xp_transactions(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_xp_transactions_created ON xp_transactions(created_at);
CREATE INDEX IF NOT EXISTS idx_xp_transactions_reason ON xp_transactions(reason);
CREATE INDEX IF NOT EXISTS idx_xp_transactions_reference
    ON xp_transactions(user_id, reason, reference_id) WHERE reference_id IS NOT NULL;
`

const migration001Down = `
DROP TABLE IF EXISTS xp_transactions;
DROP TABLE IF EXISTS user_xp;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: STREAKS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS user_streaks (
    user_id TEXT PRIMARY KEY,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_activity_date DATE,
    streak_freezes_available INTEGER NOT NULL DEFAULT 0,
    total_freezes_earned INTEGER NOT NULL DEFAULT 0,
    total_freezes_used INTEGER NOT NULL DEFAULT 0,
    last_freeze_earned_at TIMESTAMP WITH TIME ZONE,
    last_freeze_used_at TIMESTAMP WITH TIME ZONE,
    timezone VARCHAR(64) NOT NULL DEFAULT 'UTC',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_streaks CHECK (current_streak >= 0 AND longest_streak >= current_streak),
    CONSTRAINT valid_freezes CHECK (streak_freezes_available BETWEEN 0 AND 3)
);

CREATE INDEX IF NOT EXISTS idx_user_streaks_current ON user_streaks(current_streak DESC);
CREATE INDEX IF NOT EXISTS idx_user_streaks_longest ON user_streaks(longest_streak DESC);

CREATE TABLE IF NOT EXISTS streak_history (
    user_id TEXT NOT NULL,
    activity_date DATE NOT NULL,
    streak_value INTEGER NOT NULL,
    freeze_used BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, activity_date)
);
`

const migration002Down = `
DROP TABLE IF EXISTS streak_history;
DROP TABLE IF EXISTS user_streaks;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: ACHIEVEMENTS & LEADERBOARDS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS achievements (
    achievement_id VARCHAR(100) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT NOT NULL,
    category VARCHAR(50) NOT NULL,
    rarity VARCHAR(20) NOT NULL,
    icon_url VARCHAR(500) NOT NULL DEFAULT '',
    xp_reward INTEGER NOT NULL DEFAULT 0,
    criteria JSONB NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    display_order INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_rarity CHECK (rarity IN ('common', 'rare', 'epic', 'legendary'))
);

CREATE TABLE IF NOT EXISTS user_achievements (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    achievement_id VARCHAR(100) NOT NULL REFERENCES achievements(achievement_id) ON DELETE CASCADE,
    unlocked_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    progress INTEGER NOT NULL DEFAULT 100,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,

    CONSTRAINT uq_user_achievement UNIQUE (user_id, achievement_id)
);

CREATE INDEX IF NOT EXISTS idx_user_achievements_user ON user_achievements(user_id, unlocked_at DESC);

CREATE TABLE IF NOT EXISTS leaderboard_cache (
    user_id TEXT NOT NULL,
    metric VARCHAR(50) NOT NULL,
    score INTEGER NOT NULL,
    rank INTEGER NOT NULL,
    previous_rank INTEGER,
    rank_change INTEGER NOT NULL DEFAULT 0,
    percentile DOUBLE PRECISION NOT NULL DEFAULT 0,
    cached_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, metric)
);

CREATE INDEX IF NOT EXISTS idx_leaderboard_cache_metric_rank ON leaderboard_cache(metric, rank);

CREATE TABLE IF NOT EXISTS leaderboard_snapshots (
    id TEXT PRIMARY KEY,
    metric VARCHAR(50) NOT NULL,
    period VARCHAR(20) NOT NULL,
    snapshot_date DATE NOT NULL,
    data JSONB NOT NULL,
    total_entries INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_snapshot UNIQUE (metric, period, snapshot_date)
);
`

const migration003Down = `
DROP TABLE IF EXISTS leaderboard_snapshots;
DROP TABLE IF EXISTS leaderboard_cache;
DROP TABLE IF EXISTS user_achievements;
DROP TABLE IF EXISTS achievements;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: BUDGETS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS user_budget_settings (
    user_id TEXT PRIMARY KEY,
    monthly_limit_usd NUMERIC(12,4) NOT NULL DEFAULT 30.00,
    custom_limit_usd NUMERIC(12,4),
    budget_period VARCHAR(20) NOT NULL DEFAULT 'monthly',
    custom_period_days INTEGER,
    current_period_start TIMESTAMP WITH TIME ZONE NOT NULL,
    current_period_end TIMESTAMP WITH TIME ZONE NOT NULL,
    last_reset_date TIMESTAMP WITH TIME ZONE NOT NULL,
    enforce_budget BOOLEAN NOT NULL DEFAULT TRUE,
    allow_budget_override BOOLEAN NOT NULL DEFAULT FALSE,
    alert_threshold_yellow DOUBLE PRECISION NOT NULL DEFAULT 50,
    alert_threshold_orange DOUBLE PRECISION NOT NULL DEFAULT 75,
    alert_threshold_red DOUBLE PRECISION NOT NULL DEFAULT 90,
    budget_visible_to_user BOOLEAN NOT NULL DEFAULT TRUE,
    user_can_modify_limit BOOLEAN NOT NULL DEFAULT FALSE,
    user_can_reset_budget BOOLEAN NOT NULL DEFAULT FALSE,
    admin_notes TEXT NOT NULL DEFAULT '',
    configured_by TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_budget_period CHECK (budget_period IN ('monthly', 'weekly', 'daily', 'custom')),
    CONSTRAINT valid_thresholds CHECK (
        alert_threshold_yellow < alert_threshold_orange
        AND alert_threshold_orange < alert_threshold_red
    )
);

CREATE INDEX IF NOT EXISTS idx_user_budget_period_end ON user_budget_settings(current_period_end);

CREATE TABLE IF NOT EXISTS budget_reset_log (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    reset_type VARCHAR(20) NOT NULL,
    reset_by TEXT NOT NULL,
    previous_limit NUMERIC(12,4) NOT NULL,
    new_limit NUMERIC(12,4) NOT NULL,
    previous_spent NUMERIC(12,4) NOT NULL,
    previous_period_start TIMESTAMP WITH TIME ZONE NOT NULL,
    previous_period_end TIMESTAMP WITH TIME ZONE NOT NULL,
    new_period_start TIMESTAMP WITH TIME ZONE NOT NULL,
    new_period_end TIMESTAMP WITH TIME ZONE NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    reset_timestamp TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_reset_type CHECK (reset_type IN ('manual', 'automatic', 'admin'))
);

CREATE INDEX IF NOT EXISTS idx_budget_reset_log_user ON budget_reset_log(user_id, reset_timestamp DESC);
`

const migration004Down = `
DROP TABLE IF EXISTS budget_reset_log;
DROP TABLE IF EXISTS user_budget_settings;
`
