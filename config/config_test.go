package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("STORE_DRIVER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Database.Driver, "no database configured")
	assert.Equal(t, time.UTC.String(), cfg.App.Location.String())
	assert.Equal(t, 5*time.Minute, cfg.Gamification.LeaderboardCacheTTL)
	assert.Equal(t, 10000, cfg.Gamification.LeaderboardPopulationCap)
	assert.Equal(t, "00:05", cfg.Scheduler.SnapshotTime)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.True(t, cfg.Features.IsEnabled(FeatureXP))
}

func TestLoad_BuildsDatabaseURLFromParts(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "game")
	t.Setenv("DB_SSLMODE", "disable")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://app:secret@db:5432/game?sslmode=disable", cfg.Database.URL)
}

func TestValidate_CollectsEveryError(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("HTTP_PORT", "70000")
	t.Setenv("HTTP_API_KEY_HASHES", "")
	t.Setenv("SCHEDULER_SNAPSHOT_TIME", "25:00")

	_, err := Load()
	require.Error(t, err)
	for _, want := range []string{
		"APP_TIMEZONE",
		"DATABASE_URL is required",
		"HTTP_PORT",
		"HTTP_API_KEY_HASHES",
		"SCHEDULER_SNAPSHOT_TIME",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_UnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER")
}

func TestRedisConfig_ConnURL(t *testing.T) {
	assert.Equal(t, "redis://cache:6380/2", RedisConfig{Host: "cache", Port: 6380, DB: 2}.ConnURL())
	assert.Equal(t, "redis://:pw@cache:6379/0", RedisConfig{Host: "cache", Port: 6379, Password: "pw"}.ConnURL())
	assert.Equal(t, "redis://x", RedisConfig{URL: "redis://x", Host: "ignored"}.ConnURL())
}

func TestGetEnvStringSlice(t *testing.T) {
	t.Setenv("LIST", " a, ,b ,")
	assert.Equal(t, []string{"a", "b"}, getEnvStringSlice("LIST", nil))
	assert.Equal(t, []string{"z"}, getEnvStringSlice("MISSING_LIST", []string{"z"}))
}

func TestFeatureFlags_EnvOverrides(t *testing.T) {
	t.Setenv("FEATURE_GAMIFICATION_ACHIEVEMENT_REWARDS", "false")
	t.Setenv("FEATURE_BUDGET_ENFORCEMENT", "50")

	ff := LoadFeatureFlags()
	assert.False(t, ff.IsEnabledFor(FeatureAchievementRewards, "u1"))
	assert.True(t, ff.IsEnabledFor(FeatureStreaks, "u1"))

	f := ff.GetAllFeatures()[FeatureBudgetEnforcement]
	assert.Equal(t, 50, f.RolloutPercent)
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureLeaderboards, 30))

	in := 0
	for i := 0; i < 1000; i++ {
		id := "user-" + time.Duration(i).String()
		first := ff.IsEnabledFor(FeatureLeaderboards, id)
		assert.Equal(t, first, ff.IsEnabledFor(FeatureLeaderboards, id))
		if first {
			in++
		}
	}
	assert.InDelta(t, 300, in, 80)
	assert.False(t, ff.IsEnabledFor(FeatureLeaderboards, ""), "anonymous callers are outside a partial rollout")
}

func TestFeatureFlags_Overrides(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.DisableFeature(FeatureXP))
	assert.False(t, ff.IsEnabledFor(FeatureXP, "u1"))

	ff.SetUserOverride("u1", FeatureXP, true)
	assert.True(t, ff.IsEnabledFor(FeatureXP, "u1"))
	assert.False(t, ff.IsEnabledFor(FeatureXP, "u2"))

	ff.ClearUserOverrides("u1")
	assert.False(t, ff.IsEnabledFor(FeatureXP, "u1"))

	assert.ErrorIs(t, ff.SetRolloutPercent("nope", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureXP, 101), ErrInvalidRolloutPercent)
	assert.False(t, ff.IsEnabledFor("nope", "u1"))
}
