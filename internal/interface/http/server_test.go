package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lingotutor/gamification-engine/config"
	"github.com/lingotutor/gamification-engine/internal/app"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/infrastructure/persistence/memory"
	"github.com/lingotutor/gamification-engine/internal/interface/http/handlers"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

const testKey = "test-api-key"

type testServer struct {
	srv   *Server
	app   *app.App
	flags *config.FeatureFlags
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testKey), bcrypt.MinCost)
	require.NoError(t, err)

	store := memory.NewStore()
	store.AddUser(shared.User{ID: "alice", Username: "alice", Role: shared.RoleUser})
	store.AddUser(shared.User{ID: "bob", Username: "bob", Role: shared.RoleUser})
	store.AddUser(shared.User{ID: "root", Username: "root", Role: shared.RoleAdmin})

	flags := config.NewFeatureFlags()
	cfg := &config.Config{
		App:      config.AppConfig{Name: "gamification-engine", Version: "test"},
		HTTP:     config.HTTPConfig{CORSOrigins: []string{"*"}, APIKeyHashes: []string{string(hash)}},
		Features: flags,
		Gamification: config.GamificationConfig{
			LeaderboardCacheTTL:       time.Minute,
			LeaderboardPopulationCap:  1000,
			LeaderboardRefreshWorkers: 2,
			DefaultStreakTimezone:     "UTC",
		},
		Budget: config.BudgetConfig{LedgerFailureThreshold: 5, LedgerOpenTimeout: time.Second},
	}

	a, err := app.Assemble(app.Deps{
		Config: cfg,
		Logger: logger.Discard(),
		Clock:  timeutil.NewManualClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		Stores: app.MemoryStores(store),
	})
	require.NoError(t, err)

	return &testServer{srv: NewServer(cfg.HTTP, a, logger.Discard()), app: a, flags: flags}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta struct {
		Version string `json:"version"`
		Count   *int   `json:"count"`
	} `json:"meta"`
}

// do sends a request as user (empty for none) with the valid API key.
func (ts *testServer) do(t *testing.T, method, path, user string, body any) (int, envelope) {
	t.Helper()
	return ts.doWithKey(t, method, path, user, testKey, body)
}

func (ts *testServer) doWithKey(t *testing.T, method, path, user, key string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func TestHealthEndpointsNeedNoKey(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health", "/live", "/ready", "/"} {
		code, env := ts.doWithKey(t, http.MethodGet, path, "", "", nil)
		assert.Equal(t, http.StatusOK, code, path)
		assert.True(t, env.Success, path)
		assert.Equal(t, "v1", env.Meta.Version)
	}
}

func TestReadyReportsFailingCheck(t *testing.T) {
	ts := newTestServer(t)
	ts.srv.health.AddCheck("postgres", func(_ context.Context) error { return errors.New("down") })

	code, env := ts.doWithKey(t, http.MethodGet, "/ready", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, env.Success)

	st := decodeData[handlers.HealthStatus](t, env)
	assert.False(t, st.Ready)
	assert.Equal(t, "down", st.Checks["postgres"].Message)
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

func TestAPIRequiresKeyAndActor(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.doWithKey(t, http.MethodGet, "/api/v1/users/alice/xp", "alice", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", env.Error.Code)

	code, _ = ts.doWithKey(t, http.MethodGet, "/api/v1/users/alice/xp", "alice", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/users/alice/xp", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/users/alice/xp", "mallory", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = ts.do(t, http.MethodGet, "/api/v1/users/alice/xp", "alice", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
}

func TestBearerTokenIsAccepted(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/achievements", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUsersCannotReadOthers(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodGet, "/api/v1/users/alice/xp", "bob", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", env.Error.Code)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/users/alice/xp", "root", nil)
	assert.Equal(t, http.StatusOK, code)
}

// ══════════════════════════════════════════════════════════════════════════════
// XP
// ══════════════════════════════════════════════════════════════════════════════

func TestAwardXP(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]any{"amount": 250, "reason": "scenario_completion", "reference_id": "s1"}

	code, _ := ts.do(t, http.MethodPost, "/api/v1/users/alice/xp", "alice", body)
	assert.Equal(t, http.StatusForbidden, code, "only administrators award XP")

	code, env := ts.do(t, http.MethodPost, "/api/v1/users/alice/xp", "root", body)
	require.Equal(t, http.StatusOK, code)
	res := decodeData[map[string]any](t, env)
	assert.Equal(t, float64(250), res["total_xp"])
	assert.Equal(t, float64(3), res["current_level"])
	assert.Equal(t, true, res["level_up"])

	code, env = ts.do(t, http.MethodGet, "/api/v1/users/alice/xp", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	info := decodeData[map[string]any](t, env)
	assert.Equal(t, float64(250), info["total_xp"])

	code, env = ts.do(t, http.MethodGet, "/api/v1/users/alice/xp/history?limit=5", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Meta.Count)
	assert.Equal(t, 1, *env.Meta.Count)
}

func TestAwardXPValidation(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodPost, "/api/v1/users/alice/xp", "root", map[string]any{"amount": 10})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", env.Error.Code)

	code, env = ts.do(t, http.MethodPost, "/api/v1/users/alice/xp", "root", map[string]any{"amount": 1 << 40, "reason": "bulk"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", env.Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/alice/xp", bytes.NewBufferString("{not json"))
	req.Header.Set("X-API-Key", testKey)
	req.Header.Set("X-User-ID", "root")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/users/alice/xp/history?limit=abc", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestScenarioPreview(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodPost, "/api/v1/xp/scenario-preview", "alice", map[string]any{
		"difficulty":        "intermediate",
		"rating":            5,
		"streak_multiplier": 1.0,
	})
	require.Equal(t, http.StatusOK, code)
	res := decodeData[map[string]any](t, env)
	assert.Equal(t, float64(75), res["base_xp"])
	assert.Equal(t, float64(15), res["rating_bonus"])
	assert.Equal(t, float64(90), res["total_xp"])
}

func TestCompleteScenario(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodPost, "/api/v1/users/alice/scenarios/sc-1/complete", "alice", map[string]any{
		"difficulty": "beginner",
	})
	require.Equal(t, http.StatusOK, code)
	res := decodeData[map[string]any](t, env)
	assert.Equal(t, "sc-1", res["scenario_id"])
	assert.NotEmpty(t, res["steps"])

	code, env = ts.do(t, http.MethodGet, "/api/v1/users/alice/streak", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	st := decodeData[map[string]any](t, env)
	assert.Equal(t, float64(1), st["current_streak"])
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAKS & ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

func TestStreakEndpoints(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, http.MethodPost, "/api/v1/users/alice/streak", "alice", map[string]any{"timezone": "UTC"})
	require.Equal(t, http.StatusOK, code)

	code, env := ts.do(t, http.MethodGet, "/api/v1/users/alice/streak/history?days=7", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Meta.Count)
	assert.Equal(t, 1, *env.Meta.Count)

	code, env = ts.do(t, http.MethodPost, "/api/v1/users/alice/streak/freeze", "alice", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
}

func TestAchievementEndpoints(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodGet, "/api/v1/achievements", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Meta.Count)

	code, env = ts.do(t, http.MethodGet, "/api/v1/users/alice/achievements", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Meta.Count)
	assert.Zero(t, *env.Meta.Count)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/users/alice/achievements/no-such/progress", "alice", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARDS
// ══════════════════════════════════════════════════════════════════════════════

func TestLeaderboardEndpoints(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, http.MethodPost, "/api/v1/users/bob/xp", "root", map[string]any{"amount": 40, "reason": "bonus"})
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodPost, "/api/v1/users/alice/xp", "root", map[string]any{"amount": 90, "reason": "bonus"})
	require.Equal(t, http.StatusOK, code)

	code, env := ts.do(t, http.MethodGet, "/api/v1/leaderboards/xp_all_time?fresh=true", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	entries := decodeData[[]map[string]any](t, env)
	require.Len(t, entries, 2)
	assert.Equal(t, "alice", entries[0]["user_id"])
	assert.Equal(t, float64(1), entries[0]["rank"])

	code, env = ts.do(t, http.MethodGet, "/api/v1/leaderboards/xp_all_time/users/bob", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	rank := decodeData[map[string]any](t, env)
	assert.Equal(t, float64(2), rank["rank"])

	code, _ = ts.do(t, http.MethodGet, "/api/v1/leaderboards/xp_all_time/users/root", "alice", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = ts.do(t, http.MethodGet, "/api/v1/leaderboards/bogus", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", env.Error.Code)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/leaderboards/xp_all_time/history/daily/2024-13-01", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/leaderboards/refresh", "alice", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/leaderboards/refresh", "root", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestLeaderboardSnapshotIsIdempotent(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, http.MethodPost, "/api/v1/leaderboards/xp_all_time/snapshots", "root", map[string]any{"period": "daily"})
	assert.Equal(t, http.StatusCreated, code)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/leaderboards/xp_all_time/snapshots", "root", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/leaderboards/xp_all_time/snapshots", "root", map[string]any{"period": "hourly"})
	assert.Equal(t, http.StatusBadRequest, code)
}

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE FLAGS
// ══════════════════════════════════════════════════════════════════════════════

func TestDisabledFeatureIsHidden(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.flags.DisableFeature(config.FeatureLeaderboards))

	code, env := ts.do(t, http.MethodGet, "/api/v1/leaderboards/xp_all_time", "alice", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "feature_disabled", env.Error.Code)

	ts.flags.SetUserOverride("alice", config.FeatureLeaderboards, true)
	code, _ = ts.do(t, http.MethodGet, "/api/v1/leaderboards/xp_all_time", "alice", nil)
	assert.Equal(t, http.StatusOK, code)
}

// ══════════════════════════════════════════════════════════════════════════════
// BUDGETS
// ══════════════════════════════════════════════════════════════════════════════

func TestBudgetEndpoints(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodGet, "/api/v1/users/alice/budget/status", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	st := decodeData[map[string]any](t, env)
	assert.Equal(t, true, st["enforce_budget"])
	assert.Equal(t, "green", st["alert_level"])

	code, env = ts.do(t, http.MethodGet, "/api/v1/users/alice/budget", "bob", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", env.Error.Code)

	code, _ = ts.do(t, http.MethodPatch, "/api/v1/users/alice/budget", "alice", map[string]any{"monthly_limit_usd": 50})
	assert.Equal(t, http.StatusForbidden, code, "users cannot change their limit by default")

	code, _ = ts.do(t, http.MethodPatch, "/api/v1/users/alice/budget", "root", map[string]any{"monthly_limit_usd": 50})
	assert.Equal(t, http.StatusOK, code)

	code, _ = ts.do(t, http.MethodPatch, "/api/v1/users/alice/budget", "root", map[string]any{
		"alert_threshold_yellow": 80, "alert_threshold_orange": 70,
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/users/alice/budget/reset", "root", map[string]any{"reason": "new term"})
	require.Equal(t, http.StatusOK, code)

	code, env = ts.do(t, http.MethodGet, "/api/v1/users/alice/budget/resets", "root", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Meta.Count)
	assert.Equal(t, 1, *env.Meta.Count)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/budgets", "alice", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = ts.do(t, http.MethodGet, "/api/v1/budgets", "root", nil)
	require.Equal(t, http.StatusOK, code)
	views := decodeData[[]map[string]any](t, env)
	assert.NotEmpty(t, views)
}

func TestBudgetEnforcementFlag(t *testing.T) {
	ts := newTestServer(t)
	ts.flags.SetUserOverride("alice", config.FeatureBudgetEnforcement, false)

	code, env := ts.do(t, http.MethodGet, "/api/v1/users/alice/budget/status", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	st := decodeData[map[string]any](t, env)
	assert.Equal(t, false, st["enforce_budget"])
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Error.Code)
}
