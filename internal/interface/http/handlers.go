package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lingotutor/gamification-engine/config"
	"github.com/lingotutor/gamification-engine/internal/application/command"
	"github.com/lingotutor/gamification-engine/internal/application/query"
	"github.com/lingotutor/gamification-engine/internal/application/saga"
	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/budget"
	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/internal/domain/xp"
	"github.com/lingotutor/gamification-engine/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	name := "gamification-engine"
	if s.app.Config != nil && s.app.Config.App.Name != "" {
		name = s.app.Config.App.Name
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]any{
		"name":    name,
		"version": handlers.APIVersion,
		"endpoints": map[string]string{
			"health":       "/health",
			"ready":        "/ready",
			"leaderboards": "/api/v1/leaderboards/{metric}",
			"users":        "/api/v1/users/{userID}",
		},
	})
}

// handleHealth is a cheap liveness answer; /ready runs the dependency checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": s.Uptime().Round(time.Second).String(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// XP HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type awardXPRequest struct {
	Amount      int            `json:"amount"`
	Reason      string         `json:"reason"`
	ReferenceID string         `json:"reference_id"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) handleAwardXP(w http.ResponseWriter, r *http.Request) {
	var req awardXPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	res, err := s.app.Commands.AwardXP.Handle(r.Context(), command.AwardXPCommand{
		UserID:      chi.URLParam(r, "userID"),
		Amount:      req.Amount,
		Reason:      req.Reason,
		ReferenceID: req.ReferenceID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetLevel(w http.ResponseWriter, r *http.Request) {
	info, err := s.app.Queries.XP.Level(r.Context(), query.GetUserLevelQuery{UserID: chi.URLParam(r, "userID")})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetXPHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		badRequest(w, err)
		return
	}
	txs, err := s.app.Queries.XP.History(r.Context(), query.GetXPHistoryQuery{
		UserID: chi.URLParam(r, "userID"),
		Limit:  limit,
		Reason: r.URL.Query().Get("reason"),
	})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteList(w, txs)
}

func (s *Server) handleGetXPStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.Queries.XP.Statistics(r.Context(), query.GetUserLevelQuery{UserID: chi.URLParam(r, "userID")})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, stats)
}

// scenarioRequest carries the completion signals of one scenario.
type scenarioRequest struct {
	Difficulty        string  `json:"difficulty"`
	Rating            int     `json:"rating"`
	CulturalAccuracy  int     `json:"cultural_accuracy"`
	CompletionMinutes int     `json:"completion_minutes"`
	EstimatedMinutes  int     `json:"estimated_minutes"`
	StreakMultiplier  float64 `json:"streak_multiplier"`
}

func (q scenarioRequest) input() xp.ScenarioInput {
	return xp.ScenarioInput{
		Difficulty:        xp.Difficulty(q.Difficulty),
		Rating:            q.Rating,
		CulturalAccuracy:  q.CulturalAccuracy,
		CompletionMinutes: q.CompletionMinutes,
		EstimatedMinutes:  q.EstimatedMinutes,
		StreakMultiplier:  q.StreakMultiplier,
	}
}

func (s *Server) handleScenarioPreview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		scenarioRequest
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.UserID == "" {
		actor, _ := handlers.Actor(r.Context())
		req.UserID = actor.ID
	}
	handlers.WriteJSON(w, http.StatusOK, s.app.Queries.ScenarioXP.Handle(r.Context(), query.CalculateScenarioXPQuery{
		UserID:        req.UserID,
		ScenarioInput: req.input(),
	}))
}

func (s *Server) handleCompleteScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
		Timezone string `json:"timezone"`
		scenarioRequest
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	res, err := s.app.ScenarioFlow.Execute(r.Context(), saga.ScenarioCompletionInput{
		UserID:        chi.URLParam(r, "userID"),
		ScenarioID:    chi.URLParam(r, "scenarioID"),
		Category:      req.Category,
		Timezone:      req.Timezone,
		ScenarioInput: req.input(),
	})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetStreak(w http.ResponseWriter, r *http.Request) {
	st, err := s.app.Queries.Streaks.Status(r.Context(), query.GetStreakStatusQuery{UserID: chi.URLParam(r, "userID")})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetStreakHistory(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		badRequest(w, err)
		return
	}
	entries, err := s.app.Queries.Streaks.History(r.Context(), query.GetStreakHistoryQuery{
		UserID: chi.URLParam(r, "userID"),
		Days:   days,
	})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteList(w, entries)
}

func (s *Server) handleUpdateStreak(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Timezone string `json:"timezone"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	res, err := s.app.Commands.UpdateStreak.Handle(r.Context(), command.UpdateStreakCommand{
		UserID:   chi.URLParam(r, "userID"),
		Timezone: req.Timezone,
	})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleUseFreeze(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Commands.UseStreakFreeze.Handle(r.Context(), command.UseStreakFreezeCommand{
		UserID: chi.URLParam(r, "userID"),
	})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListAchievements(w http.ResponseWriter, r *http.Request) {
	all, err := s.app.Queries.Achievements.All(r.Context())
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteList(w, all)
}

func (s *Server) handleGetUnlocked(w http.ResponseWriter, r *http.Request) {
	unlocked, err := s.app.Queries.Achievements.Unlocked(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteList(w, unlocked)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	view, err := s.app.Queries.Achievements.Progress(r.Context(), query.GetAchievementProgressQuery{
		UserID:        chi.URLParam(r, "userID"),
		AchievementID: chi.URLParam(r, "achievementID"),
	})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	if view == nil {
		handlers.WriteError(w, http.StatusNotFound, handlers.CodeNotFound, "achievement not found")
		return
	}
	handlers.WriteJSON(w, http.StatusOK, view)
}

func (s *Server) handleCheckAchievements(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Trigger   string         `json:"trigger"`
		EventData map[string]any `json:"event_data"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	unlocked := s.app.Commands.CheckAchievements.Handle(r.Context(), command.CheckAchievementsCommand{
		UserID:    chi.URLParam(r, "userID"),
		Trigger:   achievement.Trigger(req.Trigger),
		EventData: req.EventData,
	})
	handlers.WriteList(w, unlocked)
}

func (s *Server) handleUnlockAchievement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	ua, err := s.app.Commands.UnlockAchievement.Handle(r.Context(), command.UnlockAchievementCommand{
		UserID:        chi.URLParam(r, "userID"),
		AchievementID: chi.URLParam(r, "achievementID"),
		Metadata:      req.Metadata,
	})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, ua)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

var errUnknownMetric = errors.New("unknown leaderboard metric")

func metricParam(r *http.Request) (leaderboard.Metric, error) {
	m := leaderboard.Metric(chi.URLParam(r, "metric"))
	if !m.IsValid() {
		return "", errUnknownMetric
	}
	return m, nil
}

func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	metric, err := metricParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		badRequest(w, err)
		return
	}
	handlers.WriteList(w, s.app.Queries.Leaderboards.Global(r.Context(), query.GetLeaderboardQuery{
		Metric:    metric,
		Limit:     limit,
		SkipCache: queryBool(r, "fresh"),
	}))
}

func (s *Server) handleXPRankings(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		badRequest(w, err)
		return
	}
	handlers.WriteList(w, s.app.Queries.Leaderboards.XPRankings(r.Context(), limit))
}

func (s *Server) handleGetUserRank(w http.ResponseWriter, r *http.Request) {
	metric, err := metricParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	info := s.app.Queries.Leaderboards.UserRank(r.Context(), query.GetUserRankQuery{
		UserID: chi.URLParam(r, "userID"),
		Metric: metric,
	})
	if info == nil {
		handlers.WriteError(w, http.StatusNotFound, handlers.CodeNotFound, "user is not ranked on this leaderboard")
		return
	}
	handlers.WriteJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetHistoricalLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.app.Queries.Leaderboards.Historical(r.Context(), query.GetHistoricalLeaderboardQuery{
		Metric: leaderboard.Metric(chi.URLParam(r, "metric")),
		Period: leaderboard.Period(chi.URLParam(r, "period")),
		Date:   chi.URLParam(r, "date"),
	})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteList(w, entries)
}

func (s *Server) handleRefreshLeaderboards(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, s.app.Commands.RefreshLeaderboards.Handle(r.Context()))
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	metric, err := metricParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req struct {
		Period string `json:"period"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	period := leaderboard.PeriodDaily
	if req.Period != "" {
		p, ok := leaderboard.ParsePeriod(req.Period)
		if !ok {
			badRequest(w, errors.New("period must be daily, weekly or monthly"))
			return
		}
		period = p
	}
	res, err := s.app.Commands.CreateSnapshot.Handle(r.Context(), command.CreateLeaderboardSnapshotCommand{
		Metric: metric,
		Period: period,
	})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	handlers.WriteJSON(w, status, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// BUDGET HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func budgetQuery(r *http.Request) query.GetBudgetQuery {
	actor, _ := handlers.Actor(r.Context())
	return query.GetBudgetQuery{Viewer: actor, TargetUserID: chi.URLParam(r, "userID")}
}

func (s *Server) handleGetBudgetSettings(w http.ResponseWriter, r *http.Request) {
	view, err := s.app.Queries.Budgets.Settings(r.Context(), budgetQuery(r))
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdateBudgetSettings(w http.ResponseWriter, r *http.Request) {
	var upd budget.Update
	if err := decodeJSON(w, r, &upd); err != nil {
		badRequest(w, err)
		return
	}
	actor, _ := handlers.Actor(r.Context())
	view, err := s.app.Commands.UpdateBudgetSettings.Handle(r.Context(), command.UpdateBudgetSettingsCommand{
		Actor:        actor,
		TargetUserID: chi.URLParam(r, "userID"),
		Update:       upd,
	})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, view)
}

// handleGetBudgetStatus reports enforcement as off for users outside the
// budget.enforcement rollout.
func (s *Server) handleGetBudgetStatus(w http.ResponseWriter, r *http.Request) {
	q := budgetQuery(r)
	st, err := s.app.Queries.Budgets.Status(r.Context(), q)
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	if s.app.Flags != nil && !s.app.Flags.IsEnabledFor(config.FeatureBudgetEnforcement, q.TargetUserID) {
		st.EnforceBudget = false
	}
	handlers.WriteJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetBudgetBreakdown(w http.ResponseWriter, r *http.Request) {
	b, err := s.app.Queries.Budgets.Breakdown(r.Context(), budgetQuery(r))
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, b)
}

func (s *Server) handleGetResetHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		badRequest(w, err)
		return
	}
	logs, err := s.app.Queries.Budgets.ResetHistory(r.Context(), query.GetResetHistoryQuery{
		GetBudgetQuery: budgetQuery(r),
		Limit:          limit,
	})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteList(w, logs)
}

func (s *Server) handleResetBudget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	actor, _ := handlers.Actor(r.Context())
	res, err := s.app.Commands.ResetBudget.Handle(r.Context(), command.ResetBudgetCommand{
		Actor:        actor,
		TargetUserID: chi.URLParam(r, "userID"),
		Reason:       req.Reason,
	})
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	actor, _ := handlers.Actor(r.Context())
	views, err := s.app.Queries.Budgets.List(r.Context(), actor)
	if err != nil {
		handlers.WriteDomainError(w, err)
		return
	}
	handlers.WriteList(w, views)
}
