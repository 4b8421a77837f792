package achievement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
)

type fakeStats struct {
	ratings     int
	perfect     int
	recent      []int
	cultural    map[float64]int
	collections int
	bookmarks   int
	err         error

	culturalMin float64
}

func (f *fakeStats) RatingsGiven(context.Context, string) (int, error) { return f.ratings, f.err }
func (f *fakeStats) PerfectRatings(context.Context, string) (int, error) {
	return f.perfect, f.err
}
func (f *fakeStats) RecentRatings(_ context.Context, _ string, n int) ([]int, error) {
	if len(f.recent) > n {
		return f.recent[:n], f.err
	}
	return f.recent, f.err
}
func (f *fakeStats) CulturalAccuracyAtLeast(_ context.Context, _ string, min float64) (int, error) {
	f.culturalMin = min
	return f.cultural[min], f.err
}
func (f *fakeStats) CollectionsCreated(context.Context, string) (int, error) {
	return f.collections, f.err
}
func (f *fakeStats) BookmarksCreated(context.Context, string) (int, error) { return f.bookmarks, f.err }

type fakeStreaks struct {
	facts StreakFacts
	err   error
}

func (f fakeStreaks) StreakFacts(context.Context, string) (StreakFacts, error) { return f.facts, f.err }

func newTestEvaluator(stats *fakeStats, streaks fakeStreaks) *Evaluator {
	return NewEvaluator(stats, streaks, logger.Discard())
}

func crit(raw map[string]any) Criteria { return ParseCriteria(raw) }

// ══════════════════════════════════════════════════════════════════════════════
// Relevance
// ══════════════════════════════════════════════════════════════════════════════

func TestRelevance_Table(t *testing.T) {
	cases := map[Trigger][]Kind{
		TriggerScenarioCompleted: {
			KindScenarioCompletions, KindCategoryCompletions, KindDifficultyCompletions,
			KindPerfectRating, KindPerfectRatingStreak, KindHighCulturalAccuracy, KindFastCompletion,
		},
		TriggerStreakUpdated:     {KindCurrentStreak},
		TriggerStreakFreezeUsed:  {KindStreakFreezeUsed},
		TriggerRatingGiven:       {KindRatingsGiven},
		TriggerCollectionCreated: {KindCollectionsCreated},
		TriggerBookmarkCreated:   {KindBookmarksCreated},
		TriggerScenarioShared:    {KindScenariosShared},
		TriggerVocabularyLearned: {KindWordsLearned},
	}
	require.Len(t, Triggers(), len(cases))

	for trig, want := range cases {
		t.Run(string(trig), func(t *testing.T) {
			assert.ElementsMatch(t, want, RelevantKinds(trig))
			for _, k := range Kinds() {
				expected := false
				for _, w := range want {
					if w == k {
						expected = true
					}
				}
				assert.Equal(t, expected, IsRelevant(trig, k), k.String())
			}
		})
	}
}

func TestRelevance_UnknownTrigger(t *testing.T) {
	assert.False(t, Trigger("lesson_done").Known())
	assert.Empty(t, RelevantKinds("lesson_done"))
	assert.False(t, IsRelevant("lesson_done", KindCurrentStreak))
}

func TestRelevantKinds_ReturnsCopy(t *testing.T) {
	k := RelevantKinds(TriggerStreakUpdated)
	k[0] = KindBookmarksCreated
	assert.Equal(t, []Kind{KindCurrentStreak}, RelevantKinds(TriggerStreakUpdated))
}

// ══════════════════════════════════════════════════════════════════════════════
// Criteria
// ══════════════════════════════════════════════════════════════════════════════

func TestParseCriteria(t *testing.T) {
	c := crit(map[string]any{"type": "current_streak", "days": 7})

	assert.Equal(t, KindCurrentStreak, c.Kind)
	assert.Equal(t, 7, c.Int("days", 1))
	assert.Equal(t, 3, c.Int("missing", 3))
	assert.Equal(t, map[string]any{"type": "current_streak", "days": 7}, c.Map())
}

func TestParseCriteria_Unknown(t *testing.T) {
	c := crit(map[string]any{"type": "moon_landing"})
	assert.Equal(t, KindUnknown, c.Kind)
	assert.Equal(t, "unknown", c.Kind.String())
}

func TestCriteria_JSONRoundTrip(t *testing.T) {
	in := crit(map[string]any{"type": "high_cultural_accuracy", "threshold": 90, "count": 10})

	b, err := in.MarshalJSON()
	require.NoError(t, err)

	var out Criteria
	require.NoError(t, out.UnmarshalJSON(b))
	assert.True(t, in.Equal(out))
	assert.Equal(t, 90.0, out.Float("threshold", 0))
}

func TestCriteria_EqualIgnoresNumericRepresentation(t *testing.T) {
	a := crit(map[string]any{"type": "ratings_given", "count": 10})
	b := crit(map[string]any{"type": "ratings_given", "count": 10.0})
	c := crit(map[string]any{"type": "ratings_given", "count": 11})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

// ══════════════════════════════════════════════════════════════════════════════
// Catalog & reconciliation
// ══════════════════════════════════════════════════════════════════════════════

func TestCatalog_Loads(t *testing.T) {
	cat, err := Catalog()
	require.NoError(t, err)
	require.Len(t, cat, 27)

	ids := make(map[string]bool)
	for i, a := range cat {
		assert.NotEqual(t, KindUnknown, a.Criteria.Kind, a.ID)
		assert.True(t, a.IsActive, a.ID)
		assert.False(t, ids[a.ID], "duplicate %s", a.ID)
		ids[a.ID] = true
		if i > 0 {
			assert.LessOrEqual(t, cat[i-1].DisplayOrder, a.DisplayOrder)
		}
	}

	assert.Equal(t, "first_steps", cat[0].ID)
	assert.True(t, ids["week_warrior"])
	assert.True(t, ids["comeback_kid"])
}

func TestParseCatalog_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing id", "achievements:\n  - name: x\n    criteria: {type: ratings_given}\n"},
		{"duplicate id", "achievements:\n  - id: a\n    criteria: {type: ratings_given}\n  - id: a\n    criteria: {type: ratings_given}\n"},
		{"unknown kind", "achievements:\n  - id: a\n    criteria: {type: nope}\n"},
		{"malformed", "achievements: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestParseCatalog_UnknownKindIsCriteriaError(t *testing.T) {
	_, err := ParseCatalog([]byte("achievements:\n  - id: a\n    criteria: {type: nope}\n"))
	assert.True(t, errors.Is(err, shared.ErrInvalidCriteria))
}

func TestDiff(t *testing.T) {
	catalog := []*Achievement{
		{ID: "a", Name: "A", XPReward: 10, DisplayOrder: 2, Criteria: crit(map[string]any{"type": "ratings_given", "count": 10}), IsActive: true},
		{ID: "b", Name: "B renamed", XPReward: 20, DisplayOrder: 1, Criteria: crit(map[string]any{"type": "ratings_given", "count": 5}), IsActive: true},
		{ID: "c", Name: "C", XPReward: 30, DisplayOrder: 0, Criteria: crit(map[string]any{"type": "ratings_given", "count": 1}), IsActive: true},
	}
	stored := []*Achievement{
		{ID: "a", Name: "A", XPReward: 10, DisplayOrder: 2, Criteria: crit(map[string]any{"type": "ratings_given", "count": 10.0}), IsActive: true},
		{ID: "b", Name: "B", XPReward: 20, DisplayOrder: 1, Criteria: crit(map[string]any{"type": "ratings_given", "count": 5}), IsActive: false},
		{ID: "legacy", Name: "Legacy", IsActive: true},
	}

	plan := Diff(catalog, stored)

	require.Len(t, plan.Insert, 1)
	assert.Equal(t, "c", plan.Insert[0].ID)
	require.Len(t, plan.Update, 1)
	assert.Equal(t, "B renamed", plan.Update[0].Name)
	assert.False(t, plan.Update[0].IsActive, "reconciliation keeps the stored active flag")
	assert.Equal(t, 1, plan.Unchanged)
	assert.False(t, plan.Empty())
}

func TestDiff_Idempotent(t *testing.T) {
	cat, err := Catalog()
	require.NoError(t, err)

	assert.True(t, Diff(cat, cat).Empty())
	assert.Equal(t, len(cat), Diff(cat, cat).Unchanged)
}

// ══════════════════════════════════════════════════════════════════════════════
// Evaluator
// ══════════════════════════════════════════════════════════════════════════════

func TestEvaluate_CurrentStreak(t *testing.T) {
	ctx := context.Background()
	c := crit(map[string]any{"type": "current_streak", "days": 7})

	met, err := newTestEvaluator(&fakeStats{}, fakeStreaks{facts: StreakFacts{CurrentStreak: 6}}).Evaluate(ctx, "u1", c, nil)
	require.NoError(t, err)
	assert.False(t, met)

	met, err = newTestEvaluator(&fakeStats{}, fakeStreaks{facts: StreakFacts{CurrentStreak: 7}}).Evaluate(ctx, "u1", c, nil)
	require.NoError(t, err)
	assert.True(t, met)
}

func TestEvaluate_CountKinds(t *testing.T) {
	stats := &fakeStats{ratings: 10, perfect: 1, collections: 4, bookmarks: 20}
	ev := newTestEvaluator(stats, fakeStreaks{facts: StreakFacts{TotalFreezesUsed: 1}})

	tests := []struct {
		raw  map[string]any
		want bool
	}{
		{map[string]any{"type": "ratings_given", "count": 10}, true},
		{map[string]any{"type": "ratings_given", "count": 50}, false},
		{map[string]any{"type": "perfect_rating", "count": 1}, true},
		{map[string]any{"type": "collections_created", "count": 5}, false},
		{map[string]any{"type": "bookmarks_created", "count": 20}, true},
		{map[string]any{"type": "streak_freeze_used", "count": 1}, true},
		{map[string]any{"type": "streak_freeze_used"}, true},
	}
	for _, tt := range tests {
		met, err := ev.Evaluate(context.Background(), "u1", crit(tt.raw), nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, met, tt.raw)
	}
}

func TestEvaluate_PerfectRatingStreak(t *testing.T) {
	c := crit(map[string]any{"type": "perfect_rating_streak", "count": 5})

	tests := []struct {
		name   string
		recent []int
		want   bool
	}{
		{"five perfect", []int{5, 5, 5, 5, 5, 3}, true},
		{"one miss", []int{5, 5, 4, 5, 5}, false},
		{"too few", []int{5, 5, 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			met, err := newTestEvaluator(&fakeStats{recent: tt.recent}, fakeStreaks{}).Evaluate(context.Background(), "u1", c, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, met)
		})
	}
}

func TestEvaluate_HighCulturalAccuracyScalesThreshold(t *testing.T) {
	stats := &fakeStats{cultural: map[float64]int{9: 10}}
	c := crit(map[string]any{"type": "high_cultural_accuracy", "threshold": 90, "count": 10})

	met, err := newTestEvaluator(stats, fakeStreaks{}).Evaluate(context.Background(), "u1", c, nil)

	require.NoError(t, err)
	assert.True(t, met)
	assert.Equal(t, 9.0, stats.culturalMin)
}

func TestEvaluate_FastCompletion(t *testing.T) {
	ev := newTestEvaluator(&fakeStats{}, fakeStreaks{})
	c := crit(map[string]any{"type": "fast_completion", "speed_multiplier": 0.5})

	tests := []struct {
		name string
		data map[string]any
		want bool
	}{
		{"fast", map[string]any{"completion_time": 5, "estimated_time": 10}, true},
		{"slow", map[string]any{"completion_time": 6, "estimated_time": 10}, false},
		{"missing estimate", map[string]any{"completion_time": 5}, false},
		{"zero completion", map[string]any{"completion_time": 0, "estimated_time": 10}, false},
		{"no payload", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			met, err := ev.Evaluate(context.Background(), "u1", c, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, met)
		})
	}
}

func TestEvaluate_StubbedAndUnknownAreNotMet(t *testing.T) {
	ev := newTestEvaluator(&fakeStats{ratings: 1000}, fakeStreaks{})

	for _, k := range Kinds() {
		if !k.Stubbed() {
			continue
		}
		met, err := ev.Evaluate(context.Background(), "u1", Criteria{Kind: k, Type: k.String()}, nil)
		require.NoError(t, err)
		assert.False(t, met, k.String())
	}

	met, err := ev.Evaluate(context.Background(), "u1", crit(map[string]any{"type": "bogus"}), nil)
	require.NoError(t, err)
	assert.False(t, met)
}

func TestEvaluate_PropagatesStatsErrors(t *testing.T) {
	boom := errors.New("db down")
	ev := newTestEvaluator(&fakeStats{err: boom}, fakeStreaks{err: boom})

	_, err := ev.Evaluate(context.Background(), "u1", crit(map[string]any{"type": "ratings_given"}), nil)
	assert.ErrorIs(t, err, boom)

	_, err = ev.Evaluate(context.Background(), "u1", crit(map[string]any{"type": "current_streak", "days": 3}), nil)
	assert.ErrorIs(t, err, boom)
}

func TestProgress(t *testing.T) {
	ev := newTestEvaluator(
		&fakeStats{ratings: 3, bookmarks: 40},
		fakeStreaks{facts: StreakFacts{CurrentStreak: 5}},
	)

	tests := []struct {
		raw  map[string]any
		want int
	}{
		{map[string]any{"type": "ratings_given", "count": 10}, 30},
		{map[string]any{"type": "bookmarks_created", "count": 20}, 100},
		{map[string]any{"type": "current_streak", "days": 7}, 71},
		{map[string]any{"type": "fast_completion"}, 0},
		{map[string]any{"type": "scenario_completions", "count": 5}, 0},
	}
	for _, tt := range tests {
		got, err := ev.Progress(context.Background(), "u1", crit(tt.raw))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestUnlockMetadata(t *testing.T) {
	md := UnlockMetadata(TriggerStreakUpdated, nil)
	assert.Equal(t, "streak_updated", md["unlocked_via"])
	assert.Equal(t, map[string]any{}, md["event_data"])
}
