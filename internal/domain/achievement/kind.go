package achievement

// Kind is the closed set of criteria types an achievement can use.
type Kind int

const (
	KindUnknown Kind = iota

	// completion
	KindScenarioCompletions
	KindCategoryCompletions
	KindDifficultyCompletions

	// streak
	KindCurrentStreak
	KindStreakFreezeUsed

	// quality
	KindPerfectRating
	KindPerfectRatingStreak
	KindHighCulturalAccuracy
	KindFastCompletion

	// engagement
	KindRatingsGiven
	KindCollectionsCreated
	KindBookmarksCreated
	KindScenariosShared

	// learning
	KindWordsLearned
	KindLanguagesPracticed
)

var kindNames = map[Kind]string{
	KindScenarioCompletions:   "scenario_completions",
	KindCategoryCompletions:   "category_completions",
	KindDifficultyCompletions: "difficulty_completions",
	KindCurrentStreak:         "current_streak",
	KindStreakFreezeUsed:      "streak_freeze_used",
	KindPerfectRating:         "perfect_rating",
	KindPerfectRatingStreak:   "perfect_rating_streak",
	KindHighCulturalAccuracy:  "high_cultural_accuracy",
	KindFastCompletion:        "fast_completion",
	KindRatingsGiven:          "ratings_given",
	KindCollectionsCreated:    "collections_created",
	KindBookmarksCreated:      "bookmarks_created",
	KindScenariosShared:       "scenarios_shared",
	KindWordsLearned:          "words_learned",
	KindLanguagesPracticed:    "languages_practiced",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

// ParseKind maps a stored criteria type to its Kind. Unrecognized names
// map to KindUnknown.
func ParseKind(name string) Kind {
	return kindsByName[name]
}

// String returns the stored criteria type name.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames))
	for k := KindScenarioCompletions; k <= KindLanguagesPracticed; k++ {
		out = append(out, k)
	}
	return out
}

// Stubbed reports kinds that need a completion, sharing or vocabulary
// tracker this engine does not have. They always evaluate as not met.
func (k Kind) Stubbed() bool {
	switch k {
	case KindScenarioCompletions, KindCategoryCompletions, KindDifficultyCompletions,
		KindScenariosShared, KindWordsLearned, KindLanguagesPracticed:
		return true
	}
	return false
}
