package achievement

// Trigger is a user activity that may satisfy achievement criteria.
type Trigger string

const (
	TriggerScenarioCompleted Trigger = "scenario_completed"
	TriggerStreakUpdated     Trigger = "streak_updated"
	TriggerStreakFreezeUsed  Trigger = "streak_freeze_used"
	TriggerRatingGiven       Trigger = "rating_given"
	TriggerCollectionCreated Trigger = "collection_created"
	TriggerBookmarkCreated   Trigger = "bookmark_created"
	TriggerScenarioShared    Trigger = "scenario_shared"
	TriggerVocabularyLearned Trigger = "vocabulary_learned"
)

// relevance maps each trigger to the criteria kinds it can possibly
// satisfy. Achievements of other kinds are skipped without evaluation.
var relevance = map[Trigger][]Kind{
	TriggerScenarioCompleted: {
		KindScenarioCompletions,
		KindCategoryCompletions,
		KindDifficultyCompletions,
		KindPerfectRating,
		KindPerfectRatingStreak,
		KindHighCulturalAccuracy,
		KindFastCompletion,
	},
	TriggerStreakUpdated:     {KindCurrentStreak},
	TriggerStreakFreezeUsed:  {KindStreakFreezeUsed},
	TriggerRatingGiven:       {KindRatingsGiven},
	TriggerCollectionCreated: {KindCollectionsCreated},
	TriggerBookmarkCreated:   {KindBookmarksCreated},
	TriggerScenarioShared:    {KindScenariosShared},
	TriggerVocabularyLearned: {KindWordsLearned},
}

// Triggers returns every known trigger.
func Triggers() []Trigger {
	return []Trigger{
		TriggerScenarioCompleted,
		TriggerStreakUpdated,
		TriggerStreakFreezeUsed,
		TriggerRatingGiven,
		TriggerCollectionCreated,
		TriggerBookmarkCreated,
		TriggerScenarioShared,
		TriggerVocabularyLearned,
	}
}

// Known reports whether t is in the relevance table.
func (t Trigger) Known() bool {
	_, ok := relevance[t]
	return ok
}

// RelevantKinds returns a copy of the kinds t can satisfy. Unknown
// triggers yield an empty set.
func RelevantKinds(t Trigger) []Kind {
	kinds := relevance[t]
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// IsRelevant reports whether an achievement of kind k should be evaluated
// for trigger t.
func IsRelevant(t Trigger, k Kind) bool {
	for _, rk := range relevance[t] {
		if rk == k {
			return true
		}
	}
	return false
}
