package achievement

import (
	"context"
	"fmt"
	"log/slog"
)

// StatsProvider reads the learner facts criteria are evaluated against.
// Implementations query the host application's rating, collection and
// bookmark tables.
type StatsProvider interface {
	RatingsGiven(ctx context.Context, userID string) (int, error)
	PerfectRatings(ctx context.Context, userID string) (int, error)

	// RecentRatings returns up to n overall ratings, newest first.
	RecentRatings(ctx context.Context, userID string, n int) ([]int, error)

	// CulturalAccuracyAtLeast counts ratings whose cultural accuracy score
	// is >= min on the 1..10 scale.
	CulturalAccuracyAtLeast(ctx context.Context, userID string, min float64) (int, error)

	CollectionsCreated(ctx context.Context, userID string) (int, error)
	BookmarksCreated(ctx context.Context, userID string) (int, error)
}

// StreakFacts is the slice of streak state the evaluator needs.
type StreakFacts struct {
	CurrentStreak    int
	TotalFreezesUsed int
}

// StreakReader loads streak facts; a user without a streak row yields the
// zero value.
type StreakReader interface {
	StreakFacts(ctx context.Context, userID string) (StreakFacts, error)
}

// Evaluator decides whether criteria are met for a user.
type Evaluator struct {
	stats   StatsProvider
	streaks StreakReader
	logger  *slog.Logger
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(stats StatsProvider, streaks StreakReader, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{stats: stats, streaks: streaks, logger: logger}
}

// Evaluate reports whether c is satisfied. eventData carries the
// triggering event payload (used by fast_completion). Unknown kinds are
// never met.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, c Criteria, eventData map[string]any) (bool, error) {
	switch c.Kind {
	case KindScenarioCompletions, KindCategoryCompletions, KindDifficultyCompletions,
		KindScenariosShared, KindWordsLearned, KindLanguagesPracticed:
		return false, nil

	case KindCurrentStreak:
		facts, err := e.streaks.StreakFacts(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("load streak: %w", err)
		}
		return facts.CurrentStreak >= c.Int("days", 1), nil

	case KindStreakFreezeUsed:
		facts, err := e.streaks.StreakFacts(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("load streak: %w", err)
		}
		return facts.TotalFreezesUsed >= c.Int("count", defaultFreezeCount), nil

	case KindPerfectRating:
		n, err := e.stats.PerfectRatings(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("count perfect ratings: %w", err)
		}
		return n >= c.Int("count", defaultPerfectRatingCount), nil

	case KindPerfectRatingStreak:
		need := c.Int("count", defaultPerfectStreakCount)
		if need <= 0 {
			return true, nil
		}
		recent, err := e.stats.RecentRatings(ctx, userID, need)
		if err != nil {
			return false, fmt.Errorf("load recent ratings: %w", err)
		}
		if len(recent) < need {
			return false, nil
		}
		for _, r := range recent[:need] {
			if r != 5 {
				return false, nil
			}
		}
		return true, nil

	case KindHighCulturalAccuracy:
		threshold := c.Float("threshold", defaultCulturalThreshold)
		n, err := e.stats.CulturalAccuracyAtLeast(ctx, userID, threshold/10)
		if err != nil {
			return false, fmt.Errorf("count cultural accuracy: %w", err)
		}
		return n >= c.Int("count", defaultCulturalCount), nil

	case KindFastCompletion:
		actual, ok1 := toFloat(eventData["completion_time"])
		estimated, ok2 := toFloat(eventData["estimated_time"])
		if !ok1 || !ok2 || actual == 0 || estimated == 0 {
			return false, nil
		}
		return actual <= estimated*c.Float("speed_multiplier", defaultSpeedMultiplier), nil

	case KindRatingsGiven:
		n, err := e.stats.RatingsGiven(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("count ratings: %w", err)
		}
		return n >= c.Int("count", defaultRatingsGivenCount), nil

	case KindCollectionsCreated:
		n, err := e.stats.CollectionsCreated(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("count collections: %w", err)
		}
		return n >= c.Int("count", defaultCollectionsCount), nil

	case KindBookmarksCreated:
		n, err := e.stats.BookmarksCreated(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("count bookmarks: %w", err)
		}
		return n >= c.Int("count", defaultBookmarksCount), nil

	case KindUnknown:
		e.logger.Warn("unknown achievement criteria type", slog.String("type", c.Type))
		return false, nil

	default:
		e.logger.Warn("unhandled achievement criteria kind", slog.String("kind", c.Kind.String()))
		return false, nil
	}
}

// Progress returns 0..100 towards c for a user that has not unlocked it.
// Kinds without a measurable target report 0.
func (e *Evaluator) Progress(ctx context.Context, userID string, c Criteria) (int, error) {
	required, ok := c.Required()
	if !ok || c.Kind.Stubbed() {
		return 0, nil
	}
	if required <= 0 {
		return 100, nil
	}

	current, err := e.current(ctx, userID, c.Kind)
	if err != nil {
		return 0, err
	}
	return min(100, current*100/required), nil
}

func (e *Evaluator) current(ctx context.Context, userID string, k Kind) (int, error) {
	switch k {
	case KindCurrentStreak, KindStreakFreezeUsed:
		facts, err := e.streaks.StreakFacts(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("load streak: %w", err)
		}
		if k == KindCurrentStreak {
			return facts.CurrentStreak, nil
		}
		return facts.TotalFreezesUsed, nil
	case KindRatingsGiven:
		return e.stats.RatingsGiven(ctx, userID)
	case KindCollectionsCreated:
		return e.stats.CollectionsCreated(ctx, userID)
	case KindBookmarksCreated:
		return e.stats.BookmarksCreated(ctx, userID)
	case KindPerfectRating:
		return e.stats.PerfectRatings(ctx, userID)
	}
	return 0, nil
}
