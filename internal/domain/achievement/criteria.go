package achievement

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Criteria is a typed unlock predicate. Params keeps the stored form so
// definitions round-trip unchanged.
type Criteria struct {
	Kind   Kind
	Type   string
	Params map[string]any
}

// Default parameters applied when a definition omits them.
const (
	defaultFreezeCount        = 1
	defaultPerfectRatingCount = 1
	defaultPerfectStreakCount = 5
	defaultCulturalThreshold  = 90
	defaultCulturalCount      = 10
	defaultSpeedMultiplier    = 0.5
	defaultRatingsGivenCount  = 10
	defaultCollectionsCount   = 5
	defaultBookmarksCount     = 20
)

// ParseCriteria builds Criteria from a stored descriptor such as
// {"type": "current_streak", "days": 7}.
func ParseCriteria(raw map[string]any) Criteria {
	params := make(map[string]any, len(raw))
	var typ string
	for k, v := range raw {
		if k == "type" {
			typ, _ = v.(string)
			continue
		}
		params[k] = v
	}
	return Criteria{Kind: ParseKind(typ), Type: typ, Params: params}
}

// Map returns the stored descriptor form.
func (c Criteria) Map() map[string]any {
	out := make(map[string]any, len(c.Params)+1)
	for k, v := range c.Params {
		out[k] = v
	}
	out["type"] = c.Type
	return out
}

// MarshalJSON encodes the descriptor form.
func (c Criteria) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Map())
}

// UnmarshalJSON decodes the descriptor form.
func (c *Criteria) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = ParseCriteria(raw)
	return nil
}

// Equal compares two descriptors by value.
func (c Criteria) Equal(o Criteria) bool {
	if c.Type != o.Type || len(c.Params) != len(o.Params) {
		return false
	}
	for k, v := range c.Params {
		ov, ok := o.Params[k]
		if !ok || fmt.Sprint(normalizeNumber(v)) != fmt.Sprint(normalizeNumber(ov)) {
			return false
		}
	}
	return true
}

// Int returns an integer parameter or def when absent or malformed.
func (c Criteria) Int(key string, def int) int {
	f, ok := toFloat(c.Params[key])
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return int(f)
}

// Float returns a float parameter or def when absent or malformed.
func (c Criteria) Float(key string, def float64) float64 {
	f, ok := toFloat(c.Params[key])
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

// String returns a string parameter or "".
func (c Criteria) String(key string) string {
	s, _ := c.Params[key].(string)
	return s
}

// Required returns the target value progress is measured against, and
// false for kinds that have no measurable target.
func (c Criteria) Required() (int, bool) {
	switch c.Kind {
	case KindCurrentStreak:
		return c.Int("days", 1), true
	case KindRatingsGiven:
		return c.Int("count", defaultRatingsGivenCount), true
	case KindCollectionsCreated:
		return c.Int("count", defaultCollectionsCount), true
	case KindBookmarksCreated:
		return c.Int("count", defaultBookmarksCount), true
	case KindStreakFreezeUsed:
		return c.Int("count", defaultFreezeCount), true
	case KindPerfectRating:
		return c.Int("count", defaultPerfectRatingCount), true
	case KindScenarioCompletions:
		return c.Int("count", 1), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func normalizeNumber(v any) any {
	if f, ok := toFloat(v); ok {
		if _, isStr := v.(string); !isStr {
			return f
		}
	}
	return v
}
