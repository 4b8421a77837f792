package achievement

import "sort"

// Plan is the result of comparing the catalog with stored definitions.
type Plan struct {
	Insert    []*Achievement
	Update    []*Achievement
	Unchanged int
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.Insert) == 0 && len(p.Update) == 0
}

// Diff compares catalog against stored by ID: catalog entries missing from
// stored are inserted, entries whose definition fields differ are updated,
// and stored entries absent from the catalog are left alone.
func Diff(catalog, stored []*Achievement) Plan {
	byID := make(map[string]*Achievement, len(stored))
	for _, s := range stored {
		byID[s.ID] = s
	}

	var plan Plan
	for _, c := range catalog {
		s, ok := byID[c.ID]
		switch {
		case !ok:
			plan.Insert = append(plan.Insert, c)
		case !c.sameDefinition(s):
			upd := *c
			upd.CreatedAt = s.CreatedAt
			upd.IsActive = s.IsActive
			plan.Update = append(plan.Update, &upd)
		default:
			plan.Unchanged++
		}
	}

	sort.SliceStable(plan.Insert, func(i, j int) bool { return plan.Insert[i].DisplayOrder < plan.Insert[j].DisplayOrder })
	return plan
}
