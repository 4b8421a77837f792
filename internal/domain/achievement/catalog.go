package achievement

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalogFile struct {
	Achievements []catalogEntry `yaml:"achievements"`
}

type catalogEntry struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Category     Category       `yaml:"category"`
	Rarity       Rarity         `yaml:"rarity"`
	Icon         string         `yaml:"icon"`
	XPReward     int            `yaml:"xp_reward"`
	Criteria     map[string]any `yaml:"criteria"`
	DisplayOrder int            `yaml:"display_order"`
	Inactive     bool           `yaml:"inactive"`
}

// Catalog returns the built-in achievement definitions ordered by
// display order.
func Catalog() ([]*Achievement, error) {
	return ParseCatalog(catalogYAML)
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(data []byte) ([]*Achievement, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, shared.WrapError("achievement", "ParseCatalog", shared.ErrInvalidCatalog, "decode catalog", err)
	}

	seen := make(map[string]struct{}, len(f.Achievements))
	out := make([]*Achievement, 0, len(f.Achievements))
	for i, e := range f.Achievements {
		if e.ID == "" {
			return nil, shared.NewDomainError("achievement", "ParseCatalog", shared.ErrInvalidCatalog,
				fmt.Sprintf("entry %d has no id", i))
		}
		if _, dup := seen[e.ID]; dup {
			return nil, shared.NewDomainError("achievement", "ParseCatalog", shared.ErrInvalidCatalog,
				fmt.Sprintf("duplicate id %q", e.ID))
		}
		seen[e.ID] = struct{}{}

		c := ParseCriteria(e.Criteria)
		if c.Kind == KindUnknown {
			return nil, shared.NewDomainError("achievement", "ParseCatalog", shared.ErrInvalidCriteria,
				fmt.Sprintf("%s: criteria type %q", e.ID, c.Type))
		}
		if e.XPReward < 0 {
			return nil, shared.NewDomainError("achievement", "ParseCatalog", shared.ErrInvalidCatalog,
				fmt.Sprintf("%s: negative xp_reward", e.ID))
		}

		out = append(out, &Achievement{
			ID:           e.ID,
			Name:         e.Name,
			Description:  e.Description,
			Category:     e.Category,
			Rarity:       e.Rarity,
			Icon:         e.Icon,
			XPReward:     e.XPReward,
			Criteria:     c,
			DisplayOrder: e.DisplayOrder,
			IsActive:     !e.Inactive,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out, nil
}
