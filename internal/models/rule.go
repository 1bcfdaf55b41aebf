package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// ErrEntitiesNotList is returned when the configured entities value is not a list.
var ErrEntitiesNotList = errors.New("entities must be defined as a list")

// EntityRule is the per-entity filter and presentation configuration.
// A nil CollapseDuplicates falls back to GlobalOptions, then to false.
type EntityRule struct {
	Entity             string   `json:"entity" mapstructure:"entity"`
	IncludeStates      []string `json:"include_states,omitempty" mapstructure:"include_states"`
	ExcludeStates      []string `json:"exclude_states,omitempty" mapstructure:"exclude_states"`
	CollapseDuplicates *bool    `json:"collapse_duplicates,omitempty" mapstructure:"collapse_duplicates"`
	Name               string   `json:"name,omitempty" mapstructure:"name"`
	Icon               string   `json:"icon,omitempty" mapstructure:"icon"`
	IconColor          string   `json:"icon_color,omitempty" mapstructure:"icon_color"`
}

// EntityIDs returns the entity ids of rules in configuration order.
func EntityIDs(rules []EntityRule) []string {
	ids := make([]string, 0, len(rules))
	for i := range rules {
		ids = append(ids, rules[i].Entity)
	}
	return ids
}

// NormalizeEntities coerces the configured entities into rules. Each entry
// may be a bare entity id or an object with an "entity" key. Duplicate entity
// ids are reported as warnings; the first entry for an id is the one that
// applies.
func NormalizeEntities(raw any) ([]EntityRule, []string, error) {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []string:
		items = make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
	case []map[string]any:
		items = make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
	default:
		return nil, nil, ErrEntitiesNotList
	}

	rules := make([]EntityRule, 0, len(items))
	seen := make(map[string]int, len(items))
	var warnings []string

	for i, item := range items {
		rule, err := normalizeEntity(item)
		if err != nil {
			return nil, nil, fmt.Errorf("entities[%d]: %w", i, err)
		}
		if first, dup := seen[rule.Entity]; dup {
			warnings = append(warnings, fmt.Sprintf(
				"entity %q is configured more than once (entries %d and %d); using entry %d",
				rule.Entity, first, i, first))
		} else {
			seen[rule.Entity] = i
		}
		rules = append(rules, rule)
	}
	return rules, warnings, nil
}

func normalizeEntity(item any) (EntityRule, error) {
	var rule EntityRule
	switch v := item.(type) {
	case string:
		rule.Entity = v
	case EntityRule:
		rule = v
	case map[string]any:
		if err := decodeRule(v, &rule); err != nil {
			return EntityRule{}, err
		}
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, val := range v {
			ks, ok := k.(string)
			if !ok {
				return EntityRule{}, fmt.Errorf("non-string key %v", k)
			}
			m[ks] = val
		}
		if err := decodeRule(m, &rule); err != nil {
			return EntityRule{}, err
		}
	default:
		return EntityRule{}, fmt.Errorf("expected entity id or object, got %T", item)
	}

	rule.Entity = strings.TrimSpace(rule.Entity)
	if rule.Entity == "" {
		return EntityRule{}, errors.New("entity id must not be empty")
	}
	return rule, nil
}

func decodeRule(m map[string]any, out *EntityRule) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("decoding entity rule: %w", err)
	}
	return nil
}
