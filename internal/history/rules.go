package history

import "github.com/ajitpratap0/hass-timeline/internal/models"

// Resolved is the effective filter policy for one entity.
type Resolved struct {
	IncludeStates      []string
	ExcludeStates      []string
	CollapseDuplicates bool
}

// Resolve returns the effective policy for the entity id. The first rule whose
// Entity equals id applies; without one there is no include/exclude
// restriction and collapsing falls back to the global flag, then to false.
func Resolve(id string, rules []models.EntityRule, global models.GlobalOptions) Resolved {
	for i := range rules {
		if rules[i].Entity == id {
			return resolveRule(&rules[i], global)
		}
	}
	return resolveRule(nil, global)
}

func resolveRule(rule *models.EntityRule, global models.GlobalOptions) Resolved {
	var r Resolved
	switch {
	case rule != nil && rule.CollapseDuplicates != nil:
		r.CollapseDuplicates = *rule.CollapseDuplicates
	case global.CollapseDuplicates != nil:
		r.CollapseDuplicates = *global.CollapseDuplicates
	}
	if rule != nil {
		r.IncludeStates = rule.IncludeStates
		r.ExcludeStates = rule.ExcludeStates
	}
	return r
}

// Allows reports whether raw passes the include/exclude policy. A non-empty
// include list wins over the exclude list.
func (r Resolved) Allows(raw string) bool {
	if len(r.IncludeStates) > 0 {
		return contains(r.IncludeStates, raw)
	}
	if len(r.ExcludeStates) > 0 {
		return !contains(r.ExcludeStates, raw)
	}
	return true
}

// RuleSet indexes rules by entity id once so the pipeline does not rescan the
// rule list per event. Lookup semantics match Resolve.
type RuleSet struct {
	byEntity map[string]Resolved
	fallback Resolved
}

// NewRuleSet builds a RuleSet. Later rules for an already-seen entity are
// ignored.
func NewRuleSet(rules []models.EntityRule, global models.GlobalOptions) *RuleSet {
	rs := &RuleSet{
		byEntity: make(map[string]Resolved, len(rules)),
		fallback: resolveRule(nil, global),
	}
	for i := range rules {
		id := rules[i].Entity
		if _, ok := rs.byEntity[id]; ok {
			continue
		}
		rs.byEntity[id] = resolveRule(&rules[i], global)
	}
	return rs
}

// Lookup returns the effective policy for id.
func (rs *RuleSet) Lookup(id string) Resolved {
	if r, ok := rs.byEntity[id]; ok {
		return r
	}
	return rs.fallback
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
