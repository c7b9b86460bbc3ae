// Package flags implements the flag data model, identity resolution, and
// the flag evaluator (spec §3, §4.2, §4.7).
package flags

import (
	"encoding/json"

	"github.com/TimurManjosov/goflagship/internal/properties"
)

// ConditionGroup is an AND of property filters gated by a rollout percentage.
type ConditionGroup struct {
	Properties        []properties.Filter
	RolloutPercentage *float64 // nil means default 100
	Variant           *string
}

// Rollout returns the effective rollout percentage, defaulting to 100.
func (g ConditionGroup) Rollout() float64 {
	if g.RolloutPercentage == nil {
		return 100
	}
	return *g.RolloutPercentage
}

// Variant is one multivariate allocation bucket.
type Variant struct {
	Key               string
	RolloutPercentage float64
}

// Multivariate holds the ordered variant list for a flag.
type Multivariate struct {
	Variants []Variant
}

// Filters bundles a flag's full targeting configuration.
type Filters struct {
	Groups                    []ConditionGroup
	Multivariate              *Multivariate
	Payloads                  map[string]json.RawMessage
	SuperGroups               []ConditionGroup
	HoldoutGroups             []ConditionGroup
	AggregationGroupTypeIndex *int
}

// Flag is the full flag record, per spec §3.
type Flag struct {
	ID                         int64
	Key                        string
	TeamID                     int64
	ProjectID                  int64
	Active                     bool
	Deleted                    bool
	EnsureExperienceContinuity bool
	Version                    int
	Filters                    Filters
}

// AggregationGroupTypeIndex is a convenience accessor mirroring the Rust
// FeatureFlag::get_group_type_index().
func (f Flag) AggregationGroupTypeIndex() *int { return f.Filters.AggregationGroupTypeIndex }

// FlagDependencies returns the flag keys this flag references via
// type=flag/flag_evaluates_to property filters, across all group kinds.
func (f Flag) FlagDependencies() []string {
	var deps []string
	seen := map[string]bool{}
	add := func(groups []ConditionGroup) {
		for _, g := range groups {
			for _, p := range g.Properties {
				if p.Type == properties.TypeFlag && !seen[p.Key] {
					seen[p.Key] = true
					deps = append(deps, p.Key)
				}
			}
		}
	}
	add(f.Filters.Groups)
	add(f.Filters.SuperGroups)
	add(f.Filters.HoldoutGroups)
	return deps
}

// List is the set of active flags for a project, as returned by the Flag
// State Loader.
type List struct {
	Flags                   []Flag
	HadDeserializationErrors bool
}

// ByKey indexes the list by flag key.
func (l List) ByKey() map[string]Flag {
	out := make(map[string]Flag, len(l.Flags))
	for _, f := range l.Flags {
		out[f.Key] = f
	}
	return out
}
