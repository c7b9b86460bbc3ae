package flags

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/TimurManjosov/goflagship/internal/depgraph"
	"github.com/TimurManjosov/goflagship/internal/hashkit"
	"github.com/TimurManjosov/goflagship/internal/properties"
)

// Reason explains why a flag evaluated the way it did.
type Reason struct {
	Code           string
	ConditionIndex *int
	Description    string
}

// Metadata carries the flag id/version the result was computed against.
type Metadata struct {
	ID      int64
	Version int
}

// FlagResult is the per-flag outcome of evaluation.
type FlagResult struct {
	Key      string
	Enabled  bool
	Variant  *string
	Reason   Reason
	Metadata Metadata
	Payload  json.RawMessage
}

// Response is the top-level evaluator output, per spec §4.7.
type Response struct {
	Flags                    map[string]FlagResult
	ErrorsWhileComputingFlags bool
	QuotaLimited             []string
	EvaluatedAt              int64
}

// EvalContext bundles everything the evaluator needs for one request. DB
// properties are expected to already be prefetched (per the concurrency
// model's "fan out before any per-flag evaluation runs"); the evaluator
// itself is a pure function over this state.
type EvalContext struct {
	DistinctID              string
	Groups                  map[string]any
	PersonPropertyOverrides map[string]properties.Value
	GroupPropertyOverrides  map[string]map[string]properties.Value
	HashKeyOverrides        map[string]string
	FlagKeys                []string
	Now                     time.Time
	GroupTypes              GroupTypeMapping
	Cohorts                 properties.CohortMatcher
	PersonDBProperties      map[string]properties.Value
	GroupDBProperties       map[string]map[string]properties.Value
}

type flagProvider struct{ byKey map[string]Flag }

func (p flagProvider) Dependencies(key string) []string {
	f, ok := p.byKey[key]
	if !ok {
		return nil
	}
	var deps []string
	for _, dep := range f.FlagDependencies() {
		if _, exists := p.byKey[dep]; exists {
			deps = append(deps, dep)
		}
	}
	return deps
}

type resultsTable map[string]string

func (r resultsTable) Result(key string) (string, bool) {
	v, ok := r[key]
	return v, ok
}

// Evaluate implements §4.7: for every flag (in dependency order) compute
// {enabled, variant?, reason, payload?}.
func Evaluate(list List, ctx EvalContext) Response {
	byKey := list.ByKey()
	provider := flagProvider{byKey: byKey}

	allKeys := make([]string, 0, len(byKey))
	for k := range byKey {
		allKeys = append(allKeys, k)
	}

	graph, graphErrors := depgraph.FromNodes(allKeys, provider)

	var targetKeys []string
	if len(ctx.FlagKeys) > 0 {
		closure := graph.FilterByKeys(ctx.FlagKeys)
		for k := range closure {
			targetKeys = append(targetKeys, k)
		}
	} else {
		targetKeys = allKeys
	}
	wanted := make(map[string]bool, len(targetKeys))
	for _, k := range targetKeys {
		wanted[k] = true
	}

	resp := Response{Flags: make(map[string]FlagResult, len(targetKeys))}
	results := resultsTable{}

	for key := range graphErrors {
		if !wanted[key] {
			continue
		}
		f := byKey[key]
		resp.ErrorsWhileComputingFlags = true
		resp.Flags[key] = FlagResult{
			Key:      key,
			Enabled:  false,
			Reason:   Reason{Code: "dependency_error", Description: graphErrors[key].Error()},
			Metadata: Metadata{ID: f.ID, Version: f.Version},
		}
		results[key] = "false"
	}

	for _, stage := range graph.EvaluationStages() {
		for _, key := range stage {
			if _, failed := graphErrors[key]; failed {
				continue
			}
			f := byKey[key]
			result, err := evaluateFlag(f, ctx, results)
			if err != nil {
				resp.ErrorsWhileComputingFlags = true
			}
			if wanted[key] {
				resp.Flags[key] = result
			}
			if result.Variant != nil {
				results[key] = *result.Variant
			} else if result.Enabled {
				results[key] = "true"
			} else {
				results[key] = "false"
			}
		}
	}

	resp.EvaluatedAt = ctx.Now.UnixMilli()
	return resp
}

func evaluateFlag(f Flag, ctx EvalContext, results resultsTable) (FlagResult, error) {
	meta := Metadata{ID: f.ID, Version: f.Version}

	identCtx := ResolveIdentifier(f, ctx.DistinctID, ctx.Groups, ctx.PersonPropertyOverrides,
		ctx.GroupPropertyOverrides, ctx.HashKeyOverrides, ctx.GroupTypes)
	if identCtx == nil {
		return FlagResult{Key: f.Key, Enabled: false, Metadata: meta,
			Reason: Reason{Code: "no_group_type"}}, nil
	}

	dbProps := dbPropertiesFor(f, identCtx, ctx)

	// Holdout groups: property filters only, own hash salt, overrides DB matches.
	for _, hg := range f.Filters.HoldoutGroups {
		merged := mergeProperties(dbProps, identCtx.PropertyOverrides)
		matched, _ := allMatch(hg.Properties, merged, ctx.Cohorts, results, ctx.Now)
		if matched && hashkit.Calculate("holdout-", identCtx.Identifier, "") < hg.Rollout()/100 {
			variant := hg.Variant
			if variant == nil {
				v := "holdout"
				variant = &v
			}
			return FlagResult{
				Key: f.Key, Enabled: true, Variant: variant, Metadata: meta,
				Reason:  Reason{Code: "holdout_condition_value"},
				Payload: payloadFor(f, variant),
			}, nil
		}
	}

	// Super conditions: overrides only, no DB.
	for _, sg := range f.Filters.SuperGroups {
		overridesOnly := identCtx.PropertyOverrides
		matched, _ := allMatch(sg.Properties, overridesOnly, ctx.Cohorts, results, ctx.Now)
		if matched {
			variant := sg.Variant
			return FlagResult{
				Key: f.Key, Enabled: true, Variant: variant, Metadata: meta,
				Reason:  Reason{Code: "super_condition_value"},
				Payload: payloadFor(f, variant),
			}, nil
		}
	}

	// Regular condition groups, in order.
	for i, g := range f.Filters.Groups {
		merged := mergeProperties(dbProps, identCtx.PropertyOverrides)
		matched, err := allMatch(g.Properties, merged, ctx.Cohorts, results, ctx.Now)
		if err != nil {
			idx := i
			return FlagResult{Key: f.Key, Enabled: false, Metadata: meta,
				Reason: Reason{Code: "no_condition_match", ConditionIndex: &idx}}, err
		}
		if !matched {
			continue
		}
		if hashkit.Calculate("", identCtx.Identifier, f.Key+".") >= g.Rollout()/100 {
			continue
		}

		variant := g.Variant
		if variant == nil {
			variant = selectVariant(f.Filters.Multivariate, identCtx.Identifier, f.Key)
		}
		idx := i
		return FlagResult{
			Key: f.Key, Enabled: true, Variant: variant, Metadata: meta,
			Reason: Reason{Code: "condition_match", ConditionIndex: &idx,
				Description: conditionDescription(idx)},
			Payload: payloadFor(f, variant),
		}, nil
	}

	return FlagResult{Key: f.Key, Enabled: false, Metadata: meta,
		Reason: Reason{Code: "no_condition_match"}}, nil
}

func conditionDescription(index int) string {
	return "Matched condition set " + itoa(index+1)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var digits []byte
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

func allMatch(filters []properties.Filter, props map[string]properties.Value, cohorts properties.CohortMatcher, results resultsTable, now time.Time) (bool, error) {
	for _, f := range filters {
		ok, err := properties.Match(f, props, cohorts, results, now)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func dbPropertiesFor(f Flag, identCtx *IdentifierContext, ctx EvalContext) map[string]properties.Value {
	if identCtx.Type == GroupIdentifier {
		if identCtx.OriginalGroupTypeIndex == nil {
			return nil
		}
		typeName, _ := ctx.GroupTypes.TypeName(*identCtx.OriginalGroupTypeIndex)
		return ctx.GroupDBProperties[typeName]
	}
	return ctx.PersonDBProperties
}

// mergeProperties applies override-shadowing with the $initial_* seeding
// rule: DB-present $initial_X always wins; otherwise an override of $X seeds
// $initial_X when the DB lacks it.
func mergeProperties(dbProps map[string]properties.Value, overrides map[string]properties.Value) map[string]properties.Value {
	merged := make(map[string]properties.Value, len(dbProps)+len(overrides))
	for k, v := range dbProps {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	for k, v := range dbProps {
		if strings.HasPrefix(k, "$initial_") {
			merged[k] = v
		}
	}
	for k, v := range overrides {
		if !strings.HasPrefix(k, "$") || strings.HasPrefix(k, "$initial_") {
			continue
		}
		initialKey := "$initial_" + k[1:]
		if _, hasDB := dbProps[initialKey]; hasDB {
			continue
		}
		if _, alreadyOverridden := overrides[initialKey]; alreadyOverridden {
			continue
		}
		merged[initialKey] = v
	}
	return merged
}

func selectVariant(mv *Multivariate, identifier, flagKey string) *string {
	if mv == nil || len(mv.Variants) == 0 {
		return nil
	}
	bucket := hashkit.Calculate("variant-", identifier, flagKey) * 100
	cumulative := 0.0
	for _, v := range mv.Variants {
		cumulative += v.RolloutPercentage
		if bucket < cumulative {
			key := v.Key
			return &key
		}
	}
	last := mv.Variants[len(mv.Variants)-1].Key
	return &last
}

func payloadFor(f Flag, variant *string) json.RawMessage {
	if f.Filters.Payloads == nil {
		return nil
	}
	key := "true"
	if variant != nil {
		key = *variant
	}
	return f.Filters.Payloads[key]
}
