package flags

import (
	"testing"
	"time"

	"github.com/TimurManjosov/goflagship/internal/properties"
)

type staticGroupTypes map[int]string

func (m staticGroupTypes) TypeName(index int) (string, bool) {
	name, ok := m[index]
	return name, ok
}

func TestEvaluateAlwaysOnFlag(t *testing.T) {
	flag := Flag{ID: 1, Key: "always-on", Active: true, Filters: Filters{
		Groups: []ConditionGroup{{Properties: nil, RolloutPercentage: floatPtr(100)}},
	}}
	resp := Evaluate(List{Flags: []Flag{flag}}, EvalContext{
		DistinctID: "u",
		Now:        time.Now(),
		GroupTypes: staticGroupTypes{},
	})
	got := resp.Flags["always-on"]
	if !got.Enabled {
		t.Fatalf("expected always-on flag to be enabled, got %+v", got)
	}
	if got.Reason.Code != "condition_match" || got.Reason.ConditionIndex == nil || *got.Reason.ConditionIndex != 0 {
		t.Fatalf("unexpected reason: %+v", got.Reason)
	}
	if resp.ErrorsWhileComputingFlags {
		t.Fatalf("expected no errors")
	}
}

func TestEvaluateSuperConditionOverrideShadowsDB(t *testing.T) {
	flag := Flag{ID: 2, Key: "enrollment", Active: true, Filters: Filters{
		SuperGroups: []ConditionGroup{{
			Properties: []properties.Filter{{
				Key: "$feature_enrollment/x", Operator: properties.OpExact, Value: []any{"true"}, Type: properties.TypePerson,
			}},
			RolloutPercentage: floatPtr(100),
		}},
	}}
	ctx := EvalContext{
		DistinctID: "u",
		Now:        time.Now(),
		GroupTypes: staticGroupTypes{},
		PersonPropertyOverrides: map[string]properties.Value{
			"$feature_enrollment/x": properties.ValueOf(false),
		},
		PersonDBProperties: map[string]properties.Value{
			"$feature_enrollment/x": properties.ValueOf(true),
		},
	}
	resp := Evaluate(List{Flags: []Flag{flag}}, ctx)
	got := resp.Flags["enrollment"]
	if got.Enabled {
		t.Fatalf("expected override to shadow DB truthy value, got %+v", got)
	}
}

func TestEvaluateFlagDependencyChain(t *testing.T) {
	leaf := Flag{ID: 1, Key: "leaf", Active: true, Filters: Filters{
		Groups: []ConditionGroup{{
			Properties: []properties.Filter{{Key: "email", Operator: properties.OpExact, Value: "test@example.com", Type: properties.TypePerson}},
			RolloutPercentage: floatPtr(100),
		}},
	}}
	intermediate := Flag{ID: 2, Key: "intermediate", Active: true, Filters: Filters{
		Groups: []ConditionGroup{{
			Properties: []properties.Filter{{Key: "leaf", Operator: properties.OpFlagEvaluatesTo, Value: true, Type: properties.TypeFlag}},
			RolloutPercentage: floatPtr(100),
		}},
	}}
	parent := Flag{ID: 3, Key: "parent_flag", Active: true, Filters: Filters{
		Groups: []ConditionGroup{{
			Properties: []properties.Filter{{Key: "intermediate", Operator: properties.OpFlagEvaluatesTo, Value: true, Type: properties.TypeFlag}},
			RolloutPercentage: floatPtr(100),
		}},
	}}

	list := List{Flags: []Flag{leaf, intermediate, parent}}

	matchCtx := EvalContext{
		DistinctID: "u", Now: time.Now(), GroupTypes: staticGroupTypes{},
		FlagKeys: []string{"parent_flag"},
		PersonPropertyOverrides: map[string]properties.Value{"email": properties.ValueOf("test@example.com")},
	}
	resp := Evaluate(list, matchCtx)
	for _, key := range []string{"leaf", "intermediate", "parent_flag"} {
		if !resp.Flags[key].Enabled {
			t.Fatalf("expected %s enabled, got %+v", key, resp.Flags[key])
		}
	}

	noMatchCtx := matchCtx
	noMatchCtx.PersonPropertyOverrides = map[string]properties.Value{"email": properties.ValueOf("other@example.com")}
	resp2 := Evaluate(list, noMatchCtx)
	for _, key := range []string{"leaf", "intermediate", "parent_flag"} {
		if resp2.Flags[key].Enabled {
			t.Fatalf("expected %s disabled, got %+v", key, resp2.Flags[key])
		}
	}
}

func TestEvaluateInitialPropertySeeding(t *testing.T) {
	flag := Flag{ID: 1, Key: "first-touch", Active: true, Filters: Filters{
		Groups: []ConditionGroup{{
			Properties: []properties.Filter{{Key: "$initial_utm_source", Operator: properties.OpExact, Value: "google", Type: properties.TypePerson}},
			RolloutPercentage: floatPtr(100),
		}},
	}}
	resp := Evaluate(List{Flags: []Flag{flag}}, EvalContext{
		DistinctID: "u", Now: time.Now(), GroupTypes: staticGroupTypes{},
		PersonPropertyOverrides: map[string]properties.Value{"$utm_source": properties.ValueOf("google")},
	})
	if !resp.Flags["first-touch"].Enabled {
		t.Fatalf("expected $initial_utm_source seeded from override $utm_source")
	}
}

func floatPtr(f float64) *float64 { return &f }

// TestSelectVariantPreservesDeclaredOrder pins a distinct_id whose bucket
// (variant-/user-a/multi-flag) falls inside the first declared variant's
// cumulative range but inside the second variant's range if the variants
// are re-sorted alphabetically, so it distinguishes declared-order
// allocation from alphabetical-order allocation.
func TestSelectVariantPreservesDeclaredOrder(t *testing.T) {
	mv := &Multivariate{Variants: []Variant{
		{Key: "beta", RolloutPercentage: 50},
		{Key: "alpha", RolloutPercentage: 50},
	}}
	got := selectVariant(mv, "user-a", "multi-flag")
	if got == nil || *got != "beta" {
		t.Fatalf("selectVariant = %v, want \"beta\" (declared-order allocation)", got)
	}
}

func TestEvaluateMultivariateFlagUsesDeclaredVariantOrder(t *testing.T) {
	flag := Flag{ID: 1, Key: "multi-flag", Active: true, Filters: Filters{
		Groups: []ConditionGroup{{RolloutPercentage: floatPtr(100)}},
		Multivariate: &Multivariate{Variants: []Variant{
			{Key: "beta", RolloutPercentage: 50},
			{Key: "alpha", RolloutPercentage: 50},
		}},
	}}
	resp := Evaluate(List{Flags: []Flag{flag}}, EvalContext{
		DistinctID: "user-a",
		Now:        time.Now(),
		GroupTypes: staticGroupTypes{},
	})
	got := resp.Flags["multi-flag"]
	if !got.Enabled {
		t.Fatalf("expected multi-flag enabled, got %+v", got)
	}
	if got.Variant == nil || *got.Variant != "beta" {
		t.Fatalf("expected variant \"beta\" from declared allocation order, got %v", got.Variant)
	}
}
