package depgraph

import "testing"

type mapProvider map[string][]string

func (m mapProvider) Dependencies(id string) []string { return m[id] }

func TestEvaluationStagesOrdering(t *testing.T) {
	provider := mapProvider{
		"leaf":         nil,
		"intermediate": {"leaf"},
		"parent":       {"intermediate"},
	}
	g, errs := FromNodes([]string{"leaf", "intermediate", "parent"}, provider)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	stages := g.EvaluationStages()
	if len(stages) != 3 {
		t.Fatalf("expected 3 stages, got %d: %v", len(stages), stages)
	}
	if stages[0][0] != "leaf" || stages[1][0] != "intermediate" || stages[2][0] != "parent" {
		t.Fatalf("unexpected stage ordering: %v", stages)
	}
}

func TestCycleIsolatesSubgraph(t *testing.T) {
	provider := mapProvider{
		"a":    {"b"},
		"b":    {"a"},
		"safe": nil,
	}
	g, errs := FromNodes([]string{"a", "b", "safe"}, provider)
	if _, ok := errs["a"]; !ok {
		t.Fatalf("expected a to be flagged as cyclic")
	}
	if _, ok := errs["b"]; !ok {
		t.Fatalf("expected b to be flagged as cyclic")
	}
	if _, ok := errs["safe"]; ok {
		t.Fatalf("safe node should not be affected by unrelated cycle")
	}
	stages := g.EvaluationStages()
	total := 0
	for _, s := range stages {
		total += len(s)
	}
	if total != 1 {
		t.Fatalf("expected only 'safe' in evaluation stages, got %v", stages)
	}
}

func TestMissingDependency(t *testing.T) {
	provider := mapProvider{"x": {"ghost"}}
	_, errs := FromNodes([]string{"x"}, provider)
	if _, ok := errs["x"]; !ok {
		t.Fatalf("expected missing-dependency error for x")
	}
}

func TestFilterByKeysIncludesDependencies(t *testing.T) {
	provider := mapProvider{
		"leaf":         nil,
		"intermediate": {"leaf"},
		"parent":       {"intermediate"},
		"unrelated":    nil,
	}
	g, _ := FromNodes([]string{"leaf", "intermediate", "parent", "unrelated"}, provider)
	sub := g.FilterByKeys([]string{"parent"})
	for _, want := range []string{"leaf", "intermediate", "parent"} {
		if !sub[want] {
			t.Fatalf("expected %s in filtered sub-DAG", want)
		}
	}
	if sub["unrelated"] {
		t.Fatalf("unrelated node should not be included")
	}
}
