package cohorts

import (
	"context"
	"testing"
	"time"

	"github.com/TimurManjosov/goflagship/internal/properties"
)

type memStore map[string]Cohort

func (m memStore) LoadCohort(ctx context.Context, teamID int64, cohortID string) (Cohort, error) {
	c, ok := m[cohortID]
	if !ok {
		return Cohort{}, errNotFound
	}
	return c, nil
}

var errNotFound = errCohortNotFound{}

type errCohortNotFound struct{}

func (errCohortNotFound) Error() string { return "cohort not found" }

func TestMatchesCohortRegexAndNegation(t *testing.T) {
	store := memStore{
		"email-cohort": {
			ID: "email-cohort",
			Predicate: &Node{
				Kind: And,
				Children: []Node{
					{Filter: &properties.Filter{Key: "email", Operator: properties.OpRegex, Value: `^.*@example\.com$`}},
					{Negation: true, Filter: &properties.Filter{Key: "email", Operator: properties.OpIContains, Value: "excluded.user@example.com"}},
				},
			},
		},
	}
	resolver := NewResolver(store, time.Minute)
	m := TeamMatcher{Resolver: resolver, TeamID: 1}

	cases := []struct {
		email string
		want  bool
	}{
		{"test.user@example.com", true},
		{"excluded.user@example.com", false},
		{"other@other.com", false},
	}
	for _, tc := range cases {
		ok, err := m.MatchesCohort("email-cohort", map[string]properties.Value{"email": properties.ValueOf(tc.email)})
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tc.email, err)
		}
		if ok != tc.want {
			t.Errorf("email %s: got %v want %v", tc.email, ok, tc.want)
		}
	}
}

func TestMatchesCohortMissingYieldsFalse(t *testing.T) {
	resolver := NewResolver(memStore{}, time.Minute)
	m := TeamMatcher{Resolver: resolver, TeamID: 1}
	ok, err := m.MatchesCohort("ghost", map[string]properties.Value{})
	if err != nil {
		t.Fatalf("missing cohort should not hard-error: %v", err)
	}
	if ok {
		t.Fatalf("missing cohort should not match")
	}
}
