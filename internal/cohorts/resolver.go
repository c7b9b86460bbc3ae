// Package cohorts resolves cohort-membership predicates into matches against
// a property set, per spec §4.4. Cohorts are trees of AND/OR predicates whose
// leaves are property filters or references to other cohorts; static cohorts
// are a precomputed person-id set.
package cohorts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/TimurManjosov/goflagship/internal/properties"
)

// NodeKind is the boolean combinator for a predicate tree node.
type NodeKind int

const (
	And NodeKind = iota
	Or
)

// Node is one predicate-tree node: either a boolean combinator over Children,
// or a leaf (Filter or CohortRef), optionally negated.
type Node struct {
	Kind      NodeKind
	Negation  bool
	Children  []Node
	Filter    *properties.Filter
	CohortRef string // non-empty for a leaf referencing another cohort
}

// Cohort is a team-scoped predicate tree, or a static person-id set.
type Cohort struct {
	ID        string
	TeamID    int64
	IsStatic  bool
	StaticIDs map[string]bool
	Predicate *Node
}

// Store loads a single cohort definition, typically from the follower DB.
type Store interface {
	LoadCohort(ctx context.Context, teamID int64, cohortID string) (Cohort, error)
}

type cacheEntry struct {
	cohort    Cohort
	expiresAt time.Time
}

// Resolver is a per-team cache of cohort predicate trees with single-flight
// protection against cache-miss thundering herd (spec §4.4, §5).
type Resolver struct {
	store Store
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[int64]map[string]cacheEntry

	group singleflight.Group
}

// NewResolver builds a Resolver backed by store, caching entries for ttl.
func NewResolver(store Store, ttl time.Duration) *Resolver {
	return &Resolver{
		store: store,
		ttl:   ttl,
		cache: make(map[int64]map[string]cacheEntry),
	}
}

func (r *Resolver) get(ctx context.Context, teamID int64, cohortID string) (Cohort, error) {
	r.mu.RLock()
	if team, ok := r.cache[teamID]; ok {
		if entry, ok := team[cohortID]; ok && time.Now().Before(entry.expiresAt) {
			r.mu.RUnlock()
			return entry.cohort, nil
		}
	}
	r.mu.RUnlock()

	key := fmt.Sprintf("%d:%s", teamID, cohortID)
	v, err, _ := r.group.Do(key, func() (any, error) {
		c, err := r.store.LoadCohort(ctx, teamID, cohortID)
		if err != nil {
			return Cohort{}, err
		}
		r.mu.Lock()
		if r.cache[teamID] == nil {
			r.cache[teamID] = make(map[string]cacheEntry)
		}
		r.cache[teamID][cohortID] = cacheEntry{cohort: c, expiresAt: time.Now().Add(r.ttl)}
		r.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return Cohort{}, err
	}
	return v.(Cohort), nil
}

// TeamMatcher binds a Resolver to one team so it satisfies
// properties.CohortMatcher without threading team ids through the evaluator.
type TeamMatcher struct {
	Resolver *Resolver
	TeamID   int64
	Ctx      context.Context
}

// MatchesCohort implements properties.CohortMatcher. A cohort that cannot be
// loaded yields (false, nil), so it is not reported as an evaluation error. A
// cyclic cohort reference yields false together with an error.
func (m TeamMatcher) MatchesCohort(cohortID string, props map[string]properties.Value) (bool, error) {
	ctx := m.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := m.Resolver.get(ctx, m.TeamID, cohortID)
	if err != nil {
		return false, nil //nolint:nilerr // cohort resolution failure degrades to non-match, not a hard error
	}

	if c.IsStatic {
		personID, ok := props["$person_id"].String()
		if !ok {
			return false, nil
		}
		return c.StaticIDs[personID], nil
	}

	if c.Predicate == nil {
		return false, nil
	}
	return m.evalNode(*c.Predicate, props, map[string]bool{cohortID: true})
}

func (m TeamMatcher) evalNode(n Node, props map[string]properties.Value, visiting map[string]bool) (bool, error) {
	var result bool
	switch {
	case n.Filter != nil:
		ok, err := properties.Match(*n.Filter, props, nil, nil, time.Now())
		if err != nil {
			return false, err
		}
		result = ok

	case n.CohortRef != "":
		if visiting[n.CohortRef] {
			return false, errors.New("cohorts: cyclic cohort reference")
		}
		ref, err := m.Resolver.get(m.Ctx, m.TeamID, n.CohortRef)
		if err != nil || ref.Predicate == nil {
			return false, nil
		}
		visited := map[string]bool{n.CohortRef: true}
		for k := range visiting {
			visited[k] = true
		}
		ok, err := m.evalNode(*ref.Predicate, props, visited)
		if err != nil {
			return false, err
		}
		result = ok

	default:
		if len(n.Children) == 0 {
			result = n.Kind == And // vacuous AND is true, vacuous OR is false
			break
		}
		switch n.Kind {
		case And:
			result = true
			for _, child := range n.Children {
				ok, err := m.evalNode(child, props, visiting)
				if err != nil {
					return false, err
				}
				if !ok {
					result = false
					break
				}
			}
		case Or:
			result = false
			for _, child := range n.Children {
				ok, err := m.evalNode(child, props, visiting)
				if err != nil {
					return false, err
				}
				if ok {
					result = true
					break
				}
			}
		}
	}

	if n.Negation {
		return !result, nil
	}
	return result, nil
}
