// Package depgraph implements a generic DAG over flag or cohort
// dependencies, grounded on original_source/rust/feature-flags/src/utils/graph_utils.rs.
// It supports per-subgraph cycle/missing-dependency isolation and
// Kahn's-algorithm topological "evaluation stages" for batched prefetch.
package depgraph

import (
	"errors"
	"fmt"
)

// ErrDependencyCycle reports that a node's dependency chain cycles back on itself.
var ErrDependencyCycle = errors.New("depgraph: dependency cycle")

// ErrDependencyNotFound reports a referenced dependency that doesn't exist in the node set.
var ErrDependencyNotFound = errors.New("depgraph: dependency not found")

// Provider supplies a node's direct dependency ids (edges point dependent -> dependency).
type Provider[K comparable] interface {
	Dependencies(id K) []K
}

// Graph is a DAG over node ids of type K.
type Graph[K comparable] struct {
	nodes map[K]bool
	edges map[K][]K // dependent -> dependencies
	bad   map[K]error
}

// FromNodes builds the full forest over allNodes using provider to discover
// edges. It returns the graph plus a map of node -> error for any node whose
// subgraph has a cycle or a missing dependency; those nodes are excluded from
// evaluation stages but do not affect unrelated subgraphs.
func FromNodes[K comparable](allNodes []K, provider Provider[K]) (*Graph[K], map[K]error) {
	g := &Graph[K]{
		nodes: make(map[K]bool, len(allNodes)),
		edges: make(map[K][]K, len(allNodes)),
		bad:   make(map[K]error),
	}
	for _, id := range allNodes {
		g.nodes[id] = true
	}
	for _, id := range allNodes {
		deps := provider.Dependencies(id)
		for _, dep := range deps {
			if !g.nodes[dep] {
				g.bad[id] = fmt.Errorf("%w: %v references %v", ErrDependencyNotFound, id, dep)
			}
		}
		g.edges[id] = deps
	}

	for _, id := range allNodes {
		if _, already := g.bad[id]; already {
			continue
		}
		if g.hasCycleFrom(id) {
			g.bad[id] = fmt.Errorf("%w: starting at %v", ErrDependencyCycle, id)
		}
	}

	// A node that depends on a bad node inherits its error.
	for changed := true; changed; {
		changed = false
		for _, id := range allNodes {
			if _, already := g.bad[id]; already {
				continue
			}
			for _, dep := range g.edges[id] {
				if depErr, isBad := g.bad[dep]; isBad {
					g.bad[id] = fmt.Errorf("%v depends on %v: %w", id, dep, depErr)
					changed = true
					break
				}
			}
		}
	}

	return g, g.bad
}

func (g *Graph[K]) hasCycleFrom(start K) bool {
	visiting := map[K]bool{}
	visited := map[K]bool{}

	var visit func(K) bool
	visit = func(id K) bool {
		if visiting[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visiting[id] = true
		for _, dep := range g.edges[id] {
			if !g.nodes[dep] {
				continue // missing dependency reported separately
			}
			if visit(dep) {
				return true
			}
		}
		visiting[id] = false
		visited[id] = true
		return false
	}

	return visit(start)
}

// EvaluationStages returns nodes grouped into topological stages: stage 0 has
// no dependencies, stage k's nodes depend only on stages <k. Nodes with a
// cycle or missing dependency (per FromNodes) are excluded.
func (g *Graph[K]) EvaluationStages() [][]K {
	inDegree := map[K]int{}
	dependents := map[K][]K{} // dependency -> dependents

	valid := func(id K) bool {
		_, bad := g.bad[id]
		return !bad
	}

	for id := range g.nodes {
		if !valid(id) {
			continue
		}
		count := 0
		for _, dep := range g.edges[id] {
			if !valid(dep) {
				continue
			}
			count++
			dependents[dep] = append(dependents[dep], id)
		}
		inDegree[id] = count
	}

	var stages [][]K
	remaining := len(inDegree)
	for remaining > 0 {
		var stage []K
		for id, deg := range inDegree {
			if deg == 0 {
				stage = append(stage, id)
			}
		}
		if len(stage) == 0 {
			break // shouldn't happen once cycles are excluded
		}
		for _, id := range stage {
			delete(inDegree, id)
			remaining--
			for _, dependent := range dependents[id] {
				if _, ok := inDegree[dependent]; ok {
					inDegree[dependent]--
				}
			}
		}
		stages = append(stages, stage)
	}

	return stages
}

// FilterByKeys returns the sub-DAG reachable from any of keys, including
// their transitive dependencies even if not explicitly requested.
func (g *Graph[K]) FilterByKeys(keys []K) map[K]bool {
	result := map[K]bool{}
	var visit func(K)
	visit = func(id K) {
		if result[id] || !g.nodes[id] {
			return
		}
		result[id] = true
		for _, dep := range g.edges[id] {
			visit(dep)
		}
	}
	for _, k := range keys {
		visit(k)
	}
	return result
}

// Errors returns the per-node cycle/missing-dependency diagnostics.
func (g *Graph[K]) Errors() map[K]error { return g.bad }
