// File path: internal/graph/sort.go

// Package graph orders atom names so that every dependency precedes its
// dependents. It is pure: no storage, no context, fully deterministic for a
// fixed input ordering.
package graph

import (
	"fmt"
	"strings"
)

// Edge is a directed "From depends on To" relation.
type Edge struct {
	From string
	To   string
}

// CycleError reports the nodes left unsorted after in-degree reduction. The
// set contains every node on or downstream of a cycle; no attempt is made to
// isolate the minimal cycle.
type CycleError struct {
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected involving: %s", strings.Join(e.Remaining, ", "))
}

// Sort returns nodes ordered so that for every edge (a depends on b) with
// both ends present, b appears before a. Kahn's algorithm with a FIFO ready
// queue: ties resolve in first-seen order, so output is stable for a fixed
// node and edge ordering. Edges whose target is not among nodes are dropped.
// Self-edges are inert; they never contribute to in-degree.
func Sort(nodes []string, edges []Edge) ([]string, error) {
	dependents := make(map[string][]string, len(nodes))
	inDegree := make(map[string]int, len(nodes))
	for _, name := range nodes {
		if _, ok := inDegree[name]; ok {
			continue
		}
		dependents[name] = nil
		inDegree[name] = 0
	}

	for _, edge := range edges {
		if edge.From == edge.To {
			continue
		}
		if _, ok := inDegree[edge.To]; !ok {
			continue
		}
		if _, ok := inDegree[edge.From]; !ok {
			continue
		}
		dependents[edge.To] = append(dependents[edge.To], edge.From)
		inDegree[edge.From]++
	}

	queue := make([]string, 0, len(nodes))
	seen := make(map[string]struct{}, len(nodes))
	for _, name := range nodes {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	sorted := make([]string, 0, len(inDegree))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		sorted = append(sorted, current)
		for _, dep := range dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(inDegree) {
		placed := make(map[string]struct{}, len(sorted))
		for _, name := range sorted {
			placed[name] = struct{}{}
		}
		remaining := make([]string, 0, len(inDegree)-len(sorted))
		emitted := make(map[string]struct{}, len(inDegree))
		for _, name := range nodes {
			if _, ok := placed[name]; ok {
				continue
			}
			if _, ok := emitted[name]; ok {
				continue
			}
			emitted[name] = struct{}{}
			remaining = append(remaining, name)
		}
		return nil, &CycleError{Remaining: remaining}
	}
	return sorted, nil
}
