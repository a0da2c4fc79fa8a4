// File path: internal/graph/sort_test.go
package graph

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestSortDependencyBeforeDependent(t *testing.T) {
	order, err := Sort(
		[]string{"player_jump", "math_clamp"},
		[]Edge{{From: "player_jump", To: "math_clamp"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"math_clamp", "player_jump"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
}

func TestSortIsPermutationRespectingEdges(t *testing.T) {
	nodes := []string{"render", "physics", "input", "math", "state"}
	edges := []Edge{
		{From: "physics", To: "math"},
		{From: "render", To: "state"},
		{From: "render", To: "physics"},
		{From: "state", To: "input"},
	}
	order, err := Sort(nodes, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != len(nodes) {
		t.Fatalf("expected %d nodes in output, got %d", len(nodes), len(order))
	}
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	for _, edge := range edges {
		if pos[edge.To] >= pos[edge.From] {
			t.Fatalf("edge (%s -> %s) violated in order %v", edge.From, edge.To, order)
		}
	}
}

func TestSortDeterministicFirstSeenTieBreak(t *testing.T) {
	// zebra and apple are both ready immediately; output must follow input
	// discovery order, not alphabetical order.
	nodes := []string{"zebra", "apple", "mid"}
	edges := []Edge{{From: "mid", To: "zebra"}}
	first, err := Sort(nodes, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"zebra", "apple", "mid"}
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("expected %v, got %v", want, first)
	}
	second, err := Sort(nodes, edges)
	if err != nil {
		t.Fatalf("unexpected error on rerun: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("sort not idempotent: %v then %v", first, second)
	}
}

func TestSortDropsEdgeToMissingNode(t *testing.T) {
	order, err := Sort(
		[]string{"a", "b"},
		[]Edge{{From: "a", To: "missing"}, {From: "a", To: "b"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"b", "a"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
}

func TestSortSelfEdgeIsInert(t *testing.T) {
	order, err := Sort([]string{"solo"}, []Edge{{From: "solo", To: "solo"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"solo"}) {
		t.Fatalf("expected [solo], got %v", order)
	}
}

func TestSortReportsCycleMembers(t *testing.T) {
	_, err := Sort(
		[]string{"loop_a", "loop_b", "free"},
		[]Edge{
			{From: "loop_a", To: "loop_b"},
			{From: "loop_b", To: "loop_a"},
		},
	)
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	got := map[string]bool{}
	for _, name := range cycleErr.Remaining {
		got[name] = true
	}
	if !got["loop_a"] || !got["loop_b"] {
		t.Fatalf("cycle members missing from %v", cycleErr.Remaining)
	}
	if got["free"] {
		t.Fatalf("free node wrongly reported in cycle: %v", cycleErr.Remaining)
	}
	for _, name := range []string{"loop_a", "loop_b"} {
		if !strings.Contains(cycleErr.Error(), name) {
			t.Fatalf("error message should mention %s: %q", name, cycleErr.Error())
		}
	}
}

func TestSortCycleDownstreamIncluded(t *testing.T) {
	// downstream depends on the cycle, so it can never become ready.
	_, err := Sort(
		[]string{"loop_a", "loop_b", "downstream"},
		[]Edge{
			{From: "loop_a", To: "loop_b"},
			{From: "loop_b", To: "loop_a"},
			{From: "downstream", To: "loop_a"},
		},
	)
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cycleErr.Remaining) != 3 {
		t.Fatalf("expected all three unsortable nodes, got %v", cycleErr.Remaining)
	}
}

func TestSortEmptyInput(t *testing.T) {
	order, err := Sort(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 0 {
		t.Fatalf("expected empty order, got %v", order)
	}
}
