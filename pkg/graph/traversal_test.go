package graph

import (
	"reflect"
	"sort"
	"testing"
)

// chain builds a path 1 -> 2 -> 3 -> 4 -> 5 all under label.
func chain(t *testing.T, label string) *Graph {
	t.Helper()
	g := New()
	for i := uint64(1); i < 5; i++ {
		if _, err := g.AddEdge(i, i+1, label, nil); err != nil {
			t.Fatalf("AddEdge(%d,%d): %v", i, i+1, err)
		}
	}
	return g
}

func depths(steps []Step) map[uint64]int {
	out := make(map[uint64]int, len(steps))
	for _, s := range steps {
		out[s.NodeID] = s.Depth
	}
	return out
}

func TestTraverseBFSRespectsMaxDepthAndOrder(t *testing.T) {
	g := chain(t, "NEXT")
	steps := g.Traverse(1, 2, BFS, 0)

	got := depths(steps)
	want := map[uint64]int{1: 0, 2: 1, 3: 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BFS depths = %v, want %v", got, want)
	}
	if steps[0].NodeID != 1 {
		t.Fatalf("BFS should visit the source first, got %v", steps)
	}
}

func TestTraverseRespectsLimit(t *testing.T) {
	g := chain(t, "NEXT")
	steps := g.Traverse(1, 10, BFS, 2)
	if len(steps) != 2 {
		t.Fatalf("len(steps) = %d, want 2 under limit=2", len(steps))
	}
}

func TestTraverseDFSVisitsDeeperBeforeBacktracking(t *testing.T) {
	g := New()
	// 1 -> 2, 1 -> 3, 2 -> 4
	mustEdge(t, g, 1, 2, "R")
	mustEdge(t, g, 1, 3, "R")
	mustEdge(t, g, 2, 4, "R")

	steps := g.Traverse(1, 5, DFS, 0)
	if len(steps) != 4 {
		t.Fatalf("DFS visited %d nodes, want 4", len(steps))
	}
	// Whichever of {2,3} is visited first, DFS must reach node 4 before
	// the other branch if it descended into 2 first.
	order := make([]uint64, len(steps))
	for i, s := range steps {
		order[i] = s.NodeID
	}
	if order[0] != 1 {
		t.Fatalf("DFS should start at the source, got order %v", order)
	}
	pos := make(map[uint64]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if pos[2] < pos[3] && pos[4] > pos[3] {
		t.Fatalf("DFS descended into 2 but visited 3 before 4, got order %v", order)
	}
}

func mustEdge(t *testing.T, g *Graph, src, dst uint64, label string) {
	t.Helper()
	if _, err := g.AddEdge(src, dst, label, nil); err != nil {
		t.Fatalf("AddEdge(%d,%d,%s): %v", src, dst, label, err)
	}
}

func TestVariableLengthRespectsMinMaxBounds(t *testing.T) {
	g := chain(t, "NEXT")
	steps := g.VariableLength(1, "NEXT", 2, 3)

	var ids []uint64
	for _, s := range steps {
		ids = append(ids, s.NodeID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	want := []uint64{3, 4}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("VariableLength(min=2,max=3) = %v, want %v", ids, want)
	}
}

func TestVariableLengthFiltersByLabel(t *testing.T) {
	g := New()
	mustEdge(t, g, 1, 2, "FRIEND")
	mustEdge(t, g, 2, 3, "ENEMY")

	steps := g.VariableLength(1, "FRIEND", 1, 3)
	if len(steps) != 1 || steps[0].NodeID != 2 {
		t.Fatalf("VariableLength(FRIEND) = %v, want just node 2 (ENEMY hop excluded)", steps)
	}
}

func TestChainHopsExecutesHopByHop(t *testing.T) {
	g := New()
	mustEdge(t, g, 1, 2, "R1")
	mustEdge(t, g, 1, 3, "R1")
	mustEdge(t, g, 2, 10, "R2")
	mustEdge(t, g, 3, 20, "R2")

	bindings := g.ChainHops("a", []uint64{1}, []Hop{
		{FromAlias: "a", Label: "R1", ToAlias: "b"},
		{FromAlias: "b", Label: "R2", ToAlias: "c"},
	})

	if len(bindings) != 2 {
		t.Fatalf("ChainHops produced %d bindings, want 2", len(bindings))
	}
	seen := map[uint64]uint64{}
	for _, b := range bindings {
		if b["a"] != 1 {
			t.Fatalf("binding %v should carry a=1 forward", b)
		}
		seen[b["b"]] = b["c"]
	}
	if seen[2] != 10 || seen[3] != 20 {
		t.Fatalf("ChainHops bindings = %v, want {2:10, 3:20}", seen)
	}
}

func TestChainHopsStopsEarlyWhenNoBindingsSurvive(t *testing.T) {
	g := New()
	mustEdge(t, g, 1, 2, "R1")

	bindings := g.ChainHops("a", []uint64{1}, []Hop{
		{FromAlias: "a", Label: "R1", ToAlias: "b"},
		{FromAlias: "b", Label: "NO_SUCH_LABEL", ToAlias: "c"},
	})
	if len(bindings) != 0 {
		t.Fatalf("expected no bindings when hop 2's label never matches, got %v", bindings)
	}
}
