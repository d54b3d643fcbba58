package graph

import "testing"

func TestAddEdgeAndGetEdgesBySrc(t *testing.T) {
	g := New()
	id, err := g.AddEdge(1, 2, "KNOWS", map[string]any{"since": 2020})
	if err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a generated edge id")
	}

	src := uint64(1)
	edges, err := g.GetEdges(nil, &src, nil)
	if err != nil {
		t.Fatalf("GetEdges: %v", err)
	}
	if len(edges) != 1 || edges[0].ID != id {
		t.Fatalf("GetEdges(src=1) = %v, want [%s]", edges, id)
	}
}

func TestAddEdgeRejectsZeroEndpoint(t *testing.T) {
	g := New()
	if _, err := g.AddEdge(0, 2, "KNOWS", nil); err != ErrInvalidEndpoint {
		t.Fatalf("expected ErrInvalidEndpoint, got %v", err)
	}
}

func TestGetEdgesFiltersByLabelAndDst(t *testing.T) {
	g := New()
	if _, err := g.AddEdge(1, 2, "KNOWS", nil); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if _, err := g.AddEdge(1, 3, "LIKES", nil); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	label := "KNOWS"
	src, dst := uint64(1), uint64(2)
	edges, err := g.GetEdges(&label, &src, &dst)
	if err != nil {
		t.Fatalf("GetEdges: %v", err)
	}
	if len(edges) != 1 || edges[0].Label != "KNOWS" {
		t.Fatalf("GetEdges filtered = %v, want exactly the KNOWS edge", edges)
	}
}

func TestRemoveEdgeUpdatesAdjacency(t *testing.T) {
	g := New()
	id, err := g.AddEdge(1, 2, "KNOWS", nil)
	if err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.RemoveEdge(id); err != nil {
		t.Fatalf("RemoveEdge: %v", err)
	}
	if err := g.RemoveEdge(id); err != ErrEdgeNotFound {
		t.Fatalf("expected ErrEdgeNotFound on second remove, got %v", err)
	}
	_, out := g.GetNodeDegree(1)
	if out != 0 {
		t.Fatalf("out-degree after remove = %d, want 0", out)
	}
}

func TestGetNodeDegree(t *testing.T) {
	g := New()
	if _, err := g.AddEdge(1, 2, "KNOWS", nil); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if _, err := g.AddEdge(1, 3, "KNOWS", nil); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if _, err := g.AddEdge(4, 1, "KNOWS", nil); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	in, out := g.GetNodeDegree(1)
	if in != 1 || out != 2 {
		t.Fatalf("GetNodeDegree(1) = (%d, %d), want (1, 2)", in, out)
	}
}

func TestDegreeRouterPromotesHubToCART(t *testing.T) {
	g := New()
	for dst := uint64(2); dst <= uint64(hubThreshold+10); dst++ {
		if _, err := g.AddEdge(1, dst, "KNOWS", nil); err != nil {
			t.Fatalf("AddEdge(1,%d): %v", dst, err)
		}
	}

	a := g.out[1]["KNOWS"]
	if a.tree == nil {
		t.Fatalf("expected adjacency to be promoted to a C-ART once past hubThreshold")
	}

	_, out := g.GetNodeDegree(1)
	if out != hubThreshold+9 {
		t.Fatalf("GetNodeDegree after promotion = %d, want %d", out, hubThreshold+9)
	}

	label := "KNOWS"
	src := uint64(1)
	dst := uint64(hubThreshold + 5)
	edges, err := g.GetEdges(&label, &src, &dst)
	if err != nil {
		t.Fatalf("GetEdges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("GetEdges through C-ART adjacency = %v, want exactly one edge", edges)
	}
}

func TestLookupPropertyFindsIndexedEdgeSource(t *testing.T) {
	g := New()
	if _, err := g.AddEdge(1, 2, "WORKS_AT", map[string]any{"role": "engineer"}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if _, err := g.AddEdge(3, 2, "WORKS_AT", map[string]any{"role": "manager"}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	ids := g.LookupProperty("WORKS_AT", "role", "engineer")
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("LookupProperty = %v, want [1]", ids)
	}
}

func TestRangeIndexScan(t *testing.T) {
	g := New()
	g.CreateRangeIndex("PURCHASED", []string{"amount"})
	if _, err := g.AddEdge(1, 100, "PURCHASED", map[string]any{"amount": "10"}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if _, err := g.AddEdge(2, 100, "PURCHASED", map[string]any{"amount": "20"}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if _, err := g.AddEdge(3, 100, "PURCHASED", map[string]any{"amount": "30"}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	ids, ok := g.RangeScan("PURCHASED", []string{"amount"}, "15", "25")
	if !ok {
		t.Fatalf("expected range index to exist")
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("RangeScan(15,25) = %v, want [2]", ids)
	}
}

func TestAdvisorSuggestsAfterThreshold(t *testing.T) {
	a := newAdvisor()
	a.threshold = 3
	for i := 0; i < 3; i++ {
		a.Observe("PURCHASED", []string{"amount"})
	}
	suggestions := a.Suggestions()
	if len(suggestions) != 1 || suggestions[0].Label != "PURCHASED" {
		t.Fatalf("Suggestions() = %v, want one PURCHASED suggestion", suggestions)
	}
	if len(a.Suggestions()) != 0 {
		t.Fatalf("a suggestion already returned should not repeat")
	}
}
