package collection

import (
	"context"
	"testing"

	"github.com/velesdb/veles/pkg/column"
	"github.com/velesdb/veles/pkg/distance"
	"github.com/velesdb/veles/pkg/query"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Name: "docs",
		Schema: column.Schema{
			Name:       "docs",
			PrimaryKey: "id",
			Columns: []column.ColumnDef{
				{Name: "id", Type: column.TypeInt64},
				{Name: "label", Type: column.TypeString},
				{Name: "title", Type: column.TypeString},
			},
		},
		Dimension:  3,
		Metric:     distance.Cosine,
		HNSW:       HNSWConfig{M: 8, EfConstruction: 32, EfSearchDefault: 16},
		TextField:  "title",
		LabelField: "label",
		WALDir:     t.TempDir(),
	}
}

func TestUpsertAndGetByID(t *testing.T) {
	ctx := context.Background()
	c, err := Open(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if err := c.UpsertPoint(ctx, 1, map[string]any{"title": "alpha"}, []float32{1, 0, 0}, "alpha document"); err != nil {
		t.Fatalf("UpsertPoint: %v", err)
	}

	row, ok := c.GetByID(1)
	if !ok {
		t.Fatalf("GetByID(1) not found")
	}
	if row["title"] != "alpha" {
		t.Fatalf("row = %#v", row)
	}
}

func TestVectorSearchReturnsNearestFirst(t *testing.T) {
	ctx := context.Background()
	c, err := Open(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	must := func(id uint64, v []float32) {
		if err := c.UpsertPoint(ctx, id, map[string]any{}, v, ""); err != nil {
			t.Fatalf("UpsertPoint(%d): %v", id, err)
		}
	}
	must(1, []float32{1, 0, 0})
	must(2, []float32{0, 1, 0})
	must(3, []float32{0.9, 0.1, 0})

	hits, err := c.Search(ctx, []float32{1, 0, 0}, 2, 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].ID != 1 {
		t.Fatalf("hits[0].ID = %d, want 1", hits[0].ID)
	}
}

func TestTextSearchAndLabelSeeds(t *testing.T) {
	ctx := context.Background()
	c, err := Open(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if err := c.UpsertPoint(ctx, 1, map[string]any{"label": "Person", "title": "alice bio"}, nil, "alice bio"); err != nil {
		t.Fatalf("UpsertPoint: %v", err)
	}
	if err := c.UpsertPoint(ctx, 2, map[string]any{"label": "Person", "title": "bob bio"}, nil, "bob bio"); err != nil {
		t.Fatalf("UpsertPoint: %v", err)
	}

	results := c.TextSearch("alice", 5)
	if len(results) == 0 || results[0].ID != "1" {
		t.Fatalf("TextSearch = %#v", results)
	}

	seeds := c.Seeds("Person")
	if len(seeds) != 2 {
		t.Fatalf("Seeds = %v, want 2", seeds)
	}
}

func TestUpsertEdgeAndChainHops(t *testing.T) {
	ctx := context.Background()
	c, err := Open(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	for _, id := range []uint64{1, 2, 3} {
		if err := c.UpsertPoint(ctx, id, map[string]any{"label": "Person"}, nil, ""); err != nil {
			t.Fatalf("UpsertPoint(%d): %v", id, err)
		}
	}
	if _, err := c.UpsertEdge(1, 2, "KNOWS", nil); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	if _, err := c.UpsertEdge(1, 3, "KNOWS", nil); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}

	seeds := c.Seeds("Person")
	if len(seeds) != 3 {
		t.Fatalf("Seeds = %v, want 3", seeds)
	}

	bindings := c.ChainHops("a", []uint64{1}, []query.GraphHop{
		{FromAlias: "a", Label: "KNOWS", ToAlias: "b", MinHops: 1, MaxHops: 1},
	})
	if len(bindings) != 2 {
		t.Fatalf("ChainHops = %#v, want 2 bindings", bindings)
	}
}

func TestDeleteRemovesRowAndVector(t *testing.T) {
	ctx := context.Background()
	c, err := Open(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if err := c.UpsertPoint(ctx, 1, map[string]any{"title": "alpha"}, []float32{1, 0, 0}, ""); err != nil {
		t.Fatalf("UpsertPoint: %v", err)
	}
	if err := c.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := c.GetByID(1); ok {
		t.Fatalf("GetByID(1) found after delete")
	}
	hits, err := c.Search(ctx, []float32{1, 0, 0}, 5, 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range hits {
		if h.ID == 1 {
			t.Fatalf("deleted id 1 still returned by Search")
		}
	}
}
