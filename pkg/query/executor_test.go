package query

import (
	"context"
	"sort"
	"testing"

	"github.com/velesdb/veles/pkg/fulltext"
)

// fakeVectorIndex returns fixed hits regardless of the query vector,
// enough to exercise the executor's row-hydration and plan wiring without
// a real HNSW index.
type fakeVectorIndex struct {
	hits []VectorHit
}

func (f *fakeVectorIndex) Search(_ context.Context, _ []float32, k, _ int) ([]VectorHit, error) {
	if k > len(f.hits) {
		k = len(f.hits)
	}
	return append([]VectorHit{}, f.hits[:k]...), nil
}

type fakeTextIndex struct{ idx *fulltext.Index }

func (f *fakeTextIndex) TextSearch(q string, k int) []fulltext.Result {
	return f.idx.TextSearch(q, k)
}

type fakeRowStore struct{ rows map[uint64]Row }

func (f *fakeRowStore) GetByID(id uint64) (Row, bool) {
	r, ok := f.rows[id]
	return r, ok
}

func (f *fakeRowStore) Scan() ([]Row, error) {
	out := make([]Row, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["id"].(uint64) < out[j]["id"].(uint64)
	})
	return out, nil
}

type fakeGraphWalker struct {
	seeds []uint64
	bind  []GraphBinding
}

func (f *fakeGraphWalker) Seeds(string) []uint64 { return f.seeds }
func (f *fakeGraphWalker) ChainHops(_ string, _ []uint64, _ []GraphHop) []GraphBinding {
	return f.bind
}

type fakeCatalog struct {
	vectors map[string]VectorIndex
	texts   map[string]TextIndex
	rows    map[string]RowStore
	graphs  map[string]GraphWalker
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		vectors: map[string]VectorIndex{},
		texts:   map[string]TextIndex{},
		rows:    map[string]RowStore{},
		graphs:  map[string]GraphWalker{},
	}
}

func (c *fakeCatalog) Vectors(name string) (VectorIndex, bool) { v, ok := c.vectors[name]; return v, ok }
func (c *fakeCatalog) Texts(name string) (TextIndex, bool)     { v, ok := c.texts[name]; return v, ok }
func (c *fakeCatalog) Rows(name string) (RowStore, bool)       { v, ok := c.rows[name]; return v, ok }
func (c *fakeCatalog) Graph(name string) (GraphWalker, bool)   { v, ok := c.graphs[name]; return v, ok }

func TestExecuteRelationalScanWithFilter(t *testing.T) {
	cat := newFakeCatalog()
	cat.rows["docs"] = &fakeRowStore{rows: map[uint64]Row{
		1: {"id": uint64(1), "age": int64(30)},
		2: {"id": uint64(2), "age": int64(15)},
		3: {"id": uint64(3), "age": int64(40)},
	}}
	exec := NewExecutor(cat, nil)
	stmt := mustParse(t, "SELECT id FROM docs WHERE age > 20")
	rows, err := exec.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2: %#v", len(rows), rows)
	}
}

func TestExecuteVectorSearch(t *testing.T) {
	cat := newFakeCatalog()
	cat.vectors["docs"] = &fakeVectorIndex{hits: []VectorHit{
		{ID: 1, Score: 0.9},
		{ID: 2, Score: 0.5},
	}}
	cat.rows["docs"] = &fakeRowStore{rows: map[uint64]Row{
		1: {"id": uint64(1), "title": "a"},
		2: {"id": uint64(2), "title": "b"},
	}}
	exec := NewExecutor(cat, map[string]any{"q": []float32{1, 0, 0}})
	stmt := mustParse(t, "SELECT id, title FROM docs WHERE embedding NEAR $q LIMIT 2")
	rows, err := exec.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0]["title"] != "a" {
		t.Fatalf("rows[0] = %#v", rows[0])
	}
}

func TestExecuteJoinInner(t *testing.T) {
	cat := newFakeCatalog()
	cat.rows["docs"] = &fakeRowStore{rows: map[uint64]Row{
		1: {"id": uint64(1), "owner_id": uint64(10)},
	}}
	cat.rows["owners"] = &fakeRowStore{rows: map[uint64]Row{
		10: {"id": uint64(10), "name": "alice"},
	}}
	exec := NewExecutor(cat, nil)
	stmt := mustParse(t, "SELECT docs.id FROM docs JOIN owners ON docs.owner_id = owners.id")
	rows, err := exec.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1: %#v", len(rows), rows)
	}
}

func TestExecuteRightJoinIsUnsupported(t *testing.T) {
	cat := newFakeCatalog()
	cat.rows["docs"] = &fakeRowStore{rows: map[uint64]Row{1: {"id": uint64(1), "owner_id": uint64(10)}}}
	cat.rows["owners"] = &fakeRowStore{rows: map[uint64]Row{10: {"id": uint64(10)}}}
	exec := NewExecutor(cat, nil)
	stmt := mustParse(t, "SELECT docs.id FROM docs RIGHT JOIN owners ON docs.owner_id = owners.id")
	_, err := exec.Execute(context.Background(), stmt)
	if err == nil {
		t.Fatalf("expected an UnsupportedFeatureError")
	}
	if _, ok := err.(*UnsupportedFeatureError); !ok {
		t.Fatalf("err = %T, want *UnsupportedFeatureError", err)
	}
}

func TestExecuteCompoundUnion(t *testing.T) {
	cat := newFakeCatalog()
	cat.rows["a"] = &fakeRowStore{rows: map[uint64]Row{1: {"id": uint64(1)}, 2: {"id": uint64(2)}}}
	cat.rows["b"] = &fakeRowStore{rows: map[uint64]Row{2: {"id": uint64(2)}, 3: {"id": uint64(3)}}}
	exec := NewExecutor(cat, nil)
	stmt := mustParse(t, "SELECT id FROM a UNION SELECT id FROM b")
	rows, err := exec.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3 distinct ids: %#v", len(rows), rows)
	}
}

func TestExecuteGroupByHaving(t *testing.T) {
	cat := newFakeCatalog()
	cat.rows["docs"] = &fakeRowStore{rows: map[uint64]Row{
		1: {"id": uint64(1), "category": "a"},
		2: {"id": uint64(2), "category": "a"},
		3: {"id": uint64(3), "category": "b"},
	}}
	exec := NewExecutor(cat, nil)
	stmt := mustParse(t, "SELECT category, COUNT(*) FROM docs GROUP BY category HAVING COUNT(*) > 1")
	rows, err := exec.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1: %#v", len(rows), rows)
	}
	if rows[0]["category"] != "a" {
		t.Fatalf("rows[0] = %#v", rows[0])
	}
}

func TestExecuteMatchTraversal(t *testing.T) {
	cat := newFakeCatalog()
	cat.graphs["Person"] = &fakeGraphWalker{
		seeds: []uint64{1},
		bind: []GraphBinding{
			{"a": 1, "b": 2},
			{"a": 1, "b": 3},
		},
	}
	cat.rows["Person"] = &fakeRowStore{rows: map[uint64]Row{
		1: {"id": uint64(1), "name": "alice"},
		2: {"id": uint64(2), "name": "bob"},
		3: {"id": uint64(3), "name": "carol"},
	}}
	exec := NewExecutor(cat, nil)
	stmt := mustParse(t, "MATCH (a:Person)-[:KNOWS]->(b:Person) RETURN b.name")
	rows, err := exec.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2: %#v", len(rows), rows)
	}
}

func TestExecuteInSubquery(t *testing.T) {
	cat := newFakeCatalog()
	cat.rows["docs"] = &fakeRowStore{rows: map[uint64]Row{
		1: {"id": uint64(1), "owner_id": uint64(10)},
		2: {"id": uint64(2), "owner_id": uint64(20)},
	}}
	cat.rows["vips"] = &fakeRowStore{rows: map[uint64]Row{
		10: {"owner_id": uint64(10)},
	}}
	exec := NewExecutor(cat, nil)
	stmt := mustParse(t, "SELECT id FROM docs WHERE owner_id IN (SELECT owner_id FROM vips)")
	rows, err := exec.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1: %#v", len(rows), rows)
	}
}
