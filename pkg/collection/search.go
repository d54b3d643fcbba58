package collection

import (
	"context"

	"github.com/velesdb/veles/pkg/column"
	"github.com/velesdb/veles/pkg/fulltext"
	"github.com/velesdb/veles/pkg/graph"
	"github.com/velesdb/veles/pkg/hnsw"
	"github.com/velesdb/veles/pkg/query"
)

// Search adapts hnsw.Index.Search to pkg/query's VectorIndex, converting
// distance (smaller-is-better) to score (larger-is-better) so query's
// fusion and ORDER BY stay metric-agnostic.
func (c *Collection) Search(_ context.Context, q []float32, k, overfetch int) ([]query.VectorHit, error) {
	c.mu.Lock()
	idx := c.vectors
	c.mu.Unlock()
	if idx == nil {
		return nil, nil
	}
	results := idx.Search(q, hnsw.SearchOptions{K: k, Overfetch: overfetch})
	hits := make([]query.VectorHit, len(results))
	for i, r := range results {
		hits[i] = query.VectorHit{ID: r.ID, Score: -float64(r.Distance)}
	}
	return hits, nil
}

// TextSearch adapts fulltext.Index.TextSearch to pkg/query's TextIndex.
func (c *Collection) TextSearch(q string, k int) []fulltext.Result {
	return c.text.TextSearch(q, k)
}

// Seeds returns every point id upserted under the given graph label
// (MATCH (a:Label) seeding), per SPEC_FULL.md's label-index supplement
// since pkg/graph itself indexes edge-label properties, not node labels.
func (c *Collection) Seeds(label string) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64{}, c.labels[label]...)
}

// ChainHops adapts graph.Graph's hop-by-hop traversal (ChainHops,
// VariableLength) to pkg/query's GraphWalker, running each hop in sequence
// over the whole binding set so a later hop only expands from the nodes an
// earlier hop actually landed on (spec §4.4 "multi-hop chaining").
// A hop with MinHops==MaxHops<=1 (or unset) is a single-edge hop, handled
// via Graph.GetEdges; a hop whose MinHops or MaxHops exceeds 1 (including
// an exact *2..2) is a variable-length relationship, handled via
// Graph.VariableLength — the two
// primitives pkg/graph already exposes for spec §4.4's two traversal
// shapes.
func (c *Collection) ChainHops(seedAlias string, seeds []uint64, hops []query.GraphHop) []query.GraphBinding {
	c.mu.Lock()
	g := c.graph
	c.mu.Unlock()

	bindings := make([]graph.HopBinding, 0, len(seeds))
	for _, s := range seeds {
		bindings = append(bindings, graph.HopBinding{seedAlias: s})
	}

	for _, h := range hops {
		var next []graph.HopBinding
		for _, b := range bindings {
			from, ok := b[h.FromAlias]
			if !ok {
				continue
			}
			for _, to := range landedNodes(g, from, h) {
				merged := make(graph.HopBinding, len(b)+1)
				for k, v := range b {
					merged[k] = v
				}
				merged[h.ToAlias] = to
				next = append(next, merged)
			}
		}
		bindings = next
	}
	return fromHopBindings(bindings)
}

// landedNodes returns the nodes reachable from src over one hop h, either
// a single labeled edge or a variable-length [MinHops,MaxHops] walk.
func landedNodes(g *graph.Graph, src uint64, h query.GraphHop) []uint64 {
	if h.MaxHops > 1 || h.MinHops > 1 {
		min := h.MinHops
		if min <= 0 {
			min = 1
		}
		steps := g.VariableLength(src, h.Label, min, h.MaxHops)
		out := make([]uint64, len(steps))
		for i, s := range steps {
			out[i] = s.NodeID
		}
		return out
	}
	label := h.Label
	edges, err := g.GetEdges(&label, &src, nil)
	if err != nil {
		return nil
	}
	out := make([]uint64, len(edges))
	for i, e := range edges {
		out[i] = e.Dst
	}
	return out
}

func fromHopBindings(in []graph.HopBinding) []query.GraphBinding {
	out := make([]query.GraphBinding, len(in))
	for i, b := range in {
		out[i] = query.GraphBinding(b)
	}
	return out
}

// GetByID adapts column.Store.Get to pkg/query's RowStore.
func (c *Collection) GetByID(id uint64) (query.Row, bool) {
	row, ok, err := c.rows.Get(context.Background(), id)
	if err != nil || !ok {
		return nil, false
	}
	return c.normalizeRow(row), true
}

// Scan adapts column.Store.Scan to pkg/query's RowStore.
func (c *Collection) Scan() ([]query.Row, error) {
	rows, err := c.rows.Scan(context.Background())
	if err != nil {
		return nil, err
	}
	out := make([]query.Row, len(rows))
	for i, r := range rows {
		out[i] = c.normalizeRow(r)
	}
	return out, nil
}

// normalizeRow coerces the primary key column back to uint64: SQLite
// round-trips it as int64 (see column.convertValue), but query executor
// rows produced from a vector or graph pass carry a uint64 id directly
// (VectorHit.ID, GraphBinding), and map keys only compare equal when both
// dynamic type and value match — a mismatched int64/uint64 "id" would
// silently break fuseRows/applySetOp's id-based joins.
func (c *Collection) normalizeRow(row column.Row) query.Row {
	out := make(query.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	if v, ok := out[c.cfg.Schema.PrimaryKey].(int64); ok {
		out[c.cfg.Schema.PrimaryKey] = uint64(v)
	}
	return out
}

// Registry implements pkg/query's Catalog over a set of named collections,
// the concrete wiring the Database facade hands to query.NewExecutor.
type Registry struct {
	collections map[string]*Collection
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{collections: make(map[string]*Collection)}
}

// Register adds or replaces the collection visible under name.
func (r *Registry) Register(name string, c *Collection) {
	r.collections[name] = c
}

func (r *Registry) Vectors(name string) (query.VectorIndex, bool) {
	c, ok := r.collections[name]
	return c, ok
}

func (r *Registry) Texts(name string) (query.TextIndex, bool) {
	c, ok := r.collections[name]
	return c, ok
}

func (r *Registry) Rows(name string) (query.RowStore, bool) {
	c, ok := r.collections[name]
	return c, ok
}

func (r *Registry) Graph(name string) (query.GraphWalker, bool) {
	c, ok := r.collections[name]
	return c, ok
}
