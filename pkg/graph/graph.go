// Package graph implements the Property Graph component of spec §4.4: a
// directed labeled multigraph over point ids, with per-label/per-direction
// adjacency dispatched through a degree router (dense list for most nodes,
// a compressed adaptive radix tree for hubs), BFS/DFS traversal, and
// point/composite-range property indices with a query-pattern advisor.
//
// Grounded on the teacher's pkg/graph (GraphStore/GraphEdge shape,
// UpsertEdge/GetEdges/GetNode idioms, context-threaded methods), generalized
// from a SQLite-backed vector+graph store to an in-memory edge store: nodes
// in VelesDB are point ids owned by the Collection's vector set and column
// store, so the graph component here only owns edges and adjacency, held
// in memory: edges are not written to the Collection's WAL or to a second
// on-disk table.
package graph

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrEdgeNotFound    = errors.New("graph: edge not found")
	ErrInvalidEndpoint = errors.New("graph: edge endpoints must be non-zero")
)

// Edge is a directed, labeled, property-bearing arc between two point ids.
// Multiple edges may share the same (src, dst, label) triple (multigraph).
type Edge struct {
	ID         string
	Src        uint64
	Dst        uint64
	Label      string
	Properties map[string]any
}

// Direction selects which endpoint of an edge to match a node against.
type Direction int

const (
	DirOut Direction = iota
	DirIn
	DirBoth
)

// hubThreshold is the out/in-degree above which a node's adjacency for a
// given label switches from a dense map to the C-ART (spec §4.4).
const hubThreshold = 64

// adjacency is the degree router for one (node, label, direction) bucket:
// a dense map while small, promoted to a cartTree once the node's fan-out
// for that label crosses hubThreshold.
type adjacency struct {
	dense map[uint64][]string // target -> edge ids, while in dense mode
	tree  *cartTree           // target -> edge ids, once promoted
}

func newAdjacency() *adjacency {
	return &adjacency{dense: make(map[uint64][]string)}
}

func (a *adjacency) degree() int {
	if a.tree != nil {
		return a.tree.Len()
	}
	return len(a.dense)
}

func (a *adjacency) add(target uint64, edgeID string) {
	if a.tree != nil {
		a.tree.Put(target, edgeID)
		return
	}
	a.dense[target] = append(a.dense[target], edgeID)
	if len(a.dense) > hubThreshold {
		a.promote()
	}
}

func (a *adjacency) promote() {
	tree := newCartTree()
	for target, edges := range a.dense {
		for _, id := range edges {
			tree.Put(target, id)
		}
	}
	a.tree = tree
	a.dense = nil
}

func (a *adjacency) remove(target uint64, edgeID string) {
	if a.tree != nil {
		a.tree.Delete(target, edgeID)
		return
	}
	edges := a.dense[target]
	for i, id := range edges {
		if id == edgeID {
			a.dense[target] = append(edges[:i], edges[i+1:]...)
			break
		}
	}
	if len(a.dense[target]) == 0 {
		delete(a.dense, target)
	}
}

func (a *adjacency) get(target uint64) []string {
	if a.tree != nil {
		edges, _ := a.tree.Get(target)
		return edges
	}
	return a.dense[target]
}

// forEach visits every (target, edge id) pair this bucket holds.
func (a *adjacency) forEach(fn func(target uint64, edgeID string)) {
	if a.tree != nil {
		a.tree.ForEach(func(target uint64, edgeIDs []string) bool {
			for _, id := range edgeIDs {
				fn(target, id)
			}
			return true
		})
		return
	}
	for target, edges := range a.dense {
		for _, id := range edges {
			fn(target, id)
		}
	}
}

// Graph holds the edges and per-label/per-direction adjacency of one
// Collection's property graph.
type Graph struct {
	mu     sync.RWMutex
	edges  map[string]*Edge
	out    map[uint64]map[string]*adjacency // node -> label -> out adjacency
	in     map[uint64]map[string]*adjacency // node -> label -> in adjacency
	points PropertyIndex
}

// New constructs an empty property graph.
func New() *Graph {
	return &Graph{
		edges:  make(map[string]*Edge),
		out:    make(map[uint64]map[string]*adjacency),
		in:     make(map[uint64]map[string]*adjacency),
		points: NewPropertyIndex(),
	}
}

// AddEdge inserts a new directed edge and returns its generated id.
func (g *Graph) AddEdge(src, dst uint64, label string, props map[string]any) (string, error) {
	if src == 0 || dst == 0 {
		return "", ErrInvalidEndpoint
	}
	id := uuid.NewString()
	edge := &Edge{ID: id, Src: src, Dst: dst, Label: label, Properties: props}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[id] = edge
	g.adjFor(g.out, src, label).add(dst, id)
	g.adjFor(g.in, dst, label).add(src, id)

	for k, v := range props {
		g.points.Index(label, k, v, src)
	}
	return id, nil
}

func (g *Graph) adjFor(side map[uint64]map[string]*adjacency, node uint64, label string) *adjacency {
	byLabel, ok := side[node]
	if !ok {
		byLabel = make(map[string]*adjacency)
		side[node] = byLabel
	}
	a, ok := byLabel[label]
	if !ok {
		a = newAdjacency()
		byLabel[label] = a
	}
	return a
}

// RemoveEdge deletes an edge by id.
func (g *Graph) RemoveEdge(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	edge, ok := g.edges[id]
	if !ok {
		return ErrEdgeNotFound
	}
	delete(g.edges, id)
	if byLabel, ok := g.out[edge.Src]; ok {
		if a, ok := byLabel[edge.Label]; ok {
			a.remove(edge.Dst, id)
		}
	}
	if byLabel, ok := g.in[edge.Dst]; ok {
		if a, ok := byLabel[edge.Label]; ok {
			a.remove(edge.Src, id)
		}
	}
	for k, v := range edge.Properties {
		g.points.Remove(edge.Label, k, v, edge.Src)
	}
	return nil
}

// GetEdges returns edges matching the given optional filters. A nil
// pointer for label, src, or dst means "any".
func (g *Graph) GetEdges(label *string, src, dst *uint64) ([]*Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Edge
	switch {
	case src != nil:
		byLabel, ok := g.out[*src]
		if !ok {
			return nil, nil
		}
		g.collectFromAdjacency(byLabel, label, *src, true, dst, &out)
	case dst != nil:
		byLabel, ok := g.in[*dst]
		if !ok {
			return nil, nil
		}
		g.collectFromAdjacency(byLabel, label, *dst, false, nil, &out)
	default:
		for _, e := range g.edges {
			if label != nil && e.Label != *label {
				continue
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// collectFromAdjacency gathers edges out of a node's (or into a node's)
// per-label adjacency, anchored is the node the adjacency map belongs to,
// anchoredIsSrc reports whether anchored plays the src role.
func (g *Graph) collectFromAdjacency(byLabel map[string]*adjacency, label *string, anchored uint64, anchoredIsSrc bool, other *uint64, out *[]*Edge) {
	visit := func(a *adjacency) {
		a.forEach(func(_ uint64, edgeID string) {
			e, ok := g.edges[edgeID]
			if !ok {
				return
			}
			if other != nil {
				if anchoredIsSrc && e.Dst != *other {
					return
				}
				if !anchoredIsSrc && e.Src != *other {
					return
				}
			}
			*out = append(*out, e)
		})
	}
	if label != nil {
		if a, ok := byLabel[*label]; ok {
			visit(a)
		}
		return
	}
	for _, a := range byLabel {
		visit(a)
	}
}

// GetNodeDegree returns the (in, out) degree of a node across all labels.
func (g *Graph) GetNodeDegree(id uint64) (in, out int) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, a := range g.out[id] {
		out += a.degree()
	}
	for _, a := range g.in[id] {
		in += a.degree()
	}
	return in, out
}

// LookupProperty returns node ids where label+prop==value via the point
// index.
func (g *Graph) LookupProperty(label, prop string, value any) []uint64 {
	return g.points.Lookup(label, prop, value)
}

// CreateRangeIndex builds a composite ordered index over columns for label.
func (g *Graph) CreateRangeIndex(label string, columns []string) {
	g.points.CreateRangeIndex(label, columns)
}

// RangeScan returns node ids with label's columns[0] value in [lo, hi] via
// a previously created composite range index.
func (g *Graph) RangeScan(label string, columns []string, lo, hi any) ([]uint64, bool) {
	return g.points.RangeScan(label, columns, lo, hi)
}

// Advisor exposes the query-pattern tracker so the executor can record
// observed WHERE predicates and poll for index suggestions.
func (g *Graph) Advisor() *Advisor {
	return g.points.Advisor
}

// neighborsOf returns the distinct neighbor ids reachable from node via the
// given direction and optional label filter; edge ids are not returned.
func (g *Graph) neighborsOf(node uint64, dir Direction, label *string) []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[uint64]struct{})
	var result []uint64
	add := func(byLabel map[string]*adjacency) {
		visit := func(a *adjacency) {
			a.forEach(func(target uint64, _ string) {
				if _, dup := seen[target]; dup {
					return
				}
				seen[target] = struct{}{}
				result = append(result, target)
			})
		}
		if label != nil {
			if a, ok := byLabel[*label]; ok {
				visit(a)
			}
			return
		}
		for _, a := range byLabel {
			visit(a)
		}
	}
	if dir == DirOut || dir == DirBoth {
		if byLabel, ok := g.out[node]; ok {
			add(byLabel)
		}
	}
	if dir == DirIn || dir == DirBoth {
		if byLabel, ok := g.in[node]; ok {
			add(byLabel)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func (g *Graph) edgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}
