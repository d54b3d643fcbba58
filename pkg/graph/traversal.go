package graph

// Strategy selects the traversal order used by Traverse.
type Strategy int

const (
	BFS Strategy = iota
	DFS
)

// Step is one visited node in a traversal's output sequence.
type Step struct {
	NodeID uint64
	Depth  int
}

// Traverse walks the graph from src using strategy, visiting each node at
// most once, capping depth at maxDepth and the result count at limit (a
// non-positive limit means unbounded). Output is a sequence of (node_id,
// depth) pairs in visitation order (spec §4.4).
func (g *Graph) Traverse(src uint64, maxDepth int, strategy Strategy, limit int) []Step {
	if strategy == DFS {
		return g.traverseDFS(src, maxDepth, limit)
	}
	return g.traverseBFS(src, maxDepth, limit)
}

func (g *Graph) traverseBFS(src uint64, maxDepth, limit int) []Step {
	visited := map[uint64]bool{src: true}
	queue := []Step{{NodeID: src, Depth: 0}}
	var out []Step

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)
		if limit > 0 && len(out) >= limit {
			return out
		}
		if cur.Depth >= maxDepth {
			continue
		}
		for _, n := range g.neighborsOf(cur.NodeID, DirOut, nil) {
			if visited[n] {
				continue
			}
			visited[n] = true
			queue = append(queue, Step{NodeID: n, Depth: cur.Depth + 1})
		}
	}
	return out
}

func (g *Graph) traverseDFS(src uint64, maxDepth, limit int) []Step {
	visited := map[uint64]bool{}
	var out []Step

	var walk func(node uint64, depth int) bool // returns false to stop early
	walk = func(node uint64, depth int) bool {
		if visited[node] {
			return true
		}
		visited[node] = true
		out = append(out, Step{NodeID: node, Depth: depth})
		if limit > 0 && len(out) >= limit {
			return false
		}
		if depth >= maxDepth {
			return true
		}
		for _, n := range g.neighborsOf(node, DirOut, nil) {
			if !walk(n, depth+1) {
				return false
			}
		}
		return true
	}
	walk(src, 0)
	return out
}

// VariableLength executes a variable-length relationship pattern
// `(a)-[:label*min..max]->(b)` as repeated single-hop BFS within [min, max]
// hops, returning every node reachable at a depth in that (inclusive)
// range.
func (g *Graph) VariableLength(src uint64, label string, min, max int) []Step {
	if max <= 0 {
		max = 1
	}
	visited := map[uint64]bool{src: true}
	queue := []Step{{NodeID: src, Depth: 0}}
	var out []Step

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.Depth >= min && cur.Depth > 0 {
			out = append(out, cur)
		}
		if cur.Depth >= max {
			continue
		}
		for _, n := range g.neighborsOf(cur.NodeID, DirOut, &label) {
			if visited[n] {
				continue
			}
			visited[n] = true
			queue = append(queue, Step{NodeID: n, Depth: cur.Depth + 1})
		}
	}
	return out
}

// HopBinding is one row of a multi-hop pattern's binding table: the node id
// bound to each alias visited so far.
type HopBinding map[string]uint64

// Hop describes one edge of a multi-hop chain `(a)-[:R1]->(b)-[:R2]->(c)`:
// which alias it starts from, which label it follows, and which alias the
// landed node binds to.
type Hop struct {
	FromAlias string
	Label     string
	ToAlias   string
}

// ChainHops executes a multi-hop pattern hop by hop rather than as one
// merged BFS (spec §4.4): hop 1 is BFS over hops[0].Label from the seed
// bindings, producing a binding set; hop 2 runs from every node bound to
// hops[1].FromAlias, carrying all prior bindings forward. The caller
// applies any alias-qualified WHERE clause against the full binding rows
// this returns.
func (g *Graph) ChainHops(seedAlias string, seeds []uint64, hops []Hop) []HopBinding {
	bindings := make([]HopBinding, 0, len(seeds))
	for _, s := range seeds {
		bindings = append(bindings, HopBinding{seedAlias: s})
	}

	for _, hop := range hops {
		var next []HopBinding
		for _, b := range bindings {
			from, ok := b[hop.FromAlias]
			if !ok {
				continue
			}
			for _, n := range g.neighborsOf(from, DirOut, &hop.Label) {
				row := make(HopBinding, len(b)+1)
				for k, v := range b {
					row[k] = v
				}
				row[hop.ToAlias] = n
				next = append(next, row)
			}
		}
		bindings = next
		if len(bindings) == 0 {
			break
		}
	}
	return bindings
}
