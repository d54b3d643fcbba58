package hnsw

import (
	"container/heap"
	"sort"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

// heapItem is one candidate/result entry in the best-first search.
type heapItem struct {
	id   uint64
	dist float32
}

// minHeap orders by ascending distance (the candidate frontier).
type minHeap []heapItem

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxHeap orders by descending distance (the current best-ef result set,
// with the worst of the kept results at the top so it can be evicted).
type maxHeap []heapItem

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// greedyDescendOne returns the single closest point to query among
// entryPoints at layer, used for the width-1 beam above layer 0. Assumes
// the caller holds both idx.vectors.mu and idx.layers.mu. Upper-layer
// descent always compares against full precision: only the layer-0 beam
// is eligible for the int8 traversal path (spec §4.2).
func (idx *Index) greedyDescendOne(query []float32, entryPoints []uint64, layer int) []uint64 {
	result := idx.searchLayerLocked(query, entryPoints, 1, layer, false)
	if len(result) > 1 {
		result = result[:1]
	}
	return result
}

// distanceToLocked computes the distance from query to id's stored vector.
// When useQuantized is true and a dual-precision quantizer is configured,
// it decodes id's int8 copy and compares against that instead of the f32
// copy — trading traversal accuracy for the 4x-smaller working set spec
// §4.2 describes for layer-0 beam search. Decoding per comparison (rather
// than a native int8 kernel) mirrors the teacher's own quantized-distance
// fallback in pkg/index/hnsw.go's calculateDistance, which likewise decodes
// on the fly rather than computing directly in the compressed domain.
func (idx *Index) distanceToLocked(query []float32, id uint64, useQuantized bool) (float32, bool) {
	if useQuantized {
		if q, ok := idx.vectors.quantized[id]; ok {
			decoded, err := idx.quant.Decode(q)
			if err == nil {
				return idx.engine.Distance(idx.cfg.Metric, query, decoded), true
			}
		}
	}
	vec, ok := idx.vectors.full[id]
	if !ok {
		return 0, false
	}
	return idx.engine.Distance(idx.cfg.Metric, query, vec), true
}

// searchLayerLocked runs the bounded best-first search of spec §4.2 within
// one layer: a min-heap candidate frontier and a max-heap of the best ef
// results found so far, terminating once the frontier's best candidate is
// no better than the worst kept result. Assumes the caller already holds
// idx.vectors.mu and idx.layers.mu for the duration of the call — this
// function never acquires or releases either lock itself, which is what
// makes the "lock once per Search call" contract possible.
func (idx *Index) searchLayerLocked(query []float32, entryPoints []uint64, ef int, layer int, useQuantized bool) []uint64 {
	visited := make(map[uint64]bool, ef*2)
	var candidates minHeap
	var results maxHeap

	for _, id := range entryPoints {
		if idx.vectors.deleted.Contains(uint32(id)) {
			continue
		}
		d, ok := idx.distanceToLocked(query, id, useQuantized)
		if !ok {
			continue
		}
		heap.Push(&candidates, heapItem{id: id, dist: d})
		heap.Push(&results, heapItem{id: id, dist: d})
		visited[id] = true
	}

	for candidates.Len() > 0 {
		if results.Len() > 0 && candidates[0].dist > results[0].dist {
			break
		}
		current := heap.Pop(&candidates).(heapItem)

		neighborLevels, ok := idx.layers.neighbors[current.id]
		if !ok || layer >= len(neighborLevels) {
			continue
		}

		for _, n := range neighborLevels[layer] {
			if visited[n] {
				continue
			}
			visited[n] = true

			if idx.vectors.deleted.Contains(uint32(n)) {
				continue
			}
			d, ok := idx.distanceToLocked(query, n, useQuantized)
			if !ok {
				continue
			}

			if results.Len() < ef || d < results[0].dist {
				heap.Push(&candidates, heapItem{id: n, dist: d})
				heap.Push(&results, heapItem{id: n, dist: d})
				if results.Len() > ef {
					heap.Pop(&results)
				}
			}
		}
	}

	out := make([]uint64, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&results).(heapItem).id
	}
	return out
}

// Result is one hit returned by Search: an id and its distance under the
// index's configured metric (smaller is better, regardless of metric —
// Dot is internally negated so the ordering convention stays uniform).
type Result struct {
	ID       uint64
	Distance float32
}

// SearchOptions configures one Search call.
type SearchOptions struct {
	K int
	// EfSearch overrides cfg.EfSearchDefault when > 0.
	EfSearch int
	// Overfetch overrides cfg.Overfetch when > 0; clamped to [1,100] per
	// spec §4.2's adaptive over-fetch contract.
	Overfetch int
}

func clampOverfetch(v int) int {
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

// Search performs k-NN search per spec §4.2: a single-width greedy descent
// from the entry point down to layer 1, then a bounded best-first search at
// layer 0 with ef_search candidates, with dual-precision rerank if enabled.
//
// Locking contract (spec §4.2, critical): both the vector-set lock and the
// layer-graph lock are acquired exactly once, at the very start of this
// call, covering the entire descent — upper layers and layer 0 alike — and
// released in reverse order. No lock is ever retaken per candidate visited;
// searchLayerLocked and greedyDescendOne above are written to assume the
// locks are already held for their entire body, specifically so nothing in
// the hot path can reintroduce a per-candidate relock.
func (idx *Index) Search(query []float32, opts SearchOptions) []Result {
	atomic.AddUint64(&idx.searchCalls, 1)

	idx.vectors.mu.RLock()
	defer idx.vectors.mu.RUnlock()
	idx.layers.mu.RLock()
	defer idx.layers.mu.RUnlock()

	if !idx.layers.hasEntry {
		return nil
	}

	k := opts.K
	if k <= 0 {
		k = 1
	}
	ef := opts.EfSearch
	if ef <= 0 {
		ef = idx.cfg.EfSearchDefault
	}
	if ef < k {
		ef = k
	}
	overfetch := clampOverfetch(opts.Overfetch)
	if opts.Overfetch <= 0 {
		overfetch = clampOverfetch(idx.cfg.Overfetch)
	}

	entry := idx.layers.entryPoint
	if idx.vectors.deleted.Contains(uint32(entry)) {
		live, ok := idx.findLiveEntryLocked()
		if !ok {
			return nil
		}
		entry = live
	}

	current := []uint64{entry}
	for layer := idx.layers.levels[entry]; layer > 0; layer-- {
		current = idx.greedyDescendOne(query, current, layer)
		if len(current) == 0 {
			current = []uint64{entry}
		}
	}

	fetchEf := ef
	if overfetch*k > fetchEf {
		fetchEf = overfetch * k
	}

	// Dual-precision mode (spec §4.2): the layer-0 beam traverses the int8
	// copy of each vector. searchLayerLocked returns candidates already
	// ordered by ascending (quantized) distance; only the top
	// rerank_factor*k of those go on to be rescored against full f32 below
	// — the rest are discarded here rather than after a wasted f32 compare.
	useQuantized := idx.quant != nil && idx.cfg.DualPrecision
	candidates := idx.searchLayerLocked(query, current, fetchEf, 0, useQuantized)
	if useQuantized {
		limit := idx.cfg.RerankFactor * k
		if limit > 0 && limit < len(candidates) {
			candidates = candidates[:limit]
		}
	}

	results := make([]Result, 0, len(candidates))
	for _, id := range candidates {
		vec, ok := idx.vectors.full[id]
		if !ok || idx.vectors.deleted.Contains(uint32(id)) {
			continue
		}
		results = append(results, Result{ID: id, Distance: idx.engine.Distance(idx.cfg.Metric, query, vec)})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (idx *Index) findLiveEntryLocked() (uint64, bool) {
	for id := range idx.layers.levels {
		if !idx.vectors.deleted.Contains(uint32(id)) {
			return id, true
		}
	}
	return 0, false
}

// deletedSnapshot returns a copy of the tombstone bitmap. Nothing in this
// package calls it.
func (idx *Index) deletedSnapshot() *roaring.Bitmap {
	idx.vectors.mu.RLock()
	defer idx.vectors.mu.RUnlock()
	return idx.vectors.deleted.Clone()
}
