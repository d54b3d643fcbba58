// Package hnsw implements the HNSW Index described in spec §4.2: a layered
// small-world graph with single-lock greedy descent, adaptive ef_search,
// and an optional dual-precision (int8 traversal / f32 rerank) search path.
//
// Grounded on the teacher's pkg/index/hnsw.go (level assignment by geometric
// decay, candidate/result heap search, neighbor-selection heuristic,
// soft-delete-by-tombstone), generalized from string ids to uint64 ids and
// reshaped around two separately lockable stores — VectorSet (rank 10) and
// LayerGraph (rank 20) — because spec §4.2's locking contract requires a
// search to take the vector-set lock and the layer-graph lock exactly once
// each, not per node visited during the teacher's candidate loop.
package hnsw

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/velesdb/veles/pkg/distance"
	"github.com/velesdb/veles/pkg/quantization"
)

var (
	ErrDimensionMismatch = errors.New("hnsw: vector dimension mismatch")
	ErrNonFinite         = errors.New("hnsw: vector contains non-finite components")
	ErrAlreadyExists     = errors.New("hnsw: id already exists")
	ErrNotFound          = errors.New("hnsw: id not found")
)

// Config carries the tunables spec §3 lists for a collection's HNSW index.
type Config struct {
	M              int
	EfConstruction int
	EfSearchDefault int
	Metric         distance.Metric
	Dimension      int

	// DualPrecision enables int8-traversal/f32-rerank search (spec §4.2).
	DualPrecision bool
	RerankFactor  int // top rerank_factor*k candidates get f32-rescored

	// Overfetch is the default candidate multiplier (spec §4.2 "adaptive
	// over-fetch"), clamped to [1,100] by Search.
	Overfetch int
}

func (c Config) withDefaults() Config {
	if c.M <= 0 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearchDefault <= 0 {
		c.EfSearchDefault = 64
	}
	if c.RerankFactor <= 0 {
		c.RerankFactor = 3
	}
	if c.Overfetch <= 0 {
		c.Overfetch = 10
	}
	return c
}

// VectorSet holds the raw and (optionally) quantized vector payloads,
// lockable independently of the layer graph (lock rank 10, per spec §5).
type VectorSet struct {
	mu        sync.RWMutex
	full      map[uint64][]float32
	quantized map[uint64][]byte
	deleted   *roaring.Bitmap
	dim       int
}

func newVectorSet(dim int) *VectorSet {
	return &VectorSet{
		full:      make(map[uint64][]float32),
		quantized: make(map[uint64][]byte),
		deleted:   roaring.New(),
		dim:       dim,
	}
}

// LayerGraph holds the neighbor-list adjacency per layer, lockable
// independently of the vector set (lock rank 20, per spec §5).
type LayerGraph struct {
	mu         sync.RWMutex
	levels     map[uint64]int
	neighbors  map[uint64][][]uint64 // id -> per-layer neighbor lists
	entryPoint uint64
	hasEntry   bool
	maxLevel   int
}

func newLayerGraph() *LayerGraph {
	return &LayerGraph{
		levels:    make(map[uint64]int),
		neighbors: make(map[uint64][][]uint64),
	}
}

// Index ties a VectorSet and a LayerGraph together behind the HNSW
// insert/delete/search operations of spec §4.2.
type Index struct {
	cfg    Config
	engine *distance.DistanceEngine
	quant  *quantization.ScalarQuantizer

	vectors *VectorSet
	layers  *LayerGraph

	rngMu sync.Mutex
	rng   *rand.Rand

	ml float64 // 1/ln(M), level-assignment decay rate

	// searchCalls counts Search invocations (not candidates visited or
	// lock acquisitions); locking_test.go checks it against the number of
	// completed Search calls.
	searchCalls uint64
}

// New constructs an empty HNSW index for the given configuration.
func New(cfg Config) (*Index, error) {
	cfg = cfg.withDefaults()
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("hnsw: dimension must be positive, got %d", cfg.Dimension)
	}

	idx := &Index{
		cfg:     cfg,
		engine:  distance.NewEngine(),
		vectors: newVectorSet(cfg.Dimension),
		layers:  newLayerGraph(),
		rng:     rand.New(rand.NewSource(1)),
		ml:      1.0 / math.Log(float64(cfg.M)),
	}

	if cfg.DualPrecision {
		q, err := quantization.NewScalarQuantizer(cfg.Dimension)
		if err != nil {
			return nil, err
		}
		idx.quant = q
	}

	return idx, nil
}

// TrainQuantizer trains the dual-precision quantizer on a representative
// sample. Must be called before inserting if DualPrecision is enabled and
// vectors were not yet quantized; re-training after inserts does not
// retroactively re-encode already-stored vectors (spec leaves re-training
// policy to the caller/Collection).
func (idx *Index) TrainQuantizer(sample [][]float32) error {
	if idx.quant == nil {
		return errors.New("hnsw: dual precision not enabled for this index")
	}
	return idx.quant.Train(sample)
}

func validateVector(v []float32, dim int) error {
	if len(v) != dim {
		return ErrDimensionMismatch
	}
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return ErrNonFinite
		}
	}
	return nil
}

// selectLevel samples a layer for a new node via geometric decay with rate
// ml = 1/ln(M), the standard HNSW level-assignment distribution.
func (idx *Index) selectLevel() int {
	idx.rngMu.Lock()
	defer idx.rngMu.Unlock()
	level := int(math.Floor(-math.Log(idx.rng.Float64()) * idx.ml))
	if level > 32 {
		level = 32
	}
	return level
}

// Insert adds a new vector under id. Per spec §4.2, insertion takes
// exclusive access: it locks both stores for its whole duration (writers
// are already serialized by the Collection above it, but the index must be
// internally self-consistent against a concurrent Search).
func (idx *Index) Insert(id uint64, vector []float32) error {
	if err := validateVector(vector, idx.cfg.Dimension); err != nil {
		return err
	}

	// Lock order is fixed (spec §5): vectors (rank 10) before layers (rank
	// 20). Insert holds vectors exclusively for its whole duration — not
	// just the initial write — so every subsequent neighbor-selection
	// lookup of another node's vector is a plain map read under a lock this
	// goroutine already holds, instead of a fresh acquisition nested inside
	// the layers lock (which would invert the order and risk deadlock
	// against a concurrent Search that takes vectors then layers too).
	idx.vectors.mu.Lock()
	defer idx.vectors.mu.Unlock()

	if _, exists := idx.vectors.full[id]; exists && !idx.vectors.deleted.Contains(uint32(id)) {
		return ErrAlreadyExists
	}
	stored := make([]float32, len(vector))
	copy(stored, vector)
	idx.vectors.full[id] = stored
	if idx.quant != nil {
		if q, err := idx.quant.Encode(vector); err == nil {
			idx.vectors.quantized[id] = q
		}
	}
	idx.vectors.deleted.Remove(uint32(id))

	level := idx.selectLevel()

	idx.layers.mu.Lock()
	defer idx.layers.mu.Unlock()

	idx.layers.levels[id] = level
	idx.layers.neighbors[id] = make([][]uint64, level+1)
	for i := range idx.layers.neighbors[id] {
		idx.layers.neighbors[id][i] = nil
	}

	if !idx.layers.hasEntry {
		idx.layers.entryPoint = id
		idx.layers.hasEntry = true
		idx.layers.maxLevel = level
		return nil
	}

	current := []uint64{idx.layers.entryPoint}
	for lc := idx.layers.levels[idx.layers.entryPoint]; lc > level; lc-- {
		current = idx.greedyDescendOne(vector, current, lc)
	}

	for lc := level; lc >= 0; lc-- {
		m := idx.cfg.M
		if lc == 0 {
			m = idx.cfg.M * 2
		}
		candidates := idx.searchLayerLocked(vector, current, idx.cfg.EfConstruction, lc, false)
		chosen := idx.selectNeighborsHeuristic(vector, candidates, m)

		idx.layers.neighbors[id][lc] = chosen
		for _, n := range chosen {
			idx.addConnectionLocked(n, id, lc)
			idx.pruneIfNeededLocked(n, lc)
		}
		current = chosen
	}

	if level > idx.layers.maxLevel {
		idx.layers.maxLevel = level
		idx.layers.entryPoint = id
	}

	return nil
}

func (idx *Index) addConnectionLocked(from, to uint64, layer int) {
	lv, ok := idx.layers.levels[from]
	if !ok || layer > lv {
		return
	}
	for _, n := range idx.layers.neighbors[from][layer] {
		if n == to {
			return
		}
	}
	idx.layers.neighbors[from][layer] = append(idx.layers.neighbors[from][layer], to)
}

func (idx *Index) pruneIfNeededLocked(id uint64, layer int) {
	maxConn := idx.cfg.M
	if layer == 0 {
		maxConn = idx.cfg.M * 2
	}
	neighbors := idx.layers.neighbors[id][layer]
	if len(neighbors) <= maxConn {
		return
	}
	vec, ok := idx.vectors.full[id]
	if !ok {
		return
	}
	idx.layers.neighbors[id][layer] = idx.selectNeighborsHeuristic(vec, neighbors, maxConn)
}

// selectNeighborsHeuristic picks up to m nearest neighbors from candidates:
// sort by distance to query and keep the closest m. The teacher's version
// does the same nearest-first truncation. No diversity-aware
// (relative-neighborhood) pruning is applied, so the chosen neighbors may
// all lie in the same direction from query.
func (idx *Index) selectNeighborsHeuristic(query []float32, candidates []uint64, m int) []uint64 {
	if len(candidates) <= m {
		out := make([]uint64, len(candidates))
		copy(out, candidates)
		return out
	}

	type pair struct {
		id   uint64
		dist float32
	}
	// Assumes the caller already holds idx.vectors.mu (Insert holds it
	// exclusively for its whole duration; Search holds it for its whole
	// duration too, per the single-acquisition locking contract).
	pairs := make([]pair, 0, len(candidates))
	for _, c := range candidates {
		vec, ok := idx.vectors.full[c]
		if !ok {
			continue
		}
		pairs = append(pairs, pair{id: c, dist: idx.engine.Distance(idx.cfg.Metric, query, vec)})
	}
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j].dist < pairs[j-1].dist; j-- {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
		}
	}
	if len(pairs) > m {
		pairs = pairs[:m]
	}
	out := make([]uint64, len(pairs))
	for i, p := range pairs {
		out[i] = p.id
	}
	return out
}

// Delete tombstones id (soft delete, spec §4.2): it is skipped by future
// searches and by entry-point repair, but its edges are left in place;
// nothing in this package removes them. Inserting the same id again
// replaces the tombstoned entry.
func (idx *Index) Delete(id uint64) error {
	// Same fixed order as Insert: vectors locked exclusively first, then
	// layers, both held for the whole call — so the entry-point repair
	// below can check tombstone state via a plain map read instead of a
	// second, order-inverting acquisition of vectors.mu.
	idx.vectors.mu.Lock()
	defer idx.vectors.mu.Unlock()

	if _, ok := idx.vectors.full[id]; !ok {
		return ErrNotFound
	}
	idx.vectors.deleted.Add(uint32(id))

	idx.layers.mu.Lock()
	defer idx.layers.mu.Unlock()
	if idx.layers.entryPoint == id {
		for candidate := range idx.layers.levels {
			if candidate == id {
				continue
			}
			if !idx.vectors.deleted.Contains(uint32(candidate)) {
				idx.layers.entryPoint = candidate
				idx.layers.maxLevel = idx.layers.levels[candidate]
				break
			}
		}
	}
	return nil
}

// Size reports the number of live (non-tombstoned) points.
func (idx *Index) Size() int {
	idx.vectors.mu.RLock()
	defer idx.vectors.mu.RUnlock()
	return len(idx.vectors.full) - int(idx.vectors.deleted.GetCardinality())
}

// Stats exposes index introspection for the collection-stats supplement
// (SPEC_FULL.md §6), grounded on the teacher's HNSW.Stats().
type Stats struct {
	TotalNodes        int
	ActiveNodes        int
	DeletedNodes       int
	MaxLevel           int
	LevelDistribution  map[int]int
	EntryPoint         uint64
	M                  int
	EfConstruction     int
}

func (idx *Index) Stats() Stats {
	idx.vectors.mu.RLock()
	idx.layers.mu.RLock()
	defer idx.vectors.mu.RUnlock()
	defer idx.layers.mu.RUnlock()

	dist := make(map[int]int)
	active := 0
	for id, level := range idx.layers.levels {
		if idx.vectors.deleted.Contains(uint32(id)) {
			continue
		}
		active++
		dist[level]++
	}

	return Stats{
		TotalNodes:       len(idx.layers.levels),
		ActiveNodes:      active,
		DeletedNodes:     len(idx.layers.levels) - active,
		MaxLevel:         idx.layers.maxLevel,
		LevelDistribution: dist,
		EntryPoint:       idx.layers.entryPoint,
		M:                idx.cfg.M,
		EfConstruction:   idx.cfg.EfConstruction,
	}
}
