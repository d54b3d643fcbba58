// Package collection implements the Collection described in SPEC_FULL.md
// §0/§6: the unit that owns one HNSW vector index, one column store, one
// property graph, one BM25 text index, and the WAL that makes point writes
// (rows, vectors, text) durable; graph edges are not written to the WAL.
// It adapts them to the query executor's narrow
// Catalog/VectorIndex/TextIndex/GraphWalker/RowStore seam.
//
// Grounded on the teacher's pkg/core store (the type that owns a sqlite
// table plus the HNSW index plus the WAL and serializes mutations between
// them) — generalized here from the teacher's single fixed "embeddings"
// table to a point that additionally carries a graph node and an indexed
// text field.
package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/velesdb/veles/pkg/column"
	"github.com/velesdb/veles/pkg/distance"
	"github.com/velesdb/veles/pkg/fulltext"
	"github.com/velesdb/veles/pkg/graph"
	"github.com/velesdb/veles/pkg/hnsw"
	"github.com/velesdb/veles/pkg/storage"
)

// Config carries the tunables a Collection needs to build its four stores,
// mirroring the teacher's nested config-struct-with-defaults idiom
// (SPEC_FULL.md §3).
type Config struct {
	Name   string
	Schema column.Schema

	Dimension     int // 0 means auto-adapt to the first inserted vector
	Metric        distance.Metric
	HNSW          HNSWConfig
	TextField     string // column carrying the text indexed for MATCH/BM25; "" disables text indexing
	LabelField    string // column naming a row's graph label, used by MATCH (a:Label) seeding
	WALDir        string
	SnapshotEvery int64
}

// HNSWConfig mirrors hnsw.Config's tunables (SPEC_FULL.md §3).
type HNSWConfig struct {
	M               int
	EfConstruction  int
	EfSearchDefault int
	DualPrecision   bool
	RerankFactor    int
	Overfetch       int
}

func (c HNSWConfig) toHNSW(dim int, metric distance.Metric) hnsw.Config {
	return hnsw.Config{
		M:               c.M,
		EfConstruction:  c.EfConstruction,
		EfSearchDefault: c.EfSearchDefault,
		Metric:          metric,
		Dimension:       dim,
		DualPrecision:   c.DualPrecision,
		RerankFactor:    c.RerankFactor,
		Overfetch:       c.Overfetch,
	}
}

// Collection ties the four storage engines together behind a single
// mutation path so the WAL, the vector index, the column store, the graph,
// and the text index never drift out of sync with each other.
type Collection struct {
	mu  sync.Mutex
	cfg Config

	vectors *hnsw.Index
	rows    *column.Store
	graph   *graph.Graph
	text    *fulltext.Index
	wal     *storage.WAL

	dim      int  // resolved dimension; set on first insert if cfg.Dimension == 0
	dimLocked bool

	labels map[string][]uint64 // LabelField value -> node ids, for MATCH (a:Label) seeding
}

// pointRecord is the WAL payload for one upserted point: everything needed
// to replay the mutation into all four stores on recovery. Encoded as JSON,
// following the column store's own precedent (convertValue) of reaching
// for encoding/json rather than a bespoke binary layout for values whose
// shape is caller-defined, not baked into the wire format the way WAL
// framing and snapshot headers are (spec §3 fixes those exactly; point
// payloads are opaque to pkg/storage by design).
type pointRecord struct {
	Row    column.Row `json:"row"`
	Vector []float32  `json:"vector,omitempty"`
	Text   string     `json:"text,omitempty"`
}

// Open creates or reopens a Collection, building its four stores and
// recovering from WAL/snapshot state if any exists at cfg.WALDir.
func Open(ctx context.Context, cfg Config) (*Collection, error) {
	rows, err := column.Open(ctx, cfg.WALDir+"/"+cfg.Name+".sqlite", cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("collection: open column store: %w", err)
	}

	c := &Collection{
		cfg:    cfg,
		rows:   rows,
		graph:  graph.New(),
		text:   fulltext.New(),
		dim:    cfg.Dimension,
		labels: make(map[string][]uint64),
	}
	if cfg.Dimension > 0 {
		idx, err := hnsw.New(cfg.HNSW.toHNSW(cfg.Dimension, cfg.Metric))
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("collection: open hnsw index: %w", err)
		}
		c.vectors = idx
		c.dimLocked = true
	}

	threshold := cfg.SnapshotEvery
	if threshold <= 0 {
		threshold = 10000
	}
	wal, err := storage.Open(cfg.WALDir+"/"+cfg.Name+".wal", threshold)
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("collection: open wal: %w", err)
	}
	c.wal = wal

	if err := c.recover(ctx); err != nil {
		_ = rows.Close()
		_ = wal.Close()
		return nil, fmt.Errorf("collection: recover: %w", err)
	}
	return c, nil
}

func (c *Collection) recover(ctx context.Context) error {
	walPath := c.cfg.WALDir + "/" + c.cfg.Name + ".wal"
	snapshotPath := c.cfg.WALDir + "/" + c.cfg.Name + ".snapshot"
	_, err := storage.Recover(walPath, snapshotPath, nil, func(marker storage.Marker, id uint64, payload []byte) error {
		if marker == storage.MarkerDelete {
			return c.applyDelete(ctx, id)
		}
		var rec pointRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return err
		}
		return c.applyUpsert(ctx, id, rec)
	})
	return err
}

// Close releases every underlying store. The in-memory vector index and
// graph have no handles to release; only the column store and WAL do.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.wal.Close(); err != nil {
		return err
	}
	return c.rows.Close()
}

// Stats exposes the vector index's statistics, the WAL position, and whether
// a graph is attached, for operational visibility (SPEC_FULL.md §6
// supplement). It carries no node or edge count.
type Stats struct {
	Vectors  hnsw.Stats
	WALPos   int64
	HasGraph bool
}

func (c *Collection) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{WALPos: c.wal.Position(), HasGraph: c.graph != nil}
	if c.vectors != nil {
		st.Vectors = c.vectors.Stats()
	}
	return st
}
