package collection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/velesdb/veles/pkg/hnsw"
)

// UpsertPoint writes one point's row, optional vector, and optional text
// field through the WAL before applying it to the column store, HNSW
// index, label index, and text index, in that order — the same
// WAL-then-apply discipline the teacher's store_crud.go follows so a crash
// between the two leaves recovery, not the live collection, responsible
// for catching up.
func (c *Collection) UpsertPoint(ctx context.Context, id uint64, row map[string]any, vector []float32, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if vector != nil {
		if err := c.ensureDimensionLocked(len(vector)); err != nil {
			return err
		}
	}

	rec := pointRecord{Row: row, Vector: vector, Text: text}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("collection: encode point record: %w", err)
	}
	if err := c.wal.Store(id, payload); err != nil {
		return fmt.Errorf("collection: wal store: %w", err)
	}
	return c.applyUpsert(ctx, id, rec)
}

// ensureDimensionLocked resolves the index's dimension from the first
// inserted vector when the collection was opened with Dimension == 0
// (SPEC_FULL.md §6 "dimension auto-adaptation"), and locks it thereafter.
func (c *Collection) ensureDimensionLocked(dim int) error {
	if c.dimLocked {
		if dim != c.dim {
			return hnsw.ErrDimensionMismatch
		}
		return nil
	}
	idx, err := hnsw.New(c.cfg.HNSW.toHNSW(dim, c.cfg.Metric))
	if err != nil {
		return fmt.Errorf("collection: adapt dimension to %d: %w", dim, err)
	}
	c.vectors = idx
	c.dim = dim
	c.dimLocked = true
	return nil
}

// applyUpsert performs the actual write into the column store, HNSW index,
// label index, and text index, without touching the WAL. Used both by
// UpsertPoint (after the WAL append succeeds) and by recovery (replaying
// an already-durable WAL entry).
func (c *Collection) applyUpsert(ctx context.Context, id uint64, rec pointRecord) error {
	row := rec.Row
	if row == nil {
		row = map[string]any{}
	}
	row[c.cfg.Schema.PrimaryKey] = id
	if err := c.rows.Upsert(ctx, row, nil); err != nil {
		return fmt.Errorf("collection: upsert row: %w", err)
	}

	if rec.Vector != nil {
		if c.vectors == nil {
			if err := c.ensureDimensionLocked(len(rec.Vector)); err != nil {
				return err
			}
		}
		// Insert fails with ErrAlreadyExists on a re-upsert of a live id;
		// delete-then-reinsert keeps replays and live re-upserts uniform.
		_ = c.vectors.Delete(id)
		if err := c.vectors.Insert(id, rec.Vector); err != nil {
			return fmt.Errorf("collection: insert vector: %w", err)
		}
	}

	if c.cfg.LabelField != "" {
		if label, ok := row[c.cfg.LabelField].(string); ok && label != "" {
			c.indexLabel(label, id)
		}
	}

	if rec.Text != "" && c.cfg.TextField != "" {
		c.text.Index(pkKey(id), rec.Text)
	}
	return nil
}

func (c *Collection) indexLabel(label string, id uint64) {
	ids := c.labels[label]
	for _, existing := range ids {
		if existing == id {
			return
		}
	}
	c.labels[label] = append(ids, id)
}

// Delete removes a point from every store it participates in, WAL-first.
func (c *Collection) Delete(ctx context.Context, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.wal.Delete(id); err != nil {
		return fmt.Errorf("collection: wal delete: %w", err)
	}
	return c.applyDelete(ctx, id)
}

func (c *Collection) applyDelete(ctx context.Context, id uint64) error {
	if err := c.rows.Delete(ctx, id); err != nil {
		return fmt.Errorf("collection: delete row: %w", err)
	}
	if c.vectors != nil {
		_ = c.vectors.Delete(id) // absent vectors are a no-op, not an error, for graph-only points
	}
	for label, ids := range c.labels {
		for i, existing := range ids {
			if existing == id {
				c.labels[label] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
	c.text.Remove(pkKey(id))
	return nil
}

// UpsertEdge records a directed, labeled edge between two point ids,
// through the graph store directly: edges are not WAL-logged per point
// since AddEdge/RemoveEdge already hold their own invariants and
// VelesDB's durability contract (spec §4.3) is scoped to point payloads.
func (c *Collection) UpsertEdge(src, dst uint64, label string, props map[string]any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.AddEdge(src, dst, label, props)
}

func pkKey(id uint64) string { return fmt.Sprintf("%d", id) }
