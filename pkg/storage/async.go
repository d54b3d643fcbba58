package storage

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// SnapshotFunc produces the opaque payload a Collection wants captured in a
// snapshot at the given WAL position (spec §5: snapshotting runs on a
// background worker so it never blocks the write path).
type SnapshotFunc func() (payload []byte, err error)

// AsyncSnapshotter runs snapshot-and-compact cycles off the write path,
// grounded on the teacher's pattern of wrapping blocking storage calls in a
// worker pool rather than blocking callers, generalized here to
// golang.org/x/sync/errgroup so a failed snapshot attempt is reported back
// through Wait() instead of silently dropped.
type AsyncSnapshotter struct {
	wal          *WAL
	snapshotPath string
	compress     bool
	build        SnapshotFunc

	group *errgroup.Group
	ctx   context.Context
}

// NewAsyncSnapshotter wires a WAL to a snapshot destination and the
// caller-supplied state builder. ctx is the parent of the errgroup's
// context; Trigger does not check it, so cancelling ctx neither stops new
// snapshot attempts from being spawned nor interrupts ones in flight.
func NewAsyncSnapshotter(ctx context.Context, wal *WAL, snapshotPath string, compress bool, build SnapshotFunc) *AsyncSnapshotter {
	group, gctx := errgroup.WithContext(ctx)
	return &AsyncSnapshotter{
		wal:          wal,
		snapshotPath: snapshotPath,
		compress:     compress,
		build:        build,
		group:        group,
		ctx:          gctx,
	}
}

// TriggerIfNeeded spawns a snapshot attempt only if the WAL has grown past
// its configured threshold since the last one (spec §4.3's size-based
// snapshot policy). It returns immediately; call Wait to observe errors.
func (a *AsyncSnapshotter) TriggerIfNeeded() {
	if !a.wal.SnapshotIfNeeded() {
		return
	}
	a.Trigger()
}

// Trigger unconditionally spawns one snapshot attempt.
func (a *AsyncSnapshotter) Trigger() {
	position := uint64(a.wal.Position())
	a.group.Go(func() error {
		payload, err := a.build()
		if err != nil {
			return fmt.Errorf("storage: build snapshot payload: %w", err)
		}
		if err := WriteSnapshotFile(a.snapshotPath, Snapshot{Position: position, Payload: payload}, a.compress); err != nil {
			return fmt.Errorf("storage: write snapshot: %w", err)
		}
		a.wal.MarkSnapshotted()
		return nil
	})
}

// Wait blocks until every spawned snapshot attempt has finished, returning
// the first error encountered (if any). Safe to call from a Collection's
// Close path to make shutdown deterministic instead of racing a detached
// background write.
func (a *AsyncSnapshotter) Wait() error {
	return a.group.Wait()
}
