package storage

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func openTestWAL(t *testing.T, dir string) *WAL {
	t.Helper()
	w, err := Open(filepath.Join(dir, "test.wal"), 1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func payloadFor(id uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, id*7+1)
	return buf
}

// TestStoreFlushRecover implements spec §8 item 4: store N points, flush,
// recover into a fresh empty state, and all N must be retrievable with
// byte-identical payloads.
func TestStoreFlushRecover(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)

	for id := uint64(1); id <= 20; id++ {
		if err := w.Store(id, payloadFor(id)); err != nil {
			t.Fatalf("Store(%d): %v", id, err)
		}
	}

	recovered := make(map[uint64][]byte)
	result, err := Recover(filepath.Join(dir, "test.wal"), filepath.Join(dir, "test.snap"), nil,
		func(marker Marker, id uint64, payload []byte) error {
			if marker == MarkerStore {
				cp := make([]byte, len(payload))
				copy(cp, payload)
				recovered[id] = cp
			} else {
				delete(recovered, id)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if result.EntriesReplayed != 20 {
		t.Fatalf("EntriesReplayed = %d, want 20", result.EntriesReplayed)
	}
	if result.TruncatedTail {
		t.Fatalf("unexpected truncated tail on a clean log")
	}

	for id := uint64(1); id <= 20; id++ {
		got, ok := recovered[id]
		if !ok {
			t.Fatalf("id %d missing after recovery", id)
		}
		want := payloadFor(id)
		if string(got) != string(want) {
			t.Fatalf("id %d payload mismatch: got %x want %x", id, got, want)
		}
	}
}

// TestDeleteFlushRecover implements spec §8 item 4's delete counterpart: a
// tombstoned id must be absent after recovery even though its STORE entry
// is still physically present earlier in the log.
func TestDeleteFlushRecover(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)

	for id := uint64(1); id <= 5; id++ {
		if err := w.Store(id, payloadFor(id)); err != nil {
			t.Fatalf("Store(%d): %v", id, err)
		}
	}
	if err := w.Delete(3); err != nil {
		t.Fatalf("Delete(3): %v", err)
	}

	recovered := make(map[uint64]bool)
	_, err := Recover(filepath.Join(dir, "test.wal"), filepath.Join(dir, "test.snap"), nil,
		func(marker Marker, id uint64, payload []byte) error {
			recovered[id] = marker == MarkerStore
			return nil
		})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if live, ok := recovered[3]; !ok || live {
		t.Fatalf("id 3 should be tombstoned after recovery, state=%v present=%v", live, ok)
	}
	for _, id := range []uint64{1, 2, 4, 5} {
		if live, ok := recovered[uint64(id)]; !ok || !live {
			t.Fatalf("id %d should be live after recovery", id)
		}
	}
}

// TestRecoverSurvivesSingleByteCorruption implements spec §8 item 5 and the
// literal E6 scenario: flip one byte inside an entry's payload partway
// through the log, recover, and expect everything before the corrupt entry
// intact and nothing after it replayed — no panic, no error.
func TestRecoverSurvivesSingleByteCorruption(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "test.wal")
	w := openTestWAL(t, dir)

	const total = 100
	const corruptAt = 50
	for id := uint64(1); id <= total; id++ {
		if err := w.Store(id, payloadFor(id)); err != nil {
			t.Fatalf("Store(%d): %v", id, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen below via a fresh WAL handle isn't needed for this corruption
	// test; we corrupt the file directly on disk.
	f, err := os.OpenFile(walPath, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	// Each entry is entryHeaderSize(17) + 8-byte payload = 25 bytes.
	const entrySize = entryHeaderSize + 8
	corruptOffset := int64((corruptAt-1)*entrySize + entryHeaderSize) // first payload byte of entry 50
	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, corruptOffset); err != nil {
		t.Fatalf("read byte to corrupt: %v", err)
	}
	buf[0] ^= 0xFF
	if _, err := f.WriteAt(buf, corruptOffset); err != nil {
		t.Fatalf("write corrupted byte: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close corrupted file: %v", err)
	}

	recovered := make(map[uint64]bool)
	result, err := Recover(walPath, filepath.Join(dir, "test.snap"), nil,
		func(marker Marker, id uint64, payload []byte) error {
			recovered[id] = true
			return nil
		})
	if err != nil {
		t.Fatalf("Recover must not error on a corrupt tail, got: %v", err)
	}
	if !result.TruncatedTail {
		t.Fatalf("expected TruncatedTail=true")
	}
	for id := uint64(1); id < corruptAt; id++ {
		if !recovered[id] {
			t.Fatalf("id %d should have survived recovery (before corruption point)", id)
		}
	}
	for id := uint64(corruptAt); id <= total; id++ {
		if recovered[id] {
			t.Fatalf("id %d should NOT be present: it is at or after the corrupted entry", id)
		}
	}
}

// TestRecoverIdempotent implements spec §8 item 4: recovering the same log
// twice must produce identical results.
func TestRecoverIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)
	for id := uint64(1); id <= 30; id++ {
		if err := w.Store(id, payloadFor(id)); err != nil {
			t.Fatalf("Store(%d): %v", id, err)
		}
	}

	run := func() map[uint64][]byte {
		recovered := make(map[uint64][]byte)
		_, err := Recover(filepath.Join(dir, "test.wal"), filepath.Join(dir, "test.snap"), nil,
			func(marker Marker, id uint64, payload []byte) error {
				cp := make([]byte, len(payload))
				copy(cp, payload)
				recovered[id] = cp
				return nil
			})
		if err != nil {
			t.Fatalf("Recover: %v", err)
		}
		return recovered
	}

	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("non-idempotent recovery: %d vs %d entries", len(first), len(second))
	}
	for id, payload := range first {
		if string(second[id]) != string(payload) {
			t.Fatalf("non-idempotent recovery for id %d", id)
		}
	}
}

// TestSnapshotRoundTrip verifies the snapshot framing itself: magic,
// version, position, and payload integrity survive a file round trip.
func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.bin")
	payload := []byte("velesdb snapshot payload contents")

	if err := WriteSnapshotFile(path, Snapshot{Position: 4096, Payload: payload}, false); err != nil {
		t.Fatalf("WriteSnapshotFile: %v", err)
	}

	snap, ok, err := ReadSnapshotFile(path)
	if err != nil {
		t.Fatalf("ReadSnapshotFile: %v", err)
	}
	if !ok {
		t.Fatalf("expected snapshot to be found")
	}
	if snap.Position != 4096 {
		t.Fatalf("Position = %d, want 4096", snap.Position)
	}
	if string(snap.Payload) != string(payload) {
		t.Fatalf("payload mismatch: got %q want %q", snap.Payload, payload)
	}
}

// TestSnapshotCompressedRoundTrip exercises the zstd-compressed path.
func TestSnapshotCompressedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.bin")
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	if err := WriteSnapshotFile(path, Snapshot{Position: 10, Payload: payload}, true); err != nil {
		t.Fatalf("WriteSnapshotFile: %v", err)
	}
	snap, ok, err := ReadSnapshotFile(path)
	if err != nil {
		t.Fatalf("ReadSnapshotFile: %v", err)
	}
	if !ok {
		t.Fatalf("expected snapshot to be found")
	}
	if string(snap.Payload) != string(payload) {
		t.Fatalf("decompressed payload mismatch")
	}
}

// TestSnapshotMissingIsNotError covers the "no snapshot yet" bootstrap path.
func TestSnapshotMissingIsNotError(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := ReadSnapshotFile(filepath.Join(dir, "does-not-exist.snap"))
	if err != nil {
		t.Fatalf("missing snapshot should not error, got: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for a missing snapshot")
	}
}

// TestAsyncSnapshotterTriggersAndRecovers exercises the background
// snapshot-then-mark-clean cycle end to end.
func TestAsyncSnapshotterTriggersAndRecovers(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)
	for id := uint64(1); id <= 10; id++ {
		if err := w.Store(id, payloadFor(id)); err != nil {
			t.Fatalf("Store(%d): %v", id, err)
		}
	}

	snapPath := filepath.Join(dir, "test.snap")
	snapshotter := NewAsyncSnapshotter(context.Background(), w, snapPath, false, func() ([]byte, error) {
		return []byte("collection-state-digest"), nil
	})
	snapshotter.Trigger()
	if err := snapshotter.Wait(); err != nil {
		t.Fatalf("snapshotter.Wait: %v", err)
	}

	snap, ok, err := ReadSnapshotFile(snapPath)
	if err != nil || !ok {
		t.Fatalf("expected snapshot written, ok=%v err=%v", ok, err)
	}
	if string(snap.Payload) != "collection-state-digest" {
		t.Fatalf("unexpected snapshot payload: %q", snap.Payload)
	}
	if w.SnapshotIfNeeded() {
		t.Fatalf("SnapshotIfNeeded should be false immediately after a snapshot")
	}
}

// TestCorruptDataErrorMessage ensures the exported error type carries the
// fields spec §6's CorruptData kind needs for diagnostics.
func TestCorruptDataErrorMessage(t *testing.T) {
	err := &CorruptDataError{Offset: 128, Expected: 0xdead, Actual: 0xbeef}
	msg := err.Error()
	if msg == "" {
		t.Fatalf("expected non-empty error message")
	}
}
