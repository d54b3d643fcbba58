// Package storage implements the Log-Payload Storage described in spec §4.3:
// an append-only, CRC32-protected write-ahead log backed by periodic
// snapshots, with lock-free tracking of the current WAL position.
//
// Grounded on the teacher's internal/encoding binary-framing idiom
// (little-endian length-prefixed records, see internal/encoding/utils.go)
// and on nornicdb's pkg/storage/wal.go (sequence counter, CRC32 checksum
// field, snapshot/recovery split) from the wider retrieval pack — VelesDB's
// own WAL is a from-scratch binary-framed log rather than nornicdb's
// JSON-per-line format, because spec §3 fixes an exact binary entry layout.
//
// On-disk integers are little-endian throughout (chosen per spec §9 Open
// Question: "pick one and document it").
package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
)

// Marker identifies the kind of mutation a WAL entry records.
type Marker uint8

const (
	MarkerStore  Marker = 1
	MarkerDelete Marker = 2
)

// entryHeaderSize is the fixed-size prefix of every WAL entry:
// [marker u8][id u64][len u32][crc32 u32].
const entryHeaderSize = 1 + 8 + 4 + 4

// CorruptDataError reports a CRC mismatch found while reading back an entry
// (spec §6 CorruptData, §8 item 5).
type CorruptDataError struct {
	Offset   int64
	Expected uint32
	Actual   uint32
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("storage: corrupt data at offset %d: expected crc32 %#x, got %#x", e.Offset, e.Expected, e.Actual)
}

// WAL is an append-only, CRC32-checked log of STORE/DELETE mutations for a
// single collection's point payloads. Concurrent readers may call Retrieve
// freely; appends are serialized by mu (spec §5 "WAL append: exclusive
// lock"). The snapshot-decision position is a separate atomic counter that
// needs no lock.
type WAL struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	lock   *flock.Flock // advisory file lock; released on Close (RAII, spec §9)

	position atomic.Int64 // current end-of-log byte offset, read lock-free by SnapshotIfNeeded

	// offsets indexes id -> the byte offset of its most recent STORE entry,
	// maintained incrementally by Store/Delete on this handle. Open starts
	// it empty and Recover does not fill it, so Retrieve finds only entries
	// appended since Open.
	mu2     sync.RWMutex
	offsets map[uint64]int64
	deleted map[uint64]bool

	snapshotThreshold int64
	lastSnapshotPos   int64
}

// Open opens (creating if absent) the WAL file at path.
func Open(path string, snapshotThreshold int64) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open wal: %w", err)
	}

	fl := flock.New(path + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("storage: lock wal: %w", err)
	}
	if !locked {
		_ = f.Close()
		return nil, fmt.Errorf("storage: wal %s is already locked by another process", path)
	}

	w := &WAL{
		file:              f,
		writer:            bufio.NewWriter(f),
		lock:              fl,
		offsets:           make(map[uint64]int64),
		deleted:           make(map[uint64]bool),
		snapshotThreshold: snapshotThreshold,
	}

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		_ = fl.Unlock()
		return nil, fmt.Errorf("storage: seek wal: %w", err)
	}
	w.position.Store(size)

	return w, nil
}

// Close flushes pending writes and releases the scoped file resources
// (file handle and advisory lock), matching the RAII discipline spec §9
// requires of WAL handles.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	flushErr := w.writer.Flush()
	closeErr := w.file.Close()
	unlockErr := w.lock.Unlock()

	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return closeErr
	}
	return unlockErr
}

// Position returns the current end-of-log byte offset. Safe to call
// concurrently with Store/Delete; it is read directly from the atomic
// counter maintained by appends (spec §4.3 "AtomicU64 tracks current WAL
// position").
func (w *WAL) Position() int64 {
	return w.position.Load()
}

// encodeEntry serializes one WAL entry: [marker][id][len][crc32][payload].
func encodeEntry(marker Marker, id uint64, payload []byte) []byte {
	buf := make([]byte, entryHeaderSize+len(payload))
	buf[0] = byte(marker)
	binary.LittleEndian.PutUint64(buf[1:9], id)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(payload)))
	crc := crc32.ChecksumIEEE(payload)
	binary.LittleEndian.PutUint32(buf[13:17], crc)
	copy(buf[entryHeaderSize:], payload)
	return buf
}

// Store appends a STORE entry for id with the given payload and flushes
// immediately, so a subsequent crash cannot lose it (single-entry path; for
// N entries, prefer StoreBatch to amortize the flush).
func (w *WAL) Store(id uint64, payload []byte) error {
	if err := w.appendLocked(MarkerStore, id, payload); err != nil {
		return err
	}
	return w.Flush()
}

// Delete appends a DELETE (tombstone) entry for id and flushes immediately.
func (w *WAL) Delete(id uint64) error {
	if err := w.appendLocked(MarkerDelete, id, nil); err != nil {
		return err
	}
	return w.Flush()
}

// Pair is one (id, payload) to append via StoreBatch.
type Pair struct {
	ID      uint64
	Payload []byte
}

// StoreBatch appends N STORE entries and issues a single Flush, reducing N
// I/O syscalls to one (spec §4.3).
func (w *WAL) StoreBatch(pairs []Pair) error {
	for _, p := range pairs {
		if err := w.appendLocked(MarkerStore, p.ID, p.Payload); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (w *WAL) appendLocked(marker Marker, id uint64, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	offset := w.position.Load()
	entry := encodeEntry(marker, id, payload)
	n, err := w.writer.Write(entry)
	if err != nil {
		return fmt.Errorf("storage: append wal entry: %w", err)
	}
	w.position.Add(int64(n))

	w.mu2.Lock()
	if marker == MarkerStore {
		w.offsets[id] = offset
		delete(w.deleted, id)
	} else {
		w.deleted[id] = true
		delete(w.offsets, id)
	}
	w.mu2.Unlock()

	return nil
}

// Flush forces buffered writes and the underlying file to stable storage.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("storage: flush wal: %w", err)
	}
	return w.file.Sync()
}

// Retrieve reads the STORE entry currently indexed for id and verifies its
// CRC32. Returns (nil, false, nil) if id is absent or tombstoned.
func (w *WAL) Retrieve(id uint64) ([]byte, bool, error) {
	w.mu2.RLock()
	offset, ok := w.offsets[id]
	w.mu2.RUnlock()
	if !ok {
		return nil, false, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return nil, false, err
	}

	header := make([]byte, entryHeaderSize)
	if _, err := w.file.ReadAt(header, offset); err != nil {
		return nil, false, fmt.Errorf("storage: read wal header at %d: %w", offset, err)
	}
	payloadLen := binary.LittleEndian.Uint32(header[9:13])
	expectedCRC := binary.LittleEndian.Uint32(header[13:17])

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := w.file.ReadAt(payload, offset+entryHeaderSize); err != nil {
			return nil, false, fmt.Errorf("storage: read wal payload at %d: %w", offset, err)
		}
	}

	actualCRC := crc32.ChecksumIEEE(payload)
	if actualCRC != expectedCRC {
		return nil, false, &CorruptDataError{Offset: offset, Expected: expectedCRC, Actual: actualCRC}
	}

	return payload, true, nil
}

// SnapshotIfNeeded reads the current position lock-free and reports whether
// the delta since the last snapshot exceeds the configured threshold. It
// does not perform the snapshot itself — callers (typically the owning
// Collection via the async wrapper in async.go) do that and then call
// MarkSnapshotted.
func (w *WAL) SnapshotIfNeeded() bool {
	pos := w.position.Load()
	return pos-w.lastSnapshotPos > w.snapshotThreshold
}

// MarkSnapshotted records that a snapshot has been taken at the WAL's
// current position, resetting the delta SnapshotIfNeeded tracks.
func (w *WAL) MarkSnapshotted() int64 {
	pos := w.position.Load()
	w.lastSnapshotPos = pos
	return pos
}
