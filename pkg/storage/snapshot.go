package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// snapshotMagic is the fixed 4-byte header identifying a VelesDB snapshot
// file, per spec §3: `[magic "VELS"(4)][version u8][metadata…][crc32 u32]`.
var snapshotMagic = [4]byte{'V', 'E', 'L', 'S'}

const snapshotVersion uint8 = 1

// Snapshot pairs a WAL position with a payload that is opaque to this
// package: Payload is whatever bytes the caller's SnapshotFunc produced.
// pkg/collection does not write snapshots.
type Snapshot struct {
	Position uint64
	Payload  []byte
}

// WriteSnapshot writes magic, version, the WAL position, an optionally
// zstd-compressed payload, and a trailing CRC32 over everything preceding
// it (so a torn write during the snapshot itself is detectable at load
// time, mirroring the WAL's own per-entry CRC discipline).
func WriteSnapshot(w io.Writer, snap Snapshot, compress bool) error {
	var body bytes.Buffer
	body.Write(snapshotMagic[:])
	body.WriteByte(snapshotVersion)

	flags := byte(0)
	if compress {
		flags = 1
	}
	body.WriteByte(flags)

	var posBuf [8]byte
	binary.LittleEndian.PutUint64(posBuf[:], snap.Position)
	body.Write(posBuf[:])

	payload := snap.Payload
	if compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("storage: create zstd encoder: %w", err)
		}
		payload = enc.EncodeAll(snap.Payload, nil)
		_ = enc.Close()
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	body.Write(lenBuf[:])
	body.Write(payload)

	crc := crc32.ChecksumIEEE(body.Bytes())
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc)

	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("storage: write snapshot body: %w", err)
	}
	if _, err := w.Write(crcBuf[:]); err != nil {
		return fmt.Errorf("storage: write snapshot crc: %w", err)
	}
	return nil
}

// ReadSnapshot parses and CRC-verifies a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("storage: read snapshot: %w", err)
	}
	if len(data) < 4+1+1+8+4+4 {
		return Snapshot{}, fmt.Errorf("storage: snapshot truncated")
	}

	if !bytes.Equal(data[0:4], snapshotMagic[:]) {
		return Snapshot{}, fmt.Errorf("storage: bad snapshot magic %q", data[0:4])
	}
	version := data[4]
	if version != snapshotVersion {
		return Snapshot{}, fmt.Errorf("storage: unsupported snapshot version %d", version)
	}
	compressed := data[5] == 1

	body := data[:len(data)-4]
	trailerCRC := binary.LittleEndian.Uint32(data[len(data)-4:])
	actualCRC := crc32.ChecksumIEEE(body)
	if actualCRC != trailerCRC {
		return Snapshot{}, &CorruptDataError{Offset: 0, Expected: trailerCRC, Actual: actualCRC}
	}

	position := binary.LittleEndian.Uint64(data[6:14])
	payloadLen := binary.LittleEndian.Uint32(data[14:18])
	if int(18+payloadLen) > len(body) {
		return Snapshot{}, fmt.Errorf("storage: snapshot payload length exceeds body")
	}
	payload := data[18 : 18+payloadLen]

	if compressed {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return Snapshot{}, fmt.Errorf("storage: create zstd decoder: %w", err)
		}
		defer dec.Close()
		decompressed, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return Snapshot{}, fmt.Errorf("storage: decompress snapshot payload: %w", err)
		}
		payload = decompressed
	}

	return Snapshot{Position: position, Payload: payload}, nil
}

// WriteSnapshotFile atomically replaces the snapshot file at path: it
// writes to a temp file in the same directory and renames over the
// destination, so a reader never observes a partially written snapshot.
func WriteSnapshotFile(path string, snap Snapshot, compress bool) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("storage: create snapshot temp file: %w", err)
	}
	if err := WriteSnapshot(f, snap, compress); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: sync snapshot temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: close snapshot temp file: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadSnapshotFile loads and verifies the snapshot at path. A missing file
// is not an error: it reports (Snapshot{}, false, nil) so Recover can fall
// back to replaying the WAL from the beginning.
func ReadSnapshotFile(path string) (Snapshot, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("storage: open snapshot: %w", err)
	}
	defer f.Close()

	snap, err := ReadSnapshot(f)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}
