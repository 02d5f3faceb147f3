package wal

import (
	"encoding/binary"

	"relsql/internal/dbtypes"
	"relsql/internal/errs"
)

// checkpointMagic tags a CHECKPOINT record's after-image so it can be
// told apart from a data payload on read.
var checkpointMagic = [4]byte{'C', 'K', 'P', 'T'}

const checkpointVersion = 1

// CheckpointMeta is the payload embedded in a CHECKPOINT record's
// after-image.
type CheckpointMeta struct {
	Version       uint32
	CheckpointLSN uint64
	UnixSeconds   uint64
}

// EncodeCheckpoint builds the after-image bytes for a CHECKPOINT record.
func EncodeCheckpoint(meta CheckpointMeta) []byte {
	buf := make([]byte, 0, 4+4+8+8)
	buf = append(buf, checkpointMagic[:]...)
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], checkpointVersion)
	buf = append(buf, u32[:]...)
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], meta.CheckpointLSN)
	buf = append(buf, u64[:]...)
	binary.LittleEndian.PutUint64(u64[:], meta.UnixSeconds)
	buf = append(buf, u64[:]...)
	return buf
}

// DecodeCheckpoint parses the after-image of a CHECKPOINT record.
func DecodeCheckpoint(after []byte) (CheckpointMeta, error) {
	if len(after) < 4+4+8+8 {
		return CheckpointMeta{}, errs.New(errs.Corruption, "truncated checkpoint record")
	}
	if after[0] != checkpointMagic[0] || after[1] != checkpointMagic[1] ||
		after[2] != checkpointMagic[2] || after[3] != checkpointMagic[3] {
		return CheckpointMeta{}, errs.New(errs.Corruption, "bad checkpoint magic")
	}
	off := 4
	version := binary.LittleEndian.Uint32(after[off:])
	off += 4
	lsn := binary.LittleEndian.Uint64(after[off:])
	off += 8
	sec := binary.LittleEndian.Uint64(after[off:])
	return CheckpointMeta{Version: version, CheckpointLSN: lsn, UnixSeconds: sec}, nil
}

// Checkpoint appends a CHECKPOINT record bounding recovery's replay start
// at the current LSN, flushes it, then truncates the WAL with a backup.
func (m *Manager) Checkpoint(nowUnix int64) (uint64, error) {
	lsn, err := m.Append(dbtypes.LogRecord{
		Type: dbtypes.LogCheckpoint,
		After: EncodeCheckpoint(CheckpointMeta{
			Version:     checkpointVersion,
			UnixSeconds: uint64(nowUnix),
		}),
	})
	if err != nil {
		return 0, err
	}
	// The checkpoint_lsn embedded in the payload is this record's own LSN:
	// recovery need not replay anything before it.
	meta := CheckpointMeta{Version: checkpointVersion, CheckpointLSN: lsn, UnixSeconds: uint64(nowUnix)}
	if err := m.rewriteCheckpointPayload(lsn, meta); err != nil {
		return 0, err
	}
	if err := m.Flush(lsn); err != nil {
		return 0, err
	}
	if err := m.TruncateWithBackup(); err != nil {
		return 0, err
	}
	return lsn, nil
}

// rewriteCheckpointPayload patches the just-appended checkpoint record's
// cached copy so GetRecord and a same-process ReadAll see the final
// checkpoint_lsn; the on-disk bytes are superseded immediately afterward
// by TruncateWithBackup, so they are not patched in place.
func (m *Manager) rewriteCheckpointPayload(lsn uint64, meta CheckpointMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.cache[lsn]
	if !ok {
		return errs.New(errs.IoError, "checkpoint record %d missing from cache", lsn)
	}
	rec.After = EncodeCheckpoint(meta)
	m.cache[lsn] = rec
	return nil
}
