package wfs

import (
	"github.com/google/renameio"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// CompactOptions controls optional behavior of Compact.
type CompactOptions struct {
	// BackupPath, if non-empty, receives a gzip-compressed copy of the
	// pre-compaction image, written atomically before the image itself
	// is rewritten.
	BackupPath string
}

// Compact rewrites the image at path so that only the latest live entry
// per inode remains, preserving inode numbers and payload bytes exactly
// (spec §4.4). It requires exclusive access to the image: no mount
// server or other compactor may have it open concurrently (§5).
//
// Unlike the reference implementation's in-place memcpy swap, the
// rewritten image is written to a temporary file on the same filesystem
// and renamed atomically over the original, so a crash mid-write leaves
// the original image intact rather than half-overwritten. This is
// permitted by §9's note that callers may arrange their own atomicity;
// it does not change the pre/post-compaction semantics §8 tests for.
func Compact(path string, opts CompactOptions) error {
	sess, err := Open(path)
	if err != nil {
		return xerrors.Errorf("open %s: %w", path, err)
	}
	defer sess.Close()

	sess.mu.Lock()
	data := sess.data
	size := sess.size
	sb := decodeSuperblock(data[:SuperblockSize])
	sess.mu.Unlock()

	if sb.Magic != Magic {
		return xerrors.Errorf("compact %s: bad magic", path)
	}

	if opts.BackupPath != "" {
		if err := writeCompressedBackup(opts.BackupPath, data); err != nil {
			return xerrors.Errorf("backup: %w", err)
		}
	}

	maxInode, anyInode := maxInodeLocked(data, sb.Head)
	if !anyInode {
		maxInode = 0
	}

	// Read-only scan phase: find the latest live entry for every inode
	// number in parallel. No mutation can happen concurrently with an
	// exclusive compaction pass, so the scans below are safe to race
	// against each other.
	latest := make([]*entry, maxInode+1)
	var eg errgroup.Group
	for i := uint32(0); i <= maxInode; i++ {
		i := i
		eg.Go(func() error {
			if e, ok := latestLocked(data, sb.Head, i); ok {
				latest[i] = &e
			}
			return nil
		})
	}
	eg.Wait() // scans never fail

	out := make([]byte, size)
	copy(out[:SuperblockSize], encodeSuperblock(Superblock{Magic: sb.Magic, Head: SuperblockSize}))

	// Sequential write phase, strictly ascending by inode number so the
	// compacted layout is stable and the root directory appears first
	// (§4.4's rationale). Old inode numbers are preserved verbatim.
	head := int64(SuperblockSize)
	for i := uint32(0); i <= maxInode; i++ {
		e := latest[i]
		if e == nil {
			continue
		}
		n := InodeRecordSize + int64(len(e.payload))
		copy(out[head:head+InodeRecordSize], encodeInodeRecord(e.record))
		copy(out[head+InodeRecordSize:head+n], e.payload)
		head += n
	}
	byteOrder.PutUint64(out[8:16], uint64(head))

	return atomicReplaceImage(path, out)
}

// atomicReplaceImage writes data to a temp file on path's filesystem and renames
// it over path, so readers never observe a partially written image.
func atomicReplaceImage(path string, data []byte) error {
	f, err := renameio.TempFile("", path)
	if err != nil {
		return xerrors.Errorf("tempfile: %w", err)
	}
	defer f.Cleanup()
	if _, err := f.Write(data); err != nil {
		return xerrors.Errorf("write: %w", err)
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return xerrors.Errorf("replace: %w", err)
	}
	return nil
}

// writeCompressedBackup atomically writes a gzip-compressed copy of data
// to path, for operators who want a pre-compaction safety net.
func writeCompressedBackup(path string, data []byte) error {
	f, err := renameio.TempFile("", path)
	if err != nil {
		return xerrors.Errorf("tempfile: %w", err)
	}
	defer f.Cleanup()
	zw := pgzip.NewWriter(f)
	if _, err := zw.Write(data); err != nil {
		return xerrors.Errorf("write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return xerrors.Errorf("close: %w", err)
	}
	return f.CloseAtomicallyReplace()
}
