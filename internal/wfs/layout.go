// Package wfs implements the on-disk layout and scan primitives of the
// log-structured filesystem image: a fixed-size backing file holding a
// superblock followed by an append-only log of inode records and their
// payloads. All three entry points (mkfs, mount, fsck) share this package.
package wfs

import (
	"bytes"
	"encoding/binary"
)

// Magic identifies an initialized wfs image. It never changes across
// versions of this format.
const Magic uint32 = 0x77667331 // "wfs1" as big-endian ASCII; stored little-endian as "1sfw"

// MaxFileNameLen and MaxPathNameLen bound directory entry names and full
// paths respectively. Names longer than MaxFileNameLen-1 are silently
// truncated, matching the behavior of the original implementation.
const (
	MaxFileNameLen = 32
	MaxPathNameLen = 128
)

// Mode bits recorded on an inode. Only regular files and directories are
// representable; there is no symlink, device, or fifo mode.
const (
	ModeRegular   uint32 = 0100000
	ModeDirectory uint32 = 0040000
	modeTypeMask  uint32 = 0170000
)

// Superblock is the fixed-size prefix of every wfs image.
type Superblock struct {
	Magic uint32
	_     uint32 // padding so Head begins on an 8-byte boundary
	Head  uint64
}

// SuperblockSize is the on-disk size of Superblock.
const SuperblockSize = 16

// InodeRecord is the fixed-width header of one log entry. It is followed
// immediately in the log by Size bytes of payload (a dentry array for
// directories, opaque bytes for regular files).
type InodeRecord struct {
	InodeNumber uint32
	Deleted     uint32
	Mode        uint32
	UID         uint32
	GID         uint32
	Flags       uint32
	Size        uint32
	_           uint32 // alignment padding before the 8-byte-aligned timestamps
	Atime       int64
	Mtime       int64
	Ctime       int64
	Links       uint32
	_           uint32 // trailing alignment padding
}

// InodeRecordSize is the on-disk size of InodeRecord.
const InodeRecordSize = 64

// IsDeleted reports whether the entry is tombstoned.
func (r *InodeRecord) IsDeleted() bool { return r.Deleted != 0 }

// IsDir reports whether the entry's mode names a directory.
func (r *InodeRecord) IsDir() bool { return r.Mode&modeTypeMask == ModeDirectory }

// Dentry is one fixed-width name/inode pair inside a directory's payload.
type Dentry struct {
	Name        [MaxFileNameLen]byte
	InodeNumber uint64
}

// DentrySize is the on-disk size of Dentry.
const DentrySize = MaxFileNameLen + 8

var byteOrder = binary.LittleEndian

func encodeSuperblock(sb Superblock) []byte {
	var buf bytes.Buffer
	buf.Grow(SuperblockSize)
	_ = binary.Write(&buf, byteOrder, sb)
	return buf.Bytes()
}

func decodeSuperblock(b []byte) Superblock {
	var sb Superblock
	_ = binary.Read(bytes.NewReader(b), byteOrder, &sb)
	return sb
}

func encodeInodeRecord(r InodeRecord) []byte {
	var buf bytes.Buffer
	buf.Grow(InodeRecordSize)
	_ = binary.Write(&buf, byteOrder, r)
	return buf.Bytes()
}

func decodeInodeRecord(b []byte) InodeRecord {
	var r InodeRecord
	_ = binary.Read(bytes.NewReader(b), byteOrder, &r)
	return r
}

// dentryName returns the name field trimmed of its zero padding.
func dentryName(d Dentry) string {
	n := bytes.IndexByte(d.Name[:], 0)
	if n < 0 {
		n = len(d.Name)
	}
	return string(d.Name[:n])
}

// newDentryName copies name into a zero-padded fixed-width field,
// truncating to MaxFileNameLen-1 bytes. Truncation is silent, matching
// the documented behavior of name-too-long.
func newDentryName(name string) [MaxFileNameLen]byte {
	var out [MaxFileNameLen]byte
	if len(name) > MaxFileNameLen-1 {
		name = name[:MaxFileNameLen-1]
	}
	copy(out[:], name)
	return out
}

func decodeDentries(payload []byte) []Dentry {
	n := len(payload) / DentrySize
	out := make([]Dentry, 0, n)
	for i := 0; i < n; i++ {
		b := payload[i*DentrySize : (i+1)*DentrySize]
		var d Dentry
		copy(d.Name[:], b[:MaxFileNameLen])
		d.InodeNumber = byteOrder.Uint64(b[MaxFileNameLen:])
		out = append(out, d)
	}
	return out
}

func encodeDentries(ds []Dentry) []byte {
	out := make([]byte, len(ds)*DentrySize)
	for i, d := range ds {
		b := out[i*DentrySize : (i+1)*DentrySize]
		copy(b[:MaxFileNameLen], d.Name[:])
		byteOrder.PutUint64(b[MaxFileNameLen:], d.InodeNumber)
	}
	return out
}
