package wfs

import "strings"

// entry is a transient view of one log entry: a borrow into the mapped
// image, valid only until the next mutation moves head.
type entry struct {
	record InodeRecord
	offset int64 // absolute byte offset of the record itself within the image
	payload []byte
}

// walk invokes fn for every log entry in [SuperblockSize, head), in
// ascending offset order. fn may return false to stop early.
func walk(data []byte, head uint64, fn func(e entry) bool) {
	off := int64(SuperblockSize)
	h := int64(head)
	for off+InodeRecordSize <= h {
		rec := decodeInodeRecord(data[off : off+InodeRecordSize])
		payloadStart := off + InodeRecordSize
		payloadEnd := payloadStart + int64(rec.Size)
		if payloadEnd > h {
			// A torn tail write past head; scans never look past head.
			break
		}
		if !fn(entry{record: rec, offset: off, payload: data[payloadStart:payloadEnd]}) {
			return
		}
		off = payloadEnd
	}
}

// latestLocked walks the log and returns the highest-offset,
// non-tombstoned entry for inode, or ok=false if none exists.
func latestLocked(data []byte, head uint64, inode uint32) (entry, bool) {
	var found entry
	ok := false
	walk(data, head, func(e entry) bool {
		if e.record.InodeNumber == inode && !e.record.IsDeleted() {
			found = e
			ok = true
		}
		return true
	})
	return found, ok
}

// maxInodeLocked returns the greatest inode number observed in the log,
// ignoring the deleted flag, and whether any entry exists at all.
func maxInodeLocked(data []byte, head uint64) (uint32, bool) {
	var max uint32
	ok := false
	walk(data, head, func(e entry) bool {
		if !ok || e.record.InodeNumber > max {
			max = e.record.InodeNumber
			ok = true
		}
		return true
	})
	return max, ok
}

// resolveLocked tokenizes path by "/" and walks from the root, following
// each component through the current directory's dentry array. A dentry
// whose target is tombstoned (or absent) is treated as if the name did
// not exist.
func resolveLocked(data []byte, head uint64, path string) (entry, bool) {
	cur, ok := latestLocked(data, head, 0)
	if !ok {
		return entry{}, false
	}

	for _, tok := range splitComponents(path) {
		if !cur.record.IsDir() {
			return entry{}, false
		}
		next, ok := lookupChild(data, head, cur.payload, tok)
		if !ok {
			return entry{}, false
		}
		cur = next
	}
	return cur, true
}

// lookupChild scans dirPayload's dentry array for name and returns the
// latest live entry for the matching dentry's inode number, if any.
func lookupChild(data []byte, head uint64, dirPayload []byte, name string) (entry, bool) {
	for _, d := range decodeDentries(dirPayload) {
		if dentryName(d) != name {
			continue
		}
		if e, ok := latestLocked(data, head, uint32(d.InodeNumber)); ok {
			return e, true
		}
	}
	return entry{}, false
}

// splitComponents tokenizes a path by "/", dropping empty components so
// that both "/a/b" and "a/b/" yield ["a", "b"], and "/" yields an empty
// slice.
func splitComponents(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// splitPath splits path at the last "/". If none is present, the parent
// is "/". The leaf is truncated to MaxFileNameLen-1 bytes, matching the
// on-disk name field's capacity.
func splitPath(path string) (parent, leaf string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		parent = "/"
		leaf = path
	} else {
		parent = path[:i]
		if parent == "" {
			parent = "/"
		}
		leaf = path[i+1:]
	}
	if len(leaf) > MaxFileNameLen-1 {
		leaf = leaf[:MaxFileNameLen-1]
	}
	return parent, leaf
}
