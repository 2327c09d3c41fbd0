package wfs

import (
	"os"
	"time"
)

// Attr is the subset of an inode record exposed to callers above this
// package (the mount server and tests), independent of any particular
// userspace filesystem bridge's attribute struct.
type Attr struct {
	Inode uint32
	Mode  uint32
	Links uint32
	UID   uint32
	GID   uint32
	Size  uint64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// Dirent is one live child of a directory, as returned by Readdir.
type Dirent struct {
	Name  string
	Inode uint32
	Dir   bool
}

func attrFromEntry(e entry) Attr {
	r := e.record
	return Attr{
		Inode: r.InodeNumber,
		Mode:  r.Mode,
		Links: r.Links,
		UID:   r.UID,
		GID:   r.GID,
		Size:  uint64(r.Size),
		Atime: time.Unix(r.Atime, 0),
		Mtime: time.Unix(r.Mtime, 0),
		Ctime: time.Unix(r.Ctime, 0),
	}
}

// appendLocked writes parts back-to-back starting at the current head,
// after verifying the combined length fits. Either every part is written
// and head advances past all of them, or none are written. Callers must
// hold s.mu.
func (s *Session) appendLocked(parts ...[]byte) (int64, error) {
	sb := decodeSuperblock(s.data[:SuperblockSize])
	var total int64
	for _, p := range parts {
		total += int64(len(p))
	}
	if int64(sb.Head)+total > s.size {
		return 0, ErrNoSpace
	}
	off := int64(sb.Head)
	cur := off
	for _, p := range parts {
		copy(s.data[cur:cur+int64(len(p))], p)
		cur += int64(len(p))
	}
	s.putSuperblock(Superblock{Magic: sb.Magic, Head: uint64(cur)})
	return off, nil
}

// GetattrPath resolves path and returns its attributes.
func (s *Session) GetattrPath(path string) (Attr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb := decodeSuperblock(s.data[:SuperblockSize])
	e, ok := resolveLocked(s.data, sb.Head, path)
	if !ok {
		return Attr{}, ErrNotFound
	}
	return attrFromEntry(e), nil
}

// GetattrInode returns the attributes of a known-live inode number, as
// used by the bridge's GetInodeAttributes call.
func (s *Session) GetattrInode(inode uint32) (Attr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb := decodeSuperblock(s.data[:SuperblockSize])
	e, ok := latestLocked(s.data, sb.Head, inode)
	if !ok {
		return Attr{}, ErrNotFound
	}
	return attrFromEntry(e), nil
}

// LookupChild resolves name within the directory named by parent inode,
// as used by the bridge's LookUpInode call.
func (s *Session) LookupChild(parent uint32, name string) (Attr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb := decodeSuperblock(s.data[:SuperblockSize])
	dir, ok := latestLocked(s.data, sb.Head, parent)
	if !ok {
		return Attr{}, ErrNotFound
	}
	if !dir.record.IsDir() {
		return Attr{}, ErrNotDir
	}
	child, ok := lookupChild(s.data, sb.Head, dir.payload, name)
	if !ok {
		return Attr{}, ErrNotFound
	}
	return attrFromEntry(child), nil
}

// create is shared by Mknod and Mkdir: it resolves path to nothing,
// resolves its parent to something, and appends a rewritten parent entry
// (dentry array extended by one) together with a fresh entry for the new
// inode, checking that both fit before writing either.
func (s *Session) create(path string, mode uint32, forcedType uint32) (Attr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sb := decodeSuperblock(s.data[:SuperblockSize])
	if _, ok := resolveLocked(s.data, sb.Head, path); ok {
		return Attr{}, ErrExists
	}

	parentPath, leaf := splitPath(path)
	parentEntry, ok := resolveLocked(s.data, sb.Head, parentPath)
	if !ok {
		return Attr{}, ErrNotFound
	}
	if !parentEntry.record.IsDir() {
		return Attr{}, ErrNotDir
	}

	maxInode, _ := maxInodeLocked(s.data, sb.Head) // root always exists after Format
	newInode := maxInode + 1
	now := time.Now().Unix()

	newDentries := append(decodeDentries(parentEntry.payload), Dentry{
		Name:        newDentryName(leaf),
		InodeNumber: uint64(newInode),
	})
	newParentPayload := encodeDentries(newDentries)
	newParentRecord := parentEntry.record
	newParentRecord.Size = uint32(len(newParentPayload))
	newParentRecord.Mtime = now
	newParentRecord.Ctime = now

	newRecord := InodeRecord{
		InodeNumber: newInode,
		Deleted:     0,
		Mode:        (mode &^ modeTypeMask) | forcedType,
		UID:         uint32(os.Getuid()),
		GID:         uint32(os.Getgid()),
		Flags:       0,
		Size:        0,
		Atime:       now,
		Mtime:       now,
		Ctime:       now,
		Links:       1,
	}

	if _, err := s.appendLocked(
		encodeInodeRecord(newParentRecord), newParentPayload,
		encodeInodeRecord(newRecord), nil,
	); err != nil {
		return Attr{}, err
	}

	return attrFromEntry(entry{record: newRecord}), nil
}

// Mknod creates a new, empty regular file at path.
func (s *Session) Mknod(path string, mode uint32) (Attr, error) {
	return s.create(path, mode, ModeRegular)
}

// Mkdir creates a new, empty directory at path.
func (s *Session) Mkdir(path string, mode uint32) (Attr, error) {
	return s.create(path, mode, ModeDirectory)
}

// ReadInode copies up to len(buf) bytes from inode's payload starting at
// offset, returning the number of bytes copied. An offset at or past the
// current size yields zero bytes, not an error.
func (s *Session) ReadInode(inode uint32, buf []byte, offset int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb := decodeSuperblock(s.data[:SuperblockSize])
	e, ok := latestLocked(s.data, sb.Head, inode)
	if !ok {
		return 0, ErrNotFound
	}
	size := int64(e.record.Size)
	if offset >= size {
		return 0, nil
	}
	n := size - offset
	if int64(len(buf)) < n {
		n = int64(len(buf))
	}
	copy(buf[:n], e.payload[offset:offset+n])
	return int(n), nil
}

// WriteInode appends a new entry for inode whose payload is the old
// payload with bytes [offset, offset+len(buf)) overwritten by buf, and
// extended with unspecified bytes if offset is past the old size. It
// returns len(buf) on success, matching the write(2) contract of "all or
// nothing".
func (s *Session) WriteInode(inode uint32, buf []byte, offset int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb := decodeSuperblock(s.data[:SuperblockSize])
	e, ok := latestLocked(s.data, sb.Head, inode)
	if !ok {
		return 0, ErrNotFound
	}
	if e.record.IsDir() {
		return 0, ErrIsDir
	}

	oldSize := int64(e.record.Size)
	newSize := offset + int64(len(buf))
	if newSize < oldSize {
		newSize = oldSize
	}

	newPayload := make([]byte, newSize)
	copy(newPayload, e.payload)
	copy(newPayload[offset:], buf)

	now := time.Now().Unix()
	newRecord := e.record
	newRecord.Size = uint32(newSize)
	newRecord.Atime = now
	newRecord.Mtime = now
	newRecord.Ctime = now

	if _, err := s.appendLocked(encodeInodeRecord(newRecord), newPayload); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// ReaddirInode returns the live children of a directory inode, in dentry
// order. Tombstoned children are omitted, as if absent.
func (s *Session) ReaddirInode(inode uint32) ([]Dirent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb := decodeSuperblock(s.data[:SuperblockSize])
	e, ok := latestLocked(s.data, sb.Head, inode)
	if !ok {
		return nil, ErrNotFound
	}
	if !e.record.IsDir() {
		return nil, ErrNotDir
	}

	var out []Dirent
	for _, d := range decodeDentries(e.payload) {
		child, ok := latestLocked(s.data, sb.Head, uint32(d.InodeNumber))
		if !ok {
			continue // tombstoned: skipped as absent
		}
		out = append(out, Dirent{
			Name:  dentryName(d),
			Inode: child.record.InodeNumber,
			Dir:   child.record.IsDir(),
		})
	}
	return out, nil
}

// Unlink removes path. Directories cannot be unlinked. The target's
// history is tombstoned in place and the parent directory gets a fresh
// entry whose dentry array omits the removed name, preserving the
// relative order of survivors.
//
// A known quirk, retained for compatibility: the parent rewrite always
// happens once the target and parent both resolve, even in the
// vanishingly unlikely case that tombstoning finds nothing left to flip;
// ErrNotFound is returned in that case despite the rewrite having
// already taken effect.
func (s *Session) Unlink(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sb := decodeSuperblock(s.data[:SuperblockSize])
	target, ok := resolveLocked(s.data, sb.Head, path)
	if !ok {
		return ErrNotFound
	}
	if target.record.IsDir() {
		return ErrIsDir
	}

	parentPath, _ := splitPath(path)
	parentEntry, ok := resolveLocked(s.data, sb.Head, parentPath)
	if !ok {
		return ErrNotFound
	}

	flipped := false
	walk(s.data, sb.Head, func(e entry) bool {
		if e.record.InodeNumber == target.record.InodeNumber && !e.record.IsDeleted() {
			byteOrder.PutUint32(s.data[e.offset+4:e.offset+8], 1)
			flipped = true
		}
		return true
	})

	survivors := decodeDentries(parentEntry.payload)[:0:0]
	for _, d := range decodeDentries(parentEntry.payload) {
		if d.InodeNumber == uint64(target.record.InodeNumber) {
			continue
		}
		survivors = append(survivors, d)
	}
	newPayload := encodeDentries(survivors)

	now := time.Now().Unix()
	newParentRecord := parentEntry.record
	newParentRecord.Size = uint32(len(newPayload))
	newParentRecord.Mtime = now
	newParentRecord.Ctime = now

	if _, err := s.appendLocked(encodeInodeRecord(newParentRecord), newPayload); err != nil {
		return err
	}

	if !flipped {
		return ErrNotFound
	}
	return nil
}

// MaxInode returns the greatest inode number observed in the log.
func (s *Session) MaxInode() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb := decodeSuperblock(s.data[:SuperblockSize])
	max, _ := maxInodeLocked(s.data, sb.Head)
	return max
}
