package wfs

import (
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Session is a mount-session record: the process-wide handle to one open
// image, held by exactly one of the formatter, the mount server, or the
// compactor at a time. It is the single source of truth while open; scan
// results are transient views into data and must not outlive a mutation
// that moves Head.
//
// Non-goals carried from the source format: Session enforces no
// exclusion between roles. Exclusivity is the deployment's
// responsibility, per the concurrency model.
type Session struct {
	mu   sync.Mutex
	file *os.File
	data []byte // mmap'd, read-write, length == size
	size int64
}

// Open maps an existing, already-sized image file read-write. It does not
// validate the superblock; callers that need a valid format should call
// Superblock() and check Magic themselves (mount and fsck do; mkfs does
// not, since it is the one writing the first valid superblock).
func Open(path string) (*Session, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("stat %s: %w", path, err)
	}
	size := fi.Size()
	if size < SuperblockSize {
		f.Close()
		return nil, xerrors.Errorf("open %s: image too small (%d bytes)", path, size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("mmap %s: %w", path, err)
	}
	return &Session{file: f, data: data, size: size}, nil
}

// Close flushes and unmaps the image and closes the backing file.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		unix.Munmap(s.data)
		s.file.Close()
		return xerrors.Errorf("msync: %w", err)
	}
	if err := unix.Munmap(s.data); err != nil {
		s.file.Close()
		return xerrors.Errorf("munmap: %w", err)
	}
	return s.file.Close()
}

// Size returns the fixed image size in bytes.
func (s *Session) Size() int64 { return s.size }

// Superblock returns the current superblock contents.
func (s *Session) Superblock() Superblock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decodeSuperblock(s.data[:SuperblockSize])
}

func (s *Session) putSuperblock(sb Superblock) {
	copy(s.data[:SuperblockSize], encodeSuperblock(sb))
}

// Format initializes a freshly-opened image in place: a fresh superblock
// with head just past the superblock, and a single root directory entry
// (inode 0, directory mode, empty payload, current timestamps, link
// count 1). The image must not already contain a valid superblock; this
// is the formatter's sole entry point.
func (s *Session) Format() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if SuperblockSize+InodeRecordSize > len(s.data) {
		return ErrNoSpace
	}

	now := time.Now().Unix()
	root := InodeRecord{
		InodeNumber: 0,
		Deleted:     0,
		Mode:        ModeDirectory,
		UID:         uint32(os.Getuid()),
		GID:         uint32(os.Getgid()),
		Flags:       0,
		Size:        0,
		Atime:       now,
		Mtime:       now,
		Ctime:       now,
		Links:       1,
	}

	s.putSuperblock(Superblock{Magic: Magic, Head: SuperblockSize})
	copy(s.data[SuperblockSize:SuperblockSize+InodeRecordSize], encodeInodeRecord(root))
	s.putSuperblock(Superblock{Magic: Magic, Head: SuperblockSize + InodeRecordSize})
	return nil
}
