package wfs

import "errors"

// Sentinel errors surfaced by scan and mutation primitives. The mount
// server layer maps these to bridge-specific errno values; the package
// itself is bridge-agnostic.
var (
	// ErrNotFound is returned when a path does not resolve, or resolves
	// to a tombstoned inode.
	ErrNotFound = errors.New("wfs: not found")

	// ErrExists is returned by mknod/mkdir when the target path already
	// resolves to a live entry.
	ErrExists = errors.New("wfs: already exists")

	// ErrNotDir is returned by readdir on a non-directory.
	ErrNotDir = errors.New("wfs: not a directory")

	// ErrIsDir is returned by unlink on a directory.
	ErrIsDir = errors.New("wfs: is a directory")

	// ErrNoSpace is returned when appending the computed entry or
	// entries would advance head past the end of the image.
	ErrNoSpace = errors.New("wfs: no space left on image")
)
