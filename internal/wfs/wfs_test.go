package wfs

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// newImage creates a fresh, formatted image of the given size in a
// scratch directory and returns its path.
func newImage(t *testing.T, size int64) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "image")
	if err := createSized(path, size); err != nil {
		t.Fatal(err)
	}
	sess, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Format(); err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func openT(t *testing.T, path string) *Session {
	t.Helper()
	sess, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

// TestFormatRoot covers scenario 1 of spec §8: a freshly formatted image
// resolves "/" to inode 0, a directory, with size 0.
func TestFormatRoot(t *testing.T) {
	path := newImage(t, 8<<20)
	sess := openT(t, path)

	attr, err := sess.GetattrPath("/")
	if err != nil {
		t.Fatalf("GetattrPath(/): %v", err)
	}
	if attr.Inode != 0 {
		t.Errorf("root inode = %d, want 0", attr.Inode)
	}
	if attr.Mode&ModeDirectory == 0 {
		t.Errorf("root mode = %#o, want directory", attr.Mode)
	}
	if attr.Size != 0 {
		t.Errorf("root size = %d, want 0", attr.Size)
	}

	sb := sess.Superblock()
	if sb.Head < SuperblockSize || int64(sb.Head) > sess.Size() {
		t.Errorf("head = %d out of bounds", sb.Head)
	}
}

// TestMkdirMknodWriteRead covers scenarios 2 and 3 of spec §8.
func TestMkdirMknodWriteRead(t *testing.T) {
	path := newImage(t, 8<<20)
	sess := openT(t, path)

	if _, err := sess.Mkdir("/a", 0755); err != nil {
		t.Fatalf("Mkdir(/a): %v", err)
	}
	fileAttr, err := sess.Mknod("/a/b", 0644)
	if err != nil {
		t.Fatalf("Mknod(/a/b): %v", err)
	}

	n, err := sess.WriteInode(fileAttr.Inode, []byte("hello"), 0)
	if err != nil || n != 5 {
		t.Fatalf("WriteInode(hello): n=%d err=%v", n, err)
	}

	buf := make([]byte, 5)
	n, err = sess.ReadInode(fileAttr.Inode, buf, 0)
	if err != nil || n != 5 || string(buf) != "hello" {
		t.Fatalf("ReadInode: n=%d err=%v buf=%q", n, err, buf)
	}

	attr, err := sess.GetattrPath("/a/b")
	if err != nil {
		t.Fatalf("GetattrPath(/a/b): %v", err)
	}
	if attr.Size != 5 {
		t.Errorf("size = %d, want 5", attr.Size)
	}

	// Scenario 3: overlapping write extends and overwrites.
	if _, err := sess.WriteInode(fileAttr.Inode, []byte("WORLD"), 5); err != nil {
		t.Fatalf("WriteInode(WORLD): %v", err)
	}
	buf = make([]byte, 10)
	n, err = sess.ReadInode(fileAttr.Inode, buf, 0)
	if err != nil || n != 10 || string(buf) != "helloWORLD" {
		t.Fatalf("ReadInode: n=%d err=%v buf=%q", n, err, buf)
	}
}

// TestUnlink covers scenario 4 of spec §8.
func TestUnlink(t *testing.T) {
	path := newImage(t, 8<<20)
	sess := openT(t, path)

	dirAttr, err := sess.Mkdir("/a", 0755)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sess.Mknod("/a/b", 0644); err != nil {
		t.Fatal(err)
	}

	if err := sess.Unlink("/a/b"); err != nil {
		t.Fatalf("Unlink(/a/b): %v", err)
	}
	if _, err := sess.GetattrPath("/a/b"); err != ErrNotFound {
		t.Fatalf("GetattrPath after unlink: %v, want ErrNotFound", err)
	}

	entries, err := sess.ReaddirInode(dirAttr.Inode)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("readdir(/a) after unlink = %v, want empty", entries)
	}
}

// TestReaddirListsChildren checks that readdir reflects exactly the
// live children of a directory, in dentry order.
func TestReaddirListsChildren(t *testing.T) {
	path := newImage(t, 8<<20)
	sess := openT(t, path)

	dirAttr, err := sess.Mkdir("/a", 0755)
	if err != nil {
		t.Fatal(err)
	}
	fileAttr, err := sess.Mknod("/a/b", 0644)
	if err != nil {
		t.Fatal(err)
	}
	subdirAttr, err := sess.Mkdir("/a/c", 0755)
	if err != nil {
		t.Fatal(err)
	}

	got, err := sess.ReaddirInode(dirAttr.Inode)
	if err != nil {
		t.Fatal(err)
	}
	want := []Dirent{
		{Name: "b", Inode: fileAttr.Inode, Dir: false},
		{Name: "c", Inode: subdirAttr.Inode, Dir: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReaddirInode(/a) mismatch (-want +got):\n%s", diff)
	}
}

// TestMkdirAlreadyExists covers scenario 5.
func TestMkdirAlreadyExists(t *testing.T) {
	path := newImage(t, 8<<20)
	sess := openT(t, path)

	if _, err := sess.Mkdir("/a", 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.Mkdir("/a", 0755); err != ErrExists {
		t.Fatalf("second Mkdir(/a) = %v, want ErrExists", err)
	}
}

// TestNoSpaceThenCompact covers scenario 6: filling an image to capacity
// fails cleanly with no-space, existing data survives, and compaction
// reclaims enough room for the write to succeed.
func TestNoSpaceThenCompact(t *testing.T) {
	// Room for the compacted root (one dentry), the empty /f entry, and one
	// 4 KiB entry for /f; the uncompacted log also holds the original
	// empty root entry, which leaves InodeRecordSize bytes too few.
	const size = SuperblockSize + InodeRecordSize + DentrySize + InodeRecordSize + InodeRecordSize + 4096
	path := newImage(t, size)
	sess := openT(t, path)

	if _, err := sess.Mknod("/f", 0644); err != nil {
		t.Fatalf("Mknod(/f): %v", err)
	}

	headBefore := sess.Superblock().Head

	big := make([]byte, 4096)
	fAttr, err := sess.GetattrPath("/f")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sess.WriteInode(fAttr.Inode, big, 0); err != ErrNoSpace {
		t.Fatalf("WriteInode over capacity = %v, want ErrNoSpace", err)
	}
	if sess.Superblock().Head != headBefore {
		t.Fatalf("head advanced despite ErrNoSpace: %d != %d", sess.Superblock().Head, headBefore)
	}

	// Existing data is still readable after the failed write.
	if _, err := sess.GetattrPath("/f"); err != nil {
		t.Fatalf("GetattrPath(/f) after failed write: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}

	if err := Compact(path, CompactOptions{}); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	sess2 := openT(t, path)
	fAttr2, err := sess2.GetattrPath("/f")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sess2.WriteInode(fAttr2.Inode, big, 0); err != nil {
		t.Fatalf("WriteInode after compaction: %v", err)
	}
}

// TestCompactionIsIdentityAndIdempotent exercises the round-trip laws of
// spec §8: compaction preserves every path's resolved content and is a
// byte-level fixed point.
func TestCompactionIsIdentityAndIdempotent(t *testing.T) {
	path := newImage(t, 8<<20)
	sess := openT(t, path)

	if _, err := sess.Mkdir("/a", 0755); err != nil {
		t.Fatal(err)
	}
	fAttr, err := sess.Mknod("/a/b", 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sess.WriteInode(fAttr.Inode, []byte("payload"), 0); err != nil {
		t.Fatal(err)
	}
	// Create and remove a second file so the log carries dead history to
	// compact away.
	if _, err := sess.Mknod("/a/c", 0644); err != nil {
		t.Fatal(err)
	}
	if err := sess.Unlink("/a/c"); err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}

	if err := Compact(path, CompactOptions{}); err != nil {
		t.Fatal(err)
	}

	sess2 := openT(t, path)
	attr, err := sess2.GetattrPath("/a/b")
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 7)
	if _, err := sess2.ReadInode(attr.Inode, buf, 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte("payload")) {
		t.Fatalf("payload after compaction = %q, want %q", buf, "payload")
	}
	if err := sess2.Close(); err != nil {
		t.Fatal(err)
	}

	before, err := readFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Compact(path, CompactOptions{}); err != nil {
		t.Fatal(err)
	}
	after, err := readFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("compaction is not idempotent at the byte level")
	}
}
