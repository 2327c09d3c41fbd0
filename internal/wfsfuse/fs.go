// Package wfsfuse adapts a wfs.Session to the jacobsa/fuse bridge's
// fuseutil.FileSystem interface, so the mount server can be dispatched
// to by the kernel's userspace filesystem support.
package wfsfuse

import (
	"context"
	"os"
	"path"
	"sync"
	"syscall"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/distr1/wfs/internal/wfs"
)

// FS implements fuseutil.FileSystem on top of a single wfs.Session. It
// holds no state of its own beyond what the bridge needs that the
// log-structured image cannot express directly: a map from FUSE inode
// ID to the path used to reach it, since wfs's create/unlink operations
// are path-addressed while the bridge addresses by parent inode and
// name.
//
// FUSE inode IDs are wfs inode numbers shifted up by one, since the
// bridge reserves ID 0 and fixes the root at fuseops.RootInodeID (1),
// matching wfs's root at inode number 0.
type FS struct {
	fuseutil.NotImplementedFileSystem

	sess *wfs.Session

	mu    sync.Mutex
	paths map[fuseops.InodeID]string
}

// New returns a bridge-facing filesystem backed by sess. sess must
// already be formatted (its root directory must exist).
func New(sess *wfs.Session) *FS {
	fs := &FS{
		sess:  sess,
		paths: make(map[fuseops.InodeID]string),
	}
	fs.paths[fuseops.RootInodeID] = "/"
	return fs
}

func toFuseInode(wfsInode uint32) fuseops.InodeID {
	return fuseops.InodeID(wfsInode) + 1
}

func toWfsInode(id fuseops.InodeID) uint32 {
	return uint32(id - 1)
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// toErrno maps wfs's sentinel errors onto the POSIX errno taxonomy of
// spec §7. Any other error (resolution bugs aside) becomes EIO.
func toErrno(err error) error {
	switch err {
	case nil:
		return nil
	case wfs.ErrNotFound:
		return syscall.ENOENT
	case wfs.ErrExists:
		return syscall.EEXIST
	case wfs.ErrNotDir:
		return syscall.ENOTDIR
	case wfs.ErrIsDir:
		return syscall.EISDIR
	case wfs.ErrNoSpace:
		return syscall.ENOSPC
	default:
		return syscall.EIO
	}
}

func attributes(a wfs.Attr) fuseops.InodeAttributes {
	mode := os.FileMode(a.Mode & 0777)
	if a.Mode&wfs.ModeDirectory != 0 {
		mode |= os.ModeDir
	}
	return fuseops.InodeAttributes{
		Size:  a.Size,
		Nlink: a.Links,
		Mode:  mode,
		Uid:   a.UID,
		Gid:   a.GID,
		Atime: a.Atime,
		Mtime: a.Mtime,
		Ctime: a.Ctime,
	}
}

func (fs *FS) pathOf(id fuseops.InodeID) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p, ok := fs.paths[id]
	return p, ok
}

func (fs *FS) rememberPath(id fuseops.InodeID, path string) {
	fs.mu.Lock()
	fs.paths[id] = path
	fs.mu.Unlock()
}

// parentInode resolves the FUSE inode ID of child's parent directory,
// for "..". wfs has no persisted parent pointer, so this walks the
// path cache and re-resolves through the session.
func (fs *FS) parentInode(child fuseops.InodeID) fuseops.InodeID {
	p, ok := fs.pathOf(child)
	if !ok || p == "/" {
		return fuseops.RootInodeID
	}
	attr, err := fs.sess.GetattrPath(path.Dir(p))
	if err != nil {
		return fuseops.RootInodeID
	}
	return toFuseInode(attr.Inode)
}

func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = 4096
	op.Blocks = uint64(fs.sess.Size()) / 4096
	op.BlocksFree = 0
	op.BlocksAvailable = 0
	op.IoSize = 65536
	return nil
}

func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return syscall.EIO
	}
	attr, err := fs.sess.LookupChild(toWfsInode(op.Parent), op.Name)
	if err != nil {
		return toErrno(err)
	}
	child := toFuseInode(attr.Inode)
	fs.rememberPath(child, childPath(parentPath, op.Name))
	op.Entry.Child = child
	op.Entry.Attributes = attributes(attr)
	return nil
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	attr, err := fs.sess.GetattrInode(toWfsInode(op.Inode))
	if err != nil {
		return toErrno(err)
	}
	op.Attributes = attributes(attr)
	return nil
}

func (fs *FS) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	if op.Inode == fuseops.RootInodeID {
		return nil
	}
	fs.mu.Lock()
	delete(fs.paths, op.Inode)
	fs.mu.Unlock()
	return nil
}

func (fs *FS) create(parent fuseops.InodeID, name string, mode os.FileMode, mkdir bool) (fuseops.ChildInodeEntry, error) {
	parentPath, ok := fs.pathOf(parent)
	if !ok {
		return fuseops.ChildInodeEntry{}, syscall.EIO
	}
	newPath := childPath(parentPath, name)

	var attr wfs.Attr
	var err error
	if mkdir {
		attr, err = fs.sess.Mkdir(newPath, uint32(mode.Perm()))
	} else {
		attr, err = fs.sess.Mknod(newPath, uint32(mode.Perm()))
	}
	if err != nil {
		return fuseops.ChildInodeEntry{}, toErrno(err)
	}

	child := toFuseInode(attr.Inode)
	fs.rememberPath(child, newPath)
	return fuseops.ChildInodeEntry{
		Child:      child,
		Attributes: attributes(attr),
	}, nil
}

func (fs *FS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	entry, err := fs.create(op.Parent, op.Name, op.Mode, true)
	if err != nil {
		return err
	}
	op.Entry = entry
	return nil
}

func (fs *FS) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	entry, err := fs.create(op.Parent, op.Name, op.Mode, false)
	if err != nil {
		return err
	}
	op.Entry = entry
	return nil
}

func (fs *FS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	entry, err := fs.create(op.Parent, op.Name, op.Mode, false)
	if err != nil {
		return err
	}
	op.Entry = entry
	return nil
}

func (fs *FS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return syscall.EIO
	}
	return toErrno(fs.sess.Unlink(childPath(parentPath, op.Name)))
}

func (fs *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	return nil
}

func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	children, err := fs.sess.ReaddirInode(toWfsInode(op.Inode))
	if err != nil {
		return toErrno(err)
	}

	entries := []fuseutil.Dirent{
		{Offset: 1, Inode: op.Inode, Name: ".", Type: fuseutil.DT_Directory},
		{Offset: 2, Inode: fs.parentInode(op.Inode), Name: "..", Type: fuseutil.DT_Directory},
	}
	for _, c := range children {
		typ := fuseutil.DT_File
		if c.Dir {
			typ = fuseutil.DT_Directory
		}
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(len(entries) + 1),
			Inode:  toFuseInode(c.Inode),
			Name:   c.Name,
			Type:   typ,
		})
	}

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return syscall.EIO
	}
	for _, e := range entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	return nil
}

func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	n, err := fs.sess.ReadInode(toWfsInode(op.Inode), op.Dst, op.Offset)
	op.BytesRead = n
	if err != nil {
		return toErrno(err)
	}
	return nil
}

func (fs *FS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	_, err := fs.sess.WriteInode(toWfsInode(op.Inode), op.Data, op.Offset)
	return toErrno(err)
}

func (fs *FS) Destroy() {}
