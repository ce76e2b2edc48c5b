// Package memfs is an in-process, mutex-protected POSIX-style tree
// implementing backend.FS. It exists to exercise the dispatcher end
// to end (spec.md §8's scenarios) without a real guest or disk; it is
// not a production filesystem driver.
package memfs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"aqwari.net/net/ninepl/backend"
)

// node is one file, directory, or symlink in the tree.
type node struct {
	id      uint64 // stable identity, never reused
	typ     backend.NodeType
	mode    uint32
	uid     uint32
	gid     uint32
	version uint32
	atimeMs int64
	mtimeMs int64
	ctimeMs int64

	data     []byte    // regular files, when no BlobStore is attached
	blobSum  *[32]byte // regular files, when a BlobStore is attached
	blobLen  int       // length of the content addressed by blobSum
	target   string    // symlinks
	children map[string]*node
	nlink    int
}

func (n *node) nodeIdent() string { return fmt.Sprintf("memfs:%d", n.id) }

// FS is an in-memory backend.FS. Create it with New.
type FS struct {
	mu     sync.Mutex
	root   *node
	nextID uint64
	now    func() int64 // overridable for tests; returns milliseconds
	blobs  backend.BlobStore
}

// New returns an empty FS, its root a directory with the given mode
// (e.g. 0755), owned by uid/gid.
func New(rootMode uint32, uid, gid uint32) *FS {
	fs := &FS{
		now: func() int64 { return time.Now().UnixMilli() },
	}
	fs.root = fs.newNode(backend.TypeDirectory, rootMode|dirBit, uid, gid)
	fs.root.children = make(map[string]*node)
	fs.root.nlink = 2
	return fs
}

// SetClock overrides the millisecond clock used for timestamps; tests
// use this for deterministic atime/mtime/ctime assertions.
func (fs *FS) SetClock(now func() int64) { fs.now = now }

// SetBlobStore attaches a content-addressed blob store (spec.md §1).
// When set, file content is written through Put and read back through
// Get instead of being kept inline in the node.
func (fs *FS) SetBlobStore(b backend.BlobStore) { fs.blobs = b }

// dirBit marks a node's mode word as a directory, Linux S_IFDIR style
// (top nibble 0x4).
const dirBit = 0040000
const symlinkBit = 0120000
const regBit = 0100000

func (fs *FS) newNode(typ backend.NodeType, mode, uid, gid uint32) *node {
	if typ == backend.TypeFile {
		mode |= regBit
	}
	fs.nextID++
	now := fs.now()
	return &node{
		id: fs.nextID, typ: typ, mode: mode, uid: uid, gid: gid,
		version: 1, atimeMs: now, mtimeMs: now, ctimeMs: now, nlink: 1,
	}
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// lookup walks an absolute path to its node, returning backend.KindNoEnt
// or backend.KindNotDir errors as appropriate. Must be called with
// fs.mu held.
func (fs *FS) lookup(p string) (*node, error) {
	n := fs.root
	for _, elem := range splitPath(p) {
		if n.typ != backend.TypeDirectory {
			return nil, backend.New(backend.KindNotDir, "%s: not a directory", p)
		}
		next, ok := n.children[elem]
		if !ok {
			return nil, backend.New(backend.KindNoEnt, "%s: no such file or directory", p)
		}
		n = next
	}
	return n, nil
}

// lookupParent resolves the parent directory and final element name
// of p, without requiring the final element to exist.
func (fs *FS) lookupParent(p string) (dir *node, name string, err error) {
	elems := splitPath(p)
	if len(elems) == 0 {
		return nil, "", backend.New(backend.KindInval, "cannot operate on root")
	}
	dirPath := "/" + strings.Join(elems[:len(elems)-1], "/")
	dir, err = fs.lookup(dirPath)
	if err != nil {
		return nil, "", err
	}
	if dir.typ != backend.TypeDirectory {
		return nil, "", backend.New(backend.KindNotDir, "%s: not a directory", dirPath)
	}
	return dir, elems[len(elems)-1], nil
}

func (n *node) dataLen() int {
	if n.blobSum != nil {
		return n.blobLen
	}
	return len(n.data)
}

func (n *node) stat() backend.Stat {
	size := uint64(n.dataLen())
	if n.typ == backend.TypeSymlink {
		size = uint64(len(n.target))
	}
	return backend.Stat{
		Type: n.typ, Mode: n.mode, Uid: n.uid, Gid: n.gid,
		Nlink: uint64(n.nlink), Size: size,
		AtimeMs: n.atimeMs, MtimeMs: n.mtimeMs, CtimeMs: n.ctimeMs,
		Version: n.version, Node: n.nodeIdent(),
	}
}

func (fs *FS) Stat(ctx context.Context, p string) (backend.Stat, error) {
	return fs.Lstat(ctx, p)
}

func (fs *FS) Lstat(ctx context.Context, p string) (backend.Stat, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.lookup(p)
	if err != nil {
		return backend.Stat{}, err
	}
	return n.stat(), nil
}

func (fs *FS) ReadFile(ctx context.Context, p string) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.lookup(p)
	if err != nil {
		return nil, err
	}
	if n.typ == backend.TypeDirectory {
		return nil, backend.New(backend.KindIsDir, "%s: is a directory", p)
	}
	return fs.readNodeLocked(ctx, n)
}

// readNodeLocked returns n's content. Callers must hold fs.mu. When a
// BlobStore is attached it is consulted outside the lock, since blob
// reads may themselves block on I/O; fs.mu is released for that call.
func (fs *FS) readNodeLocked(ctx context.Context, n *node) ([]byte, error) {
	if n.blobSum == nil {
		out := make([]byte, len(n.data))
		copy(out, n.data)
		return out, nil
	}
	sum := *n.blobSum
	blobs := fs.blobs
	fs.mu.Unlock()
	data, err := blobs.Get(ctx, sum)
	fs.mu.Lock()
	if err != nil {
		return nil, backend.Wrap(err, backend.KindIO, "blob read")
	}
	return data, nil
}

type handle struct {
	n     *node
	write bool
}

func (fs *FS) Open(ctx context.Context, p string, flags int, mode uint32) (backend.Fd, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.lookup(p)
	if err != nil {
		if flags&backend.O_CREAT != 0 && backend.KindOf(err) == backend.KindNoEnt {
			dir, name, perr := fs.lookupParent(p)
			if perr != nil {
				return nil, perr
			}
			n = fs.newNode(backend.TypeFile, mode, dir.uid, dir.gid)
			dir.children[name] = n
			touch(dir, fs.now())
		} else {
			return nil, err
		}
	}
	if flags&backend.O_TRUNC != 0 {
		n.data = nil
		n.blobSum = nil
		n.blobLen = 0
		n.version++
	}
	write := flags&(backend.O_WRONLY|backend.O_RDWR) != 0
	return &handle{n: n, write: write}, nil
}

func (fs *FS) Close(ctx context.Context, fd backend.Fd) error {
	return nil
}

func (fs *FS) Write(ctx context.Context, fd backend.Fd, buf []byte, from, length int, offset int64) (int, error) {
	h, ok := fd.(*handle)
	if !ok {
		return 0, backend.New(backend.KindBadFd, "invalid file handle")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := h.n
	need := offset + int64(length)

	existing, err := fs.readNodeLocked(ctx, n)
	if err != nil {
		return 0, err
	}
	if int64(len(existing)) < need {
		grown := make([]byte, need)
		copy(grown, existing)
		existing = grown
	}
	copy(existing[offset:need], buf[from:from+length])

	if fs.blobs != nil {
		blobs := fs.blobs
		fs.mu.Unlock()
		sum, err := blobs.Put(ctx, existing)
		fs.mu.Lock()
		if err != nil {
			return 0, backend.Wrap(err, backend.KindIO, "blob write")
		}
		n.blobSum = &sum
		n.blobLen = len(existing)
		n.data = nil
	} else {
		n.data = existing
	}
	n.version++
	n.mtimeMs = fs.now()
	return length, nil
}

func (fs *FS) Readlink(ctx context.Context, p string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.lookup(p)
	if err != nil {
		return "", err
	}
	if n.typ != backend.TypeSymlink {
		return "", backend.New(backend.KindInval, "%s: not a symlink", p)
	}
	return n.target, nil
}

func (fs *FS) Symlink(ctx context.Context, target, p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir, name, err := fs.lookupParent(p)
	if err != nil {
		return err
	}
	if _, exists := dir.children[name]; exists {
		return backend.New(backend.KindExist, "%s: file exists", p)
	}
	n := fs.newNode(backend.TypeSymlink, symlinkBit|0777, dir.uid, dir.gid)
	n.target = target
	dir.children[name] = n
	touch(dir, fs.now())
	return nil
}

func (fs *FS) Mkdir(ctx context.Context, p string, mode uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir, name, err := fs.lookupParent(p)
	if err != nil {
		return err
	}
	if _, exists := dir.children[name]; exists {
		return backend.New(backend.KindExist, "%s: file exists", p)
	}
	n := fs.newNode(backend.TypeDirectory, mode|dirBit, dir.uid, dir.gid)
	n.children = make(map[string]*node)
	n.nlink = 2
	dir.children[name] = n
	touch(dir, fs.now())
	return nil
}

// Mknod collapses every requested kind to a regular file, per spec.md
// §4.4/§9 (Tmknod does not carve out device-node semantics here).
func (fs *FS) Mknod(ctx context.Context, p string, kind backend.NodeType, mode uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir, name, err := fs.lookupParent(p)
	if err != nil {
		return err
	}
	if _, exists := dir.children[name]; exists {
		return backend.New(backend.KindExist, "%s: file exists", p)
	}
	n := fs.newNode(backend.TypeFile, mode, dir.uid, dir.gid)
	dir.children[name] = n
	touch(dir, fs.now())
	return nil
}

func (fs *FS) Link(ctx context.Context, existing, newpath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	target, err := fs.lookup(existing)
	if err != nil {
		return err
	}
	if target.typ == backend.TypeDirectory {
		return backend.New(backend.KindPerm, "%s: cannot hard-link a directory", existing)
	}
	dir, name, err := fs.lookupParent(newpath)
	if err != nil {
		return err
	}
	if _, exists := dir.children[name]; exists {
		return backend.New(backend.KindExist, "%s: file exists", newpath)
	}
	target.nlink++
	dir.children[name] = target
	touch(dir, fs.now())
	return nil
}

func (fs *FS) Rename(ctx context.Context, oldpath, newpath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	oldDir, oldName, err := fs.lookupParent(oldpath)
	if err != nil {
		return err
	}
	n, ok := oldDir.children[oldName]
	if !ok {
		return backend.New(backend.KindNoEnt, "%s: no such file or directory", oldpath)
	}
	newDir, newName, err := fs.lookupParent(newpath)
	if err != nil {
		return err
	}
	if existing, exists := newDir.children[newName]; exists {
		if existing.typ == backend.TypeDirectory && len(existing.children) > 0 {
			return backend.New(backend.KindNotEmpty, "%s: directory not empty", newpath)
		}
	}
	delete(oldDir.children, oldName)
	newDir.children[newName] = n
	now := fs.now()
	touch(oldDir, now)
	touch(newDir, now)
	return nil
}

func (fs *FS) Unlink(ctx context.Context, p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir, name, err := fs.lookupParent(p)
	if err != nil {
		return err
	}
	n, ok := dir.children[name]
	if !ok {
		return backend.New(backend.KindNoEnt, "%s: no such file or directory", p)
	}
	if n.typ == backend.TypeDirectory {
		return backend.New(backend.KindIsDir, "%s: is a directory", p)
	}
	n.nlink--
	delete(dir.children, name)
	touch(dir, fs.now())
	return nil
}

func (fs *FS) Rmdir(ctx context.Context, p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir, name, err := fs.lookupParent(p)
	if err != nil {
		return err
	}
	n, ok := dir.children[name]
	if !ok {
		return backend.New(backend.KindNoEnt, "%s: no such file or directory", p)
	}
	if n.typ != backend.TypeDirectory {
		return backend.New(backend.KindNotDir, "%s: not a directory", p)
	}
	if len(n.children) > 0 {
		return backend.New(backend.KindNotEmpty, "%s: directory not empty", p)
	}
	delete(dir.children, name)
	touch(dir, fs.now())
	return nil
}

func (fs *FS) Chmod(ctx context.Context, p string, mode uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.lookup(p)
	if err != nil {
		return err
	}
	typeBits := n.mode &^ 07777
	n.mode = typeBits | (mode & 07777)
	n.version++
	n.ctimeMs = fs.now()
	return nil
}

func (fs *FS) Chown(ctx context.Context, p string, uid, gid uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.lookup(p)
	if err != nil {
		return err
	}
	n.uid, n.gid = uid, gid
	n.version++
	n.ctimeMs = fs.now()
	return nil
}

func (fs *FS) Utimes(ctx context.Context, p string, atimeMs, mtimeMs int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.lookup(p)
	if err != nil {
		return err
	}
	now := fs.now()
	switch atimeMs {
	case backend.UtimeOmit:
	case backend.UtimeNow:
		n.atimeMs = now
	default:
		n.atimeMs = atimeMs
	}
	switch mtimeMs {
	case backend.UtimeOmit:
	case backend.UtimeNow:
		n.mtimeMs = now
	default:
		n.mtimeMs = mtimeMs
	}
	n.ctimeMs = now
	return nil
}

func (fs *FS) Truncate(ctx context.Context, p string, size int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.lookup(p)
	if err != nil {
		return err
	}
	if n.typ == backend.TypeDirectory {
		return backend.New(backend.KindIsDir, "%s: is a directory", p)
	}
	if int64(n.dataLen()) == size {
		return nil
	}
	existing, err := fs.readNodeLocked(ctx, n)
	if err != nil {
		return err
	}
	grown := make([]byte, size)
	copy(grown, existing)

	if fs.blobs != nil {
		blobs := fs.blobs
		fs.mu.Unlock()
		sum, err := blobs.Put(ctx, grown)
		fs.mu.Lock()
		if err != nil {
			return backend.Wrap(err, backend.KindIO, "blob write")
		}
		n.blobSum = &sum
		n.blobLen = len(grown)
		n.data = nil
	} else {
		n.data = grown
	}
	n.version++
	n.mtimeMs = fs.now()
	return nil
}

func (fs *FS) List(ctx context.Context, p string) ([]backend.DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.lookup(p)
	if err != nil {
		return nil, err
	}
	if n.typ != backend.TypeDirectory {
		return nil, backend.New(backend.KindNotDir, "%s: not a directory", p)
	}
	entries := make([]backend.DirEntry, 0, len(n.children))
	for name, child := range n.children {
		entries = append(entries, backend.DirEntry{Name: name, Stat: child.stat()})
	}
	return entries, nil
}

func touch(n *node, now int64) {
	n.mtimeMs = now
	n.ctimeMs = now
}
