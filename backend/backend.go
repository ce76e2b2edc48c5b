// Package backend defines the pluggable POSIX-style filesystem
// interface the dispatcher drives (spec.md §4.5), and the error kind
// vocabulary used to translate backend failures into 9P2000.L errno
// replies (spec.md §4.4, §7).
package backend

import (
	"context"
)

// NodeType is the kind of filesystem object a Stat describes.
type NodeType int

const (
	TypeFile NodeType = iota
	TypeDirectory
	TypeSymlink
)

// Stat carries the attributes the dispatcher needs out of the backend
// for Tgetattr, Twalk, and Treaddir (spec.md §4.5).
type Stat struct {
	Type    NodeType
	Mode    uint32 // permission bits and type bits, Linux encoding
	Uid     uint32
	Gid     uint32
	Nlink   uint64
	Size    uint64
	AtimeMs int64
	MtimeMs int64
	CtimeMs int64
	Version uint32 // monotonic; bumped on every mutation
	Node    string // stable node identity, fed to qid.New
}

// DirEntry is one entry returned by List, prior to the server adding
// synthetic "." and ".." entries (spec.md §4.4, Treaddir).
type DirEntry struct {
	Name string
	Stat Stat
}

// An Fd is an opaque, backend-defined handle returned by Open and
// consumed by Write and Close. The dispatcher never inspects it.
type Fd interface{}

// Utimes sentinel values for the atimeMs/mtimeMs arguments: UtimeOmit
// leaves that timestamp untouched, UtimeNow sets it to the backend's
// current wall-clock time. Any other value is an explicit millisecond
// timestamp.
const (
	UtimeOmit int64 = -1
	UtimeNow  int64 = -2
)

// FS is the pluggable backend interface the dispatcher depends on.
// Every method may block (or, called from a goroutine, may be
// cancelled via ctx); if the owning tag has been flushed by the time
// the handler finishes, the dispatcher discards the result and sends
// no reply (spec.md §5).
type FS interface {
	Stat(ctx context.Context, path string) (Stat, error)
	Lstat(ctx context.Context, path string) (Stat, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)

	Open(ctx context.Context, path string, flags int, mode uint32) (Fd, error)
	Close(ctx context.Context, fd Fd) error
	Write(ctx context.Context, fd Fd, buf []byte, from, length int, offset int64) (int, error)

	Readlink(ctx context.Context, path string) (string, error)
	Symlink(ctx context.Context, target, path string) error

	Mkdir(ctx context.Context, path string, mode uint32) error
	Mknod(ctx context.Context, path string, kind NodeType, mode uint32) error

	Link(ctx context.Context, existing, newpath string) error
	Rename(ctx context.Context, oldpath, newpath string) error

	Unlink(ctx context.Context, path string) error
	Rmdir(ctx context.Context, path string) error

	Chmod(ctx context.Context, path string, mode uint32) error
	Chown(ctx context.Context, path string, uid, gid uint32) error
	Utimes(ctx context.Context, path string, atimeMs, mtimeMs int64) error
	Truncate(ctx context.Context, path string, size int64) error

	List(ctx context.Context, path string) ([]DirEntry, error)
}

// Statfs is implemented by backends that can report real disk
// accounting for Tstatfs; backends that don't implement it get the
// static defaults in spec.md §4.4.
type Statfs interface {
	Statfs(ctx context.Context) (blocks, bfree, bavail, files, ffree uint64, err error)
}

// BlobStore is the optional content-addressed file-blob store named
// in spec.md §1 (sha256 -> bytes). It is not required by FS; backends
// that keep file content in blob storage thread a BlobStore through
// their own Open/ReadFile/Write implementations.
type BlobStore interface {
	Get(ctx context.Context, sum [32]byte) ([]byte, error)
	Put(ctx context.Context, data []byte) (sum [32]byte, err error)
}

// Open flags, the subset of Linux open(2) bits handlers need to
// distinguish.
const (
	O_RDONLY = 0x0
	O_WRONLY = 0x1
	O_RDWR   = 0x2
	O_CREAT  = 0x40
	O_TRUNC  = 0x200
)
