package memfs

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"

	"aqwari.net/net/ninepl/backend"
	"github.com/stretchr/testify/require"
)

func TestBasicFileLifecycle(t *testing.T) {
	ctx := context.Background()
	fs := New(0755, 1000, 1000)

	require.NoError(t, fs.Mkdir(ctx, "/dir", 0755))
	fd, err := fs.Open(ctx, "/dir/f", backend.O_CREAT|backend.O_RDWR, 0644)
	require.NoError(t, err)

	n, err := fs.Write(ctx, fd, []byte("hello"), 0, 5, 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.NoError(t, fs.Close(ctx, fd))

	data, err := fs.ReadFile(ctx, "/dir/f")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	st, err := fs.Stat(ctx, "/dir/f")
	require.NoError(t, err)
	require.Equal(t, backend.TypeFile, st.Type)
	require.Equal(t, uint64(5), st.Size)
}

func TestUnknownPathIsENOENT(t *testing.T) {
	ctx := context.Background()
	fs := New(0755, 0, 0)
	_, err := fs.Stat(ctx, "/missing")
	require.Equal(t, backend.KindNoEnt, backend.KindOf(err))
}

func TestRenamePreservesIdentity(t *testing.T) {
	ctx := context.Background()
	fs := New(0755, 0, 0)
	fd, err := fs.Open(ctx, "/a", backend.O_CREAT|backend.O_RDWR, 0644)
	require.NoError(t, err)
	fs.Close(ctx, fd)

	before, err := fs.Stat(ctx, "/a")
	require.NoError(t, err)

	require.NoError(t, fs.Rename(ctx, "/a", "/b"))
	after, err := fs.Stat(ctx, "/b")
	require.NoError(t, err)

	require.Equal(t, before.Node, after.Node, "rename must preserve node identity for QID stability")
}

func TestRmdirRequiresEmpty(t *testing.T) {
	ctx := context.Background()
	fs := New(0755, 0, 0)
	require.NoError(t, fs.Mkdir(ctx, "/d", 0755))
	require.NoError(t, fs.Mkdir(ctx, "/d/sub", 0755))

	err := fs.Rmdir(ctx, "/d")
	require.Equal(t, backend.KindNotEmpty, backend.KindOf(err))

	require.NoError(t, fs.Rmdir(ctx, "/d/sub"))
	require.NoError(t, fs.Rmdir(ctx, "/d"))
}

func TestHardlinkSharesContentAndBumpsNlink(t *testing.T) {
	ctx := context.Background()
	fs := New(0755, 0, 0)
	fd, err := fs.Open(ctx, "/a", backend.O_CREAT|backend.O_RDWR, 0644)
	require.NoError(t, err)
	fs.Write(ctx, fd, []byte("x"), 0, 1, 0)
	fs.Close(ctx, fd)

	require.NoError(t, fs.Link(ctx, "/a", "/b"))

	st, err := fs.Stat(ctx, "/a")
	require.NoError(t, err)
	require.Equal(t, uint64(2), st.Nlink)

	data, err := fs.ReadFile(ctx, "/b")
	require.NoError(t, err)
	require.Equal(t, []byte("x"), data)
}

// memBlobStore is a trivial in-memory backend.BlobStore for tests.
type memBlobStore struct {
	mu   sync.Mutex
	blobs map[[32]byte][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[[32]byte][]byte)}
}

func (b *memBlobStore) Get(ctx context.Context, sum [32]byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blobs[sum], nil
}

func (b *memBlobStore) Put(ctx context.Context, data []byte) ([32]byte, error) {
	sum := sha256.Sum256(data)
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.blobs[sum] = cp
	return sum, nil
}

func TestBlobStoreBackedContent(t *testing.T) {
	ctx := context.Background()
	fs := New(0755, 0, 0)
	fs.SetBlobStore(newMemBlobStore())

	fd, err := fs.Open(ctx, "/a", backend.O_CREAT|backend.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = fs.Write(ctx, fd, []byte("blob content"), 0, len("blob content"), 0)
	require.NoError(t, err)
	require.NoError(t, fs.Close(ctx, fd))

	data, err := fs.ReadFile(ctx, "/a")
	require.NoError(t, err)
	require.Equal(t, []byte("blob content"), data)

	st, err := fs.Stat(ctx, "/a")
	require.NoError(t, err)
	require.Equal(t, uint64(len("blob content")), st.Size)
}
