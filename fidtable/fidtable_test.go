package fidtable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableLifecycle(t *testing.T) {
	tab := New()

	_, ok := tab.Get(1)
	require.False(t, ok, "unknown fid must miss")

	tab.Set(1, Record{Path: "/", Kind: KindInode, Uid: 1000})
	r, ok := tab.Get(1)
	require.True(t, ok)
	require.Equal(t, "/", r.Path)
	require.Equal(t, 1, tab.Len())

	tab.Clunk(1)
	_, ok = tab.Get(1)
	require.False(t, ok)

	// Clunking an already-clunked (or never-bound) fid never fails.
	tab.Clunk(1)
	tab.Clunk(99)
}

func TestTableReset(t *testing.T) {
	tab := New()
	tab.Set(1, Record{Path: "/a"})
	tab.Set(2, Record{Path: "/b"})
	require.Equal(t, 2, tab.Len())

	tab.Reset()
	require.Equal(t, 0, tab.Len())
	_, ok := tab.Get(1)
	require.False(t, ok)
}

func TestTableRebind(t *testing.T) {
	tab := New()
	tab.Set(5, Record{Path: "/old", Kind: KindInode})
	tab.Set(5, Record{Path: "/new", Kind: KindInode})
	r, ok := tab.Get(5)
	require.True(t, ok)
	require.Equal(t, "/new", r.Path)
}

func TestSnapshotAndLoad(t *testing.T) {
	tab := New()
	tab.Set(1, Record{Path: "/a", Kind: KindInode, Uid: 10})
	tab.Set(2, Record{Path: "/b", Kind: KindInode, Uid: 20})

	snap := tab.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "/a", snap[1].Path)
	require.Equal(t, uint32(20), snap[2].Uid)

	other := New()
	other.Set(99, Record{Path: "/stale"})
	other.Load(snap)

	_, ok := other.Get(99)
	require.False(t, ok, "Load must replace the table wholesale, not merge")
	r, ok := other.Get(2)
	require.True(t, ok)
	require.Equal(t, uint32(20), r.Uid)
}

func TestSnapshotIsACopy(t *testing.T) {
	tab := New()
	tab.Set(1, Record{Path: "/a"})
	snap := tab.Snapshot()

	tab.Set(1, Record{Path: "/changed"})
	require.Equal(t, "/a", snap[1].Path, "mutating the table must not affect a prior snapshot")
}
