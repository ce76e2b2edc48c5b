package tagtable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddFlushShouldAbort(t *testing.T) {
	tab := New()
	require.True(t, tab.ShouldAbort(7), "a tag never added should abort")

	ctx := tab.Add(context.Background(), 7)
	require.False(t, tab.ShouldAbort(7))
	require.Equal(t, 1, tab.Len())

	ok := tab.Flush(7)
	require.True(t, ok)
	require.True(t, tab.ShouldAbort(7))
	require.Error(t, ctx.Err(), "flushing a tag must cancel its context")
}

func TestFlushUnknownTagIsNoop(t *testing.T) {
	tab := New()
	require.False(t, tab.Flush(42))
}

func TestScratchIsolatedPerTag(t *testing.T) {
	tab := New()
	tab.Add(context.Background(), 1)
	tab.Add(context.Background(), 2)

	tab.Scratch(1)["data"] = []byte("one")
	tab.Scratch(2)["data"] = []byte("two")

	require.Equal(t, []byte("one"), tab.Scratch(1)["data"])
	require.Equal(t, []byte("two"), tab.Scratch(2)["data"])

	tab.Flush(1)
	require.Nil(t, tab.Scratch(1), "scratch must be released on flush")
	require.NotNil(t, tab.Scratch(2))
}

func TestAddDuplicateTagPanics(t *testing.T) {
	tab := New()
	tab.Add(context.Background(), 5)
	require.Panics(t, func() { tab.Add(context.Background(), 5) })
}

func TestInFlight(t *testing.T) {
	tab := New()
	require.False(t, tab.InFlight(9), "a tag never added is not in flight")

	tab.Add(context.Background(), 9)
	require.True(t, tab.InFlight(9))

	tab.Flush(9)
	require.False(t, tab.InFlight(9), "flushing removes the tag")
}
