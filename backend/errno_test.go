package backend

import (
	"testing"

	goerrors "errors"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		kind  Kind
		errno uint32
	}{
		{KindPerm, uint32(unix.EPERM)},
		{KindNoEnt, uint32(unix.ENOENT)},
		{KindIO, uint32(unix.EIO)},
		{KindBadFd, uint32(unix.EBADF)},
		{KindBusy, uint32(unix.EBUSY)},
		{KindExist, uint32(unix.EEXIST)},
		{KindNotDir, uint32(unix.ENOTDIR)},
		{KindIsDir, uint32(unix.EISDIR)},
		{KindInval, uint32(unix.EINVAL)},
		{KindNotEmpty, uint32(unix.ENOTEMPTY)},
		{KindLoop, uint32(unix.ELOOP)},
	}
	for _, c := range cases {
		err := New(c.kind, "boom")
		require.Equal(t, c.errno, Errno(err))
	}
}

func TestErrnoUnmappedDefaultsToEIO(t *testing.T) {
	require.Equal(t, uint32(unix.EIO), Errno(goerrors.New("mystery failure")))
}

func TestErrnoNilIsZero(t *testing.T) {
	require.Equal(t, uint32(0), Errno(nil))
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := New(KindNoEnt, "stat %s", "/missing")
	wrapped := errors.Wrap(base, "walking path")
	require.Equal(t, KindNoEnt, KindOf(wrapped))
	require.Equal(t, uint32(unix.ENOENT), Errno(wrapped))
}
