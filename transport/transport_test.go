package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultDeviceConfigSpace(t *testing.T) {
	d := DefaultDevice()
	require.Equal(t, uint32(0x9), d.ID)
	require.Equal(t, uint32(0x1), d.HostFeature)

	cfg := d.ConfigSpace()
	require.Equal(t, byte(len("host9p")), cfg[0])
	require.Equal(t, "host9p", string(cfg[2:]))
}

func TestLoopbackRoundTrip(t *testing.T) {
	l := NewLoopback()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	idx := l.SubmitRequest([]byte("request"))

	frame, gotIdx, err := l.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, idx, gotIdx)
	require.Equal(t, []byte("request"), frame)

	require.NoError(t, l.Send(idx, []byte("reply")))

	reply, err := l.ReplyFor(ctx, idx)
	require.NoError(t, err)
	require.Equal(t, []byte("reply"), reply)
}

func TestLoopbackRecvCancellation(t *testing.T) {
	l := NewLoopback()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := l.Recv(ctx)
	require.Error(t, err)
}
