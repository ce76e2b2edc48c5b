package ninepl

import (
	"bytes"
	"context"
	"testing"
	"time"

	"aqwari.net/net/ninepl/backend"
	"aqwari.net/net/ninepl/backend/memfs"
	"aqwari.net/net/ninepl/transport"
	"aqwari.net/net/ninepl/wire"
	"github.com/stretchr/testify/require"
)

// harness runs a Server against a Loopback transport for one test.
type harness struct {
	t    *testing.T
	lb   *transport.Loopback
	ctx  context.Context
	done <-chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fs := memfs.New(0755, 0, 0)
	srv := NewServer(fs)
	lb := transport.NewLoopback()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lb) }()
	t.Cleanup(cancel)

	return &harness{t: t, lb: lb, ctx: ctx, done: done}
}

func (h *harness) roundTrip(frame []byte) []byte {
	h.t.Helper()
	idx := h.lb.SubmitRequest(frame)
	ctx, cancel := context.WithTimeout(h.ctx, 2*time.Second)
	defer cancel()
	reply, err := h.lb.ReplyFor(ctx, idx)
	require.NoError(h.t, err)
	return reply
}

func tframe(id uint8, tag uint16, format string, values []interface{}) []byte {
	body := make([]byte, 256)
	n, err := wire.Marshal(format, values, body, 0)
	if err != nil {
		panic(err)
	}
	return buildReply(id, tag, body[:n]) // reuses the size/id/tag header layout
}

func (h *harness) version(t *testing.T) {
	reply := h.roundTrip(tframe(msgTversion, NoTag, "ws", []interface{}{uint32(DefaultMsize), Version}))
	id, tag, body, err := parseHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRversion), id)
	require.Equal(t, NoTag, tag)
	vals, err := wire.Unmarshal("ws", wire.NewSliceReader(body))
	require.NoError(t, err)
	require.Equal(t, Version, vals[1].(string))
}

func (h *harness) attach(t *testing.T, fid uint32, uid uint32) {
	reply := h.roundTrip(tframe(msgTattach, 1, "wwssw", []interface{}{fid, NoFid, "user", "", uid}))
	id, _, _, err := parseHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRattach), id)
}

func TestVersionNegotiation(t *testing.T) {
	h := newHarness(t)
	h.version(t)
}

func TestUnversionedRequestRejected(t *testing.T) {
	h := newHarness(t)
	reply := h.roundTrip(tframe(msgTattach, 1, "wwssw", []interface{}{uint32(0), NoFid, "user", "", uint32(0)}))
	id, _, body, err := parseHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRlerror), id)
	require.Len(t, body, 4)
}

func TestAttachMkdirGetattr(t *testing.T) {
	h := newHarness(t)
	h.version(t)
	h.attach(t, 1, 1000)

	// Tmkdir(dfid=1, "dir", mode=0755, gid=1000)
	reply := h.roundTrip(tframe(msgTmkdir, 2, "wsww", []interface{}{uint32(1), "dir", uint32(0755), uint32(1000)}))
	id, _, body, err := parseHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRmkdir), id)
	require.Len(t, body, 13)

	// Twalk(fid=1, newfid=2, ["dir"]) to bind a fid to the new directory.
	walkBody := make([]byte, 0, 64)
	buf := make([]byte, 8)
	n, _ := wire.Marshal("ww", []interface{}{uint32(1), uint32(2)}, buf, 0)
	walkBody = append(walkBody, buf[:n]...)
	hdr := make([]byte, 2)
	wire.Marshal("h", []interface{}{uint16(1)}, hdr, 0)
	walkBody = append(walkBody, hdr...)
	nameBuf := make([]byte, 2+len("dir"))
	wire.Marshal("s", []interface{}{"dir"}, nameBuf, 0)
	walkBody = append(walkBody, nameBuf...)
	reply = h.roundTrip(buildReply(msgTwalk, 3, walkBody))
	id, _, _, err = parseHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRwalk), id)

	// Tgetattr(fid=2, request_mask=0)
	reply = h.roundTrip(tframe(msgTgetattr, 4, "wd", []interface{}{uint32(2), uint64(0)}))
	id, _, body, err = parseHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRgetattr), id)
	require.True(t, len(body) > 13)
}

func TestFlushUnknownTagSucceeds(t *testing.T) {
	h := newHarness(t)
	h.version(t)

	// Flushing a tag that was never issued must still succeed.
	reply := h.roundTrip(tframe(msgTflush, 5, "h", []interface{}{uint16(999)}))
	id, _, _, err := parseHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRflush), id)
}

// tlcreateBody builds a Tlcreate body: fid[4] name[s] flags[4] mode[4] gid[4].
func tlcreateBody(fid uint32, name string, flags int, mode, gid uint32) []byte {
	fidBuf := make([]byte, 4)
	wire.Marshal("w", []interface{}{fid}, fidBuf, 0)
	nameBuf := make([]byte, 2+len(name))
	wire.Marshal("s", []interface{}{name}, nameBuf, 0)
	rest := make([]byte, 12)
	wire.Marshal("www", []interface{}{uint32(flags), mode, gid}, rest, 0)
	out := append([]byte{}, fidBuf...)
	out = append(out, nameBuf...)
	out = append(out, rest...)
	return out
}

// twriteBody builds a Twrite body: fid[4] offset[8] count[4] data[count].
func twriteBody(fid uint32, offset uint64, data []byte) []byte {
	head := make([]byte, 16)
	wire.Marshal("wdw", []interface{}{fid, offset, uint32(len(data))}, head, 0)
	return append(head, data...)
}

func TestWriteThenRead(t *testing.T) {
	h := newHarness(t)
	h.version(t)
	h.attach(t, 1, 1000)

	reply := h.roundTrip(buildReply(msgTlcreate, 2, tlcreateBody(1, "f", backend.O_RDWR, 0644, 1000)))
	id, _, body, err := parseHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRlcreate), id)
	require.True(t, len(body) > 0)

	reply = h.roundTrip(buildReply(msgTwrite, 3, twriteBody(1, 0, []byte("hello"))))
	id, _, body, err = parseHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRwrite), id)
	vals, err := wire.Unmarshal("w", wire.NewSliceReader(body))
	require.NoError(t, err)
	require.Equal(t, uint32(5), vals[0].(uint32))

	reply = h.roundTrip(tframe(msgTlopen, 4, "ww", []interface{}{uint32(1), uint32(backend.O_RDONLY)}))
	id, _, _, err = parseHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRlopen), id)

	reply = h.roundTrip(tframe(msgTread, 5, "wdw", []interface{}{uint32(1), uint64(0), uint32(5)}))
	id, _, body, err = parseHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRread), id)
	require.Len(t, body, 4+5)
	vals, err = wire.Unmarshal("w", wire.NewSliceReader(body[:4]))
	require.NoError(t, err)
	require.Equal(t, uint32(5), vals[0].(uint32))
	require.Equal(t, "hello", string(body[4:9]))
}

// blockingReadFS wraps memfs.FS and makes ReadFile signal started, then
// wait on gate, before actually reading -- giving a test a window in
// which to race a Tflush against an in-flight Tread.
type blockingReadFS struct {
	*memfs.FS
	started chan struct{}
	gate    chan struct{}
}

func (fs *blockingReadFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	close(fs.started)
	<-fs.gate
	return fs.FS.ReadFile(ctx, path)
}

func TestFlushPreemptsInFlightRead(t *testing.T) {
	fs := &blockingReadFS{
		FS:      memfs.New(0755, 0, 0),
		started: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	srv := NewServer(fs)
	lb := transport.NewLoopback()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lb) }()
	h := &harness{t: t, lb: lb, ctx: ctx, done: done}

	h.version(t)
	h.attach(t, 1, 1000)

	reply := h.roundTrip(buildReply(msgTlcreate, 2, tlcreateBody(1, "big", backend.O_RDWR, 0644, 1000)))
	id, _, _, err := parseHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRlcreate), id)

	content := bytes.Repeat([]byte("x"), 4096)
	reply = h.roundTrip(buildReply(msgTwrite, 3, twriteBody(1, 0, content)))
	id, _, _, err = parseHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRwrite), id)

	reply = h.roundTrip(tframe(msgTlopen, 4, "ww", []interface{}{uint32(1), uint32(backend.O_RDONLY)}))
	id, _, _, err = parseHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRlopen), id)

	// Tread under tag 7 blocks inside ReadFile until the gate is released.
	readIdx := lb.SubmitRequest(tframe(msgTread, 7, "wdw", []interface{}{uint32(1), uint64(0), uint32(4096)}))
	<-fs.started // tag 7 is now registered and blocked in the backend

	flushReply := h.roundTrip(tframe(msgTflush, 8, "h", []interface{}{uint16(7)}))
	id, tag, _, err := parseHeader(flushReply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRflush), id)
	require.Equal(t, uint16(8), tag)

	close(fs.gate)

	rctx, rcancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer rcancel()
	_, err = lb.ReplyFor(rctx, readIdx)
	require.Error(t, err, "a flushed tag must never receive an Rread reply")
}

func TestUnknownMessageAbortsConnection(t *testing.T) {
	h := newHarness(t)
	h.version(t)

	const unknownID = uint8(255)
	reply := h.roundTrip(buildReply(unknownID, 6, nil))
	id, _, _, err := parseHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint8(msgRlerror), id)

	select {
	case err := <-h.done:
		require.Error(t, err, "an unknown message must end Serve's loop")
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after an unknown message type")
	}
}
