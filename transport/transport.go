// Package transport models the inward collaborator described in
// spec.md §6: a virtio queue that hands the dispatcher raw request
// frames tagged with an index, and accepts completed reply frames
// keyed by that same index. The transport itself (virtio ring
// handling) is out of scope (spec.md §1); this package only defines
// the boundary and a loopback implementation for tests.
package transport

import "context"

// Device describes the virtio-9p device configuration a guest sees
// (spec.md §6): device id 0x9, host feature bit 0x1 (mount point
// support), and a length-prefixed mount tag in the config space.
type Device struct {
	ID          uint32
	HostFeature uint32
	MountTag    string
}

// DefaultDevice is the device configuration spec.md §6 names.
func DefaultDevice() Device {
	return Device{ID: 0x9, HostFeature: 0x1, MountTag: "host9p"}
}

// ConfigSpace encodes the device's config space: a 2-byte length
// prefix followed by the mount tag, matching the wire layout a guest's
// virtio-9p driver expects.
func (d Device) ConfigSpace() []byte {
	tag := d.MountTag
	buf := make([]byte, 2+len(tag))
	buf[0] = byte(len(tag))
	buf[1] = byte(len(tag) >> 8)
	copy(buf[2:], tag)
	return buf
}

// Queue is the inward transport interface the dispatcher depends on:
// a supplier of (request frame, index) pairs and a sink that accepts
// a completed reply frame for a given index (spec.md §6).
type Queue interface {
	// Recv blocks until a request frame is available, or ctx is
	// cancelled. index identifies which virtio descriptor the reply
	// must be written back to.
	Recv(ctx context.Context) (frame []byte, index int, err error)

	// Send delivers a completed reply frame for the request
	// previously received with this index.
	Send(index int, frame []byte) error
}

// Loopback is an in-process Queue implementation backed by Go
// channels, used by tests and by any embedder that wants to drive the
// dispatcher without a real virtio transport.
type Loopback struct {
	requests chan loopbackReq
	replies  chan loopbackReply
	nextIdx  int
}

type loopbackReq struct {
	frame []byte
	index int
}

type loopbackReply struct {
	index int
	frame []byte
}

// NewLoopback returns a ready-to-use Loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{
		requests: make(chan loopbackReq, 64),
		replies:  make(chan loopbackReply, 64),
	}
}

// SubmitRequest enqueues frame as if it arrived from a guest, and
// returns the index the dispatcher will echo back in ReplyFor.
func (l *Loopback) SubmitRequest(frame []byte) int {
	idx := l.nextIdx
	l.nextIdx++
	l.requests <- loopbackReq{frame: frame, index: idx}
	return idx
}

// ReplyFor blocks until the reply frame for index arrives.
func (l *Loopback) ReplyFor(ctx context.Context, index int) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-l.replies:
			if r.index == index {
				return r.frame, nil
			}
			// Not our index; someone else is also waiting. In a
			// single-client test this should not happen, but guard
			// against livelock rather than dropping it.
			l.replies <- r
		}
	}
}

func (l *Loopback) Recv(ctx context.Context) ([]byte, int, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case r := <-l.requests:
		return r.frame, r.index, nil
	}
}

func (l *Loopback) Send(index int, frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	l.replies <- loopbackReply{index: index, frame: cp}
	return nil
}
