// Package ninepl implements a 9P2000.L server: it decodes request
// frames off a transport.Queue, dispatches them against a pluggable
// backend.FS, and encodes replies, independent of any particular
// transport or storage implementation (spec.md §1, §2).
package ninepl

import (
	"context"
	"log"
	"os"
	"runtime"
	"sync"

	"aqwari.net/net/ninepl/backend"
	"aqwari.net/net/ninepl/transport"
)

// Logger receives diagnostic output from a Server. It is implemented
// by *log.Logger.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Server dispatches 9P2000.L requests arriving over a transport.Queue
// against a backend.FS (spec.md §2).
type Server struct {
	// FS is the backend every request is served from. Required.
	FS backend.FS

	// MaxSize caps the msize a client may negotiate in Tversion; the
	// server never agrees to a larger message size (spec.md §4.4). If
	// zero, DefaultMsize is used.
	MaxSize uint32

	// Device is the virtio-9p device identity reported to a guest
	// (spec.md §6). If zero, transport.DefaultDevice() is used.
	Device transport.Device

	// ErrorLog receives one line for conditions a client can't
	// diagnose on its own, such as a request that failed with an error
	// the backend did not classify, or a panic recovered from a handler.
	// If nil, lines go to a logger writing to standard error.
	ErrorLog Logger
}

// NewServer returns a Server ready to serve fs, with spec.md §6's
// default msize cap and device identity.
func NewServer(fs backend.FS) *Server {
	return &Server{
		FS:      fs,
		MaxSize: DefaultMsize,
		Device:  transport.DefaultDevice(),
	}
}

func (srv *Server) logf(format string, v ...interface{}) {
	logger := srv.ErrorLog
	if logger == nil {
		logger = log.New(os.Stderr, "ninepl: ", log.LstdFlags)
	}
	logger.Printf(format, v...)
}

func (srv *Server) maxSize() uint32 {
	if srv.MaxSize == 0 {
		return DefaultMsize
	}
	return srv.MaxSize
}

func (srv *Server) device() transport.Device {
	if srv.Device == (transport.Device{}) {
		return transport.DefaultDevice()
	}
	return srv.Device
}

// Serve runs the dispatch loop for a single connection over q until
// ctx is cancelled or q.Recv returns an error. Each request frame is
// handled in its own goroutine, so a request blocked in the backend --
// or superseded by a Tflush -- never stalls the rest of the connection
// (spec.md §5).
func (srv *Server) Serve(ctx context.Context, q transport.Queue) error {
	servCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := newConn(srv, q)
	c.device = srv.device()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		frame, index, err := q.Recv(servCtx)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.recoverPanic(index, frame)
			c.handleFrame(servCtx, index, frame)
		}()
	}
}

// recoverPanic turns a handler panic into a logged EIO reply instead
// of taking down the connection's other in-flight requests.
// The EIO reply is sent only if the request's tag is still registered,
// so a request that already replied or was flushed gets no second one.
func (c *conn) recoverPanic(index int, frame []byte) {
	if r := recover(); r != nil {
		const size = 64 << 10
		buf := make([]byte, size)
		buf = buf[:runtime.Stack(buf, false)]
		c.srv.logf("ninepl: panic handling request at index %d: %v\n%s", index, r, buf)
		if _, tag, _, err := parseHeader(frame); err == nil && c.tags.Flush(tag) {
			c.sendError(index, tag, backend.New(backend.KindIO, "panic in handler"))
		}
	}
}
