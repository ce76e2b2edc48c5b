package ninepl

import (
	"context"
	"sync"

	"aqwari.net/net/ninepl/fidtable"
	"aqwari.net/net/ninepl/tagtable"
	"aqwari.net/net/ninepl/transport"
)

// connState tracks whether a connection has completed version
// negotiation (spec.md §4.4, Tversion).
type connState int

const (
	stateNew    connState = iota // Tversion not yet received
	stateActive                  // version negotiated, ready to serve requests
)

// A conn is the server-side state of one 9P2000.L connection, from
// the first Tversion through the transport's Recv loop ending (spec.md
// §6). One conn is created per call to Server.Serve.
type conn struct {
	srv   *Server
	queue transport.Queue
	fids  *fidtable.Table
	tags  *tagtable.Table

	mu      sync.Mutex
	state   connState
	version string
	msize   uint32
	device  transport.Device

	cancel context.CancelFunc // stops Serve's Recv loop; set by Serve
}

func newConn(srv *Server, q transport.Queue) *conn {
	return &conn{
		srv:    srv,
		queue:  q,
		fids:   fidtable.New(),
		tags:   tagtable.New(),
		msize:  DefaultMsize,
		device: srv.Device,
	}
}

// Msize returns the currently negotiated message size, or the default
// if Tversion has not yet completed.
func (c *conn) Msize() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msize
}

func (c *conn) State() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// abortConnection cancels the connection's context, used when a client
// sends a message id the dispatcher doesn't recognize (spec.md §4.4).
// Serve's Recv loop stops at once, other in-flight requests see their
// contexts cancelled, and Serve returns once their goroutines finish.
func (c *conn) abortConnection() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// negotiate records the result of a successful Tversion exchange and
// resets the fid table, per spec.md §4.4: a Tversion aborts every fid
// outstanding on the connection, even on a renegotiation.
func (c *conn) negotiate(version string, msize uint32) {
	c.mu.Lock()
	c.version = version
	c.msize = msize
	c.state = stateActive
	c.mu.Unlock()
	c.fids.Reset()
}

// SessionState is everything needed to reconstruct a conn elsewhere,
// per spec.md §6: device identity, negotiated version and msize, and
// the live fid table. In-flight tags are deliberately excluded --  a
// request suspended mid-flight has no well-defined resumption point,
// so a client simply sees an unreplied tag time out across the gap,
// the same as it would for any other dropped reply.
type SessionState struct {
	Device  transport.Device
	Version string
	Msize   uint32
	Fids    map[uint32]fidtable.Record
}

// SaveState snapshots c for later restoration.
func (c *conn) SaveState() SessionState {
	c.mu.Lock()
	st := SessionState{Device: c.device, Version: c.version, Msize: c.msize}
	c.mu.Unlock()
	st.Fids = c.fids.Snapshot()
	return st
}

// RestoreSession rebuilds a conn bound to q from a previously saved
// state (spec.md §6).
func (srv *Server) RestoreSession(q transport.Queue, st SessionState) *conn {
	c := newConn(srv, q)
	c.device = st.Device
	if st.Version != "" {
		c.version = st.Version
		c.state = stateActive
	}
	if st.Msize != 0 {
		c.msize = st.Msize
	}
	c.fids.Load(st.Fids)
	return c
}
