package ninepl

import (
	"aqwari.net/net/ninepl/backend"
	"aqwari.net/net/ninepl/fidtable"
	"aqwari.net/net/ninepl/qid"
	"aqwari.net/net/ninepl/wire"
)

// minMsize is the smallest message size the server will negotiate: a
// header, an Rlerror, and a little slack, so every reply -- even a
// failure -- always fits (spec.md §6).
const minMsize = 512

// handleTversion negotiates the protocol version and message size,
// and resets the connection's fid table (spec.md §4.4). Tversion is
// dispatched before tag registration: it carries no cancellable state
// of its own, and a client is required to have no other requests
// outstanding when it sends one.
func (c *conn) handleTversion(index int, tag uint16, body []byte) {
	vals, err := wire.Unmarshal("ws", wire.NewSliceReader(body))
	if err != nil {
		c.sendError(index, tag, backend.New(backend.KindInval, "malformed Tversion"))
		return
	}
	clientMsize := vals[0].(uint32)
	clientVersion := vals[1].(string)

	msize := clientMsize
	if max := c.srv.maxSize(); msize > max {
		msize = max
	}
	if msize < minMsize {
		msize = minMsize
	}

	version := "unknown"
	if clientVersion == Version {
		version = Version
		c.negotiate(version, msize)
	} else {
		c.mu.Lock()
		c.state = stateNew
		c.mu.Unlock()
	}

	respBody := make([]byte, 4+2+len(version))
	wire.Marshal("ws", []interface{}{msize, version}, respBody, 0)
	c.sendReply(index, msgRversion, tag, respBody)
}

// handleTflush cancels a previously issued request's context and
// removes it from the tag table, so the dispatcher never sends a
// reply for it (spec.md §4.3, §4.4). Tflush itself always succeeds,
// whether or not oldtag was actually outstanding.
func (c *conn) handleTflush(index int, tag uint16, body []byte) {
	vals, err := wire.Unmarshal("h", wire.NewSliceReader(body))
	if err != nil {
		c.sendError(index, tag, backend.New(backend.KindInval, "malformed Tflush"))
		return
	}
	oldtag := vals[0].(uint16)
	c.tags.Flush(oldtag)
	c.sendReply(index, msgRflush, tag, nil)
}

// handleTattach binds fid to the backend's root and returns its QID.
// Authentication is out of scope (spec.md §9): afid is accepted and
// not checked, and uname/aname are not recorded. The numeric n_uname
// becomes the fid's uid, which later creations through the fid use as
// the new node's owner; no permission checks are made against it.
func (r *request) handleTattach(body []byte) ([]byte, error) {
	vals, err := wire.Unmarshal("wwssw", wire.NewSliceReader(body))
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tattach")
	}
	fid := vals[0].(uint32)
	uid := vals[4].(uint32)

	st, err := r.c.srv.FS.Stat(r.ctx, "/")
	if err != nil {
		return nil, err
	}
	if r.aborted() {
		return nil, errAborted
	}

	r.c.fids.Set(fid, fidtable.Record{Path: "/", Kind: fidtable.KindInode, Uid: uid})

	q := qidFor(st)
	buf := make([]byte, qid.Len)
	q.Encode(buf)
	return buf, nil
}

// handleTclunk releases fid. Per spec.md §4.4, clunking an unknown or
// already-clunked fid is not an error.
func (r *request) handleTclunk(body []byte) ([]byte, error) {
	vals, err := wire.Unmarshal("w", wire.NewSliceReader(body))
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tclunk")
	}
	fid := vals[0].(uint32)
	r.c.fids.Clunk(fid)
	return nil, nil
}
