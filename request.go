package ninepl

import (
	"context"
	"errors"

	"aqwari.net/net/ninepl/backend"
	"aqwari.net/net/ninepl/qid"
)

// errAborted is returned by a handler to signal that it noticed, via
// ShouldAbort, that its tag was flushed partway through -- the
// dispatcher must not write any reply, successful or not (spec.md §5).
var errAborted = errors.New("ninepl: request aborted by flush")

// request carries everything a single handler needs: the per-tag
// cancellable context, the owning connection, and the tag itself
// (spec.md §4.3). It plays the role the teacher's reqInfo played for
// styx's callback-based Request types, adapted to synchronous
// handlers that return a reply body directly instead of being handed
// a response method to call later.
type request struct {
	ctx context.Context
	c   *conn
	tag uint16
}

// aborted reports whether a Tflush superseded this request. Handlers
// call this after their backend calls and return errAborted without
// building a reply body if it's true; handleFrame independently sends
// nothing for a tag that is no longer registered (spec.md §4.3, §5).
func (r *request) aborted() bool {
	select {
	case <-r.ctx.Done():
		return true
	default:
		return r.c.tags.ShouldAbort(r.tag)
	}
}

// handleFrame decodes one request frame and dispatches it. parent is
// the connection's root context, from which the tag table derives a
// cancellable context for this one request.
func (c *conn) handleFrame(parent context.Context, index int, frame []byte) {
	id, tag, body, err := parseHeader(frame)
	if err != nil {
		c.srv.logf("ninepl: malformed frame: %v", err)
		return
	}

	if id == msgTversion {
		c.handleTversion(index, tag, body)
		return
	}
	if c.State() != stateActive {
		c.sendError(index, tag, backend.New(backend.KindInval, "Tversion not yet received"))
		return
	}
	if id == msgTflush {
		c.handleTflush(index, tag, body)
		return
	}
	if c.tags.InFlight(tag) {
		c.sendError(index, tag, backend.New(backend.KindInval, "tag %d already in use", tag))
		return
	}

	ctx := c.tags.Add(parent, tag)
	req := &request{ctx: ctx, c: c, tag: tag}

	respBody, rerr := dispatch(req, id, body)

	if !c.tags.Flush(tag) {
		// A concurrent Tflush already removed this tag: no reply at
		// all, successful or not (spec.md §4.4, Tflush).
		return
	}
	if rerr == errAborted {
		return
	}
	if rerr != nil {
		if !backend.IsKnown(rerr) {
			c.srv.logf("ninepl: tag %d: %v", tag, rerr)
		}
		c.sendError(index, tag, rerr)
		return
	}
	c.sendReply(index, id+1, tag, respBody)
}

// dispatch routes a decoded request body to its handler. Unknown ids
// abort the whole connection, not just the one tag (spec.md §4.4):
// dispatch cancels the connection-wide context itself and returns an
// error, which the caller still sends as an Rlerror.
func dispatch(r *request, id uint8, body []byte) ([]byte, error) {
	switch id {
	case msgTattach:
		return r.handleTattach(body)
	case msgTwalk:
		return r.handleTwalk(body)
	case msgTlopen:
		return r.handleTlopen(body)
	case msgTlcreate:
		return r.handleTlcreate(body)
	case msgTsymlink:
		return r.handleTsymlink(body)
	case msgTmknod:
		return r.handleTmknod(body)
	case msgTreadlink:
		return r.handleTreadlink(body)
	case msgTgetattr:
		return r.handleTgetattr(body)
	case msgTsetattr:
		return r.handleTsetattr(body)
	case msgTreaddir:
		return r.handleTreaddir(body)
	case msgTread:
		return r.handleTread(body)
	case msgTwrite:
		return r.handleTwrite(body)
	case msgTrenameat:
		return r.handleTrenameat(body)
	case msgTunlinkat:
		return r.handleTunlinkat(body)
	case msgTlink:
		return r.handleTlink(body)
	case msgTmkdir:
		return r.handleTmkdir(body)
	case msgTstatfs:
		return r.handleTstatfs(body)
	case msgTclunk:
		return r.handleTclunk(body)
	case msgTfsync:
		return r.handleTfsync(body)
	case msgTlock:
		return r.handleTlock(body)
	case msgTxattrwalk:
		return r.handleTxattrwalk(body)
	case msgTxattrcreate:
		return r.handleTxattrcreate(body)
	default:
		r.c.abortConnection()
		return nil, backend.New(backend.KindInval, "unknown message type %d", id)
	}
}

// sendReply encodes and sends a successful reply, failing the request
// with EIO instead if it would overflow the connection's reply buffer
// (spec.md §4.1, §6).
func (c *conn) sendReply(index int, id uint8, tag uint16, body []byte) {
	if !fitsReplyBuffer(c.Msize(), len(body)) {
		c.srv.logf("ninepl: tag %d: reply of %d bytes exceeds reply buffer", tag, len(body))
		c.queue.Send(index, buildRlerror(tag, backend.Errno(backend.New(backend.KindIO, "reply too large"))))
		return
	}
	c.queue.Send(index, buildReply(id, tag, body))
}

func (c *conn) sendError(index int, tag uint16, err error) {
	c.queue.Send(index, buildRlerror(tag, backend.Errno(err)))
}

// qidFor derives a file's QID from its backend Stat, per the identity
// rule in spec.md §4.2/§8: QID equality depends only on Stat.Node.
func qidFor(st backend.Stat) qid.QID {
	kind := qid.FromMode(st.Type == backend.TypeDirectory, st.Type == backend.TypeSymlink)
	return qid.New(st.Node, st.Version, kind)
}
