package ninepl

import (
	"path"

	"aqwari.net/net/ninepl/backend"
	"aqwari.net/net/ninepl/fidtable"
	"aqwari.net/net/ninepl/qid"
	"aqwari.net/net/ninepl/wire"
	"golang.org/x/sync/errgroup"
)

// handleTwalk resolves fid's path joined with each of nwname path
// elements in turn, and binds newfid to the result (spec.md §4.4).
//
// With nwname == 0, Twalk is a fid clone: newfid becomes an alias for
// fid's current path, no backend lookups happen, and the call always
// succeeds.
//
// Otherwise every candidate path -- fid's path joined with each
// successive prefix of the requested elements -- is independently
// resolvable without reference to its neighbors, so the per-component
// Lstat calls run concurrently under an errgroup rather than walking
// one element at a time. Unlike the standard protocol, this server
// does not support a short walk: if any component fails to resolve,
// the whole request fails and newfid is left untouched (see DESIGN.md,
// Open Question "Twalk partial success").
func (r *request) handleTwalk(body []byte) ([]byte, error) {
	next := wire.NewSliceReader(body)
	vals, err := wire.Unmarshal("ww", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Twalk")
	}
	fid := vals[0].(uint32)
	newfid := vals[1].(uint32)

	nv, err := wire.Unmarshal("h", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Twalk")
	}
	nwname := int(nv[0].(uint16))

	names := make([]string, nwname)
	for i := 0; i < nwname; i++ {
		sv, err := wire.Unmarshal("s", next)
		if err != nil {
			return nil, backend.New(backend.KindInval, "malformed Twalk")
		}
		names[i] = sv[0].(string)
	}

	rec, found := r.c.fids.Get(fid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", fid)
	}

	if nwname == 0 {
		r.c.fids.Set(newfid, rec)
		return []byte{0, 0}, nil
	}

	paths := make([]string, nwname)
	cur := rec.Path
	for i, name := range names {
		cur = path.Join(cur, name)
		paths[i] = cur
	}

	stats := make([]backend.Stat, nwname)
	errs := make([]error, nwname)
	g, gctx := errgroup.WithContext(r.ctx)
	for i := range paths {
		i := i
		g.Go(func() error {
			st, lerr := r.c.srv.FS.Lstat(gctx, paths[i])
			stats[i] = st
			errs[i] = lerr
			return nil
		})
	}
	g.Wait()

	if r.aborted() {
		return nil, errAborted
	}

	reached := nwname
	for i, e := range errs {
		if e != nil {
			reached = i
			break
		}
	}
	if reached == 0 {
		return nil, errs[0]
	}
	if reached < nwname {
		return nil, errs[reached]
	}

	r.c.fids.Set(newfid, fidtable.Record{Path: paths[nwname-1], Kind: fidtable.KindInode, Uid: rec.Uid})

	respBody := make([]byte, 2+reached*qid.Len)
	wire.Marshal("h", []interface{}{uint16(reached)}, respBody, 0)
	off := 2
	for i := 0; i < reached; i++ {
		off += qidFor(stats[i]).Encode(respBody[off:])
	}
	return respBody, nil
}
