package ninepl

import (
	"path"

	"aqwari.net/net/ninepl/backend"
	"aqwari.net/net/ninepl/fidtable"
	"aqwari.net/net/ninepl/qid"
	"aqwari.net/net/ninepl/wire"
)

// handleTlopen verifies fid's file can be opened with the requested
// flags and returns its QID. The open is scoped to this handler --
// Tread and Twrite each open the file again on their own (spec.md §4.4,
// §5) -- so the descriptor is closed again immediately rather than
// stashed on the fid.
func (r *request) handleTlopen(body []byte) ([]byte, error) {
	vals, err := wire.Unmarshal("ww", wire.NewSliceReader(body))
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tlopen")
	}
	fid := vals[0].(uint32)
	flags := int(vals[1].(uint32))

	rec, found := r.c.fids.Get(fid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", fid)
	}

	fd, err := r.c.srv.FS.Open(r.ctx, rec.Path, flags, 0)
	if err != nil {
		return nil, err
	}
	if err := r.c.srv.FS.Close(r.ctx, fd); err != nil {
		return nil, err
	}
	if r.aborted() {
		return nil, errAborted
	}

	st, err := r.c.srv.FS.Stat(r.ctx, rec.Path)
	if err != nil {
		return nil, err
	}

	return encodeQidIounit(qidFor(st), r.c.Msize()-24), nil
}

// handleTlcreate creates name in the directory fid refers to, opens
// it, and rebinds fid to the new file -- Tlcreate, unlike Twalk, never
// allocates a second fid (spec.md §4.4).
func (r *request) handleTlcreate(body []byte) ([]byte, error) {
	next := wire.NewSliceReader(body)
	v1, err := wire.Unmarshal("w", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tlcreate")
	}
	fid := v1[0].(uint32)

	v2, err := wire.Unmarshal("s", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tlcreate")
	}
	name := v2[0].(string)

	v3, err := wire.Unmarshal("www", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tlcreate")
	}
	flags := int(v3[0].(uint32))
	mode := v3[1].(uint32)
	gid := v3[2].(uint32)

	rec, found := r.c.fids.Get(fid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", fid)
	}

	newpath := path.Join(rec.Path, name)
	fd, err := r.c.srv.FS.Open(r.ctx, newpath, flags|backend.O_CREAT, mode)
	if err != nil {
		return nil, err
	}
	if err := r.c.srv.FS.Close(r.ctx, fd); err != nil {
		return nil, err
	}
	if r.aborted() {
		return nil, errAborted
	}
	if err := r.c.srv.FS.Chown(r.ctx, newpath, rec.Uid, gid); err != nil {
		return nil, err
	}

	st, err := r.c.srv.FS.Stat(r.ctx, newpath)
	if err != nil {
		return nil, err
	}

	r.c.fids.Set(fid, fidtable.Record{Path: newpath, Kind: fidtable.KindInode, Uid: rec.Uid})

	return encodeQidIounit(qidFor(st), r.c.Msize()-24), nil
}

func encodeQidIounit(q qid.QID, iounit uint32) []byte {
	buf := make([]byte, qid.Len+4)
	q.Encode(buf)
	wire.Marshal("w", []interface{}{iounit}, buf, qid.Len)
	return buf
}
