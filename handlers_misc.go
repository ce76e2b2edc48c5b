package ninepl

import (
	"path"

	"aqwari.net/net/ninepl/backend"
	"aqwari.net/net/ninepl/fidtable"
	"aqwari.net/net/ninepl/qid"
	"aqwari.net/net/ninepl/wire"
)

func (r *request) handleTsymlink(body []byte) ([]byte, error) {
	vals, err := wire.Unmarshal("wssw", wire.NewSliceReader(body))
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tsymlink")
	}
	fid := vals[0].(uint32)
	name := vals[1].(string)
	target := vals[2].(string)
	gid := vals[3].(uint32)

	rec, found := r.c.fids.Get(fid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", fid)
	}
	newpath := path.Join(rec.Path, name)

	if err := r.c.srv.FS.Symlink(r.ctx, target, newpath); err != nil {
		return nil, err
	}
	if err := r.c.srv.FS.Chown(r.ctx, newpath, rec.Uid, gid); err != nil {
		return nil, err
	}
	st, err := r.c.srv.FS.Lstat(r.ctx, newpath)
	if err != nil {
		return nil, err
	}
	if r.aborted() {
		return nil, errAborted
	}

	buf := make([]byte, qid.Len)
	qidFor(st).Encode(buf)
	return buf, nil
}

// handleTmknod creates name as a node of the requested kind. The
// backend this server ships with collapses every kind to a regular
// file (see backend/memfs), so major/minor are accepted and ignored.
func (r *request) handleTmknod(body []byte) ([]byte, error) {
	next := wire.NewSliceReader(body)
	v1, err := wire.Unmarshal("w", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tmknod")
	}
	fid := v1[0].(uint32)
	v2, err := wire.Unmarshal("s", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tmknod")
	}
	name := v2[0].(string)
	v3, err := wire.Unmarshal("wwww", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tmknod")
	}
	mode := v3[0].(uint32)
	gid := v3[3].(uint32)

	rec, found := r.c.fids.Get(fid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", fid)
	}
	newpath := path.Join(rec.Path, name)

	if err := r.c.srv.FS.Mknod(r.ctx, newpath, backend.TypeFile, mode); err != nil {
		return nil, err
	}
	if err := r.c.srv.FS.Chown(r.ctx, newpath, rec.Uid, gid); err != nil {
		return nil, err
	}
	st, err := r.c.srv.FS.Lstat(r.ctx, newpath)
	if err != nil {
		return nil, err
	}
	if r.aborted() {
		return nil, errAborted
	}

	buf := make([]byte, qid.Len)
	qidFor(st).Encode(buf)
	return buf, nil
}

func (r *request) handleTreadlink(body []byte) ([]byte, error) {
	vals, err := wire.Unmarshal("w", wire.NewSliceReader(body))
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Treadlink")
	}
	fid := vals[0].(uint32)

	rec, found := r.c.fids.Get(fid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", fid)
	}

	target, err := r.c.srv.FS.Readlink(r.ctx, rec.Path)
	if err != nil {
		return nil, err
	}
	if r.aborted() {
		return nil, errAborted
	}

	buf := make([]byte, 2+len(target))
	wire.Marshal("s", []interface{}{target}, buf, 0)
	return buf, nil
}

func (r *request) handleTmkdir(body []byte) ([]byte, error) {
	next := wire.NewSliceReader(body)
	v1, err := wire.Unmarshal("w", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tmkdir")
	}
	dfid := v1[0].(uint32)
	v2, err := wire.Unmarshal("s", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tmkdir")
	}
	name := v2[0].(string)
	v3, err := wire.Unmarshal("ww", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tmkdir")
	}
	mode := v3[0].(uint32)
	gid := v3[1].(uint32)

	rec, found := r.c.fids.Get(dfid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", dfid)
	}
	newpath := path.Join(rec.Path, name)

	if err := r.c.srv.FS.Mkdir(r.ctx, newpath, mode); err != nil {
		return nil, err
	}
	if err := r.c.srv.FS.Chown(r.ctx, newpath, rec.Uid, gid); err != nil {
		return nil, err
	}
	st, err := r.c.srv.FS.Lstat(r.ctx, newpath)
	if err != nil {
		return nil, err
	}
	if r.aborted() {
		return nil, errAborted
	}

	buf := make([]byte, qid.Len)
	qidFor(st).Encode(buf)
	return buf, nil
}

func (r *request) handleTlink(body []byte) ([]byte, error) {
	next := wire.NewSliceReader(body)
	v1, err := wire.Unmarshal("ww", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tlink")
	}
	dfid := v1[0].(uint32)
	fid := v1[1].(uint32)
	v2, err := wire.Unmarshal("s", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tlink")
	}
	name := v2[0].(string)

	drec, found := r.c.fids.Get(dfid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", dfid)
	}
	rec, found := r.c.fids.Get(fid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", fid)
	}

	newpath := path.Join(drec.Path, name)
	if err := r.c.srv.FS.Link(r.ctx, rec.Path, newpath); err != nil {
		return nil, err
	}
	if r.aborted() {
		return nil, errAborted
	}
	return nil, nil
}

func (r *request) handleTrenameat(body []byte) ([]byte, error) {
	next := wire.NewSliceReader(body)
	v1, err := wire.Unmarshal("w", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Trenameat")
	}
	olddirfid := v1[0].(uint32)
	v2, err := wire.Unmarshal("s", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Trenameat")
	}
	oldname := v2[0].(string)
	v3, err := wire.Unmarshal("w", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Trenameat")
	}
	newdirfid := v3[0].(uint32)
	v4, err := wire.Unmarshal("s", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Trenameat")
	}
	newname := v4[0].(string)

	oldrec, found := r.c.fids.Get(olddirfid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", olddirfid)
	}
	newrec, found := r.c.fids.Get(newdirfid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", newdirfid)
	}

	oldpath := path.Join(oldrec.Path, oldname)
	newpath := path.Join(newrec.Path, newname)
	if err := r.c.srv.FS.Rename(r.ctx, oldpath, newpath); err != nil {
		return nil, err
	}
	if r.aborted() {
		return nil, errAborted
	}
	return nil, nil
}

// AT_REMOVEDIR, from linux/fcntl.h, distinguishes an rmdir from an
// unlink in Tunlinkat's flags field.
const atRemoveDir = 0x200

func (r *request) handleTunlinkat(body []byte) ([]byte, error) {
	next := wire.NewSliceReader(body)
	v1, err := wire.Unmarshal("w", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tunlinkat")
	}
	dirfid := v1[0].(uint32)
	v2, err := wire.Unmarshal("s", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tunlinkat")
	}
	name := v2[0].(string)
	v3, err := wire.Unmarshal("w", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tunlinkat")
	}
	flags := v3[0].(uint32)

	rec, found := r.c.fids.Get(dirfid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", dirfid)
	}
	target := path.Join(rec.Path, name)

	var rmErr error
	if flags&atRemoveDir != 0 {
		rmErr = r.c.srv.FS.Rmdir(r.ctx, target)
	} else {
		rmErr = r.c.srv.FS.Unlink(r.ctx, target)
	}
	if rmErr != nil {
		return nil, rmErr
	}
	if r.aborted() {
		return nil, errAborted
	}
	return nil, nil
}

// handleTstatfs reports the static filesystem accounting defaults
// from spec.md §4.4, or real numbers when the backend implements the
// optional backend.Statfs interface.
func (r *request) handleTstatfs(body []byte) ([]byte, error) {
	vals, err := wire.Unmarshal("w", wire.NewSliceReader(body))
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tstatfs")
	}
	fid := vals[0].(uint32)
	if _, found := r.c.fids.Get(fid); !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", fid)
	}

	var blocks, bfree, bavail, files, ffree uint64
	var fsid uint64
	if sfs, ok := r.c.srv.FS.(backend.Statfs); ok {
		blocks, bfree, bavail, files, ffree, err = sfs.Statfs(r.ctx)
		if err != nil {
			return nil, err
		}
	}
	if r.aborted() {
		return nil, errAborted
	}

	buf := make([]byte, 4+4+8*6+4)
	wire.Marshal("wwddddddw",
		[]interface{}{
			uint32(statfsType), uint32(statfsBsize),
			blocks, bfree, bavail, files, ffree, fsid,
			uint32(statfsNamelen),
		}, buf, 0)
	return buf, nil
}

// handleTfsync is a no-op: the in-memory backend has nothing to flush
// to durable storage. A disk-backed backend.FS would need its own
// sync hook to make this meaningful; none is defined because none of
// the backends in this tree need it.
func (r *request) handleTfsync(body []byte) ([]byte, error) {
	if _, err := wire.Unmarshal("w", wire.NewSliceReader(body)); err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tfsync")
	}
	return nil, nil
}

// handleTlock always reports the lock as granted. Advisory byte-range
// locking has no cooperating reader on a single in-memory backend with
// no concurrent second server, so this server does not enforce lock
// conflicts; it keeps no lock state and grants every Tlock, so POSIX
// lock-using clients get a plausible reply rather than a failure.
func (r *request) handleTlock(body []byte) ([]byte, error) {
	if len(body) < 4 {
		return nil, backend.New(backend.KindInval, "malformed Tlock")
	}
	const lockSuccess = 0
	return []byte{lockSuccess}, nil
}

// handleTxattrwalk binds newfid to a zero-size extended attribute
// handle. This server does not store extended attributes; Txattrwalk
// always reports size 0 rather than failing, so clients that probe for
// xattr support before giving up degrade gracefully.
func (r *request) handleTxattrwalk(body []byte) ([]byte, error) {
	next := wire.NewSliceReader(body)
	vals, err := wire.Unmarshal("ww", next)
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Txattrwalk")
	}
	fid := vals[0].(uint32)
	newfid := vals[1].(uint32)
	if _, err := wire.Unmarshal("s", next); err != nil {
		return nil, backend.New(backend.KindInval, "malformed Txattrwalk")
	}

	rec, found := r.c.fids.Get(fid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", fid)
	}
	r.c.fids.Set(newfid, fidtable.Record{Path: rec.Path, Kind: fidtable.KindXattr, Uid: rec.Uid})

	buf := make([]byte, 8)
	wire.Marshal("d", []interface{}{uint64(0)}, buf, 0)
	return buf, nil
}

// handleTxattrcreate accepts and ignores every request: this server
// stores no extended attributes, but the wire contract calls for an
// empty reply rather than an error (spec.md §4.4).
func (r *request) handleTxattrcreate(body []byte) ([]byte, error) {
	return nil, nil
}
