package ninepl

import (
	"sort"

	"aqwari.net/net/ninepl/backend"
	"aqwari.net/net/ninepl/qid"
	"aqwari.net/net/ninepl/wire"
)

// readScratchKey is the tagtable.Scratch key a chunked Tread sequence
// caches its whole-file read under, so repeated Tread calls sharing
// one tag only hit the backend once (spec.md §4.4).
const readScratchKey = "readFile"

// handleTread reads up to count bytes starting at offset. backend.FS
// has no partial-read method, so the first Tread under a tag reads the
// whole file and the rest of that tag's chunked reads slice the result
// out of tag-scratch instead of reading again.
func (r *request) handleTread(body []byte) ([]byte, error) {
	vals, err := wire.Unmarshal("wdw", wire.NewSliceReader(body))
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Tread")
	}
	fid := vals[0].(uint32)
	offset := vals[1].(uint64)
	count := vals[2].(uint32)

	rec, found := r.c.fids.Get(fid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", fid)
	}

	scratch := r.c.tags.Scratch(r.tag)
	var data []byte
	if scratch != nil {
		data, _ = scratch[readScratchKey].([]byte)
	}
	if data == nil {
		data, err = r.c.srv.FS.ReadFile(r.ctx, rec.Path)
		if err != nil {
			return nil, err
		}
		if r.aborted() {
			return nil, errAborted
		}
		if scratch != nil {
			scratch[readScratchKey] = data
		}
	}

	if max := r.c.Msize() - 11; count > max {
		count = max
	}

	var chunk []byte
	if offset < uint64(len(data)) {
		end := offset + uint64(count)
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		chunk = data[offset:end]
	}

	buf := make([]byte, 4+len(chunk))
	wire.Marshal("w", []interface{}{uint32(len(chunk))}, buf, 0)
	copy(buf[4:], chunk)
	return buf, nil
}

// handleTwrite opens fid's file for write, writes count bytes at
// offset, and closes it again -- each Twrite is self-contained rather
// than reusing a descriptor stashed by a prior Tlopen/Tlcreate
// (spec.md §4.4, §5).
func (r *request) handleTwrite(body []byte) ([]byte, error) {
	vals, err := wire.Unmarshal("wdw", wire.NewSliceReader(body))
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Twrite")
	}
	fid := vals[0].(uint32)
	offset := vals[1].(uint64)
	count := vals[2].(uint32)

	const headerLen = 4 + 8 + 4
	if len(body) < headerLen+int(count) {
		return nil, backend.New(backend.KindInval, "Twrite: declared count exceeds body")
	}
	data := body[headerLen : headerLen+int(count)]

	rec, found := r.c.fids.Get(fid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", fid)
	}

	fd, err := r.c.srv.FS.Open(r.ctx, rec.Path, backend.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}

	n, werr := r.c.srv.FS.Write(r.ctx, fd, data, 0, len(data), int64(offset))
	if cerr := r.c.srv.FS.Close(r.ctx, fd); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return nil, werr
	}
	if r.aborted() {
		return nil, errAborted
	}

	buf := make([]byte, 4)
	wire.Marshal("w", []interface{}{uint32(n)}, buf, 0)
	return buf, nil
}

// handleTreaddir lists fid's directory, prefixed with synthetic "."
// and ".." entries, paginated by the opaque per-entry offset cookie
// spec.md §4.4 describes. Entries are sorted by name before paging so
// that repeated calls against an unchanged directory see a stable
// sequence -- List's own ordering (a Go map iteration) is not stable
// across calls.
func (r *request) handleTreaddir(body []byte) ([]byte, error) {
	vals, err := wire.Unmarshal("wdw", wire.NewSliceReader(body))
	if err != nil {
		return nil, backend.New(backend.KindInval, "malformed Treaddir")
	}
	fid := vals[0].(uint32)
	offset := vals[1].(uint64)
	count := vals[2].(uint32)

	rec, found := r.c.fids.Get(fid)
	if !found {
		return nil, backend.New(backend.KindBadFd, "fid %d not in use", fid)
	}

	dirSt, err := r.c.srv.FS.Lstat(r.ctx, rec.Path)
	if err != nil {
		return nil, err
	}
	entries, err := r.c.srv.FS.List(r.ctx, rec.Path)
	if err != nil {
		return nil, err
	}
	if r.aborted() {
		return nil, errAborted
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	all := make([]backend.DirEntry, 0, len(entries)+2)
	all = append(all, backend.DirEntry{Name: ".", Stat: dirSt})
	// ".."'s qid should be the parent's; this backend does not track
	// parent pointers from a Stat alone, so the directory's own qid is
	// reported instead. Clients only use "..": name to navigate, not
	// its qid, so this does not affect Twalk correctness.
	all = append(all, backend.DirEntry{Name: "..", Stat: dirSt})
	all = append(all, entries...)

	if max := r.c.Msize() - 11; count > max {
		count = max
	}

	out := getScratch()
	defer putScratch(out)
	for i, e := range all {
		entryOffset := uint64(i + 1)
		if entryOffset <= offset {
			continue
		}
		rec := encodeDirent(qidFor(e.Stat), entryOffset, e.Stat.Type, e.Name)
		if uint32(len(out)+len(rec)) > count {
			break
		}
		out = append(out, rec...)
	}

	buf := make([]byte, 4+len(out))
	wire.Marshal("w", []interface{}{uint32(len(out))}, buf, 0)
	copy(buf[4:], out)
	return buf, nil
}

// Linux dirent d_type values used in Rreaddir entries.
const (
	dtReg = 8
	dtDir = 4
	dtLnk = 10
)

func encodeDirent(q qid.QID, offset uint64, typ backend.NodeType, name string) []byte {
	dtype := uint8(dtReg)
	switch typ {
	case backend.TypeDirectory:
		dtype = dtDir
	case backend.TypeSymlink:
		dtype = dtLnk
	}
	buf := make([]byte, qid.Len+8+1+2+len(name))
	n, _ := wire.Marshal("Qdbs", []interface{}{q, offset, dtype, name}, buf, 0)
	return buf[:n]
}
