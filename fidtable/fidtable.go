// Package fidtable implements the server-side fid table: the mapping
// from a client-chosen 32-bit handle to the backend path, kind, and
// owning uid it refers to (spec.md §3, §4.2).
package fidtable

import "sync"

// Kind distinguishes what a fid currently refers to.
type Kind int

const (
	// KindInode is an ordinary walked/attached/created filesystem node.
	KindInode Kind = iota
	// KindXattr is a fid returned by Txattrwalk; it advertises no data.
	KindXattr
	// KindNone marks a fid that has been clunked or never bound.
	KindNone
)

// NoFid is the sentinel fid value meaning "no fid" (spec.md §3).
const NoFid uint32 = 0xFFFFFFFF

// A Record is everything the server tracks for a live fid. There is
// no long-lived file descriptor here: every handler that does I/O
// opens, uses, and closes its own backend.Fd within the one request
// it's serving (spec.md §4.4, §5).
type Record struct {
	Path string
	Kind Kind
	Uid  uint32
}

// A Table is a dense map of client fid -> Record. It is safe for
// concurrent use: multiple in-flight requests on one connection may
// look up or mutate distinct fids concurrently (spec.md §5).
type Table struct {
	mu      sync.RWMutex
	records map[uint32]Record
}

// New returns an empty Table.
func New() *Table {
	return &Table{records: make(map[uint32]Record)}
}

// Get looks up fid. ok is false if fid is unknown, which callers
// must surface to the client as EBADF (spec.md §4.2).
func (t *Table) Get(fid uint32) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[fid]
	return r, ok
}

// Set binds fid to r, creating or replacing it. Twalk binds newfid
// (a clone of fid when the element count is zero), and Tlcreate
// rebinds an existing fid in place.
func (t *Table) Set(fid uint32, r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[fid] = r
}

// Clunk removes fid from the table. Per spec.md §4.4 (Tclunk), this
// never fails: clunking an unknown fid is a silent no-op.
func (t *Table) Clunk(fid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, fid)
}

// Reset drops every fid in the table. Tversion resets all fids for
// the connection (spec.md §4.4).
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[uint32]Record)
}

// Len reports the number of live fids, for diagnostics and tests.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Snapshot returns a copy of every live fid binding, for session
// save/restore (spec.md §6).
func (t *Table) Snapshot() map[uint32]Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[uint32]Record, len(t.records))
	for k, v := range t.records {
		out[k] = v
	}
	return out
}

// Load replaces the table's contents with records, for session
// restore (spec.md §6).
func (t *Table) Load(records map[uint32]Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uint32]Record, len(records))
	for k, v := range records {
		out[k] = v
	}
	t.records = out
}
