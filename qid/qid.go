// Package qid derives and encodes 9P2000.L QIDs, the 13-byte identifiers
// a server uses to tell a client that two fids refer to the same file.
package qid

import "hash/fnv"

// Type is a bitmask describing the kind of file a QID refers to. It
// mirrors the high byte of a Plan 9 mode word; it is not taken from
// the Linux mode (see FromMode).
type Type uint8

const (
	TypeDir     Type = 0x80
	TypeAppend  Type = 0x40
	TypeExcl    Type = 0x20
	TypeMount   Type = 0x10
	TypeAuth    Type = 0x08
	TypeTmp     Type = 0x04
	TypeSymlink Type = 0x02
	TypeLink    Type = 0x01
	TypeFile    Type = 0x00
)

// Len is the wire length of a QID: type[1] version[4] path[8].
const Len = 13

// A QID is the server's unique identification for a file: two files on
// the same server hierarchy are the same if and only if their QIDs are
// equal.
type QID [Len]byte

func (q QID) Type() Type      { return Type(q[0]) }
func (q QID) Version() uint32 { return uint32(q[1]) | uint32(q[2])<<8 | uint32(q[3])<<16 | uint32(q[4])<<24 }
func (q QID) Path() uint64 {
	var p uint64
	for i := 0; i < 8; i++ {
		p |= uint64(q[5+i]) << (8 * uint(i))
	}
	return p
}

// Encode writes q's 13-byte wire representation into buf, which must
// have at least Len bytes of room, and returns the number of bytes
// written.
func (q QID) Encode(buf []byte) int {
	copy(buf, q[:])
	return Len
}

// Decode reads a QID from the front of buf.
func Decode(buf []byte) QID {
	var q QID
	copy(q[:], buf[:Len])
	return q
}

// New derives a QID from a backend node identity. Node is any string
// that uniquely names a file within the backend (typically an inode
// number, device+inode pair, or content hash rendered as text); two
// calls to New with the same node always produce the same Path,
// regardless of the file's current name, satisfying the invariant
// that QID equality holds iff the backend reports the same node
// identity. Two distinct nodes produce distinct paths unless their
// identifiers collide under FNV-1a, which is the only way two
// unrelated files can share a QID.
func New(node string, version uint32, kind Type) QID {
	h := fnv.New64a()
	h.Write([]byte(node))
	path := h.Sum64()

	var q QID
	q[0] = byte(kind)
	q[1] = byte(version)
	q[2] = byte(version >> 8)
	q[3] = byte(version >> 16)
	q[4] = byte(version >> 24)
	for i := 0; i < 8; i++ {
		q[5+i] = byte(path >> (8 * uint(i)))
	}
	return q
}

// FromMode derives the QID type bits for a plain file, directory, or
// symlink. Regular files (including hardlinked ones) are TypeFile;
// POSIX hardlinks share a QID with the file they point to, not a
// distinct type bit.
func FromMode(isDir, isSymlink bool) Type {
	switch {
	case isDir:
		return TypeDir
	case isSymlink:
		return TypeSymlink
	default:
		return TypeFile
	}
}
