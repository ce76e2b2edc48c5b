// Package wire implements the byte-level encoding used by every 9P2000.L
// message: fixed-width little-endian integers, length-prefixed strings,
// and 13-byte QIDs, addressed through a small format-string language.
//
// Format codes (one element each, read left to right):
//
//	b  1 byte,  unsigned
//	h  2 bytes, uint16 little-endian
//	w  4 bytes, uint32 little-endian
//	d  8 bytes, uint64 little-endian
//	s  2-byte length prefix + UTF-8 bytes
//	Q  13-byte QID (b w d)
package wire

import (
	"fmt"

	"aqwari.net/net/ninepl/qid"
)

// ErrShortBuffer is returned by Marshal when buf does not have enough
// room to hold the encoded values, and by Unmarshal when the reader
// runs out of bytes before the format string is satisfied.
var ErrShortBuffer = fmt.Errorf("wire: short buffer")

// ByteReader is a byte-producing closure, as used by Unmarshal. It
// returns io.EOF (or any error) once no more bytes are available.
type ByteReader func() (byte, error)

// Marshal encodes values according to format into buf starting at
// offset, and returns the number of bytes written. format must have
// exactly as many codes as len(values). Marshal never writes past
// len(buf); if the encoding would, it returns ErrShortBuffer and the
// caller must treat the request as failed (spec.md §4.1).
func Marshal(format string, values []interface{}, buf []byte, offset int) (int, error) {
	if len(format) != len(values) {
		return 0, fmt.Errorf("wire: format %q expects %d values, got %d", format, len(format), len(values))
	}
	start := offset
	for i, code := range format {
		v := values[i]
		switch code {
		case 'b':
			if offset+1 > len(buf) {
				return 0, ErrShortBuffer
			}
			buf[offset] = v.(uint8)
			offset++
		case 'h':
			if offset+2 > len(buf) {
				return 0, ErrShortBuffer
			}
			putUint16(buf[offset:], v.(uint16))
			offset += 2
		case 'w':
			if offset+4 > len(buf) {
				return 0, ErrShortBuffer
			}
			putUint32(buf[offset:], v.(uint32))
			offset += 4
		case 'd':
			if offset+8 > len(buf) {
				return 0, ErrShortBuffer
			}
			putUint64(buf[offset:], v.(uint64))
			offset += 8
		case 's':
			s := v.(string)
			if offset+2+len(s) > len(buf) {
				return 0, ErrShortBuffer
			}
			putUint16(buf[offset:], uint16(len(s)))
			offset += 2
			offset += copy(buf[offset:], s)
		case 'Q':
			if offset+qid.Len > len(buf) {
				return 0, ErrShortBuffer
			}
			q := v.(qid.QID)
			offset += q.Encode(buf[offset:])
		default:
			return 0, fmt.Errorf("wire: unknown format code %q", code)
		}
	}
	return offset - start, nil
}

// Unmarshal decodes values according to format, pulling bytes one at
// a time from next. It returns one interface{} per format code, typed
// as uint8, uint16, uint32, uint64, string, or qid.QID respectively.
func Unmarshal(format string, next ByteReader) ([]interface{}, error) {
	out := make([]interface{}, 0, len(format))
	readN := func(n int) ([]byte, error) {
		buf := make([]byte, n)
		for i := 0; i < n; i++ {
			b, err := next()
			if err != nil {
				return nil, err
			}
			buf[i] = b
		}
		return buf, nil
	}
	for _, code := range format {
		switch code {
		case 'b':
			b, err := next()
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		case 'h':
			buf, err := readN(2)
			if err != nil {
				return nil, err
			}
			out = append(out, getUint16(buf))
		case 'w':
			buf, err := readN(4)
			if err != nil {
				return nil, err
			}
			out = append(out, getUint32(buf))
		case 'd':
			buf, err := readN(8)
			if err != nil {
				return nil, err
			}
			out = append(out, getUint64(buf))
		case 's':
			lbuf, err := readN(2)
			if err != nil {
				return nil, err
			}
			n := int(getUint16(lbuf))
			sbuf, err := readN(n)
			if err != nil {
				return nil, err
			}
			out = append(out, string(sbuf))
		case 'Q':
			buf, err := readN(qid.Len)
			if err != nil {
				return nil, err
			}
			out = append(out, qid.Decode(buf))
		default:
			return nil, fmt.Errorf("wire: unknown format code %q", code)
		}
	}
	return out, nil
}

// NewSliceReader returns a ByteReader that pulls successive bytes from
// buf, returning ErrShortBuffer once buf is exhausted. It is the
// common case: a request body already sits in a contiguous byte slice.
func NewSliceReader(buf []byte) ByteReader {
	i := 0
	return func() (byte, error) {
		if i >= len(buf) {
			return 0, ErrShortBuffer
		}
		b := buf[i]
		i++
		return b, nil
	}
}

func putUint16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func getUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}
