package ninepl

import "aqwari.net/net/ninepl/wire"

// parseHeader reads a frame's size[4] type[1] tag[2] header and
// returns the remainder as body (spec.md §4.1).
func parseHeader(frame []byte) (id uint8, tag uint16, body []byte, err error) {
	if len(frame) < 7 {
		return 0, 0, nil, wire.ErrShortBuffer
	}
	vals, err := wire.Unmarshal("wbh", wire.NewSliceReader(frame[:7]))
	if err != nil {
		return 0, 0, nil, err
	}
	id = vals[1].(uint8)
	tag = vals[2].(uint16)
	return id, tag, frame[7:], nil
}

// buildReply encodes a complete reply frame for a successful request:
// size[4] id[1] tag[2] body, where id is the request id + 1.
func buildReply(id uint8, tag uint16, body []byte) []byte {
	total := 7 + len(body)
	buf := make([]byte, total)
	wire.Marshal("wbh", []interface{}{uint32(total), id, tag}, buf, 0)
	copy(buf[7:], body)
	return buf
}

// buildRlerror encodes an Rlerror reply: size[4] 7[1] tag[2] errno[4]
// (spec.md §4.4).
func buildRlerror(tag uint16, errno uint32) []byte {
	body := make([]byte, 4)
	wire.Marshal("w", []interface{}{errno}, body, 0)
	return buildReply(msgRlerror, tag, body)
}

// fitsReplyBuffer reports whether a reply of bodyLen bytes fits in the
// 2*msize reply buffer spec.md §6 allots per connection. The
// dispatcher fails the request with EIO rather than ever writing past
// that bound (spec.md §4.1).
func fitsReplyBuffer(msize uint32, bodyLen int) bool {
	return uint64(7+bodyLen) <= 2*uint64(msize)
}
