package wire

import (
	"testing"

	"aqwari.net/net/ninepl/qid"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	cases := []struct {
		format string
		values []interface{}
	}{
		{"", []interface{}{}},
		{"b", []interface{}{uint8(0xff)}},
		{"h", []interface{}{uint16(0xbeef)}},
		{"w", []interface{}{uint32(0xdeadbeef)}},
		{"d", []interface{}{uint64(0x0102030405060708)}},
		{"s", []interface{}{"hello, 9p"}},
		{"s", []interface{}{""}},
		{"Q", []interface{}{qid.New("inode:42", 3, qid.TypeDir)}},
		{"wbhds", []interface{}{uint32(1), uint8(2), uint16(3), uint64(4), "five"}},
		{"QQ", []interface{}{qid.New("a", 0, qid.TypeFile), qid.New("b", 1, qid.TypeDir)}},
	}

	for _, c := range cases {
		buf := make([]byte, 4096)
		n, err := Marshal(c.format, c.values, buf, 0)
		require.NoError(t, err)

		got, err := Unmarshal(c.format, NewSliceReader(buf[:n]))
		require.NoError(t, err)
		require.Equal(t, c.values, got)
	}
}

func TestMarshalShortBuffer(t *testing.T) {
	buf := make([]byte, 2)
	_, err := Marshal("w", []interface{}{uint32(1)}, buf, 0)
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestUnmarshalShortBuffer(t *testing.T) {
	_, err := Unmarshal("w", NewSliceReader([]byte{1, 2}))
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestMarshalAtOffset(t *testing.T) {
	buf := make([]byte, 16)
	n, err := Marshal("w", []interface{}{uint32(7)}, buf, 7)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, byte(7), buf[7])
}
