package audit

import "encoding/binary"

// Package msgpack only implements a decoder; these helpers assemble the
// matching bytes for the narrow subset (fixmap/str16/bin32/uint64) that the
// audit log format uses, so tests can build fixture records without a
// second copy of the wire format living in the msgpack package itself.

type kv struct {
	key string
	val []byte
}

func mpStr(s string) []byte {
	out := []byte{0xda, 0, 0}
	binary.BigEndian.PutUint16(out[1:3], uint16(len(s)))
	return append(out, s...)
}

func mpBin(b []byte) []byte {
	out := []byte{0xc6, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(out[1:5], uint32(len(b)))
	return append(out, b...)
}

func mpUint(v uint64) []byte {
	out := make([]byte, 9)
	out[0] = 0xcf
	binary.BigEndian.PutUint64(out[1:], v)
	return out
}

func mpMap(entries ...kv) []byte {
	out := []byte{0x80 | byte(len(entries))}
	for _, e := range entries {
		out = append(out, mpStr(e.key)...)
		out = append(out, e.val...)
	}
	return out
}
