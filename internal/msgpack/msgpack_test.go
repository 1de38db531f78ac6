package msgpack

import (
	"encoding/binary"
	"errors"
	"testing"
)

// --- test-only encoders, mirroring the tag table in reverse ---

func encStr16(s string) []byte {
	b := make([]byte, 3+len(s))
	b[0] = tagStr16
	binary.BigEndian.PutUint16(b[1:], uint16(len(s)))
	copy(b[3:], s)
	return b
}

func encBin32(data []byte) []byte {
	b := make([]byte, 5+len(data))
	b[0] = tagBin32
	binary.BigEndian.PutUint32(b[1:], uint32(len(data)))
	copy(b[5:], data)
	return b
}

func encUint64(v uint64) []byte {
	b := make([]byte, 9)
	b[0] = tagUint64
	binary.BigEndian.PutUint64(b[1:], v)
	return b
}

func encFixmap(pairs ...[]byte) []byte {
	if len(pairs)%2 != 0 {
		panic("odd number of fixmap parts")
	}
	n := len(pairs) / 2
	b := []byte{byte(tagFixmapMin + n)}
	for _, p := range pairs {
		b = append(b, p...)
	}
	return b
}

func TestDecodeFixmapOfScalars(t *testing.T) {
	buf := encFixmap(
		encStr16("type"), encStr16("blob"),
		encStr16("name"), encStr16("lj_dwarf.dwo"),
		encStr16("data"), encBin32([]byte{1, 2, 3}),
	)
	v, n, err := Decode(buf, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	typ, ok := v.Field("type")
	if !ok {
		t.Fatal("missing type field")
	}
	s, _ := typ.Str()
	if s != "blob" {
		t.Fatalf("type = %q, want blob", s)
	}
	data, ok := v.Field("data")
	if !ok {
		t.Fatal("missing data field")
	}
	bs, _ := data.Bytes()
	if len(bs) != 3 || bs[0] != 1 || bs[2] != 3 {
		t.Fatalf("data = %v", bs)
	}
}

func TestDecodeUint64(t *testing.T) {
	buf := encFixmap(encStr16("address"), encUint64(0xdeadbeef))
	v, _, err := Decode(buf, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	addr, ok := v.Field("address")
	if !ok {
		t.Fatal("missing address field")
	}
	u, ok := addr.Uint64()
	if !ok || u != 0xdeadbeef {
		t.Fatalf("address = %v, ok=%v", u, ok)
	}
}

func TestUnsupportedTag(t *testing.T) {
	_, _, err := Decode([]byte{0xc0}, 0)
	var uerr *UnsupportedTagError
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.As(err, &uerr) {
		t.Fatalf("got %v, want *UnsupportedTagError", err)
	}
	if uerr.Byte != 0xc0 || uerr.Offset != 0 {
		t.Fatalf("unexpected fields: %+v", uerr)
	}
}

func TestTruncated(t *testing.T) {
	buf := []byte{tagBin32, 0, 0, 0, 10} // claims 10 bytes, has none
	_, _, err := Decode(buf, 0)
	if err != ErrTruncated {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
}

func TestReaderStream(t *testing.T) {
	rec1 := encFixmap(encStr16("type"), encStr16("event"))
	rec2 := encFixmap(encStr16("type"), encStr16("memory"))
	r := NewReader(append(append([]byte{}, rec1...), rec2...))

	var kinds []string
	for {
		v, ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		typ, _ := v.Field("type")
		s, _ := typ.Str()
		kinds = append(kinds, s)
	}
	if len(kinds) != 2 || kinds[0] != "event" || kinds[1] != "memory" {
		t.Fatalf("kinds = %v", kinds)
	}
}

