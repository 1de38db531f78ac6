package elfsection

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildELF assembles a minimal 64-bit little-endian ELF object with the
// given named sections, for use as a test fixture. It is not a general
// purpose ELF writer.
func buildELF(t *testing.T, sections map[string][]byte) []byte {
	t.Helper()

	names := []string{""} // null section has an empty name
	for name := range sections {
		names = append(names, name)
	}
	names = append(names, ".shstrtab")

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	nameOff := map[string]uint32{"": 0}
	for _, n := range names[1:] {
		nameOff[n] = uint32(strtab.Len())
		strtab.WriteString(n)
		strtab.WriteByte(0)
	}

	var body bytes.Buffer
	body.Write(make([]byte, ehdrSize)) // placeholder for the ELF header

	type placedSection struct {
		name string
		off  uint64
		size uint64
	}
	var placed []placedSection
	placed = append(placed, placedSection{name: ""}) // null section

	for _, name := range names[1 : len(names)-1] {
		data := sections[name]
		off := uint64(body.Len())
		body.Write(data)
		placed = append(placed, placedSection{name: name, off: off, size: uint64(len(data))})
	}
	shstrOff := uint64(body.Len())
	body.Write(strtab.Bytes())
	placed = append(placed, placedSection{name: ".shstrtab", off: shstrOff, size: uint64(strtab.Len())})

	shoff := uint64(body.Len())
	for _, p := range placed {
		hdr := make([]byte, shdrSize)
		binary.LittleEndian.PutUint32(hdr[shNameOff:], nameOff[p.name])
		binary.LittleEndian.PutUint64(hdr[shOffInSh:], p.off)
		binary.LittleEndian.PutUint64(hdr[shSizeOff:], p.size)
		body.Write(hdr)
	}

	out := body.Bytes()
	out[0], out[1], out[2], out[3] = magic0, magic1, magic2, magic3
	out[4] = classElf
	out[5] = dataLE
	binary.LittleEndian.PutUint64(out[shOffOff:], shoff)
	binary.LittleEndian.PutUint16(out[shEntOff:], shdrSize)
	binary.LittleEndian.PutUint16(out[shNumOff:], uint16(len(placed)))
	binary.LittleEndian.PutUint16(out[shStrOff:], uint16(len(placed)-1))
	return out
}

func TestParseFindsNamedSections(t *testing.T) {
	raw := buildELF(t, map[string][]byte{
		".debug_info.dwo":   {1, 2, 3, 4},
		".debug_abbrev.dwo": {5, 6},
	})
	secs, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	data, ok := secs.Section(".debug_info.dwo")
	if !ok || !bytes.Equal(data, []byte{1, 2, 3, 4}) {
		t.Fatalf("debug_info.dwo = %v, ok=%v", data, ok)
	}
	data, ok = secs.Section(".debug_abbrev.dwo")
	if !ok || !bytes.Equal(data, []byte{5, 6}) {
		t.Fatalf("debug_abbrev.dwo = %v, ok=%v", data, ok)
	}
	if _, ok := secs.Section(".nonexistent"); ok {
		t.Fatal("unexpected section found")
	}
	// Null section is skipped; .shstrtab plus the two requested sections remain.
	if len(secs.Names()) != 3 {
		t.Fatalf("Names() = %v", secs.Names())
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	raw := buildELF(t, nil)
	raw[0] = 0
	_, err := Parse(raw)
	if _, ok := err.(*NotElfError); !ok {
		t.Fatalf("got %v, want *NotElfError", err)
	}
}

func TestParseRejectsBigEndian(t *testing.T) {
	raw := buildELF(t, nil)
	raw[5] = 2 // ELFDATA2MSB
	_, err := Parse(raw)
	if _, ok := err.(*UnsupportedAbiError); !ok {
		t.Fatalf("got %v, want *UnsupportedAbiError", err)
	}
}

func TestParseRejectsZeroSectionHeaderOffset(t *testing.T) {
	raw := buildELF(t, nil)
	binary.LittleEndian.PutUint64(raw[shOffOff:], 0)
	_, err := Parse(raw)
	if _, ok := err.(*NotElfError); !ok {
		t.Fatalf("got %v, want *NotElfError", err)
	}
}
