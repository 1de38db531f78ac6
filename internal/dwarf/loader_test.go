package dwarf

import "testing"

// fakeSections is a minimal SectionProvider test double.
type fakeSections struct {
	m map[string][]byte
}

func (f *fakeSections) Names() []string {
	var out []string
	for name := range f.m {
		out = append(out, name)
	}
	return out
}

func (f *fakeSections) Section(name string) ([]byte, bool) {
	data, ok := f.m[name]
	return data, ok
}

// buildCU assembles a single compilation unit containing a root
// compile_unit DIE with one DW_TAG_constant child, named "FOO" with
// value 42. Every ULEB128-encoded value used here fits in one byte, so
// the bytes are written literally rather than through an encoder.
func buildCU() (debugInfo, debugAbbrev []byte) {
	body := []byte{
		0x01,                   // abbrev code 1: compile_unit (root)
		0x02,                   // abbrev code 2: constant (child)
		'F', 'O', 'O', 0x00,    // DW_FORM_string "FOO"
		0x2a, 0x00, 0x00, 0x00, // DW_FORM_data4 = 42
		0x00, // terminate child siblings
	}
	header := []byte{
		0x00, 0x00, 0x00, 0x00, // unit_length (unchecked)
		0x04, 0x00, // version 4
		0x00, 0x00, 0x00, 0x00, // debug_abbrev_offset
		0x08, // address_size
	}
	debugInfo = append(header, body...)

	debugAbbrev = []byte{
		0x01, 0x11, 0x01, 0x00, 0x00, // code 1: tag compile_unit, children, no attrs
		0x02, 0x27, 0x00, 0x03, 0x08, 0x1c, 0x06, 0x00, 0x00, // code 2: tag constant, no children, name(string)+const_value(data4)
		0x00, // table terminator
	}
	return debugInfo, debugAbbrev
}

func TestLoadParsesConstantAndName(t *testing.T) {
	debugInfo, debugAbbrev := buildCU()
	sections := &fakeSections{m: map[string][]byte{
		"debug_info":   debugInfo,
		"debug_abbrev": debugAbbrev,
		"debug_str":    {},
	}}

	l, err := Load(sections)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, ok := l.Constant("FOO")
	if !ok || v != 42 {
		t.Fatalf("Constant(FOO) = %d, %v", v, ok)
	}
	die, ok := l.FindDIE("FOO")
	if !ok || die.Tag != TagConstant {
		t.Fatalf("FindDIE(FOO) = %v, %v", die, ok)
	}
}

func TestLoadDwoSuffixIsStripped(t *testing.T) {
	debugInfo, debugAbbrev := buildCU()
	sections := &fakeSections{m: map[string][]byte{
		".debug_info.dwo":   debugInfo,
		".debug_abbrev.dwo": debugAbbrev,
		".debug_str.dwo":    {},
	}}

	l, err := Load(sections)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := l.Constant("FOO"); !ok {
		t.Fatal("expected FOO constant to resolve through the .dwo-suffixed sections")
	}
}

func TestLoadMissingSectionFails(t *testing.T) {
	sections := &fakeSections{m: map[string][]byte{
		"debug_abbrev": {0x00},
		"debug_str":    {},
	}}
	if _, err := Load(sections); err == nil {
		t.Fatal("expected an error for a missing debug_info section")
	}
}
