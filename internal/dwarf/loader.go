package dwarf

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// SectionProvider supplies named ELF section bytes. elfsection.Sections
// satisfies this by duck typing.
type SectionProvider interface {
	Names() []string
	Section(name string) ([]byte, bool)
}

// Loader is a parsed DWARF compilation unit: the DIE tree plus the caches
// built on top of it (descriptor synthesis, name index, constants).
type Loader struct {
	diesByOffset map[int64]*DIE
	byName       map[string]*DIE
	consts       map[string]int64

	descCache map[*DIE]*Descriptor
	enumNames map[*Descriptor]map[int64]string
}

// refOffset marks a not-yet-resolved DW_FORM_ref4 value, distinguishing it
// from a same-shaped data4/sec_offset integer during cross-reference
// resolution (Phase 3).
type refOffset uint32

const cuHeaderSize = 11 // unit_length(4) + version(2) + debug_abbrev_offset(4) + address_size(1)

// Load parses the debug_info/debug_abbrev/debug_str(/debug_str_offsets)
// sections named in sections (after stripping a ".<name>.dwo" envelope)
// and builds the DIE tree, its cross-references, and the name index.
func Load(sections SectionProvider) (*Loader, error) {
	resolved := make(map[string][]byte)
	for _, raw := range sections.Names() {
		data, ok := sections.Section(raw)
		if !ok {
			continue
		}
		resolved[canonicalSectionName(raw)] = data
	}

	debugInfo, ok := resolved["debug_info"]
	if !ok {
		return nil, fmt.Errorf("dwarf: missing debug_info section")
	}
	debugAbbrev, ok := resolved["debug_abbrev"]
	if !ok {
		return nil, fmt.Errorf("dwarf: missing debug_abbrev section")
	}
	debugStr, ok := resolved["debug_str"]
	if !ok {
		return nil, fmt.Errorf("dwarf: missing debug_str section")
	}
	debugStrOffsets := resolved["debug_str_offsets"] // optional

	if len(debugInfo) < cuHeaderSize {
		return nil, errTruncated
	}
	abbrevOff := binary.LittleEndian.Uint32(debugInfo[6:10])
	abbrevTable, err := parseAbbrevTable(debugAbbrev, int(abbrevOff))
	if err != nil {
		return nil, fmt.Errorf("dwarf: failed to parse abbreviation table: %v", err)
	}

	dr := &dieReader{
		buf:       debugInfo,
		pos:       cuHeaderSize,
		abbrev:    abbrevTable,
		strTab:    debugStr,
		strOffTab: debugStrOffsets,
		dies:      make(map[int64]*DIE),
	}
	if _, err := dr.readSiblings(); err != nil {
		return nil, fmt.Errorf("dwarf: failed to parse DIE tree: %v", err)
	}

	l := &Loader{
		diesByOffset: dr.dies,
		byName:       make(map[string]*DIE),
		consts:       make(map[string]int64),
		descCache:    make(map[*DIE]*Descriptor),
		enumNames:    make(map[*Descriptor]map[int64]string),
	}

	for off, die := range l.diesByOffset {
		for attr, val := range die.Attrs {
			ref, ok := val.(refOffset)
			if !ok {
				continue
			}
			target, ok := l.diesByOffset[int64(ref)]
			if !ok {
				return nil, fmt.Errorf("dwarf: ref4 at offset %d attribute %s does not resolve", off, attrName(attr))
			}
			die.Attrs[attr] = target
		}
		if name, ok := die.Val(AttrName).(string); ok {
			if _, exists := l.byName[name]; !exists {
				l.byName[name] = die
			}
		}
		if die.Tag == TagConstant {
			name, hasName := die.Val(AttrName).(string)
			cv, hasVal := constIntValue(die.Val(AttrConstValue))
			if hasName && hasVal {
				l.consts[name] = cv
			}
		}
	}

	return l, nil
}

// FindDIE looks up a DIE by its DW_AT_name attribute.
func (l *Loader) FindDIE(name string) (*DIE, bool) {
	d, ok := l.byName[name]
	return d, ok
}

// Constant returns the value of a DW_TAG_constant DIE by name.
func (l *Loader) Constant(name string) (int64, bool) {
	v, ok := l.consts[name]
	return v, ok
}

func constIntValue(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case uint64:
		return int64(x), true
	case int64:
		return x, true
	default:
		return 0, false
	}
}

func canonicalSectionName(raw string) string {
	name := strings.TrimSuffix(raw, ".dwo")
	name = strings.TrimPrefix(name, ".")
	return name
}

func attrName(a Attr) string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// dieReader walks the DIE tree out of a single compilation unit's
// debug_info bytes.
type dieReader struct {
	buf       []byte
	pos       int
	abbrev    map[uint64]abbrevDecl
	strTab    []byte
	strOffTab []byte
	dies      map[int64]*DIE
}

// readSiblings decodes a run of sibling DIEs terminated either by a
// code-0 entry or by reaching the end of the buffer (the latter only
// happens for the outermost call, since there is no enclosing
// terminator for the root DIE).
func (r *dieReader) readSiblings() ([]*DIE, error) {
	var out []*DIE
	for {
		if r.pos >= len(r.buf) {
			return out, nil
		}
		offset := int64(r.pos)
		code, n, err := uleb128(r.buf, r.pos)
		if err != nil {
			return nil, err
		}
		r.pos += n
		if code == 0 {
			return out, nil
		}
		decl, ok := r.abbrev[code]
		if !ok {
			return nil, fmt.Errorf("unknown abbreviation code %d at offset %d", code, offset)
		}
		die := &DIE{Offset: offset, Tag: decl.tag, Attrs: make(map[Attr]interface{}, len(decl.attrs))}
		for _, a := range decl.attrs {
			val, n, err := r.decodeForm(a.form)
			if err != nil {
				return nil, err
			}
			r.pos += n
			die.Attrs[a.attr] = val
		}
		r.dies[offset] = die
		if decl.hasChildren {
			kids, err := r.readSiblings()
			if err != nil {
				return nil, err
			}
			die.Kids = kids
		}
		out = append(out, die)
	}
}

func (r *dieReader) decodeForm(form Form) (interface{}, int, error) {
	switch form {
	case FormString:
		end := r.pos
		for end < len(r.buf) && r.buf[end] != 0 {
			end++
		}
		if end >= len(r.buf) {
			return nil, 0, errTruncated
		}
		return string(r.buf[r.pos:end]), end - r.pos + 1, nil
	case FormStrp:
		if r.pos+4 > len(r.buf) {
			return nil, 0, errTruncated
		}
		off := binary.LittleEndian.Uint32(r.buf[r.pos:])
		s, err := cStringAt(r.strTab, int(off))
		if err != nil {
			return nil, 0, err
		}
		return s, 4, nil
	case FormIndexedString:
		idx, n, err := uleb128(r.buf, r.pos)
		if err != nil {
			return nil, 0, err
		}
		byteOff := int(idx) * 4
		if byteOff+4 > len(r.strOffTab) {
			return nil, 0, errTruncated
		}
		off := binary.LittleEndian.Uint32(r.strOffTab[byteOff:])
		s, err := cStringAt(r.strTab, int(off))
		if err != nil {
			return nil, 0, err
		}
		return s, n, nil
	case FormData1:
		if r.pos+1 > len(r.buf) {
			return nil, 0, errTruncated
		}
		return uint64(r.buf[r.pos]), 1, nil
	case FormData2:
		if r.pos+2 > len(r.buf) {
			return nil, 0, errTruncated
		}
		return uint64(binary.LittleEndian.Uint16(r.buf[r.pos:])), 2, nil
	case FormData4:
		if r.pos+4 > len(r.buf) {
			return nil, 0, errTruncated
		}
		return uint64(binary.LittleEndian.Uint32(r.buf[r.pos:])), 4, nil
	case FormData8:
		if r.pos+8 > len(r.buf) {
			return nil, 0, errTruncated
		}
		return binary.LittleEndian.Uint64(r.buf[r.pos:]), 8, nil
	case FormSecOffset:
		if r.pos+4 > len(r.buf) {
			return nil, 0, errTruncated
		}
		return uint64(binary.LittleEndian.Uint32(r.buf[r.pos:])), 4, nil
	case FormRef4:
		if r.pos+4 > len(r.buf) {
			return nil, 0, errTruncated
		}
		return refOffset(binary.LittleEndian.Uint32(r.buf[r.pos:])), 4, nil
	case FormFlagPresent:
		return true, 0, nil
	default:
		return nil, 0, &UnsupportedFormError{Form: form}
	}
}

func cStringAt(tab []byte, off int) (string, error) {
	if off > len(tab) {
		return "", errTruncated
	}
	end := off
	for end < len(tab) && tab[end] != 0 {
		end++
	}
	if end >= len(tab) {
		return "", errTruncated
	}
	return string(tab[off:end]), nil
}
