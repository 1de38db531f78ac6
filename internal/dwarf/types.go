// Package dwarf parses the narrow slice of DWARF 4 that the audit log's
// embedded debug info uses: a single abbreviation table, a DIE tree, and
// the handful of tags/forms/attributes enumerated by the spec this
// package implements. It is not a general-purpose DWARF consumer; any tag
// or form outside that set is reported as unsupported rather than
// silently ignored.
package dwarf

import "fmt"

// Tag is a DWARF DW_TAG_* code.
type Tag uint64

const (
	TagArrayType       Tag = 0x01
	TagEnumerationType Tag = 0x04
	TagFormalParameter Tag = 0x05
	TagPointerType     Tag = 0x0f
	TagCompileUnit     Tag = 0x11
	TagStructureType   Tag = 0x13
	TagSubroutineType  Tag = 0x15
	TagTypedef         Tag = 0x16
	TagUnionType       Tag = 0x17
	TagMember          Tag = 0x0d
	TagConstType       Tag = 0x26
	TagEnumerator      Tag = 0x28
	TagBaseType        Tag = 0x24
	TagConstant        Tag = 0x27
	TagVariable        Tag = 0x34
)

var tagNames = map[Tag]string{
	TagArrayType:       "array_type",
	TagEnumerationType: "enumeration_type",
	TagFormalParameter: "formal_parameter",
	TagPointerType:     "pointer_type",
	TagCompileUnit:     "compile_unit",
	TagStructureType:   "structure_type",
	TagSubroutineType:  "subroutine_type",
	TagTypedef:         "typedef",
	TagUnionType:       "union_type",
	TagMember:          "member",
	TagConstType:       "const_type",
	TagEnumerator:      "enumerator",
	TagBaseType:        "base_type",
	TagConstant:        "constant",
	TagVariable:        "variable",
}

func (t Tag) String() string {
	if n, ok := tagNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Tag(0x%x)", uint64(t))
}

// Attr is a DWARF DW_AT_* code.
type Attr uint64

const (
	AttrName                Attr = 0x03
	AttrByteSize            Attr = 0x0b
	AttrLowpc               Attr = 0x11
	AttrHighpc              Attr = 0x12
	AttrConstValue          Attr = 0x1c
	AttrType                Attr = 0x49
	AttrDataMemberLocation  Attr = 0x38
	AttrDeclaration         Attr = 0x3c
	AttrStrOffsetsBase      Attr = 0x72
)

// Form is a DWARF DW_FORM_* code.
type Form uint64

const (
	FormAddr          Form = 0x01
	FormData2         Form = 0x05
	FormData4         Form = 0x06
	FormData8         Form = 0x07
	FormString        Form = 0x08
	FormStrp          Form = 0x0e
	FormData1         Form = 0x0b
	FormFlagPresent   Form = 0x19
	FormSecOffset     Form = 0x17
	FormRef4          Form = 0x13
	FormIndexedString Form = 0x1a // DW_FORM_strx, resolved via debug_str_offsets
)

// UnsupportedFormError is returned by the DIE decoder when a form outside
// the supported set is named by an attribute spec.
type UnsupportedFormError struct {
	Form Form
}

func (e *UnsupportedFormError) Error() string {
	return fmt.Sprintf("dwarf: unsupported form 0x%x", uint64(e.Form))
}

// UnsupportedTagError is returned by descriptor synthesis for a tag this
// package's layout dispatch doesn't implement.
type UnsupportedTagError struct {
	Tag Tag
}

func (e *UnsupportedTagError) Error() string {
	return fmt.Sprintf("dwarf: unsupported tag %s", e.Tag)
}

var errTruncated = fmt.Errorf("dwarf: truncated input")

// DIE is one node of the debugging-information tree.
type DIE struct {
	Offset int64
	Tag    Tag
	Attrs  map[Attr]interface{}
	Kids   []*DIE
}

// Val returns the raw attribute value, or nil if the DIE has no such
// attribute.
func (d *DIE) Val(a Attr) interface{} {
	return d.Attrs[a]
}

// Ref returns the cross-referenced DIE previously resolved in Phase 3,
// stored under the same attribute key as the original ref4 offset.
func (d *DIE) Ref(a Attr) (*DIE, bool) {
	v, ok := d.Attrs[a]
	if !ok {
		return nil, false
	}
	ref, ok := v.(*DIE)
	return ref, ok
}
