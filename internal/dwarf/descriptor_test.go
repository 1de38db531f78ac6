package dwarf

import "testing"

func newTestLoader() *Loader {
	return &Loader{
		diesByOffset: make(map[int64]*DIE),
		byName:       make(map[string]*DIE),
		consts:       make(map[string]int64),
		descCache:    make(map[*DIE]*Descriptor),
		enumNames:    make(map[*Descriptor]map[int64]string),
	}
}

func TestDescriptorOfBreaksCycles(t *testing.T) {
	intDie := &DIE{Tag: TagBaseType, Attrs: map[Attr]interface{}{AttrName: "int", AttrByteSize: uint64(8)}}
	structDie := &DIE{Tag: TagStructureType, Attrs: map[Attr]interface{}{AttrByteSize: uint64(16)}}
	ptrDie := &DIE{Tag: TagPointerType, Attrs: map[Attr]interface{}{AttrType: structDie}}
	structDie.Kids = []*DIE{
		{Tag: TagMember, Attrs: map[Attr]interface{}{AttrName: "next", AttrDataMemberLocation: uint64(0), AttrType: ptrDie}},
		{Tag: TagMember, Attrs: map[Attr]interface{}{AttrName: "val", AttrDataMemberLocation: uint64(8), AttrType: intDie}},
	}

	l := newTestLoader()
	desc, err := l.DescriptorOf(structDie)
	if err != nil {
		t.Fatalf("DescriptorOf: %v", err)
	}
	if desc.Kind != KindStruct || desc.Size != 16 {
		t.Fatalf("got kind=%v size=%d", desc.Kind, desc.Size)
	}
	nextField, ok := desc.Field("next")
	if !ok {
		t.Fatal("missing next field")
	}
	if nextField.Type.Kind != KindPtr {
		t.Fatalf("next field kind = %v", nextField.Type.Kind)
	}
	if nextField.Type.Elem != desc {
		t.Fatal("self-referential pointer did not resolve to the same Descriptor instance")
	}
}

func TestDescriptorOfInsertsPadding(t *testing.T) {
	intDie := &DIE{Tag: TagBaseType, Attrs: map[Attr]interface{}{AttrName: "int32", AttrByteSize: uint64(4)}}
	structDie := &DIE{Tag: TagStructureType, Attrs: map[Attr]interface{}{AttrByteSize: uint64(16)}}
	structDie.Kids = []*DIE{
		{Tag: TagMember, Attrs: map[Attr]interface{}{AttrName: "n", AttrDataMemberLocation: uint64(4), AttrType: intDie}},
	}

	l := newTestLoader()
	desc, err := l.DescriptorOf(structDie)
	if err != nil {
		t.Fatalf("DescriptorOf: %v", err)
	}
	if len(desc.Fields) != 3 {
		t.Fatalf("expected leading pad, member, trailing pad; got %d fields", len(desc.Fields))
	}
	if desc.Fields[0].Name != "" || desc.Fields[0].Offset != 0 || desc.Fields[0].Type.Size != 4 {
		t.Fatalf("unexpected leading padding: %+v", desc.Fields[0])
	}
	if desc.Fields[1].Name != "n" || desc.Fields[1].Offset != 4 {
		t.Fatalf("unexpected member field: %+v", desc.Fields[1])
	}
	if desc.Fields[2].Name != "" || desc.Fields[2].Offset != 8 || desc.Fields[2].Type.Size != 8 {
		t.Fatalf("unexpected trailing padding: %+v", desc.Fields[2])
	}

	var sum int64
	for _, f := range desc.Fields {
		sum += f.Type.Size
	}
	if sum != desc.Size {
		t.Fatalf("field sizes sum to %d, want %d", sum, desc.Size)
	}
}

func TestDescriptorOfUnionSharesOffsetZero(t *testing.T) {
	aDie := &DIE{Tag: TagBaseType, Attrs: map[Attr]interface{}{AttrName: "a", AttrByteSize: uint64(4)}}
	bDie := &DIE{Tag: TagBaseType, Attrs: map[Attr]interface{}{AttrName: "b", AttrByteSize: uint64(8)}}
	unionDie := &DIE{Tag: TagUnionType, Attrs: map[Attr]interface{}{AttrByteSize: uint64(8)}}
	unionDie.Kids = []*DIE{
		{Tag: TagMember, Attrs: map[Attr]interface{}{AttrName: "as_a", AttrType: aDie}},
		{Tag: TagMember, Attrs: map[Attr]interface{}{AttrName: "as_b", AttrType: bDie}},
	}

	l := newTestLoader()
	desc, err := l.DescriptorOf(unionDie)
	if err != nil {
		t.Fatalf("DescriptorOf: %v", err)
	}
	if desc.Kind != KindUnion || len(desc.Fields) != 2 {
		t.Fatalf("got kind=%v fields=%d", desc.Kind, len(desc.Fields))
	}
	for _, f := range desc.Fields {
		if f.Offset != 0 {
			t.Fatalf("union field %s at non-zero offset %d", f.Name, f.Offset)
		}
	}
}

func TestDescriptorOfEnumAndEnumName(t *testing.T) {
	enumDie := &DIE{Tag: TagEnumerationType, Attrs: map[Attr]interface{}{AttrByteSize: uint64(4)}}
	enumDie.Kids = []*DIE{
		{Tag: TagEnumerator, Attrs: map[Attr]interface{}{AttrName: "RED", AttrConstValue: uint64(0)}},
		{Tag: TagEnumerator, Attrs: map[Attr]interface{}{AttrName: "BLUE", AttrConstValue: uint64(1)}},
	}

	l := newTestLoader()
	desc, err := l.DescriptorOf(enumDie)
	if err != nil {
		t.Fatalf("DescriptorOf: %v", err)
	}
	if desc.Kind != KindEnum || desc.EnumWidth != 4 {
		t.Fatalf("got kind=%v width=%d", desc.Kind, desc.EnumWidth)
	}
	name, ok := l.EnumName(desc, 1)
	if !ok || name != "BLUE" {
		t.Fatalf("EnumName(1) = %q, %v", name, ok)
	}
	if _, ok := l.EnumName(desc, 99); ok {
		t.Fatal("EnumName(99) should not resolve")
	}
}

func TestDescriptorOfArrayDecaysToPointer(t *testing.T) {
	elemDie := &DIE{Tag: TagBaseType, Attrs: map[Attr]interface{}{AttrName: "char", AttrByteSize: uint64(1)}}
	arrDie := &DIE{Tag: TagArrayType, Attrs: map[Attr]interface{}{AttrType: elemDie}}

	l := newTestLoader()
	desc, err := l.DescriptorOf(arrDie)
	if err != nil {
		t.Fatalf("DescriptorOf: %v", err)
	}
	if desc.Kind != KindPtr || desc.Size != 8 {
		t.Fatalf("got kind=%v size=%d", desc.Kind, desc.Size)
	}
	if desc.Elem == nil || desc.Elem.BaseName != "char" {
		t.Fatalf("unexpected element descriptor: %+v", desc.Elem)
	}
}

func TestDescriptorOfTypedefForwards(t *testing.T) {
	baseDie := &DIE{Tag: TagBaseType, Attrs: map[Attr]interface{}{AttrName: "uint32_t", AttrByteSize: uint64(4)}}
	typedefDie := &DIE{Tag: TagTypedef, Attrs: map[Attr]interface{}{AttrName: "u32", AttrType: baseDie}}

	l := newTestLoader()
	desc, err := l.DescriptorOf(typedefDie)
	if err != nil {
		t.Fatalf("DescriptorOf: %v", err)
	}
	if desc.Kind != KindBase || desc.BaseName != "uint32_t" {
		t.Fatalf("typedef did not forward to its target: %+v", desc)
	}
}

func TestDescriptorOfUnsupportedTag(t *testing.T) {
	l := newTestLoader()
	_, err := l.DescriptorOf(&DIE{Tag: TagFormalParameter})
	if err == nil {
		t.Fatal("expected an error")
	}
	uerr, ok := err.(*UnsupportedTagError)
	if !ok {
		t.Fatalf("got %T, want *UnsupportedTagError", err)
	}
	if uerr.Tag != TagFormalParameter {
		t.Fatalf("got tag %v", uerr.Tag)
	}
}
