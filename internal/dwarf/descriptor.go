package dwarf

import "fmt"

// Kind identifies the shape of a synthesized Descriptor.
type Kind int

const (
	KindStruct Kind = iota
	KindUnion
	KindEnum
	KindPtr
	KindBase
)

// ptrSize is fixed at 8: the core never retargets across architectures,
// per the Non-goals (little-endian 64-bit only).
const ptrSize = 8

// Field is one member of a struct or union Descriptor. A Field with an
// empty Name and a base-kind Type named "pad" is explicit padding
// inserted to keep the struct's byte layout accurate.
type Field struct {
	Offset int64
	Name   string
	Type   *Descriptor
}

// Descriptor is the layout description synthesized from a DIE: how many
// bytes the type occupies and, for aggregates, where each member lives.
type Descriptor struct {
	Kind Kind
	Size int64

	BaseName string // KindBase

	Fields []Field // KindStruct, KindUnion

	Elem *Descriptor // KindPtr

	EnumWidth int64 // KindEnum
}

func (d *Descriptor) String() string {
	switch d.Kind {
	case KindBase:
		return d.BaseName
	case KindPtr:
		if d.Elem == nil {
			return "*void"
		}
		return "*" + d.Elem.String()
	case KindEnum:
		return fmt.Sprintf("enum(%d)", d.EnumWidth)
	case KindStruct:
		return "struct"
	case KindUnion:
		return "union"
	default:
		return "?"
	}
}

// DescriptorOf returns the memoized layout descriptor for die, synthesizing
// it on first use. Struct and union descriptors are registered in the
// cache (with their size already known) before their member fields are
// walked, so a cyclic type graph — a struct with a pointer field back to
// itself — terminates: the recursive lookup for the cycle-closing DIE
// finds the same *Descriptor already in the cache instead of recursing
// forever.
func (l *Loader) DescriptorOf(die *DIE) (*Descriptor, error) {
	if d, ok := l.descCache[die]; ok {
		return d, nil
	}
	switch die.Tag {
	case TagStructureType:
		return l.aggregateDescriptor(die, KindStruct)
	case TagUnionType:
		return l.aggregateDescriptor(die, KindUnion)
	case TagEnumerationType:
		return l.enumDescriptor(die)
	case TagPointerType:
		return l.pointerDescriptor(die)
	case TagArrayType:
		return l.arrayDescriptor(die)
	case TagSubroutineType:
		d := &Descriptor{Kind: KindPtr, Size: ptrSize}
		l.descCache[die] = d
		return d, nil
	case TagBaseType:
		return l.baseDescriptor(die)
	case TagTypedef, TagConstType, TagMember, TagVariable:
		return l.forwardDescriptor(die)
	default:
		return nil, &UnsupportedTagError{Tag: die.Tag}
	}
}

func (l *Loader) forwardDescriptor(die *DIE) (*Descriptor, error) {
	target, ok := die.Ref(AttrType)
	if !ok {
		return nil, fmt.Errorf("dwarf: %s DIE at offset %d has no type attribute", die.Tag, die.Offset)
	}
	d, err := l.DescriptorOf(target)
	if err != nil {
		return nil, err
	}
	l.descCache[die] = d
	return d, nil
}

func (l *Loader) aggregateDescriptor(die *DIE, kind Kind) (*Descriptor, error) {
	byteSize, _ := constIntValue(die.Val(AttrByteSize))
	placeholder := &Descriptor{Kind: kind, Size: byteSize}
	l.descCache[die] = placeholder // installed before recursing: breaks cycles

	var fields []Field
	if kind == KindUnion {
		for _, kid := range die.Kids {
			if kid.Tag != TagMember {
				continue
			}
			f, err := l.memberField(kid, 0)
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
		}
	} else {
		cursor := int64(0)
		for _, kid := range die.Kids {
			if kid.Tag != TagMember {
				continue
			}
			loc, _ := constIntValue(kid.Val(AttrDataMemberLocation))
			if loc > cursor {
				fields = append(fields, padField(cursor, loc-cursor))
				cursor = loc
			}
			f, err := l.memberField(kid, loc)
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
			cursor = loc + f.Type.Size
		}
		if byteSize > cursor {
			fields = append(fields, padField(cursor, byteSize-cursor))
		}
	}

	placeholder.Fields = fields
	return placeholder, nil
}

func (l *Loader) memberField(die *DIE, offset int64) (Field, error) {
	name, _ := die.Val(AttrName).(string)
	typeDie, ok := die.Ref(AttrType)
	if !ok {
		return Field{}, fmt.Errorf("dwarf: member DIE at offset %d has no type attribute", die.Offset)
	}
	ft, err := l.DescriptorOf(typeDie)
	if err != nil {
		return Field{}, err
	}
	return Field{Offset: offset, Name: name, Type: ft}, nil
}

func padField(offset, size int64) Field {
	return Field{Offset: offset, Name: "", Type: &Descriptor{Kind: KindBase, BaseName: "pad", Size: size}}
}

func (l *Loader) enumDescriptor(die *DIE) (*Descriptor, error) {
	width, _ := constIntValue(die.Val(AttrByteSize))
	d := &Descriptor{Kind: KindEnum, Size: width, EnumWidth: width}
	l.descCache[die] = d
	names := make(map[int64]string)
	for _, kid := range die.Kids {
		if kid.Tag != TagEnumerator {
			continue
		}
		name, _ := kid.Val(AttrName).(string)
		val, _ := constIntValue(kid.Val(AttrConstValue))
		names[val] = name
	}
	l.enumNames[d] = names
	return d, nil
}

func (l *Loader) pointerDescriptor(die *DIE) (*Descriptor, error) {
	d := &Descriptor{Kind: KindPtr, Size: ptrSize}
	l.descCache[die] = d
	target, ok := die.Ref(AttrType)
	if !ok {
		return d, nil // opaque pointer (e.g. unsafe.Pointer's void base)
	}
	elem, err := l.DescriptorOf(target)
	if err != nil {
		return nil, err
	}
	d.Elem = elem
	return d, nil
}

func (l *Loader) arrayDescriptor(die *DIE) (*Descriptor, error) {
	target, ok := die.Ref(AttrType)
	if !ok {
		return nil, fmt.Errorf("dwarf: array_type DIE at offset %d has no element type", die.Offset)
	}
	d := &Descriptor{Kind: KindPtr, Size: ptrSize}
	l.descCache[die] = d
	elem, err := l.DescriptorOf(target)
	if err != nil {
		return nil, err
	}
	d.Elem = elem
	return d, nil
}

func (l *Loader) baseDescriptor(die *DIE) (*Descriptor, error) {
	name, _ := die.Val(AttrName).(string)
	size, _ := constIntValue(die.Val(AttrByteSize))
	d := &Descriptor{Kind: KindBase, BaseName: name, Size: size}
	l.descCache[die] = d
	return d, nil
}

// EnumName resolves the symbolic name of value within the enum descriptor
// d, as registered when d was synthesized from an enumeration_type DIE.
func (l *Loader) EnumName(d *Descriptor, value int64) (string, bool) {
	names, ok := l.enumNames[d]
	if !ok {
		return "", false
	}
	name, ok := names[value]
	return name, ok
}

// Field looks up a named field of a struct/union descriptor.
func (d *Descriptor) Field(name string) (*Field, bool) {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i], true
		}
	}
	return nil, false
}
