package audit

import (
	"encoding/binary"
	"fmt"

	"github.com/raptorjit/birdwatch/internal/dwarf"
)

// TypedView is one entry of the MemoryMap: the raw little-endian bytes of
// a memory snapshot plus the DWARF descriptor that gives them meaning.
type TypedView struct {
	Address    uint64
	Data       []byte
	Descriptor *dwarf.Descriptor
}

// MissingMemoryError is returned when an address expected to be present
// in the MemoryMap (a colocated pointer, a referenced GCtrace/GCproto/
// jit_State) cannot be found.
type MissingMemoryError struct {
	Address uint64
}

func (e *MissingMemoryError) Error() string {
	return fmt.Sprintf("audit: no memory snapshot at address 0x%x", e.Address)
}

// MemoryMap binds process-space addresses, normalized to uint64, to the
// typed view reconstructed from the record's hint. Values own their byte
// slice and descriptor; everything else holds a read-only address into
// this map rather than a copy.
type MemoryMap struct {
	views map[uint64]*TypedView
}

func newMemoryMap() *MemoryMap {
	return &MemoryMap{views: make(map[uint64]*TypedView)}
}

func (m *MemoryMap) bind(addr uint64, data []byte, desc *dwarf.Descriptor) {
	m.views[addr] = &TypedView{Address: addr, Data: data, Descriptor: desc}
}

// Lookup returns the typed view bound at addr.
func (m *MemoryMap) Lookup(addr uint64) (*TypedView, bool) {
	v, ok := m.views[addr]
	return v, ok
}

// Elem returns the type actually laid out in Data: the pointee when the
// entry's Descriptor is a pointer, otherwise the Descriptor itself (as
// for a variable DIE whose type is not a pointer). Field lookups always
// go through this accessor.
func (v *TypedView) Elem() *dwarf.Descriptor {
	if v.Descriptor != nil && v.Descriptor.Kind == dwarf.KindPtr && v.Descriptor.Elem != nil {
		return v.Descriptor.Elem
	}
	return v.Descriptor
}

// Field locates a named field within a struct/union-typed view's bytes and
// returns the sub-slice plus its descriptor.
func (v *TypedView) Field(name string) ([]byte, *dwarf.Descriptor, bool) {
	elem := v.Elem()
	if elem == nil {
		return nil, nil, false
	}
	f, ok := elem.Field(name)
	if !ok {
		return nil, nil, false
	}
	end := int(f.Offset) + int(f.Type.Size)
	if end > len(v.Data) {
		return nil, nil, false
	}
	return v.Data[f.Offset:end], f.Type, true
}

// Uint64Field reads a little-endian unsigned integer out of a named
// field, zero-extended to 64 bits regardless of the field's own width
// (1, 2, 4, or 8 bytes).
func (v *TypedView) Uint64Field(name string) (uint64, bool) {
	data, _, ok := v.Field(name)
	if !ok {
		return 0, false
	}
	return leUint(data)
}

func leUint(data []byte) (uint64, bool) {
	switch len(data) {
	case 1:
		return uint64(data[0]), true
	case 2:
		return uint64(binary.LittleEndian.Uint16(data)), true
	case 4:
		return uint64(binary.LittleEndian.Uint32(data)), true
	case 8:
		return binary.LittleEndian.Uint64(data), true
	default:
		return 0, false
	}
}
