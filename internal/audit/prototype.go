package audit

import "encoding/binary"

// Prototype is a compiled function body: its declaration site plus its
// co-located line-info and bytecode arrays. Created once, at the first
// new_prototype event referencing its address, and never mutated.
type Prototype struct {
	Address   uint64
	View      *TypedView
	ChunkName string
	DeclName  string
	FirstLine uint64
	LineInfo  []byte
	Bytecode  []uint32
}

// colocated resolves a pointer that was captured pointing somewhere
// inside the same allocation as view: in the originating process the
// pointer and the allocation's base address share a delta that survives
// the re-homing into view.Data verbatim.
//
//	colocated(ptr) = base_of(blob) + (ptr − original_address_of_blob)
//
// base_of(blob) and original_address_of_blob are both view.Address (the
// blob IS the memory record captured at that address), so this reduces
// to locating ptr at offset (ptr − view.Address) inside view.Data.
func colocated(view *TypedView, ptr uint64) (offset int, ok bool) {
	if ptr == 0 {
		return 0, false
	}
	delta := int64(ptr) - int64(view.Address)
	if delta < 0 || int(delta) > len(view.Data) {
		return 0, false
	}
	return int(delta), true
}

func colocatedCString(view *TypedView, ptr uint64) string {
	off, ok := colocated(view, ptr)
	if !ok {
		return "?"
	}
	end := off
	for end < len(view.Data) && view.Data[end] != 0 {
		end++
	}
	return string(view.Data[off:end])
}

// newPrototype builds a Prototype from the GCproto memory view named by
// the new_prototype event.
func newPrototype(addr uint64, view *TypedView, mm *MemoryMap) *Prototype {
	p := &Prototype{Address: addr, View: view, DeclName: "?", ChunkName: "?"}

	if fl, ok := view.Uint64Field("firstline"); ok {
		p.FirstLine = fl
	}

	if chunknameAddr, ok := view.Uint64Field("chunkname"); ok {
		if sv, ok := mm.Lookup(chunknameAddr); ok {
			p.ChunkName = string(sv.Data)
		}
	}

	if declnamePtr, ok := view.Uint64Field("declname"); ok && declnamePtr != 0 {
		p.DeclName = colocatedCString(view, declnamePtr)
	}

	sizebc, _ := view.Uint64Field("sizebc")
	if lineinfoPtr, ok := view.Uint64Field("lineinfo"); ok && sizebc > 0 {
		if off, ok := colocated(view, lineinfoPtr); ok {
			end := off + int(sizebc)
			if end <= len(view.Data) {
				p.LineInfo = view.Data[off:end]
			}
		}
	}

	structSize := 0
	if elem := view.Elem(); elem != nil {
		structSize = int(elem.Size)
	}
	if sizebc > 0 && structSize+int(sizebc)*4 <= len(view.Data) {
		p.Bytecode = make([]uint32, sizebc)
		for i := range p.Bytecode {
			off := structSize + i*4
			p.Bytecode[i] = binary.LittleEndian.Uint32(view.Data[off : off+4])
		}
	}

	return p
}

// LineAt returns the source line attributed to bytecode position i,
// combining FirstLine with the matching LineInfo delta byte. It returns
// 0 if i is out of range.
func (p *Prototype) LineAt(i int) uint64 {
	if i < 0 || i >= len(p.LineInfo) {
		return 0
	}
	return p.FirstLine + uint64(p.LineInfo[i])
}
