package audit

import (
	"encoding/binary"
	"fmt"
	"math"
)

// irSlotSize is the byte width of one raw IR array slot: o(1) t(1) reg(1)
// slot(1) op1(2) op2(2).
const irSlotSize = 8

// IRMode is the (op1, op2) operand-mode pair read from the lj_ir_mode
// table for one opcode.
type IRMode struct {
	Op1 IRModeKind
	Op2 IRModeKind
}

// IRModeKind classifies how an operand field of an IR instruction must be
// interpreted.
type IRModeKind int

const (
	ModeRef  IRModeKind = iota // base-biased IR reference
	ModeLit                    // 16-bit literal
	ModeCst                    // 32-bit payload (op1 low, op2 high), rendered as an index
	ModeNone                   // operand unused
)

func modeKind(b uint8) IRModeKind {
	switch b & 0x3 {
	case 0:
		return ModeRef
	case 1:
		return ModeLit
	case 2:
		return ModeCst
	default:
		return ModeNone
	}
}

func irMode(table *TypedView, op uint8) IRMode {
	if table == nil || int(op) >= len(table.Data) {
		return IRMode{ModeNone, ModeNone}
	}
	b := table.Data[op]
	return IRMode{Op1: modeKind(b), Op2: modeKind(b >> 4)}
}

// constKind classifies how a constant slot's 64-bit payload must be
// decoded, driven by the IRType of the instruction that precedes it in
// the constant pool.
type constKind int

const (
	constRaw constKind = iota
	constNum
	constIntp
	constStr
	constFunc
)

// IRConst is one decoded slot of the constant pool, addressed by its
// nk-relative index: raw slot i of the constant pool has Index nk-i.
type IRConst struct {
	Index int
	Kind  string
	Num   float64
	Int   uint64
	Str   string
	Proto uint64 // GCproto address, for "func" constants
}

// IRIns is one decoded instruction of the emitted (non-constant) half of
// the IR array.
type IRIns struct {
	Ref    int
	Op     string
	Type   string
	Reg    uint8
	Slot   uint8
	Sunk   bool
	Op1    int32 // resolved operand: a ref index, a literal, or a raw cst payload
	Op2    int32
	Op1Ref bool
	Op2Ref bool
	Hint   string
}

func rawIRSlot(data []byte, i int) []byte {
	off := i * irSlotSize
	if off+irSlotSize > len(data) {
		return nil
	}
	return data[off : off+irSlotSize]
}

func decodeIRSlotFields(b []byte) (o, t, reg, slot uint8, op1, op2 uint16) {
	o = b[0]
	t = b[1]
	reg = b[2]
	slot = b[3]
	op1 = binary.LittleEndian.Uint16(b[4:6])
	op2 = binary.LittleEndian.Uint16(b[6:8])
	return
}

const (
	regSunkLow  = 253
	regSunkHigh = 254
	slotNone1   = 0
	slotNone2   = 255
)

func isSunk(reg, slot uint8) bool {
	return (reg == regSunkLow || reg == regSunkHigh) && (slot == slotNone1 || slot == slotNone2)
}

// decodeConstants reconstructs the constant pool of a trace, scanning
// back-to-front because a kgc/kptr/kkptr/knum/kint64 constant at raw
// slot i consumes raw slot i+1 as its 64-bit payload.
func decodeConstants(irData []byte, nk int, m *Model) ([]IRConst, error) {
	consts := make([]IRConst, nk)
	for i := nk - 1; i >= 0; i-- {
		b := rawIRSlot(irData, i)
		if b == nil {
			return nil, fmt.Errorf("audit: IR constant slot %d out of range", i)
		}
		o, t, _, _, _, _ := decodeIRSlotFields(b)
		index := nk - i
		c := IRConst{Index: index}

		switch m.irOpName(o) {
		case "kgc", "kptr", "kkptr", "knum", "kint64":
			if i+1 >= nk {
				return nil, fmt.Errorf("audit: IR constant slot %d missing its payload slot", i)
			}
			payloadSlot := rawIRSlot(irData, i+1)
			if payloadSlot == nil {
				return nil, fmt.Errorf("audit: IR constant payload slot %d out of range", i+1)
			}
			payload := binary.LittleEndian.Uint64(payloadSlot)
			switch m.irTypeName(t) {
			case "num":
				c.Kind = "num"
				c.Num = math.Float64frombits(payload)
			case "intp":
				c.Kind = "intp"
				c.Int = payload
			case "str":
				c.Kind = "str"
				if sv, ok := m.mm.Lookup(payload); ok {
					c.Str = string(sv.Data)
				} else {
					return nil, &MissingMemoryError{Address: payload}
				}
			case "func":
				c.Kind = "func"
				c.Proto = payload
			default:
				c.Kind = "raw"
				c.Int = payload
			}
		default:
			c.Kind = "raw"
			c.Int = uint64(binary.LittleEndian.Uint32(b[4:8]))
		}
		consts[index-1] = c
	}
	return consts, nil
}

// decodeInstructions decodes the emitted half of the IR array, ref i in
// [1, nins) addressed at raw slot nk+i.
func decodeInstructions(irData []byte, nk, nins int, m *Model) ([]IRIns, error) {
	var out []IRIns
	for i := 1; i < nins; i++ {
		b := rawIRSlot(irData, nk+i)
		if b == nil {
			return nil, fmt.Errorf("audit: IR instruction slot %d out of range", nk+i)
		}
		o, t, reg, slot, op1, op2 := decodeIRSlotFields(b)
		if int(o) >= m.irMaxOpcodes() {
			continue // padding/garbage slot past the real opcode range
		}
		mode := irMode(m.irModeView, o)
		opName := m.irOpName(o)
		ins := IRIns{
			Ref:  nk + i,
			Op:   opName,
			Type: m.irTypeName(t & 0x1f),
			Reg:  reg,
			Slot: slot,
			Sunk: isSunk(reg, slot),
			Hint: irHint(opName),
		}
		ins.Op1, ins.Op1Ref = renderOperand(mode.Op1, op1, nk)
		ins.Op2, ins.Op2Ref = renderOperand(mode.Op2, op2, nk)
		if mode.Op1 == ModeCst {
			ins.Op1 = int32(uint32(op1) | uint32(op2)<<16)
		}
		out = append(out, ins)
	}
	return out, nil
}

// renderOperand resolves one operand field according to its IRMode. A
// ModeRef operand is a base-biased reference: values below nk address the
// constant pool (as a 1-based constant index), values at or above nk
// address an emitted instruction ref directly.
func renderOperand(mode IRModeKind, raw uint16, nk int) (value int32, isRef bool) {
	switch mode {
	case ModeRef:
		if int(raw) < nk {
			return int32(nk - int(raw)), true // 1-based constant index, matching IRConst.Index
		}
		return int32(raw), true
	case ModeLit:
		return int32(raw), false
	case ModeCst:
		return int32(raw), false
	default:
		return 0, false
	}
}

// irMaxOpcodesFallback is used only when the audit log's DWARF blob
// defines no IR__MAX constant.
const irMaxOpcodesFallback = 256

// irOpNames is the fallback IROp name table, used by Model.irOpName only
// when the audit log's own DWARF blob has no IROp enumeration (or it has
// no name for the opcode).
var irOpNames = []string{
	"nop", "base", "par", "call", "callxs", "vload", "sload", "xload",
	"aload", "hload", "uload", "fload", "tmpref", "add", "sub", "mul",
	"div", "mod", "pow", "neg", "abs", "conv", "kgc", "kptr", "kkptr",
	"knum", "kint64", "kslot", "fpmath", "urefo", "urefc", "fref", "calln",
	"calll", "calls", "pval", "rename", "cnew", "cnewi",
}

func irOpcodeName(o uint8) string {
	if int(o) < len(irOpNames) {
		return irOpNames[o]
	}
	return fmt.Sprintf("ir(0x%02x)", o)
}

var irTypeNames = []string{
	"nil", "fal", "tru", "lightud", "str", "p32", "thread", "pro",
	"func", "p64", "cdata", "tab", "udata", "num", "int", "i8",
	"u8", "i16", "u16", "i64", "u64", "sfp",
}

func irTypeName(t uint8) string {
	if int(t) < len(irTypeNames) {
		return irTypeNames[t]
	}
	return fmt.Sprintf("t(0x%02x)", t)
}

// irHint renders the opcode-specific fix-up hint spec.md §4.4.3 calls
// out: sload/xload/conv decode a bitfield operand, cnew/cnewi resolve a
// ctype, and several opcodes render one operand as a plain index.
func irHint(op string) string {
	switch op {
	case "sload", "xload", "conv":
		return "operand 2 is a flag bitfield"
	case "cnew", "cnewi":
		return "operand 2 indexes the ctype table"
	case "fpmath", "urefo", "urefc", "fref", "fload", "calln", "calll", "calls", "base", "pval", "rename":
		return "operand rendered as index literal"
	default:
		return ""
	}
}
