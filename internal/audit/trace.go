package audit

import (
	"fmt"
	"sync"
)

// BcLogEntry is one entry of a jit_State's bytecode log: the prototype
// being executed, the bytecode position within it, and the frame depth
// at the time it was logged.
type BcLogEntry struct {
	ProtoAddr  uint64
	Pos        uint32
	FrameDepth uint32
}

// LineInfo is the resolved source location of one bytecode-log entry.
type LineInfo struct {
	FrameDepth uint32
	ChunkName  string
	ChunkLine  uint64
	DeclName   string
	DeclLine   uint64
}

// Trace is a successfully compiled path through bytecode. Created once,
// at a trace_stop event, and never mutated thereafter.
type Trace struct {
	TraceNo int
	Parent  int
	StartPC uint64

	View     *TypedView
	JitState *TypedView
	BcLog    []BcLogEntry

	nk     int
	nins   int
	irData []byte

	model *Model

	childrenOnce sync.Once
	childrenList []*Trace

	contourOnce sync.Once
	contourList []LineInfo
}

// TraceAbort represents a failed trace attempt. It shares the contour
// and bytecode-log contract of Trace but carries a symbolic error name
// instead of compiled output.
type TraceAbort struct {
	Parent    int
	StartPC   uint64
	ErrorName string
	JitState  *TypedView
	BcLog     []BcLogEntry
	model     *Model
}

// StartID identifies the entry point a trace or abort shares with other
// attempts at the same bytecode position, for grouping aborts under the
// stop (or other aborts) that share it.
func (t *Trace) StartID() string {
	return fmt.Sprintf("%d/%x", t.Parent, t.StartPC)
}

func (a *TraceAbort) StartID() string {
	return fmt.Sprintf("%d/%x", a.Parent, a.StartPC)
}

// ParentTrace returns the trace this trace was stitched onto, or (nil, false)
// if it is a root trace (Parent == 0).
func (t *Trace) ParentTrace() (*Trace, bool) {
	if t.Parent == 0 {
		return nil, false
	}
	p, ok := t.model.traces[t.Parent]
	return p, ok
}

// Children returns every trace whose Parent is this trace's TraceNo,
// memoized on first call.
func (t *Trace) Children() []*Trace {
	t.childrenOnce.Do(func() {
		for _, other := range t.model.traces {
			if other.Parent == t.TraceNo {
				t.childrenList = append(t.childrenList, other)
			}
		}
	})
	return t.childrenList
}

// Events returns the creating trace_stop event followed by every
// trace_abort event sharing this trace's StartID, in record-stream
// order.
func (t *Trace) Events() []*Event {
	return t.model.eventsForTrace(t.TraceNo, t.StartID())
}

// LineInfo resolves the source location of bytecode-log position i. An
// unresolvable prototype is tolerated, rendered as the '?' placeholder.
func (t *Trace) LineInfo(i int) LineInfo {
	return resolveLineInfo(t.model, t.BcLog, i)
}

func resolveLineInfo(m *Model, bclog []BcLogEntry, i int) LineInfo {
	if i < 0 || i >= len(bclog) {
		return LineInfo{ChunkName: "?", DeclName: "?"}
	}
	entry := bclog[i]
	proto, ok := m.prototypes[entry.ProtoAddr]
	if !ok {
		return LineInfo{FrameDepth: entry.FrameDepth, ChunkName: "?", DeclName: "?"}
	}
	return LineInfo{
		FrameDepth: entry.FrameDepth,
		ChunkName:  proto.ChunkName,
		ChunkLine:  proto.LineAt(int(entry.Pos)),
		DeclName:   proto.DeclName,
		DeclLine:   proto.FirstLine,
	}
}

// Contour is the frame-transition summary of the trace: one entry per
// change of frame depth, excluding frames whose prototype is unknown.
func (t *Trace) Contour() []LineInfo {
	t.contourOnce.Do(func() {
		t.contourList = contourOf(t.model, t.BcLog)
	})
	return t.contourList
}

func contourOf(m *Model, bclog []BcLogEntry) []LineInfo {
	var out []LineInfo
	seen := false
	var last uint32
	for i := range bclog {
		li := resolveLineInfo(m, bclog, i)
		if li.DeclName == "?" {
			continue
		}
		if !seen || li.FrameDepth != last {
			out = append(out, li)
			seen = true
			last = li.FrameDepth
		}
	}
	return out
}

// Bytecodes decodes the instruction logged at each bytecode-log position.
// A nil entry stands for the spec's "{}": the position's prototype is
// unknown.
func (t *Trace) Bytecodes() []*Bytecode {
	return bytecodesOf(t.model, t.BcLog)
}

func bytecodesOf(m *Model, bclog []BcLogEntry) []*Bytecode {
	out := make([]*Bytecode, len(bclog))
	for i, entry := range bclog {
		proto, ok := m.prototypes[entry.ProtoAddr]
		if !ok || int(entry.Pos) >= len(proto.Bytecode) {
			continue
		}
		bc := DecodeBytecode(proto.Bytecode[entry.Pos])
		out[i] = &bc
	}
	return out
}

// Instructions decodes the trace's emitted IR, per spec.md §4.4.3.
func (t *Trace) Instructions() ([]IRIns, error) {
	return decodeInstructions(t.irData, t.nk, t.nins, t.model)
}

// Constants decodes the trace's constant pool, per spec.md §4.4.3.
func (t *Trace) Constants() ([]IRConst, error) {
	return decodeConstants(t.irData, t.nk, t.model)
}
