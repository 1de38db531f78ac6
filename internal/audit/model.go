package audit

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/raptorjit/birdwatch/internal/dwarf"
	"github.com/raptorjit/birdwatch/internal/elfsection"
	"github.com/raptorjit/birdwatch/internal/msgpack"
	"github.com/raptorjit/birdwatch/internal/vmprofile"
)

const dwarfBlobName = "lj_dwarf.dwo"

const bcLogEntrySize = 16 // proto address(8) + pos(4) + framedepth(4)

// Snapshot is one timestamped VM profile sample folded into a Model.
type Snapshot struct {
	Timestamp int64
	Profile   *vmprofile.Profile
}

// Model is the replayed audit log: the memory map, prototype/ctype/trace
// tables, and the ordered event list, plus whatever VM profiles have been
// joined in via AddProfile.
type Model struct {
	mm     *MemoryMap
	loader *dwarf.Loader

	events       []*Event
	eventsByKind map[string][]*Event

	traces     map[int]*Trace
	prototypes map[uint64]*Prototype
	ctypes     map[int64]string

	stopEventByTraceNo map[int]*Event
	abortsByStartID    map[string][]*Event

	irModeView *TypedView
	irOpDesc   *dwarf.Descriptor
	irTypeDesc *dwarf.Descriptor
	vmstDesc   *dwarf.Descriptor
	irMaxVal   *int

	warnings []string

	profiles map[string][]Snapshot
}

// NoDwarfBlobError is returned when the audit log carries no blob record
// named "lj_dwarf.dwo": Pass A's DWARF bring-up cannot proceed without it.
type NoDwarfBlobError struct{}

func (e *NoDwarfBlobError) Error() string {
	return "audit: no embedded DWARF blob (" + dwarfBlobName + ") found in audit log"
}

// Load parses the audit log at path: Pass A decodes every record and
// brings up the embedded DWARF, Pass B replays events against it.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to read %s: %w", path, err)
	}

	records, err := decodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to decode audit log: %w", err)
	}

	loader, err := loadEmbeddedDwarf(records)
	if err != nil {
		return nil, err
	}

	m := &Model{
		mm:                 newMemoryMap(),
		loader:             loader,
		eventsByKind:       make(map[string][]*Event),
		traces:             make(map[int]*Trace),
		prototypes:         make(map[uint64]*Prototype),
		ctypes:             make(map[int64]string),
		stopEventByTraceNo: make(map[int]*Event),
		abortsByStartID:    make(map[string][]*Event),
		profiles:           make(map[string][]Snapshot),
	}

	if err := m.replay(records); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeRecords(data []byte) ([]Record, error) {
	r := msgpack.NewReader(data)
	var out []Record
	for {
		v, ok, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("at offset %d: %w", r.Offset(), err)
		}
		if !ok {
			return out, nil
		}
		rec, err := decodeRecord(v)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

func loadEmbeddedDwarf(records []Record) (*dwarf.Loader, error) {
	for _, rec := range records {
		if rec.Kind == RecordBlob && rec.Name == dwarfBlobName {
			sections, err := elfsection.Parse(rec.Data)
			if err != nil {
				return nil, fmt.Errorf("audit: failed to parse embedded ELF: %w", err)
			}
			loader, err := dwarf.Load(sections)
			if err != nil {
				return nil, fmt.Errorf("audit: failed to load embedded DWARF: %w", err)
			}
			return loader, nil
		}
	}
	return nil, &NoDwarfBlobError{}
}

func (m *Model) replay(records []Record) error {
	var prev *Event
	for _, rec := range records {
		switch rec.Kind {
		case RecordMemory:
			if err := m.bindMemory(rec); err != nil {
				return err
			}
		case RecordEvent:
			evt := &Event{Nanotime: rec.Nanotime, Kind: rec.Event, Prev: prev}
			if err := m.applyEvent(rec, evt); err != nil {
				return err
			}
			m.events = append(m.events, evt)
			m.eventsByKind[evt.Kind] = append(m.eventsByKind[evt.Kind], evt)
			prev = evt
		case RecordBlob:
			// Only the embedded DWARF blob is semantically meaningful, and
			// it was already consumed in Pass A.
		}
	}
	return nil
}

func (m *Model) bindMemory(rec Record) error {
	die, ok := m.loader.FindDIE(rec.Hint)
	if !ok {
		return fmt.Errorf("audit: memory record hint %q does not name a known DIE", rec.Hint)
	}

	var desc *dwarf.Descriptor
	if die.Tag == dwarf.TagVariable {
		d, err := m.loader.DescriptorOf(die)
		if err != nil {
			return fmt.Errorf("audit: failed to synthesize descriptor for %q: %w", rec.Hint, err)
		}
		desc = d
	} else {
		inner, err := m.loader.DescriptorOf(die)
		if err != nil {
			return fmt.Errorf("audit: failed to synthesize descriptor for %q: %w", rec.Hint, err)
		}
		desc = &dwarf.Descriptor{Kind: dwarf.KindPtr, Size: 8, Elem: inner}
	}

	m.mm.bind(rec.Address, rec.Data, desc)
	if rec.Hint == "lj_ir_mode" {
		m.irModeView, _ = m.mm.Lookup(rec.Address)
	}
	return nil
}

func fieldUint64(rec Record, name string) (uint64, bool) {
	v, ok := rec.Fields[name]
	if !ok {
		return 0, false
	}
	return v.Uint64()
}

func fieldStr(rec Record, name string) (string, bool) {
	v, ok := rec.Fields[name]
	if !ok {
		return "", false
	}
	return v.Str()
}

func (m *Model) applyEvent(rec Record, evt *Event) error {
	switch rec.Event {
	case "new_prototype":
		return m.applyNewPrototype(rec, evt)
	case "new_ctypeid":
		return m.applyNewCtypeID(rec, evt)
	case "trace_stop":
		return m.applyTraceStop(rec, evt)
	case "trace_abort":
		return m.applyTraceAbort(rec, evt)
	case "lex":
		return nil
	default:
		m.warnings = append(m.warnings, fmt.Sprintf("event %q at nanotime %d: unrecognized kind", rec.Event, rec.Nanotime))
		return nil
	}
}

func (m *Model) applyNewPrototype(rec Record, evt *Event) error {
	addr, ok := fieldUint64(rec, "GCproto")
	if !ok {
		return fmt.Errorf("audit: new_prototype event missing GCproto field")
	}
	if proto, ok := m.prototypes[addr]; ok {
		evt.Payload = proto
		return nil
	}
	view, ok := m.mm.Lookup(addr)
	if !ok {
		return &MissingMemoryError{Address: addr}
	}
	proto := newPrototype(addr, view, m.mm)
	m.prototypes[addr] = proto
	evt.Payload = proto
	return nil
}

func (m *Model) applyNewCtypeID(rec Record, evt *Event) error {
	raw, ok := fieldUint64(rec, "id")
	if !ok {
		return fmt.Errorf("audit: new_ctypeid event missing id field")
	}
	id := int64(raw)
	if uint64(id) != raw {
		m.warnings = append(m.warnings, fmt.Sprintf("ctype id %d did not round-trip through int64 normalization", raw))
	}
	desc, _ := fieldStr(rec, "desc")
	m.ctypes[id] = desc
	evt.Payload = CtypeEvent{ID: id, Desc: desc}
	return nil
}

func readBcLog(view *TypedView) ([]BcLogEntry, error) {
	nbclog, ok := view.Uint64Field("nbclog")
	if !ok || nbclog == 0 {
		return nil, nil
	}
	ptr, ok := view.Uint64Field("bclog")
	if !ok {
		return nil, fmt.Errorf("audit: jit_State has nbclog but no bclog pointer")
	}
	off, ok := colocated(view, ptr)
	if !ok {
		return nil, fmt.Errorf("audit: jit_State.bclog does not resolve into its own allocation")
	}
	out := make([]BcLogEntry, 0, nbclog)
	for i := uint64(0); i < nbclog; i++ {
		entryOff := off + int(i)*bcLogEntrySize
		if entryOff+bcLogEntrySize > len(view.Data) {
			return nil, fmt.Errorf("audit: jit_State.bclog entry %d out of range", i)
		}
		protoAddr := binary.LittleEndian.Uint64(view.Data[entryOff : entryOff+8])
		pos := binary.LittleEndian.Uint32(view.Data[entryOff+8 : entryOff+12])
		framedepth := binary.LittleEndian.Uint32(view.Data[entryOff+12 : entryOff+16])
		out = append(out, BcLogEntry{ProtoAddr: protoAddr, Pos: pos, FrameDepth: framedepth})
	}
	return out, nil
}

func (m *Model) applyTraceStop(rec Record, evt *Event) error {
	traceAddr, ok := fieldUint64(rec, "GCtrace")
	if !ok {
		return fmt.Errorf("audit: trace_stop event missing GCtrace field")
	}
	view, ok := m.mm.Lookup(traceAddr)
	if !ok {
		return &MissingMemoryError{Address: traceAddr}
	}
	jitAddr, ok := fieldUint64(rec, "jit_State")
	if !ok {
		return fmt.Errorf("audit: trace_stop event missing jit_State field")
	}
	jsView, ok := m.mm.Lookup(jitAddr)
	if !ok {
		return &MissingMemoryError{Address: jitAddr}
	}

	traceno, _ := view.Uint64Field("traceno")
	parent, _ := jsView.Uint64Field("parent")
	startpc, _ := jsView.Uint64Field("startpc")
	nk, _ := view.Uint64Field("nk")
	nins, _ := view.Uint64Field("nins")

	refBias, ok := m.loader.Constant("REF_BIAS")
	if !ok {
		return fmt.Errorf("audit: DWARF is missing the REF_BIAS constant")
	}
	nkBase := int(refBias) - int(nk)
	if nkBase < 0 {
		return fmt.Errorf("audit: trace %d has a negative constant-pool size", traceno)
	}
	// trace.nins is itself a base-biased ref (one past the last emitted
	// instruction); decodeInstructions walks i in [1, insBound).
	insBound := int(nins) - int(refBias) - 1
	if insBound < 1 {
		insBound = 1
	}

	irPtr, ok := view.Uint64Field("ir")
	if !ok {
		return fmt.Errorf("audit: trace %d has no ir field", traceno)
	}
	irOff, ok := colocated(view, irPtr)
	if !ok {
		return fmt.Errorf("audit: trace %d's ir field does not resolve into its own allocation", traceno)
	}
	irData := view.Data[irOff:]

	bclog, err := readBcLog(jsView)
	if err != nil {
		return err
	}

	t := &Trace{
		TraceNo:  int(traceno),
		Parent:   int(parent),
		StartPC:  startpc,
		View:     view,
		JitState: jsView,
		BcLog:    bclog,
		nk:       nkBase,
		nins:     insBound,
		irData:   irData,
		model:    m,
	}
	m.traces[t.TraceNo] = t
	m.stopEventByTraceNo[t.TraceNo] = evt
	evt.Payload = t
	return nil
}

func (m *Model) applyTraceAbort(rec Record, evt *Event) error {
	jitAddr, ok := fieldUint64(rec, "jit_State")
	if !ok {
		return fmt.Errorf("audit: trace_abort event missing jit_State field")
	}
	jsView, ok := m.mm.Lookup(jitAddr)
	if !ok {
		return &MissingMemoryError{Address: jitAddr}
	}

	parent, _ := jsView.Uint64Field("parent")
	startpc, _ := jsView.Uint64Field("startpc")

	errName := "?"
	if raw, ok := fieldUint64(rec, "TraceError"); ok {
		if die, ok := m.loader.FindDIE("TraceError"); ok {
			if desc, err := m.loader.DescriptorOf(die); err == nil {
				if name, ok := m.loader.EnumName(desc, int64(raw)); ok {
					errName = name
				}
			}
		}
	}

	bclog, err := readBcLog(jsView)
	if err != nil {
		return err
	}

	abort := &TraceAbort{
		Parent:    int(parent),
		StartPC:   startpc,
		ErrorName: errName,
		JitState:  jsView,
		BcLog:     bclog,
		model:     m,
	}
	m.abortsByStartID[abort.StartID()] = append(m.abortsByStartID[abort.StartID()], evt)
	evt.Payload = abort
	return nil
}

// irOpName resolves an IR opcode byte to its name via the DWARF-described
// IROp enumeration, falling back to the built-in table if the DWARF blob
// carries no such enumeration.
func (m *Model) irOpName(o uint8) string {
	if m.irOpDesc == nil {
		if die, ok := m.loader.FindDIE("IROp"); ok {
			if d, err := m.loader.DescriptorOf(die); err == nil {
				m.irOpDesc = d
			}
		}
	}
	if m.irOpDesc != nil {
		if name, ok := m.loader.EnumName(m.irOpDesc, int64(o)); ok {
			return name
		}
	}
	return irOpcodeName(o)
}

// irTypeName resolves an IR type byte to its name via the DWARF-described
// IRType enumeration, falling back to the built-in table if the DWARF
// blob carries no such enumeration.
func (m *Model) irTypeName(t uint8) string {
	if m.irTypeDesc == nil {
		if die, ok := m.loader.FindDIE("IRType"); ok {
			if d, err := m.loader.DescriptorOf(die); err == nil {
				m.irTypeDesc = d
			}
		}
	}
	if m.irTypeDesc != nil {
		if name, ok := m.loader.EnumName(m.irTypeDesc, int64(t)); ok {
			return name
		}
	}
	return irTypeName(t)
}

// irMaxOpcodes resolves the IR__MAX constant that bounds the real opcode
// range, falling back to irMaxOpcodesFallback (256, so no opcode byte is
// skipped) if the DWARF blob carries no such constant.
func (m *Model) irMaxOpcodes() int {
	if m.irMaxVal == nil {
		v := irMaxOpcodesFallback
		if c, ok := m.loader.Constant("IR__MAX"); ok {
			v = int(c)
		}
		m.irMaxVal = &v
	}
	return *m.irMaxVal
}

func (m *Model) eventsForTrace(traceno int, startID string) []*Event {
	var out []*Event
	if stop, ok := m.stopEventByTraceNo[traceno]; ok {
		out = append(out, stop)
	}
	out = append(out, m.abortsByStartID[startID]...)
	return out
}

// Events returns every event in record-stream order.
func (m *Model) Events() []*Event { return m.events }

// EventsByKind returns every event whose Kind equals kind, in
// record-stream order.
func (m *Model) EventsByKind(kind string) []*Event { return m.eventsByKind[kind] }

// Traces returns the trace table, keyed by trace number.
func (m *Model) Traces() map[int]*Trace { return m.traces }

// Prototypes returns the prototype table, keyed by address.
func (m *Model) Prototypes() map[uint64]*Prototype { return m.prototypes }

// Ctypes returns the ctype table, keyed by normalized id.
func (m *Model) Ctypes() map[int64]string { return m.ctypes }

// Warnings returns non-fatal notices accumulated during load.
func (m *Model) Warnings() []string { return m.warnings }

// AddProfile loads a VM profile file and joins it to the model under the
// name derived from its filename, at the given timestamp. Timestamps must
// be non-decreasing within a single name.
func (m *Model) AddProfile(path string, timestamp int64) error {
	vmstMax, ok := m.loader.Constant("LJ_VMST__MAX")
	if !ok {
		return fmt.Errorf("audit: DWARF is missing the LJ_VMST__MAX constant needed to load VM profiles")
	}
	traceMax := 0
	if tm, ok := m.loader.Constant("LJ_VMPROFILE_TRACE_MAX"); ok {
		traceMax = int(tm)
	}

	p, err := vmprofile.Load(path, traceMax, int(vmstMax), m.vmstNames(int(vmstMax)))
	if err != nil {
		return fmt.Errorf("audit: failed to load VM profile %s: %w", path, err)
	}
	name := profileName(path)
	snaps := m.profiles[name]
	if len(snaps) > 0 && timestamp < snaps[len(snaps)-1].Timestamp {
		return fmt.Errorf("audit: profile %q: timestamp %d precedes previous snapshot at %d", name, timestamp, snaps[len(snaps)-1].Timestamp)
	}
	m.profiles[name] = append(snaps, Snapshot{Timestamp: timestamp, Profile: p})
	return nil
}

// vmstNames resolves VM-state names 0..vmstMax-1 from DWARF's VMState
// enumeration. If the audit log's DWARF blob carries no such enumeration
// it returns nil, and vmprofile.Load then uses its fixed VM-state table.
func (m *Model) vmstNames(vmstMax int) []string {
	if m.vmstDesc == nil {
		die, ok := m.loader.FindDIE("VMState")
		if !ok {
			return nil
		}
		d, err := m.loader.DescriptorOf(die)
		if err != nil {
			return nil
		}
		m.vmstDesc = d
	}
	names := make([]string, vmstMax)
	for i := range names {
		if name, ok := m.loader.EnumName(m.vmstDesc, int64(i)); ok {
			names[i] = name
		}
	}
	return names
}

func profileName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SelectProfiles resolves the time window [start, end] against every
// joined profile name. Negative values are relative: a negative end means
// "now + end", where now is the most recent snapshot timestamp across all
// profiles (there being no wall clock in a pure library); a negative
// start means "end + start", using the already-resolved end. A window
// containing exactly one snapshot returns that snapshot; a window
// spanning two or more returns the delta between the earliest and latest
// snapshot it contains.
func (m *Model) SelectProfiles(start, end int64) (map[string]*vmprofile.Profile, error) {
	now := end
	if now < 0 {
		now = m.mostRecentTimestamp()
	}
	resolvedEnd := end
	if resolvedEnd < 0 {
		resolvedEnd = now + end
	}
	resolvedStart := start
	if resolvedStart < 0 {
		resolvedStart = resolvedEnd + start
	}

	out := make(map[string]*vmprofile.Profile)
	for name, snaps := range m.profiles {
		p, err := selectWindow(snaps, resolvedStart, resolvedEnd)
		if err != nil {
			return nil, fmt.Errorf("audit: profile %q: %w", name, err)
		}
		if p != nil {
			out[name] = p
		}
	}
	return out, nil
}

func (m *Model) mostRecentTimestamp() int64 {
	var max int64
	found := false
	for _, snaps := range m.profiles {
		for _, s := range snaps {
			if !found || s.Timestamp > max {
				max = s.Timestamp
				found = true
			}
		}
	}
	return max
}

func selectWindow(snaps []Snapshot, start, end int64) (*vmprofile.Profile, error) {
	var matched []Snapshot
	for _, s := range snaps {
		if s.Timestamp >= start && s.Timestamp <= end {
			matched = append(matched, s)
		}
	}
	switch len(matched) {
	case 0:
		return nil, nil
	case 1:
		return matched[0].Profile, nil
	default:
		sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp < matched[j].Timestamp })
		return matched[0].Profile.Delta(matched[len(matched)-1].Profile)
	}
}
