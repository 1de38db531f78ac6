// Package vmprofile loads and analyzes raptorjit's VM profile format: a
// flat table of per-trace, per-VM-state sample counters. It knows nothing
// of msgpack, ELF or DWARF; it is joined to an audit log only through
// trace numbers, at the collaborator layer.
package vmprofile

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
)

// Magic is the expected four-byte file signature.
const Magic uint32 = 0x1D50F007

// headerSize is the fixed byte width of the header preceding the flat
// counter array: magic(4) + major(2) + minor(2) + 6 reserved bytes,
// rounding the header to a convenient fixed size.
const headerSize = 14

// DefaultTraceMax is used when the caller has no DWARF-derived
// LJ_VMPROFILE_TRACE_MAX constant to supply.
const DefaultTraceMax = 4096

// defaultVmstNames is the fixed VM-state table: interp, c, igc, exit,
// record, opt, asm, head, loop, jgc, ffi. Used whenever the caller has no
// DWARF-derived VMState enumeration to override it with.
var defaultVmstNames = []string{
	"interp", "c", "igc", "exit", "record", "opt", "asm", "head", "loop", "jgc", "ffi",
}

// ShapeMismatchError is returned by Delta/Sum when the two profiles do
// not agree on TraceMax/VmstMax.
type ShapeMismatchError struct {
	TraceMax, VmstMax       int
	OtherTraceMax, OtherVmstMax int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("vmprofile: shape mismatch: %dx%d vs %dx%d", e.TraceMax, e.VmstMax, e.OtherTraceMax, e.OtherVmstMax)
}

// BadMagicError is returned when a file does not open with the expected
// magic number.
type BadMagicError struct {
	Got uint32
}

func (e *BadMagicError) Error() string {
	return fmt.Sprintf("vmprofile: bad magic 0x%08x", e.Got)
}

// HotTrace is one entry of Profile.HotTraces: a trace and its per-VM-state
// sample counts, sorted by Total descending.
type HotTrace struct {
	TraceNo int
	Vmst    map[string]uint64
	Total   uint64
}

// Profile is a loaded VM profile: a trace_max x vmst_max table of 64-bit
// sample counters plus the VM-state names used to label them.
type Profile struct {
	Major uint16
	Minor uint16

	traceMax int
	vmstMax  int
	vmstName []string

	counts []uint64

	totalSamplesOnce sync.Once
	totalSamples     uint64

	totalVmstOnce sync.Once
	totalVmst     map[string]uint64

	hotOnce sync.Once
	hotList []HotTrace
}

// Load reads a VM profile file. traceMax defaults to DefaultTraceMax when
// zero or negative (the caller should instead supply the DWARF constant
// LJ_VMPROFILE_TRACE_MAX when one is available). vmstMax has no default:
// it must come from the DWARF constant LJ_VMST__MAX, since there is no
// universal fallback for how many VM states exist. vmstNames labels each
// VM-state column; a missing or empty name falls back to the fixed
// VM-state table (interp ... ffi), and past the end of that table to
// "vmst<N>".
func Load(path string, traceMax, vmstMax int, vmstNames []string) (*Profile, error) {
	if vmstMax <= 0 {
		return nil, fmt.Errorf("vmprofile: vmst_max must be positive")
	}
	if traceMax <= 0 {
		traceMax = DefaultTraceMax
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vmprofile: failed to read %s: %w", path, err)
	}
	return parse(data, traceMax, vmstMax, vmstNames)
}

func parse(data []byte, traceMax, vmstMax int, vmstNames []string) (*Profile, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("vmprofile: truncated header (%d bytes)", len(data))
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != Magic {
		return nil, &BadMagicError{Got: magic}
	}
	major := binary.LittleEndian.Uint16(data[4:6])
	minor := binary.LittleEndian.Uint16(data[6:8])

	want := headerSize + 8*traceMax*vmstMax
	if len(data) < want {
		return nil, fmt.Errorf("vmprofile: truncated counter array: have %d bytes, want %d", len(data), want)
	}

	counts := make([]uint64, traceMax*vmstMax)
	for i := range counts {
		off := headerSize + i*8
		counts[i] = binary.LittleEndian.Uint64(data[off : off+8])
	}

	names := make([]string, vmstMax)
	for i := range names {
		switch {
		case i < len(vmstNames) && vmstNames[i] != "":
			names[i] = vmstNames[i]
		case i < len(defaultVmstNames):
			names[i] = defaultVmstNames[i]
		default:
			names[i] = fmt.Sprintf("vmst%d", i)
		}
	}

	return &Profile{
		Major:    major,
		Minor:    minor,
		traceMax: traceMax,
		vmstMax:  vmstMax,
		vmstName: names,
		counts:   counts,
	}, nil
}

// Shape returns the profile's trace_max and vmst_max dimensions.
func (p *Profile) Shape() (traceMax, vmstMax int) {
	return p.traceMax, p.vmstMax
}

func (p *Profile) index(traceno, vmst int) (int, bool) {
	if traceno < 0 || traceno >= p.traceMax || vmst < 0 || vmst >= p.vmstMax {
		return 0, false
	}
	return traceno*p.vmstMax + vmst, true
}

// Count returns the sample counter for (traceno, vmst).
func (p *Profile) Count(traceno, vmst int) (uint64, bool) {
	i, ok := p.index(traceno, vmst)
	if !ok {
		return 0, false
	}
	return p.counts[i], true
}

// TotalSamples returns the flat sum of every counter in the profile,
// memoized on first call.
func (p *Profile) TotalSamples() uint64 {
	p.totalSamplesOnce.Do(func() {
		var sum uint64
		for _, c := range p.counts {
			sum += c
		}
		p.totalSamples = sum
	})
	return p.totalSamples
}

// TotalVmstSamples returns, for each VM-state name, the sum of that
// column across every trace, memoized on first call.
func (p *Profile) TotalVmstSamples() map[string]uint64 {
	p.totalVmstOnce.Do(func() {
		out := make(map[string]uint64, p.vmstMax)
		for t := 0; t < p.traceMax; t++ {
			for v := 0; v < p.vmstMax; v++ {
				out[p.vmstName[v]] += p.counts[t*p.vmstMax+v]
			}
		}
		p.totalVmst = out
	})
	return p.totalVmst
}

// HotTraces returns every trace with a nonzero total sample count, sorted
// by total descending (ties broken by ascending trace number, for a
// stable order), memoized on first call. traceno == 0 is the untraced
// catch-all bucket; callers render it as "None".
func (p *Profile) HotTraces() []HotTrace {
	p.hotOnce.Do(func() {
		var out []HotTrace
		for t := 0; t < p.traceMax; t++ {
			vmst := make(map[string]uint64, p.vmstMax)
			var total uint64
			for v := 0; v < p.vmstMax; v++ {
				c := p.counts[t*p.vmstMax+v]
				vmst[p.vmstName[v]] = c
				total += c
			}
			if total > 0 {
				out = append(out, HotTrace{TraceNo: t, Vmst: vmst, Total: total})
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Total != out[j].Total {
				return out[i].Total > out[j].Total
			}
			return out[i].TraceNo < out[j].TraceNo
		})
		p.hotList = out
	})
	return p.hotList
}

func (p *Profile) sameShape(other *Profile) bool {
	return p.traceMax == other.traceMax && p.vmstMax == other.vmstMax
}

// Delta returns a new profile whose counters are other's counters minus
// this profile's counters, cell by cell. Both profiles must share the
// same TraceMax/VmstMax shape.
func (p *Profile) Delta(other *Profile) (*Profile, error) {
	if !p.sameShape(other) {
		return nil, &ShapeMismatchError{p.traceMax, p.vmstMax, other.traceMax, other.vmstMax}
	}
	counts := make([]uint64, len(p.counts))
	for i := range counts {
		counts[i] = other.counts[i] - p.counts[i]
	}
	return &Profile{
		Major:    other.Major,
		Minor:    other.Minor,
		traceMax: p.traceMax,
		vmstMax:  p.vmstMax,
		vmstName: p.vmstName,
		counts:   counts,
	}, nil
}

// Sum returns a new profile whose counters are the cell-wise saturating
// addition of this profile and other. Both profiles must share the same
// TraceMax/VmstMax shape.
func (p *Profile) Sum(other *Profile) (*Profile, error) {
	if !p.sameShape(other) {
		return nil, &ShapeMismatchError{p.traceMax, p.vmstMax, other.traceMax, other.vmstMax}
	}
	counts := make([]uint64, len(p.counts))
	for i := range counts {
		counts[i] = saturatingAdd(p.counts[i], other.counts[i])
	}
	return &Profile{
		Major:    p.Major,
		Minor:    p.Minor,
		traceMax: p.traceMax,
		vmstMax:  p.vmstMax,
		vmstName: p.vmstName,
		counts:   counts,
	}, nil
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return math.MaxUint64
	}
	return sum
}

// Dump writes the profile back out in its on-disk format: the same
// header (magic, Major, Minor, reserved padding) followed by the flat
// counter array.
func (p *Profile) Dump(path string) error {
	buf := make([]byte, headerSize+8*len(p.counts))
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], p.Major)
	binary.LittleEndian.PutUint16(buf[6:8], p.Minor)
	for i, c := range p.counts {
		off := headerSize + i*8
		binary.LittleEndian.PutUint64(buf[off:off+8], c)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("vmprofile: failed to write %s: %w", path, err)
	}
	return nil
}
