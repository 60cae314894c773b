package module

import (
	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/errors"
	"github.com/wippyai/wasm-coredump/wasm"
)

// Coredump extracts the coredump carried by the module: process info from
// the "core" section, one stack per "corestack" section in module order,
// the memory limits, and a memory image flattened from the active data
// segments. It fails when the module has no "core" section.
func (m *Module) Coredump() (*coredump.Coredump, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		c       coredump.Coredump
		hasCore bool
	)
	for _, s := range m.raw.Sections {
		switch s := s.(type) {
		case *wasm.CustomSection:
			switch content := s.Content.(type) {
			case *wasm.CoreSection:
				if !hasCore {
					c.Process = content.Process
					hasCore = true
				}
			case *wasm.CoreStackSection:
				c.Stacks = append(c.Stacks, content.Stack)
			}
		case *wasm.MemorySection:
			for _, l := range s.Memories {
				c.Memory = append(c.Memory, coredump.MemoryLimits{Min: l.Min, Max: l.Max})
			}
		case *wasm.DataSection:
			data, err := flattenData(s.Segments)
			if err != nil {
				return nil, err
			}
			c.Data = data
		}
	}
	if !hasCore {
		return nil, errors.Malformed(errors.PhaseCoredump, "Wasm module is not a coredump")
	}
	return &c, nil
}

// flattenData lays the active segments of memory 0 out at their offsets.
// Bytes not covered by a segment are zero.
func flattenData(segments []wasm.DataSegment) ([]byte, error) {
	var size uint64
	offsets := make([]uint32, len(segments))
	for i := range segments {
		seg := &segments[i]
		if seg.Mode == wasm.DataPassive || seg.MemIdx != 0 {
			continue
		}
		off, err := seg.ComputeOffset()
		if err != nil {
			return nil, errors.New(errors.PhaseCoredump, errors.KindMalformed).
				Path("data", "segment").
				Value(i).
				Cause(err).
				Detail("unsupported data segment offset").
				Build()
		}
		offsets[i] = off
		size = max(size, uint64(off)+uint64(len(seg.Init)))
	}

	image := make([]byte, size)
	for i := range segments {
		seg := &segments[i]
		if seg.Mode == wasm.DataPassive || seg.MemIdx != 0 {
			continue
		}
		copy(image[offsets[i]:], seg.Init)
	}
	return image, nil
}
