package engine

import (
	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/errors"
)

// ReadFrames decodes the frames region that an instrumented module wrote
// at base in mem. It returns a not found error when the region carries no
// marker, i.e. the guest never reached its entry function while unwinding.
func ReadFrames(mem []byte, base uint32) ([]coredump.StackFrame, error) {
	marker, err := coredump.ReadU32(mem, base+coredump.RegionMarkerOffset)
	if err != nil {
		return nil, err
	}
	if marker != coredump.RegionMarker {
		return nil, errors.New(errors.PhaseRuntime, errors.KindNotFound).
			Value(base).
			Detail("no frames region at 0x%x", base).
			Build()
	}

	count, err := coredump.ReadU32(mem, base+coredump.RegionCountOffset)
	if err != nil {
		return nil, err
	}
	end, err := coredump.ReadU32(mem, base+coredump.RegionEndOffset)
	if err != nil {
		return nil, err
	}
	start := base + coredump.RegionHeaderSize
	if end < start || uint64(end) > uint64(len(mem)) {
		return nil, errors.InvalidData(errors.PhaseRuntime, []string{"frames"},
			"frames region ends outside memory")
	}
	return coredump.DecodeFrames(mem[start:end], count)
}
