package coredump

import (
	"encoding/binary"

	"github.com/wippyai/wasm-coredump/errors"
)

// Read returns size bytes of the memory image at addr.
func Read(data []byte, addr uint32, size uint32) ([]byte, error) {
	end := uint64(addr) + uint64(size)
	if end > uint64(len(data)) {
		return nil, errors.New(errors.PhaseCoredump, errors.KindOutOfBounds).
			Value(addr).
			Detail("memory out of bounds: 0x%x+%d exceeds %d bytes", addr, size, len(data)).
			Build()
	}
	return data[addr:end], nil
}

// ReadU32 reads a little-endian pointer-sized value at addr.
func ReadU32(data []byte, addr uint32) (uint32, error) {
	b, err := Read(data, addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Thread returns the stack of thread idx.
func (c *Coredump) Thread(idx int) (*CoreStack, error) {
	if idx < 0 || idx >= len(c.Stacks) {
		return nil, errors.OutOfBounds(errors.PhaseCoredump, []string{"threads"}, idx, len(c.Stacks))
	}
	return &c.Stacks[idx], nil
}
