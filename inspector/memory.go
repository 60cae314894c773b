package inspector

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/debuginfo"
	"github.com/wippyai/wasm-coredump/errors"
)

// maxCString bounds string reads in memory that is not NUL terminated.
const maxCString = 4096

// frameBase reads the frame base of fn from the captured locals of f.
func frameBase(f *coredump.StackFrame, fn *debuginfo.Function) (uint32, error) {
	if fn.FrameBase.Kind != debuginfo.LocationWasmLocal {
		return 0, errors.Unsupported(errors.PhaseInspect, "frame base "+fn.FrameBase.String())
	}
	return local(f, fn.FrameBase.Value)
}

func local(f *coredump.StackFrame, idx int64) (uint32, error) {
	if idx < 0 || idx >= int64(len(f.Locals)) {
		return 0, errors.OutOfBounds(errors.PhaseInspect, []string{"locals"}, int(idx), len(f.Locals))
	}
	return uint32(f.Locals[idx].AsI32()), nil
}

// paramAddr returns the address of p in linear memory.
func paramAddr(f *coredump.StackFrame, fn *debuginfo.Function, p *debuginfo.Param) (uint32, error) {
	base, err := frameBase(f, fn)
	if err != nil {
		return 0, err
	}
	switch p.Location.Kind {
	case debuginfo.LocationOffsetFromBase:
		return uint32(int64(base) + p.Location.Value), nil
	case debuginfo.LocationWasmLocal:
		off, err := local(f, p.Location.Value)
		if err != nil {
			return 0, err
		}
		return base + off, nil
	}
	return 0, errors.Unsupported(errors.PhaseInspect, "location "+p.Location.String())
}

func (s *Session) paramBytes(f *coredump.StackFrame, fn *debuginfo.Function, p *debuginfo.Param, size uint32) ([]byte, error) {
	addr, err := paramAddr(f, fn, p)
	if err != nil {
		return nil, err
	}
	return coredump.Read(s.core.Data, addr, size)
}

func hexBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// cString reads a NUL terminated string at addr.
func cString(data []byte, addr uint32) (string, error) {
	if _, err := coredump.Read(data, addr, 0); err != nil {
		return "", err
	}
	rest := data[addr:]
	if len(rest) > maxCString {
		rest = rest[:maxCString]
	}
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		rest = rest[:i]
	}
	return string(rest), nil
}

// pattern turns a find operand into the bytes to search for. Numbers are
// little endian, four bytes wide unless they need eight.
func pattern(e Expr) ([]byte, error) {
	switch e.Kind {
	case ExprString:
		if e.Name == "" {
			return nil, invalid("empty pattern")
		}
		return []byte(e.Name), nil
	case ExprHex, ExprInt:
		if e.Value <= 0xffffffff {
			return binary.LittleEndian.AppendUint32(nil, uint32(e.Value)), nil
		}
		return binary.LittleEndian.AppendUint64(nil, e.Value), nil
	}
	return nil, invalid("cannot search for %s", e)
}

// search returns the addresses in [start, end) where needle begins.
func search(data []byte, start, end uint32, needle []byte) []uint32 {
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	if start >= end {
		return nil
	}
	var hits []uint32
	hay := data[start:end]
	for off := 0; ; {
		i := bytes.Index(hay[off:], needle)
		if i < 0 {
			return hits
		}
		hits = append(hits, start+uint32(off+i))
		off += i + 1
	}
}
