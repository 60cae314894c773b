package coredump

import (
	"fmt"

	"github.com/wippyai/wasm-coredump/errors"
	"github.com/wippyai/wasm-coredump/internal/binary"
)

// Payload encodings of the tool-conventions coredump custom sections:
//
//	core:      0x00 executable-name:name
//	corestack: 0x00 thread-name:name frames:vec(frame)
//	frame:     0x00 funcidx:u32 codeoffset:u32 locals:vec(value) stack:vec(value)
//	value:     0x01 | 0x7F i32 | 0x7E i64 | 0x7D f32 | 0x7C f64 (little-endian)
const (
	processInfoVersion byte = 0x00
	threadInfoVersion  byte = 0x00
	frameVersion       byte = 0x00
)

// EncodeProcessInfo encodes the payload of a "core" custom section.
func EncodeProcessInfo(p ProcessInfo) []byte {
	w := binary.NewWriter()
	w.Byte(processInfoVersion)
	w.WriteName(p.ExecutableName)
	return w.Bytes()
}

// DecodeProcessInfo decodes the payload of a "core" custom section.
func DecodeProcessInfo(data []byte) (ProcessInfo, error) {
	r := binary.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return ProcessInfo{}, r.WrapError("core", err)
	}
	if version != processInfoVersion {
		return ProcessInfo{}, errors.InvalidData(errors.PhaseDecode, []string{"core"},
			fmt.Sprintf("unsupported process-info version %d", version))
	}
	name, err := r.ReadName()
	if err != nil {
		return ProcessInfo{}, r.WrapError("core", err)
	}
	return ProcessInfo{ExecutableName: name}, nil
}

// EncodeCoreStack encodes the payload of a "corestack" custom section.
func EncodeCoreStack(s CoreStack) []byte {
	w := binary.NewWriter()
	w.Byte(threadInfoVersion)
	w.WriteName(s.ThreadName)
	w.WriteU32(uint32(len(s.Frames)))
	for i := range s.Frames {
		writeFrame(w, &s.Frames[i])
	}
	return w.Bytes()
}

// DecodeCoreStack decodes the payload of a "corestack" custom section.
func DecodeCoreStack(data []byte) (CoreStack, error) {
	r := binary.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return CoreStack{}, r.WrapError("corestack", err)
	}
	if version != threadInfoVersion {
		return CoreStack{}, errors.InvalidData(errors.PhaseDecode, []string{"corestack"},
			fmt.Sprintf("unsupported thread-info version %d", version))
	}
	name, err := r.ReadName()
	if err != nil {
		return CoreStack{}, r.WrapError("corestack", err)
	}
	count, err := r.ReadU32()
	if err != nil {
		return CoreStack{}, r.WrapError("corestack", err)
	}
	frames, err := readFrames(r, count)
	if err != nil {
		return CoreStack{}, err
	}
	return CoreStack{ThreadName: name, Frames: frames}, nil
}

// EncodeFrames encodes frames back to back without a count prefix, the
// layout the guest runtime writes into linear memory.
func EncodeFrames(frames []StackFrame) []byte {
	w := binary.NewWriter()
	for i := range frames {
		writeFrame(w, &frames[i])
	}
	return w.Bytes()
}

// DecodeFrames decodes count frames laid out back to back in data.
func DecodeFrames(data []byte, count uint32) ([]StackFrame, error) {
	return readFrames(binary.NewReader(data), count)
}

func writeFrame(w *binary.Writer, f *StackFrame) {
	w.Byte(frameVersion)
	w.WriteU32(f.FuncIdx)
	w.WriteU32(f.CodeOffset)
	writeValues(w, f.Locals)
	writeValues(w, f.Stack)
}

func writeValues(w *binary.Writer, values []Value) {
	w.WriteU32(uint32(len(values)))
	for _, v := range values {
		w.Byte(byte(v.Type))
		switch v.Type {
		case TypeI32, TypeF32:
			w.WriteU32LE(uint32(v.Bits))
		case TypeI64, TypeF64:
			w.WriteU64LE(v.Bits)
		}
	}
}

func readFrames(r *binary.Reader, count uint32) ([]StackFrame, error) {
	// Each frame takes at least 5 bytes; don't trust count for preallocation.
	frames := make([]StackFrame, 0, min(int(count), r.Len()/5))
	for i := uint32(0); i < count; i++ {
		f, err := readFrame(r)
		if err != nil {
			return nil, r.WrapError(fmt.Sprintf("frame %d", i), err)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func readFrame(r *binary.Reader) (StackFrame, error) {
	version, err := r.ReadByte()
	if err != nil {
		return StackFrame{}, err
	}
	if version != frameVersion {
		return StackFrame{}, fmt.Errorf("unsupported frame version %d", version)
	}

	var f StackFrame
	if f.FuncIdx, err = r.ReadU32(); err != nil {
		return StackFrame{}, err
	}
	if f.CodeOffset, err = r.ReadU32(); err != nil {
		return StackFrame{}, err
	}
	if f.Locals, err = readValues(r); err != nil {
		return StackFrame{}, fmt.Errorf("locals: %w", err)
	}
	if f.Stack, err = readValues(r); err != nil {
		return StackFrame{}, fmt.Errorf("stack: %w", err)
	}
	return f, nil
}

func readValues(r *binary.Reader) ([]Value, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	values := make([]Value, 0, min(int(count), r.Len()))
	for i := uint32(0); i < count; i++ {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		v := Value{Type: ValueType(tag)}
		switch v.Type {
		case TypeMissing:
		case TypeI32, TypeF32:
			bits, err := r.ReadU32LE()
			if err != nil {
				return nil, err
			}
			v.Bits = uint64(bits)
		case TypeI64, TypeF64:
			if v.Bits, err = r.ReadU64LE(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown value type 0x%02x", tag)
		}
		values = append(values, v)
	}
	return values, nil
}
