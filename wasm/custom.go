package wasm

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-coredump/coredump"
	"github.com/wippyai/wasm-coredump/internal/binary"
)

// Custom section names with a decoded payload.
const (
	CustomName      = "name"
	CustomCore      = "core"
	CustomCoreStack = "corestack"
	CustomBuildID   = "build_id"
)

// Name section subsection ids.
const (
	nameSubModule   byte = 0
	nameSubFunction byte = 1
)

// decodeCustomContent decodes a known custom payload. A payload that fails
// to decode is kept as raw bytes rather than failing the module.
func decodeCustomContent(name string, r *binary.Reader) CustomContent {
	start := r.Position()
	payload := r.ReadRemaining()

	var (
		content CustomContent
		err     error
	)
	switch name {
	case CustomName:
		content, err = decodeNameSection(binary.NewReaderAt(payload, start))
	case CustomCore:
		var p coredump.ProcessInfo
		p, err = coredump.DecodeProcessInfo(payload)
		content = &CoreSection{Process: p}
	case CustomCoreStack:
		var s coredump.CoreStack
		s, err = coredump.DecodeCoreStack(payload)
		content = &CoreStackSection{Stack: s}
	case CustomBuildID:
		content, err = decodeBuildID(binary.NewReaderAt(payload, start))
	default:
		return &RawCustom{Data: payload}
	}
	if err != nil {
		Logger().Warn("custom section kept as raw bytes",
			zap.String("name", name), zap.Int("offset", start), zap.Error(err))
		return &RawCustom{Data: payload}
	}
	return content
}

func decodeBuildID(r *binary.Reader) (CustomContent, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	id, err := r.ReadBytes(int(n))
	if err != nil {
		return nil, err
	}
	return &BuildIDSection{ID: id}, nil
}

func decodeNameSection(r *binary.Reader) (CustomContent, error) {
	ns := NewNameSection()
	for !r.EOF() {
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		sub, err := r.Sub(int(size))
		if err != nil {
			return nil, err
		}

		if id != nameSubFunction {
			if ns.Other == nil {
				ns.Other = make(map[byte][]byte)
			}
			ns.Other[id] = sub.ReadRemaining()
			Logger().Warn("name subsection not decoded, kept as raw bytes", zap.Uint8("subsection", id))
			continue
		}

		count, err := sub.ReadU32()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < count; i++ {
			idx, err := sub.ReadU32()
			if err != nil {
				return nil, err
			}
			name, err := sub.ReadName()
			if err != nil {
				return nil, err
			}
			ns.FuncNames.Set(idx, name)
		}
		if !sub.EOF() {
			return nil, fmt.Errorf("function names subsection has %d trailing bytes", sub.Len())
		}
	}
	return ns, nil
}

func (c *RawCustom) encodeContent() []byte { return c.Data }

func (c *CoreSection) encodeContent() []byte { return coredump.EncodeProcessInfo(c.Process) }

func (c *CoreStackSection) encodeContent() []byte { return coredump.EncodeCoreStack(c.Stack) }

func (c *BuildIDSection) encodeContent() []byte {
	w := binary.NewWriter()
	w.WriteVec(c.ID)
	return w.Bytes()
}

// encodeContent writes subsections in increasing id order.
func (c *NameSection) encodeContent() []byte {
	w := binary.NewWriter()
	if data, ok := c.Other[nameSubModule]; ok {
		w.Byte(nameSubModule)
		w.WriteVec(data)
	}

	if c.FuncNames != nil && c.FuncNames.Len() > 0 {
		names := c.FuncNames.Snapshot()
		w.Byte(nameSubFunction)
		at := w.ReserveLength()
		idxs := make([]uint32, 0, len(names))
		for idx := range names {
			idxs = append(idxs, idx)
		}
		sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
		w.WriteU32(uint32(len(idxs)))
		for _, idx := range idxs {
			w.WriteU32(idx)
			w.WriteName(names[idx])
		}
		w.PatchLength(at)
	}

	ids := make([]int, 0, len(c.Other))
	for id := range c.Other {
		if id != nameSubModule {
			ids = append(ids, int(id))
		}
	}
	sort.Ints(ids)
	for _, id := range ids {
		w.Byte(byte(id))
		w.WriteVec(c.Other[byte(id)])
	}
	return w.Bytes()
}
