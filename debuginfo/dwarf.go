package debuginfo

import (
	"bytes"
	"debug/dwarf"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/wippyai/wasm-coredump/errors"
	"github.com/wippyai/wasm-coredump/wasm"
)

// DWARF expression opcodes used by Wasm toolchains.
const (
	opFbreg         = 0x91
	opWasmLocation  = 0xED
	wasmLocLocal    = 0x00
	wasmLocGlobal   = 0x01
	wasmLocGlobal32 = 0x03
)

// optional sections added after dwarf.New for DWARF 5 producers.
var extraSections = []string{
	".debug_addr",
	".debug_line_str",
	".debug_loclists",
	".debug_rnglists",
	".debug_str_offsets",
}

// DWARF is a Provider backed by the DWARF custom sections of a module.
type DWARF struct {
	data      *dwarf.Data
	functions map[string]*Function

	// dwarf.Data readers are not safe for concurrent use.
	mu sync.Mutex
}

// Load parses the ".debug_*" custom sections of m. It fails with a
// NotFound error when m has no ".debug_info" section.
func Load(m *wasm.Module) (*DWARF, error) {
	sections := Sections(m)
	info, ok := sections[".debug_info"]
	if !ok {
		return nil, errors.NotFound(errors.PhaseDebugInfo, "custom section", ".debug_info")
	}

	data, err := dwarf.New(
		sections[".debug_abbrev"],
		sections[".debug_aranges"],
		sections[".debug_frame"],
		info,
		sections[".debug_line"],
		sections[".debug_pubnames"],
		sections[".debug_ranges"],
		sections[".debug_str"],
	)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDebugInfo, errors.KindMalformed, err, "parse DWARF")
	}
	for _, name := range extraSections {
		if b, ok := sections[name]; ok {
			if err := data.AddSection(name, b); err != nil {
				return nil, errors.Wrap(errors.PhaseDebugInfo, errors.KindMalformed, err, "parse "+name)
			}
		}
	}

	d := &DWARF{data: data, functions: make(map[string]*Function)}
	if err := d.index(); err != nil {
		return nil, errors.Wrap(errors.PhaseDebugInfo, errors.KindMalformed, err, "index DWARF")
	}
	return d, nil
}

// Function implements Provider.
func (d *DWARF) Function(linkageName string) (*Function, bool) {
	f, ok := d.functions[linkageName]
	return f, ok
}

// Functions returns the number of indexed functions.
func (d *DWARF) Functions() int {
	return len(d.functions)
}

// Line implements Provider.
func (d *DWARF) Line(codeOffset uint64) (string, int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := d.data.Reader()
	cu, err := r.SeekPC(codeOffset)
	if err != nil {
		return "", 0, false
	}
	lr, err := d.data.LineReader(cu)
	if err != nil || lr == nil {
		return "", 0, false
	}
	var le dwarf.LineEntry
	if err := lr.SeekPC(codeOffset, &le); err != nil || le.File == nil {
		return "", 0, false
	}
	return le.File.Name, le.Line, true
}

// level is one open DIE with children.
type level struct {
	fn        *Function
	namespace bool
}

func (d *DWARF) index() error {
	r := d.data.Reader()

	var (
		stack      []level
		namespaces []string
		files      []*dwarf.LineFile
		// declarations by offset, for definitions that refer back to them.
		decls = make(map[dwarf.Offset]*Function)
		defs  []pendingDef
	)

	for {
		e, err := r.Next()
		if err != nil {
			return err
		}
		if e == nil {
			break
		}
		if e.Tag == 0 {
			if n := len(stack); n > 0 {
				if stack[n-1].namespace {
					namespaces = namespaces[:len(namespaces)-1]
				}
				stack = stack[:n-1]
			}
			continue
		}

		var lvl level
		switch e.Tag {
		case dwarf.TagCompileUnit:
			files = nil
			if lr, err := d.data.LineReader(e); err == nil && lr != nil {
				files = lr.Files()
			}
		case dwarf.TagNamespace, dwarf.TagStructType, dwarf.TagUnionType, dwarf.TagEnumerationType:
			if !e.Children {
				break
			}
			name, _ := e.Val(dwarf.AttrName).(string)
			if name == "" {
				name = "{anonymous}"
			}
			namespaces = append(namespaces, name)
			lvl.namespace = true
		case dwarf.TagSubprogram:
			fn := &Function{Namespace: strings.Join(namespaces, "::")}
			fillFunction(fn, e, files)
			lvl.fn = fn
			decls[e.Offset] = fn
			if ref, ok := specOf(e); ok {
				defs = append(defs, pendingDef{fn: fn, ref: ref})
			} else {
				d.add(fn)
			}
		case dwarf.TagFormalParameter:
			if n := len(stack); n > 0 && stack[n-1].fn != nil {
				fn := stack[n-1].fn
				fn.Params = append(fn.Params, d.param(e))
			}
		}
		if e.Children {
			stack = append(stack, lvl)
		}
	}

	// Definitions carrying DW_AT_specification or DW_AT_abstract_origin
	// inherit what they lack from the declaration.
	for _, p := range defs {
		if decl, ok := decls[p.ref]; ok {
			inherit(p.fn, decl)
		}
		d.add(p.fn)
	}
	return nil
}

type pendingDef struct {
	fn  *Function
	ref dwarf.Offset
}

func specOf(e *dwarf.Entry) (dwarf.Offset, bool) {
	if off, ok := e.Val(dwarf.AttrSpecification).(dwarf.Offset); ok {
		return off, true
	}
	off, ok := e.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
	return off, ok
}

func inherit(fn, decl *Function) {
	if fn.LinkageName == "" {
		fn.LinkageName = decl.LinkageName
	}
	if fn.Name == "" {
		fn.Name = decl.Name
	}
	// Definitions sit at unit level; the declaration knows the namespace.
	if decl.Namespace != "" {
		fn.Namespace = decl.Namespace
	}
	if fn.File == "" {
		fn.File = decl.File
	}
	if fn.Line == 0 {
		fn.Line = decl.Line
	}
	if len(fn.Params) == 0 {
		fn.Params = decl.Params
	}
}

// add indexes fn by linkage name, and by plain name when it has none. A
// definition replaces a previously indexed declaration.
func (d *DWARF) add(fn *Function) {
	key := fn.LinkageName
	if key == "" {
		key = fn.Name
	}
	if key == "" {
		return
	}
	if prev, ok := d.functions[key]; ok && prev.FrameBase.Kind != LocationUnknown && fn.FrameBase.Kind == LocationUnknown {
		return
	}
	d.functions[key] = fn
}

func fillFunction(fn *Function, e *dwarf.Entry, files []*dwarf.LineFile) {
	fn.Name, _ = e.Val(dwarf.AttrName).(string)
	if ln, ok := e.Val(dwarf.AttrLinkageName).(string); ok {
		fn.LinkageName = ln
	} else if ln, ok := e.Val(dwarf.Attr(0x2007)).(string); ok { // DW_AT_MIPS_linkage_name
		fn.LinkageName = ln
	}
	if line, ok := e.Val(dwarf.AttrDeclLine).(int64); ok {
		fn.Line = int(line)
	}
	if idx, ok := e.Val(dwarf.AttrDeclFile).(int64); ok && idx >= 0 && int(idx) < len(files) && files[idx] != nil {
		fn.File = files[idx].Name
	}
	if expr, ok := e.Val(dwarf.AttrFrameBase).([]byte); ok {
		fn.FrameBase = decodeLocation(expr)
	}
}

func (d *DWARF) param(e *dwarf.Entry) Param {
	p := Param{}
	p.Name, _ = e.Val(dwarf.AttrName).(string)
	if expr, ok := e.Val(dwarf.AttrLocation).([]byte); ok {
		p.Location = decodeLocation(expr)
	}
	if off, ok := e.Val(dwarf.AttrType).(dwarf.Offset); ok {
		if t, err := d.data.Type(off); err == nil {
			p.Type = t.String()
		}
	}
	return p
}

// decodeLocation understands single-operation expressions: DW_OP_fbreg
// and DW_OP_WASM_location. Anything else is LocationUnknown.
func decodeLocation(expr []byte) Location {
	if len(expr) == 0 {
		return Location{}
	}
	r := bytes.NewReader(expr[1:])
	switch expr[0] {
	case opFbreg:
		off, err := wasm.ReadLEB128s64(r)
		if err != nil {
			return Location{}
		}
		return Location{Kind: LocationOffsetFromBase, Value: off}
	case opWasmLocation:
		kind, err := r.ReadByte()
		if err != nil {
			return Location{}
		}
		var idx uint32
		if kind == wasmLocGlobal32 {
			var b [4]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return Location{}
			}
			idx = uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		} else if idx, err = wasm.ReadLEB128u(r); err != nil {
			return Location{}
		}
		switch kind {
		case wasmLocLocal:
			return Location{Kind: LocationWasmLocal, Value: int64(idx)}
		case wasmLocGlobal, wasmLocGlobal32:
			return Location{Kind: LocationWasmGlobal, Value: int64(idx)}
		}
	}
	return Location{}
}

// String formats a location for display.
func (l Location) String() string {
	switch l.Kind {
	case LocationWasmLocal:
		return fmt.Sprintf("local %d", l.Value)
	case LocationWasmGlobal:
		return fmt.Sprintf("global %d", l.Value)
	case LocationOffsetFromBase:
		return fmt.Sprintf("fbreg %+d", l.Value)
	default:
		return "unknown"
	}
}
