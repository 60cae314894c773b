package debuginfo

import (
	"strings"
)

// LocationKind tells how a Location's value is interpreted.
type LocationKind int

const (
	LocationUnknown LocationKind = iota
	// LocationWasmLocal: Value is a local index of the frame.
	LocationWasmLocal
	// LocationWasmGlobal: Value is a global index.
	LocationWasmGlobal
	// LocationOffsetFromBase: Value is a byte offset from the frame base.
	LocationOffsetFromBase
)

func (k LocationKind) String() string {
	switch k {
	case LocationWasmLocal:
		return "wasm-local"
	case LocationWasmGlobal:
		return "wasm-global"
	case LocationOffsetFromBase:
		return "fbreg"
	default:
		return "unknown"
	}
}

// Location is a decoded DWARF location expression. Only the shapes Wasm
// toolchains emit for frame bases and stack variables are understood.
type Location struct {
	Kind  LocationKind
	Value int64
}

// Param is a formal parameter of a function.
type Param struct {
	Name     string
	Type     string
	Location Location
}

// Function is the debug information of one function.
type Function struct {
	LinkageName string
	Name        string
	Namespace   string
	File        string
	Line        int
	FrameBase   Location
	Params      []Param
}

// QualifiedName returns the name prefixed with its namespace.
func (f *Function) QualifiedName() string {
	if f.Namespace == "" {
		return f.Name
	}
	return f.Namespace + "::" + f.Name
}

// Param returns the parameter called name.
func (f *Function) Param(name string) (*Param, bool) {
	for i := range f.Params {
		if f.Params[i].Name == name {
			return &f.Params[i], true
		}
	}
	return nil, false
}

// Provider answers debug-info lookups for a module.
type Provider interface {
	// Function looks a function up by linkage name, as found in the name
	// section.
	Function(linkageName string) (*Function, bool)
	// Line maps an offset relative to the code section to a source line.
	Line(codeOffset uint64) (file string, line int, ok bool)
}

// Names is a Provider built from the name section alone. It knows no
// source positions; namespaces are recovered from path-like names such as
// "core::panicking::panic".
type Names struct {
	byName map[string]struct{}
}

// NewNames returns a provider over the function names of a name section.
func NewNames(names map[uint32]string) *Names {
	n := &Names{byName: make(map[string]struct{}, len(names))}
	for _, name := range names {
		n.byName[name] = struct{}{}
	}
	return n
}

// Function implements Provider.
func (n *Names) Function(linkageName string) (*Function, bool) {
	if _, ok := n.byName[linkageName]; !ok {
		return nil, false
	}
	ns, name := splitPath(linkageName)
	return &Function{LinkageName: linkageName, Name: name, Namespace: ns}, true
}

// Line implements Provider.
func (n *Names) Line(uint64) (string, int, bool) {
	return "", 0, false
}

// splitPath splits "a::b::name::h0123456789abcdef" into "a::b" and "name".
// The trailing hash segment rustc appends is dropped.
func splitPath(path string) (string, string) {
	parts := strings.Split(path, "::")
	if n := len(parts); n > 1 && isRustHash(parts[n-1]) {
		parts = parts[:n-1]
	}
	if len(parts) == 1 {
		return "", parts[0]
	}
	return strings.Join(parts[:len(parts)-1], "::"), parts[len(parts)-1]
}

func isRustHash(s string) bool {
	if len(s) != 17 || s[0] != 'h' {
		return false
	}
	for _, c := range s[1:] {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
