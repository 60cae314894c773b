// Package inspector implements a small gdb-like command language over a
// coredump and the module it was taken from.
//
//	bt                      backtrace, innermost frame first
//	f N                     select frame N
//	x[/N[s]] addr           examine N bytes (or N chars) of memory
//	p[/s] expr              print a parameter of the selected frame
//	find [start, [end,]] v  search memory for a value or "string"
//	info what [arg]         locals, frame, symbol N, functions, imports,
//	                        globals or process
//	b N|name                trap on entry to a function on the next run
//	r [export]              instrument the module, call export and inspect
//	                        the coredump it leaves
//	help
package inspector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-coredump/errors"
)

// Kind identifies a command.
type Kind int

const (
	KindBacktrace Kind = iota
	KindFrame
	KindExamine
	KindPrint
	KindFind
	KindInfo
	KindBreak
	KindRunProgram
	KindHelp
)

// Format selects how memory is printed.
type Format int

const (
	FormatHex Format = iota
	FormatString
)

// ExprKind identifies an expression.
type ExprKind int

const (
	ExprName ExprKind = iota
	ExprHex
	ExprInt
	ExprString
	ExprDeref
)

// Expr is an operand of a command.
type Expr struct {
	Target *Expr // dereferenced expression
	Name   string
	Value  uint64
	Kind   ExprKind
}

func (e Expr) String() string {
	switch e.Kind {
	case ExprHex:
		return fmt.Sprintf("0x%x", e.Value)
	case ExprInt:
		return strconv.FormatUint(e.Value, 10)
	case ExprString:
		return strconv.Quote(e.Name)
	case ExprDeref:
		return "*" + e.Target.String()
	default:
		return e.Name
	}
}

// Address returns the value of a numeric expression.
func (e Expr) Address() (uint32, bool) {
	if (e.Kind == ExprHex || e.Kind == ExprInt) && e.Value <= 0xffffffff {
		return uint32(e.Value), true
	}
	return 0, false
}

// Command is a parsed command line.
type Command struct {
	Args   []Expr
	What   string // info topic or export to run
	Kind   Kind
	Frame  int
	Count  int
	Format Format
}

const defaultExamineCount = 8

func invalid(format string, args ...any) error {
	return errors.New(errors.PhaseInspect, errors.KindInvalidInput).
		Detail(format, args...).
		Build()
}

// ParseCommand parses one command line.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, invalid("empty command")
	}
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	word, suffix, hasSuffix := strings.Cut(word, "/")

	switch word {
	case "bt", "backtrace":
		return Command{Kind: KindBacktrace}, nil

	case "f", "frame":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return Command{}, invalid("frame number expected, got %q", rest)
		}
		return Command{Kind: KindFrame, Frame: n}, nil

	case "x":
		cmd := Command{Kind: KindExamine, Count: defaultExamineCount}
		if hasSuffix {
			digits := strings.TrimRight(suffix, "abcdefghijklmnopqrstuvwxyz")
			switch letter := suffix[len(digits):]; letter {
			case "", "x":
			case "s":
				cmd.Format = FormatString
			default:
				return Command{}, invalid("unknown format %q", letter)
			}
			if digits != "" {
				n, err := strconv.Atoi(digits)
				if err != nil || n <= 0 {
					return Command{}, invalid("invalid count %q", digits)
				}
				cmd.Count = n
			}
		}
		e, err := ParseExpr(rest)
		if err != nil {
			return Command{}, err
		}
		cmd.Args = []Expr{e}
		return cmd, nil

	case "p", "print":
		cmd := Command{Kind: KindPrint}
		if hasSuffix {
			if suffix != "s" {
				return Command{}, invalid("unknown format %q", suffix)
			}
			cmd.Format = FormatString
		}
		e, err := ParseExpr(rest)
		if err != nil {
			return Command{}, err
		}
		cmd.Args = []Expr{e}
		return cmd, nil

	case "find":
		parts := strings.Split(rest, ",")
		if len(parts) > 3 {
			return Command{}, invalid("find takes at most start, end and a value")
		}
		cmd := Command{Kind: KindFind}
		for _, p := range parts {
			e, err := ParseExpr(p)
			if err != nil {
				return Command{}, err
			}
			cmd.Args = append(cmd.Args, e)
		}
		return cmd, nil

	case "info", "i":
		what, arg, _ := strings.Cut(rest, " ")
		if what == "" {
			return Command{}, invalid("info what?")
		}
		cmd := Command{Kind: KindInfo, What: what}
		if arg = strings.TrimSpace(arg); arg != "" {
			e, err := ParseExpr(arg)
			if err != nil {
				return Command{}, err
			}
			cmd.Args = []Expr{e}
		}
		return cmd, nil

	case "b", "break":
		e, err := ParseExpr(rest)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: KindBreak, Args: []Expr{e}}, nil

	case "r", "run":
		if strings.ContainsAny(rest, " \t") {
			return Command{}, invalid("run takes at most an export name")
		}
		return Command{Kind: KindRunProgram, What: rest}, nil

	case "help", "h":
		return Command{Kind: KindHelp}, nil
	}
	return Command{}, invalid("unknown command %q", word)
}

// ParseExpr parses a name, a number, a quoted string or a dereference.
func ParseExpr(s string) (Expr, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Expr{}, invalid("expression expected")

	case strings.HasPrefix(s, "*"):
		target, err := ParseExpr(s[1:])
		if err != nil {
			return Expr{}, err
		}
		return Expr{Kind: ExprDeref, Target: &target}, nil

	case strings.HasPrefix(s, `"`):
		if len(s) < 2 || !strings.HasSuffix(s, `"`) {
			return Expr{}, invalid("unterminated string %s", s)
		}
		return Expr{Kind: ExprString, Name: s[1 : len(s)-1]}, nil

	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		v, err := strconv.ParseUint(strings.ReplaceAll(s[2:], "_", ""), 16, 64)
		if err != nil {
			return Expr{}, invalid("invalid hex number %q", s)
		}
		return Expr{Kind: ExprHex, Value: v}, nil

	case s[0] >= '0' && s[0] <= '9':
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Expr{}, invalid("invalid number %q", s)
		}
		return Expr{Kind: ExprInt, Value: v}, nil
	}

	for i, c := range s {
		ok := c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 0 && c >= '0' && c <= '9'
		if !ok {
			return Expr{}, invalid("invalid expression %q", s)
		}
	}
	return Expr{Kind: ExprName, Name: s}, nil
}
