package regsim

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

var (
	ErrInvalidDesign = errors.New("regsim: invalid design")
	ErrUnknownDesign = errors.New("regsim: unknown design")
)

type Kind string

const (
	KindInput  Kind = "input"
	KindOutput Kind = "output"
	KindReg    Kind = "reg"
	KindWire   Kind = "wire"
	KindReset  Kind = "reset"
	KindClock  Kind = "clock"
)

// SignalSpec declares one signal of a design.
type SignalSpec struct {
	Path  string `toml:"path"`
	Name  string `toml:"name"`
	Width int    `toml:"width"`
	Kind  Kind   `toml:"kind"`
	// Clock names the clock signal gating a register. Empty means the
	// register latches on every Step.
	Clock string `toml:"clock"`
	Next  string `toml:"next"`
	Expr  string `toml:"expr"`
	// Hidden keeps the signal out of the emitted signal map; testers reach
	// it through GETID's fallback search.
	Hidden bool `toml:"hidden"`
}

// Design is a named list of signals in declaration order.
type Design struct {
	Name    string       `toml:"name"`
	Signals []SignalSpec `toml:"signal"`
}

//go:embed designs/*.toml
var builtinFS embed.FS

// Builtin returns one of the designs shipped with the package.
func Builtin(name string) (Design, error) {
	src, err := builtinFS.ReadFile("designs/" + name + ".toml")
	if err != nil {
		return Design{}, fmt.Errorf("%w: %q", ErrUnknownDesign, name)
	}
	return ParseDesign(string(src))
}

// Builtins lists the shipped design names.
func Builtins() []string {
	entries, _ := fs.ReadDir(builtinFS, "designs")
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, strings.TrimSuffix(e.Name(), ".toml"))
	}
	sort.Strings(out)
	return out
}

func ParseDesign(src string) (Design, error) {
	var d Design
	if _, err := toml.Decode(src, &d); err != nil {
		return Design{}, fmt.Errorf("regsim: decode design: %w", err)
	}
	return d, d.Validate()
}

func LoadDesign(path string) (Design, error) {
	var d Design
	if _, err := toml.DecodeFile(path, &d); err != nil {
		return Design{}, fmt.Errorf("regsim: load design %s: %w", path, err)
	}
	return d, d.Validate()
}

// Validate checks names, widths, kinds and references. Expressions are
// checked later, when a Circuit compiles them.
func (d Design) Validate() error {
	if len(d.Signals) == 0 {
		return fmt.Errorf("%w: %q has no signals", ErrInvalidDesign, d.Name)
	}
	names := make(map[string]Kind, len(d.Signals))
	paths := make(map[string]bool, len(d.Signals))
	for _, s := range d.Signals {
		if strings.TrimSpace(s.Path) == "" || strings.ContainsAny(s.Path, " \t\n") {
			return fmt.Errorf("%w: bad path %q", ErrInvalidDesign, s.Path)
		}
		if paths[s.Path] {
			return fmt.Errorf("%w: duplicate path %q", ErrInvalidDesign, s.Path)
		}
		paths[s.Path] = true
		if !isIdent(s.Name) {
			return fmt.Errorf("%w: %s: bad name %q", ErrInvalidDesign, s.Path, s.Name)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("%w: duplicate name %q", ErrInvalidDesign, s.Name)
		}
		names[s.Name] = s.Kind
		if s.Width < 1 {
			return fmt.Errorf("%w: %s: width %d", ErrInvalidDesign, s.Path, s.Width)
		}
		switch s.Kind {
		case KindInput, KindReset, KindClock:
			if s.Next != "" || s.Expr != "" {
				return fmt.Errorf("%w: %s: %s signals take no expression", ErrInvalidDesign, s.Path, s.Kind)
			}
		case KindReg:
			if s.Next == "" {
				return fmt.Errorf("%w: %s: reg needs next", ErrInvalidDesign, s.Path)
			}
		case KindWire, KindOutput:
			if s.Next != "" {
				return fmt.Errorf("%w: %s: %s cannot latch next", ErrInvalidDesign, s.Path, s.Kind)
			}
		default:
			return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidDesign, s.Path, s.Kind)
		}
	}
	for _, s := range d.Signals {
		if s.Clock == "" {
			continue
		}
		if s.Kind != KindReg {
			return fmt.Errorf("%w: %s: only registers have a clock", ErrInvalidDesign, s.Path)
		}
		if names[s.Clock] != KindClock {
			return fmt.Errorf("%w: %s: clock %q is not a clock signal", ErrInvalidDesign, s.Path, s.Clock)
		}
	}
	return nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		isLetter := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
		isDigit := c >= '0' && c <= '9'
		if !(isLetter || (isDigit && i > 0)) {
			return false
		}
	}
	return true
}
