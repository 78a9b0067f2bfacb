package regsim

import (
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/danmuck/simlink/internal/logging"
	"github.com/danmuck/simlink/internal/registry"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Signal is the handle regsim hands to the dispatcher.
type Signal struct {
	spec   SignalSpec
	words  []uint64
	forced bool
	fn     starlark.Callable
	clock  *Signal
	id     int
}

func (s *Signal) Path() string { return s.spec.Path }

func (s *Signal) Name() string { return s.spec.Name }

func (s *Signal) Width() int { return s.spec.Width }

func (s *Signal) Kind() Kind { return s.spec.Kind }

// Chunk is the number of 64-bit words holding the value.
func (s *Signal) Chunk() int { return len(s.words) }

// ID is the registry id, or -1 before Bind.
func (s *Signal) ID() int { return s.id }

func (s *Signal) Forced() bool { return s.forced }

// Circuit is a runnable instance of a Design.
type Circuit struct {
	design   Design
	signals  []*Signal
	byName   map[string]*Signal
	byPath   map[string]*Signal
	comb     []*Signal
	regs     []*Signal
	thread   *starlark.Thread
	cycles   uint64
	finished bool
	err      error
}

// New compiles a design.
func New(d Design) (*Circuit, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	c := &Circuit{
		design: d,
		byName: make(map[string]*Signal, len(d.Signals)),
		byPath: make(map[string]*Signal, len(d.Signals)),
		thread: &starlark.Thread{Name: "regsim." + d.Name},
	}
	params := make([]string, 0, len(d.Signals))
	for _, spec := range d.Signals {
		s := &Signal{
			spec:  spec,
			words: make([]uint64, (spec.Width+63)/64),
			id:    -1,
		}
		c.signals = append(c.signals, s)
		c.byName[spec.Name] = s
		c.byPath[spec.Path] = s
		params = append(params, spec.Name)
		switch spec.Kind {
		case KindReg:
			c.regs = append(c.regs, s)
		case KindWire, KindOutput:
			if spec.Expr != "" {
				c.comb = append(c.comb, s)
			}
		case KindClock:
			s.words[0] = 1
		}
	}
	for _, s := range c.signals {
		if s.spec.Clock != "" {
			s.clock = c.byName[s.spec.Clock]
		}
		src := s.spec.Next
		if src == "" {
			src = s.spec.Expr
		}
		if src == "" {
			continue
		}
		fn, err := c.compile(s, params, src)
		if err != nil {
			return nil, err
		}
		s.fn = fn
	}
	c.Update()
	if c.err != nil {
		return nil, c.err
	}
	return c, nil
}

func (c *Circuit) compile(s *Signal, params []string, expr string) (starlark.Callable, error) {
	prog := fmt.Sprintf("def f(%s):\n    return (%s)\n", strings.Join(params, ", "), expr)
	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, c.thread, s.spec.Path, prog, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDesign, s.spec.Path, err)
	}
	fn, ok := globals["f"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%w: %s: expression did not compile to a function", ErrInvalidDesign, s.spec.Path)
	}
	return fn, nil
}

func (c *Circuit) Design() Design { return c.design }

// Signal returns the handle for a path.
func (c *Circuit) Signal(path string) (*Signal, bool) {
	s, ok := c.byPath[path]
	return s, ok
}

// Cycles counts Step calls that reached the registers.
func (c *Circuit) Cycles() uint64 { return c.cycles }

func (c *Circuit) Finished() bool { return c.finished }

// Err returns the evaluation error raised by the most recent Reset, Start,
// Update or Step, or nil when that hook evaluated cleanly.
func (c *Circuit) Err() error { return c.err }

// Bind registers every signal with b. Signals the map lists take their map
// id; the rest are appended with Extend. Inputs, outputs, resets and clocks
// are added to their lists in declaration order.
func (c *Circuit) Bind(b *registry.Builder[*Signal]) error {
	for _, s := range c.signals {
		if e, ok := b.Index().Lookup(s.spec.Path); ok {
			if e.Chunk != s.Chunk() {
				return fmt.Errorf("%w: %s: map says %d words, design needs %d", ErrInvalidDesign, s.spec.Path, e.Chunk, s.Chunk())
			}
			if err := b.BindID(e.ID, s); err != nil {
				return err
			}
			s.id = e.ID
		} else {
			id, err := b.Extend(s)
			if err != nil {
				return err
			}
			s.id = id
		}
		var err error
		switch s.spec.Kind {
		case KindInput:
			err = b.Input(s)
		case KindOutput:
			err = b.Output(s)
		case KindReset:
			err = b.Reset(s)
		case KindClock:
			err = b.Clock(s.spec.Path, s)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteSignalMap writes the map line of every non-hidden signal.
func (c *Circuit) WriteSignalMap(w io.Writer) error {
	for _, s := range c.signals {
		if s.spec.Hidden {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s %d %d\n", s.spec.Path, s.spec.Width, s.Chunk()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Circuit) args() starlark.Tuple {
	args := make(starlark.Tuple, len(c.signals))
	for i, s := range c.signals {
		if len(s.words) == 1 {
			args[i] = starlark.MakeUint64(s.words[0])
		} else {
			args[i] = starlark.MakeBigInt(wordsToBig(s.words))
		}
	}
	return args
}

func (c *Circuit) eval(s *Signal, args starlark.Tuple) (*big.Int, bool) {
	v, err := starlark.Call(c.thread, s.fn, args, nil)
	if err != nil {
		c.fail(s, err)
		return nil, false
	}
	switch x := v.(type) {
	case starlark.Int:
		return x.BigInt(), true
	case starlark.Bool:
		if x {
			return big.NewInt(1), true
		}
		return new(big.Int), true
	default:
		c.fail(s, fmt.Errorf("expression returned %s, want int", v.Type()))
		return nil, false
	}
}

func (c *Circuit) fail(s *Signal, err error) {
	c.err = fmt.Errorf("regsim: %s: %w", s.spec.Path, err)
	logging.Errf("regsim.eval path=%q err=%v", s.spec.Path, err)
}

// Reset zeroes every unforced register and raises the reset signals.
func (c *Circuit) Reset() {
	for _, s := range c.regs {
		if !s.forced {
			clear(s.words)
		}
	}
	c.driveResets(1)
	c.Update()
}

// Start lowers the reset signals after a reset.
func (c *Circuit) Start() {
	c.driveResets(0)
	c.Update()
}

func (c *Circuit) driveResets(v uint64) {
	for _, s := range c.signals {
		if s.spec.Kind == KindReset && !s.forced {
			clear(s.words)
			s.words[0] = v
		}
	}
}

func (c *Circuit) Finish() {
	c.finished = true
	logging.Debugf("regsim.Finish design=%q cycles=%d", c.design.Name, c.cycles)
}

// Update recomputes wires and outputs until they settle.
func (c *Circuit) Update() {
	c.err = nil
	c.settle()
}

func (c *Circuit) settle() {
	for pass := 0; pass <= len(c.comb); pass++ {
		changed := false
		for _, s := range c.comb {
			if s.forced {
				continue
			}
			v, ok := c.eval(s, c.args())
			if !ok {
				return
			}
			if assign(s, v) {
				changed = true
			}
		}
		if !changed {
			return
		}
	}
	logging.Warnf("regsim.Update design=%q did not settle", c.design.Name)
}

// Step settles the combinational logic against the current inputs, latches
// every register whose clock is enabled, then settles again.
func (c *Circuit) Step() {
	c.err = nil
	c.settle()
	if c.err != nil {
		return
	}
	args := c.args()
	next := make([]*big.Int, len(c.regs))
	for i, s := range c.regs {
		if s.forced || (s.clock != nil && isZero(s.clock.words)) {
			continue
		}
		v, ok := c.eval(s, args)
		if !ok {
			return
		}
		next[i] = v
	}
	for i, s := range c.regs {
		if next[i] != nil {
			assign(s, next[i])
		}
	}
	c.cycles++
	c.settle()
}

// PutValue parses value as a Go integer literal (0x, 0o, 0b prefixes and
// underscores allowed). Unparsable values are logged and ignored. A plain
// write to a forced signal is ignored; only another force replaces it.
func (c *Circuit) PutValue(s *Signal, value string, force bool) {
	if s.forced && !force {
		logging.Debugf("regsim.PutValue path=%q forced, ignoring drive", s.spec.Path)
		return
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(value), 0)
	if !ok {
		logging.Warnf("regsim.PutValue path=%q bad value=%q", s.spec.Path, value)
		return
	}
	assign(s, v)
	s.forced = force
}

// PutWords stores words into s. Like PutValue, a plain write to a forced
// signal is ignored, but the chunk is still returned so token batches keep
// their offsets.
func (c *Circuit) PutWords(s *Signal, words []uint64, force bool) int {
	if s.forced && !force {
		return len(s.words)
	}
	n := copy(s.words, words)
	clear(s.words[n:])
	maskTop(s)
	s.forced = force
	return len(s.words)
}

func (c *Circuit) GetValue(s *Signal) string {
	return "0x" + wordsToBig(s.words).Text(16)
}

func (c *Circuit) GetWords(s *Signal, dst []uint64) int {
	return copy(dst, s.words)
}

// Search resolves signals the signal map left out.
func (c *Circuit) Search(path string) (int, bool) {
	s, ok := c.byPath[path]
	if !ok || s.id < 0 {
		return 0, false
	}
	return s.id, true
}

func (c *Circuit) Chunk(s *Signal) int { return s.Chunk() }

// assign stores v masked to the signal width and reports whether the value
// changed.
func assign(s *Signal, v *big.Int) bool {
	m := new(big.Int).Lsh(big.NewInt(1), uint(s.spec.Width))
	m.Sub(m, big.NewInt(1))
	m.And(v, m)
	changed := false
	word := new(big.Int)
	mask64 := new(big.Int).SetUint64(^uint64(0))
	for i := range s.words {
		w := word.And(m, mask64).Uint64()
		if s.words[i] != w {
			s.words[i] = w
			changed = true
		}
		m.Rsh(m, 64)
	}
	return changed
}

func maskTop(s *Signal) {
	if r := s.spec.Width % 64; r != 0 {
		s.words[len(s.words)-1] &= 1<<uint(r) - 1
	}
}

func wordsToBig(ws []uint64) *big.Int {
	b := new(big.Int)
	for i := len(ws) - 1; i >= 0; i-- {
		b.Lsh(b, 64)
		b.Or(b, new(big.Int).SetUint64(ws[i]))
	}
	return b
}

func isZero(ws []uint64) bool {
	for _, w := range ws {
		if w != 0 {
			return false
		}
	}
	return true
}
