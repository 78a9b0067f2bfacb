package registry

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownPath = errors.New("registry: unknown path")
	ErrIDRange     = errors.New("registry: id out of range")
	ErrNoHandle    = errors.New("registry: zero handle")
	ErrBuilt       = errors.New("registry: builder already built")
)

// Registry is the immutable set of signal handles of one simulator.
type Registry[S comparable] struct {
	index   *Index
	signals []S
	resets  []S
	inputs  []S
	outputs []S
	clocks  map[string]S
}

// Lookup resolves an exact path from the signal map.
func (r *Registry[S]) Lookup(path string) (int, bool) {
	e, ok := r.index.Lookup(path)
	if !ok {
		return 0, false
	}
	return e.ID, true
}

// Signal returns the handle bound to id. It reports false for ids outside
// the registry and for ids no handle was bound to.
func (r *Registry[S]) Signal(id int) (S, bool) {
	var zero S
	if id < 0 || id >= len(r.signals) {
		return zero, false
	}
	s := r.signals[id]
	return s, s != zero
}

func (r *Registry[S]) Clock(name string) (S, bool) {
	s, ok := r.clocks[name]
	return s, ok
}

// Resets, Inputs and Outputs return the ordered handle lists. Callers must
// not modify them.
func (r *Registry[S]) Resets() []S  { return r.resets }
func (r *Registry[S]) Inputs() []S  { return r.inputs }
func (r *Registry[S]) Outputs() []S { return r.outputs }

// Clocks returns the clock names in no particular order.
func (r *Registry[S]) Clocks() []string {
	out := make([]string, 0, len(r.clocks))
	for name := range r.clocks {
		out = append(out, name)
	}
	return out
}

func (r *Registry[S]) Index() *Index { return r.index }

// Len is the size of the id space, including ids added with Extend.
func (r *Registry[S]) Len() int { return len(r.signals) }

// Builder collects handles for a Registry. A backend binds the paths it
// owns, then Build freezes the result.
type Builder[S comparable] struct {
	reg   *Registry[S]
	built bool
}

func NewBuilder[S comparable](idx *Index) *Builder[S] {
	if idx == nil {
		idx = &Index{byPath: make(map[string]int)}
	}
	return &Builder[S]{reg: &Registry[S]{
		index:   idx,
		signals: make([]S, idx.Span()),
		clocks:  make(map[string]S),
	}}
}

// Index exposes the map the builder was created from.
func (b *Builder[S]) Index() *Index { return b.reg.index }

// Bind attaches a handle to the id of path.
func (b *Builder[S]) Bind(path string, s S) error {
	e, ok := b.reg.index.Lookup(path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	return b.BindID(e.ID, s)
}

// BindID attaches a handle to an id.
func (b *Builder[S]) BindID(id int, s S) error {
	if err := b.check(s); err != nil {
		return err
	}
	if id < 0 || id >= len(b.reg.signals) {
		return fmt.Errorf("%w: %d", ErrIDRange, id)
	}
	b.reg.signals[id] = s
	return nil
}

// Extend appends a handle the map does not list and returns its id. Such
// ids lie past the map's span and are reachable only through the backend's
// own search.
func (b *Builder[S]) Extend(s S) (int, error) {
	if err := b.check(s); err != nil {
		return 0, err
	}
	b.reg.signals = append(b.reg.signals, s)
	return len(b.reg.signals) - 1, nil
}

func (b *Builder[S]) Reset(s S) error {
	if err := b.check(s); err != nil {
		return err
	}
	b.reg.resets = append(b.reg.resets, s)
	return nil
}

func (b *Builder[S]) Input(s S) error {
	if err := b.check(s); err != nil {
		return err
	}
	b.reg.inputs = append(b.reg.inputs, s)
	return nil
}

func (b *Builder[S]) Output(s S) error {
	if err := b.check(s); err != nil {
		return err
	}
	b.reg.outputs = append(b.reg.outputs, s)
	return nil
}

func (b *Builder[S]) Clock(name string, s S) error {
	if err := b.check(s); err != nil {
		return err
	}
	b.reg.clocks[name] = s
	return nil
}

// Build returns the registry. The builder cannot be used afterwards.
func (b *Builder[S]) Build() *Registry[S] {
	b.built = true
	return b.reg
}

func (b *Builder[S]) check(s S) error {
	if b.built {
		return ErrBuilt
	}
	var zero S
	if s == zero {
		return ErrNoHandle
	}
	return nil
}
