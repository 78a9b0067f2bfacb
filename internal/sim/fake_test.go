package sim

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/simlink/internal/registry"
)

type fakeSignal struct {
	path   string
	words  []uint64
	text   string
	forced bool
}

// fakeBackend records hook calls and stores raw values.
type fakeBackend struct {
	mu     sync.Mutex
	hooks  []string
	search map[string]int
}

func (f *fakeBackend) record(name string) {
	f.mu.Lock()
	f.hooks = append(f.hooks, name)
	f.mu.Unlock()
}

func (f *fakeBackend) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hooks...)
}

func (f *fakeBackend) count(name string) int {
	n := 0
	for _, h := range f.calls() {
		if h == name {
			n++
		}
	}
	return n
}

func (f *fakeBackend) Reset()  { f.record("reset") }
func (f *fakeBackend) Start()  { f.record("start") }
func (f *fakeBackend) Finish() { f.record("finish") }
func (f *fakeBackend) Update() { f.record("update") }
func (f *fakeBackend) Step()   { f.record("step") }

func (f *fakeBackend) PutValue(s *fakeSignal, value string, force bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.text = value
	s.forced = force
}

func (f *fakeBackend) PutWords(s *fakeSignal, words []uint64, force bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(s.words, words)
	clear(s.words[n:])
	s.forced = force
	return len(s.words)
}

func (f *fakeBackend) GetValue(s *fakeSignal) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.text != "" {
		return s.text
	}
	return fmt.Sprintf("%d", s.words[0])
}

func (f *fakeBackend) GetWords(s *fakeSignal, dst []uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copy(dst, s.words)
}

func (f *fakeBackend) Search(path string) (int, bool) {
	id, ok := f.search[path]
	return id, ok
}

func (f *fakeBackend) Chunk(s *fakeSignal) int { return len(s.words) }

// fakeDesign binds a.b, c.d and e.f (two words). a.b is the only input and
// e.f the only output; c.d doubles as the clock "clk".
type fakeDesign struct {
	reg        *registry.Registry[*fakeSignal]
	ab, cd, ef *fakeSignal
}

func newFakeDesign(t *testing.T) fakeDesign {
	t.Helper()
	idx, err := registry.Load(strings.NewReader("a.b 1 1\nc.d 4 1\ne.f 8 2\n"))
	if err != nil {
		t.Fatalf("load map: %v", err)
	}
	d := fakeDesign{
		ab: &fakeSignal{path: "a.b", words: make([]uint64, 1)},
		cd: &fakeSignal{path: "c.d", words: make([]uint64, 1)},
		ef: &fakeSignal{path: "e.f", words: make([]uint64, 2)},
	}
	b := registry.NewBuilder[*fakeSignal](idx)
	for _, s := range []*fakeSignal{d.ab, d.cd, d.ef} {
		if err := b.Bind(s.path, s); err != nil {
			t.Fatalf("bind %s: %v", s.path, err)
		}
	}
	if err := b.Input(d.ab); err != nil {
		t.Fatalf("input: %v", err)
	}
	if err := b.Output(d.ef); err != nil {
		t.Fatalf("output: %v", err)
	}
	if err := b.Clock("clk", d.cd); err != nil {
		t.Fatalf("clock: %v", err)
	}
	d.reg = b.Build()
	return d
}
