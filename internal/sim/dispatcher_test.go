package sim

import (
	"bytes"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/danmuck/simlink/internal/protocol"
	"github.com/danmuck/simlink/internal/registry"
	"github.com/danmuck/simlink/internal/testutil/simpeer"
	"github.com/danmuck/simlink/internal/testutil/testlog"
)

var testNow = time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC)

type harness[S comparable] struct {
	d       *Dispatcher[S]
	peer    *simpeer.Peer
	banner  string
	done    chan error
	stopped bool
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.PID = 4242
	cfg.Host = "testhost"
	cfg.Now = func() time.Time { return testNow }
	return cfg
}

// newHarness creates a dispatcher, attaches a tester peer through the
// banner and leaves the dispatcher idle.
func newHarness[S comparable](t *testing.T, cfg Config, reg *registry.Registry[S], be Backend[S]) *harness[S] {
	t.Helper()
	var banner bytes.Buffer
	cfg.Banner = &banner
	d, err := New(cfg, reg, be)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	text := banner.String()
	peer, err := simpeer.Dial(&banner)
	if err != nil {
		d.Close()
		t.Fatalf("dial: %v", err)
	}
	h := &harness[S]{d: d, peer: peer, banner: text, done: make(chan error, 1)}
	t.Cleanup(func() {
		if !h.stopped {
			// The dispatcher goroutine may still touch the mappings.
			return
		}
		peer.Close()
		d.Close()
	})
	return h
}

// run starts Run in the background.
func (h *harness[S]) run() {
	go func() { h.done <- h.d.Run() }()
}

func (h *harness[S]) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		h.stopped = true
		return err
	case <-time.After(10 * time.Second):
		t.Fatalf("dispatcher did not stop")
		return nil
	}
}

// tick runs a single Tick in the background.
func (h *harness[S]) tick() <-chan error {
	ch := make(chan error, 1)
	go func() {
		_, err := h.d.Tick()
		ch <- err
	}()
	return ch
}

func waitTick(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("tick did not end")
	}
}

func TestNewWritesBannerAndChannelFiles(t *testing.T) {
	testlog.Start(t)

	cfg := testConfig(t)
	fd := newFakeDesign(t)
	h := newHarness[*fakeSignal](t, cfg, fd.reg, &fakeBackend{})

	want := protocol.NamesFor(4242).Join(cfg.Dir)
	if h.d.Names() != want {
		t.Fatalf("names = %+v, want %+v", h.d.Names(), want)
	}
	if got := h.banner[:len("sim start on testhost at ")]; got != "sim start on testhost at " {
		t.Fatalf("banner prefix = %q", got)
	}
	for _, path := range []string{want.In, want.Out, want.Cmd} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("%s mode = %v, want 0600", path, info.Mode().Perm())
		}
	}

	h.run()
	h.peer.Outputs(2)
	h.peer.Finish()
	if err := h.wait(t); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestGetIDAndGetChunkFollowSignalMap(t *testing.T) {
	testlog.Start(t)

	fd := newFakeDesign(t)
	h := newHarness[*fakeSignal](t, testConfig(t), fd.reg, &fakeBackend{})
	h.run()

	h.peer.Outputs(2)
	for path, want := range map[string]int64{"a.b": 0, "c.d": 1, "e.f": 2} {
		id, err := h.peer.GetID(path)
		if err != nil {
			t.Fatalf("getid %s: %v", path, err)
		}
		if id != want {
			t.Fatalf("getid %s = %d, want %d", path, id, want)
		}
	}
	if got := h.peer.GetChunk(2); got != 2 {
		t.Fatalf("getchk e.f = %d, want 2", got)
	}
	if got := h.peer.GetChunk(0); got != 1 {
		t.Fatalf("getchk a.b = %d, want 1", got)
	}
	h.peer.Finish()
	if err := h.wait(t); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestGetIDMissReturnsNoSignalAndContinues(t *testing.T) {
	testlog.Start(t)

	fd := newFakeDesign(t)
	be := &fakeBackend{search: map[string]int{"x.hidden": 7}}
	h := newHarness[*fakeSignal](t, testConfig(t), fd.reg, be)
	h.run()

	h.peer.Outputs(2)
	id, err := h.peer.GetID("no.such.path")
	if err != nil {
		t.Fatalf("getid: %v", err)
	}
	if id != protocol.NoSignal {
		t.Fatalf("getid miss = %d, want %d", id, protocol.NoSignal)
	}
	id, err = h.peer.GetID("x.hidden")
	if err != nil {
		t.Fatalf("getid: %v", err)
	}
	if id != 7 {
		t.Fatalf("getid via search = %d, want 7", id)
	}
	if got := h.peer.GetChunk(1); got != 1 {
		t.Fatalf("getchk after miss = %d, want 1", got)
	}
	h.peer.Finish()
	if err := h.wait(t); err != nil {
		t.Fatalf("run: %v", err)
	}
	if be.count("finish") != 1 {
		t.Fatalf("finish calls = %d, want 1", be.count("finish"))
	}
}

func TestUnresolvedIDIsFatal(t *testing.T) {
	cases := []struct {
		name string
		send func(p *simpeer.Peer)
	}{
		{"poke out of range", func(p *simpeer.Peer) {
			p.Op(protocol.OpPoke)
			p.SendID(99)
		}},
		{"force negative", func(p *simpeer.Peer) {
			p.Op(protocol.OpForce)
			p.SendID(-1)
		}},
		{"peek unbound word", func(p *simpeer.Peer) {
			p.Op(protocol.OpPeek)
			p.SendID(3)
		}},
		{"getchk out of range", func(p *simpeer.Peer) {
			p.Op(protocol.OpGetChunk)
			p.SendID(4)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			testlog.Start(t)

			fd := newFakeDesign(t)
			be := &fakeBackend{}
			h := newHarness[*fakeSignal](t, testConfig(t), fd.reg, be)
			h.run()

			h.peer.Outputs(2)
			tc.send(h.peer)
			err := h.wait(t)
			if !errors.Is(err, ErrUnresolvedSignal) {
				t.Fatalf("run err = %v, want ErrUnresolvedSignal", err)
			}
			if ExitCode(err) != ExitAbnormal {
				t.Fatalf("exit code = %d, want %d", ExitCode(err), ExitAbnormal)
			}
			if be.count("finish") != 1 || !h.d.Finished() {
				t.Fatalf("finish calls = %d finished=%v, want exactly one", be.count("finish"), h.d.Finished())
			}
		})
	}
}

func TestPokeForcePeekWords(t *testing.T) {
	testlog.Start(t)

	fd := newFakeDesign(t)
	be := &fakeBackend{}
	h := newHarness[*fakeSignal](t, testConfig(t), fd.reg, be)
	h.run()

	h.peer.Outputs(2)
	h.peer.Poke(0, []uint64{5})
	h.peer.Force(2, []uint64{0xdead, 0xbeef})
	if got := h.peer.Peek(2, 2); !slices.Equal(got, []uint64{0xdead, 0xbeef}) {
		t.Fatalf("peek e.f = %#x", got)
	}
	if got := h.peer.Peek(0, 1); got[0] != 5 {
		t.Fatalf("peek a.b = %d, want 5", got[0])
	}
	h.peer.Finish()
	if err := h.wait(t); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fd.ab.forced {
		t.Fatalf("poke must not force")
	}
	if !fd.ef.forced {
		t.Fatalf("force must mark the signal forced")
	}
}

func TestStepAndUpdateDrainInputsInOrder(t *testing.T) {
	testlog.Start(t)

	fd := newFakeDesign(t)
	be := &fakeBackend{}
	h := newHarness[*fakeSignal](t, testConfig(t), fd.reg, be)
	h.run()

	h.peer.Outputs(2)
	h.peer.Step([]uint64{9})
	h.peer.Outputs(2)
	h.peer.Update([]uint64{11})
	h.peer.Outputs(2)
	h.peer.Finish()
	if err := h.wait(t); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fd.ab.words[0] != 11 {
		t.Fatalf("a.b = %d, want 11", fd.ab.words[0])
	}
	want := []string{"step", "update", "finish"}
	if got := be.calls(); !slices.Equal(got, want) {
		t.Fatalf("hooks = %v, want %v", got, want)
	}
}

func TestResetDefersStartToNextTick(t *testing.T) {
	testlog.Start(t)

	fd := newFakeDesign(t)
	be := &fakeBackend{}
	h := newHarness[*fakeSignal](t, testConfig(t), fd.reg, be)

	done := h.tick()
	h.peer.Outputs(2)
	h.peer.Reset()
	waitTick(t, done)
	if !h.d.ResetPending() {
		t.Fatalf("reset not latched")
	}
	if got := be.calls(); !slices.Equal(got, []string{"reset"}) {
		t.Fatalf("hooks after RESET = %v", got)
	}

	done = h.tick()
	h.peer.Outputs(2)
	h.peer.Update([]uint64{0})
	waitTick(t, done)
	if h.d.ResetPending() {
		t.Fatalf("reset still pending after a tick")
	}
	if got := be.calls(); !slices.Equal(got, []string{"reset", "start", "update"}) {
		t.Fatalf("hooks = %v", got)
	}

	done = h.tick()
	h.peer.Outputs(2)
	h.peer.Reset()
	waitTick(t, done)
	h.d.ClearResetPending()

	done = h.tick()
	h.peer.Outputs(2)
	h.peer.Finish()
	waitTick(t, done)
	h.stopped = true
	if got := be.count("start"); got != 1 {
		t.Fatalf("start calls = %d, want 1 after ClearResetPending", got)
	}
}

func TestFinishRunsOnce(t *testing.T) {
	testlog.Start(t)

	fd := newFakeDesign(t)
	be := &fakeBackend{}
	h := newHarness[*fakeSignal](t, testConfig(t), fd.reg, be)
	h.run()

	h.peer.Outputs(2)
	h.peer.Finish()
	if err := h.wait(t); err != nil {
		t.Fatalf("run: %v", err)
	}
	h.d.finish()
	if err := h.d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := be.count("finish"); got != 1 {
		t.Fatalf("finish calls = %d, want 1", got)
	}
}

func TestUnknownOpcodeIsIgnored(t *testing.T) {
	testlog.Start(t)

	fd := newFakeDesign(t)
	be := &fakeBackend{}
	h := newHarness[*fakeSignal](t, testConfig(t), fd.reg, be)
	h.run()

	h.peer.Outputs(2)
	h.peer.Op(protocol.Opcode(42))
	if got := h.peer.GetChunk(2); got != 2 {
		t.Fatalf("getchk after unknown opcode = %d, want 2", got)
	}
	h.peer.Finish()
	if err := h.wait(t); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := be.calls(); !slices.Equal(got, []string{"finish"}) {
		t.Fatalf("hooks = %v", got)
	}
}

func TestSetClockUnknownDropsValue(t *testing.T) {
	testlog.Start(t)

	fd := newFakeDesign(t)
	h := newHarness[*fakeSignal](t, testConfig(t), fd.reg, &fakeBackend{})
	h.run()

	h.peer.Outputs(2)
	if err := h.peer.SetClock("nope", []uint64{1}); err != nil {
		t.Fatalf("setclk: %v", err)
	}
	if err := h.peer.SetClock("clk", []uint64{3}); err != nil {
		t.Fatalf("setclk: %v", err)
	}
	if got := h.peer.Peek(1, 1); got[0] != 3 {
		t.Fatalf("clock = %d, want 3", got[0])
	}
	h.peer.Finish()
	if err := h.wait(t); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestNewRejectsOversizedBatch(t *testing.T) {
	testlog.Start(t)

	fd := newFakeDesign(t)
	fd.ef.words = make([]uint64, 8)
	cfg := testConfig(t)
	cfg.PageSize = 64
	cfg.Banner = &bytes.Buffer{}
	_, err := New(cfg, fd.reg, Backend[*fakeSignal](&fakeBackend{}))
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("new err = %v, want ErrBatchTooLarge", err)
	}
}

func TestNewRejectsBadEncoding(t *testing.T) {
	fd := newFakeDesign(t)
	cfg := testConfig(t)
	cfg.Encoding = "base64"
	_, err := New(cfg, fd.reg, Backend[*fakeSignal](&fakeBackend{}))
	if !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("new err = %v, want ErrInvalidEncoding", err)
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Fatalf("nil error must exit 0")
	}
	if ExitCode(errors.New("boom")) != 1 {
		t.Fatalf("plain error must exit 1")
	}
	wrapped := errors.Join(errors.New("ctx"), ErrUnresolvedSignal)
	if ExitCode(wrapped) != ExitAbnormal {
		t.Fatalf("unresolved signal must exit %d", ExitAbnormal)
	}
}

func TestParseEncoding(t *testing.T) {
	for raw, want := range map[string]Encoding{"": EncodingWords, "words": EncodingWords, " Text ": EncodingText} {
		got, err := ParseEncoding(raw)
		if err != nil || got != want {
			t.Fatalf("ParseEncoding(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseEncoding("hex"); !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("ParseEncoding(hex) err = %v", err)
	}
}
