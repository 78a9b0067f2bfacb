package sim

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/danmuck/simlink/internal/logging"
	"github.com/danmuck/simlink/internal/observability"
	"github.com/danmuck/simlink/internal/protocol"
	"github.com/danmuck/simlink/internal/registry"
	"github.com/danmuck/simlink/internal/shm"
)

// Dispatcher drives a Backend from the tester's commands.
type Dispatcher[S comparable] struct {
	cfg     Config
	names   protocol.ChannelNames
	in      *shm.Channel
	out     *shm.Channel
	cmd     *shm.Channel
	reg     *registry.Registry[S]
	backend Backend[S]
	scratch []uint64

	// resetPending records that a RESET ended the last tick and the
	// backend's Start hook is owed before the next command.
	resetPending bool
	finished     bool
}

// New creates the three channel files, readies them and announces them on
// the banner writer.
func New[S comparable](cfg Config, reg *registry.Registry[S], be Backend[S]) (*Dispatcher[S], error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	d := &Dispatcher[S]{
		cfg:     cfg,
		names:   protocol.NamesFor(cfg.PID).Join(cfg.Dir),
		reg:     reg,
		backend: be,
	}
	if d.in, err = d.create(d.names.In, "in"); err != nil {
		return nil, err
	}
	if d.out, err = d.create(d.names.Out, "out"); err != nil {
		d.in.Close()
		return nil, err
	}
	if d.cmd, err = d.create(d.names.Cmd, "cmd"); err != nil {
		d.in.Close()
		d.out.Close()
		return nil, err
	}
	d.scratch = make([]uint64, d.out.Payload().Cap())
	if err := d.checkBatches(); err != nil {
		d.Close()
		return nil, err
	}

	d.out.Consume()
	d.in.Release()
	d.out.Release()
	d.cmd.Release()

	if err := protocol.WriteBanner(cfg.Banner, cfg.Host, cfg.Now(), d.names); err != nil {
		d.Close()
		return nil, fmt.Errorf("sim: write banner: %w", err)
	}
	logging.Debugf("sim.New channels in=%q out=%q cmd=%q encoding=%s", d.names.In, d.names.Out, d.names.Cmd, cfg.Encoding)
	return d, nil
}

func (d *Dispatcher[S]) create(path, label string) (*shm.Channel, error) {
	counter := observability.SpinCounter(label)
	spin := func() { counter.Inc() }
	if d.cfg.SpinYield {
		spin = func() {
			counter.Inc()
			runtime.Gosched()
		}
	}
	return shm.Create(path, shm.Options{Size: d.cfg.PageSize, Spin: spin})
}

func (d *Dispatcher[S]) checkBatches() error {
	capacity := len(d.scratch)
	for _, l := range []struct {
		name string
		sigs []S
	}{{"input", d.reg.Inputs()}, {"output", d.reg.Outputs()}} {
		words := 0
		for _, sig := range l.sigs {
			words += d.backend.Chunk(sig)
		}
		if words > capacity {
			return fmt.Errorf("%w: %s batch needs %d words, payload holds %d", ErrBatchTooLarge, l.name, words, capacity)
		}
	}
	return nil
}

// Names returns the channel file paths.
func (d *Dispatcher[S]) Names() protocol.ChannelNames { return d.names }

// ResetPending reports whether the Start hook is owed before the next
// command.
func (d *Dispatcher[S]) ResetPending() bool { return d.resetPending }

// ClearResetPending drops an owed Start hook.
func (d *Dispatcher[S]) ClearResetPending() { d.resetPending = false }

// Finished reports whether the backend's Finish hook has run.
func (d *Dispatcher[S]) Finished() bool { return d.finished }

// Run ticks until FIN or a fatal error.
func (d *Dispatcher[S]) Run() error {
	for {
		op, err := d.Tick()
		if err != nil {
			return err
		}
		if op == protocol.OpFinish {
			return nil
		}
	}
}

// Tick runs one tick and returns the opcode that ended it.
func (d *Dispatcher[S]) Tick() (protocol.Opcode, error) {
	d.out.Send(d.fillTokens)
	if d.resetPending {
		d.backend.Start()
		d.resetPending = false
	}
	for {
		op := protocol.Opcode(d.cmd.RecvWord())
		label := op.String()
		if !op.Valid() {
			label = "unknown"
		}
		observability.RecordOpcode(label)
		logging.Tracef("sim.Tick op=%s", op)

		if err := d.dispatch(op); err != nil {
			return op, err
		}
		if op.EndsTick() {
			observability.RecordTick(label)
			return op, nil
		}
	}
}

func (d *Dispatcher[S]) dispatch(op protocol.Opcode) error {
	switch op {
	case protocol.OpReset:
		d.backend.Reset()
		d.resetPending = true
	case protocol.OpStep:
		d.in.Recv(d.drainTokens)
		d.backend.Step()
	case protocol.OpUpdate:
		d.in.Recv(d.drainTokens)
		d.backend.Update()
	case protocol.OpPoke:
		return d.poke(op, false)
	case protocol.OpForce:
		return d.poke(op, true)
	case protocol.OpPeek:
		return d.peek()
	case protocol.OpGetID:
		d.getID()
	case protocol.OpGetChunk:
		return d.getChunk()
	case protocol.OpSetClock:
		d.setClock()
	case protocol.OpFinish:
		d.finish()
	default:
		logging.Debugf("sim.Tick ignoring unknown opcode=%d", uint64(op))
	}
	return nil
}

func (d *Dispatcher[S]) fillTokens(p shm.Payload) {
	off := 0
	for _, sig := range d.reg.Outputs() {
		off += d.backend.GetWords(sig, d.scratch[off:])
	}
	p.WriteWords(d.scratch[:off])
}

func (d *Dispatcher[S]) drainTokens(p shm.Payload) {
	n := p.ReadWords(d.scratch)
	off := 0
	for _, sig := range d.reg.Inputs() {
		off += d.backend.PutWords(sig, d.scratch[min(off, n):n], false)
	}
}

// resolve reads an id from the command channel and looks up its handle.
func (d *Dispatcher[S]) resolve(op protocol.Opcode) (S, error) {
	id := protocol.DecodeID(d.cmd.RecvWord())
	sig, ok := d.reg.Signal(int(id))
	if !ok {
		return sig, d.fatal(op, id)
	}
	return sig, nil
}

func (d *Dispatcher[S]) poke(op protocol.Opcode, force bool) error {
	sig, err := d.resolve(op)
	if err != nil {
		return err
	}
	d.recvValue(sig, force)
	return nil
}

func (d *Dispatcher[S]) recvValue(sig S, force bool) {
	if d.cfg.Encoding == EncodingText {
		d.in.Recv(func(p shm.Payload) {
			d.backend.PutValue(sig, p.String(), force)
		})
		return
	}
	d.in.Recv(func(p shm.Payload) {
		n := p.ReadWords(d.scratch)
		d.backend.PutWords(sig, d.scratch[:n], force)
	})
}

func (d *Dispatcher[S]) peek() error {
	sig, err := d.resolve(protocol.OpPeek)
	if err != nil {
		return err
	}
	if d.cfg.Encoding == EncodingText {
		v := d.backend.GetValue(sig)
		if limit := d.out.Payload().Len() - 1; len(v) > limit {
			logging.Warnf("sim.peek value truncated len=%d limit=%d", len(v), limit)
			v = v[:limit]
		}
		d.out.Send(func(p shm.Payload) { _ = p.SetString(v) })
		return nil
	}
	d.out.Send(func(p shm.Payload) {
		n := d.backend.GetWords(sig, d.scratch)
		p.WriteWords(d.scratch[:n])
	})
	return nil
}

func (d *Dispatcher[S]) getID() {
	path := d.cmd.RecvString()
	id := protocol.NoSignal
	if v, ok := d.reg.Lookup(path); ok {
		id = int64(v)
	} else if v, ok := d.backend.Search(path); ok {
		id = int64(v)
	} else {
		observability.RecordLookupMiss("getid")
		logging.Warnf("sim.getid cannot find the object path=%q", path)
	}
	d.out.SendWord(protocol.EncodeID(id))
}

func (d *Dispatcher[S]) getChunk() error {
	sig, err := d.resolve(protocol.OpGetChunk)
	if err != nil {
		return err
	}
	d.out.SendWord(uint64(d.backend.Chunk(sig)))
	return nil
}

// setClock applies a control value to a named clock. The tester always
// follows the name with a value on the input channel; for an unknown clock
// that value is received and dropped so the channels stay in step.
func (d *Dispatcher[S]) setClock() {
	name := d.cmd.RecvString()
	sig, ok := d.reg.Clock(name)
	if !ok {
		observability.RecordLookupMiss("setclk")
		logging.Warnf("sim.setclk cannot find clock=%q, dropping value", name)
		d.in.Recv(func(shm.Payload) {})
		return
	}
	d.recvValue(sig, false)
}

func (d *Dispatcher[S]) finish() {
	if d.finished {
		return
	}
	d.finished = true
	d.backend.Finish()
}

func (d *Dispatcher[S]) fatal(op protocol.Opcode, id int64) error {
	logging.Errf("sim.%s cannot find the object of id=%d", op, id)
	d.finish()
	return fmt.Errorf("%w: %s id=%d", ErrUnresolvedSignal, op, id)
}

// Close unmaps the three channels. It does not call Finish.
func (d *Dispatcher[S]) Close() error {
	var errs []error
	for _, ch := range []*shm.Channel{d.in, d.out, d.cmd} {
		if ch == nil {
			continue
		}
		if err := ch.Close(); err != nil && !errors.Is(err, shm.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
