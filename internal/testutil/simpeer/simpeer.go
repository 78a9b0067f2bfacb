// Package simpeer is a tester-role peer for exercising a simulator over its
// shared channels in tests.
package simpeer

import (
	"errors"
	"io"

	"github.com/danmuck/simlink/internal/protocol"
	"github.com/danmuck/simlink/internal/shm"
)

// Peer maps a simulator's channels in the tester role.
type Peer struct {
	in  *shm.Channel
	out *shm.Channel
	cmd *shm.Channel
}

// Open maps the three channel files.
func Open(names protocol.ChannelNames) (*Peer, error) {
	var p Peer
	var err error
	if p.in, err = shm.Open(names.In, shm.RoleTester, shm.Options{}); err != nil {
		return nil, err
	}
	if p.out, err = shm.Open(names.Out, shm.RoleTester, shm.Options{}); err != nil {
		p.in.Close()
		return nil, err
	}
	if p.cmd, err = shm.Open(names.Cmd, shm.RoleTester, shm.Options{}); err != nil {
		p.in.Close()
		p.out.Close()
		return nil, err
	}
	return &p, nil
}

// Dial reads a simulator banner from r and opens the channels it names.
func Dial(r io.Reader) (*Peer, error) {
	b, err := protocol.ReadBanner(r)
	if err != nil {
		return nil, err
	}
	return Open(b.Names)
}

func (p *Peer) Close() error {
	return errors.Join(p.in.Close(), p.out.Close(), p.cmd.Close())
}

// Outputs receives the output token batch published at the start of a tick
// and returns its first n words.
func (p *Peer) Outputs(n int) []uint64 {
	return p.recvWords(n)
}

func (p *Peer) Op(op protocol.Opcode) {
	p.cmd.SendWord(uint64(op))
}

func (p *Peer) Reset() { p.Op(protocol.OpReset) }

func (p *Peer) Finish() { p.Op(protocol.OpFinish) }

// Step sends STEP followed by the input token batch.
func (p *Peer) Step(inputs []uint64) {
	p.Op(protocol.OpStep)
	p.sendWords(inputs)
}

// Update sends UPDATE followed by the input token batch.
func (p *Peer) Update(inputs []uint64) {
	p.Op(protocol.OpUpdate)
	p.sendWords(inputs)
}

func (p *Peer) Poke(id int64, words []uint64) {
	p.Op(protocol.OpPoke)
	p.cmd.SendWord(protocol.EncodeID(id))
	p.sendWords(words)
}

func (p *Peer) Force(id int64, words []uint64) {
	p.Op(protocol.OpForce)
	p.cmd.SendWord(protocol.EncodeID(id))
	p.sendWords(words)
}

// PokeText pokes a textual value; the simulator must use text encoding.
func (p *Peer) PokeText(id int64, value string) error {
	p.Op(protocol.OpPoke)
	p.cmd.SendWord(protocol.EncodeID(id))
	return p.in.SendString(value)
}

// Peek reads n words of a signal's value.
func (p *Peer) Peek(id int64, n int) []uint64 {
	p.Op(protocol.OpPeek)
	p.cmd.SendWord(protocol.EncodeID(id))
	return p.recvWords(n)
}

// PeekText reads a signal's value as text.
func (p *Peer) PeekText(id int64) string {
	p.Op(protocol.OpPeek)
	p.cmd.SendWord(protocol.EncodeID(id))
	return p.out.RecvString()
}

// GetID resolves a path; protocol.NoSignal means unresolved.
func (p *Peer) GetID(path string) (int64, error) {
	p.Op(protocol.OpGetID)
	if err := p.cmd.SendString(path); err != nil {
		return protocol.NoSignal, err
	}
	return protocol.DecodeID(p.out.RecvWord()), nil
}

func (p *Peer) GetChunk(id int64) int {
	p.Op(protocol.OpGetChunk)
	p.cmd.SendWord(protocol.EncodeID(id))
	return int(p.out.RecvWord())
}

func (p *Peer) SetClock(name string, words []uint64) error {
	p.Op(protocol.OpSetClock)
	if err := p.cmd.SendString(name); err != nil {
		return err
	}
	p.sendWords(words)
	return nil
}

func (p *Peer) SetClockText(name, value string) error {
	p.Op(protocol.OpSetClock)
	if err := p.cmd.SendString(name); err != nil {
		return err
	}
	return p.in.SendString(value)
}

// SendID sends a bare id word on the command channel.
func (p *Peer) SendID(id int64) {
	p.cmd.SendWord(protocol.EncodeID(id))
}

func (p *Peer) sendWords(words []uint64) {
	p.in.Send(func(pl shm.Payload) { pl.WriteWords(words) })
}

func (p *Peer) recvWords(n int) []uint64 {
	out := make([]uint64, n)
	p.out.Recv(func(pl shm.Payload) { pl.ReadWords(out) })
	return out
}
