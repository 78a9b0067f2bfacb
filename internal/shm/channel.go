package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/danmuck/simlink/internal/protocol"
	"golang.org/x/sys/unix"
)

// Role selects which flag byte a side owns.
type Role int

const (
	RoleSimulator Role = iota
	RoleTester
)

func (r Role) String() string {
	switch r {
	case RoleSimulator:
		return "simulator"
	case RoleTester:
		return "tester"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// layout returns the flag byte owned by role, the peer's flag byte and the
// turn value role writes to yield priority to the peer.
func layout(r Role) (self, peer int, yield byte) {
	if r == RoleTester {
		return protocol.FlagTester, protocol.FlagSimulator, protocol.TurnSimulator
	}
	return protocol.FlagSimulator, protocol.FlagTester, protocol.TurnTester
}

// Options tune a channel mapping.
type Options struct {
	// Size of the region in bytes. Zero means the OS page size.
	Size int
	// Spin is called once per failed poll. Defaults to runtime.Gosched.
	Spin func()
}

func (o Options) withDefaults() Options {
	if o.Size <= 0 {
		o.Size = unix.Getpagesize()
	}
	if o.Spin == nil {
		o.Spin = runtime.Gosched
	}
	return o
}

// laneShift[i] is the bit offset of flag byte i inside the native-endian
// 32-bit word that holds bytes 0..3.
var laneShift = func() [4]uint {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], 0x03020100)
	var s [4]uint
	for i, v := range b {
		s[i] = uint(v) * 8
	}
	return s
}()

// Channel is one side's view of a shared region.
type Channel struct {
	name  string
	f     *os.File
	mem   []byte
	flags *atomic.Uint32
	self  int
	peer  int
	yield byte
	spin  func()
}

// Create makes (or truncates) the file at path, sizes it and maps it for
// the simulator role. The file is owner read/write only.
func Create(path string, opts Options) (*Channel, error) {
	opts = opts.withDefaults()
	if opts.Size < protocol.PayloadOffset+protocol.WordSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrRegionTooSmall, opts.Size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(opts.Size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: size %s: %w", path, err)
	}
	return mapFile(path, f, RoleSimulator, opts)
}

// Open maps an existing channel file in the given role. A zero Size maps the
// whole file.
func Open(path string, role Role, opts Options) (*Channel, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	if opts.Size <= 0 {
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("shm: stat %s: %w", path, err)
		}
		opts.Size = int(st.Size())
	}
	opts = opts.withDefaults()
	if opts.Size < protocol.PayloadOffset+protocol.WordSize {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrRegionTooSmall, path, opts.Size)
	}
	return mapFile(path, f, role, opts)
}

func mapFile(path string, f *os.File, role Role, opts Options) (*Channel, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s as %s: %w", path, role, err)
	}
	self, peer, yield := layout(role)
	return &Channel{
		name:  path,
		f:     f,
		mem:   mem,
		flags: (*atomic.Uint32)(unsafe.Pointer(&mem[0])),
		self:  self,
		peer:  peer,
		yield: yield,
		spin:  opts.Spin,
	}, nil
}

// Close unmaps the region and closes the file. The file itself is left in
// place for the peer.
func (c *Channel) Close() error {
	if c.mem == nil {
		return ErrClosed
	}
	err := unix.Munmap(c.mem)
	c.mem = nil
	c.flags = nil
	return errors.Join(err, c.f.Close())
}

func (c *Channel) Name() string { return c.name }

// Size is the mapped region size in bytes.
func (c *Channel) Size() int { return len(c.mem) }

func (c *Channel) load(i int) byte {
	return byte(c.flags.Load() >> laneShift[i])
}

// store writes one flag byte without disturbing the other three, which the
// peer may be writing concurrently.
func (c *Channel) store(i int, v byte) {
	shift := laneShift[i]
	for {
		old := c.flags.Load()
		next := old&^(0xff<<shift) | uint32(v)<<shift
		if c.flags.CompareAndSwap(old, next) {
			return
		}
	}
}

// Acquire spins until the caller holds the critical section.
func (c *Channel) Acquire() {
	c.store(c.self, 1)
	c.store(protocol.FlagTurn, c.yield)
	for c.load(c.peer) == 1 && c.load(protocol.FlagTurn) == c.yield {
		c.spin()
	}
}

// Release ends the caller's critical section.
func (c *Channel) Release() { c.store(c.self, 0) }

// Produce marks the payload slot full.
func (c *Channel) Produce() { c.store(protocol.FlagFull, 1) }

// Consume marks the payload slot empty.
func (c *Channel) Consume() { c.store(protocol.FlagFull, 0) }

// Ready reports whether the slot is empty.
func (c *Channel) Ready() bool { return c.load(protocol.FlagFull) == 0 }

// Valid reports whether the slot holds unread data.
func (c *Channel) Valid() bool { return c.load(protocol.FlagFull) == 1 }

// Payload returns the data area following the flag bytes. Callers must hold
// the critical section while touching it.
func (c *Channel) Payload() Payload {
	return Payload{b: c.mem[protocol.PayloadOffset:]}
}
