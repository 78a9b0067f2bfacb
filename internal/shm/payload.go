package shm

import (
	"encoding/binary"

	"github.com/danmuck/simlink/internal/protocol"
)

// Payload is the data area of a channel, addressed either as native-endian
// 64-bit words or as a NUL-terminated string.
type Payload struct {
	b []byte
}

// Cap is the number of whole words the payload can hold.
func (p Payload) Cap() int { return len(p.b) / protocol.WordSize }

// Len is the payload size in bytes.
func (p Payload) Len() int { return len(p.b) }

func (p Payload) Word(i int) uint64 {
	return binary.NativeEndian.Uint64(p.b[i*protocol.WordSize:])
}

func (p Payload) SetWord(i int, v uint64) {
	binary.NativeEndian.PutUint64(p.b[i*protocol.WordSize:], v)
}

// ReadWords copies up to len(dst) words into dst and returns the count.
func (p Payload) ReadWords(dst []uint64) int {
	n := min(len(dst), p.Cap())
	for i := 0; i < n; i++ {
		dst[i] = p.Word(i)
	}
	return n
}

// WriteWords copies up to Cap words from src and returns the count.
func (p Payload) WriteWords(src []uint64) int {
	n := min(len(src), p.Cap())
	for i := 0; i < n; i++ {
		p.SetWord(i, src[i])
	}
	return n
}

func (p Payload) String() string {
	return protocol.GetString(p.b)
}

func (p Payload) SetString(s string) error {
	return protocol.PutString(p.b, s)
}
