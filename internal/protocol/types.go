package protocol

import "fmt"

// Region layout shared by both roles. Offsets are bytes from the start of
// the mapped channel.
const (
	FlagTester    = 0
	FlagSimulator = 1
	FlagTurn      = 2
	FlagFull      = 3
	PayloadOffset = 4
	WordSize      = 8
)

// Turn values. A side yields by writing the other side's priority value.
const (
	TurnSimulator byte = 0
	TurnTester    byte = 1
)

// Opcode is the single command word sent on the command channel.
type Opcode uint64

const (
	OpReset Opcode = iota
	OpStep
	OpUpdate
	OpPoke
	OpPeek
	OpForce
	OpGetID
	OpGetChunk
	OpSetClock
	OpFinish
)

var opcodeNames = [...]string{
	OpReset:    "RESET",
	OpStep:     "STEP",
	OpUpdate:   "UPDATE",
	OpPoke:     "POKE",
	OpPeek:     "PEEK",
	OpForce:    "FORCE",
	OpGetID:    "GETID",
	OpGetChunk: "GETCHK",
	OpSetClock: "SETCLK",
	OpFinish:   "FIN",
}

func (op Opcode) String() string {
	if op.Valid() {
		return opcodeNames[op]
	}
	return fmt.Sprintf("OP(%d)", uint64(op))
}

// Valid reports whether op is one of the ten defined opcodes.
func (op Opcode) Valid() bool {
	return op <= OpFinish
}

// EndsTick reports whether op closes the current tick.
func (op Opcode) EndsTick() bool {
	switch op {
	case OpReset, OpStep, OpUpdate, OpFinish:
		return true
	}
	return false
}
