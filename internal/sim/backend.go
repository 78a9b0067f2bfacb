package sim

// Backend is the capability set a simulation engine exposes to the
// dispatcher. S is the engine's signal handle type; its zero value means
// "no signal".
type Backend[S comparable] interface {
	// Reset applies reset to the design.
	Reset()
	// Start runs once after a reset, before the next command is read.
	Start()
	// Finish releases the engine. The dispatcher calls it at most once.
	Finish()
	// Update recomputes combinational state without a clock edge.
	Update()
	// Step advances one clock edge.
	Step()

	// PutValue writes a textual value.
	PutValue(sig S, value string, force bool)
	// PutWords writes a packed value from words and returns how many words
	// it consumed.
	PutWords(sig S, words []uint64, force bool) int
	// GetValue reads a textual value.
	GetValue(sig S) string
	// GetWords packs the value into dst and returns how many words it wrote.
	// It never writes past len(dst).
	GetWords(sig S, dst []uint64) int

	// Search resolves a path the signal map does not list.
	Search(path string) (int, bool)
	// Chunk is the number of words sig occupies.
	Chunk(sig S) int
}
