// Package sim owns the simulator side of the tester protocol.
//
// Ownership boundary:
// - the three shared channels (input, output, command)
// - the per-tick command loop and opcode dispatch
// - the post-reset latch
//
// The simulation itself lives behind Backend. The dispatcher only holds
// handles into it, through a registry.Registry built before New.
//
// Tick order:
// - publish the output token batch, retrying until the output slot is free
// - run the backend's Start hook once if a RESET ended the previous tick
// - receive and run opcodes until RESET, STEP, UPDATE or FIN
package sim
