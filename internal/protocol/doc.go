// Package protocol owns the tester/simulator wire contract.
//
// Ownership boundary:
// - channel region layout (flag bytes, payload offset)
// - opcode encoding
// - channel file naming and the startup banner
// - id and sentinel word encoding
//
// Both roles import this package so that the encoding is agreed on in one
// place. It holds no state.
package protocol
