// Package shm implements the shared channel: one mmap'd file region shared
// by exactly two processes, with a two-flag plus turn handshake for mutual
// exclusion and a single payload slot guarded by a full flag.
//
// Nothing in this package blocks on a kernel primitive. Waiting is spin
// polling; the spin hook may yield to the Go scheduler but must not sleep.
//
// Send pattern:
//
//	acquire -> if ready: write payload, produce -> release
//
// Receive pattern:
//
//	acquire -> if valid: read payload, consume -> release
//
// TrySend and TryRecv run one attempt of these patterns; Send and Recv
// repeat them until they succeed.
package shm
