package shm

import "github.com/danmuck/simlink/internal/protocol"

// TrySend runs one send attempt. fill is called with the payload only when
// the slot is empty; the slot is then marked full. It reports whether the
// item was placed.
func (c *Channel) TrySend(fill func(Payload)) bool {
	c.Acquire()
	ready := c.Ready()
	if ready {
		fill(c.Payload())
		c.Produce()
	}
	c.Release()
	return ready
}

// TryRecv runs one receive attempt. drain is called only when the slot holds
// data; the slot is then marked empty.
func (c *Channel) TryRecv(drain func(Payload)) bool {
	c.Acquire()
	valid := c.Valid()
	if valid {
		drain(c.Payload())
		c.Consume()
	}
	c.Release()
	return valid
}

// Send retries TrySend until it succeeds.
func (c *Channel) Send(fill func(Payload)) {
	for !c.TrySend(fill) {
		c.spin()
	}
}

// Recv retries TryRecv until it succeeds.
func (c *Channel) Recv(drain func(Payload)) {
	for !c.TryRecv(drain) {
		c.spin()
	}
}

// SendWord sends a single word.
func (c *Channel) SendWord(v uint64) {
	c.Send(func(p Payload) { p.SetWord(0, v) })
}

// RecvWord receives a single word.
func (c *Channel) RecvWord() uint64 {
	var v uint64
	c.Recv(func(p Payload) { v = p.Word(0) })
	return v
}

// SendString sends s as a NUL-terminated string. Oversized strings are
// rejected before the slot is touched.
func (c *Channel) SendString(s string) error {
	if err := protocol.CheckString(s, c.Payload().Len()); err != nil {
		return err
	}
	c.Send(func(p Payload) { _ = p.SetString(s) })
	return nil
}

// RecvString receives a NUL-terminated string.
func (c *Channel) RecvString() string {
	var s string
	c.Recv(func(p Payload) { s = p.String() })
	return s
}
