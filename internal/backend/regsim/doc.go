/*
Package regsim is a small word-level register-transfer simulator that
implements the dispatcher's Backend over *Signal handles.

A design is a list of signals decoded from TOML:

	name = "toggle"

	[[signal]]
	path = "top.clk"
	name = "clk"
	width = 1
	kind = "clock"

	[[signal]]
	path = "top.q_reg"
	name = "q_reg"
	width = 1
	kind = "reg"
	clock = "clk"
	next = "1 - q_reg if en else q_reg"

Registers latch their next expression on Step when their clock's control
value is non-zero. Wires and outputs recompute from their expr on Update and
after every Step. Expressions are Starlark over the names of all signals;
values wider than 64 bits are big integers.
*/
package regsim
