package shm

import (
	"testing"

	"github.com/danmuck/simlink/internal/protocol"
)

// Program counters of one side of Acquire/Release, one atomic flag access
// per step.
const (
	pcIdle = iota
	pcRaise
	pcYield
	pcTestPeer
	pcTestTurn
	pcCritical
)

type modelState struct {
	pc    [2]int
	flags [3]byte // tester want, simulator want, turn
}

type modelProc struct {
	self, peer int
	yield      byte
	raise      bool
}

func modelProcs(raise bool) [2]modelProc {
	var out [2]modelProc
	for i, r := range []Role{RoleSimulator, RoleTester} {
		self, peer, yield := layout(r)
		out[i] = modelProc{self: self, peer: peer, yield: yield, raise: raise}
	}
	return out
}

func (p modelProc) step(s modelState, i int) modelState {
	switch s.pc[i] {
	case pcIdle:
		s.pc[i] = pcRaise
	case pcRaise:
		if p.raise {
			s.flags[p.self] = 1
		}
		s.pc[i] = pcYield
	case pcYield:
		s.flags[protocol.FlagTurn] = p.yield
		s.pc[i] = pcTestPeer
	case pcTestPeer:
		if s.flags[p.peer] == 1 {
			s.pc[i] = pcTestTurn
		} else {
			s.pc[i] = pcCritical
		}
	case pcTestTurn:
		if s.flags[protocol.FlagTurn] == p.yield {
			s.pc[i] = pcTestPeer
		} else {
			s.pc[i] = pcCritical
		}
	case pcCritical:
		s.flags[p.self] = 0
		s.pc[i] = pcIdle
	}
	return s
}

func successors(procs [2]modelProc, s modelState) []modelState {
	return []modelState{procs[0].step(s, 0), procs[1].step(s, 1)}
}

func explore(procs [2]modelProc) map[modelState]bool {
	seen := map[modelState]bool{{}: true}
	queue := []modelState{{}}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, n := range successors(procs, s) {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return seen
}

func canReach(procs [2]modelProc, from modelState, goal func(modelState) bool) bool {
	seen := map[modelState]bool{from: true}
	queue := []modelState{from}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		if goal(s) {
			return true
		}
		for _, n := range successors(procs, s) {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false
}

func TestHandshakeModelMutualExclusion(t *testing.T) {
	procs := modelProcs(true)
	states := explore(procs)
	if len(states) < 10 {
		t.Fatalf("state space suspiciously small: %d", len(states))
	}
	for s := range states {
		if s.pc[0] == pcCritical && s.pc[1] == pcCritical {
			t.Fatalf("both sides in critical section: %+v", s)
		}
	}
	t.Logf("explored %d states", len(states))
}

func TestHandshakeModelEachSideCanEnter(t *testing.T) {
	procs := modelProcs(true)
	for s := range explore(procs) {
		for i := range procs {
			if s.pc[i] < pcTestPeer || s.pc[i] > pcTestTurn {
				continue
			}
			if !canReach(procs, s, func(n modelState) bool { return n.pc[i] == pcCritical }) {
				t.Fatalf("side %d can never enter from %+v", i, s)
			}
		}
	}
}

func TestHandshakeModelDetectsMissingWantFlag(t *testing.T) {
	procs := modelProcs(false)
	for s := range explore(procs) {
		if s.pc[0] == pcCritical && s.pc[1] == pcCritical {
			return
		}
	}
	t.Fatalf("expected exclusion violation when want flags are never raised")
}

func TestLayoutMirrorsRoles(t *testing.T) {
	sSelf, sPeer, sYield := layout(RoleSimulator)
	tSelf, tPeer, tYield := layout(RoleTester)
	if sSelf != tPeer || tSelf != sPeer {
		t.Fatalf("flag roles not mirrored: sim=(%d,%d) tester=(%d,%d)", sSelf, sPeer, tSelf, tPeer)
	}
	if sSelf != protocol.FlagSimulator || tSelf != protocol.FlagTester {
		t.Fatalf("unexpected flag bytes: sim=%d tester=%d", sSelf, tSelf)
	}
	if sYield == tYield {
		t.Fatalf("both roles yield with the same turn value %d", sYield)
	}
}
