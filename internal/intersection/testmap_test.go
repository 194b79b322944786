package intersection_test

import (
	"time"

	itx "github.com/citysim/intersection-core/internal/intersection"
)

// testTurn is a minimal Turn implementation for tests: conflicts are
// declared explicitly by the test author rather than computed from real
// geometry.
type testTurn struct {
	conflicts map[itx.TurnID]bool
}

func (t testTurn) ConflictsWith(other itx.TurnID) bool { return t.conflicts[other] }

// testMap is a minimal, in-memory Map for tests.
type testMap struct {
	intersections []itx.Intersection
	turns         map[itx.TurnID]testTurn
}

func (m *testMap) AllIntersections() []itx.Intersection { return m.intersections }

func (m *testMap) GetTurn(id itx.TurnID) (itx.Turn, bool) {
	t, ok := m.turns[id]
	if !ok {
		return nil, false
	}
	return t, true
}

// testControlStopSign maps turns to priorities.
type testControlStopSign struct {
	priorities map[itx.TurnID]itx.TurnPriority
}

func (c testControlStopSign) GetPriority(turn itx.TurnID) itx.TurnPriority {
	return c.priorities[turn]
}

// testCycle is a fixed set of green turns.
type testCycle struct {
	green map[itx.TurnID]bool
}

func (c testCycle) Contains(turn itx.TurnID) bool { return c.green[turn] }

// testControlTrafficSignal always returns the same cycle, regardless of
// tick, unless the test swaps it out via assigning Cycle directly.
type testControlTrafficSignal struct {
	Cycle     testCycle
	Remaining time.Duration
}

func (c *testControlTrafficSignal) CurrentCycleAndRemainingTime(now itx.Tick) (itx.Cycle, time.Duration) {
	return c.Cycle, c.Remaining
}

// testControlMap routes to per-intersection stop-sign/signal configs.
type testControlMap struct {
	stopSigns      map[itx.IntersectionID]testControlStopSign
	trafficSignals map[itx.IntersectionID]*testControlTrafficSignal
}

func (c *testControlMap) StopSign(id itx.IntersectionID) (itx.ControlStopSign, bool) {
	s, ok := c.stopSigns[id]
	if !ok {
		return nil, false
	}
	return s, true
}

func (c *testControlMap) TrafficSignal(id itx.IntersectionID) (itx.ControlTrafficSignal, bool) {
	s, ok := c.trafficSignals[id]
	if !ok {
		return nil, false
	}
	return s, true
}
