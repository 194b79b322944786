package intersection

import "time"

// Tick is the simulation's discrete time unit, expressed as seconds elapsed
// since the run started. Callers typically advance it in fixed increments
// (e.g. every 0.1s); nothing in this package assumes a particular
// increment.
type Tick float64

// Speed is a plain scalar speed, compared against EpsilonSpeed to decide
// whether an agent has physically stopped. The kinematics layer that
// produces these values is free to carry exact decimal arithmetic
// internally; by the time a speed crosses into the core it is a float64,
// keeping this package free of third-party dependencies.
type Speed float64

const (
	// WaitAtStopSign is the minimum dwell time, in seconds, a Stop-priority
	// request must spend in the waiting state before it is eligible for
	// admission.
	WaitAtStopSign Tick = 1.5

	// EpsilonSpeed is the speed, in the same units as Speed, below which an
	// agent is considered stopped for the purposes of stop-sign promotion.
	EpsilonSpeed Speed = 0.01
)

// Intersection describes one intersection as the map layer sees it: an
// identity and whether it runs a traffic signal (vs. a stop sign).
type Intersection struct {
	ID               IntersectionID
	HasTrafficSignal bool
}

// Turn is the map layer's geometric view of a movement: it knows which
// other turns at the same intersection it conflicts with.
type Turn interface {
	// ConflictsWith reports whether this turn's path crosses other's path.
	// Turns at different intersections are never compared.
	ConflictsWith(other TurnID) bool
}

// Map is the read-only map/geometry collaborator. Its lifetime spans the
// whole simulation run; IntersectionSimState never mutates it.
type Map interface {
	AllIntersections() []Intersection
	GetTurn(id TurnID) (Turn, bool)
}

// ControlStopSign exposes one intersection's stop-sign priority table.
type ControlStopSign interface {
	GetPriority(turn TurnID) TurnPriority
}

// Cycle is one phase of a traffic-signal program: the set of turns that are
// currently green. The control layer guarantees every turn in one cycle is
// mutually non-conflicting; this package never verifies that guarantee
// itself.
type Cycle interface {
	Contains(turn TurnID) bool
}

// ControlTrafficSignal exposes one intersection's signal program.
type ControlTrafficSignal interface {
	CurrentCycleAndRemainingTime(now Tick) (Cycle, time.Duration)
}

// ControlMap is the read-only control-plane collaborator: per-intersection
// stop-sign and traffic-signal configuration authored by the (out of
// scope) control-plane editor.
type ControlMap interface {
	StopSign(id IntersectionID) (ControlStopSign, bool)
	TrafficSignal(id IntersectionID) (ControlTrafficSignal, bool)
}

// AgentInfo is the per-tick, read-only snapshot of agent state the tick
// loop hands to Step. It is logically owned by the caller for the tick's
// duration and must not change mid-step. Because it is never persisted, it
// is the one place in this package a hash-based container is acceptable.
type AgentInfo struct {
	Speeds  map[AgentID]Speed
	Leaders map[AgentID]bool
}

// SpeedOf returns the agent's current speed, or 0 if unknown.
func (a AgentInfo) SpeedOf(agent AgentID) Speed {
	return a.Speeds[agent]
}

// IsLeader reports whether agent is the frontmost agent in its lane queue.
func (a AgentInfo) IsLeader(agent AgentID) bool {
	return a.Leaders[agent]
}
