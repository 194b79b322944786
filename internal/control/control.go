// Package control is a concrete, in-memory implementation of the
// intersection core's ControlMap collaborator: per-intersection stop-sign
// priority tables and traffic-signal cycle programs, as authored by the
// (out-of-scope) control-plane editor.
package control

import (
	"encoding/json"
	"time"

	"github.com/citysim/intersection-core/internal/intersection"
)

// stopSign is a static priority table for one intersection's turns.
type stopSign struct {
	priorities map[intersection.TurnID]intersection.TurnPriority
}

func (s *stopSign) GetPriority(turn intersection.TurnID) intersection.TurnPriority {
	return s.priorities[turn]
}

// cycle is one phase of a signal program: the set of turns currently green.
type cycle struct {
	green map[intersection.TurnID]bool
}

func (c cycle) Contains(turn intersection.TurnID) bool { return c.green[turn] }

// Program is a fixed-duration traffic-signal cycle plan: phases repeat in
// order, each lasting its own duration. The control layer guarantees every
// cycle's turns are mutually non-conflicting; this package never checks
// that itself.
type Program struct {
	phases []phase
	total  time.Duration
}

type phase struct {
	green    map[intersection.TurnID]bool
	duration time.Duration
}

// NewProgram returns an empty repeating cycle program; add its phases with
// AddPhase.
func NewProgram() *Program {
	return &Program{}
}

// AddPhase appends a phase lasting duration during which exactly the named
// turns are green.
func (p *Program) AddPhase(duration time.Duration, turns ...intersection.TurnID) *Program {
	green := make(map[intersection.TurnID]bool, len(turns))
	for _, t := range turns {
		green[t] = true
	}
	p.phases = append(p.phases, phase{green: green, duration: duration})
	p.total += duration
	return p
}

// CurrentCycleAndRemainingTime satisfies intersection.ControlTrafficSignal:
// it maps a tick (seconds since run start) onto the repeating phase
// schedule and returns the active phase plus time left in it.
func (p *Program) CurrentCycleAndRemainingTime(now intersection.Tick) (intersection.Cycle, time.Duration) {
	if len(p.phases) == 0 || p.total == 0 {
		return cycle{}, 0
	}

	elapsed := time.Duration(float64(now) * float64(time.Second))
	elapsed %= p.total

	for _, ph := range p.phases {
		if elapsed < ph.duration {
			return cycle{green: ph.green}, ph.duration - elapsed
		}
		elapsed -= ph.duration
	}
	// Floating point drift at the wrap boundary; fall back to the last phase.
	last := p.phases[len(p.phases)-1]
	return cycle{green: last.green}, last.duration
}

// Map is a static, in-memory ControlMap built once at startup.
type Map struct {
	stopSigns      map[intersection.IntersectionID]*stopSign
	trafficSignals map[intersection.IntersectionID]*Program
}

// NewMap starts an empty control map.
func NewMap() *Map {
	return &Map{
		stopSigns:      make(map[intersection.IntersectionID]*stopSign),
		trafficSignals: make(map[intersection.IntersectionID]*Program),
	}
}

// SetStopSign registers priorities for a stop-sign intersection.
func (m *Map) SetStopSign(id intersection.IntersectionID, priorities map[intersection.TurnID]intersection.TurnPriority) {
	m.stopSigns[id] = &stopSign{priorities: priorities}
}

// SetTrafficSignal registers a cycle program for a signalized intersection.
func (m *Map) SetTrafficSignal(id intersection.IntersectionID, program *Program) {
	m.trafficSignals[id] = program
}

// StopSign satisfies intersection.ControlMap.
func (m *Map) StopSign(id intersection.IntersectionID) (intersection.ControlStopSign, bool) {
	s, ok := m.stopSigns[id]
	if !ok {
		return nil, false
	}
	return s, true
}

// TrafficSignal satisfies intersection.ControlMap.
func (m *Map) TrafficSignal(id intersection.IntersectionID) (intersection.ControlTrafficSignal, bool) {
	s, ok := m.trafficSignals[id]
	if !ok {
		return nil, false
	}
	return s, true
}

type phaseSnapshot struct {
	Turns    []intersection.TurnID `json:"turns"`
	Duration time.Duration         `json:"duration"`
}

// DebugSnapshot renders the control data registered for one intersection —
// its stop-sign priority table or its signal cycle program — as JSON, for
// the one-shot diagnostic dump SetDebug triggers when toggling on. Returns
// false if nothing is registered for id.
func (m *Map) DebugSnapshot(id intersection.IntersectionID) (json.RawMessage, bool) {
	if s, ok := m.stopSigns[id]; ok {
		raw, err := json.Marshal(s.priorities)
		if err != nil {
			return nil, false
		}
		return raw, true
	}

	if p, ok := m.trafficSignals[id]; ok {
		phases := make([]phaseSnapshot, 0, len(p.phases))
		for _, ph := range p.phases {
			turns := make([]intersection.TurnID, 0, len(ph.green))
			for t := range ph.green {
				turns = append(turns, t)
			}
			phases = append(phases, phaseSnapshot{Turns: turns, Duration: ph.duration})
		}
		raw, err := json.Marshal(phases)
		if err != nil {
			return nil, false
		}
		return raw, true
	}

	return nil, false
}
