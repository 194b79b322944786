package intersection

import (
	"encoding/json"
	"fmt"

	"github.com/citysim/intersection-core/pkg/sortedcoll"
)

// IntersectionSimState is the top-level owner of one policy per
// intersection. It routes submit/query/commit calls and is the unit of
// serialization for snapshot/replay.
type IntersectionSimState struct {
	policies *sortedcoll.Map[IntersectionID, *Policy]
	debugID  *IntersectionID
}

// New builds one policy per intersection in map order, choosing the
// StopSign or Signal variant by each intersection's HasTrafficSignal flag.
func New(m Map) *IntersectionSimState {
	policies := sortedcoll.NewMap[IntersectionID, *Policy]()
	for _, i := range m.AllIntersections() {
		p := newPolicy(i)
		policies.Set(i.ID, &p)
	}
	return &IntersectionSimState{policies: policies}
}

func (s *IntersectionSimState) policyFor(id IntersectionID) (*Policy, bool) {
	return s.policies.Get(id)
}

// SubmitRequest inserts req into the owning intersection's pending set.
// Idempotent and order-independent: re-submitting an identical request, or
// submitting two distinct requests in either order within the same tick,
// leaves identical post-state. It never grants a request; only Step does
// that. Returns InvariantViolated if the agent already holds a different
// accepted turn.
func (s *IntersectionSimState) SubmitRequest(req Request) error {
	p, ok := s.policyFor(req.Turn.Parent)
	if !ok {
		return newInvariantViolated(req, "no policy registered for intersection %s", req.Turn.Parent)
	}
	return p.submit(req)
}

// RequestGranted reports whether req is currently accepted. Pure and
// side-effect-free.
func (s *IntersectionSimState) RequestGranted(req Request) bool {
	p, ok := s.policyFor(req.Turn.Parent)
	if !ok {
		return false
	}
	turn, accepted := p.acceptedTurn(req.Agent)
	return accepted && turn == req.Turn
}

// Step advances every intersection's policy exactly once, in ascending
// intersection-id order, and appends every IntersectionAcceptsRequest event
// produced to events.
func (s *IntersectionSimState) Step(events *[]Event, tick Tick, cmap Map, control ControlMap, info AgentInfo) error {
	var firstErr error
	for _, id := range s.policies.Keys() {
		p, _ := s.policies.Get(id)
		produced, err := p.step(tick, cmap, control, info)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		*events = append(*events, produced...)
	}
	return firstErr
}

// OnEnter asserts the agent was previously granted this request; it is the
// driver's signal that the agent has physically crossed the start line.
func (s *IntersectionSimState) OnEnter(req Request) error {
	if !s.RequestGranted(req) {
		return newInvariantViolated(req, "on_enter called for a request that was never accepted")
	}
	return nil
}

// OnExit removes req's accepted entry. Callers must only invoke this for a
// request that was previously accepted; calling it otherwise is itself an
// invariant violation the caller is responsible for never triggering.
func (s *IntersectionSimState) OnExit(req Request) {
	p, ok := s.policyFor(req.Turn.Parent)
	if !ok {
		panic(fmt.Sprintf("intersection: on_exit for unknown intersection %s", req.Turn.Parent))
	}
	if !s.RequestGranted(req) {
		panic(fmt.Sprintf("intersection: on_exit for a request that was never accepted: %s", req))
	}
	p.onExit(req)
}

// SetDebug toggles the diagnostic flag for one intersection. Calling it
// again for the same id turns diagnostics back off; calling it for a
// different id moves the single active debug target.
func (s *IntersectionSimState) SetDebug(id IntersectionID) {
	if s.debugID != nil {
		if prev, ok := s.policyFor(*s.debugID); ok {
			prev.setDebug(false)
		}
	}

	if s.debugID != nil && *s.debugID == id {
		s.debugID = nil
		return
	}

	if p, ok := s.policyFor(id); ok {
		p.setDebug(true)
		s.debugID = &id
	} else {
		s.debugID = nil
	}
}

// Debugging returns the intersection currently selected for diagnostics,
// if any.
func (s *IntersectionSimState) Debugging() (IntersectionID, bool) {
	if s.debugID == nil {
		return "", false
	}
	return *s.debugID, true
}

// PolicyState renders one intersection's policy as canonical JSON, for
// the one-shot diagnostic dump SetDebug triggers when toggling on.
func (s *IntersectionSimState) PolicyState(id IntersectionID) (json.RawMessage, bool) {
	p, ok := s.policyFor(id)
	if !ok {
		return nil, false
	}
	raw, err := json.Marshal(*p)
	if err != nil {
		return nil, false
	}
	return raw, true
}

type stateJSON struct {
	Intersections []json.RawMessage `json:"intersections"`
	Debug         *IntersectionID   `json:"debug"`
}

// MarshalJSON renders the canonical, order-stable persisted layout:
// intersections in ascending id order, each as
// {"StopSignPolicy": {...}} or {"TrafficSignalPolicy": {...}}.
func (s *IntersectionSimState) MarshalJSON() ([]byte, error) {
	out := stateJSON{Debug: s.debugID}
	for _, p := range s.policies.Values() {
		raw, err := json.Marshal(*p)
		if err != nil {
			return nil, err
		}
		out.Intersections = append(out.Intersections, raw)
	}
	if out.Intersections == nil {
		out.Intersections = []json.RawMessage{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reconstructs a state from the canonical persisted layout.
// Used by internal/snapshot to replay a run from storage.
func (s *IntersectionSimState) UnmarshalJSON(data []byte) error {
	var wire stateJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	policies := sortedcoll.NewMap[IntersectionID, *Policy]()
	for _, raw := range wire.Intersections {
		var p Policy
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		policies.Set(p.ID(), &p)
	}

	s.policies = policies
	s.debugID = wire.Debug
	if s.debugID != nil {
		if p, ok := s.policyFor(*s.debugID); ok {
			p.setDebug(true)
		}
	}
	return nil
}
