package intersection

import (
	"encoding/json"
	"fmt"
)

// PolicyKind discriminates the two IntersectionPolicy variants. Design
// note 9.1: modeled as a tagged variant with a shared accessor pair,
// exhaustively switched on, rather than an inheritance hierarchy.
type PolicyKind uint8

const (
	PolicyKindStopSign PolicyKind = iota
	PolicyKindSignal
)

// Policy is one intersection's coordination policy: exactly one of
// StopSign or Signal is non-nil, selected by Kind.
type Policy struct {
	Kind     PolicyKind
	StopSign *StopSignPolicy
	Signal   *TrafficSignalPolicy
}

func newPolicy(i Intersection) Policy {
	if i.HasTrafficSignal {
		return Policy{Kind: PolicyKindSignal, Signal: newTrafficSignalPolicy(i.ID)}
	}
	return Policy{Kind: PolicyKindStopSign, StopSign: newStopSignPolicy(i.ID)}
}

// ID returns the intersection this policy governs.
func (p *Policy) ID() IntersectionID {
	switch p.Kind {
	case PolicyKindStopSign:
		return p.StopSign.id
	case PolicyKindSignal:
		return p.Signal.id
	default:
		panic(fmt.Sprintf("intersection: unhandled policy kind %d", p.Kind))
	}
}

// acceptedTurn returns the turn currently granted to agent at this
// intersection, if any.
func (p *Policy) acceptedTurn(agent AgentID) (TurnID, bool) {
	switch p.Kind {
	case PolicyKindStopSign:
		return p.StopSign.acceptedTurn(agent)
	case PolicyKindSignal:
		return p.Signal.acceptedTurn(agent)
	default:
		panic(fmt.Sprintf("intersection: unhandled policy kind %d", p.Kind))
	}
}

// submit applies the shared request-submission logic: idempotent
// re-submission of an already-accepted request is Ok, submission of a
// differing turn for an already-accepted agent is InvariantViolated, and
// anything else is inserted into the pending set without granting it.
func (p *Policy) submit(req Request) error {
	if accepted, ok := p.acceptedTurn(req.Agent); ok {
		if accepted == req.Turn {
			return nil
		}
		return newInvariantViolated(req, "agent already accepted for turn %s, cannot also request %s", accepted, req.Turn)
	}

	switch p.Kind {
	case PolicyKindStopSign:
		p.StopSign.insertApproaching(req)
	case PolicyKindSignal:
		p.Signal.insertRequest(req)
	default:
		panic(fmt.Sprintf("intersection: unhandled policy kind %d", p.Kind))
	}
	return nil
}

// step advances this policy exactly once, returning any acceptance events.
func (p *Policy) step(tick Tick, cmap Map, control ControlMap, info AgentInfo) ([]Event, error) {
	switch p.Kind {
	case PolicyKindStopSign:
		stopSign, ok := control.StopSign(p.StopSign.id)
		if !ok {
			return nil, nil
		}
		return p.StopSign.step(tick, cmap, stopSign, info), nil
	case PolicyKindSignal:
		signal, ok := control.TrafficSignal(p.Signal.id)
		if !ok {
			return nil, nil
		}
		return p.Signal.step(tick, signal, info), nil
	default:
		panic(fmt.Sprintf("intersection: unhandled policy kind %d", p.Kind))
	}
}

// onExit removes agent's accepted entry and any lingering pending state.
func (p *Policy) onExit(req Request) {
	switch p.Kind {
	case PolicyKindStopSign:
		p.StopSign.removeAccepted(req.Agent)
		p.StopSign.forgetPending(req)
	case PolicyKindSignal:
		p.Signal.removeAccepted(req.Agent)
		p.Signal.forgetPending(req)
	default:
		panic(fmt.Sprintf("intersection: unhandled policy kind %d", p.Kind))
	}
}

// setDebug toggles the per-intersection diagnostic flag.
func (p *Policy) setDebug(on bool) {
	switch p.Kind {
	case PolicyKindStopSign:
		p.StopSign.debugOn = on
	case PolicyKindSignal:
		p.Signal.debugOn = on
	}
}

func (p *Policy) debug() bool {
	switch p.Kind {
	case PolicyKindStopSign:
		return p.StopSign.debugOn
	case PolicyKindSignal:
		return p.Signal.debugOn
	}
	return false
}

type policyJSON struct {
	StopSign *stopSignJSON `json:"StopSignPolicy,omitempty"`
	Signal   *signalJSON   `json:"TrafficSignalPolicy,omitempty"`
}

type stopSignJSON struct {
	ID          IntersectionID     `json:"id"`
	Approaching []Request          `json:"approaching"`
	Waiting     *sortedMapJSONShim `json:"waiting"`
	Accepted    *sortedMapJSONShim `json:"accepted"`
	Debug       bool               `json:"debug"`
}

type signalJSON struct {
	ID       IntersectionID     `json:"id"`
	Requests []Request          `json:"requests"`
	Accepted *sortedMapJSONShim `json:"accepted"`
	Debug    bool               `json:"debug"`
}

// sortedMapJSONShim lets policyJSON embed an already-ordered []key,value]
// array produced by a sortedcoll.Map without re-exporting its concrete
// generic type through the JSON struct tags.
type sortedMapJSONShim struct {
	raw json.RawMessage
}

func (s sortedMapJSONShim) MarshalJSON() ([]byte, error) { return s.raw, nil }

func shimOf(m json.Marshaler) (*sortedMapJSONShim, error) {
	raw, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return &sortedMapJSONShim{raw: raw}, nil
}

// MarshalJSON renders the policy as {"StopSignPolicy": {...}} or
// {"TrafficSignalPolicy": {...}}, the canonical tagged-variant wire shape.
func (p Policy) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PolicyKindStopSign:
		waiting, err := shimOf(p.StopSign.waiting)
		if err != nil {
			return nil, err
		}
		accepted, err := shimOf(p.StopSign.accepted)
		if err != nil {
			return nil, err
		}
		approaching := append([]Request(nil), p.StopSign.approaching.Items()...)
		if approaching == nil {
			approaching = []Request{}
		}
		return json.Marshal(policyJSON{StopSign: &stopSignJSON{
			ID:          p.StopSign.id,
			Approaching: approaching,
			Waiting:     waiting,
			Accepted:    accepted,
			Debug:       p.StopSign.debugOn,
		}})
	case PolicyKindSignal:
		accepted, err := shimOf(p.Signal.accepted)
		if err != nil {
			return nil, err
		}
		requests := append([]Request(nil), p.Signal.requests.Items()...)
		if requests == nil {
			requests = []Request{}
		}
		return json.Marshal(policyJSON{Signal: &signalJSON{
			ID:       p.Signal.id,
			Requests: requests,
			Accepted: accepted,
			Debug:    p.Signal.debugOn,
		}})
	default:
		panic(fmt.Sprintf("intersection: unhandled policy kind %d", p.Kind))
	}
}

type wireStopSignPolicy struct {
	ID          IntersectionID       `json:"id"`
	Approaching []Request            `json:"approaching"`
	Waiting     [][2]json.RawMessage `json:"waiting"`
	Accepted    [][2]json.RawMessage `json:"accepted"`
	Debug       bool                 `json:"debug"`
}

type wireSignalPolicy struct {
	ID       IntersectionID       `json:"id"`
	Requests []Request            `json:"requests"`
	Accepted [][2]json.RawMessage `json:"accepted"`
	Debug    bool                 `json:"debug"`
}

type wirePolicy struct {
	StopSign *wireStopSignPolicy `json:"StopSignPolicy,omitempty"`
	Signal   *wireSignalPolicy   `json:"TrafficSignalPolicy,omitempty"`
}

// UnmarshalJSON reconstructs a Policy from the canonical persisted layout,
// used by snapshot/replay to rebuild a state from storage.
func (p *Policy) UnmarshalJSON(data []byte) error {
	var wire wirePolicy
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	switch {
	case wire.StopSign != nil:
		sp := newStopSignPolicy(wire.StopSign.ID)
		sp.debugOn = wire.StopSign.Debug
		for _, req := range wire.StopSign.Approaching {
			sp.approaching.Insert(req)
		}
		for _, pair := range wire.StopSign.Waiting {
			var req Request
			var tick Tick
			if err := json.Unmarshal(pair[0], &req); err != nil {
				return err
			}
			if err := json.Unmarshal(pair[1], &tick); err != nil {
				return err
			}
			sp.waiting.Set(req, tick)
		}
		for _, pair := range wire.StopSign.Accepted {
			var agent AgentID
			var turn TurnID
			if err := json.Unmarshal(pair[0], &agent); err != nil {
				return err
			}
			if err := json.Unmarshal(pair[1], &turn); err != nil {
				return err
			}
			sp.accepted.Set(agent, turn)
		}
		*p = Policy{Kind: PolicyKindStopSign, StopSign: sp}
		return nil

	case wire.Signal != nil:
		sig := newTrafficSignalPolicy(wire.Signal.ID)
		sig.debugOn = wire.Signal.Debug
		for _, req := range wire.Signal.Requests {
			sig.requests.Insert(req)
		}
		for _, pair := range wire.Signal.Accepted {
			var agent AgentID
			var turn TurnID
			if err := json.Unmarshal(pair[0], &agent); err != nil {
				return err
			}
			if err := json.Unmarshal(pair[1], &turn); err != nil {
				return err
			}
			sig.accepted.Set(agent, turn)
		}
		*p = Policy{Kind: PolicyKindSignal, Signal: sig}
		return nil

	default:
		return fmt.Errorf("intersection: policy JSON has neither StopSignPolicy nor TrafficSignalPolicy")
	}
}
