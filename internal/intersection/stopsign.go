package intersection

import "github.com/citysim/intersection-core/pkg/sortedcoll"

// StopSignPolicy implements the three-phase stop-sign admission lifecycle:
// approaching -> waiting -> accepted.
type StopSignPolicy struct {
	id          IntersectionID
	approaching *sortedcoll.Set[Request]
	waiting     *sortedcoll.Map[Request, Tick]
	accepted    *sortedcoll.Map[AgentID, TurnID]
	debugOn     bool
}

func newStopSignPolicy(id IntersectionID) *StopSignPolicy {
	return &StopSignPolicy{
		id:          id,
		approaching: sortedcoll.NewSet[Request](),
		waiting:     sortedcoll.NewMap[Request, Tick](),
		accepted:    sortedcoll.NewMap[AgentID, TurnID](),
	}
}

// insertApproaching is the idempotent insertion target for submitted
// requests: re-submission of a pending request is a no-op.
func (p *StopSignPolicy) insertApproaching(req Request) {
	p.approaching.Insert(req)
}

// step promotes ready approaching requests to waiting, then admits ready
// waiting requests in sorted Request order, mutating accepted as it goes so
// later candidates in the same step see earlier admissions.
func (p *StopSignPolicy) step(tick Tick, cmap Map, control ControlStopSign, info AgentInfo) []Event {
	p.promote(tick, control, info)
	return p.admit(tick, cmap, control)
}

func (p *StopSignPolicy) promote(tick Tick, control ControlStopSign, info AgentInfo) {
	var ready []Request
	p.approaching.Range(func(req Request) bool {
		if !info.IsLeader(req.Agent) {
			return true
		}
		priority := control.GetPriority(req.Turn)
		if priority != PriorityStop || info.SpeedOf(req.Agent) <= EpsilonSpeed {
			ready = append(ready, req)
		}
		return true
	})

	for _, req := range ready {
		p.approaching.Remove(req)
		p.waiting.Set(req, tick)
	}
}

func (p *StopSignPolicy) admit(tick Tick, cmap Map, control ControlStopSign) []Event {
	var events []Event

	candidates := append([]Request(nil), p.waiting.Keys()...)
	for _, req := range candidates {
		startedAt, stillWaiting := p.waiting.Get(req)
		if !stillWaiting {
			continue // admitted earlier in this same loop via a tie
		}

		if !p.canAdmit(req, tick, startedAt, cmap, control, candidates) {
			continue
		}

		p.waiting.Delete(req)
		p.accepted.Set(req.Agent, req.Turn)
		events = append(events, newAcceptEvent(req, tick))
	}

	return events
}

func (p *StopSignPolicy) canAdmit(req Request, tick, startedAt Tick, cmap Map, control ControlStopSign, candidates []Request) bool {
	turn, ok := cmap.GetTurn(req.Turn)
	if !ok {
		return false
	}

	// Rule 1: must not conflict with anything already accepted.
	conflictsAccepted := false
	p.accepted.Range(func(_ AgentID, other TurnID) bool {
		if turn.ConflictsWith(other) {
			conflictsAccepted = true
			return false
		}
		return true
	})
	if conflictsAccepted {
		return false
	}

	myPriority := control.GetPriority(req.Turn)

	// Rule 2: no other still-waiting request conflicts with req.Turn and
	// outranks it.
	for _, other := range candidates {
		if other == req {
			continue
		}
		_, stillWaiting := p.waiting.Get(other)
		if !stillWaiting {
			continue
		}
		if !turn.ConflictsWith(other.Turn) {
			continue
		}
		otherPriority := control.GetPriority(other.Turn)
		if otherPriority.HigherThan(myPriority) {
			return false
		}
	}

	// Rule 3: Stop-priority requests must have dwelled long enough.
	if myPriority == PriorityStop && tick-startedAt < WaitAtStopSign {
		return false
	}

	return true
}

func (p *StopSignPolicy) acceptedTurn(agent AgentID) (TurnID, bool) {
	return p.accepted.Get(agent)
}

func (p *StopSignPolicy) removeAccepted(agent AgentID) {
	p.accepted.Delete(agent)
}

func (p *StopSignPolicy) forgetPending(req Request) {
	p.approaching.Remove(req)
	p.waiting.Delete(req)
}
