package intersection

import "github.com/citysim/intersection-core/pkg/sortedcoll"

// TrafficSignalPolicy admits conflict-free requests whose turns are in
// the current cycle's active set.
type TrafficSignalPolicy struct {
	id       IntersectionID
	requests *sortedcoll.Set[Request]
	accepted *sortedcoll.Map[AgentID, TurnID]
	debugOn  bool
}

func newTrafficSignalPolicy(id IntersectionID) *TrafficSignalPolicy {
	return &TrafficSignalPolicy{
		id:       id,
		requests: sortedcoll.NewSet[Request](),
		accepted: sortedcoll.NewMap[AgentID, TurnID](),
	}
}

func (p *TrafficSignalPolicy) insertRequest(req Request) {
	p.requests.Insert(req)
}

// step applies the cycle-change safety guard, then admits eligible
// requests in sorted order.
func (p *TrafficSignalPolicy) step(tick Tick, control ControlTrafficSignal, info AgentInfo) []Event {
	cycle, _ := control.CurrentCycleAndRemainingTime(tick)

	stale := false
	p.accepted.Range(func(_ AgentID, turn TurnID) bool {
		if !cycle.Contains(turn) {
			stale = true
			return false
		}
		return true
	})
	if stale {
		// An accepted agent is still crossing on a turn the cycle no
		// longer serves. Refuse all new admissions this tick; existing
		// accepted entries are left untouched to finish their turn.
		return nil
	}

	var events []Event
	var admitted []Request
	p.requests.Range(func(req Request) bool {
		if !cycle.Contains(req.Turn) {
			return true
		}
		if !info.IsLeader(req.Agent) {
			return true
		}
		admitted = append(admitted, req)
		events = append(events, newAcceptEvent(req, tick))
		return true
	})

	for _, req := range admitted {
		p.requests.Remove(req)
		p.accepted.Set(req.Agent, req.Turn)
	}

	return events
}

func (p *TrafficSignalPolicy) acceptedTurn(agent AgentID) (TurnID, bool) {
	return p.accepted.Get(agent)
}

func (p *TrafficSignalPolicy) removeAccepted(agent AgentID) {
	p.accepted.Delete(agent)
}

func (p *TrafficSignalPolicy) forgetPending(req Request) {
	p.requests.Remove(req)
}
