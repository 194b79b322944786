package intersection

// Request names one agent's claim on one turn. It is a value type:
// comparable, hashable by its fields, and ordered agent-first-then-turn so
// that admission sweeps over a stable sort of pending requests are
// reproducible across runs and across submission order.
type Request struct {
	Agent AgentID `json:"agent"`
	Turn  TurnID  `json:"turn"`
}

// NewRequest builds a Request for agent wanting to make turn.
func NewRequest(agent AgentID, turn TurnID) Request {
	return Request{Agent: agent, Turn: turn}
}

// Less orders Requests by agent first, then by turn.
func (r Request) Less(other Request) bool {
	if r.Agent != other.Agent {
		return r.Agent.Less(other.Agent)
	}
	return r.Turn.Less(other.Turn)
}
