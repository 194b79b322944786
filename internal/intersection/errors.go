package intersection

import "fmt"

// InvariantViolated signals a logic error upstream callers must not
// recover from: an agent changed its requested turn mid-flight, or tried
// to enter an intersection without ever being granted. It is the only
// error the simulation operations return (JSON decoding returns its own
// errors); every other non-ready situation is silent, normal flow.
type InvariantViolated struct {
	Agent   AgentID
	Turn    TurnID
	Message string
}

func (e *InvariantViolated) Error() string {
	return fmt.Sprintf("invariant violated for %s on turn %s: %s", e.Agent, e.Turn, e.Message)
}

func newInvariantViolated(req Request, format string, args ...interface{}) *InvariantViolated {
	return &InvariantViolated{
		Agent:   req.Agent,
		Turn:    req.Turn,
		Message: fmt.Sprintf(format, args...),
	}
}
