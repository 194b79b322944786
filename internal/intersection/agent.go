package intersection

import (
	"encoding/json"
	"fmt"
)

// AgentKind discriminates the two kinds of traffic participant an AgentID
// can identify.
type AgentKind uint8

const (
	AgentCar AgentKind = iota
	AgentPedestrian
)

func (k AgentKind) String() string {
	if k == AgentPedestrian {
		return "Pedestrian"
	}
	return "Car"
}

// AgentID is a tagged Car(u64) | Pedestrian(u64), totally ordered by
// (kind, numeric id) so that two agents of different kinds never compare
// equal even if their numeric ids coincide.
type AgentID struct {
	Kind AgentKind
	ID   uint64
}

// Car constructs an AgentID identifying a car.
func Car(id uint64) AgentID { return AgentID{Kind: AgentCar, ID: id} }

// Pedestrian constructs an AgentID identifying a pedestrian.
func Pedestrian(id uint64) AgentID { return AgentID{Kind: AgentPedestrian, ID: id} }

// Less gives AgentID a total order: kind first, then numeric id.
func (a AgentID) Less(other AgentID) bool {
	if a.Kind != other.Kind {
		return a.Kind < other.Kind
	}
	return a.ID < other.ID
}

func (a AgentID) String() string {
	return fmt.Sprintf("%s(%d)", a.Kind, a.ID)
}

type agentIDJSON struct {
	Kind string `json:"kind"`
	ID   uint64 `json:"id"`
}

// MarshalJSON renders the tagged variant as {"kind": "Car"|"Pedestrian", "id": n}.
func (a AgentID) MarshalJSON() ([]byte, error) {
	return json.Marshal(agentIDJSON{Kind: a.Kind.String(), ID: a.ID})
}

// UnmarshalJSON parses the {"kind", "id"} form back into an AgentID.
func (a *AgentID) UnmarshalJSON(data []byte) error {
	var raw agentIDJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case "Car":
		a.Kind = AgentCar
	case "Pedestrian":
		a.Kind = AgentPedestrian
	default:
		return fmt.Errorf("intersection: unknown agent kind %q", raw.Kind)
	}
	a.ID = raw.ID
	return nil
}
