package intersection

import (
	"encoding/json"
	"fmt"
)

// IntersectionID identifies one intersection in the map. Intersections are
// totally ordered lexically so IntersectionSimState.Step can advance every
// policy in a fixed, reproducible order.
type IntersectionID string

// Less orders IntersectionIDs lexically.
func (id IntersectionID) Less(other IntersectionID) bool { return id < other }

// LaneID identifies one lane, unique within its intersection's incoming or
// outgoing lane set.
type LaneID string

// TurnID identifies a directed movement through one intersection from an
// incoming lane to an outgoing lane.
type TurnID struct {
	Parent IntersectionID `json:"parent"`
	Src    LaneID         `json:"src"`
	Dst    LaneID         `json:"dst"`
}

// Less orders TurnIDs lexically by (Parent, Src, Dst).
func (t TurnID) Less(other TurnID) bool {
	if t.Parent != other.Parent {
		return t.Parent < other.Parent
	}
	if t.Src != other.Src {
		return t.Src < other.Src
	}
	return t.Dst < other.Dst
}

func (t TurnID) String() string {
	return fmt.Sprintf("%s:%s->%s", t.Parent, t.Src, t.Dst)
}

// TurnPriority classifies a turn's stop-sign priority.
type TurnPriority uint8

const (
	PriorityStop TurnPriority = iota
	PriorityYield
	PriorityPriority
)

// HigherThan reports whether p outranks other in stop-sign priority, where
// Priority > Yield > Stop.
func (p TurnPriority) HigherThan(other TurnPriority) bool { return p > other }

func (p TurnPriority) String() string {
	switch p {
	case PriorityYield:
		return "Yield"
	case PriorityPriority:
		return "Priority"
	default:
		return "Stop"
	}
}

func (p TurnPriority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *TurnPriority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "Stop":
		*p = PriorityStop
	case "Yield":
		*p = PriorityYield
	case "Priority":
		*p = PriorityPriority
	default:
		return fmt.Errorf("intersection: unknown turn priority %q", s)
	}
	return nil
}
