package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types for the simulation's event bus. internal/simhost publishes
// requests.submitted, agents.entered, agents.exited,
// intersections.debug_toggled and snapshots.saved whenever a bus is
// attached, regardless of whether anything is subscribed; the other types
// are defined here but not published by this repository.
const (
	EventTypeRequestSubmitted = "requests.submitted"
	EventTypeRequestRejected  = "requests.rejected"
	EventTypeRequestAccepted  = "requests.accepted"
	EventTypeRequestGranted   = "requests.granted"

	EventTypeAgentEntered = "agents.entered"
	EventTypeAgentExited  = "agents.exited"

	EventTypeIntersectionDebugToggled = "intersections.debug_toggled"
	EventTypeIntersectionTick         = "intersections.tick"

	EventTypeLeaderElected  = "cluster.leader_elected"
	EventTypeLeaderResigned = "cluster.leader_resigned"

	EventTypeSnapshotSaved = "snapshots.saved"
)

// Event is the base event envelope published to every subject above.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Version     int             `json:"version"`
	Data        json.RawMessage `json:"data"`
	Metadata    EventMetadata   `json:"metadata"`
}

// EventMetadata carries cross-cutting request context alongside an event.
type EventMetadata struct {
	CorrelationID string `json:"correlation_id"`
	CausationID   string `json:"causation_id"`
	ReplicaID     string `json:"replica_id,omitempty"`
	Source        string `json:"source"`
}

// RequestEvent carries one agent's claim on one turn, for
// requests.submitted / requests.rejected / requests.accepted /
// requests.granted.
type RequestEvent struct {
	Agent  string `json:"agent"`
	Turn   string `json:"turn"`
	Tick   int64  `json:"tick"`
	Reason string `json:"reason,omitempty"`
}

// AgentMovementEvent carries an agent's entry into or exit from a turn's
// conflict zone, for agents.entered / agents.exited.
type AgentMovementEvent struct {
	Agent string  `json:"agent"`
	Turn  string  `json:"turn"`
	Tick  int64   `json:"tick"`
	Speed float64 `json:"speed,omitempty"`
}

// IntersectionDebugEvent carries a per-intersection debug-mode toggle.
type IntersectionDebugEvent struct {
	Intersection string `json:"intersection"`
	Enabled      bool   `json:"enabled"`
}

// IntersectionTickEvent carries one tick's admission summary for one
// intersection, the same counts internal/telemetry records to InfluxDB.
type IntersectionTickEvent struct {
	Intersection     string `json:"intersection"`
	Tick             int64  `json:"tick"`
	Admitted         int    `json:"admitted"`
	Waiting          int    `json:"waiting"`
	Approaching      int    `json:"approaching"`
	StaleGuardActive bool   `json:"stale_guard_active"`
}

// LeaderEvent carries a cluster leadership transition.
type LeaderEvent struct {
	ReplicaID string `json:"replica_id"`
}

// SnapshotEvent carries a tick-snapshot persistence confirmation.
type SnapshotEvent struct {
	RunID string `json:"run_id"`
	Tick  int64  `json:"tick"`
}

// NewEvent wraps data in an Event envelope, JSON-encoding it into Data.
func NewEvent(eventType string, aggregateID string, data interface{}, metadata EventMetadata) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		Timestamp:   time.Now(),
		Version:     1,
		Data:        dataBytes,
		Metadata:    metadata,
	}, nil
}

// ParseEventData parses event data into the specified type.
func ParseEventData[T any](event *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// EventStore is an event-sourcing append/load interface. No concrete
// implementation ships today; snapshotting a tick's full state
// (internal/snapshot) covers replay without per-event sourcing, but the
// interface is kept for a future finer-grained audit log.
type EventStore interface {
	Append(ctx interface{}, aggregateID string, events []Event, expectedVersion int) error
	Load(ctx interface{}, aggregateID string) ([]Event, error)
	LoadFrom(ctx interface{}, aggregateID string, fromVersion int) ([]Event, error)
}

// EventBus is an Event-typed publish/subscribe interface. Client does not
// implement it: its Publish and Subscribe take a NATS subject and work on
// raw payloads and *nats.Msg values.
type EventBus interface {
	Publish(ctx interface{}, event Event) error
	Subscribe(eventType string, handler func(Event) error) error
}

// Snapshot represents a point-in-time aggregate snapshot for EventStore
// consumers.
type Snapshot struct {
	AggregateID string          `json:"aggregate_id"`
	Version     int             `json:"version"`
	State       json.RawMessage `json:"state"`
	Timestamp   time.Time       `json:"timestamp"`
}
