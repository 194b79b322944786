// Package simhost wires the intersection core to the outside world: a
// fixed-rate tick loop, the kinematics/snapshot/telemetry/control
// collaborators, an optional etcd leadership campaign for multi-replica
// deployments, a NATS event bus, and the HTTP/WS gateway.
package simhost

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/citysim/intersection-core/internal/cluster"
	"github.com/citysim/intersection-core/internal/gateway"
	"github.com/citysim/intersection-core/internal/intersection"
	"github.com/citysim/intersection-core/internal/kinematics"
	"github.com/citysim/intersection-core/internal/snapshot"
	"github.com/citysim/intersection-core/internal/telemetry"
	"github.com/citysim/intersection-core/pkg/messaging"
)

// Config configures one Host. Every collaborator beyond the in-process
// core is optional: a zero-value field disables that collaborator so the
// host can run standalone (tests, single-process demos) or fully wired
// (etcd-elected replica fleet behind a shared control plane).
type Config struct {
	RunID       string
	ReplicaID   string
	TickPeriod  time.Duration
	ListenAddr  string
	GatewayAuth gateway.Config
	RedisAddr   string
}

// Host owns one running simulation: the core state, its tick loop, and
// every collaborator wired to it.
type Host struct {
	cfg Config
	log *logrus.Logger

	sim     *intersection.IntersectionSimState
	cityMap intersection.Map
	control intersection.ControlMap

	kinematics *kinematics.Tracker
	snapshots  *snapshot.Store
	telemetry  *telemetry.Recorder
	election   *cluster.Election
	bus        *messaging.Client
	gw         *gateway.Gateway

	tickMu sync.Mutex
	tick   intersection.Tick
}

// New builds a Host around an already-constructed map and control plane.
// Optional collaborators (Postgres, etcd, InfluxDB, NATS) are attached
// with the With* methods before calling Run; Redis is configured through
// Config.RedisAddr.
func New(cfg Config, cityMap intersection.Map, ctrl intersection.ControlMap) *Host {
	if cfg.TickPeriod == 0 {
		cfg.TickPeriod = 100 * time.Millisecond
	}
	log := logrus.New()

	h := &Host{
		cfg:        cfg,
		log:        log,
		sim:        intersection.New(cityMap),
		cityMap:    cityMap,
		control:    ctrl,
		kinematics: kinematics.NewTracker(cfg.RedisAddr),
	}
	h.gw = gateway.New(cfg.GatewayAuth, h)
	return h
}

// WithSnapshots attaches Postgres-backed tick persistence.
func (h *Host) WithSnapshots(s *snapshot.Store) *Host { h.snapshots = s; return h }

// WithTelemetry attaches InfluxDB-backed per-tick metrics.
func (h *Host) WithTelemetry(r *telemetry.Recorder) *Host { h.telemetry = r; return h }

// WithElection attaches etcd-backed leader election; only the campaign
// winner steps the clock forward.
func (h *Host) WithElection(e *cluster.Election) *Host { h.election = e; return h }

// WithBus attaches the NATS event bus.
func (h *Host) WithBus(b *messaging.Client) *Host { h.bus = b; return h }

// Gateway exposes the HTTP/WS surface for cmd/simhost to serve, or for
// tests to drive directly.
func (h *Host) Gateway() *gateway.Gateway { return h.gw }

// Kinematics exposes the Redis-backed speed/leadership cache so tests and
// driving-logic workers outside this package can seed agent state before
// a manual Step.
func (h *Host) Kinematics() *kinematics.Tracker { return h.kinematics }

// Step advances the simulation by one tick of duration dt, outside the
// fixed-rate ticker Run drives internally. Exposed for tests and for
// tooling that wants to step deterministically rather than wall-clock.
func (h *Host) Step(ctx context.Context, dt intersection.Tick) error {
	return h.step(ctx, dt)
}

// Resume replaces the in-memory state with a previously persisted
// snapshot, e.g. on restart. The tick clock resumes from the snapshot's
// tick.
func (h *Host) Resume(state *intersection.IntersectionSimState, tick intersection.Tick) {
	h.tickMu.Lock()
	defer h.tickMu.Unlock()
	h.sim = state
	h.tick = tick
}

// SubmitRequest, RequestGranted, OnEnter, OnExit, SetDebug satisfy
// gateway.Sim by delegating straight to the core state and publishing a
// best-effort event to the bus when one is attached.

func (h *Host) SubmitRequest(req intersection.Request) error {
	if err := h.sim.SubmitRequest(req); err != nil {
		return err
	}
	h.publish(messaging.EventTypeRequestSubmitted, string(req.Turn.Parent), messaging.RequestEvent{
		Agent: req.Agent.String(),
		Turn:  req.Turn.String(),
		Tick:  int64(h.currentTick()),
	})
	return nil
}

func (h *Host) RequestGranted(req intersection.Request) bool {
	return h.sim.RequestGranted(req)
}

func (h *Host) OnEnter(req intersection.Request) error {
	if err := h.sim.OnEnter(req); err != nil {
		return err
	}
	h.publish(messaging.EventTypeAgentEntered, string(req.Turn.Parent), messaging.AgentMovementEvent{
		Agent: req.Agent.String(),
		Turn:  req.Turn.String(),
		Tick:  int64(h.currentTick()),
	})
	return nil
}

func (h *Host) OnExit(req intersection.Request) {
	h.sim.OnExit(req)
	h.publish(messaging.EventTypeAgentExited, string(req.Turn.Parent), messaging.AgentMovementEvent{
		Agent: req.Agent.String(),
		Turn:  req.Turn.String(),
		Tick:  int64(h.currentTick()),
	})
}

// controlDebugger is satisfied by control-plane collaborators that can
// render their registered data for one intersection; DebugSnapshot dumps
// it alongside the policy state when debug mode toggles on.
type controlDebugger interface {
	DebugSnapshot(intersection.IntersectionID) (json.RawMessage, bool)
}

func (h *Host) SetDebug(id intersection.IntersectionID) {
	h.sim.SetDebug(id)
	_, on := h.sim.Debugging()
	h.publish(messaging.EventTypeIntersectionDebugToggled, string(id), messaging.IntersectionDebugEvent{
		Intersection: string(id),
		Enabled:      on,
	})
	if on {
		fields := h.log.WithField("intersection_id", id)
		if state, ok := h.sim.PolicyState(id); ok {
			fields = fields.WithField("policy_state", string(state))
		}
		if cd, ok := h.control.(controlDebugger); ok {
			if snapshot, ok := cd.DebugSnapshot(id); ok {
				fields = fields.WithField("control_state", string(snapshot))
			}
		}
		fields.Info("debug enabled")
	} else {
		h.log.WithField("intersection_id", id).Info("debug disabled")
	}
}

func (h *Host) currentTick() intersection.Tick {
	h.tickMu.Lock()
	defer h.tickMu.Unlock()
	return h.tick
}

func (h *Host) publish(eventType, aggregateID string, data interface{}) {
	if h.bus == nil {
		return
	}
	evt, err := messaging.NewEvent(eventType, aggregateID, data, messaging.EventMetadata{
		ReplicaID: h.cfg.ReplicaID,
		Source:    "simhost",
	})
	if err != nil {
		h.log.WithError(err).Warn("failed to build event")
		return
	}
	if err := h.bus.Publish(context.Background(), eventType, evt); err != nil { // subject reuses the event type as its NATS subject
		h.log.WithError(err).Warn("failed to publish event")
	}
}

// Run starts the gateway, the NATS request subscriber (if a bus is
// attached), the tick ticker, and the etcd campaign (if elections are
// configured), all under one errgroup so a fatal error in any subsystem
// tears the rest down. Run blocks until ctx is cancelled or a subsystem
// fails.
func (h *Host) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if h.election != nil {
		g.Go(func() error {
			h.log.WithField("replica_id", h.cfg.ReplicaID).Info("campaigning for tick-stepping leadership")
			if err := h.election.Campaign(ctx, h.cfg.ReplicaID); err != nil {
				return fmt.Errorf("simhost: campaign: %w", err)
			}
			h.log.Info("won tick-stepping leadership")
			<-ctx.Done()
			resignCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return h.election.Resign(resignCtx)
		})
	}

	if h.bus != nil {
		if err := h.bus.Subscribe("requests.submit", h.handleSubmitMessage); err != nil {
			return fmt.Errorf("simhost: subscribe requests.submit: %w", err)
		}
	}

	g.Go(func() error {
		h.log.WithField("addr", h.cfg.ListenAddr).Info("gateway starting")
		return h.gw.Run(h.cfg.ListenAddr)
	})

	g.Go(func() error {
		return h.tickLoop(ctx)
	})

	return g.Wait()
}

type wireSubmitRequest struct {
	Agent  string `json:"agent"`
	Parent string `json:"parent"`
	Src    string `json:"src"`
	Dst    string `json:"dst"`
}

// handleSubmitMessage lets upstream driving-logic workers submit requests
// over NATS instead of (or in addition to) the HTTP gateway.
func (h *Host) handleSubmitMessage(msg *nats.Msg) {
	var payload wireSubmitRequest
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		h.log.WithError(err).Warn("malformed requests.submit message")
		return
	}

	agent, err := parseWireAgent(payload.Agent)
	if err != nil {
		h.log.WithError(err).Warn("malformed requests.submit agent")
		return
	}

	req := intersection.NewRequest(agent, intersection.TurnID{
		Parent: intersection.IntersectionID(payload.Parent),
		Src:    intersection.LaneID(payload.Src),
		Dst:    intersection.LaneID(payload.Dst),
	})
	if err := h.SubmitRequest(req); err != nil {
		h.log.WithError(err).WithField("agent", payload.Agent).Warn("rejected requests.submit message")
	}
}

// tickLoop advances the simulation clock at a fixed rate. When an
// election is attached, only the current leader steps; standbys keep
// polling leadership so they take over within one tick period of a
// failover.
func (h *Host) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.TickPeriod)
	defer ticker.Stop()

	dt := intersection.Tick(h.cfg.TickPeriod.Seconds())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if h.election != nil {
				leader, err := h.election.IsLeader(ctx)
				if err != nil {
					h.log.WithError(err).Warn("leadership check failed")
					continue
				}
				if !leader {
					continue
				}
			}
			if err := h.step(ctx, dt); err != nil {
				h.log.WithError(err).Error("tick step failed")
			}
		}
	}
}

func (h *Host) step(ctx context.Context, dt intersection.Tick) error {
	h.tickMu.Lock()
	h.tick += dt
	tick := h.tick
	h.tickMu.Unlock()

	info := h.kinematics.Snapshot()

	var events []intersection.Event
	stepErr := h.sim.Step(&events, tick, h.cityMap, h.control, info)

	if h.gw != nil {
		h.gw.Broadcast(events)
	}

	admitted := make(map[intersection.IntersectionID]int)
	for _, e := range events {
		admitted[e.Request.Turn.Parent]++
	}
	if h.telemetry != nil {
		var ticks []telemetry.IntersectionTick
		for id, count := range admitted {
			ticks = append(ticks, telemetry.IntersectionTick{Intersection: id, Admitted: count})
		}
		if err := h.telemetry.RecordAll(ctx, tick, ticks); err != nil {
			h.log.WithError(err).Warn("failed to record telemetry")
		}
	}

	if h.snapshots != nil {
		if err := h.snapshots.Save(ctx, h.cfg.RunID, tick, h.sim); err != nil {
			h.log.WithError(err).Warn("failed to save snapshot")
		} else {
			h.publish(messaging.EventTypeSnapshotSaved, h.cfg.RunID, messaging.SnapshotEvent{RunID: h.cfg.RunID, Tick: int64(tick)})
		}
	}

	if id, on := h.sim.Debugging(); on {
		h.log.WithFields(logrus.Fields{
			"tick":            float64(tick),
			"intersection_id": id,
			"events":          len(events),
		}).Debug("tick stepped")
	}

	return stepErr
}

func parseWireAgent(s string) (intersection.AgentID, error) {
	return gateway.ParseAgentID(s)
}
