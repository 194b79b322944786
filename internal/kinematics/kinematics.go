// Package kinematics builds the per-tick intersection.AgentInfo snapshot
// the core's Step needs: each agent's current speed and whether it leads
// its lane queue. Speeds are tracked in exact decimal arithmetic and
// cached in Redis so multiple simhost replicas (or a restarted process)
// observe the same view of in-flight agents without recomputing from raw
// telemetry every tick.
package kinematics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/citysim/intersection-core/internal/intersection"
	"github.com/citysim/intersection-core/pkg/decimal"
)

// AgentState is one agent's kinematic reading as reported by the upstream
// motion/localization feed.
type AgentState struct {
	Agent    intersection.AgentID
	Speed    decimal.Speed
	IsLeader bool
}

// Tracker maintains the latest AgentState per agent, backed by a local
// cache and mirrored into Redis for cross-process visibility.
type Tracker struct {
	redis   *redis.Client
	keyFn   func(intersection.AgentID) string
	cacheMu sync.RWMutex
	cache   map[intersection.AgentID]AgentState
}

// NewTracker constructs a Tracker. addr is a redis "host:port" address;
// an empty addr disables the Redis mirror and keeps the tracker
// local-only, which is sufficient for tests and single-process runs.
func NewTracker(addr string) *Tracker {
	t := &Tracker{
		cache: make(map[intersection.AgentID]AgentState),
		keyFn: func(a intersection.AgentID) string { return fmt.Sprintf("kinematics:agent:%s", a.String()) },
	}
	if addr != "" {
		t.redis = redis.NewClient(&redis.Options{Addr: addr})
	}
	return t
}

// Update records a fresh kinematic reading for one agent, writing through
// to Redis when configured.
func (t *Tracker) Update(ctx context.Context, state AgentState) error {
	t.cacheMu.Lock()
	t.cache[state.Agent] = state
	t.cacheMu.Unlock()

	if t.redis == nil {
		return nil
	}

	payload, err := json.Marshal(wireAgentState{
		Speed:    state.Speed.String(),
		IsLeader: state.IsLeader,
	})
	if err != nil {
		return fmt.Errorf("kinematics: marshal agent state: %w", err)
	}

	if err := t.redis.Set(ctx, t.keyFn(state.Agent), payload, 0).Err(); err != nil {
		return fmt.Errorf("kinematics: write agent state: %w", err)
	}
	return nil
}

// Forget drops an agent's tracked state, e.g. once it has exited every
// intersection it was approaching.
func (t *Tracker) Forget(ctx context.Context, agent intersection.AgentID) {
	t.cacheMu.Lock()
	delete(t.cache, agent)
	t.cacheMu.Unlock()

	if t.redis != nil {
		t.redis.Del(ctx, t.keyFn(agent))
	}
}

type wireAgentState struct {
	Speed    string `json:"speed"`
	IsLeader bool   `json:"is_leader"`
}

// Snapshot assembles an intersection.AgentInfo from every agent currently
// tracked, converting each exact Speed to the float64 the core expects at
// its boundary.
func (t *Tracker) Snapshot() intersection.AgentInfo {
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()

	info := intersection.AgentInfo{
		Speeds:  make(map[intersection.AgentID]intersection.Speed, len(t.cache)),
		Leaders: make(map[intersection.AgentID]bool, len(t.cache)),
	}
	for agent, state := range t.cache {
		info.Speeds[agent] = intersection.Speed(state.Speed.Float64())
		if state.IsLeader {
			info.Leaders[agent] = true
		}
	}
	return info
}

// Reload repopulates the local cache for agent from Redis, e.g. after a
// process restart. Returns false if no entry was found.
func (t *Tracker) Reload(ctx context.Context, agent intersection.AgentID) (bool, error) {
	if t.redis == nil {
		return false, nil
	}

	raw, err := t.redis.Get(ctx, t.keyFn(agent)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kinematics: read agent state: %w", err)
	}

	var wire wireAgentState
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return false, fmt.Errorf("kinematics: unmarshal agent state: %w", err)
	}
	speed, err := decimal.NewSpeed(wire.Speed)
	if err != nil {
		return false, fmt.Errorf("kinematics: parse cached speed: %w", err)
	}

	t.cacheMu.Lock()
	t.cache[agent] = AgentState{Agent: agent, Speed: speed, IsLeader: wire.IsLeader}
	t.cacheMu.Unlock()
	return true, nil
}
