package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/citysim/intersection-core/internal/intersection"
	"github.com/citysim/intersection-core/pkg/circuit"
)

// Client is a ControlMap backed by the out-of-scope control-plane editor
// service over HTTP, instead of Map's static in-memory tables. Every
// outbound call is circuit-breaker protected so a struggling control
// plane degrades the simhost's admission throughput rather than hanging
// every Step call indefinitely.
type Client struct {
	baseURL  string
	http     *http.Client
	breakers *circuit.BreakerGroup

	cacheMu        sync.RWMutex
	stopSignCache  map[intersection.IntersectionID]*stopSign
	signalCache    map[intersection.IntersectionID]*Program
}

// NewClient builds a Client pointed at baseURL, e.g.
// "https://control-plane.internal".
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		breakers: circuit.NewBreakerGroup(circuit.Config{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			HalfOpenMax: 3,
		}),
		stopSignCache: make(map[intersection.IntersectionID]*stopSign),
		signalCache:   make(map[intersection.IntersectionID]*Program),
	}
}

type wireStopSignResponse struct {
	Priorities map[string]string `json:"priorities"`
}

// RefreshStopSign fetches and caches one intersection's stop-sign
// priority table. Call periodically (the control plane changes rarely,
// mid-simulation edits are the exception, not the steady state).
func (c *Client) RefreshStopSign(ctx context.Context, id intersection.IntersectionID) error {
	var resp wireStopSignResponse
	err := c.breakers.Execute(ctx, "control.stopsign", func() error {
		return c.getJSON(ctx, fmt.Sprintf("/intersections/%s/stopsign", id), &resp)
	})
	if err != nil {
		return fmt.Errorf("control: refresh stop sign %s: %w", id, err)
	}

	priorities := make(map[intersection.TurnID]intersection.TurnPriority, len(resp.Priorities))
	for turnKey, priorityName := range resp.Priorities {
		turn, err := parseTurnID(turnKey)
		if err != nil {
			return fmt.Errorf("control: refresh stop sign %s: %w", id, err)
		}
		priority, err := parsePriority(priorityName)
		if err != nil {
			return fmt.Errorf("control: refresh stop sign %s: %w", id, err)
		}
		priorities[turn] = priority
	}

	c.cacheMu.Lock()
	c.stopSignCache[id] = &stopSign{priorities: priorities}
	c.cacheMu.Unlock()
	return nil
}

// StopSign satisfies intersection.ControlMap from the last-refreshed
// cache; it never blocks on network I/O.
func (c *Client) StopSign(id intersection.IntersectionID) (intersection.ControlStopSign, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	s, ok := c.stopSignCache[id]
	if !ok {
		return nil, false
	}
	return s, true
}

// TrafficSignal satisfies intersection.ControlMap from the
// last-refreshed cache.
func (c *Client) TrafficSignal(id intersection.IntersectionID) (intersection.ControlTrafficSignal, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	p, ok := c.signalCache[id]
	if !ok {
		return nil, false
	}
	return p, true
}

// SetTrafficSignal installs a cycle program directly, bypassing the HTTP
// fetch path. Used by tests and by deployments that construct their
// signal programs locally instead of fetching them.
func (c *Client) SetTrafficSignal(id intersection.IntersectionID, program *Program) {
	c.cacheMu.Lock()
	c.signalCache[id] = program
	c.cacheMu.Unlock()
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control plane returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// parseTurnID parses the "parent:src->dst" form produced by TurnID.String,
// which the control plane uses as a map key since TurnID itself marshals
// to a JSON object rather than a scalar.
func parseTurnID(s string) (intersection.TurnID, error) {
	colon := strings.IndexByte(s, ':')
	arrow := strings.Index(s, "->")
	if colon < 0 || arrow < 0 || arrow < colon {
		return intersection.TurnID{}, fmt.Errorf("malformed turn id %q", s)
	}
	return intersection.TurnID{
		Parent: intersection.IntersectionID(s[:colon]),
		Src:    intersection.LaneID(s[colon+1 : arrow]),
		Dst:    intersection.LaneID(s[arrow+2:]),
	}, nil
}

func parsePriority(s string) (intersection.TurnPriority, error) {
	var p intersection.TurnPriority
	if err := json.Unmarshal([]byte(`"`+s+`"`), &p); err != nil {
		return 0, err
	}
	return p, nil
}
