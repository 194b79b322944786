// Package gateway is the HTTP/WebSocket surface over one running
// simulation: submitting requests, querying grant state, driving
// on_enter/on_exit, toggling per-intersection debug, and streaming
// admission events to connected dashboards.
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/citysim/intersection-core/internal/intersection"
)

// Sim is the subset of simulation operations the gateway drives. It is
// satisfied by *intersection.IntersectionSimState directly; tests supply
// a fake.
type Sim interface {
	SubmitRequest(req intersection.Request) error
	RequestGranted(req intersection.Request) bool
	OnEnter(req intersection.Request) error
	OnExit(req intersection.Request)
	SetDebug(id intersection.IntersectionID)
}

// Gateway is the API surface for one simhost replica.
type Gateway struct {
	router    *gin.Engine
	sim       Sim
	jwtSecret string

	wsMu      sync.RWMutex
	wsClients map[uuid.UUID]*wsClient

	rateLimiter *RateLimiter
}

type wsClient struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Config holds gateway configuration.
type Config struct {
	JWTSecret       string
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// New builds a Gateway fronting sim.
func New(cfg Config, sim Sim) *Gateway {
	g := &Gateway{
		router:    gin.Default(),
		sim:       sim,
		jwtSecret: cfg.JWTSecret,
		wsClients: make(map[uuid.UUID]*wsClient),
		rateLimiter: &RateLimiter{
			requests: make(map[string][]time.Time),
			limit:    cfg.RateLimitMax,
			window:   cfg.RateLimitWindow,
		},
	}
	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.rateLimitMiddleware())
	g.router.Use(g.correlationMiddleware())

	g.router.GET("/health", g.healthCheck)

	g.router.POST("/requests", g.submitRequest)
	g.router.GET("/requests/:agent/:turn/granted", g.getGranted)
	g.router.POST("/requests/:agent/:turn/enter", g.postEnter)
	g.router.POST("/requests/:agent/:turn/exit", g.postExit)

	g.router.POST("/intersections/:id/debug", g.operatorAuth(), g.postDebug)

	g.router.GET("/events", g.handleEvents)
}

// Run starts serving on addr.
func (g *Gateway) Run(addr string) error {
	return g.router.Run(addr)
}

// Handler exposes the underlying http.Handler, for tests and for
// embedding behind a shared net/http.Server.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Middleware

func (g *Gateway) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (g *Gateway) correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

type operatorClaims struct {
	OperatorID string `json:"operator_id"`
	jwt.RegisteredClaims
}

// operatorAuth protects control actions (today: the debug toggle) with a
// JWT bearer token minted by internal/opauth (the `simhost token`
// command), distinct from any per-agent identity.
func (g *Gateway) operatorAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if len(header) < 8 || header[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		token, err := jwt.ParseWithClaims(header[7:], &operatorClaims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(g.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Next()
	}
}

// Handlers

func (g *Gateway) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type requestPayload struct {
	Agent string `json:"agent" binding:"required"`
	Turn  struct {
		Parent string `json:"parent" binding:"required"`
		Src    string `json:"src" binding:"required"`
		Dst    string `json:"dst" binding:"required"`
	} `json:"turn" binding:"required"`
}

// ParseAgentID parses the "car-42" / "pedestrian-7" textual form into an
// AgentID. Exported for callers outside this package (e.g. the NATS
// requests.submit subscriber) that accept the same agent encoding over a
// non-HTTP transport.
func ParseAgentID(s string) (intersection.AgentID, error) {
	return parseAgentParam(s)
}

// parseAgentParam parses the "car-42" / "pedestrian-7" URL path form into
// an AgentID.
func parseAgentParam(s string) (intersection.AgentID, error) {
	kindPart, idPart, ok := strings.Cut(s, "-")
	if !ok {
		return intersection.AgentID{}, fmt.Errorf("malformed agent id %q", s)
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return intersection.AgentID{}, fmt.Errorf("malformed agent id %q", s)
	}

	switch kindPart {
	case "car":
		return intersection.Car(id), nil
	case "pedestrian":
		return intersection.Pedestrian(id), nil
	default:
		return intersection.AgentID{}, fmt.Errorf("unknown agent kind %q", kindPart)
	}
}

// parseTurnParam parses the "parent:src->dst" URL path form into a
// TurnID, the same textual form TurnID.String produces.
func parseTurnParam(s string) (intersection.TurnID, error) {
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

func (g *Gateway) submitRequest(c *gin.Context) {
	var payload requestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	agent, err := parseAgentParam(payload.Agent)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := intersection.NewRequest(agent, intersection.TurnID{
		Parent: intersection.IntersectionID(payload.Turn.Parent),
		Src:    intersection.LaneID(payload.Turn.Src),
		Dst:    intersection.LaneID(payload.Turn.Dst),
	})

	if err := g.sim.SubmitRequest(req); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "request submitted"})
}

func (g *Gateway) parseReqParams(c *gin.Context) (intersection.Request, bool) {
	agent, err := parseAgentParam(c.Param("agent"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return intersection.Request{}, false
	}
	turn, err := parseTurnParam(c.Param("turn"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return intersection.Request{}, false
	}
	return intersection.NewRequest(agent, turn), true
}

func (g *Gateway) getGranted(c *gin.Context) {
	req, ok := g.parseReqParams(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"granted": g.sim.RequestGranted(req)})
}

func (g *Gateway) postEnter(c *gin.Context) {
	req, ok := g.parseReqParams(c)
	if !ok {
		return
	}
	if err := g.sim.OnEnter(req); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "entered"})
}

func (g *Gateway) postExit(c *gin.Context) {
	req, ok := g.parseReqParams(c)
	if !ok {
		return
	}
	g.sim.OnExit(req)
	c.JSON(http.StatusOK, gin.H{"message": "exited"})
}

func (g *Gateway) postDebug(c *gin.Context) {
	id := intersection.IntersectionID(c.Param("id"))
	g.sim.SetDebug(id)
	c.JSON(http.StatusOK, gin.H{"message": "debug toggled", "intersection": id})
}

// WebSocket event streaming

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (g *Gateway) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}

	g.wsMu.Lock()
	g.wsClients[client.id] = client
	g.wsMu.Unlock()

	go g.wsWritePump(client)
	go g.wsReadPump(client)
}

func (g *Gateway) wsReadPump(client *wsClient) {
	defer func() {
		g.wsMu.Lock()
		delete(g.wsClients, client.id)
		g.wsMu.Unlock()
		close(client.done)
		client.conn.Close()
	}()

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (g *Gateway) wsWritePump(client *wsClient) {
	for {
		select {
		case message := <-client.send:
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

// Broadcast pushes every event produced by a Step call to all connected
// dashboards, dropping the message for any client whose send buffer is
// full rather than blocking the tick loop on a slow reader.
func (g *Gateway) Broadcast(events []intersection.Event) {
	if len(events) == 0 {
		return
	}
	payload, err := json.Marshal(events)
	if err != nil {
		return
	}

	g.wsMu.RLock()
	defer g.wsMu.RUnlock()
	for _, client := range g.wsClients {
		select {
		case client.send <- payload:
		default:
		}
	}
}

// RateLimiter is a simple sliding-window request limiter keyed by client
// IP.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// Allow reports whether a new request for key is within the rate limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	requests := rl.requests[key]
	valid := make([]time.Time, 0, len(requests))
	for _, t := range requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}
