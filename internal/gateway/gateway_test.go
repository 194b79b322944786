package gateway_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citysim/intersection-core/internal/gateway"
	"github.com/citysim/intersection-core/internal/intersection"
)

type fakeSim struct {
	submitted []intersection.Request
	submitErr error
	granted   bool
	debugged  intersection.IntersectionID
}

func (f *fakeSim) SubmitRequest(req intersection.Request) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return nil
}
func (f *fakeSim) RequestGranted(req intersection.Request) bool { return f.granted }
func (f *fakeSim) OnEnter(req intersection.Request) error       { return nil }
func (f *fakeSim) OnExit(req intersection.Request)              {}
func (f *fakeSim) SetDebug(id intersection.IntersectionID)      { f.debugged = id }

func newTestGateway(sim gateway.Sim) *gateway.Gateway {
	gin.SetMode(gin.TestMode)
	return gateway.New(gateway.Config{
		JWTSecret:       "test-secret",
		RateLimitWindow: time.Minute,
		RateLimitMax:    1000,
	}, sim)
}

func TestSubmitRequestAccepted(t *testing.T) {
	sim := &fakeSim{}
	g := newTestGateway(sim)

	body, _ := json.Marshal(map[string]interface{}{
		"agent": "car-1",
		"turn":  map[string]string{"parent": "main-and-1st", "src": "north", "dst": "south"},
	})

	req := httptest.NewRequest(http.MethodPost, "/requests", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sim.submitted, 1)
	assert.Equal(t, intersection.Car(1), sim.submitted[0].Agent)
}

func TestGetGrantedReflectsSimState(t *testing.T) {
	sim := &fakeSim{granted: true}
	g := newTestGateway(sim)

	req := httptest.NewRequest(http.MethodGet, "/requests/car-1/main-and-1st:north->south/granted", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"granted":true}`, rec.Body.String())
}

func TestDebugEndpointRejectsMissingToken(t *testing.T) {
	sim := &fakeSim{}
	g := newTestGateway(sim)

	req := httptest.NewRequest(http.MethodPost, "/intersections/main-and-1st/debug", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, intersection.IntersectionID(""), sim.debugged)
}
