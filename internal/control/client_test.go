package control_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citysim/intersection-core/internal/control"
	"github.com/citysim/intersection-core/internal/intersection"
)

func TestClientRefreshStopSignPopulatesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"priorities": map[string]string{
				"main-and-1st:north->south": "Priority",
				"main-and-1st:east->west":   "Stop",
			},
		})
	}))
	defer srv.Close()

	c := control.NewClient(srv.URL, nil)
	require.NoError(t, c.RefreshStopSign(context.Background(), "main-and-1st"))

	cfg, ok := c.StopSign("main-and-1st")
	require.True(t, ok)

	assert.Equal(t, intersection.PriorityPriority, cfg.GetPriority(intersection.TurnID{
		Parent: "main-and-1st", Src: "north", Dst: "south",
	}))
	assert.Equal(t, intersection.PriorityStop, cfg.GetPriority(intersection.TurnID{
		Parent: "main-and-1st", Src: "east", Dst: "west",
	}))
}

func TestClientStopSignMissesBeforeRefresh(t *testing.T) {
	c := control.NewClient("http://unused.invalid", nil)
	_, ok := c.StopSign("never-fetched")
	assert.False(t, ok)
}

func TestClientSetAndGetTrafficSignal(t *testing.T) {
	c := control.NewClient("http://unused.invalid", nil)
	program := control.NewProgram().AddPhase(30, intersection.TurnID{Parent: "x", Src: "n", Dst: "s"})
	c.SetTrafficSignal("x", program)

	got, ok := c.TrafficSignal("x")
	require.True(t, ok)
	assert.Same(t, program, got)
}
