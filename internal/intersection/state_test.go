package intersection_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	itx "github.com/citysim/intersection-core/internal/intersection"
)

const (
	testIntersection itx.IntersectionID = "main-and-elm"
	laneA            itx.LaneID         = "north-in"
	laneB            itx.LaneID         = "south-out"
	laneC            itx.LaneID         = "east-out"
)

func turnNS() itx.TurnID { return itx.TurnID{Parent: testIntersection, Src: laneA, Dst: laneB} }
func turnNE() itx.TurnID { return itx.TurnID{Parent: testIntersection, Src: laneA, Dst: laneC} }

func stopSignMap(turns ...itx.TurnID) *testMap {
	conflicts := make(map[itx.TurnID]bool)
	m := &testMap{
		intersections: []itx.Intersection{{ID: testIntersection, HasTrafficSignal: false}},
		turns:         make(map[itx.TurnID]testTurn),
	}
	for _, t := range turns {
		m.turns[t] = testTurn{conflicts: conflicts}
	}
	return m
}

func agentInfo(leaders []itx.AgentID, speeds map[itx.AgentID]itx.Speed) itx.AgentInfo {
	leaderSet := make(map[itx.AgentID]bool, len(leaders))
	for _, a := range leaders {
		leaderSet[a] = true
	}
	if speeds == nil {
		speeds = map[itx.AgentID]itx.Speed{}
	}
	return itx.AgentInfo{Speeds: speeds, Leaders: leaderSet}
}

// Scenario 1: single-car stop sign, Stop priority.
func TestSingleCarStopSignDwell(t *testing.T) {
	t.Run("should admit no earlier than 1.5s after the agent stops", func(t *testing.T) {
		m := stopSignMap(turnNS())
		control := &testControlMap{
			stopSigns: map[itx.IntersectionID]testControlStopSign{
				testIntersection: {priorities: map[itx.TurnID]itx.TurnPriority{turnNS(): itx.PriorityStop}},
			},
		}
		state := itx.New(m)

		agent := itx.Car(1)
		req := itx.NewRequest(agent, turnNS())
		require.NoError(t, state.SubmitRequest(req))

		info := agentInfo([]itx.AgentID{agent}, map[itx.AgentID]itx.Speed{agent: 0})

		for tickVal := 0.0; tickVal < 1.4; tickVal += 0.1 {
			var events []itx.Event
			require.NoError(t, state.Step(&events, itx.Tick(tickVal), m, control, info))
			assert.Empty(t, events, "should not admit before the stop delay elapses")
		}

		var events []itx.Event
		require.NoError(t, state.Step(&events, 1.5, m, control, info))
		require.Len(t, events, 1)
		assert.Equal(t, itx.EventIntersectionAcceptsRequest, events[0].Kind)
		assert.True(t, state.RequestGranted(req))

		state.OnExit(req)
		assert.False(t, state.RequestGranted(req))
	})
}

// Scenario 2: two conflicting stop-sign requests, equal Stop priority.
func TestTwoConflictingStopSignRequestsAdmitByOrder(t *testing.T) {
	t.Run("should admit the lower AgentID first, then the other after on_exit", func(t *testing.T) {
		turn := turnNS()
		m := &testMap{
			intersections: []itx.Intersection{{ID: testIntersection, HasTrafficSignal: false}},
			turns: map[itx.TurnID]testTurn{
				turn: {conflicts: map[itx.TurnID]bool{turn: true}},
			},
		}
		control := &testControlMap{
			stopSigns: map[itx.IntersectionID]testControlStopSign{
				testIntersection: {priorities: map[itx.TurnID]itx.TurnPriority{turn: itx.PriorityStop}},
			},
		}
		state := itx.New(m)

		agentA := itx.Car(1)
		agentB := itx.Car(2)
		reqA := itx.NewRequest(agentA, turn)
		reqB := itx.NewRequest(agentB, turn)
		require.NoError(t, state.SubmitRequest(reqA))
		require.NoError(t, state.SubmitRequest(reqB))

		info := agentInfo([]itx.AgentID{agentA, agentB}, map[itx.AgentID]itx.Speed{agentA: 0, agentB: 0})

		// Both cars are stopped at tick 0, so both start waiting then; the
		// stop delay has elapsed by tick 1.5.
		var events []itx.Event
		require.NoError(t, state.Step(&events, 0, m, control, info))
		require.NoError(t, state.Step(&events, 1.5, m, control, info))
		require.Len(t, events, 1, "only the non-conflicting winner should be admitted")
		assert.Equal(t, reqA, events[0].Request)
		assert.True(t, state.RequestGranted(reqA))
		assert.False(t, state.RequestGranted(reqB))

		state.OnExit(reqA)

		events = nil
		require.NoError(t, state.Step(&events, 1.6, m, control, info))
		require.Len(t, events, 1)
		assert.Equal(t, reqB, events[0].Request)
		assert.True(t, state.RequestGranted(reqB))
	})
}

// Scenario 3: Priority vs Stop.
func TestPriorityBypassesStopDelayAndBlocksConflictingStop(t *testing.T) {
	t.Run("should admit the Priority request immediately and block the conflicting Stop request", func(t *testing.T) {
		turnP := turnNS()
		turnS := turnNE()
		m := &testMap{
			intersections: []itx.Intersection{{ID: testIntersection, HasTrafficSignal: false}},
			turns: map[itx.TurnID]testTurn{
				turnP: {conflicts: map[itx.TurnID]bool{turnS: true}},
				turnS: {conflicts: map[itx.TurnID]bool{turnP: true}},
			},
		}
		control := &testControlMap{
			stopSigns: map[itx.IntersectionID]testControlStopSign{
				testIntersection: {priorities: map[itx.TurnID]itx.TurnPriority{
					turnP: itx.PriorityPriority,
					turnS: itx.PriorityStop,
				}},
			},
		}
		state := itx.New(m)

		agentP := itx.Car(1)
		agentS := itx.Car(2)
		reqP := itx.NewRequest(agentP, turnP)
		reqS := itx.NewRequest(agentS, turnS)
		require.NoError(t, state.SubmitRequest(reqP))
		require.NoError(t, state.SubmitRequest(reqS))

		info := agentInfo([]itx.AgentID{agentP, agentS}, map[itx.AgentID]itx.Speed{agentP: 0, agentS: 0})

		var events []itx.Event
		require.NoError(t, state.Step(&events, 0, m, control, info))
		require.Len(t, events, 1)
		assert.Equal(t, reqP, events[0].Request, "Priority bypasses the stop delay entirely")
		assert.False(t, state.RequestGranted(reqS), "Stop request blocked by a conflicting higher-priority waiter")
	})
}

// Scenario 4: traffic signal cycle change with in-flight agent.
func TestTrafficSignalRefusesAdmissionWhileStaleAgentLingers(t *testing.T) {
	t.Run("should freeze admissions for one tick after the cycle drops an accepted turn", func(t *testing.T) {
		turnA := turnNS()
		turnB := turnNE()
		m := &testMap{
			intersections: []itx.Intersection{{ID: testIntersection, HasTrafficSignal: true}},
			turns: map[itx.TurnID]testTurn{
				turnA: {conflicts: map[itx.TurnID]bool{}},
				turnB: {conflicts: map[itx.TurnID]bool{}},
			},
		}
		signal := &testControlTrafficSignal{Cycle: testCycle{green: map[itx.TurnID]bool{turnA: true}}}
		control := &testControlMap{
			trafficSignals: map[itx.IntersectionID]*testControlTrafficSignal{testIntersection: signal},
		}
		state := itx.New(m)

		agentA := itx.Car(1)
		agentB := itx.Car(2)
		reqA := itx.NewRequest(agentA, turnA)
		reqB := itx.NewRequest(agentB, turnB)
		require.NoError(t, state.SubmitRequest(reqA))

		info := agentInfo([]itx.AgentID{agentA, agentB}, nil)

		var events []itx.Event
		require.NoError(t, state.Step(&events, 0, m, control, info))
		require.Len(t, events, 1)
		assert.True(t, state.RequestGranted(reqA))

		// Cycle flips; turnA is no longer green. agentA is still crossing.
		signal.Cycle = testCycle{green: map[itx.TurnID]bool{turnB: true}}
		require.NoError(t, state.SubmitRequest(reqB))

		events = nil
		require.NoError(t, state.Step(&events, 1, m, control, info))
		assert.Empty(t, events, "no new admissions while a stale accepted turn lingers")
		assert.True(t, state.RequestGranted(reqA), "existing accepted entries are not revoked")
		assert.False(t, state.RequestGranted(reqB))

		state.OnExit(reqA)

		events = nil
		require.NoError(t, state.Step(&events, 2, m, control, info))
		require.Len(t, events, 1)
		assert.Equal(t, reqB, events[0].Request, "normal admission resumes once the stale agent exits")
	})
}

// Scenario 5: non-leader request.
func TestNonLeaderNeverPromotedOrAdmitted(t *testing.T) {
	t.Run("should never promote a non-leader at a stop sign, and admit as soon as it becomes a leader", func(t *testing.T) {
		m := stopSignMap(turnNS())
		control := &testControlMap{
			stopSigns: map[itx.IntersectionID]testControlStopSign{
				testIntersection: {priorities: map[itx.TurnID]itx.TurnPriority{turnNS(): itx.PriorityStop}},
			},
		}
		state := itx.New(m)

		agent := itx.Car(1)
		req := itx.NewRequest(agent, turnNS())
		require.NoError(t, state.SubmitRequest(req))

		notLeader := agentInfo(nil, map[itx.AgentID]itx.Speed{agent: 0})
		var events []itx.Event
		require.NoError(t, state.Step(&events, 0, m, control, notLeader))
		require.NoError(t, state.Step(&events, 2, m, control, notLeader))
		assert.Empty(t, events, "a non-leader is never promoted, regardless of elapsed ticks")

		isLeader := agentInfo([]itx.AgentID{agent}, map[itx.AgentID]itx.Speed{agent: 0})
		require.NoError(t, state.Step(&events, 2, m, control, isLeader))
		require.NoError(t, state.Step(&events, 3.5, m, control, isLeader))
		assert.Len(t, events, 1)
	})
}

// Scenario 6: idempotent re-submit.
func TestIdempotentResubmitEmitsExactlyOneAdmission(t *testing.T) {
	t.Run("should emit exactly one admission event across 100 re-submissions", func(t *testing.T) {
		m := stopSignMap(turnNS())
		control := &testControlMap{
			stopSigns: map[itx.IntersectionID]testControlStopSign{
				testIntersection: {priorities: map[itx.TurnID]itx.TurnPriority{turnNS(): itx.PriorityStop}},
			},
		}
		state := itx.New(m)

		agent := itx.Car(1)
		req := itx.NewRequest(agent, turnNS())
		info := agentInfo([]itx.AgentID{agent}, map[itx.AgentID]itx.Speed{agent: 0})

		var allEvents []itx.Event
		for i := 0; i < 10; i++ {
			for j := 0; j < 10; j++ {
				require.NoError(t, state.SubmitRequest(req))
			}
			var events []itx.Event
			require.NoError(t, state.Step(&events, itx.Tick(i)*0.2, m, control, info))
			allEvents = append(allEvents, events...)
		}

		require.Len(t, allEvents, 1)
	})
}

// P1/safety: submitting the same request twice never duplicates state, and
// re-submitting with a different turn for an already-accepted agent is an
// invariant violation.
func TestSubmitRequestInvariantOnTurnChange(t *testing.T) {
	t.Run("should reject a changed turn for an already-accepted agent", func(t *testing.T) {
		m := &testMap{
			intersections: []itx.Intersection{{ID: testIntersection, HasTrafficSignal: false}},
			turns: map[itx.TurnID]testTurn{
				turnNS(): {conflicts: map[itx.TurnID]bool{}},
				turnNE(): {conflicts: map[itx.TurnID]bool{}},
			},
		}
		control := &testControlMap{
			stopSigns: map[itx.IntersectionID]testControlStopSign{
				testIntersection: {priorities: map[itx.TurnID]itx.TurnPriority{
					turnNS(): itx.PriorityPriority,
					turnNE(): itx.PriorityPriority,
				}},
			},
		}
		state := itx.New(m)

		agent := itx.Car(1)
		reqNS := itx.NewRequest(agent, turnNS())
		require.NoError(t, state.SubmitRequest(reqNS))

		info := agentInfo([]itx.AgentID{agent}, nil)
		var events []itx.Event
		require.NoError(t, state.Step(&events, 0, m, control, info))
		require.True(t, state.RequestGranted(reqNS))

		require.NoError(t, state.SubmitRequest(reqNS), "re-submitting the same accepted request is a no-op")

		reqNE := itx.NewRequest(agent, turnNE())
		err := state.SubmitRequest(reqNE)
		require.Error(t, err)
		var invErr *itx.InvariantViolated
		assert.ErrorAs(t, err, &invErr)
	})
}

func TestOnEnterRequiresPriorAcceptance(t *testing.T) {
	t.Run("should error when the agent was never granted", func(t *testing.T) {
		m := stopSignMap(turnNS())
		state := itx.New(m)

		req := itx.NewRequest(itx.Car(1), turnNS())
		err := state.OnEnter(req)
		require.Error(t, err)
	})
}

func TestOnExitPanicsOnUnacceptedRequest(t *testing.T) {
	t.Run("should panic if on_exit is called without a prior acceptance", func(t *testing.T) {
		m := stopSignMap(turnNS())
		state := itx.New(m)

		req := itx.NewRequest(itx.Car(1), turnNS())
		assert.Panics(t, func() { state.OnExit(req) })
	})
}

// P3: order independence of submission.
func TestSubmissionOrderIndependence(t *testing.T) {
	t.Run("should reach the same post-step state regardless of submission order", func(t *testing.T) {
		turn := turnNS()
		buildState := func(first, second itx.Request) (*itx.IntersectionSimState, *testMap, *testControlMap) {
			m := &testMap{
				intersections: []itx.Intersection{{ID: testIntersection, HasTrafficSignal: false}},
				turns:         map[itx.TurnID]testTurn{turn: {conflicts: map[itx.TurnID]bool{turn: true}}},
			}
			control := &testControlMap{
				stopSigns: map[itx.IntersectionID]testControlStopSign{
					testIntersection: {priorities: map[itx.TurnID]itx.TurnPriority{turn: itx.PriorityPriority}},
				},
			}
			state := itx.New(m)
			_ = state.SubmitRequest(first)
			_ = state.SubmitRequest(second)
			return state, m, control
		}

		reqA := itx.NewRequest(itx.Car(1), turn)
		reqB := itx.NewRequest(itx.Car(2), turn)
		info := agentInfo([]itx.AgentID{itx.Car(1), itx.Car(2)}, nil)

		stateOrder1, m1, c1 := buildState(reqA, reqB)
		var events1 []itx.Event
		require.NoError(t, stateOrder1.Step(&events1, 0, m1, c1, info))

		stateOrder2, m2, c2 := buildState(reqB, reqA)
		var events2 []itx.Event
		require.NoError(t, stateOrder2.Step(&events2, 0, m2, c2, info))

		json1, err := json.Marshal(stateOrder1)
		require.NoError(t, err)
		json2, err := json.Marshal(stateOrder2)
		require.NoError(t, err)
		assert.JSONEq(t, string(json1), string(json2))
	})
}

// P6: serialized state re-marshals to identical JSON after a round trip.
func TestSerializationRoundTrip(t *testing.T) {
	t.Run("should round-trip through JSON with identical content", func(t *testing.T) {
		m := stopSignMap(turnNS())
		control := &testControlMap{
			stopSigns: map[itx.IntersectionID]testControlStopSign{
				testIntersection: {priorities: map[itx.TurnID]itx.TurnPriority{turnNS(): itx.PriorityStop}},
			},
		}
		state := itx.New(m)
		agent := itx.Car(1)
		req := itx.NewRequest(agent, turnNS())
		require.NoError(t, state.SubmitRequest(req))

		info := agentInfo([]itx.AgentID{agent}, map[itx.AgentID]itx.Speed{agent: 0})
		var events []itx.Event
		require.NoError(t, state.Step(&events, 0, m, control, info))
		require.NoError(t, state.Step(&events, 1.5, m, control, info))
		require.Len(t, events, 1)

		data, err := json.Marshal(state)
		require.NoError(t, err)

		var restored itx.IntersectionSimState
		require.NoError(t, json.Unmarshal(data, &restored))

		data2, err := json.Marshal(&restored)
		require.NoError(t, err)
		assert.JSONEq(t, string(data), string(data2))
		assert.True(t, restored.RequestGranted(req))
	})
}

func TestDebugToggleTracksSingleIntersection(t *testing.T) {
	t.Run("should toggle debug on then back off for the same id", func(t *testing.T) {
		m := stopSignMap(turnNS())
		state := itx.New(m)

		state.SetDebug(testIntersection)
		id, ok := state.Debugging()
		require.True(t, ok)
		assert.Equal(t, testIntersection, id)

		state.SetDebug(testIntersection)
		_, ok = state.Debugging()
		assert.False(t, ok)
	})
}

func TestWaitAtStopSignConstant(t *testing.T) {
	t.Run("should be exactly 1.5 seconds", func(t *testing.T) {
		assert.Equal(t, itx.Tick(1.5), itx.WaitAtStopSign)
	})
}
