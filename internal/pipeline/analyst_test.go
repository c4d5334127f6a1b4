package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llitpux/cogstream/internal/bus"
)

func waitForExecution(t *testing.T, b *bus.ChannelBus) bus.Envelope {
	t.Helper()
	select {
	case env := <-b.Consume(bus.Execution):
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for execution envelope")
		return bus.Envelope{}
	}
}

func TestAnalystValidPlanPassesThroughOnFirstAttempt(t *testing.T) {
	b := newTestBus()
	caller := &scriptedCaller{replies: []string{
		`{"intent":"QUESTION","tasks":[{"id":1,"action":"search_graph","args":{"question":"what is docker"}},{"id":2,"action":"reply","depends_on":[1]}]}`,
	}}
	a := NewAnalyst(caller, testAssembler(), b, "test-model")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := a.Run(ctx, 1)

	require.NoError(t, b.Enqueue(ctx, bus.Planning, bus.Envelope{ChatID: 1, Payload: PlanningEnvelope{MessageUID: "m1"}}))

	snap := waitForExecution(t, b).Payload.(AnalystSnapshot)
	assert.Equal(t, IntentQuestion, snap.Intent)
	require.Len(t, snap.Tasks, 2)
	assert.Equal(t, 1, caller.calls)

	cancel()
	done()
}

func TestAnalystRetriesOnceOnInvalidPlanThenFallsBack(t *testing.T) {
	b := newTestBus()
	caller := &scriptedCaller{replies: []string{
		`{"intent":"COMMAND","tasks":[{"id":1,"action":"launch_missiles"}]}`,
		`{"intent":"COMMAND","tasks":[{"id":1,"action":"launch_missiles"}]}`,
	}}
	a := NewAnalyst(caller, testAssembler(), b, "test-model")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := a.Run(ctx, 1)

	require.NoError(t, b.Enqueue(ctx, bus.Planning, bus.Envelope{ChatID: 1, Payload: PlanningEnvelope{MessageUID: "m2"}}))

	snap := waitForExecution(t, b).Payload.(AnalystSnapshot)
	assert.Equal(t, IntentNoise, snap.Intent)
	assert.Equal(t, fallbackPlan, snap.Tasks)
	assert.Equal(t, 2, caller.calls)

	cancel()
	done()
}

func TestAnalystSwitchboardErrorFallsBackImmediately(t *testing.T) {
	b := newTestBus()
	caller := &scriptedCaller{errs: []error{assert.AnError}}
	a := NewAnalyst(caller, testAssembler(), b, "test-model")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := a.Run(ctx, 1)

	require.NoError(t, b.Enqueue(ctx, bus.Planning, bus.Envelope{ChatID: 1, Payload: PlanningEnvelope{MessageUID: "m3"}}))

	snap := waitForExecution(t, b).Payload.(AnalystSnapshot)
	assert.Equal(t, IntentNoise, snap.Intent)
	assert.Equal(t, fallbackPlan, snap.Tasks)
	assert.Equal(t, 1, caller.calls)

	cancel()
	done()
}

func TestValidatePlanRejectsUnknownActionDuplicateIDsCyclesAndMissingReply(t *testing.T) {
	assert.Error(t, validatePlan(nil))
	assert.Error(t, validatePlan([]Task{{ID: 1, Action: "not_real"}}))
	assert.Error(t, validatePlan([]Task{
		{ID: 1, Action: ActionReply}, {ID: 1, Action: ActionSearchGraph},
	}))
	assert.Error(t, validatePlan([]Task{
		{ID: 1, Action: ActionReply, DependsOn: []int{2}},
		{ID: 2, Action: ActionSearchGraph, DependsOn: []int{1}},
	}))
	assert.Error(t, validatePlan([]Task{{ID: 1, Action: ActionSearchGraph}}))
	assert.NoError(t, validatePlan([]Task{{ID: 1, Action: ActionReply}}))
}
