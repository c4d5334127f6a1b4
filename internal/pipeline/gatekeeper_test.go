package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llitpux/cogstream/internal/bus"
	"github.com/llitpux/cogstream/internal/graph"
	"github.com/llitpux/cogstream/internal/llm"
	"github.com/llitpux/cogstream/internal/model"
	"github.com/llitpux/cogstream/internal/prompt"
)

// scriptedCaller is the shared Caller test double for gatekeeper/thinker/
// analyst/responder tests: each Call pops the next canned (content, err)
// pair and records every invocation for assertions.
type scriptedCaller struct {
	replies []string
	errs    []error

	calls int
}

func (s *scriptedCaller) Call(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, schema map[string]any) (llm.Message, string, error) {
	i := s.calls
	s.calls++
	var content string
	var err error
	if i < len(s.replies) {
		content = s.replies[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return llm.Message{Role: "assistant", Content: content}, "test-provider", err
}

func testAssembler() *prompt.Assembler {
	return prompt.New(graph.NewFakeGraph(), "PrimaryMemory", time.Minute)
}

func waitForDeepen(t *testing.T, b *bus.ChannelBus) bus.Envelope {
	t.Helper()
	select {
	case env := <-b.Consume(bus.Deepen):
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deepen envelope")
		return bus.Envelope{}
	}
}

func waitForPlanning(t *testing.T, b *bus.ChannelBus) bus.Envelope {
	t.Helper()
	select {
	case env := <-b.Consume(bus.Planning):
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for planning envelope")
		return bus.Envelope{}
	}
}

func TestGatekeeperMediaOverrideSkipsSwitchboard(t *testing.T) {
	store := graph.NewMemoryStore()
	require.NoError(t, store.UpsertChat(context.Background(), model.Chat{ChatID: 1, Name: "g", Type: model.ChatGroup}))
	b := newTestBus()
	caller := &scriptedCaller{}
	g := NewGatekeeper(caller, testAssembler(), store, b, testAgent(), "test-model", 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := g.Run(ctx, 1)

	require.NoError(t, b.Enqueue(ctx, bus.Triage, bus.Envelope{ChatID: 1, Payload: TriageEnvelope{MessageUID: "m1", HasMedia: true}}))

	env := waitForPlanning(t, b)
	pe := env.Payload.(PlanningEnvelope)
	assert.Equal(t, GateTarget("DIRECT"), pe.Verdict.Target)
	assert.Equal(t, DepthQuickReply, pe.Verdict.RequiredDepth)
	assert.Equal(t, 0, caller.calls)

	cancel()
	done()
}

func TestGatekeeperDeepAnalysisVerdictRoutesToDeepen(t *testing.T) {
	store := graph.NewMemoryStore()
	require.NoError(t, store.UpsertChat(context.Background(), model.Chat{ChatID: 2, Name: "g", Type: model.ChatGroup}))
	b := newTestBus()
	caller := &scriptedCaller{replies: []string{`{"target":"CONTEXTUAL","required_depth":"DEEP_ANALYSIS","tone_hint":"NEUTRAL"}`}}
	g := NewGatekeeper(caller, testAssembler(), store, b, testAgent(), "test-model", 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := g.Run(ctx, 1)

	require.NoError(t, b.Enqueue(ctx, bus.Triage, bus.Envelope{ChatID: 2, Payload: TriageEnvelope{MessageUID: "m2"}}))

	env := waitForDeepen(t, b)
	de := env.Payload.(DeepenEnvelope)
	assert.Equal(t, "m2", de.MessageUID)
	assert.Equal(t, DepthDeepAnalysis, de.Verdict.RequiredDepth)

	cancel()
	done()
}

func TestGatekeeperSkipVerdictDropsMessage(t *testing.T) {
	store := graph.NewMemoryStore()
	require.NoError(t, store.UpsertChat(context.Background(), model.Chat{ChatID: 3, Name: "g", Type: model.ChatGroup}))
	b := newTestBus()
	caller := &scriptedCaller{replies: []string{`{"target":"NOBODY","required_depth":"SKIP","tone_hint":"NEUTRAL"}`}}
	g := NewGatekeeper(caller, testAssembler(), store, b, testAgent(), "test-model", 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := g.Run(ctx, 1)

	require.NoError(t, b.Enqueue(ctx, bus.Triage, bus.Envelope{ChatID: 3, Payload: TriageEnvelope{MessageUID: "m3"}}))

	select {
	case <-b.Consume(bus.Deepen):
		t.Fatal("unexpected deepen envelope for a SKIP verdict")
	case <-b.Consume(bus.Planning):
		t.Fatal("unexpected planning envelope for a SKIP verdict")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	done()
}

func TestGatekeeperAgentMentionOverridesTargetToDirect(t *testing.T) {
	store := graph.NewMemoryStore()
	require.NoError(t, store.UpsertChat(context.Background(), model.Chat{ChatID: 4, Name: "g", Type: model.ChatGroup}))
	require.NoError(t, store.UpsertUser(context.Background(), model.User{TelegramID: 7, Name: "Gina"}))
	_, err := store.AppendMessage(context.Background(), model.Message{
		UID: model.MessageUID(4, 1), ChatID: 4, MessageID: 1, Text: "hey Observer, what do you think?",
	}, 7, false)
	require.NoError(t, err)

	b := newTestBus()
	caller := &scriptedCaller{replies: []string{`{"target":"NOBODY","required_depth":"QUICK_REPLY","tone_hint":"NEUTRAL"}`}}
	agent := testAgent()
	g := NewGatekeeper(caller, testAssembler(), store, b, agent, "test-model", 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := g.Run(ctx, 1)

	require.NoError(t, b.Enqueue(ctx, bus.Triage, bus.Envelope{ChatID: 4, Payload: TriageEnvelope{MessageUID: "m4"}}))

	env := waitForPlanning(t, b)
	pe := env.Payload.(PlanningEnvelope)
	assert.Equal(t, TargetDirect, pe.Verdict.Target)

	cancel()
	done()
}

func TestGatekeeperSwitchboardErrorFallsBackToSkip(t *testing.T) {
	store := graph.NewMemoryStore()
	require.NoError(t, store.UpsertChat(context.Background(), model.Chat{ChatID: 5, Name: "g", Type: model.ChatGroup}))
	b := newTestBus()
	caller := &scriptedCaller{errs: []error{assert.AnError}}
	g := NewGatekeeper(caller, testAssembler(), store, b, testAgent(), "test-model", 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := g.Run(ctx, 1)

	require.NoError(t, b.Enqueue(ctx, bus.Triage, bus.Envelope{ChatID: 5, Payload: TriageEnvelope{MessageUID: "m5"}}))

	select {
	case <-b.Consume(bus.Deepen):
		t.Fatal("switchboard failure should fall back to SKIP, not DEEP_ANALYSIS")
	case <-b.Consume(bus.Planning):
		t.Fatal("switchboard failure should fall back to SKIP, not QUICK_REPLY")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	done()
}
