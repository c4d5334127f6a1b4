package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llitpux/cogstream/internal/audit"
	"github.com/llitpux/cogstream/internal/bus"
	"github.com/llitpux/cogstream/internal/config"
	"github.com/llitpux/cogstream/internal/graph"
	"github.com/llitpux/cogstream/internal/model"
)

// flakyStore wraps a graph.Store and fails the first N calls to
// AppendMessage with a plain (retryable-by-default) error.
type flakyStore struct {
	graph.Store
	failures int
}

func (f *flakyStore) AppendMessage(ctx context.Context, msg model.Message, authorTelegramID int64, bySelf bool) (bool, error) {
	if f.failures > 0 {
		f.failures--
		return false, errors.New("transient graph timeout")
	}
	return f.Store.AppendMessage(ctx, msg, authorTelegramID, bySelf)
}

func newTestBus() *bus.ChannelBus {
	return bus.NewChannelBus(config.StreamsConfig{
		Scribe:      config.StreamConfig{Workers: 1, QueueCapacity: 8},
		Gatekeeper:  config.StreamConfig{Workers: 1, QueueCapacity: 8},
		Thinker:     config.StreamConfig{Workers: 1, QueueCapacity: 8},
		Analyst:     config.StreamConfig{Workers: 1, QueueCapacity: 8},
		Coordinator: config.StreamConfig{Workers: 1, QueueCapacity: 8},
		Responder:   config.StreamConfig{Workers: 1, QueueCapacity: 8},
	})
}

func testAgent() model.Agent {
	return model.Agent{TelegramID: 99, ID: "agent:99", Name: "Observer"}
}

func waitForTriage(t *testing.T, b *bus.ChannelBus) bus.Envelope {
	t.Helper()
	select {
	case env := <-b.Consume(bus.Triage):
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for triage envelope")
		return bus.Envelope{}
	}
}

func TestScribeIngestionPersistsAndEnqueuesTriage(t *testing.T) {
	store := graph.NewMemoryStore()
	b := newTestBus()
	ledger := &audit.MemoryLedger{}
	s := NewScribe(store, b, ledger, testAgent())
	s.baseDelay = time.Millisecond
	s.maxDelay = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := s.Run(ctx, 1)

	raw := RawEvent{
		ChatID: 1, ChatName: "general", ChatType: "group",
		MessageID: 42, Text: "hello", Timestamp: time.Now().Unix(),
		AuthorID: 7, AuthorName: "Alice",
	}
	require.NoError(t, b.Enqueue(ctx, bus.Ingestion, bus.Envelope{ChatID: raw.ChatID, Payload: raw}))

	env := waitForTriage(t, b)
	te, ok := env.Payload.(TriageEnvelope)
	require.True(t, ok)
	assert.Equal(t, model.MessageUID(1, 42), te.MessageUID)
	assert.Empty(t, ledger.Records)

	msgs, err := store.RecentMessages(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)

	cancel()
	done()
}

func TestScribeIngestionRetriesThenSucceeds(t *testing.T) {
	store := &flakyStore{Store: graph.NewMemoryStore(), failures: 2}
	b := newTestBus()
	ledger := &audit.MemoryLedger{}
	s := NewScribe(store, b, ledger, testAgent())
	s.baseDelay = time.Millisecond
	s.maxDelay = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := s.Run(ctx, 1)

	raw := RawEvent{
		ChatID: 2, ChatName: "dm", ChatType: "private",
		MessageID: 1, Text: "retry me", Timestamp: time.Now().Unix(),
		AuthorID: 8, AuthorName: "Bob",
	}
	require.NoError(t, b.Enqueue(ctx, bus.Ingestion, bus.Envelope{ChatID: raw.ChatID, Payload: raw}))

	env := waitForTriage(t, b)
	te := env.Payload.(TriageEnvelope)
	assert.Equal(t, model.MessageUID(2, 1), te.MessageUID)
	assert.Empty(t, ledger.Records)

	cancel()
	done()
}

func TestScribeIngestionRecordsUnpersistedAfterRetriesExhausted(t *testing.T) {
	store := &flakyStore{Store: graph.NewMemoryStore(), failures: 100}
	b := newTestBus()
	ledger := &audit.MemoryLedger{}
	s := NewScribe(store, b, ledger, testAgent())
	s.maxRetries = 2
	s.baseDelay = time.Millisecond
	s.maxDelay = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := s.Run(ctx, 1)

	raw := RawEvent{
		ChatID: 3, ChatName: "dm", ChatType: "private",
		MessageID: 1, Text: "doomed", Timestamp: time.Now().Unix(),
		AuthorID: 9, AuthorName: "Carol",
	}
	require.NoError(t, b.Enqueue(ctx, bus.Ingestion, bus.Envelope{ChatID: raw.ChatID, Payload: raw}))

	require.Eventually(t, func() bool {
		return len(ledger.Records) == 1
	}, time.Second, time.Millisecond, "expected one unpersisted-message record")

	assert.Equal(t, int64(3), ledger.Records[0].ChatID)
	assert.Equal(t, int64(1), ledger.Records[0].MessageID)
	assert.Contains(t, ledger.Records[0].Cause, "transient graph timeout")

	cancel()
	done()
}

func TestScribeIngestionAssertsAgentIdentityForSelfAuthoredMessages(t *testing.T) {
	store := graph.NewMemoryStore()
	b := newTestBus()
	ledger := &audit.MemoryLedger{}
	agent := testAgent()
	s := NewScribe(store, b, ledger, agent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := s.Run(ctx, 1)

	raw := RawEvent{
		ChatID: 4, ChatName: "dm", ChatType: "private",
		MessageID: 1, Text: "responder reply", Timestamp: time.Now().Unix(),
		FromSelf: true, AuthorID: agent.TelegramID, AuthorName: agent.Name,
	}
	require.NoError(t, b.Enqueue(ctx, bus.Ingestion, bus.Envelope{ChatID: raw.ChatID, Payload: raw}))

	waitForTriage(t, b)

	msgs, err := store.RecentMessages(ctx, 4, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	cancel()
	done()
}

func TestScribeEnrichmentUpsertsTopicsEntitiesAndEdges(t *testing.T) {
	store := graph.NewMemoryStore()
	b := newTestBus()
	ledger := &audit.MemoryLedger{}
	s := NewScribe(store, b, ledger, testAgent())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	raw := RawEvent{ChatID: 5, ChatName: "general", ChatType: "group", MessageID: 1, Text: "docker and kubernetes", Timestamp: time.Now().Unix(), AuthorID: 1, AuthorName: "Dave"}
	uid, err := s.persistWithRetry(ctx, raw)
	require.NoError(t, err)

	done := s.Run(ctx, 1)

	env := bus.Envelope{
		ChatID: raw.ChatID,
		Payload: EnrichmentEnvelope{
			MessageUID: uid,
			Topics:     []TopicMention{{Title: "Docker", IsNew: true}},
			Entities:   []EntityMention{{Name: "Kubernetes", Type: model.EntityTechnology}},
			Narrative:  "discussing container orchestration",
		},
	}
	require.NoError(t, b.Enqueue(ctx, bus.Enrichment, env))

	require.Eventually(t, func() bool {
		topics, err := store.ActiveTopics(ctx)
		return err == nil && len(topics) == 1
	}, time.Second, time.Millisecond)

	topics, err := store.ActiveTopics(ctx)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "Docker", topics[0].Title)

	cancel()
	done()
}
