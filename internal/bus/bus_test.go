package bus

import (
	"context"
	"testing"
	"time"

	"github.com/llitpux/cogstream/internal/config"
)

func testStreams() config.StreamsConfig {
	return config.StreamsConfig{
		Scribe:      config.StreamConfig{Workers: 1, QueueCapacity: 2},
		Gatekeeper:  config.StreamConfig{Workers: 1, QueueCapacity: 2},
		Thinker:     config.StreamConfig{Workers: 1, QueueCapacity: 2},
		Analyst:     config.StreamConfig{Workers: 1, QueueCapacity: 2},
		Coordinator: config.StreamConfig{Workers: 1, QueueCapacity: 2},
		Responder:   config.StreamConfig{Workers: 1, QueueCapacity: 2},
	}
}

func TestChannelBusEnqueueConsume(t *testing.T) {
	b := NewChannelBus(testStreams())
	defer b.Close()

	ctx := context.Background()
	if err := b.Enqueue(ctx, Triage, Envelope{ChatID: 1, Payload: "hello"}); err != nil {
		t.Fatal(err)
	}

	select {
	case env := <-b.Consume(Triage):
		if env.Payload != "hello" {
			t.Fatalf("got payload %v, want hello", env.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestChannelBusShedsEnrichmentNotIngestion(t *testing.T) {
	b := NewChannelBus(testStreams())
	defer b.Close()
	ctx := context.Background()

	// Fill enrichment's capacity (2); the 3rd enqueue then backs off. The
	// 50ms context ends before the backoff reaches its 1s ceiling, so the
	// call returns the context's deadline error rather than ErrShed; either
	// counts as a failed enqueue here, and the test doesn't block for a full
	// second of real backoff.
	for i := 0; i < 2; i++ {
		if err := b.Enqueue(ctx, Enrichment, Envelope{ChatID: 1, Payload: i}); err != nil {
			t.Fatal(err)
		}
	}
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := b.Enqueue(shortCtx, Enrichment, Envelope{ChatID: 1, Payload: "overflow"})
	if err == nil {
		t.Fatal("expected enqueue on a full enrichment channel to fail (shed or context deadline)")
	}
}

func TestChannelBusPeekFiltersByChatAndTime(t *testing.T) {
	b := NewChannelBus(testStreams())
	defer b.Close()
	ctx := context.Background()

	now := time.Now()
	_ = b.Enqueue(ctx, Planning, Envelope{ChatID: 1, EnqueuedAt: now, Payload: "a"})
	_ = b.Enqueue(ctx, Planning, Envelope{ChatID: 2, EnqueuedAt: now, Payload: "b"})

	got := b.Peek(Planning, 1, now.Add(-time.Second).Unix())
	if len(got) != 1 || got[0].Payload != "a" {
		t.Fatalf("expected only chat 1's envelope, got %+v", got)
	}

	// draining Peek target should still leave the channel consumable —
	// Peek must not remove entries.
	<-b.Consume(Planning)
	got = b.Peek(Planning, 1, now.Add(-time.Second).Unix())
	if len(got) != 1 {
		t.Fatalf("expected Peek to still report the envelope after a consume, got %+v", got)
	}
}
