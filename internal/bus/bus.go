// Package bus implements the Stream Bus: named, bounded FIFO queues that
// connect the five pipeline stages (spec §4.1). The default backend is
// in-process Go channels; a broker-backed alternative lives in kafka.go
// behind the "enterprise" build tag.
package bus

import (
	"container/ring"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/llitpux/cogstream/internal/config"
	"github.com/llitpux/cogstream/internal/errkind"
)

// Channel names the six logical queues in spec §4.1's table.
type Channel string

const (
	Ingestion  Channel = "ingestion"
	Triage     Channel = "triage"
	Enrichment Channel = "enrichment"
	Planning   Channel = "planning"
	Execution  Channel = "execution"
	Response   Channel = "response"

	// Deepen carries a Gatekeeper verdict of required_depth=DEEP_ANALYSIS
	// on to Thinker. Not one of the spec's named stream-bus channels, since
	// triage has exactly one consumer (Gatekeeper); this is the internal
	// hop that lets Thinker own its own worker pool rather than being
	// called as a plain function from inside Gatekeeper's handler.
	Deepen Channel = "deepen"
)

var allChannels = []Channel{Ingestion, Triage, Enrichment, Planning, Execution, Response, Deepen}

// Envelope wraps a stage's payload with the chat/time metadata Coordinator's
// MidCheck state needs to detect late-arriving input for the same chat.
type Envelope struct {
	ChatID     int64
	EnqueuedAt time.Time
	Payload    any
}

// Bus is the contract pipeline stages depend on. ChannelBus (this file) and
// the enterprise KafkaBus (kafka.go) both implement it.
type Bus interface {
	// Enqueue publishes env on ch. It never blocks indefinitely except for
	// Ingestion, which is never shed (spec §4.1: "ingestion never dropped").
	// Every other channel returns ErrShed once the backoff ceiling is hit
	// with the channel still full; all non-Ingestion channels share the same
	// ceiling, so Enrichment is not shed ahead of the others.
	Enqueue(ctx context.Context, ch Channel, env Envelope) error
	// Consume returns the receive side of ch for a stage's worker pool.
	Consume(ch Channel) <-chan Envelope
	// Peek returns buffered envelopes on ch for chatID enqueued at or after
	// sinceUnix, without consuming them — Coordinator's MidCheck state uses
	// this to detect late-arriving input for the same chat (spec §4.6).
	Peek(ch Channel, chatID int64, sinceUnix int64) []Envelope
	Close() error
}

// ErrShed is returned by Enqueue when a non-Ingestion channel stayed full
// through the entire backoff ceiling and the envelope was dropped.
var ErrShed = fmt.Errorf("bus: envelope shed under sustained backpressure")

const (
	backoffInitial = 10 * time.Millisecond
	backoffCap     = 1 * time.Second
	peekBufferSize = 256
)

// ChannelBus is the default in-process Bus backend, one buffered Go channel
// per logical queue plus a ring buffer mirroring recent traffic for Peek.
// Grounded on the teacher's worker-pool job-channel shape
// (orchestrator/kafka.go: `jobs := make(chan kafka.Message, ...)` plus
// per-worker goroutines), generalized into a named multi-channel bus.
type ChannelBus struct {
	chans map[Channel]chan Envelope

	mu    sync.Mutex
	peeks map[Channel]*ring.Ring

	closeOnce sync.Once
}

// NewChannelBus sizes each channel from streams, per the consumer named in
// spec §4.1's table (e.g. ingestion is sized by Scribe's queue capacity,
// since Scribe is ingestion's consumer).
func NewChannelBus(streams config.StreamsConfig) *ChannelBus {
	b := &ChannelBus{
		chans: make(map[Channel]chan Envelope, len(allChannels)),
		peeks: make(map[Channel]*ring.Ring, len(allChannels)),
	}
	capacities := map[Channel]int{
		Ingestion:  cap1(streams.Scribe.QueueCapacity),
		Triage:     cap1(streams.Gatekeeper.QueueCapacity),
		Enrichment: cap1(streams.Scribe.QueueCapacity),
		Planning:   cap1(streams.Analyst.QueueCapacity),
		Execution:  cap1(streams.Coordinator.QueueCapacity),
		Response:   cap1(streams.Responder.QueueCapacity),
		Deepen:     cap1(streams.Thinker.QueueCapacity),
	}
	for _, ch := range allChannels {
		b.chans[ch] = make(chan Envelope, capacities[ch])
		b.peeks[ch] = ring.New(peekBufferSize)
	}
	return b
}

func cap1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func (b *ChannelBus) Consume(ch Channel) <-chan Envelope {
	return b.chans[ch]
}

func (b *ChannelBus) Enqueue(ctx context.Context, ch Channel, env Envelope) error {
	c, ok := b.chans[ch]
	if !ok {
		return &errkind.FatalError{Err: fmt.Errorf("bus: unknown channel %q", ch)}
	}
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now()
	}

	backoff := backoffInitial
	for {
		select {
		case c <- env:
			b.recordPeek(ch, env)
			return nil
		default:
		}

		// Ingestion is never shed: keep backing off until it fits or the
		// caller's context ends.
		if ch != Ingestion && backoff >= backoffCap {
			return ErrShed
		}

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		if backoff < backoffCap {
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
		}
	}
}

func (b *ChannelBus) recordPeek(ch Channel, env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.peeks[ch]
	r.Value = env
	b.peeks[ch] = r.Next()
}

func (b *ChannelBus) Peek(ch Channel, chatID int64, sinceUnix int64) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.peeks[ch]
	var out []Envelope
	r.Do(func(v any) {
		if v == nil {
			return
		}
		env := v.(Envelope)
		if env.ChatID == chatID && env.EnqueuedAt.Unix() >= sinceUnix {
			out = append(out, env)
		}
	})
	return out
}

func (b *ChannelBus) Close() error {
	b.closeOnce.Do(func() {
		for _, c := range b.chans {
			close(c)
		}
	})
	return nil
}
