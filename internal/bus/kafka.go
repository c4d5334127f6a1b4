//go:build enterprise
// +build enterprise

package bus

import (
	"container/ring"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/llitpux/cogstream/internal/config"
)

// wireEnvelope is Envelope's JSON-on-the-wire shape. Payload must already be
// JSON-marshalable (every pipeline payload type is a plain struct with json
// tags), matching the same contract the Switchboard enforces on LLM output.
type wireEnvelope struct {
	ChatID     int64           `json:"chat_id"`
	EnqueuedAt int64           `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`
}

// KafkaBus is the broker-backed Stream Bus, gated behind the "enterprise"
// build tag the teacher uses for its own optional Kafka transport
// (orchestrator/kafka.go, orchestrator/kafka_admin.go). One topic per
// channel, one reader goroutine per channel feeding a local buffered
// channel so Consume/Peek keep the same in-process shape as ChannelBus.
type KafkaBus struct {
	writers map[Channel]*kafka.Writer
	readers map[Channel]*kafka.Reader
	chans   map[Channel]chan Envelope

	mu    sync.Mutex
	peeks map[Channel]*ring.Ring

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewKafkaBus dials brokers, verifies reachability the way the teacher's
// CheckBrokers does, and starts one reader pump per channel.
func NewKafkaBus(ctx context.Context, cfg config.BusConfig, streams config.StreamsConfig) (*KafkaBus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("bus: kafka backend requires bus.kafka_brokers")
	}
	if err := checkBrokers(ctx, cfg.KafkaBrokers, 5*time.Second); err != nil {
		return nil, fmt.Errorf("bus: kafka unreachable: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b := &KafkaBus{
		writers: make(map[Channel]*kafka.Writer, len(allChannels)),
		readers: make(map[Channel]*kafka.Reader, len(allChannels)),
		chans:   make(map[Channel]chan Envelope, len(allChannels)),
		peeks:   make(map[Channel]*ring.Ring, len(allChannels)),
		cancel:  cancel,
	}
	for _, ch := range allChannels {
		topic := "cogstream." + string(ch)
		b.writers[ch] = &kafka.Writer{Addr: kafka.TCP(cfg.KafkaBrokers...), Topic: topic, Balancer: &kafka.LeastBytes{}}
		b.readers[ch] = kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.KafkaBrokers, GroupID: "cogstream." + string(ch), Topic: topic,
			MinBytes: 1, MaxBytes: 10e6,
		})
		b.chans[ch] = make(chan Envelope, queueCapacityFor(ch, streams))
		b.peeks[ch] = ring.New(peekBufferSize)
		b.wg.Add(1)
		go b.pump(runCtx, ch)
	}
	return b, nil
}

func queueCapacityFor(ch Channel, streams config.StreamsConfig) int {
	switch ch {
	case Ingestion, Enrichment:
		return cap1(streams.Scribe.QueueCapacity)
	case Triage:
		return cap1(streams.Gatekeeper.QueueCapacity)
	case Planning:
		return cap1(streams.Analyst.QueueCapacity)
	case Execution:
		return cap1(streams.Coordinator.QueueCapacity)
	default:
		return cap1(streams.Responder.QueueCapacity)
	}
}

func (b *KafkaBus) pump(ctx context.Context, ch Channel) {
	defer b.wg.Done()
	reader := b.readers[ch]
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		var wire wireEnvelope
		if err := json.Unmarshal(msg.Value, &wire); err != nil {
			_ = reader.CommitMessages(ctx, msg)
			continue
		}
		env := Envelope{ChatID: wire.ChatID, EnqueuedAt: time.Unix(wire.EnqueuedAt, 0), Payload: wire.Payload}

		b.mu.Lock()
		r := b.peeks[ch]
		r.Value = env
		b.peeks[ch] = r.Next()
		b.mu.Unlock()

		select {
		case b.chans[ch] <- env:
		case <-ctx.Done():
			return
		}
		_ = reader.CommitMessages(ctx, msg)
	}
}

func (b *KafkaBus) Enqueue(ctx context.Context, ch Channel, env Envelope) error {
	w, ok := b.writers[ch]
	if !ok {
		return fmt.Errorf("bus: unknown channel %q", ch)
	}
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now()
	}
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("bus: marshal payload: %w", err)
	}
	wire := wireEnvelope{ChatID: env.ChatID, EnqueuedAt: env.EnqueuedAt.Unix(), Payload: payload}
	body, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}
	return w.WriteMessages(ctx, kafka.Message{Value: body})
}

func (b *KafkaBus) Consume(ch Channel) <-chan Envelope { return b.chans[ch] }

func (b *KafkaBus) Peek(ch Channel, chatID int64, sinceUnix int64) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Envelope
	b.peeks[ch].Do(func(v any) {
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

func (b *KafkaBus) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		b.wg.Wait()
		for _, w := range b.writers {
			_ = w.Close()
		}
		for _, r := range b.readers {
			_ = r.Close()
		}
	})
	return nil
}

func checkBrokers(ctx context.Context, brokers []string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		for _, addr := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", addr)
			if err == nil {
				_ = conn.Close()
				return nil
			}
			lastErr = err
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to reach any broker within %s: %w", timeout, lastErr)
}
