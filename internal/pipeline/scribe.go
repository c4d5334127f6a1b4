package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/llitpux/cogstream/internal/audit"
	"github.com/llitpux/cogstream/internal/bus"
	"github.com/llitpux/cogstream/internal/errkind"
	"github.com/llitpux/cogstream/internal/graph"
	"github.com/llitpux/cogstream/internal/model"
	"github.com/llitpux/cogstream/internal/observability"
)

// Scribe is the deterministic, single source of truth for graph writes
// derived from raw events (spec §4.2). Retry/jitter shape grounded on
// internal/tools/web/search.go (manifold)'s exponential-backoff-with-jitter
// retry loop.
type Scribe struct {
	store  graph.Store
	b      bus.Bus
	ledger audit.Ledger
	agent  model.Agent

	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitterRatio float64
}

// NewScribe builds a Scribe persisting through store and publishing to b.
// agent is the process-wide Agent identity asserted on every self-authored
// message (spec §4.2 step 1).
func NewScribe(store graph.Store, b bus.Bus, ledger audit.Ledger, agent model.Agent) *Scribe {
	return &Scribe{
		store:       store,
		b:           b,
		ledger:      ledger,
		agent:       agent,
		maxRetries:  5,
		baseDelay:   50 * time.Millisecond,
		maxDelay:    2 * time.Second,
		jitterRatio: 0.3,
	}
}

// Run starts Scribe's ingestion and enrichment worker pools. The returned
// function blocks until both drain.
func (s *Scribe) Run(ctx context.Context, workers int) func() {
	ingestionDone := runWorkers(ctx, "scribe.ingestion", workers, s.b.Consume(bus.Ingestion), s.handleIngestion)
	enrichmentDone := runWorkers(ctx, "scribe.enrichment", workers, s.b.Consume(bus.Enrichment), s.handleEnrichment)
	return func() {
		ingestionDone()
		enrichmentDone()
	}
}

func (s *Scribe) handleIngestion(ctx context.Context, env bus.Envelope) {
	raw, ok := env.Payload.(RawEvent)
	if !ok {
		return
	}

	uid, err := s.persistWithRetry(ctx, raw)
	if err != nil {
		s.recordUnpersisted(ctx, raw, err)
		return
	}

	err = s.b.Enqueue(ctx, bus.Triage, bus.Envelope{
		ChatID:     raw.ChatID,
		EnqueuedAt: time.Now(),
		Payload:    TriageEnvelope{MessageUID: uid, HasMedia: raw.HasMedia},
	})
	if err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Str("message_uid", uid).Msg("scribe_triage_enqueue_failed")
	}
}

// persistWithRetry performs spec §4.2's persist(event) steps: upsert the
// author identity and Chat, then append the Message. The whole sequence is
// retried together on transient failure since FalkorDB has no multi-query
// client transaction in this protocol subset.
func (s *Scribe) persistWithRetry(ctx context.Context, raw RawEvent) (string, error) {
	uid := model.MessageUID(raw.ChatID, raw.MessageID)
	msg := model.Message{
		UID:       uid,
		ChatID:    raw.ChatID,
		MessageID: raw.MessageID,
		Text:      raw.Text,
		CreatedAt: raw.Timestamp,
	}

	var lastErr error
	delay := s.baseDelay
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.persistOnce(ctx, raw, msg)
		if err == nil {
			return uid, nil
		}
		lastErr = err
		if errkind.Classify(err) == errkind.Fatal || attempt == s.maxRetries {
			break
		}
		if waitErr := s.sleepWithJitter(ctx, delay); waitErr != nil {
			return "", waitErr
		}
		delay *= 2
		if delay > s.maxDelay {
			delay = s.maxDelay
		}
	}
	return "", fmt.Errorf("scribe: persist message %s after %d attempts: %w", uid, s.maxRetries, lastErr)
}

func (s *Scribe) persistOnce(ctx context.Context, raw RawEvent, msg model.Message) error {
	if raw.FromSelf {
		if err := s.store.UpsertAgent(ctx, s.agent); err != nil {
			return fmt.Errorf("upsert agent: %w", err)
		}
	} else {
		if err := s.store.UpsertUser(ctx, model.User{TelegramID: raw.AuthorID, Name: raw.AuthorName}); err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
	}
	if err := s.store.UpsertChat(ctx, model.Chat{
		ChatID: raw.ChatID,
		Name:   raw.ChatName,
		Type:   model.ChatType(raw.ChatType),
	}); err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	if _, err := s.store.AppendMessage(ctx, msg, raw.AuthorID, raw.FromSelf); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *Scribe) sleepWithJitter(ctx context.Context, delay time.Duration) error {
	jitter := time.Duration(float64(delay) * s.jitterRatio * rand.Float64())
	select {
	case <-time.After(delay + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scribe) recordUnpersisted(ctx context.Context, raw RawEvent, cause error) {
	payload, _ := json.Marshal(raw)
	if err := s.ledger.RecordUnpersisted(ctx, raw.ChatID, raw.MessageID, payload, cause); err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Msg("scribe_ledger_write_failed")
	}
}

// FormatDailyLabel renders the per-day human-readable message label (e.g.
// "BS02") used only in the backfill command's progress output — a
// view-layer convenience, never stored as graph identity.
func FormatDailyLabel(authorCode string, seq int) string {
	return fmt.Sprintf("%s%02d", authorCode, seq)
}

func (s *Scribe) handleEnrichment(ctx context.Context, env bus.Envelope) {
	payload, ok := env.Payload.(EnrichmentEnvelope)
	if !ok {
		return
	}
	log := observability.LoggerWithTrace(ctx)

	for _, t := range payload.Topics {
		if err := s.store.UpsertTopic(ctx, model.Topic{Title: t.Title, Status: model.TopicActive}); err != nil {
			log.Error().Err(err).Str("topic", t.Title).Msg("scribe_enrich_topic_failed")
			continue
		}
		if err := s.store.LinkDiscusses(ctx, payload.MessageUID, t.Title); err != nil {
			log.Error().Err(err).Str("topic", t.Title).Msg("scribe_enrich_discusses_failed")
		}
	}
	for _, e := range payload.Entities {
		if err := s.store.UpsertEntity(ctx, model.Entity{Name: e.Name, Type: e.Type}); err != nil {
			log.Error().Err(err).Str("entity", e.Name).Msg("scribe_enrich_entity_failed")
			continue
		}
		if err := s.store.LinkMentions(ctx, payload.MessageUID, e.Name); err != nil {
			log.Error().Err(err).Str("entity", e.Name).Msg("scribe_enrich_mentions_failed")
		}
		for _, t := range payload.Topics {
			if err := s.store.LinkInvolves(ctx, t.Title, e.Name); err != nil {
				log.Error().Err(err).Str("topic", t.Title).Str("entity", e.Name).Msg("scribe_enrich_involves_failed")
			}
		}
	}
}
