package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/llitpux/cogstream/internal/bus"
	"github.com/llitpux/cogstream/internal/graph"
	"github.com/llitpux/cogstream/internal/llm"
	"github.com/llitpux/cogstream/internal/model"
	"github.com/llitpux/cogstream/internal/observability"
	"github.com/llitpux/cogstream/internal/prompt"
)

var thinkerOutputSchema = map[string]any{
	"type":     "object",
	"required": []string{"topics", "entities", "narrative"},
	"properties": map[string]any{
		"topics": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"title", "is_new"},
				"properties": map[string]any{
					"title":  map[string]any{"type": "string"},
					"is_new": map[string]any{"type": "boolean"},
				},
			},
		},
		"entities": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"name", "type"},
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
					"type": map[string]any{"type": "string", "enum": []string{"Technology", "Person", "Concept", "Tool"}},
				},
			},
		},
		"narrative": map[string]any{"type": "string"},
	},
}

// Thinker is the deep semantic-analysis stream (spec §4.4): it runs only
// for messages Gatekeeper flagged DEEP_ANALYSIS, extracting topics/entities
// and a situational narrative.
type Thinker struct {
	caller    Caller
	assembler *prompt.Assembler
	store     graph.Store
	b         bus.Bus
	model     string
	historyK  int

	logCh chan model.LogEntry
}

// NewThinker builds a Thinker. Call Run to start both its deepen worker
// pool and its fire-and-forget ThoughtLog writer.
func NewThinker(caller Caller, assembler *prompt.Assembler, store graph.Store, b bus.Bus, llmModel string, historyK int) *Thinker {
	if historyK <= 0 {
		historyK = 10
	}
	return &Thinker{
		caller:    caller,
		assembler: assembler,
		store:     store,
		b:         b,
		model:     llmModel,
		historyK:  historyK,
		logCh:     make(chan model.LogEntry, 64),
	}
}

// Run starts Thinker's deepen worker pool plus its ThoughtLog writer
// goroutine. The returned function blocks until both drain.
func (t *Thinker) Run(ctx context.Context, workers int) func() {
	analysisDone := runWorkers(ctx, "thinker.deepen", workers, t.b.Consume(bus.Deepen), t.handleDeepen)
	logDone := t.runLogWriter(ctx)
	return func() {
		analysisDone()
		close(t.logCh)
		<-logDone
	}
}

func (t *Thinker) runLogWriter(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range t.logCh {
			if err := t.store.AppendLogEntry(ctx, entry); err != nil {
				observability.LoggerWithTrace(ctx).Error().Err(err).Msg("thinker_log_write_failed")
			}
		}
	}()
	return done
}

func (t *Thinker) handleDeepen(ctx context.Context, env bus.Envelope) {
	de, ok := env.Payload.(DeepenEnvelope)
	if !ok {
		return
	}
	log := observability.LoggerWithTrace(ctx)

	recent, err := t.store.RecentMessages(ctx, env.ChatID, t.historyK)
	if err != nil {
		log.Error().Err(err).Str("message_uid", de.MessageUID).Msg("thinker_history_fetch_failed")
		return
	}
	topics, err := t.store.ActiveTopics(ctx)
	if err != nil {
		log.Error().Err(err).Str("message_uid", de.MessageUID).Msg("thinker_topics_fetch_failed")
	}

	enrichment := t.analyze(ctx, de.MessageUID, recent, topics)

	if err := t.b.Enqueue(ctx, bus.Enrichment, bus.Envelope{ChatID: env.ChatID, Payload: enrichment}); err != nil {
		log.Error().Err(err).Str("message_uid", de.MessageUID).Msg("thinker_enrichment_enqueue_failed")
	}
	if err := t.b.Enqueue(ctx, bus.Planning, bus.Envelope{
		ChatID: env.ChatID,
		Payload: PlanningEnvelope{
			MessageUID: de.MessageUID,
			Narrative:  enrichment.Narrative,
			Verdict:    de.Verdict,
		},
	}); err != nil {
		log.Error().Err(err).Str("message_uid", de.MessageUID).Msg("thinker_planning_enqueue_failed")
	}
}

// analyze runs the Switchboard call and returns an EnrichmentEnvelope. A
// response that does not parse is retried once with a stricter reminder
// appended; a second malformed response, or a failed call, yields an empty
// enrichment rather than stalling the pipeline (spec §4.4 step 3).
func (t *Thinker) analyze(ctx context.Context, msgUID string, recent []model.Message, activeTopics []model.Topic) EnrichmentEnvelope {
	system := t.assembler.Assemble(ctx, "Thinker", "SemanticAnalysis", thinkerRuntimeContext(recent, activeTopics))
	msgs := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Analyze the most recent message and emit the structured result."},
	}

	for attempt := 0; attempt < 2; attempt++ {
		reply, provider, err := t.caller.Call(ctx, msgs, nil, t.model, thinkerOutputSchema)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("message_uid", msgUID).Msg("thinker_analysis_fallback")
			return EnrichmentEnvelope{MessageUID: msgUID}
		}
		t.logAsync(msgUID, provider, msgs, reply.Content)

		var parsed struct {
			Topics    []TopicMention  `json:"topics"`
			Entities  []EntityMention `json:"entities"`
			Narrative string          `json:"narrative"`
		}
		err = json.Unmarshal([]byte(reply.Content), &parsed)
		if err == nil {
			return EnrichmentEnvelope{
				MessageUID: msgUID,
				Topics:     parsed.Topics,
				Entities:   parsed.Entities,
				Narrative:  parsed.Narrative,
			}
		}
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("message_uid", msgUID).Msg("thinker_malformed_output")
		msgs = append(msgs, llm.Message{Role: "assistant", Content: reply.Content}, llm.Message{
			Role:    "system",
			Content: "That output was not valid JSON. Respond with JSON only, matching the enrichment schema exactly.",
		})
	}
	return EnrichmentEnvelope{MessageUID: msgUID}
}

func (t *Thinker) logAsync(msgUID, provider string, msgs []llm.Message, response string) {
	var prompt strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&prompt, "[%s] %s\n", m.Role, m.Content)
	}
	entry := model.LogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().Unix(),
		Prompt:    prompt.String(),
		Response:  response,
		Model:     provider,
	}
	select {
	case t.logCh <- entry:
	default:
		// Bounded queue per spec §4.4: drop rather than block the analysis
		// path when ThoughtLog can't keep up.
	}
}

func thinkerRuntimeContext(recent []model.Message, activeTopics []model.Topic) string {
	var b strings.Builder
	b.WriteString(formatRecentHistory(recent))
	b.WriteString("ACTIVE TOPICS:\n")
	for _, t := range activeTopics {
		fmt.Fprintf(&b, "- %s\n", t.Title)
	}
	b.WriteString("KNOWN ENTITY TYPES: Technology, Person, Concept, Tool\n")
	return b.String()
}
