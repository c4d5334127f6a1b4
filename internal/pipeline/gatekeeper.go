package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/llitpux/cogstream/internal/bus"
	"github.com/llitpux/cogstream/internal/graph"
	"github.com/llitpux/cogstream/internal/llm"
	"github.com/llitpux/cogstream/internal/model"
	"github.com/llitpux/cogstream/internal/observability"
	"github.com/llitpux/cogstream/internal/prompt"
)

// Caller is the Switchboard surface Gatekeeper, Thinker, and Analyst program
// against; a local interface (rather than importing internal/switchboard
// directly) keeps each stage unit-testable with a scripted stub. Shaped
// after the WARPP plan's DetectIntent callback (internal/agent/warpp.go,
// manifold): a single structured classification call gating the rest of
// the pipeline.
type Caller interface {
	Call(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, responseSchema map[string]any) (llm.Message, string, error)
}

var gateVerdictSchema = map[string]any{
	"type":     "object",
	"required": []string{"target", "required_depth", "tone_hint"},
	"properties": map[string]any{
		"target":         map[string]any{"type": "string", "enum": []string{"DIRECT", "CONTEXTUAL", "NOBODY", "OTHER_USER"}},
		"required_depth": map[string]any{"type": "string", "enum": []string{"QUICK_REPLY", "DEEP_ANALYSIS", "SKIP"}},
		"tone_hint":      map[string]any{"type": "string", "enum": []string{"HUMOR", "SERIOUS", "NEUTRAL"}},
	},
	"additionalProperties": true,
}

// Gatekeeper is the pipeline's cheap, local triage classifier (spec §4.3):
// it decides who a message addresses and how much downstream work it
// warrants, before Analyst or Thinker spend an LLM call on it.
type Gatekeeper struct {
	caller    Caller
	assembler *prompt.Assembler
	store     graph.Store
	b         bus.Bus
	agent     model.Agent
	model     string
	historyK  int
}

// NewGatekeeper builds a Gatekeeper. model names the LLM model string passed
// to the Switchboard for classification calls.
func NewGatekeeper(caller Caller, assembler *prompt.Assembler, store graph.Store, b bus.Bus, agent model.Agent, llmModel string, historyK int) *Gatekeeper {
	if historyK <= 0 {
		historyK = 5
	}
	return &Gatekeeper{
		caller:    caller,
		assembler: assembler,
		store:     store,
		b:         b,
		agent:     agent,
		model:     llmModel,
		historyK:  historyK,
	}
}

// Run starts Gatekeeper's triage worker pool.
func (g *Gatekeeper) Run(ctx context.Context, workers int) func() {
	return runWorkers(ctx, "gatekeeper.triage", workers, g.b.Consume(bus.Triage), g.handleTriage)
}

func (g *Gatekeeper) handleTriage(ctx context.Context, env bus.Envelope) {
	te, ok := env.Payload.(TriageEnvelope)
	if !ok {
		return
	}
	log := observability.LoggerWithTrace(ctx)

	recent, err := g.store.RecentMessages(ctx, env.ChatID, g.historyK)
	if err != nil {
		log.Error().Err(err).Str("message_uid", te.MessageUID).Msg("gatekeeper_history_fetch_failed")
		return
	}

	verdict := g.classify(ctx, te, recent)
	g.route(ctx, env.ChatID, te, verdict)
}

// classify produces the GateVerdict, applying the two deterministic overrides
// (media trigger, explicit addressing) around the LLM call (spec §4.3's
// rules, which "must all hold" regardless of what the classifier returns).
func (g *Gatekeeper) classify(ctx context.Context, te TriageEnvelope, recent []model.Message) GateVerdict {
	if te.HasMedia {
		return GateVerdict{Target: TargetDirect, RequiredDepth: DepthQuickReply, ToneHint: ToneNeutral}
	}

	var latestText string
	if len(recent) > 0 {
		latestText = recent[0].Text
	}

	verdict, err := g.callSwitchboard(ctx, recent)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("message_uid", te.MessageUID).Msg("gatekeeper_classification_fallback")
		verdict = GateVerdict{Target: TargetNobody, RequiredDepth: DepthSkip, ToneHint: ToneNeutral}
	}

	if mentionsAgent(latestText, g.agent.Name) {
		verdict.Target = TargetDirect
	}
	return verdict
}

func mentionsAgent(text, agentName string) bool {
	if agentName == "" || text == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(agentName))
}

func (g *Gatekeeper) callSwitchboard(ctx context.Context, recent []model.Message) (GateVerdict, error) {
	system := g.assembler.Assemble(ctx, "Gatekeeper", "Triage", formatRecentHistory(recent))
	msgs := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Classify the most recent message in this history."},
	}
	reply, _, err := g.caller.Call(ctx, msgs, nil, g.model, gateVerdictSchema)
	if err != nil {
		return GateVerdict{}, fmt.Errorf("gatekeeper: classify: %w", err)
	}
	var verdict GateVerdict
	if err := json.Unmarshal([]byte(reply.Content), &verdict); err != nil {
		return GateVerdict{}, fmt.Errorf("gatekeeper: malformed verdict: %w", err)
	}
	return verdict, nil
}

func formatRecentHistory(recent []model.Message) string {
	var b strings.Builder
	b.WriteString("RECENT MESSAGES (newest first):\n")
	for _, m := range recent {
		fmt.Fprintf(&b, "- %s\n", m.Text)
	}
	return b.String()
}

// route dispatches the classified message according to the Gatekeeper rules
// (spec §4.3): SKIP ends the pipeline here (persistence already happened in
// Scribe); QUICK_REPLY needs no semantic analysis and goes straight to
// planning; DEEP_ANALYSIS hands off to Thinker.
func (g *Gatekeeper) route(ctx context.Context, chatID int64, te TriageEnvelope, verdict GateVerdict) {
	log := observability.LoggerWithTrace(ctx)

	switch verdict.RequiredDepth {
	case DepthSkip:
		return
	case DepthDeepAnalysis:
		if err := g.b.Enqueue(ctx, bus.Deepen, bus.Envelope{
			ChatID:  chatID,
			Payload: DeepenEnvelope{MessageUID: te.MessageUID, Verdict: verdict},
		}); err != nil {
			log.Error().Err(err).Str("message_uid", te.MessageUID).Msg("gatekeeper_deepen_enqueue_failed")
		}
	default: // QUICK_REPLY and any unrecognized depth fail safe to a direct plan
		if err := g.b.Enqueue(ctx, bus.Planning, bus.Envelope{
			ChatID:  chatID,
			Payload: PlanningEnvelope{MessageUID: te.MessageUID, Verdict: verdict},
		}); err != nil {
			log.Error().Err(err).Str("message_uid", te.MessageUID).Msg("gatekeeper_planning_enqueue_failed")
		}
	}
}
