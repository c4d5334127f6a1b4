package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/llitpux/cogstream/internal/bus"
	"github.com/llitpux/cogstream/internal/llm"
	"github.com/llitpux/cogstream/internal/observability"
	"github.com/llitpux/cogstream/internal/prompt"
)

var closedActions = map[Action]bool{
	ActionReply:            true,
	ActionSearchGraph:      true,
	ActionSearchWeb:        true,
	ActionFetchUserProfile: true,
	ActionRememberFact:     true,
}

var planSchema = map[string]any{
	"type":     "object",
	"required": []string{"intent", "tasks"},
	"properties": map[string]any{
		"intent": map[string]any{"type": "string", "enum": []string{"QUESTION", "COMMAND", "SMALL_TALK", "NOISE"}},
		"tasks": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"id", "action"},
				"properties": map[string]any{
					"id":         map[string]any{"type": "integer"},
					"action":     map[string]any{"type": "string", "enum": []string{"reply", "search_graph", "search_web", "fetch_user_profile", "remember_fact"}},
					"args":       map[string]any{"type": "object"},
					"depends_on": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
				},
			},
		},
	},
}

// fallbackPlan is the single-task plan Analyst falls back to whenever the
// LLM's output fails plan validation twice (spec §4.5).
var fallbackPlan = []Task{{ID: 1, Action: ActionReply, Args: map[string]any{"style": "apology"}}}

// Analyst turns a triaged, (optionally) semantically-enriched message into
// an executable task plan for Coordinator (spec §4.5).
type Analyst struct {
	caller    Caller
	assembler *prompt.Assembler
	b         bus.Bus
	model     string
}

// NewAnalyst builds an Analyst.
func NewAnalyst(caller Caller, assembler *prompt.Assembler, b bus.Bus, llmModel string) *Analyst {
	return &Analyst{caller: caller, assembler: assembler, b: b, model: llmModel}
}

// Run starts Analyst's planning worker pool.
func (a *Analyst) Run(ctx context.Context, workers int) func() {
	return runWorkers(ctx, "analyst.planning", workers, a.b.Consume(bus.Planning), a.handlePlanning)
}

func (a *Analyst) handlePlanning(ctx context.Context, env bus.Envelope) {
	pe, ok := env.Payload.(PlanningEnvelope)
	if !ok {
		return
	}
	log := observability.LoggerWithTrace(ctx)

	intent, tasks := a.plan(ctx, pe)

	snapshot := AnalystSnapshot{
		ChatID:     env.ChatID,
		MessageUID: pe.MessageUID,
		Intent:     intent,
		Target:     pe.Verdict.Target,
		Tasks:      tasks,
		StartedAt:  time.Now().Unix(),
	}
	if err := a.b.Enqueue(ctx, bus.Execution, bus.Envelope{ChatID: env.ChatID, Payload: snapshot}); err != nil {
		log.Error().Err(err).Str("message_uid", pe.MessageUID).Msg("analyst_execution_enqueue_failed")
	}
}

// plan calls the LLM once, retries once more on a validation failure, and
// falls back to the single-reply plan on a second failure (spec §4.5:
// "an unrecognized action ... triggers one retry").
func (a *Analyst) plan(ctx context.Context, pe PlanningEnvelope) (Intent, []Task) {
	system := a.assembler.Assemble(ctx, "Analyst", "Plan", planRuntimeContext(pe))
	msgs := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Produce the task plan for this message."},
	}

	for attempt := 0; attempt < 2; attempt++ {
		reply, _, err := a.caller.Call(ctx, msgs, nil, a.model, planSchema)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("message_uid", pe.MessageUID).Msg("analyst_plan_call_failed")
			break
		}
		intent, tasks, err := parseAndValidatePlan(reply.Content)
		if err == nil {
			return intent, tasks
		}
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("message_uid", pe.MessageUID).Msg("analyst_plan_invalid")
		msgs = append(msgs, llm.Message{Role: "assistant", Content: reply.Content}, llm.Message{
			Role:    "system",
			Content: fmt.Sprintf("That plan was invalid: %s. Produce a corrected plan.", err),
		})
	}
	return IntentNoise, fallbackPlan
}

func planRuntimeContext(pe PlanningEnvelope) string {
	if pe.Narrative == "" {
		return fmt.Sprintf("GATE DECISION: target=%s depth=%s tone=%s\n", pe.Verdict.Target, pe.Verdict.RequiredDepth, pe.Verdict.ToneHint)
	}
	return fmt.Sprintf("GATE DECISION: target=%s depth=%s tone=%s\nNARRATIVE: %s\n", pe.Verdict.Target, pe.Verdict.RequiredDepth, pe.Verdict.ToneHint, pe.Narrative)
}

func parseAndValidatePlan(content string) (Intent, []Task, error) {
	var parsed struct {
		Intent Intent `json:"intent"`
		Tasks  []Task `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return "", nil, fmt.Errorf("malformed plan JSON: %w", err)
	}
	if err := validatePlan(parsed.Tasks); err != nil {
		return "", nil, err
	}
	return parsed.Intent, parsed.Tasks, nil
}

// validatePlan enforces spec §4.5: a closed action set, dependencies that
// reference only existing task ids, no cycles, and at least one reply leaf.
func validatePlan(tasks []Task) error {
	if len(tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}
	byID := make(map[int]Task, len(tasks))
	for _, t := range tasks {
		if !closedActions[t.Action] {
			return fmt.Errorf("unrecognized action %q", t.Action)
		}
		if _, dup := byID[t.ID]; dup {
			return fmt.Errorf("duplicate task id %d", t.ID)
		}
		byID[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("task %d depends on unknown task %d", t.ID, dep)
			}
		}
	}
	if err := checkAcyclic(tasks); err != nil {
		return err
	}
	dependedOn := make(map[int]bool, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			dependedOn[dep] = true
		}
	}
	hasReplyLeaf := false
	for _, t := range tasks {
		if t.Action == ActionReply && !dependedOn[t.ID] {
			hasReplyLeaf = true
			break
		}
	}
	if !hasReplyLeaf {
		return fmt.Errorf("plan has no reply leaf")
	}
	return nil
}

// checkAcyclic runs a standard three-color DFS over the depends_on edges.
func checkAcyclic(tasks []Task) error {
	const (
		white = iota
		gray
		black
	)
	color := make(map[int]int, len(tasks))
	byID := make(map[int]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		color[t.ID] = white
	}

	var visit func(id int) error
	visit = func(id int) error {
		color[id] = gray
		for _, dep := range byID[id].DependsOn {
			switch color[dep] {
			case gray:
				return fmt.Errorf("dependency cycle through task %d", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, t := range tasks {
		if color[t.ID] == white {
			if err := visit(t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
