// Package pipeline wires the six cognitive streams — Scribe, Gatekeeper,
// Thinker, Analyst, Coordinator, Responder — into worker pools that consume
// and produce bus.Envelope payloads. Grounded on
// internal/orchestrator/kafka.go (manifold): one jobs channel per stage,
// a fixed worker pool draining it with sync.WaitGroup, exponential backoff
// on transient failures, generalized from a single Kafka consumer loop into
// six named stages wired to internal/bus instead of a single topic.
package pipeline

import "github.com/llitpux/cogstream/internal/model"

// RawEvent is what the Telegram adapter (or Responder's feedback loop)
// publishes to the ingestion channel (spec §4.1).
type RawEvent struct {
	ChatID     int64  `json:"chat_id"`
	ChatName   string `json:"chat_name"`
	ChatType   string `json:"chat_type"`
	MessageID  int64  `json:"message_id"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"` // epoch seconds
	FromSelf   bool   `json:"from_self"` // true when produced by the Responder feedback loop
	AuthorID   int64  `json:"author_id"` // Telegram user/agent id
	AuthorName string `json:"author_name"`
	HasMedia   bool   `json:"has_media"` // sticker/voice/image trigger (spec §4.3)
}

// TriageEnvelope is Scribe's output to Gatekeeper (spec §4.1).
type TriageEnvelope struct {
	MessageUID string `json:"message_uid"`
	HasMedia   bool   `json:"has_media"` // sticker/voice/image trigger (spec §4.3)
}

// DeepenEnvelope is Gatekeeper's output to Thinker, sent only when a verdict
// requires DEEP_ANALYSIS (spec §4.3/§4.4).
type DeepenEnvelope struct {
	MessageUID string      `json:"message_uid"`
	Verdict    GateVerdict `json:"gate_decision"`
}

// GateTarget is the addressee classification Gatekeeper assigns a message.
type GateTarget string

const (
	TargetDirect    GateTarget = "DIRECT"
	TargetContext   GateTarget = "CONTEXTUAL"
	TargetNobody    GateTarget = "NOBODY"
	TargetOtherUser GateTarget = "OTHER_USER"
)

// GateDepth is how much downstream engagement a message warrants.
type GateDepth string

const (
	DepthQuickReply   GateDepth = "QUICK_REPLY"
	DepthDeepAnalysis GateDepth = "DEEP_ANALYSIS"
	DepthSkip         GateDepth = "SKIP"
)

// GateTone hints the Responder's register.
type GateTone string

const (
	ToneHumor   GateTone = "HUMOR"
	ToneSerious GateTone = "SERIOUS"
	ToneNeutral GateTone = "NEUTRAL"
)

// GateVerdict is Gatekeeper's structured classification (spec §4.3).
type GateVerdict struct {
	Target        GateTarget `json:"target"`
	RequiredDepth GateDepth  `json:"required_depth"`
	ToneHint      GateTone   `json:"tone_hint"`
}

// PlanningEnvelope is published to planning by either Gatekeeper (a
// QUICK_REPLY or media-triggered message, with no narrative; a SKIPped
// message is dropped) or Thinker, once enrichment completes (spec
// §4.1/§4.4).
type PlanningEnvelope struct {
	MessageUID string      `json:"message_uid"`
	Narrative  string      `json:"narrative"`
	Verdict    GateVerdict `json:"gate_decision"`
}

// TopicMention names a topic Thinker extracted, flagging whether it's new.
type TopicMention struct {
	Title string `json:"title"`
	IsNew bool   `json:"is_new"`
}

// EntityMention names an entity Thinker extracted.
type EntityMention struct {
	Name string          `json:"name"`
	Type model.EntityType `json:"type"`
}

// EnrichmentEnvelope is Thinker's output to Scribe (spec §4.1/§4.4).
type EnrichmentEnvelope struct {
	MessageUID string          `json:"message_uid"`
	Topics     []TopicMention  `json:"topics"`
	Entities   []EntityMention `json:"entities"`
	Narrative  string          `json:"narrative"`
}

// Intent is Analyst's classification of the message's purpose.
type Intent string

const (
	IntentQuestion  Intent = "QUESTION"
	IntentCommand   Intent = "COMMAND"
	IntentSmallTalk Intent = "SMALL_TALK"
	IntentNoise     Intent = "NOISE"
)

// Action is the closed set of operations a Coordinator task may perform
// (spec §4.5).
type Action string

const (
	ActionReply             Action = "reply"
	ActionSearchGraph       Action = "search_graph"
	ActionSearchWeb         Action = "search_web"
	ActionFetchUserProfile  Action = "fetch_user_profile"
	ActionRememberFact      Action = "remember_fact"
)

// Task is one node in an AnalystSnapshot's task DAG.
type Task struct {
	ID        int            `json:"id"`
	Action    Action         `json:"action"`
	Args      map[string]any `json:"args"`
	DependsOn []int          `json:"depends_on,omitempty"`
}

// AnalystSnapshot is Analyst's output to Coordinator (spec §4.1/§4.5).
type AnalystSnapshot struct {
	ChatID     int64      `json:"chat_id"`
	MessageUID string     `json:"msg_uid"`
	Intent     Intent     `json:"intent"`
	Target     GateTarget `json:"target"` // carried through from Gatekeeper's verdict, for Responder's apology fallback
	Tasks      []Task     `json:"tasks"`
	StartedAt  int64      `json:"started_at"` // epoch seconds, used by MidCheck
}

// TaskResult is one completed (or timed-out) task's output, keyed by task id.
type TaskResult struct {
	TaskID    int    `json:"task_id"`
	Output    string `json:"output"`
	TimedOut  bool   `json:"timed_out"`
	Cancelled bool   `json:"cancelled"`
}

// ContextContext is Coordinator's aggregated output to Responder (spec §4.1/§4.6).
type ContextContext struct {
	ChatID     int64        `json:"chat_id"`
	MessageUID string       `json:"msg_uid"`
	Intent     Intent       `json:"intent"`
	Target     GateTarget   `json:"target"`
	Results    []TaskResult `json:"results"`
}
