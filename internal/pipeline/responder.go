package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/llitpux/cogstream/internal/bus"
	"github.com/llitpux/cogstream/internal/graph"
	"github.com/llitpux/cogstream/internal/llm"
	"github.com/llitpux/cogstream/internal/model"
	"github.com/llitpux/cogstream/internal/observability"
	"github.com/llitpux/cogstream/internal/prompt"
)

// Sender delivers the composed reply to the chat transport. The production
// adapter wraps a Telegram Bot API client; tests use a recording stub.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Responder wraps a ContextContext in persona and emits it (spec §4.7).
type Responder struct {
	caller    Caller
	assembler *prompt.Assembler
	store     graph.Store
	sender    Sender
	b         bus.Bus
	agent     model.Agent
	model     string
}

// NewResponder builds a Responder.
func NewResponder(caller Caller, assembler *prompt.Assembler, store graph.Store, sender Sender, b bus.Bus, agent model.Agent, llmModel string) *Responder {
	return &Responder{caller: caller, assembler: assembler, store: store, sender: sender, b: b, agent: agent, model: llmModel}
}

// Run starts Responder's response worker pool.
func (r *Responder) Run(ctx context.Context, workers int) func() {
	return runWorkers(ctx, "responder.response", workers, r.b.Consume(bus.Response), r.handleResponse)
}

// apologyReply is what Responder sends when the Switchboard exhausts every
// provider composing a reply to a message addressed at the agent (spec §4.7:
// "on total failure to generate a reply for a direct message, emit a terse
// apology"). Messages nobody addressed to the agent still fail silently.
const apologyReply = "Sorry, I can't come up with a reply right now."

func (r *Responder) handleResponse(ctx context.Context, env bus.Envelope) {
	cc, ok := env.Payload.(ContextContext)
	if !ok {
		return
	}
	log := observability.LoggerWithTrace(ctx)

	reply, err := r.compose(ctx, cc)
	if err != nil {
		log.Error().Err(err).Str("message_uid", cc.MessageUID).Msg("responder_compose_failed")
		if !addressesAgent(cc.Target) {
			return
		}
		reply = apologyReply
	}
	if reply == "" {
		return
	}

	if r.sender != nil {
		if err := r.sender.Send(ctx, cc.ChatID, reply); err != nil {
			log.Error().Err(err).Int64("chat_id", cc.ChatID).Msg("responder_send_failed")
			return
		}
	}

	r.closeFeedbackLoop(ctx, cc.ChatID, reply)
}

// compose assembles the persona prompt and generates the reply text via the
// Switchboard (spec §4.7 steps 1-3).
func (r *Responder) compose(ctx context.Context, cc ContextContext) (string, error) {
	system := r.assembler.Assemble(ctx, "Responder", "ComposeReply", groundingContext(cc))
	msgs := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Compose the reply now."},
	}
	reply, _, err := r.caller.Call(ctx, msgs, nil, r.model, nil)
	if err != nil {
		return "", fmt.Errorf("responder: compose reply: %w", err)
	}
	return reply.Content, nil
}

// addressesAgent reports whether verdict targeted the agent directly or as
// part of the conversation it's tracking, as opposed to a message nobody
// addressed to it or one meant for another user.
func addressesAgent(target GateTarget) bool {
	return target == TargetDirect || target == TargetContext
}

func groundingContext(cc ContextContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INTENT: %s\n", cc.Intent)
	b.WriteString("TASK RESULTS:\n")
	for _, res := range cc.Results {
		switch {
		case res.Cancelled:
			fmt.Fprintf(&b, "- task %d: cancelled (superseded by newer input)\n", res.TaskID)
		case res.TimedOut:
			fmt.Fprintf(&b, "- task %d: timed out\n", res.TaskID)
		case res.Output != "":
			fmt.Fprintf(&b, "- task %d: %s\n", res.TaskID, res.Output)
		}
	}
	return b.String()
}

// closeFeedbackLoop publishes the agent's own message back into ingestion
// so Scribe persists it symmetrically with user messages (spec §4.7 step 5).
func (r *Responder) closeFeedbackLoop(ctx context.Context, chatID int64, text string) {
	log := observability.LoggerWithTrace(ctx)

	chat, err := r.store.GetChat(ctx, chatID)
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("responder_chat_lookup_failed")
	}

	now := time.Now()
	raw := RawEvent{
		ChatID:     chatID,
		ChatName:   chat.Name,
		ChatType:   string(chat.Type),
		MessageID:  selfMessageID(now),
		Text:       text,
		Timestamp:  now.Unix(),
		FromSelf:   true,
		AuthorID:   r.agent.TelegramID,
		AuthorName: r.agent.Name,
	}
	if err := r.b.Enqueue(ctx, bus.Ingestion, bus.Envelope{ChatID: chatID, Payload: raw}); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("responder_feedback_enqueue_failed")
	}
}

// selfMessageID derives a message_id for agent-authored messages, which
// never arrive from Telegram with one of their own: the chat-local
// nanosecond timestamp is unique within any single chat's history.
func selfMessageID(t time.Time) int64 {
	return t.UnixNano()
}
