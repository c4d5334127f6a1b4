package llm

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/llitpux/cogstream/internal/observability"
)

var (
	tracer = otel.Tracer("github.com/llitpux/cogstream/internal/llm")
	meter  = otel.Meter("github.com/llitpux/cogstream/internal/llm")

	providerFailovers metric.Int64Counter
)

func init() {
	var err error
	providerFailovers, err = meter.Int64Counter("provider_failovers_total",
		metric.WithDescription("Switchboard failovers from one LLM provider to the next"))
	if err != nil {
		providerFailovers, _ = meter.Int64Counter("provider_failovers_total")
	}
}

// StartRequestSpan opens a span around a provider call, tagged with the
// model and request shape so traces line up with the teacher's existing
// per-provider spans.
func StartRequestSpan(ctx context.Context, name, model string, toolCount, msgCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("llm.model", model),
			attribute.Int("llm.tool_count", toolCount),
			attribute.Int("llm.message_count", msgCount),
		))
}

// RecordProviderFailover increments the failover counter when the
// Switchboard moves from one provider to the next within a single call.
func RecordProviderFailover(ctx context.Context, from, to string) {
	providerFailovers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("llm.from_provider", from),
		attribute.String("llm.to_provider", to),
	))
}

// LogRedactedPrompt logs the outbound messages with secret-shaped values
// redacted, at debug level, the way the teacher's provider clients do
// before every call.
func LogRedactedPrompt(ctx context.Context, msgs []Message) {
	log := observability.LoggerWithTrace(ctx)
	raw, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	log.Debug().RawJSON("messages", observability.RedactJSON(raw)).Msg("llm_request")
}
