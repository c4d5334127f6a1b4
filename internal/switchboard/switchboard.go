// Package switchboard routes LLM calls across an ordered list of providers,
// fails over on retryable errors, and enforces response schemas with a
// single cross-provider retry. Grounded on the ordering and cooldown policy
// in spec §4.8; the provider-selection shape is grounded on
// internal/llm/providers/factory.go (manifold), and the cooldown state is
// modeled the same way internal/orchestrator/dedupe.go (manifold) models a
// dedupe TTL: a timestamp compared against now, just kept in memory instead
// of Redis since health state is switchboard-local (spec §5's concurrency
// note: "internal health state protected by a mutex; no ordering
// assumption").
package switchboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/llitpux/cogstream/internal/errkind"
	"github.com/llitpux/cogstream/internal/llm"
)

// Switchboard routes Chat calls across Order, skipping unhealthy providers
// and never invoking the same provider twice within one Call (spec
// invariant 8).
type Switchboard struct {
	order     []string
	providers map[string]llm.Provider
	cooldown  time.Duration

	mu        sync.Mutex
	unhealthy map[string]time.Time

	now func() time.Time
}

// New builds a Switchboard. order names the provider call sequence;
// providers maps those same names to their Provider implementation. Entries
// in order with no matching provider are skipped at call time.
func New(order []string, providers map[string]llm.Provider, cooldown time.Duration) *Switchboard {
	return &Switchboard{
		order:     order,
		providers: providers,
		cooldown:  cooldown,
		unhealthy: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Call routes msgs through the ordered provider list. On a retryable
// provider error, it marks that provider unhealthy for the cooldown window
// and tries the next. On a fatal error, it aborts immediately without
// failover. If responseSchema is non-nil and the returned content fails
// validation, Call retries exactly once more against the NEXT provider in
// order with a stricter instruction appended, then gives up rather than
// calling any provider a second time.
func (s *Switchboard) Call(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, responseSchema map[string]any) (llm.Message, string, error) {
	attempted := make(map[string]bool, len(s.order))
	strict := msgs
	schemaRetried := false
	var lastErr error
	var lastProvider string

	for _, name := range s.order {
		if attempted[name] {
			continue
		}
		provider, ok := s.providers[name]
		if !ok {
			continue
		}
		if s.isUnhealthy(name) {
			continue
		}
		attempted[name] = true

		if lastProvider != "" {
			llm.RecordProviderFailover(ctx, lastProvider, name)
		}
		lastProvider = name

		msg, err := provider.Chat(ctx, strict, tools, model, responseSchema)
		if err != nil {
			if errkind.Classify(err) == errkind.Fatal {
				return llm.Message{}, name, err
			}
			s.markUnhealthy(name)
			lastErr = err
			continue
		}

		if responseSchema == nil {
			return msg, name, nil
		}
		if verr := validateAgainstSchema(msg.Content, responseSchema); verr != nil {
			lastErr = verr
			if schemaRetried {
				return llm.Message{}, name, fmt.Errorf("switchboard: response failed schema validation after retry: %w", verr)
			}
			schemaRetried = true
			strict = appendStrictReminder(msgs)
			continue
		}
		return msg, name, nil
	}

	if lastErr != nil {
		return llm.Message{}, lastProvider, fmt.Errorf("switchboard: no provider satisfied the call: %w", lastErr)
	}
	return llm.Message{}, "", fmt.Errorf("switchboard: no healthy provider available")
}

func (s *Switchboard) isUnhealthy(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.unhealthy[name]
	if !ok {
		return false
	}
	if s.now().After(until) {
		delete(s.unhealthy, name)
		return false
	}
	return true
}

func (s *Switchboard) markUnhealthy(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unhealthy[name] = s.now().Add(s.cooldown)
}

func appendStrictReminder(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	copy(out, msgs)
	out = append(out, llm.Message{
		Role:    "system",
		Content: "Your previous response did not match the required JSON schema. Respond again with valid JSON matching the schema exactly, no prose.",
	})
	return out
}

func validateAgainstSchema(content string, schema map[string]any) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", schema); err != nil {
		return fmt.Errorf("compile response schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile response schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	return compiled.Validate(doc)
}
