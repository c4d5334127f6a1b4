// Package researcher implements the Coordinator's search_graph tool: an
// LLM-generated, validated, bounded read-only Cypher query against
// PrimaryMemory, with up to one refinement iteration when the first query
// comes back empty (spec §4.8). No direct teacher analogue; grounded on the
// Switchboard's call contract for LLM invocation and internal/graph's Graph
// interface for execution, the same raw-Cypher access pattern the prompt
// assembler uses.
package researcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/llitpux/cogstream/internal/graph"
	"github.com/llitpux/cogstream/internal/llm"
)

// ErrRejected marks a query that failed validation: not read-only, or
// unbounded. Per spec §4.8, a rejected query fails the task; there is no
// retry at this level (the refinement loop only applies to empty results).
var ErrRejected = errors.New("researcher: query rejected")

// Caller is the subset of switchboard.Switchboard's contract the researcher
// needs, kept as a local interface so tests can stub it without standing up
// a real Switchboard.
type Caller interface {
	Call(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, responseSchema map[string]any) (llm.Message, string, error)
}

// maxIterations bounds the refine-on-empty-result loop at two total
// attempts (spec §4.8, step 4).
const maxIterations = 2

// Researcher answers natural-language questions by having an LLM emit a
// bounded, read-only Cypher query against PrimaryMemory, executing it, and
// summarizing the result.
type Researcher struct {
	caller    Caller
	g         graph.Graph
	graphName string
}

// New builds a Researcher executing queries against graphName (PrimaryMemory)
// through g, generating and summarizing queries via caller.
func New(caller Caller, g graph.Graph, graphName string) *Researcher {
	return &Researcher{caller: caller, g: g, graphName: graphName}
}

type generatedQuery struct {
	Cypher string         `json:"cypher"`
	Params map[string]any `json:"params"`
}

var queryResponseSchema = map[string]any{
	"type":     "object",
	"required": []any{"cypher"},
	"properties": map[string]any{
		"cypher": map[string]any{"type": "string"},
		"params": map[string]any{"type": "object"},
	},
}

// Research answers question, returning a natural-language summary suitable
// for attaching to a Coordinator task's ContextContext.
func (r *Researcher) Research(ctx context.Context, question string) (string, error) {
	messages := []llm.Message{
		{Role: "system", Content: schemaSummary},
		{Role: "user", Content: fmt.Sprintf(
			"Question: %s\nEmit a single parameterized read-only Cypher query against PrimaryMemory that would help answer this, as JSON: {\"cypher\": \"...\", \"params\": {...}}.",
			question)},
	}

	var result *graph.Result
	for iteration := 1; iteration <= maxIterations; iteration++ {
		resp, _, err := r.caller.Call(ctx, messages, nil, "", queryResponseSchema)
		if err != nil {
			return "", fmt.Errorf("researcher: generate query: %w", err)
		}

		var q generatedQuery
		if err := json.Unmarshal([]byte(resp.Content), &q); err != nil {
			return "", fmt.Errorf("%w: malformed query JSON: %v", ErrRejected, err)
		}
		if err := validateQuery(q.Cypher); err != nil {
			return "", fmt.Errorf("%w: %v", ErrRejected, err)
		}

		res, err := r.g.ROQuery(ctx, r.graphName, q.Cypher, q.Params)
		if err != nil {
			return "", fmt.Errorf("researcher: execute query: %w", err)
		}
		result = res

		if !res.Empty() || iteration == maxIterations {
			break
		}
		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Content},
			llm.Message{Role: "user", Content: "That query returned no rows. Refine it (different labels, relationships, or filters) and try again."},
		)
	}

	return r.summarize(ctx, question, result)
}

func (r *Researcher) summarize(ctx context.Context, question string, result *graph.Result) (string, error) {
	if result.Empty() {
		return fmt.Sprintf("No matching information was found in memory for: %s", question), nil
	}

	resp, _, err := r.caller.Call(ctx, []llm.Message{
		{Role: "system", Content: "Summarize these graph query results in natural language, concisely, directly answering the question. Do not mention Cypher, queries, or the graph."},
		{Role: "user", Content: fmt.Sprintf("Question: %s\nResults:\n%s", question, formatRows(result))},
	}, nil, "", nil)
	if err != nil {
		return "", fmt.Errorf("researcher: summarize results: %w", err)
	}
	return resp.Content, nil
}

func formatRows(result *graph.Result) string {
	var b strings.Builder
	for _, row := range result.Rows {
		cols := make([]string, 0, len(row))
		for col := range row {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		parts := make([]string, 0, len(cols))
		for _, col := range cols {
			parts = append(parts, fmt.Sprintf("%s=%v", col, row[col]))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	return b.String()
}

var (
	forbiddenClauses = []string{"CREATE", "MERGE", "DELETE", "SET"}
	limitPattern     = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\b`)
)

func keywordPattern(kw string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + kw + `\b`)
}

// validateQuery enforces spec §4.8 step 3: no write clauses, and a LIMIT no
// greater than 50.
func validateQuery(cypher string) error {
	for _, kw := range forbiddenClauses {
		if keywordPattern(kw).MatchString(cypher) {
			return fmt.Errorf("query contains forbidden clause %s", kw)
		}
	}
	match := limitPattern.FindStringSubmatch(cypher)
	if match == nil {
		return fmt.Errorf("query has no LIMIT clause")
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return fmt.Errorf("unparseable LIMIT value %q", match[1])
	}
	if n > 50 {
		return fmt.Errorf("query LIMIT %d exceeds maximum of 50", n)
	}
	return nil
}
