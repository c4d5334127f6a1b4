// Package prompt materializes system prompts from the graph-resident
// Role/Task/Protocol/Instruction/Rule subgraph, per spec §4.8. Grounded on
// internal/agent/prompts/system.go (manifold) for the fallback-prompt shape;
// the traversal/caching behavior is new (the teacher has no graph-driven
// prompt composition), built against internal/graph's Graph interface
// directly since the assembler issues ad hoc Cypher rather than named Store
// operations.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/llitpux/cogstream/internal/graph"
	"github.com/llitpux/cogstream/internal/observability"
)

var (
	// ErrRoleNotFound is returned when the prompt subgraph has no Role node
	// with the requested name.
	ErrRoleNotFound = errors.New("prompt: role not found")
	// ErrTaskNotFound is returned when the requested task name doesn't
	// appear among the role's RESPONSIBLE_FOR tasks.
	ErrTaskNotFound = errors.New("prompt: task not found")
	// ErrTaskAmbiguous is returned when no task name was given and the role
	// is responsible for more than one task.
	ErrTaskAmbiguous = errors.New("prompt: task name required, role has multiple tasks")
)

type cacheKey struct{ role, task string }

type cacheEntry struct {
	prompt  string
	expires time.Time
}

// Assembler composes system prompts from the prompt subgraph, caching
// results by (role, task) for CacheTTL and falling back to a statically
// compiled default when the subgraph is empty or the role is missing.
type Assembler struct {
	g         graph.Graph
	graphName string
	ttl       time.Duration

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry

	group singleflight.Group
	now   func() time.Time
}

// New builds an Assembler reading graphName (PrimaryMemory) through g.
func New(g graph.Graph, graphName string, ttl time.Duration) *Assembler {
	return &Assembler{
		g:         g,
		graphName: graphName,
		ttl:       ttl,
		cache:     make(map[cacheKey]cacheEntry),
		now:       time.Now,
	}
}

// Assemble returns the system prompt for (role, task), with runtimeContext
// appended below the rule list (step 6 of the traversal). task may be empty
// when the role is responsible for exactly one task.
func (a *Assembler) Assemble(ctx context.Context, role, task, runtimeContext string) string {
	key := cacheKey{role, task}
	if p, ok := a.cached(key); ok {
		return withContext(p, runtimeContext)
	}

	v, err, _ := a.group.Do(fmt.Sprintf("%s\x00%s", role, task), func() (any, error) {
		return a.build(ctx, role, task)
	})
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().
			Err(err).Str("role", role).Str("task", task).
			Msg("prompt_subgraph_fallback")
		return withContext(defaultPrompt(role, task), runtimeContext)
	}

	prompt := v.(string)
	a.store(key, prompt)
	return withContext(prompt, runtimeContext)
}

// Invalidate drops the cached prompt for (role, task), if any. Callers that
// write to the prompt subgraph (an admin tool, a seed migration) should call
// this so readers don't wait out the full TTL.
func (a *Assembler) Invalidate(role, task string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cache, cacheKey{role, task})
}

func (a *Assembler) cached(key cacheKey) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.cache[key]
	if !ok || a.now().After(e.expires) {
		return "", false
	}
	return e.prompt, true
}

func (a *Assembler) store(key cacheKey, prompt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[key] = cacheEntry{prompt: prompt, expires: a.now().Add(a.ttl)}
}

func withContext(prompt, runtimeContext string) string {
	if strings.TrimSpace(runtimeContext) == "" {
		return prompt
	}
	return prompt + "\n" + runtimeContext
}

func (a *Assembler) build(ctx context.Context, role, task string) (string, error) {
	roleDesc, err := a.fetchRole(ctx, role)
	if err != nil {
		return "", err
	}
	taskName, taskDesc, err := a.fetchTask(ctx, role, task)
	if err != nil {
		return "", err
	}
	instructions, rules, err := a.fetchInstructionsAndRules(ctx, taskName)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ROLE: %s\n", roleDesc)
	fmt.Fprintf(&b, "TASK: %s\n", taskDesc)
	b.WriteString("PROTOCOL:\n")
	for _, ins := range instructions {
		fmt.Fprintf(&b, "  - %s\n", ins.content)
	}
	b.WriteString("RULES:\n")
	for _, r := range rules {
		fmt.Fprintf(&b, "  * %s\n", r.content)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (a *Assembler) fetchRole(ctx context.Context, role string) (string, error) {
	res, err := a.g.ROQuery(ctx, a.graphName,
		`MATCH (r:Role {name: $role}) RETURN r.description AS description`,
		map[string]any{"role": role})
	if err != nil {
		return "", fmt.Errorf("prompt: fetch role %s: %w", role, err)
	}
	if res.Empty() {
		return "", fmt.Errorf("%w: %s", ErrRoleNotFound, role)
	}
	desc, _ := res.First()["description"].(string)
	return desc, nil
}

func (a *Assembler) fetchTask(ctx context.Context, role, task string) (name, description string, err error) {
	res, err := a.g.ROQuery(ctx, a.graphName,
		`MATCH (:Role {name: $role})-[:RESPONSIBLE_FOR]->(t:Task)
RETURN t.name AS name, t.description AS description ORDER BY t.name`,
		map[string]any{"role": role})
	if err != nil {
		return "", "", fmt.Errorf("prompt: fetch tasks for role %s: %w", role, err)
	}
	if res.Empty() {
		return "", "", fmt.Errorf("%w: role %s has no tasks", ErrTaskNotFound, role)
	}
	if task != "" {
		for _, row := range res.Rows {
			if n, _ := row["name"].(string); n == task {
				d, _ := row["description"].(string)
				return n, d, nil
			}
		}
		return "", "", fmt.Errorf("%w: %s", ErrTaskNotFound, task)
	}
	if len(res.Rows) != 1 {
		return "", "", fmt.Errorf("%w: role %s", ErrTaskAmbiguous, role)
	}
	row := res.Rows[0]
	n, _ := row["name"].(string)
	d, _ := row["description"].(string)
	return n, d, nil
}

type namedContent struct{ name, content string }

func (a *Assembler) fetchInstructionsAndRules(ctx context.Context, task string) ([]namedContent, []namedContent, error) {
	var instructions []namedContent

	viaProtocol, err := a.g.ROQuery(ctx, a.graphName,
		`MATCH (:Task {name: $task})-[:FOLLOWS_PROTOCOL]->(:Protocol)-[:COMPOSED_OF]->(i:Instruction)
RETURN i.name AS name, i.content AS content ORDER BY i.name`,
		map[string]any{"task": task})
	if err != nil {
		return nil, nil, fmt.Errorf("prompt: fetch protocol instructions for task %s: %w", task, err)
	}
	instructions = append(instructions, rowsToNamedContent(viaProtocol)...)

	direct, err := a.g.ROQuery(ctx, a.graphName,
		`MATCH (:Task {name: $task})-[:FOLLOWS]->(i:Instruction)
RETURN i.name AS name, i.content AS content ORDER BY i.name`,
		map[string]any{"task": task})
	if err != nil {
		return nil, nil, fmt.Errorf("prompt: fetch direct instructions for task %s: %w", task, err)
	}
	instructions = append(instructions, rowsToNamedContent(direct)...)

	var rules []namedContent
	for _, ins := range instructions {
		res, err := a.g.ROQuery(ctx, a.graphName,
			`MATCH (:Instruction {name: $name})-[:ENFORCES]->(r:Rule)
RETURN r.name AS name, r.content AS content`,
			map[string]any{"name": ins.name})
		if err != nil {
			return nil, nil, fmt.Errorf("prompt: fetch rules for instruction %s: %w", ins.name, err)
		}
		rules = append(rules, rowsToNamedContent(res)...)
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].name < rules[j].name })

	return instructions, rules, nil
}

func rowsToNamedContent(res *graph.Result) []namedContent {
	out := make([]namedContent, 0, len(res.Rows))
	for _, row := range res.Rows {
		n, _ := row["name"].(string)
		c, _ := row["content"].(string)
		out = append(out, namedContent{name: n, content: c})
	}
	return out
}
