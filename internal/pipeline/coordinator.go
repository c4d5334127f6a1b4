package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/llitpux/cogstream/internal/bus"
	"github.com/llitpux/cogstream/internal/graph"
	"github.com/llitpux/cogstream/internal/model"
	"github.com/llitpux/cogstream/internal/observability"
	"github.com/llitpux/cogstream/internal/researcher"
)

// ToolInvoker dispatches the Coordinator's out-of-graph actions
// (search_web, fetch_user_profile) to whatever backs them — an MCP server
// fan-out in production, a stub in tests.
type ToolInvoker interface {
	Invoke(ctx context.Context, action Action, args map[string]any) (string, error)
}

// runState tracks the in-flight execution for one Chat so a fresher
// AnalystSnapshot can cooperatively cancel it (spec §4.6 Cancellation).
type runState struct {
	cancel context.CancelFunc
}

// Coordinator is the plan-execution stream (spec §4.6): it runs an
// AnalystSnapshot's task DAG, respects per-task soft deadlines, detects
// late-arriving input for the same chat before finalizing, and aggregates
// results into a ContextContext for Responder.
type Coordinator struct {
	store      graph.Store
	researcher *researcher.Researcher
	tools      ToolInvoker
	b          bus.Bus
	agent      model.Agent

	taskTimeout       time.Duration
	maxWorkersPerChat int

	mu       sync.Mutex
	inflight map[int64]*runState
}

// NewCoordinator builds a Coordinator. tools may be nil, in which case
// search_web/fetch_user_profile tasks return an empty result.
func NewCoordinator(store graph.Store, res *researcher.Researcher, tools ToolInvoker, b bus.Bus, agent model.Agent, taskTimeout time.Duration, maxWorkersPerChat int) *Coordinator {
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Second
	}
	return &Coordinator{
		store:             store,
		researcher:        res,
		tools:             tools,
		b:                 b,
		agent:             agent,
		taskTimeout:       taskTimeout,
		maxWorkersPerChat: maxWorkersPerChat,
		inflight:          make(map[int64]*runState),
	}
}

// Run starts Coordinator's execution worker pool.
func (c *Coordinator) Run(ctx context.Context, workers int) func() {
	return runWorkers(ctx, "coordinator.execution", workers, c.b.Consume(bus.Execution), c.handleExecution)
}

func (c *Coordinator) handleExecution(ctx context.Context, env bus.Envelope) {
	snap, ok := env.Payload.(AnalystSnapshot)
	if !ok {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	st := &runState{cancel: cancel}

	c.mu.Lock()
	if prior, exists := c.inflight[snap.ChatID]; exists {
		prior.cancel() // Initial: the newer intent supersedes (spec §4.6)
	}
	c.inflight[snap.ChatID] = st
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.inflight[snap.ChatID] == st {
			delete(c.inflight, snap.ChatID)
		}
		c.mu.Unlock()
	}()

	c.runSnapshot(runCtx, snap)
}

func (c *Coordinator) runSnapshot(ctx context.Context, snap AnalystSnapshot) {
	log := observability.LoggerWithTrace(ctx)
	taskRef := snap.MessageUID

	// Initial: acquire the WORKING_ON lock.
	if err := c.store.SetWorkingOn(ctx, c.agent.TelegramID, taskRef); err != nil {
		log.Error().Err(err).Str("message_uid", taskRef).Msg("coordinator_set_working_on_failed")
	}

	// Running: schedule the DAG, independent leaves in parallel.
	results := c.schedule(ctx, snap)

	// MidCheck: a message for this chat arrived after we started — abort
	// without finalizing; the snapshot it eventually produces will run its
	// own Initial and supersede whatever state we leave behind.
	if c.midCheckFoundNewerMessage(snap) {
		log.Info().Str("message_uid", taskRef).Msg("coordinator_mid_check_aborted")
		if err := c.store.ClearWorkingOn(ctx, c.agent.TelegramID); err != nil {
			log.Error().Err(err).Msg("coordinator_clear_working_on_failed")
		}
		return
	}

	// Finalizing: aggregate into ContextContext.
	cc := ContextContext{ChatID: snap.ChatID, MessageUID: snap.MessageUID, Intent: snap.Intent, Target: snap.Target, Results: results}

	// Terminal: release the lock, hand off to Responder.
	if err := c.store.ClearWorkingOn(ctx, c.agent.TelegramID); err != nil {
		log.Error().Err(err).Msg("coordinator_clear_working_on_failed")
	}
	if err := c.b.Enqueue(context.Background(), bus.Response, bus.Envelope{ChatID: snap.ChatID, Payload: cc}); err != nil {
		log.Error().Err(err).Str("message_uid", taskRef).Msg("coordinator_response_enqueue_failed")
	}
}

func (c *Coordinator) midCheckFoundNewerMessage(snap AnalystSnapshot) bool {
	return containsOtherMessage(c.b.Peek(bus.Triage, snap.ChatID, snap.StartedAt), snap.MessageUID) ||
		containsOtherMessage(c.b.Peek(bus.Planning, snap.ChatID, snap.StartedAt), snap.MessageUID)
}

func containsOtherMessage(envs []bus.Envelope, excludeUID string) bool {
	for _, e := range envs {
		switch p := e.Payload.(type) {
		case TriageEnvelope:
			if p.MessageUID != excludeUID {
				return true
			}
		case PlanningEnvelope:
			if p.MessageUID != excludeUID {
				return true
			}
		}
	}
	return false
}

// schedule runs every task once its dependencies have completed, letting
// independent leaves proceed concurrently. Grounded on
// internal/agent/warpp.go (manifold)'s errgroup.WithContext fan-out of
// Authenticator/Personalizer; every task goroutine always returns nil (its
// outcome is captured in TaskResult, never in the group's error) since a
// single task's failure must not cancel any other task: its dependents still
// run once it finishes, alongside its empty result.
func (c *Coordinator) schedule(ctx context.Context, snap AnalystSnapshot) []TaskResult {
	doneCh := make(map[int]chan struct{}, len(snap.Tasks))
	for _, t := range snap.Tasks {
		doneCh[t.ID] = make(chan struct{})
	}

	var mu sync.Mutex
	results := make(map[int]TaskResult, len(snap.Tasks))
	var g errgroup.Group

	for _, t := range snap.Tasks {
		t := t
		g.Go(func() error {
			defer close(doneCh[t.ID])

			for _, dep := range t.DependsOn {
				select {
				case <-doneCh[dep]:
				case <-ctx.Done():
				}
			}

			var res TaskResult
			if ctx.Err() != nil {
				res = TaskResult{TaskID: t.ID, Cancelled: true}
			} else {
				res = c.runTask(ctx, t)
			}
			mu.Lock()
			results[t.ID] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]TaskResult, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		out = append(out, results[t.ID])
	}
	return out
}

// runTask enforces the per-task soft deadline: a breach marks the task
// timed_out with an empty result rather than failing the whole plan (spec
// §4.6).
func (c *Coordinator) runTask(ctx context.Context, t Task) TaskResult {
	taskCtx, cancel := context.WithTimeout(ctx, c.taskTimeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		output, err := c.execute(taskCtx, t)
		ch <- outcome{output, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			if errors.Is(o.err, context.Canceled) {
				return TaskResult{TaskID: t.ID, Cancelled: true}
			}
			if errors.Is(taskCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return TaskResult{TaskID: t.ID, TimedOut: true}
			}
			return TaskResult{TaskID: t.ID, Output: ""}
		}
		return TaskResult{TaskID: t.ID, Output: o.output}
	case <-taskCtx.Done():
		if ctx.Err() != nil {
			return TaskResult{TaskID: t.ID, Cancelled: true}
		}
		return TaskResult{TaskID: t.ID, TimedOut: true}
	}
}

func (c *Coordinator) execute(ctx context.Context, t Task) (string, error) {
	switch t.Action {
	case ActionReply:
		// Responder composes the actual reply text from ContextContext; the
		// task's presence in the plan is what Analyst's DAG validation needs.
		return "", nil
	case ActionSearchGraph:
		if c.researcher == nil {
			return "", nil
		}
		return c.researcher.Research(ctx, stringArg(t.Args, "question"))
	case ActionSearchWeb, ActionFetchUserProfile:
		if c.tools == nil {
			return "", nil
		}
		return c.tools.Invoke(ctx, t.Action, t.Args)
	case ActionRememberFact:
		return "", c.rememberFact(ctx, t.Args)
	default:
		return "", nil
	}
}

func (c *Coordinator) rememberFact(ctx context.Context, args map[string]any) error {
	fact := stringArg(args, "fact")
	if fact == "" {
		return nil
	}
	return c.store.AppendThoughtSnapshot(ctx, c.agent.TelegramID, model.ThoughtSnapshot{
		ID:        uuid.NewString(),
		Narrative: fact,
		Timestamp: time.Now().Unix(),
	})
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key].(string)
	if !ok {
		return ""
	}
	return v
}
