package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/llitpux/cogstream/internal/audit"
	"github.com/llitpux/cogstream/internal/bus"
	"github.com/llitpux/cogstream/internal/config"
	"github.com/llitpux/cogstream/internal/graph"
	"github.com/llitpux/cogstream/internal/model"
	"github.com/llitpux/cogstream/internal/observability"
	"github.com/llitpux/cogstream/internal/prompt"
	"github.com/llitpux/cogstream/internal/researcher"
	"github.com/llitpux/cogstream/internal/switchboard"
)

// Pipeline owns every stream's worker pool plus the shared Bus, Store, and
// Switchboard they run against. Built once at process start by New, torn
// down by the function Run returns.
type Pipeline struct {
	Bus    bus.Bus
	Store  graph.Store
	Agent  model.Agent

	scribe      *Scribe
	gatekeeper  *Gatekeeper
	thinker     *Thinker
	analyst     *Analyst
	coordinator *Coordinator
	responder   *Responder

	cfg config.Config
}

// Deps holds the collaborators New does not construct itself, either
// because they need a live network connection (Store, Graph) or because
// they're optional externally-injected adapters (Sender, ToolInvoker).
type Deps struct {
	Store  graph.Store // domain-level operations, used by every stage
	Graph  graph.Graph // raw Cypher client, used by the Prompt Assembler and Researcher
	Ledger audit.Ledger
	Tools  ToolInvoker // may be nil; search_web/fetch_user_profile become no-ops
	Sender Sender      // may be nil; Responder then composes but does not deliver
}

// New wires every stream stage from cfg and deps, grounded on
// internal/orchestrator (manifold)'s single bootstrap function that builds
// the jobs channel, worker pool, and consumer in one place per stage.
func New(cfg config.Config, deps Deps) (*Pipeline, error) {
	agent := model.Agent{
		TelegramID: cfg.Agent.TelegramID,
		ID:         fmt.Sprintf("agent:%d", cfg.Agent.TelegramID),
		Name:       cfg.Agent.Name,
	}

	b := newBus(cfg)

	httpClient := observability.NewHTTPClient(&http.Client{Timeout: 60 * time.Second})
	sb, err := switchboard.Build(cfg.Providers, httpClient)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build switchboard: %w", err)
	}

	var assembler *prompt.Assembler
	var res *researcher.Researcher
	if deps.Graph != nil {
		assembler = prompt.New(deps.Graph, cfg.Graph.PrimaryName, cfg.Prompt.CacheTTL())
		res = researcher.New(sb, deps.Graph, cfg.Graph.PrimaryName)
	}

	ledger := deps.Ledger
	if ledger == nil {
		ledger = audit.NoopLedger{}
	}

	p := &Pipeline{
		Bus:   b,
		Store: deps.Store,
		Agent: agent,
		cfg:   cfg,

		scribe:      NewScribe(deps.Store, b, ledger, agent),
		gatekeeper:  NewGatekeeper(sb, assembler, deps.Store, b, agent, cfg.Gatekeeper.Model, cfg.Thinker.HistoryK),
		thinker:     NewThinker(sb, assembler, deps.Store, b, cfg.Gatekeeper.Model, cfg.Thinker.HistoryK),
		analyst:     NewAnalyst(sb, assembler, b, cfg.Gatekeeper.Model),
		coordinator: NewCoordinator(deps.Store, res, deps.Tools, b, agent, cfg.Coordinator.TaskTimeout(), cfg.Coordinator.MaxWorkersPerChat),
		responder:   NewResponder(sb, assembler, deps.Store, deps.Sender, b, agent, cfg.Gatekeeper.Model),
	}
	return p, nil
}

func newBus(cfg config.Config) bus.Bus {
	return bus.NewChannelBus(cfg.Streams)
}

// Run starts every stream's worker pool and returns a function that signals
// shutdown and blocks until every stage has drained its in-flight work.
func (p *Pipeline) Run(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	streams := p.cfg.Streams
	drains := []func(){
		p.scribe.Run(ctx, streams.Scribe.Workers),
		p.gatekeeper.Run(ctx, streams.Gatekeeper.Workers),
		p.thinker.Run(ctx, streams.Thinker.Workers),
		p.analyst.Run(ctx, streams.Analyst.Workers),
		p.coordinator.Run(ctx, streams.Coordinator.Workers),
		p.responder.Run(ctx, streams.Responder.Workers),
	}
	return func() {
		cancel()
		for _, drain := range drains {
			drain()
		}
	}
}

// Ingest publishes a raw Telegram event onto the ingestion channel, the
// single entry point into the pipeline (spec §4.1: "ingestion never
// dropped").
func (p *Pipeline) Ingest(ctx context.Context, raw RawEvent) error {
	return p.Bus.Enqueue(ctx, bus.Ingestion, bus.Envelope{
		ChatID:     raw.ChatID,
		EnqueuedAt: time.Now(),
		Payload:    raw,
	})
}
