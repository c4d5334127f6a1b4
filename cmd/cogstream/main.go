// Command cogstream runs the Cognitive Stream Pipeline's operational CLI:
// serve (start all streams), backfill (reprocess persisted messages through
// Thinker), and graph-ping (health check) — spec §6's three operator-facing
// subcommands, exit codes 0/2/3/4 per the same table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/llitpux/cogstream/internal/audit"
	"github.com/llitpux/cogstream/internal/bus"
	"github.com/llitpux/cogstream/internal/config"
	"github.com/llitpux/cogstream/internal/graph"
	"github.com/llitpux/cogstream/internal/observability"
	"github.com/llitpux/cogstream/internal/pipeline"
	"github.com/llitpux/cogstream/internal/tools"
)

const (
	exitOK            = 0
	exitConfigError   = 2
	exitGraphUnreach  = 3
	exitNoProviders   = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: cogstream <serve|backfill|graph-ping> [-config path]")
		return exitConfigError
	}
	cmd := args[0]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to config.yaml")
	if err := fs.Parse(args[1:]); err != nil {
		return exitConfigError
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigError
	}
	observability.InitLogger("", cfg.Obs.LogLevel)

	switch cmd {
	case "serve":
		return cmdServe(cfg)
	case "backfill":
		return cmdBackfill(cfg)
	case "graph-ping":
		return cmdGraphPing(cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		return exitConfigError
	}
}

// connectGraph dials the graph and wraps it in the domain-level Store,
// returning exitGraphUnreach on failure per spec §6's exit-code table.
func connectGraph(cfg config.Config) (*graph.WireClient, graph.Store, int) {
	client, err := graph.NewWireClient(cfg.Graph)
	if err != nil {
		fmt.Fprintf(os.Stderr, "graph unreachable: %v\n", err)
		return nil, nil, exitGraphUnreach
	}
	store := graph.NewWireStore(client, cfg.Graph.PrimaryName, cfg.Graph.ThoughtLogName)
	return client, store, exitOK
}

func cmdServe(cfg config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, store, code := connectGraph(cfg)
	if code != exitOK {
		return code
	}
	defer store.Close()

	var toolInvoker pipeline.ToolInvoker
	if !cfg.Tools.SearchWeb.Empty() || !cfg.Tools.FetchUserProfile.Empty() {
		mgr, err := tools.New(ctx, cfg.Tools)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tools startup error: %v\n", err)
			return exitConfigError
		}
		defer mgr.Close()
		toolInvoker = mgr
	}

	var ledgerShutdown func()
	deps := pipeline.Deps{Store: store, Graph: client, Tools: toolInvoker}
	if cfg.Audit.Enabled {
		led, err := newAuditLedger(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "audit ledger error: %v\n", err)
			return exitConfigError
		}
		deps.Ledger = led
		ledgerShutdown = led.Close
	}

	p, err := pipeline.New(cfg, deps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeline startup error: %v\n", err)
		return exitNoProviders
	}

	drain := p.Run(ctx)
	observability.LoggerWithTrace(ctx).Info().Msg("cogstream_serve_started")

	<-ctx.Done()
	observability.LoggerWithTrace(context.Background()).Info().Msg("cogstream_serve_shutting_down")
	drain()
	if ledgerShutdown != nil {
		ledgerShutdown()
	}
	return exitOK
}

func cmdGraphPing(cfg config.Config) int {
	client, err := graph.NewWireClient(cfg.Graph)
	if err != nil {
		fmt.Fprintf(os.Stderr, "graph unreachable: %v\n", err)
		return exitGraphUnreach
	}
	defer client.Close()

	ctx := context.Background()
	for _, name := range []string{cfg.Graph.PrimaryName, cfg.Graph.ThoughtLogName} {
		start := time.Now()
		if _, err := client.Query(ctx, name, "RETURN 1", nil); err != nil {
			fmt.Fprintf(os.Stderr, "graph-ping %s: %v\n", name, err)
			return exitGraphUnreach
		}
		fmt.Printf("%s: ok (%s)\n", name, time.Since(start))
	}
	return exitOK
}

// cmdBackfill finds Messages that never reached Thinker (no DISCUSSES or
// MENTIONS edge) and re-publishes them onto Deepen — the channel upstream
// of enrichment — so a fresh run of the Pipeline's own Thinker worker pool
// reprocesses them without going through Gatekeeper again (spec
// SUPPLEMENTED FEATURES: "backfill").
func cmdBackfill(cfg config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, store, code := connectGraph(cfg)
	if code != exitOK {
		return code
	}
	defer store.Close()

	uids, err := unenrichedMessageUIDs(ctx, client, cfg.Graph.PrimaryName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backfill query error: %v\n", err)
		return exitGraphUnreach
	}
	if len(uids) == 0 {
		fmt.Println("backfill: nothing to reprocess")
		return exitOK
	}

	p, err := pipeline.New(cfg, pipeline.Deps{Store: store, Graph: client})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeline startup error: %v\n", err)
		return exitNoProviders
	}
	drain := p.Run(ctx)

	for i, uid := range uids {
		chatID, err := chatIDFromUID(uid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "backfill: skipping %s: %v\n", uid, err)
			continue
		}
		verdict := pipeline.GateVerdict{Target: pipeline.TargetContext, RequiredDepth: pipeline.DepthDeepAnalysis, ToneHint: pipeline.ToneNeutral}
		env := bus.Envelope{ChatID: chatID, Payload: pipeline.DeepenEnvelope{MessageUID: uid, Verdict: verdict}}
		if err := p.Bus.Enqueue(ctx, bus.Deepen, env); err != nil {
			fmt.Fprintf(os.Stderr, "backfill: enqueue %s: %v\n", uid, err)
		}
		fmt.Printf("backfill: queued %s (%d/%d)\n", pipeline.FormatDailyLabel("BF", i+1), i+1, len(uids))
	}

	waitForDrain(p.Bus)
	drain()
	fmt.Printf("backfill: reprocessed %d messages\n", len(uids))
	return exitOK
}

// waitForDrain polls the queues a backfilled message passes through until
// they're empty, then allows a short settle window for in-flight handler
// goroutines to finish their final writes. The Bus interface has no
// explicit drained signal; len() on a receive-only channel is well-defined
// in Go, so this works against any Bus whose Consume returns a real channel.
func waitForDrain(b bus.Bus) {
	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		if len(b.Consume(bus.Deepen)) == 0 && len(b.Consume(bus.Enrichment)) == 0 && len(b.Consume(bus.Planning)) == 0 {
			time.Sleep(500 * time.Millisecond)
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func newAuditLedger(ctx context.Context, cfg config.Config) (*audit.PostgresLedger, error) {
	return audit.NewPostgresLedger(ctx, cfg.Audit.PostgresDSN)
}

// chatIDFromUID recovers the chat id Thinker needs for its RecentMessages
// lookup from a message uid in model.MessageUID's "chat_id:message_id" form.
func chatIDFromUID(uid string) (int64, error) {
	chatPart, _, found := strings.Cut(uid, ":")
	if !found {
		return 0, fmt.Errorf("malformed message uid %q", uid)
	}
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed chat id in uid %q: %w", uid, err)
	}
	return chatID, nil
}

func unenrichedMessageUIDs(ctx context.Context, g graph.Graph, primaryName string) ([]string, error) {
	res, err := g.ROQuery(ctx, primaryName, `
MATCH (m:Message)
WHERE NOT (m)-[:DISCUSSES]->() AND NOT (m)-[:MENTIONS]->()
RETURN m.uid AS uid`, nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if uid, ok := row["uid"].(string); ok {
			out = append(out, uid)
		}
	}
	return out, nil
}
