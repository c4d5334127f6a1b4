package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/llitpux/cogstream/internal/config"
	"github.com/llitpux/cogstream/internal/errkind"
)

// WireClient speaks GRAPH.QUERY/GRAPH.RO_QUERY over the Redis wire protocol,
// the same bootstrap-and-ping shape the teacher's Redis dedupe store uses.
type WireClient struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewWireClient dials addr and verifies connectivity with a PING. An
// unreachable graph at construction time is the spec's "graph unreachable"
// startup condition (exit code 3 at the CLI boundary).
func NewWireClient(cfg config.GraphConfig) (*WireClient, error) {
	timeout := time.Duration(cfg.DialTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DialTimeout: timeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, &errkind.FatalError{Err: fmt.Errorf("graph: ping %s: %w", cfg.Addr(), err)}
	}
	return &WireClient{rdb: rdb, timeout: timeout}, nil
}

func (c *WireClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *WireClient) Close() error {
	return c.rdb.Close()
}

// Query issues GRAPH.QUERY, which permits both reads and writes.
func (c *WireClient) Query(ctx context.Context, graphName, cypher string, params map[string]any) (*Result, error) {
	return c.do(ctx, "GRAPH.QUERY", graphName, cypher, params)
}

// ROQuery issues GRAPH.RO_QUERY; the server rejects any write clause, giving
// the researcher subsystem a structural read-only guarantee instead of a
// string-sniffed one (spec §4.5, "Researcher queries must be read-only").
func (c *WireClient) ROQuery(ctx context.Context, graphName, cypher string, params map[string]any) (*Result, error) {
	return c.do(ctx, "GRAPH.RO_QUERY", graphName, cypher, params)
}

func (c *WireClient) do(ctx context.Context, cmd, graphName, cypher string, params map[string]any) (*Result, error) {
	full := formatQuery(cypher, params)
	raw, err := c.rdb.Do(ctx, cmd, graphName, full).Result()
	if err != nil {
		return nil, &errkind.RetryableError{Err: fmt.Errorf("graph: %s %s: %w", cmd, graphName, err)}
	}
	res, err := parseReply(raw)
	if err != nil {
		return nil, &errkind.RetryableError{Err: fmt.Errorf("graph: parse reply: %w", err)}
	}
	return res, nil
}
