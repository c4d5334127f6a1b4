// Package graph talks to the temporal, append-only multi-graph store that
// backs every pipeline stage. The wire protocol is Redis: queries are issued
// as GRAPH.QUERY/GRAPH.RO_QUERY commands against one of two logical graphs,
// PrimaryMemory and ThoughtLog (spec §3/§6).
package graph

import "context"

// Row is a single result row, keyed by the query's RETURN column names.
type Row map[string]any

// Result is a parsed GRAPH.QUERY/GRAPH.RO_QUERY reply.
type Result struct {
	Columns []string
	Rows    []Row
}

// Empty reports whether the query returned no rows.
func (r *Result) Empty() bool { return r == nil || len(r.Rows) == 0 }

// First returns the first row, or nil when the result is empty.
func (r *Result) First() Row {
	if r.Empty() {
		return nil
	}
	return r.Rows[0]
}

// Graph is the contract every pipeline stage programs against. WireClient
// implements it against a real GRAPH.QUERY-speaking server; FakeGraph
// implements it in-process for tests.
type Graph interface {
	// Query runs a read/write Cypher statement against graphName.
	Query(ctx context.Context, graphName, cypher string, params map[string]any) (*Result, error)
	// ROQuery runs a read-only Cypher statement against graphName. A server
	// that enforces read-only mode will reject any write clause.
	ROQuery(ctx context.Context, graphName, cypher string, params map[string]any) (*Result, error)
	// Ping verifies connectivity; used by the graph-ping CLI command and at
	// startup (an unreachable graph at startup is a fatal configuration
	// error per spec §7).
	Ping(ctx context.Context) error
	Close() error
}
