package graph

import (
	"context"
	"sync"
)

// Call records one invocation against a FakeGraph, for test assertions.
type Call struct {
	ReadOnly  bool
	GraphName string
	Cypher    string
	Params    map[string]any
}

// FakeGraph is a canned-response test double for Graph: the prompt
// assembler and researcher issue ad hoc Cypher directly (rather than
// through Store), so their tests seed expected query text instead of
// driving a full Cypher interpreter.
type FakeGraph struct {
	mu        sync.Mutex
	responses map[string]*Result
	errs      map[string]error
	Calls     []Call
	PingErr   error
}

// NewFakeGraph returns an empty FakeGraph.
func NewFakeGraph() *FakeGraph {
	return &FakeGraph{responses: make(map[string]*Result), errs: make(map[string]error)}
}

// On registers the Result to return for an exact (graphName, cypher) pair.
func (f *FakeGraph) On(graphName, cypher string, res *Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[graphName+"\x00"+cypher] = res
}

// OnError registers the error to return for an exact (graphName, cypher) pair.
func (f *FakeGraph) OnError(graphName, cypher string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[graphName+"\x00"+cypher] = err
}

func (f *FakeGraph) Query(ctx context.Context, graphName, cypher string, params map[string]any) (*Result, error) {
	return f.lookup(false, graphName, cypher, params)
}

func (f *FakeGraph) ROQuery(ctx context.Context, graphName, cypher string, params map[string]any) (*Result, error) {
	return f.lookup(true, graphName, cypher, params)
}

func (f *FakeGraph) lookup(readOnly bool, graphName, cypher string, params map[string]any) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{ReadOnly: readOnly, GraphName: graphName, Cypher: cypher, Params: params})
	key := graphName + "\x00" + cypher
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if res, ok := f.responses[key]; ok {
		return res, nil
	}
	return &Result{}, nil
}

func (f *FakeGraph) Ping(ctx context.Context) error { return f.PingErr }
func (f *FakeGraph) Close() error                   { return nil }
