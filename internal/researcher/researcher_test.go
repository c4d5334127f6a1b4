package researcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llitpux/cogstream/internal/graph"
	"github.com/llitpux/cogstream/internal/llm"
)

type scriptedCaller struct {
	replies []llm.Message
	calls   int
}

func (c *scriptedCaller) Call(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, responseSchema map[string]any) (llm.Message, string, error) {
	idx := c.calls
	c.calls++
	return c.replies[idx], "stub", nil
}

func TestResearchExecutesValidatedQueryAndSummarizes(t *testing.T) {
	caller := &scriptedCaller{replies: []llm.Message{
		{Content: `{"cypher":"MATCH (t:Topic) WHERE t.status = 'active' RETURN t.title AS title LIMIT 10","params":{}}`},
		{Content: "You've been actively discussing Docker and Kubernetes."},
	}}
	fg := graph.NewFakeGraph()
	fg.On("PrimaryMemory",
		"MATCH (t:Topic) WHERE t.status = 'active' RETURN t.title AS title LIMIT 10",
		&graph.Result{Rows: []graph.Row{{"title": "Docker"}, {"title": "Kubernetes"}}})

	r := New(caller, fg, "PrimaryMemory")
	summary, err := r.Research(context.Background(), "what topics have we discussed?")
	require.NoError(t, err)
	assert.Equal(t, "You've been actively discussing Docker and Kubernetes.", summary)
	assert.Equal(t, 2, caller.calls)
}

func TestResearchRejectsWriteClause(t *testing.T) {
	caller := &scriptedCaller{replies: []llm.Message{
		{Content: `{"cypher":"MATCH (t:Topic) SET t.status = 'archived' RETURN t LIMIT 10","params":{}}`},
	}}
	fg := graph.NewFakeGraph()

	r := New(caller, fg, "PrimaryMemory")
	_, err := r.Research(context.Background(), "archive old topics")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Empty(t, fg.Calls, "a rejected query must never execute")
}

func TestResearchRejectsUnboundedQuery(t *testing.T) {
	caller := &scriptedCaller{replies: []llm.Message{
		{Content: `{"cypher":"MATCH (t:Topic) RETURN t LIMIT 500","params":{}}`},
	}}
	fg := graph.NewFakeGraph()

	r := New(caller, fg, "PrimaryMemory")
	_, err := r.Research(context.Background(), "list every topic")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestResearchRejectsMissingLimit(t *testing.T) {
	caller := &scriptedCaller{replies: []llm.Message{
		{Content: `{"cypher":"MATCH (t:Topic) RETURN t","params":{}}`},
	}}
	fg := graph.NewFakeGraph()

	r := New(caller, fg, "PrimaryMemory")
	_, err := r.Research(context.Background(), "list topics")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestResearchRefinesOnceOnEmptyResult(t *testing.T) {
	caller := &scriptedCaller{replies: []llm.Message{
		{Content: `{"cypher":"MATCH (t:Topic {title:'nonexistent'}) RETURN t.title AS title LIMIT 10","params":{}}`},
		{Content: `{"cypher":"MATCH (t:Topic) RETURN t.title AS title LIMIT 10","params":{}}`},
		{Content: "Refined search found related topics."},
	}}
	fg := graph.NewFakeGraph()
	fg.On("PrimaryMemory",
		"MATCH (t:Topic {title:'nonexistent'}) RETURN t.title AS title LIMIT 10",
		&graph.Result{})
	fg.On("PrimaryMemory",
		"MATCH (t:Topic) RETURN t.title AS title LIMIT 10",
		&graph.Result{Rows: []graph.Row{{"title": "Docker"}}})

	r := New(caller, fg, "PrimaryMemory")
	summary, err := r.Research(context.Background(), "anything about nonexistent topic?")
	require.NoError(t, err)
	assert.Equal(t, "Refined search found related topics.", summary)
	assert.Equal(t, 3, caller.calls)
}

func TestResearchReturnsPlaceholderWhenBothIterationsEmpty(t *testing.T) {
	caller := &scriptedCaller{replies: []llm.Message{
		{Content: `{"cypher":"MATCH (t:Topic {title:'a'}) RETURN t.title AS title LIMIT 10","params":{}}`},
		{Content: `{"cypher":"MATCH (t:Topic {title:'b'}) RETURN t.title AS title LIMIT 10","params":{}}`},
	}}
	fg := graph.NewFakeGraph()

	r := New(caller, fg, "PrimaryMemory")
	summary, err := r.Research(context.Background(), "anything about topic?")
	require.NoError(t, err)
	assert.Contains(t, summary, "No matching information")
	assert.Equal(t, 2, caller.calls)
}
