package switchboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llitpux/cogstream/internal/errkind"
	"github.com/llitpux/cogstream/internal/llm"
)

type stubProvider struct {
	name    string
	replies []stubReply
	calls   int
}

type stubReply struct {
	msg llm.Message
	err error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, schema map[string]any) (llm.Message, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.replies) {
		return llm.Message{}, errNoMoreReplies
	}
	r := s.replies[idx]
	return r.msg, r.err
}

var errNoMoreReplies = assertError("stub provider: no more scripted replies")

type assertError string

func (e assertError) Error() string { return string(e) }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCallSucceedsOnFirstProvider(t *testing.T) {
	primary := &stubProvider{name: "a", replies: []stubReply{{msg: llm.Message{Role: "assistant", Content: "hi"}}}}
	secondary := &stubProvider{name: "b"}
	sb := New([]string{"a", "b"}, map[string]llm.Provider{"a": primary, "b": secondary}, 30*time.Second)

	msg, used, err := sb.Call(context.Background(), []llm.Message{{Role: "user", Content: "hello"}}, nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "a", used)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, 0, secondary.calls)
}

func TestCallFailsOverOnRetryableError(t *testing.T) {
	primary := &stubProvider{name: "a", replies: []stubReply{{err: &errkind.RetryableError{Err: errNoMoreReplies}}}}
	secondary := &stubProvider{name: "b", replies: []stubReply{{msg: llm.Message{Role: "assistant", Content: "ok"}}}}
	sb := New([]string{"a", "b"}, map[string]llm.Provider{"a": primary, "b": secondary}, 30*time.Second)

	msg, used, err := sb.Call(context.Background(), []llm.Message{{Role: "user", Content: "hello"}}, nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "b", used)
	assert.Equal(t, "ok", msg.Content)
	assert.True(t, sb.isUnhealthy("a"))
}

func TestCallAbortsOnFatalErrorWithoutFailover(t *testing.T) {
	primary := &stubProvider{name: "a", replies: []stubReply{{err: &errkind.FatalError{Err: errNoMoreReplies}}}}
	secondary := &stubProvider{name: "b", replies: []stubReply{{msg: llm.Message{Role: "assistant", Content: "ok"}}}}
	sb := New([]string{"a", "b"}, map[string]llm.Provider{"a": primary, "b": secondary}, 30*time.Second)

	_, used, err := sb.Call(context.Background(), []llm.Message{{Role: "user", Content: "hello"}}, nil, "", nil)
	require.Error(t, err)
	assert.Equal(t, "a", used)
	assert.Equal(t, 0, secondary.calls)
}

func TestCallNeverCallsSameProviderTwice(t *testing.T) {
	primary := &stubProvider{name: "a", replies: []stubReply{
		{err: &errkind.RetryableError{Err: errNoMoreReplies}},
		{msg: llm.Message{Role: "assistant", Content: "should never be reached"}},
	}}
	sb := New([]string{"a", "a"}, map[string]llm.Provider{"a": primary}, 30*time.Second)

	_, _, err := sb.Call(context.Background(), []llm.Message{{Role: "user", Content: "hello"}}, nil, "", nil)
	require.Error(t, err)
	assert.Equal(t, 1, primary.calls)
}

func TestCallSkipsUnhealthyProviderUntilCooldownExpires(t *testing.T) {
	primary := &stubProvider{name: "a"}
	secondary := &stubProvider{name: "b", replies: []stubReply{{msg: llm.Message{Role: "assistant", Content: "ok"}}}}
	sb := New([]string{"a", "b"}, map[string]llm.Provider{"a": primary, "b": secondary}, 30*time.Second)

	start := time.Now()
	sb.now = fixedClock(start)
	sb.markUnhealthy("a")

	assert.True(t, sb.isUnhealthy("a"))
	_, used, err := sb.Call(context.Background(), []llm.Message{{Role: "user", Content: "hello"}}, nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "b", used)
	assert.Equal(t, 0, primary.calls)

	sb.now = fixedClock(start.Add(31 * time.Second))
	assert.False(t, sb.isUnhealthy("a"))
}

func TestCallRetriesOnceAcrossProvidersOnSchemaViolation(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"verdict"},
		"properties": map[string]any{
			"verdict": map[string]any{"type": "string"},
		},
	}
	primary := &stubProvider{name: "a", replies: []stubReply{{msg: llm.Message{Role: "assistant", Content: "not json"}}}}
	secondary := &stubProvider{name: "b", replies: []stubReply{{msg: llm.Message{Role: "assistant", Content: `{"verdict":"keep"}`}}}}
	sb := New([]string{"a", "b"}, map[string]llm.Provider{"a": primary, "b": secondary}, 30*time.Second)

	msg, used, err := sb.Call(context.Background(), []llm.Message{{Role: "user", Content: "classify"}}, nil, "", schema)
	require.NoError(t, err)
	assert.Equal(t, "b", used)
	assert.Equal(t, `{"verdict":"keep"}`, msg.Content)
}

func TestCallGivesUpAfterOneSchemaRetry(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"verdict"},
	}
	primary := &stubProvider{name: "a", replies: []stubReply{{msg: llm.Message{Role: "assistant", Content: "nope"}}}}
	secondary := &stubProvider{name: "b", replies: []stubReply{{msg: llm.Message{Role: "assistant", Content: "still nope"}}}}
	sb := New([]string{"a", "b"}, map[string]llm.Provider{"a": primary, "b": secondary}, 30*time.Second)

	_, _, err := sb.Call(context.Background(), []llm.Message{{Role: "user", Content: "classify"}}, nil, "", schema)
	require.Error(t, err)
}
