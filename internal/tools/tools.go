// Package tools adapts Coordinator's out-of-graph actions (search_web,
// fetch_user_profile) onto MCP servers spawned as subprocesses, one per
// configured action. The subprocess-per-server lifecycle — spawn, pipe
// stdio, initialize, tear down on Close — is the teacher's
// internal/mcp.StartClientsFromConfig shape, rewritten against the official
// github.com/modelcontextprotocol/go-sdk client instead of the teacher's
// metoro-io/mcp-golang.
package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/llitpux/cogstream/internal/config"
	"github.com/llitpux/cogstream/internal/pipeline"
)

// binding pairs a live MCP session with the tool name to invoke on it and
// the subprocess owning it, so Close can reap every process it started.
type binding struct {
	session *mcp.ClientSession
	cmd     *exec.Cmd
	tool    string
}

// Manager implements pipeline.ToolInvoker by routing each Action to its own
// MCP server subprocess, started once at construction and held open for the
// process lifetime.
type Manager struct {
	mu       sync.Mutex
	bindings map[pipeline.Action]*binding
}

var _ pipeline.ToolInvoker = (*Manager)(nil)

// New spawns one MCP server subprocess per non-empty entry in cfg and
// connects a client session to each. An action with an empty Command is
// left unbound; Invoke returns an error for it rather than failing startup.
func New(ctx context.Context, cfg config.ToolsConfig) (*Manager, error) {
	m := &Manager{bindings: make(map[pipeline.Action]*binding)}

	actions := []struct {
		action pipeline.Action
		server config.MCPServerConfig
	}{
		{pipeline.ActionSearchWeb, cfg.SearchWeb},
		{pipeline.ActionFetchUserProfile, cfg.FetchUserProfile},
	}
	for _, a := range actions {
		if a.server.Empty() {
			continue
		}
		b, err := startServer(ctx, a.action, a.server)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.bindings[a.action] = b
	}
	return m, nil
}

func startServer(ctx context.Context, action pipeline.Action, srv config.MCPServerConfig) (*binding, error) {
	cmd := exec.CommandContext(ctx, srv.Command, srv.Args...)
	if len(srv.Env) > 0 {
		env := os.Environ()
		for k, v := range srv.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "cogstream", Version: "dev"}, nil)
	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd})
	if err != nil {
		return nil, fmt.Errorf("tools: connect %s MCP server: %w", action, err)
	}
	return &binding{session: session, cmd: cmd, tool: srv.Tool}, nil
}

// Invoke calls the bound tool for action with args and flattens its text
// content into a single string; non-text content is dropped rather than
// failing the call, since Coordinator only ever folds the result into a
// reply prompt as plain text.
func (m *Manager) Invoke(ctx context.Context, action pipeline.Action, args map[string]any) (string, error) {
	m.mu.Lock()
	b, ok := m.bindings[action]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("tools: no MCP server configured for action %q", action)
	}

	res, err := b.session.CallTool(ctx, &mcp.CallToolParams{Name: b.tool, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("tools: call %q (%s): %w", b.tool, action, err)
	}
	if res.IsError {
		return "", fmt.Errorf("tools: %q reported an error result", b.tool)
	}
	return flattenContent(res.Content), nil
}

func flattenContent(content []mcp.Content) string {
	var out strings.Builder
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			if out.Len() > 0 {
				out.WriteByte('\n')
			}
			out.WriteString(tc.Text)
		}
	}
	return out.String()
}

// Close terminates every subprocess this Manager started.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bindings {
		_ = b.session.Close()
		if b.cmd.Process != nil {
			_ = b.cmd.Process.Kill()
		}
	}
	return nil
}
