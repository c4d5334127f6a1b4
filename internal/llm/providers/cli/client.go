// Package cli adapts the Switchboard's provider contract to a subprocess:
// one invocation per call, prompt on stdin, completion on stdout, non-zero
// exit classified as retryable (spec §4.8). Grounded on the subprocess
// bootstrap in internal/mcp/servers.go (manifold) — StdinPipe/StdoutPipe/
// Start — repurposed from a long-lived MCP server launch into a single-shot
// completion call.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/llitpux/cogstream/internal/config"
	"github.com/llitpux/cogstream/internal/errkind"
	"github.com/llitpux/cogstream/internal/llm"
)

type Client struct {
	command string
	args    []string
	name    string
}

// New builds a Client that spawns cfg.Command with cfg.Args for every call.
// name is the Switchboard-facing provider identifier (e.g. "cli_gemini").
func New(name string, cfg config.CLIProviderConfig) *Client {
	return &Client{command: cfg.Command, args: cfg.Args, name: name}
}

func (c *Client) Name() string { return c.name }

// wireRequest/wireResponse are the JSON contract the subprocess speaks on
// stdin/stdout: a flat message list in, a single completion out.
type wireRequest struct {
	Messages       []llm.Message  `json:"messages"`
	Model          string         `json:"model,omitempty"`
	ResponseSchema map[string]any `json:"response_schema,omitempty"`
}

type wireResponse struct {
	Content string `json:"content"`
}

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, responseSchema map[string]any) (llm.Message, error) {
	ctx, span := llm.StartRequestSpan(ctx, "cli.Chat", model, len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	req := wireRequest{Messages: msgs, Model: model, ResponseSchema: responseSchema}
	body, err := json.Marshal(req)
	if err != nil {
		return llm.Message{}, &errkind.FatalError{Err: fmt.Errorf("cli provider: marshal request: %w", err)}
	}

	cmd := exec.CommandContext(ctx, c.command, c.args...)
	cmd.Stdin = bytes.NewReader(body)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return llm.Message{}, &errkind.RetryableError{
			Err: fmt.Errorf("cli provider: %s exited: %w (stderr: %s)", c.command, err, strings.TrimSpace(stderr.String())),
		}
	}

	var resp wireResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return llm.Message{}, &errkind.RetryableError{Err: fmt.Errorf("cli provider: parse stdout: %w", err)}
	}
	return llm.Message{Role: "assistant", Content: resp.Content}, nil
}
