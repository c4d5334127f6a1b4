// Package google adapts the Switchboard's provider contract to the Gemini
// API. Grounded on internal/llm/google/client.go (manifold), trimmed of
// streaming and the teacher's self-hosted-endpoint quirks.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"github.com/llitpux/cogstream/internal/config"
	"github.com/llitpux/cogstream/internal/errkind"
	"github.com/llitpux/cogstream/internal/llm"
)

type Client struct {
	client *genai.Client
	model  string
}

func New(cfg config.GoogleConfig, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	httpOpts := genai.HTTPOptions{}
	if cfg.Timeout > 0 {
		t := time.Duration(cfg.Timeout) * time.Second
		httpOpts.Timeout = &t
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		httpOpts.BaseURL = strings.TrimSuffix(base, "/") + "/"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: strings.TrimSpace(cfg.APIKey), HTTPClient: httpClient, HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("init google client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) Name() string { return "google_gemini" }

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, responseSchema map[string]any) (llm.Message, error) {
	effectiveModel := model
	if effectiveModel == "" {
		effectiveModel = c.model
	}

	ctx, span := llm.StartRequestSpan(ctx, "google.Chat", effectiveModel, len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	contents, systemInstruction := toContents(msgs)
	cfg := &genai.GenerateContentConfig{SystemInstruction: systemInstruction}
	if len(tools) > 0 {
		cfg.Tools = adaptTools(tools)
	}
	if responseSchema != nil {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, effectiveModel, contents, cfg)
	if err != nil {
		return llm.Message{}, classifyError(err)
	}
	return messageFromResponse(resp)
}

func toContents(msgs []llm.Message) ([]*genai.Content, *genai.Content) {
	var system *genai.Content
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			system = genai.NewContentFromText(m.Content, genai.RoleUser)
		case "user", "tool":
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		default:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}
	return out, system
}

func adaptTools(tools []llm.ToolSchema) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name: t.Name, Description: t.Description, Parameters: schemaFromParams(t.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func schemaFromParams(params map[string]any) *genai.Schema {
	props := map[string]*genai.Schema{}
	if p, ok := params["properties"].(map[string]any); ok {
		for k := range p {
			props[k] = &genai.Schema{Type: genai.TypeString}
		}
	}
	return &genai.Schema{Type: genai.TypeObject, Properties: props}
}

func messageFromResponse(resp *genai.GenerateContentResponse) (llm.Message, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return llm.Message{}, &errkind.RetryableError{Err: fmt.Errorf("google: empty response")}
	}
	out := llm.Message{Role: "assistant"}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{Name: part.FunctionCall.Name, Args: args})
		}
	}
	return out, nil
}

func classifyError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "permission"), strings.Contains(msg, "invalid argument"):
		return &errkind.FatalError{Err: err}
	default:
		return &errkind.RetryableError{Err: err}
	}
}
