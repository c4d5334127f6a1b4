// Package openai adapts the Switchboard's provider contract to an
// OpenAI-compatible chat completions HTTP API. Grounded on
// internal/llm/openai/client.go (manifold), trimmed of the teacher's
// streaming, inline-image, and self-hosted-transport-quirk handling — this
// pipeline only needs one-shot JSON-schema-enforced completions.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/llitpux/cogstream/internal/config"
	"github.com/llitpux/cogstream/internal/errkind"
	"github.com/llitpux/cogstream/internal/llm"
)

type Client struct {
	sdk   sdk.Client
	model string
}

// New builds a Client from cfg. httpClient may be nil, in which case
// http.DefaultClient is used.
func New(cfg config.OpenAIConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{sdk: sdk.NewClient(opts...), model: model}
}

func (c *Client) Name() string { return "openai_compatible" }

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, responseSchema map[string]any) (llm.Message, error) {
	effectiveModel := model
	if effectiveModel == "" {
		effectiveModel = c.model
	}

	ctx, span := llm.StartRequestSpan(ctx, "openai.Chat", effectiveModel, len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(effectiveModel),
		Messages: adaptMessages(msgs),
	}
	if len(tools) > 0 {
		params.Tools = adaptTools(tools)
	}
	if responseSchema != nil {
		params.ResponseFormat = adaptResponseSchema(responseSchema)
	}

	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Message{}, classifyError(err)
	}
	if len(comp.Choices) == 0 {
		return llm.Message{}, &errkind.RetryableError{Err: fmt.Errorf("openai: empty choices")}
	}
	choice := comp.Choices[0]

	out := llm.Message{Role: "assistant", Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID: tc.ID, Name: tc.Function.Name, Args: []byte(tc.Function.Arguments),
		})
	}
	return out, nil
}

func adaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "user":
			out = append(out, sdk.UserMessage(m.Content))
		case "tool":
			out = append(out, sdk.ToolMessage(m.Content, m.ToolID))
		default:
			out = append(out, sdk.AssistantMessage(m.Content))
		}
	}
	return out
}

func adaptTools(tools []llm.ToolSchema) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, sdk.ChatCompletionFunctionTool(sdk.FunctionDefinitionParam{
			Name:        t.Name,
			Description: sdk.String(t.Description),
			Parameters:  t.Parameters,
		}))
	}
	return out
}

func adaptResponseSchema(schema map[string]any) sdk.ChatCompletionNewParamsResponseFormatUnion {
	return sdk.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &sdk.ResponseFormatJSONSchemaParam{
			JSONSchema: sdk.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   "switchboard_response",
				Schema: schema,
				Strict: sdk.Bool(true),
			},
		},
	}
}

// classifyError maps transport/HTTP failures onto the Retryable/Fatal
// taxonomy spec §7 requires: auth failures and malformed requests (401, 403,
// 400, unauthorized, invalid_api_key, invalid request) are fatal and abort
// without failover; every other error, 429/5xx/timeouts included, is retryable.
func classifyError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "400"), strings.Contains(msg, "invalid request"):
		return &errkind.FatalError{Err: err}
	default:
		return &errkind.RetryableError{Err: err}
	}
}
