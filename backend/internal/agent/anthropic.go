package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultModel     = "claude-haiku-4-5-20251001"
	DefaultMaxTokens = 4096
)

// Tool describes one callable tool. InputSchema is a JSON schema object.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ContentBlock is a text, tool_use or tool_result block.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type Request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Tools     []Tool    `json:"tools,omitempty"`
	Messages  []Message `json:"messages"`
}

type Response struct {
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

// Completer sends one non-streaming Messages request.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// APIError is a non-2xx answer from the Messages API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("anthropic: %d %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic: %d: %s", e.StatusCode, e.Message)
}

// Anthropic is a Completer backed by the Anthropic Go SDK.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic builds the SDK client. An empty baseURL keeps the SDK's
// endpoint; extra options go after the defaults.
func NewAnthropic(httpClient *http.Client, apiKey, baseURL string, opts ...option.RequestOption) *Anthropic {
	all := []option.RequestOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		all = append(all, option.WithHTTPClient(httpClient))
	}
	if baseURL != "" {
		all = append(all, option.WithBaseURL(baseURL))
	}
	all = append(all, opts...)
	return &Anthropic{client: anthropic.NewClient(all...)}
}

func (a *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := messageParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var sdkErr *anthropic.Error
		if errors.As(err, &sdkErr) {
			return nil, apiError(sdkErr)
		}
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	resp := &Response{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		resp.Content = append(resp.Content, ContentBlock{
			Type:  block.Type,
			Text:  block.Text,
			ID:    block.ID,
			Name:  block.Name,
			Input: block.Input,
		})
	}
	return resp, nil
}

func messageParams(req Request) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	for _, t := range req.Tools {
		schema, err := inputSchema(t.InputSchema)
		if err != nil {
			return params, fmt.Errorf("anthropic: tool %s: %w", t.Name, err)
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: schema,
		}})
	}

	for _, m := range req.Messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case "text":
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case "tool_use":
				input := b.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    b.ID,
					Name:  b.Name,
					Input: input,
				}})
			case "tool_result":
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, false))
			default:
				return params, fmt.Errorf("anthropic: unsupported content block %q", b.Type)
			}
		}
		switch m.Role {
		case "user":
			params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		default:
			return params, fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}
	return params, nil
}

func inputSchema(raw json.RawMessage) (anthropic.ToolInputSchemaParam, error) {
	var s struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return anthropic.ToolInputSchemaParam{}, err
	}
	return anthropic.ToolInputSchemaParam{Properties: s.Properties, Required: s.Required}, nil
}

// apiError understands {"error":{"type":"...","message":"..."}} bodies and
// falls back to the SDK's own message.
func apiError(e *anthropic.Error) *APIError {
	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(e.RawJSON()), &wire) == nil && wire.Error.Message != "" {
		return &APIError{StatusCode: e.StatusCode, Type: wire.Error.Type, Message: wire.Error.Message}
	}
	return &APIError{StatusCode: e.StatusCode, Message: e.Error()}
}
