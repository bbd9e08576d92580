package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/af-corp/clinai/internal/config"
	"github.com/af-corp/clinai/internal/types"
)

const (
	anthropicDefaultVersion   = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
)

// AnthropicAdapter handles communication with the Anthropic Messages API.
type AnthropicAdapter struct {
	*httpProvider
}

func anthropicCapabilities() types.CapabilityDescriptor {
	return types.CapabilityDescriptor{
		Chat:               true,
		Stream:             true,
		Vision:             true,
		FunctionCalling:    true,
		MaxContextLength:   200000,
		SupportedLanguages: []string{"en", "es", "fr", "de", "pt", "ja"},
		Models:             []string{"claude-3-5-haiku-latest", "claude-3-5-sonnet-latest"},
	}
}

func NewAnthropicAdapter(cfg config.ProviderConfig, client *http.Client) *AnthropicAdapter {
	return NewAnthropicAdapterWithCapabilities(cfg, client, anthropicCapabilities())
}

func NewAnthropicAdapterWithCapabilities(cfg config.ProviderConfig, client *http.Client, caps types.CapabilityDescriptor) *AnthropicAdapter {
	return &AnthropicAdapter{httpProvider: newHTTPProvider(cfg, client, "https://api.anthropic.com/v1", caps)}
}

func (a *AnthropicAdapter) setAuth(h http.Header) {
	h.Set("x-api-key", a.cfg.APIKey)
	version := a.cfg.APIVersion
	if version == "" {
		version = anthropicDefaultVersion
	}
	h.Set("anthropic-version", version)
}

func (a *AnthropicAdapter) Initialize(ctx context.Context) error {
	return a.probe(ctx, "/models", a.setAuth)
}

// buildBody lifts system messages into the top-level system field; Anthropic
// has no system role. Tool traffic becomes tool_use / tool_result blocks.
func (a *AnthropicAdapter) buildBody(req *types.ChatRequest, stream bool) anthropicRequestBody {
	var system []string
	var messages []anthropicMessage
	for _, m := range req.Conversation() {
		switch m.Role {
		case types.RoleSystem:
			system = append(system, m.Content)
		case types.RoleTool:
			block, _ := json.Marshal([]anthropicBlock{{Type: "tool_result", ToolUseID: m.Name, Content: m.Content}})
			messages = append(messages, anthropicMessage{Role: "user", Content: block})
		case types.RoleAssistant:
			if len(m.FunctionCall) > 0 {
				messages = append(messages, anthropicMessage{Role: "assistant", Content: assistantToolBlocks(m)})
				continue
			}
			messages = append(messages, anthropicMessage{Role: "assistant", Content: jsonString(m.Content)})
		default:
			messages = append(messages, anthropicMessage{Role: string(m.Role), Content: jsonString(m.Content)})
		}
	}

	maxTokens := anthropicDefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	body := anthropicRequestBody{
		Model:       a.model(req),
		Messages:    messages,
		System:      strings.Join(system, "\n\n"),
		MaxTokens:   maxTokens,
		Stream:      stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if a.caps.FunctionCalling {
		for _, t := range req.Tools {
			schema := t.Parameters
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object"}`)
			}
			body.Tools = append(body.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
		}
	}
	return body
}

// assistantToolBlocks keeps any text and appends the opaque tool_use blocks
// previously returned by the vendor.
func assistantToolBlocks(m types.ChatMessage) json.RawMessage {
	var blocks []json.RawMessage
	if m.Content != "" {
		text, _ := json.Marshal(anthropicBlock{Type: "text", Text: m.Content})
		blocks = append(blocks, text)
	}
	var calls []json.RawMessage
	if err := json.Unmarshal(m.FunctionCall, &calls); err == nil {
		blocks = append(blocks, calls...)
	} else {
		blocks = append(blocks, m.FunctionCall)
	}
	data, _ := json.Marshal(blocks)
	return data
}

func jsonString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

func (a *AnthropicAdapter) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	httpReq, err := a.newRequest(ctx, http.MethodPost, "/messages", a.buildBody(req, false), a.setAuth)
	if err != nil {
		return nil, err
	}
	resp, err := a.send(httpReq)
	if err != nil {
		return nil, err
	}
	body, err := a.readBody(ctx, resp)
	if err != nil {
		return nil, err
	}

	var antResp anthropicResponseBody
	if err := json.Unmarshal(body, &antResp); err != nil {
		return nil, errorf(a.name, "unmarshal anthropic response: %v", err)
	}
	a.observe(nil)

	var text strings.Builder
	var toolUses []json.RawMessage
	for _, block := range antResp.Content {
		var head struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(block, &head); err != nil {
			continue
		}
		switch head.Type {
		case "text":
			text.WriteString(head.Text)
		case "tool_use":
			toolUses = append(toolUses, block)
		}
	}

	msg := types.ChatMessage{Role: types.RoleAssistant, Content: text.String()}
	if len(toolUses) > 0 {
		msg.FunctionCall, _ = json.Marshal(toolUses)
	}

	return &types.ChatResponse{
		ID:           responseID(antResp.ID),
		Provider:     a.name,
		Model:        antResp.Model,
		Message:      msg,
		FinishReason: mapStopReason(antResp.StopReason),
		Usage: &types.Usage{
			PromptTokens:     antResp.Usage.InputTokens,
			CompletionTokens: antResp.Usage.OutputTokens,
			TotalTokens:      antResp.Usage.InputTokens + antResp.Usage.OutputTokens,
		},
	}, nil
}

func (a *AnthropicAdapter) StreamChat(ctx context.Context, req *types.ChatRequest) (Stream, error) {
	httpReq, err := a.newRequest(ctx, http.MethodPost, "/messages", a.buildBody(req, true), a.setAuth)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := a.send(httpReq)
	if err != nil {
		return nil, err
	}
	a.observe(nil)
	state := &anthropicStreamState{provider: a.name}
	return newSSEStream(a.name, resp.Body, state.decode), nil
}

// anthropicStreamState carries message_start metadata across events.
type anthropicStreamState struct {
	provider    string
	id          string
	model       string
	inputTokens int
}

// decode handles message_start, content_block_start, content_block_delta,
// message_delta, message_stop and error events. ping and
// content_block_stop are skipped.
func (s *anthropicStreamState) decode(data []byte) (*types.StreamResponse, bool, error) {
	var event struct {
		Type    string `json:"type"`
		Message struct {
			ID    string `json:"id"`
			Model string `json:"model"`
			Usage struct {
				InputTokens int `json:"input_tokens"`
			} `json:"usage"`
		} `json:"message"`
		ContentBlock json.RawMessage `json:"content_block"`
		Delta        struct {
			Type        string `json:"type"`
			Text        string `json:"text"`
			PartialJSON string `json:"partial_json"`
			StopReason  string `json:"stop_reason"`
		} `json:"delta"`
		Usage struct {
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, false, types.NewStreamParseError(s.provider, string(data), err)
	}

	chunk := func() *types.StreamResponse {
		return &types.StreamResponse{ID: s.id, Provider: s.provider, Model: s.model}
	}

	switch event.Type {
	case "message_start":
		s.id = event.Message.ID
		s.model = event.Message.Model
		s.inputTokens = event.Message.Usage.InputTokens
		return nil, false, nil

	case "content_block_start":
		var head struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(event.ContentBlock, &head) == nil && head.Type == "tool_use" {
			out := chunk()
			out.Delta = types.ChatMessage{Role: types.RoleAssistant, FunctionCall: event.ContentBlock}
			return out, false, nil
		}
		return nil, false, nil

	case "content_block_delta":
		out := chunk()
		switch event.Delta.Type {
		case "text_delta":
			out.Delta = types.ChatMessage{Role: types.RoleAssistant, Content: event.Delta.Text}
		case "input_json_delta":
			partial, _ := json.Marshal(map[string]string{"partial_json": event.Delta.PartialJSON})
			out.Delta = types.ChatMessage{Role: types.RoleAssistant, FunctionCall: partial}
		default:
			return nil, false, nil
		}
		return out, false, nil

	case "message_delta":
		out := chunk()
		out.FinishReason = mapStopReason(event.Delta.StopReason)
		out.Usage = &types.Usage{
			PromptTokens:     s.inputTokens,
			CompletionTokens: event.Usage.OutputTokens,
			TotalTokens:      s.inputTokens + event.Usage.OutputTokens,
		}
		return out, false, nil

	case "message_stop":
		return nil, true, nil

	case "error":
		if event.Error.Type == "overloaded_error" || event.Error.Type == "api_error" {
			aiErr := types.NewTransportError(s.provider, event.Error.Message, nil)
			aiErr.VendorCode = event.Error.Type
			aiErr.Raw = string(data)
			return nil, false, aiErr
		}
		return nil, false, types.NewVendorError(s.provider, 0, event.Error.Type, event.Error.Message, string(data))

	default:
		return nil, false, nil
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicRequestBody struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponseBody struct {
	ID         string            `json:"id"`
	Model      string            `json:"model"`
	Content    []json.RawMessage `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
