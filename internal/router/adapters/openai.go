package adapters

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/af-corp/clinai/internal/config"
	"github.com/af-corp/clinai/internal/types"
)

// OpenAIAdapter talks to the OpenAI Chat Completions API and to
// OpenAI-compatible servers (vLLM, Ollama, LiteLLM).
type OpenAIAdapter struct {
	*httpProvider
}

func openAICapabilities(providerType string) types.CapabilityDescriptor {
	if providerType == "openai-compatible" {
		return types.CapabilityDescriptor{
			Chat:               true,
			Stream:             true,
			MaxContextLength:   8192,
			SupportedLanguages: []string{"en"},
		}
	}
	return types.CapabilityDescriptor{
		Chat:               true,
		Stream:             true,
		Vision:             true,
		Embedding:          true,
		FunctionCalling:    true,
		MaxContextLength:   128000,
		SupportedLanguages: []string{"en", "es", "fr", "de", "pt", "zh"},
		Models:             []string{"gpt-4o-mini", "gpt-4o"},
	}
}

// NewOpenAIAdapter builds an adapter with default capabilities for cfg.Type.
func NewOpenAIAdapter(cfg config.ProviderConfig, client *http.Client) *OpenAIAdapter {
	return NewOpenAIAdapterWithCapabilities(cfg, client, openAICapabilities(cfg.Type))
}

func NewOpenAIAdapterWithCapabilities(cfg config.ProviderConfig, client *http.Client, caps types.CapabilityDescriptor) *OpenAIAdapter {
	return &OpenAIAdapter{httpProvider: newHTTPProvider(cfg, client, "https://api.openai.com/v1", caps)}
}

func (a *OpenAIAdapter) setAuth(h http.Header) {
	if a.cfg.APIKey != "" {
		h.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
}

func (a *OpenAIAdapter) Initialize(ctx context.Context) error {
	return a.probe(ctx, "/models", a.setAuth)
}

func (a *OpenAIAdapter) buildBody(req *types.ChatRequest, stream bool) openAIRequestBody {
	conv := req.Conversation()
	messages := make([]openAIMessage, 0, len(conv))
	for _, m := range conv {
		msg := openAIMessage{Role: string(m.Role), Content: m.Content}
		switch m.Role {
		case types.RoleTool:
			msg.ToolCallID = m.Name
		default:
			msg.Name = m.Name
		}
		if len(m.FunctionCall) > 0 {
			msg.ToolCalls = m.FunctionCall
		}
		messages = append(messages, msg)
	}

	body := openAIRequestBody{
		Model:            a.model(req),
		Messages:         messages,
		Stream:           stream,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
	}
	if stream {
		body.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	if a.caps.FunctionCalling {
		for _, t := range req.Tools {
			body.Tools = append(body.Tools, openAITool{
				Type: "function",
				Function: openAIFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
	}
	return body
}

func (a *OpenAIAdapter) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	httpReq, err := a.newRequest(ctx, http.MethodPost, "/chat/completions", a.buildBody(req, false), a.setAuth)
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

	var oaiResp openAIResponseBody
	if err := json.Unmarshal(body, &oaiResp); err != nil {
		return nil, errorf(a.name, "unmarshal openai response: %v", err)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, errorf(a.name, "openai response has no choices")
	}
	a.observe(nil)

	choice := oaiResp.Choices[0]
	out := &types.ChatResponse{
		ID:       responseID(oaiResp.ID),
		Provider: a.name,
		Model:    oaiResp.Model,
		Message: types.ChatMessage{
			Role:         types.Role(choice.Message.Role),
			Content:      choice.Message.Content,
			FunctionCall: rawOrNil(choice.Message.ToolCalls),
		},
		FinishReason: choice.FinishReason,
	}
	if out.Message.Role == "" {
		out.Message.Role = types.RoleAssistant
	}
	if oaiResp.Usage != nil {
		out.Usage = &types.Usage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		}
	}
	return out, nil
}

func (a *OpenAIAdapter) StreamChat(ctx context.Context, req *types.ChatRequest) (Stream, error) {
	httpReq, err := a.newRequest(ctx, http.MethodPost, "/chat/completions", a.buildBody(req, true), a.setAuth)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := a.send(httpReq)
	if err != nil {
		return nil, err
	}
	a.observe(nil)
	return newSSEStream(a.name, resp.Body, a.decodeChunk), nil
}

// decodeChunk converts one chat.completion.chunk payload.
func (a *OpenAIAdapter) decodeChunk(data []byte) (*types.StreamResponse, bool, error) {
	var chunk openAIStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, false, types.NewStreamParseError(a.name, string(data), err)
	}
	if chunk.Error != nil {
		return nil, false, types.NewVendorError(a.name, 0, chunk.Error.Type, chunk.Error.Message, string(data))
	}

	out := &types.StreamResponse{ID: chunk.ID, Provider: a.name, Model: chunk.Model}
	if chunk.Usage != nil {
		out.Usage = &types.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	if len(chunk.Choices) == 0 {
		if out.Usage == nil {
			return nil, false, nil
		}
		return out, false, nil
	}

	c := chunk.Choices[0]
	out.Delta = types.ChatMessage{
		Role:         types.Role(c.Delta.Role),
		Content:      c.Delta.Content,
		FunctionCall: rawOrNil(c.Delta.ToolCalls),
	}
	if c.FinishReason != nil {
		out.FinishReason = *c.FinishReason
	}
	return out, false, nil
}

type openAIMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIRequestBody struct {
	Model            string               `json:"model"`
	Messages         []openAIMessage      `json:"messages"`
	Stream           bool                 `json:"stream,omitempty"`
	StreamOptions    *openAIStreamOptions `json:"stream_options,omitempty"`
	Temperature      *float64             `json:"temperature,omitempty"`
	MaxTokens        *int                 `json:"max_tokens,omitempty"`
	TopP             *float64             `json:"top_p,omitempty"`
	FrequencyPenalty *float64             `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64             `json:"presence_penalty,omitempty"`
	Tools            []openAITool         `json:"tools,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIResponseBody struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

type openAIStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role      string          `json:"role"`
			Content   string          `json:"content"`
			ToolCalls json.RawMessage `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
