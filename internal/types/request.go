package types

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ChatMessage is one turn of a conversation. FunctionCall is carried
// opaquely between the caller and the vendor.
type ChatMessage struct {
	Role         Role            `json:"role"`
	Content      string          `json:"content"`
	Name         string          `json:"name,omitempty"`
	FunctionCall json.RawMessage `json:"function_call,omitempty"`
}

// ToolSpec describes a function the model may call. Parameters is a JSON
// Schema object.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatRequest is the vendor-neutral completion request. Message order is
// significant and preserved end-to-end.
type ChatRequest struct {
	Messages         []ChatMessage `json:"messages"`
	SystemPrompt     string        `json:"system_prompt,omitempty"`
	Model            string        `json:"model,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	Tools            []ToolSpec    `json:"tools,omitempty"`
}

// Conversation returns the messages to send to a vendor: the system prompt,
// when set, as a leading system message followed by Messages in order.
func (r *ChatRequest) Conversation() []ChatMessage {
	if r.SystemPrompt == "" {
		return r.Messages
	}
	out := make([]ChatMessage, 0, len(r.Messages)+1)
	out = append(out, ChatMessage{Role: RoleSystem, Content: r.SystemPrompt})
	return append(out, r.Messages...)
}

// Validate reports malformed requests before any vendor is contacted.
func (r *ChatRequest) Validate() error {
	if r == nil {
		return NewValidationError("", "request is required")
	}
	if len(r.Messages) == 0 {
		return NewValidationError("", "messages is required")
	}
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return NewValidationError("", fmt.Sprintf("messages[%d]: invalid role %q", i, m.Role))
		}
		if m.Content == "" && len(m.FunctionCall) == 0 {
			return NewValidationError("", fmt.Sprintf("messages[%d]: content is required", i))
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return NewValidationError("", "temperature must be between 0 and 2")
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return NewValidationError("", "top_p must be between 0 and 1")
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return NewValidationError("", "max_tokens must be positive")
	}
	for _, p := range []*float64{r.FrequencyPenalty, r.PresencePenalty} {
		if p != nil && (*p < -2 || *p > 2) {
			return NewValidationError("", "penalties must be between -2 and 2")
		}
	}
	for i, t := range r.Tools {
		if t.Name == "" {
			return NewValidationError("", fmt.Sprintf("tools[%d]: name is required", i))
		}
	}
	return nil
}
