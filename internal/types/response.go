package types

// Usage holds vendor-reported token counts.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the result of one non-streaming completion.
type ChatResponse struct {
	ID           string      `json:"id"`
	Provider     string      `json:"provider"`
	Model        string      `json:"model"`
	Message      ChatMessage `json:"message"`
	Usage        *Usage      `json:"usage,omitempty"`
	FinishReason string      `json:"finish_reason"`
}

// StreamResponse is one chunk of a streaming completion. ID is constant
// across the chunks of one call. Exactly one chunk per call has Done set
// and it is always the last; a chunk carrying Error is always Done.
type StreamResponse struct {
	ID           string      `json:"id"`
	Provider     string      `json:"provider"`
	Model        string      `json:"model,omitempty"`
	Delta        ChatMessage `json:"delta"`
	Usage        *Usage      `json:"usage,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Error        *AIError    `json:"error,omitempty"`
	Done         bool        `json:"done"`
}
