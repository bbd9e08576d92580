package adapters

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/af-corp/clinai/internal/config"
	"github.com/af-corp/clinai/internal/types"
)

func testProviderConfig(typ, base string) config.ProviderConfig {
	return config.ProviderConfig{
		Name:         "primary",
		Type:         typ,
		APIKey:       "sk-test",
		APIBase:      base,
		DefaultModel: "test-model",
		Headers:      map[string]string{"X-Hospital": "general"},
	}
}

func testRequest() *types.ChatRequest {
	return &types.ChatRequest{
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: "Summarize today's discharge list."}},
	}
}

func TestOpenAI_BuildBody_SystemPromptFirstAndOrderPreserved(t *testing.T) {
	a := NewOpenAIAdapter(testProviderConfig("openai", ""), nil)
	maxTokens := 256
	req := &types.ChatRequest{
		SystemPrompt: "You assist ward nurses.",
		MaxTokens:    &maxTokens,
		Messages: []types.ChatMessage{
			{Role: types.RoleUser, Content: "one"},
			{Role: types.RoleAssistant, Content: "two"},
			{Role: types.RoleUser, Content: "three"},
		},
	}

	data, err := json.Marshal(a.buildBody(req, false))
	if err != nil {
		t.Fatal(err)
	}
	var payload struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatal(err)
	}

	if payload.MaxTokens != 256 {
		t.Errorf("expected max_tokens 256, got %d", payload.MaxTokens)
	}
	if payload.Model != "test-model" {
		t.Errorf("expected default model, got %q", payload.Model)
	}
	want := []string{"system:You assist ward nurses.", "user:one", "assistant:two", "user:three"}
	if len(payload.Messages) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(payload.Messages))
	}
	for i, m := range payload.Messages {
		if got := m.Role + ":" + m.Content; got != want[i] {
			t.Errorf("message %d = %q, want %q", i, got, want[i])
		}
	}
}

func TestOpenAI_BuildBody_ToolsFollowCapability(t *testing.T) {
	req := testRequest()
	req.Tools = []types.ToolSpec{{Name: "lookup_bed", Parameters: json.RawMessage(`{"type":"object"}`)}}

	withTools := NewOpenAIAdapter(testProviderConfig("openai", ""), nil).buildBody(req, false)
	if len(withTools.Tools) != 1 || withTools.Tools[0].Type != "function" || withTools.Tools[0].Function.Name != "lookup_bed" {
		t.Errorf("expected mapped function tool, got %+v", withTools.Tools)
	}

	without := NewOpenAIAdapter(testProviderConfig("openai-compatible", "http://vllm:8000/v1"), nil).buildBody(req, false)
	if len(without.Tools) != 0 {
		t.Errorf("tools must be omitted without function calling, got %+v", without.Tools)
	}
}

func TestOpenAI_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		if got := r.Header.Get("X-Hospital"); got != "general" {
			t.Errorf("configured header missing, got %q", got)
		}
		fmt.Fprint(w, `{
			"id": "chatcmpl-42",
			"model": "gpt-4o-mini-2024-07-18",
			"choices": [
				{"index": 0, "message": {"role": "assistant", "content": "Three discharges."}, "finish_reason": "stop"},
				{"index": 1, "message": {"role": "assistant", "content": "ignored"}, "finish_reason": "stop"}
			],
			"usage": {"prompt_tokens": 11, "completion_tokens": 4, "total_tokens": 99}
		}`)
	}))
	defer srv.Close()

	a := NewOpenAIAdapter(testProviderConfig("openai", srv.URL), srv.Client())
	resp, err := a.Chat(t.Context(), testRequest())
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if resp.ID != "chatcmpl-42" || resp.Provider != "primary" || resp.Model != "gpt-4o-mini-2024-07-18" {
		t.Errorf("unexpected envelope: %+v", resp)
	}
	if resp.Message.Role != types.RoleAssistant || resp.Message.Content != "Three discharges." {
		t.Errorf("expected first choice, got %+v", resp.Message)
	}
	// Vendor totals are copied as-is, never recomputed.
	if resp.Usage == nil || resp.Usage.TotalTokens != 99 || resp.Usage.PromptTokens != 11 {
		t.Errorf("usage not copied verbatim: %+v", resp.Usage)
	}
	if !a.IsHealthy() {
		t.Error("successful call should leave adapter healthy")
	}
}

func TestOpenAI_Chat_ToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"c1","model":"m","choices":[{"message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"lookup_bed","arguments":"{}"}}]},
			"finish_reason":"tool_calls"}]}`)
	}))
	defer srv.Close()

	resp, err := NewOpenAIAdapter(testProviderConfig("openai", srv.URL), srv.Client()).Chat(t.Context(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(resp.Message.FunctionCall), "lookup_bed") {
		t.Errorf("expected tool calls carried in FunctionCall, got %s", resp.Message.FunctionCall)
	}
	if resp.FinishReason != "tool_calls" || resp.Usage != nil {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestOpenAI_Initialize(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		key     string
		wantErr error
		calls   int32
	}{
		{"valid credential", http.StatusOK, "sk-test", nil, 1},
		{"rejected credential", http.StatusUnauthorized, "sk-bad", types.ErrAuth, 1},
		{"vendor down", http.StatusServiceUnavailable, "sk-test", types.ErrTransport, 1},
		{"missing key", http.StatusOK, "", types.ErrAuth, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				if r.Method != http.MethodGet || r.URL.Path != "/models" {
					t.Errorf("unexpected probe %s %s", r.Method, r.URL.Path)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, `{"data":[]}`)
			}))
			defer srv.Close()

			cfg := testProviderConfig("openai", srv.URL)
			cfg.APIKey = tt.key
			a := NewOpenAIAdapter(cfg, srv.Client())
			err := a.Initialize(t.Context())

			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !a.IsHealthy() {
					t.Error("expected healthy after successful probe")
				}
			} else {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if a.IsHealthy() {
					t.Error("expected unhealthy after failed probe")
				}
			}
			if calls.Load() != tt.calls {
				t.Errorf("expected %d probe calls, got %d", tt.calls, calls.Load())
			}
		})
	}
}

func TestOpenAI_StreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != true {
			t.Errorf("expected stream=true, got %v", body["stream"])
		}
		if _, ok := body["stream_options"]; !ok {
			t.Error("expected stream_options to request usage")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{
			`{"id":"s1","model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Bed"},"finish_reason":null}]}`,
			`not-json`,
			`{"id":"s1","model":"m","choices":[{"index":0,"delta":{"content":" 12"},"finish_reason":null}]}`,
			`{"id":"s1","model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`{"id":"s1","model":"m","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := NewOpenAIAdapter(testProviderConfig("openai", srv.URL), srv.Client())
	stream, err := a.StreamChat(t.Context(), testRequest())
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}
	defer stream.Close()

	chunks := drain(t, stream)
	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks (malformed one dropped), got %d", len(chunks))
	}
	if chunks[0].Delta.Content != "Bed" || chunks[1].Delta.Content != " 12" {
		t.Errorf("unexpected content: %q %q", chunks[0].Delta.Content, chunks[1].Delta.Content)
	}
	if chunks[2].FinishReason != "stop" {
		t.Errorf("expected finish reason on chunk 3, got %q", chunks[2].FinishReason)
	}
	if chunks[3].Usage == nil || chunks[3].Usage.TotalTokens != 7 {
		t.Errorf("expected usage chunk, got %+v", chunks[3])
	}
	if !chunks[4].Done {
		t.Error("expected terminal chunk last")
	}
}

func TestOpenAI_StreamChat_RejectedBeforeStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAIAdapter(testProviderConfig("openai", srv.URL), srv.Client()).StreamChat(t.Context(), testRequest())
	if !errors.Is(err, types.ErrRateLimit) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestOpenAI_DecodeChunk_VendorErrorEvent(t *testing.T) {
	a := NewOpenAIAdapter(testProviderConfig("openai", ""), nil)
	_, _, err := a.decodeChunk([]byte(`{"error":{"type":"server_error","message":"model overloaded"}}`))
	if !errors.Is(err, types.ErrVendor) {
		t.Errorf("expected vendor error, got %v", err)
	}
}
