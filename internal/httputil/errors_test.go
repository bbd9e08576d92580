package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/af-corp/clinai/internal/types"
)

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, "req_123", http.StatusBadRequest, "invalid_request_error", "bad_request", "test message")

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	if rid := w.Header().Get("X-Request-ID"); rid != "req_123" {
		t.Errorf("expected X-Request-ID req_123, got %s", rid)
	}

	var resp APIError
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Error.Message != "test message" {
		t.Errorf("expected message 'test message', got %q", resp.Error.Message)
	}
	if resp.Error.Type != "invalid_request_error" {
		t.Errorf("expected type 'invalid_request_error', got %q", resp.Error.Type)
	}
	if resp.Error.RequestID != "req_123" {
		t.Errorf("expected request_id 'req_123', got %q", resp.Error.RequestID)
	}
}

func TestWriteAIError_StatusMapping(t *testing.T) {
	timeout := types.NewTransportError("claude", "timeout", nil)
	timeout.HTTPStatus = http.StatusGatewayTimeout

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", types.NewValidationError("", "messages is required"), 400, "validation_error"},
		{"unknown provider", types.NewUnknownProviderError("gemini"), 404, "unknown_provider"},
		{"rate limit", types.NewRateLimitError("claude", 0, ""), 429, "rate_limit_error"},
		{"auth", types.NewAuthError("claude", 401, "bad key", ""), 502, "auth_error"},
		{"vendor", types.NewVendorError("claude", 400, "invalid_request_error", "bad model", ""), 502, "vendor_error"},
		{"transport", types.NewTransportError("claude", "reset", nil), 503, "transport_error"},
		{"timeout", timeout, 504, "transport_error"},
		{"plain", errors.New("boom"), 500, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteAIError(w, "req_1", tt.err)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			var resp APIError
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Error.Code != tt.code {
				t.Errorf("expected code %q, got %q", tt.code, resp.Error.Code)
			}
		})
	}
}

func TestWriteAIError_HidesRawAndSetsRetryAfter(t *testing.T) {
	err := types.NewRateLimitError("claude", 1500*time.Millisecond, `{"secret":"vendor internals"}`)
	w := httptest.NewRecorder()
	WriteAIError(w, "req_2", err)

	if strings.Contains(w.Body.String(), "vendor internals") {
		t.Error("raw vendor body leaked to caller")
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}
	var resp APIError
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Error.Provider != "claude" {
		t.Errorf("expected provider claude, got %q", resp.Error.Provider)
	}
}

func TestWriteAuthError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteAuthError(w, "req_456", "Invalid key")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}

	var resp APIError
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Error.Code != "invalid_api_key" {
		t.Errorf("expected code 'invalid_api_key', got %q", resp.Error.Code)
	}
}

func TestWriteContentBlockedError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteContentBlockedError(w, "req_789", "Patient identifier detected")

	if w.Code != 451 {
		t.Errorf("expected status 451, got %d", w.Code)
	}
}
