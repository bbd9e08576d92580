package adapters

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/af-corp/clinai/internal/types"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		code       types.ErrorCode
		vendorCode string
	}{
		{"unauthorized", 401, `{"error":{"type":"invalid_request_error","code":"invalid_api_key","message":"Incorrect API key"}}`, "", types.CodeAuth, ""},
		{"forbidden", 403, `{"error":{"type":"permission_error","message":"no access"}}`, "", types.CodeAuth, ""},
		{"rate limited", 429, `{"error":{"type":"rate_limit_error"}}`, "7", types.CodeRateLimit, ""},
		{"server error", 500, `{"error":{"type":"server_error","message":"oops"}}`, "", types.CodeTransport, "server_error"},
		{"overloaded", 529, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, "", types.CodeTransport, "overloaded_error"},
		{"request timeout", 408, ``, "", types.CodeTransport, ""},
		{"bad request", 400, `{"error":{"type":"invalid_request_error","code":"context_length_exceeded","message":"too long"}}`, "", types.CodeVendor, "context_length_exceeded"},
		{"not found", 404, `not json`, "", types.CodeVendor, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: tt.status,
				Header:     http.Header{},
				Body:       io.NopCloser(strings.NewReader(tt.body)),
			}
			if tt.retryAfter != "" {
				resp.Header.Set("Retry-After", tt.retryAfter)
			}

			err := classifyStatus("vendor", resp)
			if err.Code != tt.code {
				t.Fatalf("code = %s, want %s", err.Code, tt.code)
			}
			if err.Provider != "vendor" {
				t.Errorf("provider = %q", err.Provider)
			}
			if err.HTTPStatus != tt.status {
				t.Errorf("http status = %d, want %d", err.HTTPStatus, tt.status)
			}
			if tt.vendorCode != "" && err.VendorCode != tt.vendorCode {
				t.Errorf("vendor code = %q, want %q", err.VendorCode, tt.vendorCode)
			}
			if tt.body != "" && err.Raw != tt.body {
				t.Errorf("raw = %q, want %q", err.Raw, tt.body)
			}
			if tt.retryAfter != "" && err.RetryAfter != 7*time.Second {
				t.Errorf("retry after = %s, want 7s", err.RetryAfter)
			}
		})
	}
}

func TestClassifyStatus_TruncatesRaw(t *testing.T) {
	resp := &http.Response{
		StatusCode: 400,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(strings.Repeat("x", 10_000))),
	}
	if err := classifyStatus("vendor", resp); len(err.Raw) != maxRawErrorBytes {
		t.Errorf("expected raw truncated to %d bytes, got %d", maxRawErrorBytes, len(err.Raw))
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Errorf("seconds form = %s", got)
	}
	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got < 80*time.Second || got > 91*time.Second {
		t.Errorf("date form = %s", got)
	}
	for _, v := range []string{"", "soon", "-4"} {
		if got := parseRetryAfter(v); got != 0 {
			t.Errorf("parseRetryAfter(%q) = %s, want 0", v, got)
		}
	}
}

func TestSend_TransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	a := NewOpenAIAdapter(testProviderConfig("openai", url), nil)
	_, err := a.Chat(t.Context(), testRequest())

	aiErr, ok := types.AsAIError(err)
	if !ok {
		t.Fatalf("expected AIError, got %v", err)
	}
	if !aiErr.Transient() {
		t.Errorf("connection failure should be transient, got %s", aiErr.Code)
	}
	if errors.Is(err, types.ErrAuth) {
		t.Error("connection failure must not be classified as auth")
	}
}
