package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies an AIError.
type ErrorCode string

const (
	CodeValidation      ErrorCode = "validation_error"
	CodeAuth            ErrorCode = "auth_error"
	CodeTransport       ErrorCode = "transport_error"
	CodeRateLimit       ErrorCode = "rate_limit_error"
	CodeVendor          ErrorCode = "vendor_error"
	CodeStreamParse     ErrorCode = "stream_parse_error"
	CodeUnknownProvider ErrorCode = "unknown_provider"
)

// Sentinels for errors.Is. They match any AIError with the same code.
var (
	ErrValidation      = &AIError{Code: CodeValidation}
	ErrAuth            = &AIError{Code: CodeAuth}
	ErrTransport       = &AIError{Code: CodeTransport}
	ErrRateLimit       = &AIError{Code: CodeRateLimit}
	ErrVendor          = &AIError{Code: CodeVendor}
	ErrStreamParse     = &AIError{Code: CodeStreamParse}
	ErrUnknownProvider = &AIError{Code: CodeUnknownProvider}
)

// AIError is the single error shape surfaced by the AI layer.
type AIError struct {
	Message    string    `json:"message"`
	Code       ErrorCode `json:"code"`
	Provider   string    `json:"provider,omitempty"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Raw        string    `json:"raw,omitempty"`

	// VendorCode is the vendor's own error code, when it sent one.
	VendorCode string `json:"vendor_code,omitempty"`
	// RetryAfter is the vendor's requested wait on rate limiting.
	RetryAfter time.Duration `json:"-"`
	Cause      error         `json:"-"`
}

func (e *AIError) Error() string {
	msg := string(e.Code)
	if e.Provider != "" {
		msg += " from " + e.Provider
	}
	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(" (status %d)", e.HTTPStatus)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AIError) Unwrap() error { return e.Cause }

// Is matches sentinels by code. A target with its own message or provider
// must match those too.
func (e *AIError) Is(target error) bool {
	t, ok := target.(*AIError)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	if t.Provider != "" && t.Provider != e.Provider {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// Transient reports whether retrying could succeed.
func (e *AIError) Transient() bool {
	return e.Code == CodeTransport || e.Code == CodeRateLimit
}

// AsAIError extracts an AIError from err's chain.
func AsAIError(err error) (*AIError, bool) {
	var aiErr *AIError
	if errors.As(err, &aiErr) {
		return aiErr, true
	}
	return nil, false
}

func NewValidationError(provider, message string) *AIError {
	return &AIError{Code: CodeValidation, Provider: provider, Message: message}
}

func NewAuthError(provider string, status int, message, raw string) *AIError {
	return &AIError{Code: CodeAuth, Provider: provider, HTTPStatus: status, Message: message, Raw: raw}
}

func NewTransportError(provider, message string, cause error) *AIError {
	return &AIError{Code: CodeTransport, Provider: provider, Message: message, Cause: cause}
}

func NewRateLimitError(provider string, retryAfter time.Duration, raw string) *AIError {
	return &AIError{
		Code:       CodeRateLimit,
		Provider:   provider,
		HTTPStatus: 429,
		Message:    "rate limited by vendor",
		Raw:        raw,
		RetryAfter: retryAfter,
	}
}

func NewVendorError(provider string, status int, vendorCode, message, raw string) *AIError {
	return &AIError{
		Code:       CodeVendor,
		Provider:   provider,
		HTTPStatus: status,
		VendorCode: vendorCode,
		Message:    message,
		Raw:        raw,
	}
}

func NewStreamParseError(provider string, raw string, cause error) *AIError {
	return &AIError{Code: CodeStreamParse, Provider: provider, Message: "malformed stream fragment", Raw: raw, Cause: cause}
}

func NewUnknownProviderError(name string) *AIError {
	return &AIError{Code: CodeUnknownProvider, Message: fmt.Sprintf("provider %q is not registered", name)}
}
