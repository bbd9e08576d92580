package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/af-corp/clinai/internal/types"
)

// APIError matches the OpenAI error response format.
type APIError struct {
	Error APIErrorBody `json:"error"`
}

type APIErrorBody struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      string `json:"code"`
	Provider  string `json:"provider,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, errType, code, message string) {
	writeBody(w, requestID, statusCode, APIErrorBody{
		Message:   message,
		Type:      errType,
		Code:      code,
		RequestID: requestID,
	})
}

func writeBody(w http.ResponseWriter, requestID string, statusCode int, body APIErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIError{Error: body})
}

// StatusForAIError maps the AI error taxonomy onto HTTP status codes.
func StatusForAIError(err *types.AIError) int {
	switch err.Code {
	case types.CodeValidation:
		return http.StatusBadRequest
	case types.CodeUnknownProvider:
		return http.StatusNotFound
	case types.CodeRateLimit:
		return http.StatusTooManyRequests
	case types.CodeAuth, types.CodeVendor, types.CodeStreamParse:
		return http.StatusBadGateway
	case types.CodeTransport:
		if err.HTTPStatus == http.StatusGatewayTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorType uses the OpenAI type names clients already handle.
func errorType(code types.ErrorCode) string {
	switch code {
	case types.CodeValidation, types.CodeUnknownProvider:
		return "invalid_request_error"
	case types.CodeRateLimit:
		return "rate_limit_error"
	case types.CodeAuth, types.CodeVendor, types.CodeStreamParse:
		return "upstream_error"
	default:
		return "server_error"
	}
}

// WriteAIError writes err using the envelope and its mapped status. The
// vendor's raw body is never forwarded to the caller. Errors that are not
// AIErrors become a 500.
func WriteAIError(w http.ResponseWriter, requestID string, err error) {
	aiErr, ok := types.AsAIError(err)
	if !ok {
		WriteInternalError(w, requestID, "internal error")
		return
	}
	if aiErr.Code == types.CodeRateLimit && aiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(aiErr))
	}
	writeBody(w, requestID, StatusForAIError(aiErr), APIErrorBody{
		Message:   aiErr.Message,
		Type:      errorType(aiErr.Code),
		Code:      string(aiErr.Code),
		Provider:  aiErr.Provider,
		RequestID: requestID,
	})
}

func retryAfterSeconds(err *types.AIError) string {
	secs := int(err.RetryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func WriteAuthError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusUnauthorized, "authentication_error", "invalid_api_key", message)
}

func WriteForbiddenError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusForbidden, "permission_error", "forbidden", message)
}

func WriteRateLimitError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded", message)
}

func WriteBadRequestError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadRequest, "invalid_request_error", "invalid_request", message)
}

func WriteInternalError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusInternalServerError, "server_error", "internal_error", message)
}

func WriteServiceUnavailableError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusServiceUnavailable, "server_error", "service_unavailable", message)
}

func WriteContentBlockedError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusUnavailableForLegalReasons, "content_filter_error", "content_blocked", message)
}

func WritePolicyDeniedError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusForbidden, "policy_error", "policy_denied", message)
}

func WriteBudgetExceededError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusPaymentRequired, "budget_error", "budget_exceeded", message)
}
