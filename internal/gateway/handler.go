package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/clinai/internal/auth"
	"github.com/af-corp/clinai/internal/config"
	"github.com/af-corp/clinai/internal/filter"
	"github.com/af-corp/clinai/internal/httputil"
	"github.com/af-corp/clinai/internal/ratelimit"
	"github.com/af-corp/clinai/internal/router"
	"github.com/af-corp/clinai/internal/telemetry"
	"github.com/af-corp/clinai/internal/types"
)

const (
	headerSensitivity  = "X-Data-Sensitivity"
	defaultSensitivity = types.SensitivityOperational
	maxBodyBytes       = 4 << 20
)

// SpendRecorder charges a department's daily budget; *ratelimit.BudgetTracker
// satisfies it.
type SpendRecorder interface {
	RecordSpend(ctx context.Context, department string, costCents int64) error
}

// Deps are the handler's collaborators. Filters, Budget and Metrics may be nil.
type Deps struct {
	Manager *router.Manager
	Models  func() *config.ModelsConfig
	Filters *filter.Chain
	Budget  SpendRecorder
	Metrics *telemetry.Metrics
}

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	manager *router.Manager
	models  func() *config.ModelsConfig
	filters *filter.Chain
	budget  SpendRecorder
	metrics *telemetry.Metrics
}

func NewHandler(d Deps) *Handler {
	models := d.Models
	if models == nil {
		models = func() *config.ModelsConfig { return nil }
	}
	return &Handler{
		manager: d.Manager,
		models:  models,
		filters: d.Filters,
		budget:  d.Budget,
		metrics: d.Metrics,
	}
}

// chatCompletionRequest accepts either a full message list or the
// convenience shape of one message plus prior context.
type chatCompletionRequest struct {
	Messages         []types.ChatMessage `json:"messages"`
	Message          string              `json:"message"`
	Context          []types.ChatMessage `json:"context"`
	SystemPrompt     string              `json:"system_prompt"`
	Model            string              `json:"model"`
	Temperature      *float64            `json:"temperature"`
	MaxTokens        *int                `json:"max_tokens"`
	TopP             *float64            `json:"top_p"`
	FrequencyPenalty *float64            `json:"frequency_penalty"`
	PresencePenalty  *float64            `json:"presence_penalty"`
	Tools            []types.ToolSpec    `json:"tools"`
	Stream           bool                `json:"stream"`
	Provider         string              `json:"provider"`
}

func (c *chatCompletionRequest) chatRequest() *types.ChatRequest {
	messages := c.Messages
	if len(messages) == 0 && c.Message != "" {
		messages = append(append([]types.ChatMessage(nil), c.Context...),
			types.ChatMessage{Role: types.RoleUser, Content: c.Message})
	}
	return &types.ChatRequest{
		Messages:         messages,
		SystemPrompt:     c.SystemPrompt,
		Model:            c.Model,
		Temperature:      c.Temperature,
		MaxTokens:        c.MaxTokens,
		TopP:             c.TopP,
		FrequencyPenalty: c.FrequencyPenalty,
		PresencePenalty:  c.PresencePenalty,
		Tools:            c.Tools,
	}
}

type chatCompletionResponse struct {
	*types.ChatResponse
	RequestID        string  `json:"request_id"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// ChatCompletions handles POST /v1/chat/completions
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()

	info, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	var body chatCompletionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	chat := body.chatRequest()
	if err := chat.Validate(); err != nil {
		httputil.WriteAIError(w, reqID, err)
		return
	}

	label := defaultSensitivity
	if raw := r.Header.Get(headerSensitivity); raw != "" {
		parsed, ok := types.ParseSensitivity(raw)
		if !ok {
			httputil.WriteBadRequestError(w, reqID, "Unknown "+headerSensitivity+" value "+strconv.Quote(raw))
			return
		}
		label = parsed
	}
	if !info.MaxSensitivity.Allows(label) {
		slog.Warn("sensitivity above caller ceiling",
			"request_id", reqID,
			"staff_id", info.StaffID,
			"label", label,
			"ceiling", info.MaxSensitivity,
		)
		httputil.WriteForbiddenError(w, reqID, "Your access does not permit "+string(label)+" data")
		return
	}

	target := body.Provider
	if target == "" {
		target = h.manager.GetCurrentProvider()
	}
	if target == "" {
		httputil.WriteAIError(w, reqID, types.NewTransportError("", "no provider available", router.ErrNoHealthyProvider))
		return
	}
	if !info.AllowsProvider(target) {
		httputil.WriteForbiddenError(w, reqID, "Your key may not use provider "+target)
		return
	}
	snap, err := h.manager.Provider(target)
	if err != nil {
		httputil.WriteAIError(w, reqID, err)
		return
	}

	if blocked := h.runFilters(r.Context(), reqID, info, chat, label, snap); blocked != nil {
		if blocked.FilterName == "policy" {
			httputil.WritePolicyDeniedError(w, reqID, blocked.Message)
		} else {
			httputil.WriteContentBlockedError(w, reqID, blocked.Message)
		}
		return
	}

	// The filters judged this provider, so the call is pinned to it.
	call := &callContext{
		reqID:      reqID,
		info:       info,
		label:      label,
		provider:   target,
		receivedAt: receivedAt,
		overhead:   time.Since(receivedAt),
	}

	if body.Stream {
		h.handleStream(w, r, call, chat)
		return
	}

	resp, err := h.manager.Chat(r.Context(), chat, router.WithProvider(target))
	if err != nil {
		h.finish(r.Context(), call, chat.Model, nil, err)
		httputil.WriteAIError(w, reqID, err)
		return
	}

	cost := h.finish(r.Context(), call, resp.Model, resp.Usage, nil)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chatCompletionResponse{
		ChatResponse:     resp,
		RequestID:        reqID,
		EstimatedCostUSD: cost,
	})
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request, call *callContext, chat *types.ChatRequest) {
	stream, err := h.manager.StreamChat(r.Context(), chat, router.WithProvider(call.provider))
	if err != nil {
		h.finish(r.Context(), call, chat.Model, nil, err)
		httputil.WriteAIError(w, call.reqID, err)
		return
	}

	slog.Info("streaming started",
		"request_id", call.reqID,
		"stream_id", stream.ID(),
		"provider", call.provider,
		"department", call.info.DepartmentID,
	)

	sum := streamSSE(w, call.reqID, stream)
	call.streaming = true
	call.abandoned = sum.Abandoned
	var streamErr error
	if sum.Err != nil {
		streamErr = sum.Err
	}
	h.finish(r.Context(), call, sum.Model, sum.Usage, streamErr)
}

// callContext carries per-request bookkeeping from admission to completion.
type callContext struct {
	reqID      string
	info       *auth.AuthInfo
	label      types.Sensitivity
	provider   string
	receivedAt time.Time
	overhead   time.Duration
	streaming  bool
	abandoned  bool
}

// runFilters returns the blocking result, if any, after recording filter
// metrics.
func (h *Handler) runFilters(ctx context.Context, reqID string, info *auth.AuthInfo, chat *types.ChatRequest, label types.Sensitivity, snap router.ProviderSnapshot) *filter.Result {
	if h.filters == nil {
		return nil
	}
	results, blocked := h.filters.Run(ctx, &filter.Request{
		Chat:         chat,
		StaffID:      info.StaffID,
		DepartmentID: info.DepartmentID,
		Role:         info.Role,
		Sensitivity:  label,
		Provider:     snap.Name,
		Hosting:      snap.Hosting,
		BAA:          snap.BAA,
	})
	for _, fr := range results {
		if fr.Action != filter.ActionPass && h.metrics != nil {
			h.metrics.RecordFilterAction(fr.FilterName, string(fr.Action))
		}
	}
	if blocked != nil {
		slog.Warn("request blocked by filter",
			"request_id", reqID,
			"filter", blocked.FilterName,
			"detections", blocked.Detections,
			"staff_id", info.StaffID,
			"department", info.DepartmentID,
			"provider", snap.Name,
			"sensitivity", label,
		)
	}
	return blocked
}

// finish logs, meters and charges one completed call. It returns the
// estimated cost.
func (h *Handler) finish(ctx context.Context, call *callContext, model string, usage *types.Usage, callErr error) float64 {
	duration := time.Since(call.receivedAt)
	status := statusFor(callErr)

	cost := 0.0
	if usage != nil {
		cost = h.models().EstimateCostUSD(call.provider, model, usage)
	}
	if cents := ratelimit.CostCents(cost); cents > 0 && h.budget != nil {
		// The caller's context may already be gone once a stream ends.
		if err := h.budget.RecordSpend(context.WithoutCancel(ctx), call.info.DepartmentID, cents); err != nil {
			slog.Error("failed to record spend", "request_id", call.reqID, "department", call.info.DepartmentID, "error", err)
		}
	}

	attrs := []any{
		"request_id", call.reqID,
		"provider", call.provider,
		"model", model,
		"duration_ms", duration.Milliseconds(),
		"overhead_ms", call.overhead.Milliseconds(),
		"status_code", status,
		"stream", call.streaming,
		"sensitivity", call.label,
		"staff_id", call.info.StaffID,
		"department", call.info.DepartmentID,
		"estimated_cost_usd", cost,
	}
	if usage != nil {
		attrs = append(attrs,
			"prompt_tokens", usage.PromptTokens,
			"completion_tokens", usage.CompletionTokens,
			"total_tokens", usage.TotalTokens,
		)
	}
	switch {
	case callErr != nil && !errors.Is(callErr, context.Canceled):
		slog.Error("request failed", append(attrs, "error", callErr)...)
	case call.abandoned:
		slog.Info("stream abandoned by client", attrs...)
	default:
		slog.Info("request completed", attrs...)
	}

	if h.metrics != nil {
		labels := telemetry.RequestLabels{
			Department:  call.info.DepartmentID,
			Provider:    call.provider,
			Model:       model,
			Status:      strconv.Itoa(status),
			Sensitivity: string(call.label),
			DurationMs:  float64(duration.Milliseconds()),
			OverheadMs:  float64(call.overhead.Microseconds()) / 1000,
			CostUSD:     cost,
		}
		if usage != nil {
			labels.PromptTokens = usage.PromptTokens
			labels.CompletionTokens = usage.CompletionTokens
		}
		h.metrics.RecordRequest(labels)
	}
	return cost
}

// statusClientClosed is logged when the caller went away before completion.
const statusClientClosed = 499

func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, context.Canceled) {
		return statusClientClosed
	}
	if aiErr, ok := types.AsAIError(err); ok {
		return httputil.StatusForAIError(aiErr)
	}
	return http.StatusInternalServerError
}
