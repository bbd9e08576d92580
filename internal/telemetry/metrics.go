package telemetry

import (
	"time"

	"github.com/af-corp/clinai/internal/router"
	"github.com/af-corp/clinai/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var providerStates = []router.HealthState{
	router.StateUninitialized,
	router.StateHealthy,
	router.StateDegraded,
	router.StateUnreachable,
}

// Metrics holds all Prometheus metrics for the clinai gateway. It also
// implements router.Observer.
type Metrics struct {
	RequestTotal      *prometheus.CounterVec
	RequestDurationMs *prometheus.HistogramVec
	GatewayOverheadMs *prometheus.HistogramVec
	TokensTotal       *prometheus.CounterVec
	CostUSDTotal      *prometheus.CounterVec
	FilterActionTotal *prometheus.CounterVec
	LimitRejectTotal  *prometheus.CounterVec

	ProviderCallTotal      *prometheus.CounterVec
	ProviderCallDurationMs *prometheus.HistogramVec
	ProviderRetryTotal     *prometheus.CounterVec
	ProviderState          *prometheus.GaugeVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clinai_request_total",
			Help: "Total number of chat requests handled by the gateway.",
		}, []string{"department", "provider", "model", "status", "sensitivity"}),

		RequestDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinai_request_duration_ms",
			Help:    "Total request duration in milliseconds (including provider latency).",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"provider", "model"}),

		GatewayOverheadMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinai_gateway_overhead_ms",
			Help:    "Time spent in authentication, limits and filters before dispatch.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"department"}),

		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clinai_tokens_total",
			Help: "Total tokens reported by vendors.",
		}, []string{"department", "model", "direction"}),

		CostUSDTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clinai_cost_usd_total",
			Help: "Estimated total cost in USD.",
		}, []string{"department", "provider", "model"}),

		FilterActionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clinai_filter_action_total",
			Help: "Total filter actions taken.",
		}, []string{"filter", "action"}),

		LimitRejectTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clinai_limit_reject_total",
			Help: "Requests rejected by rate limits or department budgets.",
		}, []string{"dimension", "department"}),

		ProviderCallTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clinai_provider_call_total",
			Help: "Provider calls after retries, by outcome.",
		}, []string{"provider", "mode", "outcome"}),

		ProviderCallDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinai_provider_call_duration_ms",
			Help:    "Provider call duration in milliseconds, retries included.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"provider", "mode"}),

		ProviderRetryTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clinai_provider_retry_total",
			Help: "Retries issued by the backoff executor.",
		}, []string{"provider", "code"}),

		ProviderState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clinai_provider_state",
			Help: "1 for the provider's current health state, 0 otherwise.",
		}, []string{"provider", "state"}),
	}
}

// RecordRequest records metrics for a completed gateway request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	m.RequestTotal.WithLabelValues(
		labels.Department, labels.Provider, labels.Model,
		labels.Status, labels.Sensitivity,
	).Inc()

	m.RequestDurationMs.WithLabelValues(
		labels.Provider, labels.Model,
	).Observe(labels.DurationMs)

	m.GatewayOverheadMs.WithLabelValues(
		labels.Department,
	).Observe(labels.OverheadMs)

	if labels.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues(
			labels.Department, labels.Model, "prompt",
		).Add(float64(labels.PromptTokens))
	}

	if labels.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues(
			labels.Department, labels.Model, "completion",
		).Add(float64(labels.CompletionTokens))
	}

	if labels.CostUSD > 0 {
		m.CostUSDTotal.WithLabelValues(
			labels.Department, labels.Provider, labels.Model,
		).Add(labels.CostUSD)
	}
}

// RecordFilterAction records a filter action metric.
func (m *Metrics) RecordFilterAction(filter, action string) {
	m.FilterActionTotal.WithLabelValues(filter, action).Inc()
}

// RecordLimitHit records a request rejected by a rate limit or budget.
func (m *Metrics) RecordLimitHit(dimension, department string) {
	m.LimitRejectTotal.WithLabelValues(dimension, department).Inc()
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Department       string
	Provider         string
	Model            string
	Status           string
	Sensitivity      string
	DurationMs       float64
	OverheadMs       float64
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

func (m *Metrics) ObserveCall(provider string, streaming bool, err error, latency time.Duration, _ int) {
	mode := "chat"
	if streaming {
		mode = "stream"
	}
	m.ProviderCallTotal.WithLabelValues(provider, mode, outcome(err)).Inc()
	m.ProviderCallDurationMs.WithLabelValues(provider, mode).Observe(float64(latency) / float64(time.Millisecond))
}

func (m *Metrics) ObserveRetry(provider string, _ int, _ time.Duration, err error) {
	m.ProviderRetryTotal.WithLabelValues(provider, outcome(err)).Inc()
}

func (m *Metrics) ObserveState(provider string, _, to router.HealthState) {
	for _, s := range providerStates {
		v := 0.0
		if s == to {
			v = 1
		}
		m.ProviderState.WithLabelValues(provider, s.String()).Set(v)
	}
}

// outcome is "ok" or the AIError code.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if aiErr, ok := types.AsAIError(err); ok {
		return string(aiErr.Code)
	}
	return "error"
}

var _ router.Observer = (*Metrics)(nil)
