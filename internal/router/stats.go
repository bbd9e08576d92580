package router

import "sync"

// Stats are process-lifetime counters for one provider.
type Stats struct {
	TotalRequests    int64   `json:"total_requests"`
	SuccessCount     int64   `json:"success_count"`
	FailureCount     int64   `json:"failure_count"`
	TotalTokens      int64   `json:"total_tokens"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// SuccessRatio is SuccessCount over TotalRequests, 0 before any request.
func (s Stats) SuccessRatio() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalRequests)
}

// StatsTracker accumulates Stats. Latency is an exponential moving average
// with weight Alpha on the newest sample.
type StatsTracker struct {
	mu    sync.Mutex
	alpha float64
	stats Stats
}

func NewStatsTracker(alpha float64) *StatsTracker {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.2
	}
	return &StatsTracker{alpha: alpha}
}

// RecordRequest folds one call outcome into the counters.
func (t *StatsTracker) RecordRequest(success bool, tokensUsed int, latencyMs float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.TotalRequests++
	if success {
		t.stats.SuccessCount++
	} else {
		t.stats.FailureCount++
	}
	if tokensUsed > 0 {
		t.stats.TotalTokens += int64(tokensUsed)
	}
	if latencyMs < 0 {
		latencyMs = 0
	}
	if t.stats.TotalRequests == 1 {
		t.stats.AverageLatencyMs = latencyMs
	} else {
		t.stats.AverageLatencyMs = t.alpha*latencyMs + (1-t.alpha)*t.stats.AverageLatencyMs
	}
}

func (t *StatsTracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
