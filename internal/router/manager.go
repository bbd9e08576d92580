package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/af-corp/clinai/internal/config"
	"github.com/af-corp/clinai/internal/router/adapters"
	"github.com/af-corp/clinai/internal/types"
	"golang.org/x/sync/errgroup"
)

// ErrNoHealthyProvider is returned by Initialize when every provider failed.
var ErrNoHealthyProvider = errors.New("no provider reached healthy state")

// Entry registers one adapter with the Manager.
type Entry struct {
	Provider adapters.Provider
	Type     string
	// Timeout bounds one non-streaming attempt.
	Timeout time.Duration
	Hosting string
	BAA     bool
}

// Observer receives call outcomes and health transitions.
type Observer interface {
	ObserveCall(provider string, streaming bool, err error, latency time.Duration, tokens int)
	ObserveRetry(provider string, attempt int, delay time.Duration, err error)
	ObserveState(provider string, from, to HealthState)
}

type nopObserver struct{}

func (nopObserver) ObserveCall(string, bool, error, time.Duration, int) {}
func (nopObserver) ObserveRetry(string, int, time.Duration, error)      {}
func (nopObserver) ObserveState(string, HealthState, HealthState)       {}

type Options struct {
	Retry                   RetryPolicy
	FailureThreshold        int
	StreamFirstChunkTimeout time.Duration
	LatencyEMAAlpha         float64
	InitTimeout             time.Duration
	Observer                Observer
	Logger                  *slog.Logger
}

// OptionsFromConfig maps the routing section onto Manager options.
func OptionsFromConfig(r config.RoutingConfig) Options {
	return Options{
		Retry:                   PolicyFromConfig(r),
		FailureThreshold:        r.FailureThreshold,
		StreamFirstChunkTimeout: r.StreamFirstChunkTimeout,
		LatencyEMAAlpha:         r.LatencyEMAAlpha,
		InitTimeout:             r.InitTimeout,
	}
}

type providerRecord struct {
	name   string
	entry  Entry
	health *healthMonitor
	stats  *StatsTracker
}

// ProviderSnapshot describes one registered provider.
type ProviderSnapshot struct {
	Name                string                     `json:"name"`
	Type                string                     `json:"type,omitempty"`
	Healthy             bool                       `json:"healthy"`
	State               string                     `json:"state"`
	Current             bool                       `json:"current"`
	ConsecutiveFailures int                        `json:"consecutive_failures"`
	LastCheckedAt       time.Time                  `json:"last_checked_at"`
	Hosting             string                     `json:"hosting,omitempty"`
	BAA                 bool                       `json:"baa"`
	Stats               Stats                      `json:"stats"`
	Capabilities        types.CapabilityDescriptor `json:"capabilities"`
}

// Manager owns the provider registry and the current-provider pointer. It
// is the only entry point for chat calls.
type Manager struct {
	records []*providerRecord
	byName  map[string]*providerRecord

	current  atomic.Pointer[providerRecord]
	switchMu sync.Mutex
	policy   atomic.Pointer[RetryPolicy]

	initMu      sync.Mutex
	initialized bool
	initErr     error

	firstChunkTimeout time.Duration
	initTimeout       time.Duration
	observer          Observer
	logger            *slog.Logger
}

// NewManager registers entries in configuration order.
func NewManager(entries []Entry, opts Options) (*Manager, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("router: no providers registered")
	}
	m := &Manager{
		byName:            make(map[string]*providerRecord, len(entries)),
		firstChunkTimeout: opts.StreamFirstChunkTimeout,
		initTimeout:       opts.InitTimeout,
		observer:          opts.Observer,
		logger:            opts.Logger,
	}
	if m.observer == nil {
		m.observer = nopObserver{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "router")

	for _, e := range entries {
		if e.Provider == nil {
			return nil, fmt.Errorf("router: nil provider")
		}
		name := e.Provider.Name()
		if _, dup := m.byName[name]; dup {
			return nil, fmt.Errorf("router: duplicate provider %q", name)
		}
		rec := &providerRecord{
			name:   name,
			entry:  e,
			health: newHealthMonitor(opts.FailureThreshold),
			stats:  NewStatsTracker(opts.LatencyEMAAlpha),
		}
		m.records = append(m.records, rec)
		m.byName[name] = rec
	}
	m.SetRetryPolicy(opts.Retry)
	return m, nil
}

// Initialize probes every provider concurrently and selects the first
// healthy one in configuration order. Later calls return the first result.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.initialized {
		return m.initErr
	}

	var g errgroup.Group
	for _, rec := range m.records {
		g.Go(func() error {
			m.initRecord(ctx, rec)
			return nil
		})
	}
	g.Wait()

	var errs []error
	for _, rec := range m.records {
		if h := rec.health.snapshot(); h.State != StateHealthy {
			errs = append(errs, fmt.Errorf("%s: %w", rec.name, h.LastError))
		}
	}

	m.initialized = true
	if !m.selectFirstHealthy() {
		m.initErr = fmt.Errorf("%w: %w", ErrNoHealthyProvider, errors.Join(errs...))
		return m.initErr
	}
	m.logger.Info("providers initialized",
		"current", m.GetCurrentProvider(),
		"registered", len(m.records),
		"failed", len(errs),
	)
	return nil
}

func (m *Manager) initRecord(ctx context.Context, rec *providerRecord) error {
	if m.initTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.initTimeout)
		defer cancel()
	}
	err := rec.entry.Provider.Initialize(ctx)
	from, to := rec.health.initialized(err)
	if err != nil {
		m.logger.Warn("provider initialization failed", "provider", rec.name, "error", err)
	}
	m.transition(rec, from, to)
	return err
}

// selectFirstHealthy points current at the first HEALTHY provider.
func (m *Manager) selectFirstHealthy() bool {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()
	for _, rec := range m.records {
		if rec.health.current() == StateHealthy {
			m.current.Store(rec)
			return true
		}
	}
	return false
}

// SetRetryPolicy replaces the policy for calls dispatched from now on.
func (m *Manager) SetRetryPolicy(p RetryPolicy) {
	m.policy.Store(&p)
}

func (m *Manager) RetryPolicy() RetryPolicy {
	return *m.policy.Load()
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	provider string
}

// WithProvider pins the call to a named provider instead of the current one.
func WithProvider(name string) CallOption {
	return func(o *callOptions) { o.provider = name }
}

// resolve captures the provider for one call at dispatch time.
func (m *Manager) resolve(opts []CallOption) (*providerRecord, error) {
	var co callOptions
	for _, o := range opts {
		o(&co)
	}

	var rec *providerRecord
	if co.provider != "" {
		var ok bool
		if rec, ok = m.byName[co.provider]; !ok {
			return nil, types.NewUnknownProviderError(co.provider)
		}
	} else if rec = m.current.Load(); rec == nil {
		return nil, types.NewTransportError("", "no provider available", ErrNoHealthyProvider)
	}

	switch h := rec.health.snapshot(); h.State {
	case StateUnreachable:
		return nil, unreachableError(rec.name, h.LastError)
	case StateUninitialized:
		return nil, types.NewTransportError(rec.name, "provider is not initialized", nil)
	}
	return rec, nil
}

func unreachableError(name string, err error) error {
	if err != nil {
		return err
	}
	return types.NewTransportError(name, "provider is unreachable", nil)
}

// Chat sends a blocking completion through the retry policy.
func (m *Manager) Chat(ctx context.Context, req *types.ChatRequest, opts ...CallOption) (*types.ChatResponse, error) {
	if req == nil {
		return nil, types.NewValidationError("", "request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	rec, err := m.resolve(opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := Retry(ctx, m.RetryPolicy(), func(ctx context.Context, attempt int) (*types.ChatResponse, error) {
		if rec.entry.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, rec.entry.Timeout)
			defer cancel()
		}
		return rec.entry.Provider.Chat(ctx, req)
	}, m.retryLogger(ctx, rec))

	tokens := 0
	if resp != nil && resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	m.recordOutcome(rec, false, err, tokens, time.Since(start))
	if err != nil {
		return nil, err
	}
	if resp.Provider == "" {
		resp.Provider = rec.name
	}
	return resp, nil
}

// StreamChat opens a stream through the retry policy. Setup failures are
// retried until the first chunk arrives; after that a failure ends the
// stream with an error chunk. Only validation and provider resolution fail
// directly; every other failure is delivered as the stream's terminal chunk.
func (m *Manager) StreamChat(ctx context.Context, req *types.ChatRequest, opts ...CallOption) (*ChatStream, error) {
	if req == nil {
		return nil, types.NewValidationError("", "request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	rec, err := m.resolve(opts)
	if err != nil {
		return nil, err
	}
	if !rec.entry.Provider.Capabilities().Stream {
		return nil, types.NewValidationError(rec.name, "provider does not support streaming")
	}

	start := time.Now()
	onFinish := func(res streamResult) {
		m.recordOutcome(rec, true, res.err, res.tokens, time.Since(start))
	}

	stream, err := Retry(ctx, m.RetryPolicy(), func(ctx context.Context, attempt int) (*ChatStream, error) {
		return m.openStream(ctx, rec, req, onFinish)
	}, m.retryLogger(ctx, rec))
	if err != nil {
		m.recordOutcome(rec, true, err, 0, time.Since(start))
		return newErrorStream(rec.name, err), nil
	}
	return stream, nil
}

// openStream starts one attempt and waits for its first chunk so that
// failures before any output stay retryable.
func (m *Manager) openStream(ctx context.Context, rec *providerRecord, req *types.ChatRequest, onFinish func(streamResult)) (*ChatStream, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	var timer *time.Timer
	if m.firstChunkTimeout > 0 {
		timer = time.AfterFunc(m.firstChunkTimeout, func() {
			timedOut.Store(true)
			cancel()
		})
	}
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	src, err := rec.entry.Provider.StreamChat(attemptCtx, req)
	if err != nil {
		stopTimer()
		cancel()
		return nil, m.firstChunkError(rec, err, timedOut.Load())
	}

	first, err := src.Recv()
	stopTimer()
	if err != nil || timedOut.Load() {
		src.Close()
		cancel()
		if err == nil {
			err = ctx.Err()
		}
		return nil, m.firstChunkError(rec, err, timedOut.Load())
	}
	return newChatStream(rec.name, src, first, cancel, onFinish), nil
}

func (m *Manager) firstChunkError(rec *providerRecord, err error, timedOut bool) error {
	if !timedOut {
		return err
	}
	// The attempt was canceled by the timer, not the caller, so the cause is
	// dropped to keep the error retryable.
	aiErr := types.NewTransportError(rec.name, fmt.Sprintf("no stream output within %s", m.firstChunkTimeout), nil)
	aiErr.HTTPStatus = http.StatusGatewayTimeout
	return aiErr
}

func (m *Manager) retryLogger(ctx context.Context, rec *providerRecord) RetryFunc {
	return func(attempt int, delay time.Duration, err error) {
		code := ""
		if aiErr, ok := types.AsAIError(err); ok {
			code = string(aiErr.Code)
		}
		m.logger.WarnContext(ctx, "retrying provider call",
			"provider", rec.name,
			"attempt", attempt,
			"delay", delay,
			"code", code,
			"error", err,
		)
		m.observer.ObserveRetry(rec.name, attempt, delay, err)
	}
}

// recordOutcome updates stats and health for one call. Caller cancellation
// is not held against the provider.
func (m *Manager) recordOutcome(rec *providerRecord, streaming bool, err error, tokens int, latency time.Duration) {
	m.observer.ObserveCall(rec.name, streaming, err, latency, tokens)
	if err != nil && errors.Is(err, context.Canceled) {
		return
	}

	rec.stats.RecordRequest(err == nil, tokens, float64(latency)/float64(time.Millisecond))
	var from, to HealthState
	if err == nil {
		from, to = rec.health.recordSuccess()
	} else {
		from, to = rec.health.recordFailure(err)
	}
	m.transition(rec, from, to)
}

// transition logs a state change and fails over away from a current
// provider that stopped being healthy.
func (m *Manager) transition(rec *providerRecord, from, to HealthState) {
	if from == to {
		return
	}
	level := slog.LevelInfo
	if to == StateDegraded || to == StateUnreachable {
		level = slog.LevelWarn
	}
	m.logger.Log(context.Background(), level, "provider state changed",
		"provider", rec.name,
		"from", from.String(),
		"to", to.String(),
	)
	m.observer.ObserveState(rec.name, from, to)

	if to == StateDegraded || to == StateUnreachable {
		m.failover(rec)
	}
}

func (m *Manager) failover(from *providerRecord) {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()
	if m.current.Load() != from {
		return
	}
	for _, rec := range m.records {
		if rec != from && rec.health.current() == StateHealthy {
			m.current.Store(rec)
			m.logger.Warn("failed over to next healthy provider", "from", from.name, "to", rec.name)
			return
		}
	}
}

// SwitchProvider makes name the current provider. A DEGRADED target is
// accepted; an UNREACHABLE one fails with its stored error and leaves the
// current provider unchanged.
func (m *Manager) SwitchProvider(name string) error {
	rec, ok := m.byName[name]
	if !ok {
		return types.NewUnknownProviderError(name)
	}

	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	switch h := rec.health.snapshot(); h.State {
	case StateUnreachable:
		return unreachableError(name, h.LastError)
	case StateUninitialized:
		return types.NewTransportError(name, "provider is not initialized", nil)
	}

	prev := m.current.Swap(rec)
	if prev != rec {
		prevName := ""
		if prev != nil {
			prevName = prev.name
		}
		m.logger.Info("current provider switched", "from", prevName, "to", name)
	}
	return nil
}

// GetCurrentProvider returns the active provider's name, or "" before
// initialization.
func (m *Manager) GetCurrentProvider() string {
	if rec := m.current.Load(); rec != nil {
		return rec.name
	}
	return ""
}

// GetProviders returns a snapshot per provider in configuration order.
func (m *Manager) GetProviders() []ProviderSnapshot {
	current := m.current.Load()
	out := make([]ProviderSnapshot, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, m.snapshot(rec, current))
	}
	return out
}

// Provider returns the snapshot for one provider.
func (m *Manager) Provider(name string) (ProviderSnapshot, error) {
	rec, ok := m.byName[name]
	if !ok {
		return ProviderSnapshot{}, types.NewUnknownProviderError(name)
	}
	return m.snapshot(rec, m.current.Load()), nil
}

func (m *Manager) snapshot(rec, current *providerRecord) ProviderSnapshot {
	h := rec.health.snapshot()
	return ProviderSnapshot{
		Name:                rec.name,
		Type:                rec.entry.Type,
		Healthy:             h.State == StateHealthy,
		State:               h.State.String(),
		Current:             rec == current,
		ConsecutiveFailures: h.ConsecutiveFailures,
		LastCheckedAt:       h.LastCheckedAt,
		Hosting:             rec.entry.Hosting,
		BAA:                 rec.entry.BAA,
		Stats:               rec.stats.Snapshot(),
		Capabilities:        rec.entry.Provider.Capabilities(),
	}
}

// HealthyCount is the number of providers currently HEALTHY.
func (m *Manager) HealthyCount() int {
	n := 0
	for _, rec := range m.records {
		if rec.health.current() == StateHealthy {
			n++
		}
	}
	return n
}

// RecordRequest folds an externally measured outcome into a provider's
// stats. Unknown names are ignored.
func (m *Manager) RecordRequest(name string, success bool, tokensUsed int, latency time.Duration) {
	if rec, ok := m.byName[name]; ok {
		rec.stats.RecordRequest(success, tokensUsed, float64(latency)/float64(time.Millisecond))
	}
}

// Reinitialize re-runs initialization for one provider. If the current
// provider is not healthy and this one recovers, it becomes current.
func (m *Manager) Reinitialize(ctx context.Context, name string) error {
	rec, ok := m.byName[name]
	if !ok {
		return types.NewUnknownProviderError(name)
	}
	if err := m.initRecord(ctx, rec); err != nil {
		return err
	}
	if cur := m.current.Load(); cur == nil || cur.health.current() != StateHealthy {
		m.selectFirstHealthy()
	}
	return nil
}

// RecoverUnreachable re-initializes every UNREACHABLE provider and returns
// how many recovered.
func (m *Manager) RecoverUnreachable(ctx context.Context) int {
	var recovered atomic.Int32
	var g errgroup.Group
	for _, rec := range m.records {
		if rec.health.current() != StateUnreachable {
			continue
		}
		g.Go(func() error {
			if m.Reinitialize(ctx, rec.name) == nil {
				recovered.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	return int(recovered.Load())
}
