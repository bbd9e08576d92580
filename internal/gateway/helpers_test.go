package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/af-corp/clinai/internal/auth"
	"github.com/af-corp/clinai/internal/config"
	"github.com/af-corp/clinai/internal/filter"
	"github.com/af-corp/clinai/internal/filter/phi"
	"github.com/af-corp/clinai/internal/filter/policy"
	"github.com/af-corp/clinai/internal/router"
	"github.com/af-corp/clinai/internal/telemetry"
	"github.com/af-corp/clinai/internal/types"
	"github.com/prometheus/client_golang/prometheus"
)

// vendor is an OpenAI-compatible upstream.
type vendor struct {
	srv   *httptest.Server
	model string

	mu         sync.Mutex
	bodies     []map[string]any
	chatStatus int
	probeCode  int
}

func newVendor(t *testing.T, model string) *vendor {
	t.Helper()
	v := &vendor{model: model}
	v.srv = httptest.NewServer(http.HandlerFunc(v.serve))
	t.Cleanup(v.srv.Close)
	return v
}

func (v *vendor) serve(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	chatStatus, probeCode := v.chatStatus, v.probeCode
	v.mu.Unlock()

	switch r.URL.Path {
	case "/models":
		if probeCode != 0 {
			w.WriteHeader(probeCode)
			fmt.Fprint(w, `{"error":{"message":"invalid api key","type":"invalid_request_error"}}`)
			return
		}
		fmt.Fprint(w, `{"data":[]}`)
	case "/chat/completions":
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		v.mu.Lock()
		v.bodies = append(v.bodies, body)
		v.mu.Unlock()

		if chatStatus != 0 {
			w.WriteHeader(chatStatus)
			fmt.Fprint(w, `{"error":{"message":"upstream says no","type":"invalid_request_error","code":"bad_thing"}}`)
			return
		}
		if stream, _ := body["stream"].(bool); stream {
			v.writeStream(w)
			return
		}
		fmt.Fprintf(w, `{"id":"chatcmpl-1","model":%q,"choices":[{"message":{"role":"assistant","content":"Bed 12 is free"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1000,"completion_tokens":500,"total_tokens":1500}}`, v.model)
	default:
		http.NotFound(w, r)
	}
}

func (v *vendor) writeStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, chunk := range []string{
		fmt.Sprintf(`{"id":"s1","model":%q,"choices":[{"index":0,"delta":{"role":"assistant","content":"Bed"},"finish_reason":null}]}`, v.model),
		fmt.Sprintf(`{"id":"s1","model":%q,"choices":[{"index":0,"delta":{"content":" 12"},"finish_reason":null}]}`, v.model),
		fmt.Sprintf(`{"id":"s1","model":%q,"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`, v.model),
		fmt.Sprintf(`{"id":"s1","model":%q,"choices":[],"usage":{"prompt_tokens":1000,"completion_tokens":500,"total_tokens":1500}}`, v.model),
	} {
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (v *vendor) requests() []map[string]any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]map[string]any(nil), v.bodies...)
}

func (v *vendor) failChat(status int) {
	v.mu.Lock()
	v.chatStatus = status
	v.mu.Unlock()
}

// fakeBudget records spend per department.
type fakeBudget struct {
	mu    sync.Mutex
	spent map[string]int64
}

func (f *fakeBudget) RecordSpend(_ context.Context, department string, cents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spent[department] += cents
	return nil
}

func (f *fakeBudget) get(department string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spent[department]
}

// staticKeys implements auth.KeyStore.
type staticKeys map[string]*auth.KeyMetadata

func (s staticKeys) Lookup(_ context.Context, keyHash string) (*auth.KeyMetadata, error) {
	return s[keyHash], nil
}

const (
	nurseKey = "clinai-test-nurse00000000000000000000000000"
	adminKey = "clinai-test-admin00000000000000000000000000"
	clerkKey = "clinai-test-clerk00000000000000000000000000"
)

func intPtr(v int) *int { return &v }

func testKeys() staticKeys {
	return staticKeys{
		auth.HashKey(nurseKey): {
			ID: "k-nurse", StaffID: "nurse-1", DepartmentID: "icu", Role: auth.RoleNurse,
			MaxSensitivity: types.SensitivityClinical, DailySpendLimitCents: intPtr(10000),
		},
		auth.HashKey(adminKey): {
			ID: "k-admin", StaffID: "admin-1", DepartmentID: "it", Role: auth.RoleAdmin,
			MaxSensitivity: types.SensitivityPHI,
		},
		auth.HashKey(clerkKey): {
			ID: "k-clerk", StaffID: "clerk-1", DepartmentID: "admissions", Role: auth.RoleStaff,
			MaxSensitivity: types.SensitivityOperational, AllowedProviders: []string{"ward"},
		},
	}
}

type testEnv struct {
	ward, cloud *vendor
	manager     *router.Manager
	budget      *fakeBudget
	metrics     *telemetry.Metrics
	routes      http.Handler
}

func newTestEnv(t *testing.T, setup ...func(*testEnv)) *testEnv {
	t.Helper()
	e := &testEnv{
		ward:    newVendor(t, "ward-model"),
		cloud:   newVendor(t, "cloud-model"),
		budget:  &fakeBudget{spent: map[string]int64{}},
		metrics: telemetry.NewMetrics(prometheus.NewRegistry()),
	}
	for _, fn := range setup {
		fn(e)
	}

	provs := &config.ProvidersConfig{Providers: []config.ProviderConfig{
		{Name: "ward", Type: "openai-compatible", APIKey: "k", APIBase: e.ward.srv.URL, DefaultModel: "ward-model", Hosting: "internal"},
		{Name: "cloud", Type: "openai", APIKey: "k", APIBase: e.cloud.srv.URL, DefaultModel: "cloud-model", Hosting: "external"},
	}}
	models := &config.ModelsConfig{
		Capabilities: map[string]config.CapabilityOverride{
			"ward":  {Models: []string{"ward-model"}},
			"cloud": {Models: []string{"cloud-model", "cloud-model-mini"}},
		},
		Pricing: map[string]map[string]config.PriceEntry{
			"ward": {"ward-model": {Input: 10, Output: 30}},
		},
	}

	mgr, err := router.NewManager(router.BuildFromConfig(provs, models), router.Options{
		FailureThreshold:        3,
		StreamFirstChunkTimeout: 2 * time.Second,
		Observer:                e.metrics,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Initialize(t.Context()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	e.manager = mgr

	evaluator := policy.NewEvaluator(func() config.PolicyFilterConfig {
		return config.PolicyFilterConfig{Enabled: true, BundlePath: "../../configs/policies", EvaluationTimeout: time.Second}
	})
	if err := evaluator.Load(t.Context()); err != nil {
		t.Fatalf("load policies: %v", err)
	}
	chain := filter.NewChain(
		phi.NewScanner(func() config.PHIFilterConfig { return config.PHIFilterConfig{Enabled: true} }),
		evaluator,
	)

	h := NewHandler(Deps{
		Manager: mgr,
		Models:  func() *config.ModelsConfig { return models },
		Filters: chain,
		Budget:  e.budget,
		Metrics: e.metrics,
	})
	e.routes = Routes(h, "test", auth.Middleware(testKeys(), nil), nil)
	return e
}

func (e *testEnv) do(t *testing.T, method, path, key, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.routes.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error.Code
}

const simpleChat = `{"messages":[{"role":"user","content":"Which beds are free on ward 3?"}]}`
