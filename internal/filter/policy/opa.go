package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/af-corp/clinai/internal/config"
	"github.com/af-corp/clinai/internal/filter"
	"github.com/open-policy-agent/opa/rego"
)

const query = "[data.clinai.policy.allow, data.clinai.policy.reason]"

// Input is the document policies see as `input`.
type Input struct {
	Staff   Staff   `json:"staff"`
	Request Request `json:"request"`
	Time    Time    `json:"time"`
}

type Staff struct {
	ID         string `json:"id"`
	Department string `json:"department"`
	Role       string `json:"role"`
}

type Request struct {
	Model       string `json:"model"`
	Sensitivity string `json:"sensitivity"`
	Provider    string `json:"provider"`
	Hosting     string `json:"hosting"`
	BAA         bool   `json:"baa"`
}

type Time struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

// Evaluator implements filter.Filter using OPA. It fails closed: with no
// compiled policy every request is denied.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.PolicyFilterConfig
	now      func() time.Time
}

// NewEvaluator creates a policy evaluator. Call Load to compile policies.
func NewEvaluator(cfg func() config.PolicyFilterConfig) *Evaluator {
	return &Evaluator{cfg: cfg, now: time.Now}
}

func (e *Evaluator) Name() string  { return "policy" }
func (e *Evaluator) Enabled() bool { return e.cfg().Enabled }

// Load compiles every .rego file under the configured bundle path. A failed
// compile keeps the previously loaded policy.
func (e *Evaluator) Load(ctx context.Context) error {
	path := e.cfg().BundlePath
	modules, err := readBundle(path)
	if err != nil {
		return fmt.Errorf("read policy bundle %s: %w", path, err)
	}
	if len(modules) == 0 {
		slog.Warn("no rego files found, policy filter will deny all requests", "path", path)
		return nil
	}
	if err := e.LoadFromModules(ctx, modules); err != nil {
		return err
	}
	slog.Info("opa policies loaded", "path", path, "modules", len(modules))
	return nil
}

// LoadFromModules compiles policies from module name to source.
func (e *Evaluator) LoadFromModules(ctx context.Context, modules map[string]string) error {
	opts := []func(*rego.Rego){rego.Query(query)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate runs the policy. The returned error is set only when OPA itself
// failed; a plain deny returns false with the policy's reason.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) (bool, string, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		return false, "no policies loaded", nil
	}

	timeout := e.cfg().EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return false, "policy evaluation error", err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "no policy result", nil
	}

	arr, ok := results[0].Expressions[0].Value.([]any)
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format", nil
	}
	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return allowed, reason, nil
}

// InputFor builds the policy input for a filter request.
func (e *Evaluator) InputFor(req *filter.Request) Input {
	now := e.now().UTC()
	return Input{
		Staff: Staff{
			ID:         req.StaffID,
			Department: req.DepartmentID,
			Role:       req.Role,
		},
		Request: Request{
			Model:       req.Chat.Model,
			Sensitivity: string(req.Sensitivity),
			Provider:    req.Provider,
			Hosting:     req.Hosting,
			BAA:         req.BAA,
		},
		Time: Time{
			Hour: now.Hour(),
			Day:  now.Weekday().String(),
		},
	}
}

// ScanRequest implements filter.Filter.
func (e *Evaluator) ScanRequest(ctx context.Context, req *filter.Request) filter.Result {
	allowed, reason, err := e.Evaluate(ctx, e.InputFor(req))
	if err != nil {
		slog.ErrorContext(ctx, "policy evaluation failed", "error", err, "provider", req.Provider)
		return filter.Result{
			Action:     filter.ActionBlock,
			FilterName: e.Name(),
			Message:    "Policy evaluation failed",
		}
	}
	if !allowed {
		return filter.Result{
			Action:     filter.ActionBlock,
			FilterName: e.Name(),
			Message:    "Request denied by policy: " + reason,
		}
	}
	return filter.Result{Action: filter.ActionPass, FilterName: e.Name()}
}
