package filter

import (
	"context"

	"github.com/af-corp/clinai/internal/types"
)

// Action represents the filter decision.
type Action string

const (
	ActionPass  Action = "pass"
	ActionFlag  Action = "flag"
	ActionBlock Action = "block"
)

// Result is returned by each filter.
type Result struct {
	Action     Action
	FilterName string
	Message    string
	Detections int
}

// Request is what filters see: the chat request plus who sent it, how it is
// labeled and where it is headed.
type Request struct {
	Chat         *types.ChatRequest
	StaffID      string
	DepartmentID string
	Role         string
	Sensitivity  types.Sensitivity
	Provider     string
	Hosting      string
	BAA          bool
}

// Texts returns the system prompt followed by every message body.
func (r *Request) Texts() []string {
	texts := make([]string, 0, len(r.Chat.Messages)+1)
	if r.Chat.SystemPrompt != "" {
		texts = append(texts, r.Chat.SystemPrompt)
	}
	for _, m := range r.Chat.Messages {
		if m.Content != "" {
			texts = append(texts, m.Content)
		}
	}
	return texts
}

// Filter is the interface all request filters implement.
type Filter interface {
	Name() string
	Enabled() bool
	ScanRequest(ctx context.Context, req *Request) Result
}

// IdentifierRule is the blocking rule shared by identifier detectors:
// identifiers are only allowed in requests labeled PHI.
func IdentifierRule(name string, label types.Sensitivity, detections int) Result {
	switch {
	case detections == 0:
		return Result{Action: ActionPass, FilterName: name}
	case label.Allows(types.SensitivityPHI):
		return Result{Action: ActionFlag, FilterName: name, Detections: detections}
	default:
		return Result{
			Action:     ActionBlock,
			FilterName: name,
			Message:    "patient identifiers found in a request labeled " + string(label),
			Detections: detections,
		}
	}
}

// Chain runs filters in order, stopping on the first Block.
type Chain struct {
	filters []Filter
}

func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Run executes all enabled filters in order. Returns all results and a pointer
// to the first blocking result (nil if no filter blocked).
func (c *Chain) Run(ctx context.Context, req *Request) ([]Result, *Result) {
	var results []Result
	for _, f := range c.filters {
		if !f.Enabled() {
			continue
		}
		r := f.ScanRequest(ctx, req)
		results = append(results, r)
		if r.Action == ActionBlock {
			return results, &r
		}
	}
	return results, nil
}
