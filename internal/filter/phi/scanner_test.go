package phi

import (
	"context"
	"testing"

	"github.com/af-corp/clinai/internal/config"
	"github.com/af-corp/clinai/internal/filter"
	"github.com/af-corp/clinai/internal/types"
)

func newTestScanner() *Scanner {
	return NewScanner(func() config.PHIFilterConfig { return config.PHIFilterConfig{Enabled: true} })
}

func names(ds []Detection) map[string]int {
	out := map[string]int{}
	for _, d := range ds {
		out[d.PatternName]++
	}
	return out
}

func TestScanner_Identifiers(t *testing.T) {
	s := newTestScanner()
	tests := []struct {
		text    string
		pattern string
	}{
		{"patient ssn 123-45-6789 on file", "SSN"},
		{"MRN: 00412345", "MRN"},
		{"see mrn#7781234 for history", "MRN"},
		{"call back at (555) 123-4567", "Phone"},
		{"call back at 555-123-4567", "Phone"},
		{"family contact jane.doe@example.org", "Email"},
		{"DOB: 04/12/1958", "Date of Birth"},
		{"date of birth 4-12-58", "Date of Birth"},
	}
	for _, tt := range tests {
		got := names(s.Scan(tt.text))
		if got[tt.pattern] != 1 {
			t.Errorf("Scan(%q) = %v, want one %s", tt.text, got, tt.pattern)
		}
	}
}

func TestScanner_SSNIsNotAPhone(t *testing.T) {
	got := names(newTestScanner().Scan("123-45-6789"))
	if got["Phone"] != 0 || got["SSN"] != 1 {
		t.Errorf("unexpected detections %v", got)
	}
}

func TestScanner_CleanText(t *testing.T) {
	s := newTestScanner()
	clean := []string{
		"Summarize the discharge checklist for cardiology.",
		"Bed 12 needs a linen change at 14:30",
		"Dose 2.5 mg twice daily for 7 days",
		"Room 4021 is available",
	}
	for _, text := range clean {
		if ds := s.Scan(text); len(ds) != 0 {
			t.Errorf("expected no detections for %q, got %v", text, names(ds))
		}
	}
}

func TestScanner_Offsets(t *testing.T) {
	text := "ssn 123-45-6789"
	ds := newTestScanner().Scan(text)
	if len(ds) != 1 || text[ds[0].Start:ds[0].End] != "123-45-6789" {
		t.Fatalf("unexpected detections %+v", ds)
	}
}

func TestScanRequest_Decision(t *testing.T) {
	s := newTestScanner()
	withID := &types.ChatRequest{
		SystemPrompt: "You help ward nurses.",
		Messages:     []types.ChatMessage{{Role: types.RoleUser, Content: "Draft a note for MRN 00412345"}},
	}
	without := &types.ChatRequest{
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: "Draft a shift handover template"}},
	}

	tests := []struct {
		name  string
		chat  *types.ChatRequest
		label types.Sensitivity
		want  filter.Action
	}{
		{"identifier in clinical request", withID, types.SensitivityClinical, filter.ActionBlock},
		{"identifier in operational request", withID, types.SensitivityOperational, filter.ActionBlock},
		{"identifier labeled PHI", withID, types.SensitivityPHI, filter.ActionFlag},
		{"clean request", without, types.SensitivityPublic, filter.ActionPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := s.ScanRequest(context.Background(), &filter.Request{Chat: tt.chat, Sensitivity: tt.label})
			if r.Action != tt.want {
				t.Errorf("expected %s, got %s (%s)", tt.want, r.Action, r.Message)
			}
			if r.FilterName != "phi" {
				t.Errorf("unexpected filter name %q", r.FilterName)
			}
		})
	}
}

func TestScanRequest_ScansSystemPrompt(t *testing.T) {
	s := newTestScanner()
	req := &filter.Request{
		Chat: &types.ChatRequest{
			SystemPrompt: "Patient SSN is 123-45-6789",
			Messages:     []types.ChatMessage{{Role: types.RoleUser, Content: "hello"}},
		},
		Sensitivity: types.SensitivityClinical,
	}
	if r := s.ScanRequest(context.Background(), req); r.Action != filter.ActionBlock || r.Detections != 1 {
		t.Errorf("expected block with one detection, got %+v", r)
	}
}

func BenchmarkScan_16KB(b *testing.B) {
	s := newTestScanner()
	text := ""
	for range 200 {
		text += "Patient resting comfortably, vitals stable, continue current plan of care. "
	}
	for b.Loop() {
		s.Scan(text)
	}
}
