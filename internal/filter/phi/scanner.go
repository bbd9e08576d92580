package phi

import (
	"context"

	"github.com/af-corp/clinai/internal/config"
	"github.com/af-corp/clinai/internal/filter"
)

// Detection is one identifier found in text.
type Detection struct {
	PatternName string
	Start       int // byte offset
	End         int // byte offset
}

// Scanner finds patient identifiers in text with pre-compiled patterns.
type Scanner struct {
	patterns []Pattern
	cfg      func() config.PHIFilterConfig
}

// NewScanner creates a scanner with the default identifier patterns.
func NewScanner(cfg func() config.PHIFilterConfig) *Scanner {
	return &Scanner{patterns: DefaultPatterns(), cfg: cfg}
}

func (s *Scanner) Scan(text string) []Detection {
	var detections []Detection
	for _, p := range s.patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			detections = append(detections, Detection{
				PatternName: p.Name,
				Start:       loc[0],
				End:         loc[1],
			})
		}
	}
	return detections
}

func (s *Scanner) Name() string  { return "phi" }
func (s *Scanner) Enabled() bool { return s.cfg().Enabled }

// ScanRequest implements filter.Filter.
func (s *Scanner) ScanRequest(_ context.Context, req *filter.Request) filter.Result {
	n := 0
	for _, text := range req.Texts() {
		n += len(s.Scan(text))
	}
	return filter.IdentifierRule(s.Name(), req.Sensitivity, n)
}
