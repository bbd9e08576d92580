package phi

import "regexp"

// Pattern is one patient identifier detector.
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
}

// DefaultPatterns returns the built-in identifier patterns.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:  "SSN",
			Regex: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		},
		{
			Name:  "MRN",
			Regex: regexp.MustCompile(`(?i)\bMRN\s*[:#]?\s*\d{6,10}\b`),
		},
		{
			Name:  "Phone",
			Regex: regexp.MustCompile(`(?:\(\d{3}\)\s?|\b\d{3}[-.\s])\d{3}[-.]\d{4}\b`),
		},
		{
			Name:  "Email",
			Regex: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		},
		{
			Name:  "Date of Birth",
			Regex: regexp.MustCompile(`(?i)\b(?:DOB|date of birth)\s*[:\s]\s*\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`),
		},
	}
}
