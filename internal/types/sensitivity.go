package types

// Sensitivity labels the most sensitive data a request may carry.
type Sensitivity string

const (
	SensitivityPublic      Sensitivity = "PUBLIC"
	SensitivityOperational Sensitivity = "OPERATIONAL"
	SensitivityClinical    Sensitivity = "CLINICAL"
	SensitivityPHI         Sensitivity = "PHI"
)

// Level returns a numeric level for comparison.
// Higher values mean more sensitive.
func (s Sensitivity) Level() int {
	switch s {
	case SensitivityPublic:
		return 0
	case SensitivityOperational:
		return 1
	case SensitivityClinical:
		return 2
	case SensitivityPHI:
		return 3
	default:
		return -1
	}
}

// Allows returns true if a caller cleared for s may send data labeled data.
func (s Sensitivity) Allows(data Sensitivity) bool {
	return data.Level() >= 0 && s.Level() >= data.Level()
}

func ParseSensitivity(s string) (Sensitivity, bool) {
	switch Sensitivity(s) {
	case SensitivityPublic, SensitivityOperational, SensitivityClinical, SensitivityPHI:
		return Sensitivity(s), true
	default:
		return "", false
	}
}
