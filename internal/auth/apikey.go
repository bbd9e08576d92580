package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/af-corp/clinai/internal/types"
)

// KeyPrefixScheme starts every staff API key.
const KeyPrefixScheme = "clinai-"

const alphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateKey creates a staff API key: clinai-{env}-{32 random alphanumeric chars}.
func GenerateKey(env string) (string, error) {
	if env == "" || strings.Contains(env, "-") {
		return "", fmt.Errorf("environment %q must be non-empty and contain no dashes", env)
	}
	random, err := randomString(32)
	if err != nil {
		return "", fmt.Errorf("generate random: %w", err)
	}
	return KeyPrefixScheme + env + "-" + random, nil
}

// HashKey returns the SHA-256 hex digest of an API key.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// KeyPrefix extracts a display-safe prefix: clinai-{env}-{first 8 chars}.
func KeyPrefix(key string) string {
	first := strings.IndexByte(key, '-')
	if first < 0 {
		return key
	}
	second := strings.IndexByte(key[first+1:], '-')
	if second < 0 {
		return key
	}
	end := min(first+1+second+1+8, len(key))
	return key[:end]
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	limit := big.NewInt(int64(len(alphanumeric)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b), nil
}

// KeyMetadata is the cached row of a staff key.
type KeyMetadata struct {
	ID                   string            `json:"id"`
	StaffID              string            `json:"staff_id"`
	DepartmentID         string            `json:"department_id"`
	Role                 string            `json:"role"`
	Name                 string            `json:"name"`
	MaxSensitivity       types.Sensitivity `json:"max_sensitivity"`
	AllowedProviders     []string          `json:"allowed_providers"`
	RPMLimit             *int              `json:"rpm_limit,omitempty"`
	DailySpendLimitCents *int              `json:"daily_spend_limit_cents,omitempty"`
	ExpiresAt            time.Time         `json:"expires_at"`
}

// Expired reports whether a cached key has passed its expiry.
func (km *KeyMetadata) Expired(now time.Time) bool {
	return !km.ExpiresAt.IsZero() && !now.Before(km.ExpiresAt)
}

// ParseDuration parses a duration string like "365d", "30d", "24h".
func ParseDuration(s string) (time.Duration, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasSuffix(s, "d") {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil {
			return 0, fmt.Errorf("parse days: %w", err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Roles recognized by the gateway.
const (
	RoleClinician = "clinician"
	RoleNurse     = "nurse"
	RoleStaff     = "staff"
	RoleAdmin     = "admin"
)

var knownRoles = []string{RoleClinician, RoleNurse, RoleStaff, RoleAdmin}

// ValidRole reports whether role is one the gateway understands.
func ValidRole(role string) bool {
	return slices.Contains(knownRoles, role)
}
