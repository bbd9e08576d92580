package auth

import (
	"context"
	"slices"

	"github.com/af-corp/clinai/internal/types"
)

type contextKey string

const authContextKey contextKey = "clinai_auth"

// Authentication methods.
const (
	MethodAPIKey  = "api_key"
	MethodSession = "session"
)

// AuthInfo holds the authenticated staff identity.
type AuthInfo struct {
	Method               string
	KeyID                string
	StaffID              string
	DepartmentID         string
	Role                 string
	MaxSensitivity       types.Sensitivity
	AllowedProviders     []string
	RPMLimit             *int
	DailySpendLimitCents *int
}

func (a *AuthInfo) IsAdmin() bool { return a.Role == RoleAdmin }

// AllowsProvider is true when the key is not restricted or lists name.
func (a *AuthInfo) AllowsProvider(name string) bool {
	return len(a.AllowedProviders) == 0 || slices.Contains(a.AllowedProviders, name)
}

// LimitKey identifies the caller for rate limiting.
func (a *AuthInfo) LimitKey() string {
	if a.KeyID != "" {
		return a.KeyID
	}
	return "staff:" + a.StaffID
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok
}
