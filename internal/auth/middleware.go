package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/af-corp/clinai/internal/httputil"
)

// Middleware authenticates requests via Bearer token. Tokens carrying the
// clinai- scheme are staff API keys; anything else is tried as a session
// JWT when sessions is non-nil.
func Middleware(store KeyStore, sessions *SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteAuthError(w, reqID, "Missing Authorization header. Use: Authorization: Bearer <api-key>")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				httputil.WriteAuthError(w, reqID, "Invalid Authorization format. Use: Authorization: Bearer <api-key>")
				return
			}
			if token == "" {
				httputil.WriteAuthError(w, reqID, "Empty API key")
				return
			}

			var info *AuthInfo
			if strings.HasPrefix(token, KeyPrefixScheme) {
				meta, err := store.Lookup(r.Context(), HashKey(token))
				if err != nil {
					slog.Error("key lookup failed", "error", err, "key_prefix", KeyPrefix(token))
					httputil.WriteInternalError(w, reqID, "Internal error during authentication")
					return
				}
				if meta == nil {
					slog.Warn("auth failed: key not found", "key_prefix", KeyPrefix(token))
					httputil.WriteAuthError(w, reqID, "Invalid API key")
					return
				}
				info = &AuthInfo{
					Method:               MethodAPIKey,
					KeyID:                meta.ID,
					StaffID:              meta.StaffID,
					DepartmentID:         meta.DepartmentID,
					Role:                 meta.Role,
					MaxSensitivity:       meta.MaxSensitivity,
					AllowedProviders:     meta.AllowedProviders,
					RPMLimit:             meta.RPMLimit,
					DailySpendLimitCents: meta.DailySpendLimitCents,
				}
			} else {
				if sessions == nil {
					httputil.WriteAuthError(w, reqID, "Invalid API key")
					return
				}
				var err error
				if info, err = sessions.Verify(token); err != nil {
					slog.Warn("auth failed: session rejected", "error", err)
					httputil.WriteAuthError(w, reqID, "Invalid or expired session")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), info)))
		})
	}
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := AuthFromContext(r.Context())
		if !ok || !info.IsAdmin() {
			httputil.WriteForbiddenError(w, w.Header().Get("X-Request-ID"), "Admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
