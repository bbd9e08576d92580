package gateway

import (
	"context"
	"net/http"

	"github.com/af-corp/clinai/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Routes builds the public HTTP router. authenticate and limit wrap every
// /v1 route; limit may be nil.
func Routes(h *Handler, version string, authenticate, limit func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestID)

	r.Get("/clinai/v1/health", h.Health(version))

	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		if limit != nil {
			r.With(limit).Post("/v1/chat/completions", h.ChatCompletions)
		} else {
			r.Post("/v1/chat/completions", h.ChatCompletions)
		}
		r.Get("/v1/models", h.ListModels)
		r.Get("/v1/providers", h.ListProviders)
		r.Get("/v1/providers/current", h.CurrentProvider)
		r.With(auth.RequireAdmin).Put("/v1/providers/current", h.SwitchProvider)
	})
	return r
}

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = "req_" + uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

