package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/af-corp/clinai/internal/auth"
	"github.com/af-corp/clinai/internal/httputil"
	"github.com/af-corp/clinai/internal/router"
)

type modelObject struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	OwnedBy  string `json:"owned_by"`
	Provider string `json:"provider"`
	Default  bool   `json:"default"`
}

type modelListResponse struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}

// ListModels handles GET /v1/models. Models come from the capability
// descriptors of the providers the caller may use.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	info, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	models := []modelObject{}
	for _, p := range h.manager.GetProviders() {
		if !info.AllowsProvider(p.Name) {
			continue
		}
		def := p.Capabilities.DefaultModel()
		for _, m := range p.Capabilities.Models {
			models = append(models, modelObject{
				ID:       m,
				Object:   "model",
				OwnedBy:  p.Type,
				Provider: p.Name,
				Default:  m == def,
			})
		}
	}

	writeJSON(w, http.StatusOK, modelListResponse{Object: "list", Data: models})
}

type providerListResponse struct {
	Current   string                    `json:"current"`
	Providers []router.ProviderSnapshot `json:"providers"`
}

// ListProviders handles GET /v1/providers
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, providerListResponse{
		Current:   h.manager.GetCurrentProvider(),
		Providers: h.manager.GetProviders(),
	})
}

type currentProvider struct {
	Name string `json:"name"`
}

// CurrentProvider handles GET /v1/providers/current
func (h *Handler) CurrentProvider(w http.ResponseWriter, r *http.Request) {
	name := h.manager.GetCurrentProvider()
	if name == "" {
		httputil.WriteServiceUnavailableError(w, w.Header().Get("X-Request-ID"), "No provider is currently selected")
		return
	}
	writeJSON(w, http.StatusOK, currentProvider{Name: name})
}

// SwitchProvider handles PUT /v1/providers/current. It requires the admin
// role; routes mount it behind auth.RequireAdmin.
func (h *Handler) SwitchProvider(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var body currentProvider
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil || body.Name == "" {
		httputil.WriteBadRequestError(w, reqID, `Body must be {"name": "<provider>"}`)
		return
	}

	previous := h.manager.GetCurrentProvider()
	if err := h.manager.SwitchProvider(body.Name); err != nil {
		slog.Warn("provider switch rejected", "request_id", reqID, "provider", body.Name, "error", err)
		httputil.WriteAIError(w, reqID, err)
		return
	}

	var staffID string
	if info, ok := auth.AuthFromContext(r.Context()); ok {
		staffID = info.StaffID
	}
	slog.Info("provider switched by operator",
		"request_id", reqID,
		"from", previous,
		"to", body.Name,
		"staff_id", staffID,
	)
	writeJSON(w, http.StatusOK, currentProvider{Name: body.Name})
}

type healthResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	CurrentProvider  string `json:"current_provider"`
	HealthyProviders int    `json:"healthy_providers"`
	Providers        int    `json:"providers"`
}

// Health handles GET /clinai/v1/health. It reports 503 when no provider is
// healthy.
func (h *Handler) Health(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthy := h.manager.HealthyCount()
		total := len(h.manager.GetProviders())

		resp := healthResponse{
			Status:           "healthy",
			Version:          version,
			CurrentProvider:  h.manager.GetCurrentProvider(),
			HealthyProviders: healthy,
			Providers:        total,
		}
		status := http.StatusOK
		switch {
		case healthy == 0:
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		case healthy < total:
			resp.Status = "degraded"
		}
		writeJSON(w, status, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
