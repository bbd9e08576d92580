package router

import (
	"net/http"
	"time"

	"github.com/af-corp/clinai/internal/config"
	"github.com/af-corp/clinai/internal/router/adapters"
)

// BuildFromConfig creates one adapter per configured provider, in
// configuration order. Each provider gets its own connection pool; attempt
// deadlines come from the request context so streams are not cut off by a
// client-wide timeout.
func BuildFromConfig(provCfg *config.ProvidersConfig, modelsCfg *config.ModelsConfig) []Entry {
	entries := make([]Entry, 0, len(provCfg.Providers))
	for _, cfg := range provCfg.Providers {
		maxConns := cfg.MaxConcurrent
		if maxConns <= 0 {
			maxConns = 100
		}
		client := &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        maxConns,
				MaxIdleConnsPerHost: maxConns,
				MaxConnsPerHost:     maxConns,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}

		caps := adapters.DefaultCapabilities(cfg.Type)
		if modelsCfg != nil {
			if override, ok := modelsCfg.Capabilities[cfg.Name]; ok {
				caps = override.Apply(caps)
			}
		}

		var adapter adapters.Provider
		switch cfg.Type {
		case "anthropic":
			adapter = adapters.NewAnthropicAdapterWithCapabilities(cfg, client, caps)
		default:
			adapter = adapters.NewOpenAIAdapterWithCapabilities(cfg, client, caps)
		}

		hosting := cfg.Hosting
		if hosting == "" {
			hosting = "external"
		}
		entries = append(entries, Entry{
			Provider: adapter,
			Type:     cfg.Type,
			Timeout:  cfg.Timeout(),
			Hosting:  hosting,
			BAA:      cfg.BAA,
		})
	}
	return entries
}
