package config

import (
	"fmt"
	"time"
)

// ProvidersConfig lists providers in configuration order. The order decides
// the default provider and the failover sequence.
type ProvidersConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	Name         string            `yaml:"name"`
	Type         string            `yaml:"type"`
	APIKey       string            `yaml:"api_key"`
	APIBase      string            `yaml:"api_base,omitempty"`
	APIVersion   string            `yaml:"api_version,omitempty"`
	TimeoutMs    int               `yaml:"timeout_ms,omitempty"`
	DefaultModel string            `yaml:"default_model,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`

	// Hosting is "internal" for on-premises models and "external" for vendors.
	Hosting       string `yaml:"hosting,omitempty"`
	BAA           bool   `yaml:"baa,omitempty"`
	MaxConcurrent int    `yaml:"max_concurrent,omitempty"`
}

const defaultProviderTimeout = 30 * time.Second

// Timeout is the per-attempt deadline for non-streaming calls.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutMs <= 0 {
		return defaultProviderTimeout
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

var knownProviderTypes = map[string]bool{
	"openai":            true,
	"openai-compatible": true,
	"anthropic":         true,
}

func (pc *ProvidersConfig) Validate() error {
	if len(pc.Providers) == 0 {
		return fmt.Errorf("no providers configured")
	}
	seen := make(map[string]bool, len(pc.Providers))
	for i, p := range pc.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if !knownProviderTypes[p.Type] {
			return fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type)
		}
		if p.TimeoutMs < 0 {
			return fmt.Errorf("provider %q: timeout_ms must not be negative", p.Name)
		}
		switch p.Hosting {
		case "", "internal", "external":
		default:
			return fmt.Errorf("provider %q: hosting must be internal or external", p.Name)
		}
	}
	return nil
}

// Lookup returns the provider with the given name.
func (pc *ProvidersConfig) Lookup(name string) (ProviderConfig, bool) {
	for _, p := range pc.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
