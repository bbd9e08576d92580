package config

import "github.com/af-corp/clinai/internal/types"

// ModelsConfig holds per-provider capability overrides and pricing, keyed
// by provider name.
type ModelsConfig struct {
	Capabilities map[string]CapabilityOverride    `yaml:"capabilities"`
	Pricing      map[string]map[string]PriceEntry `yaml:"pricing"`
}

// CapabilityOverride replaces adapter defaults field by field. Nil and
// empty values keep the default.
type CapabilityOverride struct {
	Vision           *bool    `yaml:"vision"`
	Speech           *bool    `yaml:"speech"`
	Embedding        *bool    `yaml:"embedding"`
	FunctionCalling  *bool    `yaml:"function_calling"`
	MaxContextLength int      `yaml:"max_context_length"`
	Languages        []string `yaml:"languages"`
	Models           []string `yaml:"models"`
}

// Apply returns base with the override's fields applied.
func (o CapabilityOverride) Apply(base types.CapabilityDescriptor) types.CapabilityDescriptor {
	out := base.Clone()
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setBool(&out.Vision, o.Vision)
	setBool(&out.Speech, o.Speech)
	setBool(&out.Embedding, o.Embedding)
	setBool(&out.FunctionCalling, o.FunctionCalling)
	if o.MaxContextLength > 0 {
		out.MaxContextLength = o.MaxContextLength
	}
	if len(o.Languages) > 0 {
		out.SupportedLanguages = append([]string(nil), o.Languages...)
	}
	if len(o.Models) > 0 {
		out.Models = append([]string(nil), o.Models...)
	}
	return out
}

// PriceEntry is USD per million tokens.
type PriceEntry struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// EstimateCostUSD prices usage for a provider/model pair. Unpriced models
// cost zero.
func (m *ModelsConfig) EstimateCostUSD(provider, model string, usage *types.Usage) float64 {
	if m == nil || usage == nil {
		return 0
	}
	price, ok := m.Pricing[provider][model]
	if !ok {
		return 0
	}
	return (float64(usage.PromptTokens)*price.Input + float64(usage.CompletionTokens)*price.Output) / 1_000_000
}
