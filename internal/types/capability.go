package types

import "slices"

// CapabilityDescriptor is static metadata about what a provider supports.
// Adapters build it once at construction; accessors hand out copies.
type CapabilityDescriptor struct {
	Chat               bool     `json:"chat"`
	Stream             bool     `json:"stream"`
	Vision             bool     `json:"vision"`
	Speech             bool     `json:"speech"`
	Embedding          bool     `json:"embedding"`
	FunctionCalling    bool     `json:"function_calling"`
	MaxContextLength   int      `json:"max_context_length"`
	SupportedLanguages []string `json:"supported_languages"`
	Models             []string `json:"models"`
}

// Clone returns a deep copy so callers cannot mutate the original.
func (c CapabilityDescriptor) Clone() CapabilityDescriptor {
	c.SupportedLanguages = slices.Clone(c.SupportedLanguages)
	c.Models = slices.Clone(c.Models)
	return c
}

func (c CapabilityDescriptor) SupportsLanguage(lang string) bool {
	return slices.Contains(c.SupportedLanguages, lang)
}

func (c CapabilityDescriptor) SupportsModel(model string) bool {
	return slices.Contains(c.Models, model)
}

// DefaultModel is the first advertised model, or "" when none are listed.
func (c CapabilityDescriptor) DefaultModel() string {
	if len(c.Models) == 0 {
		return ""
	}
	return c.Models[0]
}
