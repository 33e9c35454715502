package llm

// ModelTier names the capability level asked of a model, so call sites pick
// by task weight rather than hardcoding model names.
type ModelTier string

const (
	// TierLite covers classification and simple extraction.
	TierLite ModelTier = "lite"
	// TierStandard covers structured parsing and scoring.
	TierStandard ModelTier = "standard"
	// TierAdvanced covers document drafting and challenge solving.
	TierAdvanced ModelTier = "advanced"
)

// Provider identifies an LLM vendor.
type Provider string

const ProviderGemini Provider = "gemini"

// Config maps tiers to a provider's concrete model names.
type Config struct {
	Provider Provider
	Models   map[ModelTier]string
}

// DefaultGeminiConfig returns the Gemini tier mapping.
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
	}
}

// GetModel resolves a tier to a model name, falling back to standard then
// lite when the tier is not mapped.
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	return c.Models[TierLite]
}
