package registry

// Candidate is an immutable provider/model registry entry. Entries are
// loaded at startup (and on hot reload) and never mutated afterwards;
// consumers receive shared references and must treat them as read-only.
type Candidate struct {
	// Provider is the backend provider identifier (e.g. "openai").
	Provider string `yaml:"provider"`

	// Model is the model identifier (e.g. "gpt-4o").
	Model string `yaml:"model"`

	// Capabilities contains the static capability flags for this model.
	Capabilities Capabilities `yaml:"capabilities"`

	// Pricing contains per-1M-token pricing for this model.
	Pricing Pricing `yaml:"pricing"`
}

// Capabilities contains static capability flags for a candidate.
type Capabilities struct {
	// Vision indicates image input support.
	Vision bool `yaml:"vision"`

	// ToolUse indicates function/tool calling support.
	ToolUse bool `yaml:"tool_use"`

	// MaxContext is the maximum context window in tokens.
	MaxContext int `yaml:"max_context"`

	// MaxOutputTokens is the maximum completion size in tokens.
	MaxOutputTokens int `yaml:"max_output_tokens"`
}

// Pricing contains cost per 1M tokens in USD.
type Pricing struct {
	// InputPer1M is the cost per 1M input tokens.
	InputPer1M float64 `yaml:"input_per_1m"`

	// OutputPer1M is the cost per 1M output tokens.
	OutputPer1M float64 `yaml:"output_per_1m"`
}

// Key returns the canonical "provider/model" identifier for a candidate.
func (c *Candidate) Key() string {
	return c.Provider + "/" + c.Model
}

// EstimateCost returns the cost in USD for the given token counts using
// this candidate's pricing.
func (c *Candidate) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*c.Pricing.InputPer1M +
		float64(outputTokens)/1e6*c.Pricing.OutputPer1M
}
