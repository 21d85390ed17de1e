package unifiedllm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	SupportsTools bool     `json:"supports_tools"`
	Reasoning     bool     `json:"reasoning"`
	Encoding      string   `json:"encoding"` // tiktoken encoding used to approximate token counts
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog. Within a provider, entries are
// ordered best first.
var Models = []ModelInfo{
	// Groq
	{
		ID: "deepseek-r1-distill-llama-70b", Provider: "groq", DisplayName: "DeepSeek R1 Distill Llama 70B",
		ContextWindow: 131072, SupportsTools: true, Reasoning: true, Encoding: "cl100k_base",
		Aliases: []string{"deepseek-r1"},
	},
	{
		ID: "llama-3.3-70b-versatile", Provider: "groq", DisplayName: "Llama 3.3 70B Versatile",
		ContextWindow: 131072, SupportsTools: true, Encoding: "cl100k_base",
		Aliases: []string{"llama-3.3"},
	},

	// OpenAI
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, SupportsTools: true, Encoding: "o200k_base",
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o Mini",
		ContextWindow: 128000, SupportsTools: true, Encoding: "o200k_base",
	},

	// Anthropic
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, SupportsTools: true, Reasoning: true, Encoding: "cl100k_base",
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-3-5-haiku-latest", Provider: "anthropic", DisplayName: "Claude 3.5 Haiku",
		ContextWindow: 200000, SupportsTools: true, Encoding: "cl100k_base",
		Aliases: []string{"haiku"},
	},

	// Ollama
	{
		ID: "qwen2.5-coder", Provider: "ollama", DisplayName: "Qwen 2.5 Coder",
		ContextWindow: 32768, SupportsTools: true, Encoding: "cl100k_base",
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// GetLatestModel returns the first (newest/best) model for a provider,
// optionally filtered by capability ("tools" or "reasoning").
func GetLatestModel(provider string, capability string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider != provider {
			continue
		}
		switch capability {
		case "":
			return &Models[i]
		case "tools":
			if Models[i].SupportsTools {
				return &Models[i]
			}
		case "reasoning":
			if Models[i].Reasoning {
				return &Models[i]
			}
		}
	}
	return nil
}
