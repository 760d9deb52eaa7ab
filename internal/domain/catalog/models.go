package catalog

import "github.com/shopspring/decimal"

// DefaultVersion labels the built-in model table. Bump it whenever a
// descriptor changes.
const DefaultVersion = "2025.06"

func rate(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var zero = decimal.Zero

// defaultModels is the built-in descriptor table. It only changes with a
// deployment.
var defaultModels = []Model{
	{
		ID: "gpt-4o-mini", Name: "GPT-4o mini",
		Backend: BackendOpenAI, Category: CategoryFast, PlanRequired: PlanFree,
		CreditPerInputToken: zero, CreditPerOutputToken: zero,
		CostPerInputToken: rate("0.00000015"), CostPerOutputToken: rate("0.0000006"),
		ContextWindow: 128000, Available: true,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true},
		BackendIDs: map[Backend]string{
			BackendOpenRouter: "openai/gpt-4o-mini",
			BackendLiteLLM:    "gpt-4o-mini",
		},
	},
	{
		ID: "gpt-4o", Name: "GPT-4o",
		Backend: BackendOpenAI, Category: CategoryAdvanced, PlanRequired: PlanFree,
		CreditPerInputToken: zero, CreditPerOutputToken: zero,
		CostPerInputToken: rate("0.0000025"), CostPerOutputToken: rate("0.00001"),
		ContextWindow: 128000, Available: true,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true},
		BackendIDs: map[Backend]string{
			BackendOpenRouter: "openai/gpt-4o",
			BackendLiteLLM:    "gpt-4o",
		},
	},
	{
		ID: "claude-3-5-haiku", Name: "Claude 3.5 Haiku",
		Backend: BackendAnthropic, Category: CategoryFast, PlanRequired: PlanFree,
		CreditPerInputToken: zero, CreditPerOutputToken: zero,
		CostPerInputToken: rate("0.0000008"), CostPerOutputToken: rate("0.000004"),
		ContextWindow: 200000, Available: true,
		Capabilities: Capabilities{Streaming: true, Tools: true},
		BackendIDs: map[Backend]string{
			BackendAnthropic:  "claude-3-5-haiku-20241022",
			BackendOpenRouter: "anthropic/claude-3.5-haiku",
		},
	},
	{
		ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash",
		Backend: BackendGoogle, Category: CategoryFast, PlanRequired: PlanFree,
		CreditPerInputToken: zero, CreditPerOutputToken: zero,
		CostPerInputToken: rate("0.0000001"), CostPerOutputToken: rate("0.0000004"),
		ContextWindow: 1048576, Available: true,
		Capabilities: Capabilities{Streaming: true, Vision: true},
		BackendIDs: map[Backend]string{
			BackendOpenRouter: "google/gemini-2.0-flash-001",
		},
	},
	{
		ID: "llama-3.3-70b", Name: "Llama 3.3 70B",
		Backend: BackendOpenRouter, Category: CategoryFast, PlanRequired: PlanFree,
		CreditPerInputToken: zero, CreditPerOutputToken: zero,
		CostPerInputToken: rate("0.00000012"), CostPerOutputToken: rate("0.0000003"),
		ContextWindow: 131072, Available: true,
		Capabilities: Capabilities{Streaming: true},
		BackendIDs: map[Backend]string{
			BackendOpenRouter: "meta-llama/llama-3.3-70b-instruct",
			BackendLiteLLM:    "groq/llama-3.3-70b-versatile",
		},
	},
	{
		ID: "mistral-large", Name: "Mistral Large",
		Backend: BackendOpenRouter, Category: CategoryAdvanced, PlanRequired: PlanLite,
		CreditPerInputToken: rate("0.004"), CreditPerOutputToken: rate("0.012"),
		CostPerInputToken: rate("0.000002"), CostPerOutputToken: rate("0.000006"),
		ContextWindow: 128000, Available: true,
		Capabilities: Capabilities{Streaming: true, Tools: true},
		BackendIDs: map[Backend]string{
			BackendOpenRouter: "mistralai/mistral-large",
		},
	},
	{
		ID: "deepseek-r1", Name: "DeepSeek R1",
		Backend: BackendOpenRouter, Category: CategoryReasoning, PlanRequired: PlanLite,
		CreditPerInputToken: rate("0.005"), CreditPerOutputToken: rate("0.01"),
		CostPerInputToken: rate("0.00000055"), CostPerOutputToken: rate("0.00000219"),
		ContextWindow: 64000, Available: true,
		Capabilities: Capabilities{Streaming: true},
		BackendIDs: map[Backend]string{
			BackendOpenRouter: "deepseek/deepseek-r1",
			BackendLiteLLM:    "deepseek/deepseek-reasoner",
		},
	},
	{
		ID: "claude-sonnet-4", Name: "Claude Sonnet 4",
		Backend: BackendAnthropic, Category: CategoryAdvanced, PlanRequired: PlanPro,
		CreditPerInputToken: rate("0.01"), CreditPerOutputToken: rate("0.02"),
		CostPerInputToken: rate("0.000003"), CostPerOutputToken: rate("0.000015"),
		ContextWindow: 200000, Available: true,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true},
		BackendIDs: map[Backend]string{
			BackendAnthropic:  "claude-sonnet-4-20250514",
			BackendOpenRouter: "anthropic/claude-sonnet-4",
			BackendLiteLLM:    "claude-sonnet-4-20250514",
		},
	},
	{
		ID: "gpt-4.1", Name: "GPT-4.1",
		Backend: BackendOpenAI, Category: CategoryAdvanced, PlanRequired: PlanPro,
		CreditPerInputToken: rate("0.01"), CreditPerOutputToken: rate("0.02"),
		CostPerInputToken: rate("0.000002"), CostPerOutputToken: rate("0.000008"),
		ContextWindow: 1047576, Available: true,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true},
		BackendIDs: map[Backend]string{
			BackendOpenRouter: "openai/gpt-4.1",
			BackendLiteLLM:    "gpt-4.1",
		},
	},
	{
		ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro",
		Backend: BackendGoogle, Category: CategoryAdvanced, PlanRequired: PlanPro,
		CreditPerInputToken: rate("0.008"), CreditPerOutputToken: rate("0.02"),
		CostPerInputToken: rate("0.00000125"), CostPerOutputToken: rate("0.00001"),
		ContextWindow: 1048576, Available: true,
		Capabilities: Capabilities{Streaming: true, Vision: true},
		BackendIDs: map[Backend]string{
			BackendOpenRouter: "google/gemini-2.5-pro",
		},
	},
	{
		ID: "o3-mini", Name: "o3-mini",
		Backend: BackendOpenAI, Category: CategoryReasoning, PlanRequired: PlanPro,
		CreditPerInputToken: rate("0.02"), CreditPerOutputToken: rate("0.04"),
		CostPerInputToken: rate("0.0000011"), CostPerOutputToken: rate("0.0000044"),
		ContextWindow: 200000, Available: true,
		Capabilities: Capabilities{Streaming: true, Tools: true},
		BackendIDs: map[Backend]string{
			BackendOpenRouter: "openai/o3-mini",
		},
	},
	{
		ID: "claude-opus-4", Name: "Claude Opus 4",
		Backend: BackendAnthropic, Category: CategoryReasoning, PlanRequired: PlanEnterprise,
		CreditPerInputToken: rate("0.05"), CreditPerOutputToken: rate("0.1"),
		CostPerInputToken: rate("0.000015"), CostPerOutputToken: rate("0.000075"),
		ContextWindow: 200000, Available: true,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true},
		BackendIDs: map[Backend]string{
			BackendAnthropic:  "claude-opus-4-20250514",
			BackendOpenRouter: "anthropic/claude-opus-4",
		},
	},
	{
		ID: "gpt-4-turbo", Name: "GPT-4 Turbo",
		Backend: BackendOpenAI, Category: CategoryAdvanced, PlanRequired: PlanPro,
		CreditPerInputToken: rate("0.02"), CreditPerOutputToken: rate("0.06"),
		CostPerInputToken: rate("0.00001"), CostPerOutputToken: rate("0.00003"),
		ContextWindow: 128000, Available: false,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true},
		BackendIDs: map[Backend]string{
			BackendOpenRouter: "openai/gpt-4-turbo",
		},
	},
}

// Default returns the built-in catalog. It panics if the table is invalid,
// which can only happen through an edit to defaultModels.
func Default() *Catalog {
	c, err := New(DefaultVersion, defaultModels)
	if err != nil {
		panic(err)
	}
	return c
}
