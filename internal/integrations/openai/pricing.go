package openai

import "support-orchestrator/internal/domain"

// costUnknownModel is logged in place of a number when the model has no
// entry in the price table.
const costUnknownModel = "model not found"

type modelPricing struct {
	prompt     float64
	completion float64
}

// pricingPer1KTokens maps model ids to USD prices per 1000 tokens.
var pricingPer1KTokens = map[string]modelPricing{
	"gpt-4-turbo":       {prompt: 0.01, completion: 0.03},
	"gpt-4o":            {prompt: 0.005, completion: 0.015},
	"gpt-4o-2024-05-13": {prompt: 0.005, completion: 0.015},
	"gpt-4o-2024-08-06": {prompt: 0.0025, completion: 0.010},
}

// Cost computes the approximate monetary cost of a completion. The second
// return value is false for models missing from the price table.
func Cost(model string, usage domain.TokenUsage) (float64, bool) {
	pricing, ok := pricingPer1KTokens[model]
	if !ok {
		return 0, false
	}
	cost := float64(usage.PromptTokens)*pricing.prompt/1000 +
		float64(usage.CompletionTokens)*pricing.completion/1000
	return cost, true
}
