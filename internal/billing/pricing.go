package billing

import "github.com/khanhng/llm-router/internal/provider"

// ModelPrice holds USD-per-token rates. The table is an approximation
// for spend tracking, not a billing-grade ledger.
type ModelPrice struct {
	Input  float64
	Output float64
}

var modelPrices = map[string]ModelPrice{
	"claude-3-5-sonnet-20241022": {Input: 0.000003, Output: 0.000015},
	"claude-3-5-haiku-20241022":  {Input: 0.0000008, Output: 0.000004},
	"claude-3-opus-20240229":     {Input: 0.000015, Output: 0.000075},
	"claude-3-haiku-20240307":    {Input: 0.00000025, Output: 0.00000125},

	"gpt-4o":        {Input: 0.0000025, Output: 0.00001},
	"gpt-4o-mini":   {Input: 0.00000015, Output: 0.0000006},
	"gpt-4-turbo":   {Input: 0.00001, Output: 0.00003},
	"gpt-3.5-turbo": {Input: 0.0000005, Output: 0.0000015},

	"gemini-1.5-pro":   {Input: 0.00000125, Output: 0.000005},
	"gemini-1.5-flash": {Input: 0.000000075, Output: 0.0000003},
	"gemini-2.0-flash": {Input: 0.0000001, Output: 0.0000004},
}

// providerDefaultPrices back unrecognized models. The fallback is a
// labeled per-provider representative rate, not whichever table entry
// happens to come first.
var providerDefaultPrices = map[string]ModelPrice{
	"anthropic": {Input: 0.000003, Output: 0.000015},
	"openai":    {Input: 0.0000025, Output: 0.00001},
	"gemini":    {Input: 0.00000125, Output: 0.000005},
}

// PriceFor returns the per-token rates for a model, falling back to the
// provider's representative rate for unknown models.
func PriceFor(providerName, model string) ModelPrice {
	if price, ok := modelPrices[model]; ok {
		return price
	}
	if price, ok := providerDefaultPrices[providerName]; ok {
		return price
	}
	return ModelPrice{}
}

// CostOf computes the USD cost of one completion's token usage.
func CostOf(providerName, model string, usage provider.Usage) float64 {
	price := PriceFor(providerName, model)
	return float64(usage.InputTokens)*price.Input + float64(usage.OutputTokens)*price.Output
}
