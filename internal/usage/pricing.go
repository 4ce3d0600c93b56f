package usage

import "log/slog"

// modelPricing holds per-token USD rates. Rates are per single token
// (catalog prices are quoted per 1M tokens).
type modelPricing struct {
	Input  float64
	Output float64
}

const defaultPricingModel = "gemini-1.5-flash"

var pricing = map[string]modelPricing{
	"gemini-1.5-flash": {Input: 0.075 / 1e6, Output: 0.3 / 1e6},
	"gemini-1.5-pro":   {Input: 3.5 / 1e6, Output: 10.5 / 1e6},
	"gemini-pro":       {Input: 0.5 / 1e6, Output: 1.5 / 1e6},
}

// EstimateCost prices a call from the static table. Unknown models are
// priced at the default model's rates; that is a degraded case worth a log
// line, never an error.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := pricing[model]
	if !ok {
		slog.Warn("unknown model for cost estimation, applying default pricing",
			"model", model,
			"defaultModel", defaultPricingModel,
		)
		p = pricing[defaultPricingModel]
	}
	return float64(inputTokens)*p.Input + float64(outputTokens)*p.Output
}
