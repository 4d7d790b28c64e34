package analysis

// Usage reports the token consumption of one completed analysis call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns the combined token count.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// ModelPricing holds per-token prices in USD per million tokens.
type ModelPricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost returns the incurred cost of a call in USD.
func (p ModelPricing) Cost(u Usage) float64 {
	return float64(u.InputTokens)/1_000_000*p.InputPerMTok +
		float64(u.OutputTokens)/1_000_000*p.OutputPerMTok
}

// modelPricing maps model identifiers to their published per-token prices.
// Unknown models fall back to defaultPricing so cost accounting degrades to
// an estimate rather than silently reporting zero.
var modelPricing = map[string]ModelPricing{
	"claude-sonnet-4-5-20250929": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-3-5-haiku-20241022":  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"claude-opus-4-1-20250805":   {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"claude-3-5-sonnet-20241022": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
}

var defaultPricing = ModelPricing{InputPerMTok: 3.00, OutputPerMTok: 15.00}

// PricingFor returns the pricing for a model identifier.
func PricingFor(model string) ModelPricing {
	if p, ok := modelPricing[model]; ok {
		return p
	}
	return defaultPricing
}
