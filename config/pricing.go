package config

import "cellgrid/task"

// ModelPricing is the cost per 1M tokens for a model, in USD
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// ModelPricingTable maps API model names to their pricing
var ModelPricingTable = map[string]ModelPricing{
	"claude-sonnet-4-20250514":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-opus-4-20250514":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-5-haiku-20241022":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-7-sonnet-20250219": {InputPer1M: 3.00, OutputPer1M: 15.00},

	"gpt-4o":       {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":  {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4.1":      {InputPer1M: 2.00, OutputPer1M: 8.00},
	"gpt-4.1-mini": {InputPer1M: 0.40, OutputPer1M: 1.60},
	"o3-mini":      {InputPer1M: 1.10, OutputPer1M: 4.40},
	"o4-mini":      {InputPer1M: 1.10, OutputPer1M: 4.40},

	"gemini-2.0-flash": {InputPer1M: 0.10, OutputPer1M: 0.40},
	"gemini-2.5-flash": {InputPer1M: 0.30, OutputPer1M: 2.50},
	"gemini-2.5-pro":   {InputPer1M: 1.25, OutputPer1M: 10.00},
	"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.00},
}

// CalculateCost returns the USD cost of the given token counts. Unknown
// models cost 0.
func CalculateCost(apiModel string, inputTokens, outputTokens int) float64 {
	pricing, ok := ModelPricingTable[apiModel]
	if !ok {
		return 0
	}

	inputCost := float64(inputTokens) / 1_000_000 * pricing.InputPer1M
	outputCost := float64(outputTokens) / 1_000_000 * pricing.OutputPer1M

	return inputCost + outputCost
}

// CellCost prices one cell's usage from its model selector.
func (c *Config) CellCost(m task.ModelSelector, u task.Usage) float64 {
	for _, block := range c.Models {
		if block.Name != m.Provider {
			continue
		}
		api := block.APIModels()[m.Name]
		if api == "" {
			api = m.Name
		}
		return CalculateCost(api, u.InputTokens, u.OutputTokens)
	}
	return 0
}
