// Package cost estimates extraction spend from fixed per-model token
// rate tables, so the scheduler can report batch cost and skip items not
// worth processing.
package cost

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ModelRate holds per-model token pricing in USD per million tokens.
type ModelRate struct {
	Input         float64 `yaml:"input"`
	Output        float64 `yaml:"output"`
	BatchDiscount float64 `yaml:"batch_discount"` // multiplier, 1.0 = no discount
}

// Rates maps model identifiers to their pricing.
type Rates struct {
	Models map[string]ModelRate `yaml:"models"`

	// OutputRatio is the assumed output-to-input token ratio for an
	// extraction call; structured extraction replies are small relative
	// to the document.
	OutputRatio float64 `yaml:"output_ratio"`
}

// DefaultRates returns the built-in pricing table.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00, BatchDiscount: 0.5,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00, BatchDiscount: 0.5,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00, BatchDiscount: 0.5,
			},
		},
		OutputRatio: 0.1,
	}
}

// LoadRates reads a pricing table from a YAML file.
func LoadRates(path string) (Rates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rates{}, eris.Wrap(err, "cost: read rates file")
	}
	var rates Rates
	if err := yaml.Unmarshal(data, &rates); err != nil {
		return Rates{}, eris.Wrap(err, "cost: parse rates file")
	}
	if rates.OutputRatio <= 0 {
		rates.OutputRatio = DefaultRates().OutputRatio
	}
	return rates, nil
}

// Calculator computes extraction cost estimates.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// PerItem estimates the cost of extracting one item of avgTokens input
// tokens with the given model. Unknown models estimate to 0.
func (c *Calculator) PerItem(model string, avgTokens int) float64 {
	rate, ok := c.rates.Models[model]
	if !ok {
		return 0
	}
	in := (float64(avgTokens) / 1e6) * rate.Input
	out := (float64(avgTokens) * c.rates.OutputRatio / 1e6) * rate.Output
	return in + out
}

// EstimateBatch estimates the cost of a batch of itemCount items at
// avgTokensPerItem each, applying the model's batch discount. A missing
// or zero discount means full price.
func (c *Calculator) EstimateBatch(itemCount, avgTokensPerItem int, model string) float64 {
	if itemCount <= 0 {
		return 0
	}
	rate, ok := c.rates.Models[model]
	if !ok {
		return 0
	}
	discount := rate.BatchDiscount
	if discount <= 0 {
		discount = 1
	}
	return float64(itemCount) * c.PerItem(model, avgTokensPerItem) * discount
}

// Known reports whether the model has a configured rate. The scheduler
// treats extraction against unknown models as not worth submitting.
func (c *Calculator) Known(model string) bool {
	_, ok := c.rates.Models[model]
	return ok
}
