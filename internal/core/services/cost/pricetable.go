package cost

import (
	"sync"

	"github.com/shopspring/decimal"
)

// ModelPrice is one row of the static model → price table §4.6 requires:
// per-1k-token prices for prompt and completion tokens, in USD.
type ModelPrice struct {
	PricePerThousandPromptUSD     decimal.Decimal
	PricePerThousandCompletionUSD decimal.Decimal
}

// PriceTable resolves a model name to its pricing, falling back to a
// zero-cost entry for unrecognized models per §4.6's graceful-degradation
// rule, mirroring the teacher's CostCalculatorService.CalculateCost
// fallback-to-zero behavior for missing pricing.
type PriceTable struct {
	mu      sync.RWMutex
	prices  map[string]ModelPrice
	warned  map[string]struct{}
}

// defaultPrices seeds a handful of well-known models. It is the only price
// source at runtime: nothing in this repository calls NewPriceTableFromRows
// or loads price rows from the metadata store.
func defaultPrices() map[string]ModelPrice {
	price := func(prompt, completion string) ModelPrice {
		return ModelPrice{
			PricePerThousandPromptUSD:     decimal.RequireFromString(prompt),
			PricePerThousandCompletionUSD: decimal.RequireFromString(completion),
		}
	}
	return map[string]ModelPrice{
		"gpt-4":                 price("0.03", "0.06"),
		"gpt-4o":                price("0.005", "0.015"),
		"gpt-4o-mini":           price("0.00015", "0.0006"),
		"gpt-4-turbo":           price("0.01", "0.03"),
		"gpt-3.5-turbo":         price("0.0005", "0.0015"),
		"claude-3-5-sonnet":     price("0.003", "0.015"),
		"claude-3-haiku":        price("0.00025", "0.00125"),
		"gemini-1.5-pro":        price("0.00125", "0.005"),
		"gemini-1.5-flash":      price("0.000075", "0.0003"),
	}
}

func NewPriceTable() *PriceTable {
	return &PriceTable{prices: defaultPrices(), warned: make(map[string]struct{})}
}

// NewPriceTableFromRows builds a table from externally supplied rows,
// replacing the built-in defaults, e.g. when seeded from the metadata store.
func NewPriceTableFromRows(rows map[string]ModelPrice) *PriceTable {
	if len(rows) == 0 {
		return NewPriceTable()
	}
	return &PriceTable{prices: rows, warned: make(map[string]struct{})}
}

// Lookup returns the pricing for model and whether it was found. The second
// return is used by the caller to decide whether to emit the once-per-model
// DEBUG log §4.6 calls for on unknown models.
func (t *PriceTable) Lookup(model string) (ModelPrice, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.prices[model]
	return p, ok
}

// ShouldWarnUnknown reports true at most once per distinct unknown model
// name, per §4.6's "log at DEBUG once per unknown model" rule.
func (t *PriceTable) ShouldWarnUnknown(model string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, seen := t.warned[model]; seen {
		return false
	}
	t.warned[model] = struct{}{}
	return true
}

// Set installs or replaces a model's pricing, used by admin/seed tooling.
func (t *PriceTable) Set(model string, price ModelPrice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[model] = price
}
