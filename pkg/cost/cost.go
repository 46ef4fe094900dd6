// Package cost converts token usage into USD using a static price table.
package cost

import "strings"

// Pricing is a per-model price pair in USD per 1M tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Cost returns the USD cost of the given token counts.
func (p Pricing) Cost(tokensIn, tokensOut int64) float64 {
	return float64(tokensIn)/1e6*p.InputPer1M + float64(tokensOut)/1e6*p.OutputPer1M
}

// Entry prices every model whose lowercased name contains Match.
type Entry struct {
	Match   string
	Pricing Pricing
}

// Table is an ordered price list; the first matching entry wins, so more
// specific substrings must come first.
type Table struct {
	Entries []Entry
	Default Pricing
}

// DefaultTable holds list prices (USD per 1M tokens) for the models the
// pipeline ships clients for.
var DefaultTable = Table{
	Entries: []Entry{
		{Match: "deepseek-reasoner", Pricing: Pricing{InputPer1M: 0.55, OutputPer1M: 2.19}},
		{Match: "deepseek", Pricing: Pricing{InputPer1M: 0.27, OutputPer1M: 1.10}},
		{Match: "haiku", Pricing: Pricing{InputPer1M: 0.80, OutputPer1M: 4.00}},
		{Match: "sonnet", Pricing: Pricing{InputPer1M: 3.00, OutputPer1M: 15.00}},
		{Match: "opus", Pricing: Pricing{InputPer1M: 15.00, OutputPer1M: 75.00}},
		{Match: "gpt-4o-mini", Pricing: Pricing{InputPer1M: 0.15, OutputPer1M: 0.60}},
		{Match: "gpt-4o", Pricing: Pricing{InputPer1M: 2.50, OutputPer1M: 10.00}},
		{Match: "gemini-1.5-flash", Pricing: Pricing{InputPer1M: 0.075, OutputPer1M: 0.30}},
		{Match: "flash", Pricing: Pricing{InputPer1M: 0.10, OutputPer1M: 0.40}},
		{Match: "gemini", Pricing: Pricing{InputPer1M: 1.25, OutputPer1M: 5.00}},
	},
	Default: Pricing{InputPer1M: 1.00, OutputPer1M: 2.00},
}

// Lookup returns the pricing for model and whether a table entry matched.
func (t Table) Lookup(model string) (Pricing, bool) {
	name := strings.ToLower(model)
	if name != "" {
		for _, entry := range t.Entries {
			if strings.Contains(name, entry.Match) {
				return entry.Pricing, true
			}
		}
	}

	return t.Default, false
}

// Cost prices the token counts for model.
func (t Table) Cost(model string, tokensIn, tokensOut int64) float64 {
	pricing, _ := t.Lookup(model)

	return pricing.Cost(tokensIn, tokensOut)
}
