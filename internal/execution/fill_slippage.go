package execution

import "github.com/shopspring/decimal"

var bpsPerUnit = decimal.NewFromInt(10000)

// SlippageBps computes realized slippage in basis points between a
// price hint and the actual fill price, the unit the weekly
// execution-quality report (§4.12) consumes.
func SlippageBps(hint, fill decimal.Decimal) decimal.Decimal {
	if hint.IsZero() {
		return decimal.Zero
	}
	return fill.Sub(hint).Div(hint).Mul(bpsPerUnit)
}
