// Package depth implements the depth-aware VWAP cost model. Pure functions
// over one side of a book; all arithmetic is decimal so cumulative fills
// stay exact at 18-significant-digit crypto prices.
package depth

import (
	"github.com/shopspring/decimal"

	"spotarb/internal/market"
)

// Result of walking one side of a book for a target notional.
type Result struct {
	VWAP             decimal.Decimal
	FilledQty        decimal.Decimal
	FilledNotional   decimal.Decimal
	FillableNotional decimal.Decimal
	LevelsUsed       int
}

// VWAP walks the given side (nearest-to-touch first, i.e. the order the
// levels are stored in) accumulating quantity and notional until the target
// notional is reached. The final level is filled fractionally so the filled
// notional equals the target exactly. ok is false when the side cannot fill
// the target.
func VWAP(levels []market.Level, targetNotional decimal.Decimal) (Result, bool) {
	if len(levels) == 0 || targetNotional.Sign() <= 0 {
		return Result{}, false
	}

	filledQty := decimal.Zero
	filledNotional := decimal.Zero
	for i, l := range levels {
		levelNotional := l.Price.Mul(l.Size)
		remaining := targetNotional.Sub(filledNotional)
		if levelNotional.GreaterThanOrEqual(remaining) {
			qty := remaining.Div(l.Price)
			filledQty = filledQty.Add(qty)
			filledNotional = targetNotional
			return Result{
				VWAP:             filledNotional.Div(filledQty),
				FilledQty:        filledQty,
				FilledNotional:   filledNotional,
				FillableNotional: targetNotional,
				LevelsUsed:       i + 1,
			}, true
		}
		filledQty = filledQty.Add(l.Size)
		filledNotional = filledNotional.Add(levelNotional)
	}
	// Book exhausted before the target: unfillable.
	return Result{
		FilledQty:        filledQty,
		FilledNotional:   filledNotional,
		FillableNotional: filledNotional,
		LevelsUsed:       len(levels),
	}, false
}

// SideNotional is the total quote-unit notional resting on a side.
func SideNotional(levels []market.Level) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Price.Mul(l.Size))
	}
	return total
}
