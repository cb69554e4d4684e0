package emitter

import (
	"fmt"
	"strings"

	"spotarb/internal/market"
)

// formatCross renders one cross opportunity as a single alert message.
func formatCross(op market.CrossOpportunity) string {
	return fmt.Sprintf(
		"ARB #%d %s: buy %s @ %s, sell %s @ %s | net %s bps (gross %s) | fillable %s %s",
		op.ID, op.Pair,
		op.BuyVenue, op.BuyVWAP.StringFixed(8),
		op.SellVenue, op.SellVWAP.StringFixed(8),
		op.NetBps.StringFixed(2), op.GrossBps.StringFixed(2),
		op.FillableNotional.StringFixed(2), op.Pair.Quote,
	)
}

// formatTri renders one triangular opportunity as a single alert message.
func formatTri(op market.TriOpportunity) string {
	legs := make([]string, 0, 3)
	for _, leg := range op.Legs {
		legs = append(legs, fmt.Sprintf("%s %s", leg.Side, leg.Pair))
	}
	return fmt.Sprintf(
		"TRI #%d %s [%s]: %s | net %s bps (gross %s)",
		op.ID, op.Venue, op.Base,
		strings.Join(legs, " -> "),
		op.NetBps.StringFixed(2), op.GrossBps.StringFixed(2),
	)
}
