package depth

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotarb/internal/market"
)

func lvl(price, size string) market.Level {
	return market.Level{
		Price: decimal.RequireFromString(price),
		Size:  decimal.RequireFromString(size),
	}
}

func TestVWAPSingleLevel(t *testing.T) {
	res, ok := VWAP([]market.Level{lvl("30000", "1")}, decimal.RequireFromString("100"))
	require.True(t, ok)

	assert.True(t, res.VWAP.Equal(decimal.RequireFromString("30000")))
	assert.True(t, res.FilledNotional.Equal(decimal.RequireFromString("100")))
	assert.Equal(t, 1, res.LevelsUsed)
}

func TestVWAPWalksLevels(t *testing.T) {
	asks := []market.Level{
		lvl("100", "1"), // 100 notional
		lvl("110", "1"), // 110 notional
	}
	// Target 150: full first level plus 50 notional of the second.
	res, ok := VWAP(asks, decimal.RequireFromString("150"))
	require.True(t, ok)

	assert.True(t, res.FilledNotional.Equal(decimal.RequireFromString("150")))
	assert.Equal(t, 2, res.LevelsUsed)

	// qty = 1 + 50/110; vwap = 150 / qty.
	wantQty := decimal.NewFromInt(1).Add(decimal.RequireFromString("50").Div(decimal.RequireFromString("110")))
	assert.True(t, res.FilledQty.Equal(wantQty))
	assert.True(t, res.VWAP.Equal(decimal.RequireFromString("150").Div(wantQty)))
}

func TestVWAPFillsTargetExactly(t *testing.T) {
	asks := []market.Level{lvl("3", "7"), lvl("9", "11")}
	target := decimal.RequireFromString("37.5")
	res, ok := VWAP(asks, target)
	require.True(t, ok)
	assert.True(t, res.FilledNotional.Equal(target), "partial last level must fill the target exactly")
}

func TestVWAPUnfillable(t *testing.T) {
	asks := []market.Level{lvl("100", "1")}
	res, ok := VWAP(asks, decimal.RequireFromString("500"))
	assert.False(t, ok)
	assert.True(t, res.FillableNotional.Equal(decimal.RequireFromString("100")))
}

func TestVWAPEmptyAndNonPositive(t *testing.T) {
	_, ok := VWAP(nil, decimal.RequireFromString("100"))
	assert.False(t, ok)
	_, ok = VWAP([]market.Level{lvl("100", "1")}, decimal.Zero)
	assert.False(t, ok)
}

func TestVWAPWithinPriceBounds(t *testing.T) {
	asks := []market.Level{lvl("100", "1"), lvl("105", "2"), lvl("120", "3")}
	res, ok := VWAP(asks, decimal.RequireFromString("300"))
	require.True(t, ok)
	assert.True(t, res.VWAP.GreaterThanOrEqual(asks[0].Price))
	assert.True(t, res.VWAP.LessThanOrEqual(asks[2].Price))
}

func TestSideNotional(t *testing.T) {
	side := []market.Level{lvl("10", "2"), lvl("11", "3")}
	assert.True(t, SideNotional(side).Equal(decimal.RequireFromString("53")))
}
