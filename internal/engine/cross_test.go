package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotarb/internal/book"
	"spotarb/internal/fees"
	"spotarb/internal/market"
)

var btcusdt = market.Pair{Base: "BTC", Quote: "USDT"}

func lvl(price, size string) market.Level {
	return market.Level{
		Price: decimal.RequireFromString(price),
		Size:  decimal.RequireFromString(size),
	}
}

func putBook(t *testing.T, s *book.Store, venue market.Venue, pair market.Pair, bids, asks []market.Level) {
	t.Helper()
	require.NoError(t, s.Put(&market.Book{
		Venue:   venue,
		Pair:    pair,
		Bids:    bids,
		Asks:    asks,
		TsLocal: time.Now(),
	}))
}

func feeTable(t *testing.T, overrides ...string) *fees.Table {
	t.Helper()
	table := fees.NewTable()
	require.NoError(t, table.ApplyOverrides(overrides))
	return table
}

type crossCollector struct {
	ops []market.CrossOpportunity
}

func (c *crossCollector) EmitCross(op market.CrossOpportunity) { c.ops = append(c.ops, op) }

func newCrossEngine(s *book.Store, f *fees.Table, minSpread string) (*CrossEngine, *crossCollector) {
	sink := &crossCollector{}
	e := NewCrossEngine(s, f, sink,
		decimal.RequireFromString(minSpread),
		decimal.RequireFromString("100"),
		time.Second, nil)
	return e, sink
}

func TestCrossPositiveSpread(t *testing.T) {
	s := book.NewStore(5 * time.Second)
	// Buy on binance asks at 30000, sell on bybit bids at 30100.
	putBook(t, s, market.Binance, btcusdt,
		[]market.Level{lvl("29990", "1")}, []market.Level{lvl("30000", "1")})
	putBook(t, s, market.Bybit, btcusdt,
		[]market.Level{lvl("30100", "1")}, []market.Level{lvl("30110", "1")})

	table := feeTable(t,
		"FEE_OVERRIDE_BINANCE_TAKER=0.001",
		"FEE_OVERRIDE_BYBIT_TAKER=0.001",
	)
	e, _ := newCrossEngine(s, table, "10")

	ops := e.Scan(time.Now())
	require.Len(t, ops, 1)
	op := ops[0]
	assert.Equal(t, market.Binance, op.BuyVenue)
	assert.Equal(t, market.Bybit, op.SellVenue)
	// gross = (30100/30000 - 1) * 10000 = 33.33..; net = gross - 20.
	assert.InDelta(t, 33.33, op.GrossBps.InexactFloat64(), 0.01)
	assert.InDelta(t, 13.33, op.NetBps.InexactFloat64(), 0.01)
	assert.True(t, op.NetBps.LessThanOrEqual(op.GrossBps))
}

func TestCrossFeeSuppressed(t *testing.T) {
	s := book.NewStore(5 * time.Second)
	putBook(t, s, market.Binance, btcusdt,
		[]market.Level{lvl("29990", "1")}, []market.Level{lvl("30000", "1")})
	putBook(t, s, market.Bybit, btcusdt,
		[]market.Level{lvl("30100", "1")}, []market.Level{lvl("30110", "1")})

	table := feeTable(t,
		"FEE_OVERRIDE_BINANCE_TAKER=0.002",
		"FEE_OVERRIDE_BYBIT_TAKER=0.002",
	)
	e, _ := newCrossEngine(s, table, "10")

	assert.Empty(t, e.Scan(time.Now()), "fees exceed the spread")
}

func TestCrossCrossedBookNeverScored(t *testing.T) {
	s := book.NewStore(5 * time.Second)
	// The crossed snapshot is rejected at the store boundary.
	err := s.Put(&market.Book{
		Venue:   market.Binance,
		Pair:    btcusdt,
		Bids:    []market.Level{lvl("30000", "1")},
		Asks:    []market.Level{lvl("29900", "1")},
		TsLocal: time.Now(),
	})
	require.Error(t, err)
	putBook(t, s, market.Bybit, btcusdt,
		[]market.Level{lvl("30100", "1")}, []market.Level{lvl("30110", "1")})

	e, _ := newCrossEngine(s, feeTable(t), "10")
	assert.Empty(t, e.Scan(time.Now()))
}

func TestCrossUnfillableSkipped(t *testing.T) {
	s := book.NewStore(5 * time.Second)
	// Ask side holds only 30 USDT of depth, below the 100 target.
	putBook(t, s, market.Binance, btcusdt,
		[]market.Level{lvl("29990", "1")}, []market.Level{lvl("30000", "0.001")})
	putBook(t, s, market.Bybit, btcusdt,
		[]market.Level{lvl("30100", "1")}, []market.Level{lvl("30110", "1")})

	e, _ := newCrossEngine(s, feeTable(t), "10")
	assert.Empty(t, e.Scan(time.Now()))
}

func TestCrossKeepsBestVenuePair(t *testing.T) {
	s := book.NewStore(5 * time.Second)
	putBook(t, s, market.Binance, btcusdt,
		[]market.Level{lvl("29990", "1")}, []market.Level{lvl("30000", "1")})
	putBook(t, s, market.Bybit, btcusdt,
		[]market.Level{lvl("30100", "1")}, []market.Level{lvl("30150", "1")})
	// okx bids higher than bybit: selling there nets more.
	putBook(t, s, market.OKX, btcusdt,
		[]market.Level{lvl("30200", "1")}, []market.Level{lvl("30250", "1")})

	table := feeTable(t,
		"FEE_OVERRIDE_BINANCE_TAKER=0.0001",
		"FEE_OVERRIDE_BYBIT_TAKER=0.0001",
		"FEE_OVERRIDE_OKX_TAKER=0.0001",
	)
	e, _ := newCrossEngine(s, table, "5")

	ops := e.Scan(time.Now())
	require.Len(t, ops, 1, "one opportunity per pair")
	assert.Equal(t, market.Binance, ops[0].BuyVenue)
	assert.Equal(t, market.OKX, ops[0].SellVenue)
}

func TestCrossNotionalIsMinFillable(t *testing.T) {
	s := book.NewStore(5 * time.Second)
	putBook(t, s, market.Binance, btcusdt,
		[]market.Level{lvl("29990", "1")}, []market.Level{lvl("30000", "2")})
	putBook(t, s, market.Bybit, btcusdt,
		[]market.Level{lvl("30100", "1")}, []market.Level{lvl("30110", "1")})

	table := feeTable(t,
		"FEE_OVERRIDE_BINANCE_TAKER=0.0001",
		"FEE_OVERRIDE_BYBIT_TAKER=0.0001",
	)
	e, _ := newCrossEngine(s, table, "5")

	ops := e.Scan(time.Now())
	require.Len(t, ops, 1)
	// Both sides fill the 100 target exactly, so notional equals the target.
	assert.True(t, ops[0].Notional.Equal(decimal.RequireFromString("100")))
}
