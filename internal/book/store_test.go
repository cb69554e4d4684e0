package book

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotarb/internal/market"
	"spotarb/internal/metrics"
)

var btcusdt = market.Pair{Base: "BTC", Quote: "USDT"}

func lvl(price, size string) market.Level {
	return market.Level{
		Price: decimal.RequireFromString(price),
		Size:  decimal.RequireFromString(size),
	}
}

func validBook(venue market.Venue, ts time.Time) *market.Book {
	return &market.Book{
		Venue:   venue,
		Pair:    btcusdt,
		Bids:    []market.Level{lvl("30000", "1")},
		Asks:    []market.Level{lvl("30001", "1")},
		TsLocal: ts,
	}
}

func TestPutGet(t *testing.T) {
	s := NewStore(5 * time.Second)
	require.NoError(t, s.Put(validBook(market.Binance, time.Now())))

	got, ok := s.Get(market.Binance, btcusdt)
	require.True(t, ok)
	assert.Equal(t, market.Binance, got.Venue)

	_, ok = s.Get(market.Bybit, btcusdt)
	assert.False(t, ok)
}

func TestPutRejectsCrossedBook(t *testing.T) {
	s := NewStore(5 * time.Second)
	crossed := &market.Book{
		Venue:   market.Binance,
		Pair:    btcusdt,
		Bids:    []market.Level{lvl("30000", "1")},
		Asks:    []market.Level{lvl("29900", "1")},
		TsLocal: time.Now(),
	}
	assert.Error(t, s.Put(crossed))

	_, ok := s.Get(market.Binance, btcusdt)
	assert.False(t, ok, "rejected snapshot must not be visible")
}

// Rejections label the metric with a fixed reason vocabulary, never the raw
// validation message (which embeds prices and would mint unbounded series).
func TestPutRejectionReasonLabels(t *testing.T) {
	s := NewStore(5 * time.Second)
	crossedCounter := metrics.BooksRejected.WithLabelValues(string(market.Bybit), market.ReasonCrossed)
	before := testutil.ToFloat64(crossedCounter)

	crossed := validBook(market.Bybit, time.Now())
	crossed.Bids = []market.Level{lvl("30100", "1")}
	assert.Error(t, s.Put(crossed))
	assert.Equal(t, before+1, testutil.ToFloat64(crossedCounter))

	tsCounter := metrics.BooksRejected.WithLabelValues(string(market.Bybit), "non-monotonic-ts")
	before = testutil.ToFloat64(tsCounter)
	now := time.Now()
	require.NoError(t, s.Put(validBook(market.Bybit, now)))
	assert.Error(t, s.Put(validBook(market.Bybit, now)))
	assert.Equal(t, before+1, testutil.ToFloat64(tsCounter))
}

func TestPutRequiresMonotonicTs(t *testing.T) {
	s := NewStore(5 * time.Second)
	now := time.Now()
	require.NoError(t, s.Put(validBook(market.Binance, now)))

	assert.Error(t, s.Put(validBook(market.Binance, now)), "equal ts_local must be rejected")
	assert.Error(t, s.Put(validBook(market.Binance, now.Add(-time.Millisecond))))
	assert.NoError(t, s.Put(validBook(market.Binance, now.Add(time.Millisecond))))
}

func TestStaleBookInvisible(t *testing.T) {
	s := NewStore(50 * time.Millisecond)
	require.NoError(t, s.Put(validBook(market.Binance, time.Now().Add(-time.Second))))

	_, ok := s.Get(market.Binance, btcusdt)
	assert.False(t, ok)
	assert.Empty(t, s.PairsOf(market.Binance))
	assert.Zero(t, s.LiveCount(market.Binance))
}

func TestInvalidate(t *testing.T) {
	s := NewStore(5 * time.Second)
	require.NoError(t, s.Put(validBook(market.Binance, time.Now())))
	s.Invalidate(market.Binance, btcusdt)

	_, ok := s.Get(market.Binance, btcusdt)
	assert.False(t, ok)
}

func TestSharedPairsAndVenuesOf(t *testing.T) {
	s := NewStore(5 * time.Second)
	now := time.Now()
	require.NoError(t, s.Put(validBook(market.Binance, now)))
	require.NoError(t, s.Put(validBook(market.Bybit, now)))

	ethBook := validBook(market.Binance, now)
	ethBook.Pair = market.Pair{Base: "ETH", Quote: "USDT"}
	require.NoError(t, s.Put(ethBook))

	shared := s.SharedPairs(2)
	require.Len(t, shared, 1)
	assert.Equal(t, btcusdt, shared[0])

	venues := s.VenuesOf(btcusdt)
	assert.Len(t, venues, 2)
	assert.Equal(t, 2, s.LiveCount(market.Binance))
}
