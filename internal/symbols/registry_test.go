package symbols

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotarb/internal/market"
)

func TestSplitJoined(t *testing.T) {
	cases := map[string]market.Pair{
		"BTCUSDT":   {Base: "BTC", Quote: "USDT"},
		"btc-usdt":  {Base: "BTC", Quote: "USDT"},
		"ETH_BTC":   {Base: "ETH", Quote: "BTC"},
		"SOL/USDC":  {Base: "SOL", Quote: "USDC"},
		"XBTUSD":    {Base: "BTC", Quote: "USD"},
		"BTCFDUSD":  {Base: "BTC", Quote: "FDUSD"},
		"DOGEUSDT":  {Base: "DOGE", Quote: "USDT"},
		"AVAXTRY":   {Base: "AVAX", Quote: "TRY"},
		"LINKUSDT":  {Base: "LINK", Quote: "USDT"},
		"WETH-USDT": {Base: "ETH", Quote: "USDT"},
	}
	for symbol, want := range cases {
		got, ok := SplitJoined(symbol)
		require.True(t, ok, symbol)
		assert.Equal(t, want, got, symbol)
	}

	// The longest quote suffix wins: BTCUSD must not become (BTCUS, D).
	got, ok := SplitJoined("BTCUSD")
	require.True(t, ok)
	assert.Equal(t, market.Pair{Base: "BTC", Quote: "USD"}, got)

	for _, bad := range []string{"", "USDT", "FOOBAR", "BTCXYZ"} {
		_, ok := SplitJoined(bad)
		assert.False(t, ok, bad)
	}
}

func TestCanonicalAsset(t *testing.T) {
	assert.Equal(t, "BTC", CanonicalAsset("xbt"))
	assert.Equal(t, "DOGE", CanonicalAsset("XDG"))
	assert.Equal(t, "SOL", CanonicalAsset(" sol "))
}

func TestLoadAndRoundTrip(t *testing.T) {
	r := NewRegistry()
	kept := r.Load(market.Binance, []market.Market{
		{NativeSymbol: "BTCUSDT"},
		{NativeSymbol: "ETHUSDT", Pair: market.Pair{Base: "eth", Quote: "usdt"}},
		{NativeSymbol: "WEIRDXYZ"},
	})
	require.Len(t, kept, 2)

	for _, native := range []string{"BTCUSDT", "ETHUSDT"} {
		pair, ok := r.Canonicalize(market.Binance, native)
		require.True(t, ok, native)
		back, ok := r.Native(market.Binance, pair)
		require.True(t, ok)
		assert.Equal(t, native, back)
	}

	_, ok := r.Canonicalize(market.Binance, "WEIRDXYZ")
	assert.False(t, ok)

	pairs := r.Pairs(market.Binance)
	assert.Len(t, pairs, 2)
}

func TestLoadSkipsDuplicateCanonicalPair(t *testing.T) {
	r := NewRegistry()
	kept := r.Load(market.KuCoin, []market.Market{
		{NativeSymbol: "BTC-USDT"},
		{NativeSymbol: "XBT-USDT"}, // alias collides with BTC/USDT
	})
	require.Len(t, kept, 1)
	assert.Equal(t, "BTC-USDT", kept[0].NativeSymbol)
}

func TestLoadReplacesVenueMapping(t *testing.T) {
	r := NewRegistry()
	r.Load(market.Binance, []market.Market{{NativeSymbol: "BTCUSDT"}})
	r.Load(market.Binance, []market.Market{{NativeSymbol: "ETHUSDT"}})

	_, ok := r.Canonicalize(market.Binance, "BTCUSDT")
	assert.False(t, ok, "reload replaces the previous mapping")
	_, ok = r.Canonicalize(market.Binance, "ETHUSDT")
	assert.True(t, ok)
}

func TestSharedPairs(t *testing.T) {
	r := NewRegistry()
	r.Load(market.Binance, []market.Market{{NativeSymbol: "BTCUSDT"}, {NativeSymbol: "ETHUSDT"}})
	r.Load(market.Bybit, []market.Market{{NativeSymbol: "BTCUSDT"}})

	shared := r.SharedPairs(2)
	require.Len(t, shared, 1)
	assert.Equal(t, market.Pair{Base: "BTC", Quote: "USDT"}, shared[0])
}
