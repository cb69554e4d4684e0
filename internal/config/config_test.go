package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotarb/internal/market"
)

func TestDefaults(t *testing.T) {
	cfg, err := load(newViper(), nil)
	require.NoError(t, err)

	assert.True(t, cfg.MinSpreadBps.Equal(decimal.RequireFromString("25")))
	assert.True(t, cfg.MinTriGainBps.Equal(decimal.RequireFromString("15")))
	assert.True(t, cfg.MinNotional.Equal(decimal.RequireFromString("100")))
	assert.Equal(t, 20, cfg.DepthLevels)
	assert.Equal(t, 100*time.Millisecond, cfg.Coalesce)
	assert.Equal(t, time.Second, cfg.CrossScan)
	assert.Equal(t, 2*time.Second, cfg.TriScan)
	assert.Equal(t, 5*time.Second, cfg.MaxStaleness)
	assert.Equal(t, time.Minute, cfg.AlertCooldown)
	assert.Equal(t, []string{"BTC", "ETH", "USDT"}, cfg.TriBases)
	assert.Empty(t, cfg.SymbolUniverse)
	assert.Equal(t, market.AllVenues(), cfg.Venues)
	require.NotNil(t, cfg.Fees)
}

func TestSymbolUniverse(t *testing.T) {
	t.Setenv("SYMBOL_UNIVERSE", "btc/usdt, eth/usdt")
	cfg, err := load(newViper(), nil)
	require.NoError(t, err)
	assert.Equal(t, []market.Pair{
		{Base: "BTC", Quote: "USDT"},
		{Base: "ETH", Quote: "USDT"},
	}, cfg.SymbolUniverse)
}

func TestMalformedValues(t *testing.T) {
	t.Run("spread", func(t *testing.T) {
		t.Setenv("MIN_SPREAD_BPS", "lots")
		_, err := load(newViper(), nil)
		assert.Error(t, err)
	})
	t.Run("universe", func(t *testing.T) {
		t.Setenv("SYMBOL_UNIVERSE", "BTCUSDT")
		_, err := load(newViper(), nil)
		assert.Error(t, err)
	})
	t.Run("notional", func(t *testing.T) {
		t.Setenv("MIN_NOTIONAL", "-5")
		_, err := load(newViper(), nil)
		assert.Error(t, err)
	})
	t.Run("interval", func(t *testing.T) {
		t.Setenv("COALESCE_MS", "0")
		_, err := load(newViper(), nil)
		assert.Error(t, err)
	})
	t.Run("fee override", func(t *testing.T) {
		_, err := load(newViper(), []string{"FEE_OVERRIDE_BINANCE_TAKER=oops"})
		assert.Error(t, err)
	})
}

func TestIncludeExclude(t *testing.T) {
	t.Run("include", func(t *testing.T) {
		t.Setenv("INCLUDE_EXCHANGES", "binance,okx")
		cfg, err := load(newViper(), nil)
		require.NoError(t, err)
		assert.Equal(t, []market.Venue{market.Binance, market.OKX}, cfg.Venues)
	})
	t.Run("exclude", func(t *testing.T) {
		t.Setenv("EXCLUDE_EXCHANGES", "cointr,huobi")
		cfg, err := load(newViper(), nil)
		require.NoError(t, err)
		assert.NotContains(t, cfg.Venues, market.CoinTR)
		assert.NotContains(t, cfg.Venues, market.Huobi)
		assert.Len(t, cfg.Venues, 5)
	})
	t.Run("unknown venue", func(t *testing.T) {
		t.Setenv("INCLUDE_EXCHANGES", "nasdaq")
		_, err := load(newViper(), nil)
		assert.Error(t, err)
	})
	t.Run("everything excluded", func(t *testing.T) {
		t.Setenv("INCLUDE_EXCHANGES", "binance")
		t.Setenv("EXCLUDE_EXCHANGES", "binance")
		_, err := load(newViper(), nil)
		assert.Error(t, err)
	})
}

func TestTriListsUppercased(t *testing.T) {
	t.Setenv("TRI_BASES", "btc, sol")
	t.Setenv("TRI_EXCLUDE_QUOTES", "try")
	cfg, err := load(newViper(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "SOL"}, cfg.TriBases)
	assert.Equal(t, []string{"TRY"}, cfg.TriExcludeQuotes)
}
