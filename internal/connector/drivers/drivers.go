// Package drivers maps venue ids to their connector drivers.
package drivers

import (
	"fmt"

	"spotarb/internal/connector"
	"spotarb/internal/connector/binance"
	"spotarb/internal/connector/bybit"
	"spotarb/internal/connector/cointr"
	"spotarb/internal/connector/huobi"
	"spotarb/internal/connector/kucoin"
	"spotarb/internal/connector/mexc"
	"spotarb/internal/connector/okx"
	"spotarb/internal/market"
)

// New creates the driver for a venue.
func New(venue market.Venue) (connector.Driver, error) {
	switch venue {
	case market.Binance:
		return binance.New(), nil
	case market.Bybit:
		return bybit.New(), nil
	case market.OKX:
		return okx.New(), nil
	case market.KuCoin:
		return kucoin.New(), nil
	case market.MEXC:
		return mexc.New(), nil
	case market.Huobi:
		return huobi.New(), nil
	case market.CoinTR:
		return cointr.New(), nil
	}
	return nil, fmt.Errorf("no driver for venue %q", venue)
}
