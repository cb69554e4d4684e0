// Package cointr polls CoinTR spot depth over REST. The venue's public
// WebSocket is unreliable for depth, so the driver refreshes every tracked
// market on a fixed interval; each refresh is a full snapshot.
package cointr

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spotarb/internal/connector"
	"spotarb/internal/market"
)

const (
	restBaseURL  = "https://api.cointr.com"
	pollInterval = time.Second
	okCode       = "00000"
)

type Driver struct {
	rest *resty.Client
}

func New() *Driver {
	return &Driver{
		rest: resty.New().
			SetBaseURL(restBaseURL).
			SetTimeout(connector.RestTimeout),
	}
}

func (d *Driver) Venue() market.Venue { return market.CoinTR }

// Discover lists online spot symbols.
func (d *Driver) Discover(ctx context.Context) ([]market.Market, error) {
	var result symbolsResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/v2/spot/public/symbols")
	if err != nil {
		return nil, fmt.Errorf("cointr symbols: %w", err)
	}
	if resp.IsError() || result.Code != okCode {
		return nil, fmt.Errorf("cointr symbols: status %s code %s", resp.Status(), result.Code)
	}

	markets := make([]market.Market, 0, len(result.Data))
	for _, s := range result.Data {
		m := market.Market{
			NativeSymbol: s.Symbol,
			Pair:         market.Pair{Base: s.BaseCoin, Quote: s.QuoteCoin},
			Active:       s.Status == "online",
		}
		if s.MinTradeUSDT != "" {
			if mn, err := decimal.NewFromString(s.MinTradeUSDT); err == nil {
				m.MinNotional = mn
			}
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// Snapshot fetches one order book.
func (d *Driver) Snapshot(ctx context.Context, m market.Market, depth int) (connector.Event, error) {
	var result orderbookResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetQueryParam("symbol", m.NativeSymbol).
		SetQueryParam("limit", fmt.Sprintf("%d", depth)).
		SetResult(&result).
		Get("/api/v2/spot/market/orderbook")
	if err != nil {
		return connector.Event{}, fmt.Errorf("cointr orderbook %s: %w", m.NativeSymbol, err)
	}
	if resp.IsError() || result.Code != okCode {
		return connector.Event{}, fmt.Errorf("cointr orderbook %s: status %s code %s",
			m.NativeSymbol, resp.Status(), result.Code)
	}

	bids, err := connector.ParseLevels(result.Data.Bids)
	if err != nil {
		return connector.Event{}, fmt.Errorf("cointr orderbook %s bids: %w", m.NativeSymbol, err)
	}
	asks, err := connector.ParseLevels(result.Data.Asks)
	if err != nil {
		return connector.Event{}, fmt.Errorf("cointr orderbook %s asks: %w", m.NativeSymbol, err)
	}
	return connector.Event{
		Market:     m,
		Bids:       bids,
		Asks:       asks,
		Snapshot:   true,
		TsExchange: time.Now(),
	}, nil
}

// Subscribe polls every market on the poll interval until ctx is cancelled.
// A session never fails on individual fetch errors; the runner's inactivity
// watchdog catches a venue that stops answering entirely.
func (d *Driver) Subscribe(ctx context.Context, markets []market.Market, out chan<- connector.Event) error {
	log.Debug().Int("symbols", len(markets)).Msg("Starting CoinTR depth polling")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for _, m := range markets {
			ev, err := d.Snapshot(ctx, m, 20)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Debug().Err(err).Str("symbol", m.NativeSymbol).Msg("CoinTR poll failed")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
