// Package mexc streams MEXC spot depth. The limit.depth channel pushes full
// top-N snapshots rather than deltas, so every message replaces the book and
// no sequence chaining is needed.
package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spotarb/internal/connector"
	"spotarb/internal/market"
)

const (
	restBaseURL   = "https://api.mexc.com"
	wsBaseURL     = "wss://wbs.mexc.com/ws"
	depthChannel  = "spot@public.limit.depth.v3.api"
	depthLimit    = 20
	pingInterval  = 30 * time.Second
	topicsPerSub  = 30
	maxTopicsPerC = 30
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

func (d *Driver) Venue() market.Venue { return market.MEXC }

// Discover fetches exchangeInfo; MEXC mirrors the Binance shape.
func (d *Driver) Discover(ctx context.Context) ([]market.Market, error) {
	var info exchangeInfoResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetResult(&info).
		Get("/api/v3/exchangeInfo")
	if err != nil {
		return nil, fmt.Errorf("mexc exchangeInfo: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("mexc exchangeInfo: status %s", resp.Status())
	}

	markets := make([]market.Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if !s.IsSpotTradingAllowed {
			continue
		}
		markets = append(markets, market.Market{
			NativeSymbol: s.Symbol,
			Pair:         market.Pair{Base: s.BaseAsset, Quote: s.QuoteAsset},
			Active:       s.Status == "1" || s.Status == "ENABLED",
		})
	}
	return markets, nil
}

// Snapshot fetches REST depth.
func (d *Driver) Snapshot(ctx context.Context, m market.Market, depth int) (connector.Event, error) {
	var snap depthResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetQueryParam("symbol", m.NativeSymbol).
		SetQueryParam("limit", fmt.Sprintf("%d", depth)).
		SetResult(&snap).
		Get("/api/v3/depth")
	if err != nil {
		return connector.Event{}, fmt.Errorf("mexc depth %s: %w", m.NativeSymbol, err)
	}
	if resp.IsError() {
		return connector.Event{}, fmt.Errorf("mexc depth %s: status %s", m.NativeSymbol, resp.Status())
	}

	bids, err := connector.ParseLevels(snap.Bids)
	if err != nil {
		return connector.Event{}, fmt.Errorf("mexc depth %s bids: %w", m.NativeSymbol, err)
	}
	asks, err := connector.ParseLevels(snap.Asks)
	if err != nil {
		return connector.Event{}, fmt.Errorf("mexc depth %s asks: %w", m.NativeSymbol, err)
	}
	return connector.Event{
		Market:     m,
		Bids:       bids,
		Asks:       asks,
		Snapshot:   true,
		TsExchange: time.Now(),
	}, nil
}

// Subscribe runs one WS session on the limit.depth snapshot channel.
func (d *Driver) Subscribe(ctx context.Context, markets []market.Market, out chan<- connector.Event) error {
	bySymbol := make(map[string]market.Market, len(markets))
	topics := make([]string, 0, len(markets))
	for _, m := range markets {
		bySymbol[m.NativeSymbol] = m
		topics = append(topics, fmt.Sprintf("%s@%s@%d", depthChannel, m.NativeSymbol, depthLimit))
	}

	dialer := websocket.Dialer{HandshakeTimeout: connector.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsBaseURL, nil)
	if err != nil {
		return fmt.Errorf("mexc ws dial: %w", err)
	}
	defer conn.Close()
	log.Debug().Int("topics", len(topics)).Msg("Connected to MEXC stream")

	for i := 0; i < len(topics); i += topicsPerSub {
		end := i + topicsPerSub
		if end > len(topics) {
			end = len(topics)
		}
		if err := conn.WriteJSON(map[string]any{"method": "SUBSCRIPTION", "params": topics[i:end]}); err != nil {
			return fmt.Errorf("mexc subscribe: %w", err)
		}
	}

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteJSON(map[string]any{"method": "PING"}); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("mexc ws read: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Data == nil {
			continue
		}
		m, ok := bySymbol[msg.Symbol]
		if !ok {
			continue
		}
		select {
		case out <- connector.Event{
			Market:     m,
			Bids:       parseObjLevels(msg.Data.Bids),
			Asks:       parseObjLevels(msg.Data.Asks),
			Snapshot:   true,
			TsExchange: time.UnixMilli(msg.Ts),
		}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func parseObjLevels(raw []wsLevel) []market.Level {
	out := make([]market.Level, 0, len(raw))
	for _, l := range raw {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(l.Volume)
		if err != nil {
			continue
		}
		out = append(out, market.Level{Price: price, Size: size})
	}
	return out
}
