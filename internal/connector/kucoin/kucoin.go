// Package kucoin streams KuCoin spot level2 deltas. Connecting requires a
// short-lived token from the bullet-public endpoint; books are seeded from
// the level2_100 REST snapshot and deltas chain on sequenceStart/End.
package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spotarb/internal/connector"
	"spotarb/internal/market"
)

const (
	restBaseURL     = "https://api.kucoin.com"
	level2Topic     = "/market/level2:"
	symbolsPerTopic = 100
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

func (d *Driver) Venue() market.Venue { return market.KuCoin }

// Discover lists tradeable symbols.
func (d *Driver) Discover(ctx context.Context) ([]market.Market, error) {
	var result symbolsResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/v2/symbols")
	if err != nil {
		return nil, fmt.Errorf("kucoin symbols: %w", err)
	}
	if resp.IsError() || result.Code != "200000" {
		return nil, fmt.Errorf("kucoin symbols: status %s code %s", resp.Status(), result.Code)
	}

	markets := make([]market.Market, 0, len(result.Data))
	for _, s := range result.Data {
		m := market.Market{
			NativeSymbol: s.Symbol,
			Pair:         market.Pair{Base: s.BaseCurrency, Quote: s.QuoteCurrency},
			Active:       s.EnableTrading,
		}
		if s.MinFunds != "" {
			if mn, err := decimal.NewFromString(s.MinFunds); err == nil {
				m.MinNotional = mn
			}
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// Snapshot fetches the level2_100 REST book for seeding and resync.
func (d *Driver) Snapshot(ctx context.Context, m market.Market, depth int) (connector.Event, error) {
	var result orderbookResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetQueryParam("symbol", m.NativeSymbol).
		SetResult(&result).
		Get("/api/v1/market/orderbook/level2_100")
	if err != nil {
		return connector.Event{}, fmt.Errorf("kucoin orderbook %s: %w", m.NativeSymbol, err)
	}
	if resp.IsError() || result.Code != "200000" {
		return connector.Event{}, fmt.Errorf("kucoin orderbook %s: status %s code %s",
			m.NativeSymbol, resp.Status(), result.Code)
	}

	bids, err := connector.ParseLevels(result.Data.Bids)
	if err != nil {
		return connector.Event{}, fmt.Errorf("kucoin orderbook %s bids: %w", m.NativeSymbol, err)
	}
	asks, err := connector.ParseLevels(result.Data.Asks)
	if err != nil {
		return connector.Event{}, fmt.Errorf("kucoin orderbook %s asks: %w", m.NativeSymbol, err)
	}
	seq, _ := strconv.ParseInt(result.Data.Sequence, 10, 64)
	return connector.Event{
		Market:     m,
		Bids:       bids,
		Asks:       asks,
		Seq:        seq,
		Snapshot:   true,
		TsExchange: time.UnixMilli(result.Data.Time),
	}, nil
}

// bulletPublic obtains the WS endpoint and connection token.
func (d *Driver) bulletPublic(ctx context.Context) (endpoint, token string, ping time.Duration, err error) {
	var result bulletResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetResult(&result).
		Post("/api/v1/bullet-public")
	if err != nil {
		return "", "", 0, fmt.Errorf("kucoin bullet-public: %w", err)
	}
	if resp.IsError() || result.Code != "200000" || len(result.Data.InstanceServers) == 0 {
		return "", "", 0, fmt.Errorf("kucoin bullet-public: status %s code %s", resp.Status(), result.Code)
	}
	srv := result.Data.InstanceServers[0]
	ping = time.Duration(srv.PingInterval) * time.Millisecond
	if ping <= 0 {
		ping = 18 * time.Second
	}
	return srv.Endpoint, result.Data.Token, ping, nil
}

// Subscribe runs one token-authenticated WS session.
func (d *Driver) Subscribe(ctx context.Context, markets []market.Market, out chan<- connector.Event) error {
	endpoint, token, pingInterval, err := d.bulletPublic(ctx)
	if err != nil {
		return err
	}

	bySymbol := make(map[string]market.Market, len(markets))
	symbols := make([]string, 0, len(markets))
	for _, m := range markets {
		bySymbol[m.NativeSymbol] = m
		symbols = append(symbols, m.NativeSymbol)
	}

	url := fmt.Sprintf("%s?token=%s", endpoint, token)
	dialer := websocket.Dialer{HandshakeTimeout: connector.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("kucoin ws dial: %w", err)
	}
	defer conn.Close()
	log.Debug().Int("symbols", len(symbols)).Msg("Connected to KuCoin stream")

	for i := 0; i < len(symbols); i += symbolsPerTopic {
		end := i + symbolsPerTopic
		if end > len(symbols) {
			end = len(symbols)
		}
		sub := map[string]any{
			"id":       time.Now().UnixNano(),
			"type":     "subscribe",
			"topic":    level2Topic + strings.Join(symbols[i:end], ","),
			"response": true,
		}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("kucoin subscribe: %w", err)
		}
	}

	// Seed books so deltas have a sequence base.
	for _, m := range markets {
		ev, err := d.Snapshot(ctx, m, 100)
		if err != nil {
			log.Warn().Err(err).Str("symbol", m.NativeSymbol).Msg("KuCoin seed snapshot failed")
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
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
				msg := map[string]any{"id": time.Now().UnixNano(), "type": "ping"}
				if err := conn.WriteJSON(msg); err != nil {
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
			return fmt.Errorf("kucoin ws read: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type != "message" || msg.Subject != "trade.l2update" {
			continue
		}
		var upd l2Update
		if err := json.Unmarshal(msg.Data, &upd); err != nil {
			continue
		}
		m, ok := bySymbol[upd.Symbol]
		if !ok {
			continue
		}
		// Change tuples are [price, size, sequence]; a zero price marks a
		// placeholder entry to skip.
		bids, asks := parseChanges(upd.Changes.Bids), parseChanges(upd.Changes.Asks)
		select {
		case out <- connector.Event{
			Market:     m,
			Bids:       bids,
			Asks:       asks,
			Seq:        upd.SequenceEnd,
			PrevSeq:    upd.SequenceStart - 1,
			TsExchange: time.UnixMilli(upd.Time),
		}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func parseChanges(raw [][]string) []market.Level {
	out := make([]market.Level, 0, len(raw))
	for _, tuple := range raw {
		if len(tuple) < 2 {
			continue
		}
		price, err := decimal.NewFromString(tuple[0])
		if err != nil || price.Sign() == 0 {
			continue
		}
		size, err := decimal.NewFromString(tuple[1])
		if err != nil {
			continue
		}
		out = append(out, market.Level{Price: price, Size: size})
	}
	return out
}
