// Package huobi streams Huobi spot depth. Frames are gzip compressed and the
// venue runs an application-level ping/pong. The step0 depth channel pushes
// full merged books, so every tick replaces the shadow book.
package huobi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
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
	restBaseURL  = "https://api.huobi.pro"
	wsBaseURL    = "wss://api.huobi.pro/ws"
	depthChannel = "market.%s.depth.step0"
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

func (d *Driver) Venue() market.Venue { return market.Huobi }

// Discover lists online symbols.
func (d *Driver) Discover(ctx context.Context) ([]market.Market, error) {
	var result symbolsResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v1/common/symbols")
	if err != nil {
		return nil, fmt.Errorf("huobi symbols: %w", err)
	}
	if resp.IsError() || result.Status != "ok" {
		return nil, fmt.Errorf("huobi symbols: status %s api %s", resp.Status(), result.Status)
	}

	markets := make([]market.Market, 0, len(result.Data))
	for _, s := range result.Data {
		m := market.Market{
			NativeSymbol: s.Symbol,
			Pair: market.Pair{
				Base:  strings.ToUpper(s.BaseCurrency),
				Quote: strings.ToUpper(s.QuoteCurrency),
			},
			Active: s.State == "online",
		}
		if s.MinOrderValue > 0 {
			m.MinNotional = decimal.NewFromFloat(s.MinOrderValue)
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// Snapshot fetches REST merged depth.
func (d *Driver) Snapshot(ctx context.Context, m market.Market, depth int) (connector.Event, error) {
	if depth > 20 {
		depth = 20
	}
	var result depthResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetQueryParam("symbol", m.NativeSymbol).
		SetQueryParam("type", "step0").
		SetQueryParam("depth", fmt.Sprintf("%d", depth)).
		SetResult(&result).
		Get("/market/depth")
	if err != nil {
		return connector.Event{}, fmt.Errorf("huobi depth %s: %w", m.NativeSymbol, err)
	}
	if resp.IsError() || result.Status != "ok" {
		return connector.Event{}, fmt.Errorf("huobi depth %s: status %s api %s",
			m.NativeSymbol, resp.Status(), result.Status)
	}
	return tickEvent(m, result.Tick)
}

// Subscribe runs one gzip WS session.
func (d *Driver) Subscribe(ctx context.Context, markets []market.Market, out chan<- connector.Event) error {
	byChannel := make(map[string]market.Market, len(markets))

	dialer := websocket.Dialer{HandshakeTimeout: connector.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsBaseURL, nil)
	if err != nil {
		return fmt.Errorf("huobi ws dial: %w", err)
	}
	defer conn.Close()
	log.Debug().Int("symbols", len(markets)).Msg("Connected to Huobi stream")

	for _, m := range markets {
		ch := fmt.Sprintf(depthChannel, m.NativeSymbol)
		byChannel[ch] = m
		sub := map[string]any{"sub": ch, "id": m.NativeSymbol}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("huobi subscribe %s: %w", m.NativeSymbol, err)
		}
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, compressed, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("huobi ws read: %w", err)
		}
		message, err := gzipDecompress(compressed)
		if err != nil {
			log.Warn().Err(err).Msg("Huobi frame decompress failed")
			continue
		}

		// Server pings must be answered with the same timestamp or the
		// connection is dropped.
		var ping struct {
			Ping int64 `json:"ping"`
		}
		if err := json.Unmarshal(message, &ping); err == nil && ping.Ping > 0 {
			if err := conn.WriteJSON(map[string]int64{"pong": ping.Ping}); err != nil {
				return fmt.Errorf("huobi pong: %w", err)
			}
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Tick == nil {
			continue
		}
		m, ok := byChannel[msg.Ch]
		if !ok {
			continue
		}
		ev, err := tickEvent(m, *msg.Tick)
		if err != nil {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func gzipDecompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// tickEvent converts a depth tick into a snapshot event. Huobi sends levels
// as JSON numbers; they go through the string form to keep decimals exact.
func tickEvent(m market.Market, tick depthTick) (connector.Event, error) {
	bids, err := parseNumberLevels(tick.Bids)
	if err != nil {
		return connector.Event{}, err
	}
	asks, err := parseNumberLevels(tick.Asks)
	if err != nil {
		return connector.Event{}, err
	}
	return connector.Event{
		Market:     m,
		Bids:       bids,
		Asks:       asks,
		Seq:        tick.Version,
		Snapshot:   true,
		TsExchange: time.UnixMilli(tick.Ts),
	}, nil
}

func parseNumberLevels(raw [][]json.Number) ([]market.Level, error) {
	out := make([]market.Level, 0, len(raw))
	for i, tuple := range raw {
		if len(tuple) < 2 {
			return nil, fmt.Errorf("level %d: want [price, size]", i)
		}
		price, err := decimal.NewFromString(tuple[0].String())
		if err != nil {
			return nil, fmt.Errorf("level %d price: %w", i, err)
		}
		size, err := decimal.NewFromString(tuple[1].String())
		if err != nil {
			return nil, fmt.Errorf("level %d size: %w", i, err)
		}
		out = append(out, market.Level{Price: price, Size: size})
	}
	return out, nil
}
