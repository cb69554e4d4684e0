// Package binance streams Binance spot depth. Deltas arrive on the combined
// stream endpoint at 100ms cadence; books are seeded and resynced from the
// REST depth endpoint using the documented U/u sequence chaining.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
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
	restBaseURL     = "https://api.binance.com"
	wsStreamBaseURL = "wss://stream.binance.com:9443/stream"
	depthStream     = "@depth@100ms"
	maxStreamsPerWs = 200
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

func (d *Driver) Venue() market.Venue { return market.Binance }

// Discover fetches exchangeInfo and returns the TRADING spot symbols.
func (d *Driver) Discover(ctx context.Context) ([]market.Market, error) {
	var info exchangeInfoResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetResult(&info).
		Get("/api/v3/exchangeInfo")
	if err != nil {
		return nil, fmt.Errorf("binance exchangeInfo: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("binance exchangeInfo: status %s", resp.Status())
	}

	markets := make([]market.Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		m := market.Market{
			NativeSymbol:   s.Symbol,
			Pair:           market.Pair{Base: s.BaseAsset, Quote: s.QuoteAsset},
			PricePrecision: s.QuotePrecision,
			SizePrecision:  s.BaseAssetPrecision,
			Active:         true,
		}
		for _, f := range s.Filters {
			if f.FilterType == "NOTIONAL" && f.MinNotional != "" {
				if mn, err := decimal.NewFromString(f.MinNotional); err == nil {
					m.MinNotional = mn
				}
			}
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// Snapshot fetches a REST depth snapshot. lastUpdateId becomes the book
// sequence deltas chain from.
func (d *Driver) Snapshot(ctx context.Context, m market.Market, depth int) (connector.Event, error) {
	var snap depthSnapshotResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetQueryParam("symbol", m.NativeSymbol).
		SetQueryParam("limit", fmt.Sprintf("%d", snapshotLimit(depth))).
		SetResult(&snap).
		Get("/api/v3/depth")
	if err != nil {
		return connector.Event{}, fmt.Errorf("binance depth %s: %w", m.NativeSymbol, err)
	}
	if resp.IsError() {
		return connector.Event{}, fmt.Errorf("binance depth %s: status %s", m.NativeSymbol, resp.Status())
	}

	bids, err := connector.ParseLevels(snap.Bids)
	if err != nil {
		return connector.Event{}, fmt.Errorf("binance depth %s bids: %w", m.NativeSymbol, err)
	}
	asks, err := connector.ParseLevels(snap.Asks)
	if err != nil {
		return connector.Event{}, fmt.Errorf("binance depth %s asks: %w", m.NativeSymbol, err)
	}
	return connector.Event{
		Market:     m,
		Bids:       bids,
		Asks:       asks,
		Seq:        snap.LastUpdateID,
		Snapshot:   true,
		TsExchange: time.Now(),
	}, nil
}

// snapshotLimit maps the configured depth onto Binance's allowed limit steps.
func snapshotLimit(depth int) int {
	for _, l := range []int{5, 10, 20, 50, 100, 500, 1000} {
		if depth <= l {
			return l
		}
	}
	return 1000
}

// Subscribe runs one combined-stream session and seeds every market with a
// REST snapshot so deltas have a sequence to chain from.
func (d *Driver) Subscribe(ctx context.Context, markets []market.Market, out chan<- connector.Event) error {
	if len(markets) > maxStreamsPerWs {
		markets = markets[:maxStreamsPerWs]
	}
	streams := make([]string, 0, len(markets))
	bySymbol := make(map[string]market.Market, len(markets))
	for _, m := range markets {
		streams = append(streams, strings.ToLower(m.NativeSymbol)+depthStream)
		bySymbol[m.NativeSymbol] = m
	}
	url := fmt.Sprintf("%s?streams=%s", wsStreamBaseURL, strings.Join(streams, "/"))

	dialer := websocket.Dialer{HandshakeTimeout: connector.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("binance ws dial: %w", err)
	}
	defer conn.Close()
	log.Debug().Int("streams", len(streams)).Msg("Connected to Binance depth stream")

	// Seed after connecting so no delta between snapshot and first message
	// is lost; deltas older than the snapshot are dropped by the sequence
	// check downstream.
	for _, m := range markets {
		ev, err := d.Snapshot(ctx, m, 50)
		if err != nil {
			log.Warn().Err(err).Str("symbol", m.NativeSymbol).Msg("Binance seed snapshot failed")
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("binance ws read: %w", err)
		}

		var wrapper struct {
			Stream string          `json:"stream"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &wrapper); err != nil {
			continue
		}
		var ev wsDepthEvent
		if err := json.Unmarshal(wrapper.Data, &ev); err != nil || ev.EventType != "depthUpdate" {
			continue
		}
		m, ok := bySymbol[ev.Symbol]
		if !ok {
			continue
		}
		bids, err := connector.ParseLevels(ev.Bids)
		if err != nil {
			continue
		}
		asks, err := connector.ParseLevels(ev.Asks)
		if err != nil {
			continue
		}
		select {
		case out <- connector.Event{
			Market: m,
			Bids:   bids,
			Asks:   asks,
			// A delta covers update ids [U, u]; it chains from U-1.
			Seq:        ev.FinalUpdateID,
			PrevSeq:    ev.FirstUpdateID - 1,
			TsExchange: time.UnixMilli(ev.EventTime),
		}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
