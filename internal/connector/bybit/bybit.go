// Package bybit streams Bybit v5 spot depth over the public orderbook.50
// topic. The stream is self-seeding: every subscription opens with a full
// snapshot message, and update ids advance by one per delta.
package bybit

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
	restBaseURL  = "https://api.bybit.com"
	wsPublicURL  = "wss://stream.bybit.com/v5/public/spot"
	depthTopic   = "orderbook.50"
	pingInterval = 20 * time.Second
	argsPerSub   = 10
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

func (d *Driver) Venue() market.Venue { return market.Bybit }

// Discover lists Trading spot instruments.
func (d *Driver) Discover(ctx context.Context) ([]market.Market, error) {
	var result instrumentsResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetQueryParam("category", "spot").
		SetResult(&result).
		Get("/v5/market/instruments-info")
	if err != nil {
		return nil, fmt.Errorf("bybit instruments-info: %w", err)
	}
	if resp.IsError() || result.RetCode != 0 {
		return nil, fmt.Errorf("bybit instruments-info: status %s ret %d %s",
			resp.Status(), result.RetCode, result.RetMsg)
	}

	markets := make([]market.Market, 0, len(result.Result.List))
	for _, ins := range result.Result.List {
		m := market.Market{
			NativeSymbol: ins.Symbol,
			Pair:         market.Pair{Base: ins.BaseCoin, Quote: ins.QuoteCoin},
			Active:       ins.Status == "Trading",
		}
		if ins.LotSizeFilter.MinOrderAmt != "" {
			if mn, err := decimal.NewFromString(ins.LotSizeFilter.MinOrderAmt); err == nil {
				m.MinNotional = mn
			}
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// Snapshot fetches the REST orderbook for resync.
func (d *Driver) Snapshot(ctx context.Context, m market.Market, depth int) (connector.Event, error) {
	if depth > 200 {
		depth = 200
	}
	var result orderbookResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetQueryParam("category", "spot").
		SetQueryParam("symbol", m.NativeSymbol).
		SetQueryParam("limit", fmt.Sprintf("%d", depth)).
		SetResult(&result).
		Get("/v5/market/orderbook")
	if err != nil {
		return connector.Event{}, fmt.Errorf("bybit orderbook %s: %w", m.NativeSymbol, err)
	}
	if resp.IsError() || result.RetCode != 0 {
		return connector.Event{}, fmt.Errorf("bybit orderbook %s: status %s ret %d",
			m.NativeSymbol, resp.Status(), result.RetCode)
	}

	bids, err := connector.ParseLevels(result.Result.Bids)
	if err != nil {
		return connector.Event{}, fmt.Errorf("bybit orderbook %s bids: %w", m.NativeSymbol, err)
	}
	asks, err := connector.ParseLevels(result.Result.Asks)
	if err != nil {
		return connector.Event{}, fmt.Errorf("bybit orderbook %s asks: %w", m.NativeSymbol, err)
	}
	return connector.Event{
		Market:     m,
		Bids:       bids,
		Asks:       asks,
		Seq:        result.Result.UpdateID,
		Snapshot:   true,
		TsExchange: time.UnixMilli(result.Result.Ts),
	}, nil
}

// Subscribe runs one public WS session with app-level pings.
func (d *Driver) Subscribe(ctx context.Context, markets []market.Market, out chan<- connector.Event) error {
	bySymbol := make(map[string]market.Market, len(markets))
	args := make([]string, 0, len(markets))
	for _, m := range markets {
		bySymbol[m.NativeSymbol] = m
		args = append(args, depthTopic+"."+m.NativeSymbol)
	}

	dialer := websocket.Dialer{HandshakeTimeout: connector.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsPublicURL, nil)
	if err != nil {
		return fmt.Errorf("bybit ws dial: %w", err)
	}
	defer conn.Close()
	log.Debug().Int("topics", len(args)).Msg("Connected to Bybit public stream")

	// Bybit caps args per subscribe request; chunk.
	for i := 0; i < len(args); i += argsPerSub {
		end := i + argsPerSub
		if end > len(args) {
			end = len(args)
		}
		if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args[i:end]}); err != nil {
			return fmt.Errorf("bybit subscribe: %w", err)
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
				if err := conn.WriteJSON(map[string]any{"op": "ping"}); err != nil {
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
			return fmt.Errorf("bybit ws read: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Topic == "" {
			continue
		}
		var data wsOrderbookData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			continue
		}
		m, ok := bySymbol[data.Symbol]
		if !ok {
			continue
		}
		bids, err := connector.ParseLevels(data.Bids)
		if err != nil {
			continue
		}
		asks, err := connector.ParseLevels(data.Asks)
		if err != nil {
			continue
		}

		ev := connector.Event{
			Market:     m,
			Bids:       bids,
			Asks:       asks,
			Seq:        data.UpdateID,
			TsExchange: time.UnixMilli(msg.Ts),
		}
		// type snapshot (and u=1, a service restart) resets the book; deltas
		// advance the update id by exactly one.
		if msg.Type == "snapshot" || data.UpdateID == 1 {
			ev.Snapshot = true
		} else {
			ev.PrevSeq = data.UpdateID - 1
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
