// Package okx streams OKX spot depth over the public books channel. The
// channel pushes a snapshot action on subscribe and chained updates carrying
// seqId/prevSeqId after that.
package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spotarb/internal/connector"
	"spotarb/internal/market"
)

const (
	restBaseURL  = "https://www.okx.com"
	wsPublicURL  = "wss://ws.okx.com:8443/ws/v5/public"
	booksChannel = "books"
	pingInterval = 20 * time.Second
	argsPerSub   = 20
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

func (d *Driver) Venue() market.Venue { return market.OKX }

// Discover lists live SPOT instruments.
func (d *Driver) Discover(ctx context.Context) ([]market.Market, error) {
	var result instrumentsResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetQueryParam("instType", "SPOT").
		SetResult(&result).
		Get("/api/v5/public/instruments")
	if err != nil {
		return nil, fmt.Errorf("okx instruments: %w", err)
	}
	if resp.IsError() || result.Code != "0" {
		return nil, fmt.Errorf("okx instruments: status %s code %s", resp.Status(), result.Code)
	}

	markets := make([]market.Market, 0, len(result.Data))
	for _, ins := range result.Data {
		m := market.Market{
			NativeSymbol: ins.InstID,
			Pair:         market.Pair{Base: ins.BaseCcy, Quote: ins.QuoteCcy},
			Active:       ins.State == "live",
		}
		if ins.MinSz != "" && ins.TickSz != "" {
			minSz, err1 := decimal.NewFromString(ins.MinSz)
			tick, err2 := decimal.NewFromString(ins.TickSz)
			if err1 == nil && err2 == nil {
				m.MinNotional = minSz.Mul(tick)
				m.PricePrecision = -tick.Exponent()
			}
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// Snapshot fetches the REST book for resync. OKX REST books carry no seqId,
// so the next update re-chains from scratch via the ws snapshot path when the
// stream disagrees.
func (d *Driver) Snapshot(ctx context.Context, m market.Market, depth int) (connector.Event, error) {
	if depth > 400 {
		depth = 400
	}
	var result booksResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetQueryParam("instId", m.NativeSymbol).
		SetQueryParam("sz", strconv.Itoa(depth)).
		SetResult(&result).
		Get("/api/v5/market/books")
	if err != nil {
		return connector.Event{}, fmt.Errorf("okx books %s: %w", m.NativeSymbol, err)
	}
	if resp.IsError() || result.Code != "0" || len(result.Data) == 0 {
		return connector.Event{}, fmt.Errorf("okx books %s: status %s code %s", m.NativeSymbol, resp.Status(), result.Code)
	}

	book := result.Data[0]
	bids, err := connector.ParseLevels(book.Bids)
	if err != nil {
		return connector.Event{}, fmt.Errorf("okx books %s bids: %w", m.NativeSymbol, err)
	}
	asks, err := connector.ParseLevels(book.Asks)
	if err != nil {
		return connector.Event{}, fmt.Errorf("okx books %s asks: %w", m.NativeSymbol, err)
	}
	ts, _ := strconv.ParseInt(book.Ts, 10, 64)
	return connector.Event{
		Market:     m,
		Bids:       bids,
		Asks:       asks,
		Seq:        book.SeqID,
		Snapshot:   true,
		TsExchange: time.UnixMilli(ts),
	}, nil
}

// Subscribe runs one public WS session on the books channel.
func (d *Driver) Subscribe(ctx context.Context, markets []market.Market, out chan<- connector.Event) error {
	byInst := make(map[string]market.Market, len(markets))
	args := make([]wsArg, 0, len(markets))
	for _, m := range markets {
		byInst[m.NativeSymbol] = m
		args = append(args, wsArg{Channel: booksChannel, InstID: m.NativeSymbol})
	}

	dialer := websocket.Dialer{HandshakeTimeout: connector.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsPublicURL, nil)
	if err != nil {
		return fmt.Errorf("okx ws dial: %w", err)
	}
	defer conn.Close()
	log.Debug().Int("instruments", len(args)).Msg("Connected to OKX public stream")

	for i := 0; i < len(args); i += argsPerSub {
		end := i + argsPerSub
		if end > len(args) {
			end = len(args)
		}
		if err := conn.WriteJSON(wsRequest{Op: "subscribe", Args: args[i:end]}); err != nil {
			return fmt.Errorf("okx subscribe: %w", err)
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
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
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
			return fmt.Errorf("okx ws read: %w", err)
		}
		if string(message) == "pong" {
			continue
		}

		var msg wsEnvelope
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Event == "error" {
			log.Warn().Str("code", msg.Code).Str("msg", msg.Msg).Msg("OKX stream error")
			continue
		}
		if msg.Arg.Channel != booksChannel || len(msg.Data) == 0 {
			continue
		}
		m, ok := byInst[msg.Arg.InstID]
		if !ok {
			continue
		}
		for _, book := range msg.Data {
			bids, err := connector.ParseLevels(book.Bids)
			if err != nil {
				continue
			}
			asks, err := connector.ParseLevels(book.Asks)
			if err != nil {
				continue
			}
			ts, _ := strconv.ParseInt(book.Ts, 10, 64)
			ev := connector.Event{
				Market:     m,
				Bids:       bids,
				Asks:       asks,
				Seq:        book.SeqID,
				Snapshot:   msg.Action == "snapshot",
				TsExchange: time.UnixMilli(ts),
			}
			if !ev.Snapshot {
				ev.PrevSeq = book.PrevSeqID
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
