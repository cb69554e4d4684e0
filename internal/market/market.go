// Package market defines the core data model shared by every component:
// venues, canonical trading pairs, order book snapshots, and detected
// opportunities. Prices and sizes are decimals throughout; float64 appears
// only at the logging/metrics boundary.
package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies a supported exchange.
type Venue string

const (
	Binance Venue = "binance"
	Bybit   Venue = "bybit"
	OKX     Venue = "okx"
	KuCoin  Venue = "kucoin"
	MEXC    Venue = "mexc"
	Huobi   Venue = "huobi"
	CoinTR  Venue = "cointr"
)

// AllVenues returns the closed set of supported venues in a stable order.
func AllVenues() []Venue {
	return []Venue{Binance, Bybit, OKX, KuCoin, MEXC, Huobi, CoinTR}
}

// ParseVenue validates a venue id string.
func ParseVenue(s string) (Venue, error) {
	v := Venue(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllVenues() {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown venue %q", s)
}

// Pair is a canonical trading pair. Both assets are uppercase short codes
// after alias normalization; equality is structural.
type Pair struct {
	Base  string
	Quote string
}

// String renders the canonical BASE/QUOTE form.
func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// IsZero reports whether the pair is unset.
func (p Pair) IsZero() bool {
	return p.Base == "" && p.Quote == ""
}

// ParsePair parses the canonical BASE/QUOTE form.
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(s)), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("malformed pair %q", s)
	}
	return Pair{Base: parts[0], Quote: parts[1]}, nil
}

// Market describes one tradeable instrument on one venue. Immutable after
// discovery; at most one Market exists per (venue, canonical pair).
type Market struct {
	Venue          Venue
	Pair           Pair
	NativeSymbol   string
	PricePrecision int32
	SizePrecision  int32
	MinNotional    decimal.Decimal
	Active         bool
}

// Level is a single order book level. Size is in base units, price in
// quote-per-base.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Book is an immutable order book snapshot for one (venue, pair). Bids are
// sorted descending by price, asks ascending. TsLocal is the commit instant
// (carries Go's monotonic reading) and drives staleness; TsExchange is kept
// for diagnostics only.
type Book struct {
	Venue      Venue
	Pair       Pair
	Bids       []Level
	Asks       []Level
	TsExchange time.Time
	TsLocal    time.Time
	Seq        int64
}

// Validation reasons form a small fixed vocabulary so they are safe as
// metric label values.
const (
	ReasonEmpty       = "empty"
	ReasonNotPositive = "not-positive"
	ReasonOrdering    = "ordering"
	ReasonCrossed     = "crossed"
)

// ValidationError is a snapshot validation failure. Reason is one of the
// Reason* constants; the message carries the offending detail.
type ValidationError struct {
	Reason string
	msg    string
}

func (e *ValidationError) Error() string { return e.msg }

func invalid(reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, msg: fmt.Sprintf(format, args...)}
}

// Validate checks side ordering, positivity, and that the book is not
// crossed. Connectors reject snapshots that fail here.
func (b *Book) Validate() error {
	if len(b.Bids) == 0 && len(b.Asks) == 0 {
		return invalid(ReasonEmpty, "empty book")
	}
	for i, l := range b.Bids {
		if l.Price.Sign() <= 0 || l.Size.Sign() <= 0 {
			return invalid(ReasonNotPositive, "bid level %d not positive", i)
		}
		if i > 0 && l.Price.GreaterThanOrEqual(b.Bids[i-1].Price) {
			return invalid(ReasonOrdering, "bids not strictly descending at level %d", i)
		}
	}
	for i, l := range b.Asks {
		if l.Price.Sign() <= 0 || l.Size.Sign() <= 0 {
			return invalid(ReasonNotPositive, "ask level %d not positive", i)
		}
		if i > 0 && l.Price.LessThanOrEqual(b.Asks[i-1].Price) {
			return invalid(ReasonOrdering, "asks not strictly ascending at level %d", i)
		}
	}
	if len(b.Bids) > 0 && len(b.Asks) > 0 && !b.Bids[0].Price.LessThan(b.Asks[0].Price) {
		return invalid(ReasonCrossed, "crossed book: bid %s >= ask %s", b.Bids[0].Price, b.Asks[0].Price)
	}
	return nil
}

// BestBid returns the top bid level.
func (b *Book) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level.
func (b *Book) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// Side of a trade leg.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opportunity kinds.
const (
	KindCross = "cross"
	KindTri   = "tri"
)

// CrossOpportunity is a same-pair spread across two venues.
type CrossOpportunity struct {
	ID               uint64
	Pair             Pair
	BuyVenue         Venue
	SellVenue        Venue
	Notional         decimal.Decimal
	GrossBps         decimal.Decimal
	NetBps           decimal.Decimal
	BuyVWAP          decimal.Decimal
	SellVWAP         decimal.Decimal
	FillableNotional decimal.Decimal
	Detected         time.Time
}

// TriLeg is one leg of a triangular cycle.
type TriLeg struct {
	Pair Pair
	Side Side
}

// TriOpportunity is a three-leg intra-venue cycle beginning and ending in
// Base.
type TriOpportunity struct {
	ID       uint64
	Venue    Venue
	Legs     [3]TriLeg
	Base     string
	GrossBps decimal.Decimal
	NetBps   decimal.Decimal
	Detected time.Time
}
