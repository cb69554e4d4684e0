// Package engine contains the two periodic scanners: the cross-venue spread
// matcher and the intra-venue triangular cycle scanner. Both are pure readers
// of the book store; detected opportunities flow to the emitter.
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spotarb/internal/book"
	"spotarb/internal/depth"
	"spotarb/internal/fees"
	"spotarb/internal/market"
	"spotarb/internal/metrics"
)

var tenThousand = decimal.NewFromInt(10000)

// CrossSink receives cross opportunities that cleared the threshold.
type CrossSink interface {
	EmitCross(op market.CrossOpportunity)
}

// CrossEngine scans for same-pair spreads across venues.
type CrossEngine struct {
	store *book.Store
	fees  *fees.Table
	sink  CrossSink
	log   zerolog.Logger

	minSpreadBps decimal.Decimal
	minNotional  decimal.Decimal
	interval     time.Duration
	// universe restricts scanned pairs; nil means every pair with books on
	// at least two venues.
	universe []market.Pair
}

// NewCrossEngine creates the cross-venue matcher.
func NewCrossEngine(store *book.Store, feeTable *fees.Table, sink CrossSink,
	minSpreadBps, minNotional decimal.Decimal, interval time.Duration, universe []market.Pair) *CrossEngine {
	return &CrossEngine{
		store:        store,
		fees:         feeTable,
		sink:         sink,
		log:          log.With().Str("engine", "cross").Logger(),
		minSpreadBps: minSpreadBps,
		minNotional:  minNotional,
		interval:     interval,
		universe:     universe,
	}
}

// Run scans on the configured period until ctx is cancelled.
func (e *CrossEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			for _, op := range e.Scan(time.Now()) {
				e.sink.EmitCross(op)
			}
			metrics.ScanDuration.WithLabelValues("cross").Observe(time.Since(start).Seconds())
		}
	}
}

// Scan runs one pass and returns at most one opportunity per pair: the best
// venue pairing by net bps, then fillable notional, then lexicographic
// (buy_venue, sell_venue).
func (e *CrossEngine) Scan(now time.Time) []market.CrossOpportunity {
	pairs := e.universe
	if pairs == nil {
		pairs = e.store.SharedPairs(2)
	}

	var out []market.CrossOpportunity
	for _, pair := range pairs {
		venues := e.store.VenuesOf(pair)
		if len(venues) < 2 {
			continue
		}
		sort.Slice(venues, func(i, j int) bool { return venues[i] < venues[j] })

		best, found := market.CrossOpportunity{}, false
		for _, buyVenue := range venues {
			for _, sellVenue := range venues {
				if buyVenue == sellVenue {
					continue
				}
				op, ok := e.score(pair, buyVenue, sellVenue, now)
				if !ok {
					continue
				}
				if !found || better(op, best) {
					best, found = op, true
				}
			}
		}
		if found {
			metrics.OpportunitiesFound.WithLabelValues(market.KindCross).Inc()
			out = append(out, best)
		}
	}
	return out
}

// score evaluates buying pair on buyVenue's asks and selling on sellVenue's
// bids at the target notional.
func (e *CrossEngine) score(pair market.Pair, buyVenue, sellVenue market.Venue, now time.Time) (market.CrossOpportunity, bool) {
	buyBook, ok := e.store.Get(buyVenue, pair)
	if !ok {
		return market.CrossOpportunity{}, false
	}
	sellBook, ok := e.store.Get(sellVenue, pair)
	if !ok {
		return market.CrossOpportunity{}, false
	}

	buyFee, err := e.fees.Taker(buyVenue, pair)
	if err != nil {
		return market.CrossOpportunity{}, false
	}
	sellFee, err := e.fees.Taker(sellVenue, pair)
	if err != nil {
		return market.CrossOpportunity{}, false
	}

	buy, ok := depth.VWAP(buyBook.Asks, e.minNotional)
	if !ok {
		return market.CrossOpportunity{}, false
	}
	sell, ok := depth.VWAP(sellBook.Bids, e.minNotional)
	if !ok {
		return market.CrossOpportunity{}, false
	}

	grossBps := sell.VWAP.Div(buy.VWAP).Sub(decimal.NewFromInt(1)).Mul(tenThousand)
	netBps := grossBps.Sub(buyFee.Add(sellFee).Mul(tenThousand))
	if netBps.LessThan(e.minSpreadBps) {
		return market.CrossOpportunity{}, false
	}

	fillable := buy.FillableNotional
	if sell.FillableNotional.LessThan(fillable) {
		fillable = sell.FillableNotional
	}
	return market.CrossOpportunity{
		Pair:             pair,
		BuyVenue:         buyVenue,
		SellVenue:        sellVenue,
		Notional:         fillable,
		GrossBps:         grossBps,
		NetBps:           netBps,
		BuyVWAP:          buy.VWAP,
		SellVWAP:         sell.VWAP,
		FillableNotional: fillable,
		Detected:         now,
	}, true
}

func better(a, b market.CrossOpportunity) bool {
	if !a.NetBps.Equal(b.NetBps) {
		return a.NetBps.GreaterThan(b.NetBps)
	}
	if !a.FillableNotional.Equal(b.FillableNotional) {
		return a.FillableNotional.GreaterThan(b.FillableNotional)
	}
	if a.BuyVenue != b.BuyVenue {
		return a.BuyVenue < b.BuyVenue
	}
	return a.SellVenue < b.SellVenue
}
