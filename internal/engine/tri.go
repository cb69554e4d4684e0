package engine

import (
	"context"
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

// neighborBound caps cycle enumeration per base asset; a base with more
// neighbors than this is skipped with a warning.
const neighborBound = 200

// TriSink receives triangular opportunities that cleared the threshold.
type TriSink interface {
	EmitTri(op market.TriOpportunity)
}

// triEdge is one directed conversion on a venue's market graph. rate is the
// amount of the destination asset obtained per unit of the source asset at
// VWAP depth.
type triEdge struct {
	pair       market.Pair
	side       market.Side
	rate       decimal.Decimal
	fee        decimal.Decimal
	levelsUsed int
}

// TriEngine scans each venue for profitable three-leg cycles.
type TriEngine struct {
	store  *book.Store
	fees   *fees.Table
	sink   TriSink
	log    zerolog.Logger
	venues []market.Venue

	bases         []string
	excludeQuotes map[string]bool
	minGainBps    decimal.Decimal
	minNotional   decimal.Decimal
	interval      time.Duration
}

// NewTriEngine creates the triangular scanner.
func NewTriEngine(store *book.Store, feeTable *fees.Table, sink TriSink, venues []market.Venue,
	bases, excludeQuotes []string, minGainBps, minNotional decimal.Decimal, interval time.Duration) *TriEngine {
	excluded := make(map[string]bool, len(excludeQuotes))
	for _, q := range excludeQuotes {
		excluded[q] = true
	}
	return &TriEngine{
		store:         store,
		fees:          feeTable,
		sink:          sink,
		log:           log.With().Str("engine", "tri").Logger(),
		venues:        venues,
		bases:         bases,
		excludeQuotes: excluded,
		minGainBps:    minGainBps,
		minNotional:   minNotional,
		interval:      interval,
	}
}

// Run scans on the configured period until ctx is cancelled.
func (e *TriEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			for _, op := range e.Scan(time.Now()) {
				e.sink.EmitTri(op)
			}
			metrics.ScanDuration.WithLabelValues("tri").Observe(time.Since(start).Seconds())
		}
	}
}

// Scan runs one pass over every venue. At most one opportunity is returned
// per (venue, base): the cycle with highest net bps, then fewest book levels
// consumed.
func (e *TriEngine) Scan(now time.Time) []market.TriOpportunity {
	var out []market.TriOpportunity
	for _, venue := range e.venues {
		graph := e.buildGraph(venue)
		if len(graph) == 0 {
			continue
		}
		for _, base := range e.bases {
			if op, ok := e.bestCycle(venue, graph, base, now); ok {
				metrics.OpportunitiesFound.WithLabelValues(market.KindTri).Inc()
				out = append(out, op)
			}
		}
	}
	return out
}

// buildGraph derives the directed conversion graph from the venue's live
// books. Each live pair (B, Q) contributes B->Q (sell at bid VWAP) and Q->B
// (buy at ask VWAP). Markets without a fee entry are not scored.
func (e *TriEngine) buildGraph(venue market.Venue) map[string]map[string]triEdge {
	graph := make(map[string]map[string]triEdge)
	add := func(from, to string, edge triEdge) {
		if graph[from] == nil {
			graph[from] = make(map[string]triEdge)
		}
		graph[from][to] = edge
	}

	for _, pair := range e.store.PairsOf(venue) {
		b, ok := e.store.Get(venue, pair)
		if !ok {
			continue
		}
		taker, err := e.fees.Taker(venue, pair)
		if err != nil {
			continue
		}
		if sell, ok := depth.VWAP(b.Bids, e.minNotional); ok {
			add(pair.Base, pair.Quote, triEdge{
				pair:       pair,
				side:       market.Sell,
				rate:       sell.VWAP,
				fee:        taker,
				levelsUsed: sell.LevelsUsed,
			})
		}
		if buy, ok := depth.VWAP(b.Asks, e.minNotional); ok {
			add(pair.Quote, pair.Base, triEdge{
				pair:       pair,
				side:       market.Buy,
				rate:       decimal.NewFromInt(1).Div(buy.VWAP),
				fee:        taker,
				levelsUsed: buy.LevelsUsed,
			})
		}
	}
	return graph
}

// bestCycle enumerates base -> x -> y -> base and keeps the best qualifying
// cycle.
func (e *TriEngine) bestCycle(venue market.Venue, graph map[string]map[string]triEdge, base string, now time.Time) (market.TriOpportunity, bool) {
	neighbors := graph[base]
	if len(neighbors) == 0 {
		return market.TriOpportunity{}, false
	}
	if len(neighbors) > neighborBound {
		e.log.Warn().
			Str("venue", string(venue)).
			Str("base", base).
			Int("neighbors", len(neighbors)).
			Msg("Base exceeds neighbor bound, skipping")
		return market.TriOpportunity{}, false
	}

	one := decimal.NewFromInt(1)
	var best market.TriOpportunity
	bestLevels, found := 0, false

	for x, e1 := range neighbors {
		if x == base || e.excludeQuotes[x] {
			continue
		}
		for y, e2 := range graph[x] {
			if y == base || y == x || e.excludeQuotes[y] {
				continue
			}
			e3, ok := graph[y][base]
			if !ok {
				continue
			}
			r := e1.rate.Mul(e2.rate).Mul(e3.rate)
			netFactor := r.
				Mul(one.Sub(e1.fee)).
				Mul(one.Sub(e2.fee)).
				Mul(one.Sub(e3.fee))
			netBps := netFactor.Sub(one).Mul(tenThousand)
			if netBps.LessThan(e.minGainBps) {
				continue
			}
			levels := e1.levelsUsed + e2.levelsUsed + e3.levelsUsed
			op := market.TriOpportunity{
				Venue: venue,
				Legs: [3]market.TriLeg{
					{Pair: e1.pair, Side: e1.side},
					{Pair: e2.pair, Side: e2.side},
					{Pair: e3.pair, Side: e3.side},
				},
				Base:     base,
				GrossBps: r.Sub(one).Mul(tenThousand),
				NetBps:   netBps,
				Detected: now,
			}
			if !found || op.NetBps.GreaterThan(best.NetBps) ||
				(op.NetBps.Equal(best.NetBps) && levels < bestLevels) {
				best, bestLevels, found = op, levels, true
			}
		}
	}
	return best, found
}
