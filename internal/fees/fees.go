// Package fees holds the maker/taker fee table. Each venue ships a default
// schedule; per-venue and per-pair overrides come from the environment.
// Engines charge taker for every arbitrage leg.
package fees

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"spotarb/internal/market"
)

// Schedule is a (maker, taker) pair of decimal fee fractions
// (0.001 = 10 bps).
type Schedule struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

func sched(maker, taker string) Schedule {
	return Schedule{
		Maker: decimal.RequireFromString(maker),
		Taker: decimal.RequireFromString(taker),
	}
}

// venueDefaults are published spot fee tiers, deliberately conservative.
var venueDefaults = map[market.Venue]Schedule{
	market.Binance: sched("0.001", "0.001"),
	market.Bybit:   sched("0.001", "0.001"),
	market.OKX:     sched("0.0008", "0.001"),
	market.KuCoin:  sched("0.001", "0.001"),
	market.MEXC:    sched("0.0", "0.0005"),
	market.Huobi:   sched("0.002", "0.002"),
	market.CoinTR:  sched("0.001", "0.0012"),
}

// Table maps (venue, optional pair) to a fee schedule. Lookup order is
// per-pair override, then venue default; a venue with no default fails.
type Table struct {
	venue  map[market.Venue]Schedule
	byPair map[market.Venue]map[market.Pair]Schedule
}

// NewTable builds a table from the built-in venue defaults.
func NewTable() *Table {
	venue := make(map[market.Venue]Schedule, len(venueDefaults))
	for v, s := range venueDefaults {
		venue[v] = s
	}
	return &Table{
		venue:  venue,
		byPair: make(map[market.Venue]map[market.Pair]Schedule),
	}
}

// ApplyOverrides parses FEE_OVERRIDE_<VENUE>_(MAKER|TAKER) and
// FEE_OVERRIDE_<VENUE>_<BASE>_<QUOTE>_(MAKER|TAKER) entries from the given
// environment (as "KEY=VALUE" strings). Malformed overrides are a fatal
// configuration error.
func (t *Table) ApplyOverrides(environ []string) error {
	const prefix = "FEE_OVERRIDE_"
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 || !strings.HasPrefix(kv[:eq], prefix) {
			continue
		}
		key, value := kv[:eq], kv[eq+1:]
		parts := strings.Split(strings.TrimPrefix(key, prefix), "_")
		if len(parts) < 2 {
			return fmt.Errorf("malformed fee override %s", key)
		}
		role := parts[len(parts)-1]
		if role != "MAKER" && role != "TAKER" {
			return fmt.Errorf("fee override %s: role must be MAKER or TAKER", key)
		}
		venue, err := market.ParseVenue(parts[0])
		if err != nil {
			return fmt.Errorf("fee override %s: %w", key, err)
		}
		rate, err := decimal.NewFromString(value)
		if err != nil || rate.Sign() < 0 {
			return fmt.Errorf("fee override %s: bad rate %q", key, value)
		}

		mid := parts[1 : len(parts)-1]
		switch len(mid) {
		case 0:
			s := t.venue[venue]
			if role == "MAKER" {
				s.Maker = rate
			} else {
				s.Taker = rate
			}
			t.venue[venue] = s
		case 2:
			pair := market.Pair{Base: strings.ToUpper(mid[0]), Quote: strings.ToUpper(mid[1])}
			if t.byPair[venue] == nil {
				t.byPair[venue] = make(map[market.Pair]Schedule)
			}
			s, ok := t.byPair[venue][pair]
			if !ok {
				s = t.venue[venue]
			}
			if role == "MAKER" {
				s.Maker = rate
			} else {
				s.Taker = rate
			}
			t.byPair[venue][pair] = s
		default:
			return fmt.Errorf("malformed fee override %s", key)
		}
	}
	return nil
}

// Lookup resolves the schedule for (venue, pair): pair override first, then
// venue default.
func (t *Table) Lookup(venue market.Venue, pair market.Pair) (Schedule, error) {
	if byPair, ok := t.byPair[venue]; ok {
		if s, ok := byPair[pair]; ok {
			return s, nil
		}
	}
	if s, ok := t.venue[venue]; ok {
		return s, nil
	}
	return Schedule{}, fmt.Errorf("no fee schedule for venue %s", venue)
}

// Taker returns the taker fee for (venue, pair).
func (t *Table) Taker(venue market.Venue, pair market.Pair) (decimal.Decimal, error) {
	s, err := t.Lookup(venue, pair)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return s.Taker, nil
}
