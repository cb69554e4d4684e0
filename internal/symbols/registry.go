// Package symbols translates venue-native pair strings to canonical
// (base, quote) pairs and back. Each venue registers the markets it
// discovered; lookups are read-mostly and rebuilt atomically on reload.
package symbols

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"spotarb/internal/market"
)

// preferredQuotes is the recognized quote-asset set, ordered longest first so
// ambiguity resolves to the longest match (FDUSD before USD, USDT before USD).
var preferredQuotes = []string{
	"FDUSD", "USDT", "USDC", "TUSD", "TRY", "USD", "EUR", "BTC", "ETH", "BNB",
}

// aliases maps venue spellings of an asset to its canonical code. Applied
// before canonicalization.
var aliases = map[string]string{
	"XBT":  "BTC",
	"XDG":  "DOGE",
	"BCC":  "BCH",
	"WBTC": "BTC",
	"WETH": "ETH",
}

// CanonicalAsset applies alias normalization to a single asset code.
func CanonicalAsset(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if a, ok := aliases[c]; ok {
		return a
	}
	return c
}

// SplitJoined splits a joined native symbol like BTCUSDT into a canonical
// pair using the preferred-quote suffix list. Separator forms (BTC-USDT,
// BTC_USDT, BTC/USDT) are handled first. Returns false when the quote is not
// in the recognized set.
func SplitJoined(symbol string) (market.Pair, bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.Split(s, sep); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return pairFrom(parts[0], parts[1])
		}
	}
	for _, q := range preferredQuotes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return pairFrom(s[:len(s)-len(q)], q)
		}
	}
	return market.Pair{}, false
}

func pairFrom(base, quote string) (market.Pair, bool) {
	q := CanonicalAsset(quote)
	recognized := false
	for _, known := range preferredQuotes {
		if q == known {
			recognized = true
			break
		}
	}
	if !recognized {
		return market.Pair{}, false
	}
	return market.Pair{Base: CanonicalAsset(base), Quote: q}, true
}

// Registry holds per-venue native<->canonical mappings and the discovered
// Market records.
type Registry struct {
	mu       sync.RWMutex
	byNative map[market.Venue]map[string]market.Pair
	byPair   map[market.Venue]map[market.Pair]market.Market
	skipped  map[market.Venue]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byNative: make(map[market.Venue]map[string]market.Pair),
		byPair:   make(map[market.Venue]map[market.Pair]market.Market),
		skipped:  make(map[market.Venue]map[string]struct{}),
	}
}

// Load replaces the mapping for one venue with the given markets. Markets
// whose pair cannot be resolved, or that would duplicate a canonical pair
// already claimed on the venue, are skipped and logged once per symbol.
func (r *Registry) Load(venue market.Venue, markets []market.Market) []market.Market {
	native := make(map[string]market.Pair, len(markets))
	byPair := make(map[market.Pair]market.Market, len(markets))
	kept := make([]market.Market, 0, len(markets))

	for _, m := range markets {
		pair := m.Pair
		if pair.IsZero() {
			split, ok := SplitJoined(m.NativeSymbol)
			if !ok {
				r.logSkip(venue, m.NativeSymbol, "unresolvable symbol")
				continue
			}
			pair = split
		} else {
			pair = market.Pair{Base: CanonicalAsset(pair.Base), Quote: CanonicalAsset(pair.Quote)}
		}
		if _, ok := pairFrom(pair.Base, pair.Quote); !ok {
			r.logSkip(venue, m.NativeSymbol, "unrecognized quote asset")
			continue
		}
		if _, dup := byPair[pair]; dup {
			r.logSkip(venue, m.NativeSymbol, "duplicate canonical pair")
			continue
		}
		m.Pair = pair
		m.Venue = venue
		native[m.NativeSymbol] = pair
		byPair[pair] = m
		kept = append(kept, m)
	}

	r.mu.Lock()
	r.byNative[venue] = native
	r.byPair[venue] = byPair
	r.mu.Unlock()

	log.Info().
		Str("venue", string(venue)).
		Int("markets", len(kept)).
		Int("skipped", len(markets)-len(kept)).
		Msg("Symbol registry loaded")
	return kept
}

// Canonicalize maps a venue-native symbol to its canonical pair.
func (r *Registry) Canonicalize(venue market.Venue, nativeSymbol string) (market.Pair, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.byNative[venue]; ok {
		if p, ok := m[nativeSymbol]; ok {
			return p, true
		}
	}
	return market.Pair{}, false
}

// Native maps a canonical pair back to the venue-native symbol.
func (r *Registry) Native(venue market.Venue, pair market.Pair) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.byPair[venue]; ok {
		if mk, ok := m[pair]; ok {
			return mk.NativeSymbol, true
		}
	}
	return "", false
}

// Market returns the discovered Market for (venue, pair).
func (r *Registry) Market(venue market.Venue, pair market.Pair) (market.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.byPair[venue]; ok {
		if mk, ok := m[pair]; ok {
			return mk, true
		}
	}
	return market.Market{}, false
}

// Pairs enumerates the canonical pairs a venue supports.
func (r *Registry) Pairs(venue market.Venue) []market.Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]market.Pair, 0, len(r.byPair[venue]))
	for p := range r.byPair[venue] {
		out = append(out, p)
	}
	return out
}

// SharedPairs returns pairs supported by at least minVenues of the loaded
// venues. Used as the tracked set when SYMBOL_UNIVERSE is empty.
func (r *Registry) SharedPairs(minVenues int) []market.Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[market.Pair]int)
	for _, byPair := range r.byPair {
		for p := range byPair {
			counts[p]++
		}
	}
	var out []market.Pair
	for p, n := range counts {
		if n >= minVenues {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) logSkip(venue market.Venue, symbol, reason string) {
	r.mu.Lock()
	if r.skipped[venue] == nil {
		r.skipped[venue] = make(map[string]struct{})
	}
	_, seen := r.skipped[venue][symbol]
	r.skipped[venue][symbol] = struct{}{}
	r.mu.Unlock()
	if !seen {
		log.Debug().
			Str("venue", string(venue)).
			Str("symbol", symbol).
			Str("reason", reason).
			Msg("Skipping symbol")
	}
}
