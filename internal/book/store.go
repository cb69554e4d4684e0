// Package book is the shared in-memory store of order book snapshots.
// Values are immutable *market.Book pointers replaced atomically under a
// short-held lock; readers snapshot the pointer and release, so no lock is
// ever held across engine work.
package book

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"spotarb/internal/market"
	"spotarb/internal/metrics"
)

type key struct {
	venue market.Venue
	pair  market.Pair
}

// Store is the concurrent (venue, pair) -> snapshot map. Snapshots older
// than the staleness window are invisible to readers.
type Store struct {
	mu           sync.RWMutex
	books        map[key]*market.Book
	maxStaleness time.Duration
}

// NewStore creates a store with the given staleness window.
func NewStore(maxStaleness time.Duration) *Store {
	return &Store{
		books:        make(map[key]*market.Book),
		maxStaleness: maxStaleness,
	}
}

// Put atomically replaces the snapshot for (venue, pair). It rejects books
// that fail validation and stale writes whose TsLocal does not advance past
// the currently published snapshot.
func (s *Store) Put(b *market.Book) error {
	if err := b.Validate(); err != nil {
		metrics.RecordBookRejected(string(b.Venue), rejectReason(err))
		return fmt.Errorf("reject book %s %s: %w", b.Venue, b.Pair, err)
	}
	k := key{venue: b.Venue, pair: b.Pair}

	s.mu.Lock()
	if prev, ok := s.books[k]; ok && !b.TsLocal.After(prev.TsLocal) {
		s.mu.Unlock()
		metrics.RecordBookRejected(string(b.Venue), "non-monotonic-ts")
		return fmt.Errorf("reject book %s %s: ts_local not after previous", b.Venue, b.Pair)
	}
	s.books[k] = b
	s.mu.Unlock()

	metrics.RecordBookUpdate(string(b.Venue), b.Pair.String(), len(b.Bids), len(b.Asks))
	return nil
}

// rejectReason maps a validation failure to its fixed label vocabulary.
func rejectReason(err error) string {
	var verr *market.ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return "invalid"
}

// Get returns the live snapshot for (venue, pair), or false when absent or
// stale.
func (s *Store) Get(venue market.Venue, pair market.Pair) (*market.Book, bool) {
	s.mu.RLock()
	b, ok := s.books[key{venue: venue, pair: pair}]
	s.mu.RUnlock()
	if !ok || time.Since(b.TsLocal) > s.maxStaleness {
		return nil, false
	}
	return b, true
}

// Invalidate removes the snapshot for (venue, pair). Connectors call this
// when a market enters resync and its book must not be scored.
func (s *Store) Invalidate(venue market.Venue, pair market.Pair) {
	s.mu.Lock()
	delete(s.books, key{venue: venue, pair: pair})
	s.mu.Unlock()
}

// PairsOf enumerates pairs with a live book on the venue.
func (s *Store) PairsOf(venue market.Venue) []market.Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.Pair
	for k, b := range s.books {
		if k.venue == venue && time.Since(b.TsLocal) <= s.maxStaleness {
			out = append(out, k.pair)
		}
	}
	return out
}

// VenuesOf enumerates venues with a live book for the pair.
func (s *Store) VenuesOf(pair market.Pair) []market.Venue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.Venue
	for k, b := range s.books {
		if k.pair == pair && time.Since(b.TsLocal) <= s.maxStaleness {
			out = append(out, k.venue)
		}
	}
	return out
}

// SharedPairs returns pairs with live books on at least minVenues venues.
func (s *Store) SharedPairs(minVenues int) []market.Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[market.Pair]int)
	for k, b := range s.books {
		if time.Since(b.TsLocal) <= s.maxStaleness {
			counts[k.pair]++
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

// LiveCount returns the number of live books on a venue.
func (s *Store) LiveCount(venue market.Venue) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k, b := range s.books {
		if k.venue == venue && time.Since(b.TsLocal) <= s.maxStaleness {
			n++
		}
	}
	return n
}
