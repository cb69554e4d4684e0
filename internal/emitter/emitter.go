// Package emitter is the terminal stage of the pipeline: it deduplicates and
// throttles detected opportunities, then dispatches the survivors to the
// notifier and the persistence sink over bounded queues. Engines never block
// on downstream latency; when a queue is full the oldest entry is dropped.
package emitter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"spotarb/internal/market"
	"spotarb/internal/metrics"
)

const (
	queueSize        = 1024
	notifyAttempts   = 3
	notifyTimeout    = 10 * time.Second
	notifyRetryBase  = time.Second
	notifyRatePerSec = 1
	notifyBurst      = 5
)

// Notifier delivers one human-readable alert.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Persister appends one opportunity record.
type Persister interface {
	Append(ctx context.Context, rec Record) error
}

// Record is the persistence schema.
type Record struct {
	ID       uint64
	Detected time.Time
	Kind     string
	Payload  any
}

type queued struct {
	id   uint64
	kind string
	text string
	rec  Record
}

// Emitter owns the dedup state and the two sink queues.
type Emitter struct {
	notifier  Notifier
	persister Persister
	cooldown  time.Duration
	limiter   *rate.Limiter

	mu       sync.Mutex
	lastSent map[string]time.Time
	nextID   atomic.Uint64

	notifyQ  chan queued
	persistQ chan queued
}

// New creates an emitter. notifier and persister may be nil when the
// corresponding sink is not configured.
func New(notifier Notifier, persister Persister, cooldown time.Duration) *Emitter {
	return &Emitter{
		notifier:  notifier,
		persister: persister,
		cooldown:  cooldown,
		limiter:   rate.NewLimiter(rate.Limit(notifyRatePerSec), notifyBurst),
		lastSent:  make(map[string]time.Time),
		notifyQ:   make(chan queued, queueSize),
		persistQ:  make(chan queued, queueSize),
	}
}

// EmitCross dispatches a cross opportunity unless its dedup key is cooling
// down.
func (e *Emitter) EmitCross(op market.CrossOpportunity) {
	key := crossKey(op)
	if !e.admit(key, market.KindCross) {
		return
	}
	op.ID = e.nextID.Add(1)
	e.dispatch(queued{
		id:   op.ID,
		kind: market.KindCross,
		text: formatCross(op),
		rec:  Record{ID: op.ID, Detected: op.Detected, Kind: market.KindCross, Payload: op},
	})
}

// EmitTri dispatches a triangular opportunity unless its dedup key is cooling
// down.
func (e *Emitter) EmitTri(op market.TriOpportunity) {
	key := triKey(op)
	if !e.admit(key, market.KindTri) {
		return
	}
	op.ID = e.nextID.Add(1)
	e.dispatch(queued{
		id:   op.ID,
		kind: market.KindTri,
		text: formatTri(op),
		rec:  Record{ID: op.ID, Detected: op.Detected, Kind: market.KindTri, Payload: op},
	})
}

// admit applies the per-key cooldown.
func (e *Emitter) admit(key, kind string) bool {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.lastSent[key]; ok && now.Sub(last) < e.cooldown {
		metrics.OpportunitiesSuppressed.WithLabelValues(kind).Inc()
		return false
	}
	e.lastSent[key] = now
	return true
}

// dispatch enqueues to both sinks, dropping the oldest entry on overflow.
func (e *Emitter) dispatch(q queued) {
	push(e.notifyQ, q, "notify")
	push(e.persistQ, q, "persist")
}

func push(ch chan queued, q queued, sink string) {
	for {
		select {
		case ch <- q:
			return
		default:
		}
		select {
		case <-ch:
			metrics.QueueDrops.WithLabelValues(sink).Inc()
		default:
		}
	}
}

// Run consumes both queues until ctx is cancelled, then drains what remains
// within grace.
func (e *Emitter) Run(ctx context.Context, grace time.Duration) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.consume(ctx, grace, e.notifyQ, e.notify)
	}()
	go func() {
		defer wg.Done()
		e.consume(ctx, grace, e.persistQ, e.persist)
	}()
	wg.Wait()
}

func (e *Emitter) consume(ctx context.Context, grace time.Duration, ch chan queued, fn func(context.Context, queued)) {
	for {
		select {
		case q := <-ch:
			fn(ctx, q)
		case <-ctx.Done():
			// Flush within the shutdown grace window.
			fctx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()
			for {
				select {
				case q := <-ch:
					fn(fctx, q)
				case <-fctx.Done():
					return
				default:
					return
				}
			}
		}
	}
}

// notify sends one alert with bounded retries, then drops it.
func (e *Emitter) notify(ctx context.Context, q queued) {
	if e.notifier == nil {
		return
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return
	}
	for attempt := 1; attempt <= notifyAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, notifyTimeout)
		err := e.notifier.Send(actx, q.text)
		cancel()
		if err == nil {
			return
		}
		log.Warn().Err(err).Uint64("id", q.id).Int("attempt", attempt).Msg("Notifier send failed")
		if attempt == notifyAttempts {
			metrics.NotifierErrors.Inc()
			return
		}
		select {
		case <-time.After(notifyRetryBase << (attempt - 1)):
		case <-ctx.Done():
			return
		}
	}
}

// persist appends one record, fire-and-forget.
func (e *Emitter) persist(ctx context.Context, q queued) {
	if e.persister == nil {
		return
	}
	if err := e.persister.Append(ctx, q.rec); err != nil {
		metrics.PersistErrors.Inc()
		log.Warn().Err(err).Uint64("id", q.id).Msg("Persist append failed")
	}
}

// bucket rounds bps down to a multiple of w so near-identical spreads share a
// dedup key.
func bucket(bps decimal.Decimal, w int64) int64 {
	width := decimal.NewFromInt(w)
	return bps.Div(width).Floor().Mul(width).IntPart()
}

func crossKey(op market.CrossOpportunity) string {
	return fmt.Sprintf("cross|%s|%s|%s|%d",
		op.Pair, op.BuyVenue, op.SellVenue, bucket(op.NetBps, 5))
}

func triKey(op market.TriOpportunity) string {
	pairs := []string{op.Legs[0].Pair.String(), op.Legs[1].Pair.String(), op.Legs[2].Pair.String()}
	sort.Strings(pairs)
	return fmt.Sprintf("tri|%s|%s|%s|%d",
		op.Venue, strings.Join(pairs, ","), op.Base, bucket(op.NetBps, 5))
}
