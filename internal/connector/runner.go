package connector

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"spotarb/internal/book"
	"spotarb/internal/market"
	"spotarb/internal/metrics"
	"spotarb/internal/symbols"
)

// Options configure one connector runner.
type Options struct {
	DepthLevels int
	Coalesce    time.Duration
	// Universe restricts the tracked pairs. Nil tracks everything discovered.
	Universe map[market.Pair]bool
}

// Connector drives one venue: discovery, subscription sessions, sequence
// discipline, and publication into the shared book store.
type Connector struct {
	driver Driver
	store  *book.Store
	reg    *symbols.Registry
	opts   Options
	log    zerolog.Logger

	state      atomic.Int32
	lastEvent  atomic.Int64
	reconnects atomic.Int64
	markets    atomic.Int64
}

// New creates a connector for the driver's venue.
func New(driver Driver, store *book.Store, reg *symbols.Registry, opts Options) *Connector {
	return &Connector{
		driver: driver,
		store:  store,
		reg:    reg,
		opts:   opts,
		log:    log.With().Str("venue", string(driver.Venue())).Logger(),
	}
}

// Venue returns the venue this connector serves.
func (c *Connector) Venue() market.Venue { return c.driver.Venue() }

// Health returns a point-in-time snapshot for the watchdog.
func (c *Connector) Health() Health {
	h := Health{
		Venue:      c.driver.Venue(),
		State:      State(c.state.Load()),
		Reconnects: int(c.reconnects.Load()),
		Markets:    int(c.markets.Load()),
	}
	if ns := c.lastEvent.Load(); ns > 0 {
		h.LastEvent = time.Unix(0, ns)
	}
	return h
}

func (c *Connector) setState(s State) {
	c.state.Store(int32(s))
	metrics.RecordConnectorState(string(c.driver.Venue()), int(s))
}

// Run blocks until ctx is cancelled, cycling discovery and subscription
// sessions with exponential backoff between attempts.
func (c *Connector) Run(ctx context.Context) {
	defer c.setState(StateStopped)
	c.setState(StateInit)

	markets := c.discover(ctx)
	if ctx.Err() != nil {
		return
	}
	if len(markets) == 0 {
		c.log.Warn().Msg("No tracked markets on venue, connector idle")
		<-ctx.Done()
		return
	}
	c.markets.Store(int64(len(markets)))
	c.log.Info().Int("markets", len(markets)).Msg("Connector starting stream")

	bo := newBackoff()

	for ctx.Err() == nil {
		streamed := c.runSession(ctx, markets)
		if ctx.Err() != nil {
			return
		}

		// A session that reached streaming resets the backoff.
		if streamed {
			bo.Reset()
		}
		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = backoffCeiling
		}
		c.reconnects.Add(1)
		metrics.RecordReconnect(string(c.driver.Venue()))
		c.setState(StateReconnecting)
		c.log.Warn().Dur("backoff", sleep).Msg("Session ended, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// newBackoff builds the shared reconnect schedule: 500ms doubling up to the
// 30s ceiling, with jitter.
func newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoffInitial
	bo.Multiplier = 2
	bo.MaxInterval = backoffCeiling
	return bo
}

// discover retries venue discovery with backoff until it succeeds, then loads
// the symbol registry and applies the universe filter.
func (c *Connector) discover(ctx context.Context) []market.Market {
	c.setState(StateDiscover)
	bo := newBackoff()

	for {
		dctx, cancel := context.WithTimeout(ctx, RestTimeout)
		discovered, err := c.driver.Discover(dctx)
		cancel()
		if err == nil {
			kept := c.reg.Load(c.driver.Venue(), discovered)
			var tracked []market.Market
			for _, m := range kept {
				if !m.Active {
					continue
				}
				if c.opts.Universe != nil && !c.opts.Universe[m.Pair] {
					continue
				}
				tracked = append(tracked, m)
			}
			return tracked
		}
		metrics.RestFetchErrors.WithLabelValues(string(c.driver.Venue()), "discover").Inc()
		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = backoffCeiling
		}
		c.log.Warn().Err(err).Dur("backoff", sleep).Msg("Discovery failed")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

// runSession runs one transport session to completion: it consumes driver
// events, maintains shadow books, and publishes coalesced snapshots. It
// reports whether the session reached streaming.
func (c *Connector) runSession(ctx context.Context, markets []market.Market) bool {
	c.setState(StateSubscribing)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan Event, eventBufferSize)
	done := make(chan error, 1)
	go func() {
		done <- c.driver.Subscribe(sctx, markets, events)
	}()

	resync := newResyncWorker(sctx, c.driver, c.opts.DepthLevels, events, c.log)

	shadows := make(map[market.Pair]*shadowBook, len(markets))
	for _, m := range markets {
		shadows[m.Pair] = newShadowBook(m)
	}

	flush := time.NewTicker(c.opts.Coalesce)
	defer flush.Stop()
	watchdog := time.NewTicker(watchdogPeriod)
	defer watchdog.Stop()

	streaming := false
	lastActivity := time.Now()

	for {
		select {
		case <-sctx.Done():
			<-done
			return streaming

		case err := <-done:
			if err != nil && sctx.Err() == nil {
				c.log.Warn().Err(err).Msg("Subscribe session error")
			}
			return streaming

		case ev := <-events:
			lastActivity = time.Now()
			c.lastEvent.Store(lastActivity.UnixNano())
			if !streaming {
				streaming = true
				c.setState(StateStreaming)
			}
			sb, ok := shadows[ev.Market.Pair]
			if !ok {
				continue
			}
			switch sb.apply(ev) {
			case applyGap:
				metrics.RecordSequenceGap(string(c.driver.Venue()))
				c.store.Invalidate(ev.Market.Venue, ev.Market.Pair)
				c.setState(StateDegraded)
				resync.request(ev.Market)
			case applyOK:
				// First update after a quiet period publishes immediately so
				// coalescing never adds latency to a lone tick.
				if time.Since(sb.lastPublish) >= c.opts.Coalesce {
					c.publish(sb, resync)
				}
			}

		case <-flush.C:
			degraded := false
			for _, sb := range shadows {
				if sb.dirty && sb.synced {
					c.publish(sb, resync)
				}
				if !sb.synced {
					degraded = true
				}
			}
			if streaming {
				if degraded {
					c.setState(StateDegraded)
				} else {
					c.setState(StateStreaming)
				}
			}

		case <-watchdog.C:
			if time.Since(lastActivity) > WsInactivity {
				c.log.Warn().Msg("Stream inactive, forcing reconnect")
				cancel()
				<-done
				return streaming
			}
		}
	}
}

// publish builds an immutable snapshot from the shadow book and commits it to
// the store. A rejected snapshot (crossed or malformed book) invalidates the
// pair until a fresh snapshot arrives.
func (c *Connector) publish(sb *shadowBook, resync *resyncWorker) {
	b := sb.snapshot(c.opts.DepthLevels)
	if b == nil {
		return
	}
	if err := c.store.Put(b); err != nil {
		c.log.Warn().Err(err).Str("pair", b.Pair.String()).Msg("Snapshot rejected")
		c.store.Invalidate(b.Venue, b.Pair)
		// Not re-dirtied: the same rejected book must not be retried on every
		// flush tick. The next event or resync snapshot replaces it.
		sb.dirty = false
		if sb.sequenced() {
			sb.synced = false
			resync.request(sb.market)
		}
		return
	}
	sb.dirty = false
	sb.lastPublish = b.TsLocal
}

type applyResult int

const (
	applyOK applyResult = iota
	applyDrop
	applyGap
)

// shadowBook is the connector-private working copy of one market's book.
// Levels live in price-keyed maps so deltas are O(1); the sorted snapshot is
// built only on publish.
type shadowBook struct {
	market      market.Market
	bids        map[string]market.Level
	asks        map[string]market.Level
	lastSeq     int64
	seenSeq     bool
	synced      bool
	dirty       bool
	lastPublish time.Time
	tsExchange  time.Time
}

func newShadowBook(m market.Market) *shadowBook {
	return &shadowBook{
		market: m,
		bids:   make(map[string]market.Level),
		asks:   make(map[string]market.Level),
	}
}

// sequenced reports whether this market's feed carries sequence numbers, i.e.
// whether a REST resync is meaningful for it.
func (sb *shadowBook) sequenced() bool { return sb.seenSeq }

func (sb *shadowBook) apply(ev Event) applyResult {
	if ev.Seq > 0 || ev.PrevSeq > 0 {
		sb.seenSeq = true
	}

	if ev.Snapshot {
		sb.bids = make(map[string]market.Level, len(ev.Bids))
		sb.asks = make(map[string]market.Level, len(ev.Asks))
		sb.merge(ev.Bids, ev.Asks)
		sb.lastSeq = ev.Seq
		sb.synced = true
		sb.dirty = true
		sb.tsExchange = ev.TsExchange
		return applyOK
	}

	if !sb.synced {
		// Deltas before the first snapshot cannot be applied; the pending
		// resync will replace the book.
		return applyDrop
	}
	if sb.seenSeq {
		if ev.Seq != 0 && ev.Seq <= sb.lastSeq {
			return applyDrop
		}
		if ev.PrevSeq != 0 && ev.PrevSeq > sb.lastSeq {
			sb.synced = false
			return applyGap
		}
		sb.lastSeq = ev.Seq
	}

	sb.merge(ev.Bids, ev.Asks)
	sb.dirty = true
	sb.tsExchange = ev.TsExchange
	return applyOK
}

func (sb *shadowBook) merge(bids, asks []market.Level) {
	for _, l := range bids {
		k := l.Price.String()
		if l.Size.Sign() <= 0 {
			delete(sb.bids, k)
		} else {
			sb.bids[k] = l
		}
	}
	for _, l := range asks {
		k := l.Price.String()
		if l.Size.Sign() <= 0 {
			delete(sb.asks, k)
		} else {
			sb.asks[k] = l
		}
	}
}

// snapshot renders the shadow into an immutable Book truncated to depth
// levels per side. TsLocal is stamped here, at commit time.
func (sb *shadowBook) snapshot(depth int) *market.Book {
	if !sb.synced || (len(sb.bids) == 0 && len(sb.asks) == 0) {
		return nil
	}
	bids := make([]market.Level, 0, len(sb.bids))
	for _, l := range sb.bids {
		bids = append(bids, l)
	}
	asks := make([]market.Level, 0, len(sb.asks))
	for _, l := range sb.asks {
		asks = append(asks, l)
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })
	if len(bids) > depth {
		bids = bids[:depth]
	}
	if len(asks) > depth {
		asks = asks[:depth]
	}
	return &market.Book{
		Venue:      sb.market.Venue,
		Pair:       sb.market.Pair,
		Bids:       bids,
		Asks:       asks,
		TsExchange: sb.tsExchange,
		TsLocal:    time.Now(),
		Seq:        sb.lastSeq,
	}
}

// resyncWorker serializes REST snapshot fetches so a burst of gaps cannot
// hammer the venue. Fetched snapshots re-enter the session via the shared
// event channel.
type resyncWorker struct {
	requests chan market.Market
	mu       sync.Mutex
	pending  map[market.Pair]bool
	out      chan<- Event
}

func newResyncWorker(ctx context.Context, driver Driver, depth int, out chan<- Event, lg zerolog.Logger) *resyncWorker {
	w := &resyncWorker{
		requests: make(chan market.Market, 256),
		pending:  make(map[market.Pair]bool),
		out:      out,
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-w.requests:
				rctx, cancel := context.WithTimeout(ctx, ResyncTimeout)
				ev, err := driver.Snapshot(rctx, m, depth)
				cancel()
				if err != nil {
					metrics.RestFetchErrors.WithLabelValues(string(m.Venue), "snapshot").Inc()
					lg.Warn().Err(err).Str("pair", m.Pair.String()).Msg("Resync snapshot failed")
					// Leave the request pending and retry; the stream stays
					// degraded for this pair until a snapshot lands.
					select {
					case <-time.After(time.Second):
						w.requests <- m
						continue
					case <-ctx.Done():
						return
					}
				}
				w.mu.Lock()
				delete(w.pending, m.Pair)
				w.mu.Unlock()
				select {
				case w.out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return w
}

// request enqueues a resync unless one is already pending for the pair.
func (w *resyncWorker) request(m market.Market) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending[m.Pair] {
		return
	}
	select {
	case w.requests <- m:
		w.pending[m.Pair] = true
	default:
	}
}
