package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"spotarb/internal/book"
	"spotarb/internal/config"
	"spotarb/internal/connector"
	"spotarb/internal/connector/drivers"
	"spotarb/internal/emitter"
	"spotarb/internal/engine"
	"spotarb/internal/market"
	"spotarb/internal/metrics"
	"spotarb/internal/notify"
	"spotarb/internal/persist"
	"spotarb/internal/symbols"
)

const (
	exitOK          = 0
	exitConfigFault = 2
	exitVenuesLost  = 3

	allVenuesLostAfter = 60 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Configuration fault")
		return exitConfigFault
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Int("venues", len(cfg.Venues)).
		Str("min_spread_bps", cfg.MinSpreadBps.String()).
		Str("min_tri_gain_bps", cfg.MinTriGainBps.String()).
		Str("min_notional", cfg.MinNotional.String()).
		Msg("Starting spot arbitrage scanner")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := book.NewStore(cfg.MaxStaleness)
	registry := symbols.NewRegistry()

	var universe map[market.Pair]bool
	if len(cfg.SymbolUniverse) > 0 {
		universe = make(map[market.Pair]bool, len(cfg.SymbolUniverse))
		for _, p := range cfg.SymbolUniverse {
			universe[p] = true
		}
	}

	connectors := make([]*connector.Connector, 0, len(cfg.Venues))
	for _, venue := range cfg.Venues {
		driver, err := drivers.New(venue)
		if err != nil {
			log.Error().Err(err).Msg("Configuration fault")
			return exitConfigFault
		}
		connectors = append(connectors, connector.New(driver, store, registry, connector.Options{
			DepthLevels: cfg.DepthLevels,
			Coalesce:    cfg.Coalesce,
			Universe:    universe,
		}))
		log.Info().Str("venue", string(venue)).Msg("Added connector")
	}

	health := &healthTracker{connectors: connectors}
	metricsServer := metrics.NewServer(":"+cfg.MetricsPort, health)
	go func() {
		if err := metricsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()
	defer metricsServer.Stop()

	var notifier emitter.Notifier
	if cfg.NotifierToken != "" && cfg.NotifierChat != "" {
		notifier = notify.NewTelegram(cfg.NotifierToken, cfg.NotifierChat)
		log.Info().Msg("Telegram notifier enabled")
	} else {
		log.Warn().Msg("Notifier credentials missing, alerts will only be persisted")
	}

	var persister emitter.Persister
	if cfg.RedisAddr != "" {
		redisLog, err := persist.NewRedisLog(ctx, cfg.RedisAddr)
		if err != nil {
			log.Error().Err(err).Msg("Redis unavailable, opportunity log disabled")
		} else {
			defer redisLog.Close()
			persister = redisLog
			log.Info().Str("addr", cfg.RedisAddr).Msg("Redis opportunity log enabled")
		}
	}

	emit := emitter.New(notifier, persister, cfg.AlertCooldown)

	crossEngine := engine.NewCrossEngine(store, cfg.Fees, emit,
		cfg.MinSpreadBps, cfg.MinNotional, cfg.CrossScan, cfg.SymbolUniverse)
	triEngine := engine.NewTriEngine(store, cfg.Fees, emit, cfg.Venues,
		cfg.TriBases, cfg.TriExcludeQuotes, cfg.MinTriGainBps, cfg.MinNotional, cfg.TriScan)

	var wg sync.WaitGroup
	for _, c := range connectors {
		wg.Add(1)
		go func(c *connector.Connector) {
			defer wg.Done()
			c.Run(ctx)
		}(c)
	}
	wg.Add(3)
	go func() { defer wg.Done(); crossEngine.Run(ctx) }()
	go func() { defer wg.Done(); triEngine.Run(ctx) }()
	go func() { defer wg.Done(); emit.Run(ctx, cfg.GraceShutdown) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	watchdog := time.NewTicker(time.Second)
	defer watchdog.Stop()
	lostSince := time.Time{}

	for {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("Shutting down")
			cancel()
			waitWithTimeout(&wg, cfg.GraceShutdown+time.Second)
			return exitOK

		case <-watchdog.C:
			if health.anyLive() {
				lostSince = time.Time{}
				continue
			}
			if lostSince.IsZero() {
				lostSince = time.Now()
				continue
			}
			if time.Since(lostSince) > allVenuesLostAfter {
				log.Error().Msg("All venues lost for over 60s, exiting")
				cancel()
				waitWithTimeout(&wg, cfg.GraceShutdown+time.Second)
				return exitVenuesLost
			}
		}
	}
}

func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Msg("Shutdown grace expired, aborting remaining tasks")
	}
}

// healthTracker aggregates connector health for /health and the all-venues
// watchdog.
type healthTracker struct {
	connectors []*connector.Connector
}

// anyLive reports whether any connector produced an event recently enough to
// count as alive.
func (h *healthTracker) anyLive() bool {
	for _, c := range h.connectors {
		st := c.Health()
		if st.State == connector.StateStreaming || st.State == connector.StateDegraded {
			return true
		}
		if !st.LastEvent.IsZero() && time.Since(st.LastEvent) < allVenuesLostAfter {
			return true
		}
	}
	return false
}

// Healthy serves the /health endpoint.
func (h *healthTracker) Healthy() bool {
	return h.anyLive()
}
