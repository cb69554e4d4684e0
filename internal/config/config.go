// Package config loads all runtime settings from the process environment.
// Missing keys fall back to documented defaults; malformed values are a
// fatal configuration fault surfaced at startup.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"spotarb/internal/fees"
	"spotarb/internal/market"
)

// Config is the resolved runtime configuration.
type Config struct {
	MinSpreadBps  decimal.Decimal
	MinTriGainBps decimal.Decimal
	MinNotional   decimal.Decimal

	SymbolUniverse   []market.Pair // empty = venue intersection policy
	TriBases         []string
	TriExcludeQuotes []string
	Venues           []market.Venue

	DepthLevels  int
	Coalesce     time.Duration
	CrossScan    time.Duration
	TriScan      time.Duration
	MaxStaleness time.Duration

	AlertCooldown time.Duration
	GraceShutdown time.Duration

	Fees *fees.Table

	NotifierToken string
	NotifierChat  string
	RedisAddr     string

	MetricsPort string
	LogLevel    string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("MIN_SPREAD_BPS", "25")
	v.SetDefault("MIN_TRI_GAIN_BPS", "15")
	v.SetDefault("MIN_NOTIONAL", "100")
	v.SetDefault("SYMBOL_UNIVERSE", "")
	v.SetDefault("TRI_BASES", "BTC,ETH,USDT")
	v.SetDefault("TRI_EXCLUDE_QUOTES", "")
	v.SetDefault("INCLUDE_EXCHANGES", "")
	v.SetDefault("EXCLUDE_EXCHANGES", "")
	v.SetDefault("DEPTH_LEVELS", 20)
	v.SetDefault("COALESCE_MS", 100)
	v.SetDefault("CROSS_SCAN_MS", 1000)
	v.SetDefault("TRI_SCAN_MS", 2000)
	v.SetDefault("MAX_STALENESS_MS", 5000)
	v.SetDefault("ALERT_COOLDOWN_SEC", 60)
	v.SetDefault("GRACE_SHUTDOWN_MS", 2000)
	v.SetDefault("METRICS_PORT", "9090")
	v.SetDefault("LOG_LEVEL", "info")
	return v
}

// Load reads and validates configuration from the environment.
func Load() (*Config, error) {
	return load(newViper(), os.Environ())
}

func load(v *viper.Viper, environ []string) (*Config, error) {
	cfg := &Config{
		DepthLevels:   v.GetInt("DEPTH_LEVELS"),
		Coalesce:      time.Duration(v.GetInt("COALESCE_MS")) * time.Millisecond,
		CrossScan:     time.Duration(v.GetInt("CROSS_SCAN_MS")) * time.Millisecond,
		TriScan:       time.Duration(v.GetInt("TRI_SCAN_MS")) * time.Millisecond,
		MaxStaleness:  time.Duration(v.GetInt("MAX_STALENESS_MS")) * time.Millisecond,
		AlertCooldown: time.Duration(v.GetInt("ALERT_COOLDOWN_SEC")) * time.Second,
		GraceShutdown: time.Duration(v.GetInt("GRACE_SHUTDOWN_MS")) * time.Millisecond,
		NotifierToken: v.GetString("NOTIFIER_TOKEN"),
		NotifierChat:  v.GetString("NOTIFIER_CHAT"),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		MetricsPort:   v.GetString("METRICS_PORT"),
		LogLevel:      v.GetString("LOG_LEVEL"),
	}

	var err error
	if cfg.MinSpreadBps, err = decimal.NewFromString(v.GetString("MIN_SPREAD_BPS")); err != nil {
		return nil, fmt.Errorf("MIN_SPREAD_BPS: %w", err)
	}
	if cfg.MinTriGainBps, err = decimal.NewFromString(v.GetString("MIN_TRI_GAIN_BPS")); err != nil {
		return nil, fmt.Errorf("MIN_TRI_GAIN_BPS: %w", err)
	}
	if cfg.MinNotional, err = decimal.NewFromString(v.GetString("MIN_NOTIONAL")); err != nil {
		return nil, fmt.Errorf("MIN_NOTIONAL: %w", err)
	}
	if cfg.MinNotional.Sign() <= 0 {
		return nil, fmt.Errorf("MIN_NOTIONAL must be positive")
	}
	if cfg.DepthLevels <= 0 {
		return nil, fmt.Errorf("DEPTH_LEVELS must be positive")
	}
	if cfg.Coalesce <= 0 || cfg.CrossScan <= 0 || cfg.TriScan <= 0 || cfg.MaxStaleness <= 0 {
		return nil, fmt.Errorf("intervals must be positive")
	}

	for _, s := range splitList(v.GetString("SYMBOL_UNIVERSE")) {
		p, err := market.ParsePair(s)
		if err != nil {
			return nil, fmt.Errorf("SYMBOL_UNIVERSE: %w", err)
		}
		cfg.SymbolUniverse = append(cfg.SymbolUniverse, p)
	}
	for _, s := range splitList(v.GetString("TRI_BASES")) {
		cfg.TriBases = append(cfg.TriBases, strings.ToUpper(s))
	}
	for _, s := range splitList(v.GetString("TRI_EXCLUDE_QUOTES")) {
		cfg.TriExcludeQuotes = append(cfg.TriExcludeQuotes, strings.ToUpper(s))
	}

	cfg.Venues, err = resolveVenues(
		splitList(v.GetString("INCLUDE_EXCHANGES")),
		splitList(v.GetString("EXCLUDE_EXCHANGES")),
	)
	if err != nil {
		return nil, err
	}

	cfg.Fees = fees.NewTable()
	if err := cfg.Fees.ApplyOverrides(environ); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveVenues applies the whitelist then the blacklist to the closed venue
// set.
func resolveVenues(include, exclude []string) ([]market.Venue, error) {
	enabled := market.AllVenues()
	if len(include) > 0 {
		enabled = enabled[:0]
		for _, s := range include {
			v, err := market.ParseVenue(s)
			if err != nil {
				return nil, fmt.Errorf("INCLUDE_EXCHANGES: %w", err)
			}
			enabled = append(enabled, v)
		}
	}
	if len(exclude) > 0 {
		excluded := make(map[market.Venue]bool, len(exclude))
		for _, s := range exclude {
			v, err := market.ParseVenue(s)
			if err != nil {
				return nil, fmt.Errorf("EXCLUDE_EXCHANGES: %w", err)
			}
			excluded[v] = true
		}
		kept := enabled[:0]
		for _, v := range enabled {
			if !excluded[v] {
				kept = append(kept, v)
			}
		}
		enabled = kept
	}
	if len(enabled) == 0 {
		return nil, fmt.Errorf("no venues enabled after INCLUDE/EXCLUDE filters")
	}
	return enabled, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
