// Package connector maintains live order book streams for each venue. A
// shared runner owns the state machine, delta coalescing, sequence
// discipline, and reconnect backoff; per-venue Driver implementations only
// speak the venue's wire protocol and push depth events on a channel.
package connector

import (
	"context"
	"time"

	"spotarb/internal/market"
)

// Event is one depth update pushed by a Driver. When Snapshot is true the
// levels replace the shadow book; otherwise they are deltas (size zero
// removes a level).
type Event struct {
	Market     market.Market
	Bids       []market.Level
	Asks       []market.Level
	Seq        int64 // final sequence id; 0 when the venue has none
	PrevSeq    int64 // sequence the update chains from; 0 when n/a
	Snapshot   bool
	TsExchange time.Time
}

// Driver is the per-venue capability contract. Subscribe runs one transport
// session: it blocks until the session ends, pushing events on out. Snapshot
// fetches a REST depth snapshot for resync.
type Driver interface {
	Venue() market.Venue
	Discover(ctx context.Context) ([]market.Market, error)
	Subscribe(ctx context.Context, markets []market.Market, out chan<- Event) error
	Snapshot(ctx context.Context, m market.Market, depth int) (Event, error)
}

// State of the connector state machine.
type State int32

const (
	StateInit State = iota
	StateDiscover
	StateSubscribing
	StateStreaming
	StateDegraded
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateDiscover:
		return "discover"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Health is a point-in-time view of one connector for the watchdog and the
// /health endpoint.
type Health struct {
	Venue      market.Venue
	State      State
	LastEvent  time.Time
	Reconnects int
	Markets    int
}

// Timeouts shared by the venue drivers.
const (
	RestTimeout     = 5 * time.Second
	DialTimeout     = 10 * time.Second
	WsInactivity    = 30 * time.Second
	ResyncTimeout   = RestTimeout
	backoffInitial  = 500 * time.Millisecond
	backoffCeiling  = 30 * time.Second
	watchdogPeriod  = time.Second
	eventBufferSize = 4096
)
