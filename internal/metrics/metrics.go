package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics for the arbitrage scanner.
var (
	BookUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_book_updates_total",
			Help: "Total number of order book snapshots published to the store",
		},
		[]string{"venue", "pair"},
	)

	BookDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arb_book_depth_levels",
			Help: "Current order book depth (number of levels)",
		},
		[]string{"venue", "pair", "side"},
	)

	BooksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_books_rejected_total",
			Help: "Snapshots rejected by validation (crossed book, ordering, stale ts)",
		},
		[]string{"venue", "reason"},
	)

	ConnectorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arb_connector_state",
			Help: "Connector state machine position (0=init .. 6=stopped)",
		},
		[]string{"venue"},
	)

	ConnectorReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_reconnects_total",
			Help: "Total number of reconnection attempts",
		},
		[]string{"venue"},
	)

	SequenceGaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_sequence_gaps_total",
			Help: "Depth stream sequence gaps triggering a resync",
		},
		[]string{"venue"},
	)

	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arb_scan_duration_seconds",
			Help:    "Time for one engine scan pass",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"engine"},
	)

	OpportunitiesFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_opportunities_total",
			Help: "Opportunities that cleared the profitability threshold",
		},
		[]string{"kind"},
	)

	OpportunitiesSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_opportunities_suppressed_total",
			Help: "Opportunities suppressed by the dedup cooldown",
		},
		[]string{"kind"},
	)

	QueueDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_queue_drops_total",
			Help: "Oldest entries dropped from a full emitter queue",
		},
		[]string{"sink"},
	)

	NotifierErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arb_notifier_errors_total",
			Help: "Notifier sends that exhausted all retry attempts",
		},
	)

	PersistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arb_persist_errors_total",
			Help: "Failed appends to the opportunity log",
		},
	)

	RestFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_rest_fetch_errors_total",
			Help: "Total number of REST API fetch errors",
		},
		[]string{"venue", "endpoint"},
	)
)

// RecordBookUpdate records a published snapshot.
func RecordBookUpdate(venue, pair string, bidDepth, askDepth int) {
	BookUpdates.WithLabelValues(venue, pair).Inc()
	BookDepth.WithLabelValues(venue, pair, "bid").Set(float64(bidDepth))
	BookDepth.WithLabelValues(venue, pair, "ask").Set(float64(askDepth))
}

// RecordBookRejected records a rejected snapshot.
func RecordBookRejected(venue, reason string) {
	BooksRejected.WithLabelValues(venue, reason).Inc()
}

// RecordConnectorState records the connector state machine position.
func RecordConnectorState(venue string, state int) {
	ConnectorState.WithLabelValues(venue).Set(float64(state))
}

// RecordReconnect records a reconnection attempt.
func RecordReconnect(venue string) {
	ConnectorReconnects.WithLabelValues(venue).Inc()
}

// RecordSequenceGap records a sequence gap on a venue's depth stream.
func RecordSequenceGap(venue string) {
	SequenceGaps.WithLabelValues(venue).Inc()
}

// Server serves /metrics and /health.
type Server struct {
	server *http.Server
}

// Health reports liveness for the /health endpoint.
type Health interface {
	Healthy() bool
}

// NewServer creates the metrics HTTP server. health may be nil.
func NewServer(addr string, health Health) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil && !health.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("DEGRADED"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
	}
}

// Start starts the metrics server and blocks until it stops. A Stop-driven
// shutdown is not an error.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the metrics server.
func (s *Server) Stop() error {
	return s.server.Close()
}
