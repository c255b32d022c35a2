// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// RPC metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	// Extraction metrics
	PagesFetched        *prometheus.CounterVec
	ReferencesCollected *prometheus.CounterVec
	TransactionsFetched *prometheus.CounterVec
	FetchOutcomes       *prometheus.CounterVec
	TransfersDecoded    *prometheus.CounterVec
	TransfersDiscarded  *prometheus.CounterVec
	OwnerCacheLookups   *prometheus.CounterVec
	ProgramCacheLookups *prometheus.CounterVec
	FollowNotifications prometheus.Counter

	// Storage metrics
	TransfersUpserted *prometheus.CounterVec
	DBQueryDuration   *prometheus.HistogramVec
	DBQueryErrors     *prometheus.CounterVec

	// Run metrics
	RunsTotal         *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil registerer uses the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "stablecoin_transfers"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "RPC call latency in seconds by chain and method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain", "method"}),
		RPCCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_errors_total",
			Help:      "Total number of failed RPC calls by chain and method",
		}, []string{"chain", "method"}),

		PagesFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "pages_fetched_total",
			Help:      "Signature or log pages fetched by chain",
		}, []string{"chain"}),
		ReferencesCollected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "references_collected_total",
			Help:      "In-window candidate references collected by token",
		}, []string{"chain", "token"}),
		TransactionsFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "transactions_fetched_total",
			Help:      "Transactions resolved by fetch tier",
		}, []string{"tier"}),
		FetchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "fetch_outcomes_total",
			Help:      "Per-reference fetch outcomes by tier",
		}, []string{"tier", "outcome"}),
		TransfersDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "transfers_decoded_total",
			Help:      "Transfer records produced by token",
		}, []string{"chain", "token"}),
		TransfersDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "transfers_discarded_total",
			Help:      "Decoded transfers dropped during normalization by reason",
		}, []string{"reason"}),
		OwnerCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "owner_cache_lookups_total",
			Help:      "Owner cache lookups by result (hit, miss)",
		}, []string{"result"}),
		ProgramCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "program_cache_lookups_total",
			Help:      "Program signature cache lookups by result (hit, miss)",
		}, []string{"result"}),
		FollowNotifications: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "follow_notifications_total",
			Help:      "Log notifications received in follow mode",
		}),

		TransfersUpserted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "transfers_upserted_total",
			Help:      "Transfer upserts by outcome (inserted, tags_filled, unchanged)",
		}, []string{"store", "outcome"}),
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "units_total",
			Help:      "Per-token units of work by chain and status",
		}, []string{"chain", "status"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Extraction run duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"mode"}),
		LastSuccessfulRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordRPCCall records RPC call latency and failures.
func RecordRPCCall(chain, method string, seconds float64, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(chain, method).Observe(seconds)
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(chain, method).Inc()
	}
}

// RecordPage increments the fetched page counter.
func RecordPage(chain string) {
	DefaultMetrics.PagesFetched.WithLabelValues(chain).Inc()
}

// RecordReferences records in-window references collected for a token.
func RecordReferences(chain, token string, n int) {
	DefaultMetrics.ReferencesCollected.WithLabelValues(chain, token).Add(float64(n))
}

// RecordFetch records a resolved transaction and its tier.
func RecordFetch(tier string) {
	DefaultMetrics.TransactionsFetched.WithLabelValues(tier).Inc()
}

// RecordFetchOutcome records a per-reference fetch outcome.
func RecordFetchOutcome(tier, outcome string) {
	DefaultMetrics.FetchOutcomes.WithLabelValues(tier, outcome).Inc()
}

// RecordDecoded records produced transfer records for a token.
func RecordDecoded(chain, token string, n int) {
	DefaultMetrics.TransfersDecoded.WithLabelValues(chain, token).Add(float64(n))
}

// RecordDiscard records a transfer dropped during normalization.
func RecordDiscard(reason string) {
	DefaultMetrics.TransfersDiscarded.WithLabelValues(reason).Inc()
}

// RecordOwnerCache records an owner cache lookup.
func RecordOwnerCache(hit bool) {
	DefaultMetrics.OwnerCacheLookups.WithLabelValues(hitLabel(hit)).Inc()
}

// RecordProgramCache records a program signature cache lookup.
func RecordProgramCache(hit bool) {
	DefaultMetrics.ProgramCacheLookups.WithLabelValues(hitLabel(hit)).Inc()
}

// RecordFollowNotification increments the follow-mode notification counter.
func RecordFollowNotification() {
	DefaultMetrics.FollowNotifications.Inc()
}

// RecordUpsert records upsert outcome counts for a store.
func RecordUpsert(store string, inserted, tagsFilled, unchanged int) {
	DefaultMetrics.TransfersUpserted.WithLabelValues(store, "inserted").Add(float64(inserted))
	DefaultMetrics.TransfersUpserted.WithLabelValues(store, "tags_filled").Add(float64(tagsFilled))
	DefaultMetrics.TransfersUpserted.WithLabelValues(store, "unchanged").Add(float64(unchanged))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordUnit records the completion of a per-token unit of work.
func RecordUnit(chain, status string) {
	DefaultMetrics.RunsTotal.WithLabelValues(chain, status).Inc()
}

// RecordRun records a completed run.
func RecordRun(mode string, durationSeconds float64, success bool) {
	DefaultMetrics.RunDuration.WithLabelValues(mode).Observe(durationSeconds)
	if success {
		DefaultMetrics.LastSuccessfulRun.SetToCurrentTime()
	}
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
