// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the claimer. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Stage metrics
	StageOutcomes *prometheus.CounterVec
	TxSubmitted   *prometheus.CounterVec
	TxReverted    *prometheus.CounterVec
	BalancePolls  *prometheus.CounterVec

	// Venue metrics
	VenueQuotes     *prometheus.CounterVec
	VenueSelections *prometheus.CounterVec

	// RPC metrics
	RPCCallLatency    *prometheus.HistogramVec
	EndpointFailovers *prometheus.CounterVec

	// Batch metrics
	WalletsProcessed    *prometheus.CounterVec
	BatchRunsTotal      *prometheus.CounterVec
	BatchDuration       prometheus.Histogram
	LastSuccessfulBatch prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "stark_claimer"
	}
	f := promauto.With(reg)

	return &Metrics{
		StageOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "outcomes_total",
			Help:      "Stage status transitions by stage and resulting status",
		}, []string{"stage", "status"}),
		TxSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "tx_submitted_total",
			Help:      "Transactions submitted by stage",
		}, []string{"stage"}),
		TxReverted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "tx_reverted_total",
			Help:      "Transactions reverted by stage",
		}, []string{"stage"}),
		BalancePolls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "balance_polls_total",
			Help:      "Balance settlement polls by token",
		}, []string{"token"}),

		VenueQuotes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "quotes_total",
			Help:      "Venue quote attempts by venue and result",
		}, []string{"venue", "result"}),
		VenueSelections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "selections_total",
			Help:      "Venues selected by the waterfall",
		}, []string{"venue"}),

		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Starknet RPC call latency by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
		EndpointFailovers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "endpoint_failovers_total",
			Help:      "Operations moved off an endpoint after failure",
		}, []string{"endpoint"}),

		WalletsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "wallets_processed_total",
			Help:      "Wallets processed by final status",
		}, []string{"status"}),
		BatchRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "runs_total",
			Help:      "Batch runs by result",
		}, []string{"result"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Batch run duration",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		}),
		LastSuccessfulBatch: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful batch",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordStage records a stage reaching status.
func (m *Metrics) RecordStage(stage, status string) {
	if m == nil {
		return
	}
	m.StageOutcomes.WithLabelValues(stage, status).Inc()
}

// RecordSubmission records a submitted transaction.
func (m *Metrics) RecordSubmission(stage string) {
	if m == nil {
		return
	}
	m.TxSubmitted.WithLabelValues(stage).Inc()
}

// RecordRevert records a reverted transaction.
func (m *Metrics) RecordRevert(stage string) {
	if m == nil {
		return
	}
	m.TxReverted.WithLabelValues(stage).Inc()
}

// RecordBalancePoll records one balance read of the settlement poller.
func (m *Metrics) RecordBalancePoll(token string) {
	if m == nil {
		return
	}
	m.BalancePolls.WithLabelValues(token).Inc()
}

// RecordVenueQuote records a venue quote attempt ("ok", "below_threshold", "error").
func (m *Metrics) RecordVenueQuote(venue, result string) {
	if m == nil {
		return
	}
	m.VenueQuotes.WithLabelValues(venue, result).Inc()
}

// RecordVenueSelection records the venue chosen by the waterfall.
func (m *Metrics) RecordVenueSelection(venue string) {
	if m == nil {
		return
	}
	m.VenueSelections.WithLabelValues(venue).Inc()
}

// RecordRPCLatency records RPC call latency.
func (m *Metrics) RecordRPCLatency(method string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RPCCallLatency.WithLabelValues(method, status).Observe(seconds)
}

// RecordFailover records an endpoint failover.
func (m *Metrics) RecordFailover(endpoint string) {
	if m == nil {
		return
	}
	m.EndpointFailovers.WithLabelValues(endpoint).Inc()
}

// RecordWallet records a processed wallet.
func (m *Metrics) RecordWallet(status string) {
	if m == nil {
		return
	}
	m.WalletsProcessed.WithLabelValues(status).Inc()
}

// RecordBatchRun records a batch run.
func (m *Metrics) RecordBatchRun(result string, durationSeconds float64, finishedUnix float64) {
	if m == nil {
		return
	}
	m.BatchRunsTotal.WithLabelValues(result).Inc()
	m.BatchDuration.Observe(durationSeconds)
	if result == "success" {
		m.LastSuccessfulBatch.Set(finishedUnix)
	}
}
