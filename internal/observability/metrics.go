// Package observability exposes Prometheus metrics for the sync core.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	healthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shuttlx",
		Subsystem: "sync",
		Name:      "connectivity_health_score",
		Help:      "Connectivity health score in [0,1] derived from channel state, failures, and staleness.",
	})
	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shuttlx",
		Subsystem: "sync",
		Name:      "pending_outbound_sessions",
		Help:      "Number of sessions queued for delivery to the peer device.",
	})
	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shuttlx",
		Subsystem: "sync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful sync exchange.",
	})
	syncCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shuttlx",
		Subsystem: "sync",
		Name:      "attempts_total",
		Help:      "Sync attempts by result.",
	}, []string{"result"})
	duplicateCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shuttlx",
		Subsystem: "sync",
		Name:      "duplicate_sessions_total",
		Help:      "Session pushes dropped because the ID was already in the local history.",
	})
	decodeErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shuttlx",
		Subsystem: "sync",
		Name:      "envelope_decode_errors_total",
		Help:      "Peer messages ignored because the envelope or payload was malformed.",
	})
	storeWriteFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shuttlx",
		Subsystem: "store",
		Name:      "write_failures_total",
		Help:      "Document write failures by target location.",
	}, []string{"target"})
)

func init() {
	prometheus.MustRegister(
		healthGauge,
		queueDepthGauge,
		lastSyncGauge,
		syncCounter,
		duplicateCounter,
		decodeErrorCounter,
		storeWriteFailureCounter,
	)
}

// RecordHealthScore updates the health gauge.
func RecordHealthScore(score float64) {
	healthGauge.Set(score)
}

// RecordQueueDepth updates the pending-session gauge.
func RecordQueueDepth(depth int) {
	queueDepthGauge.Set(float64(depth))
}

// RecordSyncSuccess counts a successful sync exchange and moves the watermark.
func RecordSyncSuccess(at time.Time) {
	syncCounter.WithLabelValues("success").Inc()
	if !at.IsZero() {
		lastSyncGauge.Set(float64(at.Unix()))
	}
}

// RecordSyncFailure counts a failed sync attempt.
func RecordSyncFailure() {
	syncCounter.WithLabelValues("failure").Inc()
}

// RecordDuplicateSession counts a dedup drop.
func RecordDuplicateSession() {
	duplicateCounter.Inc()
}

// RecordDecodeError counts an ignored malformed peer message.
func RecordDecodeError() {
	decodeErrorCounter.Inc()
}

// RecordStoreWriteFailure counts a failed document write for one target.
func RecordStoreWriteFailure(target string) {
	storeWriteFailureCounter.WithLabelValues(target).Inc()
}
