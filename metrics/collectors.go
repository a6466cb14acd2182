package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// All collector methods accept a nil receiver so components can run without
// metrics.

// SessionMetrics tracks the connection state machine.
type SessionMetrics struct {
	status *prometheus.GaugeVec
	events *prometheus.CounterVec
}

func NewSessionMetrics(reg prometheus.Registerer, namespace string) *SessionMetrics {
	m := &SessionMetrics{
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "status",
			Help:      "1 for the current session status, 0 otherwise.",
		}, []string{"status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "provider_events_total",
			Help:      "Wallet notifications handled, by event name.",
		}, []string{"event"}),
	}
	reg.MustRegister(m.status, m.events)
	return m
}

// SetStatus marks status as the only active one.
func (m *SessionMetrics) SetStatus(status string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.status.WithLabelValues(s).Set(0)
	}
	m.status.WithLabelValues(status).Set(1)
}

func (m *SessionMetrics) Event(name string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Inc()
}

// SyncMetrics tracks registry refreshes.
type SyncMetrics struct {
	refreshes *prometheus.CounterVec
	duration  prometheus.Histogram
	records   prometheus.Gauge
	rejected  prometheus.Gauge
	joined    prometheus.Counter
}

func NewSyncMetrics(reg prometheus.Registerer, namespace string) *SyncMetrics {
	m := &SyncMetrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "refreshes_total",
			Help:      "Registry reads performed, by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of registry reads.",
			Buckets:   prometheus.DefBuckets,
		}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "snapshot_records",
			Help:      "Records in the cached snapshot.",
		}),
		rejected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "snapshot_rejected_records",
			Help:      "Records dropped from the cached snapshot by validation.",
		}),
		joined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "joined_refreshes_total",
			Help:      "Refresh requests served by an in-flight read.",
		}),
	}
	reg.MustRegister(m.refreshes, m.duration, m.records, m.rejected, m.joined)
	return m
}

func (m *SyncMetrics) Refreshed(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *SyncMetrics) Snapshot(records, rejected int) {
	if m == nil {
		return
	}
	m.records.Set(float64(records))
	m.rejected.Set(float64(rejected))
}

func (m *SyncMetrics) Joined() {
	if m == nil {
		return
	}
	m.joined.Inc()
}

// TxMetrics tracks submitted transactions.
type TxMetrics struct {
	submitted    *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	pending      prometheus.Gauge
	confirmation prometheus.Histogram
}

func NewTxMetrics(reg prometheus.Registerer, namespace string) *TxMetrics {
	m := &TxMetrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "submitted_total",
			Help:      "Transactions accepted by the wallet, by method.",
		}, []string{"method"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "outcomes_total",
			Help:      "Terminal transaction states, by method and state.",
		}, []string{"method", "state"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "pending",
			Help:      "Transactions waiting for a receipt.",
		}),
		confirmation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "confirmation_seconds",
			Help:      "Time from submission to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	reg.MustRegister(m.submitted, m.outcomes, m.pending, m.confirmation)
	return m
}

func (m *TxMetrics) Submitted(method string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(method).Inc()
	m.pending.Inc()
}

func (m *TxMetrics) Finished(method, state string, took time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(method, state).Inc()
	m.pending.Dec()
	m.confirmation.Observe(took.Seconds())
}
