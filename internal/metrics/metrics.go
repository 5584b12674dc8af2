package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Commit conflict reasons
const (
	ReasonSnapshotStale    = "snapshot_stale"
	ReasonChainViolation   = "chain_violation"
	ReasonLockNotObtained  = "lock_not_obtained"
	ReasonReceiptExhausted = "receipt_exhausted"
	ReasonScholarshipStale = "scholarship_stale"
	ReasonUnknown          = "unknown"
)

// RecordPayment outcomes
const (
	OutcomeRecorded         = "recorded"
	OutcomeRejected         = "rejected"
	OutcomeRetriesExhausted = "retries_exhausted"
	OutcomeSettingsTimedOut = "settings_unavailable"
	OutcomeStorageFailure   = "storage_error"
)

// LedgerMetrics captures payment recording health. A nil *LedgerMetrics is valid
// and records nothing.
type LedgerMetrics struct {
	paymentsRecorded  prometheus.Counter
	amountRecorded    prometheus.Counter
	commitConflicts   *prometheus.CounterVec
	receiptCollisions prometheus.Counter
	recordDuration    *prometheus.HistogramVec
	chainViolations   prometheus.Gauge
}

var (
	ledgerMetricsOnce sync.Once
	ledgerMetrics     *LedgerMetrics
)

// Ledger returns the process-wide metrics registered on the default registerer
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerMetrics = NewLedgerMetrics(prometheus.DefaultRegisterer)
	})
	return ledgerMetrics
}

// NewLedgerMetrics builds and registers the ledger metrics on registerer
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &LedgerMetrics{
		paymentsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_payments_recorded_total",
			Help: "Payments committed to the student fee ledger.",
		}),
		amountRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_amount_recorded_total",
			Help: "Sum of committed payment amounts.",
		}),
		commitConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_commit_conflicts_total",
			Help: "Payment commits rejected and retried, by reason.",
		}, []string{"reason"}),
		receiptCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_receipt_collisions_total",
			Help: "Receipt numbers regenerated after a uniqueness collision.",
		}),
		recordDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_record_payment_duration_seconds",
			Help:    "End-to-end latency of RecordPayment, including retries.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),
		chainViolations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_chain_violations",
			Help: "Broken (student, tranche) chains found by the last integrity check.",
		}),
	}

	registerer.MustRegister(
		m.paymentsRecorded,
		m.amountRecorded,
		m.commitConflicts,
		m.receiptCollisions,
		m.recordDuration,
		m.chainViolations,
	)

	return m
}

// PaymentRecorded counts a committed payment
func (m *LedgerMetrics) PaymentRecorded(amount float64) {
	if m == nil {
		return
	}
	m.paymentsRecorded.Inc()
	m.amountRecorded.Add(amount)
}

// CommitConflict counts a retried commit
func (m *LedgerMetrics) CommitConflict(reason string) {
	if m == nil {
		return
	}
	m.commitConflicts.WithLabelValues(reason).Inc()
}

// ReceiptCollision counts a regenerated receipt number
func (m *LedgerMetrics) ReceiptCollision() {
	if m == nil {
		return
	}
	m.receiptCollisions.Inc()
}

// ObserveRecord records RecordPayment latency by outcome
func (m *LedgerMetrics) ObserveRecord(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.recordDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// SetChainViolations publishes the result of the integrity check
func (m *LedgerMetrics) SetChainViolations(n int) {
	if m == nil {
		return
	}
	m.chainViolations.Set(float64(n))
}

// Handler exposes the default registry for scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
