package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	TransfersTotal           *prometheus.CounterVec
	TransferRollbacks        prometheus.Counter
	FacePaySessionsTotal     *prometheus.CounterVec
	FaceSimilarity           prometheus.Histogram
	BlocksSealed             prometheus.Counter
	BlockAppendDurationMs    prometheus.Histogram
	LedgerValidationFailures prometheus.Counter
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TransfersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facepay_transfers_total",
			Help: "Transfers attempted, by channel and outcome",
		}, []string{"channel", "outcome"}),
		TransferRollbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "facepay_transfer_rollbacks_total",
			Help: "Debits reversed because a later transfer step failed",
		}),
		FacePaySessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facepay_sessions_total",
			Help: "FacePay sessions that reached a terminal state, by state",
		}, []string{"state"}),
		FaceSimilarity: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "facepay_face_similarity",
			Help:    "Similarity scores produced by face verification",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		}),
		BlocksSealed: factory.NewCounter(prometheus.CounterOpts{
			Name: "facepay_ledger_blocks_sealed_total",
			Help: "Blocks appended to the ledger",
		}),
		BlockAppendDurationMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "facepay_ledger_append_duration_ms",
			Help:    "Latency of sealing and persisting a block in milliseconds",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		}),
		LedgerValidationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "facepay_ledger_validation_failures_total",
			Help: "Blocks reported invalid by ledger validation",
		}),
	}
}

func (m *Metrics) ObserveTransfer(channel, outcome string) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) IncrementRollbacks() {
	if m == nil {
		return
	}
	m.TransferRollbacks.Inc()
}

func (m *Metrics) ObserveSessionTerminal(state string) {
	if m == nil {
		return
	}
	m.FacePaySessionsTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveSimilarity(score float64) {
	if m == nil {
		return
	}
	m.FaceSimilarity.Observe(score)
}

func (m *Metrics) ObserveBlockSealed(start time.Time) {
	if m == nil {
		return
	}
	m.BlocksSealed.Inc()
	m.BlockAppendDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}

func (m *Metrics) AddValidationFailures(n int) {
	if m == nil || n == 0 {
		return
	}
	m.LedgerValidationFailures.Add(float64(n))
}
