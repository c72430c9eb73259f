package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const cppayNamespace = "cppay"

// Metrics holds the instruments updated by the engine. A nil *Metrics is valid and records nothing,
// so components can be built without a registry in tests.
type Metrics struct {
	transactionsInitiated *prometheus.CounterVec
	stageTransitions      *prometheus.CounterVec
	sponsorshipDecisions  *prometheus.CounterVec
	relaySubmissions      *prometheus.CounterVec
	settlementSweeps      prometheus.Counter
	settlementPayouts     *prometheus.CounterVec
	sweepDuration         prometheus.Histogram
	uptime                prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		transactionsInitiated: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cppayNamespace,
				Name:      "transactions_initiated_total",
				Help:      "The number of transactions created, by detail kind",
			}, []string{"kind"}),

		stageTransitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cppayNamespace,
				Name:      "stage_transitions_total",
				Help:      "The number of progress entries appended, by stage",
			}, []string{"stage"}),

		sponsorshipDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cppayNamespace,
				Subsystem: "sponsorship",
				Name:      "decisions_total",
				Help:      "Gas sponsorship decisions by chain and outcome",
			}, []string{"chain", "sponsored"}),

		relaySubmissions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cppayNamespace,
				Subsystem: "relay",
				Name:      "submissions_total",
				Help:      "User operations sent to the bundler, by status",
			}, []string{"status"}),

		settlementSweeps: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: cppayNamespace,
				Subsystem: "settlement",
				Name:      "sweeps_total",
				Help:      "The number of settlement sweeps. If it isn't increasing, the processor is stuck",
			}),

		settlementPayouts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cppayNamespace,
				Subsystem: "settlement",
				Name:      "payouts_total",
				Help:      "Payout outcomes reported by the gateway",
			}, []string{"status"}),

		sweepDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cppayNamespace,
				Subsystem: "settlement",
				Name:      "sweep_duration_seconds",
				Help:      "Time spent in one settlement sweep",
				Buckets:   prometheus.DefBuckets,
			}),

		uptime: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: cppayNamespace,
				Name:      "uptime_milliseconds_total",
				Help:      "The elapse time in milliseconds since the service is booted",
			}),
	}
}

func (m *Metrics) IncTransactionsInitiated(kind string) {
	if m == nil {
		return
	}
	m.transactionsInitiated.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncStageTransition(stage string) {
	if m == nil {
		return
	}
	m.stageTransitions.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncSponsorshipDecision(chain string, sponsored bool) {
	if m == nil {
		return
	}
	label := "false"
	if sponsored {
		label = "true"
	}
	m.sponsorshipDecisions.WithLabelValues(chain, label).Inc()
}

func (m *Metrics) IncRelaySubmission(status string) {
	if m == nil {
		return
	}
	m.relaySubmissions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncSettlementSweep() {
	if m == nil {
		return
	}
	m.settlementSweeps.Inc()
}

func (m *Metrics) IncSettlementPayout(status string) {
	if m == nil {
		return
	}
	m.settlementPayouts.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSweepDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) AddUptime(total float64) {
	if m == nil {
		return
	}
	m.uptime.Add(total)
}
