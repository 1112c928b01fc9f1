package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reserve_service"

var (
	operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Ledger operations by name and result code (ok on success).",
	}, []string{"op", "result"})
	totalCapitalGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "total_capital",
		Help:      "Liquid capital held by the reserve.",
	})
	deployedCapitalGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "deployed_capital",
		Help:      "Capital locked in approved activities.",
	})
	retainedSurplusGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "retained_surplus",
		Help:      "Undistributed profit remainders kept by the reserve.",
	})
	activeParticipantsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "active_participants",
		Help:      "Number of active participants.",
	})
	distributionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "distribution",
		Name:      "runs_total",
		Help:      "Distribution passes by kind.",
	}, []string{"kind"})
	distributedAmountTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "distribution",
		Name:      "allocated_amount_total",
		Help:      "Amount allocated to participants by kind.",
	}, []string{"kind"})
	remainderAmountTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "distribution",
		Name:      "remainder_amount_total",
		Help:      "Amount left unallocated: rounding dust for profit, shortfall for loss.",
	}, []string{"kind"})
	changesetPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "persistence",
		Name:      "last_changeset_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent ledger changeset committed to Postgres.",
	})
	eventIndexedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "persistence",
		Name:      "last_event_indexed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent notification stored by the indexer.",
	})
)

func init() {
	prometheus.MustRegister(
		operationsTotal,
		totalCapitalGauge,
		deployedCapitalGauge,
		retainedSurplusGauge,
		activeParticipantsGauge,
		distributionsTotal,
		distributedAmountTotal,
		remainderAmountTotal,
		changesetPersistGauge,
		eventIndexedGauge,
	)
}

// RecordOperation counts one ledger operation outcome.
func RecordOperation(op, result string) {
	operationsTotal.WithLabelValues(op, result).Inc()
}

// SetLedgerGauges publishes the reserve's aggregate figures.
func SetLedgerGauges(total, deployed, retained uint64, participants int) {
	totalCapitalGauge.Set(float64(total))
	deployedCapitalGauge.Set(float64(deployed))
	retainedSurplusGauge.Set(float64(retained))
	activeParticipantsGauge.Set(float64(participants))
}

// RecordDistribution counts a distribution pass.
func RecordDistribution(kind string, allocated, remainder uint64) {
	distributionsTotal.WithLabelValues(kind).Inc()
	distributedAmountTotal.WithLabelValues(kind).Add(float64(allocated))
	remainderAmountTotal.WithLabelValues(kind).Add(float64(remainder))
}

// RecordChangesetPersisted updates the persistence watermark gauge.
func RecordChangesetPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	changesetPersistGauge.Set(float64(ts.Unix()))
}

// RecordEventIndexed updates the indexer watermark gauge.
func RecordEventIndexed(ts time.Time) {
	if ts.IsZero() {
		return
	}
	eventIndexedGauge.Set(float64(ts.Unix()))
}
