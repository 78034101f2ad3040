package engine

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for request lifecycle activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requestsCreated  *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	ledgerRecords    *prometheus.CounterVec
	errors           *prometheus.CounterVec
	issuanceDuration prometheus.Histogram
}

// MustNewMetrics registers the engine collectors with reg. Collectors that
// are already registered (a second engine in the same process) are reused.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requestsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reward_engine",
			Subsystem: "requests",
			Name:      "created_total",
			Help:      "Reward requests created, by verification type.",
		}, []string{"verification"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reward_engine",
			Subsystem: "requests",
			Name:      "decisions_total",
			Help:      "Reward request decisions applied, by decision.",
		}, []string{"decision"}),
		ledgerRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reward_engine",
			Subsystem: "ledger",
			Name:      "records_total",
			Help:      "Ledger record attempts, by outcome (issued, duplicate, failed).",
		}, []string{"outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reward_engine",
			Name:      "errors_total",
			Help:      "Errors returned by lifecycle operations, by operation and kind.",
		}, []string{"op", "kind"}),
		issuanceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reward_engine",
			Subsystem: "ledger",
			Name:      "issuance_duration_seconds",
			Help:      "Time spent issuing all rewards for one request.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.requestsCreated = registerCounterVec(reg, m.requestsCreated)
	m.decisions = registerCounterVec(reg, m.decisions)
	m.ledgerRecords = registerCounterVec(reg, m.ledgerRecords)
	m.errors = registerCounterVec(reg, m.errors)
	if err := reg.Register(m.issuanceDuration); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			panic(err)
		}
		m.issuanceDuration = already.ExistingCollector.(prometheus.Histogram)
	}
	return m
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector.(*prometheus.CounterVec)
		}
		panic(err)
	}
	return c
}

func (m *Metrics) incCreated(v VerificationType) {
	if m == nil {
		return
	}
	m.requestsCreated.WithLabelValues(string(v)).Inc()
}

func (m *Metrics) incDecision(d RequestStatus) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(d)).Inc()
}

func (m *Metrics) incLedger(outcome string) {
	if m == nil {
		return
	}
	m.ledgerRecords.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeIssuance(d time.Duration) {
	if m == nil {
		return
	}
	m.issuanceDuration.Observe(d.Seconds())
}

// observeError counts err under op by kind. Nil errors are ignored.
func (m *Metrics) observeError(op string, err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(op, kindLabel(err)).Inc()
}

func kindLabel(err error) string {
	switch KindOf(err) {
	case ErrInvalidArgument:
		return "invalid_argument"
	case ErrNotFound:
		return "not_found"
	case ErrConflict:
		return "conflict"
	case ErrFailedPrecondition:
		return "failed_precondition"
	case ErrTransient:
		return "transient"
	}
	return "unknown"
}
