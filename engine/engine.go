package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Options tunes New. Zero values fall back to package defaults.
type Options struct {
	Clock            Clock
	Logger           logrus.FieldLogger
	Registerer       prometheus.Registerer // nil disables metrics
	ValidatorTimeout time.Duration
	LedgerTimeout    time.Duration
	// EventCache enables the read-through event cache when MaxSize > 0.
	EventCache EventCacheConfig
}

// Engine bundles the catalogs, the ledger and the request lifecycle over one
// Store.
type Engine struct {
	Events   *EventCatalog
	Rewards  *RewardCatalog
	Ledger   *IssuanceLedger
	Requests *RequestService
	Metrics  *Metrics
}

// New wires every component on top of store. Condition strategies come from
// validators, typically conditions.DefaultRegistry().
func New(store Store, validators *Registry, opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	var metrics *Metrics
	if opts.Registerer != nil {
		metrics = MustNewMetrics(opts.Registerer)
	}

	var eventStore EventStore = store
	if opts.EventCache.MaxSize > 0 {
		eventStore = NewCachedEventStore(store, opts.EventCache)
	}

	events := NewEventCatalog(eventStore, clock)
	rewards := NewRewardCatalog(store, events, clock)
	ledger := NewIssuanceLedger(store, clock, metrics, opts.LedgerTimeout)
	requests := &RequestService{
		Requests:         store,
		Events:           events,
		Rewards:          rewards,
		Ledger:           ledger,
		Validators:       validators,
		Audit:            store,
		Clock:            clock,
		Metrics:          metrics,
		Logger:           logger.WithField("component", "requests"),
		ValidatorTimeout: opts.ValidatorTimeout,
	}
	return &Engine{
		Events:   events,
		Rewards:  rewards,
		Ledger:   ledger,
		Requests: requests,
		Metrics:  metrics,
	}
}
