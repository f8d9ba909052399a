package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "truehub"

// Collector records client-side RPC and session metrics. All methods are
// safe on a nil receiver so components can run without metrics.
type Collector struct {
	calls       *prometheus.CounterVec
	errors      *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	pending     prometheus.Gauge
	recoveries  *prometheus.CounterVec
	reauth      prometheus.Counter
	transitions *prometheus.CounterVec
}

// New registers the collector on reg. A nil reg creates an unregistered
// collector, which is what tests use.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "JSON-RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "errors_total",
			Help:      "Failed JSON-RPC calls by error kind.",
		}, []string{"kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "latency_seconds",
			Help:      "Round-trip latency of JSON-RPC calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "pending",
			Help:      "Requests awaiting a correlated response.",
		}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "recoveries_total",
			Help:      "Session recovery sequences by outcome.",
		}, []string{"outcome"}),
		reauth: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reauth_attempts_total",
			Help:      "Re-authentication attempts issued during recovery.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state_transitions_total",
			Help:      "Connection state transitions by target state.",
		}, []string{"state"}),
	}
	if reg == nil {
		return c, nil
	}
	var err error
	if c.calls, err = register(reg, c.calls); err != nil {
		return nil, err
	}
	if c.errors, err = register(reg, c.errors); err != nil {
		return nil, err
	}
	if c.latency, err = register(reg, c.latency); err != nil {
		return nil, err
	}
	if c.pending, err = register(reg, c.pending); err != nil {
		return nil, err
	}
	if c.recoveries, err = register(reg, c.recoveries); err != nil {
		return nil, err
	}
	if c.reauth, err = register(reg, c.reauth); err != nil {
		return nil, err
	}
	if c.transitions, err = register(reg, c.transitions); err != nil {
		return nil, err
	}
	return c, nil
}

// register reuses an identical collector that is already registered, so two
// clients in one process share the same series.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return col, err
	}
	return col, nil
}

func (c *Collector) ObserveCall(method, outcome string, started time.Time) {
	if c == nil {
		return
	}
	c.calls.WithLabelValues(method, outcome).Inc()
	c.latency.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

func (c *Collector) RecordError(kind string) {
	if c == nil || kind == "" {
		return
	}
	c.errors.WithLabelValues(kind).Inc()
}

func (c *Collector) SetPending(n int) {
	if c == nil {
		return
	}
	c.pending.Set(float64(n))
}

func (c *Collector) RecordRecovery(outcome string) {
	if c == nil {
		return
	}
	c.recoveries.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordReauth() {
	if c == nil {
		return
	}
	c.reauth.Inc()
}

func (c *Collector) RecordTransition(state string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(state).Inc()
}
