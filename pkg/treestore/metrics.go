package treestore

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors updated by an instrumented backend.
type Metrics struct {
	Calls    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the backend collectors and registers them with reg.
// A nil reg leaves them unregistered. Collectors already registered under
// the same names are reused, so several clients can share one registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treestore",
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Store primitive calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "treestore",
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Latency of store primitive calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg == nil {
		return m
	}
	m.Calls = register(reg, m.Calls)
	m.Duration = register(reg, m.Duration)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Instrument wraps b so every primitive is counted and timed in reg.
func Instrument(b Backend, reg prometheus.Registerer) Backend {
	return &instrumented{next: b, metrics: NewMetrics(reg)}
}

// InstrumentWith wraps b using existing collectors.
func InstrumentWith(b Backend, m *Metrics) Backend {
	return &instrumented{next: b, metrics: m}
}

type instrumented struct {
	next    Backend
	metrics *Metrics
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	i.metrics.Calls.WithLabelValues(op, outcome).Inc()
	i.metrics.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Get(ctx context.Context, path string) ([]byte, error) {
	start := time.Now()
	data, err := i.next.Get(ctx, path)
	i.observe("get", start, err)
	return data, err
}

func (i *instrumented) Put(ctx context.Context, path string, raw []byte) error {
	start := time.Now()
	err := i.next.Put(ctx, path, raw)
	i.observe("put", start, err)
	return err
}

func (i *instrumented) Post(ctx context.Context, path string, raw []byte) (string, error) {
	start := time.Now()
	key, err := i.next.Post(ctx, path, raw)
	i.observe("post", start, err)
	return key, err
}

func (i *instrumented) Delete(ctx context.Context, path string) error {
	start := time.Now()
	err := i.next.Delete(ctx, path)
	i.observe("delete", start, err)
	return err
}
