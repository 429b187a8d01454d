// Package metrics exposes optional Prometheus instrumentation around
// the keylock core. This is ambient process wiring: the core itself
// knows nothing about metrics and exposes no introspection API of its
// own.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtaci/keymutexd/internal/keylock"
)

// Metrics holds the gauges and counters this package registers.
type Metrics struct {
	registry *prometheus.Registry

	activeSlots prometheus.Gauge
	owners      prometheus.Gauge
	waiters     prometheus.Gauge
	events      *prometheus.CounterVec
}

// New registers a fresh set of collectors in their own registry, so that
// running without a metrics address never touches the default
// (process-global) Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		activeSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keymutexd",
			Name:      "active_slots",
			Help:      "Number of non-free connection table slots.",
		}),
		owners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keymutexd",
			Name:      "owner_slots",
			Help:      "Number of slots currently in the OWNER state.",
		}),
		waiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keymutexd",
			Name:      "waiter_slots",
			Help:      "Number of slots currently in the WAITER state.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keymutexd",
			Name:      "events_total",
			Help:      "Count of state-visible events, by event tag.",
		}, []string{"event"}),
	}
	reg.MustRegister(m.activeSlots, m.owners, m.waiters, m.events)
	return m
}

// Observe records a point-in-time occupancy snapshot.
func (m *Metrics) Observe(s keylock.Snapshot) {
	m.activeSlots.Set(float64(s.Active))
	m.owners.Set(float64(s.Owners))
	m.waiters.Set(float64(s.Waiters))
}

// WrapSink decorates inner so every event first increments the per-tag
// counter and is then passed to inner unchanged.
func (m *Metrics) WrapSink(inner keylock.Sink) keylock.Sink {
	return &countingSink{inner: inner, events: m.events}
}

type countingSink struct {
	inner  keylock.Sink
	events *prometheus.CounterVec
}

func (c *countingSink) Event(connID int, event string, key *keylock.Key) {
	c.events.WithLabelValues(event).Inc()
	c.inner.Event(connID, event, key)
}

// Serve starts an HTTP server exposing /metrics on addr and blocks
// until ctx is cancelled. It runs as an optional sidecar, separate
// from the domain logic it observes.
func Serve(ctx context.Context, addr string, m *Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
