package main

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors are process-wide; every application in the process
// (including test instances) reports into the same series.
var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sketch_commands_total",
			Help: "Total number of commands dispatched, by command name",
		},
		[]string{"command"},
	)

	commandErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sketch_command_errors_total",
			Help: "Total number of commands answered with an error, by command name",
		},
		[]string{"command"},
	)

	connectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sketch_connections_total",
		Help: "Total number of accepted client connections",
	})

	snapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sketch_snapshots_total",
			Help: "Total number of snapshot attempts, by result",
		},
		[]string{"result"},
	)
)

// Metrics holds the atomic counters reported by INFO.
type Metrics struct {
	TotalConnections atomic.Uint64
	TotalCommands    atomic.Uint64
	TotalErrors      atomic.Uint64
	Snapshots        atomic.Uint64
	LastSnapshotUnix atomic.Int64
}

// NewMetrics creates and returns a new Metrics struct.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) connectionAccepted() {
	m.TotalConnections.Add(1)
	connectionsTotal.Inc()
}

func (m *Metrics) commandDispatched(name string) {
	m.TotalCommands.Add(1)
	commandsTotal.WithLabelValues(name).Inc()
}

func (m *Metrics) commandFailed(name string) {
	m.TotalErrors.Add(1)
	commandErrorsTotal.WithLabelValues(name).Inc()
}

func (m *Metrics) snapshotTaken(unixSeconds int64, err error) {
	if err != nil {
		snapshotsTotal.WithLabelValues("error").Inc()
		return
	}
	m.Snapshots.Add(1)
	m.LastSnapshotUnix.Store(unixSeconds)
	snapshotsTotal.WithLabelValues("ok").Inc()
}

// serveMetrics exposes the Prometheus registry on addr until the listener
// fails. It is a no-op when addr is empty.
func (app *application) serveMetrics(addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	app.logger.Info("starting metrics server", "address", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error("metrics server failed", "error", err, "address", addr)
	}
}
