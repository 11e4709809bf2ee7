// Package metrics exposes prometheus collectors for transaction invocations
// and the local HTTP API.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Collectors struct {
	TxSubmitted  *prometheus.CounterVec
	TxOutcome    *prometheus.CounterVec
	TxDuration   *prometheus.HistogramVec
	ReadFailures *prometheus.CounterVec
	HTTPRequests *prometheus.CounterVec
	SessionEpoch prometheus.Gauge
}

var (
	collectorsOnce sync.Once
	collectors     *Collectors
)

// Default returns the process-wide collectors, registered once.
func Default() *Collectors {
	collectorsOnce.Do(func() {
		collectors = New()
		collectors.MustRegister(prometheus.DefaultRegisterer)
	})
	return collectors
}

// New builds unregistered collectors.
func New() *Collectors {
	return &Collectors{
		TxSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collateral_client",
			Subsystem: "tx",
			Name:      "submitted_total",
			Help:      "Transactions broadcast, by contract method.",
		}, []string{"method"}),
		TxOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collateral_client",
			Subsystem: "tx",
			Name:      "outcome_total",
			Help:      "Finished transaction invocations, by method and outcome.",
		}, []string{"method", "outcome"}),
		TxDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "collateral_client",
			Subsystem: "tx",
			Name:      "confirmation_seconds",
			Help:      "Time from broadcast to receipt.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"method"}),
		ReadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collateral_client",
			Subsystem: "reader",
			Name:      "failures_total",
			Help:      "Failed position/balance reloads, by reader.",
		}, []string{"reader"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collateral_client",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Local API requests, by route and status.",
		}, []string{"route", "status"}),
		SessionEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "collateral_client",
			Subsystem: "session",
			Name:      "epoch",
			Help:      "Current wallet session epoch.",
		}),
	}
}

func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.TxSubmitted, c.TxOutcome, c.TxDuration, c.ReadFailures, c.HTTPRequests, c.SessionEpoch)
}

func (c *Collectors) Submitted(method string) {
	if c == nil {
		return
	}
	c.TxSubmitted.WithLabelValues(method).Inc()
}

func (c *Collectors) Outcome(method, outcome string, since time.Time) {
	if c == nil {
		return
	}
	c.TxOutcome.WithLabelValues(method, outcome).Inc()
	if !since.IsZero() {
		c.TxDuration.WithLabelValues(method).Observe(time.Since(since).Seconds())
	}
}

func (c *Collectors) ReadFailed(reader string) {
	if c == nil {
		return
	}
	c.ReadFailures.WithLabelValues(reader).Inc()
}

func (c *Collectors) Request(route, status string) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(route, status).Inc()
}

func (c *Collectors) Epoch(epoch uint64) {
	if c == nil {
		return
	}
	c.SessionEpoch.Set(float64(epoch))
}
