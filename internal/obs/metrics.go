// Package obs exposes the service's own Prometheus metrics.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TestsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadpilot_tests_started_total",
		Help: "Tests accepted by the control API.",
	}, []string{"backend"})

	TestsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loadpilot_tests_active",
		Help: "Tests currently running.",
	})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadpilot_requests_total",
		Help: "Load requests issued, by outcome.",
	}, []string{"outcome"})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loadpilot_requests_in_flight",
		Help: "Load requests admitted by a semaphore and not yet recorded.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loadpilot_bus_events_dropped_total",
		Help: "Progress events evicted from full subscriber outboxes.",
	})
)
