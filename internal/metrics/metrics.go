package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of service starts performed by the guardian.",
		}, []string{"name"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of restart cycles driven by failed health checks.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"name"},
	)
	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Health probes by verdict.",
		}, []string{"name", "verdict"},
	)
	serviceUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "guardian",
			Subsystem: "service",
			Name:      "up",
			Help:      "1 when the last health verdict was healthy, 0 otherwise.",
		}, []string{"name"},
	)
	consecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "guardian",
			Subsystem: "health",
			Name:      "consecutive_failures",
			Help:      "Current consecutive failed cycles per service.",
		}, []string{"name"},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "guardian",
			Subsystem: "monitor",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one full monitoring cycle.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all collectors with r. Safe to call multiple times;
// calls after the first success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serviceStarts, serviceRestarts, serviceStops,
		healthChecks, serviceUp, consecutiveFailures, cycleDuration,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart(name string)   { serviceStarts.WithLabelValues(name).Inc() }
func IncRestart(name string) { serviceRestarts.WithLabelValues(name).Inc() }
func IncStop(name string)    { serviceStops.WithLabelValues(name).Inc() }

func ObserveHealth(name, verdict string, healthy bool, failures int) {
	healthChecks.WithLabelValues(name, verdict).Inc()
	v := 0.0
	if healthy {
		v = 1.0
	}
	serviceUp.WithLabelValues(name).Set(v)
	consecutiveFailures.WithLabelValues(name).Set(float64(failures))
}

func ObserveCycle(seconds float64) { cycleDuration.Observe(seconds) }
