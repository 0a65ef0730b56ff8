package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidekick",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service spawns.",
		}, []string{"service"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidekick",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of confirmed service terminations (graceful or kill).",
		}, []string{"service"},
	)
	serviceCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidekick",
			Subsystem: "service",
			Name:      "crashes_total",
			Help:      "Number of abnormal service exits observed outside a requested stop.",
		}, []string{"service"},
	)
	healthTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidekick",
			Subsystem: "service",
			Name:      "health_transitions_total",
			Help:      "Number of healthy/unhealthy flips per service.",
		}, []string{"service", "to"},
	)
	serviceHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sidekick",
			Subsystem: "service",
			Name:      "healthy",
			Help:      "Last observed health per service (1 healthy, 0 unhealthy).",
		}, []string{"service"},
	)
	startupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sidekick",
			Subsystem: "service",
			Name:      "time_to_healthy_seconds",
			Help:      "Wall time from spawn to first successful health probe.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStops, serviceCrashes, healthTransitions, serviceHealthy, startupDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(service string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(service).Inc()
	}
}

func IncStop(service string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(service).Inc()
	}
}

func IncCrash(service string) {
	if regOK.Load() {
		serviceCrashes.WithLabelValues(service).Inc()
	}
}

func RecordHealthTransition(service string, healthy bool) {
	if !regOK.Load() {
		return
	}
	to := "unhealthy"
	if healthy {
		to = "healthy"
	}
	healthTransitions.WithLabelValues(service, to).Inc()
}

func SetHealthy(service string, healthy bool) {
	if !regOK.Load() {
		return
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	serviceHealthy.WithLabelValues(service).Set(v)
}

func ObserveTimeToHealthy(service string, seconds float64) {
	if regOK.Load() {
		startupDuration.WithLabelValues(service).Observe(seconds)
	}
}
