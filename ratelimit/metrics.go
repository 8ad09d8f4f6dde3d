/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-crptclient/internal/libinfo"
)

// MetricsCollector is an interface for collecting metrics of FixedWindowLimiter.
type MetricsCollector interface {
	// PermitAcquired is called when a permit is granted, waited is the time spent in Acquire.
	PermitAcquired(waited time.Duration)

	// WaitCanceled is called when Acquire gives up because its context is done.
	WaitCanceled(waited time.Duration)

	// Replenished is called on every replenishment tick with the number of restored permits.
	Replenished(restored int)

	// ReplenishPanicked is called when a replenishment tick panics.
	ReplenishPanicked()

	// AvailablePermits reports the current number of available permits.
	AvailablePermits(available int)
}

type disabledMetrics struct{}

func (disabledMetrics) PermitAcquired(time.Duration) {}
func (disabledMetrics) WaitCanceled(time.Duration)   {}
func (disabledMetrics) Replenished(int)              {}
func (disabledMetrics) ReplenishPanicked()           {}
func (disabledMetrics) AvailablePermits(int)         {}

// PrometheusMetricsCollector is a Prometheus metrics collector for FixedWindowLimiter.
type PrometheusMetricsCollector struct {
	PermitsAcquired   prometheus.Counter
	WaitsCanceled     prometheus.Counter
	Replenishments    prometheus.Counter
	RestoredPermits   prometheus.Counter
	ReplenishPanics   prometheus.Counter
	PermitsAvailable  prometheus.Gauge
	AcquireWaitLength prometheus.Histogram
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector.
// Limiter name is added as a constant "limiter" label so several limiters may share a registry.
func NewPrometheusMetricsCollector(namespace, limiterName string) *PrometheusMetricsCollector {
	constLabels := libinfo.AddPrometheusLibVersionLabel(prometheus.Labels{"limiter": limiterName})
	newCounter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	return &PrometheusMetricsCollector{
		PermitsAcquired: newCounter("rate_limiter_permits_acquired_total",
			"Number of permits granted by the rate limiter."),
		WaitsCanceled: newCounter("rate_limiter_acquire_wait_canceled_total",
			"Number of permit waits canceled before a permit was granted."),
		Replenishments: newCounter("rate_limiter_replenishments_total",
			"Number of replenishment ticks."),
		RestoredPermits: newCounter("rate_limiter_restored_permits_total",
			"Number of permits restored by replenishment ticks."),
		ReplenishPanics: newCounter("rate_limiter_replenish_panics_total",
			"Number of replenishment ticks finished with panic."),
		PermitsAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "rate_limiter_permits_available",
			Help:        "Number of currently available permits.",
			ConstLabels: constLabels,
		}),
		AcquireWaitLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "rate_limiter_acquire_wait_duration_seconds",
			Help:        "A histogram of time spent waiting for a permit.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

func (c *PrometheusMetricsCollector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.PermitsAcquired, c.WaitsCanceled, c.Replenishments, c.RestoredPermits,
		c.ReplenishPanics, c.PermitsAvailable, c.AcquireWaitLength,
	}
}

// MustRegister registers the Prometheus metrics.
func (c *PrometheusMetricsCollector) MustRegister() {
	prometheus.MustRegister(c.collectors()...)
}

// Unregister the Prometheus metrics.
func (c *PrometheusMetricsCollector) Unregister() {
	for _, collector := range c.collectors() {
		prometheus.Unregister(collector)
	}
}

// PermitAcquired implements MetricsCollector.
func (c *PrometheusMetricsCollector) PermitAcquired(waited time.Duration) {
	c.PermitsAcquired.Inc()
	c.AcquireWaitLength.Observe(waited.Seconds())
}

// WaitCanceled implements MetricsCollector.
func (c *PrometheusMetricsCollector) WaitCanceled(waited time.Duration) {
	c.WaitsCanceled.Inc()
	c.AcquireWaitLength.Observe(waited.Seconds())
}

// Replenished implements MetricsCollector.
func (c *PrometheusMetricsCollector) Replenished(restored int) {
	c.Replenishments.Inc()
	c.RestoredPermits.Add(float64(restored))
}

// ReplenishPanicked implements MetricsCollector.
func (c *PrometheusMetricsCollector) ReplenishPanicked() {
	c.ReplenishPanics.Inc()
}

// AvailablePermits implements MetricsCollector.
func (c *PrometheusMetricsCollector) AvailablePermits(available int) {
	c.PermitsAvailable.Set(float64(available))
}
