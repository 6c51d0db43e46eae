// Package metrics holds the prometheus collectors of the ordering services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "foodorder"

// Metrics groups the business counters shared by both binaries. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Checkouts        *prometheus.CounterVec
	CheckoutDuration prometheus.Histogram
	PaymentEvents    *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	Listeners        prometheus.Gauge
	Reconciled       *prometheus.CounterVec
	RateLimited      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "total",
			Help:      "Checkouts by outcome.",
		}, []string{"outcome"}),
		CheckoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "duration_seconds",
			Help:      "Checkout saga latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		PaymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment_events",
			Name:      "total",
			Help:      "Consumed payment events by outcome.",
		}, []string{"outcome"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Notification deliveries by result.",
		}, []string{"result"}),
		Listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "listeners",
			Help:      "Connected branch listeners.",
		}),
		Reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "orders_total",
			Help:      "Stale pending orders handled by the sweep, by action.",
		}, []string{"action"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter, by method.",
		}, []string{"method"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.Checkouts,
		m.CheckoutDuration,
		m.PaymentEvents,
		m.Notifications,
		m.Listeners,
		m.Reconciled,
		m.RateLimited,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCheckout(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(outcome).Inc()
	m.CheckoutDuration.Observe(seconds)
}

func (m *Metrics) PaymentEvent(outcome string) {
	if m == nil {
		return
	}
	m.PaymentEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) ListenerDelta(d float64) {
	if m == nil {
		return
	}
	m.Listeners.Add(d)
}

func (m *Metrics) Reconcile(action string) {
	if m == nil {
		return
	}
	m.Reconciled.WithLabelValues(action).Inc()
}

// RateLimit counts a request rejected with 429.
func (m *Metrics) RateLimit(method string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(method).Inc()
}
