// Package metric collects per-stage pipeline counters.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "linepipe"

// Outcome of a single processed item.
type Outcome string

const (
	// Forwarded means transform produced a line and it was handed to the
	// next stage, or there is no next stage.
	Forwarded Outcome = "forwarded"
	// Consumed means transform produced no output.
	Consumed Outcome = "consumed"
	// Panicked means transform panicked and item was dropped.
	Panicked Outcome = "panicked"
	// ForwardFailed means next stage rejected the output.
	ForwardFailed Outcome = "forward_failed"
)

// Metrics holds all pipeline collectors. Each instance has its own
// registry, so multiple pipelines in one process don't collide.
type Metrics struct {
	Registry *prometheus.Registry

	// Items counts processed items per stage and outcome.
	Items *prometheus.CounterVec
	// ItemDuration observes time from pop to forward, including time
	// spent blocked on a full downstream queue.
	ItemDuration *prometheus.HistogramVec
	// EnqueueWait observes time spent handing an item to the next stage,
	// i.e. blocked on a full downstream queue.
	EnqueueWait *prometheus.HistogramVec
	// StagesRunning is a number of live stage workers.
	StagesRunning prometheus.Gauge
	// Markers counts end-of-stream markers observed per stage.
	Markers *prometheus.CounterVec
}

// New creates a new metrics collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Items: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Total number of items processed by stage",
			},
			[]string{"stage", "outcome"},
		),
		ItemDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "item_duration_seconds",
				Help:      "Item processing duration in seconds",
				Buckets:   []float64{.00001, .0001, .001, .01, .1, 1, 10},
			},
			[]string{"stage"},
		),
		EnqueueWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "enqueue_wait_seconds",
				Help:      "Time spent forwarding an item to the next stage in seconds",
				Buckets:   []float64{.00001, .0001, .001, .01, .1, 1, 10},
			},
			[]string{"stage"},
		),
		StagesRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stages_running",
				Help:      "Number of running stage workers",
			},
		),
		Markers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "markers_total",
				Help:      "Total number of end-of-stream markers observed by stage",
			},
			[]string{"stage"},
		),
	}
}

// Handler serves collected metrics in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Meter returns a meter bound to a single stage. Meter on nil Metrics
// is valid and measures nothing.
func (m *Metrics) Meter(stage string) *Meter {
	if m == nil {
		return nil
	}
	return &Meter{
		stage:   stage,
		metrics: m,
		latency: m.ItemDuration.WithLabelValues(stage),
		wait:    m.EnqueueWait.WithLabelValues(stage),
	}
}

// Meter captures metrics of one stage. All methods are safe to call on
// nil receiver.
type Meter struct {
	stage   string
	metrics *Metrics
	latency prometheus.Observer
	wait    prometheus.Observer
}

// MeasureFunc completes the measurement of a single item.
type MeasureFunc func(Outcome)

// Start marks the stage worker as running. Returned func marks it as
// stopped.
func (m *Meter) Start() func() {
	if m == nil {
		return func() {}
	}
	m.metrics.StagesRunning.Inc()
	return m.metrics.StagesRunning.Dec
}

// Measure starts measuring an item.
func (m *Meter) Measure() MeasureFunc {
	if m == nil {
		return func(Outcome) {}
	}
	calledAt := time.Now()
	return func(o Outcome) {
		m.latency.Observe(time.Since(calledAt).Seconds())
		m.metrics.Items.WithLabelValues(m.stage, string(o)).Inc()
	}
}

// Marker counts an observed end-of-stream marker.
func (m *Meter) Marker() {
	if m == nil {
		return
	}
	m.metrics.Markers.WithLabelValues(m.stage).Inc()
}

// Wait starts measuring a single forward to the next stage. Returned
// func completes the measurement.
func (m *Meter) Wait() func() {
	if m == nil {
		return func() {}
	}
	calledAt := time.Now()
	return func() {
		m.wait.Observe(time.Since(calledAt).Seconds())
	}
}
