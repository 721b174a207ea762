package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksTotal     *prometheus.CounterVec
	staleTotal     *prometheus.CounterVec
	pollErrors     *prometheus.CounterVec
	activeProvider *prometheus.GaugeVec
	triggersTotal  *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec

	mu      sync.Mutex
	current string
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// New returns the process-wide recorder registered on the default Prometheus registry.
func New() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = NewWithRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRecorder
}

// NewWithRegistry creates a recorder on a custom registerer (useful for tests).
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantalert_ticks_total",
				Help: "Ticks accepted into the pipeline",
			},
			[]string{"source", "symbol"},
		),
		staleTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantalert_stale_quotes_total",
				Help: "Provider values dropped by the freshness check",
			},
			[]string{"provider"},
		),
		pollErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantalert_feed_poll_errors_total",
				Help: "Transient feed poll failures",
			},
			[]string{"provider"},
		),
		activeProvider: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quantalert_feed_active_provider",
				Help: "1 for the provider currently owning the poll loop",
			},
			[]string{"provider"},
		),
		triggersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantalert_triggers_total",
				Help: "Rule firings persisted",
			},
			[]string{"mode"},
		),
		notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantalert_notifications_total",
				Help: "Notification delivery outcomes",
			},
			[]string{"result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantalert_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quantalert_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantalert_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordTick(source, symbol string) {
	r.ticksTotal.WithLabelValues(source, symbol).Inc()
}

func (r *Recorder) RecordStale(provider string) {
	r.staleTotal.WithLabelValues(provider).Inc()
}

func (r *Recorder) RecordPollError(provider string) {
	r.pollErrors.WithLabelValues(provider).Inc()
}

// RecordActiveProvider flips the active gauge to provider.
func (r *Recorder) RecordActiveProvider(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != "" {
		r.activeProvider.WithLabelValues(r.current).Set(0)
	}
	r.current = provider
	r.activeProvider.WithLabelValues(provider).Set(1)
}

func (r *Recorder) RecordTrigger(mode string) {
	r.triggersTotal.WithLabelValues(mode).Inc()
}

func (r *Recorder) RecordNotification(result string) {
	r.notifications.WithLabelValues(result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Noop discards all measurements.
type Noop struct{}

func (Noop) RecordTick(string, string)       {}
func (Noop) RecordStale(string)              {}
func (Noop) RecordPollError(string)          {}
func (Noop) RecordActiveProvider(string)     {}
func (Noop) RecordTrigger(string)            {}
func (Noop) RecordNotification(string)       {}
func (Noop) RecordError(string)              {}
func (Noop) RecordLastPrice(string, float64) {}
func (Noop) RecordLatency(string, float64)   {}
