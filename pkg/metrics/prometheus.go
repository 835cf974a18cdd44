package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	streamEvents    *prometheus.CounterVec
	reconnects      prometheus.Counter
	streamConnected prometheus.Gauge
	votesTotal      *prometheus.CounterVec
	subscribers     *prometheus.GaugeVec
	broadcastsTotal prometheus.Counter
	errorsTotal     *prometheus.CounterVec
	latency         *prometheus.HistogramVec
}

// New creates a recorder registered with the default Prometheus registry.
// Call it once per process.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		streamEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pollpulse_stream_events_total",
				Help: "Stream events received by the client, by event name and outcome",
			},
			[]string{"event", "outcome"},
		),
		reconnects: f.NewCounter(
			prometheus.CounterOpts{
				Name: "pollpulse_stream_reconnects_total",
				Help: "Reconnect attempts scheduled after transport failures",
			},
		),
		streamConnected: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "pollpulse_stream_connected",
				Help: "1 while the client stream is open",
			},
		),
		votesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pollpulse_votes_total",
				Help: "Vote submissions handled by the backend, by result",
			},
			[]string{"result"},
		),
		subscribers: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pollpulse_stream_subscribers",
				Help: "Open push subscriptions on the backend, by transport",
			},
			[]string{"transport"},
		),
		broadcastsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "pollpulse_stats_broadcasts_total",
				Help: "Stats updates broadcast to subscribers",
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pollpulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pollpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordStreamEvent counts a received stream event. outcome is one of
// applied, malformed or stale.
func (r *Recorder) RecordStreamEvent(event, outcome string) {
	r.streamEvents.WithLabelValues(event, outcome).Inc()
}

func (r *Recorder) RecordReconnect() { r.reconnects.Inc() }

func (r *Recorder) SetStreamConnected(connected bool) {
	if connected {
		r.streamConnected.Set(1)
		return
	}
	r.streamConnected.Set(0)
}

// RecordVote counts a submission by result (ok, duplicate, expired ...).
func (r *Recorder) RecordVote(result string) {
	r.votesTotal.WithLabelValues(result).Inc()
}

// AddSubscribers moves the subscriber gauge by delta.
func (r *Recorder) AddSubscribers(transport string, delta int) {
	r.subscribers.WithLabelValues(transport).Add(float64(delta))
}

func (r *Recorder) RecordBroadcast() { r.broadcastsTotal.Inc() }

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
