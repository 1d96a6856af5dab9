package gwmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "gotrack"
	subsystem = "gateway"
)

// Label names for gateway metrics.
const (
	labelProtocol  = "protocol"
	labelEventType = "event_type"
	labelQueue     = "queue"
	labelOutcome   = "outcome"
	labelOperation = "operation"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Gateway Metrics
// -------------------------------------------------------------------------

// Collector holds all gateway Prometheus metrics.
//
// Metrics are designed for fleet monitoring:
//   - Connection/session gauges track live sockets and who authenticated.
//   - Frame counters track decode volume and reject rates per protocol.
//   - Command counters record dispatch outcomes for alerting on delivery
//     failures.
//   - Store/bus error counters flag infrastructure degradation.
type Collector struct {
	// ConnectionsActive tracks currently open device sockets, including
	// sessions that have not yet authenticated.
	ConnectionsActive prometheus.Gauge

	// SessionsAuthenticated tracks registered sessions per protocol
	// fingerprint. Incremented on authentication, decremented on removal.
	SessionsAuthenticated *prometheus.GaugeVec

	// FramesDecoded counts successfully decoded frames per protocol and
	// event type.
	FramesDecoded *prometheus.CounterVec

	// FramesRejected counts buffers no specific sub-codec accepted
	// (the generic fallback consumed them).
	FramesRejected prometheus.Counter

	// BufferOverflows counts session buffers cleared after exceeding the
	// unparseable-tail cap.
	BufferOverflows prometheus.Counter

	// AuthFailures counts failed device authentications (unknown IMEI or
	// inactive device).
	AuthFailures prometheus.Counter

	// BytesRead counts bytes read from device sockets.
	BytesRead prometheus.Counter

	// BytesWritten counts bytes written to device sockets (acks + commands).
	BytesWritten prometheus.Counter

	// EventsPublished counts events published to the bus per queue.
	EventsPublished *prometheus.CounterVec

	// CommandsDispatched counts queue deliveries handled by the command
	// dispatcher per outcome (sent, failed_not_connected, failed_invalid,
	// failed_io, requeued, skipped).
	CommandsDispatched *prometheus.CounterVec

	// CommandLatency observes seconds from delivery receipt to terminal
	// on-wire outcome.
	CommandLatency prometheus.Histogram

	// StoreErrors counts failed store operations per operation name.
	StoreErrors *prometheus.CounterVec

	// BusErrors counts failed bus operations per operation name.
	BusErrors *prometheus.CounterVec
}

// NewCollector creates a Collector with all gateway metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics are created with the "gotrack_gateway_" prefix
// (namespace_subsystem) to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ConnectionsActive,
		c.SessionsAuthenticated,
		c.FramesDecoded,
		c.FramesRejected,
		c.BufferOverflows,
		c.AuthFailures,
		c.BytesRead,
		c.BytesWritten,
		c.EventsPublished,
		c.CommandsDispatched,
		c.CommandLatency,
		c.StoreErrors,
		c.BusErrors,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_active",
			Help:      "Number of currently open device sockets.",
		}),

		SessionsAuthenticated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_authenticated",
			Help:      "Number of authenticated sessions per protocol fingerprint.",
		}, []string{labelProtocol}),

		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_decoded_total",
			Help:      "Total frames decoded per protocol and event type.",
		}, []string{labelProtocol, labelEventType}),

		FramesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_rejected_total",
			Help:      "Total buffers rejected by every specific sub-codec.",
		}),

		BufferOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "buffer_overflows_total",
			Help:      "Total session buffers cleared after exceeding the tail cap.",
		}),

		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "auth_failures_total",
			Help:      "Total failed device authentications.",
		}),

		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bytes_read_total",
			Help:      "Total bytes read from device sockets.",
		}),

		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bytes_written_total",
			Help:      "Total bytes written to device sockets.",
		}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_published_total",
			Help:      "Total events published to the message bus per queue.",
		}, []string{labelQueue}),

		CommandsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commands_dispatched_total",
			Help:      "Total command deliveries handled per outcome.",
		}, []string{labelOutcome}),

		CommandLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "command_latency_seconds",
			Help:      "Seconds from command delivery to terminal on-wire outcome.",
			Buckets:   prometheus.DefBuckets,
		}),

		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "store_errors_total",
			Help:      "Total failed store operations per operation.",
		}, []string{labelOperation}),

		BusErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bus_errors_total",
			Help:      "Total failed bus operations per operation.",
		}, []string{labelOperation}),
	}
}

// -------------------------------------------------------------------------
// Connection & Session Lifecycle
// -------------------------------------------------------------------------

// ConnOpened increments the active connections gauge. Called on accept.
func (c *Collector) ConnOpened() {
	c.ConnectionsActive.Inc()
}

// ConnClosed decrements the active connections gauge. Called when a
// session's socket closes.
func (c *Collector) ConnClosed() {
	c.ConnectionsActive.Dec()
}

// SessionRegistered increments the authenticated sessions gauge for the
// protocol. Called when the registry installs a session.
func (c *Collector) SessionRegistered(protocol string) {
	c.SessionsAuthenticated.WithLabelValues(protocol).Inc()
}

// SessionUnregistered decrements the authenticated sessions gauge for the
// protocol. Called when the registry removes a session.
func (c *Collector) SessionUnregistered(protocol string) {
	c.SessionsAuthenticated.WithLabelValues(protocol).Dec()
}

// -------------------------------------------------------------------------
// Frame Counters
// -------------------------------------------------------------------------

// IncFramesDecoded increments the decoded frame counter for the protocol
// and event type.
func (c *Collector) IncFramesDecoded(protocol, eventType string) {
	c.FramesDecoded.WithLabelValues(protocol, eventType).Inc()
}

// IncFramesRejected increments the rejected frame counter.
func (c *Collector) IncFramesRejected() {
	c.FramesRejected.Inc()
}

// IncBufferOverflows increments the buffer overflow counter.
func (c *Collector) IncBufferOverflows() {
	c.BufferOverflows.Inc()
}

// IncAuthFailures increments the failed authentication counter.
func (c *Collector) IncAuthFailures() {
	c.AuthFailures.Inc()
}

// AddBytesRead adds n to the socket read byte counter.
func (c *Collector) AddBytesRead(n int) {
	c.BytesRead.Add(float64(n))
}

// AddBytesWritten adds n to the socket write byte counter.
func (c *Collector) AddBytesWritten(n int) {
	c.BytesWritten.Add(float64(n))
}

// -------------------------------------------------------------------------
// Bus & Dispatch
// -------------------------------------------------------------------------

// IncEventsPublished increments the published events counter for a queue.
func (c *Collector) IncEventsPublished(queue string) {
	c.EventsPublished.WithLabelValues(queue).Inc()
}

// IncCommandsDispatched increments the dispatch outcome counter.
func (c *Collector) IncCommandsDispatched(outcome string) {
	c.CommandsDispatched.WithLabelValues(outcome).Inc()
}

// ObserveCommandLatency records the delivery-to-outcome latency in seconds.
func (c *Collector) ObserveCommandLatency(seconds float64) {
	c.CommandLatency.Observe(seconds)
}

// IncStoreErrors increments the store error counter for an operation.
func (c *Collector) IncStoreErrors(operation string) {
	c.StoreErrors.WithLabelValues(operation).Inc()
}

// IncBusErrors increments the bus error counter for an operation.
func (c *Collector) IncBusErrors(operation string) {
	c.BusErrors.WithLabelValues(operation).Inc()
}
