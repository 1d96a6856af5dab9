package tracker

// MetricsReporter is the instrumentation seam consumed by the tracker
// core. The Prometheus collector implements it; a no-op default keeps the
// core testable without a metrics registry.
type MetricsReporter interface {
	// ConnOpened records an accepted connection.
	ConnOpened()

	// ConnClosed records a closed connection.
	ConnClosed()

	// SessionRegistered records a session installed in the registry.
	SessionRegistered(protocol string)

	// SessionUnregistered records a session removed from the registry.
	SessionUnregistered(protocol string)

	// IncFramesDecoded records a successfully decoded frame.
	IncFramesDecoded(protocol, eventType string)

	// IncFramesRejected records a buffer discarded as unparseable.
	IncFramesRejected()

	// IncBufferOverflows records a session buffer cleared at the tail cap.
	IncBufferOverflows()

	// IncAuthFailures records a failed device authentication.
	IncAuthFailures()

	// AddBytesRead records bytes read from a device socket.
	AddBytesRead(n int)

	// AddBytesWritten records bytes written to a device socket.
	AddBytesWritten(n int)

	// IncEventsPublished records an event published to a queue.
	IncEventsPublished(queue string)

	// IncCommandsDispatched records a command delivery outcome.
	IncCommandsDispatched(outcome string)

	// ObserveCommandLatency records delivery-to-outcome latency.
	ObserveCommandLatency(seconds float64)

	// IncStoreErrors records a failed store operation.
	IncStoreErrors(operation string)

	// IncBusErrors records a failed bus operation.
	IncBusErrors(operation string)
}

// noopMetrics is the default MetricsReporter. All methods do nothing.
type noopMetrics struct{}

func (noopMetrics) ConnOpened()                            {}
func (noopMetrics) ConnClosed()                            {}
func (noopMetrics) SessionRegistered(string)               {}
func (noopMetrics) SessionUnregistered(string)             {}
func (noopMetrics) IncFramesDecoded(string, string)        {}
func (noopMetrics) IncFramesRejected()                     {}
func (noopMetrics) IncBufferOverflows()                    {}
func (noopMetrics) IncAuthFailures()                       {}
func (noopMetrics) AddBytesRead(int)                       {}
func (noopMetrics) AddBytesWritten(int)                    {}
func (noopMetrics) IncEventsPublished(string)              {}
func (noopMetrics) IncCommandsDispatched(string)           {}
func (noopMetrics) ObserveCommandLatency(float64)          {}
func (noopMetrics) IncStoreErrors(string)                  {}
func (noopMetrics) IncBusErrors(string)                    {}
