package bus

import (
	"context"
	"errors"
)

// -------------------------------------------------------------------------
// Well-Known Queues
// -------------------------------------------------------------------------

// Queue names the gateway declares and uses.
const (
	// QueueDeviceCommands carries outbound commands for connected devices.
	QueueDeviceCommands = "device_commands"

	// QueueTrackerMessages receives every decoded device event.
	QueueTrackerMessages = "tracker_messages"

	// QueueDeviceAlerts receives alarm events.
	QueueDeviceAlerts = "device_alerts"

	// QueueLocationUpdates receives position events.
	QueueLocationUpdates = "location_updates"
)

// DefaultQueues lists the queues declared when the adapter connects.
var DefaultQueues = []string{
	QueueDeviceCommands,
	QueueTrackerMessages,
	QueueDeviceAlerts,
	QueueLocationUpdates,
}

// -------------------------------------------------------------------------
// Bus Interface
// -------------------------------------------------------------------------

// Delivery is a single queue message with manual acknowledgement. Exactly
// one of Ack or Nack must be called per delivery.
type Delivery interface {
	// Body returns the message payload.
	Body() []byte

	// Ack acknowledges the delivery; the broker drops the message.
	Ack() error

	// Nack rejects the delivery. With requeue the broker redelivers the
	// message; without it the message is dropped.
	Nack(requeue bool) error
}

// Handler processes one delivery. The handler owns acknowledgement: it
// must call Ack or Nack on the delivery before returning.
type Handler func(ctx context.Context, d Delivery)

// QueueStats reports the broker's view of one queue.
type QueueStats struct {
	Name      string
	Messages  int
	Consumers int
}

// Bus abstracts the broker operations needed by the gateway.
// This interface enables testing without a running RabbitMQ instance.
type Bus interface {
	// Publish sends body to the named queue as a persistent
	// application/json message.
	Publish(ctx context.Context, queue string, body []byte) error

	// Consume delivers messages from the named queue to handler, one at a
	// time (prefetch 1), until ctx is cancelled (nil return) or the
	// broker channel fails (error return for the caller's reconnect
	// loop).
	Consume(ctx context.Context, queue string, handler Handler) error

	// Purge drops all ready messages from the named queue and returns
	// the number removed.
	Purge(ctx context.Context, queue string) (int, error)

	// QueueStats returns message and consumer counts for the named queue.
	QueueStats(ctx context.Context, queue string) (QueueStats, error)

	// Close releases the broker connection.
	Close() error
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrConnectFailed indicates the broker connection could not be
	// established.
	ErrConnectFailed = errors.New("bus connect failed")

	// ErrChannelClosed indicates the broker closed the consume channel.
	ErrChannelClosed = errors.New("consume channel closed by broker")

	// ErrBusClosed indicates the adapter has been closed.
	ErrBusClosed = errors.New("bus is closed")
)
