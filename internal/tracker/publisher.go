package tracker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dantte-lp/gotrack/internal/bus"
)

// envelopeSource identifies this gateway in published events.
const envelopeSource = "gotrack"

// eventEnvelope is the outbound JSON shape for every published event.
type eventEnvelope struct {
	Type       string    `json:"type"`
	IMEI       string    `json:"imei"`
	DeviceID   uint      `json:"device_id"`
	Data       any       `json:"data"`
	ReceivedAt time.Time `json:"received_at"`
	Source     string    `json:"source"`
	Timestamp  int64     `json:"timestamp"`
}

// Publisher wraps decoded events in the outbound envelope and routes them
// to the broker queues: every event to tracker_messages, locations
// additionally to location_updates, alarms additionally to device_alerts.
type Publisher struct {
	bus     bus.Bus
	logger  *slog.Logger
	metrics MetricsReporter
}

// PublisherOption configures optional Publisher parameters.
type PublisherOption func(*Publisher)

// WithPublisherMetrics sets the metrics reporter. If mr is nil, the no-op
// reporter is kept.
func WithPublisherMetrics(mr MetricsReporter) PublisherOption {
	return func(p *Publisher) {
		if mr != nil {
			p.metrics = mr
		}
	}
}

// NewPublisher creates a Publisher over the given bus.
func NewPublisher(b bus.Bus, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		bus:     b,
		logger:  logger.With(slog.String("component", "publisher")),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishEvent sends the event to its queues. Publishing is best-effort:
// failures are logged and counted, never propagated, so a broker outage
// cannot stall device sessions.
func (p *Publisher) PublishEvent(ctx context.Context, imei string, deviceID uint, ev *Event) {
	now := time.Now().UTC()
	body, err := json.Marshal(eventEnvelope{
		Type:       ev.Type.String(),
		IMEI:       imei,
		DeviceID:   deviceID,
		Data:       ev.Payload(),
		ReceivedAt: now,
		Source:     envelopeSource,
		Timestamp:  now.Unix(),
	})
	if err != nil {
		p.logger.Warn("marshal event envelope",
			slog.String("imei", imei),
			slog.String("type", ev.Type.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	p.publish(ctx, bus.QueueTrackerMessages, imei, body)

	switch ev.Type {
	case EventLocation:
		p.publish(ctx, bus.QueueLocationUpdates, imei, body)
	case EventAlarm:
		p.publish(ctx, bus.QueueDeviceAlerts, imei, body)
	}
}

// publish sends one body to one queue, recording the outcome.
func (p *Publisher) publish(ctx context.Context, queue, imei string, body []byte) {
	if err := p.bus.Publish(ctx, queue, body); err != nil {
		p.logger.Warn("publish event",
			slog.String("queue", queue),
			slog.String("imei", imei),
			slog.String("error", err.Error()),
		)
		p.metrics.IncBusErrors("publish")
		return
	}
	p.metrics.IncEventsPublished(queue)
}
