package tracker

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/dantte-lp/gotrack/internal/bus"
	"github.com/dantte-lp/gotrack/internal/store"
)

// -------------------------------------------------------------------------
// Dispatcher Constants
// -------------------------------------------------------------------------

const (
	// redialInitialBackoff is the first wait after a failed or dropped
	// consume channel.
	redialInitialBackoff = 1 * time.Second

	// redialMaxBackoff caps the doubling reconnect wait.
	redialMaxBackoff = 30 * time.Second

	// redialResetAfter: a consume session that survived this long counts
	// as healthy and resets the backoff.
	redialResetAfter = 1 * time.Minute
)

// Dispatch outcome labels for the commands_dispatched_total counter.
const (
	outcomeSent         = "sent"
	outcomeNotConnected = "failed_not_connected"
	outcomeInvalid      = "failed_invalid"
	outcomeIO           = "failed_io"
	outcomeRequeued     = "requeued"
	outcomeSkipped      = "skipped"
)

// -------------------------------------------------------------------------
// Dispatcher
// -------------------------------------------------------------------------

// Dispatcher consumes the command queue and delivers each command to the
// live session of its target device.
//
// One delivery is in flight at a time (prefetch 1), and the command row
// in the store is written before the broker sees an ack or nack, so a
// crash between the two can only cause a redelivery, never a command
// whose outcome was lost.
type Dispatcher struct {
	bus      bus.Bus
	store    store.Store
	registry *Registry
	logger   *slog.Logger
	metrics  MetricsReporter
}

// DispatcherOption configures optional Dispatcher parameters.
type DispatcherOption func(*Dispatcher)

// WithDispatcherMetrics sets the metrics reporter. If mr is nil, the
// no-op reporter is kept.
func WithDispatcherMetrics(mr MetricsReporter) DispatcherOption {
	return func(d *Dispatcher) {
		if mr != nil {
			d.metrics = mr
		}
	}
}

// NewDispatcher creates a Dispatcher over the given broker, store and
// session registry.
func NewDispatcher(
	b bus.Bus,
	st store.Store,
	reg *Registry,
	logger *slog.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		bus:      b,
		store:    st,
		registry: reg,
		logger:   logger.With(slog.String("component", "dispatcher")),
		metrics:  noopMetrics{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run consumes the command queue until ctx is cancelled, reconnecting
// with doubling backoff when the broker drops the channel. Always
// returns nil so an errgroup does not tear the gateway down over a
// broker blip.
func (d *Dispatcher) Run(ctx context.Context) error {
	backoff := redialInitialBackoff
	for {
		started := time.Now()
		err := d.bus.Consume(ctx, bus.QueueDeviceCommands, d.handle)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if time.Since(started) >= redialResetAfter {
			backoff = redialInitialBackoff
		}

		d.logger.Warn("command consume interrupted, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
		d.metrics.IncBusErrors("consume")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > redialMaxBackoff {
			backoff = redialMaxBackoff
		}
	}
}

// -------------------------------------------------------------------------
// Delivery Handling
// -------------------------------------------------------------------------

// handle processes one command delivery end to end.
func (d *Dispatcher) handle(ctx context.Context, delivery bus.Delivery) {
	started := time.Now()

	req, err := ParseCommandRequest(delivery.Body())
	if err != nil {
		if errors.Is(err, ErrBridgeAddressed) {
			// Owned by the direct-TCP bridge; put it back untouched.
			d.nack(delivery, true)
			d.metrics.IncCommandsDispatched(outcomeSkipped)
			return
		}
		d.logger.Warn("malformed command payload, dropping",
			slog.String("error", err.Error()),
		)
		d.ack(delivery)
		d.metrics.IncCommandsDispatched(outcomeInvalid)
		return
	}

	log := d.logger.With(
		slog.String("command_id", req.ID),
		slog.String("imei", req.IMEI),
		slog.String("kind", string(req.Kind)),
	)

	// The row must exist before any terminal write lands on it.
	if err := d.createCommandRow(ctx, req, delivery.Body()); err != nil {
		d.metrics.IncStoreErrors("create_command")
		log.Warn("create command row, requeueing",
			slog.String("error", err.Error()),
		)
		d.nack(delivery, true)
		d.metrics.IncCommandsDispatched(outcomeRequeued)
		return
	}

	sess, ok := d.registry.Lookup(req.IMEI)
	if !ok {
		d.fail(ctx, delivery, req.ID, log, "Device not connected", outcomeNotConnected)
		return
	}

	codec := sess.Codec()
	if codec == nil {
		d.fail(ctx, delivery, req.ID, log, "Device protocol not established", outcomeInvalid)
		return
	}

	frame, err := codec.EncodeCommand(req.Kind, req.Parameters)
	if err != nil {
		log.Warn("encode command",
			slog.String("protocol", codec.Name()),
			slog.String("error", err.Error()),
		)
		d.fail(ctx, delivery, req.ID, log, "Invalid command format", outcomeInvalid)
		return
	}

	if werr := sess.WriteFrame(frame); werr != nil {
		log.Warn("write command frame",
			slog.String("error", werr.Error()),
		)
		d.failWrite(ctx, delivery, req.ID, log, werr)
		return
	}

	if err := d.store.UpdateCommandStatus(ctx, req.ID, store.StatusSent, store.CommandUpdate{}); err != nil {
		d.metrics.IncStoreErrors("update_command")
		log.Warn("record sent status, requeueing",
			slog.String("error", err.Error()),
		)
		d.nack(delivery, true)
		d.metrics.IncCommandsDispatched(outcomeRequeued)
		return
	}

	sess.PushPendingCommand(req.ID)
	d.ack(delivery)
	d.metrics.IncCommandsDispatched(outcomeSent)
	d.metrics.ObserveCommandLatency(time.Since(started).Seconds())
	log.Info("command dispatched",
		slog.String("protocol", codec.Name()),
		slog.Int("frame_bytes", len(frame)),
	)
}

// createCommandRow inserts the pending row for a delivery. Redeliveries
// hit the conflict-ignore path in the store and are not an error.
func (d *Dispatcher) createCommandRow(ctx context.Context, req *CommandRequest, body []byte) error {
	return d.store.CreateCommand(ctx, &store.Command{
		ID:       req.ID,
		DeviceID: req.DeviceID,
		IMEI:     req.IMEI,
		Kind:     string(req.Kind),
		Payload:  string(body),
		Status:   store.StatusPending,
	})
}

// fail records a terminal failure and acknowledges the delivery. The
// store write comes first; if it cannot land, the delivery is requeued
// instead so the outcome is not lost.
func (d *Dispatcher) fail(
	ctx context.Context,
	delivery bus.Delivery,
	id string,
	log *slog.Logger,
	reason string,
	outcome string,
) {
	if err := d.store.UpdateCommandStatus(ctx, id, store.StatusFailed, store.CommandUpdate{Error: reason}); err != nil {
		d.metrics.IncStoreErrors("update_command")
		log.Warn("record failed status, requeueing",
			slog.String("error", err.Error()),
		)
		d.nack(delivery, true)
		d.metrics.IncCommandsDispatched(outcomeRequeued)
		return
	}
	log.Info("command failed", slog.String("reason", reason))
	d.ack(delivery)
	d.metrics.IncCommandsDispatched(outcome)
}

// failWrite handles a socket write error. Timeouts are worth a retry:
// the session may recover or the device may reconnect, so the delivery
// is requeued after the failure is recorded. Anything else (closed
// socket mid-teardown) is terminal.
func (d *Dispatcher) failWrite(
	ctx context.Context,
	delivery bus.Delivery,
	id string,
	log *slog.Logger,
	werr error,
) {
	var nerr net.Error
	if errors.As(werr, &nerr) && nerr.Timeout() {
		if err := d.store.UpdateCommandStatus(ctx, id, store.StatusFailed, store.CommandUpdate{Error: "Write timeout"}); err != nil {
			d.metrics.IncStoreErrors("update_command")
		}
		d.nack(delivery, true)
		d.metrics.IncCommandsDispatched(outcomeRequeued)
		return
	}
	d.fail(ctx, delivery, id, log, "Write failed: "+werr.Error(), outcomeIO)
}

// ack acknowledges a delivery, logging broker refusals.
func (d *Dispatcher) ack(delivery bus.Delivery) {
	if err := delivery.Ack(); err != nil {
		d.metrics.IncBusErrors("ack")
		d.logger.Debug("ack delivery", slog.String("error", err.Error()))
	}
}

// nack rejects a delivery, logging broker refusals.
func (d *Dispatcher) nack(delivery bus.Delivery, requeue bool) {
	if err := delivery.Nack(requeue); err != nil {
		d.metrics.IncBusErrors("nack")
		d.logger.Debug("nack delivery", slog.String("error", err.Error()))
	}
}
