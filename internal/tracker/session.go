package tracker

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dantte-lp/gotrack/internal/store"
)

// -------------------------------------------------------------------------
// Session Constants
// -------------------------------------------------------------------------

const (
	// DefaultAuthTimeout is how long an accepted socket may stay
	// unauthenticated before it is closed.
	DefaultAuthTimeout = 30 * time.Second

	// DefaultIdleTimeout is the rolling silence window after which an
	// authenticated session is closed.
	DefaultIdleTimeout = 10 * time.Minute

	// DefaultWriteTimeout bounds a single socket write (acks, commands).
	DefaultWriteTimeout = 5 * time.Second

	// DefaultMaxTailBytes is the hard cap on buffered bytes no codec has
	// consumed. Legitimate frames are far smaller; a tail this long is a
	// junk stream.
	DefaultMaxTailBytes = 1024

	// readChunkSize is the per-Read scratch buffer size.
	readChunkSize = 1024

	// offlineWriteTimeout bounds the store write that marks a device
	// offline during session teardown, which may run after the parent
	// context is already cancelled.
	offlineWriteTimeout = 5 * time.Second
)

// -------------------------------------------------------------------------
// Session Configuration
// -------------------------------------------------------------------------

// SessionConfig carries the per-connection timing knobs. Zero values fall
// back to the package defaults.
type SessionConfig struct {
	// AuthTimeout is the absolute deadline for the first successful
	// authentication, armed when the socket is accepted.
	AuthTimeout time.Duration

	// IdleTimeout is the rolling read deadline once authenticated.
	IdleTimeout time.Duration

	// WriteTimeout bounds each outbound socket write.
	WriteTimeout time.Duration

	// MaxTailBytes caps the unparseable buffer tail before it is dropped.
	MaxTailBytes int
}

func (c *SessionConfig) applyDefaults() {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = DefaultAuthTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxTailBytes <= 0 {
		c.MaxTailBytes = DefaultMaxTailBytes
	}
}

// SessionDeps bundles the collaborators a session needs to route decoded
// events.
type SessionDeps struct {
	// Router performs protocol detection until the fingerprint is fixed.
	Router *Router

	// Registry authenticates IMEIs and tracks the live session per device.
	Registry *Registry

	// Store persists locations, alerts and command outcomes.
	Store store.Store

	// Publisher fans decoded events out to the message queues.
	Publisher *Publisher
}

// SessionOption configures optional Session parameters.
type SessionOption func(*Session)

// WithSessionMetrics attaches a MetricsReporter to the session. If mr is
// nil, the default no-op reporter is kept.
func WithSessionMetrics(mr MetricsReporter) SessionOption {
	return func(s *Session) {
		if mr != nil {
			s.metrics = mr
		}
	}
}

// codecBox wraps a Codec for atomic publication: the session goroutine
// fixes the fingerprint while registry snapshots and the dispatcher read
// it concurrently.
type codecBox struct {
	c Codec
}

// -------------------------------------------------------------------------
// Session
// -------------------------------------------------------------------------

// Session owns one device TCP connection from accept to close.
//
// The read buffer and authentication state are owned by the goroutine
// running Run(). External callers interact only through thread-safe entry
// points: WriteFrame and PushPendingCommand (command dispatcher), Close
// (displacement and shutdown), and the read-only accessors used for
// snapshots.
type Session struct {
	// --- Identity, immutable after construction ---

	id          string
	remoteAddr  string
	connectedAt time.Time

	// --- Goroutine-owned state ---

	// inbound accumulates raw socket bytes until a codec consumes them.
	inbound []byte

	// authenticated flips once an IMEI has been validated; imei and
	// deviceID are only set alongside it.
	authenticated bool
	imei          string
	deviceID      uint

	// --- Shared state ---

	// codec is the protocol fingerprint, fixed by the first sub-codec to
	// decode a frame. nil until then.
	codec atomic.Pointer[codecBox]

	// pending holds the ids of dispatched commands awaiting a device
	// reply, oldest first. Replies carry no identifier on the wire.
	pendingMu sync.Mutex
	pending   []string

	// writeMu serializes socket writes between the session goroutine
	// (acks) and the dispatcher (commands).
	writeMu sync.Mutex

	closeOnce sync.Once

	// --- Runtime ---

	conn      net.Conn
	router    *Router
	registry  *Registry
	store     store.Store
	publisher *Publisher
	logger    *slog.Logger
	metrics   MetricsReporter

	authTimeout  time.Duration
	idleTimeout  time.Duration
	writeTimeout time.Duration
	maxTail      int
}

// NewSession wraps an accepted device socket. The session does nothing
// until Run() is called; the caller owns that goroutine.
func NewSession(
	conn net.Conn,
	cfg SessionConfig,
	deps SessionDeps,
	logger *slog.Logger,
	opts ...SessionOption,
) *Session {
	cfg.applyDefaults()

	s := &Session{
		id:           uuid.NewString(),
		remoteAddr:   conn.RemoteAddr().String(),
		connectedAt:  time.Now().UTC(),
		conn:         conn,
		router:       deps.Router,
		registry:     deps.Registry,
		store:        deps.Store,
		publisher:    deps.Publisher,
		metrics:      noopMetrics{},
		authTimeout:  cfg.AuthTimeout,
		idleTimeout:  cfg.IdleTimeout,
		writeTimeout: cfg.WriteTimeout,
		maxTail:      cfg.MaxTailBytes,
	}
	s.logger = logger.With(
		slog.String("session", s.id),
		slog.String("remote", s.remoteAddr),
	)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// -------------------------------------------------------------------------
// Public Accessors — safe from any goroutine
// -------------------------------------------------------------------------

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer address of the device socket.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// ConnectedAt returns when the socket was accepted.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Protocol returns the name of the fingerprinted codec, or "unknown"
// while no sub-codec has decoded a frame yet.
func (s *Session) Protocol() string {
	if box := s.codec.Load(); box != nil {
		return box.c.Name()
	}
	return "unknown"
}

// Codec returns the fingerprinted codec, or nil while detection is still
// running. The dispatcher uses it to encode outbound commands.
func (s *Session) Codec() Codec {
	if box := s.codec.Load(); box != nil {
		return box.c
	}
	return nil
}

// Close shuts the device socket. Safe to call from any goroutine and any
// number of times; the session goroutine observes the read error and
// unwinds through its normal cleanup path.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

// -------------------------------------------------------------------------
// Outbound Writes & Pending Commands
// -------------------------------------------------------------------------

// WriteFrame writes raw protocol bytes to the device socket under the
// session write deadline. Safe for concurrent use with the session's own
// ack writes.
func (s *Session) WriteFrame(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	n, err := s.conn.Write(frame)
	if n > 0 {
		s.metrics.AddBytesWritten(n)
	}
	return err
}

// PushPendingCommand records a dispatched command id awaiting a device
// reply. Replies resolve pending ids oldest-first.
func (s *Session) PushPendingCommand(id string) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending = append(s.pending, id)
}

// popPendingCommand removes and returns the oldest pending command id.
func (s *Session) popPendingCommand() (string, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if len(s.pending) == 0 {
		return "", false
	}
	id := s.pending[0]
	s.pending = s.pending[1:]
	return id, true
}

// -------------------------------------------------------------------------
// Read Loop
// -------------------------------------------------------------------------

// Run reads the socket until it closes, errors, or a deadline fires.
// Blocks for the life of the connection; the caller decides the
// goroutine. The socket is always closed and deregistered on return.
func (s *Session) Run(ctx context.Context) {
	defer s.cleanup(ctx)

	// Unblock the read when the gateway shuts down.
	stop := context.AfterFunc(ctx, s.Close)
	defer stop()

	s.metrics.ConnOpened()
	s.logger.Debug("connection accepted")

	// Absolute deadline for the first authentication. Replaced by the
	// rolling idle deadline once an IMEI is validated.
	if err := s.conn.SetReadDeadline(time.Now().Add(s.authTimeout)); err != nil {
		s.logger.Warn("arm auth deadline", slog.String("error", err.Error()))
		return
	}

	chunk := make([]byte, readChunkSize)
	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			s.metrics.AddBytesRead(n)
			s.inbound = append(s.inbound, chunk[:n]...)

			if derr := s.drainBuffer(ctx); derr != nil {
				return
			}
			if len(s.inbound) >= s.maxTail {
				s.metrics.IncBufferOverflows()
				s.logger.Warn("unparseable tail over cap, dropping buffer",
					slog.Int("buffered", len(s.inbound)),
					slog.Int("cap", s.maxTail),
				)
				s.inbound = s.inbound[:0]
			}
			if s.authenticated {
				if derr := s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); derr != nil {
					s.logger.Warn("extend idle deadline", slog.String("error", derr.Error()))
					return
				}
			}
		}
		if err != nil {
			s.logReadEnd(err)
			return
		}
	}
}

// drainBuffer decodes complete frames off the front of the buffer until
// it is empty or holds a partial frame. A non-nil return means the
// session must terminate (failed authentication).
func (s *Session) drainBuffer(ctx context.Context) error {
	for len(s.inbound) > 0 {
		ev, codec, n, err := s.decodeNext()
		switch {
		case err == nil:
		case errors.Is(err, ErrNeedMoreData):
			return nil
		default:
			s.logger.Warn("unrecoverable frame, dropping buffer",
				slog.Int("buffered", len(s.inbound)),
				slog.String("error", err.Error()),
			)
			s.inbound = s.inbound[:0]
			return nil
		}

		raw := rawFrameText(s.inbound[:n])
		s.inbound = s.inbound[n:]

		if codec == s.router.fallback {
			s.metrics.IncFramesRejected()
		} else if s.codec.Load() == nil {
			s.codec.Store(&codecBox{c: codec})
			s.logger = s.logger.With(slog.String("protocol", codec.Name()))
			s.logger.Debug("protocol fingerprinted")
		}
		s.metrics.IncFramesDecoded(codec.Name(), ev.Type.String())

		if err := s.dispatch(ctx, ev, codec, raw); err != nil {
			return err
		}
	}
	return nil
}

// decodeNext runs protocol detection until the fingerprint is fixed,
// then decodes with the fingerprinted codec alone. A reject from the
// fixed codec is unrecoverable: the stream no longer matches the
// protocol that authenticated it.
func (s *Session) decodeNext() (*Event, Codec, int, error) {
	box := s.codec.Load()
	if box == nil {
		return s.router.Decode(s.inbound)
	}
	ev, n, err := box.c.Decode(s.inbound)
	if err != nil {
		return nil, box.c, 0, err
	}
	return ev, box.c, n, nil
}

// logReadEnd classifies the read error that ended the session.
func (s *Session) logReadEnd(err error) {
	var nerr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		s.logger.Debug("device disconnected")
	case errors.As(err, &nerr) && nerr.Timeout():
		if s.authenticated {
			s.logger.Info("idle timeout, closing session")
		} else {
			s.logger.Info("authentication deadline expired, closing session")
		}
	default:
		s.logger.Warn("socket read", slog.String("error", err.Error()))
	}
}

// cleanup closes the socket and deregisters the session. The offline
// store write is skipped when a newer session has displaced this one, so
// a reconnecting device never flaps offline.
func (s *Session) cleanup(ctx context.Context) {
	s.Close()

	if s.authenticated {
		if s.registry.Remove(s.imei, s) {
			offCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), offlineWriteTimeout)
			defer cancel()
			if err := s.registry.MarkOffline(offCtx, s.imei); err != nil {
				s.logger.Warn("mark device offline", slog.String("error", err.Error()))
			}
			s.logger.Info("session closed",
				slog.Duration("uptime", time.Since(s.connectedAt)),
			)
		} else {
			s.logger.Debug("session closed after displacement")
		}
	}

	s.metrics.ConnClosed()
}

// -------------------------------------------------------------------------
// Event Dispatch
// -------------------------------------------------------------------------

// dispatch routes one decoded event. Before authentication only identity
// is accepted: an event carrying an IMEI authenticates the session (and
// then routes normally), a bare login is greeted so the device proceeds
// to a frame that does carry its identity, and everything else is
// dropped. A non-nil return terminates the session.
func (s *Session) dispatch(ctx context.Context, ev *Event, codec Codec, raw string) error {
	if !s.authenticated {
		switch {
		case ev.IMEI != "":
			if err := s.authenticate(ctx, ev.IMEI, codec); err != nil {
				return err
			}
		case ev.Type == EventLogin:
			s.send(codec.EncodeAuthAck(true))
			return nil
		default:
			s.logger.Debug("dropping frame from unauthenticated session",
				slog.String("type", ev.Type.String()),
			)
			return nil
		}
	}

	s.registry.TouchActivity(s.imei)
	s.route(ctx, ev, codec, raw)
	return nil
}

// authenticate validates the IMEI against the store and installs the
// session in the registry.
func (s *Session) authenticate(ctx context.Context, imei string, codec Codec) error {
	dev, err := s.registry.Authenticate(ctx, s, imei)
	if err != nil {
		s.metrics.IncAuthFailures()
		s.logger.Warn("authentication rejected",
			slog.String("imei", imei),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.authenticated = true
	s.imei = imei
	s.deviceID = dev.ID
	s.logger = s.logger.With(slog.String("imei", imei))
	s.logger.Info("device authenticated",
		slog.String("protocol", codec.Name()),
		slog.Uint64("device_id", uint64(dev.ID)),
	)

	// Switch from the auth deadline to the idle window right away; the
	// read loop keeps rolling it on later traffic.
	if err := s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
		s.logger.Warn("arm idle deadline", slog.String("error", err.Error()))
	}
	return nil
}

// route handles one event from an authenticated session: persist what
// must be persisted, publish the envelope, answer the device. Alarm
// frames get no wire reply.
func (s *Session) route(ctx context.Context, ev *Event, codec Codec, raw string) {
	switch ev.Type {
	case EventLogin:
		if err := s.registry.TouchLogin(ctx, s.imei); err != nil {
			s.logger.Warn("record login", slog.String("error", err.Error()))
		}
		s.publisher.PublishEvent(ctx, s.imei, s.deviceID, ev)
		s.send(codec.EncodeLoginAck(true))

	case EventLocation:
		s.saveLocation(ctx, ev.Location, raw)
		s.publisher.PublishEvent(ctx, s.imei, s.deviceID, ev)
		s.send(codec.EncodeLocationAck(ev.Seq))

	case EventHeartbeat:
		if err := s.registry.TouchHeartbeat(ctx, s.imei); err != nil {
			s.logger.Warn("record heartbeat", slog.String("error", err.Error()))
		}
		s.publisher.PublishEvent(ctx, s.imei, s.deviceID, ev)
		s.send(codec.EncodeHeartbeatAck())

	case EventAlarm:
		s.saveAlarm(ctx, ev.Alarm, raw)
		s.publisher.PublishEvent(ctx, s.imei, s.deviceID, ev)

	case EventCommandResponse:
		s.resolveCommand(ctx, ev.Response)
		s.publisher.PublishEvent(ctx, s.imei, s.deviceID, ev)

	default:
		s.publisher.PublishEvent(ctx, s.imei, s.deviceID, ev)
	}
}

// send writes a protocol reply. A nil frame means the protocol sends
// nothing. Write failures are logged, not fatal: the read loop notices a
// dead socket on its own.
func (s *Session) send(frame []byte) {
	if len(frame) == 0 {
		return
	}
	if err := s.WriteFrame(frame); err != nil {
		s.logger.Warn("write reply", slog.String("error", err.Error()))
	}
}

// -------------------------------------------------------------------------
// Persistence Helpers
// -------------------------------------------------------------------------

// saveLocation persists a position report. Store failures are logged and
// counted; the session keeps running.
func (s *Session) saveLocation(ctx context.Context, loc *LocationData, raw string) {
	if loc == nil {
		return
	}
	row := &store.Location{
		DeviceID:   s.deviceID,
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
		Speed:      loc.Speed,
		Course:     loc.Course,
		Altitude:   loc.Altitude,
		Satellites: loc.Satellites,
		RecordedAt: loc.RecordedAt,
		Raw:        raw,
	}
	if err := s.store.SaveLocation(ctx, row); err != nil {
		s.metrics.IncStoreErrors("save_location")
		s.logger.Warn("save location", slog.String("error", err.Error()))
	}
}

// saveAlarm persists the alert row plus the position bundled with it.
func (s *Session) saveAlarm(ctx context.Context, alarm *AlarmData, raw string) {
	if alarm == nil {
		return
	}
	row := &store.Alert{
		DeviceID:    s.deviceID,
		Kind:        string(alarm.Kind),
		Message:     alarm.Message,
		TriggeredAt: time.Now().UTC(),
		Raw:         raw,
	}
	if alarm.Location != nil {
		row.Latitude = alarm.Location.Latitude
		row.Longitude = alarm.Location.Longitude
		if !alarm.Location.RecordedAt.IsZero() {
			row.TriggeredAt = alarm.Location.RecordedAt
		}
	}
	if err := s.store.SaveAlert(ctx, row); err != nil {
		s.metrics.IncStoreErrors("save_alert")
		s.logger.Warn("save alert", slog.String("error", err.Error()))
	}
	s.logger.Info("alarm received",
		slog.String("kind", string(alarm.Kind)),
	)

	if alarm.Location != nil {
		s.saveLocation(ctx, alarm.Location, raw)
	}
}

// resolveCommand promotes the oldest pending command to acknowledged.
// GT06 response frames carry no command identifier, so ordering is the
// only correlation available.
func (s *Session) resolveCommand(ctx context.Context, resp *CommandResponseData) {
	id, ok := s.popPendingCommand()
	if !ok {
		s.logger.Debug("command response with nothing pending")
		return
	}

	var update store.CommandUpdate
	if resp != nil {
		update.Response = resp.Content
	}
	if err := s.store.UpdateCommandStatus(ctx, id, store.StatusAcknowledged, update); err != nil {
		s.metrics.IncStoreErrors("update_command")
		s.logger.Warn("acknowledge command",
			slog.String("command_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("command acknowledged", slog.String("command_id", id))
}

// rawFrameText renders consumed frame bytes for the raw column: ASCII
// protocol lines keep their text form, binary frames are hex encoded.
func rawFrameText(frame []byte) string {
	for _, b := range frame {
		if b < 0x20 || b > 0x7e {
			return hex.EncodeToString(frame)
		}
	}
	return string(frame)
}
