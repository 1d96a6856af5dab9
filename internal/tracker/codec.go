package tracker

import (
	"errors"
	"log/slog"
)

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

// Sentinel errors for frame decoding and command encoding.
var (
	// ErrNeedMoreData indicates the buffer holds an incomplete frame.
	// The caller should wait for more bytes; nothing is consumed.
	ErrNeedMoreData = errors.New("incomplete frame, need more data")

	// ErrFrameRejected indicates the buffer does not start with a frame
	// this codec recognizes. The router tries the next codec.
	ErrFrameRejected = errors.New("frame not recognized")

	// ErrFrameCorrupt indicates the codec accepted the frame shape but
	// found it unrecoverably broken (bad terminator, truncated payload).
	// The session clears its buffer.
	ErrFrameCorrupt = errors.New("frame corrupt")

	// ErrUnsupportedCommand indicates the command kind has no encoding
	// for the protocol.
	ErrUnsupportedCommand = errors.New("command not supported by protocol")
)

// -------------------------------------------------------------------------
// Codec Interface
// -------------------------------------------------------------------------

// Codec decodes inbound device frames and encodes outbound acks and
// commands for one vendor protocol. Codecs hold no per-session state and
// are safe for concurrent use.
type Codec interface {
	// Name returns the protocol fingerprint ("gt06", "gps303", ...).
	Name() string

	// Decode inspects the front of buf and returns the first decoded
	// event together with the number of bytes consumed.
	//
	// Errors distinguish three cases: ErrNeedMoreData (incomplete frame,
	// wait for bytes), ErrFrameRejected (not this protocol, try the next
	// codec), and wrapped ErrFrameCorrupt (accepted shape, broken frame).
	Decode(buf []byte) (*Event, int, error)

	// EncodeAuthAck builds the reply to a pre-authentication login. A nil
	// return means the protocol sends nothing.
	EncodeAuthAck(ok bool) []byte

	// EncodeLoginAck builds the reply to an authenticated login frame.
	EncodeLoginAck(ok bool) []byte

	// EncodeLocationAck builds the reply to a position report, echoing
	// the frame serial where the protocol carries one.
	EncodeLocationAck(seq uint16) []byte

	// EncodeHeartbeatAck builds the reply to a keepalive frame.
	EncodeHeartbeatAck() []byte

	// EncodeCommand builds the on-wire form of an outbound command.
	// Returns ErrUnsupportedCommand when the kind has no encoding for
	// this protocol.
	EncodeCommand(kind CommandKind, params map[string]any) ([]byte, error)
}

// -------------------------------------------------------------------------
// Router — ordered sub-codec trial
// -------------------------------------------------------------------------

// Router composes sub-codecs in a fixed trial order with a fallback that
// always succeeds. The first sub-codec to decode a frame fixes the
// session's protocol fingerprint; a need-more answer suspends the trial
// until more bytes arrive.
type Router struct {
	codecs   []Codec
	fallback Codec
}

// RouterOption configures optional Router parameters.
type RouterOption func(*Router)

// WithCodecs overrides the trial order. The default order is
// gps303, gt06, tk103, h02.
func WithCodecs(codecs ...Codec) RouterOption {
	return func(r *Router) {
		if len(codecs) > 0 {
			r.codecs = codecs
		}
	}
}

// WithFallback overrides the fallback codec. The default is the generic
// codec, which consumes any buffer.
func WithFallback(c Codec) RouterOption {
	return func(r *Router) {
		if c != nil {
			r.fallback = c
		}
	}
}

// NewRouter creates a Router with the default trial order. The logger is
// handed to sub-codecs that log (GT06 checksum tolerance).
func NewRouter(logger *slog.Logger, opts ...RouterOption) *Router {
	r := &Router{
		codecs: []Codec{
			NewGPS303(),
			NewGT06(logger),
			NewTK103(),
			NewH02(),
		},
		fallback: NewGeneric(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Decode tries each sub-codec in order against buf.
//
// The first success returns the event, the codec that produced it, and
// the bytes consumed. ErrNeedMoreData from any sub-codec suspends the
// whole trial (the partial frame may complete). ErrFrameRejected moves on
// to the next codec; a buffer every sub-codec rejected goes to the
// fallback. Corrupt-frame errors propagate with the claiming codec.
func (r *Router) Decode(buf []byte) (*Event, Codec, int, error) {
	for _, c := range r.codecs {
		ev, n, err := c.Decode(buf)
		switch {
		case err == nil:
			return ev, c, n, nil
		case errors.Is(err, ErrNeedMoreData):
			return nil, nil, 0, err
		case errors.Is(err, ErrFrameRejected):
			continue
		default:
			return nil, c, 0, err
		}
	}

	ev, n, err := r.fallback.Decode(buf)
	if err != nil {
		return nil, nil, 0, err
	}
	return ev, r.fallback, n, nil
}
