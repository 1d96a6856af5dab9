package tracker

import "fmt"

// H02 is a placeholder for the H02 vendor protocol. It rejects every
// frame, so H02 devices fall through to the generic codec and their
// traffic still reaches the bus as unknown events.
type H02 struct{}

// NewH02 creates an H02 codec.
func NewH02() *H02 { return &H02{} }

// Name returns the protocol fingerprint.
func (c *H02) Name() string { return "h02" }

// Decode rejects every buffer.
func (c *H02) Decode([]byte) (*Event, int, error) {
	return nil, 0, ErrFrameRejected
}

// EncodeAuthAck sends nothing.
func (c *H02) EncodeAuthAck(bool) []byte { return nil }

// EncodeLoginAck sends nothing.
func (c *H02) EncodeLoginAck(bool) []byte { return nil }

// EncodeLocationAck sends nothing.
func (c *H02) EncodeLocationAck(uint16) []byte { return nil }

// EncodeHeartbeatAck sends nothing.
func (c *H02) EncodeHeartbeatAck() []byte { return nil }

// EncodeCommand is unsupported for H02.
func (c *H02) EncodeCommand(kind CommandKind, _ map[string]any) ([]byte, error) {
	return nil, fmt.Errorf("h02 encode %q: %w", kind, ErrUnsupportedCommand)
}
