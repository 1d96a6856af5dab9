package tracker

import (
	"encoding/hex"
	"fmt"
)

// Generic is the fallback codec. It accepts any buffer and surfaces it as
// an unknown event so unrecognized devices are still visible on the bus.
type Generic struct{}

// NewGeneric creates the fallback codec.
func NewGeneric() *Generic { return &Generic{} }

// Name returns the protocol fingerprint.
func (c *Generic) Name() string { return "generic" }

// Decode consumes the entire buffer as one unknown event.
func (c *Generic) Decode(buf []byte) (*Event, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrNeedMoreData
	}
	return &Event{
		Type: EventUnknown,
		Unknown: &UnknownData{
			Hex:            hex.EncodeToString(buf),
			ASCIIPrintable: asciiPrintable(buf),
			Length:         len(buf),
		},
	}, len(buf), nil
}

// EncodeAuthAck replies OK.
func (c *Generic) EncodeAuthAck(bool) []byte { return []byte("OK") }

// EncodeLoginAck replies OK.
func (c *Generic) EncodeLoginAck(bool) []byte { return []byte("OK") }

// EncodeLocationAck replies ACK.
func (c *Generic) EncodeLocationAck(uint16) []byte { return []byte("ACK") }

// EncodeHeartbeatAck replies PONG.
func (c *Generic) EncodeHeartbeatAck() []byte { return []byte("PONG") }

// EncodeCommand is unsupported: an unfingerprinted device has no known
// command framing.
func (c *Generic) EncodeCommand(kind CommandKind, _ map[string]any) ([]byte, error) {
	return nil, fmt.Errorf("generic encode %q: %w", kind, ErrUnsupportedCommand)
}

// asciiPrintable renders b with every byte outside 0x20..0x7E replaced by
// a dot.
func asciiPrintable(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c < 0x20 || c > 0x7E {
			out[i] = '.'
			continue
		}
		out[i] = c
	}
	return string(out)
}
