package tracker

import (
	"bytes"
	"fmt"
	"strings"
)

// tk103Prefix marks a TK103 frame. The marker collides with the GPS303
// login shape, so under the default trial order GPS303 claims these
// frames first; deployments facing TK103 fleets use WithCodecs to put
// this codec ahead.
const tk103Prefix = "##"

// TK103 implements the ASCII TK103 vendor protocol: a "##" line whose
// comma-separated fields include an imei: identity.
type TK103 struct{}

// NewTK103 creates a TK103 codec.
func NewTK103() *TK103 { return &TK103{} }

// Name returns the protocol fingerprint.
func (c *TK103) Name() string { return "tk103" }

// Decode parses the buffer as one TK103 frame, consuming it entirely.
// A "##" line without an imei: field is rejected.
func (c *TK103) Decode(buf []byte) (*Event, int, error) {
	if !bytes.HasPrefix(buf, []byte(tk103Prefix)) {
		if isPrefixOf(buf, tk103Prefix) {
			return nil, 0, ErrNeedMoreData
		}
		return nil, 0, ErrFrameRejected
	}

	line := strings.TrimRight(string(buf), "\r\n;")
	for _, field := range strings.Split(line, ",") {
		field = strings.TrimSpace(field)
		if imei, ok := strings.CutPrefix(field, "imei:"); ok && imei != "" {
			return &Event{Type: EventLogin, IMEI: imei}, len(buf), nil
		}
	}
	return nil, 0, ErrFrameRejected
}

// EncodeAuthAck replies LOAD.
func (c *TK103) EncodeAuthAck(bool) []byte { return []byte("LOAD") }

// EncodeLoginAck replies LOAD.
func (c *TK103) EncodeLoginAck(bool) []byte { return []byte("LOAD") }

// EncodeLocationAck replies ON.
func (c *TK103) EncodeLocationAck(uint16) []byte { return []byte("ON") }

// EncodeHeartbeatAck replies ON.
func (c *TK103) EncodeHeartbeatAck() []byte { return []byte("ON") }

// EncodeCommand is unsupported for TK103.
func (c *TK103) EncodeCommand(kind CommandKind, _ map[string]any) ([]byte, error) {
	return nil, fmt.Errorf("tk103 encode %q: %w", kind, ErrUnsupportedCommand)
}
