package tracker

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// -------------------------------------------------------------------------
// GT06 Protocol Constants
// -------------------------------------------------------------------------

// GT06 binary framing: 0x78 0x78 | len | proto | payload | crc(2) | 0x0D 0x0A.
// The length byte covers proto, payload and crc, so a full frame holds
// len+5 bytes.
const (
	gt06Start1 = 0x78
	gt06Start2 = 0x78
	gt06Stop1  = 0x0D
	gt06Stop2  = 0x0A

	// gt06MinContent is the smallest legal length byte: proto + crc.
	gt06MinContent = 3

	// gt06FrameOverhead is the byte count around the length-covered
	// content: start(2) + len(1) + stop(2).
	gt06FrameOverhead = 5
)

// GT06 message types.
const (
	gt06ProtoLogin     = 0x01
	gt06ProtoLocation  = 0x12
	gt06ProtoHeartbeat = 0x13
	gt06ProtoResponse  = 0x15
	gt06ProtoAlarm     = 0x16

	// gt06ProtoLocationAck is the server's reply type for position
	// reports.
	gt06ProtoLocationAck = 0x05
)

// GT06 location payload layout and flags.
const (
	// gt06LocationLen is the fixed head of a location payload: datetime(6)
	// + gps-info(1) + lat(4) + lon(4) + speed(1) + course/status(2).
	gt06LocationLen = 18

	// gt06CoordDiv converts the unsigned 32-bit coordinate fields to
	// decimal degrees (minutes * 30000).
	gt06CoordDiv = 1_800_000.0

	gt06CourseMask   = 0x03FF
	gt06FlagSouth    = 0x0400
	gt06FlagWest     = 0x0800
	gt06FlagFixValid = 0x1000

	// gt06IMEILen is the BCD-packed IMEI length in the login payload.
	gt06IMEILen = 8

	// gt06ResponseFlagLen is the server-flag prefix of a command
	// response payload.
	gt06ResponseFlagLen = 4
)

// GT06 alarm codes (last payload byte of an 0x16 frame).
const (
	gt06AlarmNormal     = 0x00
	gt06AlarmSOS        = 0x01
	gt06AlarmPowerCut   = 0x02
	gt06AlarmVibration  = 0x03
	gt06AlarmFenceIn    = 0x04
	gt06AlarmFenceOut   = 0x05
	gt06AlarmLowBattery = 0x06
	gt06AlarmOverSpeed  = 0x07
)

// gt06DecodeErrPrefix is the common error prefix for GT06 decode failures.
const gt06DecodeErrPrefix = "gt06 decode"

// -------------------------------------------------------------------------
// Checksum
// -------------------------------------------------------------------------

// ChecksumFunc computes the 2-byte GT06 frame check over the length,
// protocol and payload bytes.
type ChecksumFunc func(data []byte) uint16

// additiveChecksum is the default frame check: a plain 16-bit sum.
// Firmware variants that send ITU CRC16 instead still pass inbound
// verification because mismatches are tolerated (logged at debug).
func additiveChecksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}

// -------------------------------------------------------------------------
// GT06 Codec
// -------------------------------------------------------------------------

// GT06 implements the binary GT06 vendor protocol.
type GT06 struct {
	checksum ChecksumFunc
	logger   *slog.Logger
}

// GT06Option configures optional GT06 parameters.
type GT06Option func(*GT06)

// WithChecksum overrides the frame check algorithm used for outbound
// frames and inbound verification.
func WithChecksum(fn ChecksumFunc) GT06Option {
	return func(c *GT06) {
		if fn != nil {
			c.checksum = fn
		}
	}
}

// NewGT06 creates a GT06 codec with the additive default checksum.
func NewGT06(logger *slog.Logger, opts ...GT06Option) *GT06 {
	c := &GT06{
		checksum: additiveChecksum,
		logger:   logger.With(slog.String("component", "codec.gt06")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the protocol fingerprint.
func (c *GT06) Name() string { return "gt06" }

// Decode parses the first GT06 frame in buf.
//
// Wrong start bytes reject the buffer; a frame shorter than its declared
// length needs more data; a bad terminator or truncated payload is
// corrupt. Checksum verification is tolerant: a mismatch is logged at
// debug and the frame still decoded.
func (c *GT06) Decode(buf []byte) (*Event, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrNeedMoreData
	}
	if buf[0] != gt06Start1 {
		return nil, 0, ErrFrameRejected
	}
	if len(buf) == 1 {
		return nil, 0, ErrNeedMoreData
	}
	if buf[1] != gt06Start2 {
		return nil, 0, ErrFrameRejected
	}
	if len(buf) < 3 {
		return nil, 0, ErrNeedMoreData
	}

	contentLen := int(buf[2])
	if contentLen < gt06MinContent {
		return nil, 0, fmt.Errorf("%s: content length %d: %w",
			gt06DecodeErrPrefix, contentLen, ErrFrameCorrupt)
	}

	frameLen := contentLen + gt06FrameOverhead
	if len(buf) < frameLen {
		return nil, 0, ErrNeedMoreData
	}
	if buf[frameLen-2] != gt06Stop1 || buf[frameLen-1] != gt06Stop2 {
		return nil, 0, fmt.Errorf("%s: bad frame terminator: %w",
			gt06DecodeErrPrefix, ErrFrameCorrupt)
	}

	proto := buf[3]
	payload := buf[4 : contentLen+1]

	want := binary.BigEndian.Uint16(buf[contentLen+1 : contentLen+3])
	if got := c.checksum(buf[2 : contentLen+1]); got != want {
		c.logger.Debug("frame check mismatch, accepting frame",
			slog.Int("proto", int(proto)),
			slog.String("want", fmt.Sprintf("%04x", want)),
			slog.String("got", fmt.Sprintf("%04x", got)),
		)
	}

	ev, err := c.decodePayload(proto, payload)
	if err != nil {
		return nil, 0, err
	}
	// The frame serial occupies the last two payload bytes; location acks
	// echo its low byte back to the device.
	if len(payload) >= 2 {
		ev.Seq = binary.BigEndian.Uint16(payload[len(payload)-2:])
	}
	return ev, frameLen, nil
}

// decodePayload builds the event for one message type. Unlisted message
// types are surfaced as unknown events so odd firmware does not stall the
// session.
func (c *GT06) decodePayload(proto byte, payload []byte) (*Event, error) {
	switch proto {
	case gt06ProtoLogin:
		return c.decodeLogin(payload)
	case gt06ProtoLocation:
		loc, err := c.decodeLocation(payload)
		if err != nil {
			return nil, err
		}
		return &Event{Type: EventLocation, Location: loc}, nil
	case gt06ProtoHeartbeat:
		return c.decodeHeartbeat(payload)
	case gt06ProtoAlarm:
		return c.decodeAlarm(payload)
	case gt06ProtoResponse:
		return c.decodeResponse(payload)
	default:
		return &Event{
			Type: EventUnknown,
			Unknown: &UnknownData{
				Hex:            hex.EncodeToString(payload),
				ASCIIPrintable: asciiPrintable(payload),
				Length:         len(payload),
			},
		}, nil
	}
}

// decodeLogin expands the BCD-packed IMEI to its 16-digit string form,
// leading zero preserved.
func (c *GT06) decodeLogin(payload []byte) (*Event, error) {
	if len(payload) < gt06IMEILen {
		return nil, fmt.Errorf("%s: login payload %d bytes: %w",
			gt06DecodeErrPrefix, len(payload), ErrFrameCorrupt)
	}
	return &Event{
		Type: EventLogin,
		IMEI: hex.EncodeToString(payload[:gt06IMEILen]),
	}, nil
}

// decodeLocation parses the fixed 18-byte location head. Any LBS tail is
// consumed by the frame length but not decoded.
func (c *GT06) decodeLocation(p []byte) (*LocationData, error) {
	if len(p) < gt06LocationLen {
		return nil, fmt.Errorf("%s: location payload %d bytes: %w",
			gt06DecodeErrPrefix, len(p), ErrFrameCorrupt)
	}

	ts := time.Date(
		2000+int(p[0]), time.Month(p[1]), int(p[2]),
		int(p[3]), int(p[4]), int(p[5]), 0, time.UTC,
	)

	lat := float64(binary.BigEndian.Uint32(p[7:11])) / gt06CoordDiv
	lon := float64(binary.BigEndian.Uint32(p[11:15])) / gt06CoordDiv

	cs := binary.BigEndian.Uint16(p[16:18])
	if cs&gt06FlagSouth != 0 {
		lat = -lat
	}
	if cs&gt06FlagWest != 0 {
		lon = -lon
	}

	return &LocationData{
		Latitude:   lat,
		Longitude:  lon,
		Speed:      float64(p[15]),
		Course:     float64(cs & gt06CourseMask),
		Satellites: int(p[6] & 0x0F),
		Valid:      cs&gt06FlagFixValid != 0,
		RecordedAt: ts,
	}, nil
}

// decodeHeartbeat surfaces the voltage (0-6) and GSM (0-4) levels.
func (c *GT06) decodeHeartbeat(payload []byte) (*Event, error) {
	if len(payload) < 3 {
		return nil, fmt.Errorf("%s: heartbeat payload %d bytes: %w",
			gt06DecodeErrPrefix, len(payload), ErrFrameCorrupt)
	}
	return &Event{
		Type: EventHeartbeat,
		Heartbeat: &HeartbeatData{
			BatteryLevel:   int(payload[1]),
			SignalStrength: int(payload[2]),
		},
	}, nil
}

// decodeAlarm parses the location head and classifies the alert from the
// code byte that follows it.
func (c *GT06) decodeAlarm(payload []byte) (*Event, error) {
	if len(payload) <= gt06LocationLen {
		return nil, fmt.Errorf("%s: alarm payload %d bytes: %w",
			gt06DecodeErrPrefix, len(payload), ErrFrameCorrupt)
	}

	loc, err := c.decodeLocation(payload[:gt06LocationLen])
	if err != nil {
		return nil, err
	}

	return &Event{
		Type: EventAlarm,
		Alarm: &AlarmData{
			Kind:     gt06AlarmKind(payload[gt06LocationLen]),
			Location: loc,
		},
	}, nil
}

// decodeResponse strips the 4-byte server flag and the trailing frame
// serial, surfacing the ASCII content between them.
func (c *GT06) decodeResponse(payload []byte) (*Event, error) {
	if len(payload) < gt06ResponseFlagLen {
		return nil, fmt.Errorf("%s: response payload %d bytes: %w",
			gt06DecodeErrPrefix, len(payload), ErrFrameCorrupt)
	}
	content := payload[gt06ResponseFlagLen:]
	if len(content) >= 2 {
		content = content[:len(content)-2]
	}
	return &Event{
		Type: EventCommandResponse,
		Response: &CommandResponseData{
			Content: strings.TrimSpace(string(content)),
		},
	}, nil
}

// gt06AlarmKind maps an alarm code byte to an alert kind.
func gt06AlarmKind(code byte) AlertKind {
	switch code {
	case gt06AlarmNormal:
		return AlertNormal
	case gt06AlarmSOS:
		return AlertSOS
	case gt06AlarmPowerCut:
		return AlertPowerCut
	case gt06AlarmVibration:
		return AlertVibration
	case gt06AlarmFenceIn:
		return AlertFenceIn
	case gt06AlarmFenceOut:
		return AlertFenceOut
	case gt06AlarmLowBattery:
		return AlertOther
	case gt06AlarmOverSpeed:
		return AlertOverSpeed
	default:
		return AlertOther
	}
}

// -------------------------------------------------------------------------
// GT06 Encoding
// -------------------------------------------------------------------------

// EncodeAuthAck builds the login acknowledgement frame.
func (c *GT06) EncodeAuthAck(ok bool) []byte {
	return c.EncodeLoginAck(ok)
}

// EncodeLoginAck builds the login acknowledgement frame: data 0x01
// followed by the accept flag.
func (c *GT06) EncodeLoginAck(ok bool) []byte {
	flag := byte(0)
	if ok {
		flag = 1
	}
	return c.ackFrame([]byte{gt06ProtoLogin, flag})
}

// EncodeLocationAck builds the position acknowledgement frame, echoing
// the low byte of the frame serial.
func (c *GT06) EncodeLocationAck(seq uint16) []byte {
	return c.ackFrame([]byte{gt06ProtoLocationAck, 0x01, byte(seq & 0xFF)})
}

// EncodeHeartbeatAck builds the keepalive acknowledgement frame.
func (c *GT06) EncodeHeartbeatAck() []byte {
	return c.ackFrame([]byte{gt06ProtoHeartbeat, 0x01})
}

// EncodeCommand builds the server-to-device command frame for kind.
// Raw commands pass their params["raw"] bytes through as the frame data.
func (c *GT06) EncodeCommand(kind CommandKind, params map[string]any) ([]byte, error) {
	var data []byte
	switch kind {
	case CommandLocate:
		data = []byte{0x80, 0x01, 0x01, 0x01}
	case CommandReboot:
		data = []byte{0x80, 0x02, 0x01, 0x01}
	case CommandEngineStop:
		data = []byte{0x80, 0x05, 0x01, 0x01}
	case CommandEngineResume:
		data = []byte{0x80, 0x05, 0x01, 0x00}
	case CommandRaw:
		raw, ok := params["raw"].(string)
		if !ok || raw == "" {
			return nil, fmt.Errorf("gt06 encode %q: missing raw payload: %w",
				kind, ErrUnsupportedCommand)
		}
		data = []byte(raw)
	default:
		return nil, fmt.Errorf("gt06 encode %q: %w", kind, ErrUnsupportedCommand)
	}
	return c.commandFrame(data), nil
}

// ackFrame wraps data in a GT06 frame with length = len(data).
func (c *GT06) ackFrame(data []byte) []byte {
	return c.frame(byte(len(data)), data)
}

// commandFrame wraps data in a GT06 frame with length = len(data)+1.
func (c *GT06) commandFrame(data []byte) []byte {
	return c.frame(byte(len(data)+1), data)
}

// frame assembles start bytes, the length byte, data, the checksum over
// length+data, and the terminator.
func (c *GT06) frame(lengthByte byte, data []byte) []byte {
	out := make([]byte, 0, len(data)+7)
	out = append(out, gt06Start1, gt06Start2, lengthByte)
	out = append(out, data...)
	out = binary.BigEndian.AppendUint16(out, c.checksum(out[2:]))
	out = append(out, gt06Stop1, gt06Stop2)
	return out
}
