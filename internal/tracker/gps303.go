package tracker

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// -------------------------------------------------------------------------
// GPS303 Protocol Constants
// -------------------------------------------------------------------------

// GPS303 is line-oriented ASCII with two frame shapes: a "##" login that
// carries no IMEI, and an "imei:" position line with at least 12
// comma-separated fields.
const (
	gps303LoginPrefix    = "##"
	gps303PositionPrefix = "imei:"

	// gps303MinFields is the field count of a complete position line.
	gps303MinFields = 12

	// gps303TimeLayout parses the YYMMDDhhmmss datetime field.
	gps303TimeLayout = "060102150405"
)

// Position line field indices.
const (
	gps303FieldIMEI     = 0
	gps303FieldDatetime = 2
	gps303FieldValidity = 6
	gps303FieldLat      = 7
	gps303FieldLatHemi  = 8
	gps303FieldLon      = 9
	gps303FieldLonHemi  = 10
	gps303FieldSpeed    = 11
)

// gps303DecodeErrPrefix is the common error prefix for GPS303 decode
// failures.
const gps303DecodeErrPrefix = "gps303 decode"

// -------------------------------------------------------------------------
// GPS303 Codec
// -------------------------------------------------------------------------

// GPS303 implements the ASCII GPS303 vendor protocol.
type GPS303 struct{}

// NewGPS303 creates a GPS303 codec.
func NewGPS303() *GPS303 { return &GPS303{} }

// Name returns the protocol fingerprint.
func (c *GPS303) Name() string { return "gps303" }

// Decode parses the buffer as one GPS303 frame. Both frame shapes consume
// the entire buffer. A buffer that is a strict prefix of "##" or "imei:"
// needs more data.
func (c *GPS303) Decode(buf []byte) (*Event, int, error) {
	switch {
	case bytes.HasPrefix(buf, []byte(gps303LoginPrefix)):
		// Login carries no IMEI; the device identifies itself on a later
		// position line.
		return &Event{Type: EventLogin}, len(buf), nil

	case bytes.HasPrefix(buf, []byte(gps303PositionPrefix)):
		return c.decodePosition(buf)

	case isPrefixOf(buf, gps303LoginPrefix) || isPrefixOf(buf, gps303PositionPrefix):
		return nil, 0, ErrNeedMoreData

	default:
		return nil, 0, ErrFrameRejected
	}
}

// decodePosition parses an imei: position line.
func (c *GPS303) decodePosition(buf []byte) (*Event, int, error) {
	line := strings.TrimRight(string(buf), "\r\n;")
	fields := strings.Split(line, ",")
	if len(fields) < gps303MinFields {
		return nil, 0, ErrNeedMoreData
	}

	imei := strings.TrimPrefix(fields[gps303FieldIMEI], gps303PositionPrefix)

	lat, err := dmmToDegrees(fields[gps303FieldLat], fields[gps303FieldLatHemi])
	if err != nil {
		return nil, 0, fmt.Errorf("%s: latitude: %w: %w",
			gps303DecodeErrPrefix, err, ErrFrameCorrupt)
	}
	lon, err := dmmToDegrees(fields[gps303FieldLon], fields[gps303FieldLonHemi])
	if err != nil {
		return nil, 0, fmt.Errorf("%s: longitude: %w: %w",
			gps303DecodeErrPrefix, err, ErrFrameCorrupt)
	}

	// Speed is best-effort: some firmware leaves the field empty.
	speed, _ := strconv.ParseFloat(fields[gps303FieldSpeed], 64)

	ts := time.Now().UTC()
	if parsed, pErr := time.Parse(gps303TimeLayout, fields[gps303FieldDatetime]); pErr == nil {
		ts = parsed
	}

	return &Event{
		Type: EventLocation,
		IMEI: imei,
		Location: &LocationData{
			Latitude:   lat,
			Longitude:  lon,
			Speed:      speed,
			Valid:      fields[gps303FieldValidity] == "A",
			RecordedAt: ts,
		},
	}, len(buf), nil
}

// -------------------------------------------------------------------------
// GPS303 Encoding
// -------------------------------------------------------------------------

// EncodeAuthAck replies LOAD to a login frame.
func (c *GPS303) EncodeAuthAck(bool) []byte { return []byte("LOAD") }

// EncodeLoginAck replies LOAD.
func (c *GPS303) EncodeLoginAck(bool) []byte { return []byte("LOAD") }

// EncodeLocationAck replies ON.
func (c *GPS303) EncodeLocationAck(uint16) []byte { return []byte("ON") }

// EncodeHeartbeatAck replies ON.
func (c *GPS303) EncodeHeartbeatAck() []byte { return []byte("ON") }

// EncodeCommand is unsupported: the protocol defines no server-to-device
// command encoding here.
func (c *GPS303) EncodeCommand(kind CommandKind, _ map[string]any) ([]byte, error) {
	return nil, fmt.Errorf("gps303 encode %q: %w", kind, ErrUnsupportedCommand)
}

// -------------------------------------------------------------------------
// ASCII Helpers
// -------------------------------------------------------------------------

// isPrefixOf reports whether buf is a strict prefix of want, meaning more
// bytes could still complete the marker.
func isPrefixOf(buf []byte, want string) bool {
	return len(buf) < len(want) && strings.HasPrefix(want, string(buf))
}

// dmmToDegrees converts a DDMM.MMMM (or DDDMM.MMMM) coordinate with its
// hemisphere letter to signed decimal degrees.
func dmmToDegrees(val, hemi string) (float64, error) {
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, err
	}
	deg := math.Floor(f / 100)
	dec := deg + (f-deg*100)/60
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, nil
}
