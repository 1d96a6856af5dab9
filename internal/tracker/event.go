package tracker

import (
	"fmt"
	"time"
)

// unknownFmt is the fallback format for Stringers on undefined enum values.
const unknownFmt = "Unknown(%d)"

// -------------------------------------------------------------------------
// Event Types
// -------------------------------------------------------------------------

// EventType identifies the semantic kind of a decoded device frame.
type EventType uint8

// Event types emitted by protocol codecs.
const (
	// EventLogin is an identification frame. It usually carries an IMEI;
	// the GPS303 login shape does not.
	EventLogin EventType = iota + 1

	// EventLocation is a position report.
	EventLocation

	// EventHeartbeat is a keepalive, optionally carrying battery and
	// signal levels.
	EventHeartbeat

	// EventAlarm is an alert condition (SOS, power cut, ...), usually
	// bundled with a position.
	EventAlarm

	// EventCommandResponse is the device's reply to a previously
	// dispatched command.
	EventCommandResponse

	// EventUnknown is a frame no specific codec recognized, surfaced by
	// the generic fallback.
	EventUnknown
)

// String returns the wire name of the event type. These names appear in
// the outbound envelope and in metric labels.
func (t EventType) String() string {
	switch t {
	case EventLogin:
		return "login"
	case EventLocation:
		return "location"
	case EventHeartbeat:
		return "heartbeat"
	case EventAlarm:
		return "alarm"
	case EventCommandResponse:
		return "command_response"
	case EventUnknown:
		return "unknown"
	default:
		return fmt.Sprintf(unknownFmt, uint8(t))
	}
}

// -------------------------------------------------------------------------
// Alert Kinds
// -------------------------------------------------------------------------

// AlertKind classifies an alarm event.
type AlertKind string

// Alert kinds as persisted and published. GT06 alarm codes map onto
// these; unrecognized codes fall back to AlertOther.
const (
	AlertSOS       AlertKind = "sos"
	AlertPowerCut  AlertKind = "power_cut"
	AlertVibration AlertKind = "vibration"
	AlertFenceIn   AlertKind = "fence_in"
	AlertFenceOut  AlertKind = "fence_out"
	AlertOverSpeed AlertKind = "over_speed"
	AlertNormal    AlertKind = "normal"
	AlertOther     AlertKind = "other"
)

// -------------------------------------------------------------------------
// Event Payloads
// -------------------------------------------------------------------------

// LocationData is the decoded body of a position report.
type LocationData struct {
	// Latitude in decimal degrees, south negative.
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees, west negative.
	Longitude float64 `json:"longitude"`

	// Speed in the unit the device reports (km/h for GT06, knots-derived
	// field for GPS303; stored as reported).
	Speed float64 `json:"speed"`

	// Course over ground in degrees.
	Course float64 `json:"course"`

	// Altitude in metres when the protocol carries one.
	Altitude float64 `json:"altitude,omitempty"`

	// Satellites in view.
	Satellites int `json:"satellites"`

	// Valid reports whether the device flagged the fix as valid.
	Valid bool `json:"valid"`

	// RecordedAt is the device timestamp, or the receipt time when the
	// frame carries none.
	RecordedAt time.Time `json:"recorded_at"`
}

// HeartbeatData is the decoded body of a keepalive frame.
type HeartbeatData struct {
	// BatteryLevel is the reported voltage level (GT06: 0-6).
	BatteryLevel int `json:"battery_level"`

	// SignalStrength is the reported GSM level (GT06: 0-4).
	SignalStrength int `json:"signal_strength"`
}

// AlarmData is the decoded body of an alert frame.
type AlarmData struct {
	// Kind classifies the alert.
	Kind AlertKind `json:"kind"`

	// Message is optional free text describing the alert.
	Message string `json:"message,omitempty"`

	// Location is the position bundled with the alert, when present.
	Location *LocationData `json:"location,omitempty"`
}

// CommandResponseData is the decoded body of a command reply frame.
type CommandResponseData struct {
	// Content is the device's reply text.
	Content string `json:"content"`
}

// UnknownData describes a frame consumed by the generic fallback codec.
type UnknownData struct {
	// Hex is the full frame, hex encoded.
	Hex string `json:"hex"`

	// ASCIIPrintable is the frame with non-printable bytes replaced by
	// dots.
	ASCIIPrintable string `json:"ascii_printable"`

	// Length is the frame size in bytes.
	Length int `json:"length"`
}

// -------------------------------------------------------------------------
// Event
// -------------------------------------------------------------------------

// Event is one decoded device frame. Exactly one of the payload pointers
// matching Type is set; the others are nil.
type Event struct {
	// Type is the semantic kind of the frame.
	Type EventType

	// IMEI is the device identity when the frame carries one.
	IMEI string

	// Seq is the frame serial when the protocol carries one. Echoed in
	// location acks.
	Seq uint16

	// Location is set for EventLocation.
	Location *LocationData

	// Heartbeat is set for EventHeartbeat.
	Heartbeat *HeartbeatData

	// Alarm is set for EventAlarm.
	Alarm *AlarmData

	// Response is set for EventCommandResponse.
	Response *CommandResponseData

	// Unknown is set for EventUnknown.
	Unknown *UnknownData
}

// Payload returns the type-specific body for the outbound envelope, or
// nil when the event type carries none (login).
func (e *Event) Payload() any {
	switch e.Type {
	case EventLocation:
		return e.Location
	case EventHeartbeat:
		return e.Heartbeat
	case EventAlarm:
		return e.Alarm
	case EventCommandResponse:
		return e.Response
	case EventUnknown:
		return e.Unknown
	default:
		return nil
	}
}
