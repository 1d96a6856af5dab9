// Package tracker implements the gateway domain core: vendor protocol
// codecs, typed device events and commands, the per-connection Session,
// the device Registry, the outbound command Dispatcher, and the event
// Publisher.
//
// Devices open long-lived TCP connections, identify themselves by IMEI,
// and stream position reports, heartbeats, and alarms in one of several
// vendor framings (GPS303, GT06, TK103, H02, with a generic fallback).
// The Session decodes inbound bytes through the codec Router, the
// Registry authenticates devices and tracks their liveness, the
// Publisher fans decoded events out to the message bus, and the
// Dispatcher consumes queued commands and writes them back on the
// device's socket.
package tracker
