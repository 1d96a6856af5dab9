package store

import (
	"context"
	"errors"
	"time"
)

// -------------------------------------------------------------------------
// Store Interface
// -------------------------------------------------------------------------

// Store abstracts the persistence operations needed by the gateway.
// This interface enables testing without a running PostgreSQL instance.
type Store interface {
	// GetDeviceByIMEI looks up a device registration by IMEI.
	// Returns ErrDeviceNotFound if no such device exists.
	GetDeviceByIMEI(ctx context.Context, imei string) (*Device, error)

	// ListDevices returns every registered device, ordered by IMEI.
	ListDevices(ctx context.Context) ([]Device, error)

	// SaveLocation persists a position report and populates its spatial
	// column from (longitude, latitude).
	SaveLocation(ctx context.Context, loc *Location) error

	// SaveAlert persists an alarm record.
	SaveAlert(ctx context.Context, alert *Alert) error

	// CreateCommand inserts a command row. Inserting an id that already
	// exists is a no-op.
	CreateCommand(ctx context.Context, cmd *Command) error

	// UpdateCommandStatus moves a command to the target status, stamping
	// the matching timestamp and recording update fields. The write is
	// guarded by the allowed-from set of the target status; a guard miss
	// affects zero rows and is treated as an idempotent no-op.
	UpdateCommandStatus(ctx context.Context, id string, status CommandStatus, update CommandUpdate) error

	// SetOnline flips a device's online flag. Going online also advances
	// last_seen.
	SetOnline(ctx context.Context, imei string, online bool) error

	// TouchHeartbeat records a heartbeat: last_heartbeat and last_seen
	// advance, online is set.
	TouchHeartbeat(ctx context.Context, imei string) error

	// TouchLogin records a login: last_login and last_seen advance,
	// online is set.
	TouchLogin(ctx context.Context, imei string) error

	// GetLastLocation returns the most recent location for a device.
	// Returns ErrLocationNotFound if the device has no locations.
	GetLastLocation(ctx context.Context, imei string) (*Location, error)

	// GetLocationHistory returns locations for a device recorded at or
	// after since, newest first, capped at limit (0 means no cap).
	GetLocationHistory(ctx context.Context, imei string, since time.Time, limit int) ([]Location, error)

	// GetNearby returns the latest known position of each device within
	// radiusKm great-circle kilometres of (lat, lon), nearest first.
	GetNearby(ctx context.Context, lat, lon, radiusKm float64) ([]NearbyResult, error)

	// GetSystemStats returns fleet-wide row counts.
	GetSystemStats(ctx context.Context) (*SystemStats, error)

	// Close releases the underlying database pool.
	Close() error
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrConnectFailed indicates the database connection could not be
	// established.
	ErrConnectFailed = errors.New("store connect failed")

	// ErrDeviceNotFound indicates no device row exists for the IMEI.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrLocationNotFound indicates the device has no recorded locations.
	ErrLocationNotFound = errors.New("no location recorded")

	// ErrInvalidStatus indicates a command status that is not a legal
	// transition target.
	ErrInvalidStatus = errors.New("invalid target command status")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store is closed")
)

// -------------------------------------------------------------------------
// Command Status Transitions
// -------------------------------------------------------------------------

// CommandStatus is the lifecycle state of a queued device command.
type CommandStatus string

// Command lifecycle states. Transitions are monotonic:
// pending -> sent -> acknowledged, with failed reachable from pending and
// sent. acknowledged and failed are terminal.
const (
	StatusPending      CommandStatus = "pending"
	StatusSent         CommandStatus = "sent"
	StatusAcknowledged CommandStatus = "acknowledged"
	StatusFailed       CommandStatus = "failed"
)

// commandTransitions maps each reachable target status to the set of
// statuses a command may hold immediately before the move.
var commandTransitions = map[CommandStatus][]CommandStatus{
	StatusSent:         {StatusPending},
	StatusAcknowledged: {StatusSent},
	StatusFailed:       {StatusPending, StatusSent},
}

// AllowedFrom returns the statuses a command may hold before moving to
// target. An empty slice means target is not a legal transition target.
func AllowedFrom(target CommandStatus) []CommandStatus {
	return commandTransitions[target]
}

// TransitionAllowed reports whether a command in status from may move to
// status to.
func TransitionAllowed(from, to CommandStatus) bool {
	for _, s := range commandTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// -------------------------------------------------------------------------
// Operation Value Types
// -------------------------------------------------------------------------

// CommandUpdate carries the optional fields written alongside a command
// status change.
type CommandUpdate struct {
	// Response is the device's reply content (acknowledged).
	Response string

	// Error is the failure reason (failed).
	Error string
}

// NearbyResult is one row of a GetNearby proximity query: the latest known
// position of a device inside the search radius.
type NearbyResult struct {
	DeviceID       uint
	IMEI           string
	Latitude       float64
	Longitude      float64
	DistanceMeters float64
	RecordedAt     time.Time
}

// SystemStats holds fleet-wide row counts for operational visibility.
type SystemStats struct {
	Devices         int64
	DevicesOnline   int64
	Locations       int64
	Alerts          int64
	Commands        int64
	CommandsPending int64
}
