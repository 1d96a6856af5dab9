package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dantte-lp/gotrack/internal/store"
)

// -------------------------------------------------------------------------
// Registry Errors
// -------------------------------------------------------------------------

// Sentinel errors for device authentication.
var (
	// ErrDeviceNotFound indicates the IMEI has no device row.
	ErrDeviceNotFound = errors.New("device not registered")

	// ErrDeviceInactive indicates the device row exists but is
	// deactivated.
	ErrDeviceInactive = errors.New("device is deactivated")
)

// authErrPrefix is the common error prefix for authentication failures.
const authErrPrefix = "authenticate device"

// -------------------------------------------------------------------------
// Sweep Intervals
// -------------------------------------------------------------------------

const (
	// offlineSweepInterval is how often cached statuses are scanned for
	// silent devices.
	offlineSweepInterval = 60 * time.Second

	// offlineAfter is the silence threshold beyond which an online
	// device is marked offline.
	offlineAfter = 300 * time.Second

	// compactInterval is how often the status cache is compacted.
	compactInterval = 600 * time.Second

	// statusRetention is how long an untouched status row survives
	// compaction.
	statusRetention = 3600 * time.Second
)

// -------------------------------------------------------------------------
// Cached Device Status
// -------------------------------------------------------------------------

// deviceStatus is the registry's in-memory activity row for one IMEI.
// It feeds the offline sweep without store round-trips. Last write wins.
type deviceStatus struct {
	online        bool
	lastSeen      time.Time
	lastHeartbeat time.Time
	lastLogin     time.Time
	lastActivity  time.Time
	activityCount uint64
}

// SessionSnapshot is a read-only view of a registered session at a point
// in time. All fields are copies; no references to mutable state are held.
type SessionSnapshot struct {
	// ID is the session's unique id.
	ID string

	// IMEI is the authenticated device identity.
	IMEI string

	// Protocol is the session's codec fingerprint.
	Protocol string

	// RemoteAddr is the peer address of the device socket.
	RemoteAddr string

	// ConnectedAt is when the socket was accepted.
	ConnectedAt time.Time

	// LastSeen is the last inbound activity recorded for the device.
	LastSeen time.Time

	// ActivityCount is the number of decoded frames since the status row
	// was created.
	ActivityCount uint64
}

// -------------------------------------------------------------------------
// Registry
// -------------------------------------------------------------------------

// Registry maps authenticated IMEIs to their live sessions and keeps the
// per-device activity cache behind one RWMutex. Store calls never happen
// under the lock.
//
// At most one session is registered per IMEI: a second successful
// authentication displaces the first and the older socket is closed.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	statuses map[string]*deviceStatus

	store   store.Store
	logger  *slog.Logger
	metrics MetricsReporter
}

// RegistryOption configures optional Registry parameters.
type RegistryOption func(*Registry)

// WithRegistryMetrics sets the metrics reporter. If mr is nil, the no-op
// reporter is kept.
func WithRegistryMetrics(mr MetricsReporter) RegistryOption {
	return func(r *Registry) {
		if mr != nil {
			r.metrics = mr
		}
	}
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(st store.Store, logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		statuses: make(map[string]*deviceStatus),
		store:    st,
		logger:   logger.With(slog.String("component", "registry")),
		metrics:  noopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// -------------------------------------------------------------------------
// Authentication & Session Installation
// -------------------------------------------------------------------------

// Authenticate validates the IMEI against the store and installs the
// session. An existing session for the same IMEI is displaced: it leaves
// the map immediately and its socket is closed after the lock is
// released.
//
// Returns ErrDeviceNotFound for unknown IMEIs and ErrDeviceInactive for
// deactivated devices. The online flag and last_seen column are advanced
// in the store; a failure there is logged but does not undo the
// authentication.
func (r *Registry) Authenticate(ctx context.Context, sess *Session, imei string) (*store.Device, error) {
	dev, err := r.store.GetDeviceByIMEI(ctx, imei)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			return nil, fmt.Errorf("%s %s: %w", authErrPrefix, imei, ErrDeviceNotFound)
		}
		r.metrics.IncStoreErrors("get_device")
		return nil, fmt.Errorf("%s %s: %w", authErrPrefix, imei, err)
	}
	if !dev.Active {
		return nil, fmt.Errorf("%s %s: %w", authErrPrefix, imei, ErrDeviceInactive)
	}

	now := time.Now().UTC()

	r.mu.Lock()
	displaced := r.sessions[imei]
	if displaced == sess {
		displaced = nil
	}
	r.sessions[imei] = sess
	st := r.statusLocked(imei)
	st.online = true
	st.lastSeen = now
	st.lastActivity = now
	st.activityCount++
	r.mu.Unlock()

	if displaced != nil {
		r.metrics.SessionUnregistered(displaced.Protocol())
		r.logger.Info("session displaced by new authentication",
			slog.String("imei", imei),
			slog.String("old_session", displaced.ID()),
			slog.String("new_session", sess.ID()),
		)
		displaced.Close()
	}

	r.metrics.SessionRegistered(sess.Protocol())

	if err := r.store.SetOnline(ctx, imei, true); err != nil {
		r.metrics.IncStoreErrors("set_online")
		r.logger.Warn("set device online",
			slog.String("imei", imei),
			slog.String("error", err.Error()),
		)
	}

	return dev, nil
}

// Remove deletes the session for imei only if the registered session is
// this exact instance, so a displaced session cannot remove its
// displacer. Returns whether the session was removed.
func (r *Registry) Remove(imei string, sess *Session) bool {
	r.mu.Lock()
	current, ok := r.sessions[imei]
	if !ok || current != sess {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, imei)
	r.mu.Unlock()

	r.metrics.SessionUnregistered(sess.Protocol())
	return true
}

// Lookup returns the registered session for imei.
func (r *Registry) Lookup(imei string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[imei]
	return sess, ok
}

// Sessions returns a snapshot of all registered sessions.
func (r *Registry) Sessions() []SessionSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]SessionSnapshot, 0, len(r.sessions))
	for imei, sess := range r.sessions {
		snap := SessionSnapshot{
			ID:          sess.ID(),
			IMEI:        imei,
			Protocol:    sess.Protocol(),
			RemoteAddr:  sess.RemoteAddr(),
			ConnectedAt: sess.ConnectedAt(),
		}
		if st, ok := r.statuses[imei]; ok {
			snap.LastSeen = st.lastSeen
			snap.ActivityCount = st.activityCount
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

// -------------------------------------------------------------------------
// Liveness Updates
// -------------------------------------------------------------------------

// TouchActivity records inbound traffic for the cached status row. No
// store write: frame-rate activity stays in memory and the offline sweep
// reads it from there.
func (r *Registry) TouchActivity(imei string) {
	now := time.Now().UTC()

	r.mu.Lock()
	st := r.statusLocked(imei)
	st.online = true
	st.lastSeen = now
	st.lastActivity = now
	st.activityCount++
	r.mu.Unlock()
}

// TouchHeartbeat records a device heartbeat in cache and store.
func (r *Registry) TouchHeartbeat(ctx context.Context, imei string) error {
	now := time.Now().UTC()

	r.mu.Lock()
	st := r.statusLocked(imei)
	st.online = true
	st.lastSeen = now
	st.lastHeartbeat = now
	st.lastActivity = now
	st.activityCount++
	r.mu.Unlock()

	if err := r.store.TouchHeartbeat(ctx, imei); err != nil {
		r.metrics.IncStoreErrors("touch_heartbeat")
		return fmt.Errorf("touch heartbeat %s: %w", imei, err)
	}
	return nil
}

// TouchLogin records a device login in cache and store.
func (r *Registry) TouchLogin(ctx context.Context, imei string) error {
	now := time.Now().UTC()

	r.mu.Lock()
	st := r.statusLocked(imei)
	st.online = true
	st.lastSeen = now
	st.lastLogin = now
	st.lastActivity = now
	st.activityCount++
	r.mu.Unlock()

	if err := r.store.TouchLogin(ctx, imei); err != nil {
		r.metrics.IncStoreErrors("touch_login")
		return fmt.Errorf("touch login %s: %w", imei, err)
	}
	return nil
}

// MarkOffline flips the device offline in cache and store. The cached
// last_seen is kept so the device's silence window stays observable.
func (r *Registry) MarkOffline(ctx context.Context, imei string) error {
	r.mu.Lock()
	if st, ok := r.statuses[imei]; ok {
		st.online = false
	}
	r.mu.Unlock()

	if err := r.store.SetOnline(ctx, imei, false); err != nil {
		r.metrics.IncStoreErrors("set_online")
		return fmt.Errorf("mark offline %s: %w", imei, err)
	}
	return nil
}

// statusLocked returns the status row for imei, creating it if missing.
// Caller must hold the write lock.
func (r *Registry) statusLocked(imei string) *deviceStatus {
	st, ok := r.statuses[imei]
	if !ok {
		st = &deviceStatus{}
		r.statuses[imei] = st
	}
	return st
}

// -------------------------------------------------------------------------
// Periodic Sweeps
// -------------------------------------------------------------------------

// Run owns the registry's periodic sweeps: silent online devices are
// marked offline every 60s, and status rows untouched for an hour are
// compacted away every 10m. Blocks until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	sweep := time.NewTicker(offlineSweepInterval)
	defer sweep.Stop()
	compact := time.NewTicker(compactInterval)
	defer compact.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			r.sweepOffline(ctx)
		case <-compact.C:
			r.compactStatuses()
		}
	}
}

// sweepOffline marks devices offline whose cached status is online but
// silent beyond the threshold. Candidates are collected under the read
// lock; store writes happen outside it.
func (r *Registry) sweepOffline(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-offlineAfter)

	r.mu.RLock()
	var stale []string
	for imei, st := range r.statuses {
		if st.online && st.lastSeen.Before(cutoff) {
			stale = append(stale, imei)
		}
	}
	r.mu.RUnlock()

	for _, imei := range stale {
		if err := r.MarkOffline(ctx, imei); err != nil {
			r.logger.Warn("offline sweep",
				slog.String("imei", imei),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.logger.Info("device marked offline after silence",
			slog.String("imei", imei),
		)
	}
}

// compactStatuses drops cached status rows untouched for the retention
// window.
func (r *Registry) compactStatuses() {
	cutoff := time.Now().UTC().Add(-statusRetention)

	r.mu.Lock()
	dropped := 0
	for imei, st := range r.statuses {
		if st.lastActivity.Before(cutoff) {
			delete(r.statuses, imei)
			dropped++
		}
	}
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.Debug("status cache compacted",
			slog.Int("dropped", dropped),
		)
	}
}

// -------------------------------------------------------------------------
// Lifecycle
// -------------------------------------------------------------------------

// Close drains the registry: every registered session is closed. Their
// goroutines observe the closed sockets and unwind through their normal
// cleanup paths.
func (r *Registry) Close() {
	r.mu.Lock()
	drained := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		drained = append(drained, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range drained {
		r.metrics.SessionUnregistered(sess.Protocol())
		sess.Close()
	}

	r.logger.Info("registry drained",
		slog.Int("sessions_closed", len(drained)),
	)
}
