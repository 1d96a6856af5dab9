package tracker_test

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dantte-lp/gotrack/internal/bus"
	"github.com/dantte-lp/gotrack/internal/store"
	"github.com/dantte-lp/gotrack/internal/tracker"
)

// -------------------------------------------------------------------------
// Shared Test Helpers
// -------------------------------------------------------------------------

// errNoDatabase stands in for a store outage in failure-injection tests.
var errNoDatabase = errors.New("database unavailable")

// discardLogger returns a logger that drops everything.
func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// buildGT06 assembles a device-side GT06 frame: start bytes, length byte,
// proto, payload, 2-byte serial, additive frame check, terminator.
func buildGT06(proto byte, payload []byte, serial uint16) []byte {
	content := make([]byte, 0, len(payload)+3)
	content = append(content, proto)
	content = append(content, payload...)
	content = binary.BigEndian.AppendUint16(content, serial)

	frame := make([]byte, 0, len(content)+7)
	frame = append(frame, 0x78, 0x78, byte(len(content)+2))
	frame = append(frame, content...)

	var sum uint16
	for _, b := range frame[2:] {
		sum += uint16(b)
	}
	frame = binary.BigEndian.AppendUint16(frame, sum)
	return append(frame, 0x0D, 0x0A)
}

// gt06LocationBody builds the fixed 18-byte location head from raw
// coordinate words and a course/status word.
func gt06LocationBody(ts time.Time, latRaw, lonRaw uint32, speed byte, courseStatus uint16, sats byte) []byte {
	p := make([]byte, 18)
	p[0] = byte(ts.Year() - 2000)
	p[1] = byte(ts.Month())
	p[2] = byte(ts.Day())
	p[3] = byte(ts.Hour())
	p[4] = byte(ts.Minute())
	p[5] = byte(ts.Second())
	p[6] = 0xC0 | (sats & 0x0F)
	binary.BigEndian.PutUint32(p[7:11], latRaw)
	binary.BigEndian.PutUint32(p[11:15], lonRaw)
	p[15] = speed
	binary.BigEndian.PutUint16(p[16:18], courseStatus)
	return p
}

// testIMEI is the device identity used across session and dispatcher tests.
const testIMEI = "0359710045490084"

// gt06LoginFrame returns a login frame for testIMEI.
func gt06LoginFrame(serial uint16) []byte {
	imei := []byte{0x03, 0x59, 0x71, 0x00, 0x45, 0x49, 0x00, 0x84}
	return buildGT06(0x01, imei, serial)
}

// -------------------------------------------------------------------------
// Fake Store
// -------------------------------------------------------------------------

// onlineCall records one SetOnline invocation.
type onlineCall struct {
	imei   string
	online bool
}

// fakeStore is an in-memory store.Store with call recording and error
// injection. Safe for concurrent use.
type fakeStore struct {
	mu sync.Mutex

	devices  map[string]store.Device
	nextLoc  uint
	locs     []store.Location
	alerts   []store.Alert
	commands map[string]*store.Command

	onlineCalls      []onlineCall
	heartbeatTouches []string
	loginTouches     []string

	failGetDevice     error
	failSaveLocation  error
	failSaveAlert     error
	failCreateCommand error
	failUpdateCommand error
	failTouchLogin    error
	failTouchBeat     error
	failSetOnline     error
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		devices:  make(map[string]store.Device),
		commands: make(map[string]*store.Command),
	}
}

func (f *fakeStore) addDevice(imei string, id uint, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[imei] = store.Device{ID: id, IMEI: imei, Active: active}
}

// seedCommand installs a command row directly in the given status.
func (f *fakeStore) seedCommand(id string, status store.CommandStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands[id] = &store.Command{ID: id, Status: status}
}

func (f *fakeStore) GetDeviceByIMEI(_ context.Context, imei string) (*store.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGetDevice != nil {
		return nil, f.failGetDevice
	}
	dev, ok := f.devices[imei]
	if !ok {
		return nil, store.ErrDeviceNotFound
	}
	return &dev, nil
}

func (f *fakeStore) ListDevices(context.Context) ([]store.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Device, 0, len(f.devices))
	for _, dev := range f.devices {
		out = append(out, dev)
	}
	return out, nil
}

func (f *fakeStore) SaveLocation(_ context.Context, loc *store.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaveLocation != nil {
		return f.failSaveLocation
	}
	f.nextLoc++
	loc.ID = f.nextLoc
	f.locs = append(f.locs, *loc)
	return nil
}

func (f *fakeStore) SaveAlert(_ context.Context, alert *store.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaveAlert != nil {
		return f.failSaveAlert
	}
	f.alerts = append(f.alerts, *alert)
	return nil
}

func (f *fakeStore) CreateCommand(_ context.Context, cmd *store.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateCommand != nil {
		return f.failCreateCommand
	}
	if _, exists := f.commands[cmd.ID]; exists {
		return nil
	}
	cp := *cmd
	if cp.Status == "" {
		cp.Status = store.StatusPending
	}
	f.commands[cmd.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateCommandStatus(_ context.Context, id string, status store.CommandStatus, update store.CommandUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdateCommand != nil {
		return f.failUpdateCommand
	}
	cmd, ok := f.commands[id]
	if !ok || !store.TransitionAllowed(cmd.Status, status) {
		// Guard miss: zero rows affected.
		return nil
	}
	now := time.Now().UTC()
	cmd.Status = status
	switch status {
	case store.StatusSent:
		cmd.SentAt = &now
	case store.StatusAcknowledged:
		cmd.AckAt = &now
		if update.Response != "" {
			cmd.Response = update.Response
		}
	case store.StatusFailed:
		cmd.FailedAt = &now
		if update.Error != "" {
			cmd.Error = update.Error
		}
	case store.StatusPending:
	}
	return nil
}

func (f *fakeStore) SetOnline(_ context.Context, imei string, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSetOnline != nil {
		return f.failSetOnline
	}
	f.onlineCalls = append(f.onlineCalls, onlineCall{imei: imei, online: online})
	return nil
}

func (f *fakeStore) TouchHeartbeat(_ context.Context, imei string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTouchBeat != nil {
		return f.failTouchBeat
	}
	f.heartbeatTouches = append(f.heartbeatTouches, imei)
	return nil
}

func (f *fakeStore) TouchLogin(_ context.Context, imei string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTouchLogin != nil {
		return f.failTouchLogin
	}
	f.loginTouches = append(f.loginTouches, imei)
	return nil
}

func (f *fakeStore) GetLastLocation(context.Context, string) (*store.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.locs) == 0 {
		return nil, store.ErrLocationNotFound
	}
	loc := f.locs[len(f.locs)-1]
	return &loc, nil
}

func (f *fakeStore) GetLocationHistory(context.Context, string, time.Time, int) ([]store.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Location(nil), f.locs...), nil
}

func (f *fakeStore) GetNearby(context.Context, float64, float64, float64) ([]store.NearbyResult, error) {
	return nil, nil
}

func (f *fakeStore) GetSystemStats(context.Context) (*store.SystemStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &store.SystemStats{
		Devices:   int64(len(f.devices)),
		Locations: int64(len(f.locs)),
		Alerts:    int64(len(f.alerts)),
		Commands:  int64(len(f.commands)),
	}, nil
}

func (f *fakeStore) Close() error { return nil }

// --- Recorded-call accessors ---

func (f *fakeStore) locations() []store.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Location(nil), f.locs...)
}

func (f *fakeStore) alertRows() []store.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Alert(nil), f.alerts...)
}

func (f *fakeStore) command(id string) (store.Command, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd, ok := f.commands[id]
	if !ok {
		return store.Command{}, false
	}
	return *cmd, true
}

func (f *fakeStore) onlineHistory() []onlineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]onlineCall(nil), f.onlineCalls...)
}

func (f *fakeStore) offlineWrites(imei string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.onlineCalls {
		if c.imei == imei && !c.online {
			n++
		}
	}
	return n
}

func (f *fakeStore) loginTouchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loginTouches)
}

func (f *fakeStore) heartbeatTouchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.heartbeatTouches)
}

// -------------------------------------------------------------------------
// Fake Bus
// -------------------------------------------------------------------------

// fakeBus is an in-memory bus.Bus: publishes are recorded per queue and
// consumes drain a test-fed delivery channel.
type fakeBus struct {
	mu          sync.Mutex
	published   map[string][][]byte
	failPublish error

	deliveries chan bus.Delivery
}

var _ bus.Bus = (*fakeBus)(nil)

func newFakeBus() *fakeBus {
	return &fakeBus{
		published:  make(map[string][][]byte),
		deliveries: make(chan bus.Delivery, 16),
	}
}

func (f *fakeBus) Publish(_ context.Context, queue string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPublish != nil {
		return f.failPublish
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	f.published[queue] = append(f.published[queue], cp)
	return nil
}

func (f *fakeBus) Consume(ctx context.Context, _ string, handler bus.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-f.deliveries:
			handler(ctx, d)
		}
	}
}

func (f *fakeBus) Purge(context.Context, string) (int, error) { return 0, nil }

func (f *fakeBus) QueueStats(_ context.Context, queue string) (bus.QueueStats, error) {
	return bus.QueueStats{Name: queue}, nil
}

func (f *fakeBus) Close() error { return nil }

// queueBodies returns the bodies published to one queue.
func (f *fakeBus) queueBodies(queue string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.published[queue]...)
}

// -------------------------------------------------------------------------
// Fake Delivery
// -------------------------------------------------------------------------

// fakeDelivery records its acknowledgement outcome and signals done.
type fakeDelivery struct {
	body []byte

	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
	done    chan struct{}
}

var _ bus.Delivery = (*fakeDelivery)(nil)

func newFakeDelivery(body string) *fakeDelivery {
	return &fakeDelivery{body: []byte(body), done: make(chan struct{})}
}

func (d *fakeDelivery) Body() []byte { return d.body }

func (d *fakeDelivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.acked && !d.nacked {
		d.acked = true
		close(d.done)
	}
	return nil
}

func (d *fakeDelivery) Nack(requeue bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.acked && !d.nacked {
		d.nacked = true
		d.requeue = requeue
		close(d.done)
	}
	return nil
}

// wait blocks until the delivery is acked or nacked.
func (d *fakeDelivery) wait(t *testing.T) {
	t.Helper()
	select {
	case <-d.done:
	case <-time.After(3 * time.Second):
		t.Fatal("delivery was not resolved")
	}
}

// outcome returns (acked, nacked, requeued).
func (d *fakeDelivery) outcome() (bool, bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked, d.nacked, d.requeue
}

// -------------------------------------------------------------------------
// Fake Metrics
// -------------------------------------------------------------------------

// fakeMetrics counts reporter calls for assertions.
type fakeMetrics struct {
	mu              sync.Mutex
	connOpened      int
	connClosed      int
	authFailures    int
	framesRejected  int
	bufferOverflows int
	outcomes        map[string]int
	busErrors       map[string]int
	storeErrors     map[string]int
}

var _ tracker.MetricsReporter = (*fakeMetrics)(nil)

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		outcomes:    make(map[string]int),
		busErrors:   make(map[string]int),
		storeErrors: make(map[string]int),
	}
}

func (m *fakeMetrics) ConnOpened()   { m.mu.Lock(); m.connOpened++; m.mu.Unlock() }
func (m *fakeMetrics) ConnClosed()   { m.mu.Lock(); m.connClosed++; m.mu.Unlock() }
func (m *fakeMetrics) IncAuthFailures() {
	m.mu.Lock()
	m.authFailures++
	m.mu.Unlock()
}
func (m *fakeMetrics) IncFramesRejected() {
	m.mu.Lock()
	m.framesRejected++
	m.mu.Unlock()
}
func (m *fakeMetrics) IncBufferOverflows() {
	m.mu.Lock()
	m.bufferOverflows++
	m.mu.Unlock()
}
func (m *fakeMetrics) IncCommandsDispatched(outcome string) {
	m.mu.Lock()
	m.outcomes[outcome]++
	m.mu.Unlock()
}

func (m *fakeMetrics) IncStoreErrors(op string) {
	m.mu.Lock()
	m.storeErrors[op]++
	m.mu.Unlock()
}
func (m *fakeMetrics) IncBusErrors(op string) {
	m.mu.Lock()
	m.busErrors[op]++
	m.mu.Unlock()
}

func (m *fakeMetrics) SessionRegistered(string)        {}
func (m *fakeMetrics) SessionUnregistered(string)      {}
func (m *fakeMetrics) IncFramesDecoded(string, string) {}
func (m *fakeMetrics) AddBytesRead(int)                {}
func (m *fakeMetrics) AddBytesWritten(int)             {}
func (m *fakeMetrics) IncEventsPublished(string)       {}
func (m *fakeMetrics) ObserveCommandLatency(float64)   {}

func (m *fakeMetrics) counts() (opened, closed, authFail, overflow int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connOpened, m.connClosed, m.authFailures, m.bufferOverflows
}

func (m *fakeMetrics) outcomeCount(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[outcome]
}

func (m *fakeMetrics) busErrorCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busErrors[op]
}

// -------------------------------------------------------------------------
// Session Test Environment
// -------------------------------------------------------------------------

// testEnv bundles the gateway collaborators around one fake store and bus
// so several sessions (and a dispatcher) can share a registry.
type testEnv struct {
	store   *fakeStore
	bus     *fakeBus
	metrics *fakeMetrics
	logger  *slog.Logger

	registry  *tracker.Registry
	router    *tracker.Router
	publisher *tracker.Publisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := discardLogger()
	st := newFakeStore()
	fb := newFakeBus()
	return &testEnv{
		store:     st,
		bus:       fb,
		metrics:   newFakeMetrics(),
		logger:    logger,
		registry:  tracker.NewRegistry(st, logger),
		router:    tracker.NewRouter(logger),
		publisher: tracker.NewPublisher(fb, logger),
	}
}

// sessionHarness is one running session plus the client side of its pipe.
type sessionHarness struct {
	t      *testing.T
	env    *testEnv
	client net.Conn
	sess   *tracker.Session
	cancel context.CancelFunc
	done   chan struct{}
}

// startSession wires a net.Pipe session into the environment and runs it.
// The harness is stopped via t.Cleanup.
func (env *testEnv) startSession(t *testing.T, cfg tracker.SessionConfig) *sessionHarness {
	t.Helper()

	client, server := net.Pipe()
	sess := tracker.NewSession(server, cfg, tracker.SessionDeps{
		Router:    env.router,
		Registry:  env.registry,
		Store:     env.store,
		Publisher: env.publisher,
	}, env.logger, tracker.WithSessionMetrics(env.metrics))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx)
	}()

	h := &sessionHarness{
		t:      t,
		env:    env,
		client: client,
		sess:   sess,
		cancel: cancel,
		done:   done,
	}
	t.Cleanup(h.stop)
	return h
}

// stop closes both pipe ends and joins the session goroutine.
func (h *sessionHarness) stop() {
	h.cancel()
	_ = h.client.Close()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		h.t.Error("session goroutine did not stop")
	}
}

// waitDone blocks until the session goroutine exits on its own.
func (h *sessionHarness) waitDone() {
	h.t.Helper()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		h.t.Fatal("session did not terminate")
	}
}

// write sends device bytes into the session.
func (h *sessionHarness) write(b []byte) {
	h.t.Helper()
	_ = h.client.SetWriteDeadline(time.Now().Add(3 * time.Second))
	if _, err := h.client.Write(b); err != nil {
		h.t.Fatalf("write to session: %v", err)
	}
}

// readReply returns the next chunk the session writes to the device.
func (h *sessionHarness) readReply() []byte {
	h.t.Helper()
	_ = h.client.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 256)
	n, err := h.client.Read(buf)
	if err != nil {
		h.t.Fatalf("read reply: %v", err)
	}
	return buf[:n]
}

// expectSilence asserts the session writes nothing within the window.
func (h *sessionHarness) expectSilence(window time.Duration) {
	h.t.Helper()
	_ = h.client.SetReadDeadline(time.Now().Add(window))
	buf := make([]byte, 64)
	n, err := h.client.Read(buf)
	if err == nil {
		h.t.Fatalf("expected no reply, got % x", buf[:n])
	}
	var nerr net.Error
	if !errors.As(err, &nerr) || !nerr.Timeout() {
		h.t.Fatalf("expected read timeout, got %v", err)
	}
}

// loginGT06 authenticates the session as testIMEI over GT06 and consumes
// the login ack.
func (h *sessionHarness) loginGT06() {
	h.t.Helper()
	h.write(gt06LoginFrame(0x0001))
	reply := h.readReply()
	want := []byte{0x78, 0x78, 0x02, 0x01, 0x01, 0x00, 0x04, 0x0D, 0x0A}
	if string(reply) != string(want) {
		h.t.Fatalf("login ack = % x, want % x", reply, want)
	}
}
