//go:build integration

package integration_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dantte-lp/gotrack/internal/store"
)

// openPostgres connects the adapter under test plus a raw seed
// connection. Devices are provisioned outside the gateway, so fixtures
// go in through plain GORM rather than the Store interface.
func openPostgres(t *testing.T) (*store.Postgres, *gorm.DB) {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	st, err := store.NewPostgres(store.PostgresConfig{URL: url}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("connect store: %v", err)
	}
	t.Cleanup(func() {
		if cErr := st.Close(); cErr != nil {
			t.Errorf("close store: %v", cErr)
		}
	})

	raw, err := gorm.Open(postgres.Open(url), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open seed connection: %v", err)
	}
	return st, raw
}

// seedDevice inserts a device with a unique IMEI and removes it, and
// every row hanging off it, when the test ends.
func seedDevice(t *testing.T, raw *gorm.DB) store.Device {
	t.Helper()

	dev := store.Device{
		IMEI:      fmt.Sprintf("99%013d", time.Now().UnixNano()%10_000_000_000_000),
		CompanyID: 7,
		Active:    true,
	}
	if err := raw.Create(&dev).Error; err != nil {
		t.Fatalf("seed device: %v", err)
	}
	t.Cleanup(func() {
		raw.Where("device_id = ?", dev.ID).Delete(&store.Location{})
		raw.Where("device_id = ?", dev.ID).Delete(&store.Alert{})
		raw.Where("device_id = ?", dev.ID).Delete(&store.Command{})
		raw.Delete(&store.Device{}, dev.ID)
	})
	return dev
}

func fetchCommand(t *testing.T, raw *gorm.DB, id string) store.Command {
	t.Helper()
	var row store.Command
	if err := raw.First(&row, "id = ?", id).Error; err != nil {
		t.Fatalf("fetch command %s: %v", id, err)
	}
	return row
}

func TestPostgresDeviceLifecycle(t *testing.T) {
	st, raw := openPostgres(t)
	dev := seedDevice(t, raw)
	ctx := context.Background()

	got, err := st.GetDeviceByIMEI(ctx, dev.IMEI)
	if err != nil {
		t.Fatalf("GetDeviceByIMEI: %v", err)
	}
	if got.ID != dev.ID || !got.Active {
		t.Errorf("device lookup: got id=%d active=%t, want id=%d active=true", got.ID, got.Active, dev.ID)
	}

	if _, err := st.GetDeviceByIMEI(ctx, "000000000000000"); !errors.Is(err, store.ErrDeviceNotFound) {
		t.Errorf("unknown IMEI: got %v, want ErrDeviceNotFound", err)
	}

	if err := st.TouchLogin(ctx, dev.IMEI); err != nil {
		t.Fatalf("TouchLogin: %v", err)
	}
	got, err = st.GetDeviceByIMEI(ctx, dev.IMEI)
	if err != nil {
		t.Fatalf("GetDeviceByIMEI after login: %v", err)
	}
	if !got.Online {
		t.Error("device not online after TouchLogin")
	}
	if got.LastLogin.IsZero() || got.LastSeen.IsZero() {
		t.Error("TouchLogin did not stamp last_login and last_seen")
	}

	if err := st.TouchHeartbeat(ctx, dev.IMEI); err != nil {
		t.Fatalf("TouchHeartbeat: %v", err)
	}
	got, err = st.GetDeviceByIMEI(ctx, dev.IMEI)
	if err != nil {
		t.Fatalf("GetDeviceByIMEI after heartbeat: %v", err)
	}
	if got.LastHeartbeat.IsZero() {
		t.Error("TouchHeartbeat did not stamp last_heartbeat")
	}

	if err := st.SetOnline(ctx, dev.IMEI, false); err != nil {
		t.Fatalf("SetOnline(false): %v", err)
	}
	got, err = st.GetDeviceByIMEI(ctx, dev.IMEI)
	if err != nil {
		t.Fatalf("GetDeviceByIMEI after offline: %v", err)
	}
	if got.Online {
		t.Error("device still online after SetOnline(false)")
	}
}

func TestPostgresLocationQueries(t *testing.T) {
	st, raw := openPostgres(t)
	dev := seedDevice(t, raw)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	points := []store.Location{
		{DeviceID: dev.ID, Latitude: 22.5000, Longitude: 43.1666, Speed: 10, RecordedAt: base.Add(-2 * time.Hour)},
		{DeviceID: dev.ID, Latitude: 22.5010, Longitude: 43.1676, Speed: 20, RecordedAt: base.Add(-time.Hour)},
		{DeviceID: dev.ID, Latitude: 22.5020, Longitude: 43.1686, Speed: 30, RecordedAt: base},
	}
	for i := range points {
		if err := st.SaveLocation(ctx, &points[i]); err != nil {
			t.Fatalf("SaveLocation %d: %v", i, err)
		}
	}

	last, err := st.GetLastLocation(ctx, dev.IMEI)
	if err != nil {
		t.Fatalf("GetLastLocation: %v", err)
	}
	if last.Speed != 30 {
		t.Errorf("last location speed: got %v, want 30", last.Speed)
	}

	// A device that never reported yet has no last location.
	empty := seedDevice(t, raw)
	if _, err := st.GetLastLocation(ctx, empty.IMEI); !errors.Is(err, store.ErrLocationNotFound) {
		t.Errorf("last location without reports: got %v, want ErrLocationNotFound", err)
	}
	if _, err := st.GetLastLocation(ctx, "000000000000000"); !errors.Is(err, store.ErrDeviceNotFound) {
		t.Errorf("last location of unknown device: got %v, want ErrDeviceNotFound", err)
	}

	hist, err := st.GetLocationHistory(ctx, dev.IMEI, base.Add(-90*time.Minute), 0)
	if err != nil {
		t.Fatalf("GetLocationHistory: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history length: got %d, want 2", len(hist))
	}
	if hist[0].Speed != 30 || hist[1].Speed != 20 {
		t.Errorf("history order: got speeds %v, %v; want 30, 20", hist[0].Speed, hist[1].Speed)
	}

	capped, err := st.GetLocationHistory(ctx, dev.IMEI, base.Add(-3*time.Hour), 1)
	if err != nil {
		t.Fatalf("GetLocationHistory with limit: %v", err)
	}
	if len(capped) != 1 || capped[0].Speed != 30 {
		t.Fatalf("capped history: got %d rows, want only the newest", len(capped))
	}

	near, err := st.GetNearby(ctx, 22.5020, 43.1686, 5)
	if err != nil {
		t.Fatalf("GetNearby: %v", err)
	}
	var hit *store.NearbyResult
	for i := range near {
		if near[i].IMEI == dev.IMEI {
			hit = &near[i]
			break
		}
	}
	if hit == nil {
		t.Fatal("seeded device missing from nearby results")
	}
	if hit.DistanceMeters > 50 {
		t.Errorf("nearby distance: got %.1f m, want ~0", hit.DistanceMeters)
	}
	if hit.Latitude != 22.5020 {
		t.Errorf("nearby returned a stale position: got lat %v, want 22.5020", hit.Latitude)
	}
}

func TestPostgresCommandLifecycle(t *testing.T) {
	st, raw := openPostgres(t)
	dev := seedDevice(t, raw)
	ctx := context.Background()

	cmd := &store.Command{
		ID:       fmt.Sprintf("cmd-it-%d", time.Now().UnixNano()),
		DeviceID: dev.ID,
		IMEI:     dev.IMEI,
		Kind:     "engine_stop",
		Status:   store.StatusPending,
	}
	if err := st.CreateCommand(ctx, cmd); err != nil {
		t.Fatalf("CreateCommand: %v", err)
	}
	if err := st.CreateCommand(ctx, cmd); err != nil {
		t.Errorf("duplicate CreateCommand: got %v, want nil", err)
	}
	var n int64
	if err := raw.Model(&store.Command{}).Where("id = ?", cmd.ID).Count(&n).Error; err != nil {
		t.Fatalf("count command rows: %v", err)
	}
	if n != 1 {
		t.Errorf("command rows after duplicate insert: got %d, want 1", n)
	}

	if err := st.UpdateCommandStatus(ctx, cmd.ID, store.StatusSent, store.CommandUpdate{}); err != nil {
		t.Fatalf("transition to sent: %v", err)
	}
	row := fetchCommand(t, raw, cmd.ID)
	if row.Status != store.StatusSent || row.SentAt == nil {
		t.Errorf("after send: got status %q, sent_at %v", row.Status, row.SentAt)
	}

	if err := st.UpdateCommandStatus(ctx, cmd.ID, store.StatusAcknowledged, store.CommandUpdate{Response: "DYD=Success!"}); err != nil {
		t.Fatalf("transition to acknowledged: %v", err)
	}
	row = fetchCommand(t, raw, cmd.ID)
	if row.Status != store.StatusAcknowledged || row.AckAt == nil {
		t.Errorf("after ack: got status %q, ack_at %v", row.Status, row.AckAt)
	}
	if row.Response != "DYD=Success!" {
		t.Errorf("ack response: got %q, want %q", row.Response, "DYD=Success!")
	}

	// A terminal command cannot fall back to sent; the guarded update
	// touches zero rows and reports no error.
	if err := st.UpdateCommandStatus(ctx, cmd.ID, store.StatusSent, store.CommandUpdate{}); err != nil {
		t.Errorf("guarded update: got %v, want nil", err)
	}
	row = fetchCommand(t, raw, cmd.ID)
	if row.Status != store.StatusAcknowledged {
		t.Errorf("status after guarded update: got %q, want acknowledged", row.Status)
	}
}

func TestPostgresSystemStats(t *testing.T) {
	st, raw := openPostgres(t)
	dev := seedDevice(t, raw)
	ctx := context.Background()

	loc := store.Location{DeviceID: dev.ID, Latitude: 1, Longitude: 1, RecordedAt: time.Now().UTC()}
	if err := st.SaveLocation(ctx, &loc); err != nil {
		t.Fatalf("SaveLocation: %v", err)
	}

	stats, err := st.GetSystemStats(ctx)
	if err != nil {
		t.Fatalf("GetSystemStats: %v", err)
	}
	if stats.Devices < 1 {
		t.Errorf("stats devices: got %d, want >= 1", stats.Devices)
	}
	if stats.Locations < 1 {
		t.Errorf("stats locations: got %d, want >= 1", stats.Locations)
	}
}
