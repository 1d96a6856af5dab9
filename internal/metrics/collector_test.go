package gwmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	gwmetrics "github.com/dantte-lp/gotrack/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gwmetrics.NewCollector(reg)

	if c.ConnectionsActive == nil {
		t.Error("ConnectionsActive is nil")
	}
	if c.SessionsAuthenticated == nil {
		t.Error("SessionsAuthenticated is nil")
	}
	if c.FramesDecoded == nil {
		t.Error("FramesDecoded is nil")
	}
	if c.FramesRejected == nil {
		t.Error("FramesRejected is nil")
	}
	if c.BufferOverflows == nil {
		t.Error("BufferOverflows is nil")
	}
	if c.AuthFailures == nil {
		t.Error("AuthFailures is nil")
	}
	if c.EventsPublished == nil {
		t.Error("EventsPublished is nil")
	}
	if c.CommandsDispatched == nil {
		t.Error("CommandsDispatched is nil")
	}
	if c.CommandLatency == nil {
		t.Error("CommandLatency is nil")
	}
	if c.StoreErrors == nil {
		t.Error("StoreErrors is nil")
	}
	if c.BusErrors == nil {
		t.Error("BusErrors is nil")
	}

	// Verify all metrics are registered by gathering them.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	// No data yet, so families may be empty -- but registration must not panic.
	_ = families
}

func TestConnectionGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gwmetrics.NewCollector(reg)

	c.ConnOpened()
	c.ConnOpened()
	c.ConnClosed()

	m := &dto.Metric{}
	if err := c.ConnectionsActive.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 1 {
		t.Errorf("ConnectionsActive = %v, want 1", got)
	}
}

func TestSessionGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gwmetrics.NewCollector(reg)

	// Register a gt06 session -- gauge should go to 1.
	c.SessionRegistered("gt06")

	val := gaugeValue(t, c.SessionsAuthenticated, "gt06")
	if val != 1 {
		t.Errorf("after SessionRegistered: gt06 gauge = %v, want 1", val)
	}

	// Register another session with a different protocol.
	c.SessionRegistered("gps303")

	val = gaugeValue(t, c.SessionsAuthenticated, "gps303")
	if val != 1 {
		t.Errorf("after second SessionRegistered: gps303 gauge = %v, want 1", val)
	}

	// Unregister gt06 -- gauge should go back to 0.
	c.SessionUnregistered("gt06")

	val = gaugeValue(t, c.SessionsAuthenticated, "gt06")
	if val != 0 {
		t.Errorf("after SessionUnregistered: gt06 gauge = %v, want 0", val)
	}

	// gps303 should still be 1.
	val = gaugeValue(t, c.SessionsAuthenticated, "gps303")
	if val != 1 {
		t.Errorf("gps303 gauge = %v, want 1 (should be unaffected)", val)
	}
}

func TestFrameCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gwmetrics.NewCollector(reg)

	// Increment decoded counter 3 times.
	c.IncFramesDecoded("gt06", "location")
	c.IncFramesDecoded("gt06", "location")
	c.IncFramesDecoded("gt06", "location")

	val := counterValue(t, c.FramesDecoded, "gt06", "location")
	if val != 3 {
		t.Errorf("FramesDecoded(gt06, location) = %v, want 3", val)
	}

	// A different event type counts separately.
	c.IncFramesDecoded("gt06", "heartbeat")

	val = counterValue(t, c.FramesDecoded, "gt06", "heartbeat")
	if val != 1 {
		t.Errorf("FramesDecoded(gt06, heartbeat) = %v, want 1", val)
	}

	c.IncFramesRejected()
	c.IncFramesRejected()

	m := &dto.Metric{}
	if err := c.FramesRejected.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("FramesRejected = %v, want 2", got)
	}
}

func TestDispatchCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gwmetrics.NewCollector(reg)

	c.IncCommandsDispatched("sent")
	c.IncCommandsDispatched("sent")
	c.IncCommandsDispatched("failed_not_connected")

	val := counterValue(t, c.CommandsDispatched, "sent")
	if val != 2 {
		t.Errorf("CommandsDispatched(sent) = %v, want 2", val)
	}

	val = counterValue(t, c.CommandsDispatched, "failed_not_connected")
	if val != 1 {
		t.Errorf("CommandsDispatched(failed_not_connected) = %v, want 1", val)
	}

	c.ObserveCommandLatency(0.042)
}

func TestErrorCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gwmetrics.NewCollector(reg)

	c.IncStoreErrors("save_location")
	c.IncStoreErrors("save_location")
	c.IncBusErrors("publish")

	val := counterValue(t, c.StoreErrors, "save_location")
	if val != 2 {
		t.Errorf("StoreErrors(save_location) = %v, want 2", val)
	}

	val = counterValue(t, c.BusErrors, "publish")
	if val != 1 {
		t.Errorf("BusErrors(publish) = %v, want 1", val)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// gaugeValue reads the current value of a GaugeVec with the given labels.
func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
