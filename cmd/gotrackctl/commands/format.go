// Package commands implements the gotrackctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/gotrack/internal/bus"
	"github.com/dantte-lp/gotrack/internal/store"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	formatYAML  = "yaml"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// -------------------------------------------------------------------------
// Devices
// -------------------------------------------------------------------------

// formatDevices renders a slice of devices in the requested format.
func formatDevices(devices []store.Device, format string) (string, error) {
	switch format {
	case formatJSON:
		return renderJSON(devicesToView(devices))
	case formatYAML:
		return renderYAML(devicesToView(devices))
	case formatTable:
		return formatDevicesTable(devices)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatDevice renders a single device in the requested format.
func formatDevice(dev *store.Device, format string) (string, error) {
	switch format {
	case formatJSON:
		return renderJSON(deviceToView(dev))
	case formatYAML:
		return renderYAML(deviceToView(dev))
	case formatTable:
		return formatDeviceDetail(dev)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatDevicesTable(devices []store.Device) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IMEI\tCOMPANY\tACTIVE\tONLINE\tLAST-SEEN\tLAST-LOGIN")

	for i := range devices {
		d := &devices[i]
		fmt.Fprintf(w, "%s\t%d\t%t\t%t\t%s\t%s\n",
			d.IMEI,
			d.CompanyID,
			d.Active,
			d.Online,
			fmtTime(d.LastSeen),
			fmtTime(d.LastLogin),
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatDeviceDetail(d *store.Device) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "IMEI:\t%s\n", d.IMEI)
	fmt.Fprintf(w, "Company ID:\t%d\n", d.CompanyID)
	fmt.Fprintf(w, "Active:\t%t\n", d.Active)
	fmt.Fprintf(w, "Online:\t%t\n", d.Online)
	fmt.Fprintf(w, "Last Seen:\t%s\n", fmtTime(d.LastSeen))
	fmt.Fprintf(w, "Last Heartbeat:\t%s\n", fmtTime(d.LastHeartbeat))
	fmt.Fprintf(w, "Last Login:\t%s\n", fmtTime(d.LastLogin))
	fmt.Fprintf(w, "Created At:\t%s\n", fmtTime(d.CreatedAt))

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// -------------------------------------------------------------------------
// Locations
// -------------------------------------------------------------------------

// formatLocations renders a slice of locations in the requested format.
func formatLocations(locs []store.Location, format string) (string, error) {
	switch format {
	case formatJSON:
		return renderJSON(locationsToView(locs))
	case formatYAML:
		return renderYAML(locationsToView(locs))
	case formatTable:
		return formatLocationsTable(locs)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatLocation renders a single location in the requested format.
func formatLocation(loc *store.Location, format string) (string, error) {
	switch format {
	case formatJSON:
		return renderJSON(locationToView(loc))
	case formatYAML:
		return renderYAML(locationToView(loc))
	case formatTable:
		return formatLocationDetail(loc)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatLocationsTable(locs []store.Location) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECORDED-AT\tLATITUDE\tLONGITUDE\tSPEED\tCOURSE\tSATS")

	for i := range locs {
		l := &locs[i]
		fmt.Fprintf(w, "%s\t%.6f\t%.6f\t%.1f\t%.1f\t%d\n",
			fmtTime(l.RecordedAt),
			l.Latitude,
			l.Longitude,
			l.Speed,
			l.Course,
			l.Satellites,
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatLocationDetail(l *store.Location) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Device ID:\t%d\n", l.DeviceID)
	fmt.Fprintf(w, "Latitude:\t%.6f\n", l.Latitude)
	fmt.Fprintf(w, "Longitude:\t%.6f\n", l.Longitude)
	fmt.Fprintf(w, "Speed:\t%.1f\n", l.Speed)
	fmt.Fprintf(w, "Course:\t%.1f\n", l.Course)
	fmt.Fprintf(w, "Altitude:\t%.1f\n", l.Altitude)
	fmt.Fprintf(w, "Satellites:\t%d\n", l.Satellites)
	fmt.Fprintf(w, "HDOP:\t%.1f\n", l.HDOP)
	fmt.Fprintf(w, "Battery Level:\t%d\n", l.BatteryLevel)
	fmt.Fprintf(w, "Signal Strength:\t%d\n", l.SignalStrength)
	fmt.Fprintf(w, "Recorded At:\t%s\n", fmtTime(l.RecordedAt))

	if l.Raw != "" {
		fmt.Fprintf(w, "Raw Frame:\t%s\n", l.Raw)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// -------------------------------------------------------------------------
// Nearby Results
// -------------------------------------------------------------------------

// formatNearby renders proximity query results in the requested format.
func formatNearby(results []store.NearbyResult, format string) (string, error) {
	switch format {
	case formatJSON:
		return renderJSON(nearbyToView(results))
	case formatYAML:
		return renderYAML(nearbyToView(results))
	case formatTable:
		return formatNearbyTable(results)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatNearbyTable(results []store.NearbyResult) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IMEI\tDISTANCE-M\tLATITUDE\tLONGITUDE\tRECORDED-AT")

	for _, r := range results {
		fmt.Fprintf(w, "%s\t%.0f\t%.6f\t%.6f\t%s\n",
			r.IMEI,
			r.DistanceMeters,
			r.Latitude,
			r.Longitude,
			fmtTime(r.RecordedAt),
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// -------------------------------------------------------------------------
// Stats
// -------------------------------------------------------------------------

// formatStats renders system stats plus queue depths in the requested
// format.
func formatStats(sys *store.SystemStats, queues []bus.QueueStats, format string) (string, error) {
	view := statsToView(sys, queues)

	switch format {
	case formatJSON:
		return renderJSON(view)
	case formatYAML:
		return renderYAML(view)
	case formatTable:
		return formatStatsTable(view)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatQueueStats renders a single queue's counters in the requested
// format.
func formatQueueStats(qs bus.QueueStats, format string) (string, error) {
	view := queueToView(qs)

	switch format {
	case formatJSON:
		return renderJSON(view)
	case formatYAML:
		return renderYAML(view)
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Queue:\t%s\n", view.Name)
		fmt.Fprintf(w, "Messages:\t%d\n", view.Messages)
		fmt.Fprintf(w, "Consumers:\t%d\n", view.Consumers)
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatStatsTable(view *statsView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Devices:\t%d\n", view.Devices)
	fmt.Fprintf(w, "Devices Online:\t%d\n", view.DevicesOnline)
	fmt.Fprintf(w, "Locations:\t%d\n", view.Locations)
	fmt.Fprintf(w, "Alerts:\t%d\n", view.Alerts)
	fmt.Fprintf(w, "Commands:\t%d\n", view.Commands)
	fmt.Fprintf(w, "Commands Pending:\t%d\n", view.CommandsPending)

	if len(view.Queues) > 0 {
		fmt.Fprintln(w, "\nQUEUE\tMESSAGES\tCONSUMERS")
		for _, q := range view.Queues {
			fmt.Fprintf(w, "%s\t%d\t%d\n", q.Name, q.Messages, q.Consumers)
		}
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// -------------------------------------------------------------------------
// Queue Events (monitor)
// -------------------------------------------------------------------------

// queueEventView mirrors the gateway's published event envelope.
type queueEventView struct {
	Type       string    `json:"type" yaml:"type"`
	IMEI       string    `json:"imei" yaml:"imei"`
	DeviceID   uint      `json:"device_id" yaml:"device_id"`
	Data       any       `json:"data" yaml:"data"`
	ReceivedAt time.Time `json:"received_at" yaml:"received_at"`
	Source     string    `json:"source" yaml:"source"`
	Timestamp  int64     `json:"timestamp" yaml:"timestamp"`
}

// formatQueueEvent renders one consumed queue message. Bodies that are
// not gateway envelopes pass through verbatim.
func formatQueueEvent(body []byte, format string) (string, error) {
	var ev queueEventView
	if err := json.Unmarshal(body, &ev); err != nil || ev.Type == "" {
		return string(body), nil
	}

	switch format {
	case formatJSON:
		return renderJSON(&ev)
	case formatYAML:
		return renderYAML(&ev)
	case formatTable:
		data, err := json.Marshal(ev.Data)
		if err != nil {
			data = []byte(valueNA)
		}
		return fmt.Sprintf("[%s] %-16s imei=%s device=%d %s",
			ev.ReceivedAt.Format(time.RFC3339),
			ev.Type,
			ev.IMEI,
			ev.DeviceID,
			data,
		), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// -------------------------------------------------------------------------
// Render Helpers
// -------------------------------------------------------------------------

func renderJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}

	return string(data), nil
}

func renderYAML(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal to YAML: %w", err)
	}

	return string(data), nil
}

// fmtTime renders a timestamp as RFC 3339, or N/A for the zero value.
func fmtTime(t time.Time) string {
	if t.IsZero() {
		return valueNA
	}
	return t.UTC().Format(time.RFC3339)
}

// fmtTimeEmpty renders a timestamp as RFC 3339, or "" for the zero value
// so omitempty view fields drop it.
func fmtTimeEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// -------------------------------------------------------------------------
// View types for clean JSON/YAML output
// -------------------------------------------------------------------------

type deviceView struct {
	IMEI          string `json:"imei" yaml:"imei"`
	CompanyID     uint   `json:"company_id" yaml:"company_id"`
	Active        bool   `json:"active" yaml:"active"`
	Online        bool   `json:"online" yaml:"online"`
	LastSeen      string `json:"last_seen,omitempty" yaml:"last_seen,omitempty"`
	LastHeartbeat string `json:"last_heartbeat,omitempty" yaml:"last_heartbeat,omitempty"`
	LastLogin     string `json:"last_login,omitempty" yaml:"last_login,omitempty"`
	CreatedAt     string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

type locationView struct {
	DeviceID       uint    `json:"device_id" yaml:"device_id"`
	Latitude       float64 `json:"latitude" yaml:"latitude"`
	Longitude      float64 `json:"longitude" yaml:"longitude"`
	Speed          float64 `json:"speed" yaml:"speed"`
	Course         float64 `json:"course" yaml:"course"`
	Altitude       float64 `json:"altitude,omitempty" yaml:"altitude,omitempty"`
	Satellites     int     `json:"satellites" yaml:"satellites"`
	HDOP           float64 `json:"hdop,omitempty" yaml:"hdop,omitempty"`
	BatteryLevel   int     `json:"battery_level,omitempty" yaml:"battery_level,omitempty"`
	SignalStrength int     `json:"signal_strength,omitempty" yaml:"signal_strength,omitempty"`
	RecordedAt     string  `json:"recorded_at" yaml:"recorded_at"`
	Raw            string  `json:"raw,omitempty" yaml:"raw,omitempty"`
}

type nearbyView struct {
	IMEI           string  `json:"imei" yaml:"imei"`
	DeviceID       uint    `json:"device_id" yaml:"device_id"`
	Latitude       float64 `json:"latitude" yaml:"latitude"`
	Longitude      float64 `json:"longitude" yaml:"longitude"`
	DistanceMeters float64 `json:"distance_meters" yaml:"distance_meters"`
	RecordedAt     string  `json:"recorded_at" yaml:"recorded_at"`
}

type statsView struct {
	Devices         int64       `json:"devices" yaml:"devices"`
	DevicesOnline   int64       `json:"devices_online" yaml:"devices_online"`
	Locations       int64       `json:"locations" yaml:"locations"`
	Alerts          int64       `json:"alerts" yaml:"alerts"`
	Commands        int64       `json:"commands" yaml:"commands"`
	CommandsPending int64       `json:"commands_pending" yaml:"commands_pending"`
	Queues          []queueView `json:"queues,omitempty" yaml:"queues,omitempty"`
}

type queueView struct {
	Name      string `json:"name" yaml:"name"`
	Messages  int    `json:"messages" yaml:"messages"`
	Consumers int    `json:"consumers" yaml:"consumers"`
}

func deviceToView(d *store.Device) *deviceView {
	return &deviceView{
		IMEI:          d.IMEI,
		CompanyID:     d.CompanyID,
		Active:        d.Active,
		Online:        d.Online,
		LastSeen:      fmtTimeEmpty(d.LastSeen),
		LastHeartbeat: fmtTimeEmpty(d.LastHeartbeat),
		LastLogin:     fmtTimeEmpty(d.LastLogin),
		CreatedAt:     fmtTimeEmpty(d.CreatedAt),
	}
}

func devicesToView(devices []store.Device) []*deviceView {
	views := make([]*deviceView, 0, len(devices))
	for i := range devices {
		views = append(views, deviceToView(&devices[i]))
	}

	return views
}

func locationToView(l *store.Location) *locationView {
	return &locationView{
		DeviceID:       l.DeviceID,
		Latitude:       l.Latitude,
		Longitude:      l.Longitude,
		Speed:          l.Speed,
		Course:         l.Course,
		Altitude:       l.Altitude,
		Satellites:     l.Satellites,
		HDOP:           l.HDOP,
		BatteryLevel:   l.BatteryLevel,
		SignalStrength: l.SignalStrength,
		RecordedAt:     fmtTimeEmpty(l.RecordedAt),
		Raw:            l.Raw,
	}
}

func locationsToView(locs []store.Location) []*locationView {
	views := make([]*locationView, 0, len(locs))
	for i := range locs {
		views = append(views, locationToView(&locs[i]))
	}

	return views
}

func nearbyToView(results []store.NearbyResult) []*nearbyView {
	views := make([]*nearbyView, 0, len(results))
	for _, r := range results {
		views = append(views, &nearbyView{
			IMEI:           r.IMEI,
			DeviceID:       r.DeviceID,
			Latitude:       r.Latitude,
			Longitude:      r.Longitude,
			DistanceMeters: r.DistanceMeters,
			RecordedAt:     fmtTimeEmpty(r.RecordedAt),
		})
	}

	return views
}

func statsToView(sys *store.SystemStats, queues []bus.QueueStats) *statsView {
	view := &statsView{
		Devices:         sys.Devices,
		DevicesOnline:   sys.DevicesOnline,
		Locations:       sys.Locations,
		Alerts:          sys.Alerts,
		Commands:        sys.Commands,
		CommandsPending: sys.CommandsPending,
	}

	for _, q := range queues {
		view.Queues = append(view.Queues, queueToView(q))
	}

	return view
}

func queueToView(qs bus.QueueStats) queueView {
	return queueView{
		Name:      qs.Name,
		Messages:  qs.Messages,
		Consumers: qs.Consumers,
	}
}
