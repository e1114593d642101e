// Package miners builds the deduplicated, client-facing miner list from
// stored device rows.
package miners

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"sitehive/internal/database"
)

// Record is one miner as presented to dashboards. Field names are shared with
// deployed agents and clients.
type Record struct {
	IP         string          `json:"ip"`
	Host       string          `json:"host,omitempty"`
	Name       string          `json:"name,omitempty"`
	ExternalID string          `json:"externalId,omitempty"`
	Reachable  bool            `json:"reachable"`
	API4028    bool            `json:"api_4028"`
	TS         string          `json:"ts,omitempty"`
	Loc        string          `json:"loc,omitempty"`
	Model      string          `json:"model,omitempty"`
	Firmware   string          `json:"firmware,omitempty"`
	PowerW     *float64        `json:"power_w,omitempty"`
	GHS5s      *float64        `json:"ghs_5s,omitempty"`
	GHSAv      *float64        `json:"ghs_av,omitempty"`
	TempMax    *float64        `json:"temp_max,omitempty"`
	PoolUser   *string         `json:"pool_user,omitempty"`
	PoolStatus *string         `json:"pool_status,omitempty"`
	Errors     []string        `json:"errors,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// timestampLayouts are the ts shapes agents have been seen to send. Layouts
// without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// Timestamp parses TS. The boolean is false when TS is empty or malformed.
func (r Record) Timestamp() (time.Time, bool) {
	raw := strings.TrimSpace(r.TS)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FromDeviceStatus builds a record from a MINER device and its latest status.
// Payload fields are read leniently: values of an unexpected type are
// coerced when they carry an obvious meaning and ignored otherwise. The
// device's stored loc takes precedence over the payload; its meta ip and host
// and the status timestamp fill in what the payload lacks. The boolean is
// false when a payload was present but was not a JSON object.
func FromDeviceStatus(device database.Device, status *database.DeviceStatus) (Record, bool) {
	var rec Record
	readable := true
	if status != nil && len(status.Payload) > 0 && string(status.Payload) != "null" {
		var fields map[string]any
		if err := json.Unmarshal(status.Payload, &fields); err != nil {
			readable = false
		} else {
			rec = fromPayload(fields)
		}
		if json.Valid(status.Payload) {
			rec.Raw = status.Payload
		}
	}

	rec.ExternalID = device.ExternalID
	if rec.Name == "" && device.Name != nil {
		rec.Name = *device.Name
	}
	if rec.IP == "" {
		if ip, ok := device.Meta.String("ip"); ok {
			rec.IP = strings.TrimSpace(ip)
		}
	}
	if rec.Host == "" {
		if host, ok := device.Meta.String("host"); ok {
			rec.Host = strings.TrimSpace(host)
		}
	}
	if loc, ok := device.Meta.String("loc"); ok && strings.TrimSpace(loc) != "" {
		rec.Loc = loc
	}
	if _, ok := rec.Timestamp(); !ok && status != nil && !status.TS.IsZero() {
		rec.TS = status.TS.UTC().Format(time.RFC3339Nano)
	}

	return rec, readable
}

// FromDevices converts every row. Rows whose status payload is not a JSON
// object are still listed from their device fields; their number is returned
// alongside.
func FromDevices(rows []database.DeviceWithStatus) ([]Record, int) {
	out := make([]Record, 0, len(rows))
	unreadable := 0
	for _, row := range rows {
		rec, ok := FromDeviceStatus(row.Device, row.Status)
		if !ok {
			unreadable++
		}
		out = append(out, rec)
	}
	return out, unreadable
}

func fromPayload(fields map[string]any) Record {
	var rec Record
	rec.IP, _ = textField(fields["ip"])
	rec.Host, _ = textField(fields["host"])
	rec.Name, _ = textField(fields["name"])
	rec.Loc, _ = textField(fields["loc"])
	rec.Model, _ = textField(fields["model"])
	rec.Firmware, _ = textField(fields["firmware"])
	rec.TS = tsField(fields["ts"])
	rec.Reachable = boolField(fields["reachable"])
	rec.API4028 = boolField(fields["api_4028"])
	rec.PowerW = numberField(fields["power_w"])
	rec.GHS5s = numberField(fields["ghs_5s"])
	rec.GHSAv = numberField(fields["ghs_av"])
	rec.TempMax = numberField(fields["temp_max"])
	rec.PoolUser = textPtr(fields["pool_user"])
	rec.PoolStatus = textPtr(fields["pool_status"])
	rec.Errors = errorsField(fields["errors"])
	return rec
}

func textField(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		return t, t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

func textPtr(v any) *string {
	if s, ok := textField(v); ok {
		return &s
	}
	return nil
}

func numberField(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func boolField(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	default:
		return false
	}
}

// tsField keeps string timestamps as sent and renders numeric ones, taken as
// Unix seconds or milliseconds, in RFC3339.
func tsField(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t <= 0 || math.IsInf(t, 0) || math.IsNaN(t) {
			return ""
		}
		if t >= 1e12 {
			return time.UnixMilli(int64(t)).UTC().Format(time.RFC3339Nano)
		}
		return time.Unix(int64(t), 0).UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

func errorsField(v any) []string {
	switch t := v.(type) {
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := textField(item); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	}
	return nil
}
