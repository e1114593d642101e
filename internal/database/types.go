package database

import (
	"encoding/json"
	"time"
)

// SiteType classifies a physical location.
type SiteType string

const (
	SiteTypeUnknown  SiteType = "UNKNOWN"
	SiteTypeWell     SiteType = "WELL"
	SiteTypePad      SiteType = "PAD"
	SiteTypeFacility SiteType = "FACILITY"
	SiteTypeYard     SiteType = "YARD"
)

// Valid reports whether t is one of the known site types.
func (t SiteType) Valid() bool {
	switch t {
	case SiteTypeUnknown, SiteTypeWell, SiteTypePad, SiteTypeFacility, SiteTypeYard:
		return true
	}
	return false
}

// DeviceKind classifies a piece of monitored equipment.
type DeviceKind string

const (
	DeviceKindAgent     DeviceKind = "AGENT"
	DeviceKindMiner     DeviceKind = "MINER"
	DeviceKindRouter    DeviceKind = "ROUTER"
	DeviceKindSwitch    DeviceKind = "SWITCH"
	DeviceKindGasMeter  DeviceKind = "GAS_METER"
	DeviceKindFlowMeter DeviceKind = "FLOW_METER"
	DeviceKindPLC       DeviceKind = "PLC"
	DeviceKindSensor    DeviceKind = "SENSOR"
	DeviceKindCamera    DeviceKind = "CAMERA"
	DeviceKindOther     DeviceKind = "OTHER"
)

// Valid reports whether k is one of the known device kinds.
func (k DeviceKind) Valid() bool {
	switch k {
	case DeviceKindAgent, DeviceKindMiner, DeviceKindRouter, DeviceKindSwitch,
		DeviceKindGasMeter, DeviceKindFlowMeter, DeviceKindPLC, DeviceKindSensor,
		DeviceKindCamera, DeviceKindOther:
		return true
	}
	return false
}

// Meta is an open, operator-extensible metadata blob stored as JSON.
type Meta map[string]any

// Clone returns a shallow copy of m. A nil receiver yields an empty map.
func (m Meta) Clone() Meta {
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String returns the value stored under key when it is a string.
func (m Meta) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Site is a physical location being monitored.
type Site struct {
	ID        int64
	Code      string
	Name      string
	Type      SiteType
	Timezone  string
	Meta      Meta
	IngestKey *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SiteInput collects the fields accepted when creating or updating a site.
// Nil pointers leave the stored value untouched on update.
type SiteInput struct {
	Code      string
	Name      *string
	Type      *SiteType
	Timezone  *string
	Meta      Meta
	IngestKey *string
}

// Hut is a relocatable equipment container.
type Hut struct {
	ID        int64
	Code      string
	Name      string
	Meta      Meta
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HutInput collects the fields accepted when creating or updating a hut.
type HutInput struct {
	Code string
	Name *string
	Meta Meta
}

// Assignment is a time-ranged hut to site occupancy record. EndsAt is nil
// while the assignment is open.
type Assignment struct {
	ID       int64
	HutID    int64
	SiteID   int64
	SiteCode string
	StartsAt time.Time
	EndsAt   *time.Time
}

// Open reports whether the assignment is the current one.
func (a Assignment) Open() bool {
	return a.EndsAt == nil
}

// Device is a monitored piece of equipment scoped to one site.
type Device struct {
	ID         int64
	SiteID     int64
	ExternalID string
	Kind       DeviceKind
	Name       *string
	Meta       Meta
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UpsertDeviceParams is the write shape for the (site_id, external_id) upsert.
// A nil Name keeps the stored name.
type UpsertDeviceParams struct {
	SiteID     int64
	ExternalID string
	Kind       DeviceKind
	Name       *string
	Meta       Meta
	At         time.Time
}

// DeviceStatus is the latest payload received for a device.
type DeviceStatus struct {
	DeviceID  int64
	TS        time.Time
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// DeviceWithStatus pairs a device with its latest status, if any.
type DeviceWithStatus struct {
	Device Device
	Status *DeviceStatus
}

// Metric is an immutable telemetry point.
type Metric struct {
	ID       int64
	DeviceID int64
	TS       time.Time
	Payload  json.RawMessage
}

// MetricStat aggregates one numeric payload field over a rollup bucket.
type MetricStat struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`
}

// HourlyRollup is the aggregated view of a device's metrics for one hour.
type HourlyRollup struct {
	DeviceID int64
	Bucket   time.Time
	Samples  int
	Stats    map[string]MetricStat
}
