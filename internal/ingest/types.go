package ingest

import (
	"encoding/json"
	"time"

	"sitehive/internal/database"
)

// Target names where a batch should be written. HutCode wins when both are
// set.
type Target struct {
	SiteCode string `json:"siteCode,omitempty"`
	HutCode  string `json:"hutCode,omitempty"`
}

// Device is one device entry of an ingest batch.
type Device struct {
	ExternalID string              `json:"externalId"`
	Kind       database.DeviceKind `json:"kind"`
	Name       *string             `json:"name,omitempty"`
	Meta       database.Meta       `json:"meta,omitempty"`
}

// Metric is one telemetry point of an ingest batch.
type Metric struct {
	DeviceExternalID string          `json:"deviceExternalId"`
	TS               time.Time       `json:"ts"`
	Payload          json.RawMessage `json:"payload"`
}

// Batch is the payload agents POST to the ingest endpoint.
type Batch struct {
	SiteCode string   `json:"siteCode,omitempty"`
	HutCode  string   `json:"hutCode,omitempty"`
	AgentID  string   `json:"agentId"`
	Devices  []Device `json:"devices"`
	Metrics  []Metric `json:"metrics"`

	// Key is the caller's ingest key, set by the transport.
	Key string `json:"-"`
}

// Target returns the batch's site or hut reference.
func (b Batch) Target() Target {
	return Target{SiteCode: b.SiteCode, HutCode: b.HutCode}
}

// Result summarises an applied batch.
type Result struct {
	SiteID   int64  `json:"siteId"`
	SiteCode string `json:"siteCode"`
	Devices  int    `json:"devices"`
	Metrics  int    `json:"metrics"`
}

// Heartbeat is the periodic liveness report of an agent.
type Heartbeat struct {
	SiteCode string        `json:"siteCode,omitempty"`
	HutCode  string        `json:"hutCode,omitempty"`
	AgentID  string        `json:"agentId"`
	Version  string        `json:"version,omitempty"`
	TS       *time.Time    `json:"ts,omitempty"`
	Meta     database.Meta `json:"meta,omitempty"`

	// Key is the caller's ingest key, set by the transport.
	Key string `json:"-"`
}

// Target returns the heartbeat's site or hut reference.
func (h Heartbeat) Target() Target {
	return Target{SiteCode: h.SiteCode, HutCode: h.HutCode}
}

// HeartbeatResult identifies the agent device a heartbeat was recorded on.
type HeartbeatResult struct {
	SiteID   int64  `json:"siteId"`
	SiteCode string `json:"siteCode"`
	DeviceID int64  `json:"deviceId"`
}

// BootstrapResult describes the hut an agent is installed in and, when the
// hut is placed, the site it currently reports for.
type BootstrapResult struct {
	Hut        database.Hut
	Assignment *database.Assignment
}
