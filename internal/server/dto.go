package server

import (
	"encoding/json"

	"sitehive/internal/database"
)

type siteDTO struct {
	ID           int64         `json:"id"`
	Code         string        `json:"code"`
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	Timezone     string        `json:"timezone"`
	Meta         database.Meta `json:"meta"`
	HasIngestKey bool          `json:"hasIngestKey"`
	IngestKey    string        `json:"ingestKey,omitempty"`
	CurrentHut   *string       `json:"currentHut,omitempty"`
	CreatedAt    string        `json:"createdAt"`
	UpdatedAt    string        `json:"updatedAt"`
}

type hutDTO struct {
	ID          int64         `json:"id"`
	Code        string        `json:"code"`
	Name        string        `json:"name"`
	Meta        database.Meta `json:"meta"`
	CurrentSite *string       `json:"currentSite,omitempty"`
	CreatedAt   string        `json:"createdAt"`
	UpdatedAt   string        `json:"updatedAt"`
}

type assignmentDTO struct {
	ID       int64   `json:"id"`
	HutID    int64   `json:"hutId"`
	SiteID   int64   `json:"siteId"`
	SiteCode string  `json:"siteCode"`
	StartsAt string  `json:"startsAt"`
	EndsAt   *string `json:"endsAt"`
}

type statusDTO struct {
	TS        string          `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt string          `json:"updatedAt"`
}

type deviceDTO struct {
	ID         int64         `json:"id"`
	ExternalID string        `json:"externalId"`
	Kind       string        `json:"kind"`
	Name       *string       `json:"name,omitempty"`
	Meta       database.Meta `json:"meta"`
	Status     *statusDTO    `json:"status,omitempty"`
	UpdatedAt  string        `json:"updatedAt"`
}

type metricDTO struct {
	ID      int64           `json:"id"`
	TS      string          `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

type hourlyDTO struct {
	Bucket  string                         `json:"bucket"`
	Samples int                            `json:"samples"`
	Stats   map[string]database.MetricStat `json:"stats"`
}

func toSiteDTO(site database.Site) siteDTO {
	return siteDTO{
		ID:           site.ID,
		Code:         site.Code,
		Name:         site.Name,
		Type:         string(site.Type),
		Timezone:     site.Timezone,
		Meta:         nonNilMeta(site.Meta),
		HasIngestKey: site.IngestKey != nil,
		CreatedAt:    formatTime(site.CreatedAt),
		UpdatedAt:    formatTime(site.UpdatedAt),
	}
}

func toHutDTO(hut database.Hut) hutDTO {
	return hutDTO{
		ID:        hut.ID,
		Code:      hut.Code,
		Name:      hut.Name,
		Meta:      nonNilMeta(hut.Meta),
		CreatedAt: formatTime(hut.CreatedAt),
		UpdatedAt: formatTime(hut.UpdatedAt),
	}
}

func toAssignmentDTO(a database.Assignment) assignmentDTO {
	return assignmentDTO{
		ID:       a.ID,
		HutID:    a.HutID,
		SiteID:   a.SiteID,
		SiteCode: a.SiteCode,
		StartsAt: formatTime(a.StartsAt),
		EndsAt:   formatTimePtr(a.EndsAt),
	}
}

func toDeviceDTO(row database.DeviceWithStatus) deviceDTO {
	dto := deviceDTO{
		ID:         row.Device.ID,
		ExternalID: row.Device.ExternalID,
		Kind:       string(row.Device.Kind),
		Name:       row.Device.Name,
		Meta:       nonNilMeta(row.Device.Meta),
		UpdatedAt:  formatTime(row.Device.UpdatedAt),
	}
	if row.Status != nil {
		dto.Status = &statusDTO{
			TS:        formatTime(row.Status.TS),
			Payload:   row.Status.Payload,
			UpdatedAt: formatTime(row.Status.UpdatedAt),
		}
	}
	return dto
}

func toMetricDTO(m database.Metric) metricDTO {
	return metricDTO{ID: m.ID, TS: formatTime(m.TS), Payload: m.Payload}
}

func toHourlyDTO(r database.HourlyRollup) hourlyDTO {
	return hourlyDTO{Bucket: formatTime(r.Bucket), Samples: r.Samples, Stats: r.Stats}
}

func nonNilMeta(meta database.Meta) database.Meta {
	if meta == nil {
		return database.Meta{}
	}
	return meta
}
