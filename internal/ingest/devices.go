package ingest

import (
	"context"
	"fmt"
	"strings"

	"sitehive/internal/database"
)

// locKey is the operator-curated physical slot label.
const locKey = "loc"

// MergeMeta overlays incoming on existing, incoming winning per key. A stored
// loc survives unless incoming sets a non-empty one. Neither input is
// modified.
func MergeMeta(existing, incoming database.Meta) database.Meta {
	merged := existing.Clone()
	for key, value := range incoming {
		if key == locKey {
			continue
		}
		merged[key] = value
	}
	if loc, ok := incoming[locKey]; ok && !emptyLoc(loc) {
		merged[locKey] = loc
	}
	return merged
}

func emptyLoc(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}

// ReconcileDevices upserts the batch's devices for siteID, merging metadata
// with what is stored, and returns the device id per external id.
func (s *Service) ReconcileDevices(ctx context.Context, q *database.Queries, siteID int64, devices []Device) (map[string]int64, error) {
	ids := make(map[string]int64, len(devices))
	if len(devices) == 0 {
		return ids, nil
	}

	externalIDs := make([]string, 0, len(devices))
	for _, d := range devices {
		externalIDs = append(externalIDs, strings.TrimSpace(d.ExternalID))
	}

	existing, err := q.FindDevicesByExternalIDs(ctx, siteID, externalIDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, d := range devices {
		externalID := strings.TrimSpace(d.ExternalID)
		merged := MergeMeta(existing[externalID].Meta, d.Meta)

		id, err := q.UpsertDevice(ctx, database.UpsertDeviceParams{
			SiteID:     siteID,
			ExternalID: externalID,
			Kind:       d.Kind,
			Name:       d.Name,
			Meta:       merged,
			At:         now,
		})
		if err != nil {
			return nil, fmt.Errorf("reconcile device %s: %w", externalID, err)
		}

		// a repeated external id later in the batch merges on top of this one
		stored := existing[externalID]
		stored.ID = id
		stored.Meta = merged
		existing[externalID] = stored
		ids[externalID] = id
	}

	return ids, nil
}
