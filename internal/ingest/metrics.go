package ingest

import (
	"context"
	"fmt"
	"strings"

	"sitehive/internal/database"
)

// WriteMetrics appends each metric and replaces its device's status. known
// maps external ids reconciled in this batch; other ids are looked up in one
// query and metrics that still cannot be attributed are dropped. Returns the
// number of metrics written.
func (s *Service) WriteMetrics(ctx context.Context, q *database.Queries, siteID int64, metrics []Metric, known map[string]int64) (int, error) {
	if len(metrics) == 0 {
		return 0, nil
	}

	ids := make(map[string]int64, len(known))
	for externalID, id := range known {
		ids[externalID] = id
	}

	var missing []string
	for _, m := range metrics {
		externalID := strings.TrimSpace(m.DeviceExternalID)
		if _, ok := ids[externalID]; !ok {
			missing = append(missing, externalID)
		}
	}
	if len(missing) > 0 {
		found, err := q.FindDevicesByExternalIDs(ctx, siteID, missing)
		if err != nil {
			return 0, err
		}
		for externalID, device := range found {
			ids[externalID] = device.ID
		}
	}

	now := s.now()
	written := 0
	for _, m := range metrics {
		deviceID, ok := ids[strings.TrimSpace(m.DeviceExternalID)]
		if !ok {
			continue
		}

		if _, err := q.CreateMetric(ctx, deviceID, m.TS, m.Payload); err != nil {
			return 0, fmt.Errorf("write metric: %w", err)
		}
		// batch order decides the status, not ts
		if err := q.UpsertDeviceStatus(ctx, deviceID, m.TS, m.Payload, now); err != nil {
			return 0, fmt.Errorf("write metric: %w", err)
		}
		written++
	}

	return written, nil
}
