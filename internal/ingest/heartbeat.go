package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sitehive/internal/database"
)

// agentExternalID is the device identity an agent reports itself under.
func agentExternalID(agentID string) string {
	return "agent:" + strings.TrimSpace(agentID)
}

// Heartbeat records an agent liveness report. The agent is upserted as an
// AGENT device of the resolved site and the heartbeat becomes both its status
// and a metric point.
func (s *Service) Heartbeat(ctx context.Context, hb Heartbeat) (HeartbeatResult, error) {
	if err := ValidateHeartbeat(hb); err != nil {
		return HeartbeatResult{}, err
	}

	now := s.now()
	ts := now
	if hb.TS != nil && !hb.TS.IsZero() {
		ts = hb.TS.UTC()
	}

	agentID := strings.TrimSpace(hb.AgentID)
	payload, err := json.Marshal(map[string]any{
		"agentId": agentID,
		"version": hb.Version,
		"meta":    hb.Meta,
	})
	if err != nil {
		return HeartbeatResult{}, fmt.Errorf("encode heartbeat: %w", err)
	}

	incoming := MergeMeta(nil, hb.Meta)
	if hb.Version != "" {
		incoming["version"] = hb.Version
	}
	incoming["lastSeen"] = now.Format(time.RFC3339)

	var result HeartbeatResult
	err = s.store.InTx(ctx, func(q *database.Queries) error {
		if err := s.authorizeTarget(ctx, q, hb.Target(), hb.Key); err != nil {
			return err
		}
		site, err := s.ResolveSite(ctx, q, hb.Target())
		if err != nil {
			return err
		}
		result.SiteID = site.ID
		result.SiteCode = site.Code

		ids, err := s.ReconcileDevices(ctx, q, site.ID, []Device{{
			ExternalID: agentExternalID(agentID),
			Kind:       database.DeviceKindAgent,
			Name:       &agentID,
			Meta:       incoming,
		}})
		if err != nil {
			return err
		}
		result.DeviceID = ids[agentExternalID(agentID)]

		if _, err := q.CreateMetric(ctx, result.DeviceID, ts, payload); err != nil {
			return fmt.Errorf("record heartbeat: %w", err)
		}
		return q.UpsertDeviceStatus(ctx, result.DeviceID, ts, payload, now)
	})
	if err != nil {
		return HeartbeatResult{}, err
	}

	s.log.Debug("heartbeat", "site", result.SiteCode, "agent", agentID)
	return result, nil
}
