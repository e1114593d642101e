package ingest

import (
	"fmt"
	"strings"
)

// ValidateBatch rejects structurally malformed batches. Every failure wraps
// ErrInvalidBatch.
func ValidateBatch(batch Batch) error {
	if strings.TrimSpace(batch.AgentID) == "" {
		return fmt.Errorf("%w: agentId is required", ErrInvalidBatch)
	}
	for i, d := range batch.Devices {
		if strings.TrimSpace(d.ExternalID) == "" {
			return fmt.Errorf("%w: devices[%d].externalId is required", ErrInvalidBatch, i)
		}
		if !d.Kind.Valid() {
			return fmt.Errorf("%w: devices[%d].kind %q is not a known device kind", ErrInvalidBatch, i, d.Kind)
		}
	}
	for i, m := range batch.Metrics {
		if strings.TrimSpace(m.DeviceExternalID) == "" {
			return fmt.Errorf("%w: metrics[%d].deviceExternalId is required", ErrInvalidBatch, i)
		}
		if m.TS.IsZero() {
			return fmt.Errorf("%w: metrics[%d].ts is required", ErrInvalidBatch, i)
		}
		if len(m.Payload) == 0 {
			return fmt.Errorf("%w: metrics[%d].payload is required", ErrInvalidBatch, i)
		}
	}
	return nil
}

// ValidateHeartbeat rejects heartbeats without an agent id.
func ValidateHeartbeat(hb Heartbeat) error {
	if strings.TrimSpace(hb.AgentID) == "" {
		return fmt.Errorf("%w: agentId is required", ErrInvalidBatch)
	}
	return nil
}
