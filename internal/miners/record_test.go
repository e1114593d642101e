package miners

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitehive/internal/database"
)

func TestFromDeviceStatus(t *testing.T) {
	name := "Rig 7"
	device := database.Device{
		ExternalID: "rig-7",
		Name:       &name,
		Meta:       database.Meta{"ip": "10.0.0.7", "loc": "A01"},
	}
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	status := &database.DeviceStatus{
		TS:      ts,
		Payload: json.RawMessage(`{"reachable":true,"api_4028":true,"ghs_5s":95000.5,"loc":"B09","pool_user":"acct.7"}`),
	}

	rec, ok := FromDeviceStatus(device, status)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.7", rec.IP)
	assert.Equal(t, "A01", rec.Loc, "operator loc wins")
	assert.Equal(t, "Rig 7", rec.Name)
	assert.True(t, rec.Reachable)
	assert.True(t, rec.API4028)
	require.NotNil(t, rec.GHS5s)
	assert.Equal(t, 95000.5, *rec.GHS5s)
	require.NotNil(t, rec.PoolUser)
	assert.Equal(t, "acct.7", *rec.PoolUser)
	assert.Equal(t, "2025-03-01T12:00:00Z", rec.TS)
	assert.JSONEq(t, string(status.Payload), string(rec.Raw))
}

func TestFromDeviceStatusWithoutStatus(t *testing.T) {
	rec, ok := FromDeviceStatus(database.Device{ExternalID: "10.0.0.8", Meta: database.Meta{}}, nil)
	require.True(t, ok)
	assert.False(t, rec.Reachable)
	assert.Empty(t, rec.TS)
	assert.Equal(t, "10.0.0.8", rec.key())
}

func TestFromDeviceStatusCoercesLooseTypes(t *testing.T) {
	device := database.Device{ExternalID: "rig-9", Meta: database.Meta{"loc": "C03"}}
	status := &database.DeviceStatus{
		TS:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload: json.RawMessage(`{"ip":"10.0.0.9","reachable":1,"api_4028":"true","ts":1704067200000,"power_w":"3100","ghs_5s":{"v":1},"temp_max":null,"errors":["fan",3,{"x":1}]}`),
	}

	rec, ok := FromDeviceStatus(device, status)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.9", rec.IP)
	assert.Equal(t, "C03", rec.Loc)
	assert.True(t, rec.Reachable)
	assert.True(t, rec.API4028)
	assert.Equal(t, "2024-01-01T00:00:00Z", rec.TS)
	require.NotNil(t, rec.PowerW)
	assert.Equal(t, 3100.0, *rec.PowerW)
	assert.Nil(t, rec.GHS5s)
	assert.Nil(t, rec.TempMax)
	assert.Equal(t, []string{"fan", "3"}, rec.Errors)

	seconds, _ := FromDeviceStatus(device, &database.DeviceStatus{Payload: json.RawMessage(`{"ts":1704067200}`)})
	assert.Equal(t, "2024-01-01T00:00:00Z", seconds.TS)
}

func TestFromDeviceStatusFallsBackToStatusTime(t *testing.T) {
	status := &database.DeviceStatus{
		TS:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload: json.RawMessage(`{"ts":"yesterday"}`),
	}

	rec, ok := FromDeviceStatus(database.Device{ExternalID: "rig-1"}, status)
	require.True(t, ok)
	assert.Equal(t, "2025-03-01T12:00:00Z", rec.TS)
}

func TestTimestampLayouts(t *testing.T) {
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{
		"2024-01-02T00:00:00Z",
		"2024-01-02T01:00:00+01:00",
		"2024-01-02 00:00:00",
		"2024-01-02 00:00:00.000",
		"2024-01-02T00:00:00",
		" 2024-01-02 00:00:00Z ",
	} {
		ts, ok := Record{TS: raw}.Timestamp()
		if assert.True(t, ok, raw) {
			assert.True(t, ts.Equal(want), raw)
		}
	}

	_, ok := Record{TS: "02/01/2024"}.Timestamp()
	assert.False(t, ok)
}

func TestFromDevicesKeepsMinersWithLoosePayloads(t *testing.T) {
	rows := []database.DeviceWithStatus{
		{
			Device: database.Device{ExternalID: "a", Meta: database.Meta{}},
			Status: &database.DeviceStatus{Payload: json.RawMessage(`{"ip":"10.0.0.5","reachable":true,"ts":1704067200000}`)},
		},
		{
			Device: database.Device{ExternalID: "b", Meta: database.Meta{"ip": "10.0.0.6", "loc": "A02"}},
			Status: &database.DeviceStatus{Payload: json.RawMessage(`{"reachable":1,"power_w":"3100"}`)},
		},
		{
			Device: database.Device{ExternalID: "c", Meta: database.Meta{"ip": "10.0.0.7"}},
			Status: &database.DeviceStatus{Payload: json.RawMessage(`[1]`)},
		},
		{Device: database.Device{ExternalID: "d"}},
	}

	out, unreadable := FromDevices(rows)
	assert.Equal(t, 1, unreadable)
	require.Len(t, out, 4)

	deduped := Dedupe(out)
	require.Len(t, deduped, 4)
	assert.Equal(t, "10.0.0.5", deduped[0].IP)
	assert.Equal(t, "10.0.0.6", deduped[1].IP)
	assert.Equal(t, "A02", deduped[1].Loc)
	assert.True(t, deduped[1].Reachable)
	assert.Equal(t, "10.0.0.7", deduped[2].IP)
	assert.JSONEq(t, `[1]`, string(deduped[2].Raw))
	assert.Equal(t, "d", deduped[3].IP)
}
