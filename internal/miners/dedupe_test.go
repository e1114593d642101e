package miners

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }
func str(v string) *string    { return &v }

func TestNormalizeIP(t *testing.T) {
	assert.Equal(t, "10.0.0.7", NormalizeIP("host-10.0.0.7-unit"))
	assert.Equal(t, "192.168.1.20", NormalizeIP("", "rig 192.168.1.20", "10.0.0.1"))
	assert.Equal(t, "10.0.0.9", NormalizeIP("miner-a", "", "", "10.0.0.9"), "later fields are searched before falling back")
	assert.Equal(t, "miner-a", NormalizeIP("  ", " miner-a ", "b"))
	assert.Equal(t, "", NormalizeIP("", " "))
}

func TestDedupeNewerTimestampWins(t *testing.T) {
	a := Record{IP: "10.0.0.1", TS: "2024-01-01T00:00:00Z", Reachable: true}
	b := Record{IP: "10.0.0.1", TS: "2024-01-02T00:00:00Z", Reachable: false}

	out := Dedupe([]Record{a, b})
	require.Len(t, out, 1)
	assert.Equal(t, b, out[0])

	assert.Equal(t, out, Dedupe([]Record{b, a}))
}

func TestDedupeTieBreaks(t *testing.T) {
	tests := []struct {
		name   string
		winner Record
		loser  Record
	}{
		{
			name:   "timestamp beats none",
			winner: Record{IP: "10.0.0.2", TS: "2024-01-01T00:00:00Z"},
			loser:  Record{IP: "10.0.0.2", TS: "garbage", Reachable: true, API4028: true},
		},
		{
			name:   "reachable beats api only",
			winner: Record{IP: "10.0.0.2", Reachable: true},
			loser:  Record{IP: "10.0.0.2", API4028: true, PowerW: f64(3000)},
		},
		{
			name:   "equal timestamps fall through to reachability",
			winner: Record{IP: "10.0.0.2", TS: "2024-01-01T00:00:00Z", API4028: true},
			loser:  Record{IP: "10.0.0.2", TS: "2024-01-01T00:00:00.000Z"},
		},
		{
			name:   "fuller record wins",
			winner: Record{IP: "10.0.0.2", GHS5s: f64(1), PoolUser: str("me")},
			loser:  Record{IP: "10.0.0.2", PowerW: f64(3000)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, input := range [][]Record{{tt.winner, tt.loser}, {tt.loser, tt.winner}} {
				out := Dedupe(input)
				require.Len(t, out, 1)
				assert.Equal(t, tt.winner, out[0])
			}
		})
	}
}

func TestDedupeOrderIndependentOnFullTie(t *testing.T) {
	a := Record{IP: "10.0.0.3", ExternalID: "rig-a", Reachable: true}
	b := Record{IP: "host-10.0.0.3", ExternalID: "rig-b", Reachable: true}

	first := Dedupe([]Record{a, b})
	second := Dedupe([]Record{b, a})
	require.Len(t, first, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, "rig-a", first[0].ExternalID)
	assert.Equal(t, "10.0.0.3", first[0].IP)
}

func TestDedupeGroupsAndSorts(t *testing.T) {
	records := []Record{
		{IP: "10.0.0.10", ExternalID: "x"},
		{Host: "miner-10.0.0.2"},
		{IP: "", Name: "", ExternalID: ""},
		{Name: "lonely"},
		{IP: "10.0.0.2", Reachable: true},
	}

	out := Dedupe(records)
	require.Len(t, out, 4)
	assert.Equal(t, "10.0.0.2", out[0].IP)
	assert.True(t, out[0].Reachable)
	assert.Equal(t, "10.0.0.10", out[1].IP)
	assert.Equal(t, "lonely", out[2].IP)
	assert.Equal(t, "", out[3].IP, "records without identity pass through")
}
