package miners

// Summary is the per-site roll-up shown on dashboards.
type Summary struct {
	Miners      int     `json:"miners"`
	Reachable   int     `json:"reachable"`
	HashrateGHS float64 `json:"hashrate_ghs"`
	PowerW      float64 `json:"power_w"`
	Errors      int     `json:"errors"`
}

// Summarize totals deduplicated records. Missing readings count as zero.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		s.Miners++
		if r.Reachable {
			s.Reachable++
		}
		if r.GHS5s != nil {
			s.HashrateGHS += *r.GHS5s
		}
		if r.PowerW != nil {
			s.PowerW += *r.PowerW
		}
		if len(r.Errors) > 0 {
			s.Errors++
		}
	}
	return s
}
