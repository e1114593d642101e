package miners

import (
	"bytes"
	"encoding/json"
	"net/netip"
	"regexp"
	"sort"
	"strings"
)

var ipv4Pattern = regexp.MustCompile(`\d{1,3}(\.\d{1,3}){3}`)

// NormalizeIP returns the first IPv4-shaped substring found in candidates,
// checked in order. Without a match it falls back to the first non-empty
// trimmed candidate.
func NormalizeIP(candidates ...string) string {
	for _, c := range candidates {
		if match := ipv4Pattern.FindString(c); match != "" {
			return match
		}
	}
	for _, c := range candidates {
		if trimmed := strings.TrimSpace(c); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (r Record) key() string {
	return NormalizeIP(r.IP, r.Host, r.Name, r.ExternalID)
}

// Dedupe collapses records sharing a normalized IP into the best one, with
// its ip rewritten to the normalized form. Output is ordered by IP and does
// not depend on input order. Records without any identifying field are
// passed through as they are.
func Dedupe(records []Record) []Record {
	best := make(map[string]Record, len(records))
	var anonymous []Record

	for _, rec := range records {
		key := rec.key()
		if key == "" {
			anonymous = append(anonymous, rec)
			continue
		}
		current, ok := best[key]
		if !ok || better(rec, current) {
			best[key] = rec
		}
	}

	keys := make([]string, 0, len(best))
	for key := range best {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return lessIP(keys[i], keys[j]) })

	out := make([]Record, 0, len(keys)+len(anonymous))
	for _, key := range keys {
		rec := best[key]
		rec.IP = key
		out = append(out, rec)
	}
	return append(out, anonymous...)
}

// better reports whether candidate should replace current. The checks run in
// order and the first one that differs decides.
func better(candidate, current Record) bool {
	ct, cOK := candidate.Timestamp()
	pt, pOK := current.Timestamp()
	if cOK != pOK {
		return cOK
	}
	if cOK && !ct.Equal(pt) {
		return ct.After(pt)
	}

	if c, p := reachability(candidate), reachability(current); c != p {
		return c > p
	}
	if c, p := fullness(candidate), fullness(current); c != p {
		return c > p
	}

	// total order on the remaining fields so the winner does not depend on
	// which record was seen first
	for _, pair := range [][2]string{
		{candidate.ExternalID, current.ExternalID},
		{candidate.Name, current.Name},
		{candidate.Host, current.Host},
		{candidate.IP, current.IP},
	} {
		if pair[0] != pair[1] {
			return pair[0] < pair[1]
		}
	}
	return canonicalLess(candidate, current)
}

func reachability(r Record) int {
	score := 0
	if r.Reachable {
		score += 10
	}
	if r.API4028 {
		score += 5
	}
	return score
}

func fullness(r Record) int {
	n := 0
	for _, present := range []bool{
		r.PowerW != nil,
		r.GHS5s != nil,
		r.GHSAv != nil,
		r.PoolUser != nil,
		r.PoolStatus != nil,
	} {
		if present {
			n++
		}
	}
	return n
}

// canonicalLess orders otherwise tied records by their encoded form. Equal
// encodings keep the current record.
func canonicalLess(a, b Record) bool {
	ea, errA := json.Marshal(a)
	eb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Compare(ea, eb) < 0
}

// lessIP sorts valid addresses numerically ahead of anything else, which is
// sorted as text.
func lessIP(a, b string) bool {
	aa, errA := netip.ParseAddr(a)
	ba, errB := netip.ParseAddr(b)
	switch {
	case errA == nil && errB == nil:
		return aa.Less(ba)
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}
