package limiter

import "sort"

type entry struct {
	token string
	at    int64 // ms
}

// record is the in-process counterpart of the Redis sorted set: entries
// ordered by timestamp plus the key's expiry.
type record struct {
	entries   []entry
	expiresAt int64 // ms, the record is gone at or after this instant
}

func (r *record) expired(now int64) bool {
	return now >= r.expiresAt
}

// admit applies one admission step to r, mirroring sliding_window.lua.
// A nil or expired record behaves as a missing key.
func admit(r *record, token string, now, window, limit int64) (*record, Result) {
	if r == nil || r.expired(now) {
		r = &record{}
	}

	cutoff := now - window*1000
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].at > cutoff })
	r.entries = r.entries[i:]

	count := int64(len(r.entries))
	if count >= limit {
		elapsed := now - r.entries[0].at
		return r, Result{RetryAfter: window - ceilDiv(elapsed, 1000)}
	}

	j := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].at > now })
	r.entries = append(r.entries, entry{})
	copy(r.entries[j+1:], r.entries[j:])
	r.entries[j] = entry{token: token, at: now}
	r.expiresAt = now + window*1000

	return r, Result{Admitted: true, Remaining: limit - count - 1}
}

// ceilDiv rounds a/b toward positive infinity, like math.ceil in Lua.
func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a > 0) == (b > 0) {
		q++
	}
	return q
}
