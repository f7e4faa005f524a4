// Package quota holds the pure accounting rules for per-owner storage usage.
// Only the current version of each active file counts against an owner's
// quota; trashed files, purged files, and superseded versions do not.
package quota

// Usage is an owner's quota and the bytes currently charged against it.
type Usage struct {
	OwnerID    string `json:"owner_id"`
	QuotaBytes int64  `json:"quota_bytes"`
	UsedBytes  int64  `json:"used_bytes"`
}

// Remaining returns the bytes still available. It never goes below zero.
func (u Usage) Remaining() int64 {
	if r := u.QuotaBytes - u.UsedBytes; r > 0 {
		return r
	}
	return 0
}

// Fits reports whether charging delta more bytes stays within quota.
// Releases (delta <= 0) always fit.
func (u Usage) Fits(delta int64) bool {
	if delta <= 0 {
		return true
	}
	return u.UsedBytes+delta <= u.QuotaBytes
}

// VersionDelta is the quota change when a file's current version of prevSize
// bytes is superseded by a version of newSize bytes.
func VersionDelta(prevSize, newSize int64) int64 {
	return newSize - prevSize
}

// Correction describes ledger drift found by reconciliation.
type Correction struct {
	OwnerID  string
	Recorded int64
	Actual   int64
}

// Delta is the adjustment that brings the recorded value back to actual.
func (c Correction) Delta() int64 {
	return c.Actual - c.Recorded
}

// Drift compares recorded ledger values with actual per-owner sums of active
// file sizes and returns a correction for every owner that disagrees. Owners
// missing from actual are treated as using zero bytes.
func Drift(recorded, actual map[string]int64) []Correction {
	var out []Correction
	for owner, rec := range recorded {
		act := actual[owner]
		if rec != act {
			out = append(out, Correction{OwnerID: owner, Recorded: rec, Actual: act})
		}
	}
	for owner, act := range actual {
		if _, ok := recorded[owner]; !ok && act != 0 {
			out = append(out, Correction{OwnerID: owner, Recorded: 0, Actual: act})
		}
	}
	return out
}
