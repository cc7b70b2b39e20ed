// Package cache decides when cached product records are served and when
// they are refreshed from the upstream API, coalescing concurrent refreshes
// per key.
package cache

import "time"

// DefaultCutoffHour is the UTC hour of the upstream daily price batch.
const DefaultCutoffHour = 17

// Cutoff returns the most recent daily cutoff instant at or before now.
// If now is exactly the cutoff instant, that instant stands.
func Cutoff(now time.Time, cutoffHour int) time.Time {
	now = now.UTC()
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), cutoffHour, 0, 0, 0, time.UTC)
	if now.Before(cutoff) {
		cutoff = cutoff.AddDate(0, 0, -1)
	}
	return cutoff
}

// IsStale reports whether a record last updated at lastUpdated predates the
// most recent daily cutoff. Upstream refreshes prices in one daily batch, so
// a record synced after the latest cutoff cannot have changed upstream and
// is not worth refetching.
func IsStale(lastUpdated, now time.Time, cutoffHour int) bool {
	return lastUpdated.Before(Cutoff(now, cutoffHour))
}
