// pkg/core/fix.go
package core

import "time"

// Fix is a single published device position. Coordinate is always WGS84,
// Raw keeps the provider's original reading, usually GCJ02, for diagnostics.
// A Fix is never mutated after it has been published.
type Fix struct {
	Coordinate   GeoCoordinate
	Raw          GeoCoordinate
	Accuracy     float64 // meters
	Address      string
	LocationType int
	Provider     string
	ProviderTime time.Time
	ReceivedAt   time.Time
}

// Age returns how long ago the fix was received relative to now.
func (f *Fix) Age(now time.Time) time.Duration {
	if f == nil || f.ReceivedAt.IsZero() {
		return 0
	}
	age := now.Sub(f.ReceivedAt)
	if age < 0 {
		return 0
	}
	return age
}
