// Package types defines the data structures shared between the esmcp
// protocol server, its tools and the search federation engine.
package types

import "time"

// HostType identifies one backend search tier.
type HostType string

// Backend tier constants, newest data first.
const (
	// HostPrimary serves the most recent data (last six months by default).
	HostPrimary HostType = "PRIMARY"

	// HostSecondary serves the year before the primary window.
	HostSecondary HostType = "SECONDARY"

	// HostTertiary serves historical data from the fixed epoch onwards.
	HostTertiary HostType = "TERTIARY"
)

// AllHostTypes lists every tier, newest first.
var AllHostTypes = []HostType{HostPrimary, HostSecondary, HostTertiary}

// DateRange is a closed interval [Start, End].
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t lies inside the range (inclusive on both ends).
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Overlaps reports whether the two ranges share at least one instant.
func (r DateRange) Overlaps(other DateRange) bool {
	return !other.End.Before(r.Start) && !other.Start.After(r.End)
}

// HostCoverage pairs a backend tier with the sub-interval of a requested
// date range that the tier should serve.
type HostCoverage struct {
	Host         HostType  `json:"host"`
	DataSourceID int       `json:"dataSourceId,omitempty"` // Intermediary data source for this tier
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// Range returns the coverage interval as a DateRange.
func (c HostCoverage) Range() DateRange {
	return DateRange{Start: c.Start, End: c.End}
}
