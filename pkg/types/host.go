package types

import (
	"fmt"
	"strings"
)

// hostDescriptions holds the human readable description of each tier.
var hostDescriptions = map[HostType]string{
	HostPrimary:   "Primary Elasticsearch cluster - recent data (last 6 months)",
	HostSecondary: "Secondary Elasticsearch cluster - data from 6 to 18 months ago",
	HostTertiary:  "Tertiary Elasticsearch cluster - historical data since April 2023",
}

// ParseHostType converts a case-insensitive tier name into a HostType.
// Returns an error for anything outside the known set.
func ParseHostType(s string) (HostType, error) {
	h := HostType(strings.ToUpper(strings.TrimSpace(s)))
	if h.IsValid() {
		return h, nil
	}
	return "", fmt.Errorf("unknown host type %q", s)
}

// IsValid reports whether h is one of the known tiers.
func (h HostType) IsValid() bool {
	for _, known := range AllHostTypes {
		if h == known {
			return true
		}
	}
	return false
}

// Description returns the human readable tier description.
func (h HostType) Description() string {
	if d, ok := hostDescriptions[h]; ok {
		return d
	}
	return "Unknown host"
}

// HostTypeNames returns the tier names as plain strings, newest first.
func HostTypeNames() []string {
	names := make([]string, len(AllHostTypes))
	for i, h := range AllHostTypes {
		names[i] = string(h)
	}
	return names
}
