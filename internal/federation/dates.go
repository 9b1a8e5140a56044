package federation

import (
	"fmt"
	"strings"
	"time"
)

// dateLayout is one accepted input format. dateOnly layouts carry no time
// of day, so an end date parsed with one is widened to 23:59:59.
type dateLayout struct {
	layout   string
	dateOnly bool
}

var dateLayouts = []dateLayout{
	{time.RFC3339Nano, false},
	{time.RFC3339, false},
	{"2006-01-02T15:04:05.000", false},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02", true},
	{"2006/01/02", true},
	{"02-01-2006", true},
	{"02/01/2006", true},
}

// ErrInvalidDate is returned when a date string matches no accepted format.
var ErrInvalidDate = fmt.Errorf("invalid date")

// ParseDate parses s in loc. The second result reports whether s carried
// only a calendar date.
func ParseDate(s string, loc *time.Location) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, fmt.Errorf("%w: empty string", ErrInvalidDate)
	}
	if loc == nil {
		loc = time.Local
	}
	for _, l := range dateLayouts {
		t, err := time.ParseInLocation(l.layout, s, loc)
		if err == nil {
			return t, l.dateOnly, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("%w: %q (expected e.g. 2025-01-15, 15-01-2025 or 2025-01-15T00:00:00+05:30)", ErrInvalidDate, s)
}

// StartOfDay returns midnight of t's calendar day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns 23:59:59 of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

// StartOfMonth returns midnight of the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}
