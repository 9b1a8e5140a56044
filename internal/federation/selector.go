package federation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/esmcp/internal/config"
	"github.com/scrypster/esmcp/pkg/types"
)

// ErrInvertedRange is returned when start is after end.
var ErrInvertedRange = errors.New("start date is after end date")

// Window is the interval a tier is authoritative for.
type Window struct {
	Host        types.HostType `json:"host"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	Description string         `json:"description"`
}

// Selector maps a requested date range onto the backend tiers.
type Selector struct {
	recencyMonths int
	extensionDays int
	epoch         time.Time
	dataSources   map[types.HostType]int
	now           func() time.Time
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithNow overrides the clock the windows are computed against.
func WithNow(now func() time.Time) SelectorOption {
	return func(s *Selector) {
		s.now = now
	}
}

// WithDataSources attaches the intermediary data source id of each tier to
// the coverages Select returns.
func WithDataSources(hosts map[types.HostType]config.HostConfig) SelectorOption {
	return func(s *Selector) {
		for h, hc := range hosts {
			s.dataSources[h] = hc.DataSourceID
		}
	}
}

// NewSelector creates a selector from the tier configuration.
func NewSelector(tiers config.TierConfig, opts ...SelectorOption) *Selector {
	s := &Selector{
		recencyMonths: tiers.RecencyMonths,
		extensionDays: tiers.ExtensionDays,
		epoch:         tiers.Epoch,
		dataSources:   make(map[types.HostType]int),
		now:           time.Now,
	}
	if s.recencyMonths <= 0 {
		s.recencyMonths = 6
	}
	if s.extensionDays <= 0 {
		s.extensionDays = 365
	}
	if s.epoch.IsZero() {
		s.epoch = time.Date(2023, time.April, 1, 0, 0, 0, 0, time.Local)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the selector's current time.
func (s *Selector) Now() time.Time {
	return s.now()
}

// Windows returns the tier windows relative to now, oldest first. Adjacent
// windows share their boundary instant; Select assigns it to the older tier.
func (s *Selector) Windows() []Window {
	now := s.now()
	primaryStart := now.AddDate(0, -s.recencyMonths, 0)
	secondaryStart := primaryStart.AddDate(0, 0, -s.extensionDays)

	return []Window{
		{
			Host:        types.HostTertiary,
			Start:       s.epoch.In(now.Location()),
			End:         secondaryStart,
			Description: fmt.Sprintf("From %s to SECONDARY start", s.epoch.Format("January 2, 2006")),
		},
		{
			Host:        types.HostSecondary,
			Start:       secondaryStart,
			End:         primaryStart,
			Description: fmt.Sprintf("%d days before PRIMARY range", s.extensionDays),
		},
		{
			Host:        types.HostPrimary,
			Start:       primaryStart,
			End:         now,
			Description: fmt.Sprintf("Last %d months from current time", s.recencyMonths),
		},
	}
}

// Window returns the window of one tier.
func (s *Selector) Window(host types.HostType) (Window, bool) {
	for _, w := range s.Windows() {
		if w.Host == host {
			return w, true
		}
	}
	return Window{}, false
}

// Select returns the coverages for [start, end], oldest tier first. A nil
// start defaults to the first day of the current month, a nil end to now.
//
// Parts of the range outside every window are dropped. A range lying
// entirely before the oldest window or after the newest is served by that
// nearest tier with the requested interval unchanged.
func (s *Selector) Select(start, end *time.Time) ([]types.HostCoverage, error) {
	now := s.now()
	from := StartOfMonth(now)
	if start != nil {
		from = *start
	}
	to := now
	if end != nil {
		to = *end
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvertedRange, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	windows := s.Windows()
	oldest, newest := windows[0], windows[len(windows)-1]

	if to.Before(oldest.Start) {
		return []types.HostCoverage{s.coverage(oldest.Host, from, to)}, nil
	}
	if from.After(newest.End) {
		return []types.HostCoverage{s.coverage(newest.Host, from, to)}, nil
	}

	var out []types.HostCoverage
	cursor := from
	for _, w := range windows {
		if cursor.After(to) {
			break
		}
		if w.Start.After(w.End) {
			continue
		}
		segStart := latest(cursor, w.Start)
		segEnd := earliest(to, w.End)
		if segStart.After(segEnd) {
			continue
		}
		out = append(out, s.coverage(w.Host, segStart, segEnd))
		cursor = segEnd.Add(time.Second)
	}
	return out, nil
}

// SelectDates parses the date strings and selects coverages. Empty strings
// take the Select defaults. A date-only end is widened to the end of that
// day.
func (s *Selector) SelectDates(startStr, endStr string) ([]types.HostCoverage, error) {
	start, end, err := s.ParseRange(startStr, endStr)
	if err != nil {
		return nil, err
	}
	return s.Select(start, end)
}

// ParseRange parses optional start and end strings in the selector's
// location. A nil result means the string was empty.
func (s *Selector) ParseRange(startStr, endStr string) (*time.Time, *time.Time, error) {
	loc := s.now().Location()
	var start, end *time.Time

	if strings.TrimSpace(startStr) != "" {
		t, dateOnly, err := ParseDate(startStr, loc)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid start date: %w", err)
		}
		if dateOnly {
			t = StartOfDay(t)
		}
		start = &t
	}
	if strings.TrimSpace(endStr) != "" {
		t, dateOnly, err := ParseDate(endStr, loc)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid end date: %w", err)
		}
		if dateOnly {
			t = EndOfDay(t)
		}
		end = &t
	}
	return start, end, nil
}

// CoverageFor returns the full window of one tier as a coverage.
func (s *Selector) CoverageFor(host types.HostType) types.HostCoverage {
	w, ok := s.Window(host)
	if !ok {
		now := s.now()
		return s.coverage(host, StartOfMonth(now), now)
	}
	return s.coverage(host, w.Start, w.End)
}

// Hosts returns the distinct tiers of coverages in order.
func Hosts(coverages []types.HostCoverage) []types.HostType {
	seen := make(map[types.HostType]bool, len(coverages))
	var out []types.HostType
	for _, c := range coverages {
		if !seen[c.Host] {
			seen[c.Host] = true
			out = append(out, c.Host)
		}
	}
	return out
}

func (s *Selector) coverage(host types.HostType, start, end time.Time) types.HostCoverage {
	return types.HostCoverage{
		Host:         host,
		DataSourceID: s.dataSources[host],
		Start:        start,
		End:          end,
	}
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
