package federation_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/esmcp/internal/config"
	"github.com/scrypster/esmcp/internal/federation"
	"github.com/scrypster/esmcp/pkg/types"
)

var fixedNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func newSelector(opts ...federation.SelectorOption) *federation.Selector {
	opts = append([]federation.SelectorOption{federation.WithNow(func() time.Time { return fixedNow })}, opts...)
	return federation.NewSelector(config.TierConfig{
		RecencyMonths: 6,
		ExtensionDays: 365,
		Epoch:         time.Date(2023, time.April, 1, 0, 0, 0, 0, time.UTC),
	}, opts...)
}

func at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ----------------------------------------------------------------------------
// Windows
// ----------------------------------------------------------------------------

func TestWindows_AreContiguous(t *testing.T) {
	w := newSelector().Windows()
	require.Len(t, w, 3)

	assert.Equal(t, types.HostTertiary, w[0].Host)
	assert.Equal(t, types.HostSecondary, w[1].Host)
	assert.Equal(t, types.HostPrimary, w[2].Host)

	assert.Equal(t, time.Date(2024, time.December, 15, 12, 0, 0, 0, time.UTC), w[2].Start)
	assert.Equal(t, fixedNow, w[2].End)
	assert.Equal(t, w[2].Start, w[1].End)
	assert.Equal(t, w[2].Start.AddDate(0, 0, -365), w[1].Start)
	assert.Equal(t, w[1].Start, w[0].End)
	assert.Equal(t, at(2023, time.April, 1), w[0].Start)

	assert.Equal(t, "Last 6 months from current time", w[2].Description)
	assert.Equal(t, "365 days before PRIMARY range", w[1].Description)
	assert.Equal(t, "From April 1, 2023 to SECONDARY start", w[0].Description)
}

// ----------------------------------------------------------------------------
// Select
// ----------------------------------------------------------------------------

func TestSelect_NoDatesSelectsPrimary(t *testing.T) {
	covs, err := newSelector().Select(nil, nil)
	require.NoError(t, err)
	require.Len(t, covs, 1)
	assert.Equal(t, types.HostPrimary, covs[0].Host)
	assert.Equal(t, at(2025, time.June, 1), covs[0].Start)
	assert.Equal(t, fixedNow, covs[0].End)
}

func TestSelect_InsideOneTierIsUnclipped(t *testing.T) {
	start, end := at(2024, time.March, 1), at(2024, time.April, 1)
	covs, err := newSelector().Select(&start, &end)
	require.NoError(t, err)
	require.Len(t, covs, 1)
	assert.Equal(t, types.HostSecondary, covs[0].Host)
	assert.Equal(t, start, covs[0].Start)
	assert.Equal(t, end, covs[0].End)
}

func TestSelect_SpanningAllTiers(t *testing.T) {
	start, end := at(2023, time.January, 1), at(2025, time.December, 31)
	s := newSelector()
	covs, err := s.Select(&start, &end)
	require.NoError(t, err)
	require.Len(t, covs, 3)

	w := s.Windows()
	assert.Equal(t, types.HostTertiary, covs[0].Host)
	assert.Equal(t, w[0].Start, covs[0].Start)
	assert.Equal(t, w[0].End, covs[0].End)

	assert.Equal(t, types.HostSecondary, covs[1].Host)
	assert.Equal(t, covs[0].End.Add(time.Second), covs[1].Start)
	assert.Equal(t, w[1].End, covs[1].End)

	assert.Equal(t, types.HostPrimary, covs[2].Host)
	assert.Equal(t, covs[1].End.Add(time.Second), covs[2].Start)
	assert.Equal(t, fixedNow, covs[2].End)
}

func TestSelect_SinglePoint(t *testing.T) {
	p := at(2024, time.June, 1)
	covs, err := newSelector().Select(&p, &p)
	require.NoError(t, err)
	require.Len(t, covs, 1)
	assert.Equal(t, types.HostSecondary, covs[0].Host)
	assert.Equal(t, p, covs[0].Start)
	assert.Equal(t, p, covs[0].End)
}

func TestCoverageFor_FullWindow(t *testing.T) {
	sel := newSelector()
	w, ok := sel.Window(types.HostSecondary)
	require.True(t, ok)

	cov := sel.CoverageFor(types.HostSecondary)
	assert.Equal(t, types.HostSecondary, cov.Host)
	assert.Equal(t, w.Start, cov.Start)
	assert.Equal(t, w.End, cov.End)
}

func TestSelect_InvertedRange(t *testing.T) {
	start, end := at(2024, time.June, 2), at(2024, time.June, 1)
	_, err := newSelector().Select(&start, &end)
	assert.ErrorIs(t, err, federation.ErrInvertedRange)
}

func TestSelect_BeforeEpochClampsToTertiary(t *testing.T) {
	start, end := at(2022, time.January, 1), at(2022, time.February, 1)
	covs, err := newSelector().Select(&start, &end)
	require.NoError(t, err)
	require.Len(t, covs, 1)
	assert.Equal(t, types.HostTertiary, covs[0].Host)
	assert.Equal(t, start, covs[0].Start)
	assert.Equal(t, end, covs[0].End)
}

func TestSelect_FutureClampsToPrimary(t *testing.T) {
	start, end := at(2026, time.January, 1), at(2026, time.February, 1)
	covs, err := newSelector().Select(&start, &end)
	require.NoError(t, err)
	require.Len(t, covs, 1)
	assert.Equal(t, types.HostPrimary, covs[0].Host)
}

func TestSelect_AttachesDataSources(t *testing.T) {
	s := newSelector(federation.WithDataSources(map[types.HostType]config.HostConfig{
		types.HostPrimary:   {DataSourceID: 3},
		types.HostSecondary: {DataSourceID: 4},
	}))
	start, end := at(2024, time.November, 1), at(2025, time.January, 31)
	covs, err := s.Select(&start, &end)
	require.NoError(t, err)
	require.Len(t, covs, 2)
	assert.Equal(t, 4, covs[0].DataSourceID)
	assert.Equal(t, 3, covs[1].DataSourceID)
}

func TestSelect_RandomRangesAreDisjointAndOrdered(t *testing.T) {
	s := newSelector()
	w := s.Windows()
	lo, hi := at(2022, time.January, 1), at(2026, time.January, 1)
	span := hi.Sub(lo)
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		a := lo.Add(time.Duration(r.Int63n(int64(span)))).Truncate(time.Second)
		b := lo.Add(time.Duration(r.Int63n(int64(span)))).Truncate(time.Second)
		if a.After(b) {
			a, b = b, a
		}
		covs, err := s.Select(&a, &b)
		require.NoError(t, err)
		require.NotEmpty(t, covs, "range %s..%s", a, b)

		for j, c := range covs {
			assert.False(t, c.Start.After(c.End))
			if j > 0 {
				assert.Equal(t, covs[j-1].End.Add(time.Second), c.Start, "coverages must be adjacent")
			}
		}

		inside := !b.Before(w[0].Start) && !a.After(w[2].End)
		if inside {
			wantStart := a
			if wantStart.Before(w[0].Start) {
				wantStart = w[0].Start
			}
			wantEnd := b
			if wantEnd.After(w[2].End) {
				wantEnd = w[2].End
			}
			assert.Equal(t, wantStart, covs[0].Start)
			assert.Equal(t, wantEnd, covs[len(covs)-1].End)
		}
	}
}

// ----------------------------------------------------------------------------
// SelectDates / ParseDate
// ----------------------------------------------------------------------------

func TestSelectDates_DateOnlyEndIsEndOfDay(t *testing.T) {
	covs, err := newSelector().SelectDates("2024-03-01", "15-04-2024")
	require.NoError(t, err)
	require.Len(t, covs, 1)
	assert.Equal(t, at(2024, time.March, 1), covs[0].Start)
	assert.Equal(t, time.Date(2024, time.April, 15, 23, 59, 59, 0, time.UTC), covs[0].End)
}

func TestSelectDates_InvalidDate(t *testing.T) {
	_, err := newSelector().SelectDates("yesterday", "")
	assert.ErrorIs(t, err, federation.ErrInvalidDate)
}

func TestParseDate_Formats(t *testing.T) {
	tests := []struct {
		in       string
		want     time.Time
		dateOnly bool
	}{
		{"2025-01-15T10:30:00Z", time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC), false},
		{"2025-01-15T10:30:00", time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC), false},
		{"2025-01-15T10:30:00.250", time.Date(2025, 1, 15, 10, 30, 0, 250e6, time.UTC), false},
		{"2025-01-15 10:30:00", time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC), false},
		{"2025-01-15", at(2025, 1, 15), true},
		{"2025/01/15", at(2025, 1, 15), true},
		{"15-01-2025", at(2025, 1, 15), true},
		{"15/01/2025", at(2025, 1, 15), true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, dateOnly, err := federation.ParseDate(tt.in, time.UTC)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, tt.dateOnly, dateOnly)
		})
	}
}

func TestParseDate_WithOffset(t *testing.T) {
	got, _, err := federation.ParseDate("2025-01-15T00:00:00+05:30", time.UTC)
	require.NoError(t, err)
	assert.True(t, time.Date(2025, 1, 14, 18, 30, 0, 0, time.UTC).Equal(got))
}

// ----------------------------------------------------------------------------
// MonthlyIndices
// ----------------------------------------------------------------------------

func TestMonthlyIndices(t *testing.T) {
	got, err := federation.MonthlyIndices("", at(2024, time.November, 20), at(2025, time.February, 3))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"payment-history-11-2024*",
		"payment-history-12-2024*",
		"payment-history-01-2025*",
		"payment-history-02-2025*",
	}, got)
}

func TestMonthlyIndices_SameMonth(t *testing.T) {
	got, err := federation.MonthlyIndices("txn-yyyy.MM", at(2025, time.March, 1), at(2025, time.March, 31))
	require.NoError(t, err)
	assert.Equal(t, []string{"txn-2025.03"}, got)
}

func TestMonthlyIndices_Inverted(t *testing.T) {
	_, err := federation.MonthlyIndices("", at(2025, time.March, 2), at(2025, time.March, 1))
	assert.ErrorIs(t, err, federation.ErrInvertedRange)
}
