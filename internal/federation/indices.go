package federation

import (
	"fmt"
	"strings"
	"time"
)

// DefaultIndexPattern names the monthly indices. MM is the zero-padded
// month, yyyy the four-digit year.
const DefaultIndexPattern = "payment-history-MM-yyyy*"

// DefaultSearchIndex is searched when a call names no indices.
const DefaultSearchIndex = "payment-history-*"

// MonthlyIndices returns one index name per calendar month touched by
// [start, end], oldest first.
func MonthlyIndices(pattern string, start, end time.Time) ([]string, error) {
	if pattern == "" {
		pattern = DefaultIndexPattern
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvertedRange, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	var out []string
	cur := StartOfMonth(start)
	last := StartOfMonth(end)
	for !cur.After(last) {
		name := strings.ReplaceAll(pattern, "MM", fmt.Sprintf("%02d", int(cur.Month())))
		name = strings.ReplaceAll(name, "yyyy", fmt.Sprintf("%04d", cur.Year()))
		out = append(out, name)
		cur = cur.AddDate(0, 1, 0)
	}
	return out, nil
}
