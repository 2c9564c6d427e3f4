package biz

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// DateLayout is the date format accepted and rendered by the dashboard.
const DateLayout = "2006-01-02"

// maxRangeDays bounds a single dashboard range.
const maxRangeDays = 366 * 5

// ErrInvalidDateRange is returned for unparsable or reversed date ranges.
var ErrInvalidDateRange = errors.New("invalid date range")

// DateRange is a span of whole days; both ends are inclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange parses YYYY-MM-DD bounds. Two empty strings mean "no range"
// and yield nil.
func ParseDateRange(start, end string) (*DateRange, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, fmt.Errorf("%w: start_date and end_date must be given together", ErrInvalidDateRange)
	}

	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return nil, fmt.Errorf("%w: start_date %q is not YYYY-MM-DD", ErrInvalidDateRange, start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return nil, fmt.Errorf("%w: end_date %q is not YYYY-MM-DD", ErrInvalidDateRange, end)
	}
	if e.Before(s) {
		return nil, fmt.Errorf("%w: end_date %s is before start_date %s", ErrInvalidDateRange, end, start)
	}

	r := &DateRange{Start: s, End: e}
	if r.Days() > maxRangeDays {
		return nil, fmt.Errorf("%w: range spans %d days, at most %d allowed", ErrInvalidDateRange, r.Days(), maxRangeDays)
	}
	return r, nil
}

// Days returns the number of days covered.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start)/(24*time.Hour)) + 1
}

// Previous returns the range of equal length that ends the day before Start.
func (r DateRange) Previous() DateRange {
	length := time.Duration(r.Days()) * 24 * time.Hour
	return DateRange{
		Start: r.Start.Add(-length),
		End:   r.Start.Add(-24 * time.Hour),
	}
}

// Until returns the exclusive upper bound: midnight after End.
func (r DateRange) Until() time.Time {
	return r.End.Add(24 * time.Hour)
}

// RangeKey renders r for cache keys and history rows; nil is "all".
func RangeKey(r *DateRange) string {
	if r == nil {
		return "all"
	}
	return r.Start.Format(DateLayout) + ":" + r.End.Format(DateLayout)
}

type dateRangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MarshalJSON renders both bounds as YYYY-MM-DD.
func (r DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(dateRangeJSON{Start: r.Start.Format(DateLayout), End: r.End.Format(DateLayout)})
}

// UnmarshalJSON parses the MarshalJSON form.
func (r *DateRange) UnmarshalJSON(b []byte) error {
	var v dateRangeJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseDateRange(v.Start, v.End)
	if err != nil {
		return err
	}
	if parsed != nil {
		*r = *parsed
	}
	return nil
}

// QueryStatus is the outcome of one sub-query.
type QueryStatus string

// Sub-query outcomes.
const (
	QueryOK     QueryStatus = "ok"
	QueryFailed QueryStatus = "failed"
)

// TrendDelta compares one counter with the previous period. Percent is nil
// when the previous value is zero.
type TrendDelta struct {
	Current  int64    `json:"current"`
	Previous int64    `json:"previous"`
	Delta    int64    `json:"delta"`
	Percent  *float64 `json:"percent,omitempty"`
}

func newTrendDelta(current, previous int64) TrendDelta {
	d := TrendDelta{Current: current, Previous: previous, Delta: current - previous}
	if previous != 0 {
		p := float64(d.Delta) / float64(previous) * 100
		d.Percent = &p
	}
	return d
}

// MetricsSnapshot is one computed dashboard. It is never mutated after
// construction.
type MetricsSnapshot struct {
	// Counters is keyed "<level>.<status>", e.g. "N2.pending". Failed
	// sub-queries contribute a zero here and are flagged in the status map.
	Counters map[string]int64 `json:"counters"`
	// General is keyed by status name and spans every technician group.
	General     map[string]int64      `json:"general"`
	LevelTotals map[string]int64      `json:"level_totals"`
	GrandTotal  int64                 `json:"grand_total"`
	Trends      map[string]TrendDelta `json:"trends,omitempty"`
	Range       *DateRange            `json:"range,omitempty"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// AggregationResult wraps a snapshot with the outcome of every sub-query so a
// failed fetch is distinguishable from a genuine zero.
type AggregationResult struct {
	Snapshot *MetricsSnapshot       `json:"snapshot"`
	Status   map[string]QueryStatus `json:"status"`
	Errors   map[string]string      `json:"errors,omitempty"`
	// FailedLevels lists the service levels whose every sub-query failed.
	FailedLevels []string `json:"failed_levels,omitempty"`
	Partial      bool     `json:"partial"`
}

// Failed reports whether the sub-query behind counter key failed.
func (r *AggregationResult) Failed(key string) bool {
	return r.Status[key] == QueryFailed
}
