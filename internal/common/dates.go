package common

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format accepted by filters.
const DateLayout = "2006-01-02"

// ParseDate parses an optional YYYY-MM-DD filter bound in UTC. An empty value yields nil.
// With endOfDay set the bound covers the whole day, so date ranges are inclusive.
func ParseDate(value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want %s): %w", value, DateLayout, err)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// ParseDateRange parses optional inclusive from/to bounds. A range that ends before it
// starts is a UserError.
func ParseDateRange(from, to string) (start, end *time.Time, err error) {
	if start, err = ParseDate(from, false); err != nil {
		return nil, nil, err
	}
	if end, err = ParseDate(to, true); err != nil {
		return nil, nil, err
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, NewUserError(
			fmt.Sprintf("date range ends (%s) before it starts (%s)", strings.TrimSpace(to), strings.TrimSpace(from)), nil)
	}
	return start, end, nil
}
