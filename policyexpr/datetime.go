package policyexpr

import (
	"fmt"
	"time"
)

// dateTimeLayouts are tried in order; the first successful parse wins.
// A bare date is treated as midnight UTC; a datetime with no offset is
// assumed UTC.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDateTime parses an ISO-8601 date or datetime string, normalizing
// to UTC.
func ParseDateTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("policyexpr: invalid datetime %q", s)
}
