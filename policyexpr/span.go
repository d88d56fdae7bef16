package policyexpr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Span is an ISO-8601 duration (e.g. "PT1H30M", "P3D"), represented
// internally as total seconds using calendar approximations (365-day
// years, 30-day months, 7-day weeks) for arithmetic and comparison.
type Span struct {
	Seconds float64
}

var spanPattern = regexp.MustCompile(
	`^(-)?P(?:(\d+(?:\.\d+)?)Y)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)W)?(?:(\d+(?:\.\d+)?)D)?` +
		`(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseSpan parses an ISO-8601 duration string into a Span.
func ParseSpan(s string) (Span, error) {
	m := spanPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "-P" {
		return Span{}, fmt.Errorf("policyexpr: invalid span %q", s)
	}
	neg := m[1] == "-"
	get := func(i int) float64 {
		if m[i] == "" {
			return 0
		}
		v, _ := strconv.ParseFloat(m[i], 64)
		return v
	}
	years, months, weeks, days := get(2), get(3), get(4), get(5)
	hours, minutes, seconds := get(6), get(7), get(8)

	total := years*365*24*3600 + months*30*24*3600 + weeks*7*24*3600 + days*24*3600 +
		hours*3600 + minutes*60 + seconds
	if neg {
		total = -total
	}
	return Span{Seconds: total}, nil
}

// String renders the span in a canonical days/hours/minutes/seconds form.
func (s Span) String() string {
	secs := s.Seconds
	sign := ""
	if secs < 0 {
		sign = "-"
		secs = -secs
	}
	days := int64(secs / 86400)
	secs -= float64(days) * 86400
	hours := int64(secs / 3600)
	secs -= float64(hours) * 3600
	minutes := int64(secs / 60)
	secs -= float64(minutes) * 60

	var b strings.Builder
	b.WriteString(sign)
	b.WriteByte('P')
	if days != 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if hours != 0 || minutes != 0 || secs != 0 {
		b.WriteByte('T')
		if hours != 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if minutes != 0 {
			fmt.Fprintf(&b, "%dM", minutes)
		}
		if secs != 0 {
			fmt.Fprintf(&b, "%gS", secs)
		}
	}
	if days == 0 && hours == 0 && minutes == 0 && secs == 0 {
		b.WriteString("T0S")
	}
	return b.String()
}

// Compare returns -1, 0, or 1 as s is less than, equal to, or greater
// than o, using the approximate total-seconds representation.
func (s Span) Compare(o Span) int {
	switch {
	case s.Seconds < o.Seconds:
		return -1
	case s.Seconds > o.Seconds:
		return 1
	default:
		return 0
	}
}

// Add returns the sum of two spans.
func (s Span) Add(o Span) Span {
	return Span{Seconds: s.Seconds + o.Seconds}
}

// Sub returns the difference of two spans.
func (s Span) Sub(o Span) Span {
	return Span{Seconds: s.Seconds - o.Seconds}
}
