// Package duration parses and formats durations with day, week, month and
// year units on top of time.ParseDuration.
//
// Accepted forms include "720h", "30d", "2 weeks", "1w2d12h" and "1 month".
// A month is 30 days and a year is 365 days.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

var units = map[string]time.Duration{
	"y": Year, "yr": Year, "yrs": Year, "year": Year, "years": Year,
	"mo": Month, "mos": Month, "month": Month, "months": Month,
	"w": Week, "wk": Week, "wks": Week, "week": Week, "weeks": Week,
	"d": Day, "day": Day, "days": Day,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"ms": time.Millisecond, "millisecond": time.Millisecond, "milliseconds": time.Millisecond,
	"us": time.Microsecond, "µs": time.Microsecond,
	"ns": time.Nanosecond,
}

var component = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*([a-zµ]+)`)

// Parse parses s. Plain Go durations are accepted unchanged.
func Parse(s string) (time.Duration, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(in); err == nil {
		return d, nil
	}

	negative := strings.HasPrefix(in, "-")
	rest := strings.TrimSpace(strings.TrimLeft(in, "+-"))
	if rest == "0" {
		return 0, nil
	}

	var total time.Duration
	for rest != "" {
		m := component.FindStringSubmatch(rest)
		if m == nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		unit, ok := units[strings.ToLower(m[2])]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, m[2])
		}
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		total += time.Duration(n * float64(unit))
		rest = strings.TrimSpace(rest[len(m[0]):])
	}
	if negative {
		total = -total
	}
	return total, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

var formatUnits = []struct {
	size time.Duration
	name string
}{
	{Year, "y"}, {Month, "mo"}, {Week, "w"}, {Day, "d"},
	{time.Hour, "h"}, {time.Minute, "m"}, {time.Second, "s"},
	{time.Millisecond, "ms"}, {time.Microsecond, "us"}, {time.Nanosecond, "ns"},
}

// Format writes d using the largest units first and omits zero
// components, so 36h becomes "1d12h".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	for _, u := range formatUnits {
		if n := d / u.size; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.name)
			d -= n * u.size
		}
	}
	return b.String()
}
