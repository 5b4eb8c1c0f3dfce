// Package format provides human-readable formatting for CLI output.
package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Bytes formats a byte count using binary units.
// Example: Bytes(1536) => "1.5 KiB"
func Bytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 4; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %s", float64(n)/float64(div), [...]string{"KiB", "MiB", "GiB", "TiB", "PiB"}[exp])
}

// Number formats a number with thousand separators.
// Example: Number(1234567) => "1,234,567"
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// Percent formats a 0..100 value with one decimal.
func Percent(v float64) string {
	if math.IsNaN(v) {
		v = 0
	}
	return printer.Sprintf("%.1f%%", v)
}

// Timecode formats a media position in seconds as H:MM:SS.mmm.
func Timecode(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, ms%1000)
}

// ETA formats a remaining duration as "1h02m", "3m05s" or "42s". A nil
// estimate prints "--".
func ETA(seconds *float64) string {
	if seconds == nil || *seconds < 0 {
		return "--"
	}
	d := time.Duration(*seconds * float64(time.Second)).Round(time.Second)
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

// Speed formats an encode speed multiplier.
func Speed(speed *float64) string {
	if speed == nil {
		return "--"
	}
	return strconv.FormatFloat(*speed, 'f', 2, 64) + "x"
}

// RelativeTime formats a past time relative to now.
// Example: RelativeTime(time.Now().Add(-5*time.Minute)) => "5 minutes ago"
func RelativeTime(t time.Time) string {
	d := time.Since(t)
	if d < 0 {
		return "just now"
	}
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return printer.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

// CronDescription describes the common shapes of a 6-field cron
// expression. Anything else is returned unchanged.
// Example: CronDescription("0 0 3 * * *") => "Daily at 3AM"
func CronDescription(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) != 6 {
		return expr
	}
	sec, minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5]
	if dom != "*" || month != "*" || dow != "*" {
		return expr
	}

	if n, ok := interval(sec); ok && minute == "*" && hour == "*" {
		return fmt.Sprintf("Every %d seconds", n)
	}
	if n, ok := interval(minute); ok && hour == "*" {
		return fmt.Sprintf("Every %d minutes", n)
	}
	if n, ok := interval(hour); ok {
		if n == 1 {
			return "Every hour"
		}
		return fmt.Sprintf("Every %d hours", n)
	}

	m, errM := strconv.Atoi(minute)
	if hour == "*" && errM == nil {
		if m == 0 {
			return "Every hour"
		}
		return fmt.Sprintf("Every hour at :%02d", m)
	}
	h, errH := strconv.Atoi(hour)
	if errH == nil && errM == nil {
		return "Daily at " + clock(h, m)
	}
	return expr
}

func interval(field string) (int, bool) {
	start, step, ok := strings.Cut(field, "/")
	if !ok || (start != "*" && start != "0") {
		return 0, false
	}
	n, err := strconv.Atoi(step)
	return n, err == nil && n > 0
}

func clock(hour, minute int) string {
	switch {
	case hour == 0 && minute == 0:
		return "midnight"
	case hour == 12 && minute == 0:
		return "noon"
	}
	period := "AM"
	if hour >= 12 {
		period = "PM"
	}
	h12 := hour % 12
	if h12 == 0 {
		h12 = 12
	}
	if minute == 0 {
		return fmt.Sprintf("%d%s", h12, period)
	}
	return fmt.Sprintf("%d:%02d%s", h12, minute, period)
}
