// Package bytesize parses and formats byte sizes and bitrates.
//
// Decimal units (kB, MB, GB) use a base of 1000, matching how file size caps
// are usually quoted for upload limits. Binary units (KiB, MiB, GiB) use 1024.
// Unit matching is case-insensitive; a bare number is bytes.
package bytesize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Size represents a byte size.
type Size int64

// Decimal units.
const (
	B  Size = 1
	KB Size = 1000
	MB Size = 1000 * KB
	GB Size = 1000 * MB
)

// Binary units.
const (
	KiB Size = 1024
	MiB Size = 1024 * KiB
	GiB Size = 1024 * MiB
)

var units = map[string]Size{
	"":      B,
	"b":     B,
	"byte":  B,
	"bytes": B,
	"k":     KB,
	"kb":    KB,
	"m":     MB,
	"mb":    MB,
	"g":     GB,
	"gb":    GB,
	"kib":   KiB,
	"mib":   MiB,
	"gib":   GiB,
}

var numberUnit = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z/]*)\s*$`)

func split(s string) (float64, string, error) {
	m := numberUnit.FindStringSubmatch(s)
	if m == nil {
		return 0, "", fmt.Errorf("bytesize: invalid format %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", fmt.Errorf("bytesize: invalid number %q: %w", m[1], err)
	}
	return value, strings.ToLower(m[2]), nil
}

// Parse parses a human-readable byte size such as "25MB", "2 MiB" or "1024".
func Parse(s string) (Size, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}
	value, unit, err := split(s)
	if err != nil {
		return 0, err
	}
	mult, ok := units[unit]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", unit)
	}
	return Size(math.Round(value * float64(mult))), nil
}

// MustParse is like Parse but panics on error. Use only for constants.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// ParseBitrate parses an encoder bitrate such as "2500k", "2.5M" or
// "800kbps" and returns kilobits per second. A bare number is bits per second.
func ParseBitrate(s string) (int, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("bitrate: empty string")
	}
	value, unit, err := split(s)
	if err != nil {
		return 0, err
	}
	unit = strings.TrimSuffix(strings.TrimSuffix(unit, "bps"), "b/s")
	switch unit {
	case "":
		return int(value / 1000), nil
	case "k":
		return int(value), nil
	case "m":
		return int(value * 1000), nil
	default:
		return 0, fmt.Errorf("bitrate: unknown unit %q", unit)
	}
}

// Format renders a size using the largest decimal unit that keeps the
// value at or above one, unless the size is an exact binary multiple.
func Format(s Size) string {
	if s == 0 {
		return "0B"
	}
	sign := ""
	if s < 0 {
		sign = "-"
		s = -s
	}

	for _, u := range []struct {
		size Size
		name string
	}{{GiB, "GiB"}, {MiB, "MiB"}, {KiB, "KiB"}} {
		if s >= u.size && s%u.size == 0 && s%(u.size/1024*1000) != 0 {
			return fmt.Sprintf("%s%d%s", sign, s/u.size, u.name)
		}
	}

	switch {
	case s >= GB:
		return sign + trim(float64(s)/float64(GB), "GB")
	case s >= MB:
		return sign + trim(float64(s)/float64(MB), "MB")
	case s >= KB:
		return sign + trim(float64(s)/float64(KB), "kB")
	default:
		return fmt.Sprintf("%s%dB", sign, s)
	}
}

func trim(value float64, unit string) string {
	formatted := strconv.FormatFloat(value, 'f', 2, 64)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")
	return formatted + unit
}

// Bytes returns the size in bytes.
func (s Size) Bytes() int64 {
	return int64(s)
}

// String returns a human-readable string representation.
func (s Size) String() string {
	return Format(s)
}
