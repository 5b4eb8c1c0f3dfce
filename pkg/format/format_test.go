package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	tests := map[int64]string{
		0:               "0 B",
		1023:            "1023 B",
		1536:            "1.5 KiB",
		2 * 1024 * 1024: "2.0 MiB",
		5 << 30:         "5.0 GiB",
	}
	for in, want := range tests {
		assert.Equal(t, want, Bytes(in), in)
	}
}

func TestNumberAndPercent(t *testing.T) {
	assert.Equal(t, "1,234,567", Number(1234567))
	assert.Equal(t, "45.7%", Percent(45.678))
	assert.Equal(t, "100.0%", Percent(100))
}

func TestTimecode(t *testing.T) {
	assert.Equal(t, "0:00:00.000", Timecode(0))
	assert.Equal(t, "0:01:05.250", Timecode(65.25))
	assert.Equal(t, "1:00:00.000", Timecode(3600))
	assert.Equal(t, "0:00:00.000", Timecode(-3))
}

func TestETAAndSpeed(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	assert.Equal(t, "--", ETA(nil))
	assert.Equal(t, "42s", ETA(f(42.2)))
	assert.Equal(t, "3m05s", ETA(f(185)))
	assert.Equal(t, "1h02m", ETA(f(3720)))
	assert.Equal(t, "--", Speed(nil))
	assert.Equal(t, "1.50x", Speed(f(1.5)))
}

func TestRelativeTime(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "just now", RelativeTime(now.Add(-10*time.Second)))
	assert.Equal(t, "1 minute ago", RelativeTime(now.Add(-90*time.Second)))
	assert.Equal(t, "5 hours ago", RelativeTime(now.Add(-5*time.Hour-time.Minute)))
	assert.Equal(t, "3 days ago", RelativeTime(now.Add(-73*time.Hour)))
}

func TestCronDescription(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"0 0 3 * * *", "Daily at 3AM"},
		{"0 30 14 * * *", "Daily at 2:30PM"},
		{"0 0 0 * * *", "Daily at midnight"},
		{"0 */15 * * * *", "Every 15 minutes"},
		{"0 0 */6 * * *", "Every 6 hours"},
		{"*/30 * * * * *", "Every 30 seconds"},
		{"0 5 * * * *", "Every hour at :05"},
		{"0 0 3 * * 1", "0 0 3 * * 1"},
		{"@daily", "@daily"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, CronDescription(tt.expr))
		})
	}
}
