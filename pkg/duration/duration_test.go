package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"90s", 90 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"30d", 30 * Day},
		{"30 days", 30 * Day},
		{"2 weeks", 2 * Week},
		{"1w2d12h", Week + 2*Day + 12*time.Hour},
		{"1 month", Month},
		{"1y", Year},
		{"1.5d", 36 * time.Hour},
		{"-2d", -2 * Day},
		{"0", 0},
		{"3 hours 10 minutes", 3*time.Hour + 10*time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, in := range []string{"", "abc", "5 fortnights", "10x"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("nope") })
	assert.Equal(t, Week, MustParse("1w"))
}

func TestFormat(t *testing.T) {
	tests := map[time.Duration]string{
		0:                        "0s",
		time.Hour:                "1h",
		36 * time.Hour:           "1d12h",
		30 * Day:                 "1mo",
		Year + Week:              "1y1w",
		-90 * time.Second:        "-1m30s",
		1500 * time.Millisecond:  "1s500ms",
	}
	for d, want := range tests {
		assert.Equal(t, want, Format(d), d.String())
	}
}

func TestRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{time.Minute, 3 * Day, 2*Week + time.Hour, Year + 3*Month} {
		got, err := Parse(Format(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
}
