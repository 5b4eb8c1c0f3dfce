package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Size
		wantErr  bool
	}{
		{"bare bytes", "1024", 1024, false},
		{"bytes suffix", "512B", 512, false},
		{"decimal kilobytes", "5kB", 5000, false},
		{"decimal megabytes", "25MB", 25_000_000, false},
		{"short megabytes", "8M", 8_000_000, false},
		{"decimal gigabytes", "1GB", 1_000_000_000, false},
		{"binary kibibytes", "4KiB", 4096, false},
		{"binary mebibytes", "2MiB", 2 * 1024 * 1024, false},
		{"binary gibibytes", "1GiB", 1 << 30, false},
		{"fractional", "1.5MB", 1_500_000, false},
		{"with space", "10 MiB", 10 * MiB, false},
		{"lowercase", "10mib", 10 * MiB, false},
		{"empty", "", 0, true},
		{"garbage", "lots", 0, true},
		{"unknown unit", "5XB", 0, true},
		{"negative", "-5MB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseBitrate(t *testing.T) {
	tests := []struct {
		input    string
		expected int
		wantErr  bool
	}{
		{"2500k", 2500, false},
		{"2500kbps", 2500, false},
		{"2.5M", 2500, false},
		{"4Mbps", 4000, false},
		{"192000", 192, false},
		{"", 0, true},
		{"5q", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseBitrate(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		input    Size
		expected string
	}{
		{0, "0B"},
		{999, "999B"},
		{1000, "1kB"},
		{1024, "1KiB"},
		{2 * MiB, "2MiB"},
		{25 * MB, "25MB"},
		{1_500_000, "1.5MB"},
		{-3 * KB, "-3kB"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, Format(tt.input))
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("nope") })
	assert.Equal(t, 3*MB, MustParse("3MB"))
}
