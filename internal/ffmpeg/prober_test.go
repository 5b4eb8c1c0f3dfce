package ffmpeg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeJSON = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
     "avg_frame_rate": "30000/1001", "r_frame_rate": "30000/1001"},
    {"codec_type": "audio", "codec_name": "aac"}
  ],
  "format": {"duration": "12.345000"}
}`

func TestParseProbeOutput(t *testing.T) {
	info, err := ParseProbeOutput([]byte(probeJSON))
	require.NoError(t, err)
	assert.InDelta(t, 12.345, info.Duration, 1e-9)
	assert.InDelta(t, 29.97, info.FPS, 0.01)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.True(t, info.HasAudio)
	assert.Equal(t, "h264", info.VideoCodec)
}

func TestParseProbeOutput_Errors(t *testing.T) {
	_, err := ParseProbeOutput([]byte(`{"streams":[{"codec_type":"audio"}],"format":{}}`))
	assert.ErrorIs(t, err, ErrNoVideoStream)

	_, err = ParseProbeOutput([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseFrameRate(t *testing.T) {
	assert.InDelta(t, 25, ParseFrameRate("25/1"), 1e-9)
	assert.InDelta(t, 24, ParseFrameRate("24"), 1e-9)
	assert.Zero(t, ParseFrameRate("0/0"))
	assert.Zero(t, ParseFrameRate(""))
}

func TestProber_FakeProbe(t *testing.T) {
	r := fakeRunner(t, map[string]string{
		"ffprobe": "cat <<'JSON'\n" + probeJSON + "\nJSON",
	})
	info, err := NewProber(r).Probe(context.Background(), "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, 1080, info.Height)
}

func TestProber_FailedProbe(t *testing.T) {
	r := fakeRunner(t, map[string]string{"ffprobe": `echo "clip.mp4: No such file" 1>&2; exit 1`})
	_, err := NewProber(r).Probe(context.Background(), "clip.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No such file")
}
