package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jmylchreest/moshr/internal/models"
	"github.com/jmylchreest/moshr/pkg/bytesize"
)

// EvenScaleFilter forces even frame dimensions and square pixels, which
// yuv420p encoders require.
const EvenScaleFilter = "scale=trunc(iw/2)*2:trunc(ih/2)*2,setsar=1"

// Default audio settings per container family.
const (
	mp4AudioCodec    = "aac"
	mp4AudioBitrate  = "192k"
	webmAudioCodec   = "libopus"
	webmAudioBitrate = "128k"
)

// Command is a fully built engine invocation.
type Command struct {
	Program string
	Args    []string
}

// String renders the command for logs.
func (c *Command) String() string {
	return c.Program + " " + strings.Join(c.Args, " ")
}

// CommandBuilder assembles ffmpeg argument vectors.
type CommandBuilder struct {
	logLevel   string
	global     []string
	inputs     []string
	maps       []string
	filters    []string
	video      []string
	audio      []string
	output     []string
	outputPath string
}

// NewCommandBuilder returns a builder with overwrite and no interactive stdin.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{
		logLevel: "info",
		global:   []string{"-hide_banner", "-nostdin", "-y"},
	}
}

// LogLevel sets -loglevel.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// ProgressPipe requests machine-readable progress on stdout.
func (b *CommandBuilder) ProgressPipe() *CommandBuilder {
	b.global = append(b.global, "-progress", "pipe:1", "-nostats")
	return b
}

// Input adds an input file preceded by any input options.
func (b *CommandBuilder) Input(path string, opts ...string) *CommandBuilder {
	b.inputs = append(b.inputs, opts...)
	b.inputs = append(b.inputs, "-i", path)
	return b
}

// TrimmedInput adds an input limited to trim, using input seeking.
func (b *CommandBuilder) TrimmedInput(path string, trim *models.TrimWindow) *CommandBuilder {
	var opts []string
	if trim != nil {
		if trim.Start > 0 {
			opts = append(opts, "-ss", formatSeconds(trim.Start))
		}
		if trim.End > 0 && trim.End > trim.Start {
			opts = append(opts, "-to", formatSeconds(trim.End))
		}
	}
	return b.Input(path, opts...)
}

// Map adds explicit -map specifiers.
func (b *CommandBuilder) Map(specs ...string) *CommandBuilder {
	for _, s := range specs {
		b.maps = append(b.maps, "-map", s)
	}
	return b
}

// MapDefault maps the first video stream and any audio of input 0.
func (b *CommandBuilder) MapDefault() *CommandBuilder {
	return b.Map("0:v:0", "0:a?")
}

// VideoFilter appends a filter to the -vf chain.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	if filter != "" {
		b.filters = append(b.filters, filter)
	}
	return b
}

// EvenScale appends the even-dimension scale filter.
func (b *CommandBuilder) EvenScale() *CommandBuilder {
	return b.VideoFilter(EvenScaleFilter)
}

// VideoArgs appends raw video encoding options.
func (b *CommandBuilder) VideoArgs(args ...string) *CommandBuilder {
	b.video = append(b.video, args...)
	return b
}

// VideoCodec sets -c:v.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	return b.VideoArgs("-c:v", codec)
}

// Encode applies the encoder, rate control and preset from s.
func (b *CommandBuilder) Encode(s models.EncodeSettings) *CommandBuilder {
	b.video = append(b.video, EncodeArgs(s)...)
	return b
}

// AudioArgs appends raw audio options.
func (b *CommandBuilder) AudioArgs(args ...string) *CommandBuilder {
	b.audio = append(b.audio, args...)
	return b
}

// NoAudio drops audio (-an).
func (b *CommandBuilder) NoAudio() *CommandBuilder {
	b.audio = []string{"-an"}
	return b
}

// AudioForContainer selects the audio codec for container, honouring any
// explicit choice in s.
func (b *CommandBuilder) AudioForContainer(container string, s models.EncodeSettings) *CommandBuilder {
	return b.AudioArgs(AudioArgs(container, s)...)
}

// Faststart moves the MP4 index to the front for MP4-family containers.
func (b *CommandBuilder) Faststart(container string) *CommandBuilder {
	if models.IsMP4Family(container) {
		b.output = append(b.output, "-movflags", "+faststart")
	}
	return b
}

// Pass selects a two-pass encoding pass, sharing the stats file prefix.
func (b *CommandBuilder) Pass(n int, logPrefix string) *CommandBuilder {
	b.video = append(b.video, "-pass", strconv.Itoa(n), "-passlogfile", logPrefix)
	return b
}

// OutputArgs appends options placed just before the output path.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.output = append(b.output, args...)
	return b
}

// Output sets the output path. Use "-" with a format for a null sink.
func (b *CommandBuilder) Output(path string) *CommandBuilder {
	b.outputPath = path
	return b
}

// Build returns the command.
func (b *CommandBuilder) Build() *Command {
	args := make([]string, 0, 32)
	args = append(args, b.global...)
	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.inputs...)
	args = append(args, b.maps...)
	if len(b.filters) > 0 {
		args = append(args, "-vf", strings.Join(b.filters, ","))
	}
	args = append(args, b.video...)
	args = append(args, b.audio...)
	args = append(args, b.output...)
	if b.outputPath != "" {
		args = append(args, b.outputPath)
	}
	return &Command{Program: ProgramFFmpeg, Args: args}
}

// EncodeArgs renders video encoder options for s.
func EncodeArgs(s models.EncodeSettings) []string {
	encoder := s.Encoder
	if encoder == "" {
		encoder = "libx264"
	}
	args := []string{"-c:v", encoder}

	switch {
	case s.CQ != nil:
		args = append(args, "-cq", strconv.Itoa(*s.CQ))
	case s.CRF != nil:
		args = append(args, "-crf", strconv.Itoa(*s.CRF))
	}

	if s.Preset != "" && !strings.HasPrefix(encoder, "libvpx") {
		args = append(args, "-preset", s.Preset)
	}

	switch {
	case s.TargetBitrate != "":
		args = append(args, "-b:v", s.TargetBitrate)
	case strings.HasPrefix(encoder, "libvpx") && s.CRF != nil:
		// libvpx only honours -crf as constant quality with -b:v 0.
		args = append(args, "-b:v", "0")
	}
	if s.MaxBitrate != "" {
		args = append(args, "-maxrate", s.MaxBitrate, "-bufsize", doubleBitrate(s.MaxBitrate))
	}

	return append(args, "-pix_fmt", "yuv420p")
}

// AudioArgs returns the audio codec options for container.
func AudioArgs(container string, s models.EncodeSettings) []string {
	if s.AudioCodec != "" {
		args := []string{"-c:a", s.AudioCodec}
		if s.AudioBitrate != "" && s.AudioCodec != "copy" {
			args = append(args, "-b:a", s.AudioBitrate)
		}
		return args
	}
	switch {
	case models.IsMP4Family(container):
		return []string{"-c:a", mp4AudioCodec, "-b:a", pick(s.AudioBitrate, mp4AudioBitrate)}
	case container == "webm":
		return []string{"-c:a", webmAudioCodec, "-b:a", pick(s.AudioBitrate, webmAudioBitrate)}
	default:
		return []string{"-c:a", "copy"}
	}
}

// AudioKbps returns the bitrate the final encode spends on audio, used to
// budget video bitrate under a size cap. Stream copy is estimated at 192k.
func AudioKbps(container string, s models.EncodeSettings) int {
	args := AudioArgs(container, s)
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-b:a" {
			if kbps, err := bytesize.ParseBitrate(args[i+1]); err == nil {
				return kbps
			}
		}
	}
	return 192
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func doubleBitrate(rate string) string {
	lower := strings.ToLower(rate)
	for _, unit := range []string{"k", "m"} {
		if n, err := strconv.ParseFloat(strings.TrimSuffix(lower, unit), 64); err == nil && strings.HasSuffix(lower, unit) {
			return strconv.FormatFloat(n*2, 'f', -1, 64) + unit
		}
	}
	if n, err := strconv.ParseFloat(lower, 64); err == nil {
		return strconv.FormatFloat(n*2, 'f', -1, 64)
	}
	return rate
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}
