package datamosh

import (
	"math"
	"strconv"

	"github.com/jmylchreest/moshr/internal/ffmpeg"
	"github.com/jmylchreest/moshr/internal/models"
	"github.com/jmylchreest/moshr/internal/pipeline"
)

// TwoPassEncoder is the only encoder two-pass rate control is used with.
const TwoPassEncoder = "libx264"

// TwoPassBitrate returns the video bitrate in kbit/s that fits capBytes
// over duration seconds after audioKbps is spent on audio. ok is false
// when no positive bitrate can be computed.
func TwoPassBitrate(capBytes int64, duration float64, audioKbps int) (kbps int, ok bool) {
	if capBytes <= 0 || duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return 0, false
	}
	kbps = int(math.Floor(float64(capBytes)*8/1000/duration)) - audioKbps
	if kbps <= 0 {
		return 0, false
	}
	return kbps, true
}

// finalInput is what the final transcode reads.
type finalInput struct {
	video    string // remuxed moshed stream
	audio    string // normalized intermediate, source of audio
	output   string
	hasAudio bool
	duration float64
	passLog  string
}

// finalPlan decides between single and two-pass and builds the commands.
// The reason is non-empty when two-pass was requested but not possible.
func finalPlan(in finalInput, s models.EncodeSettings) (steps []pipeline.Step, reason string) {
	container := models.ContainerOf(in.output)

	if s.Pass == models.PassTwo {
		kbps, ok, why := twoPassTarget(in, s, container)
		if ok {
			s.CRF, s.CQ = nil, nil
			s.TargetBitrate = strconv.Itoa(kbps) + "k"
			return []pipeline.Step{
				{Stage: StageFinal.Half(false), Command: passOne(in, s), Duration: in.duration},
				{Stage: StageFinal.Half(true), Command: finalCommand(in, s, container, 2), Duration: in.duration},
			}, ""
		}
		reason = why
	}

	return []pipeline.Step{{Stage: StageFinal, Command: finalCommand(in, s, container, 0), Duration: in.duration}}, reason
}

func twoPassTarget(in finalInput, s models.EncodeSettings, container string) (int, bool, string) {
	if s.Encoder != "" && s.Encoder != TwoPassEncoder {
		return 0, false, "two-pass is only supported with " + TwoPassEncoder
	}
	audioKbps := 0
	if in.hasAudio {
		audioKbps = ffmpeg.AudioKbps(container, s)
	}
	kbps, ok := TwoPassBitrate(s.SizeCapBytes, in.duration, audioKbps)
	if !ok {
		return 0, false, "size cap does not leave a positive video bitrate"
	}
	return kbps, true, ""
}

func passOne(in finalInput, s models.EncodeSettings) *ffmpeg.Command {
	return ffmpeg.NewCommandBuilder().
		ProgressPipe().
		Input(in.video).
		Map("0:v:0").
		EvenScale().
		Encode(s).
		Pass(1, in.passLog).
		NoAudio().
		OutputArgs("-f", "null").
		Output("-").
		Build()
}

// finalCommand encodes the moshed video with audio from the normalized
// intermediate. pass 0 is a single-pass encode.
func finalCommand(in finalInput, s models.EncodeSettings, container string, pass int) *ffmpeg.Command {
	b := ffmpeg.NewCommandBuilder().
		ProgressPipe().
		Input(in.video)
	if in.hasAudio {
		b.Input(in.audio).Map("0:v:0", "1:a?")
	} else {
		b.Map("0:v:0")
	}
	b.EvenScale().Encode(s)
	if pass > 0 {
		b.Pass(pass, in.passLog)
	}
	if in.hasAudio {
		b.AudioForContainer(container, s)
	} else {
		b.NoAudio()
	}
	return b.Faststart(container).Output(in.output).Build()
}
