// Package codec is the registry of video/audio codecs, their ffmpeg
// encoders and the output containers each can be muxed into.
package codec

import (
	"slices"
	"strings"
)

// Video represents a video codec.
type Video string

// Video codec constants.
const (
	VideoH264   Video = "h264"
	VideoH265   Video = "h265"
	VideoVP8    Video = "vp8"
	VideoVP9    Video = "vp9"
	VideoAV1    Video = "av1"
	VideoMPEG4  Video = "mpeg4"
	VideoProRes Video = "prores"
)

// Audio represents an audio codec.
type Audio string

// Audio codec constants.
const (
	AudioAAC    Audio = "aac"
	AudioMP3    Audio = "mp3"
	AudioOpus   Audio = "opus"
	AudioVorbis Audio = "vorbis"
	AudioFLAC   Audio = "flac"
	AudioPCM    Audio = "pcm"
)

// Container is an output container, named by file extension.
type Container string

// Container constants.
const (
	ContainerMP4  Container = "mp4"
	ContainerM4V  Container = "m4v"
	ContainerMOV  Container = "mov"
	ContainerMKV  Container = "mkv"
	ContainerWebM Container = "webm"
)

// HWAccel represents a hardware acceleration type.
type HWAccel string

// Hardware acceleration constants.
const (
	HWAccelNone  HWAccel = "none"
	HWAccelCUDA  HWAccel = "cuda"
	HWAccelQSV   HWAccel = "qsv"
	HWAccelVAAPI HWAccel = "vaapi"
	HWAccelVT    HWAccel = "videotoolbox"
)

// String returns the string representation of the video codec.
func (v Video) String() string {
	return string(v)
}

// String returns the string representation of the audio codec.
func (a Audio) String() string {
	return string(a)
}

// String returns the string representation of the container.
func (c Container) String() string {
	return string(c)
}

// videoInfo contains metadata about a video codec.
type videoInfo struct {
	Name Video
	// All known aliases and encoder names that map to this codec
	Aliases []string
	// FFmpeg encoders for each hardware acceleration type
	Encoders map[HWAccel]string
	// Containers this codec can be muxed into
	Containers []Container
}

// audioInfo contains metadata about an audio codec.
type audioInfo struct {
	Name       Audio
	Aliases    []string
	Encoder    string
	Containers []Container
}

var (
	mp4Family  = []Container{ContainerMP4, ContainerM4V, ContainerMOV, ContainerMKV}
	webmFamily = []Container{ContainerWebM, ContainerMKV}
	everywhere = []Container{ContainerMP4, ContainerM4V, ContainerMOV, ContainerMKV, ContainerWebM}
)

// videoRegistry contains all video codec definitions.
var videoRegistry = map[Video]*videoInfo{
	VideoH264: {
		Name: VideoH264,
		Aliases: []string{
			"h264", "avc", "avc1", "h.264",
			"libx264", "h264_nvenc", "h264_qsv", "h264_vaapi",
			"h264_videotoolbox", "h264_amf", "h264_mf",
		},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libx264",
			HWAccelCUDA:  "h264_nvenc",
			HWAccelQSV:   "h264_qsv",
			HWAccelVAAPI: "h264_vaapi",
			HWAccelVT:    "h264_videotoolbox",
		},
		Containers: mp4Family,
	},
	VideoH265: {
		Name: VideoH265,
		Aliases: []string{
			"h265", "hevc", "hev1", "hvc1", "h.265",
			"libx265", "hevc_nvenc", "hevc_qsv", "hevc_vaapi",
			"hevc_videotoolbox", "hevc_amf", "hevc_mf",
		},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libx265",
			HWAccelCUDA:  "hevc_nvenc",
			HWAccelQSV:   "hevc_qsv",
			HWAccelVAAPI: "hevc_vaapi",
			HWAccelVT:    "hevc_videotoolbox",
		},
		Containers: mp4Family,
	},
	VideoVP8: {
		Name:       VideoVP8,
		Aliases:    []string{"vp8", "libvpx"},
		Encoders:   map[HWAccel]string{HWAccelNone: "libvpx"},
		Containers: webmFamily,
	},
	VideoVP9: {
		Name:    VideoVP9,
		Aliases: []string{"vp9", "vp09", "libvpx-vp9", "vp9_qsv", "vp9_vaapi"},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libvpx-vp9",
			HWAccelQSV:   "vp9_qsv",
			HWAccelVAAPI: "vp9_vaapi",
		},
		Containers: everywhere,
	},
	VideoAV1: {
		Name: VideoAV1,
		Aliases: []string{
			"av1", "av01",
			"libaom-av1", "libsvtav1", "librav1e",
			"av1_nvenc", "av1_qsv", "av1_vaapi", "av1_amf",
		},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libsvtav1",
			HWAccelCUDA:  "av1_nvenc",
			HWAccelQSV:   "av1_qsv",
			HWAccelVAAPI: "av1_vaapi",
		},
		Containers: everywhere,
	},
	VideoMPEG4: {
		Name:       VideoMPEG4,
		Aliases:    []string{"mpeg4", "mp4v", "xvid", "libxvid"},
		Encoders:   map[HWAccel]string{HWAccelNone: "mpeg4"},
		Containers: mp4Family,
	},
	VideoProRes: {
		Name:       VideoProRes,
		Aliases:    []string{"prores", "prores_ks", "prores_videotoolbox"},
		Encoders:   map[HWAccel]string{HWAccelNone: "prores_ks", HWAccelVT: "prores_videotoolbox"},
		Containers: []Container{ContainerMOV, ContainerMKV},
	},
}

// audioRegistry contains all audio codec definitions.
var audioRegistry = map[Audio]*audioInfo{
	AudioAAC: {
		Name:       AudioAAC,
		Aliases:    []string{"aac", "mp4a", "libfdk_aac", "aac_at"},
		Encoder:    "aac",
		Containers: mp4Family,
	},
	AudioMP3: {
		Name:       AudioMP3,
		Aliases:    []string{"mp3", "libmp3lame"},
		Encoder:    "libmp3lame",
		Containers: mp4Family,
	},
	AudioOpus: {
		Name:       AudioOpus,
		Aliases:    []string{"opus", "libopus"},
		Encoder:    "libopus",
		Containers: everywhere,
	},
	AudioVorbis: {
		Name:       AudioVorbis,
		Aliases:    []string{"vorbis", "libvorbis"},
		Encoder:    "libvorbis",
		Containers: webmFamily,
	},
	AudioFLAC: {
		Name:       AudioFLAC,
		Aliases:    []string{"flac"},
		Encoder:    "flac",
		Containers: []Container{ContainerMP4, ContainerMOV, ContainerMKV},
	},
	AudioPCM: {
		Name:       AudioPCM,
		Aliases:    []string{"pcm", "pcm_s16le", "pcm_s24le"},
		Encoder:    "pcm_s16le",
		Containers: []Container{ContainerMOV, ContainerMKV},
	},
}

// videoAliasIndex maps all aliases to their canonical codec.
var videoAliasIndex map[string]Video

// audioAliasIndex maps all aliases to their canonical codec.
var audioAliasIndex map[string]Audio

func init() {
	videoAliasIndex = make(map[string]Video)
	for codec, info := range videoRegistry {
		for _, alias := range info.Aliases {
			videoAliasIndex[strings.ToLower(alias)] = codec
		}
	}

	audioAliasIndex = make(map[string]Audio)
	for codec, info := range audioRegistry {
		for _, alias := range info.Aliases {
			audioAliasIndex[strings.ToLower(alias)] = codec
		}
	}
}

// ParseVideo parses a string (codec name, alias, or encoder) to a Video codec.
// Returns the canonical codec and whether the parse was successful.
func ParseVideo(s string) (Video, bool) {
	if s == "" {
		return "", false
	}
	v, ok := videoAliasIndex[strings.ToLower(s)]
	return v, ok
}

// ParseAudio parses a string (codec name, alias, or encoder) to an Audio codec.
// Returns the canonical codec and whether the parse was successful.
func ParseAudio(s string) (Audio, bool) {
	if s == "" {
		return "", false
	}
	a, ok := audioAliasIndex[strings.ToLower(s)]
	return a, ok
}

// ParseContainer maps a file extension, with or without the dot, to a
// Container.
func ParseContainer(ext string) (Container, bool) {
	c := Container(strings.TrimPrefix(strings.ToLower(ext), "."))
	if slices.Contains(everywhere, c) {
		return c, true
	}
	return "", false
}

// Containers returns every supported output container.
func Containers() []Container {
	return slices.Clone(everywhere)
}

// NormalizeVideo normalizes a video codec/encoder name to its canonical form.
// Returns the input unchanged if not recognized.
func NormalizeVideo(name string) string {
	if v, ok := ParseVideo(name); ok {
		return string(v)
	}
	return name
}

// NormalizeAudio normalizes an audio codec/encoder name to its canonical form.
// Returns the input unchanged if not recognized.
func NormalizeAudio(name string) string {
	if a, ok := ParseAudio(name); ok {
		return string(a)
	}
	return name
}

// GetVideoEncoder returns the FFmpeg encoder name for a video codec with the given
// hardware acceleration. Falls back to the software encoder if hwaccel is not supported.
func GetVideoEncoder(v Video, hwaccel HWAccel) string {
	info, ok := videoRegistry[v]
	if !ok {
		return ""
	}
	if enc, ok := info.Encoders[hwaccel]; ok {
		return enc
	}
	return info.Encoders[HWAccelNone]
}

// GetAudioEncoder returns the FFmpeg encoder name for an audio codec.
func GetAudioEncoder(a Audio) string {
	if info, ok := audioRegistry[a]; ok {
		return info.Encoder
	}
	return ""
}

// IsHardwareEncoder reports whether encoder runs on a hardware accelerator.
// Such encoders take -cq rather than -crf.
func IsHardwareEncoder(encoder string) bool {
	v, ok := ParseVideo(encoder)
	if !ok {
		return false
	}
	for accel, enc := range videoRegistry[v].Encoders {
		if accel != HWAccelNone && strings.EqualFold(enc, encoder) {
			return true
		}
	}
	return false
}

// SupportsContainer reports whether v can be muxed into c.
func (v Video) SupportsContainer(c Container) bool {
	info, ok := videoRegistry[v]
	return ok && slices.Contains(info.Containers, c)
}

// SupportsContainer reports whether a can be muxed into c.
func (a Audio) SupportsContainer(c Container) bool {
	info, ok := audioRegistry[a]
	return ok && slices.Contains(info.Containers, c)
}

// VideoMatch returns true if two video codec strings represent the same codec.
func VideoMatch(a, b string) bool {
	va, okA := ParseVideo(a)
	vb, okB := ParseVideo(b)
	if !okA || !okB {
		return strings.EqualFold(a, b)
	}
	return va == vb
}

// SupportedEncodingVideoCodecs returns the video codecs usable as encoding targets.
func SupportedEncodingVideoCodecs() []Video {
	return []Video{VideoH264, VideoH265, VideoVP8, VideoVP9, VideoAV1, VideoMPEG4, VideoProRes}
}

// SupportedEncodingAudioCodecs returns the audio codecs usable as encoding targets.
func SupportedEncodingAudioCodecs() []Audio {
	return []Audio{AudioAAC, AudioMP3, AudioOpus, AudioVorbis, AudioFLAC, AudioPCM}
}
