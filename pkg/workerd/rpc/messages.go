package rpc

import "time"

// Pipeline kinds that publish events.
const (
	KindDatamosh = "datamosh"
	KindRender   = "render"
)

// ChannelHello is sent once when an Events stream is established.
const ChannelHello = "hello"

// ProgressChannel returns the progress channel name for kind.
func ProgressChannel(kind string) string { return kind + "-progress" }

// LogChannel returns the log channel name for kind.
func LogChannel(kind string) string { return kind + "-log" }

// Empty is used where a call takes or returns nothing.
type Empty struct{}

// Window bounds where frames may be dropped, in seconds.
type Window struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Trim selects a portion of the input, in seconds. End 0 means clip end.
type Trim struct {
	Start float64 `json:"start"`
	End   float64 `json:"end,omitempty"`
}

// Encoding describes how the worker encodes its output.
type Encoding struct {
	Encoder       string `json:"encoder,omitempty"`
	CRF           *int   `json:"crf,omitempty"`
	CQ            *int   `json:"cq,omitempty"`
	Preset        string `json:"preset,omitempty"`
	TargetBitrate string `json:"target_bitrate,omitempty"`
	MaxBitrate    string `json:"max_bitrate,omitempty"`
	Pass          string `json:"pass,omitempty"`
	AudioCodec    string `json:"audio_codec,omitempty"`
	AudioBitrate  string `json:"audio_bitrate,omitempty"`
}

// MoshRequest asks the worker to drop keyframes from a raw H.264 stream.
type MoshRequest struct {
	JobID      string   `json:"job_id"`
	InputPath  string   `json:"input_path"`
	OutputPath string   `json:"output_path"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	FPS        float64  `json:"fps"`
	Duration   float64  `json:"duration"`
	Windows    []Window `json:"windows"`
	Intensity  float64  `json:"intensity"`
	Seed       int64    `json:"seed"`
}

// MoshResponse reports what the worker did.
type MoshResponse struct {
	OutputPath string `json:"output_path"`
	Frames     int    `json:"frames"`
	Dropped    int    `json:"dropped"`
}

// RenderRequest asks the worker to apply a pixel effect to every frame.
type RenderRequest struct {
	JobID      string             `json:"job_id"`
	InputPath  string             `json:"input_path"`
	OutputPath string             `json:"output_path"`
	Width      int                `json:"width"`
	Height     int                `json:"height"`
	FPS        float64            `json:"fps"`
	Duration   float64            `json:"duration"`
	HasAudio   bool               `json:"has_audio"`
	Effect     string             `json:"effect"`
	Params     map[string]float64 `json:"params,omitempty"`
	Trim       *Trim              `json:"trim,omitempty"`
	Encoding   Encoding           `json:"encoding"`
}

// RenderResponse reports the rendered output.
type RenderResponse struct {
	OutputPath string `json:"output_path"`
	Frames     int64  `json:"frames"`
}

// PreviewStartRequest opens an upload session for one RGBA frame.
type PreviewStartRequest struct {
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// PreviewAppendRequest carries the next chunk of the frame.
type PreviewAppendRequest struct {
	ID    string `json:"id"`
	Chunk []byte `json:"chunk"`
}

// PreviewAppendResponse reports the bytes received so far.
type PreviewAppendResponse struct {
	Received int `json:"received"`
}

// PreviewFinishRequest applies an effect to the completed frame.
type PreviewFinishRequest struct {
	ID     string             `json:"id"`
	Effect string             `json:"effect"`
	Params map[string]float64 `json:"params,omitempty"`
}

// PreviewFinishResponse names the rendered PNG.
type PreviewFinishResponse struct {
	OutputPath string `json:"output_path"`
}

// PreviewDiscardRequest drops an upload session.
type PreviewDiscardRequest struct {
	ID string `json:"id"`
}

// EventsRequest subscribes to channels. No channels means all of them.
type EventsRequest struct {
	Channels []string `json:"channels,omitempty"`
}

// Progress is the worker's view of a running job.
type Progress struct {
	Percent        float64  `json:"percent"`
	Stage          string   `json:"stage,omitempty"`
	Frame          *int64   `json:"frame,omitempty"`
	FPS            *float64 `json:"fps,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
	ElapsedSeconds *float64 `json:"elapsed_seconds,omitempty"`
	ETASeconds     *float64 `json:"eta_seconds,omitempty"`
}

// Event is one message on the events stream.
type Event struct {
	Channel  string    `json:"channel"`
	JobID    string    `json:"job_id,omitempty"`
	Time     time.Time `json:"time"`
	Progress *Progress `json:"progress,omitempty"`
	Line     string    `json:"line,omitempty"`
}

// HealthResponse describes the worker process.
type HealthResponse struct {
	Version        string  `json:"version"`
	PID            int     `json:"pid"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	Load1          float64 `json:"load1"`
	RSSBytes       uint64  `json:"rss_bytes"`
	ActiveJobs     int     `json:"active_jobs"`
	ActiveSessions int     `json:"active_sessions"`
}
