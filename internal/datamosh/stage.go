// Package datamosh runs the multi-stage datamosh pipeline: scene detection,
// keyframe-dense normalization, raw bitstream extraction, native keyframe
// removal, remux and the final transcode.
package datamosh

import "github.com/jmylchreest/moshr/internal/pipeline"

// Stages in execution order.
var (
	StageDetect    = pipeline.Stage{Name: "detect", Start: 0, End: 10}
	StageNormalize = pipeline.Stage{Name: "normalize", Start: 10, End: 35}
	StageExtract   = pipeline.Stage{Name: "extract", Start: 35, End: 45}
	StageMosh      = pipeline.Stage{Name: "mosh", Start: 45, End: 65}
	StageRemux     = pipeline.Stage{Name: "remux", Start: 65, End: 70}
	StageFinal     = pipeline.Stage{Name: "final", Start: 70, End: 100}
)

// Stages lists every stage in order.
func Stages() []pipeline.Stage {
	return []pipeline.Stage{StageDetect, StageNormalize, StageExtract, StageMosh, StageRemux, StageFinal}
}
