package datamosh

import (
	"path/filepath"
	"strings"

	"github.com/jmylchreest/moshr/internal/storage"
)

// Paths are the intermediate files of one pipeline run. They sit beside
// the output so the sweeper can find them after a crash.
type Paths struct {
	Normalized string
	Extracted  string
	Moshed     string
	Remuxed    string
	// PassLog is the -passlogfile prefix; ffmpeg appends "-0.log". libx264
	// writes ".temp" siblings during pass 1 and renames them when it ends.
	PassLog string
}

// PathsFor derives the intermediate paths for output.
func PathsFor(output string) Paths {
	dir := filepath.Dir(output)
	base := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
	temp := func(stage, ext string) string {
		return filepath.Join(dir, base+storage.TempMarker+stage+ext)
	}
	return Paths{
		Normalized: temp("normalize", ".mkv"),
		Extracted:  temp("extract", ".h264"),
		Moshed:     temp("mosh", ".h264"),
		Remuxed:    temp("remux", ".mkv"),
		PassLog:    temp("passlog", ""),
	}
}

// All lists every file the run may create.
func (p Paths) All() []string {
	return []string{
		p.Normalized,
		p.Extracted,
		p.Moshed,
		p.Remuxed,
		p.PassLog + "-0.log",
		p.PassLog + "-0.log.mbtree",
		p.PassLog + "-0.log.temp",
		p.PassLog + "-0.log.mbtree.temp",
	}
}
