// Package ffmpeg resolves, launches and supervises the transcoding engine.
package ffmpeg

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/moshr/internal/config"
	"github.com/jmylchreest/moshr/internal/util"
)

// Program names resolved by the Resolver.
const (
	ProgramFFmpeg  = "ffmpeg"
	ProgramFFprobe = "ffprobe"
)

// Resolver maps program names to executables and caches the result.
type Resolver struct {
	mu        sync.Mutex
	base      util.Finder
	overrides map[string]string
	cache     map[string]util.Resolution
}

// NewResolver creates a resolver for the current process honouring the
// configured ffmpeg/ffprobe paths.
func NewResolver(cfg config.FFmpegConfig) *Resolver {
	r := NewResolverWithFinder(*util.NewFinder())
	r.SetOverride(ProgramFFmpeg, cfg.BinaryPath)
	r.SetOverride(ProgramFFprobe, cfg.ProbePath)
	return r
}

// NewResolverWithFinder creates a resolver using base as the search template.
func NewResolverWithFinder(base util.Finder) *Resolver {
	return &Resolver{
		base:      base,
		overrides: make(map[string]string),
		cache:     make(map[string]util.Resolution),
	}
}

// SetOverride pins program to an explicit path. An empty path clears it.
func (r *Resolver) SetOverride(program, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if path == "" {
		delete(r.overrides, program)
	} else {
		r.overrides[program] = path
	}
	delete(r.cache, program)
}

// Resolve locates program. Successful lookups are cached.
func (r *Resolver) Resolve(program string) (util.Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.cache[program]; ok {
		return res, nil
	}

	f := r.base
	f.Override = r.overrides[program]
	f.EnvVar = EnvVarFor(program)
	res, err := f.Find(program)
	if err != nil {
		return util.Resolution{}, err
	}
	r.cache[program] = res
	return res, nil
}

// Clear drops all cached resolutions.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.cache)
}

// EnvVarFor returns the environment override for program, e.g.
// MOSHR_FFMPEG_BINARY.
func EnvVarFor(program string) string {
	name := strings.ToUpper(strings.NewReplacer("-", "", ".exe", "").Replace(program))
	return config.EnvPrefix + "_" + name + "_BINARY"
}

// BinaryInfo describes the resolved transcoding engine.
type BinaryInfo struct {
	FFmpegPath   string      `json:"ffmpeg_path"`
	Source       util.Source `json:"source"`
	FFprobePath  string      `json:"ffprobe_path,omitempty"`
	Version      string      `json:"version"`
	MajorVersion int         `json:"major_version"`
	MinorVersion int         `json:"minor_version"`
	Encoders     []string    `json:"encoders,omitempty"`
}

// HasEncoder reports whether the engine was built with encoder name.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// BinaryDetector inspects the engine once per cache period.
type BinaryDetector struct {
	runner   *Runner
	cacheTTL time.Duration

	mu           sync.Mutex
	info         *BinaryInfo
	lastDetected time.Time
}

// NewBinaryDetector creates a detector that runs probes through runner.
func NewBinaryDetector(runner *Runner, cacheTTL time.Duration) *BinaryDetector {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &BinaryDetector{runner: runner, cacheTTL: cacheTTL}
}

// Detect returns the engine's version and encoder list.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	res, err := d.runner.Execute(ctx, ProgramFFmpeg, "-hide_banner", "-version")
	if err != nil {
		return nil, fmt.Errorf("running ffmpeg -version: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("ffmpeg -version exited %d", res.ExitCode)
	}

	info := &BinaryInfo{FFmpegPath: res.Path, Source: res.Source}
	if err := parseVersion(res.Stdout, info); err != nil {
		return nil, err
	}

	if enc, err := d.runner.Execute(ctx, ProgramFFmpeg, "-hide_banner", "-encoders"); err == nil && enc.ExitCode == 0 {
		info.Encoders = parseEncoders(enc.Stdout)
	}
	if probe, err := d.runner.resolver.Resolve(ProgramFFprobe); err == nil {
		info.FFprobePath = probe.Path
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

var versionPattern = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

func parseVersion(out string, info *BinaryInfo) error {
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			break
		}
		info.Version = fields[2]
		if m := versionPattern.FindStringSubmatch(fields[2]); m != nil {
			info.MajorVersion, _ = strconv.Atoi(m[1])
			info.MinorVersion, _ = strconv.Atoi(m[2])
		}
		return nil
	}
	return fmt.Errorf("failed to parse ffmpeg version")
}

// parseEncoders reads `ffmpeg -encoders`, whose rows look like
// " V....D libx264              libx264 H.264 ...".
func parseEncoders(out string) []string {
	var encoders []string
	inList := false
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		switch fields[0][0] {
		case 'V', 'A', 'S':
			encoders = append(encoders, fields[1])
		}
	}
	return encoders
}
