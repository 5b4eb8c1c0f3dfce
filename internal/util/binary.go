// Package util provides shared utility functions.
package util

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrBinaryNotFound is returned when no usable executable was located.
var ErrBinaryNotFound = errors.New("binary not found")

// Source records which resolution tier produced a binary.
type Source string

const (
	SourceConfigured Source = "configured"
	SourceLocal      Source = "local"
	SourceBundled    Source = "bundled"
	SourceSystem     Source = "system"
)

// Resolution is a located executable and the tier it came from.
type Resolution struct {
	Path   string `json:"path"`
	Source Source `json:"source"`
}

// shimDirs are package-manager indirection directories on windows. Binaries
// found there are only used when no real binary exists on PATH.
var shimDirs = []string{"scoop/shims", "chocolatey/bin"}

// Finder locates executables using the three-tier policy:
//  1. Override or EnvVar (explicit configuration)
//  2. beside the running executable
//  3. inside the application package (platform specific layout)
//  4. the system PATH, preferring real binaries over package-manager shims
type Finder struct {
	GOOS          string
	ExecutableDir string
	PathEnv       string
	EnvVar        string
	Override      string
}

// NewFinder returns a Finder for the current process.
func NewFinder() *Finder {
	f := &Finder{
		GOOS:    runtime.GOOS,
		PathEnv: os.Getenv("PATH"),
	}
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		f.ExecutableDir = filepath.Dir(exe)
	}
	return f
}

// FindBinary resolves name for the current process. envVar, when non-empty
// and set, names an explicit path that wins over every other tier.
func FindBinary(name, envVar string) (Resolution, error) {
	f := NewFinder()
	f.EnvVar = envVar
	return f.Find(name)
}

// Find resolves name according to the Finder's policy.
func (f *Finder) Find(name string) (Resolution, error) {
	if f.Override != "" {
		if f.isExecutable(f.Override) {
			return Resolution{Path: f.Override, Source: SourceConfigured}, nil
		}
		return Resolution{}, fmt.Errorf("%w: configured path %s is not executable", ErrBinaryNotFound, f.Override)
	}
	if f.EnvVar != "" {
		if p := os.Getenv(f.EnvVar); p != "" && f.isExecutable(p) {
			return Resolution{Path: p, Source: SourceConfigured}, nil
		}
	}

	file := f.fileName(name)

	if f.ExecutableDir != "" {
		if p := filepath.Join(f.ExecutableDir, file); f.isExecutable(p) {
			return Resolution{Path: p, Source: SourceLocal}, nil
		}
		for _, dir := range f.bundledDirs() {
			if p := filepath.Join(dir, file); f.isExecutable(p) {
				return Resolution{Path: p, Source: SourceBundled}, nil
			}
		}
	}

	if p, ok := f.searchPath(file); ok {
		return Resolution{Path: p, Source: SourceSystem}, nil
	}

	return Resolution{}, fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
}

// bundledDirs lists where a packaged build ships its sidecar binaries.
func (f *Finder) bundledDirs() []string {
	switch f.GOOS {
	case "darwin":
		return []string{filepath.Join(f.ExecutableDir, "..", "Resources", "bin")}
	case "windows":
		return []string{filepath.Join(f.ExecutableDir, "resources", "bin")}
	default:
		return []string{
			filepath.Join(f.ExecutableDir, "..", "lib", "moshr", "bin"),
			filepath.Join(f.ExecutableDir, "resources", "bin"),
		}
	}
}

func (f *Finder) searchPath(file string) (string, bool) {
	sep := ":"
	if f.GOOS == "windows" {
		sep = ";"
	}

	var shim string
	for _, dir := range strings.Split(f.PathEnv, sep) {
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, file)
		if !f.isExecutable(p) {
			continue
		}
		if f.GOOS == "windows" && isShimDir(dir) {
			if shim == "" {
				shim = p
			}
			continue
		}
		return p, true
	}
	if shim != "" {
		return shim, true
	}

	// Fall back to LookPath for the host so PATHEXT and friends apply.
	if f.GOOS == runtime.GOOS && f.PathEnv == os.Getenv("PATH") {
		if p, err := exec.LookPath(file); err == nil {
			return p, true
		}
	}
	return "", false
}

func isShimDir(dir string) bool {
	d := strings.ToLower(filepath.ToSlash(dir))
	for _, s := range shimDirs {
		if strings.Contains(d, s) {
			return true
		}
	}
	return false
}

func (f *Finder) fileName(name string) string {
	if f.GOOS == "windows" && filepath.Ext(name) == "" {
		return name + ".exe"
	}
	return name
}

// isExecutable checks that path is a regular file the current user may run.
func (f *Finder) isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if f.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}
