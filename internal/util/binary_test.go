package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExecutable(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return path
}

func TestFinder_Tiers(t *testing.T) {
	root := t.TempDir()
	exeDir := filepath.Join(root, "app", "bin")
	sysDir := filepath.Join(root, "usr", "bin")
	require.NoError(t, os.MkdirAll(exeDir, 0o755))

	systemPath := writeExecutable(t, filepath.Join(sysDir, "ffmpeg"))

	f := &Finder{GOOS: "linux", ExecutableDir: exeDir, PathEnv: sysDir}

	t.Run("system path when nothing is bundled", func(t *testing.T) {
		res, err := f.Find("ffmpeg")
		require.NoError(t, err)
		assert.Equal(t, SourceSystem, res.Source)
		assert.Equal(t, systemPath, res.Path)
	})

	bundled := writeExecutable(t, filepath.Join(root, "app", "lib", "moshr", "bin", "ffmpeg"))

	t.Run("bundled beats system", func(t *testing.T) {
		res, err := f.Find("ffmpeg")
		require.NoError(t, err)
		assert.Equal(t, SourceBundled, res.Source)
		assert.Equal(t, bundled, res.Path)
	})

	local := writeExecutable(t, filepath.Join(exeDir, "ffmpeg"))

	t.Run("local beats bundled", func(t *testing.T) {
		res, err := f.Find("ffmpeg")
		require.NoError(t, err)
		assert.Equal(t, SourceLocal, res.Source)
		assert.Equal(t, local, res.Path)
	})

	t.Run("override beats everything", func(t *testing.T) {
		custom := writeExecutable(t, filepath.Join(root, "custom", "ff"))
		g := *f
		g.Override = custom
		res, err := g.Find("ffmpeg")
		require.NoError(t, err)
		assert.Equal(t, SourceConfigured, res.Source)
		assert.Equal(t, custom, res.Path)
	})

	t.Run("env var beats local", func(t *testing.T) {
		custom := writeExecutable(t, filepath.Join(root, "env", "ffmpeg"))
		t.Setenv("MOSHR_TEST_FFMPEG", custom)
		g := *f
		g.EnvVar = "MOSHR_TEST_FFMPEG"
		res, err := g.Find("ffmpeg")
		require.NoError(t, err)
		assert.Equal(t, custom, res.Path)
	})
}

func TestFinder_DarwinBundle(t *testing.T) {
	root := t.TempDir()
	macOS := filepath.Join(root, "Moshr.app", "Contents", "MacOS")
	require.NoError(t, os.MkdirAll(macOS, 0o755))
	bundled := writeExecutable(t, filepath.Join(root, "Moshr.app", "Contents", "Resources", "bin", "ffprobe"))

	f := &Finder{GOOS: "darwin", ExecutableDir: macOS}
	res, err := f.Find("ffprobe")
	require.NoError(t, err)
	assert.Equal(t, SourceBundled, res.Source)
	assert.Equal(t, filepath.Clean(bundled), filepath.Clean(res.Path))
}

func TestFinder_WindowsShimsDeprioritised(t *testing.T) {
	root := t.TempDir()
	shims := filepath.Join(root, "scoop", "shims")
	real := filepath.Join(root, "ffmpeg", "bin")
	writeExecutable(t, filepath.Join(shims, "ffmpeg.exe"))
	realPath := writeExecutable(t, filepath.Join(real, "ffmpeg.exe"))

	f := &Finder{GOOS: "windows", PathEnv: shims + ";" + real}
	res, err := f.Find("ffmpeg")
	require.NoError(t, err)
	assert.Equal(t, realPath, res.Path)

	t.Run("shim used when it is the only candidate", func(t *testing.T) {
		g := &Finder{GOOS: "windows", PathEnv: shims}
		res, err := g.Find("ffmpeg")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(shims, "ffmpeg.exe"), res.Path)
		assert.Equal(t, SourceSystem, res.Source)
	})
}

func TestFinder_NotFound(t *testing.T) {
	f := &Finder{GOOS: "linux", ExecutableDir: t.TempDir(), PathEnv: t.TempDir()}
	_, err := f.Find("definitely-nonexistent-binary-12345")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestFinder_IgnoresNonExecutable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte("x"), 0o644))

	f := &Finder{GOOS: "linux", PathEnv: dir}
	_, err := f.Find("ffmpeg")
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestFinder_BadOverride(t *testing.T) {
	f := &Finder{GOOS: "linux", Override: "/nonexistent/ffmpeg"}
	_, err := f.Find("ffmpeg")
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestFindBinary_System(t *testing.T) {
	res, err := FindBinary("sh", "")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Path)
}
