package ffmpeg

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/moshr/internal/config"
	"github.com/jmylchreest/moshr/internal/util"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
}

// fakeRunner returns a runner whose PATH holds only the given scripts.
func fakeRunner(t *testing.T, scripts map[string]string) *Runner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	for name, body := range scripts {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	}
	resolver := NewResolverWithFinder(util.Finder{GOOS: runtime.GOOS, PathEnv: dir})
	return NewRunner(resolver, nil)
}

type recorder struct {
	mu     sync.Mutex
	stdout strings.Builder
	stderr strings.Builder
	errs   []error
	closes []CloseEvent
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnStdout: func(b []byte) { r.mu.Lock(); r.stdout.Write(b); r.mu.Unlock() },
		OnStderr: func(b []byte) { r.mu.Lock(); r.stderr.Write(b); r.mu.Unlock() },
		OnError:  func(err error) { r.mu.Lock(); r.errs = append(r.errs, err); r.mu.Unlock() },
		OnClose:  func(ev CloseEvent) { r.mu.Lock(); r.closes = append(r.closes, ev); r.mu.Unlock() },
	}
}

func TestRunner_Execute(t *testing.T) {
	r := fakeRunner(t, map[string]string{
		"ffmpeg":  `echo "ffmpeg version 7.1 Copyright"; echo warn 1>&2; exit 0`,
		"ffprobe": `echo nope 1>&2; exit 3`,
	})

	res, err := r.Execute(context.Background(), ProgramFFmpeg, "-version")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "ffmpeg version 7.1")
	assert.Equal(t, "warn\n", res.Stderr)
	assert.Equal(t, util.SourceSystem, res.Source)

	res, err = r.Execute(context.Background(), ProgramFFprobe)
	require.NoError(t, err, "non-zero exit is not an error")
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "nope\n", res.Stderr)
}

func TestRunner_ExecuteMissingBinary(t *testing.T) {
	r := fakeRunner(t, nil)
	_, err := r.Execute(context.Background(), ProgramFFmpeg)
	assert.ErrorIs(t, err, util.ErrBinaryNotFound)
}

func TestRunner_SpawnStreamsAndCloses(t *testing.T) {
	r := fakeRunner(t, map[string]string{
		"ffmpeg": `echo progress=continue; echo "some log" 1>&2; exit 2`,
	})

	rec := &recorder{}
	p := r.Spawn(context.Background(), ProgramFFmpeg, nil, rec.handlers())
	ev := p.Wait()

	assert.Equal(t, 2, ev.ExitCode)
	assert.False(t, ev.Success())
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "progress=continue\n", rec.stdout.String())
	assert.Equal(t, "some log\n", rec.stderr.String())
	assert.Len(t, rec.closes, 1)
	assert.Empty(t, rec.errs)
}

func TestRunner_SpawnMissingBinaryStillCloses(t *testing.T) {
	r := fakeRunner(t, nil)

	rec := &recorder{}
	p := r.Spawn(context.Background(), ProgramFFmpeg, []string{"-i", "x"}, rec.handlers())

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("close was never delivered")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], util.ErrBinaryNotFound)
	require.Len(t, rec.closes, 1)
	assert.Equal(t, -1, rec.closes[0].ExitCode)
	assert.Zero(t, p.Pid())

	p.Cancel() // no-op after close
}

func TestProcess_CancelIsIdempotent(t *testing.T) {
	r := fakeRunner(t, map[string]string{"ffmpeg": `exec sleep 30`})

	var closes atomic.Int32
	p := r.Spawn(context.Background(), ProgramFFmpeg, nil, Handlers{
		OnClose: func(CloseEvent) { closes.Add(1) },
	})
	require.NotZero(t, p.Pid())

	p.Cancel()
	p.Cancel()

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process was not killed")
	}
	ev := p.Wait()
	assert.NotEqual(t, 0, ev.ExitCode)
	assert.NotEmpty(t, ev.Signal)

	p.Cancel()
	assert.Equal(t, int32(1), closes.Load())
}

func TestProcess_CancelAfterSuccess(t *testing.T) {
	r := fakeRunner(t, map[string]string{"ffmpeg": `exit 0`})

	p := r.Spawn(context.Background(), ProgramFFmpeg, nil, Handlers{})
	ev := p.Wait()
	assert.True(t, ev.Success())

	p.Cancel()
	assert.True(t, p.Wait().Success())

	_, err := p.Stats(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestProcess_ContextCancelKills(t *testing.T) {
	r := fakeRunner(t, map[string]string{"ffmpeg": `exec sleep 30`})

	ctx, cancel := context.WithCancel(context.Background())
	p := r.Spawn(ctx, ProgramFFmpeg, nil, Handlers{})
	cancel()

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context cancel did not kill the process")
	}
	assert.False(t, p.Wait().Success())
}

func TestResolver_CachesAndOverrides(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "my-ffmpeg")
	require.NoError(t, os.WriteFile(custom, []byte("#!/bin/sh\n"), 0o755))

	r := NewResolverWithFinder(util.Finder{GOOS: "linux", PathEnv: t.TempDir()})
	_, err := r.Resolve(ProgramFFmpeg)
	require.ErrorIs(t, err, util.ErrBinaryNotFound)

	r.SetOverride(ProgramFFmpeg, custom)
	res, err := r.Resolve(ProgramFFmpeg)
	require.NoError(t, err)
	assert.Equal(t, custom, res.Path)
	assert.Equal(t, util.SourceConfigured, res.Source)

	require.NoError(t, os.Remove(custom))
	res, err = r.Resolve(ProgramFFmpeg)
	require.NoError(t, err, "cached resolution survives until cleared")
	assert.Equal(t, custom, res.Path)

	r.Clear()
	_, err = r.Resolve(ProgramFFmpeg)
	assert.Error(t, err)
}

func TestEnvVarFor(t *testing.T) {
	assert.Equal(t, "MOSHR_FFMPEG_BINARY", EnvVarFor("ffmpeg"))
	assert.Equal(t, "MOSHR_MOSHRWORKERD_BINARY", EnvVarFor("moshr-workerd"))
}

func TestBinaryDetector_FakeEngine(t *testing.T) {
	r := fakeRunner(t, map[string]string{
		"ffmpeg": `case "$2" in
-version) echo "ffmpeg version n7.1.1 Copyright (c) 2000-2025";;
-encoders) printf 'Encoders:\n V..... = Video\n ------\n V....D libx264              H.264\n A....D aac                  AAC\n';;
esac`,
	})

	d := NewBinaryDetector(r, time.Hour)
	info, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "n7.1.1", info.Version)
	assert.Equal(t, 7, info.MajorVersion)
	assert.Equal(t, 1, info.MinorVersion)
	assert.True(t, info.HasEncoder("libx264"))
	assert.True(t, info.HasEncoder("aac"))
	assert.False(t, info.HasEncoder("libx265"))

	again, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Same(t, info, again)
}

func TestBinaryDetector_RealEngine(t *testing.T) {
	skipIfNoFFmpeg(t)

	d := NewBinaryDetector(NewRunner(NewResolver(config.FFmpegConfig{}), nil), time.Minute)
	info, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, info.FFmpegPath)
	assert.Greater(t, info.MajorVersion, 0)
}
