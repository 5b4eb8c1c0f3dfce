package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_SweepTempArtifacts(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "clip.mp4")
	orphan := filepath.Join(dir, "clip.moshr-normalize.mp4")
	fresh := filepath.Join(dir, "clip.moshr-extract.h264")
	for _, p := range []string{out, orphan, fresh} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))

	s := NewSweeper(nil, 0, nil)
	n := s.SweepTempArtifacts([]string{out, ""}, time.Now(), time.Hour)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, orphan)
	assert.FileExists(t, fresh)
	assert.FileExists(t, out)
}

func TestSweeper_SweepPreviews(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, sb.AtomicWriteReader("a.png", strings.NewReader("x")))
	path := filepath.Join(sb.BaseDir(), "a.png")
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	s := NewSweeper(sb, 24*time.Hour, nil)
	n, err := s.SweepPreviews(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = NewSweeper(sb, 0, nil).SweepPreviews(time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}
