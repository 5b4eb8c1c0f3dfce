package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRing(t *testing.T) {
	r := NewLogRing(3)
	assert.Empty(t, r.Lines())

	r.Add("a")
	r.Add("b")
	assert.Equal(t, []string{"a", "b"}, r.Lines())
	assert.Equal(t, 2, r.Len())

	for i := range 5 {
		r.Add(fmt.Sprint(i))
	}
	assert.Equal(t, []string{"2", "3", "4"}, r.Lines())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"3", "4"}, r.Tail(2))
	assert.Equal(t, []string{"2", "3", "4"}, r.Tail(10))
	assert.Empty(t, r.Tail(0))
}

func TestLineSplitter(t *testing.T) {
	var got []string
	s := NewLineSplitter(func(l string) { got = append(got, l) })

	_, err := s.Write([]byte("frame=1\rframe=2\r\nfir"))
	require.NoError(t, err)
	_, _ = s.Write([]byte("st line\n\n  \nlast"))
	assert.Equal(t, []string{"frame=1", "frame=2", "first line"}, got)

	s.Flush()
	assert.Equal(t, []string{"frame=1", "frame=2", "first line", "last"}, got)
}

func TestRemoveArtifacts(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "a.tmp")
	require.NoError(t, os.WriteFile(present, nil, 0o644))

	report := RemoveArtifacts(present, present, filepath.Join(dir, "missing"), "")
	assert.Equal(t, []string{present}, report.Removed)
	assert.Empty(t, report.Failed)
	assert.NoFileExists(t, present)
}
