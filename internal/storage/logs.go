package storage

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

const logArchiveExt = ".log.xz"

// LogArchive stores finished job logs as xz-compressed text files.
type LogArchive struct {
	sb *Sandbox
}

// NewLogArchive creates an archive rooted at dir.
func NewLogArchive(dir string) (*LogArchive, error) {
	sb, err := NewSandbox(dir)
	if err != nil {
		return nil, err
	}
	return &LogArchive{sb: sb}, nil
}

// Dir returns the archive directory.
func (a *LogArchive) Dir() string { return a.sb.BaseDir() }

// Write compresses lines into <jobID>.log.xz and returns the file path.
func (a *LogArchive) Write(jobID string, lines []string) (string, error) {
	name := jobID + logArchiveExt
	pr, pw := io.Pipe()
	go func() {
		xw, err := xz.NewWriter(pw)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("creating xz writer: %w", err))
			return
		}
		bw := bufio.NewWriter(xw)
		for _, l := range lines {
			if _, err := bw.WriteString(l + "\n"); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		if err := bw.Flush(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(xw.Close())
	}()

	if err := a.sb.AtomicWriteReader(name, pr); err != nil {
		_ = pr.CloseWithError(err)
		return "", fmt.Errorf("writing log archive: %w", err)
	}
	return filepath.Join(a.sb.BaseDir(), name), nil
}

// Read decompresses the log for jobID.
func (a *LogArchive) Read(jobID string) ([]string, error) {
	f, err := a.sb.Open(jobID + logArchiveExt)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	xr, err := xz.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("creating xz reader: %w", err)
	}
	data, err := io.ReadAll(xr)
	if err != nil {
		return nil, fmt.Errorf("reading log archive: %w", err)
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

// Remove deletes the log for jobID.
func (a *LogArchive) Remove(jobID string) error {
	return a.sb.Remove(jobID + logArchiveExt)
}
