// Package storage manages moshr's on-disk state: archived job logs and
// rendered preview frames. Every path is confined to a base directory.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sandbox performs file operations inside a base directory.
type Sandbox struct {
	baseDir string
}

// NewSandbox creates the base directory if needed.
func NewSandbox(baseDir string) (*Sandbox, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}
	return &Sandbox{baseDir: abs}, nil
}

// BaseDir returns the absolute base directory.
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// ResolvePath maps a relative path into the sandbox, rejecting anything
// that would escape it.
func (s *Sandbox) ResolvePath(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path escapes sandbox: %s (absolute paths not allowed)", rel)
	}
	full := filepath.Join(s.baseDir, filepath.Clean(rel))
	if full != s.baseDir && !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes sandbox: %s", rel)
	}
	return full, nil
}

// AtomicWriteReader streams r into rel via a temporary file and rename.
func (s *Sandbox) AtomicWriteReader(rel string, r io.Reader) error {
	target, err := s.ResolvePath(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(target), randomHex(8)))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming to target: %w", err)
	}
	return nil
}

// Open opens rel for reading.
func (s *Sandbox) Open(rel string) (*os.File, error) {
	path, err := s.ResolvePath(rel)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove deletes rel. A missing file is not an error.
func (s *Sandbox) Remove(rel string) error {
	path, err := s.ResolvePath(rel)
	if err != nil {
		return err
	}
	if path == s.baseDir {
		return fmt.Errorf("cannot remove sandbox base directory")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing path: %w", err)
	}
	return nil
}

// RemoveOlderThan deletes regular files under the sandbox last modified
// before cutoff and returns how many were removed.
func (s *Sandbox) RemoveOlderThan(cutoff time.Time) (int, error) {
	removed := 0
	err := filepath.WalkDir(s.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing %s: %w", path, err)
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func randomHex(n int) string {
	b := make([]byte, n/2+1)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)[:n]
}
