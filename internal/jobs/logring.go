package jobs

import (
	"bytes"
	"strings"
	"sync"
)

// LogRing keeps the most recent lines of a job's output.
type LogRing struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewLogRing creates a ring holding up to capacity lines.
func NewLogRing(capacity int) *LogRing {
	if capacity < 1 {
		capacity = 1
	}
	return &LogRing{lines: make([]string, capacity)}
}

// Add appends a line, evicting the oldest when full.
func (r *LogRing) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// Len returns the number of stored lines.
func (r *LogRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.lines)
	}
	return r.next
}

// Lines returns all stored lines, oldest first.
func (r *LogRing) Lines() []string {
	return r.Tail(-1)
}

// Tail returns the last n lines, oldest first. n < 0 returns everything.
func (r *LogRing) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ordered []string
	if r.full {
		ordered = append(ordered, r.lines[r.next:]...)
		ordered = append(ordered, r.lines[:r.next]...)
	} else {
		ordered = append(ordered, r.lines[:r.next]...)
	}
	if n >= 0 && n < len(ordered) {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

// LineSplitter turns a byte stream into whole lines. Carriage returns are
// treated as line breaks so in-place status updates become separate lines.
type LineSplitter struct {
	emit    func(string)
	partial []byte
}

// NewLineSplitter calls emit for every complete, non-blank line.
func NewLineSplitter(emit func(string)) *LineSplitter {
	return &LineSplitter{emit: emit}
}

// Write implements io.Writer.
func (s *LineSplitter) Write(p []byte) (int, error) {
	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexAny(s.partial, "\r\n")
		if i < 0 {
			break
		}
		s.send(string(s.partial[:i]))
		s.partial = s.partial[i+1:]
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (s *LineSplitter) Flush() {
	if len(s.partial) > 0 {
		s.send(string(s.partial))
		s.partial = nil
	}
}

func (s *LineSplitter) send(line string) {
	if line = strings.TrimRight(line, " \t"); line != "" {
		s.emit(line)
	}
}
