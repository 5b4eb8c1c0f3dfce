package workerd

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmylchreest/moshr/internal/workerd/pixfx"
)

// Preview session errors.
var (
	ErrSessionExists   = errors.New("preview session already exists")
	ErrSessionNotFound = errors.New("preview session not found")
	ErrSessionOverflow = errors.New("preview chunk overflows frame buffer")
	ErrSessionShort    = errors.New("preview frame buffer incomplete")
	ErrInvalidFrame    = errors.New("invalid preview frame dimensions")
)

// Session is an in-progress preview upload.
type Session struct {
	ID       string
	Width    int
	Height   int
	buf      []byte
	received int
	touched  time.Time
}

// Pix returns the uploaded RGBA bytes.
func (s *Session) Pix() []byte { return s.buf }

// SessionStore holds preview sessions keyed by id.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore creates a store whose idle sessions expire after ttl.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session), ttl: ttl, now: time.Now}
}

// Start allocates a width*height*4 buffer for id.
func (s *SessionStore) Start(id string, width, height int) error {
	size, ok := pixfx.FrameBytes(width, height)
	if id == "" || !ok {
		return fmt.Errorf("%w: %dx%d", ErrInvalidFrame, width, height)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	s.sessions[id] = &Session{
		ID:      id,
		Width:   width,
		Height:  height,
		buf:     make([]byte, size),
		touched: s.now(),
	}
	return nil
}

// Append writes chunk after the bytes already received and returns the new total.
func (s *SessionStore) Append(id string, chunk []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if sess.received+len(chunk) > len(sess.buf) {
		return sess.received, fmt.Errorf("%w: %d + %d > %d", ErrSessionOverflow, sess.received, len(chunk), len(sess.buf))
	}
	copy(sess.buf[sess.received:], chunk)
	sess.received += len(chunk)
	sess.touched = s.now()
	return sess.received, nil
}

// Take removes id and returns it if its buffer is exactly full. The session
// is removed even when incomplete.
func (s *SessionStore) Take(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	if sess.received != len(sess.buf) {
		return nil, fmt.Errorf("%w: %d of %d bytes", ErrSessionShort, sess.received, len(sess.buf))
	}
	return sess, nil
}

// Discard drops id, reporting whether it existed.
func (s *SessionStore) Discard(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// Reap drops sessions idle longer than the ttl and returns their ids.
func (s *SessionStore) Reap() []string {
	if s.ttl <= 0 {
		return nil
	}
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped []string
	for id, sess := range s.sessions {
		if sess.touched.Before(cutoff) {
			delete(s.sessions, id)
			reaped = append(reaped, id)
		}
	}
	return reaped
}

// Len returns the number of open sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
