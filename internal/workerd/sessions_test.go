package workerd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_Lifecycle(t *testing.T) {
	s := NewSessionStore(time.Minute)
	require.NoError(t, s.Start("a", 2, 1))
	require.ErrorIs(t, s.Start("a", 2, 1), ErrSessionExists)

	n, err := s.Append("a", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = s.Append("a", []byte{4, 5, 6, 7, 8})
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	sess, err := s.Take("a")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, sess.Pix())
	assert.Equal(t, 0, s.Len())
}

func TestSessionStore_Errors(t *testing.T) {
	s := NewSessionStore(time.Minute)

	require.ErrorIs(t, s.Start("bad", 0, 10), ErrInvalidFrame)
	require.ErrorIs(t, s.Start("", 1, 1), ErrInvalidFrame)
	require.ErrorIs(t, s.Start("huge", 100000, 100000), ErrInvalidFrame)
	require.ErrorIs(t, s.Start("wraps", 1<<32, 1<<32), ErrInvalidFrame)
	require.ErrorIs(t, s.Start("tall", 1, 9000), ErrInvalidFrame)
	assert.Equal(t, 0, s.Len())

	_, err := s.Append("missing", []byte{1})
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, s.Start("a", 1, 1))
	_, err = s.Append("a", make([]byte, 5))
	require.ErrorIs(t, err, ErrSessionOverflow)

	_, err = s.Take("a")
	require.ErrorIs(t, err, ErrSessionShort)
	_, err = s.Take("a")
	require.ErrorIs(t, err, ErrSessionNotFound, "incomplete take still removes the session")
}

func TestSessionStore_DiscardAndReap(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSessionStore(time.Minute)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Start("old", 1, 1))
	now = now.Add(45 * time.Second)
	require.NoError(t, s.Start("new", 1, 1))

	assert.True(t, s.Discard("new"))
	assert.False(t, s.Discard("new"))

	require.NoError(t, s.Start("fresh", 1, 1))
	now = now.Add(30 * time.Second)
	assert.Equal(t, []string{"old"}, s.Reap())
	assert.Equal(t, 1, s.Len())
}
