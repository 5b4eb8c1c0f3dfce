package workerd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/moshr/pkg/workerd/rpc"
)

func TestHub_FiltersChannels(t *testing.T) {
	h := NewHub()
	all, offAll := h.Subscribe(nil)
	defer offAll()
	logs, offLogs := h.Subscribe([]string{"render-log"})
	defer offLogs()

	h.Progress(rpc.KindRender, "j1", rpc.Progress{Percent: 10})
	h.Log(rpc.KindRender, "j1", "hello")

	ev := <-all
	assert.Equal(t, "render-progress", ev.Channel)
	assert.False(t, ev.Time.IsZero())
	ev = <-all
	assert.Equal(t, "render-log", ev.Channel)

	ev = <-logs
	assert.Equal(t, "hello", ev.Line)
	assert.Equal(t, "j1", ev.JobID)
	select {
	case extra := <-logs:
		t.Fatalf("unexpected event %+v", extra)
	default:
	}
}

func TestHub_NeverBlocksOnSlowSubscriber(t *testing.T) {
	h := NewHub()
	_, off := h.Subscribe(nil)
	defer off()

	done := make(chan struct{})
	go func() {
		for range subscriberBuffer + 10 {
			h.Log(rpc.KindDatamosh, "j", "x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked")
	}
	assert.Equal(t, int64(10), h.Dropped())
}

func TestHub_UnsubscribeClosesAndIsIdempotent(t *testing.T) {
	h := NewHub()
	ch, off := h.Subscribe(nil)
	require.Equal(t, 1, h.Subscribers())
	off()
	off()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())
	h.Log(rpc.KindRender, "j", "after")
}
