package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmylchreest/moshr/internal/jobs"
)

// eventSnapshot carries the current job to a newly connected client.
const eventSnapshot jobs.EventType = "snapshot"

// EventsHandler streams job events over server-sent events.
type EventsHandler struct {
	coordinator       *jobs.Coordinator
	heartbeatInterval time.Duration
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(coordinator *jobs.Coordinator) *EventsHandler {
	return &EventsHandler{
		coordinator:       coordinator,
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval sets the SSE heartbeat interval (for testing).
func (h *EventsHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// RegisterSSE registers the SSE endpoint on a chi router.
// Huma has no streaming response support, so this bypasses it.
func (h *EventsHandler) RegisterSSE(router interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}) {
	router.Get("/api/v1/events", h.HandleSSEEvents)
}

// HandleSSEEvents streams a snapshot of the current job followed by every
// progress, log and status event until the client disconnects.
func (h *EventsHandler) HandleSSEEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.coordinator.Subscribe()
	defer h.coordinator.Unsubscribe(sub.ID)

	rc := http.NewResponseController(w)
	// The stream outlives the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})
	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	fmt.Fprintf(w, ":connected\n\n")
	if job, ok := h.coordinator.Current(); ok {
		job.LogTail = nil
		if err := writeSSEEvent(w, jobs.Event{Type: eventSnapshot, Job: job}); err != nil {
			return
		}
	}
	if err := rc.Flush(); err != nil {
		slog.Error("failed to flush initial SSE connection", slog.String("error", err.Error()))
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				slog.Debug("heartbeat flush failed, client likely disconnected", slog.String("error", err.Error()))
				return
			}
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				slog.Error("failed to write SSE event",
					slog.String("event_type", string(ev.Type)),
					slog.String("job_id", ev.Job.ID.String()),
					slog.String("error", err.Error()),
				)
				return
			}
			if err := rc.Flush(); err != nil {
				slog.Debug("event flush failed, client likely disconnected", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func writeSSEEvent(w io.Writer, ev jobs.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
