package jobs

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/jmylchreest/moshr/internal/models"
)

// OSC 9;4 progress states understood by common terminals.
const (
	oscClear    = 0
	oscNormal   = 1
	oscError    = 2
	oscProgress = "\x1b]9;4;%d;%d\x07"
)

// TerminalIndicator mirrors job progress onto the terminal's taskbar
// progress indicator.
type TerminalIndicator struct {
	mu   sync.Mutex
	w    io.Writer
	last int
}

// NewTerminalIndicator writes escape sequences to w.
func NewTerminalIndicator(w io.Writer) *TerminalIndicator {
	return &TerminalIndicator{w: w, last: -1}
}

// Handle renders one coordinator event.
func (t *TerminalIndicator) Handle(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Job.Status {
	case models.JobStatusRunning:
		pct := int(math.Floor(models.ClampPercent(ev.Job.Progress.Percent)))
		if pct == t.last {
			return
		}
		t.last = pct
		fmt.Fprintf(t.w, oscProgress, oscNormal, pct)
	case models.JobStatusError:
		t.last = -1
		fmt.Fprintf(t.w, oscProgress, oscError, 100)
	default:
		t.last = -1
		fmt.Fprintf(t.w, oscProgress, oscClear, 0)
	}
}

// Attach subscribes to c and renders events until the returned stop
// function is called.
func (t *TerminalIndicator) Attach(c *Coordinator) (stop func()) {
	sub := c.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.Events {
			if ev.Type == EventLog {
				continue
			}
			t.Handle(ev)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.Unsubscribe(sub.ID)
			<-done
		})
	}
}
