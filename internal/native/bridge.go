package native

import (
	"sync"

	"github.com/jmylchreest/moshr/internal/models"
	"github.com/jmylchreest/moshr/pkg/workerd/rpc"
)

// Sink receives a job's translated progress and log lines. *jobs.Run
// satisfies it.
type Sink interface {
	Progress(models.ProgressSnapshot)
	Log(line string)
}

// Bridge subscribes sink to the progress and log channels of kind,
// keeping only events for jobID.
func Bridge(src EventSource, kind, jobID string, sink Sink) (unsubscribe func()) {
	return BridgeChannels(src, jobID, rpc.ProgressChannel(kind), rpc.LogChannel(kind), sink)
}

// BridgeChannels is Bridge with explicit channel names. The returned
// function is safe to call more than once.
func BridgeChannels(src EventSource, jobID, progressChannel, logChannel string, sink Sink) func() {
	offProgress := src.Subscribe(progressChannel, func(ev rpc.Event) {
		if ev.JobID != jobID || ev.Progress == nil {
			return
		}
		sink.Progress(ToSnapshot(ev.Progress))
	})
	offLog := src.Subscribe(logChannel, func(ev rpc.Event) {
		if ev.JobID != jobID || ev.Line == "" {
			return
		}
		sink.Log(ev.Line)
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			offProgress()
			offLog()
		})
	}
}

// ToSnapshot converts worker progress into the shared snapshot shape.
func ToSnapshot(p *rpc.Progress) models.ProgressSnapshot {
	return models.ProgressSnapshot{
		Percent:        models.ClampPercent(p.Percent),
		Stage:          p.Stage,
		Frame:          p.Frame,
		FPS:            p.FPS,
		Speed:          p.Speed,
		ElapsedSeconds: p.ElapsedSeconds,
		ETASeconds:     p.ETASeconds,
	}
}
