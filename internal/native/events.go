package native

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/moshr/pkg/workerd/rpc"
)

// EventSource is anything events can be subscribed to by channel name.
type EventSource interface {
	Subscribe(channel string, fn func(rpc.Event)) (unsubscribe func())
}

// EventBus fans the worker's single event stream out to per-channel handlers.
type EventBus struct {
	client *rpc.WorkerClient
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]map[uint64]func(rpc.Event)
	nextID   uint64

	readyOnce sync.Once
	ready     chan struct{}
}

// NewEventBus creates a bus reading from client. client may be nil for a
// bus fed only through Publish.
func NewEventBus(client *rpc.WorkerClient, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		client:   client,
		logger:   logger,
		handlers: make(map[string]map[uint64]func(rpc.Event)),
		ready:    make(chan struct{}),
	}
}

// Subscribe registers fn for channel. The returned function removes the
// handler and may be called any number of times.
func (b *EventBus) Subscribe(channel string, fn func(rpc.Event)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.handlers[channel] == nil {
		b.handlers[channel] = make(map[uint64]func(rpc.Event))
	}
	b.handlers[channel][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers[channel], id)
			if len(b.handlers[channel]) == 0 {
				delete(b.handlers, channel)
			}
			b.mu.Unlock()
		})
	}
}

// Publish dispatches ev to the handlers of its channel as it arrives.
func (b *EventBus) Publish(ev rpc.Event) {
	if ev.Channel == rpc.ChannelHello {
		b.readyOnce.Do(func() { close(b.ready) })
		return
	}
	b.mu.Lock()
	fns := make([]func(rpc.Event), 0, len(b.handlers[ev.Channel]))
	for _, fn := range b.handlers[ev.Channel] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Ready is closed once the worker has acknowledged the event stream.
func (b *EventBus) Ready() <-chan struct{} { return b.ready }

// WaitReady blocks until the stream is live or ctx ends.
func (b *EventBus) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes the worker's event stream until ctx ends, reconnecting
// with backoff when the stream drops.
func (b *EventBus) Run(ctx context.Context) error {
	if b.client == nil {
		return errors.New("event bus has no worker client")
	}
	backoff := 100 * time.Millisecond
	for {
		err := b.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		b.logger.Warn("worker event stream ended, reconnecting",
			slog.Duration("backoff", backoff),
			slog.Any("error", err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 5*time.Second)
	}
}

func (b *EventBus) consume(ctx context.Context) error {
	stream, err := b.client.Events(ctx, &rpc.EventsRequest{})
	if err != nil {
		return err
	}
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		b.Publish(*ev)
	}
}
