package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events when the buffer is full instead of making the
	// emitting request wait for room.
	DropIfFull bool
}

// Option customizes a [Dispatcher].
type Option func(*Dispatcher)

// WithLogger reports drops on l. Reports are sampled to one a minute so a
// stalled sink cannot flood the log.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// Dispatcher relays events to a sink from one background goroutine, so a
// slow sink delays the audit trail rather than logins. A nil *Dispatcher
// accepts and discards everything.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	logger     *slog.Logger
	dropLog    rate.Sometimes

	mu      sync.RWMutex
	closed  bool
	events  chan Event
	stopped chan struct{}
	dropped atomic.Uint64
}

// NewDispatcher starts the relay. It returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink, opts ...Option) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		logger:     slog.Default(),
		dropLog:    rate.Sometimes{First: 1, Interval: time.Minute},
		events:     make(chan Event, max(cfg.BufferSize, 1)),
		stopped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.relay()
	return d
}

func (d *Dispatcher) relay() {
	defer close(d.stopped)
	for event := range d.events {
		d.sink.Emit(context.Background(), event)
	}
}

// Emit queues event. With DropIfFull a full buffer counts a drop; otherwise
// Emit waits for room until ctx is done. Events after Close are discarded.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// The read lock keeps Close from closing the channel mid-send.
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.events <- event:
		default:
			d.drop(event)
		}
		return
	}
	select {
	case d.events <- event:
	case <-ctx.Done():
		d.drop(event)
	}
}

func (d *Dispatcher) drop(event Event) {
	total := d.dropped.Add(1)
	d.dropLog.Do(func() {
		d.logger.Warn("audit event dropped",
			slog.String("event_type", event.EventType),
			slog.Uint64("dropped_total", total),
		)
	})
}

// Close stops accepting events and returns once the buffered ones reached
// the sink. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()
	<-d.stopped
}

// Dropped reports how many events never reached the buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
