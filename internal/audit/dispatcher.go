package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit discard instead of waiting for buffer space.
	DropIfFull bool
	// Now stamps events that arrive without a timestamp.
	Now func() time.Time
}

// Dispatcher hands events to a sink from one worker goroutine. Sinks see
// events in emission order and never run on the request path.
type Dispatcher struct {
	sink       Sink
	now        func() time.Time
	dropIfFull bool

	queue    chan Event
	stop     chan struct{}
	finished chan struct{}
	stopOnce sync.Once

	emitted atomic.Uint64
	dropped atomic.Uint64
}

// NewDispatcher returns nil when auditing is disabled. A nil dispatcher
// accepts and discards events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	d := &Dispatcher{
		sink:       sink,
		now:        cfg.Now,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
		finished:   make(chan struct{}),
	}
	if d.sink == nil {
		d.sink = NoOpSink{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	go d.work()
	return d
}

func (d *Dispatcher) work() {
	defer close(d.finished)
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			for len(d.queue) > 0 {
				d.deliver(<-d.queue)
			}
			return
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	d.sink.Emit(context.Background(), ev)
	d.emitted.Add(1)
}

func (d *Dispatcher) stopping() bool {
	select {
	case <-d.stop:
		return true
	default:
		return false
	}
}

// Emit queues ev. With DropIfFull it never blocks; otherwise it waits for
// room until ctx ends or the dispatcher closes. A cancelled wait counts as
// a drop.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.stopping() {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.now().UTC()
	}

	var cancelled <-chan struct{}
	if ctx != nil {
		cancelled = ctx.Done()
	}
	if d.dropIfFull {
		select {
		case d.queue <- ev:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.queue <- ev:
	case <-cancelled:
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close stops intake and returns once queued events reached the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.finished
}

// Dropped counts events discarded for lack of buffer space.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Emitted counts events handed to the sink.
func (d *Dispatcher) Emitted() uint64 {
	if d == nil {
		return 0
	}
	return d.emitted.Load()
}
