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
	// DropIfFull makes Emit non-blocking. Security events are usually worth
	// the wait, so the engine leaves it off unless configured.
	DropIfFull bool
	// SinkTimeout bounds each sink call. Zero means no bound.
	SinkTimeout time.Duration
	// DrainTimeout bounds Close. Events still queued when it fires are
	// counted as dropped. Zero drains everything.
	DrainTimeout time.Duration
}

// Dispatcher moves audit events off the request path and hands them to a
// Sink from a single goroutine, so sinks see events in emit order.
type Dispatcher struct {
	cfg   Config
	sink  Sink
	queue chan Event
	stop  chan struct{}
	idle  chan struct{}

	dropped   atomic.Uint64
	delivered atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is
// disabled; a nil Dispatcher accepts and ignores every call.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, cfg.BufferSize),
		stop:  make(chan struct{}),
		idle:  make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.idle)

	for {
		// Close wins over a non-empty queue so the drain deadline applies.
		select {
		case <-d.stop:
			d.drain()
			return
		default:
		}

		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	var deadline <-chan time.Time
	if d.cfg.DrainTimeout > 0 {
		timer := time.NewTimer(d.cfg.DrainTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-deadline:
			d.dropped.Add(uint64(len(d.queue)))
			return
		default:
		}

		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	ctx := context.Background()
	if d.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SinkTimeout)
		defer cancel()
	}
	d.sink.Emit(ctx, ev)
	d.delivered.Add(1)
}

// Emit queues ev. With DropIfFull a full buffer drops the event; otherwise
// Emit waits for room, for ctx or for Close. Events given up on are counted
// in Dropped.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close stops intake and flushes the queue, waiting at most DrainTimeout
// plus one in-flight sink call.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		<-d.idle
	})
}

// Dropped counts events that never reached the sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered counts sink calls that returned, successful or not. Sinks
// report their own write failures.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
