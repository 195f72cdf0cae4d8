package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
)

const (
	defaultQueueSize       = 256
	defaultWorkers         = 2
	defaultDeliveryTimeout = 5 * time.Second
)

// Dispatcher is an asynchronous Emitter. Events are queued and delivered
// to the sink by a fixed set of workers. A full queue drops the event.
type Dispatcher struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration
	workers int

	mu     sync.RWMutex
	closed bool
	queue  chan model.Transition
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets how many events may wait for delivery.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan model.Transition, n)
		}
	}
}

// WithWorkers sets the number of delivery goroutines.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithDeliveryTimeout bounds a single Deliver call.
func WithDeliveryTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher starts the delivery workers. Call Close to drain them.
func NewDispatcher(sink Sink, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sink:    sink,
		logger:  logger,
		timeout: defaultDeliveryTimeout,
		workers: defaultWorkers,
		queue:   make(chan model.Transition, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go d.run()
	}
	return d
}

// Emit queues t without blocking.
func (d *Dispatcher) Emit(ctx context.Context, t model.Transition) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.WarnContext(ctx, "notification dropped: dispatcher closed", "rsvp_id", t.RSVPID, "to", t.To)
		return
	}
	select {
	case d.queue <- t:
	default:
		d.logger.WarnContext(ctx, "notification dropped: queue full", "rsvp_id", t.RSVPID, "to", t.To)
	}
}

// Close stops accepting events and waits for queued ones to be delivered,
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for t := range d.queue {
		d.deliver(t)
	}
}

func (d *Dispatcher) deliver(t model.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification sink panicked", "rsvp_id", t.RSVPID, "panic", r)
		}
	}()

	if err := d.sink.Deliver(ctx, t); err != nil {
		d.logger.Warn("notification delivery failed",
			"rsvp_id", t.RSVPID,
			"concert_id", t.ConcertID,
			"to", t.To,
			"error", err,
		)
	}
}
