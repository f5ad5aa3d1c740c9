package conversation

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	"github.com/aussiebroadwan/authbot/internal/authbot/metrics"
	"github.com/aussiebroadwan/authbot/pkg/idx"
	"github.com/aussiebroadwan/authbot/pkg/slogx"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Handler processes a single event.
type Handler interface {
	Handle(ctx context.Context, ev domain.Event) error
}

// Dispatcher fans events out to a fixed pool of workers over a buffered
// queue. Ordering per user is left to the handler.
type Dispatcher struct {
	handler Handler
	logger  *slog.Logger
	workers int
	queue   chan domain.Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(h Handler, logger *slog.Logger, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Dispatcher{
		handler: h,
		logger:  logger,
		workers: workers,
		queue:   make(chan domain.Event, queueSize),
	}
}

// Start launches the workers. ctx is the parent of every handler context;
// cancelling it aborts in-flight handling but workers keep draining until
// Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.logger.Info("dispatcher started", slog.Int("workers", d.workers), slog.Int("queue_size", cap(d.queue)))
}

// Submit queues ev, blocking until there is room or ctx is done. Events
// without an ID get one.
func (d *Dispatcher) Submit(ctx context.Context, ev domain.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	if ev.ID.IsZero() {
		ev.ID = idx.New()
	}

	select {
	case d.queue <- ev:
		metrics.QueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new events, waits for queued ones to be handled and returns
// once every worker has exited.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for ev := range d.queue {
		metrics.QueueDepth.Dec()
		d.process(ctx, id, ev)
	}
}

func (d *Dispatcher) process(ctx context.Context, workerID int, ev domain.Event) {
	log := d.logger.With(
		slog.String("event_id", ev.ID.String()),
		slog.Int("worker_id", workerID),
	)
	ctx = slogx.WithContext(ctx, log)
	log.Debug("event dequeued", slog.Duration("queued_for", time.Since(ev.ID.Time())))

	defer func() {
		if r := recover(); r != nil {
			log.Error("event handler panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if err := d.handler.Handle(ctx, ev); err != nil {
		log.Warn("event handling returned error", slog.Any("error", err))
	}
}
