package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmcallister/perimeter-core/internal/infrastructure/logging"
)

// DefaultBufferSize is the bus queue depth used when the configured
// size is zero or negative.
const DefaultBufferSize = 256

// drainTimeout bounds delivery of already-queued events after the run
// context is cancelled.
const drainTimeout = 5 * time.Second

// Consumer receives every event published to the bus. Implementations
// decide for themselves which severities they act on. A slow or failing
// consumer must not be able to take the others down: Consume errors are
// logged and dispatch continues.
type Consumer interface {
	// Name identifies the consumer in logs.
	Name() string

	// Consume handles one event. It is called from the bus dispatch
	// goroutine, so long-running work should be bounded by ctx.
	Consume(ctx context.Context, ev Event) error
}

// Bus is a bounded in-process fan-out for events.
//
// Publish never blocks the caller: when the queue is full the event is
// dropped and counted. State reporting must keep flowing even when a
// downstream sink stalls; the audit trail is best-effort under
// overload, the registry write never is.
type Bus struct {
	log       *logging.Logger
	queue     chan Event
	consumers []Consumer
	dropped   atomic.Uint64

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// NewBus creates a bus with the given queue depth.
func NewBus(bufferSize int, log *logging.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		log:   log.With("component", "event_bus"),
		queue: make(chan Event, bufferSize),
		done:  make(chan struct{}),
	}
}

// Subscribe registers a consumer. Must be called before Start.
func (b *Bus) Subscribe(c Consumer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		panic("event: Subscribe after Start")
	}
	b.consumers = append(b.consumers, c)
}

// Start launches the dispatch goroutine. It returns immediately;
// dispatch runs until ctx is cancelled.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()

	go b.dispatch(ctx)
}

// Publish enqueues an event without blocking. Events published while
// the queue is full are dropped and counted; the drop is logged so
// sustained overload is visible.
func (b *Bus) Publish(ev Event) {
	select {
	case b.queue <- ev:
	default:
		n := b.dropped.Add(1)
		b.log.Warn("event dropped, queue full",
			"severity", ev.Severity,
			"source", ev.SourceSystem,
			"total_dropped", n,
		)
	}
}

// Dropped returns the number of events discarded because the queue was
// full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Done is closed once the dispatch goroutine has drained and exited.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

func (b *Bus) dispatch(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			b.drain(ctx)
			return
		case ev := <-b.queue:
			if ctx.Err() != nil {
				// This read raced cancellation; the event belongs to
				// the shutdown drain.
				b.drain(ctx, ev)
				return
			}
			b.deliver(ctx, ev)
		}
	}
}

// drain delivers everything still queued at shutdown so accepted
// events are not lost. The run context is already cancelled, so
// ctx-honouring consumers (the SQLite store uses ExecContext) would
// reject every drained event; deliveries get their own bounded
// context instead.
func (b *Bus) drain(ctx context.Context, pending ...Event) {
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()

	for _, ev := range pending {
		b.deliver(drainCtx, ev)
	}
	for {
		select {
		case ev := <-b.queue:
			b.deliver(drainCtx, ev)
		default:
			return
		}
	}
}

// deliver hands one event to every consumer. A consumer error is
// isolated: it is logged and the remaining consumers still run.
func (b *Bus) deliver(ctx context.Context, ev Event) {
	for _, c := range b.consumers {
		if err := c.Consume(ctx, ev); err != nil {
			b.log.Error("consumer failed",
				"consumer", c.Name(),
				"severity", ev.Severity,
				"error", err,
			)
		}
	}
}
