package capture

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

// queueDepth is sized for bursts; a single-peer stdio session rarely has
// more than a handful of events in flight.
const queueDepth = 1024

// storeTimeout bounds a single sink write so a wedged database cannot pin
// the writer goroutine forever.
const storeTimeout = 5 * time.Second

// sinkWriter drains captured events to the persistence sink on a single
// goroutine, which preserves submission order across the whole connection
// lifetime. Writes go through a circuit breaker: once the sink starts
// failing consistently the breaker opens and subsequent events are shed
// immediately instead of piling up timeouts.
type sinkWriter struct {
	sink    EventSink
	queue   chan *Event
	breaker *gobreaker.CircuitBreaker
	dropped atomic.Int64
	done    chan struct{}
	log     *log.Logger

	mu     sync.Mutex
	closed bool
}

func newSinkWriter(sink EventSink, logger *log.Logger) *sinkWriter {
	w := &sinkWriter{
		sink:  sink,
		queue: make(chan *Event, queueDepth),
		done:  make(chan struct{}),
		log:   logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "capture-sink",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
	go w.run()
	return w
}

// enqueue hands an event to the writer without blocking. Persistence is
// best-effort: when the queue is full or the writer is closed the event
// is dropped and counted. The mutex keeps the send ordered against
// close, so an enqueue can never hit a closed channel.
func (w *sinkWriter) enqueue(ev *Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.drop(ev)
		return
	}
	select {
	case w.queue <- ev:
	default:
		w.drop(ev)
	}
}

func (w *sinkWriter) drop(ev *Event) {
	if w.dropped.Add(1) == 1 {
		w.log.Printf("sink queue full, shedding events (event %s)", ev.EventID)
	}
}

func (w *sinkWriter) run() {
	defer close(w.done)
	for ev := range w.queue {
		w.store(ev)
	}
}

func (w *sinkWriter) store(ev *Event) {
	_, err := w.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		return nil, w.sink.StoreEvent(ctx, ev)
	})
	if err != nil {
		w.log.Printf("sink store failed for event %s: %v", ev.EventID, err)
	}
}

func (w *sinkWriter) droppedCount() int64 {
	return w.dropped.Load()
}

// close stops accepting events and waits for the queue to drain.
func (w *sinkWriter) close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}
