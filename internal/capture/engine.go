// Package capture implements the lifecycle recorder at the heart of
// cogwire: every inbound and outbound frame passes through the Engine,
// which assigns identity and turn numbers, correlates requests with their
// eventual responses, runs the enrichment hook, hands events to the
// persistence sink, and fans out to observer callbacks.
//
// The Engine never propagates a failure back to the transport. A
// malfunctioning plugin (enricher, sink, observer) is caught, logged to
// stderr, and swallowed; the protocol loop must not stall or crash because
// a downstream stage did.
package capture

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/scrypster/cogwire/internal/protocol"
)

// Enricher is the pluggable enrichment hook. Enrich may mutate the event's
// layer fields; it must not block indefinitely.
type Enricher interface {
	Enrich(ev *Event)
}

// EventSink is the subset of the persistence layer the engine needs.
// Using a consumer-side interface keeps the engine decoupled from the
// concrete sqlite/postgres stores.
type EventSink interface {
	StoreEvent(ctx context.Context, ev *Event) error
}

// Observer is a per-event callback. Failures are isolated per callback.
type Observer func(ev *Event)

// maxRecent bounds the in-memory diagnostics window; oldest events are
// dropped once the cap is reached. Persistence is unaffected.
const maxRecent = 10000

// Engine is the single point through which every frame passes.
//
// The lineage map and turn counter are mutated only from the sequential
// frame-handling path; the mutex exists because queries (stats, recent
// events) are also read from the shutdown path and observer goroutines.
type Engine struct {
	mu       sync.Mutex
	events   []*Event
	turns    int
	lineage  map[string]*Event
	stats    map[string]int
	enricher Enricher
	writer   *sinkWriter
	obs      []Observer

	log *log.Logger
}

// NewEngine creates a capture engine with no enricher, sink, or observers
// attached. All attachments happen before or during startup; the capture
// path itself tolerates every combination.
func NewEngine() *Engine {
	return &Engine{
		lineage: make(map[string]*Event),
		stats:   make(map[string]int),
		log:     log.New(os.Stderr, "cogwire-capture: ", log.LstdFlags),
	}
}

// SetEnricher attaches the enrichment hook.
func (e *Engine) SetEnricher(enricher Enricher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enricher = enricher
}

// SetSink attaches the persistence sink. Events are forwarded to it
// asynchronously in submission order; events captured before the sink was
// attached live in the diagnostics window only.
func (e *Engine) SetSink(sink EventSink) {
	w := newSinkWriter(sink, e.log)
	e.mu.Lock()
	e.writer = w
	e.mu.Unlock()
}

// OnEvent registers an observer callback invoked for every captured event.
func (e *Engine) OnEvent(cb Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.obs = append(e.obs, cb)
}

// Capture records one frame observed at the transport boundary. parentHint
// carries the correlation id the transport tagged onto an outbound write,
// letting lineage resolve even when the frame itself lacks an id. errText
// marks frames that failed to decode.
//
// Capture never returns an error and never panics.
func (e *Engine) Capture(raw []byte, frame *protocol.Frame, timestampNS int64, dir Direction, parentHint, errText string) *Event {
	ev := newEvent(raw, frame, timestampNS, dir, errText)

	e.mu.Lock()

	// Request-response lineage. Inbound requests (method + id) open a turn
	// and register in the lineage map; outbound frames with a matching id
	// inherit the request's turn and back-reference its event.
	if dir == DirectionIn && ev.Method != "" && ev.RequestID != "" {
		e.turns++
		ev.Turn = e.turns
		e.lineage[ev.RequestID] = ev
	}
	if dir == DirectionOut {
		key := ev.RequestID
		if key == "" {
			key = parentHint
		}
		if key != "" {
			if parent, ok := e.lineage[key]; ok {
				ev.ParentEventID = parent.EventID
				ev.Turn = parent.Turn
			}
		}
	}

	enricher := e.enricher
	e.mu.Unlock()

	// Enrichment runs synchronously so the layers are attached before the
	// event reaches the sink and observers. Plugin failures never surface.
	if enricher != nil {
		e.safely("enricher", func() { enricher.Enrich(ev) })
	}

	e.mu.Lock()
	e.events = append(e.events, ev)
	if len(e.events) > maxRecent {
		e.events = e.events[len(e.events)-maxRecent:]
	}
	e.stats[string(dir)+"_"+string(ev.Stage)]++
	e.stats["total"]++
	writer := e.writer
	obs := e.obs
	e.mu.Unlock()

	// Fire-and-forget persistence: hand off and proceed. The writer
	// preserves submission order; a full queue drops, never blocks.
	if writer != nil {
		writer.enqueue(ev)
	}

	for _, cb := range obs {
		cb := cb
		e.safely("observer", func() { cb(ev) })
	}

	return ev
}

// safely runs fn and converts a panic into a log line.
func (e *Engine) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Printf("%s panic: %v", what, r)
		}
	}()
	fn()
}

// TurnCount returns the number of request turns opened so far.
func (e *Engine) TurnCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turns
}

// EventCount returns the number of events in the diagnostics window.
func (e *Engine) EventCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

// DroppedCount returns how many events the sink writer shed.
func (e *Engine) DroppedCount() int64 {
	e.mu.Lock()
	w := e.writer
	e.mu.Unlock()
	if w == nil {
		return 0
	}
	return w.droppedCount()
}

// Stats returns a copy of the per-(direction,stage) counters plus the
// grand total.
func (e *Engine) Stats() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int, len(e.stats))
	for k, v := range e.stats {
		out[k] = v
	}
	return out
}

// RecentEvents returns the most recent limit events as a materialized
// snapshot (value copies, not a live view).
func (e *Engine) RecentEvents(limit int) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.events) {
		limit = len(e.events)
	}
	out := make([]Event, 0, limit)
	for _, ev := range e.events[len(e.events)-limit:] {
		out = append(out, *ev)
	}
	return out
}

// Close flushes the sink writer queue and stops its goroutine. The
// underlying sink is closed by the orchestrator, not here.
func (e *Engine) Close() {
	e.mu.Lock()
	w := e.writer
	e.writer = nil
	e.mu.Unlock()
	if w != nil {
		w.close()
	}
}
