package capture

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/cogwire/internal/protocol"
)

func frameFromLine(t *testing.T, line string) *protocol.Frame {
	t.Helper()
	var f protocol.Frame
	require.NoError(t, json.Unmarshal([]byte(line), &f))
	return &f
}

func captureLine(t *testing.T, e *Engine, line string, dir Direction, parentHint string) *Event {
	t.Helper()
	return e.Capture([]byte(line), frameFromLine(t, line), time.Now().UnixNano(), dir, parentHint, "")
}

func TestCaptureAssignsTurnsToInboundRequestsOnly(t *testing.T) {
	e := NewEngine()

	req := captureLine(t, e, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, DirectionIn, "")
	note := captureLine(t, e, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, DirectionIn, "")
	req2 := captureLine(t, e, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, DirectionIn, "")

	assert.Equal(t, 1, req.Turn)
	assert.Zero(t, note.Turn)
	assert.Equal(t, 2, req2.Turn)
	assert.Equal(t, 2, e.TurnCount())
}

func TestCaptureLinksResponseToRequest(t *testing.T) {
	e := NewEngine()

	req := captureLine(t, e, `{"jsonrpc":"2.0","id":5,"method":"ping"}`, DirectionIn, "")
	resp := captureLine(t, e, `{"jsonrpc":"2.0","id":5,"result":{}}`, DirectionOut, "")

	assert.Equal(t, req.EventID, resp.ParentEventID)
	assert.Equal(t, req.Turn, resp.Turn)
}

func TestCaptureResolvesOutOfOrderResponses(t *testing.T) {
	e := NewEngine()

	req10 := captureLine(t, e, `{"jsonrpc":"2.0","id":10,"method":"tools/list"}`, DirectionIn, "")
	req11 := captureLine(t, e, `{"jsonrpc":"2.0","id":11,"method":"ping"}`, DirectionIn, "")

	// Responses arrive in reverse order; each still finds its own request.
	resp11 := captureLine(t, e, `{"jsonrpc":"2.0","id":11,"result":{}}`, DirectionOut, "")
	resp10 := captureLine(t, e, `{"jsonrpc":"2.0","id":10,"result":{}}`, DirectionOut, "")

	assert.Equal(t, req11.EventID, resp11.ParentEventID)
	assert.Equal(t, req11.Turn, resp11.Turn)
	assert.Equal(t, req10.EventID, resp10.ParentEventID)
	assert.Equal(t, req10.Turn, resp10.Turn)
}

func TestCaptureLineageSurvivesMultipleReads(t *testing.T) {
	e := NewEngine()

	req := captureLine(t, e, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, DirectionIn, "")
	first := captureLine(t, e, `{"jsonrpc":"2.0","id":1,"result":{}}`, DirectionOut, "")
	second := captureLine(t, e, `{"jsonrpc":"2.0","id":1,"result":{}}`, DirectionOut, "")

	// Lineage entries are read, never removed, so a duplicate response
	// still resolves.
	assert.Equal(t, req.EventID, first.ParentEventID)
	assert.Equal(t, req.EventID, second.ParentEventID)
}

func TestCaptureParentHintFallback(t *testing.T) {
	e := NewEngine()

	req := captureLine(t, e, `{"jsonrpc":"2.0","id":9,"method":"tools/call"}`, DirectionIn, "")

	// Outbound frame without its own id, correlated via the hint the
	// transport tagged onto the write.
	out := captureLine(t, e, `{"jsonrpc":"2.0","method":"notifications/progress"}`, DirectionOut, "9")
	assert.Equal(t, req.EventID, out.ParentEventID)
	assert.Equal(t, req.Turn, out.Turn)
}

func TestCaptureUnknownCorrelationLeavesNoParent(t *testing.T) {
	e := NewEngine()

	resp := captureLine(t, e, `{"jsonrpc":"2.0","id":404,"result":{}}`, DirectionOut, "")
	assert.Empty(t, resp.ParentEventID)
	assert.Zero(t, resp.Turn)
}

func TestCaptureMalformedLine(t *testing.T) {
	e := NewEngine()

	ev := e.Capture([]byte("not json"), nil, time.Now().UnixNano(), DirectionIn, "", "decode: invalid character 'o'")

	assert.Empty(t, ev.Method)
	assert.Empty(t, ev.RequestID)
	assert.Equal(t, "decode: invalid character 'o'", ev.Error)
	assert.Equal(t, len("not json"), ev.ContentLength)
	assert.Zero(t, e.TurnCount())
}

func TestEventIdentity(t *testing.T) {
	e := NewEngine()

	a := captureLine(t, e, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, DirectionIn, "")
	b := captureLine(t, e, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, DirectionIn, "")

	assert.Len(t, a.EventID, 16)
	assert.NotEqual(t, a.EventID, b.EventID)
	assert.Equal(t, StageReceived, a.Stage)

	out := captureLine(t, e, `{"jsonrpc":"2.0","id":1,"result":{}}`, DirectionOut, "")
	assert.Equal(t, StageSent, out.Stage)
}

type panickingEnricher struct{}

func (panickingEnricher) Enrich(*Event) { panic("enricher exploded") }

func TestCaptureSwallowsEnricherPanic(t *testing.T) {
	e := NewEngine()
	e.SetEnricher(panickingEnricher{})

	ev := captureLine(t, e, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, DirectionIn, "")
	require.NotNil(t, ev)
	assert.Equal(t, 1, e.EventCount())
}

func TestCaptureSwallowsObserverPanic(t *testing.T) {
	e := NewEngine()
	var seen int
	e.OnEvent(func(*Event) { panic("observer exploded") })
	e.OnEvent(func(*Event) { seen++ })

	captureLine(t, e, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, DirectionIn, "")
	assert.Equal(t, 1, seen, "later observers still run after an earlier one panics")
}

type recordingSink struct {
	mu     sync.Mutex
	events []*Event
}

func (s *recordingSink) StoreEvent(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.EventID)
	}
	return out
}

func TestSinkReceivesEventsInSubmissionOrder(t *testing.T) {
	e := NewEngine()
	sink := &recordingSink{}
	e.SetSink(sink)

	var want []string
	for i := 0; i < 20; i++ {
		ev := captureLine(t, e, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, DirectionIn, "")
		want = append(want, ev.EventID)
	}

	// Close drains the writer queue before returning.
	e.Close()
	assert.Equal(t, want, sink.ids())
	assert.Zero(t, e.DroppedCount())
}

func TestEnqueueAfterCloseDropsInsteadOfPanicking(t *testing.T) {
	sink := &recordingSink{}
	w := newSinkWriter(sink, log.New(io.Discard, "", 0))

	w.enqueue(&Event{EventID: "before"})
	w.close()

	// A capture racing shutdown must be shed, never sent on the closed
	// queue channel.
	require.NotPanics(t, func() {
		w.enqueue(&Event{EventID: "after"})
	})
	assert.Equal(t, []string{"before"}, sink.ids())
	assert.Equal(t, int64(1), w.droppedCount())
}

func TestStatsCounters(t *testing.T) {
	e := NewEngine()

	captureLine(t, e, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, DirectionIn, "")
	captureLine(t, e, `{"jsonrpc":"2.0","id":1,"result":{}}`, DirectionOut, "")
	captureLine(t, e, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, DirectionIn, "")

	stats := e.Stats()
	assert.Equal(t, 2, stats["in_received"])
	assert.Equal(t, 1, stats["out_sent"])
	assert.Equal(t, 3, stats["total"])
}

func TestRecentEventsSnapshot(t *testing.T) {
	e := NewEngine()

	for i := 0; i < 5; i++ {
		captureLine(t, e, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, DirectionIn, "")
	}

	recent := e.RecentEvents(3)
	require.Len(t, recent, 3)

	// Snapshot is a value copy; mutating it does not touch the engine.
	recent[0].Method = "mutated"
	fresh := e.RecentEvents(3)
	assert.Equal(t, "ping", fresh[0].Method)

	all := e.RecentEvents(0)
	assert.Len(t, all, 5)
}

func TestCloseWithoutSink(t *testing.T) {
	e := NewEngine()
	captureLine(t, e, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, DirectionIn, "")
	e.Close()
	e.Close()
}
