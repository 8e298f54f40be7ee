package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/cogwire/internal/capture"
	"github.com/scrypster/cogwire/internal/embeddings"
	"github.com/scrypster/cogwire/internal/protocol"
	"github.com/scrypster/cogwire/internal/storage"
)

// stubStore serves canned query results.
type stubStore struct {
	events []storage.StoredEvent
	hits   []storage.SearchHit
}

func (s *stubStore) StoreEvent(context.Context, *capture.Event) error { return nil }
func (s *stubStore) SessionID() string                                { return "mcp-123-abcd1234" }

func (s *stubStore) SessionStats(context.Context) (*storage.SessionStats, error) {
	return &storage.SessionStats{
		SessionID:  s.SessionID(),
		EventCount: len(s.events),
		TurnCount:  3,
		Topics:     map[string]int{"database": 2, "cognition": 1},
		GutSignals: map[string]int{"routine": 2, "interesting": 1},
	}, nil
}

func (s *stubStore) TotalStats(context.Context) (*storage.TotalStats, error) {
	return &storage.TotalStats{
		TotalEvents:    42,
		TotalSessions:  7,
		TotalBytes:     9000,
		GutSignals:     map[string]int{"routine": 40, "breakthrough_potential": 2},
		CurrentSession: s.SessionID(),
	}, nil
}

func (s *stubStore) Timeline(_ context.Context, f storage.TimelineFilter) ([]storage.StoredEvent, error) {
	if f.Platform != "" {
		var out []storage.StoredEvent
		for _, ev := range s.events {
			if ev.Platform == f.Platform {
				out = append(out, ev)
			}
		}
		return out, nil
	}
	return s.events, nil
}

func (s *stubStore) Recent(context.Context, int) ([]storage.StoredEvent, error) {
	return s.events, nil
}

func (s *stubStore) HighCoherence(_ context.Context, min float64, _ int) ([]storage.StoredEvent, error) {
	var out []storage.StoredEvent
	for _, ev := range s.events {
		if ev.Coherence >= min {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *stubStore) StoreEmbedding(context.Context, string, []float32, string) error { return nil }

func (s *stubStore) SearchSimilar(context.Context, []float32, int, float64) ([]storage.SearchHit, error) {
	return s.hits, nil
}

func (s *stubStore) Close(context.Context) error { return nil }

func seededStore() *stubStore {
	return &stubStore{
		events: []storage.StoredEvent{
			{
				EventID: "aaa", Platform: "claude-desktop", Method: "tools/call",
				Direction: "in", Topic: "cognition", Intent: "analyze",
				Summary: "coherence analysis of captured traffic", Coherence: 0.9,
				Concepts:   []string{"coherence", "cognitive", "capture"},
				Indicators: []string{"high_coherence_potential", "concept_cluster", "meta_cognitive"},
				GutSignal:  "breakthrough_potential",
			},
			{
				EventID: "bbb", Platform: "claude-code", Method: "",
				Direction: "out", Topic: "database", Intent: "retrieve",
				Summary: "schema rows returned", Coherence: 0.3,
				GutSignal: "routine",
			},
		},
	}
}

func moduleWith(store storage.EventStore) *Module {
	return New(func() storage.EventStore { return store }, capture.NewEngine(), nil)
}

func handleText(t *testing.T, m *Module, name string, args map[string]any) string {
	t.Helper()
	result, err := m.Handle(context.Background(), name, args)
	require.NoError(t, err)
	require.False(t, result.IsError, "unexpected tool error: %v", result.Content)
	require.NotEmpty(t, result.Content)
	return result.Content[0].Text
}

func TestDefinitionsCoverAllHandlers(t *testing.T) {
	m := moduleWith(seededStore())

	defs := m.Definitions()
	require.Len(t, defs, 7)
	for _, def := range defs {
		assert.NotEmpty(t, def.Description, def.Name)
		assert.Equal(t, "object", def.InputSchema["type"], def.Name)

		// Every advertised tool must actually dispatch.
		result, err := m.Handle(context.Background(), def.Name, map[string]any{"query": "long enough query"})
		require.NoError(t, err, def.Name)
		assert.NotEmpty(t, result.Content, def.Name)
	}
}

func TestUnknownToolName(t *testing.T) {
	m := moduleWith(seededStore())
	result, err := m.Handle(context.Background(), "nope", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "Unknown tool: nope")
}

func TestStoreUnavailableDegradesGracefully(t *testing.T) {
	m := New(func() storage.EventStore { return nil }, capture.NewEngine(), nil)

	for _, name := range []string{
		"capture_stats", "capture_timeline", "detect_emergence",
		"coherence_status", "coherence_moments", "coherence_search", "coherence_scan",
	} {
		result, err := m.Handle(context.Background(), name, map[string]any{"query": "anything at all"})
		require.NoError(t, err, name)
		assert.True(t, result.IsError, name)
		assert.Equal(t, "Capture database not initialized.", result.Content[0].Text, name)
	}
}

func TestCaptureStats(t *testing.T) {
	text := handleText(t, moduleWith(seededStore()), "capture_stats", nil)

	assert.Contains(t, text, "# Capture Statistics")
	assert.Contains(t, text, "mcp-123-abcd1234")
	assert.Contains(t, text, "**Turns:** 3")
	assert.Contains(t, text, "- database: 2")
	assert.Contains(t, text, "**Total Events:** 42")
	assert.Contains(t, text, "- breakthrough_potential: 2")
}

func TestCaptureTimeline(t *testing.T) {
	text := handleText(t, moduleWith(seededStore()), "capture_timeline", nil)

	assert.Contains(t, text, "Timeline (2 events)")
	// Rows render oldest first: the second stored (older) event leads.
	assert.Less(t, strings.Index(text, "-> response"), strings.Index(text, "<- tools/call"))
	assert.Contains(t, text, "[coherence=0.90]")
}

func TestCaptureTimelineEmpty(t *testing.T) {
	text := handleText(t, moduleWith(&stubStore{}), "capture_timeline", nil)
	assert.Equal(t, "No events found matching criteria.", text)
}

func TestDetectEmergence(t *testing.T) {
	text := handleText(t, moduleWith(seededStore()), "detect_emergence", nil)

	assert.Contains(t, text, "**Events Scanned:** 2")
	// One high-coherence + one cluster + one meta + one breakthrough:
	// 0.15 + 0.1 + 0.25 + 0.3 = 0.8, capped sections all present.
	assert.Contains(t, text, "**Emergence Score:** 0.800")
	assert.Contains(t, text, "## Breakthrough Signals (1)")
	assert.Contains(t, text, "## Meta-Cognitive Events (1)")
	assert.Contains(t, text, "## High Coherence Events (1)")
	assert.Contains(t, text, "## Concept Clusters (1)")
	assert.Contains(t, text, "Strong emergence signals detected")
}

func TestDetectEmergenceQuietSession(t *testing.T) {
	store := &stubStore{events: []storage.StoredEvent{{EventID: "x", GutSignal: "routine"}}}
	text := handleText(t, moduleWith(store), "detect_emergence", nil)
	assert.Contains(t, text, "No significant emergence signals detected")
}

func TestCoherenceStatus(t *testing.T) {
	text := handleText(t, moduleWith(seededStore()), "coherence_status", nil)
	assert.Contains(t, text, "| Total Events | 42 |")
	assert.Contains(t, text, "| Total Sessions | 7 |")
	assert.Contains(t, text, "- routine: 40")
}

func TestCoherenceMoments(t *testing.T) {
	text := handleText(t, moduleWith(seededStore()), "coherence_moments", map[string]any{"min_coherence": 0.5})
	assert.Contains(t, text, "High Coherence Events (1 shown)")
	assert.Contains(t, text, "**0.900**")
	assert.Contains(t, text, "high_coherence_potential")
}

func TestCoherenceMomentsNoneFound(t *testing.T) {
	text := handleText(t, moduleWith(seededStore()), "coherence_moments", map[string]any{"min_coherence": 0.99})
	assert.Equal(t, "No events found above 99% coherence.", text)
}

func TestCoherenceSearch(t *testing.T) {
	store := seededStore()
	store.hits = []storage.SearchHit{{Event: store.events[0], Similarity: 0.87}}
	m := New(func() storage.EventStore { return store }, capture.NewEngine(),
		embeddings.NewPipeline(embeddings.PipelineConfig{Dimensions: 32}))

	text := handleText(t, m, "coherence_search", map[string]any{"query": "coherence patterns in traffic"})
	assert.Contains(t, text, "# Semantic Search: 'coherence patterns in traffic'")
	assert.Contains(t, text, "**87%**")
	assert.Contains(t, text, "topic=`cognition`")
}

func TestCoherenceSearchRequiresQuery(t *testing.T) {
	m := New(func() storage.EventStore { return seededStore() }, capture.NewEngine(),
		embeddings.NewPipeline(embeddings.PipelineConfig{Dimensions: 32}))

	result, err := m.Handle(context.Background(), "coherence_search", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "Query is required.", result.Content[0].Text)
}

func TestCoherenceSearchWithoutPipeline(t *testing.T) {
	result, err := moduleWith(seededStore()).Handle(context.Background(),
		"coherence_search", map[string]any{"query": "anything long enough"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "Embeddings not available.", result.Content[0].Text)
}

func TestCoherenceScan(t *testing.T) {
	text := handleText(t, moduleWith(seededStore()), "coherence_scan", nil)
	assert.Contains(t, text, "# Coherence Scan (2 events)")
	assert.Contains(t, text, "| High coherence (>0.7) | 1 |")
	assert.Contains(t, text, "| Breakthrough potential | 1 |")
	assert.Contains(t, text, "- cognition: 1")
	assert.Contains(t, text, "- retrieve: 1")
}

func TestResources(t *testing.T) {
	engine := capture.NewEngine()
	m := New(func() storage.EventStore { return seededStore() }, engine, nil)

	resources := m.Resources()
	require.Len(t, resources, 2)
	assert.Equal(t, URIStats, resources[0].URI)
	assert.Equal(t, "application/json", resources[0].MimeType)

	var f protocol.Frame
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), &f))
	engine.Capture([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), &f, 1, capture.DirectionIn, "", "")

	content, ok, err := m.ReadResource(context.Background(), URIStats)
	require.NoError(t, err)
	require.True(t, ok)

	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(content), &stats))
	assert.Equal(t, float64(1), stats["event_count"])
	assert.Equal(t, float64(1), stats["turn_count"])
	assert.Equal(t, "mcp-123-abcd1234", stats["session_id"])

	content, ok, err = m.ReadResource(context.Background(), URIRecent)
	require.NoError(t, err)
	require.True(t, ok)
	var events []map[string]any
	require.NoError(t, json.Unmarshal([]byte(content), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "ping", events[0]["method"])

	_, ok, err = m.ReadResource(context.Background(), "cogwire://unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}
