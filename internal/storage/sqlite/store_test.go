package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/cogwire/internal/capture"
	"github.com/scrypster/cogwire/internal/embeddings"
	"github.com/scrypster/cogwire/internal/storage"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.db")
	s, err := Open(context.Background(), path, "claude-desktop")
	require.NoError(t, err)
	return s, path
}

func testEvent(id string, ts int64, topic, gut string, coherence float64) *capture.Event {
	return &capture.Event{
		EventID:       id,
		TimestampNS:   ts,
		Direction:     capture.DirectionIn,
		Stage:         capture.StageReceived,
		Method:        "tools/call",
		RequestID:     "1",
		Turn:          1,
		RawBytes:      []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call"}`),
		ContentLength: 46,
		DataLayer: map[string]any{
			"content":    "Tool call: capture_stats | args=map[]",
			"tokens_est": 9,
		},
		LightLayer: map[string]any{
			"intent":   "execute",
			"topic":    topic,
			"concepts": []string{"capture", "session"},
			"summary":  "Tool call: capture_stats",
		},
		InstinctLayer: map[string]any{
			"coherence_potential":  coherence,
			"emergence_indicators": []string{"concept_cluster"},
			"gut_signal":           gut,
		},
		CoherenceSignature: "sig-" + id,
	}
}

func TestOpenStartsSession(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close(context.Background())

	assert.Regexp(t, `^mcp-\d+-[0-9a-f]{8}$`, s.SessionID())
}

func TestStoreEventAndSessionStats(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close(context.Background())
	ctx := context.Background()

	require.NoError(t, s.StoreEvent(ctx, testEvent("ev1", 100, "database", "routine", 0.3)))
	require.NoError(t, s.StoreEvent(ctx, testEvent("ev2", 200, "database", "interesting", 0.6)))
	ev3 := testEvent("ev3", 300, "cognition", "breakthrough_potential", 0.9)
	ev3.Turn = 4
	require.NoError(t, s.StoreEvent(ctx, ev3))

	stats, err := s.SessionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.SessionID(), stats.SessionID)
	assert.Equal(t, 3, stats.EventCount)
	assert.Equal(t, 4, stats.TurnCount)
	assert.Equal(t, map[string]int{"database": 2, "cognition": 1}, stats.Topics)
	assert.Equal(t, 1, stats.GutSignals["breakthrough_potential"])
}

func TestStoreEventValidation(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close(context.Background())

	err := s.StoreEvent(context.Background(), nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = s.StoreEvent(context.Background(), &capture.Event{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestStoreEventWithoutEnrichment(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close(context.Background())
	ctx := context.Background()

	// Bare event, no layers attached: columns stay null.
	require.NoError(t, s.StoreEvent(ctx, &capture.Event{
		EventID:     "bare",
		TimestampNS: 1,
		Direction:   capture.DirectionOut,
		Stage:       capture.StageSent,
	}))

	events, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "bare", events[0].EventID)
	assert.Empty(t, events[0].Topic)
	assert.Zero(t, events[0].Coherence)
}

func TestTotalStats(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close(context.Background())
	ctx := context.Background()

	require.NoError(t, s.StoreEvent(ctx, testEvent("ev1", 100, "database", "routine", 0.3)))
	require.NoError(t, s.StoreEvent(ctx, testEvent("ev2", 200, "coding", "routine", 0.2)))

	stats, err := s.TotalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEvents)
	assert.Equal(t, 1, stats.TotalSessions)
	assert.Equal(t, int64(92), stats.TotalBytes)
	assert.Equal(t, 2, stats.GutSignals["routine"])
	assert.Equal(t, s.SessionID(), stats.CurrentSession)
}

func TestTimelineOrderAndFilters(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close(context.Background())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		ev := testEvent(fmt.Sprintf("ev%d", i), int64(i*100), "database", "routine", 0.3)
		require.NoError(t, s.StoreEvent(ctx, ev))
	}

	// Newest first.
	events, err := s.Timeline(ctx, storage.TimelineFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "ev5", events[0].EventID)
	assert.Equal(t, "ev3", events[2].EventID)

	// Since filter is exclusive.
	events, err = s.Timeline(ctx, storage.TimelineFilter{SinceNS: 300})
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Platform filter: rows are stamped with the store's platform.
	events, err = s.Timeline(ctx, storage.TimelineFilter{Platform: "claude-desktop"})
	require.NoError(t, err)
	assert.Len(t, events, 5)
	events, err = s.Timeline(ctx, storage.TimelineFilter{Platform: "claude-code"})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestHighCoherence(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close(context.Background())
	ctx := context.Background()

	require.NoError(t, s.StoreEvent(ctx, testEvent("low", 100, "general", "routine", 0.2)))
	require.NoError(t, s.StoreEvent(ctx, testEvent("mid", 200, "database", "interesting", 0.6)))
	require.NoError(t, s.StoreEvent(ctx, testEvent("high", 300, "cognition", "breakthrough_potential", 0.95)))

	events, err := s.HighCoherence(ctx, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "high", events[0].EventID)
	assert.Equal(t, 0.95, events[0].Coherence)
	assert.Equal(t, []string{"concept_cluster"}, events[0].Indicators)
	assert.Equal(t, "mid", events[1].EventID)
}

func TestEmbeddingRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close(context.Background())
	ctx := context.Background()

	require.NoError(t, s.StoreEvent(ctx, testEvent("ev1", 100, "database", "routine", 0.3)))
	require.NoError(t, s.StoreEvent(ctx, testEvent("ev2", 200, "cognition", "interesting", 0.7)))

	vec1 := embeddings.HashedVector("database schema migration", 64)
	vec2 := embeddings.HashedVector("coherence and cognition", 64)
	require.NoError(t, s.StoreEmbedding(ctx, "ev1", vec1, "hashed-v1"))
	require.NoError(t, s.StoreEmbedding(ctx, "ev2", vec2, "hashed-v1"))

	// Searching with ev1's own vector ranks ev1 first at similarity 1.
	hits, err := s.SearchSimilar(ctx, vec1, 10, 0.0)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "ev1", hits[0].Event.EventID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)

	// minSim filters out dissimilar events.
	hits, err = s.SearchSimilar(ctx, vec1, 10, 0.9)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ev1", hits[0].Event.EventID)
}

func TestStoreEmbeddingUpsert(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close(context.Background())
	ctx := context.Background()

	require.NoError(t, s.StoreEvent(ctx, testEvent("ev1", 100, "database", "routine", 0.3)))
	old := embeddings.HashedVector("old text", 32)
	require.NoError(t, s.StoreEmbedding(ctx, "ev1", old, "hashed-v1"))

	replacement := embeddings.HashedVector("replacement text", 32)
	require.NoError(t, s.StoreEmbedding(ctx, "ev1", replacement, "hashed-v1"))

	hits, err := s.SearchSimilar(ctx, replacement, 10, 0.99)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ev1", hits[0].Event.EventID)
}

func TestStoreEmbeddingValidation(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close(context.Background())

	err := s.StoreEmbedding(context.Background(), "", []float32{1}, "m")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	err = s.StoreEmbedding(context.Background(), "ev", nil, "m")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestCloseFinalizesSession(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()

	ev := testEvent("ev1", 100, "database", "routine", 0.3)
	ev.Turn = 2
	require.NoError(t, s.StoreEvent(ctx, ev))
	sessionID := s.SessionID()
	require.NoError(t, s.Close(ctx))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var endedNS sql.NullInt64
	var eventCount, turnCount int
	err = db.QueryRowContext(ctx,
		"SELECT ended_ns, event_count, turn_count FROM capture_sessions WHERE session_id = ?",
		sessionID).Scan(&endedNS, &eventCount, &turnCount)
	require.NoError(t, err)
	assert.True(t, endedNS.Valid)
	assert.Equal(t, 1, eventCount)
	assert.Equal(t, 2, turnCount)
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0.25, -1.5, 3.75, 0}
	blob := encodeVector(in)
	assert.Len(t, blob, len(in)*4)

	out, err := decodeVector(blob, len(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeVector(blob, 3)
	assert.Error(t, err, "dimension mismatch")
}
