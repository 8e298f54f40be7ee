// Package postgres is the shared EventStore backend. Vector search uses
// the pgvector extension when present and degrades to a recency scan
// when it is not.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/cogwire/internal/capture"
	"github.com/scrypster/cogwire/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS capture_events (
    event_id        TEXT PRIMARY KEY,
    session_id      TEXT,
    timestamp_ns    BIGINT NOT NULL,
    direction       TEXT NOT NULL,
    stage           TEXT NOT NULL,
    method          TEXT,
    request_id      TEXT,
    parent_event_id TEXT,
    turn            INTEGER DEFAULT 0,
    raw_bytes       BYTEA,
    content_length  INTEGER DEFAULT 0,
    error           TEXT,

    data_content    TEXT,
    data_tokens_est INTEGER,

    light_intent    TEXT,
    light_topic     TEXT,
    light_concepts  JSONB DEFAULT '[]',
    light_summary   TEXT,

    instinct_coherence  DOUBLE PRECISION,
    instinct_indicators JSONB DEFAULT '[]',
    instinct_gut_signal TEXT,

    coherence_sig   TEXT,
    platform        TEXT DEFAULT 'claude-desktop',

    created_at      TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp ON capture_events(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_events_session   ON capture_events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_coherence ON capture_events(coherence_sig);
CREATE INDEX IF NOT EXISTS idx_events_gut       ON capture_events(instinct_gut_signal);

CREATE TABLE IF NOT EXISTS capture_sessions (
    session_id   TEXT PRIMARY KEY,
    started_ns   BIGINT NOT NULL,
    ended_ns     BIGINT,
    platform     TEXT,
    event_count  INTEGER DEFAULT 0,
    turn_count   INTEGER DEFAULT 0,
    created_at   TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS event_embeddings (
    event_id   TEXT PRIMARY KEY,
    dimension  INTEGER NOT NULL,
    model      TEXT NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
`

const migrationVector = `
ALTER TABLE event_embeddings ADD COLUMN IF NOT EXISTS embedding vector(384);
CREATE INDEX IF NOT EXISTS idx_event_embeddings_cosine
    ON event_embeddings USING ivfflat (embedding vector_cosine_ops);
`

// Store implements storage.EventStore on PostgreSQL.
type Store struct {
	db              *sql.DB
	sessionID       string
	platform        string
	vectorAvailable bool
}

// Open connects with the given DSN, applies the schema, and starts a new
// capture session. Missing pgvector downgrades search instead of failing.
func Open(ctx context.Context, dsn, platform string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}

	s := &Store{
		db:        db,
		sessionID: fmt.Sprintf("mcp-%d-%s", time.Now().Unix(), uuid.NewString()[:8]),
		platform:  platform,
	}

	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("postgres: pgvector extension not available (vector search disabled): %v", err)
	} else if _, err := db.ExecContext(ctx, migrationVector); err != nil {
		log.Printf("postgres: pgvector migration failed (vector search disabled): %v", err)
	} else {
		s.vectorAvailable = true
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO capture_sessions (session_id, started_ns, platform) VALUES ($1, $2, $3)",
		s.sessionID, time.Now().UnixNano(), platform)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: open session: %w", err)
	}
	return s, nil
}

// SessionID identifies the session opened by this store.
func (s *Store) SessionID() string { return s.sessionID }

// StoreEvent persists one captured event under the current session.
func (s *Store) StoreEvent(ctx context.Context, ev *capture.Event) error {
	if ev == nil || ev.EventID == "" {
		return fmt.Errorf("%w: event with id required", storage.ErrInvalidInput)
	}

	data := ev.DataLayer
	light := ev.LightLayer
	instinct := ev.InstinctLayer

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capture_events (
			event_id, session_id, timestamp_ns, direction, stage,
			method, request_id, parent_event_id, turn,
			raw_bytes, content_length, error,
			data_content, data_tokens_est,
			light_intent, light_topic, light_concepts, light_summary,
			instinct_coherence, instinct_indicators, instinct_gut_signal,
			coherence_sig, platform
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		ev.EventID, s.sessionID, ev.TimestampNS, string(ev.Direction), string(ev.Stage),
		nullString(ev.Method), nullString(ev.RequestID), nullString(ev.ParentEventID), ev.Turn,
		ev.RawBytes, ev.ContentLength, nullString(ev.Error),
		layerString(data, "content"), layerInt(data, "tokens_est"),
		layerString(light, "intent"), layerString(light, "topic"),
		jsonList(light, "concepts"), layerString(light, "summary"),
		layerFloat(instinct, "coherence_potential"),
		jsonList(instinct, "emergence_indicators"), layerString(instinct, "gut_signal"),
		nullString(ev.CoherenceSignature), s.platform)
	if err != nil {
		return fmt.Errorf("postgres: store event %s: %w", ev.EventID, err)
	}
	return nil
}

// SessionStats aggregates the current session.
func (s *Store) SessionStats(ctx context.Context) (*storage.SessionStats, error) {
	stats := &storage.SessionStats{
		SessionID:  s.sessionID,
		Topics:     map[string]int{},
		GutSignals: map[string]int{},
	}

	var maxTurn sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MAX(turn) FROM capture_events WHERE session_id = $1",
		s.sessionID).Scan(&stats.EventCount, &maxTurn)
	if err != nil {
		return nil, fmt.Errorf("postgres: session stats: %w", err)
	}
	stats.TurnCount = int(maxTurn.Int64)

	if err := s.countGroup(ctx, stats.Topics, `
		SELECT light_topic, COUNT(*) FROM capture_events
		WHERE session_id = $1 AND light_topic IS NOT NULL
		GROUP BY light_topic ORDER BY COUNT(*) DESC LIMIT 10`, s.sessionID); err != nil {
		return nil, err
	}
	if err := s.countGroup(ctx, stats.GutSignals, `
		SELECT instinct_gut_signal, COUNT(*) FROM capture_events
		WHERE session_id = $1 AND instinct_gut_signal IS NOT NULL
		GROUP BY instinct_gut_signal ORDER BY COUNT(*) DESC`, s.sessionID); err != nil {
		return nil, err
	}
	return stats, nil
}

// TotalStats aggregates across all sessions.
func (s *Store) TotalStats(ctx context.Context) (*storage.TotalStats, error) {
	stats := &storage.TotalStats{
		GutSignals:     map[string]int{},
		CurrentSession: s.sessionID,
	}

	var totalBytes sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM capture_events),
			(SELECT COUNT(*) FROM capture_sessions),
			(SELECT SUM(content_length) FROM capture_events)`).
		Scan(&stats.TotalEvents, &stats.TotalSessions, &totalBytes)
	if err != nil {
		return nil, fmt.Errorf("postgres: total stats: %w", err)
	}
	stats.TotalBytes = totalBytes.Int64

	if err := s.countGroup(ctx, stats.GutSignals, `
		SELECT instinct_gut_signal, COUNT(*) FROM capture_events
		WHERE instinct_gut_signal IS NOT NULL
		GROUP BY instinct_gut_signal`); err != nil {
		return nil, err
	}
	return stats, nil
}

// Timeline returns events newest-first, optionally filtered.
func (s *Store) Timeline(ctx context.Context, f storage.TimelineFilter) ([]storage.StoredEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := selectEventColumns + " FROM capture_events WHERE TRUE"
	args := []any{}
	if f.Platform != "" {
		args = append(args, f.Platform)
		query += fmt.Sprintf(" AND platform = $%d", len(args))
	}
	if f.SinceNS > 0 {
		args = append(args, f.SinceNS)
		query += fmt.Sprintf(" AND timestamp_ns > $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp_ns DESC LIMIT $%d", len(args))

	return s.queryEvents(ctx, query, args...)
}

// Recent returns the newest limit events.
func (s *Store) Recent(ctx context.Context, limit int) ([]storage.StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryEvents(ctx,
		selectEventColumns+" FROM capture_events ORDER BY timestamp_ns DESC LIMIT $1", limit)
}

// HighCoherence returns events at or above min, highest first.
func (s *Store) HighCoherence(ctx context.Context, min float64, limit int) ([]storage.StoredEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryEvents(ctx, selectEventColumns+`
		FROM capture_events
		WHERE instinct_coherence >= $1
		ORDER BY instinct_coherence DESC LIMIT $2`, min, limit)
}

// StoreEmbedding attaches a vector to a stored event. A no-op when the
// pgvector extension is missing.
func (s *Store) StoreEmbedding(ctx context.Context, eventID string, vec []float32, model string) error {
	if eventID == "" || len(vec) == 0 {
		return fmt.Errorf("%w: event id and non-empty vector required", storage.ErrInvalidInput)
	}
	if !s.vectorAvailable {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_embeddings (event_id, embedding, dimension, model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			dimension = EXCLUDED.dimension,
			model     = EXCLUDED.model`,
		eventID, pgvector.NewVector(vec), len(vec), model)
	if err != nil {
		return fmt.Errorf("postgres: store embedding: %w", err)
	}
	return nil
}

// SearchSimilar ranks events by cosine similarity in the database using
// the <=> operator. Without pgvector it returns recent events with zero
// similarity so callers still get something useful.
func (s *Store) SearchSimilar(ctx context.Context, query []float32, limit int, minSim float64) ([]storage.SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}

	if !s.vectorAvailable {
		events, err := s.Recent(ctx, limit)
		if err != nil {
			return nil, err
		}
		hits := make([]storage.SearchHit, len(events))
		for i, ev := range events {
			hits[i] = storage.SearchHit{Event: ev}
		}
		return hits, nil
	}

	rows, err := s.db.QueryContext(ctx, selectEventColumns+`,
			1 - (emb.embedding <=> $1::vector) AS similarity
		FROM capture_events
		JOIN event_embeddings emb ON emb.event_id = capture_events.event_id
		WHERE emb.embedding IS NOT NULL
		ORDER BY emb.embedding <=> $1::vector
		LIMIT $2`, pgvector.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}
	defer rows.Close()

	var hits []storage.SearchHit
	for rows.Next() {
		var hit storage.SearchHit
		dest := append(eventScanDest(&hit.Event), &hit.Similarity)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("postgres: scan search row: %w", err)
		}
		if hit.Similarity >= minSim {
			hits = append(hits, hit)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: search rows: %w", err)
	}
	return hits, nil
}

// Close finalizes the session row and closes the pool.
func (s *Store) Close(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE capture_sessions SET
			ended_ns = $1,
			event_count = (SELECT COUNT(*) FROM capture_events WHERE session_id = $2),
			turn_count  = (SELECT COALESCE(MAX(turn), 0) FROM capture_events WHERE session_id = $2)
		WHERE session_id = $2`,
		time.Now().UnixNano(), s.sessionID)
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("postgres: close: %w", err)
	}
	return nil
}

const selectEventColumns = `SELECT capture_events.event_id, session_id, timestamp_ns, direction,
	COALESCE(method, ''), COALESCE(platform, ''),
	COALESCE(data_content, ''), COALESCE(light_topic, ''), COALESCE(light_intent, ''),
	COALESCE(light_summary, ''), COALESCE(light_concepts, '[]'::jsonb)::text,
	COALESCE(instinct_coherence, 0), COALESCE(instinct_indicators, '[]'::jsonb)::text,
	COALESCE(instinct_gut_signal, '')`

func eventScanDest(ev *storage.StoredEvent) []any {
	return []any{
		&ev.EventID, &ev.SessionID, &ev.TimestampNS, &ev.Direction,
		&ev.Method, &ev.Platform,
		&ev.Content, &ev.Topic, &ev.Intent,
		&ev.Summary, jsonListScanner{&ev.Concepts},
		&ev.Coherence, jsonListScanner{&ev.Indicators},
		&ev.GutSignal,
	}
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]storage.StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query events: %w", err)
	}
	defer rows.Close()

	var out []storage.StoredEvent
	for rows.Next() {
		var ev storage.StoredEvent
		if err := rows.Scan(eventScanDest(&ev)...); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: event rows: %w", err)
	}
	return out, nil
}

func (s *Store) countGroup(ctx context.Context, into map[string]int, query string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: group count: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("postgres: scan group count: %w", err)
		}
		into[key] = n
	}
	return rows.Err()
}

type jsonListScanner struct{ dst *[]string }

func (j jsonListScanner) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		*j.dst = nil
		return nil
	}
	if err := json.Unmarshal(raw, j.dst); err != nil {
		*j.dst = nil
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func layerString(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return nil
}

func layerInt(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return nil
}

func layerFloat(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	if f, ok := m[key].(float64); ok {
		return f
	}
	return nil
}

func jsonList(m map[string]any, key string) any {
	if m == nil {
		return "[]"
	}
	raw, err := json.Marshal(m[key])
	if err != nil || string(raw) == "null" {
		return "[]"
	}
	return string(raw)
}

var _ storage.EventStore = (*Store)(nil)
