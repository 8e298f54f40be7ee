// Package storage defines the persistence contract for captured events.
// Two backends implement it: sqlite (embedded, default) and postgres
// (shared, with native vector search).
package storage

import (
	"context"
	"errors"

	"github.com/scrypster/cogwire/internal/capture"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// StoredEvent is the row shape the query side works with. It flattens the
// enrichment layers into scalar columns; the raw frame stays in the store
// and is not carried here.
type StoredEvent struct {
	EventID     string
	SessionID   string
	TimestampNS int64
	Direction   string
	Method      string
	Platform    string

	Content   string
	Topic     string
	Intent    string
	Summary   string
	Concepts  []string
	Coherence float64
	// Indicators are the emergence markers the enrichment hook attached.
	Indicators []string
	GutSignal  string
}

// SessionStats summarizes the current capture session.
type SessionStats struct {
	SessionID  string
	EventCount int
	TurnCount  int
	Topics     map[string]int
	GutSignals map[string]int
}

// TotalStats aggregates across all sessions in the store.
type TotalStats struct {
	TotalEvents    int
	TotalSessions  int
	TotalBytes     int64
	GutSignals     map[string]int
	CurrentSession string
}

// TimelineFilter narrows a timeline query. Zero values mean no filter;
// Limit falls back to 50.
type TimelineFilter struct {
	Platform string
	SinceNS  int64
	Limit    int
}

// SearchHit is one semantic search result.
type SearchHit struct {
	Event      StoredEvent
	Similarity float64
}

// EventStore is the full persistence interface. StoreEvent must be safe
// to call from the capture drain goroutine while queries run elsewhere.
type EventStore interface {
	// StoreEvent persists one captured event under the current session.
	StoreEvent(ctx context.Context, ev *capture.Event) error

	// SessionID identifies the session opened by this store instance.
	SessionID() string

	SessionStats(ctx context.Context) (*SessionStats, error)
	TotalStats(ctx context.Context) (*TotalStats, error)

	// Timeline returns events newest-first, filtered and limited.
	Timeline(ctx context.Context, f TimelineFilter) ([]StoredEvent, error)
	// Recent returns the newest limit events with full layer fields.
	Recent(ctx context.Context, limit int) ([]StoredEvent, error)
	// HighCoherence returns events at or above min, highest first.
	HighCoherence(ctx context.Context, min float64, limit int) ([]StoredEvent, error)

	// StoreEmbedding attaches a vector to an already-stored event.
	StoreEmbedding(ctx context.Context, eventID string, vec []float32, model string) error
	// SearchSimilar ranks events by similarity to the query vector,
	// dropping hits below minSim.
	SearchSimilar(ctx context.Context, query []float32, limit int, minSim float64) ([]SearchHit, error)

	// Close finalizes the session record and releases the store.
	Close(ctx context.Context) error
}
