package storage

import (
	"context"
	"log"
	"os"

	"github.com/scrypster/cogwire/internal/capture"
	"github.com/scrypster/cogwire/internal/embeddings"
)

// Recorder couples an EventStore with the embedding pipeline. It is what
// gets attached to the capture engine as the sink: every stored event is
// also embedded, so semantic search works without a separate batch pass.
// Embedding failures never fail the event write.
type Recorder struct {
	store    EventStore
	pipeline *embeddings.Pipeline
	log      *log.Logger
}

// NewRecorder wraps store; pipeline may be nil to skip embeddings.
func NewRecorder(store EventStore, pipeline *embeddings.Pipeline) *Recorder {
	return &Recorder{
		store:    store,
		pipeline: pipeline,
		log:      log.New(os.Stderr, "cogwire-store: ", log.LstdFlags),
	}
}

// StoreEvent persists the event and, best-effort, its embedding.
func (r *Recorder) StoreEvent(ctx context.Context, ev *capture.Event) error {
	if err := r.store.StoreEvent(ctx, ev); err != nil {
		return err
	}

	if r.pipeline == nil {
		return nil
	}
	text := embeddings.BuildEmbedText(ev)
	vec, model, err := r.pipeline.EmbedText(ctx, text)
	if err != nil || vec == nil {
		return nil
	}
	if err := r.store.StoreEmbedding(ctx, ev.EventID, vec, model); err != nil {
		r.log.Printf("store embedding for %s: %v", ev.EventID, err)
	}
	return nil
}

// Store exposes the underlying query interface for the tools layer.
func (r *Recorder) Store() EventStore { return r.store }

// Close finalizes the session and releases the store.
func (r *Recorder) Close(ctx context.Context) error {
	return r.store.Close(ctx)
}

var _ capture.EventSink = (*Recorder)(nil)
