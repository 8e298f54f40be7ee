package embeddings

import (
	"context"
	"log"
	"os"

	"golang.org/x/time/rate"
)

// Pipeline embeds enriched events, preferring the configured generator
// and degrading to the hashed fallback when it fails. A token-bucket rate
// limit keeps a chatty session from saturating the local model; calls
// over budget go straight to the fallback instead of waiting, so the
// caller never blocks on embedding.
type Pipeline struct {
	gen     Generator
	model   string
	dims    int
	limiter *rate.Limiter
	log     *log.Logger
}

// PipelineConfig configures an embedding pipeline.
type PipelineConfig struct {
	// Generator is the primary embedder; nil means fallback-only.
	Generator Generator
	// Model labels stored vectors ("hashed-v1" for fallback output).
	Model string
	// Dimensions for fallback vectors; DefaultDimensions when zero.
	Dimensions int
	// RatePerSec caps generator calls; over-budget calls take the hashed
	// fallback instead of waiting. Zero disables limiting.
	RatePerSec float64
}

// FallbackModel is the model label attached to hashed fallback vectors.
const FallbackModel = "hashed-v1"

// NewPipeline creates an embedding pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &Pipeline{
		gen:     cfg.Generator,
		model:   cfg.Model,
		dims:    dims,
		limiter: limiter,
		log:     log.New(os.Stderr, "cogwire-embed: ", log.LstdFlags),
	}
}

// EmbedText produces a vector for text along with the model that produced
// it. Texts below the minimum length are skipped (nil vector, nil error).
func (p *Pipeline) EmbedText(ctx context.Context, text string) ([]float32, string, error) {
	if len(text) < minEmbedText {
		return nil, "", nil
	}

	if p.gen != nil && (p.limiter == nil || p.limiter.Allow()) {
		vec, err := p.gen.Embed(ctx, text)
		if err == nil {
			return vec, p.model, nil
		}
		p.log.Printf("generator failed, using hashed fallback: %v", err)
	}

	return HashedVector(text, p.dims), FallbackModel, nil
}

// Dimensions returns the fallback vector width.
func (p *Pipeline) Dimensions() int { return p.dims }
