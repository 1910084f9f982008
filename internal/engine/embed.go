package engine

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/plexus-mesh/plexus/config"
	elog "github.com/plexus-mesh/plexus/internal/log"
	"github.com/plexus-mesh/plexus/internal/registry"
)

// embeddingDim is the fixed output dimensionality of EmbedEngine vectors.
const embeddingDim = 384

// EmbedEngine is the embeddings engine described in §4.4.2: tokenize, run a
// forward pass over the whole sequence, mean-pool across positions, and
// L2-normalize the result.
type EmbedEngine struct {
	cfg      config.EngineConfig
	registry registry.Client

	loadGroup singleflight.Group
	loaded    atomic.Bool
	tokenizer *Tokenizer
}

// NewEmbedEngine constructs an unloaded EmbedEngine.
func NewEmbedEngine(cfg config.EngineConfig, reg registry.Client) *EmbedEngine {
	return &EmbedEngine{cfg: cfg, registry: reg}
}

// ModelLoaded reports whether the engine has completed its load procedure.
func (e *EmbedEngine) ModelLoaded() bool {
	return e.loaded.Load()
}

func (e *EmbedEngine) ensureLoaded(ctx context.Context) error {
	if e.loaded.Load() {
		return nil
	}
	_, err, _ := e.loadGroup.Do("load", func() (interface{}, error) {
		if e.loaded.Load() {
			return nil, nil
		}
		if err := e.load(ctx); err != nil {
			return nil, err
		}
		e.loaded.Store(true)
		return nil, nil
	})
	return err
}

// load resolves the embedding weights and tokenizer. Embedding weights carry
// no integrity pin: the pinned digest applies to the generation model only.
func (e *EmbedEngine) load(ctx context.Context) error {
	if _, err := e.registry.Fetch(ctx, e.cfg.Model, "main", "weights.bin"); err != nil {
		return fmt.Errorf("engine: download embedding weights: %w", err)
	}

	e.tokenizer = NewTokenizer()
	elog.EngineEmbed.Info().Str("model", e.cfg.Model).Msg("embedding engine loaded")
	return nil
}

// Embed tokenizes text, forwards every position, mean-pools the resulting
// per-position vectors, and returns an L2-normalized embeddingDim vector.
// An empty (whitespace-only) input still yields a valid unit vector, since
// Encode always contributes a BOS token.
func (e *EmbedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	ids := e.tokenizer.Encode(text)

	sum := make([]float64, embeddingDim)
	for pos := range ids {
		vec := embedPosition(ids, pos)
		for i, v := range vec {
			sum[i] += float64(v)
		}
	}

	n := float64(len(ids))
	out := make([]float32, embeddingDim)
	for i := range out {
		out[i] = float32(sum[i] / n)
	}
	return l2Normalize(out), nil
}

// embedPosition derives a deterministic embeddingDim-length vector for
// token ids[pos] in context, reusing the same hash primitive the text
// generation model samples with so both engines share one notion of
// "forward pass" over this toy vocabulary.
func embedPosition(ids []int32, pos int) []float32 {
	vec := make([]float32, embeddingDim)
	for d := 0; d < embeddingDim; d++ {
		h := hashTokens(modelSeed^int64(d), ids[:pos+1], pos)
		// Map the hash onto [-1, 1).
		vec[d] = float32(h%2000)/1000.0 - 1.0
	}
	return vec
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
