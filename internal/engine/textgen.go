// Package engine implements the inference engines a NodeService treats as
// black-box request sinks: text generation, embeddings, transcription, and
// the vector store. Engines are lazily initialized, safe for concurrent
// reuse, and serialize internal model access behind an inference permit.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/plexus-mesh/plexus/config"
	elog "github.com/plexus-mesh/plexus/internal/log"
	"github.com/plexus-mesh/plexus/internal/registry"
)

// maxBlockingTokens and maxStreamingTokens cap the decode loop per the
// component design: blocking calls get a tighter budget than streaming ones.
const (
	maxBlockingTokens  = 100
	maxStreamingTokens = 200
)

// controlTokens are stripped from the final decoded text of a generation.
var controlTokens = []string{"</s>", "<|assistant|>"}

func stripControlTokens(s string) string {
	for _, tok := range controlTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	return s
}

// TextEngine is the chat/text-generation engine described in §4.4.1.
type TextEngine struct {
	cfg      config.EngineConfig
	registry registry.Client

	loadGroup singleflight.Group
	loaded    atomic.Bool
	tokenizer *Tokenizer

	permit sync.Mutex // inference permit: exclusive access to model state per request
}

// NewTextEngine constructs an unloaded TextEngine. Load happens lazily on
// first Generate/GenerateStream call.
func NewTextEngine(cfg config.EngineConfig, reg registry.Client) *TextEngine {
	return &TextEngine{cfg: cfg, registry: reg}
}

// ModelLoaded reports whether the engine has completed its load procedure.
func (e *TextEngine) ModelLoaded() bool {
	return e.loaded.Load()
}

// ensureLoaded runs the load procedure at most once, coalescing concurrent
// first-callers onto a single execution via singleflight.
func (e *TextEngine) ensureLoaded(ctx context.Context) error {
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

func (e *TextEngine) load(ctx context.Context) error {
	repoID := e.cfg.Model
	weightsPath, err := e.registry.Fetch(ctx, repoID, "main", "weights.bin")
	if err != nil {
		return fmt.Errorf("engine: download weights: %w", err)
	}

	if err := verifyWeights(weightsPath, e.cfg, elog.EngineTextGen); err != nil {
		return err
	}

	// Parsing the weights container and instantiating model state on the
	// configured device is a no-op for this reference engine (see
	// device-selection note in the design ledger); the meaningful artifact
	// it produces is the tokenizer the rest of the engine operates on.
	e.tokenizer = NewTokenizer()

	elog.EngineTextGen.Info().
		Str("model", e.cfg.Model).
		Str("device", e.cfg.Device).
		Msg("text generation engine loaded")
	return nil
}

// Generate runs the full prefill + decode loop and returns the completed
// text, blocking until generation finishes (capped at maxBlockingTokens).
func (e *TextEngine) Generate(ctx context.Context, prompt string) (string, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return "", err
	}

	e.permit.Lock()
	defer e.permit.Unlock()

	promptIDs := e.tokenizer.Encode(prompt)
	ids, err := e.decodeLoop(ctx, promptIDs, maxBlockingTokens)
	if err != nil {
		return "", err
	}
	return stripControlTokens(e.tokenizer.Decode(ids[len(promptIDs):])), nil
}

// GenerateStream runs the decode loop (capped at maxStreamingTokens),
// writing incremental text deltas to sink as each token is produced. It
// yields to ctx cancellation (including a closed/unread sink) after every
// token emission, so a slow consumer naturally applies backpressure.
func (e *TextEngine) GenerateStream(ctx context.Context, prompt string, sink chan<- string) error {
	if err := e.ensureLoaded(ctx); err != nil {
		return err
	}

	e.permit.Lock()
	defer e.permit.Unlock()

	tos := NewTokenOutputStream(e.tokenizer)
	ids := e.tokenizer.Encode(prompt)

	// Prefill is the loop's first step: it forwards the whole prompt at
	// position len(ids)-1. No forward pass runs before the loop.
	firstPos := len(ids) - 1

	for i := 0; i < maxStreamingTokens; i++ {
		pos := firstPos + i
		next, err := sampleNext(ids, pos)
		if err != nil {
			return err
		}
		if next == e.tokenizer.EOSID() {
			break
		}
		ids = append(ids, next)

		if delta := tos.PushToken(next); delta != "" {
			if err := sendDelta(ctx, sink, stripControlTokens(delta)); err != nil {
				return err
			}
		}
	}

	if rest := tos.DecodeRest(); rest != "" {
		return sendDelta(ctx, sink, stripControlTokens(rest))
	}
	return nil
}

func sendDelta(ctx context.Context, sink chan<- string, delta string) error {
	if delta == "" {
		return nil
	}
	select {
	case sink <- delta:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decodeLoop runs at most maxTokens steps, the first of which is the
// prefill, returning the full token id sequence (prompt included); callers slice off
// the prompt prefix before decoding to text.
func (e *TextEngine) decodeLoop(ctx context.Context, promptIDs []int32, maxTokens int) ([]int32, error) {
	ids := append([]int32(nil), promptIDs...)
	firstPos := len(ids) - 1

	for i := 0; i < maxTokens; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pos := firstPos + i
		next, err := sampleNext(ids, pos)
		if err != nil {
			return nil, err
		}
		if next == e.tokenizer.EOSID() {
			break
		}
		ids = append(ids, next)
	}
	return ids, nil
}
