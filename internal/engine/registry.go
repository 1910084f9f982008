package engine

import (
	"fmt"

	"github.com/plexus-mesh/plexus/config"
	"github.com/plexus-mesh/plexus/internal/registry"
)

// Kind names an inference engine a node can dynamically select by its
// configured model family, rather than a NodeService needing to know at
// compile time which concrete engine type a command targets.
type Kind string

const (
	KindTextGeneration Kind = "textgen"
	KindEmbedding      Kind = "embed"
	KindTranscription  Kind = "transcribe"
)

// Set bundles one of each engine kind a NodeService needs, plus the shared
// document store.
type Set struct {
	TextGen     *TextEngine
	Embed       *EmbedEngine
	Transcribe  *TranscribeEngine
	VectorStore VectorStore
}

// NewSet constructs unloaded engines for every kind, sharing one registry
// client, so a NodeService can hold a single Set and dispatch by Kind.
func NewSet(cfg config.EngineConfig, reg registry.Client) *Set {
	return &Set{
		TextGen:     NewTextEngine(cfg, reg),
		Embed:       NewEmbedEngine(cfg, reg),
		Transcribe:  NewTranscribeEngine(cfg, reg),
		VectorStore: NewMemoryVectorStore(),
	}
}

// ByKind returns the engine matching kind, for callers that dispatch
// dynamically on a string engine name (e.g. from an external command).
func (s *Set) ByKind(kind Kind) (interface{}, error) {
	switch kind {
	case KindTextGeneration:
		return s.TextGen, nil
	case KindEmbedding:
		return s.Embed, nil
	case KindTranscription:
		return s.Transcribe, nil
	default:
		return nil, fmt.Errorf("engine: unknown engine kind %q", kind)
	}
}
