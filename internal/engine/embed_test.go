package engine

import (
	"context"
	"math"
	"testing"

	"github.com/plexus-mesh/plexus/config"
)

func TestEmbedEngine_ProducesUnitVector(t *testing.T) {
	dir := t.TempDir()
	reg := staticRegistry([]byte("embed-weights"), dir)
	cfg := testEngineConfig(config.IntegrityDisabled, "")
	e := NewEmbedEngine(cfg, reg)

	vec, err := e.Embed(context.Background(), "hello plexus mesh")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != embeddingDim {
		t.Fatalf("expected %d dims, got %d", embeddingDim, len(vec))
	}

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1.0) > 1e-5 {
		t.Fatalf("expected unit norm within 1e-5, got %v", norm)
	}
}

func TestEmbedEngine_IsDeterministic(t *testing.T) {
	dir := t.TempDir()
	reg := staticRegistry([]byte("embed-weights"), dir)
	cfg := testEngineConfig(config.IntegrityDisabled, "")

	e1 := NewEmbedEngine(cfg, reg)
	e2 := NewEmbedEngine(cfg, reg)

	v1, err := e1.Embed(context.Background(), "determinism check")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	v2, err := e2.Embed(context.Background(), "determinism check")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("embedding not deterministic at index %d: %v vs %v", i, v1[i], v2[i])
		}
	}
}

func TestEmbedEngine_DistinctInputsDiffer(t *testing.T) {
	dir := t.TempDir()
	reg := staticRegistry([]byte("embed-weights"), dir)
	cfg := testEngineConfig(config.IntegrityDisabled, "")
	e := NewEmbedEngine(cfg, reg)

	v1, err := e.Embed(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	v2, err := e.Embed(context.Background(), "beta gamma")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	same := true
	for i := range v1 {
		if v1[i] != v2[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected distinct inputs to yield distinct embeddings")
	}
}

func TestEmbedEngine_EmptyInputStillUnitVector(t *testing.T) {
	dir := t.TempDir()
	reg := staticRegistry([]byte("embed-weights"), dir)
	cfg := testEngineConfig(config.IntegrityDisabled, "")
	e := NewEmbedEngine(cfg, reg)

	vec, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1.0) > 1e-5 {
		t.Fatalf("expected unit norm for empty input, got %v", norm)
	}
}
