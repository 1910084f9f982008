package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/plexus-mesh/plexus/config"
	"github.com/plexus-mesh/plexus/internal/registry"
	pcrypto "github.com/plexus-mesh/plexus/pkg/crypto"
)

func staticRegistry(content []byte, dir string) *registry.StaticClient {
	return &registry.StaticClient{CacheDir: dir, Content: content}
}

func testEngineConfig(mode config.IntegrityMode, expected string) config.EngineConfig {
	return config.EngineConfig{
		Model:            "plexus/toy-model",
		ModelRegistryURL: "unused",
		IntegrityMode:    mode,
		ExpectedSHA256:   expected,
		Device:           "cpu",
	}
}

func TestTextEngine_GenerateIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	reg := staticRegistry([]byte("weights"), dir)
	cfg := testEngineConfig(config.IntegrityDisabled, "")

	e1 := NewTextEngine(cfg, reg)
	e2 := NewTextEngine(cfg, reg)

	out1, err := e1.Generate(context.Background(), "hello mesh")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	out2, err := e2.Generate(context.Background(), "hello mesh")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out1 != out2 {
		t.Fatalf("expected deterministic output, got %q vs %q", out1, out2)
	}
	if strings.Contains(out1, "</s>") || strings.Contains(out1, "<|assistant|>") {
		t.Fatalf("control tokens leaked into output: %q", out1)
	}
}

func TestTextEngine_StreamMatchesBlockingOutput(t *testing.T) {
	dir := t.TempDir()
	reg := staticRegistry([]byte("weights"), dir)
	cfg := testEngineConfig(config.IntegrityDisabled, "")

	blocking := NewTextEngine(cfg, reg)
	blockingOut, err := blocking.Generate(context.Background(), "stream test")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	streaming := NewTextEngine(cfg, reg)
	sink := make(chan string, 256)
	done := make(chan error, 1)
	go func() {
		done <- streaming.GenerateStream(context.Background(), "stream test", sink)
		close(sink)
	}()

	var b strings.Builder
	for delta := range sink {
		b.WriteString(delta)
	}
	if err := <-done; err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	if b.String() != blockingOut {
		t.Fatalf("stream output %q does not match blocking output %q", b.String(), blockingOut)
	}
}

func TestTextEngine_IntegrityStrictRejectsMismatch(t *testing.T) {
	dir := t.TempDir()
	reg := staticRegistry([]byte("weights"), dir)
	cfg := testEngineConfig(config.IntegrityStrict, "0000000000000000000000000000000000000000000000000000000000000000")

	e := NewTextEngine(cfg, reg)
	if _, err := e.Generate(context.Background(), "hi"); err == nil {
		t.Fatal("expected integrity mismatch error")
	}
}

func TestTextEngine_IntegrityStrictAcceptsMatch(t *testing.T) {
	dir := t.TempDir()
	content := []byte("weights")
	reg := staticRegistry(content, dir)
	digest := pcrypto.HashBytes(content)
	cfg := testEngineConfig(config.IntegrityStrict, digest)

	e := NewTextEngine(cfg, reg)
	if _, err := e.Generate(context.Background(), "hi"); err != nil {
		t.Fatalf("expected successful load, got %v", err)
	}
}

func TestTextEngine_IntegrityWarnOnlyContinuesOnMismatch(t *testing.T) {
	dir := t.TempDir()
	reg := staticRegistry([]byte("weights"), dir)
	cfg := testEngineConfig(config.IntegrityWarnOnly, "deadbeef")

	e := NewTextEngine(cfg, reg)
	if _, err := e.Generate(context.Background(), "hi"); err != nil {
		t.Fatalf("expected warn-only to continue, got %v", err)
	}
}

func TestTextEngine_ConcurrentLoadCoalesces(t *testing.T) {
	dir := t.TempDir()
	reg := staticRegistry([]byte("weights"), dir)
	cfg := testEngineConfig(config.IntegrityDisabled, "")
	e := NewTextEngine(cfg, reg)

	const n = 16
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := e.Generate(context.Background(), "concurrent")
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Generate: %v", err)
		}
	}
	if !e.ModelLoaded() {
		t.Fatal("expected engine to report loaded after concurrent Generate calls")
	}
}
