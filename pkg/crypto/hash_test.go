package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestHashBytes_Deterministic(t *testing.T) {
	data := []byte("model weights")
	h1 := HashBytes(data)
	h2 := HashBytes(data)
	if h1 != h2 {
		t.Errorf("HashBytes() not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("HashBytes() length = %d, want 64 hex chars", len(h1))
	}
}

func TestHashBytes_DifferentInputsDifferentHashes(t *testing.T) {
	h1 := HashBytes([]byte("a"))
	h2 := HashBytes([]byte("b"))
	if h1 == h2 {
		t.Error("HashBytes() produced identical hashes for different inputs")
	}
}

func TestHashReader_MatchesHashBytes(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 200*1024) // exercise multiple 64 KiB buffer fills
	want := HashBytes(data)

	got, err := HashReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HashReader() error: %v", err)
	}
	if got != want {
		t.Errorf("HashReader() = %q, want %q", got, want)
	}
}

func TestHashReader_EmptyInput(t *testing.T) {
	got, err := HashReader(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("HashReader() error: %v", err)
	}
	if !strings.HasPrefix(got, "e3b0c44298fc1c14") {
		t.Errorf("HashReader(empty) = %q, want SHA-256 empty-string digest", got)
	}
}
