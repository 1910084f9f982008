package chathistory

import (
	"path/filepath"
	"strconv"
	"testing"
)

// S5 — Chat history eviction.
func TestHistory_EvictsOldestBeyondCapacity(t *testing.T) {
	h := New(10)
	for i := 1; i <= 12; i++ {
		h.AddUser(label(i))
	}

	got := h.GetHistory()
	if len(got) != 10 {
		t.Fatalf("GetHistory() length = %d, want 10", len(got))
	}
	for i, m := range got {
		want := label(i + 3) // m3..m12
		if m.Content != want {
			t.Errorf("message[%d] = %q, want %q", i, m.Content, want)
		}
	}
}

func label(n int) string {
	return "m" + strconv.Itoa(n)
}

func TestHistory_CapacityInvariantHolds(t *testing.T) {
	h := New(3)
	for i := 0; i < 50; i++ {
		h.AddUser("x")
		if len(h.GetHistory()) > 3 {
			t.Fatalf("capacity invariant violated at i=%d: len=%d", i, len(h.GetHistory()))
		}
	}
}

func TestHistory_Clear(t *testing.T) {
	h := New(5)
	h.AddUser("hi")
	h.Clear()
	if len(h.GetHistory()) != 0 {
		t.Error("Clear() did not empty history")
	}
}

func TestHistory_FormatForChat(t *testing.T) {
	h := New(5)
	h.AddSystem("be terse")
	h.AddUser("hello")
	h.AddAssistant("hi")

	got := h.FormatForChat("how are you")
	want := "<|system|>\nbe terse</s>\n" +
		"<|user|>\nhello</s>\n" +
		"<|assistant|>\nhi</s>\n" +
		"<|user|>\nhow are you</s>\n" +
		"<|assistant|>\n"
	if got != want {
		t.Errorf("FormatForChat() = %q, want %q", got, want)
	}
}

func TestHistory_SaveAndLoadRoundTrip(t *testing.T) {
	h := New(5)
	h.AddUser("one")
	h.AddAssistant("two")

	path := filepath.Join(t.TempDir(), "history.cbor")
	if err := h.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error: %v", err)
	}

	loaded := New(5)
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}

	got, want := loaded.GetHistory(), h.GetHistory()
	if len(got) != len(want) {
		t.Fatalf("loaded length = %d, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("message[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
