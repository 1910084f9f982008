// Package chathistory implements the bounded conversational ring buffer a
// NodeService keeps per active conversation.
package chathistory

import (
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    Role   `cbor:"role"`
	Content string `cbor:"content"`
}

// History is a fixed-capacity ring of Messages. Adding beyond capacity
// evicts the oldest message; the retained set is always a contiguous
// suffix of append order. Safe for concurrent use: the NodeService mutates
// it both from its run loop and from spawned generation goroutines.
type History struct {
	mu       sync.Mutex
	capacity int
	messages []Message
}

// New creates a History with the given fixed capacity.
func New(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{capacity: capacity}
}

func (h *History) add(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addLocked(m)
}

func (h *History) addLocked(m Message) {
	h.messages = append(h.messages, m)
	if len(h.messages) > h.capacity {
		h.messages = h.messages[len(h.messages)-h.capacity:]
	}
}

// AddUser appends a user message.
func (h *History) AddUser(content string) {
	h.add(Message{Role: RoleUser, Content: content})
}

// AddAssistant appends an assistant message.
func (h *History) AddAssistant(content string) {
	h.add(Message{Role: RoleAssistant, Content: content})
}

// AddSystem appends a system message.
func (h *History) AddSystem(content string) {
	h.add(Message{Role: RoleSystem, Content: content})
}

// Clear empties the history.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}

// GetHistory returns the current messages in append order.
func (h *History) GetHistory() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Turn markers used by FormatForChat, carried over from the original
// engine's prompt template rather than invented generically.
const (
	markerUser      = "<|user|>"
	markerAssistant = "<|assistant|>"
	markerSystem    = "<|system|>"
	turnEnd         = "</s>\n"
)

func markerFor(role Role) string {
	switch role {
	case RoleUser:
		return markerUser
	case RoleAssistant:
		return markerAssistant
	case RoleSystem:
		return markerSystem
	default:
		return markerUser
	}
}

// FormatForChat renders the stored turns followed by a final user turn
// containing prompt, each turn terminated by "</s>\n", with a trailing open
// "<|assistant|>\n" to invite the next completion.
func (h *History) FormatForChat(prompt string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out string
	for _, m := range h.messages {
		out += markerFor(m.Role) + "\n" + m.Content + turnEnd
	}
	out += markerUser + "\n" + prompt + turnEnd
	out += markerAssistant + "\n"
	return out
}

// SaveToFile persists the history as a single self-describing CBOR document.
func (h *History) SaveToFile(path string) error {
	data, err := cbor.Marshal(h.GetHistory())
	if err != nil {
		return fmt.Errorf("chathistory: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("chathistory: write %s: %w", path, err)
	}
	return nil
}

// LoadFromFile replaces the current history with the document at path,
// truncating to the configured capacity if the file holds more messages
// than fit.
func (h *History) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("chathistory: read %s: %w", path, err)
	}
	var messages []Message
	if err := cbor.Unmarshal(data, &messages); err != nil {
		return fmt.Errorf("chathistory: decode %s: %w", path, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	for _, m := range messages {
		h.addLocked(m)
	}
	return nil
}
