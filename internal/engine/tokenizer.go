package engine

import (
	"hash/fnv"
	"strings"
	"sync"
)

// Special token ids, fixed so EOS detection and special-token stripping
// never depend on vocabulary growth order.
const (
	tokenPad       int32 = 0
	tokenBOS       int32 = 1
	tokenEOS       int32 = 2
	tokenUnknown   int32 = 3
	tokenAssistant int32 = 4
	firstFreeToken int32 = 16
)

// vocabSize bounds the synthetic vocabulary the reference model samples
// over. It is intentionally small: this engine demonstrates the tokenize/
// prefill/decode contract, not a production-scale vocabulary.
const vocabSize = 512

// continuationWords is the fixed word bank unseen token ids decode to, so
// Decode is total over int32 without needing every id to have been
// produced by a prior Encode call.
var continuationWords = []string{
	"the", "mesh", "node", "peer", "model", "is", "ready", "to", "answer",
	"your", "prompt", "with", "a", "short", "reply", "about", "compute",
	"and", "inference", "across", "this", "plexus", "network", "today",
}

// Tokenizer is a small, self-contained word-level tokenizer. It is not a
// reproduction of any production tokenizer; it exists to give the engine
// contract (encode / decode / special tokens) a concrete, deterministic
// implementation to exercise.
type Tokenizer struct {
	mu      sync.Mutex
	vocab   map[string]int32
	reverse map[int32]string
	next    int32
}

// NewTokenizer creates a Tokenizer pre-seeded with the special tokens.
func NewTokenizer() *Tokenizer {
	t := &Tokenizer{
		vocab:   make(map[string]int32),
		reverse: make(map[int32]string),
		next:    firstFreeToken,
	}
	t.seed(tokenPad, "<pad>")
	t.seed(tokenBOS, "<s>")
	t.seed(tokenEOS, "</s>")
	t.seed(tokenUnknown, "<unk>")
	t.seed(tokenAssistant, "<|assistant|>")
	return t
}

func (t *Tokenizer) seed(id int32, s string) {
	t.vocab[s] = id
	t.reverse[id] = s
}

// EOSID returns the end-of-sequence token id.
func (t *Tokenizer) EOSID() int32 {
	return tokenEOS
}

// Encode tokenizes text into ids including a leading BOS token, assigning
// fresh ids to previously unseen words.
func (t *Tokenizer) Encode(text string) []int32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := []int32{tokenBOS}
	words := strings.Fields(text)
	for i, w := range words {
		piece := w
		if i > 0 {
			piece = " " + w
		}
		ids = append(ids, t.idForLocked(piece))
	}
	return ids
}

func (t *Tokenizer) idForLocked(piece string) int32 {
	if id, ok := t.vocab[piece]; ok {
		return id
	}
	id := t.next
	t.next++
	t.vocab[piece] = id
	t.reverse[id] = piece
	return id
}

// Decode renders ids back to text. Ids that were never produced by Encode
// (i.e. sampled by the model) resolve to a deterministic word from the
// continuation bank and are cached so repeated decodes of the same id are
// stable.
func (t *Tokenizer) Decode(ids []int32) string {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(t.decodeOne(id))
	}
	return b.String()
}

func (t *Tokenizer) decodeOne(id int32) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch id {
	case tokenBOS, tokenPad:
		return ""
	case tokenEOS:
		return "</s>"
	case tokenAssistant:
		return "<|assistant|>"
	}

	if s, ok := t.reverse[id]; ok {
		return s
	}
	word := " " + continuationWords[int(uint32(id))%len(continuationWords)]
	t.reverse[id] = word
	return word
}

// hashTokens combines a seed with a token-id sequence and a position into a
// single deterministic 64-bit value, used by the reference model to sample
// the "next token" without any real learned weights.
func hashTokens(seed int64, ids []int32, position int) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	putInt64(&buf, seed)
	h.Write(buf[:])
	for _, id := range ids {
		putInt64(&buf, int64(id))
		h.Write(buf[:])
	}
	putInt64(&buf, int64(position))
	h.Write(buf[:])
	return h.Sum64()
}

func putInt64(buf *[8]byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		buf[i] = byte(u >> (8 * i))
	}
}
