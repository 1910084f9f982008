package engine

import (
	"errors"
	"fmt"
)

// ErrInternalShape is returned when a model forward pass yields a logits
// tensor of a rank the engine does not know how to interpret.
var ErrInternalShape = errors.New("engine: unsupported logits tensor rank")

// LogitsTensor is a minimal rank-tagged tensor: Shape describes dimensions
// in the order libp2p-adjacent ML runtimes conventionally use them
// ([batch, seq, vocab] or [batch, vocab]), and Data is the flattened
// row-major backing slice.
type LogitsTensor struct {
	Shape []int
	Data  []float32
}

// LastPositionLogits implements the logits shape policy: a rank-3 tensor is
// squeezed on its batch dimension and the last sequence position is taken;
// a rank-2 tensor is squeezed on its batch dimension directly. Any other
// rank is rejected as ErrInternalShape.
func (t LogitsTensor) LastPositionLogits() ([]float32, error) {
	switch len(t.Shape) {
	case 3:
		batch, seq, vocab := t.Shape[0], t.Shape[1], t.Shape[2]
		if batch != 1 {
			return nil, fmt.Errorf("%w: rank-3 tensor with batch=%d, want 1", ErrInternalShape, batch)
		}
		if len(t.Data) != batch*seq*vocab {
			return nil, fmt.Errorf("%w: rank-3 tensor data length %d does not match shape %v", ErrInternalShape, len(t.Data), t.Shape)
		}
		start := (seq - 1) * vocab
		return t.Data[start : start+vocab], nil
	case 2:
		batch, vocab := t.Shape[0], t.Shape[1]
		if batch != 1 {
			return nil, fmt.Errorf("%w: rank-2 tensor with batch=%d, want 1", ErrInternalShape, batch)
		}
		if len(t.Data) != batch*vocab {
			return nil, fmt.Errorf("%w: rank-2 tensor data length %d does not match shape %v", ErrInternalShape, len(t.Data), t.Shape)
		}
		return t.Data[:vocab], nil
	default:
		return nil, fmt.Errorf("%w: rank %d", ErrInternalShape, len(t.Shape))
	}
}

// Argmax returns the index of the largest value in logits (greedy sampling).
// Ties resolve to the first (lowest-index) maximum, matching the
// mandated deterministic baseline.
func Argmax(logits []float32) int32 {
	best := 0
	for i := 1; i < len(logits); i++ {
		if logits[i] > logits[best] {
			best = i
		}
	}
	return int32(best)
}
