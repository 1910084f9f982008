package engine

// modelSeed is the fixed sampling seed mandated for deterministic test
// replays. It is folded into every hash so forward() is a pure function of
// (token history, position) rather than depending on wall-clock state.
const modelSeed int64 = 42

// eosHashModulus controls how often the synthetic model decides to stop:
// roughly one in eosHashModulus steps (once the position reaches
// minDecodeSteps) terminates the sequence, keeping typical outputs well
// under either decode cap.
const eosHashModulus = 9

// minDecodeSteps is the smallest position at which EOS may be sampled.
// Positions count from the start of the encoded prompt (BOS included), so
// this guarantees at least one generated token only for prompts of at most
// one word; a longer prompt can end at its first step with empty output.
const minDecodeSteps = 2

// forward computes the logits for the next token given the full token
// history and the position being predicted. It plays the role of the
// "model forward pass": every step passes the whole history. The first
// (prefill) step passes the prompt at position len(prompt)-1, and each later
// decode step passes the prompt plus all tokens generated so far at the
// next position; there is no single-last-token decode path. The returned tensor is
// always rank-3 ([batch=1, seq=1, vocab]), matching a decoder that returns
// logits only for the position just computed.
func forward(ids []int32, position int) LogitsTensor {
	h := hashTokens(modelSeed, ids, position)
	data := make([]float32, vocabSize)
	data[int(h%uint64(vocabSize))] = 1.0
	return LogitsTensor{Shape: []int{1, 1, vocabSize}, Data: data}
}

// sampleNext runs one prefill/decode step: it decides whether to emit EOS,
// and otherwise forwards the model and greedily samples (argmax) the next
// token id.
func sampleNext(ids []int32, position int) (int32, error) {
	if position >= minDecodeSteps {
		eosHash := hashTokens(modelSeed^0x5151, ids, position)
		if eosHash%eosHashModulus == 0 {
			return tokenEOS, nil
		}
	}

	logits, err := forward(ids, position).LastPositionLogits()
	if err != nil {
		return 0, err
	}
	idx := Argmax(logits)
	return firstFreeToken + idx, nil
}
