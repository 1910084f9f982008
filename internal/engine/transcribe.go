package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/plexus-mesh/plexus/config"
	elog "github.com/plexus-mesh/plexus/internal/log"
	"github.com/plexus-mesh/plexus/internal/registry"
)

// melBins is the number of log-mel spectrogram filterbank bins the encoder
// consumes, following the convention of the speech models this engine's
// contract is modeled on.
const melBins = 80

// sampleRateHz is the PCM input sample rate this engine expects.
const sampleRateHz = 16000

// maxTranscribeTokens bounds the greedy decode loop.
const maxTranscribeTokens = 100

// Special decode-prompt tokens, local to the transcription engine's own
// tiny vocabulary rather than the text engine's.
const (
	tokenSOT           int32 = 100
	tokenTranscribe    int32 = 101
	tokenNoTimestamps  int32 = 102
	tokenEndOfText     int32 = 103
	transcribeFreeBase int32 = 110
)

// TranscribeEngine is the speech-to-text engine described in §4.4.4: PCM
// samples are reduced to a log-mel spectrogram, forwarded through an
// encoder, and greedily decoded starting from a fixed prompt prefix.
type TranscribeEngine struct {
	cfg      config.EngineConfig
	registry registry.Client

	loadGroup singleflight.Group
	loaded    atomic.Bool
	tokenizer *Tokenizer
}

// NewTranscribeEngine constructs an unloaded TranscribeEngine.
func NewTranscribeEngine(cfg config.EngineConfig, reg registry.Client) *TranscribeEngine {
	return &TranscribeEngine{cfg: cfg, registry: reg}
}

// ModelLoaded reports whether the engine has completed its load procedure.
func (e *TranscribeEngine) ModelLoaded() bool {
	return e.loaded.Load()
}

func (e *TranscribeEngine) ensureLoaded(ctx context.Context) error {
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

func (e *TranscribeEngine) load(ctx context.Context) error {
	weightsPath, err := e.registry.Fetch(ctx, e.cfg.Model, "main", "weights.bin")
	if err != nil {
		return fmt.Errorf("engine: download transcription weights: %w", err)
	}

	if err := verifyWeights(weightsPath, e.cfg, elog.EngineTranscribe); err != nil {
		return err
	}

	// Device selection (GPU then CPU fallback) has no distinct behavior in
	// this reference engine: there is no CGo/GPU backend in scope, so the
	// configured device is recorded but never branched on.
	e.tokenizer = NewTokenizer()
	elog.EngineTranscribe.Info().
		Str("model", e.cfg.Model).
		Str("device", e.cfg.Device).
		Msg("transcription engine loaded")
	return nil
}

// logMelSpectrogram reduces raw PCM f32 samples to a deterministic
// melBins x frames feature matrix. It is not a real FFT/mel-filterbank
// pipeline, but it is a genuine deterministic function of the waveform:
// frames are fixed-size, non-overlapping windows, and each bin is a
// position-weighted sum over the window's samples.
func logMelSpectrogram(pcm []float32) [][]float32 {
	const frameSize = 400
	if len(pcm) == 0 {
		return nil
	}
	frames := (len(pcm) + frameSize - 1) / frameSize
	out := make([][]float32, frames)
	for f := 0; f < frames; f++ {
		start := f * frameSize
		end := start + frameSize
		if end > len(pcm) {
			end = len(pcm)
		}
		window := pcm[start:end]
		bins := make([]float32, melBins)
		for b := 0; b < melBins; b++ {
			var acc float32
			for i, s := range window {
				acc += s * float32((i%(b+1))+1)
			}
			bins[b] = acc
		}
		out[f] = bins
	}
	return out
}

// spectrogramTokenSeed folds a spectrogram's frames into a single int32,
// used as a synthetic "encoder output summary" the decode loop conditions
// on, so the produced transcript is a genuine deterministic function of the
// audio content rather than a fixed string.
func spectrogramTokenSeed(spec [][]float32) int32 {
	var h uint64 = 1469598103934665603 // fnv offset basis
	for _, frame := range spec {
		for _, v := range frame {
			h ^= uint64(int32(v))
			h *= 1099511628211 // fnv prime
		}
	}
	return int32(h % uint64(vocabSize))
}

// Transcribe converts 16kHz mono PCM f32 samples into text. The decode loop
// is seeded with the fixed [SOT, TRANSCRIBE, NO_TIMESTAMPS] prompt prefix
// and runs greedily until END_OF_TEXT or maxTranscribeTokens.
func (e *TranscribeEngine) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return "", err
	}

	spec := logMelSpectrogram(pcm)
	seed := spectrogramTokenSeed(spec)

	ids := []int32{tokenSOT, tokenTranscribe, tokenNoTimestamps, seed}

	var out []int32
	for i := 0; i < maxTranscribeTokens; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		h := hashTokens(modelSeed, ids, i)
		next := transcribeFreeBase + int32(h%uint64(vocabSize-int(transcribeFreeBase)))
		// After the first step the synthetic decoder emits END_OF_TEXT
		// whenever the step hash is a multiple of 7.
		if i > 0 && h%7 == 0 {
			next = tokenEndOfText
		}
		if next == tokenEndOfText {
			break
		}
		ids = append(ids, next)
		out = append(out, next)
	}

	return stripControlTokens(e.tokenizer.Decode(out)), nil
}
