package engine

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/plexus-mesh/plexus/config"
	pcrypto "github.com/plexus-mesh/plexus/pkg/crypto"
)

// ErrIntegrityMismatch is returned when a downloaded weights file's SHA-256
// digest does not match the pinned expected digest under IntegrityStrict.
var ErrIntegrityMismatch = errors.New("engine: weights integrity check failed")

// verifyWeights streams the weights file at path through SHA-256 and
// compares the digest against cfg.ExpectedSHA256, honoring cfg.IntegrityMode:
// Disabled skips the hash entirely, WarnOnly logs the mismatch and continues,
// and Strict fails with ErrIntegrityMismatch.
func verifyWeights(path string, cfg config.EngineConfig, logger zerolog.Logger) error {
	if cfg.IntegrityMode == config.IntegrityDisabled {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("engine: open weights file: %w", err)
	}
	defer f.Close()

	digest, err := pcrypto.HashReader(f)
	if err != nil {
		return fmt.Errorf("engine: hash weights file: %w", err)
	}
	if digest == cfg.ExpectedSHA256 {
		return nil
	}

	if cfg.IntegrityMode == config.IntegrityWarnOnly {
		logger.Warn().
			Str("expected", cfg.ExpectedSHA256).
			Str("got", digest).
			Msg("weights digest mismatch; continuing in warn-only mode")
		return nil
	}
	return fmt.Errorf("%w: expected %s, got %s", ErrIntegrityMismatch, cfg.ExpectedSHA256, digest)
}
