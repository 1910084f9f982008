package crypto

import (
	"encoding/hex"
	"io"

	sha256simd "github.com/minio/sha256-simd"
)

// weightHashBufSize is the buffer size used when streaming a weights file
// through the integrity hasher, per the 64 KiB buffer mandated for the
// engine load procedure.
const weightHashBufSize = 64 * 1024

// HashReader streams r through a SHA-256 hasher using a 64 KiB buffer and
// returns the lowercase hex digest. Used to verify downloaded model weights
// against a pinned expected digest without holding the whole file in memory.
func HashReader(r io.Reader) (string, error) {
	h := sha256simd.New()
	buf := make([]byte, weightHashBufSize)
	// Wrapping r hides any WriterTo it implements (bytes.Reader, os.File),
	// which io.CopyBuffer would otherwise use in place of buf.
	if _, err := io.CopyBuffer(h, struct{ io.Reader }{r}, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256simd.Sum256(data)
	return hex.EncodeToString(sum[:])
}
