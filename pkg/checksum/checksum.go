// Package checksum provides the SHA-256 helpers used when exported audit files are
// archived: every backend hashes the bytes it stores so the export response can
// carry a digest the caller can later verify against the archived copy.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// CalculateSHA256 calculates the SHA256 checksum of data from a reader
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifySHA256 verifies that the checksum of data matches the expected checksum
func VerifySHA256(reader io.Reader, expectedChecksum string) (bool, error) {
	actualChecksum, err := CalculateSHA256(reader)
	if err != nil {
		return false, err
	}

	return actualChecksum == expectedChecksum, nil
}

// HashingReader hashes everything read through it. Backends wrap upload bodies
// with it so the digest is computed in the same pass that streams the data.
type HashingReader struct {
	r      io.Reader
	hasher hash.Hash
	n      int64
}

// NewHashingReader wraps r
func NewHashingReader(r io.Reader) *HashingReader {
	return &HashingReader{r: r, hasher: sha256.New()}
}

func (h *HashingReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.hasher.Write(p[:n])
		h.n += int64(n)
	}
	return n, err
}

// Sum returns the lowercase hex digest of the bytes read so far
func (h *HashingReader) Sum() string {
	return hex.EncodeToString(h.hasher.Sum(nil))
}

// Size returns the number of bytes read so far
func (h *HashingReader) Size() int64 {
	return h.n
}
