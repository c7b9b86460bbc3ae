// Package hashkit implements the deterministic bucketing hash shared by
// rollout percentages, multivariate allocation, and holdout groups.
package hashkit

import (
	"crypto/sha1"
	"encoding/binary"
)

// longScale is the divisor for the first 15 hex nibbles of a SHA-1 digest,
// i.e. 0xFFFFFFFFFFFFFFF (15 Fs). This constant and the bit-shift below are
// load-bearing for cross-SDK rollout compatibility: do not change them.
const longScale = 0xFFFFFFFFFFFFFFF

// Calculate returns a deterministic value in [0,1) for (prefix, identifier, salt).
// It concatenates the three strings, takes a SHA-1 digest, reads the first 8
// bytes as a big-endian uint64, shifts right by 4 bits (keeping the first 15
// hex nibbles), and divides by longScale.
func Calculate(prefix, identifier, salt string) float64 {
	h := sha1.New()
	h.Write([]byte(prefix))
	h.Write([]byte(identifier))
	h.Write([]byte(salt))
	sum := h.Sum(nil)

	hashVal := binary.BigEndian.Uint64(sum[:8])
	hashVal >>= 4

	return float64(hashVal) / float64(longScale)
}
