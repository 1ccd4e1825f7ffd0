package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the lowercase hex-encoded SHA-256 digest of data.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
