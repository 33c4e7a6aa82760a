package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashContent returns the hex SHA-256 of content. The screenshot writers
// and the coordinator's input-image path compute their File digests
// inline and do not call it.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
