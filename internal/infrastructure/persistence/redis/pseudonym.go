package redis

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// pseudonymSize is the digest length in bytes; 16 bytes keeps keys short.
const pseudonymSize = 16

// Pseudonymizer maps student IDs to stable opaque keys so shared Redis keys
// and pub/sub payloads never carry the raw identifier.
type Pseudonymizer struct {
	key []byte
}

// NewPseudonymizer creates a keyed pseudonymizer. blake2b accepts keys of at
// most 64 bytes; longer secrets are hashed down first.
func NewPseudonymizer(secret string) *Pseudonymizer {
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return &Pseudonymizer{key: key}
}

// Key returns the pseudonym for a student ID. Empty IDs map to "".
func (p *Pseudonymizer) Key(studentID string) string {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return ""
	}

	h, err := blake2b.New(pseudonymSize, p.key)
	if err != nil {
		// Only reachable with an oversize key, which NewPseudonymizer prevents.
		sum := blake2b.Sum256([]byte(studentID))
		return hex.EncodeToString(sum[:pseudonymSize])
	}
	h.Write([]byte(studentID))
	return hex.EncodeToString(h.Sum(nil))
}
