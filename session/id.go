package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const (
	idSeedBytes = 24
	idHexLen    = sha256.Size * 2
)

// NewID derives a session id by hashing 24 random bytes. Only the digest is
// ever stored or returned, so a leaked id does not reveal the seed.
func NewID() (string, error) {
	seed := make([]byte, idSeedBytes)
	if _, err := rand.Read(seed); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(base64.StdEncoding.EncodeToString(seed)))
	return hex.EncodeToString(sum[:]), nil
}

// ValidID reports whether id has the shape produced by NewID.
func ValidID(id string) bool {
	if len(id) != idHexLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
