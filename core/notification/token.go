package notification

import (
	"crypto/rand"
	"encoding/hex"
)

const tokenBytes = 32

// newToken returns an opaque, URL-safe unsubscribe token.
func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
