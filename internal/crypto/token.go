// Package crypto generates unguessable bearer tokens.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
)

// TokenBytes is the entropy of an invite token.
const TokenBytes = 16

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewToken returns TokenBytes random bytes encoded as unpadded base64url,
// safe to embed in a URL path segment.
func NewToken() (string, error) {
	b, err := RandBytes(TokenBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
