package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// idBytes is 256 bits of entropy.
const idBytes = 32

// encodedIDLen is the length of a base64url (no padding) encoded id.
var encodedIDLen = base64.RawURLEncoding.EncodedLen(idBytes)

// NewID returns a cryptographically random, URL-safe token. It is used for
// session ids and for OAuth state values.
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: generating id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// validID rejects cookie values that NewID could not have produced.
func validID(id string) bool {
	if len(id) != encodedIDLen {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(id)
	return err == nil
}
