package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// ValidatePKCE reports whether challenge is the S256 transform of
// verifier: SHA-256, base64url-encoded without padding. Empty inputs
// always fail; there is no silent pass-through.
func ValidatePKCE(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}

	sum := sha256.Sum256([]byte(verifier))
	expected := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(challenge)) == 1
}
