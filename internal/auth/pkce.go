package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCECodes is a verifier/challenge pair for one OAuth attempt.
// The verifier is base64url (no padding) over 32 random bytes; the
// challenge is the S256 transform of the verifier string (RFC 7636).
type PKCECodes struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE returns a fresh PKCE pair. Fails only if the system
// random source does.
func GeneratePKCE() (PKCECodes, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return PKCECodes{}, fmt.Errorf("auth: generate pkce verifier: %w", err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))

	return PKCECodes{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
	}, nil
}
