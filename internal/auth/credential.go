package auth

import (
	"crypto/sha256"
	"crypto/subtle"
)

// CredentialValidator checks a presented API key against the configured one.
// Both sides are hashed first so the comparison takes the same time whatever
// the presented length.
type CredentialValidator struct {
	digest     [sha256.Size]byte
	configured bool
}

func NewCredentialValidator(apiKey string) *CredentialValidator {
	if apiKey == "" {
		return &CredentialValidator{}
	}
	return &CredentialValidator{digest: sha256.Sum256([]byte(apiKey)), configured: true}
}

func (v *CredentialValidator) Validate(presented string) bool {
	if v == nil || !v.configured || presented == "" {
		return false
	}
	digest := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(digest[:], v.digest[:]) == 1
}
