package models

import (
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// NewID generates a random UUID string for entity primary keys and jti
// claims.
func NewID() string {
	return uuid.Must(uuid.NewRandom()).String()
}

// NewAuthorizationCode generates an unguessable public authorization code.
// oauth2.GenerateVerifier yields 256 bits of entropy base64url-encoded, the
// same quality required of PKCE verifiers.
func NewAuthorizationCode() string {
	return oauth2.GenerateVerifier()
}

// ValidJTI reports whether s is a well-formed, non-blank UUID. jti claims are
// format-validated before any session lookup keys off them.
func ValidJTI(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
