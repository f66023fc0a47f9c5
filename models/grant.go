package models

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/dickdavis/token-authority-sub001/errors"
)

// Code challenge methods per RFC 7636. S256 is normative; plain is accepted
// only when explicitly enabled.
const (
	CodeChallengeS256  = "S256"
	CodeChallengePlain = "plain"
)

// AuthorizationGrant is a single-use authorization code binding a user, a
// client, the PKCE challenge captured at authorize time, and the scopes and
// resources the user approved. A grant transitions to redeemed exactly once;
// the store enforces the compare-and-set, never direct field writes.
type AuthorizationGrant struct {
	ID                  string    `gorm:"column:id;primaryKey" json:"id"`
	Code                string    `gorm:"column:public_code;uniqueIndex;not null" json:"code"`
	UserID              string    `gorm:"column:user_id;not null" json:"user_id"`
	ClientID            string    `gorm:"column:client_id;not null" json:"client_id"`
	RedirectURI         string    `gorm:"column:redirect_uri" json:"redirect_uri"`
	CodeChallenge       string    `gorm:"column:code_challenge" json:"code_challenge"`
	CodeChallengeMethod string    `gorm:"column:code_challenge_method" json:"code_challenge_method"`
	Scopes              string    `gorm:"column:scopes" json:"scopes"`
	Resources           string    `gorm:"column:resources" json:"resources"`
	Redeemed            bool      `gorm:"column:redeemed;not null;default:false" json:"redeemed"`
	ExpiresAt           time.Time `gorm:"column:expires_at;not null" json:"expires_at"`
	CreatedAt           time.Time `gorm:"column:created_at" json:"created_at"`
}

func (AuthorizationGrant) TableName() string { return "authorization_grants" }

// NewGrant creates an unredeemed grant with a fresh unguessable code.
func NewGrant(client *Client, userID, redirectURI, codeChallenge, codeChallengeMethod string, scopes ScopeSet, resources ResourceSet, ttl time.Duration, now time.Time) *AuthorizationGrant {
	return &AuthorizationGrant{
		ID:                  NewID(),
		Code:                NewAuthorizationCode(),
		UserID:              userID,
		ClientID:            client.ID,
		RedirectURI:         redirectURI,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		Scopes:              scopes.String(),
		Resources:           strings.Join(resources.URIs(), " "),
		ExpiresAt:           now.Add(ttl),
		CreatedAt:           now,
	}
}

// ExpiredAt reports whether the grant's TTL has elapsed. Consumers treat an
// expired, unredeemed grant identically to a missing one.
func (g *AuthorizationGrant) ExpiredAt(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// GrantedScopes returns the scopes approved at consent time.
func (g *AuthorizationGrant) GrantedScopes() ScopeSet {
	s, _ := ParseScopes(g.Scopes)
	return s
}

// GrantedResources returns the resources approved at consent time.
func (g *AuthorizationGrant) GrantedResources() ResourceSet {
	r, _ := ParseResources(strings.Fields(g.Resources))
	return r
}

// VerifyChallenge checks the client-supplied PKCE verifier against the
// challenge stored at authorize time. Comparison is constant time.
func (g *AuthorizationGrant) VerifyChallenge(verifier string) error {
	if g.CodeChallenge == "" {
		return fmt.Errorf("%w: grant has no code challenge", errors.ErrInvalidGrant)
	}
	var derived string
	switch g.CodeChallengeMethod {
	case CodeChallengeS256, "":
		sum := sha256.Sum256([]byte(verifier))
		derived = base64.RawURLEncoding.EncodeToString(sum[:])
	case CodeChallengePlain:
		derived = verifier
	default:
		return fmt.Errorf("%w: unsupported code challenge method %q", errors.ErrInvalidGrant, g.CodeChallengeMethod)
	}
	if subtle.ConstantTimeCompare([]byte(derived), []byte(g.CodeChallenge)) != 1 {
		return errors.ErrUnsuccessfulChallenge
	}
	return nil
}
