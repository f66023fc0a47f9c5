package manage

import (
	"fmt"
	"time"

	"github.com/dickdavis/token-authority-sub001/errors"
	"github.com/dickdavis/token-authority-sub001/generates"
	"github.com/dickdavis/token-authority-sub001/models"
)

// SideEffect classifies what should happen to the owning session after a
// claim validation failure. Callers apply it; validation itself never touches
// storage.
type SideEffect int

const (
	// SideEffectNone means no session transition. Either validation passed
	// or the jti itself was invalid, so no session lookup is possible.
	SideEffectNone SideEffect = iota
	// SideEffectExpire marks the session expired. Only an elapsed exp, a
	// benign lifecycle event, produces it.
	SideEffectExpire
	// SideEffectRevoke marks the session revoked. Produced by integrity
	// faults on iss, aud, or sub, which indicate forgery or misuse.
	SideEffectRevoke
)

// ClaimValidator checks a decoded token's claims against server policy.
//
// Failure classes are mutually exclusive per pass and revocation wins: if any
// revocable claim is invalid the result is SideEffectRevoke even when exp has
// also elapsed. An invalid jti yields SideEffectNone since the session cannot
// be found.
type ClaimValidator struct {
	Config Config
	Clock  func() time.Time
}

// Validate returns the session side effect and the validation error, if any.
func (v *ClaimValidator) Validate(claims *generates.TokenClaims) (SideEffect, error) {
	if claims.ID == "" || !models.ValidJTI(claims.ID) {
		return SideEffectNone, fmt.Errorf("%w: missing or malformed jti claim", errors.ErrInvalidToken)
	}
	if claims.Issuer != v.Config.Issuer {
		return SideEffectRevoke, fmt.Errorf("%w: issuer mismatch", errors.ErrUnauthorizedToken)
	}
	if claims.Subject == "" {
		return SideEffectRevoke, fmt.Errorf("%w: missing sub claim", errors.ErrUnauthorizedToken)
	}
	if len(claims.Audience) == 0 {
		return SideEffectRevoke, fmt.Errorf("%w: missing aud claim", errors.ErrUnauthorizedToken)
	}
	for _, aud := range claims.Audience {
		if !v.Config.audienceAllowed(aud) {
			return SideEffectRevoke, fmt.Errorf("%w: audience %q not recognized", errors.ErrUnauthorizedToken, aud)
		}
	}
	if claims.ExpiresAt == nil {
		return SideEffectExpire, fmt.Errorf("%w: missing exp claim", errors.ErrExpiredToken)
	}
	// Strictly after: a token is valid through its exp instant.
	if v.now().After(claims.ExpiresAt.Time) {
		return SideEffectExpire, errors.ErrExpiredToken
	}
	return SideEffectNone, nil
}

func (v *ClaimValidator) now() time.Time {
	if v.Clock != nil {
		return v.Clock()
	}
	return time.Now()
}
