// Package generates encodes and decodes the signed JWTs issued by the token
// authority. Access and refresh tokens share one claim shape; they differ
// only in jti and expiry.
package generates

import (
	"crypto"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dickdavis/token-authority-sub001/errors"
)

// TokenClaims jwt claims
type TokenClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"` // Space-separated scopes per RFC 6749
}

// NewJWTCodec create the jwt token codec instance
func NewJWTCodec(kid string, key []byte, method jwt.SigningMethod) *JWTCodec {
	return &JWTCodec{
		SignedKeyID:  kid,
		SignedKey:    key,
		SignedMethod: method,
	}
}

// JWTCodec signs and verifies the issued token pair
type JWTCodec struct {
	SignedKeyID  string
	SignedKey    []byte
	SignedMethod jwt.SigningMethod
}

// Encode signs the claims into a compact JWT.
func (c *JWTCodec) Encode(claims *TokenClaims) (string, error) {
	token := jwt.NewWithClaims(c.SignedMethod, claims)
	if c.SignedKeyID != "" {
		token.Header["kid"] = c.SignedKeyID
	}
	key, err := c.signingKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(key)
}

// Decode verifies the signature and returns the claims. Claim values are not
// validated here; expiry and audience checks belong to the claim validator so
// that failure classes can drive distinct session side effects.
func (c *JWTCodec) Decode(tokenString string) (*TokenClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.SignedMethod.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	var claims TokenClaims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return c.verificationKey()
	})
	if err != nil {
		return nil, errors.ErrInvalidToken
	}
	return &claims, nil
}

func (c *JWTCodec) signingKey() (interface{}, error) {
	switch {
	case c.isEs():
		return jwt.ParseECPrivateKeyFromPEM(c.SignedKey)
	case c.isRsOrPS():
		return jwt.ParseRSAPrivateKeyFromPEM(c.SignedKey)
	case c.isHs():
		return c.SignedKey, nil
	case c.isEd():
		return jwt.ParseEdPrivateKeyFromPEM(c.SignedKey)
	}
	return nil, errors.New("unsupported sign method")
}

func (c *JWTCodec) verificationKey() (interface{}, error) {
	switch {
	case c.isEs():
		k, err := jwt.ParseECPrivateKeyFromPEM(c.SignedKey)
		if err != nil {
			return nil, err
		}
		return &k.PublicKey, nil
	case c.isRsOrPS():
		k, err := jwt.ParseRSAPrivateKeyFromPEM(c.SignedKey)
		if err != nil {
			return nil, err
		}
		return &k.PublicKey, nil
	case c.isHs():
		return c.SignedKey, nil
	case c.isEd():
		k, err := jwt.ParseEdPrivateKeyFromPEM(c.SignedKey)
		if err != nil {
			return nil, err
		}
		if signer, ok := k.(crypto.Signer); ok {
			return signer.Public(), nil
		}
		return nil, errors.New("ed key does not expose a public key")
	}
	return nil, errors.New("unsupported sign method")
}

func (c *JWTCodec) isEs() bool {
	return strings.HasPrefix(c.SignedMethod.Alg(), "ES")
}

func (c *JWTCodec) isRsOrPS() bool {
	isRs := strings.HasPrefix(c.SignedMethod.Alg(), "RS")
	isPs := strings.HasPrefix(c.SignedMethod.Alg(), "PS")
	return isRs || isPs
}

func (c *JWTCodec) isHs() bool { return strings.HasPrefix(c.SignedMethod.Alg(), "HS") }
func (c *JWTCodec) isEd() bool { return strings.HasPrefix(c.SignedMethod.Alg(), "Ed") }
