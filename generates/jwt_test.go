package generates

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dickdavis/token-authority-sub001/errors"
)

func testCodec() *JWTCodec {
	return NewJWTCodec("test-kid", []byte("00000000"), jwt.SigningMethodHS256)
}

func testClaims() *TokenClaims {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://issuer.example.com",
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{"https://api.example.com"},
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        "0b81a6b4-13fd-48e2-a1a8-7b21bd1c75a9",
		},
		ClientID: "client-1",
		Scope:    "read write",
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := testCodec()
	token, err := codec.Encode(testClaims())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("not a compact JWT: %q", token)
	}

	claims, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if claims.Issuer != "https://issuer.example.com" || claims.Subject != "user-1" {
		t.Errorf("claims lost in round trip: %+v", claims)
	}
	if claims.ID != "0b81a6b4-13fd-48e2-a1a8-7b21bd1c75a9" {
		t.Errorf("jti lost: %q", claims.ID)
	}
	if claims.Scope != "read write" || claims.ClientID != "client-1" {
		t.Errorf("custom claims lost: scope=%q client_id=%q", claims.Scope, claims.ClientID)
	}
}

func TestDecodeRejectsTamperedSignature(t *testing.T) {
	codec := testCodec()
	token, err := codec.Encode(testClaims())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tampered := token[:len(token)-2] + "xx"
	if _, err := codec.Decode(tampered); !errors.Is(err, errors.ErrInvalidToken) {
		t.Errorf("tampered token: got %v, want ErrInvalidToken", err)
	}
}

func TestDecodeRejectsForeignKey(t *testing.T) {
	token, err := testCodec().Encode(testClaims())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	other := NewJWTCodec("test-kid", []byte("11111111"), jwt.SigningMethodHS256)
	if _, err := other.Decode(token); !errors.Is(err, errors.ErrInvalidToken) {
		t.Errorf("foreign-key token: got %v, want ErrInvalidToken", err)
	}
}

func TestDecodeDoesNotEnforceExpiry(t *testing.T) {
	codec := testCodec()
	claims := testClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	token, err := codec.Encode(claims)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Expiry classification belongs to the claim validator, so decoding an
	// expired token must succeed.
	if _, err := codec.Decode(token); err != nil {
		t.Errorf("expired token failed to decode: %v", err)
	}
}

func TestDecodeRejectsAlgorithmSubstitution(t *testing.T) {
	none := jwt.NewWithClaims(jwt.SigningMethodNone, testClaims())
	token, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}

	if _, err := testCodec().Decode(token); !errors.Is(err, errors.ErrInvalidToken) {
		t.Errorf("alg=none token: got %v, want ErrInvalidToken", err)
	}
}
