// Package errors defines the OAuth error taxonomy shared by the token
// lifecycle engine and the HTTP layer. Sentinel values map onto the stable
// RFC 6749 error codes; internal detail never leaks into responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// New returns an error that formats as the given text.
func New(text string) error { return errors.New(text) }

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Client-facing errors keyed to OAuth error codes.
var (
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrInvalidClient        = errors.New("invalid_client")
	ErrInvalidGrant         = errors.New("invalid_grant")
	ErrInvalidScope         = errors.New("invalid_scope")
	ErrInvalidTarget        = errors.New("invalid_target")
	ErrInvalidToken         = errors.New("invalid_token")
	ErrUnauthorizedToken    = errors.New("unauthorized_token")
	ErrExpiredToken         = errors.New("expired_token")
	ErrUnauthorizedClient   = errors.New("unauthorized_client")
	ErrUnsupportedGrantType = errors.New("unsupported_grant_type")
	ErrServerError          = errors.New("server_error")
)

// ErrUnsuccessfulChallenge reports a PKCE verifier that does not match the
// stored code challenge. Externally it surfaces as invalid_grant.
var ErrUnsuccessfulChallenge = fmt.Errorf("%w: code verifier does not match challenge", ErrInvalidGrant)

// Descriptions error description mapping.
var Descriptions = map[error]string{
	ErrInvalidRequest:       "The request is missing a required parameter or is otherwise malformed",
	ErrInvalidClient:        "Client authentication failed",
	ErrInvalidGrant:         "The provided authorization grant or refresh token is invalid, expired, or revoked",
	ErrInvalidScope:         "The requested scope is invalid, unknown, or exceeds the scope granted",
	ErrInvalidTarget:        "The requested resource is invalid, unknown, or exceeds the resources granted",
	ErrInvalidToken:         "The access token is invalid",
	ErrUnauthorizedToken:    "The access token is not authorized",
	ErrExpiredToken:         "The access token has expired",
	ErrUnauthorizedClient:   "The client is not authorized to use this grant type",
	ErrUnsupportedGrantType: "The authorization grant type is not supported",
	ErrServerError:          "The authorization server encountered an unexpected condition",
}

// StatusCodes error status code mapping.
var StatusCodes = map[error]int{
	ErrInvalidRequest:       http.StatusBadRequest,
	ErrInvalidClient:        http.StatusUnauthorized,
	ErrInvalidGrant:         http.StatusBadRequest,
	ErrInvalidScope:         http.StatusBadRequest,
	ErrInvalidTarget:        http.StatusBadRequest,
	ErrInvalidToken:         http.StatusUnauthorized,
	ErrUnauthorizedToken:    http.StatusUnauthorized,
	ErrExpiredToken:         http.StatusUnauthorized,
	ErrUnauthorizedClient:   http.StatusUnauthorized,
	ErrUnsupportedGrantType: http.StatusBadRequest,
	ErrServerError:          http.StatusInternalServerError,
}

// Response the OAuth error response shape returned by the token endpoint.
type Response struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

// sentinels ordered so that the most specific codes win when an error wraps
// more than one of them.
var sentinels = []error{
	ErrInvalidClient,
	ErrUnauthorizedClient,
	ErrUnsupportedGrantType,
	ErrInvalidScope,
	ErrInvalidTarget,
	ErrInvalidGrant,
	ErrExpiredToken,
	ErrUnauthorizedToken,
	ErrInvalidToken,
	ErrInvalidRequest,
	ErrServerError,
}

// ToResponse maps any engine error to a stable OAuth error response. Replay
// detection and other security errors deliberately collapse into the generic
// invalid_grant response; unknown errors become server_error.
func ToResponse(err error) Response {
	var rs *RevokedSessionError
	if errors.As(err, &rs) {
		return Response{
			Error:       ErrInvalidGrant.Error(),
			Description: Descriptions[ErrInvalidGrant],
			Status:      StatusCodes[ErrInvalidGrant],
		}
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			code := s
			// expired_token and unauthorized_token are internal distinctions;
			// resource servers see invalid_token / unauthorized_token per the
			// protection contract, the token endpoint sees invalid_grant.
			if s == ErrExpiredToken {
				code = ErrInvalidToken
			}
			return Response{
				Error:       code.Error(),
				Description: Descriptions[s],
				Status:      StatusCodes[s],
			}
		}
	}
	return Response{
		Error:       ErrServerError.Error(),
		Description: Descriptions[ErrServerError],
		Status:      StatusCodes[ErrServerError],
	}
}

// RevokedSessionError reports detected refresh-token replay or client
// mismatch. The carried identifiers feed the audit log; callers must emit the
// generic invalid_grant response instead of exposing the payload.
type RevokedSessionError struct {
	ClientID           string
	UserID             string
	RefreshedSessionID string
	RevokedSessionID   string
}

func (e *RevokedSessionError) Error() string {
	return fmt.Sprintf("revoked session: client=%s replayed_session=%s revoked_session=%s",
		e.ClientID, e.RefreshedSessionID, e.RevokedSessionID)
}

// Unwrap lets errors.Is(err, ErrInvalidGrant) hold for replay errors so
// generic handling stays correct even when the caller forgets the As check.
func (e *RevokedSessionError) Unwrap() error { return ErrInvalidGrant }
