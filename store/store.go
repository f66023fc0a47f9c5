// Package store persists clients, authorization grants, and token sessions.
// The durable store is the synchronization point for the lifecycle engine:
// grant redemption and session rotation are conditional updates, so the
// single-writer-wins invariants hold across server instances without
// in-process locks.
package store

import (
	"context"
	"errors"

	"github.com/dickdavis/token-authority-sub001/models"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("not found")

// ClientStore resolves registered OAuth clients.
type ClientStore interface {
	GetByID(ctx context.Context, id string) (*models.Client, error)
}

// GrantStore persists authorization grants and owns the single-use
// redemption compare-and-set.
type GrantStore interface {
	Create(ctx context.Context, grant *models.AuthorizationGrant) error
	GetByID(ctx context.Context, id string) (*models.AuthorizationGrant, error)
	GetByCode(ctx context.Context, code string) (*models.AuthorizationGrant, error)
	// Redeem flips redeemed false->true. It reports whether this caller won
	// the transition; concurrent callers observe false, never an error.
	Redeem(ctx context.Context, id string) (bool, error)
}

// SessionStore persists token sessions and owns the rotation and
// revocation-cascade transitions.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetByAccessJTI(ctx context.Context, jti string) (*models.Session, error)
	GetByRefreshJTI(ctx context.Context, jti string) (*models.Session, error)
	// ActiveForGrant returns every created-status session for a grant
	// lineage. The engine asserts at most one exists.
	ActiveForGrant(ctx context.Context, grantID string) ([]*models.Session, error)
	// Rotate atomically moves the session created->refreshed and inserts its
	// successor in the same transaction. It reports whether the rotation won;
	// a false result means the session was no longer in created status.
	Rotate(ctx context.Context, sessionID string, successor *models.Session) (bool, error)
	// MarkExpired moves a created-status session to expired. Terminal
	// sessions are left untouched.
	MarkExpired(ctx context.Context, sessionID string) error
	// RevokeCascade marks every given session revoked in one transaction so
	// a half-revoked pair is never observable.
	RevokeCascade(ctx context.Context, sessionIDs ...string) error
}

// RevokedJTICache is an optional fast-path index of revoked jti values
// consulted during access-token validation. Implementations must treat
// lookups as advisory; the session store remains authoritative.
type RevokedJTICache interface {
	Add(ctx context.Context, jti string) error
	Contains(ctx context.Context, jti string) (bool, error)
}
