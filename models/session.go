package models

import "time"

// SessionStatus is the state of an issued token pair.
//
// created is the sole active state. refreshed and expired are terminal for
// the instance; revoked is terminal and absorbing: a created or refreshed
// session can still move to revoked as a side effect of replay detection or
// claim validation failure.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionRefreshed SessionStatus = "refreshed"
	SessionExpired   SessionStatus = "expired"
	SessionRevoked   SessionStatus = "revoked"
)

// Terminal reports whether no further transition except the revocation
// cascade is permitted.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionRefreshed, SessionExpired, SessionRevoked:
		return true
	case SessionCreated:
		return false
	}
	return false
}

// Session records an issued access/refresh token pair. Only the jti values
// are stored; the token material exists solely inside the signed JWTs, which
// keeps revocation an O(1) jti lookup. Successive refreshes form a lineage of
// sessions rooted at one grant, with at most one in created status.
type Session struct {
	ID         string        `gorm:"column:id;primaryKey" json:"id"`
	GrantID    string        `gorm:"column:grant_id;index;not null" json:"grant_id"`
	AccessJTI  string        `gorm:"column:access_jti;uniqueIndex;not null" json:"access_jti"`
	RefreshJTI string        `gorm:"column:refresh_jti;uniqueIndex;not null" json:"refresh_jti"`
	Status     SessionStatus `gorm:"column:status;not null;default:created" json:"status"`
	CreatedAt  time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (Session) TableName() string { return "oauth_sessions" }

// NewSession mints a created-status session with fresh jti values for a
// grant lineage.
func NewSession(grantID string, now time.Time) *Session {
	return &Session{
		ID:         NewID(),
		GrantID:    grantID,
		AccessJTI:  NewID(),
		RefreshJTI: NewID(),
		Status:     SessionCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
