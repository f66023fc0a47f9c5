package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ClientType distinguishes confidential from public OAuth clients.
type ClientType string

const (
	ClientConfidential ClientType = "confidential"
	ClientPublic       ClientType = "public"
)

// Client is a registered OAuth client. Public clients carry no secret and are
// trusted on their public identifier alone; confidential clients store a
// bcrypt hash of their secret. Records are immutable after registration.
type Client struct {
	ID                   string        `gorm:"column:id;primaryKey" json:"id"`
	SecretHash           string        `gorm:"column:secret_hash" json:"-"`
	Type                 ClientType    `gorm:"column:client_type;not null" json:"client_type"`
	RedirectURIs         []string      `gorm:"column:redirect_uris;serializer:json" json:"redirect_uris"`
	AccessTokenDuration  time.Duration `gorm:"column:access_token_duration" json:"access_token_duration"`
	RefreshTokenDuration time.Duration `gorm:"column:refresh_token_duration" json:"refresh_token_duration"`
	CreatedAt            time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt            time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (Client) TableName() string { return "oauth_clients" }

// NewConfidentialClient registers a confidential client, hashing the secret
// with bcrypt. Token durations of zero fall back to server defaults at
// issuance time.
func NewConfidentialClient(id, secret string, redirectURIs []string, accessDur, refreshDur time.Duration) (*Client, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &Client{
		ID:                   id,
		SecretHash:           string(hash),
		Type:                 ClientConfidential,
		RedirectURIs:         redirectURIs,
		AccessTokenDuration:  accessDur,
		RefreshTokenDuration: refreshDur,
	}, nil
}

// NewPublicClient registers a public (secretless) client.
func NewPublicClient(id string, redirectURIs []string, accessDur, refreshDur time.Duration) *Client {
	return &Client{
		ID:                   id,
		Type:                 ClientPublic,
		RedirectURIs:         redirectURIs,
		AccessTokenDuration:  accessDur,
		RefreshTokenDuration: refreshDur,
	}
}

// Public reports whether the client is a public client.
func (c *Client) Public() bool { return c.Type == ClientPublic }

// AuthenticateSecret verifies a presented client secret. Public clients are
// trusted on their identifier alone, so any presented secret is ignored.
func (c *Client) AuthenticateSecret(secret string) bool {
	if c.Public() {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)) == nil
}

// AllowsRedirectURI reports whether uri exactly matches a registered
// redirect URI.
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}
