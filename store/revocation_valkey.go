package store

import (
	"context"
	"fmt"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

const revokedJTIKeyPrefix = "revoke:jti:"

// ValkeyRevokedJTICache caches revoked token identifiers in Valkey
// (Redis-compatible). This lets every server instance reject a revoked
// access token without a session lookup; the session store remains the
// source of truth when the cache misses.
type ValkeyRevokedJTICache struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
}

// NewValkeyRevokedJTICache creates a Valkey-backed revoked-jti cache.
// addr example: "127.0.0.1:6379"; prefix helps namespace keys. Entries live
// for ttl, which should cover the longest token lifetime in use.
func NewValkeyRevokedJTICache(addr string, prefix string, ttl time.Duration) (*ValkeyRevokedJTICache, error) {
	if addr == "" {
		return nil, fmt.Errorf("valkey address is required")
	}
	cli, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}
	if prefix == "" {
		prefix = "oauth2:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ValkeyRevokedJTICache{client: cli, prefix: prefix, ttl: ttl}, nil
}

func (c *ValkeyRevokedJTICache) key(jti string) string {
	return c.prefix + revokedJTIKeyPrefix + jti
}

// Close closes the Valkey connection.
func (c *ValkeyRevokedJTICache) Close() {
	c.client.Close()
}

// Add records a revoked jti.
func (c *ValkeyRevokedJTICache) Add(ctx context.Context, jti string) error {
	return c.client.Do(ctx, c.client.B().Set().Key(c.key(jti)).Value("1").Ex(c.ttl).Build()).Error()
}

// Contains reports whether a jti has been cached as revoked.
func (c *ValkeyRevokedJTICache) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := c.client.Do(ctx, c.client.B().Exists().Key(c.key(jti)).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
