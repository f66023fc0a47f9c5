package server

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dickdavis/token-authority-sub001/manage"
)

// AppConfig defines application configuration loaded from files and environment.
type AppConfig struct {
	Env      string         `koanf:"env"`
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Valkey   ValkeyConfig   `koanf:"valkey"`
	Signing  SigningConfig  `koanf:"signing"`
	Token    TokenConfig    `koanf:"token"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type DatabaseConfig struct {
	DSN string `koanf:"dsn"`
}

type ValkeyConfig struct {
	Addr   string `koanf:"addr"`
	Prefix string `koanf:"prefix"`
}

type SigningConfig struct {
	KeyID  string `koanf:"key_id"`
	Secret string `koanf:"secret"`
	Method string `koanf:"method"`
}

type TokenConfig struct {
	Issuer               string            `koanf:"issuer"`
	DefaultAudience      string            `koanf:"default_audience"`
	ScopeAllowlist       []string          `koanf:"scope_allowlist"`
	ScopeDisplayNames    map[string]string `koanf:"scope_display_names"`
	ResourceAllowlist    []string          `koanf:"resource_allowlist"`
	ResourceDisplayNames map[string]string `koanf:"resource_display_names"`
	AccessTokenTTL       time.Duration     `koanf:"access_token_ttl"`
	RefreshTokenTTL      time.Duration     `koanf:"refresh_token_ttl"`
	GrantTTL             time.Duration     `koanf:"grant_ttl"`
	RequireScope         bool              `koanf:"require_scope"`
	RequireResource      bool              `koanf:"require_resource"`
	AllowPlainPKCE       bool              `koanf:"allow_plain_pkce"`
}

var (
	cfgOnce sync.Once
	cfgInst *AppConfig
)

// GetConfig loads and returns the singleton AppConfig. Loading order:
// 1) config/config.yaml (optional)
// 2) config/config.<APP_ENV>.yaml (optional), APP_ENV defaults to "local"
// 3) Environment variables with prefix TA_ mapped using __ as nested separator, e.g. TA_DATABASE__DSN
func GetConfig() *AppConfig {
	cfgOnce.Do(func() {
		k := koanf.New(".")
		// Config directory (CONFIG_DIR) default ./config
		configDir := os.Getenv("CONFIG_DIR")
		if configDir == "" {
			configDir = "config"
		}
		// Whether to load files (default: disabled to keep tests isolated)
		loadFiles := strings.EqualFold(os.Getenv("APP_CONFIG_FILES"), "1") || strings.EqualFold(os.Getenv("APP_CONFIG_FILES"), "true")
		// 1) base file
		if loadFiles {
			base := filepath.Join(configDir, "config.yaml")
			if _, err := os.Stat(base); err == nil {
				if err := k.Load(file.Provider(base), yaml.Parser()); err != nil {
					log.Printf("config: failed loading base: %v", err)
				}
			}
		}
		// 2) env-specific file
		envName := os.Getenv("APP_ENV")
		if envName == "" {
			envName = "local"
		}
		if loadFiles {
			envFile := filepath.Join(configDir, "config."+envName+".yaml")
			if _, err := os.Stat(envFile); err == nil {
				if err := k.Load(file.Provider(envFile), yaml.Parser()); err != nil {
					log.Printf("config: failed loading env file: %v", err)
				}
			}
		}
		// 3) env vars: TA_ prefix, __ delim for nesting
		_ = k.Load(env.Provider("TA_", ".", func(s string) string {
			// TA_DATABASE__DSN -> database.dsn
			return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "TA_")), "__", ".")
		}), nil)

		var c AppConfig
		if err := k.Unmarshal("", &c); err != nil {
			log.Printf("config: unmarshal error: %v", err)
		}
		if c.Env == "" {
			c.Env = envName
		}
		cfgInst = &c
	})
	return cfgInst
}

// DatabaseDSN returns the effective DSN (config first, then env fallback to MIGRATE_DSN).
func (c *AppConfig) DatabaseDSN() string {
	if c != nil && c.Database.DSN != "" {
		return strings.TrimSpace(c.Database.DSN)
	}
	dsn := strings.TrimSpace(os.Getenv("DATABASE_DSN"))
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("MIGRATE_DSN"))
	}
	return dsn
}

// ManageConfig converts the loaded application configuration into the
// lifecycle engine's policy value, applying defaults for unset lifetimes.
func (c *AppConfig) ManageConfig() manage.Config {
	cfg := manage.DefaultConfig()
	cfg.Issuer = c.Token.Issuer
	cfg.DefaultAudience = c.Token.DefaultAudience
	cfg.ScopeAllowlist = c.Token.ScopeAllowlist
	cfg.ScopeDisplayNames = c.Token.ScopeDisplayNames
	cfg.ResourceAllowlist = c.Token.ResourceAllowlist
	cfg.ResourceDisplayNames = c.Token.ResourceDisplayNames
	if c.Token.AccessTokenTTL > 0 {
		cfg.AccessTokenDuration = c.Token.AccessTokenTTL
	}
	if c.Token.RefreshTokenTTL > 0 {
		cfg.RefreshTokenDuration = c.Token.RefreshTokenTTL
	}
	if c.Token.GrantTTL > 0 {
		cfg.GrantTTL = c.Token.GrantTTL
	}
	cfg.RequireScope = c.Token.RequireScope
	cfg.RequireResource = c.Token.RequireResource
	cfg.AllowPlainPKCE = c.Token.AllowPlainPKCE
	return cfg
}
