package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dickdavis/token-authority-sub001/generates"
	"github.com/dickdavis/token-authority-sub001/manage"
	"github.com/dickdavis/token-authority-sub001/migrate"
	"github.com/dickdavis/token-authority-sub001/security"
	"github.com/dickdavis/token-authority-sub001/seed"
	"github.com/dickdavis/token-authority-sub001/server"
	"github.com/dickdavis/token-authority-sub001/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := server.GetConfig()

	if err := migrate.RunFromEnv(); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	if err := seed.RunFromEnv(); err != nil {
		logger.Error("seeding failed", "error", err)
		os.Exit(1)
	}

	clients, grants, sessions, err := buildStores(cfg, logger)
	if err != nil {
		logger.Error("store setup failed", "error", err)
		os.Exit(1)
	}

	method := jwt.GetSigningMethod(cfg.Signing.Method)
	if method == nil {
		method = jwt.SigningMethodHS256
	}
	codec := generates.NewJWTCodec(cfg.Signing.KeyID, []byte(cfg.Signing.Secret), method)

	manager := manage.NewManager(cfg.ManageConfig(), clients, grants, sessions, codec)
	manager.Logger = logger
	manager.Auditor = security.NewAuditor(logger, true)

	if cfg.Valkey.Addr != "" {
		cache, err := store.NewValkeyRevokedJTICache(cfg.Valkey.Addr, cfg.Valkey.Prefix, cfg.Token.RefreshTokenTTL)
		if err != nil {
			logger.Error("valkey setup failed", "error", err)
			os.Exit(1)
		}
		defer cache.Close()
		manager.Revoked = cache
	}

	srv := server.NewServer(manager)
	srv.Logger = logger

	engine := gin.New()
	engine.Use(gin.Recovery())
	srv.Routes(engine)

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":9096"
	}
	logger.Info("token authority listening", "addr", addr, "env", cfg.Env)
	if err := engine.Run(addr); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// buildStores connects to Postgres when a DSN is configured and falls back to
// the embedded buntdb store for standalone runs.
func buildStores(cfg *server.AppConfig, logger *slog.Logger) (store.ClientStore, store.GrantStore, store.SessionStore, error) {
	dsn := cfg.DatabaseDSN()
	if dsn == "" {
		logger.Info("no database configured, using embedded store")
		bunt, err := store.NewMemoryStore()
		if err != nil {
			return nil, nil, nil, err
		}
		return store.NewClientStore(), bunt.Grants(), bunt.Sessions(), nil
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return store.NewDBClientStore(db), store.NewDBGrantStore(db), store.NewDBSessionStore(db), nil
}
