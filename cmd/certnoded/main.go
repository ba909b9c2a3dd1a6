package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"certnode/internal/app"
	"certnode/internal/config"
	"certnode/internal/domain"
	"certnode/internal/infra/db"
	httpinfra "certnode/internal/infra/http"
	"certnode/internal/infra/keys/jwks"
	"certnode/internal/infra/keys/soft"
	"certnode/internal/infra/keys/vault"
	"certnode/internal/infra/metrics"
	"certnode/internal/infra/ratelimit"
	"certnode/internal/infra/sqlitestore"
	"certnode/pkg/logger"
)

func main() {
	cfg := config.FromEnv()
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	keys, err := signingKeys(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	var verifyKeys domain.KeyProvider = keys
	if cfg.JWKSURL != "" {
		verifyKeys = jwks.NewProvider(cfg.JWKSURL, nil, cfg.JWKSCacheTTL())
		log.Info("verifying against remote jwks", zap.String("url", cfg.JWKSURL))
	}

	ledger, storage, closeLedger, err := openLedger(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLedger()

	recorder := metrics.NewRecorder()
	svc, err := app.NewReceiptService(ctx, cfg, app.Deps{
		Ledger:  ledger,
		Signers: keys,
		Keys:    verifyKeys,
		Metrics: recorder,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	limiter, err := newRateLimiter(cfg)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Receipts:    svc,
		JWKS:        keys,
		Metrics:     recorder,
		RateLimiter: limiter,
		Logger:      log,
		Storage:     storage,
	})
	return srv.Run(ctx)
}

// signingKeys loads the issuer key from Vault when VAULT_ADDR is set, then
// from the environment, and generates an ephemeral key as a last resort.
func signingKeys(ctx context.Context, cfg config.Config, log *zap.Logger) (*soft.Manager, error) {
	if cfg.VaultAddr != "" {
		store, err := vault.NewKeyStoreFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		signer, created, err := store.LoadOrCreate(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("signing key loaded from vault",
			zap.String("path", store.Path()),
			zap.String("kid", signer.KID()),
			zap.Bool("created", created))
		return soft.NewManager(signer), nil
	}
	keys, ephemeral, err := soft.NewManagerFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if ephemeral {
		log.Warn("no signing key configured, using an ephemeral ES256 key")
	}
	return keys, nil
}

// openLedger prefers Postgres when POSTGRES_DSN is set and falls back to the
// SQLite file at SQLITE_PATH.
func openLedger(ctx context.Context, cfg config.Config, log *zap.Logger) (app.Ledger, string, func(), error) {
	store, err := db.NewStore(cfg, log)
	if err != nil {
		return nil, "", nil, fmt.Errorf("postgres: %w", err)
	}
	if store.Enabled() {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, "", nil, fmt.Errorf("postgres migrate: %w", err)
		}
		return store.Receipts(), "postgres", func() { store.Close() }, nil
	}

	ledger, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		return nil, "", nil, err
	}
	log.Info("using sqlite ledger", zap.String("path", cfg.SQLitePath))
	return ledger, "sqlite", func() { ledger.Close() }, nil
}

func newRateLimiter(cfg config.Config) (domain.RateLimiter, error) {
	if cfg.RateLimitRequests <= 0 {
		return nil, nil
	}
	if cfg.RedisAddr != "" {
		limiter, err := ratelimit.NewRedis(ratelimit.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return limiter, nil
	}
	return ratelimit.NewMemory(ratelimit.MemoryOptions{MaxKeys: cfg.RateLimitMaxKeys}), nil
}
