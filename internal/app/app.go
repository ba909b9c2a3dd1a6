// Package app assembles a ReceiptService from configuration. The server and
// the CLI share it so both apply the same trust policy and pattern rules.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"certnode/internal/config"
	"certnode/internal/domain"
	"certnode/internal/graph"
	"certnode/internal/infra/cachemem"
	cryptoinfra "certnode/internal/infra/crypto"
	"certnode/internal/infra/policyopa"
	"certnode/internal/usecase"
)

// Ledger is a durable backing for the graph store.
type Ledger interface {
	graph.Journal
	graph.Source
}

type Deps struct {
	Ledger  Ledger
	Signers usecase.SignerSource
	Keys    domain.KeyProvider
	Metrics usecase.Metrics
	Logger  *zap.Logger
}

// NewReceiptService replays the ledger into a fresh graph and wires the trust
// engine, pattern registry and verification cache around it.
func NewReceiptService(ctx context.Context, cfg config.Config, deps Deps) (*usecase.ReceiptService, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	trust, err := TrustEngine(cfg)
	if err != nil {
		return nil, err
	}
	patterns, err := PatternRegistry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var opts []graph.Option
	if deps.Ledger != nil {
		opts = append(opts, graph.WithJournal(deps.Ledger))
	}
	store := graph.NewStore(opts...)
	if deps.Ledger != nil {
		if err := store.Load(ctx, deps.Ledger); err != nil {
			return nil, fmt.Errorf("replay ledger: %w", err)
		}
		logger.Info("ledger replayed", zap.Int("receipts", store.Len()))
	}

	return &usecase.ReceiptService{
		Graph:     store,
		Envelopes: cryptoinfra.NewService(),
		Signers:   deps.Signers,
		Keys:      deps.Keys,
		Trust:     trust,
		Patterns:  patterns,
		Cache:     cachemem.New(),
		CacheTTL:  cfg.VerifyCacheTTL(),
		Limits:    Limits(cfg),
		Metrics:   deps.Metrics,
		Logger:    logger,
	}, nil
}

// TrustEngine loads TRUST_POLICY_PATH, or the built-in weights when unset.
func TrustEngine(cfg config.Config) (*usecase.TrustEngine, error) {
	policy := usecase.DefaultTrustPolicy()
	if cfg.TrustPolicyPath != "" {
		var err error
		if policy, err = usecase.LoadTrustPolicy(cfg.TrustPolicyPath); err != nil {
			return nil, err
		}
	}
	return usecase.NewTrustEngine(policy)
}

// PatternRegistry holds the built-in rules plus any rule pack found at
// PATTERN_BUNDLE_PATH.
func PatternRegistry(ctx context.Context, cfg config.Config, logger *zap.Logger) (*usecase.PatternRegistry, error) {
	opts := usecase.DefaultPatternOptions()
	if cfg.HighValueThreshold > 0 {
		opts.HighValueThreshold = cfg.HighValueThreshold
	}
	registry := usecase.DefaultPatternRegistry(opts)
	if cfg.PatternBundlePath == "" {
		return registry, nil
	}
	engine, err := policyopa.NewEngine(ctx, cfg.PatternBundlePath)
	if err != nil {
		return nil, fmt.Errorf("pattern bundle: %w", err)
	}
	if err := registry.RegisterEngine(engine); err != nil {
		return nil, fmt.Errorf("pattern bundle: %w", err)
	}
	if logger != nil {
		logger.Info("pattern bundle loaded",
			zap.String("path", cfg.PatternBundlePath),
			zap.String("digest", engine.Digest()),
			zap.Strings("patterns", engine.Patterns()))
	}
	return registry, nil
}

func Limits(cfg config.Config) usecase.ServiceLimits {
	return usecase.ServiceLimits{
		GraphMaxDepth:      cfg.GraphMaxDepth,
		GraphMaxNodes:      cfg.GraphMaxNodes,
		PathMaxDepth:       cfg.PathMaxDepth,
		CrossProductWindow: cfg.CrossProductWindow(),
	}
}
