package cli

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"

	"certnode/internal/app"
	"certnode/internal/config"
	"certnode/internal/domain"
	"certnode/internal/infra/keys/jwks"
	"certnode/internal/infra/keys/soft"
	"certnode/internal/infra/sqlitestore"
	"certnode/internal/usecase"
)

// session is a ReceiptService replayed from the ledger for one command.
type session struct {
	svc    *usecase.ReceiptService
	ledger *sqlitestore.Store
}

func (s *session) Close() error {
	return s.ledger.Close()
}

// openSession replays the ledger. With withSigner the key file is loaded, or
// created on first use, and becomes the active signer.
func openSession(ctx context.Context, opts *RootOptions, p *printer, withSigner bool) (*session, error) {
	var signers usecase.SignerSource
	var keys domain.KeyProvider
	if withSigner {
		m, err := signerFromKeyFile(opts, p)
		if err != nil {
			return nil, err
		}
		signers, keys = m, m
	}
	if opts.JWKSFile != "" {
		static, err := jwks.LoadStatic(opts.JWKSFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load jwks", err)
		}
		keys = static
	} else if keys == nil {
		m, err := verifierFromKeyFile(opts)
		if err != nil {
			return nil, err
		}
		if m != nil {
			keys = m
		}
	}

	ledger, err := sqlitestore.Open(opts.Ledger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	cfg := config.FromEnv()
	cfg.SQLitePath = opts.Ledger
	cfg.TrustPolicyPath = opts.TrustPolicy
	cfg.PatternBundlePath = opts.PatternBundle

	svc, err := app.NewReceiptService(ctx, cfg, app.Deps{
		Ledger:  ledger,
		Signers: signers,
		Keys:    keys,
		Logger:  zap.NewNop(),
	})
	if err != nil {
		ledger.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load ledger", err)
	}
	p.logf("ledger %s: %d receipts", opts.Ledger, svc.Graph.Len())
	return &session{svc: svc, ledger: ledger}, nil
}

func signerFromKeyFile(opts *RootOptions, p *printer) (*soft.Manager, error) {
	signer, created, err := soft.LoadOrCreateKeyFile(opts.KeyFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load signing key", err)
	}
	if created {
		p.logf("generated signing key %s (kid %s)", opts.KeyFile, signer.KID())
	}
	return soft.NewManager(signer), nil
}

// verifierFromKeyFile returns nil without error when the key file is absent,
// leaving verification to fail with a key lookup error.
func verifierFromKeyFile(opts *RootOptions) (*soft.Manager, error) {
	data, err := os.ReadFile(opts.KeyFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read key", err)
	}
	signer, err := soft.ParsePrivateKeyPEM(data, "")
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to parse key", err)
	}
	return soft.NewManager(signer), nil
}

// keyProvider resolves verification keys without opening the ledger.
func keyProvider(opts *RootOptions) (domain.KeyProvider, error) {
	if opts.JWKSFile != "" {
		static, err := jwks.LoadStatic(opts.JWKSFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load jwks", err)
		}
		return static, nil
	}
	m, err := verifierFromKeyFile(opts)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, NewExitError(ExitCommandError, "no verification key: pass --jwks or an existing --key")
	}
	return m, nil
}
