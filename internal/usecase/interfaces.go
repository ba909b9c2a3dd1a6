package usecase

import (
	"context"
	"time"

	"certnode/internal/domain"
)

// Envelopes signs and verifies receipt envelopes.
type Envelopes interface {
	Sign(doc domain.Document, signer domain.Signer) (domain.Receipt, error)
	Verify(ctx context.Context, env domain.Envelope, keys domain.KeyProvider) (domain.Verification, error)
}

// SignerSource yields the signer used for new receipts.
type SignerSource interface {
	Active() (domain.Signer, error)
}

type VerificationCache interface {
	Get(ctx context.Context, key string) (*domain.Verification, bool, error)
	Put(ctx context.Context, key string, value domain.Verification, ttl time.Duration) error
}

// PatternEngine evaluates externally defined pattern rules.
type PatternEngine interface {
	Patterns() []string
	Evaluate(ctx context.Context, pattern string, in *PatternInput) ([]domain.PatternMatch, error)
}

type Metrics interface {
	ReceiptCreated(d domain.ReceiptDomain)
	LinkResult(rel domain.RelationType, outcome string)
	VerificationResult(reason domain.VerificationReason, cached bool)
	PatternMatches(pattern string, n int)
}

type nopMetrics struct{}

func (nopMetrics) ReceiptCreated(domain.ReceiptDomain)                {}
func (nopMetrics) LinkResult(domain.RelationType, string)             {}
func (nopMetrics) VerificationResult(domain.VerificationReason, bool) {}
func (nopMetrics) PatternMatches(string, int)                         {}
