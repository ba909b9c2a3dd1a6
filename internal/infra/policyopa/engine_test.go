package policyopa

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certnode/internal/domain"
	"certnode/internal/usecase"
)

const bundleDir = "../../../policy/patterns"

func ops(id, event string) domain.Receipt {
	return domain.Receipt{ID: id, Domain: domain.DomainOperations, Data: domain.OperationsData{EventType: event}}
}

func edge(parent, child string, t domain.RelationType) domain.Relationship {
	return domain.Relationship{ID: parent + ">" + child, ParentReceiptID: parent, ChildReceiptID: child, RelationType: t}
}

func TestEngine_ReferenceBundle(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, bundleDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"incident_after_delivery", "refund_without_transaction"}, engine.Patterns())
	assert.NotEmpty(t, engine.Digest())

	tx := domain.Receipt{ID: "tx", Domain: domain.DomainTransaction, Data: domain.TransactionData{Amount: 10}}
	receipts := []domain.Receipt{
		tx,
		ops("refund-ok", domain.EventRefund),
		ops("refund-orphan", domain.EventRefund),
		ops("delivery", domain.EventDelivery),
		ops("incident", domain.EventIncident),
		ops("incident-alone", domain.EventIncident),
	}
	rels := []domain.Relationship{
		edge("tx", "refund-ok", domain.RelationInvalidates),
		edge("tx", "delivery", domain.RelationFulfills),
		edge("delivery", "incident", domain.RelationReferences),
	}
	in := usecase.NewPatternInput(receipts, rels, usecase.DefaultPatternOptions())

	refunds, err := engine.Evaluate(ctx, "refund_without_transaction", in)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, "refund-orphan", refunds[0].ReceiptID)
	assert.Equal(t, domain.RiskHigh, refunds[0].RiskLevel)
	assert.Equal(t, "refund_without_transaction", refunds[0].Pattern)

	incidents, err := engine.Evaluate(ctx, "incident_after_delivery", in)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, "incident", incidents[0].ReceiptID)
	assert.Len(t, incidents[0].Evidence, 1)

	_, err = engine.Evaluate(ctx, "nope", in)
	assert.True(t, errors.Is(err, domain.ErrPatternUnknown))
}

func TestEngine_RegistersIntoRegistry(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, bundleDir)
	require.NoError(t, err)

	reg := usecase.DefaultPatternRegistry(usecase.DefaultPatternOptions())
	require.NoError(t, reg.RegisterEngine(engine))
	assert.Contains(t, reg.Names(), "refund_without_transaction")
	assert.Error(t, reg.RegisterEngine(engine), "second registration must collide")

	matches, err := reg.Detect(ctx, "refund_without_transaction", []domain.Receipt{ops("r", domain.EventRefund)}, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "r", matches[0].ReceiptID)
}

func TestEngine_RejectsImpureBuiltins(t *testing.T) {
	cases := map[string]string{
		"clock": `package certnode.patterns.clock
matches[m] { m := {"receipt_id": "x", "risk_level": "low", "risk_score": time.now_ns()} }`,
		"network": `package certnode.patterns.network
matches[m] { r := http.send({"method": "GET", "url": "http://example.com"}); m := {"receipt_id": r.body, "risk_level": "low", "risk_score": 0} }`,
		"random": `package certnode.patterns.random
matches[m] { n := rand.intn("seed", 10); m := {"receipt_id": "x", "risk_level": "low", "risk_score": n} }`,
	}
	for name, module := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewEngineFromModules(context.Background(), map[string]string{name + ".rego": module})
			assert.Error(t, err)
		})
	}
}

func TestEngine_RejectsBadMatches(t *testing.T) {
	module := `package certnode.patterns.loud
matches[m] { input.receipts[id]; m := {"receipt_id": id, "risk_level": "catastrophic", "risk_score": 1} }`
	engine, err := NewEngineFromModules(context.Background(), map[string]string{"loud.rego": module})
	require.NoError(t, err)

	in := usecase.NewPatternInput([]domain.Receipt{ops("a", domain.EventReview)}, nil, usecase.DefaultPatternOptions())
	_, err = engine.Evaluate(context.Background(), "loud", in)
	assert.ErrorContains(t, err, "unknown risk level")
}

func TestEngine_RequiresPatternPackages(t *testing.T) {
	_, err := NewEngineFromModules(context.Background(), map[string]string{
		"other.rego": "package other\nallow { true }",
	})
	assert.ErrorContains(t, err, "no packages")
}

func TestBundleDigest_IgnoresNoise(t *testing.T) {
	base := fstest.MapFS{
		"a.rego":    {Data: []byte("package certnode.patterns.a")},
		"data.json": {Data: []byte(`{}`)},
	}
	noisy := fstest.MapFS{
		"a.rego":              {Data: []byte("package certnode.patterns.a")},
		"data.json":           {Data: []byte(`{}`)},
		"README.md":           {Data: []byte("notes")},
		".git/HEAD":           {Data: []byte("ref")},
		"vendor/x.rego":       {Data: []byte("package vendored")},
		"__MACOSX/._a.rego":   {Data: []byte("junk")},
		"nested/.hidden.rego": {Data: []byte("package hidden")},
	}
	want, err := BundleDigestFS(base)
	require.NoError(t, err)
	got, err := BundleDigestFS(noisy)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	base["a.rego"] = &fstest.MapFile{Data: []byte("package certnode.patterns.b")}
	changed, err := BundleDigestFS(base)
	require.NoError(t, err)
	assert.NotEqual(t, want, changed)
}

func TestBundleDigest_MatchesLoadedEngine(t *testing.T) {
	digest, err := BundleDigest(bundleDir)
	require.NoError(t, err)
	assert.Len(t, digest, 43, "b64url sha-256")

	engine, err := NewEngine(context.Background(), bundleDir)
	require.NoError(t, err)
	assert.Equal(t, digest, engine.Digest())

	fromModules, err := NewEngineFromModules(context.Background(), map[string]string{
		"refund_without_transaction.rego": "package certnode.patterns.refund_without_transaction\nmatches[m] { false; m := {} }",
	})
	require.NoError(t, err)
	assert.NotEqual(t, digest, fromModules.Digest())
}
