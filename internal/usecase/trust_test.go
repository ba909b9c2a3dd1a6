package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"certnode/internal/domain"
	"certnode/internal/graph"
)

func testReceipt(id string, d domain.ReceiptDomain) domain.Receipt {
	var data domain.Payload
	switch d {
	case domain.DomainContent:
		data = domain.ContentData{AssetHash: "sha256:" + id}
	case domain.DomainOperations:
		data = domain.OperationsData{EventType: domain.EventReview}
	default:
		data = domain.TransactionData{Amount: 100}
	}
	return domain.Receipt{ID: id, Domain: d, Data: data, ContentHash: "hash-" + id}
}

func insert(t *testing.T, s *graph.Store, r domain.Receipt, rel domain.RelationType, parents ...string) {
	t.Helper()
	links := make([]graph.LinkRequest, 0, len(parents))
	for _, p := range parents {
		links = append(links, graph.LinkRequest{ParentID: p, RelationType: rel})
	}
	if _, err := s.Insert(context.Background(), r, links); err != nil {
		t.Fatalf("insert %s: %v", r.ID, err)
	}
}

func TestTrustEngine_Levels(t *testing.T) {
	engine, err := NewTrustEngine(DefaultTrustPolicy())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	cases := map[float64]domain.TrustLevel{
		0.60:   domain.TrustLevelBasic,
		0.8499: domain.TrustLevelBasic,
		0.85:   domain.TrustLevelVerified,
		0.9499: domain.TrustLevelVerified,
		0.95:   domain.TrustLevelPlatinum,
		1.00:   domain.TrustLevelPlatinum,
	}
	for score, want := range cases {
		if got := engine.Level(score); got != want {
			t.Fatalf("score %v: expected %s, got %s", score, want, got)
		}
	}
}

func TestTrustEngine_LinkedDomainsIncludeDescendants(t *testing.T) {
	s := graph.NewStore()
	insert(t, s, testReceipt("tx", domain.DomainTransaction), "")
	insert(t, s, testReceipt("ops", domain.DomainOperations), domain.RelationFulfills, "tx")

	engine, _ := NewTrustEngine(DefaultTrustPolicy())
	a, err := engine.Assess(s.Snapshot(), "tx")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if a.Score != 0.75 {
		t.Fatalf("expected 0.75 with an operations descendant, got %v", a.Score)
	}
	if len(a.LinkedDomains) != 1 || a.LinkedDomains[0] != domain.DomainOperations {
		t.Fatalf("unexpected linked domains %v", a.LinkedDomains)
	}

	if _, err := engine.Assess(s.Snapshot(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTrustEngine_SnapshotIsolation(t *testing.T) {
	s := graph.NewStore()
	insert(t, s, testReceipt("tx", domain.DomainTransaction), "")
	before := s.Snapshot()
	insert(t, s, testReceipt("c", domain.DomainContent), "")
	if _, err := s.Link(context.Background(), graph.LinkRequest{ParentID: "c", ChildID: "tx", RelationType: domain.RelationEvidences}); err != nil {
		t.Fatalf("link: %v", err)
	}

	engine, _ := NewTrustEngine(DefaultTrustPolicy())
	old, _ := engine.Assess(before, "tx")
	cur, _ := engine.Assess(s.Snapshot(), "tx")
	if old.Score != 0.60 || cur.Score != 0.85 {
		t.Fatalf("expected 0.60 then 0.85, got %v then %v", old.Score, cur.Score)
	}
}

func TestTrustScore_MonotoneUnderNewParents(t *testing.T) {
	engine, _ := NewTrustEngine(DefaultTrustPolicy())
	rng := rand.New(rand.NewSource(20250314))
	for round := 0; round < 20; round++ {
		s := graph.NewStore()
		var ids []string
		for i := 0; i < 30; i++ {
			id := fmt.Sprintf("r%d-%d", round, i)
			d := domain.AllDomains[rng.Intn(len(domain.AllDomains))]
			var parents []string
			if len(ids) > 0 && rng.Intn(3) > 0 {
				parents = append(parents, ids[rng.Intn(len(ids))])
			}
			insert(t, s, testReceipt(id, d), domain.RelationCauses, parents...)
			ids = append(ids, id)
		}
		for step := 0; step < 10; step++ {
			target := ids[rng.Intn(len(ids))]
			before, err := engine.Assess(s.Snapshot(), target)
			if err != nil {
				t.Fatalf("assess: %v", err)
			}
			parentID := fmt.Sprintf("p%d-%d", round, step)
			d := domain.AllDomains[rng.Intn(len(domain.AllDomains))]
			insert(t, s, testReceipt(parentID, d), "")
			if _, err := s.Link(context.Background(), graph.LinkRequest{ParentID: parentID, ChildID: target, RelationType: domain.RelationEvidences}); err != nil {
				t.Fatalf("link: %v", err)
			}
			after, err := engine.Assess(s.Snapshot(), target)
			if err != nil {
				t.Fatalf("assess: %v", err)
			}
			if after.Score < before.Score {
				t.Fatalf("trust decreased for %s: %v -> %v", target, before.Score, after.Score)
			}
		}
	}
}

func TestParseTrustPolicy(t *testing.T) {
	doc := []byte(`
baseline: 0.50
cap: 0.90
rules:
  - name: content_linked
    when: linked_domain
    domain: content
    bonus: 0.30
  - name: deep
    when: min_depth
    min_depth: 2
    bonus: 0.25
tiers:
  - level: VERIFIED
    min: 0.80
`)
	policy, err := ParseTrustPolicy(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	engine, err := NewTrustEngine(policy)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	s := graph.NewStore()
	insert(t, s, testReceipt("c0", domain.DomainContent), "")
	insert(t, s, testReceipt("c1", domain.DomainContent), domain.RelationCauses, "c0")
	insert(t, s, testReceipt("tx", domain.DomainTransaction), domain.RelationEvidences, "c1")

	a, err := engine.Assess(s.Snapshot(), "tx")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if a.Score != 0.90 {
		t.Fatalf("expected capped 0.90, got %v", a.Score)
	}
	if a.Level != domain.TrustLevelVerified {
		t.Fatalf("expected VERIFIED, got %s", a.Level)
	}
}

func TestParseTrustPolicy_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":     "baseline: 0.6\ncap: 1\nweights: []\n",
		"baseline over cap": "baseline: 0.9\ncap: 0.8\n",
		"unknown condition": "baseline: 0.6\ncap: 1\nrules:\n  - name: x\n    when: sometimes\n    bonus: 0.1\n",
		"bad domain":        "baseline: 0.6\ncap: 1\nrules:\n  - name: x\n    when: linked_domain\n    domain: ledger\n    bonus: 0.1\n",
		"duplicate rule":    "baseline: 0.6\ncap: 1\nrules:\n  - name: x\n    when: has_parent\n    bonus: 0.1\n  - name: x\n    when: has_parent\n    bonus: 0.1\n",
		"unknown tier":      "baseline: 0.6\ncap: 1\ntiers:\n  - level: GOLD\n    min: 0.9\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseTrustPolicy([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
