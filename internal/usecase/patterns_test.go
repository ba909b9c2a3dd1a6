package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"certnode/internal/domain"
)

func rel(parent, child string, t domain.RelationType) domain.Relationship {
	return domain.Relationship{ID: parent + ">" + child, ParentReceiptID: parent, ChildReceiptID: child, RelationType: t}
}

func at(r domain.Receipt, minutes int) domain.Receipt {
	r.Timestamp = time.Date(2025, 3, 14, 0, minutes, 0, 0, time.UTC)
	return r
}

func matchIDs(matches []domain.PatternMatch) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.ReceiptID)
	}
	return out
}

func detect(t *testing.T, name string, receipts []domain.Receipt, rels []domain.Relationship) []domain.PatternMatch {
	t.Helper()
	reg := DefaultPatternRegistry(PatternOptions{HighValueThreshold: 1000, AmendmentLimit: 2})
	matches, err := reg.Detect(context.Background(), name, receipts, rels)
	if err != nil {
		t.Fatalf("detect %s: %v", name, err)
	}
	return matches
}

func TestPattern_OrphanedHighValueTransaction(t *testing.T) {
	big := domain.Receipt{ID: "big", Domain: domain.DomainTransaction, Data: domain.TransactionData{Amount: 5000}}
	linked := domain.Receipt{ID: "linked", Domain: domain.DomainTransaction, Data: domain.TransactionData{Amount: 5000}}
	small := domain.Receipt{ID: "small", Domain: domain.DomainTransaction, Data: domain.TransactionData{Amount: 10}}
	c := testReceipt("c", domain.DomainContent)

	matches := detect(t, PatternOrphanedHighValue,
		[]domain.Receipt{big, linked, small, c},
		[]domain.Relationship{rel("c", "linked", domain.RelationEvidences)})
	if len(matches) != 1 || matches[0].ReceiptID != "big" {
		t.Fatalf("expected only big, got %v", matchIDs(matches))
	}
	m := matches[0]
	if m.RiskLevel != domain.RiskHigh || m.Recommendation == "" || m.RiskScore <= 0 {
		t.Fatalf("unexpected match %+v", m)
	}
}

func TestPattern_UndeliveredContent(t *testing.T) {
	delivered := testReceipt("delivered", domain.DomainContent)
	pending := testReceipt("pending", domain.DomainContent)
	tx := testReceipt("tx", domain.DomainTransaction)
	ship := domain.Receipt{ID: "ship", Domain: domain.DomainOperations, Data: domain.OperationsData{EventType: domain.EventShipment}}
	review := domain.Receipt{ID: "review", Domain: domain.DomainOperations, Data: domain.OperationsData{EventType: domain.EventReview}}

	matches := detect(t, PatternUndeliveredContent,
		[]domain.Receipt{delivered, pending, tx, ship, review},
		[]domain.Relationship{
			rel("delivered", "tx", domain.RelationEvidences),
			rel("tx", "review", domain.RelationFulfills),
			rel("pending", "ship", domain.RelationFulfills),
		})
	if len(matches) != 1 || matches[0].ReceiptID != "pending" {
		t.Fatalf("expected only pending, got %v", matchIDs(matches))
	}
}

func TestPattern_TimestampParadox(t *testing.T) {
	parent := at(testReceipt("parent", domain.DomainTransaction), 30)
	early := at(testReceipt("early", domain.DomainOperations), 10)
	late := at(testReceipt("late", domain.DomainOperations), 45)

	matches := detect(t, PatternTimestampParadox,
		[]domain.Receipt{parent, early, late},
		[]domain.Relationship{rel("parent", "early", domain.RelationFulfills), rel("parent", "late", domain.RelationFulfills)})
	if len(matches) != 1 || matches[0].ReceiptID != "early" {
		t.Fatalf("expected only early, got %v", matchIDs(matches))
	}
	if len(matches[0].Evidence) != 1 {
		t.Fatalf("expected one evidence line, got %v", matches[0].Evidence)
	}
}

func TestPattern_InvalidatedButFulfilled(t *testing.T) {
	order := testReceipt("order", domain.DomainTransaction)
	refund := testReceipt("refund", domain.DomainTransaction)
	delivery := testReceipt("delivery", domain.DomainOperations)
	other := testReceipt("other", domain.DomainTransaction)
	cancel := testReceipt("cancel", domain.DomainTransaction)

	matches := detect(t, PatternInvalidatedFulfilled,
		[]domain.Receipt{order, refund, delivery, other, cancel},
		[]domain.Relationship{
			rel("order", "refund", domain.RelationInvalidates),
			rel("order", "delivery", domain.RelationFulfills),
			rel("other", "cancel", domain.RelationInvalidates),
		})
	if len(matches) != 1 || matches[0].ReceiptID != "order" {
		t.Fatalf("expected only order, got %v", matchIDs(matches))
	}
}

func TestPattern_ExcessiveAmendments(t *testing.T) {
	base := testReceipt("base", domain.DomainContent)
	receipts := []domain.Receipt{base}
	var rels []domain.Relationship
	for _, id := range []string{"a1", "a2", "a3"} {
		receipts = append(receipts, testReceipt(id, domain.DomainContent))
		rels = append(rels, rel("base", id, domain.RelationAmends))
	}
	matches := detect(t, PatternExcessiveAmendments, receipts, rels)
	if len(matches) != 1 || matches[0].ReceiptID != "base" || matches[0].RiskLevel != domain.RiskLow {
		t.Fatalf("expected base flagged low risk, got %+v", matches)
	}

	matches = detect(t, PatternExcessiveAmendments, receipts, rels[:2])
	if len(matches) != 0 {
		t.Fatalf("expected no match at the limit, got %v", matchIDs(matches))
	}
}

func TestPattern_CrossEntityLink(t *testing.T) {
	tx := domain.Receipt{ID: "tx", Domain: domain.DomainTransaction, Data: domain.TransactionData{Amount: 1, Entity: "acme"}}
	ship := domain.Receipt{ID: "ship", Domain: domain.DomainOperations, Data: domain.OperationsData{EventType: domain.EventShipment, Entity: "globex"}}
	ref := domain.Receipt{ID: "ref", Domain: domain.DomainContent, Data: domain.ContentData{AssetHash: "sha256:x", Entity: "initech"}}
	anon := domain.Receipt{ID: "anon", Domain: domain.DomainOperations, Data: domain.OperationsData{EventType: domain.EventDelivery}}

	matches := detect(t, PatternCrossEntityLink,
		[]domain.Receipt{tx, ship, ref, anon},
		[]domain.Relationship{
			rel("tx", "ship", domain.RelationFulfills),
			rel("tx", "ref", domain.RelationReferences),
			rel("tx", "anon", domain.RelationFulfills),
		})
	if len(matches) != 1 || matches[0].ReceiptID != "ship" {
		t.Fatalf("expected only ship, got %v", matchIDs(matches))
	}
}

func TestPatternRegistry_CustomAndUnknown(t *testing.T) {
	reg := DefaultPatternRegistry(DefaultPatternOptions())
	err := reg.Register("every_operations_receipt", func(_ context.Context, in *PatternInput) ([]domain.PatternMatch, error) {
		var out []domain.PatternMatch
		for _, r := range in.Receipts {
			if r.Domain == domain.DomainOperations {
				out = append(out, domain.PatternMatch{ReceiptID: r.ID, RiskLevel: domain.RiskLow, RiskScore: 0.1, Recommendation: "none"})
			}
		}
		return out, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(PatternTimestampParadox, timestampParadox); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}

	receipts := []domain.Receipt{testReceipt("ops", domain.DomainOperations)}
	matches, err := reg.Detect(context.Background(), "every_operations_receipt", receipts, nil)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(matches) != 1 || matches[0].Pattern != "every_operations_receipt" {
		t.Fatalf("expected pattern name stamped, got %+v", matches)
	}

	if _, err := reg.Detect(context.Background(), "nope", receipts, nil); !errors.Is(err, domain.ErrPatternUnknown) {
		t.Fatalf("expected ErrPatternUnknown, got %v", err)
	}
	if len(reg.Names()) != 7 {
		t.Fatalf("expected 7 patterns, got %v", reg.Names())
	}
}

func TestPatternRegistry_DetectAllOrdersByRisk(t *testing.T) {
	big := domain.Receipt{ID: "big", Domain: domain.DomainTransaction, Data: domain.TransactionData{Amount: 1e6}}
	c := testReceipt("c", domain.DomainContent)

	reg := DefaultPatternRegistry(DefaultPatternOptions())
	matches, err := reg.DetectAll(context.Background(), []domain.Receipt{c, big}, nil)
	if err != nil {
		t.Fatalf("detect all: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %+v", matches)
	}
	if matches[0].Pattern != PatternOrphanedHighValue || matches[1].Pattern != PatternUndeliveredContent {
		t.Fatalf("unexpected order %s, %s", matches[0].Pattern, matches[1].Pattern)
	}
}
