package usecase

import (
	"fmt"

	"certnode/internal/domain"
	"certnode/internal/graph"
)

const (
	SignalHasParent    = "has_parent"
	SignalCrossDomain  = "cross_domain"
	SignalHasChild     = "has_child"
	SignalNotOrphaned  = "not_orphaned"
	completenessWeight = 2500
)

// Completeness evaluates the four provenance signals for id. Each passing
// signal is worth a quarter of the score.
func Completeness(snap *graph.Snapshot, id string) (domain.Completeness, error) {
	r, ok := snap.Receipt(id)
	if !ok {
		return domain.Completeness{}, fmt.Errorf("%w: receipt %s", domain.ErrNotFound, id)
	}
	parents := snap.ParentIDs(id)
	children := snap.ChildIDs(id)
	depth := snap.Depth(id)

	domains := map[domain.ReceiptDomain]struct{}{r.Domain: {}}
	for _, p := range parents {
		if pr, ok := snap.Receipt(p); ok {
			domains[pr.Domain] = struct{}{}
		}
	}

	signals := []domain.CompletenessSignal{
		hasParentSignal(len(parents)),
		crossDomainSignal(r.Domain, len(domains)),
		hasChildSignal(r.Domain, len(children)),
		notOrphanedSignal(depth),
	}
	total := 0
	for _, s := range signals {
		if s.Passed {
			total += completenessWeight
		}
	}
	return domain.Completeness{ReceiptID: id, Score: fromBP(total), Signals: signals}, nil
}

func hasParentSignal(n int) domain.CompletenessSignal {
	if n > 0 {
		return domain.CompletenessSignal{
			Name:    SignalHasParent,
			Passed:  true,
			Message: fmt.Sprintf("receipt has %d parent receipt(s)", n),
		}
	}
	return domain.CompletenessSignal{
		Name:        SignalHasParent,
		Message:     "receipt has no parent receipts",
		Remediation: "link the receipt that caused or authorized this event as a parent",
	}
}

func crossDomainSignal(own domain.ReceiptDomain, n int) domain.CompletenessSignal {
	if n >= 2 {
		return domain.CompletenessSignal{
			Name:    SignalCrossDomain,
			Passed:  true,
			Message: fmt.Sprintf("receipt and its parents span %d domains", n),
		}
	}
	return domain.CompletenessSignal{
		Name:        SignalCrossDomain,
		Message:     fmt.Sprintf("receipt and its parents only cover the %s domain", own),
		Remediation: "link a parent receipt from a different domain",
	}
}

func hasChildSignal(own domain.ReceiptDomain, n int) domain.CompletenessSignal {
	if n > 0 {
		return domain.CompletenessSignal{
			Name:    SignalHasChild,
			Passed:  true,
			Message: fmt.Sprintf("receipt has %d child receipt(s)", n),
		}
	}
	hint := "link a downstream receipt that fulfills or evidences this one"
	switch own {
	case domain.DomainTransaction:
		hint = "link a delivery or shipment operations receipt that fulfills this transaction"
	case domain.DomainContent:
		hint = "link a delivery or review operations receipt for this content"
	}
	return domain.CompletenessSignal{
		Name:        SignalHasChild,
		Message:     "receipt has no child receipts",
		Remediation: hint,
	}
}

func notOrphanedSignal(depth int) domain.CompletenessSignal {
	if depth > 0 {
		return domain.CompletenessSignal{
			Name:    SignalNotOrphaned,
			Passed:  true,
			Message: fmt.Sprintf("receipt sits at graph depth %d", depth),
		}
	}
	return domain.CompletenessSignal{
		Name:        SignalNotOrphaned,
		Message:     "receipt is orphaned at graph depth 0",
		Remediation: "connect the receipt to the provenance graph",
	}
}
