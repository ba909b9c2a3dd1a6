package usecase

import (
	"context"
	"fmt"

	"certnode/internal/domain"
)

const (
	PatternOrphanedHighValue    = "orphaned_high_value_transaction"
	PatternUndeliveredContent   = "undelivered_content"
	PatternTimestampParadox     = "timestamp_paradox"
	PatternInvalidatedFulfilled = "invalidated_but_fulfilled"
	PatternExcessiveAmendments  = "excessive_amendments"
	PatternCrossEntityLink      = "cross_entity_link"
)

const (
	recommendOrphanedHighValue    = "Hold settlement until the transaction is linked to supporting content or operations receipts."
	recommendUndeliveredContent   = "Confirm delivery and record a delivery or review operations receipt."
	recommendTimestampParadox     = "Investigate clock skew or backdating; a child cannot precede its parent."
	recommendInvalidatedFulfilled = "Reconcile the invalidation with the fulfillment before releasing funds."
	recommendExcessiveAmendments  = "Review the amendment history for unauthorized changes."
	recommendCrossEntityLink      = "Verify that both entities are authorized to share this provenance link."
)

func builtinPatterns() map[string]PatternFunc {
	return map[string]PatternFunc{
		PatternOrphanedHighValue:    orphanedHighValueTransaction,
		PatternUndeliveredContent:   undeliveredContent,
		PatternTimestampParadox:     timestampParadox,
		PatternInvalidatedFulfilled: invalidatedButFulfilled,
		PatternExcessiveAmendments:  excessiveAmendments,
		PatternCrossEntityLink:      crossEntityLink,
	}
}

// orphanedHighValueTransaction flags high-value transactions at graph depth 0.
func orphanedHighValueTransaction(_ context.Context, in *PatternInput) ([]domain.PatternMatch, error) {
	var out []domain.PatternMatch
	for _, r := range in.Receipts {
		tx, ok := r.Data.(domain.TransactionData)
		if !ok || tx.Amount < in.Options.HighValueThreshold {
			continue
		}
		if len(in.ParentsOf(r.ID)) > 0 {
			continue
		}
		out = append(out, domain.PatternMatch{
			Pattern:        PatternOrphanedHighValue,
			ReceiptID:      r.ID,
			RiskLevel:      domain.RiskHigh,
			RiskScore:      0.9,
			Recommendation: recommendOrphanedHighValue,
			Evidence:       []string{fmt.Sprintf("amount %g >= threshold %g with no parent receipts", tx.Amount, in.Options.HighValueThreshold)},
		})
	}
	return out, nil
}

// undeliveredContent flags content without a descendant delivery or review.
func undeliveredContent(_ context.Context, in *PatternInput) ([]domain.PatternMatch, error) {
	var out []domain.PatternMatch
	for _, r := range in.Receipts {
		if r.Domain != domain.DomainContent {
			continue
		}
		delivered := false
		for _, d := range in.Descendants(r.ID) {
			ops, ok := d.Data.(domain.OperationsData)
			if ok && (ops.EventType == domain.EventDelivery || ops.EventType == domain.EventReview) {
				delivered = true
				break
			}
		}
		if delivered {
			continue
		}
		out = append(out, domain.PatternMatch{
			Pattern:        PatternUndeliveredContent,
			ReceiptID:      r.ID,
			RiskLevel:      domain.RiskMedium,
			RiskScore:      0.6,
			Recommendation: recommendUndeliveredContent,
			Evidence:       []string{"no descendant operations receipt of type delivery or review"},
		})
	}
	return out, nil
}

// timestampParadox flags children issued before one of their parents.
func timestampParadox(_ context.Context, in *PatternInput) ([]domain.PatternMatch, error) {
	var out []domain.PatternMatch
	for _, r := range in.Receipts {
		var evidence []string
		for _, rel := range in.ParentsOf(r.ID) {
			parent, ok := in.Receipt(rel.ParentReceiptID)
			if !ok {
				continue
			}
			if r.Timestamp.Before(parent.Timestamp) {
				evidence = append(evidence, fmt.Sprintf("issued %s before parent %s issued %s",
					domain.FormatTimestamp(r.Timestamp), parent.ID, domain.FormatTimestamp(parent.Timestamp)))
			}
		}
		if len(evidence) == 0 {
			continue
		}
		out = append(out, domain.PatternMatch{
			Pattern:        PatternTimestampParadox,
			ReceiptID:      r.ID,
			RiskLevel:      domain.RiskHigh,
			RiskScore:      0.85,
			Recommendation: recommendTimestampParadox,
			Evidence:       evidence,
		})
	}
	return out, nil
}

// invalidatedButFulfilled flags receipts that have both an invalidating and a
// fulfilling child.
func invalidatedButFulfilled(_ context.Context, in *PatternInput) ([]domain.PatternMatch, error) {
	var out []domain.PatternMatch
	for _, r := range in.Receipts {
		var invalidatedBy, fulfilledBy []string
		for _, rel := range in.ChildrenOf(r.ID) {
			switch rel.RelationType {
			case domain.RelationInvalidates:
				invalidatedBy = append(invalidatedBy, rel.ChildReceiptID)
			case domain.RelationFulfills:
				fulfilledBy = append(fulfilledBy, rel.ChildReceiptID)
			}
		}
		if len(invalidatedBy) == 0 || len(fulfilledBy) == 0 {
			continue
		}
		out = append(out, domain.PatternMatch{
			Pattern:        PatternInvalidatedFulfilled,
			ReceiptID:      r.ID,
			RiskLevel:      domain.RiskMedium,
			RiskScore:      0.7,
			Recommendation: recommendInvalidatedFulfilled,
			Evidence: []string{
				fmt.Sprintf("invalidated by %v", invalidatedBy),
				fmt.Sprintf("fulfilled by %v", fulfilledBy),
			},
		})
	}
	return out, nil
}

func excessiveAmendments(_ context.Context, in *PatternInput) ([]domain.PatternMatch, error) {
	limit := in.Options.AmendmentLimit
	if limit <= 0 {
		limit = DefaultPatternOptions().AmendmentLimit
	}
	var out []domain.PatternMatch
	for _, r := range in.Receipts {
		n := 0
		for _, rel := range in.ChildrenOf(r.ID) {
			if rel.RelationType == domain.RelationAmends {
				n++
			}
		}
		if n <= limit {
			continue
		}
		out = append(out, domain.PatternMatch{
			Pattern:        PatternExcessiveAmendments,
			ReceiptID:      r.ID,
			RiskLevel:      domain.RiskLow,
			RiskScore:      0.4,
			Recommendation: recommendExcessiveAmendments,
			Evidence:       []string{fmt.Sprintf("%d amendments exceed limit %d", n, limit)},
		})
	}
	return out, nil
}

// crossEntityLink flags provenance edges between receipts owned by different
// entities. Plain references are exempt.
func crossEntityLink(_ context.Context, in *PatternInput) ([]domain.PatternMatch, error) {
	var out []domain.PatternMatch
	for _, r := range in.Receipts {
		if r.Data == nil {
			continue
		}
		own := r.Data.EntityID()
		if own == "" {
			continue
		}
		var evidence []string
		for _, rel := range in.ParentsOf(r.ID) {
			if rel.RelationType == domain.RelationReferences {
				continue
			}
			parent, ok := in.Receipt(rel.ParentReceiptID)
			if !ok || parent.Data == nil {
				continue
			}
			other := parent.Data.EntityID()
			if other != "" && other != own {
				evidence = append(evidence, fmt.Sprintf("%s parent %s belongs to %s, receipt belongs to %s", rel.RelationType, parent.ID, other, own))
			}
		}
		if len(evidence) == 0 {
			continue
		}
		out = append(out, domain.PatternMatch{
			Pattern:        PatternCrossEntityLink,
			ReceiptID:      r.ID,
			RiskLevel:      domain.RiskMedium,
			RiskScore:      0.5,
			Recommendation: recommendCrossEntityLink,
			Evidence:       evidence,
		})
	}
	return out, nil
}
