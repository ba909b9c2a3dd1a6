package policyopa

import (
	"sort"

	"certnode/internal/domain"
	"certnode/internal/usecase"
)

type receiptFact struct {
	ID          string         `json:"id"`
	Domain      string         `json:"domain"`
	Data        domain.Payload `json:"data"`
	ContentHash string         `json:"content_hash"`
	Timestamp   string         `json:"timestamp"`
	TimestampNS int64          `json:"timestamp_ns"`
	EntityID    string         `json:"entity_id,omitempty"`
	ParentIDs   []string       `json:"parent_ids"`
	ChildIDs    []string       `json:"child_ids"`
}

type relationshipFact struct {
	Parent       string `json:"parent"`
	Child        string `json:"child"`
	RelationType string `json:"relation_type"`
}

type optionsFact struct {
	HighValueThreshold float64 `json:"high_value_threshold"`
	AmendmentLimit     int     `json:"amendment_limit"`
}

type patternInput struct {
	Pattern       string                 `json:"pattern"`
	Receipts      map[string]receiptFact `json:"receipts"`
	Relationships []relationshipFact     `json:"relationships"`
	Options       optionsFact            `json:"options"`
}

// buildInput flattens the neighborhood into plain facts. Receipts are keyed by
// id so rules can join on input.receipts[id].
func buildInput(pattern string, in *usecase.PatternInput) patternInput {
	out := patternInput{
		Pattern:       pattern,
		Receipts:      map[string]receiptFact{},
		Relationships: []relationshipFact{},
	}
	if in == nil {
		return out
	}
	out.Options = optionsFact{
		HighValueThreshold: in.Options.HighValueThreshold,
		AmendmentLimit:     in.Options.AmendmentLimit,
	}
	for _, r := range in.Receipts {
		fact := receiptFact{
			ID:          r.ID,
			Domain:      string(r.Domain),
			Data:        r.Data,
			ContentHash: r.ContentHash,
			Timestamp:   domain.FormatTimestamp(r.Timestamp),
			TimestampNS: r.Timestamp.UnixNano(),
			ParentIDs:   relatedIDs(in.ParentsOf(r.ID), true),
			ChildIDs:    relatedIDs(in.ChildrenOf(r.ID), false),
		}
		if r.Data != nil {
			fact.EntityID = r.Data.EntityID()
		}
		out.Receipts[r.ID] = fact
	}
	for _, rel := range in.Relationships {
		out.Relationships = append(out.Relationships, relationshipFact{
			Parent:       rel.ParentReceiptID,
			Child:        rel.ChildReceiptID,
			RelationType: string(rel.RelationType),
		})
	}
	return out
}

func relatedIDs(rels []domain.Relationship, parents bool) []string {
	seen := map[string]struct{}{}
	ids := []string{}
	for _, rel := range rels {
		id := rel.ChildReceiptID
		if parents {
			id = rel.ParentReceiptID
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
