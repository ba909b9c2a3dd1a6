package domain

import (
	"fmt"
	"time"
)

type RelationType string

const (
	RelationCauses      RelationType = "causes"
	RelationEvidences   RelationType = "evidences"
	RelationFulfills    RelationType = "fulfills"
	RelationInvalidates RelationType = "invalidates"
	RelationAmends      RelationType = "amends"
	RelationReferences  RelationType = "references"
)

func (t RelationType) Valid() bool {
	switch t {
	case RelationCauses, RelationEvidences, RelationFulfills, RelationInvalidates, RelationAmends, RelationReferences:
		return true
	}
	return false
}

func ParseRelationType(s string) (RelationType, error) {
	t := RelationType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRelation, s)
	}
	return t, nil
}

// Relationship is a directed edge: the parent provides provenance for the child.
type Relationship struct {
	ID              string       `json:"id"`
	ParentReceiptID string       `json:"parent_receipt_id"`
	ChildReceiptID  string       `json:"child_receipt_id"`
	RelationType    RelationType `json:"relation_type"`
	Description     string       `json:"description,omitempty"`
	CreatedBy       string       `json:"created_by,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}
