package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Payload is the domain-specific body of a receipt. Exactly one implementation
// exists per ReceiptDomain.
type Payload interface {
	Domain() ReceiptDomain
	Validate() error
	// EntityID identifies the owning entity (merchant, publisher, operator).
	EntityID() string
	// ClaimedContentHash is the content hash this receipt asserts for a
	// counterpart receipt, if any.
	ClaimedContentHash() string
	Attributes() map[string]any
}

type TransactionData struct {
	Amount      float64        `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	Reference   string         `json:"reference,omitempty"`
	Entity      string         `json:"entity_id,omitempty"`
	ClaimedHash string         `json:"claimed_content_hash,omitempty"`
	Attrs       map[string]any `json:"attributes,omitempty"`
}

func (TransactionData) Domain() ReceiptDomain        { return DomainTransaction }
func (p TransactionData) EntityID() string           { return p.Entity }
func (p TransactionData) ClaimedContentHash() string { return p.ClaimedHash }
func (p TransactionData) Attributes() map[string]any { return p.Attrs }

func (p TransactionData) Validate() error {
	if math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) {
		return fmt.Errorf("%w: data.amount must be finite", ErrInvalidPayload)
	}
	if p.Amount < 0 {
		return fmt.Errorf("%w: data.amount must not be negative", ErrInvalidPayload)
	}
	if p.Currency != "" && len(p.Currency) != 3 {
		return fmt.Errorf("%w: data.currency must be an ISO 4217 code", ErrInvalidPayload)
	}
	return nil
}

type ContentData struct {
	AssetHash   string         `json:"asset_hash"`
	MediaType   string         `json:"media_type,omitempty"`
	URI         string         `json:"uri,omitempty"`
	Creator     string         `json:"creator,omitempty"`
	Entity      string         `json:"entity_id,omitempty"`
	ClaimedHash string         `json:"claimed_content_hash,omitempty"`
	Attrs       map[string]any `json:"attributes,omitempty"`
}

func (ContentData) Domain() ReceiptDomain        { return DomainContent }
func (p ContentData) EntityID() string           { return p.Entity }
func (p ContentData) ClaimedContentHash() string { return p.ClaimedHash }
func (p ContentData) Attributes() map[string]any { return p.Attrs }

func (p ContentData) Validate() error {
	if strings.TrimSpace(p.AssetHash) == "" {
		return fmt.Errorf("%w: data.asset_hash is required", ErrInvalidPayload)
	}
	return nil
}

// Operational event types referenced by the fraud patterns.
const (
	EventDelivery = "delivery"
	EventReview   = "review"
	EventShipment = "shipment"
	EventRefund   = "refund"
	EventIncident = "incident"
)

type OperationsData struct {
	EventType   string         `json:"event_type"`
	Status      string         `json:"status,omitempty"`
	Entity      string         `json:"entity_id,omitempty"`
	ClaimedHash string         `json:"claimed_content_hash,omitempty"`
	Attrs       map[string]any `json:"attributes,omitempty"`
}

func (OperationsData) Domain() ReceiptDomain        { return DomainOperations }
func (p OperationsData) EntityID() string           { return p.Entity }
func (p OperationsData) ClaimedContentHash() string { return p.ClaimedHash }
func (p OperationsData) Attributes() map[string]any { return p.Attrs }

func (p OperationsData) Validate() error {
	if strings.TrimSpace(p.EventType) == "" {
		return fmt.Errorf("%w: data.event_type is required", ErrInvalidPayload)
	}
	return nil
}

// DecodePayload strictly decodes raw JSON into the payload type of d.
func DecodePayload(d ReceiptDomain, raw []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	// Attribute numbers stay as literals so large integers are not rounded.
	dec.UseNumber()
	switch d {
	case DomainTransaction:
		var p TransactionData
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("%w: transaction data: %v", ErrInvalidPayload, err)
		}
		return p, nil
	case DomainContent:
		var p ContentData
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("%w: content data: %v", ErrInvalidPayload, err)
		}
		return p, nil
	case DomainOperations:
		var p OperationsData
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("%w: operations data: %v", ErrInvalidPayload, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown domain %q", ErrInvalidPayload, d)
	}
}

type rawDocument struct {
	Domain    ReceiptDomain   `json:"domain"`
	Data      json.RawMessage `json:"data"`
	IssuedAt  string          `json:"issued_at"`
	ParentIDs []string        `json:"parent_ids,omitempty"`
	GraphHash string          `json:"graph_hash,omitempty"`
}

// ParseDocument decodes a signed payload back into its typed form.
func ParseDocument(raw []byte) (Document, error) {
	var doc rawDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !doc.Domain.Valid() {
		return Document{}, fmt.Errorf("%w: unknown domain %q", ErrInvalidPayload, doc.Domain)
	}
	if len(doc.Data) == 0 {
		return Document{}, fmt.Errorf("%w: data is required", ErrInvalidPayload)
	}
	data, err := DecodePayload(doc.Domain, doc.Data)
	if err != nil {
		return Document{}, err
	}
	issuedAt, err := ParseTimestamp(doc.IssuedAt)
	if err != nil {
		return Document{}, fmt.Errorf("%w: issued_at: %v", ErrInvalidPayload, err)
	}
	return Document{
		Domain:    doc.Domain,
		Data:      data,
		IssuedAt:  issuedAt,
		ParentIDs: doc.ParentIDs,
		GraphHash: doc.GraphHash,
	}, nil
}
