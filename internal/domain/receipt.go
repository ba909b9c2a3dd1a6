package domain

import (
	"encoding/json"
	"time"
)

type ReceiptDomain string

const (
	DomainTransaction ReceiptDomain = "transaction"
	DomainContent     ReceiptDomain = "content"
	DomainOperations  ReceiptDomain = "operations"
)

func (d ReceiptDomain) Valid() bool {
	switch d {
	case DomainTransaction, DomainContent, DomainOperations:
		return true
	}
	return false
}

// AllDomains is the fixed, ordered set of receipt domains.
var AllDomains = []ReceiptDomain{DomainTransaction, DomainContent, DomainOperations}

type TrustLevel string

const (
	TrustLevelBasic    TrustLevel = "BASIC"
	TrustLevelVerified TrustLevel = "VERIFIED"
	TrustLevelPlatinum TrustLevel = "PLATINUM"
)

// Envelope is the stable wire format parsed by external verifiers.
type Envelope struct {
	Protected        string          `json:"protected"`
	Payload          json.RawMessage `json:"payload"`
	Signature        string          `json:"signature"`
	KID              string          `json:"kid"`
	PayloadJCSSHA256 string          `json:"payload_jcs_sha256"`
	ReceiptID        string          `json:"receipt_id"`
}

// ProtectedHeader is the decoded JWS protected header.
type ProtectedHeader struct {
	Alg string `json:"alg"`
	KID string `json:"kid"`
}

// Document is the signed payload. Everything in it is covered by the signature.
type Document struct {
	Domain    ReceiptDomain `json:"domain"`
	Data      Payload       `json:"data"`
	IssuedAt  time.Time     `json:"issued_at"`
	ParentIDs []string      `json:"parent_ids,omitempty"`
	GraphHash string        `json:"graph_hash,omitempty"`
}

// Receipt is immutable once signed. Derived graph fields live in ReceiptView.
type Receipt struct {
	ID          string        `json:"id"`
	Domain      ReceiptDomain `json:"domain"`
	Data        Payload       `json:"data"`
	ContentHash string        `json:"content_hash"`
	Signature   string        `json:"signature"`
	KID         string        `json:"kid"`
	Timestamp   time.Time     `json:"timestamp"`
	GraphHash   string        `json:"graph_hash,omitempty"`
	Envelope    Envelope      `json:"envelope"`
}

// ReceiptView is a receipt with its derived fields computed against a graph snapshot.
type ReceiptView struct {
	Receipt
	GraphDepth int        `json:"graph_depth"`
	TrustScore float64    `json:"trust_score"`
	TrustLevel TrustLevel `json:"trust_level"`
}

func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(rawSignedDocument{
		Domain:    d.Domain,
		Data:      d.Data,
		IssuedAt:  FormatTimestamp(d.IssuedAt),
		ParentIDs: d.ParentIDs,
		GraphHash: d.GraphHash,
	})
}

type rawSignedDocument struct {
	Domain    ReceiptDomain `json:"domain"`
	Data      Payload       `json:"data"`
	IssuedAt  string        `json:"issued_at"`
	ParentIDs []string      `json:"parent_ids,omitempty"`
	GraphHash string        `json:"graph_hash,omitempty"`
}
