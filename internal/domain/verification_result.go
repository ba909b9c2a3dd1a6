package domain

// VerificationReason is a machine-readable code naming why a receipt failed
// verification. Invalid receipts are results, not errors.
type VerificationReason string

const (
	ReasonNone                 VerificationReason = ""
	ReasonMalformed            VerificationReason = "MALFORMED"
	ReasonUnsupportedAlgorithm VerificationReason = "UNSUPPORTED_ALGORITHM"
	ReasonKIDMismatch          VerificationReason = "KID_MISMATCH"
	ReasonHashMismatch         VerificationReason = "HASH_MISMATCH"
	ReasonSignatureMismatch    VerificationReason = "SIGNATURE_MISMATCH"
	ReasonIDMismatch           VerificationReason = "RECEIPT_ID_MISMATCH"
)

type VerificationChecks struct {
	ContentHash bool `json:"content_hash"`
	Signature   bool `json:"signature"`
	ReceiptID   bool `json:"receipt_id"`
}

type Verification struct {
	Valid     bool               `json:"valid"`
	Reason    VerificationReason `json:"reason,omitempty"`
	Detail    string             `json:"detail,omitempty"`
	ReceiptID string             `json:"receipt_id,omitempty"`
	KID       string             `json:"kid,omitempty"`
	Alg       string             `json:"alg,omitempty"`
	Checks    VerificationChecks `json:"checks"`
}
