package crypto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"certnode/internal/domain"
)

// Service signs receipt documents into envelopes and verifies envelopes
// against a key provider. It holds no key material of its own.
type Service struct {
	now func() time.Time
}

func NewService() *Service {
	return &Service{now: time.Now}
}

// WithClock overrides the issuance clock. Intended for tests and replay.
func (s *Service) WithClock(now func() time.Time) *Service {
	return &Service{now: now}
}

// Sign validates doc, canonicalizes it and produces a signed receipt.
// A zero IssuedAt is stamped with the service clock.
func (s *Service) Sign(doc domain.Document, signer domain.Signer) (domain.Receipt, error) {
	if signer == nil {
		return domain.Receipt{}, fmt.Errorf("%w: signer is required", domain.ErrInvalidEnvelope)
	}
	if err := validateDocument(doc); err != nil {
		return domain.Receipt{}, err
	}
	if doc.IssuedAt.IsZero() {
		doc.IssuedAt = s.clock()
	}
	doc.IssuedAt = doc.IssuedAt.UTC()

	alg := signer.Algorithm()
	if alg != domain.AlgES256 && alg != domain.AlgEdDSA {
		return domain.Receipt{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedAlgorithm, alg)
	}
	kid := signer.KID()
	if kid == "" {
		return domain.Receipt{}, fmt.Errorf("%w: signer kid is required", domain.ErrInvalidEnvelope)
	}

	payload, err := CanonicalizeAny(doc)
	if err != nil {
		return domain.Receipt{}, err
	}
	header, err := CanonicalizeAny(domain.ProtectedHeader{Alg: alg, KID: kid})
	if err != nil {
		return domain.Receipt{}, err
	}

	protected := B64Encode(header)
	payloadB64 := B64Encode(payload)
	sig, err := signer.Sign([]byte(protected + "." + payloadB64))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("sign receipt: %w", err)
	}
	signature := B64Encode(sig)
	contentHash := B64Encode(sha256Bytes(payload))
	receiptID := computeReceiptID(protected, payloadB64, signature)

	return domain.Receipt{
		ID:          receiptID,
		Domain:      doc.Domain,
		Data:        doc.Data,
		ContentHash: contentHash,
		Signature:   signature,
		KID:         kid,
		Timestamp:   doc.IssuedAt,
		GraphHash:   doc.GraphHash,
		Envelope: domain.Envelope{
			Protected:        protected,
			Payload:          json.RawMessage(payload),
			Signature:        signature,
			KID:              kid,
			PayloadJCSSHA256: contentHash,
			ReceiptID:        receiptID,
		},
	}, nil
}

// Verify checks an envelope. Cryptographic failures are reported in the
// returned Verification; only key lookup failures surface as errors.
func (s *Service) Verify(ctx context.Context, env domain.Envelope, keys domain.KeyProvider) (domain.Verification, error) {
	result := domain.Verification{ReceiptID: env.ReceiptID, KID: env.KID}

	header, err := decodeProtected(env.Protected)
	if err != nil {
		return malformed(result, err.Error()), nil
	}
	result.Alg = header.Alg
	if result.KID == "" {
		result.KID = header.KID
	}
	if header.Alg != domain.AlgES256 && header.Alg != domain.AlgEdDSA {
		result.Reason = domain.ReasonUnsupportedAlgorithm
		result.Detail = fmt.Sprintf("algorithm %q is not supported", header.Alg)
		return result, nil
	}
	if env.KID != "" && env.KID != header.KID {
		result.Reason = domain.ReasonKIDMismatch
		result.Detail = fmt.Sprintf("envelope kid %q does not match protected header kid %q", env.KID, header.KID)
		return result, nil
	}
	if len(env.Payload) == 0 {
		return malformed(result, "payload is empty"), nil
	}
	payload, err := CanonicalizeJSON(env.Payload)
	if err != nil {
		return malformed(result, err.Error()), nil
	}

	if keys == nil {
		return domain.Verification{}, fmt.Errorf("%w: no key provider configured", domain.ErrKeyNotFound)
	}
	pub, err := keys.PublicKey(ctx, header.KID)
	if err != nil {
		return domain.Verification{}, err
	}

	payloadB64 := B64Encode(payload)
	result.Checks.ContentHash = B64Encode(sha256Bytes(payload)) == env.PayloadJCSSHA256

	var sigDetail string
	sig, err := B64Decode(env.Signature)
	if err != nil {
		sigDetail = fmt.Sprintf("signature is not base64url: %v", err)
	} else if err := verifySignature(header.Alg, pub, []byte(env.Protected+"."+payloadB64), sig); err != nil {
		sigDetail = err.Error()
	} else {
		result.Checks.Signature = true
	}

	result.Checks.ReceiptID = computeReceiptID(env.Protected, payloadB64, env.Signature) == env.ReceiptID

	switch {
	case !result.Checks.ContentHash:
		result.Reason = domain.ReasonHashMismatch
		result.Detail = "payload_jcs_sha256 does not match the canonical payload"
	case !result.Checks.Signature:
		result.Reason = domain.ReasonSignatureMismatch
		result.Detail = sigDetail
	case !result.Checks.ReceiptID:
		result.Reason = domain.ReasonIDMismatch
		result.Detail = "receipt_id does not match protected, payload and signature"
	default:
		result.Valid = true
	}
	return result, nil
}

func (s *Service) clock() time.Time {
	if s == nil || s.now == nil {
		return time.Now()
	}
	return s.now()
}

// ContentHash is the b64url SHA-256 of the canonical form of v.
func ContentHash(v any) (string, error) {
	canonical, err := CanonicalizeAny(v)
	if err != nil {
		return "", err
	}
	return B64Encode(sha256Bytes(canonical)), nil
}

// GraphHash binds a receipt to the content hashes of its parents at creation
// time. The hashes are sorted first so parent order does not matter. No
// parents yields an empty hash.
func GraphHash(parentContentHashes []string) (string, error) {
	if len(parentContentHashes) == 0 {
		return "", nil
	}
	sorted := append([]string(nil), parentContentHashes...)
	sort.Strings(sorted)
	list := make([]any, len(sorted))
	for i, h := range sorted {
		list[i] = h
	}
	return ContentHash(list)
}

// ReceiptFromEnvelope rebuilds a receipt from its wire envelope. It decodes
// but does not verify; callers pair it with Verify.
func ReceiptFromEnvelope(env domain.Envelope) (domain.Receipt, error) {
	header, err := decodeProtected(env.Protected)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("%w: %v", domain.ErrInvalidEnvelope, err)
	}
	payload, err := CanonicalizeJSON(env.Payload)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("%w: %v", domain.ErrInvalidEnvelope, err)
	}
	doc, err := domain.ParseDocument(payload)
	if err != nil {
		return domain.Receipt{}, err
	}
	if env.ReceiptID == "" || env.Signature == "" {
		return domain.Receipt{}, fmt.Errorf("%w: receipt_id and signature are required", domain.ErrInvalidEnvelope)
	}
	env.Payload = json.RawMessage(payload)
	if env.KID == "" {
		env.KID = header.KID
	}
	return domain.Receipt{
		ID:          env.ReceiptID,
		Domain:      doc.Domain,
		Data:        doc.Data,
		ContentHash: env.PayloadJCSSHA256,
		Signature:   env.Signature,
		KID:         header.KID,
		Timestamp:   doc.IssuedAt,
		GraphHash:   doc.GraphHash,
		Envelope:    env,
	}, nil
}

// ParentIDs returns the parent ids committed to in the signed payload.
func ParentIDs(env domain.Envelope) ([]string, error) {
	var doc struct {
		ParentIDs []string `json:"parent_ids"`
	}
	if err := json.Unmarshal(env.Payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidEnvelope, err)
	}
	return doc.ParentIDs, nil
}

func validateDocument(doc domain.Document) error {
	if !doc.Domain.Valid() {
		return fmt.Errorf("%w: unknown domain %q", domain.ErrInvalidPayload, doc.Domain)
	}
	if doc.Data == nil {
		return fmt.Errorf("%w: data is required", domain.ErrInvalidPayload)
	}
	if doc.Data.Domain() != doc.Domain {
		return fmt.Errorf("%w: %s data cannot be signed as a %s receipt", domain.ErrInvalidPayload, doc.Data.Domain(), doc.Domain)
	}
	return doc.Data.Validate()
}

func decodeProtected(protected string) (domain.ProtectedHeader, error) {
	var header domain.ProtectedHeader
	if protected == "" {
		return header, errors.New("protected header is empty")
	}
	raw, err := B64Decode(protected)
	if err != nil {
		return header, fmt.Errorf("protected header is not base64url: %v", err)
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return header, fmt.Errorf("protected header is not JSON: %v", err)
	}
	if header.Alg == "" || header.KID == "" {
		return header, errors.New("protected header requires alg and kid")
	}
	return header, nil
}

func malformed(result domain.Verification, detail string) domain.Verification {
	result.Valid = false
	result.Reason = domain.ReasonMalformed
	result.Detail = detail
	return result
}

func computeReceiptID(protected, payloadB64, signature string) string {
	return B64Encode(sha256Bytes([]byte(protected + "." + payloadB64 + "." + signature)))
}
