package crypto

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certnode/internal/domain"
)

type staticKeys map[string]crypto.PublicKey

func (k staticKeys) PublicKey(_ context.Context, kid string) (crypto.PublicKey, error) {
	pub, ok := k[kid]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return pub, nil
}

var fixedIssuedAt = time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)

func testSigner(t *testing.T) (*ECDSASigner, staticKeys) {
	t.Helper()
	signer, err := GenerateECDSASigner()
	require.NoError(t, err)
	return signer, staticKeys{signer.KID(): signer.Public()}
}

func transactionDoc() domain.Document {
	return domain.Document{
		Domain: domain.DomainTransaction,
		Data: domain.TransactionData{
			Amount:    42.5,
			Currency:  "USD",
			Reference: "order-1001",
			Entity:    "merchant-7",
		},
		IssuedAt: fixedIssuedAt,
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	svc := NewService()
	signer, keys := testSigner(t)

	receipt, err := svc.Sign(transactionDoc(), signer)
	require.NoError(t, err)

	assert.Equal(t, domain.DomainTransaction, receipt.Domain)
	assert.Equal(t, signer.KID(), receipt.KID)
	assert.Equal(t, receipt.ID, receipt.Envelope.ReceiptID)
	assert.Equal(t, receipt.ContentHash, receipt.Envelope.PayloadJCSSHA256)
	assert.True(t, receipt.Timestamp.Equal(fixedIssuedAt))

	result, err := svc.Verify(context.Background(), receipt.Envelope, keys)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, domain.ReasonNone, result.Reason)
	assert.Equal(t, domain.VerificationChecks{ContentHash: true, Signature: true, ReceiptID: true}, result.Checks)
	assert.Equal(t, domain.AlgES256, result.Alg)

	raw, err := json.Marshal(receipt.Envelope)
	require.NoError(t, err)
	var decoded domain.Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))

	rebuilt, err := ReceiptFromEnvelope(decoded)
	require.NoError(t, err)
	assert.Equal(t, receipt.ID, rebuilt.ID)
	assert.Equal(t, receipt.Data, rebuilt.Data)
	assert.True(t, rebuilt.Timestamp.Equal(receipt.Timestamp))

	again, err := svc.Verify(context.Background(), decoded, keys)
	require.NoError(t, err)
	assert.True(t, again.Valid)
}

func TestSignVerify_EdDSA(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := NewEd25519Signer(priv, "")
	require.NoError(t, err)

	svc := NewService()
	receipt, err := svc.Sign(domain.Document{
		Domain:   domain.DomainContent,
		Data:     domain.ContentData{AssetHash: "sha256:abc", MediaType: "image/png"},
		IssuedAt: fixedIssuedAt,
	}, signer)
	require.NoError(t, err)

	result, err := svc.Verify(context.Background(), receipt.Envelope, staticKeys{signer.KID(): signer.Public()})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, domain.AlgEdDSA, result.Alg)
}

func TestSign_Deterministic(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := NewEd25519Signer(priv, "kid-1")
	require.NoError(t, err)

	svc := NewService()
	a, err := svc.Sign(transactionDoc(), signer)
	require.NoError(t, err)
	b, err := svc.Sign(transactionDoc(), signer)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.ContentHash, b.ContentHash)
}

func TestSign_RejectsInvalidDocuments(t *testing.T) {
	svc := NewService()
	signer, _ := testSigner(t)

	cases := map[string]domain.Document{
		"unknown domain":  {Domain: "billing", Data: domain.TransactionData{Amount: 1}},
		"missing data":    {Domain: domain.DomainContent},
		"domain mismatch": {Domain: domain.DomainContent, Data: domain.TransactionData{Amount: 1}},
		"negative amount": {Domain: domain.DomainTransaction, Data: domain.TransactionData{Amount: -1}},
		"missing event":   {Domain: domain.DomainOperations, Data: domain.OperationsData{}},
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Sign(doc, signer)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidPayload)
		})
	}
}

func TestVerify_TamperSensitivity(t *testing.T) {
	svc := NewService()
	signer, keys := testSigner(t)
	receipt, err := svc.Sign(transactionDoc(), signer)
	require.NoError(t, err)
	env := receipt.Envelope

	flip := func(s []byte, i int, bit uint) []byte {
		out := append([]byte(nil), s...)
		out[i] ^= 1 << bit
		return out
	}

	for i := range env.Payload {
		for bit := uint(0); bit < 8; bit++ {
			tampered := env
			tampered.Payload = flip(env.Payload, i, bit)
			result, err := svc.Verify(context.Background(), tampered, keys)
			require.NoError(t, err)
			if result.Valid {
				t.Fatalf("payload bit flip at byte %d bit %d verified", i, bit)
			}
		}
	}
	for i := range env.Protected {
		for bit := uint(0); bit < 8; bit++ {
			tampered := env
			tampered.Protected = string(flip([]byte(env.Protected), i, bit))
			result, err := svc.Verify(context.Background(), tampered, keys)
			require.NoError(t, err)
			if result.Valid {
				t.Fatalf("header bit flip at byte %d bit %d verified", i, bit)
			}
		}
	}
	for i := range env.Signature {
		for bit := uint(0); bit < 8; bit++ {
			tampered := env
			tampered.Signature = string(flip([]byte(env.Signature), i, bit))
			result, err := svc.Verify(context.Background(), tampered, keys)
			require.NoError(t, err)
			if result.Valid {
				t.Fatalf("signature bit flip at byte %d bit %d verified", i, bit)
			}
		}
	}
}

func TestVerify_ReasonOrdering(t *testing.T) {
	svc := NewService()
	signer, keys := testSigner(t)
	receipt, err := svc.Sign(transactionDoc(), signer)
	require.NoError(t, err)
	env := receipt.Envelope

	t.Run("hash mismatch only", func(t *testing.T) {
		tampered := env
		tampered.PayloadJCSSHA256 = B64Encode(make([]byte, 32))
		result, err := svc.Verify(context.Background(), tampered, keys)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, domain.ReasonHashMismatch, result.Reason)
		assert.False(t, result.Checks.ContentHash)
		assert.True(t, result.Checks.Signature)
		assert.True(t, result.Checks.ReceiptID)
	})

	t.Run("resigned envelope keeps signature but breaks id", func(t *testing.T) {
		sig, err := signer.Sign([]byte(env.Protected + "." + B64Encode(env.Payload)))
		require.NoError(t, err)
		tampered := env
		tampered.Signature = B64Encode(sig)
		require.NotEqual(t, env.Signature, tampered.Signature)

		result, err := svc.Verify(context.Background(), tampered, keys)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, domain.ReasonIDMismatch, result.Reason)
		assert.True(t, result.Checks.ContentHash)
		assert.True(t, result.Checks.Signature)
		assert.False(t, result.Checks.ReceiptID)
	})

	t.Run("payload change reports hash before signature", func(t *testing.T) {
		other, err := svc.Sign(domain.Document{
			Domain:   domain.DomainTransaction,
			Data:     domain.TransactionData{Amount: 7, Currency: "EUR"},
			IssuedAt: fixedIssuedAt,
		}, signer)
		require.NoError(t, err)
		tampered := env
		tampered.Payload = other.Envelope.Payload
		result, err := svc.Verify(context.Background(), tampered, keys)
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonHashMismatch, result.Reason)
		assert.False(t, result.Checks.Signature)
		assert.False(t, result.Checks.ReceiptID)
	})

	t.Run("kid mismatch", func(t *testing.T) {
		tampered := env
		tampered.KID = "someone-else"
		result, err := svc.Verify(context.Background(), tampered, keys)
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonKIDMismatch, result.Reason)
	})

	t.Run("unsupported algorithm", func(t *testing.T) {
		tampered := env
		tampered.Protected = B64Encode([]byte(`{"alg":"HS256","kid":"` + signer.KID() + `"}`))
		result, err := svc.Verify(context.Background(), tampered, keys)
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonUnsupportedAlgorithm, result.Reason)
	})

	t.Run("malformed header", func(t *testing.T) {
		tampered := env
		tampered.Protected = "!!not-base64!!"
		result, err := svc.Verify(context.Background(), tampered, keys)
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonMalformed, result.Reason)
	})

	t.Run("malformed payload", func(t *testing.T) {
		tampered := env
		tampered.Payload = json.RawMessage(`{"domain":`)
		result, err := svc.Verify(context.Background(), tampered, keys)
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonMalformed, result.Reason)
	})
}

func TestVerify_MissingKeyIsError(t *testing.T) {
	svc := NewService()
	signer, _ := testSigner(t)
	receipt, err := svc.Sign(transactionDoc(), signer)
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), receipt.Envelope, staticKeys{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrKeyNotFound))
}

func TestGraphHash_OrderIndependent(t *testing.T) {
	a, err := GraphHash([]string{"h1", "h2", "h3"})
	require.NoError(t, err)
	b, err := GraphHash([]string{"h3", "h1", "h2"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	empty, err := GraphHash(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestJWK_RoundTripAndThumbprint(t *testing.T) {
	signer, _ := testSigner(t)
	jwk, err := PublicJWK(signer.Public(), "")
	require.NoError(t, err)
	assert.Equal(t, signer.KID(), jwk.KID)

	pub, err := jwk.PublicKey()
	require.NoError(t, err)
	thumb, err := Thumbprint(pub)
	require.NoError(t, err)
	assert.Equal(t, signer.KID(), thumb)

	set := JWKS{Keys: []JWK{jwk}}
	require.NoError(t, set.Validate())
	found, ok := set.Find(signer.KID())
	require.True(t, ok)
	assert.Equal(t, jwk, found)

	assert.Error(t, JWKS{}.Validate())
	assert.Error(t, JWK{Kty: "RSA"}.Validate())
}

func TestAssetHash_IgnoresFormatting(t *testing.T) {
	a, err := AssetHash("application/json; charset=utf-8", []byte(`{"b":1,"a":2}`))
	require.NoError(t, err)
	b, err := AssetHash("application/json", []byte("{ \"a\": 2, \"b\": 1 }"))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := AssetHash("text/plain", []byte("line\r\n"))
	require.NoError(t, err)
	d, err := AssetHash("text/plain", []byte("line\n"))
	require.NoError(t, err)
	assert.Equal(t, c, d)
}

func TestSign_KeepsLargeAttributeIntegers(t *testing.T) {
	svc := NewService()
	signer, keys := testSigner(t)

	data, err := domain.DecodePayload(domain.DomainTransaction,
		[]byte(`{"amount":10,"attributes":{"order_no":9007199254740993}}`))
	require.NoError(t, err)
	doc := transactionDoc()
	doc.Data = data

	receipt, err := svc.Sign(doc, signer)
	require.NoError(t, err)
	assert.Contains(t, string(receipt.Envelope.Payload), `"order_no":9007199254740993`)

	result, err := svc.Verify(context.Background(), receipt.Envelope, keys)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	rebuilt, err := ReceiptFromEnvelope(receipt.Envelope)
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), rebuilt.Data.Attributes()["order_no"])
}

func TestSign_RejectsUnrepresentableAttributes(t *testing.T) {
	svc := NewService()
	signer, _ := testSigner(t)

	doc := transactionDoc()
	doc.Data = domain.TransactionData{Amount: 1, Attrs: map[string]any{"note": "caf\xe9"}}
	_, err := svc.Sign(doc, signer)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}
