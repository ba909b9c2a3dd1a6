package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"certnode/internal/domain"
)

const es256SignatureSize = 64

var b64 = base64.RawURLEncoding

func B64Encode(data []byte) string {
	return b64.EncodeToString(data)
}

func B64Decode(s string) ([]byte, error) {
	return b64.DecodeString(s)
}

// ECDSASigner signs with ECDSA P-256 and emits JOSE (r||s) signatures.
type ECDSASigner struct {
	kid string
	key *ecdsa.PrivateKey
}

func NewECDSASigner(key *ecdsa.PrivateKey, kid string) (*ECDSASigner, error) {
	if key == nil {
		return nil, errors.New("private key is required")
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: ES256 requires a P-256 key", domain.ErrUnsupportedAlgorithm)
	}
	if kid == "" {
		thumb, err := Thumbprint(&key.PublicKey)
		if err != nil {
			return nil, err
		}
		kid = thumb
	}
	return &ECDSASigner{kid: kid, key: key}, nil
}

func GenerateECDSASigner() (*ECDSASigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewECDSASigner(key, "")
}

func (s *ECDSASigner) KID() string              { return s.kid }
func (s *ECDSASigner) Algorithm() string        { return domain.AlgES256 }
func (s *ECDSASigner) Public() crypto.PublicKey { return &s.key.PublicKey }

func (s *ECDSASigner) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}

func (s *ECDSASigner) Sign(signingInput []byte) ([]byte, error) {
	digest := sha256.Sum256(signingInput)
	r, sv, err := ecdsa.Sign(rand.Reader, s.key, digest[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, es256SignatureSize)
	r.FillBytes(out[:32])
	sv.FillBytes(out[32:])
	return out, nil
}

// Ed25519Signer signs with EdDSA over Ed25519.
type Ed25519Signer struct {
	kid string
	key ed25519.PrivateKey
}

func NewEd25519Signer(key ed25519.PrivateKey, kid string) (*Ed25519Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key length: %d", len(key))
	}
	if kid == "" {
		thumb, err := Thumbprint(key.Public())
		if err != nil {
			return nil, err
		}
		kid = thumb
	}
	return &Ed25519Signer{kid: kid, key: append(ed25519.PrivateKey(nil), key...)}, nil
}

func (s *Ed25519Signer) KID() string              { return s.kid }
func (s *Ed25519Signer) Algorithm() string        { return domain.AlgEdDSA }
func (s *Ed25519Signer) Public() crypto.PublicKey { return s.key.Public() }

func (s *Ed25519Signer) PrivateKey() ed25519.PrivateKey {
	return s.key
}

func (s *Ed25519Signer) Sign(signingInput []byte) ([]byte, error) {
	return ed25519.Sign(s.key, signingInput), nil
}

func verifyES256(pub crypto.PublicKey, signingInput, sig []byte) error {
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok || key.Curve != elliptic.P256() {
		return errors.New("ES256 requires an EC P-256 public key")
	}
	if len(sig) != es256SignatureSize {
		return fmt.Errorf("ES256 signature must be %d bytes, got %d", es256SignatureSize, len(sig))
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	digest := sha256.Sum256(signingInput)
	if !ecdsa.Verify(key, digest[:], r, s) {
		return errors.New("signature verification failed")
	}
	return nil
}

func verifyEdDSA(pub crypto.PublicKey, signingInput, sig []byte) error {
	key, ok := pub.(ed25519.PublicKey)
	if !ok {
		return errors.New("EdDSA requires an Ed25519 public key")
	}
	if len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid ed25519 public key length: %d", len(key))
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid ed25519 signature length: %d", len(sig))
	}
	if !ed25519.Verify(key, signingInput, sig) {
		return errors.New("signature verification failed")
	}
	return nil
}

func verifySignature(alg string, pub crypto.PublicKey, signingInput, sig []byte) error {
	switch alg {
	case domain.AlgES256:
		return verifyES256(pub, signingInput, sig)
	case domain.AlgEdDSA:
		return verifyEdDSA(pub, signingInput, sig)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedAlgorithm, alg)
	}
}
