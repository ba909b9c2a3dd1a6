package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"errors"
	"fmt"
	"math/big"

	"certnode/internal/domain"
)

// JWK is the public-key subset of RFC 7517 used by verifiers.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
	KID string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

func (k JWK) Validate() error {
	switch k.Kty {
	case "":
		return errors.New("missing kty field")
	case "EC":
		if k.Crv != "P-256" {
			return fmt.Errorf("only P-256 curve supported for EC keys, got %s", k.Crv)
		}
		if k.X == "" || k.Y == "" {
			return errors.New("EC key missing x or y coordinate")
		}
	case "OKP":
		if k.Crv != "Ed25519" {
			return fmt.Errorf("only Ed25519 curve supported for OKP keys, got %s", k.Crv)
		}
		if k.X == "" {
			return errors.New("OKP key missing x coordinate")
		}
	default:
		return fmt.Errorf("unsupported key type: %s", k.Kty)
	}
	return nil
}

func (s JWKS) Validate() error {
	if len(s.Keys) == 0 {
		return errors.New("JWKS contains no keys")
	}
	for i, k := range s.Keys {
		if err := k.Validate(); err != nil {
			return fmt.Errorf("key %d: %w", i, err)
		}
	}
	return nil
}

// Find returns the key whose kid, or RFC 7638 thumbprint when kid is absent,
// equals kid.
func (s JWKS) Find(kid string) (JWK, bool) {
	for _, k := range s.Keys {
		if k.KID == kid {
			return k, true
		}
	}
	for _, k := range s.Keys {
		if k.KID != "" {
			continue
		}
		if thumb, err := k.Thumbprint(); err == nil && thumb == kid {
			return k, true
		}
	}
	return JWK{}, false
}

// Thumbprint computes the RFC 7638 thumbprint over the required members only.
func (k JWK) Thumbprint() (string, error) {
	if err := k.Validate(); err != nil {
		return "", err
	}
	members := map[string]any{"kty": k.Kty, "crv": k.Crv, "x": k.X}
	if k.Kty == "EC" {
		members["y"] = k.Y
	}
	canonical, err := CanonicalizeAny(members)
	if err != nil {
		return "", err
	}
	return B64Encode(sha256Bytes(canonical)), nil
}

// PublicKey converts the JWK into an *ecdsa.PublicKey or ed25519.PublicKey.
func (k JWK) PublicKey() (crypto.PublicKey, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	x, err := B64Decode(k.X)
	if err != nil {
		return nil, fmt.Errorf("invalid x coordinate: %w", err)
	}
	if k.Kty == "OKP" {
		if len(x) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid ed25519 public key length: %d", len(x))
		}
		return ed25519.PublicKey(x), nil
	}
	y, err := B64Decode(k.Y)
	if err != nil {
		return nil, fmt.Errorf("invalid y coordinate: %w", err)
	}
	if len(x) != 32 || len(y) != 32 {
		return nil, errors.New("P-256 coordinates must be 32 bytes")
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, errors.New("EC point is not on P-256")
	}
	return pub, nil
}

// PublicJWK renders a public key as a JWK. kid defaults to the thumbprint.
func PublicJWK(pub crypto.PublicKey, kid string) (JWK, error) {
	k, err := jwkFromPublic(pub)
	if err != nil {
		return JWK{}, err
	}
	if kid == "" {
		if kid, err = k.Thumbprint(); err != nil {
			return JWK{}, err
		}
	}
	k.KID = kid
	return k, nil
}

// Thumbprint returns the RFC 7638 thumbprint of a public key.
func Thumbprint(pub crypto.PublicKey) (string, error) {
	k, err := jwkFromPublic(pub)
	if err != nil {
		return "", err
	}
	return k.Thumbprint()
}

func jwkFromPublic(pub crypto.PublicKey) (JWK, error) {
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		if key.Curve != elliptic.P256() {
			return JWK{}, fmt.Errorf("%w: only P-256 EC keys", domain.ErrUnsupportedAlgorithm)
		}
		x := make([]byte, 32)
		y := make([]byte, 32)
		key.X.FillBytes(x)
		key.Y.FillBytes(y)
		return JWK{Kty: "EC", Crv: "P-256", X: B64Encode(x), Y: B64Encode(y), Alg: domain.AlgES256, Use: "sig"}, nil
	case ed25519.PublicKey:
		return JWK{Kty: "OKP", Crv: "Ed25519", X: B64Encode(key), Alg: domain.AlgEdDSA, Use: "sig"}, nil
	default:
		return JWK{}, fmt.Errorf("%w: key type %T", domain.ErrUnsupportedAlgorithm, pub)
	}
}
