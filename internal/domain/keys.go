package domain

import (
	"context"
	"crypto"
)

const (
	AlgES256 = "ES256"
	AlgEdDSA = "EdDSA"
)

// Signer produces detached JWS signatures. The kid is carried in the
// protected header of every receipt it signs.
type Signer interface {
	KID() string
	Algorithm() string
	Sign(signingInput []byte) ([]byte, error)
	Public() crypto.PublicKey
}

// KeyProvider resolves verification keys by kid. Implementations own caching;
// a missing key must be reported as ErrKeyNotFound.
type KeyProvider interface {
	PublicKey(ctx context.Context, kid string) (crypto.PublicKey, error)
}
