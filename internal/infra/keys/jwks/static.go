package jwks

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"os"

	"certnode/internal/domain"
	cryptoinfra "certnode/internal/infra/crypto"
)

// Static resolves keys from a fixed JWKS document, typically one exported
// with `certnode jwks` and shipped alongside receipts.
type Static struct {
	keys map[string]crypto.PublicKey
}

var _ domain.KeyProvider = (*Static)(nil)

func NewStatic(set cryptoinfra.JWKS) (*Static, error) {
	keys, err := indexKeys(set)
	if err != nil {
		return nil, err
	}
	return &Static{keys: keys}, nil
}

func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jwks: %w", err)
	}
	var set cryptoinfra.JWKS
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	return NewStatic(set)
}

func (s *Static) PublicKey(_ context.Context, kid string) (crypto.PublicKey, error) {
	pub, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: kid %q", domain.ErrKeyNotFound, kid)
	}
	return pub, nil
}
