package soft

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"certnode/internal/domain"
	cryptoinfra "certnode/internal/infra/crypto"
)

// EncodePrivateKeyPEM serializes a signer's private key as PKCS#8 PEM.
func EncodePrivateKeyPEM(signer domain.Signer) ([]byte, error) {
	var key any
	switch s := signer.(type) {
	case *cryptoinfra.ECDSASigner:
		key = s.PrivateKey()
	case *cryptoinfra.Ed25519Signer:
		key = s.PrivateKey()
	default:
		return nil, fmt.Errorf("cannot export private key of %T", signer)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// LoadOrCreateKeyFile reads a PEM key from path, generating and writing a new
// ES256 key with 0600 permissions when the file does not exist.
func LoadOrCreateKeyFile(path string) (signer domain.Signer, created bool, err error) {
	data, err := os.ReadFile(path)
	if err == nil {
		signer, err = ParsePrivateKeyPEM(data, "")
		return signer, false, err
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	generated, err := cryptoinfra.GenerateECDSASigner()
	if err != nil {
		return nil, false, err
	}
	encoded, err := EncodePrivateKeyPEM(generated)
	if err != nil {
		return nil, false, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, false, err
		}
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return nil, false, err
	}
	return generated, true, nil
}
