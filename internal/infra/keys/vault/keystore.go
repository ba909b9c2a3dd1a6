// Package vault keeps the server's signing key in a Vault KV v2 secret so
// replicas share one issuer identity.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"certnode/internal/config"
	"certnode/internal/domain"
	cryptoinfra "certnode/internal/infra/crypto"
	"certnode/internal/infra/keys/soft"
	"certnode/internal/infra/vaultclient"
)

// Vault KV v2 path format (env-scoped): secret/data/certnode/{env}/keys/{name}
// Stored fields: alg, kid, private_key_pem, created_at.
const kvPathFormat = "secret/data/certnode/%s/keys/%s"

type KeyStore struct {
	client *vaultclient.Client
	path   string
	now    func() time.Time
}

type storedKey struct {
	Alg           string `json:"alg"`
	KID           string `json:"kid"`
	PrivateKeyPEM string `json:"private_key_pem"`
	CreatedAt     string `json:"created_at,omitempty"`
}

func NewKeyStore(client *vaultclient.Client, env, name string) (*KeyStore, error) {
	path, err := kvPath(env, name)
	if err != nil {
		return nil, err
	}
	return &KeyStore{client: client, path: path, now: time.Now}, nil
}

func NewKeyStoreFromConfig(cfg config.Config) (*KeyStore, error) {
	if cfg.VaultAddr == "" || cfg.VaultToken == "" {
		return nil, errors.New("VAULT_ADDR and VAULT_TOKEN are required")
	}
	return NewKeyStore(vaultclient.New(cfg.VaultAddr, cfg.VaultToken), cfg.Env, cfg.VaultKeyName)
}

func (s *KeyStore) Path() string {
	return s.path
}

// Load reads the stored key. A stored kid overrides the thumbprint default.
func (s *KeyStore) Load(ctx context.Context) (domain.Signer, error) {
	var key storedKey
	if err := s.client.ReadKV(ctx, s.path, &key); err != nil {
		return nil, err
	}
	if strings.TrimSpace(key.PrivateKeyPEM) == "" {
		return nil, fmt.Errorf("vault key %s: private_key_pem is empty", s.path)
	}
	signer, err := soft.ParsePrivateKeyPEM([]byte(key.PrivateKeyPEM), key.KID)
	if err != nil {
		return nil, fmt.Errorf("vault key %s: %w", s.path, err)
	}
	if key.Alg != "" && key.Alg != signer.Algorithm() {
		return nil, fmt.Errorf("vault key %s: stored alg %s does not match %s key", s.path, key.Alg, signer.Algorithm())
	}
	return signer, nil
}

// LoadOrCreate returns the stored key, generating and writing an ES256 key
// when the secret does not exist yet.
func (s *KeyStore) LoadOrCreate(ctx context.Context) (signer domain.Signer, created bool, err error) {
	signer, err = s.Load(ctx)
	if err == nil {
		return signer, false, nil
	}
	if !errors.Is(err, vaultclient.ErrNotFound) {
		return nil, false, err
	}
	generated, err := cryptoinfra.GenerateECDSASigner()
	if err != nil {
		return nil, false, err
	}
	if err := s.Store(ctx, generated); err != nil {
		return nil, false, err
	}
	return generated, true, nil
}

func (s *KeyStore) Store(ctx context.Context, signer domain.Signer) error {
	encoded, err := soft.EncodePrivateKeyPEM(signer)
	if err != nil {
		return err
	}
	return s.client.WriteKV(ctx, s.path, storedKey{
		Alg:           signer.Algorithm(),
		KID:           signer.KID(),
		PrivateKeyPEM: string(encoded),
		CreatedAt:     s.now().UTC().Format(time.RFC3339),
	})
}

func kvPath(env, name string) (string, error) {
	if env == "" {
		return "", errors.New("CERTNODE_ENV is required")
	}
	if name == "" {
		name = "signing"
	}
	if strings.ContainsAny(name, "/ ") || strings.ContainsAny(env, "/ ") {
		return "", fmt.Errorf("invalid vault key name %q in env %q", name, env)
	}
	return fmt.Sprintf(kvPathFormat, env, name), nil
}
