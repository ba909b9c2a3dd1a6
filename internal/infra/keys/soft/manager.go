package soft

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"certnode/internal/config"
	"certnode/internal/domain"
	cryptoinfra "certnode/internal/infra/crypto"
)

// Manager is an in-process key set. The active signer issues receipts; every
// key ever added stays resolvable for verification.
type Manager struct {
	mu      sync.RWMutex
	signers map[string]domain.Signer
	active  string
}

var _ domain.KeyProvider = (*Manager)(nil)

func NewManager(signers ...domain.Signer) *Manager {
	m := &Manager{signers: make(map[string]domain.Signer, len(signers))}
	for _, s := range signers {
		m.Add(s)
	}
	return m
}

// NewManagerFromConfig loads the signing key from SIGNING_PRIVATE_KEY_PEM or
// SIGNING_PRIVATE_KEY_BASE64. With neither set it generates an ephemeral
// ES256 key and reports ephemeral=true.
func NewManagerFromConfig(cfg config.Config) (m *Manager, ephemeral bool, err error) {
	var signer domain.Signer
	switch {
	case strings.TrimSpace(cfg.SigningPrivateKeyPEM) != "":
		signer, err = ParsePrivateKeyPEM([]byte(cfg.SigningPrivateKeyPEM), cfg.SigningKID)
	case strings.TrimSpace(cfg.SigningPrivateKeyBase64) != "":
		signer, err = readPrivateKeyBase64(cfg.SigningPrivateKeyBase64, cfg.SigningKID)
	default:
		signer, err = cryptoinfra.GenerateECDSASigner()
		ephemeral = true
	}
	if err != nil {
		return nil, false, err
	}
	return NewManager(signer), ephemeral, nil
}

// Add registers s and makes it the active signer.
func (m *Manager) Add(s domain.Signer) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signers == nil {
		m.signers = make(map[string]domain.Signer)
	}
	m.signers[s.KID()] = s
	m.active = s.KID()
}

func (m *Manager) Active() (domain.Signer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.signers[m.active]
	if !ok {
		return nil, fmt.Errorf("%w: no active signing key", domain.ErrKeyNotFound)
	}
	return s, nil
}

func (m *Manager) PublicKey(_ context.Context, kid string) (crypto.PublicKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.signers[kid]
	if !ok {
		return nil, fmt.Errorf("%w: kid %q", domain.ErrKeyNotFound, kid)
	}
	return s.Public(), nil
}

// JWKS publishes the public half of every key, sorted by kid.
func (m *Manager) JWKS() (cryptoinfra.JWKS, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kids := make([]string, 0, len(m.signers))
	for kid := range m.signers {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	set := cryptoinfra.JWKS{Keys: make([]cryptoinfra.JWK, 0, len(kids))}
	for _, kid := range kids {
		jwk, err := cryptoinfra.PublicJWK(m.signers[kid].Public(), kid)
		if err != nil {
			return cryptoinfra.JWKS{}, err
		}
		set.Keys = append(set.Keys, jwk)
	}
	return set, nil
}

func readPrivateKeyBase64(value, kid string) (domain.Signer, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	return parsePrivateKey(raw, kid)
}

// ParsePrivateKeyPEM accepts PKCS#8 ("PRIVATE KEY") and SEC 1 ("EC PRIVATE KEY") blocks.
func ParsePrivateKeyPEM(data []byte, kid string) (domain.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("signing key is not PEM encoded")
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse EC private key: %w", err)
		}
		return cryptoinfra.NewECDSASigner(key, kid)
	case "PRIVATE KEY":
		return parsePrivateKey(block.Bytes, kid)
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

func parsePrivateKey(raw []byte, kid string) (domain.Signer, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		return cryptoinfra.NewEd25519Signer(ed25519.NewKeyFromSeed(raw), kid)
	case ed25519.PrivateKeySize:
		return cryptoinfra.NewEd25519Signer(ed25519.PrivateKey(raw), kid)
	}
	key, err := x509.ParsePKCS8PrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS#8 private key: %w", err)
	}
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		return cryptoinfra.NewECDSASigner(k, kid)
	case ed25519.PrivateKey:
		return cryptoinfra.NewEd25519Signer(k, kid)
	default:
		return nil, fmt.Errorf("%w: private key type %T", domain.ErrUnsupportedAlgorithm, key)
	}
}
