package soft

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"certnode/internal/config"
	"certnode/internal/domain"
	cryptoinfra "certnode/internal/infra/crypto"
)

func TestManager_PublicKeyUnknownKID(t *testing.T) {
	signer, err := cryptoinfra.GenerateECDSASigner()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	manager := NewManager(signer)

	if _, err := manager.PublicKey(context.Background(), signer.KID()); err != nil {
		t.Fatalf("expected known kid to resolve: %v", err)
	}
	_, err = manager.PublicKey(context.Background(), "missing")
	if !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestManager_FromConfigPEM(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	manager, ephemeral, err := NewManagerFromConfig(config.Config{
		SigningPrivateKeyPEM: string(pemBytes),
		SigningKID:           "issuer-2025",
	})
	if err != nil {
		t.Fatalf("load manager: %v", err)
	}
	if ephemeral {
		t.Fatal("expected configured key, got ephemeral")
	}
	active, err := manager.Active()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.KID() != "issuer-2025" || active.Algorithm() != domain.AlgES256 {
		t.Fatalf("unexpected signer %s/%s", active.KID(), active.Algorithm())
	}
}

func TestManager_FromConfigEd25519Seed(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	manager, _, err := NewManagerFromConfig(config.Config{
		SigningPrivateKeyBase64: base64.StdEncoding.EncodeToString(seed),
	})
	if err != nil {
		t.Fatalf("load manager: %v", err)
	}
	active, err := manager.Active()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.Algorithm() != domain.AlgEdDSA {
		t.Fatalf("expected EdDSA, got %s", active.Algorithm())
	}
	thumb, err := cryptoinfra.Thumbprint(active.Public())
	if err != nil {
		t.Fatalf("thumbprint: %v", err)
	}
	if active.KID() != thumb {
		t.Fatalf("expected thumbprint kid %s, got %s", thumb, active.KID())
	}
}

func TestManager_FromConfigEphemeral(t *testing.T) {
	manager, ephemeral, err := NewManagerFromConfig(config.Config{})
	if err != nil {
		t.Fatalf("load manager: %v", err)
	}
	if !ephemeral {
		t.Fatal("expected ephemeral key")
	}
	if _, err := manager.Active(); err != nil {
		t.Fatalf("active: %v", err)
	}
}

func TestManager_FromConfigRejectsGarbage(t *testing.T) {
	if _, _, err := NewManagerFromConfig(config.Config{SigningPrivateKeyPEM: "not pem"}); err == nil {
		t.Fatal("expected error for invalid PEM")
	}
	if _, _, err := NewManagerFromConfig(config.Config{SigningPrivateKeyBase64: "%%%"}); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestManager_AddKeepsOldKeys(t *testing.T) {
	first, err := cryptoinfra.GenerateECDSASigner()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	second, err := cryptoinfra.GenerateECDSASigner()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	manager := NewManager(first)
	manager.Add(second)

	active, err := manager.Active()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.KID() != second.KID() {
		t.Fatalf("expected newest key to be active, got %s", active.KID())
	}
	if _, err := manager.PublicKey(context.Background(), first.KID()); err != nil {
		t.Fatalf("old key must stay resolvable: %v", err)
	}
	set, err := manager.JWKS()
	if err != nil {
		t.Fatalf("jwks: %v", err)
	}
	if len(set.Keys) != 2 {
		t.Fatalf("expected 2 published keys, got %d", len(set.Keys))
	}
}

func TestLoadOrCreateKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "signing.pem")

	created, isNew, err := LoadOrCreateKeyFile(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !isNew {
		t.Fatal("expected key file to be created")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, isNew, err := LoadOrCreateKeyFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if isNew {
		t.Fatal("expected existing key file to be reused")
	}
	if loaded.KID() != created.KID() {
		t.Fatalf("expected kid %s, got %s", created.KID(), loaded.KID())
	}
}
