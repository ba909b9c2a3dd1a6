package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"certnode/internal/config"
	"certnode/internal/domain"
	"certnode/internal/infra/vaultclient"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// fakeKV stores the latest version written to each path.
type fakeKV struct {
	mu     sync.Mutex
	data   map[string]json.RawMessage
	writes int
}

func (f *fakeKV) client() *vaultclient.Client {
	return vaultclient.New("https://vault.example", "token", vaultclient.WithHTTPClient(&http.Client{
		Transport: roundTripFunc(f.roundTrip),
	}))
}

func (f *fakeKV) roundTrip(r *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	switch r.Method {
	case http.MethodGet:
		stored, ok := f.data[path]
		if !ok {
			return reply(http.StatusNotFound, nil), nil
		}
		body, _ := json.Marshal(map[string]any{"data": map[string]json.RawMessage{"data": stored}})
		return reply(http.StatusOK, body), nil
	case http.MethodPut:
		var body struct {
			Data json.RawMessage `json:"data"`
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			return reply(http.StatusBadRequest, nil), nil
		}
		f.data[path] = body.Data
		f.writes++
		return reply(http.StatusOK, nil), nil
	}
	return reply(http.StatusMethodNotAllowed, nil), nil
}

func reply(status int, body []byte) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: make(http.Header)}
}

func TestKeyStore_LoadOrCreateIsStable(t *testing.T) {
	kv := &fakeKV{data: map[string]json.RawMessage{}}
	store, err := NewKeyStore(kv.client(), "dev", "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if store.Path() != "secret/data/certnode/dev/keys/signing" {
		t.Fatalf("unexpected path %s", store.Path())
	}

	first, created, err := store.LoadOrCreate(context.Background())
	if err != nil || !created {
		t.Fatalf("first load: created=%v err=%v", created, err)
	}
	second, created, err := store.LoadOrCreate(context.Background())
	if err != nil || created {
		t.Fatalf("second load: created=%v err=%v", created, err)
	}
	if first.KID() != second.KID() {
		t.Fatalf("kid changed across loads: %s vs %s", first.KID(), second.KID())
	}
	if second.Algorithm() != domain.AlgES256 {
		t.Fatalf("unexpected alg %s", second.Algorithm())
	}
	if kv.writes != 1 {
		t.Fatalf("expected one write, got %d", kv.writes)
	}
}

func TestKeyStore_RejectsAlgMismatch(t *testing.T) {
	kv := &fakeKV{data: map[string]json.RawMessage{}}
	store, err := NewKeyStore(kv.client(), "dev", "issuer")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, _, err := store.LoadOrCreate(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var stored storedKey
	if err := json.Unmarshal(kv.data[store.Path()], &stored); err != nil {
		t.Fatalf("decode stored key: %v", err)
	}
	stored.Alg = domain.AlgEdDSA
	kv.data[store.Path()], _ = json.Marshal(stored)

	if _, err := store.Load(context.Background()); err == nil {
		t.Fatal("expected alg mismatch error")
	}
}

func TestNewKeyStoreFromConfig(t *testing.T) {
	if _, err := NewKeyStoreFromConfig(config.Config{Env: "dev"}); err == nil {
		t.Fatal("expected error without vault addr and token")
	}
	if _, err := NewKeyStoreFromConfig(config.Config{VaultAddr: "http://vault", VaultToken: "t"}); err == nil || !strings.Contains(err.Error(), "CERTNODE_ENV") {
		t.Fatalf("expected CERTNODE_ENV error, got %v", err)
	}
	if _, err := NewKeyStore(nil, "dev", "a/b"); err == nil {
		t.Fatal("expected error for nested key name")
	}
}
