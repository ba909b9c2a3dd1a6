package jwks

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"certnode/internal/domain"
	cryptoinfra "certnode/internal/infra/crypto"
)

const (
	defaultCacheTTL      = 5 * time.Minute
	defaultMaxStale      = 15 * time.Minute
	defaultFetchTimeout  = 5 * time.Second
	defaultRetryAttempts = 3
	defaultRetryBase     = 200 * time.Millisecond
	defaultRetryMax      = 2 * time.Second
)

type keyState int

const (
	keyMissing keyState = iota
	keyFresh
	keyStale
)

// Provider resolves verification keys from a remote JWKS document. Keys are
// cached for the TTL and served stale for a further window while a refresh
// runs in the background. Concurrent refreshes collapse into one fetch.
type Provider struct {
	url          string
	httpClient   *http.Client
	ttl          time.Duration
	maxStale     time.Duration
	fetchTimeout time.Duration
	retryBase    time.Duration
	retryMax     time.Duration
	now          func() time.Time

	mu         sync.RWMutex
	keys       map[string]crypto.PublicKey
	expiresAt  time.Time
	staleUntil time.Time

	refreshMu sync.Mutex
	refreshCh chan struct{}
	lastErr   error
}

var _ domain.KeyProvider = (*Provider)(nil)

func NewProvider(url string, httpClient *http.Client, ttl time.Duration) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Provider{
		url:          url,
		httpClient:   httpClient,
		ttl:          ttl,
		maxStale:     defaultMaxStale,
		fetchTimeout: defaultFetchTimeout,
		retryBase:    defaultRetryBase,
		retryMax:     defaultRetryMax,
		now:          time.Now,
		keys:         map[string]crypto.PublicKey{},
	}
}

func (p *Provider) PublicKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if kid == "" {
		return nil, fmt.Errorf("%w: kid is required", domain.ErrKeyNotFound)
	}
	now := p.now()
	if key, state := p.lookup(kid, now); state == keyFresh {
		return key, nil
	} else if state == keyStale {
		p.refreshAsync()
		return key, nil
	}
	if err := p.refresh(ctx); err != nil {
		return nil, err
	}
	if key, _ := p.lookup(kid, p.now()); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q not published at %s", domain.ErrKeyNotFound, kid, p.url)
}

// Keys returns the last fetched key set, fetching it if the cache is empty.
func (p *Provider) Keys(ctx context.Context) (map[string]crypto.PublicKey, error) {
	p.mu.RLock()
	fresh := len(p.keys) > 0 && p.now().Before(p.expiresAt)
	p.mu.RUnlock()
	if !fresh {
		if err := p.refresh(ctx); err != nil {
			return nil, err
		}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]crypto.PublicKey, len(p.keys))
	for kid, key := range p.keys {
		out[kid] = key
	}
	return out, nil
}

func (p *Provider) lookup(kid string, now time.Time) (crypto.PublicKey, keyState) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	key, ok := p.keys[kid]
	if !ok {
		return nil, keyMissing
	}
	if now.Before(p.expiresAt) {
		return key, keyFresh
	}
	if !p.staleUntil.IsZero() && now.Before(p.staleUntil) {
		return key, keyStale
	}
	return nil, keyMissing
}

func (p *Provider) refreshAsync() {
	ctx, cancel := context.WithTimeout(context.Background(), p.fetchTimeout)
	go func() {
		_ = p.refresh(ctx)
		cancel()
	}()
}

func (p *Provider) refresh(ctx context.Context) error {
	ch, leader := p.beginRefresh()
	if !leader {
		return p.waitRefresh(ctx, ch)
	}

	err := p.doRefresh(ctx)
	p.finishRefresh(err, ch)
	return err
}

func (p *Provider) beginRefresh() (chan struct{}, bool) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()
	if p.refreshCh != nil {
		return p.refreshCh, false
	}
	ch := make(chan struct{})
	p.refreshCh = ch
	return ch, true
}

func (p *Provider) waitRefresh(ctx context.Context, ch chan struct{}) error {
	select {
	case <-ch:
		p.refreshMu.Lock()
		defer p.refreshMu.Unlock()
		return p.lastErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) finishRefresh(err error, ch chan struct{}) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()
	p.lastErr = err
	close(ch)
	p.refreshCh = nil
}

func (p *Provider) doRefresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	keys, err := p.fetchWithRetry(ctx)
	if err != nil {
		return err
	}
	now := p.now()
	p.mu.Lock()
	p.keys = keys
	p.expiresAt = now.Add(p.ttl)
	p.staleUntil = p.expiresAt.Add(p.maxStale)
	p.mu.Unlock()
	return nil
}

func (p *Provider) fetchWithRetry(ctx context.Context) (map[string]crypto.PublicKey, error) {
	delay := p.retryBase
	var lastErr error
	for attempt := 0; attempt < defaultRetryAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
			if delay > p.retryMax {
				delay = p.retryMax
			}
		}
		keys, err := p.fetchOnce(ctx)
		if err == nil {
			return keys, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// fetchOnce indexes every usable key by kid and by RFC 7638 thumbprint so
// receipts whose kid is a thumbprint resolve against sets that name keys.
func (p *Provider) fetchOnce(ctx context.Context) (map[string]crypto.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("jwks fetch failed: HTTP %d", resp.StatusCode)
	}
	var set cryptoinfra.JWKS
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, err
	}
	return indexKeys(set)
}

func indexKeys(set cryptoinfra.JWKS) (map[string]crypto.PublicKey, error) {
	keys := make(map[string]crypto.PublicKey, len(set.Keys)*2)
	for _, jwk := range set.Keys {
		pub, err := jwk.PublicKey()
		if err != nil {
			continue
		}
		if jwk.KID != "" {
			keys[jwk.KID] = pub
		}
		if thumb, err := jwk.Thumbprint(); err == nil {
			keys[thumb] = pub
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks contains no usable keys")
	}
	return keys, nil
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
