// Package selector implements C4: resolving the ordered provider list
// for a CLI family and picking a base URL for a chosen provider, either
// by configured order or by concurrently pinging every base URL and
// picking the fastest responder, cached for a short TTL.
package selector

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thushan/olla-gateway/internal/core/domain"
	"github.com/thushan/olla-gateway/internal/core/ports"
)

type pingCacheEntry struct {
	bestBaseURL string
	expiresAt   time.Time
}

// Selector resolves provider order via a domain.GatewayProviderStore and
// picks base URLs, caching ping results per provider.
type Selector struct {
	store  domain.GatewayProviderStore
	client *http.Client
	pingTTL time.Duration

	mu    sync.Mutex
	cache map[int64]pingCacheEntry
}

func New(store domain.GatewayProviderStore, client *http.Client, pingTTL time.Duration) *Selector {
	if client == nil {
		client = &http.Client{Timeout: domain.ProviderPingTimeout}
	}
	if pingTTL <= 0 {
		pingTTL = 30 * time.Second
	}
	return &Selector{store: store, client: client, pingTTL: pingTTL, cache: make(map[int64]pingCacheEntry)}
}

func (s *Selector) ResolveOrder(ctx context.Context, cliKey, sortMode string) (*domain.GatewayProviderList, error) {
	return s.store.ProvidersForCLI(cliKey, sortMode)
}

// SelectBaseURL returns the base URL to use for p. Order mode always
// returns the first configured URL; ping mode probes every URL
// concurrently (bounded errgroup, mirroring the discovery service's
// concurrent-probe pattern) and picks the fastest 2xx responder, caching
// the winner for pingTTL so a steady-state hot path skips re-probing.
func (s *Selector) SelectBaseURL(ctx context.Context, p *domain.GatewayProvider) (string, error) {
	if len(p.BaseURLs) == 0 {
		return "", &domain.GatewayError{Code: domain.GWErrNoEnabledProvider, Message: "provider has no base urls", Category: domain.ErrCategorySystem}
	}
	if p.BaseURLMode != domain.BaseURLSelectPing || len(p.BaseURLs) == 1 {
		return p.BaseURLs[0], nil
	}

	if cached, ok := s.cachedBaseURL(p.ID, p.BaseURLs); ok {
		return cached, nil
	}

	best, err := s.pingAll(ctx, p.BaseURLs)
	if err != nil {
		return p.BaseURLs[0], nil
	}

	s.mu.Lock()
	s.cache[p.ID] = pingCacheEntry{bestBaseURL: best, expiresAt: time.Now().Add(s.pingTTL)}
	s.mu.Unlock()

	return best, nil
}

func (s *Selector) cachedBaseURL(providerID int64, baseURLs []string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[providerID]
	if !ok || !entry.expiresAt.After(time.Now()) {
		delete(s.cache, providerID)
		return "", false
	}
	for _, u := range baseURLs {
		if u == entry.bestBaseURL {
			return entry.bestBaseURL, true
		}
	}
	delete(s.cache, providerID)
	return "", false
}

func (s *Selector) pingAll(ctx context.Context, baseURLs []string) (string, error) {
	pingCtx, cancel := context.WithTimeout(ctx, domain.ProviderPingTimeout)
	defer cancel()

	type result struct {
		url     string
		latency time.Duration
	}
	results := make([]*result, len(baseURLs))

	eg, egCtx := errgroup.WithContext(pingCtx)
	eg.SetLimit(len(baseURLs))

	for i, u := range baseURLs {
		i, u := i, u
		eg.Go(func() error {
			start := time.Now()
			req, err := http.NewRequestWithContext(egCtx, http.MethodGet, u, nil)
			if err != nil {
				return nil
			}
			resp, err := s.client.Do(req)
			if err != nil {
				return nil
			}
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 500 {
				results[i] = &result{url: u, latency: time.Since(start)}
			}
			return nil
		})
	}
	_ = eg.Wait()

	var best *result
	for _, r := range results {
		if r == nil {
			continue
		}
		if best == nil || r.latency < best.latency {
			best = r
		}
	}
	if best == nil {
		return "", context.DeadlineExceeded
	}
	return best.url, nil
}

var _ ports.ProviderSelector = (*Selector)(nil)
