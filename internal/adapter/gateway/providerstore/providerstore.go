// Package providerstore adapts a static, config-file-backed provider
// list into domain.GatewayProviderStore, in the same spirit as the
// teacher's discovery.StaticEndpointRepository: a simple in-memory map
// rebuilt whenever the surrounding config hot-reloads, rather than a
// live external registry.
package providerstore

import (
	"sort"
	"sync"

	"github.com/thushan/olla-gateway/internal/core/domain"
)

// Store holds the full configured provider set and answers
// ProvidersForCLI by filtering to enabled providers and applying the
// requested sort mode.
type Store struct {
	mu        sync.RWMutex
	providers []*domain.GatewayProvider
	perCLI    map[string][]int64 // cli key -> provider ids enabled for it
}

func New() *Store {
	return &Store{perCLI: make(map[string][]int64)}
}

// Replace swaps in a new provider set and CLI-enablement map, used both
// at startup and on config hot-reload.
func (s *Store) Replace(providers []*domain.GatewayProvider, perCLI map[string][]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = providers
	s.perCLI = perCLI
}

func (s *Store) ProvidersForCLI(cliKey string, sortMode string) (*domain.GatewayProviderList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed, ok := s.perCLI[cliKey]
	if !ok {
		return &domain.GatewayProviderList{SortMode: sortMode}, nil
	}
	allowedSet := make(map[int64]bool, len(allowed))
	for _, id := range allowed {
		allowedSet[id] = true
	}

	out := make([]*domain.GatewayProvider, 0, len(allowed))
	for _, p := range s.providers {
		if p.Enabled && allowedSet[p.ID] {
			out = append(out, p)
		}
	}

	switch sortMode {
	case "cost":
		sort.SliceStable(out, func(i, j int) bool { return out[i].CostMultiplier < out[j].CostMultiplier })
	case "name":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	default:
		// configured order, preserved as-is
	}

	return &domain.GatewayProviderList{Providers: out, SortMode: sortMode}, nil
}

var _ domain.GatewayProviderStore = (*Store)(nil)
