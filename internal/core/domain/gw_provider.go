package domain

import "time"

// BaseURLSelectionMode controls how a Provider with multiple base URLs
// picks one for a given attempt.
type BaseURLSelectionMode string

const (
	BaseURLSelectOrder BaseURLSelectionMode = "order"
	BaseURLSelectPing  BaseURLSelectionMode = "ping"
)

// ModelSlot identifies one of the fixed backend-model categories a
// provider can map a requested model onto.
type ModelSlot string

const (
	ModelSlotMain      ModelSlot = "main"
	ModelSlotReasoning ModelSlot = "reasoning"
	ModelSlotHaiku     ModelSlot = "haiku"
	ModelSlotSonnet    ModelSlot = "sonnet"
	ModelSlotOpus      ModelSlot = "opus"
)

// ModelSlotMapping maps a ModelSlot to the concrete backend model name a
// provider should be called with. Only populated for CLI families that
// support slot-based rewriting (family A in spec terms).
type ModelSlotMapping map[ModelSlot]string

// GatewayProvider is a read-only snapshot of one configured upstream
// endpoint for the gateway's failover loop. It differs from Endpoint
// (which models a single-URL backend for the load-balancer proxies) by
// supporting multiple base URLs, a plaintext credential and an optional
// per-CLI-family model-slot mapping.
type GatewayProvider struct {
	ID                 int64
	Name               string
	DisplayName        string
	BaseURLs           []string
	BaseURLMode        BaseURLSelectionMode
	Credential         string
	ModelSlots         ModelSlotMapping
	CostMultiplier     float64
	Enabled            bool
}

// GatewayProviderList is an ordered, duplicate-free sequence of providers
// enabled for a CLI family under the currently active sort mode.
type GatewayProviderList struct {
	Providers []*GatewayProvider
	SortMode  string
}

// FindByID returns the provider with the given ID, or nil.
func (l *GatewayProviderList) FindByID(id int64) *GatewayProvider {
	for _, p := range l.Providers {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// IndexOf returns the position of the provider with the given ID, or -1.
func (l *GatewayProviderList) IndexOf(id int64) int {
	for i, p := range l.Providers {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// ReorderHead returns a copy of the list with the provider identified by
// id moved to position 0, provided it is present and enabled. If absent,
// the list is returned unchanged.
func (l *GatewayProviderList) ReorderHead(id int64) *GatewayProviderList {
	idx := l.IndexOf(id)
	if idx <= 0 {
		return l
	}
	out := make([]*GatewayProvider, 0, len(l.Providers))
	out = append(out, l.Providers[idx])
	out = append(out, l.Providers[:idx]...)
	out = append(out, l.Providers[idx+1:]...)
	return &GatewayProviderList{Providers: out, SortMode: l.SortMode}
}

// EffectiveModel computes the backend model name for family-A slot-based
// rewriting: thinking mode always wins to the reasoning slot, otherwise a
// substring match against haiku/opus/sonnet, otherwise main, otherwise the
// original model is left untouched.
func (m ModelSlotMapping) EffectiveModel(originalModel string, hasThinking bool) string {
	if len(m) == 0 {
		return originalModel
	}
	if hasThinking {
		if v, ok := m[ModelSlotReasoning]; ok && v != "" {
			return v
		}
	}
	lower := asciiLower(originalModel)
	for _, slot := range []ModelSlot{ModelSlotHaiku, ModelSlotOpus, ModelSlotSonnet} {
		if containsSubstr(lower, string(slot)) {
			if v, ok := m[slot]; ok && v != "" {
				return v
			}
		}
	}
	if v, ok := m[ModelSlotMain]; ok && v != "" {
		return v
	}
	return originalModel
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func containsSubstr(haystack, needle string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return len(needle) == 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// GatewayProviderStore is consumed, not owned, by the gateway: it lazily
// loads the provider list for a request. Implementations are expected to
// read from a settings/DB snapshot owned by the surrounding application.
type GatewayProviderStore interface {
	ProvidersForCLI(cliKey string, sortMode string) (*GatewayProviderList, error)
}

// ProviderPingTimeout bounds each base-URL probe in ping selection mode.
const ProviderPingTimeout = 3 * time.Second
