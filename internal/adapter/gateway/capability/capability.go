// Package capability defines the small per-CLI-family behaviour seam the
// spec's Design Note on "CLI family differences" calls for: everything
// that varies by which CLI the inbound request came from (auth header
// shape, session-id extraction, usage parsing, warmup detection, and
// which 400s are non-retryable) is isolated behind one interface so the
// failover loop itself stays CLI-agnostic.
package capability

import (
	"net/http"

	"github.com/thushan/olla-gateway/internal/core/domain"
)

// Family is implemented once per supported CLI (Claude Code, Codex,
// Gemini CLI, ...) and registered by key in a Registry.
type Family interface {
	Key() string

	// PrepareAuth injects the provider credential into outReq using the
	// shape this family's upstream expects (Authorization bearer token,
	// x-api-key header, query parameter, ...).
	PrepareAuth(outReq *http.Request, credential string)

	// ExtractSession returns the session identifier embedded in the
	// request (header, body field, or derived from conversation state),
	// and whether one was found at all.
	ExtractSession(r *http.Request, body []byte) (sessionID string, ok bool)

	// ParseUsage is this family's domain.UsageParser.
	ParseUsage() domain.UsageParser

	// DetectWarmup reports whether body looks like a client warmup/ping
	// probe that should be answered locally without hitting a provider.
	DetectWarmup(body []byte) bool

	// ClassifyNonRetryable400 reports whether a 400 response body
	// represents a client error that must not be retried against another
	// provider (as opposed to a provider-specific 400 that failover
	// should treat as retryable, e.g. an unsupported parameter).
	ClassifyNonRetryable400(body []byte) bool
}

// Registry resolves a CLI key (from the inbound route) to its Family.
type Registry struct {
	families map[string]Family
}

func NewRegistry() *Registry {
	return &Registry{families: make(map[string]Family)}
}

func (r *Registry) Register(f Family) {
	r.families[f.Key()] = f
}

func (r *Registry) Lookup(cliKey string) (Family, bool) {
	f, ok := r.families[cliKey]
	return f, ok
}
