package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/thushan/olla-gateway/internal/core/domain"
)

// GatewayProxyService is the CLI-proxy entrypoint: it runs the full
// failover loop (provider walk, circuit checks, session affinity,
// request prep, response teeing, logging) for one inbound request.
type GatewayProxyService interface {
	ProxyGatewayRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, cliKey string) (domain.RequestLogInsert, error)
}

// LogSink is the bounded-channel ingress for both request and attempt
// logs (C10): FailoverLoop calls Enqueue*; the pipeline applies the
// three-tier backpressure policy and flushes to the configured writers.
type LogSink interface {
	EnqueueRequestLog(entry domain.RequestLogInsert)
	EnqueueAttemptLog(entry domain.AttemptLogInsert)
	Close(ctx context.Context) error
}

// DedupeCache is C1: fingerprint-keyed recent-error and trace-dedup
// caches shared across all in-flight requests for a process.
type DedupeCache interface {
	RecentError(fp domain.RequestFingerprint) (domain.RecentErrorCacheEntry, bool)
	RecordError(entry domain.RecentErrorCacheEntry)
	SeenTraceRecently(traceID string) bool
	// TraceForFingerprint returns the trace_id most recently associated
	// with fp, if still within the dedup TTL, so a retried request with
	// an identical fingerprint observes the same trace_id.
	TraceForFingerprint(fp domain.RequestFingerprint) (string, bool)
	RecordTrace(fp domain.RequestFingerprint, traceID string)
}

// CircuitBreaker is C2.
type CircuitBreaker interface {
	ShouldAllow(providerID int64) domain.CircuitAllowResult
	RecordSuccess(providerID int64) domain.CircuitRecordResult
	RecordFailure(providerID int64) domain.CircuitRecordResult
	Snapshot(providerID int64) domain.GatewayCircuitState
	// TriggerCooldown shelves providerID for d without incrementing its
	// failure count, used after a SwitchProvider/Abort decision driven by
	// a non-provider (system/transport) fault.
	TriggerCooldown(providerID int64, d time.Duration)
}

// SessionStore is C3.
type SessionStore interface {
	Get(key domain.SessionKey) (domain.SessionBinding, bool)
	Bind(key domain.SessionKey, binding domain.SessionBinding)
	Touch(key domain.SessionKey)
	Delete(key domain.SessionKey)
}

// ProviderSelector is C4: resolves the ordered candidate list and picks
// a base URL for a chosen provider.
type ProviderSelector interface {
	ResolveOrder(ctx context.Context, cliKey, sortMode string) (*domain.GatewayProviderList, error)
	SelectBaseURL(ctx context.Context, p *domain.GatewayProvider) (string, error)
}
