// Package failover implements C6: the double loop (outer over providers,
// inner over retries-per-provider) that is the heart of the gateway. It
// composes the dedupe, breaker, session, selector, prepare, stream,
// fixer, usage and classify packages into one request lifecycle and
// produces the RequestLogInsert the logging pipeline (C10) persists.
//
// Grounded in structure on the Olla proxy's object-pooling, panic
// recovery and circuit-breaker-aware endpoint walk (proxy_olla.go), and
// in exact retry/failover semantics on the original implementation's
// handler/failover_loop/*.rs file split.
package failover

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/thushan/olla-gateway/internal/adapter/gateway/abort"
	"github.com/thushan/olla-gateway/internal/adapter/gateway/capability"
	"github.com/thushan/olla-gateway/internal/adapter/gateway/classify"
	"github.com/thushan/olla-gateway/internal/adapter/gateway/fixer"
	"github.com/thushan/olla-gateway/internal/adapter/gateway/prepare"
	"github.com/thushan/olla-gateway/internal/adapter/gateway/stream"
	"github.com/thushan/olla-gateway/internal/core/domain"
	"github.com/thushan/olla-gateway/internal/core/ports"
	"github.com/thushan/olla-gateway/pkg/pool"
)

const (
	DefaultMaxAttemptsPerProvider = 5
	DefaultMaxProvidersToTry      = 5

	// MaxBufferedResponseBytes bounds how much of a non-streaming (not
	// text/event-stream) response is buffered for usage parsing/response
	// fixing; past this, the remainder is relayed byte-for-byte without
	// usage extraction rather than buffered further.
	MaxBufferedResponseBytes = 512 << 10

	// relayChunkBytes is the read size used by the live SSE relay.
	relayChunkBytes = 32 * 1024

	// defaultStreamIdleTimeout applies when Limits.StreamIdleTimeout is
	// unset; 0 would mean "no idle timeout", which is never what a caller
	// wants in production.
	defaultStreamIdleTimeout = 60 * time.Second

	// defaultCooldownOnSwitch is the TriggerCooldown duration used when
	// Limits.CooldownSeconds is unset.
	defaultCooldownOnSwitch = domain.DefaultCircuitCooldownSeconds

	maxRetryAfterSeconds = 60
)

// Limits bounds the double loop; zero values fall back to the defaults.
type Limits struct {
	MaxAttemptsPerProvider int
	MaxProvidersToTry      int
	// UpstreamTimeout bounds waiting for upstream response headers (the
	// client.Do call); once headers arrive, a streaming body is governed
	// by StreamIdleTimeout instead, not by this timeout.
	UpstreamTimeout time.Duration
	// StreamIdleTimeout bounds the gap between successive chunks of a
	// streaming response body.
	StreamIdleTimeout time.Duration
	// CooldownSeconds is the TriggerCooldown duration applied after a
	// SwitchProvider/Abort decision driven by a non-provider (transport)
	// fault, to avoid immediately retrying a provider that just failed
	// for reasons unrelated to its own health.
	CooldownSeconds time.Duration
}

// Loop is the gateway's main request orchestrator.
type Loop struct {
	Dedupe          ports.DedupeCache
	Breaker         ports.CircuitBreaker
	Sessions        ports.SessionStore
	Selector        ports.ProviderSelector
	Families        *capability.Registry
	LogSink         ports.LogSink
	Client          *http.Client
	DisabledCLIKeys map[string]bool
	Limits          Limits
	attemptBuf      *pool.Pool[*bytes.Buffer]
}

func New(deps Loop) *Loop {
	if deps.Limits.MaxAttemptsPerProvider <= 0 {
		deps.Limits.MaxAttemptsPerProvider = DefaultMaxAttemptsPerProvider
	}
	if deps.Limits.MaxProvidersToTry <= 0 {
		deps.Limits.MaxProvidersToTry = DefaultMaxProvidersToTry
	}
	if deps.Limits.UpstreamTimeout <= 0 {
		deps.Limits.UpstreamTimeout = 120 * time.Second
	}
	if deps.Limits.StreamIdleTimeout <= 0 {
		deps.Limits.StreamIdleTimeout = defaultStreamIdleTimeout
	}
	if deps.Limits.CooldownSeconds <= 0 {
		deps.Limits.CooldownSeconds = defaultCooldownOnSwitch
	}
	if deps.Client == nil {
		deps.Client = &http.Client{}
	}
	if deps.DisabledCLIKeys == nil {
		deps.DisabledCLIKeys = map[string]bool{}
	}
	l := deps
	l.attemptBuf = pool.NewLitePool(func() *bytes.Buffer { return &bytes.Buffer{} })
	return &l
}

// candidateState is one provider's resolved circuit-allow verdict,
// computed once per request up front so the all_unavailable check, the
// recent-error cache check and the outer loop's first pass over each
// provider all observe the same snapshot (ShouldAllow has a side effect
// admitting a half-open probe, so it must not be called twice for the
// same provider within one request).
type candidateState struct {
	provider *domain.GatewayProvider
	allow    domain.CircuitAllowResult
}

// ProxyGatewayRequest runs the full lifecycle for one inbound request
// and implements ports.GatewayProxyService.
func (l *Loop) ProxyGatewayRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, cliKey string) (domain.RequestLogInsert, error) {
	startedAt := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			classify.WriteError(w, http.StatusInternalServerError, "", domain.GWErrInternalError, "internal error", nil, 0)
		}
	}()

	if l.DisabledCLIKeys[cliKey] {
		traceID := uuid.NewString()
		entry := l.finish(traceID, cliKey, startedAt, nil, domain.FinalOutcomeFailed, domain.GWErrCLIProxyDisabled, domain.ErrCategoryNonRetryableClient, "", "")
		classify.WriteError(w, domain.StatusOverride(domain.GWErrCLIProxyDisabled), traceID, domain.GWErrCLIProxyDisabled, "cli proxy disabled", nil, 0)
		l.LogSink.EnqueueRequestLog(entry)
		return entry, errors.New(domain.GWErrCLIProxyDisabled)
	}

	family, ok := l.Families.Lookup(cliKey)
	if !ok {
		traceID := uuid.NewString()
		entry := l.finish(traceID, cliKey, startedAt, nil, domain.FinalOutcomeFailed, domain.GWErrInvalidCLIKey, domain.ErrCategoryNonRetryableClient, "", "")
		classify.WriteError(w, domain.StatusOverride(domain.GWErrInvalidCLIKey), traceID, domain.GWErrInvalidCLIKey, "unsupported cli family", nil, 0)
		l.LogSink.EnqueueRequestLog(entry)
		return entry, errors.New(domain.GWErrInvalidCLIKey)
	}

	prepared, err := prepare.Prepare(r, cliKey, family)
	if err != nil {
		traceID := uuid.NewString()
		var gwErr *domain.GatewayError
		code, status := domain.GWErrRequestAborted, http.StatusBadRequest
		if errors.As(err, &gwErr) {
			code, status = gwErr.Code, domain.StatusOverride(gwErr.Code)
		}
		entry := l.finish(traceID, cliKey, startedAt, nil, domain.FinalOutcomeFailed, code, domain.ErrCategoryNonRetryableClient, "", "")
		classify.WriteError(w, status, traceID, code, "failed to prepare request", nil, 0)
		l.LogSink.EnqueueRequestLog(entry)
		return entry, err
	}

	traceID, reused := l.Dedupe.TraceForFingerprint(prepared.Fingerprint)
	if !reused {
		traceID = uuid.NewString()
	}
	l.Dedupe.RecordTrace(prepared.Fingerprint, traceID)
	w.Header().Set("x-trace-id", traceID)

	guard := abort.New(l.LogSink, traceID, cliKey, r.Method, r.URL.Path, r.URL.RawQuery)
	defer guard.FinalizeIfArmed()

	if prepared.IsWarmup {
		entry := l.respondWarmup(w, traceID, cliKey, startedAt, prepared)
		l.LogSink.EnqueueRequestLog(entry)
		guard.Disarm()
		return entry, nil
	}

	sessionKey := domain.SessionKey{CLIKey: cliKey, SessionID: prepared.SessionID}

	order, err := l.Selector.ResolveOrder(ctx, cliKey, "")
	if err != nil || order == nil || len(order.Providers) == 0 {
		entry := l.finish(traceID, cliKey, startedAt, nil, domain.FinalOutcomeFailed, domain.GWErrNoEnabledProvider, domain.ErrCategorySystem, prepared.RequestedModel, "")
		classify.WriteError(w, domain.StatusOverride(domain.GWErrNoEnabledProvider), traceID, domain.GWErrNoEnabledProvider, "no enabled provider", nil, 0)
		l.LogSink.EnqueueRequestLog(entry)
		guard.Disarm()
		return entry, err
	}

	order = l.applySessionAffinity(order, sessionKey, prepared.HasSession)

	candidates := make([]candidateState, 0, len(order.Providers))
	for _, p := range order.Providers {
		if !p.Enabled {
			continue
		}
		candidates = append(candidates, candidateState{provider: p, allow: l.Breaker.ShouldAllow(p.ID)})
	}

	if entry, recent, has := l.checkRecentError(candidates, prepared.Fingerprint, traceID, cliKey, startedAt, prepared.RequestedModel); has {
		classify.WriteError(w, domain.StatusOverride(recent.ErrorCode), traceID, recent.ErrorCode, recent.Message, nil, recent.RetryAfterSeconds)
		l.LogSink.EnqueueRequestLog(entry)
		guard.Disarm()
		return entry, errors.New(recent.ErrorCode)
	}

	if allCandidatesDenied(candidates) {
		entry := l.respondAllUnavailable(w, traceID, cliKey, startedAt, prepared, candidates)
		l.LogSink.EnqueueRequestLog(entry)
		guard.Disarm()
		return entry, errors.New(domain.GWErrAllProvidersUnavailable)
	}

	attempts := make([]domain.FailoverAttempt, 0, 4)
	failed := make(map[int64]bool, len(candidates))
	providersTried := 0

outer:
	for _, c := range candidates {
		p := c.provider
		if failed[p.ID] {
			continue
		}
		if providersTried >= l.Limits.MaxProvidersToTry {
			break
		}
		providersTried++

		firstAllow := c.allow
		outBody := prepared.Body
		rectifiedOnce := false

		for retry := 0; retry < l.Limits.MaxAttemptsPerProvider; retry++ {
			var allow domain.CircuitAllowResult
			if retry == 0 {
				allow = firstAllow
			} else {
				allow = l.Breaker.ShouldAllow(p.ID)
			}
			if !allow.Allow {
				attempts = append(attempts, domain.FailoverAttempt{
					ProviderID: p.ID, ProviderName: p.Name, RetryIndex: retry,
					Outcome: domain.OutcomeFailure, CircuitStateBefore: allow.Snapshot.State,
					CircuitFailureCount: allow.Snapshot.FailureCount,
				})
				failed[p.ID] = true
				continue outer
			}

			result := l.sendAttempt(ctx, w, r, p, prepared, outBody, family, retry, allow.Snapshot)
			attempts = append(attempts, result.Attempt)

			if result.SendErr == nil && result.Status < 400 && result.TerminalCode == "" {
				l.Breaker.RecordSuccess(p.ID)
				if prepared.HasSession {
					l.Sessions.Bind(sessionKey, domain.SessionBinding{
						BoundProviderID: p.ID,
						ProviderOrder:   providerIDs(order),
					})
				}
				entry := l.finishSuccess(traceID, cliKey, startedAt, attempts, p.ID, prepared.RequestedModel, result.Status, result.Usage, p.CostMultiplier)
				l.LogSink.EnqueueRequestLog(entry)
				guard.Disarm()
				return entry, nil
			}

			if result.Committed {
				// Bytes were already written to the client (a streaming
				// response that started before failing, or a client
				// disconnect) — no failover is possible from here.
				entry := l.finishStreamTerminal(traceID, cliKey, startedAt, attempts, p.ID, prepared.RequestedModel, result)
				l.LogSink.EnqueueRequestLog(entry)
				guard.Disarm()
				return entry, errors.New(result.TerminalCode)
			}

			if result.SendErr == nil && result.Status == 400 && !rectifiedOnce && isThinkingSignatureTrigger(result.Body) {
				rectifiedOnce = true
				outBody = stripThinkingField(outBody)
				attempts[len(attempts)-1].Reason = strPtr("thinking_signature_rectifier_retry")
				retry-- // rewrite-and-retry does not count against MaxAttemptsPerProvider
				continue
			}

			l.Breaker.RecordFailure(p.ID)

			var decision domain.FailoverDecision
			var retryAfter time.Duration
			if result.SendErr != nil {
				_, code := classify.TransportError(result.SendErr)
				l.recordTransportError(prepared.Fingerprint, traceID, code)
				decision = domain.DecisionRetrySameProvider
			} else if result.Status == 400 {
				cat, code, _ := classify.UpstreamStatus(result.Status)
				setAttemptError(&attempts[len(attempts)-1], cat, code)
				if family.ClassifyNonRetryable400(result.Body) {
					decision = domain.DecisionAbort
				} else {
					decision = domain.DecisionSwitchProvider
				}
			} else {
				var cat domain.ErrorCategory
				var code string
				cat, code, decision = classify.UpstreamStatus(result.Status)
				setAttemptError(&attempts[len(attempts)-1], cat, code)
				if result.Status == 429 {
					retryAfter = parseRetryAfter(result.Header)
				}
			}

			if decision != domain.DecisionRetrySameProvider {
				l.Breaker.TriggerCooldown(p.ID, l.Limits.CooldownSeconds)
			}

			if decision == domain.DecisionAbort {
				break outer
			}
			if decision == domain.DecisionSwitchProvider {
				continue outer
			}
			if retryAfter > 0 {
				time.Sleep(retryAfter)
			}
			// RetrySameProvider falls through to the inner loop's next iteration.
		}
	}

	entry := l.respondAllFailed(w, traceID, cliKey, startedAt, attempts, prepared.RequestedModel)
	l.LogSink.EnqueueRequestLog(entry)
	guard.Disarm()
	return entry, errors.New(domain.GWErrUpstreamAllFailed)
}

func strPtr(s string) *string { return &s }

// setAttemptError attaches a classified error category/code onto an
// already-recorded attempt, used for upstream 4xx/5xx responses where
// classification happens one level up from sendAttempt.
func setAttemptError(a *domain.FailoverAttempt, cat domain.ErrorCategory, code string) {
	c := cat
	a.ErrorCategory = &c
	e := code
	a.ErrorCode = &e
}

// allCandidatesDenied reports whether every candidate is currently
// rejected by the circuit breaker (spec section 4.4's all_unavailable).
func allCandidatesDenied(candidates []candidateState) bool {
	if len(candidates) == 0 {
		return true
	}
	for _, c := range candidates {
		if c.allow.Allow {
			return false
		}
	}
	return true
}

// summarizeUnavailable computes the skipped-because-open count,
// skipped-because-cooldown count and the earliest open/cooldown instant
// among denied candidates, used as the Retry-After hint.
func summarizeUnavailable(candidates []candidateState) (skippedOpen, skippedCooldown int, earliest time.Time, hasEarliest bool) {
	now := time.Now()
	for _, c := range candidates {
		if c.allow.Allow {
			continue
		}
		snap := c.allow.Snapshot
		var until time.Time
		isCooldown := false
		if snap.CooldownUntil != nil && now.Before(*snap.CooldownUntil) {
			until, isCooldown = *snap.CooldownUntil, true
		} else if snap.OpenUntil != nil {
			until = *snap.OpenUntil
		}
		if isCooldown {
			skippedCooldown++
		} else {
			skippedOpen++
		}
		if !until.IsZero() && (!hasEarliest || until.Before(earliest)) {
			earliest, hasEarliest = until, true
		}
	}
	return
}

func retryAfterSeconds(earliest time.Time) int64 {
	d := time.Until(earliest)
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second > 0 {
		secs++
	}
	return secs
}

func (l *Loop) respondAllUnavailable(w http.ResponseWriter, traceID, cliKey string, startedAt time.Time, prepared prepare.Prepared, candidates []candidateState) domain.RequestLogInsert {
	skippedOpen, skippedCooldown, earliest, hasEarliest := summarizeUnavailable(candidates)
	var retryAfter int64
	if hasEarliest {
		retryAfter = retryAfterSeconds(earliest)
	}

	message := "all providers unavailable"
	entry := l.finish(traceID, cliKey, startedAt, nil, domain.FinalOutcomeFailed, domain.GWErrAllProvidersUnavailable, domain.ErrCategoryProvider, prepared.RequestedModel, "")
	entry.SpecialSettings = []domain.SpecialSetting{{
		Type: "all_unavailable",
		Extra: map[string]interface{}{
			"skipped_open":     skippedOpen,
			"skipped_cooldown": skippedCooldown,
		},
	}}
	classify.WriteError(w, domain.StatusOverride(domain.GWErrAllProvidersUnavailable), traceID, domain.GWErrAllProvidersUnavailable, message, nil, retryAfter)

	expiresAt := time.Now().Add(domain.RecentTraceDedupTTL)
	if hasEarliest && earliest.After(time.Now()) {
		expiresAt = earliest
	}
	l.Dedupe.RecordError(domain.RecentErrorCacheEntry{
		Fingerprint:       prepared.Fingerprint,
		TraceID:           traceID,
		Status:            domain.StatusOverride(domain.GWErrAllProvidersUnavailable),
		ErrorCode:         domain.GWErrAllProvidersUnavailable,
		Message:           message,
		RetryAfterSeconds: retryAfter,
		ExpiresAt:         expiresAt,
	})
	return entry
}

func (l *Loop) respondAllFailed(w http.ResponseWriter, traceID, cliKey string, startedAt time.Time, attempts []domain.FailoverAttempt, model string) domain.RequestLogInsert {
	code := domain.GWErrUpstreamAllFailed
	if n := len(attempts); n > 0 && attempts[n-1].ErrorCode != nil {
		code = *attempts[n-1].ErrorCode
	}
	entry := l.finish(traceID, cliKey, startedAt, attempts, domain.FinalOutcomeFailed, code, domain.ErrCategoryProvider, model, "")
	classify.WriteError(w, domain.StatusOverride(code), traceID, code, "all providers exhausted", attempts, 0)
	return entry
}

// checkRecentError implements spec section 4.1's dedupe-cache lookup: a
// cache hit is only honoured when every current candidate is still
// circuit-denied, and its retry_after_seconds is recomputed fresh rather
// than trusted from the stored value.
func (l *Loop) checkRecentError(candidates []candidateState, fp domain.RequestFingerprint, traceID, cliKey string, startedAt time.Time, model string) (domain.RequestLogInsert, domain.RecentErrorCacheEntry, bool) {
	cached, ok := l.Dedupe.RecentError(fp)
	if !ok || !allCandidatesDenied(candidates) {
		return domain.RequestLogInsert{}, domain.RecentErrorCacheEntry{}, false
	}

	_, _, earliest, hasEarliest := summarizeUnavailable(candidates)
	if hasEarliest {
		cached.RetryAfterSeconds = retryAfterSeconds(earliest)
	}

	entry := l.finish(traceID, cliKey, startedAt, nil, domain.FinalOutcomeFailed, cached.ErrorCode, domain.ErrCategoryProvider, model, "")
	return entry, cached, true
}

func (l *Loop) recordTransportError(fp domain.RequestFingerprint, traceID, code string) {
	l.Dedupe.RecordError(domain.RecentErrorCacheEntry{
		Fingerprint: fp,
		TraceID:     traceID,
		ErrorCode:   code,
		Message:     "upstream transport error",
	})
}

func (l *Loop) respondWarmup(w http.ResponseWriter, traceID, cliKey string, startedAt time.Time, prepared prepare.Prepared) domain.RequestLogInsert {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("x-trace-id", traceID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))

	now := time.Now()
	status := http.StatusOK
	return domain.RequestLogInsert{
		TraceID:           traceID,
		CLIKey:            cliKey,
		RequestedModel:    prepared.RequestedModel,
		FinalOutcome:      domain.FinalOutcomeSuccess,
		FinalStatus:       &status,
		ExcludedFromStats: true,
		SpecialSettings:   []domain.SpecialSetting{{Type: "warmup", Reason: "warmup probe intercepted"}},
		Attempts:          []domain.FailoverAttempt{},
		StartedAt:         startedAt,
		FinishedAt:        now,
		TotalDurationMs:   now.Sub(startedAt).Milliseconds(),
	}
}

// isThinkingSignatureTrigger matches the known error shape a subset of
// providers return when an outbound extended-thinking block carries a
// signature the provider doesn't recognise.
func isThinkingSignatureTrigger(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "thinking") && strings.Contains(lower, "signature")
}

// stripThinkingField removes the outbound "thinking" block before
// retrying the same provider once, per the rectifier hook.
func stripThinkingField(body []byte) []byte {
	out, err := sjson.DeleteBytes(body, "thinking")
	if err != nil {
		return body
	}
	return out
}

func parseRetryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	if secs > maxRetryAfterSeconds {
		secs = maxRetryAfterSeconds
	}
	return time.Duration(secs) * time.Second
}

func (l *Loop) applySessionAffinity(order *domain.GatewayProviderList, key domain.SessionKey, hasSession bool) *domain.GatewayProviderList {
	if !hasSession {
		return order
	}
	binding, ok := l.Sessions.Get(key)
	if !ok {
		return order
	}
	if order.FindByID(binding.BoundProviderID) != nil {
		return order.ReorderHead(binding.BoundProviderID)
	}
	candidates := make(map[int64]bool, len(order.Providers))
	for _, p := range order.Providers {
		candidates[p.ID] = true
	}
	if nextID, ok := binding.NextAfterBound(candidates); ok {
		return order.ReorderHead(nextID)
	}
	return order
}

func providerIDs(order *domain.GatewayProviderList) []int64 {
	ids := make([]int64, len(order.Providers))
	for i, p := range order.Providers {
		ids[i] = p.ID
	}
	return ids
}

// attemptResult is what sendAttempt produces: either an ordinary
// (uncommitted) response the caller may still fail over from, or a
// committed one where bytes already reached the client and no further
// failover is possible.
type attemptResult struct {
	Attempt      domain.FailoverAttempt
	Status       int
	SendErr      error
	Committed    bool
	TerminalCode string
	Body         []byte
	Header       http.Header
	Usage        domain.UsageMetrics
	ForwardedChunks int
	ClientAbort  bool
}

// sendAttempt sends one outbound request to provider p. For an SSE
// response it commits to streaming the bytes to the client as they
// arrive (true incremental relay: idle timer, client-disconnect
// detection, forwarded-chunk counting); for anything else it buffers up
// to MaxBufferedResponseBytes, applies the response fixer and parses
// usage, relaying the rest unbuffered if the body exceeds that cap.
func (l *Loop) sendAttempt(ctx context.Context, w http.ResponseWriter, r *http.Request, p *domain.GatewayProvider, prepared prepare.Prepared, outBody []byte, family capability.Family, retry int, before domain.GatewayCircuitState) attemptResult {
	started := time.Now()

	baseURL, err := l.Selector.SelectBaseURL(ctx, p)
	if err != nil {
		return attemptResult{Attempt: l.failedAttempt(p, retry, before, started, err), SendErr: err}
	}

	target, err := prepare.ComposeUpstreamURL(baseURL, prepared.InboundPath, prepared.InboundQuery)
	if err != nil {
		return attemptResult{Attempt: l.failedAttempt(p, retry, before, started, err), SendErr: err}
	}

	rewrittenModel := prepare.RewriteModelForProvider(p, prepared.RequestedModel, prepared.HasThinking)
	body := prepare.ApplyModelRewrite(outBody, rewrittenModel)

	buf := l.attemptBuf.Get()
	buf.Reset()
	buf.Write(body)
	defer l.attemptBuf.Put(buf)

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	headerTimer := time.AfterFunc(l.Limits.UpstreamTimeout, cancel)

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, target.String(), bytes.NewReader(buf.Bytes()))
	if err != nil {
		headerTimer.Stop()
		return attemptResult{Attempt: l.failedAttempt(p, retry, before, started, err), SendErr: err}
	}
	req.Header.Set("Content-Type", "application/json")
	family.PrepareAuth(req, p.Credential)

	resp, err := l.Client.Do(req)
	if err != nil {
		headerTimer.Stop()
		return attemptResult{Attempt: l.failedAttempt(p, retry, before, started, err), SendErr: err}
	}
	headerTimer.Stop()
	defer resp.Body.Close()

	status := resp.StatusCode
	isSSE := strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")

	if status >= 400 {
		// Error bodies are expected to be small; read bounded, not via
		// the live relay path (nothing has been committed to the client).
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, MaxBufferedResponseBytes))
		duration := time.Since(started)
		attemptStatus := status
		attempt := domain.FailoverAttempt{
			ProviderID: p.ID, ProviderName: p.Name, BaseURL: baseURL,
			Outcome: domain.OutcomeFailure, Status: &attemptStatus, RetryIndex: retry,
			AttemptStartedMs: started.UnixMilli(), AttemptDurationMs: duration.Milliseconds(),
			CircuitStateBefore: before.State,
		}
		return attemptResult{Attempt: attempt, Status: status, Body: raw, Header: resp.Header}
	}

	if isSSE && status < 400 {
		return l.relayLiveSSE(ctx, w, r, resp, p, baseURL, family, retry, before, started)
	}

	return l.relayBuffered(w, resp, p, baseURL, family, retry, before, started, isSSE)
}

// relayBuffered handles a non-SSE response: buffer up to
// MaxBufferedResponseBytes, run it through the response fixer, parse
// usage from the whole body, then write it to the client in one shot. A
// body larger than the cap is relayed unbuffered past that point with no
// further fixing or usage extraction (spec 4.6: "above that, fall
// through to plain streaming tee").
func (l *Loop) relayBuffered(w http.ResponseWriter, resp *http.Response, p *domain.GatewayProvider, baseURL string, family capability.Family, retry int, before domain.GatewayCircuitState, started time.Time, isSSE bool) attemptResult {
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, MaxBufferedResponseBytes+1))
	truncated := len(raw) > MaxBufferedResponseBytes
	if truncated {
		raw = raw[:MaxBufferedResponseBytes]
	}

	fixed := fixer.Fix(raw, isSSE)
	if truncated {
		// A fixed-up body can't be trusted once we know it was cut for
		// buffering, not because the upstream actually finished there.
		fixed = fixer.Result{Body: raw}
	}

	var usageMetrics domain.UsageMetrics
	if parser := family.ParseUsage(); parser != nil && !truncated {
		if u, ok := parser.ParseWholeBody(fixed.Body); ok {
			usageMetrics = u
		}
	}

	prepare.StripHopByHop(resp.Header)
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(fixed.Body)

	forwardedChunks := 1
	if truncated {
		flusher, _ := w.(http.Flusher)
		if flusher != nil {
			flusher.Flush()
		}
		buf := make([]byte, relayChunkBytes)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				_, _ = w.Write(buf[:n])
				if flusher != nil {
					flusher.Flush()
				}
				forwardedChunks++
			}
			if err != nil {
				break
			}
		}
	}
	_ = readErr

	duration := time.Since(started)
	status := resp.StatusCode
	attemptStatus := status
	attempt := domain.FailoverAttempt{
		ProviderID: p.ID, ProviderName: p.Name, BaseURL: baseURL,
		Outcome: domain.OutcomeSuccess, Status: &attemptStatus, RetryIndex: retry,
		AttemptStartedMs: started.UnixMilli(), AttemptDurationMs: duration.Milliseconds(),
		CircuitStateBefore: before.State,
	}
	return attemptResult{
		Attempt: attempt, Status: status, Header: resp.Header, Usage: usageMetrics,
		Committed: true, ForwardedChunks: forwardedChunks,
	}
}

// relayLiveSSE commits to streaming an SSE response straight to the
// client as bytes arrive: idle-read timer, first-byte timer,
// chunk-count tracking and client-disconnect detection, addressing the
// review's "no true incremental streaming" finding. Once status/headers
// are written, this attempt is terminal — success or failure, there is
// no provider left to fail over to.
func (l *Loop) relayLiveSSE(ctx context.Context, w http.ResponseWriter, r *http.Request, resp *http.Response, p *domain.GatewayProvider, baseURL string, family capability.Family, retry int, before domain.GatewayCircuitState, started time.Time) attemptResult {
	prepare.StripHopByHop(resp.Header)
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	var tee *stream.UsageSSETee
	if parser := family.ParseUsage(); parser != nil {
		tee = stream.NewUsageSSETee(parser)
	}

	forwarded, terminalCode, clientAbort := l.copySSE(ctx, r, w, resp.Body, tee, flusher)

	duration := time.Since(started)
	status := resp.StatusCode
	attemptStatus := status
	outcome := domain.OutcomeSuccess
	var errCode *string
	var errCat *domain.ErrorCategory
	if terminalCode != "" {
		outcome = domain.OutcomeFailure
		c := terminalCode
		errCode = &c
		cat := domain.ErrCategoryProvider
		if terminalCode == domain.GWErrStreamAborted {
			cat = domain.ErrCategoryClientAbort
		}
		errCat = &cat
	}

	attempt := domain.FailoverAttempt{
		ProviderID: p.ID, ProviderName: p.Name, BaseURL: baseURL,
		Outcome: outcome, Status: &attemptStatus, RetryIndex: retry,
		ErrorCode: errCode, ErrorCategory: errCat,
		AttemptStartedMs: started.UnixMilli(), AttemptDurationMs: duration.Milliseconds(),
		CircuitStateBefore: before.State,
	}

	var usageMetrics domain.UsageMetrics
	if tee != nil {
		if u, ok := tee.Usage(); ok {
			usageMetrics = u
		}
	}

	return attemptResult{
		Attempt: attempt, Status: status, Header: resp.Header, Usage: usageMetrics,
		Committed: true, ForwardedChunks: forwarded,
		TerminalCode: terminalCode, ClientAbort: clientAbort,
	}
}

type sseChunkResult struct {
	data []byte
	err  error
}

// copySSE relays src to w chunk-by-chunk, feeding tee (if non-nil) for
// usage extraction, until EOF, an idle gap exceeding
// Limits.StreamIdleTimeout, a read error, or the request context being
// cancelled (client disconnect). Read has no native per-call deadline,
// so each read runs in its own goroutine racing the idle timer.
func (l *Loop) copySSE(ctx context.Context, r *http.Request, w http.ResponseWriter, src io.Reader, tee *stream.UsageSSETee, flusher http.Flusher) (forwardedChunks int, terminalCode string, clientAbort bool) {
	idle := l.Limits.StreamIdleTimeout

	for {
		resultCh := make(chan sseChunkResult, 1)
		go func() {
			buf := make([]byte, relayChunkBytes)
			n, err := src.Read(buf)
			resultCh <- sseChunkResult{data: buf[:n], err: err}
		}()

		timer := time.NewTimer(idle)
		select {
		case res := <-resultCh:
			timer.Stop()
			if len(res.data) > 0 {
				if _, werr := w.Write(res.data); werr != nil {
					return forwardedChunks, domain.GWErrStreamAborted, true
				}
				if flusher != nil {
					flusher.Flush()
				}
				if tee != nil {
					tee.Feed(res.data)
				}
				forwardedChunks++
			}
			if res.err != nil {
				if res.err == io.EOF {
					return forwardedChunks, "", false
				}
				return forwardedChunks, domain.GWErrStreamError, false
			}
		case <-timer.C:
			return forwardedChunks, domain.GWErrStreamIdleTimeout, false
		case <-r.Context().Done():
			timer.Stop()
			return forwardedChunks, domain.GWErrStreamAborted, true
		case <-ctx.Done():
			timer.Stop()
			return forwardedChunks, domain.GWErrStreamAborted, true
		}
	}
}

func (l *Loop) failedAttempt(p *domain.GatewayProvider, retry int, before domain.GatewayCircuitState, started time.Time, err error) domain.FailoverAttempt {
	_, code := classify.TransportError(err)
	cat := domain.ErrCategorySystem
	return domain.FailoverAttempt{
		ProviderID: p.ID, ProviderName: p.Name, RetryIndex: retry,
		Outcome:            domain.OutcomeFailure,
		ErrorCategory:      &cat,
		ErrorCode:          &code,
		AttemptStartedMs:   started.UnixMilli(),
		AttemptDurationMs:  time.Since(started).Milliseconds(),
		CircuitStateBefore: before.State,
	}
}

func (l *Loop) finish(traceID, cliKey string, startedAt time.Time, attempts []domain.FailoverAttempt, outcome, errorCode string, category domain.ErrorCategory, model, sessionID string) domain.RequestLogInsert {
	now := time.Now()
	entry := domain.RequestLogInsert{
		TraceID:         traceID,
		CLIKey:          cliKey,
		RequestedModel:  model,
		FinalOutcome:    outcome,
		Attempts:        attempts,
		StartedAt:       startedAt,
		FinishedAt:      now,
		TotalDurationMs: now.Sub(startedAt).Milliseconds(),
	}
	if errorCode != "" {
		c := category
		entry.ErrorCategory = &c
		code := errorCode
		entry.ErrorCode = &code
	}
	if sessionID != "" {
		entry.SessionID = &sessionID
	}
	return entry
}

func (l *Loop) finishSuccess(traceID, cliKey string, startedAt time.Time, attempts []domain.FailoverAttempt, providerID int64, model string, status int, usage domain.UsageMetrics, costMultiplier float64) domain.RequestLogInsert {
	now := time.Now()
	return domain.RequestLogInsert{
		TraceID:         traceID,
		CLIKey:          cliKey,
		RequestedModel:  model,
		FinalProviderID: &providerID,
		FinalOutcome:    domain.FinalOutcomeSuccess,
		FinalStatus:     &status,
		Attempts:        attempts,
		Usage:           &usage,
		Streamed:        true,
		StartedAt:       startedAt,
		FinishedAt:      now,
		TotalDurationMs: now.Sub(startedAt).Milliseconds(),
		CostMultiplier:  costMultiplier,
	}
}

// finishStreamTerminal builds the request log row for a streaming attempt
// that committed bytes to the client before failing (idle timeout,
// stream error, or client disconnect mid-stream) — the status/error code
// recorded here describe what happened upstream, independent of the
// status already sent on the wire (spec 4.7: log-only status rewrites).
func (l *Loop) finishStreamTerminal(traceID, cliKey string, startedAt time.Time, attempts []domain.FailoverAttempt, providerID int64, model string, result attemptResult) domain.RequestLogInsert {
	now := time.Now()
	status := domain.StatusOverride(result.TerminalCode)
	cat := domain.ErrCategoryProvider
	if result.ClientAbort {
		cat = domain.ErrCategoryClientAbort
	}
	code := result.TerminalCode
	entry := domain.RequestLogInsert{
		TraceID:           traceID,
		CLIKey:            cliKey,
		RequestedModel:    model,
		FinalProviderID:   &providerID,
		FinalOutcome:      domain.FinalOutcomeFailed,
		FinalStatus:       &status,
		ErrorCategory:     &cat,
		ErrorCode:         &code,
		Attempts:          attempts,
		Streamed:          true,
		StartedAt:         startedAt,
		FinishedAt:        now,
		TotalDurationMs:   now.Sub(startedAt).Milliseconds(),
		ClientAborted:     result.ClientAbort,
		ExcludedFromStats: result.ClientAbort,
	}
	if result.ClientAbort {
		entry.FinalOutcome = domain.FinalOutcomeClientAborted
		entry.SpecialSettings = []domain.SpecialSetting{{
			Type:   "client_abort",
			Reason: "client_disconnected",
			Extra:  map[string]interface{}{"forwarded_chunks": result.ForwardedChunks},
		}}
	}
	return entry
}

var _ ports.GatewayProxyService = (*Loop)(nil)
