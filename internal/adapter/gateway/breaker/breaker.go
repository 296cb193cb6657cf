// Package breaker implements the gateway's per-provider circuit breaker
// (three states: closed, open, half-open), generalising the atomic
// CAS-based single in-flight probe pattern from the health package's
// binary breaker to the richer state machine the gateway needs.
package breaker

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/olla-gateway/internal/core/domain"
	"github.com/thushan/olla-gateway/internal/core/ports"
)

type providerState struct {
	failures      int64
	state         int32 // domain.CircuitFSMState encoded as 0=closed,1=open,2=half_open
	openUntil     int64 // unix nano, 0 = unset
	cooldownUntil int64 // unix nano, 0 = unset; independent of state
	probeInFlight int32
	updatedAt     int64
}

const (
	stClosed   int32 = 0
	stOpen     int32 = 1
	stHalfOpen int32 = 2
)

func encode(s domain.CircuitFSMState) int32 {
	switch s {
	case domain.CircuitOpen:
		return stOpen
	case domain.CircuitHalfOpen:
		return stHalfOpen
	default:
		return stClosed
	}
}

func decode(s int32) domain.CircuitFSMState {
	switch s {
	case stOpen:
		return domain.CircuitOpen
	case stHalfOpen:
		return domain.CircuitHalfOpen
	default:
		return domain.CircuitClosed
	}
}

// Breaker is the process-wide provider circuit breaker. A Store mirrors
// transitions best-effort for restart reconstruction; it is never the
// source of truth while the process is alive.
type Breaker struct {
	providers *xsync.Map[int64, *providerState]
	params    domain.CircuitBreakerParams
	store     domain.CircuitStateStore
}

func New(params domain.CircuitBreakerParams, store domain.CircuitStateStore) *Breaker {
	if params.FailureThreshold == 0 {
		params.FailureThreshold = domain.DefaultCircuitFailureThreshold
	}
	if params.OpenDuration == 0 {
		params.OpenDuration = domain.DefaultCircuitOpenDuration
	}
	b := &Breaker{params: params, store: store, providers: xsync.NewMap[int64, *providerState]()}
	if store != nil {
		if snapshot, err := store.LoadAll(); err == nil {
			for id, s := range snapshot {
				ps := &providerState{state: encode(s.State), failures: int64(s.FailureCount)}
				if s.OpenUntil != nil {
					ps.openUntil = s.OpenUntil.UnixNano()
				}
				ps.updatedAt = s.UpdatedAt.UnixNano()
				b.providers.Store(id, ps)
			}
		}
	}
	return b
}

func (b *Breaker) load(providerID int64) *providerState {
	ps, _ := b.providers.LoadOrStore(providerID, &providerState{})
	return ps
}

func (b *Breaker) snapshotOf(ps *providerState) domain.GatewayCircuitState {
	s := domain.GatewayCircuitState{
		State:        decode(atomic.LoadInt32(&ps.state)),
		FailureCount: uint32(atomic.LoadInt64(&ps.failures)),
		UpdatedAt:    time.Unix(0, atomic.LoadInt64(&ps.updatedAt)),
	}
	if ou := atomic.LoadInt64(&ps.openUntil); ou != 0 {
		t := time.Unix(0, ou)
		s.OpenUntil = &t
	}
	if cu := atomic.LoadInt64(&ps.cooldownUntil); cu != 0 {
		t := time.Unix(0, cu)
		s.CooldownUntil = &t
	}
	return s
}

// ShouldAllow reports whether a call to providerID may proceed now. In
// the open state it auto-transitions to half-open once OpenUntil has
// elapsed and admits exactly one probe, guarded by a CAS so concurrent
// callers never double-admit (spec invariant: "exactly one in-flight
// half-open probe per provider").
func (b *Breaker) ShouldAllow(providerID int64) domain.CircuitAllowResult {
	ps := b.load(providerID)
	now := time.Now()

	if cu := atomic.LoadInt64(&ps.cooldownUntil); cu != 0 && now.Before(time.Unix(0, cu)) {
		return domain.CircuitAllowResult{Allow: false, Snapshot: b.snapshotOf(ps)}
	}

	state := decode(atomic.LoadInt32(&ps.state))
	if state != domain.CircuitOpen {
		return domain.CircuitAllowResult{Allow: true, Snapshot: b.snapshotOf(ps)}
	}

	openUntil := atomic.LoadInt64(&ps.openUntil)
	if openUntil != 0 && now.Before(time.Unix(0, openUntil)) {
		return domain.CircuitAllowResult{Allow: false, Snapshot: b.snapshotOf(ps)}
	}

	if atomic.CompareAndSwapInt32(&ps.probeInFlight, 0, 1) {
		atomic.StoreInt32(&ps.state, stHalfOpen)
		atomic.StoreInt64(&ps.updatedAt, now.UnixNano())
		return domain.CircuitAllowResult{Allow: true, Snapshot: b.snapshotOf(ps)}
	}

	// Another caller already owns the probe.
	return domain.CircuitAllowResult{Allow: false, Snapshot: b.snapshotOf(ps)}
}

// RecordSuccess closes the circuit and clears the failure count. A
// successful half-open probe releases the probe slot.
func (b *Breaker) RecordSuccess(providerID int64) domain.CircuitRecordResult {
	ps := b.load(providerID)
	before := b.snapshotOf(ps)

	atomic.StoreInt64(&ps.failures, 0)
	atomic.StoreInt64(&ps.openUntil, 0)
	atomic.StoreInt64(&ps.cooldownUntil, 0)
	atomic.StoreInt32(&ps.probeInFlight, 0)
	prev := atomic.SwapInt32(&ps.state, stClosed)
	atomic.StoreInt64(&ps.updatedAt, time.Now().UnixNano())

	after := b.snapshotOf(ps)
	b.persist(providerID, after)

	var transition *domain.CircuitTransition
	if prev != stClosed {
		transition = &domain.CircuitTransition{ProviderID: providerID, From: decode(prev), To: domain.CircuitClosed, At: after.UpdatedAt}
	}
	return domain.CircuitRecordResult{Before: before, After: after, Transition: transition}
}

// RecordFailure increments the failure count and opens the circuit once
// the threshold is crossed, or immediately re-opens it if the failing
// call was the half-open probe.
func (b *Breaker) RecordFailure(providerID int64) domain.CircuitRecordResult {
	ps := b.load(providerID)
	before := b.snapshotOf(ps)
	now := time.Now()

	wasHalfOpen := decode(atomic.LoadInt32(&ps.state)) == domain.CircuitHalfOpen
	failures := atomic.AddInt64(&ps.failures, 1)

	var prev int32
	if wasHalfOpen || failures >= int64(b.params.FailureThreshold) {
		prev = atomic.SwapInt32(&ps.state, stOpen)
		atomic.StoreInt64(&ps.openUntil, now.Add(b.params.OpenDuration).UnixNano())
	} else {
		prev = atomic.LoadInt32(&ps.state)
	}
	atomic.StoreInt32(&ps.probeInFlight, 0)
	atomic.StoreInt64(&ps.updatedAt, now.UnixNano())

	after := b.snapshotOf(ps)
	b.persist(providerID, after)

	var transition *domain.CircuitTransition
	if decode(prev) != after.State {
		transition = &domain.CircuitTransition{ProviderID: providerID, From: decode(prev), To: after.State, At: now}
	}
	return domain.CircuitRecordResult{Before: before, After: after, Transition: transition}
}

func (b *Breaker) Snapshot(providerID int64) domain.GatewayCircuitState {
	return b.snapshotOf(b.load(providerID))
}

// TriggerCooldown shelves providerID for d without touching its failure
// count or FSM state: an explicit caller request (used after a
// SwitchProvider/Abort decision driven by a non-provider fault) to avoid
// the next outer-loop pass immediately retrying a provider that just
// failed for reasons unrelated to its own health.
func (b *Breaker) TriggerCooldown(providerID int64, d time.Duration) {
	if d <= 0 {
		return
	}
	ps := b.load(providerID)
	atomic.StoreInt64(&ps.cooldownUntil, time.Now().Add(d).UnixNano())
}

func (b *Breaker) persist(providerID int64, s domain.GatewayCircuitState) {
	if b.store == nil {
		return
	}
	_ = b.store.Upsert(providerID, s)
}

var _ ports.CircuitBreaker = (*Breaker)(nil)
