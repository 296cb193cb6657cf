package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thushan/olla-gateway/internal/core/domain"
)

func TestBreaker_ShouldAllow_ClosedByDefault(t *testing.T) {
	b := New(domain.CircuitBreakerParams{}, nil)

	result := b.ShouldAllow(1)
	assert.True(t, result.Allow)
	assert.Equal(t, domain.CircuitClosed, result.Snapshot.State)
}

func TestBreaker_RecordFailure_OpensAtThreshold(t *testing.T) {
	b := New(domain.CircuitBreakerParams{FailureThreshold: 3, OpenDuration: time.Minute}, nil)

	var last domain.CircuitRecordResult
	for i := 0; i < 3; i++ {
		last = b.RecordFailure(1)
	}

	assert.Equal(t, domain.CircuitOpen, last.After.State)
	assert.NotNil(t, last.Transition)
	assert.Equal(t, domain.CircuitClosed, last.Transition.From)
	assert.Equal(t, domain.CircuitOpen, last.Transition.To)

	result := b.ShouldAllow(1)
	assert.False(t, result.Allow)
}

func TestBreaker_RecordFailure_BelowThresholdStaysClosed(t *testing.T) {
	b := New(domain.CircuitBreakerParams{FailureThreshold: 5, OpenDuration: time.Minute}, nil)

	result := b.RecordFailure(1)
	assert.Equal(t, domain.CircuitClosed, result.After.State)
	assert.Nil(t, result.Transition)
}

func TestBreaker_ShouldAllow_TransitionsToHalfOpenAfterCooldown(t *testing.T) {
	b := New(domain.CircuitBreakerParams{FailureThreshold: 1, OpenDuration: 10 * time.Millisecond}, nil)

	b.RecordFailure(1)
	assert.False(t, b.ShouldAllow(1).Allow)

	time.Sleep(20 * time.Millisecond)

	result := b.ShouldAllow(1)
	assert.True(t, result.Allow, "should admit exactly one half-open probe once OpenUntil elapses")
	assert.Equal(t, domain.CircuitHalfOpen, b.Snapshot(1).State)
}

func TestBreaker_ShouldAllow_OnlyOneConcurrentHalfOpenProbe(t *testing.T) {
	b := New(domain.CircuitBreakerParams{FailureThreshold: 1, OpenDuration: 10 * time.Millisecond}, nil)

	b.RecordFailure(1)
	time.Sleep(20 * time.Millisecond)

	first := b.ShouldAllow(1)
	second := b.ShouldAllow(1)

	assert.True(t, first.Allow)
	assert.False(t, second.Allow, "a second caller must not be admitted while a probe is in flight")
}

func TestBreaker_RecordSuccess_ClosesFromHalfOpen(t *testing.T) {
	b := New(domain.CircuitBreakerParams{FailureThreshold: 1, OpenDuration: 10 * time.Millisecond}, nil)

	b.RecordFailure(1)
	time.Sleep(20 * time.Millisecond)
	b.ShouldAllow(1) // admits the half-open probe

	result := b.RecordSuccess(1)
	assert.Equal(t, domain.CircuitClosed, result.After.State)
	assert.Equal(t, uint32(0), result.After.FailureCount)
	assert.NotNil(t, result.Transition)
	assert.Equal(t, domain.CircuitHalfOpen, result.Transition.From)
}

func TestBreaker_RecordFailure_ReopensOnFailedProbe(t *testing.T) {
	b := New(domain.CircuitBreakerParams{FailureThreshold: 1, OpenDuration: 10 * time.Millisecond}, nil)

	b.RecordFailure(1)
	time.Sleep(20 * time.Millisecond)
	b.ShouldAllow(1)

	result := b.RecordFailure(1)
	assert.Equal(t, domain.CircuitOpen, result.After.State)
}

func TestBreaker_TriggerCooldown_DeniesWithoutIncrementingFailures(t *testing.T) {
	b := New(domain.CircuitBreakerParams{FailureThreshold: 5, OpenDuration: time.Minute}, nil)

	b.TriggerCooldown(1, 20*time.Millisecond)

	result := b.ShouldAllow(1)
	assert.False(t, result.Allow)
	assert.Equal(t, domain.CircuitClosed, result.Snapshot.State, "cooldown must not flip the FSM state")
	assert.Equal(t, uint32(0), result.Snapshot.FailureCount)

	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.ShouldAllow(1).Allow, "cooldown must lift once it elapses")
}

func TestBreaker_RecordSuccess_ClearsCooldown(t *testing.T) {
	b := New(domain.CircuitBreakerParams{FailureThreshold: 5, OpenDuration: time.Minute}, nil)

	b.TriggerCooldown(1, time.Minute)
	assert.False(t, b.ShouldAllow(1).Allow)

	b.RecordSuccess(1)
	assert.True(t, b.ShouldAllow(1).Allow)
}

type fakeStore struct {
	upserts map[int64]domain.GatewayCircuitState
}

func (f *fakeStore) LoadAll() (map[int64]domain.GatewayCircuitState, error) {
	return nil, nil
}

func (f *fakeStore) Upsert(providerID int64, state domain.GatewayCircuitState) error {
	if f.upserts == nil {
		f.upserts = make(map[int64]domain.GatewayCircuitState)
	}
	f.upserts[providerID] = state
	return nil
}

func TestBreaker_PersistsTransitionsToStore(t *testing.T) {
	store := &fakeStore{}
	b := New(domain.CircuitBreakerParams{FailureThreshold: 1, OpenDuration: time.Minute}, store)

	b.RecordFailure(42)

	got, ok := store.upserts[42]
	assert.True(t, ok)
	assert.Equal(t, domain.CircuitOpen, got.State)
}

func TestBreaker_New_ReconstructsFromStoreSnapshot(t *testing.T) {
	openUntil := time.Now().Add(time.Minute)
	store := &fakeStore{upserts: map[int64]domain.GatewayCircuitState{
		7: {State: domain.CircuitOpen, FailureCount: 3, OpenUntil: &openUntil, UpdatedAt: time.Now()},
	}}
	loaderStore := &loadableFakeStore{fakeStore: store, loadAll: store.upserts}

	b := New(domain.CircuitBreakerParams{}, loaderStore)

	result := b.ShouldAllow(7)
	assert.False(t, result.Allow)
	assert.Equal(t, domain.CircuitOpen, result.Snapshot.State)
}

type loadableFakeStore struct {
	*fakeStore
	loadAll map[int64]domain.GatewayCircuitState
}

func (l *loadableFakeStore) LoadAll() (map[int64]domain.GatewayCircuitState, error) {
	return l.loadAll, nil
}
