// Package session implements C3, session affinity: once a session binds
// to a provider, subsequent requests on the same session reuse it until
// TTL expiry, a sort-mode change, or the bound provider becoming
// unavailable (closest-remaining-neighbour fallback).
package session

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/olla-gateway/internal/core/domain"
	"github.com/thushan/olla-gateway/internal/core/ports"
)

// Store is the process-wide session affinity table, periodically swept
// for TTL-expired bindings in the style of eventbus's cleanupLoop.
type Store struct {
	bindings      *xsync.Map[domain.SessionKey, domain.SessionBinding]
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

const defaultSweepPeriod = 5 * time.Minute

func New() *Store {
	s := &Store{
		bindings:    xsync.NewMap[domain.SessionKey, domain.SessionBinding](),
		stopCleanup: make(chan struct{}),
	}
	s.cleanupTicker = time.NewTicker(defaultSweepPeriod)
	go s.sweepLoop()
	return s
}

func (s *Store) sweepLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			now := time.Now()
			s.bindings.Range(func(k domain.SessionKey, v domain.SessionBinding) bool {
				if v.Expired(now) {
					s.bindings.Delete(k)
				}
				return true
			})
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) Close() {
	s.cleanupTicker.Stop()
	close(s.stopCleanup)
}

func (s *Store) Get(key domain.SessionKey) (domain.SessionBinding, bool) {
	b, ok := s.bindings.Load(key)
	if !ok {
		return domain.SessionBinding{}, false
	}
	if b.Expired(time.Now()) {
		s.bindings.Delete(key)
		return domain.SessionBinding{}, false
	}
	return b, true
}

func (s *Store) Bind(key domain.SessionKey, binding domain.SessionBinding) {
	if binding.TTLUntil.IsZero() {
		binding.TTLUntil = time.Now().Add(domain.DefaultSessionTTL)
	}
	if binding.FirstSeen.IsZero() {
		binding.FirstSeen = time.Now()
	}
	s.bindings.Store(key, binding)
}

// Touch refreshes TTL and LastSuccessAt after a successful reuse.
func (s *Store) Touch(key domain.SessionKey) {
	s.bindings.Compute(key, func(old domain.SessionBinding, loaded bool) (domain.SessionBinding, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		now := time.Now()
		old.LastSuccessAt = now
		old.TTLUntil = now.Add(domain.DefaultSessionTTL)
		return old, xsync.UpdateOp
	})
}

func (s *Store) Delete(key domain.SessionKey) {
	s.bindings.Delete(key)
}

var _ ports.SessionStore = (*Store)(nil)
