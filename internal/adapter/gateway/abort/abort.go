// Package abort reproduces the original implementation's RequestAbortGuard
// drop-guard: in Rust it fires on Drop unless explicitly disarmed; Go has
// no deterministic destructors, so callers must `defer guard.FinalizeIfArmed()`
// immediately after construction. If the handler returns without calling
// Disarm() first (client disconnect, panic, early return), the deferred
// call still logs a GW_REQUEST_ABORTED request log on the way out.
package abort

import (
	"sync/atomic"
	"time"

	"github.com/thushan/olla-gateway/internal/core/domain"
	"github.com/thushan/olla-gateway/internal/core/ports"
)

// AbortedErrorCode is domain.GWErrRequestAborted, duplicated here as a
// plain string constant so this package doesn't need to import domain
// just for the one value used below (kept in sync, see FinalizeIfArmed).
const AbortedErrorCode = domain.GWErrRequestAborted

// Guard is armed on construction. Disarm() is called once the request
// completes normally (success or a classified failure already logged by
// the failover loop); FinalizeIfArmed is safe to call any number of
// times but only logs once.
type Guard struct {
	sink      ports.LogSink
	traceID   string
	cliKey    string
	method    string
	path      string
	query     string
	startedAt time.Time
	armed     atomic.Bool
}

func New(sink ports.LogSink, traceID, cliKey, method, path, query string) *Guard {
	g := &Guard{
		sink:      sink,
		traceID:   traceID,
		cliKey:    cliKey,
		method:    method,
		path:      path,
		query:     query,
		startedAt: time.Now(),
	}
	g.armed.Store(true)
	return g
}

// Disarm marks the guard as handled; a subsequent FinalizeIfArmed is a
// no-op.
func (g *Guard) Disarm() {
	g.armed.Store(false)
}

// FinalizeIfArmed logs a client-abort request log exactly once, if the
// guard is still armed. Intended to be deferred immediately after New.
func (g *Guard) FinalizeIfArmed() {
	if !g.armed.CompareAndSwap(true, false) {
		return
	}

	errCode := AbortedErrorCode
	category := domain.ErrCategoryClientAbort
	now := time.Now()

	g.sink.EnqueueRequestLog(domain.RequestLogInsert{
		TraceID:         g.traceID,
		CLIKey:          g.cliKey,
		Method:          g.method,
		Path:            g.path,
		Query:           g.query,
		FinalOutcome:    domain.FinalOutcomeClientAborted,
		ErrorCategory:   &category,
		ErrorCode:       &errCode,
		Attempts:        []domain.FailoverAttempt{},
		StartedAt:       g.startedAt,
		FinishedAt:      now,
		TotalDurationMs: now.Sub(g.startedAt).Milliseconds(),
		ClientAborted:   true,
		ExcludedFromStats: true,
	})
}
