// Package logging implements C10: two bounded channels (request logs,
// attempt logs) with a three-tier backpressure policy, batch-draining
// into the configured domain.RequestLogWriter/AttemptLogWriter. Grounded
// exactly on the original implementation's logging.rs:
//
//  1. reserve a channel slot, bounded by LogEnqueueMaxWait — the common
//     case, logged at no level since nothing unusual happened.
//  2. on timeout, a single non-blocking try_send — logged at warn since
//     the channel was briefly saturated but recovered.
//  3. if try_send also fails (channel still full), the entry is dropped
//     and logged at error — the only case data is actually lost.
package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/thushan/olla-gateway/internal/core/domain"
	"github.com/thushan/olla-gateway/internal/core/ports"
)

const (
	LogEnqueueMaxWait = 100 * time.Millisecond
	defaultBufferSize = 1024
	defaultBatchSize  = 100
	defaultFlushEvery = 2 * time.Second
)

// Sink is the gateway's LogSink: two bounded channels drained by a
// background goroutine each, batching writes to the durable stores.
type Sink struct {
	logger *slog.Logger

	requestCh chan domain.RequestLogInsert
	attemptCh chan domain.AttemptLogInsert

	requestWriter domain.RequestLogWriter
	attemptWriter domain.AttemptLogWriter

	stop chan struct{}
	done chan struct{}
}

func New(logger *slog.Logger, requestWriter domain.RequestLogWriter, attemptWriter domain.AttemptLogWriter) *Sink {
	s := &Sink{
		logger:        logger,
		requestCh:     make(chan domain.RequestLogInsert, defaultBufferSize),
		attemptCh:     make(chan domain.AttemptLogInsert, defaultBufferSize),
		requestWriter: requestWriter,
		attemptWriter: attemptWriter,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go s.drainRequests()
	go s.drainAttempts()
	return s
}

// EnqueueRequestLog applies the three-tier backpressure policy: try a
// timed reserve-equivalent (a short blocking send), then a single
// non-blocking try-send, then drop with an error log.
func (s *Sink) EnqueueRequestLog(entry domain.RequestLogInsert) {
	select {
	case s.requestCh <- entry:
		return
	case <-time.After(LogEnqueueMaxWait):
	}

	select {
	case s.requestCh <- entry:
		s.logger.Warn("request log enqueue timed out, used try-send fallback",
			"trace_id", entry.TraceID, "cli", entry.CLIKey, "wait_ms", LogEnqueueMaxWait.Milliseconds())
		return
	default:
	}

	s.logger.Error("request log dropped, queue full",
		"trace_id", entry.TraceID, "cli", entry.CLIKey, "wait_ms", LogEnqueueMaxWait.Milliseconds())
}

// EnqueueAttemptLog mirrors EnqueueRequestLog for the attempt channel.
func (s *Sink) EnqueueAttemptLog(entry domain.AttemptLogInsert) {
	select {
	case s.attemptCh <- entry:
		return
	case <-time.After(LogEnqueueMaxWait):
	}

	select {
	case s.attemptCh <- entry:
		s.logger.Warn("attempt log enqueue timed out, used try-send fallback",
			"trace_id", entry.TraceID, "wait_ms", LogEnqueueMaxWait.Milliseconds())
		return
	default:
	}

	s.logger.Error("attempt log dropped, queue full",
		"trace_id", entry.TraceID, "wait_ms", LogEnqueueMaxWait.Milliseconds())
}

func (s *Sink) drainRequests() {
	defer close(s.done)
	batch := make([]domain.RequestLogInsert, 0, defaultBatchSize)
	ticker := time.NewTicker(defaultFlushEvery)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.requestWriter.WriteRequestLogs(batch); err != nil {
			s.logger.Error("failed writing request log batch", "error", err, "count", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-s.requestCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stop:
			flush()
			return
		}
	}
}

func (s *Sink) drainAttempts() {
	batch := make([]domain.AttemptLogInsert, 0, defaultBatchSize)
	ticker := time.NewTicker(defaultFlushEvery)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if s.attemptWriter != nil {
			if err := s.attemptWriter.WriteAttemptLogs(batch); err != nil {
				s.logger.Error("failed writing attempt log batch", "error", err, "count", len(batch))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-s.attemptCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stop:
			flush()
			return
		}
	}
}

// Close stops both drain loops after flushing whatever is buffered, or
// returns ctx.Err() if the flush doesn't finish before ctx is done.
func (s *Sink) Close(ctx context.Context) error {
	close(s.stop)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ ports.LogSink = (*Sink)(nil)
