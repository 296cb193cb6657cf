// Package logwriter gives the gateway's logging pipeline (C10) a durable
// sink to batch-write into, following the same rotated-file convention the
// rest of the application uses for its own logs.
package logwriter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/thushan/olla-gateway/internal/core/domain"
)

// Writer appends newline-delimited JSON rows to two rotated files, one for
// request logs and one for attempt logs, mirroring internal/logger's
// lumberjack setup rather than introducing a new storage dependency.
type Writer struct {
	mu        sync.Mutex
	requests  *lumberjack.Logger
	attempts  *lumberjack.Logger
}

type Config struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func New(cfg Config) (*Writer, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create gateway log dir: %w", err)
	}
	return &Writer{
		requests: &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "requests.jsonl"),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		},
		attempts: &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "attempts.jsonl"),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		},
	}, nil
}

func (w *Writer) WriteRequestLogs(batch []domain.RequestLogInsert) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	enc := json.NewEncoder(w.requests)
	for _, row := range batch {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("write request log: %w", err)
		}
	}
	return nil
}

func (w *Writer) WriteAttemptLogs(batch []domain.AttemptLogInsert) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	enc := json.NewEncoder(w.attempts)
	for _, row := range batch {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("write attempt log: %w", err)
		}
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requests.Close(); err != nil {
		return err
	}
	return w.attempts.Close()
}

var (
	_ domain.RequestLogWriter = (*Writer)(nil)
	_ domain.AttemptLogWriter = (*Writer)(nil)
)
