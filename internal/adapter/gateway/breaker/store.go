package breaker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/thushan/olla-gateway/internal/core/domain"
)

// FileStore is the durable mirror CircuitBreakerParams' CircuitStateStore
// describes: a single JSON file rewritten on every Upsert. Circuit state
// is small (one row per provider) and write frequency is low enough
// (only on state transitions, not every request) that a full rewrite is
// simpler than appending and compacting a log.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) LoadAll() (map[int64]domain.GatewayCircuitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[int64]domain.GatewayCircuitState{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out map[int64]domain.GatewayCircuitState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) Upsert(providerID int64, state domain.GatewayCircuitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadLocked()
	if err != nil {
		return err
	}
	all[providerID] = state

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(all)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

func (s *FileStore) loadLocked() (map[int64]domain.GatewayCircuitState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[int64]domain.GatewayCircuitState{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[int64]domain.GatewayCircuitState{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ domain.CircuitStateStore = (*FileStore)(nil)
