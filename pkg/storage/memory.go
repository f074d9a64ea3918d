package storage

import (
	"context"
	"sync"
	"time"
)

// memoryStorage is the in-process Storage backend used for tests and the
// "memory" driver (config.StorageConfig.Driver): it holds the records in
// maps rather than discarding them, so policy/source-score persistence is
// readable back within a process even without sqlite.
type memoryStorage struct {
	mu       sync.RWMutex
	policies map[string]PolicyRecord
	sources  map[string]SourceScoreRecord
}

func newMemoryStorage() Storage {
	return &memoryStorage{
		policies: make(map[string]PolicyRecord),
		sources:  make(map[string]SourceScoreRecord),
	}
}

func (m *memoryStorage) SavePolicy(ctx context.Context, p PolicyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.Domain] = p
	return nil
}

func (m *memoryStorage) DeletePolicy(ctx context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.policies, domain)
	return nil
}

func (m *memoryStorage) LoadPolicies(ctx context.Context) ([]PolicyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PolicyRecord, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, p)
	}
	return out, nil
}

func (m *memoryStorage) SaveSourceScore(ctx context.Context, rec SourceScoreRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[rec.ClientIP] = rec
	return nil
}

func (m *memoryStorage) LoadSourceScores(ctx context.Context) ([]SourceScoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SourceScoreRecord, 0, len(m.sources))
	for _, rec := range m.sources {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memoryStorage) PruneSourceScores(ctx context.Context, olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ip, rec := range m.sources {
		if rec.LastSeen.Before(olderThan) {
			delete(m.sources, ip)
		}
	}
	return nil
}

func (m *memoryStorage) Ping(ctx context.Context) error { return nil }
func (m *memoryStorage) Close() error                   { return nil }
