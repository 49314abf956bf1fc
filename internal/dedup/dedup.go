package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/activeview/mab/internal/api"
)

// Store provides idempotent deduplication for metrics batches. Keyed by
// batch_id; the stored receipt is replayed to retries of the same batch.
type Store interface {
	// Get retrieves a stored receipt by batch id. Returns nil if not found.
	Get(ctx context.Context, batchID string) (*api.IngestReceipt, error)

	// Set stores an ingest receipt with TTL. First write wins.
	Set(ctx context.Context, batchID string, receipt *api.IngestReceipt, ttl time.Duration) error

	// Close releases resources
	Close() error
}

// MemoryStore is an in-memory dedup store with optional file snapshot
type MemoryStore struct {
	mu       sync.RWMutex
	store    map[string]*entry
	snapshot string // optional file path for persistence
}

type entry struct {
	Receipt   *api.IngestReceipt
	ExpiresAt time.Time
}

// NewMemoryStore creates an in-memory dedup store
func NewMemoryStore(snapshotPath string) *MemoryStore {
	ms := &MemoryStore{
		store:    make(map[string]*entry),
		snapshot: snapshotPath,
	}

	// Load from snapshot if exists
	if snapshotPath != "" {
		ms.loadSnapshot()
	}

	return ms
}

func (m *MemoryStore) Get(ctx context.Context, batchID string) (*api.IngestReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.store[batchID]
	if !ok {
		return nil, nil
	}

	if time.Now().After(e.ExpiresAt) {
		return nil, nil // expired
	}

	return e.Receipt, nil
}

func (m *MemoryStore) Set(ctx context.Context, batchID string, receipt *api.IngestReceipt, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// First write wins
	if e, exists := m.store[batchID]; exists {
		if time.Now().Before(e.ExpiresAt) {
			return nil // already exists and not expired
		}
	}

	m.store[batchID] = &entry{
		Receipt:   receipt,
		ExpiresAt: time.Now().Add(ttl),
	}

	// Persist snapshot if configured
	if m.snapshot != "" {
		go m.saveSnapshot() // async to avoid blocking
	}

	return nil
}

func (m *MemoryStore) Close() error {
	if m.snapshot != "" {
		return m.saveSnapshot()
	}
	return nil
}

func (m *MemoryStore) loadSnapshot() error {
	data, err := os.ReadFile(m.snapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no snapshot yet
		}
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var snapshot map[string]*entry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	// Only load non-expired entries
	now := time.Now()
	for k, v := range snapshot {
		if now.Before(v.ExpiresAt) {
			m.store[k] = v
		}
	}

	return nil
}

func (m *MemoryStore) saveSnapshot() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Only persist non-expired entries
	now := time.Now()
	toSave := make(map[string]*entry)
	for k, v := range m.store {
		if now.Before(v.ExpiresAt) {
			toSave[k] = v
		}
	}

	data, err := json.MarshalIndent(toSave, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(m.snapshot, data, 0600)
}
