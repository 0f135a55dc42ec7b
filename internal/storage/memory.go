// internal/storage/memory.go
// Package storage provides implementations of the Store interface
// for both in-memory and PostgreSQL storage backends, plus a fail-open
// wrapper that degrades to memory when the durable backend misbehaves.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/fishnetapp/fishnet-vault-go/internal/model"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("not found")

// Store interface defines the storage operations required by the vault service.
// It is implemented by the in-memory and PostgreSQL backends and by the
// fail-open wrapper returned from Open.
type Store interface {
	// Catch record operations
	AddCatch(ctx context.Context, rec model.CatchRecord) (int64, error)                    // Assigns a fresh id, returns it
	GetCatch(ctx context.Context, id int64) (model.CatchRecord, error)                     // ErrNotFound for unknown ids
	GetAllCatches(ctx context.Context) ([]model.CatchRecord, error)                        // Newest-first by timestamp
	GetCatchesBySpecies(ctx context.Context, species string) ([]model.CatchRecord, error)  // Exact-match filter, same ordering
	GetUnsyncedCatches(ctx context.Context) ([]model.CatchRecord, error)                   // Records with IsSynced=false
	MarkAsSynced(ctx context.Context, id int64) error                                      // Idempotent; no-op for unknown ids
	DeleteCatch(ctx context.Context, id int64) error                                       // Removes the record and its image blob

	// Image blob operations, content-addressed by caller-supplied key
	StoreImage(ctx context.Context, key string, data []byte) error
	GetImage(ctx context.Context, key string) ([]byte, error) // Returns (nil, nil) for unknown keys
	DeleteImage(ctx context.Context, key string) error

	// Aggregates, recomputed on demand
	Stats(ctx context.Context) (model.Stats, error)

	// Last-sync timestamp, the only persisted piece of sync state
	LoadLastSyncTime(ctx context.Context) (*time.Time, error)
	SaveLastSyncTime(ctx context.Context, t time.Time) error

	Close()
}

// memory implements the Store interface using in-memory maps.
// It serves as the availability fallback when durable storage cannot be
// opened and is lossy across process restarts.
type memory struct {
	mu       sync.RWMutex
	nextID   int64
	catches  map[int64]*model.CatchRecord
	images   map[string][]byte
	lastSync *time.Time
}

// NewMemory creates a new in-memory storage implementation.
func NewMemory() Store {
	return &memory{
		nextID:  1,
		catches: make(map[int64]*model.CatchRecord),
		images:  make(map[string][]byte),
	}
}

func (m *memory) AddCatch(ctx context.Context, rec model.CatchRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.ID = m.nextID
	m.nextID++
	recCopy := rec
	m.catches[rec.ID] = &recCopy
	return rec.ID, nil
}

func (m *memory) GetCatch(ctx context.Context, id int64) (model.CatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.catches[id]
	if !exists {
		return model.CatchRecord{}, ErrNotFound
	}
	return *rec, nil
}

// sortNewestFirst orders records by timestamp descending, breaking ties by
// id descending so insertion order stays stable for same-timestamp records.
func sortNewestFirst(recs []model.CatchRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].ID > recs[j].ID
		}
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})
}

func (m *memory) GetAllCatches(ctx context.Context) ([]model.CatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.CatchRecord, 0, len(m.catches))
	for _, rec := range m.catches {
		out = append(out, *rec)
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *memory) GetCatchesBySpecies(ctx context.Context, species string) ([]model.CatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.CatchRecord, 0)
	for _, rec := range m.catches {
		if rec.Species == species {
			out = append(out, *rec)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *memory) GetUnsyncedCatches(ctx context.Context) ([]model.CatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.CatchRecord, 0)
	for _, rec := range m.catches {
		if !rec.IsSynced {
			out = append(out, *rec)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *memory) MarkAsSynced(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, exists := m.catches[id]; exists {
		rec.IsSynced = true
	}
	return nil
}

func (m *memory) DeleteCatch(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.catches[id]
	if !exists {
		return nil
	}
	// Cascade delete of the owned image blob
	if rec.ImageRef != "" && !rec.HasInlineImage() {
		delete(m.images, rec.ImageRef)
	}
	delete(m.catches, id)
	return nil
}

func (m *memory) StoreImage(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	m.images[key] = dataCopy
	return nil
}

func (m *memory) GetImage(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.images[key]
	if !exists {
		return nil, nil
	}
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	return dataCopy, nil
}

func (m *memory) DeleteImage(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.images, key)
	return nil
}

func (m *memory) Stats(ctx context.Context) (model.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	species := make(map[string]struct{})
	unsynced := 0
	for _, rec := range m.catches {
		species[rec.Species] = struct{}{}
		if !rec.IsSynced {
			unsynced++
		}
	}
	return model.Stats{
		TotalCatches:  len(m.catches),
		UniqueSpecies: len(species),
		UnsyncedCount: unsynced,
	}, nil
}

func (m *memory) LoadLastSyncTime(ctx context.Context) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastSync == nil {
		return nil, nil
	}
	t := *m.lastSync
	return &t, nil
}

// SaveLastSyncTime records the last completed sync time.
// The zero time clears the stored value.
func (m *memory) SaveLastSyncTime(ctx context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.IsZero() {
		m.lastSync = nil
		return nil
	}
	m.lastSync = &t
	return nil
}

func (m *memory) Close() {}
