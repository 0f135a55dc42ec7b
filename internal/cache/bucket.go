// internal/cache/bucket.go
// Package cache implements the resource-caching layer that keeps the
// application shell working with degraded connectivity. Cached responses
// live in named, versioned buckets; the gateway decides per request
// whether to serve from a bucket, from the network, or both.
package cache

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// CachedResponse is a stored copy of an upstream response.
type CachedResponse struct {
	StatusCode int         `json:"statusCode"` // Upstream HTTP status
	Header     http.Header `json:"header"`     // Upstream response headers
	Body       []byte      `json:"body"`       // Response payload
	StoredAt   time.Time   `json:"storedAt"`   // When the copy was taken
}

// BucketStore holds named buckets of cached responses.
// Implemented by an in-memory variant and a Redis variant; the gateway
// owns the buckets exclusively, nothing else writes to them.
type BucketStore interface {
	// Put stores a response under key in the named bucket, creating the
	// bucket if needed.
	Put(ctx context.Context, bucket, key string, resp CachedResponse) error

	// Get retrieves a response from the named bucket.
	// A miss yields (nil, nil), not an error.
	Get(ctx context.Context, bucket, key string) (*CachedResponse, error)

	// Buckets lists every existing bucket name.
	Buckets(ctx context.Context) ([]string, error)

	// DeleteBucket removes a bucket and all its entries.
	DeleteBucket(ctx context.Context, bucket string) error
}

// memoryBuckets implements BucketStore with mutex-guarded nested maps.
type memoryBuckets struct {
	mu      sync.RWMutex
	buckets map[string]map[string]CachedResponse
}

// NewMemoryBuckets creates an in-memory bucket store.
func NewMemoryBuckets() BucketStore {
	return &memoryBuckets{buckets: make(map[string]map[string]CachedResponse)}
}

func (m *memoryBuckets) Put(ctx context.Context, bucket, key string, resp CachedResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, exists := m.buckets[bucket]
	if !exists {
		b = make(map[string]CachedResponse)
		m.buckets[bucket] = b
	}
	b[key] = resp
	return nil
}

func (m *memoryBuckets) Get(ctx context.Context, bucket, key string) (*CachedResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, exists := m.buckets[bucket]
	if !exists {
		return nil, nil
	}
	resp, exists := b[key]
	if !exists {
		return nil, nil
	}
	respCopy := resp
	return &respCopy, nil
}

func (m *memoryBuckets) Buckets(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}
	return names, nil
}

func (m *memoryBuckets) DeleteBucket(ctx context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.buckets, bucket)
	return nil
}
