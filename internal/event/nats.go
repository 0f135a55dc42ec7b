// internal/event/nats.go
// Package event provides NATS JetStream implementation for event publishing.
// It mirrors sync outcomes to an event stream so companion services can
// react to catches reaching the remote feed without polling the vault.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fishnetapp/fishnet-vault-go/internal/model"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Publisher interface defines the event publishing operations required by the vault.
// It provides methods for mirroring per-item sync outcomes and cycle summaries.
type Publisher interface {
	// PublishCatchSynced reports a catch record confirmed by the remote feed.
	PublishCatchSynced(ctx context.Context, rec model.CatchRecord) error

	// PublishSyncCompleted reports the summary of a finished sync cycle.
	PublishSyncCompleted(ctx context.Context, status model.SyncStatus) error

	// Close closes the publisher connection
	Close() error
}

// noop is a no-op implementation of Publisher for when NATS is not configured.
// It implements all Publisher methods but does nothing, allowing the vault
// to function without event streaming when NATS is not available.
type noop struct{}

func (n *noop) Close() error { return nil }

func (n *noop) PublishCatchSynced(ctx context.Context, rec model.CatchRecord) error {
	return nil
}

func (n *noop) PublishSyncCompleted(ctx context.Context, status model.SyncStatus) error {
	return nil
}

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc *nats.Conn
	js nats.JetStreamContext

	// Dedup guards against re-publishing the same catch when a cycle
	// retries an item that already reached the stream.
	catchDedup map[string]time.Time
	mutex      sync.RWMutex
}

// NewPublisherFromEnv creates a new publisher based on environment configuration.
// It reads the FISHNET_NATS_URL environment variable to determine if NATS should
// be used. If NATS is not configured or connection fails, it returns a no-op
// publisher so sync keeps working without the stream.
// Returns:
//   - Publisher: Either a NATS publisher or a no-op publisher
func NewPublisherFromEnv() Publisher {
	url := os.Getenv("FISHNET_NATS_URL")
	if url == "" {
		return &noop{}
	}

	nc, err := nats.Connect(url)
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return &noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	if err := initStreams(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	return &natsPub{
		nc:         nc,
		js:         js,
		catchDedup: make(map[string]time.Time),
	}
}

// initStreams initializes the required NATS streams.
// The FN_SYNC stream carries both per-catch and cycle-summary events.
func initStreams(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      "FN_SYNC",
		Subjects:  []string{"fishnet.sync.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create FN_SYNC stream: %w", err)
	}

	return nil
}

// EventEnvelope represents the standard event envelope structure.
// All events published to NATS are wrapped in this envelope for consistency.
type EventEnvelope struct {
	Type          string      `json:"type"`          // Event type identifier
	Version       string      `json:"version"`       // Event schema version
	OccurredAt    time.Time   `json:"occurredAt"`    // When the event occurred
	CorrelationID string      `json:"correlationId"` // Correlation ID for tracing
	Payload       interface{} `json:"payload"`       // Event-specific data
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// shouldDedup checks if an event should be deduplicated based on the 2-minute window.
func (p *natsPub) shouldDedup(key string) bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if lastTime, exists := p.catchDedup[key]; exists {
		return time.Since(lastTime) < 2*time.Minute
	}

	return false
}

// updateDedup records a successful publish and prunes stale entries.
func (p *natsPub) updateDedup(key string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	cutoff := time.Now().Add(-5 * time.Minute)
	for k, t := range p.catchDedup {
		if t.Before(cutoff) {
			delete(p.catchDedup, k)
		}
	}

	p.catchDedup[key] = time.Now()
}

// publish wraps the payload in an envelope and publishes it to the stream.
func (p *natsPub) publish(subject string, payload interface{}) error {
	envelope := EventEnvelope{
		Type:          subject,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	}

	b, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	_, err = p.js.Publish(subject, b)
	return err
}

// PublishCatchSynced publishes a catch-synced event.
// Parameters:
//   - ctx: Context for the operation
//   - rec: The catch record confirmed by the remote feed
// Returns:
//   - error: Any error that occurred during publishing
func (p *natsPub) PublishCatchSynced(ctx context.Context, rec model.CatchRecord) error {
	key := strconv.FormatInt(rec.ID, 10)
	if p.shouldDedup(key) {
		return nil
	}

	if err := p.publish("fishnet.sync.catch_synced", rec); err != nil {
		return err
	}

	p.updateDedup(key)
	return nil
}

// PublishSyncCompleted publishes a cycle-summary event.
// Cycle summaries are never deduplicated; every completed cycle is reported.
func (p *natsPub) PublishSyncCompleted(ctx context.Context, status model.SyncStatus) error {
	return p.publish("fishnet.sync.cycle_completed", status)
}
