// Package conformance provides an end-to-end harness that runs the whole
// vault stack against a real HTTP listener: storage, sync reconciler,
// status broadcast, and the API surface.
package conformance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fishnetapp/fishnet-vault-go/internal/classify"
	"github.com/fishnetapp/fishnet-vault-go/internal/model"
	"github.com/fishnetapp/fishnet-vault-go/internal/schema"
	"github.com/fishnetapp/fishnet-vault-go/internal/server"
	"github.com/fishnetapp/fishnet-vault-go/internal/status"
	"github.com/fishnetapp/fishnet-vault-go/internal/storage"
	"github.com/fishnetapp/fishnet-vault-go/internal/syncer"
)

// Harness wires a full in-memory vault behind an httptest server.
type Harness struct {
	server     *httptest.Server
	store      storage.Store
	posts      *syncer.PostQueue
	reconciler *syncer.Reconciler
	bus        *status.Broadcaster[model.SyncStatus]
}

// Config tunes the harness.
type Config struct {
	// FailureRate is the simulated remote's per-item failure probability.
	// Zero makes sync outcomes deterministic.
	FailureRate float64

	// Debounce between going online and the automatic sync cycle.
	Debounce time.Duration
}

// noopPublisher is a no-op event publisher for tests.
type noopPublisher struct{}

func (n *noopPublisher) PublishCatchSynced(ctx context.Context, rec model.CatchRecord) error {
	return nil
}

func (n *noopPublisher) PublishSyncCompleted(ctx context.Context, s model.SyncStatus) error {
	return nil
}

func (n *noopPublisher) Close() error { return nil }

// NewHarness builds the vault stack on in-memory storage.
func NewHarness(cfg Config) (*Harness, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 20 * time.Millisecond
	}

	store := storage.Open("")
	bus := status.NewBroadcaster(model.SyncStatus{})
	posts := syncer.NewPostQueue()
	remote := syncer.NewSimulatedRemote(cfg.FailureRate, time.Millisecond, 2*time.Millisecond)

	reconciler := syncer.New(store, posts, remote, bus, &noopPublisher{}, nil, syncer.Options{
		Debounce:  cfg.Debounce,
		PollEvery: time.Second,
	})
	if err := reconciler.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start reconciler: %w", err)
	}

	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize schema validator: %w", err)
	}

	mux := server.NewMux(server.Options{
		Store:             store,
		Posts:             posts,
		Reconciler:        reconciler,
		Bus:               bus,
		Classifier:        classify.NewStub(),
		Validator:         validator,
		MaxImageSize:      10 * 1024 * 1024,
		AllowedImageTypes: []string{"image/jpeg", "image/png", "image/webp"},
	})

	return &Harness{
		server:     httptest.NewServer(mux),
		store:      store,
		posts:      posts,
		reconciler: reconciler,
		bus:        bus,
	}, nil
}

// URL returns the base URL of the test server.
func (h *Harness) URL() string {
	return h.server.URL
}

// Close shuts down the test server and the reconciler.
func (h *Harness) Close() {
	h.server.Close()
	h.reconciler.Stop()
	h.bus.Close()
	h.store.Close()
}

// postJSON performs a POST with a JSON body and decodes the data envelope.
func (h *Harness) postJSON(t *testing.T, path string, body interface{}, out interface{}) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	resp, err := http.Post(h.URL()+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to POST %s: %v", path, err)
	}
	if out != nil {
		defer resp.Body.Close()
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			t.Fatalf("failed to decode %s response: %v", path, err)
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			t.Fatalf("failed to decode %s data: %v", path, err)
		}
	}
	return resp
}

// syncStatus fetches the current sync snapshot over the API.
func (h *Harness) syncStatus(t *testing.T) model.SyncStatus {
	t.Helper()

	resp, err := http.Get(h.URL() + "/v1/sync/status")
	if err != nil {
		t.Fatalf("failed to GET /v1/sync/status: %v", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Data model.SyncStatus `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode sync status: %v", err)
	}
	return envelope.Data
}

// waitForIdle polls until a sync cycle has finished and the pending
// catch count reaches want, or the deadline passes.
func (h *Harness) waitForIdle(t *testing.T, want int, deadline time.Duration) model.SyncStatus {
	t.Helper()

	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		s := h.syncStatus(t)
		if !s.IsSyncing && s.PendingCatches == want {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("sync did not settle at %d pending catches within %v", want, deadline)
	return model.SyncStatus{}
}
